// Package index builds an inverted index over a cache snapshot and answers
// substring and fuzzy queries against it.
package index

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agext/levenshtein"

	"github.com/phobologic/docscope/internal/cache"
	"github.com/phobologic/docscope/internal/model"
	"github.com/phobologic/docscope/internal/ranking"
)

// SnippetLimit is the maximum snippet length in runes.
const SnippetLimit = 200

// KindModule is the hit kind of module-level records.
const KindModule = "module"

// Record is one searchable item: a module or a documented entry.
type Record struct {
	Path     string
	QualName string
	Title    string
	Kind     string
	Snippet  string

	title   string // lower-cased Title and QualName joined, for substring scans
	snippet string // lower-cased Snippet
}

// Posting ties a token to a record. Field says whether the token came from
// the record's names or its docstring summary.
type Posting struct {
	Record int
	Field  string
}

// Index is an immutable inverted index for one snapshot version.
type Index struct {
	Version  uint64
	records  []Record
	postings map[string][]Posting
	vocab    []string // sorted distinct tokens
}

// Build indexes every successfully parsed file in snap. Failed files are
// excluded. The result depends only on snap.
func Build(snap *cache.Snapshot) *Index {
	return NewBuilder().Rebuild(snap)
}

// Len returns the number of records.
func (ix *Index) Len() int {
	return len(ix.records)
}

// Records returns the records in insertion order.
func (ix *Index) Records() []Record {
	return ix.records
}

// Postings returns the postings of token in insertion order.
func (ix *Index) Postings(token string) []Posting {
	return ix.postings[strings.ToLower(token)]
}

// fileRecords derives the records of one file: the module first, then its
// entries depth-first in declaration order.
func fileRecords(path string, r model.ParseResult) []Record {
	if !r.OK() {
		return nil
	}
	doc := r.Doc
	recs := []Record{newRecord(path, doc.Module, path, KindModule, doc.Doc.Summary)}
	model.Walk(doc.Entries, func(e *model.Entry, _ *model.Entry) {
		recs = append(recs, newRecord(path, e.QualName, e.QualName, string(e.Kind), e.Doc.Summary))
	})
	return recs
}

func newRecord(path, qual, title, kind, summary string) Record {
	snippet := truncate(summary, SnippetLimit)
	return Record{
		Path:     path,
		QualName: qual,
		Title:    title,
		Kind:     kind,
		Snippet:  snippet,
		title:    strings.ToLower(title + "\n" + qual),
		snippet:  strings.ToLower(snippet),
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// assemble numbers records and builds postings in record order.
func assemble(version uint64, files [][]Record) *Index {
	ix := &Index{Version: version, postings: map[string][]Posting{}}
	for _, recs := range files {
		ix.records = append(ix.records, recs...)
	}
	for i := range ix.records {
		rec := &ix.records[i]
		names := Tokenize(rec.Title + " " + rec.QualName)
		inName := make(map[string]struct{}, len(names))
		for _, tok := range names {
			inName[tok] = struct{}{}
			ix.postings[tok] = append(ix.postings[tok], Posting{Record: i, Field: ranking.FieldName})
		}
		for _, tok := range Tokenize(rec.Snippet) {
			if _, ok := inName[tok]; ok {
				continue
			}
			ix.postings[tok] = append(ix.postings[tok], Posting{Record: i, Field: ranking.FieldDoc})
		}
	}
	ix.vocab = make([]string, 0, len(ix.postings))
	for tok := range ix.postings {
		ix.vocab = append(ix.vocab, tok)
	}
	sort.Strings(ix.vocab)
	return ix
}

// MaxDistance is the fuzzy edit bound for a query token: tokens shorter than
// three runes must match exactly, up to four runes allow one edit, longer
// tokens allow two.
func MaxDistance(token string) int {
	switch n := utf8.RuneCountInString(token); {
	case n < 3:
		return 0
	case n <= 4:
		return 1
	default:
		return 2
	}
}

type match struct {
	distance int
	field    string
}

func better(a, b match) bool {
	if a.distance != b.distance {
		return a.distance < b.distance
	}
	return a.field == ranking.FieldName && b.field != ranking.FieldName
}

// Search returns the records matching query, ranked. Without fuzzy it is a
// case-insensitive substring scan over titles, qualified names and snippets.
// With fuzzy, records whose tokens cover every query token within the edit
// bound also match. An empty query matches nothing.
func (ix *Index) Search(query string, fuzzy bool) []model.Hit {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	found := map[int]match{}
	for i := range ix.records {
		rec := &ix.records[i]
		switch {
		case strings.Contains(rec.title, q):
			found[i] = match{field: ranking.FieldName}
		case strings.Contains(rec.snippet, q):
			found[i] = match{field: ranking.FieldDoc}
		}
	}

	if fuzzy {
		for rec, m := range ix.fuzzy(Tokenize(q)) {
			if prev, ok := found[rec]; !ok || better(m, prev) {
				found[rec] = m
			}
		}
	}

	hits := make([]model.Hit, 0, len(found))
	for i, m := range found {
		rec := &ix.records[i]
		hits = append(hits, model.Hit{
			Title:    rec.Title,
			Path:     rec.Path,
			Snippet:  rec.Snippet,
			QualName: rec.QualName,
			Kind:     rec.Kind,
			Field:    m.field,
			Distance: m.distance,
			Order:    i,
		})
	}
	ranking.Sort(hits)
	return hits
}

// fuzzy matches each query token against the vocabulary and keeps records
// matched by all of them. A record's distance is the sum over query tokens;
// its field is doc if any token matched only in the docstring.
func (ix *Index) fuzzy(tokens []string) map[int]match {
	if len(tokens) == 0 {
		return nil
	}
	var result map[int]match
	for _, qt := range tokens {
		bound := MaxDistance(qt)
		params := levenshtein.NewParams().MaxCost(bound)
		perRecord := map[int]match{}
		for _, tok := range ix.vocab {
			d := 0
			if tok != qt {
				if bound == 0 || abs(utf8.RuneCountInString(tok)-utf8.RuneCountInString(qt)) > bound {
					continue
				}
				d = levenshtein.Distance(qt, tok, params)
				if d > bound {
					continue
				}
			}
			for _, p := range ix.postings[tok] {
				m := match{distance: d, field: p.Field}
				if prev, ok := perRecord[p.Record]; !ok || better(m, prev) {
					perRecord[p.Record] = m
				}
			}
		}

		if result == nil {
			result = perRecord
			continue
		}
		for rec, m := range result {
			next, ok := perRecord[rec]
			if !ok {
				delete(result, rec)
				continue
			}
			m.distance += next.distance
			if next.field == ranking.FieldDoc {
				m.field = ranking.FieldDoc
			}
			result[rec] = m
		}
	}
	return result
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
