// Package toon renders snapshots, search hits and crawl results in TOON
// (Token-Oriented Object Notation).
package toon

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/phobologic/docscope/internal/cache"
	"github.com/phobologic/docscope/internal/crawl"
	"github.com/phobologic/docscope/internal/graph"
	"github.com/phobologic/docscope/internal/model"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// EncodeSnapshot renders the files, entries and errors of snap. Rows follow
// sorted path order, and entries follow declaration order within a file.
func EncodeSnapshot(snap *cache.Snapshot) string {
	var fileRows, entryRows, errorRows [][]string
	for _, path := range snap.Paths() {
		r := snap.Results[path]
		if r.Err != nil {
			errorRows = append(errorRows, errorRow(path, r.Err))
			continue
		}
		if r.Doc == nil {
			continue
		}
		count := 0
		model.Walk(r.Doc.Entries, func(e *model.Entry, _ *model.Entry) {
			count++
			entryRows = append(entryRows, []string{
				path,
				e.QualName,
				string(e.Kind),
				strconv.Itoa(e.Line),
				e.Signature,
				e.Doc.Summary,
			})
		})
		fileRows = append(fileRows, []string{path, r.Doc.Module, strconv.Itoa(count), r.Doc.Doc.Summary})
	}

	parts := []string{
		fmt.Sprintf("version: %d", snap.Version),
		formatTabular("files", []string{"path", "module", "entries", "summary"}, fileRows),
		formatTabular("entries", []string{"file", "name", "kind", "line", "signature", "summary"}, entryRows),
		formatTabular("errors", []string{"path", "kind", "line", "message"}, errorRows),
	}
	return strings.Join(parts, "\n")
}

// EncodeHits renders search hits in the order given.
func EncodeHits(hits []model.Hit) string {
	rows := make([][]string, 0, len(hits))
	for _, h := range hits {
		rows = append(rows, []string{
			h.Title,
			h.Path,
			h.Kind,
			h.Field,
			strconv.Itoa(h.Distance),
			h.Snippet,
		})
	}
	return formatTabular("hits", []string{"title", "path", "kind", "field", "distance", "snippet"}, rows)
}

// EncodeCrawl renders a crawl result. Files are ordered by import rank, most
// depended upon first.
func EncodeCrawl(res *crawl.Result) string {
	paths := make([]string, 0, len(res.Files))
	for p := range res.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var fileRows [][]string
	for _, r := range graph.Rank(paths, res.Dependencies) {
		fr := res.Files[r.Path]
		module, status := "", "ok"
		if fr.Doc != nil {
			module = fr.Doc.Module
		}
		if fr.Err != nil {
			status = string(fr.Err.Kind)
		}
		fileRows = append(fileRows, []string{r.Path, module, fmt.Sprintf("%.4f", r.Rank), status})
	}

	names := make([]string, 0, len(res.Resolved))
	for n := range res.Resolved {
		names = append(names, n)
	}
	sort.Strings(names)
	resolvedRows := make([][]string, 0, len(names))
	for _, n := range names {
		resolvedRows = append(resolvedRows, []string{n, res.Resolved[n]})
	}

	deferred := make([]string, 0, len(res.Deferred))
	for n := range res.Deferred {
		deferred = append(deferred, n)
	}
	sort.Strings(deferred)
	deferredRows := make([][]string, 0, len(deferred))
	for _, n := range deferred {
		deferredRows = append(deferredRows, []string{n, res.Deferred[n]})
	}

	unresolvedRows := make([][]string, 0, len(res.Unresolved))
	for _, n := range res.Unresolved {
		unresolvedRows = append(unresolvedRows, []string{n})
	}

	skipped := make([]string, 0, len(res.Skipped))
	for p := range res.Skipped {
		skipped = append(skipped, p)
	}
	sort.Strings(skipped)
	skippedRows := make([][]string, 0, len(skipped))
	for _, p := range skipped {
		skippedRows = append(skippedRows, []string{p, res.Skipped[p]})
	}

	depRows := make([][]string, 0, len(res.Dependencies))
	for _, d := range res.Dependencies {
		depRows = append(depRows, []string{d.Source, d.Target, strings.Join(d.Symbols, " ")})
	}

	cycleRows := make([][]string, 0, len(res.Cycles))
	for _, c := range res.Cycles {
		cycleRows = append(cycleRows, []string{strings.Join(c, " ")})
	}

	parts := []string{
		fmt.Sprintf("visited: %d", res.VisitedCount),
		fmt.Sprintf("budget_exhausted: %t", res.BudgetExhausted),
		formatTabular("files", []string{"path", "module", "rank", "status"}, fileRows),
		formatTabular("resolved", []string{"module", "target"}, resolvedRows),
		formatTabular("unresolved", []string{"module"}, unresolvedRows),
		formatTabular("deferred", []string{"module", "target"}, deferredRows),
		formatTabular("skipped", []string{"path", "reason"}, skippedRows),
		formatTabular("dependencies", []string{"source", "target", "symbols"}, depRows),
		formatTabular("cycles", []string{"files"}, cycleRows),
	}
	return strings.Join(parts, "\n")
}

func errorRow(path string, e *model.ErrorRecord) []string {
	line := ""
	if e.Line > 0 {
		line = strconv.Itoa(e.Line)
	}
	return []string{path, string(e.Kind), line, e.Message}
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	switch {
	case value == "":
		return `""`
	case value != strings.TrimSpace(value), strings.ContainsAny(value, "\n\r\t"):
		return quote(value)
	}
	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}
	if looksNumeric.MatchString(value) {
		return value
	}
	if needsQuoting.MatchString(value) || strings.HasPrefix(value, "-") {
		return quote(value)
	}
	return value
}

var quoter = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)

func quote(value string) string {
	return `"` + quoter.Replace(value) + `"`
}
