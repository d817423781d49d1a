// Package crawl follows Python import references breadth-first from the
// files under a root, bounded by a module budget and a file-size limit.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/phobologic/docscope/internal/discover"
	"github.com/phobologic/docscope/internal/graph"
	"github.com/phobologic/docscope/internal/model"
	"github.com/phobologic/docscope/internal/parse"
)

// ErrRootUnreadable is returned when the crawl root cannot be read. It is the
// only error that aborts a crawl besides cancellation.
var ErrRootUnreadable = discover.ErrRootUnreadable

const (
	DefaultMaxModules  = 5000
	DefaultMaxFileSize = 2_000_000
)

// Parser turns file content into a ParseResult.
type Parser interface {
	Parse(path string, src []byte) model.ParseResult
}

// Options bound and direct a crawl.
type Options struct {
	MaxModules         int   // admitted-file budget; <= 0 selects DefaultMaxModules
	MaxFileSize        int64 // larger files are skipped; <= 0 selects DefaultMaxFileSize
	FollowDependencies bool
	SearchPaths        []string // extra import roots tried after the crawl root
	Workers            int      // parse workers per wave; <= 0 selects GOMAXPROCS
	Logger             *slog.Logger

	// Imports, when set, supplies the imports of a file that is already
	// parsed and unchanged, so the crawl neither reads nor parses it.
	Imports func(key, abs string) ([]model.Import, bool)
}

// Result is the outcome of a crawl. Paths are slash-separated, relative to
// the root when inside it and absolute otherwise.
type Result struct {
	Files           map[string]model.ParseResult `json:"files"`
	Resolved        map[string]string            `json:"resolved"`
	Deferred        map[string]string            `json:"deferred,omitempty"` // resolved to a file the budget refused
	Unresolved      []string                     `json:"unresolved"`
	VisitedCount    int                          `json:"visited_count"`
	Visited         []string                     `json:"visited"` // admission order
	Skipped         map[string]string            `json:"skipped,omitempty"`
	BudgetExhausted bool                         `json:"budget_exhausted"`
	Errors          []string                     `json:"errors,omitempty"`
	Dependencies    []graph.Dependency           `json:"dependencies,omitempty"`
	Cycles          [][]string                   `json:"cycles,omitempty"`

	abs map[string]string // path → absolute file path
}

// Abs returns the absolute file path of a visited path.
func (r *Result) Abs(path string) (string, bool) {
	p, ok := r.abs[path]
	return p, ok
}

// Crawler runs bounded import traversals from one root.
type Crawler struct {
	root   string
	parser Parser
	opts   Options
	logger *slog.Logger
}

// New returns a Crawler for root. Zero option values select the defaults.
func New(root string, parser Parser, opts Options) *Crawler {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	if opts.MaxModules <= 0 {
		opts.MaxModules = DefaultMaxModules
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Crawler{root: root, parser: parser, opts: opts, logger: logger}
}

// Root returns the absolute crawl root.
func (c *Crawler) Root() string {
	return c.root
}

// node is one admitted file. base is the import root it was found under and
// rel its slash path relative to base, from which the module name derives.
type node struct {
	abs  string
	key  string
	base string
	rel  string
}

type state struct {
	c          *Crawler
	res        *Result
	visited    map[string]struct{}
	memo       map[string]resolution
	unresolved map[string]struct{}
	edges      []graph.Edge
}

// Crawl traverses level by level. Admission is sequential in a fixed order,
// so one tree always yields one result; each level is parsed in parallel.
// On cancellation, files parsed so far are kept and ctx.Err() is returned
// with the partial result.
func (c *Crawler) Crawl(ctx context.Context) (*Result, error) {
	start := time.Now()
	seeds, err := discover.Files(ctx, c.root, c.logger)
	if err != nil {
		if errors.Is(err, ErrRootUnreadable) {
			return nil, err
		}
		return nil, fmt.Errorf("enumerating %s: %w", c.root, err)
	}

	s := &state{
		c: c,
		res: &Result{
			Files:    map[string]model.ParseResult{},
			Resolved: map[string]string{},
			Deferred: map[string]string{},
			Skipped:  map[string]string{},
			abs:      map[string]string{},
		},
		visited:    map[string]struct{}{},
		memo:       map[string]resolution{},
		unresolved: map[string]struct{}{},
	}

	var wave []node
	for _, f := range seeds {
		wave, _ = s.admit(wave, node{abs: f.Abs, key: f.Path, base: c.root, rel: f.Path})
	}

	depth := 0
	for len(wave) > 0 {
		results, done := c.parseWave(ctx, wave)
		var next []node
		for i, n := range wave {
			if !done[i] {
				continue
			}
			next = s.record(next, n, results[i])
		}
		if err := ctx.Err(); err != nil {
			s.finish()
			c.logger.Info("crawl cancelled", "visited", s.res.VisitedCount, "depth", depth)
			return s.res, err
		}
		wave = next
		depth++
	}
	s.finish()

	c.logger.Info("crawl complete",
		"root", c.root,
		"visited", s.res.VisitedCount,
		"resolved", len(s.res.Resolved),
		"deferred", len(s.res.Deferred),
		"unresolved", len(s.res.Unresolved),
		"skipped", len(s.res.Skipped),
		"depth", depth,
		"duration", time.Since(start))
	return s.res, nil
}

// admit adds n to wave unless it was seen, the budget is spent, or the file
// is too large. Oversized files do not count against the budget. The bool
// reports whether n is a visited file, newly or from before.
func (s *state) admit(wave []node, n node) ([]node, bool) {
	n.abs = filepath.Clean(n.abs)
	if _, seen := s.visited[n.abs]; seen {
		_, ok := s.res.abs[n.key]
		return wave, ok
	}
	if s.res.VisitedCount >= s.c.opts.MaxModules {
		if !s.res.BudgetExhausted {
			s.c.logger.Info("module budget exhausted", "max_modules", s.c.opts.MaxModules, "next", n.key)
		}
		s.res.BudgetExhausted = true
		return wave, false
	}
	s.visited[n.abs] = struct{}{}

	if info, err := os.Stat(n.abs); err == nil && info.Size() > s.c.opts.MaxFileSize {
		reason := fmt.Sprintf("size %d exceeds limit %d", info.Size(), s.c.opts.MaxFileSize)
		s.res.Skipped[n.key] = reason
		s.c.logger.Debug("skipping file", "path", n.key, "reason", reason)
		return wave, false
	}

	s.res.VisitedCount++
	s.res.Visited = append(s.res.Visited, n.key)
	s.res.abs[n.key] = n.abs
	return append(wave, n), true
}

func (c *Crawler) parseWave(ctx context.Context, wave []node) ([]model.ParseResult, []bool) {
	results := make([]model.ParseResult, len(wave))
	done := make([]bool, len(wave))
	g := new(errgroup.Group)
	g.SetLimit(c.opts.Workers)
	for i, n := range wave {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = c.parseFile(n)
			done[i] = true
			return nil
		})
	}
	_ = g.Wait()
	return results, done
}

func (c *Crawler) parseFile(n node) model.ParseResult {
	if c.opts.Imports != nil {
		if imps, ok := c.opts.Imports(n.key, n.abs); ok {
			doc := &model.DocModel{Path: n.key, Module: parse.ModuleName(n.rel), Imports: imps}
			return model.ParseResult{Path: n.key, Doc: doc}
		}
	}
	src, err := os.ReadFile(n.abs)
	if err != nil {
		r := model.NewError(n.key, model.ReadError, "reading %s: %v", n.key, err)
		r.Err.Cause = err.Error()
		return r
	}
	r := c.parser.Parse(n.key, src)
	r.Path = n.key
	if r.Doc != nil {
		r.Doc.Module = parse.ModuleName(n.rel)
	}
	return r
}

// record stores the result of n and admits the files its imports resolve to.
// A reference resolving to a file counts as resolved only once that file is
// visited, so Resolved never names more files than the budget admits.
func (s *state) record(next []node, n node, r model.ParseResult) []node {
	s.res.Files[n.key] = r
	if !r.OK() {
		s.res.Errors = append(s.res.Errors, n.key)
		s.c.logger.Warn("file failed", "path", n.key, "err", r.Err)
		return next
	}
	if !s.c.opts.FollowDependencies {
		return next
	}

	for _, imp := range r.Doc.Imports {
		for _, ref := range imp.References() {
			res, ok := s.resolve(n, ref)
			if !ok {
				s.unresolved[res.name] = struct{}{}
				continue
			}
			if res.file == nil {
				s.res.Resolved[res.name] = res.value
				continue
			}
			var visited bool
			next, visited = s.admit(next, *res.file)
			if !visited {
				if _, oversized := s.res.Skipped[res.file.key]; !oversized {
					s.res.Deferred[res.name] = res.value
				}
				continue
			}
			s.res.Resolved[res.name] = res.value
			s.edges = append(s.edges, graph.Edge{Source: n.key, Target: res.file.key, Symbol: ref})
		}
	}
	return next
}

func (s *state) finish() {
	s.res.Unresolved = make([]string, 0, len(s.unresolved))
	for name := range s.unresolved {
		s.res.Unresolved = append(s.res.Unresolved, name)
	}
	sort.Strings(s.res.Unresolved)
	sort.Strings(s.res.Errors)
	s.res.Dependencies = graph.Build(s.edges)
	s.res.Cycles = graph.Cycles(s.res.Dependencies)
}

// key maps an absolute path to a result path.
func (c *Crawler) key(abs string) string {
	rel, err := filepath.Rel(c.root, abs)
	if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(abs)
}

// Enumerator adapts a crawl to the cache: a full refresh tracks exactly the
// files the crawl admits.
type Enumerator struct {
	Crawler *Crawler
}

// Enumerate runs a crawl and lists the admitted files.
func (e Enumerator) Enumerate(ctx context.Context) ([]discover.FileEntry, error) {
	res, err := e.Crawler.Crawl(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]discover.FileEntry, 0, len(res.Visited))
	for _, key := range res.Visited {
		abs := res.abs[key]
		entry := discover.FileEntry{Path: key, Abs: abs}
		if info, err := os.Stat(abs); err == nil {
			entry.Size = info.Size()
			entry.ModTime = info.ModTime()
		}
		out = append(out, entry)
	}
	return out, nil
}

// ImportParser extracts only the imports of a file. It suits crawls whose
// documentation models are discarded, such as Enumerator's.
type ImportParser struct {
	X *parse.Extractor
}

// Parse returns a DocModel carrying only imports.
func (p ImportParser) Parse(path string, src []byte) model.ParseResult {
	imps, err := p.X.Imports(src)
	if err != nil {
		r := model.NewError(path, model.SyntaxError, "parse failed: %v", err)
		r.Err.Cause = err.Error()
		return r
	}
	return model.ParseResult{Path: path, Doc: &model.DocModel{Path: path, Module: parse.ModuleName(path), Imports: imps}}
}
