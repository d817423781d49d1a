// Package cache keeps parsed documentation models keyed by file
// fingerprints. Readers take immutable snapshots; a single refresh cycle at
// a time publishes new ones with an atomic pointer swap.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phobologic/docscope/internal/discover"
	"github.com/phobologic/docscope/internal/model"
)

// ErrClosed is returned by operations on a closed cache.
var ErrClosed = errors.New("cache closed")

// Enumerator lists the files a full refresh should track.
type Enumerator interface {
	Enumerate(ctx context.Context) ([]discover.FileEntry, error)
}

// Parser turns file content into a ParseResult.
type Parser interface {
	Parse(path string, src []byte) model.ParseResult
}

// Store persists results between processes.
type Store interface {
	SaveResults(ctx context.Context, results []model.ParseResult) error
	Delete(ctx context.Context, paths []string) error
	Load(ctx context.Context) (map[string]model.ParseResult, error)
}

// FingerprintMode selects how change is detected.
type FingerprintMode string

const (
	// Stat compares modification time and size.
	Stat FingerprintMode = "stat"
	// Hash compares an xxhash of the content and the size.
	Hash FingerprintMode = "hash"
)

// DefaultMaxFileSize is the size above which files are skipped.
const DefaultMaxFileSize = 2_000_000

// RefreshResult reports what a refresh cycle did.
type RefreshResult struct {
	Version  uint64            // version of the snapshot current after the cycle
	Changed  []string          // reparsed or removed paths, sorted
	Removed  []string          // removed paths, sorted
	Reparsed int               // files parsed during the cycle
	Skipped  map[string]string // path -> reason, for files not parsed
}

// Option configures a Cache.
type Option func(*Cache)

// WithFingerprintMode sets the change detection mode.
func WithFingerprintMode(m FingerprintMode) Option {
	return func(c *Cache) { c.mode = m }
}

// WithMaxFileSize sets the size limit in bytes; 0 disables it.
func WithMaxFileSize(n int64) Option {
	return func(c *Cache) { c.maxSize = n }
}

// WithWorkers sets the parse pool size.
func WithWorkers(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithStore persists every published change to s.
func WithStore(s Store) Option {
	return func(c *Cache) { c.store = s }
}

// Cache owns the mapping from path to ParseResult.
type Cache struct {
	root    string
	enum    Enumerator
	parser  Parser
	mode    FingerprintMode
	maxSize int64
	workers int
	logger  *slog.Logger
	store   Store

	snap atomic.Pointer[Snapshot]

	mu      sync.Mutex
	running bool
	pending *request
	invalid map[string]struct{}
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	loops  sync.WaitGroup
}

// request is one refresh cycle. Callers arriving while a cycle runs share a
// single queued request instead of stacking new ones.
type request struct {
	full    bool
	paths   map[string]struct{}
	waiters int
	done    chan struct{}
	res     RefreshResult
	err     error
}

func newRequest(paths []string) *request {
	r := &request{paths: map[string]struct{}{}, done: make(chan struct{})}
	r.merge(paths)
	return r
}

func (r *request) merge(paths []string) {
	r.waiters++
	if len(paths) == 0 {
		r.full = true
		return
	}
	for _, p := range paths {
		r.paths[p] = struct{}{}
	}
}

// New creates a cache over root. enum drives full refreshes and parser
// produces results.
func New(root string, enum Enumerator, parser Parser, opts ...Option) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		root:    root,
		enum:    enum,
		parser:  parser,
		mode:    Stat,
		maxSize: DefaultMaxFileSize,
		workers: runtime.GOMAXPROCS(0),
		logger:  slog.New(slog.DiscardHandler),
		invalid: map[string]struct{}{},
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.snap.Store(emptySnapshot())
	return c
}

// Root returns the cache root.
func (c *Cache) Root() string {
	return c.root
}

// Snapshot returns the current snapshot. It never blocks and never returns nil.
func (c *Cache) Snapshot() *Snapshot {
	return c.snap.Load()
}

// Refresh rechecks paths, or every enumerated file when paths is empty, and
// reparses those whose fingerprint changed. A call arriving while a cycle is
// active is coalesced into the next cycle. ctx bounds only the wait; the
// cycle itself runs until done or until the cache is closed.
func (c *Cache) Refresh(ctx context.Context, paths []string) (RefreshResult, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return RefreshResult{}, ErrClosed
	}
	var req *request
	switch {
	case !c.running:
		req = newRequest(paths)
		c.running = true
		c.loops.Add(1)
		go c.loop(req)
	case c.pending != nil:
		req = c.pending
		req.merge(paths)
	default:
		req = newRequest(paths)
		c.pending = req
	}
	c.mu.Unlock()

	select {
	case <-req.done:
		return req.res, req.err
	case <-ctx.Done():
		return RefreshResult{}, ctx.Err()
	}
}

func (c *Cache) loop(req *request) {
	defer c.loops.Done()
	for req != nil {
		req.res, req.err = c.cycle(req)
		close(req.done)

		c.mu.Lock()
		req = c.pending
		c.pending = nil
		if req == nil {
			c.running = false
		} else if req.waiters > 1 {
			c.logger.Debug("coalesced refresh requests", "waiters", req.waiters)
		}
		c.mu.Unlock()
	}
}

// Invalidate forces path to be reparsed by the next refresh cycle.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	c.invalid[c.key(path)] = struct{}{}
	c.mu.Unlock()
}

// Close abandons any in-flight cycle and waits for it to stop. Files parsed
// before the abandonment stay published.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.loops.Wait()
	return nil
}

// Restore replaces the snapshot with the contents of the store, so the next
// refresh only reparses files whose fingerprint moved since they were saved.
func (c *Cache) Restore(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	results, err := c.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("restoring cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return 0, errors.New("restoring cache: refresh in progress")
	}
	next := c.snap.Load().next()
	next.Units = make(map[string]model.SourceUnit, len(results))
	next.Results = make(map[string]model.ParseResult, len(results))
	for path, r := range results {
		next.Results[path] = r
		next.Units[path] = model.SourceUnit{
			AbsPath:     c.abs(path),
			Path:        path,
			Fingerprint: r.Fingerprint,
			Size:        r.Fingerprint.Size,
		}
		next.Changed = append(next.Changed, path)
	}
	sort.Strings(next.Changed)
	next.UpdatedAt = time.Now()
	c.snap.Store(next)
	c.logger.Info("restored cache", "files", len(results), "version", next.Version)
	return len(results), nil
}

// KnownImports returns the imports recorded for key when the file at abs
// still has the fingerprint it was parsed at. It never parses.
func (c *Cache) KnownImports(key, abs string) ([]model.Import, bool) {
	snap := c.snap.Load()
	unit, ok := snap.Units[key]
	if !ok {
		return nil, false
	}
	r := snap.Results[key]
	if !r.OK() {
		return nil, false
	}
	fp, err := c.fingerprint(abs)
	if err != nil || fp != unit.Fingerprint {
		return nil, false
	}
	return r.Doc.Imports, true
}

func (c *Cache) takeInvalid() map[string]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.invalid
	c.invalid = map[string]struct{}{}
	return out
}

// key maps a caller-supplied path to the snapshot key: slash-separated and
// relative to the root when inside it.
func (c *Cache) key(p string) string {
	if filepath.IsAbs(p) {
		if rel, err := filepath.Rel(c.root, p); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return filepath.ToSlash(rel)
		}
		return filepath.ToSlash(filepath.Clean(p))
	}
	return filepath.ToSlash(filepath.Clean(p))
}

func (c *Cache) abs(key string) string {
	p := filepath.FromSlash(key)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.root, p)
}
