package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/docscope/internal/discover"
	"github.com/phobologic/docscope/internal/model"
	"github.com/phobologic/docscope/internal/parse"
)

// countingParser wraps the real extractor and records parses per path. When
// gate is set, every parse waits for it to close after signalling started.
type countingParser struct {
	inner   *parse.Extractor
	mu      sync.Mutex
	counts  map[string]int
	gate    chan struct{}
	started chan string
}

func newParser(t *testing.T) *countingParser {
	t.Helper()
	x, err := parse.New(parse.Options{})
	require.NoError(t, err)
	return &countingParser{inner: x, counts: map[string]int{}}
}

func (p *countingParser) Parse(path string, src []byte) model.ParseResult {
	p.mu.Lock()
	p.counts[path]++
	p.mu.Unlock()
	if p.gate != nil {
		p.started <- path
		<-p.gate
	}
	return p.inner.Parse(path, src)
}

func (p *countingParser) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.counts {
		n += c
	}
	return n
}

type countingEnumerator struct {
	discover.Walker
	calls atomic.Int32
}

func (e *countingEnumerator) Enumerate(ctx context.Context) ([]discover.FileEntry, error) {
	e.calls.Add(1)
	return e.Walker.Enumerate(ctx)
}

func setup(t *testing.T, files map[string]string, opts ...Option) (*Cache, *countingParser, string) {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		writeFile(t, dir, rel, content)
	}
	p := newParser(t)
	c := New(dir, discover.Walker{Root: dir}, p, opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c, p, dir
}

func TestRefreshIdempotent(t *testing.T) {
	t.Parallel()
	c, p, _ := setup(t, map[string]string{
		"a.py":     "def a():\n    pass\n",
		"pkg/b.py": "B = 1\n",
	})
	ctx := context.Background()

	first, err := c.Refresh(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py", "pkg/b.py"}, first.Changed)
	assert.Equal(t, 2, first.Reparsed)
	snap1 := c.Snapshot()
	assert.Equal(t, uint64(1), snap1.Version)
	assert.Equal(t, []string{"a.py", "pkg/b.py"}, snap1.Paths())

	second, err := c.Refresh(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, second.Changed)
	assert.Zero(t, second.Reparsed)
	assert.Equal(t, 2, p.total())

	snap2 := c.Snapshot()
	assert.Same(t, snap1, snap2)
	assert.Equal(t, snap1.Results, snap2.Results)
}

func TestRefreshFingerprintSensitivity(t *testing.T) {
	t.Parallel()
	c, p, dir := setup(t, map[string]string{
		"a.py": "A = 1\n",
		"b.py": "B = 1\n",
		"c.py": "C = 1\n",
	})
	ctx := context.Background()
	_, err := c.Refresh(ctx, nil)
	require.NoError(t, err)

	writeFile(t, dir, "b.py", "B = 22\n")
	res, err := c.Refresh(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.py"}, res.Changed)
	assert.Equal(t, 1, res.Reparsed)
	assert.Equal(t, 2, p.counts["b.py"])
	assert.Equal(t, 1, p.counts["a.py"])

	// mtime alone also counts in stat mode.
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "c.py"), future, future))
	res, err = c.Refresh(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"c.py"}, res.Changed)

	r, ok := c.Snapshot().Get("b.py")
	require.True(t, ok)
	assert.Equal(t, "22", r.Doc.Entries[0].Value)
	assert.Equal(t, []string{"c.py"}, c.Snapshot().Changed)
}

func TestRefreshHashMode(t *testing.T) {
	t.Parallel()
	c, p, dir := setup(t, map[string]string{"a.py": "A = 1\n"}, WithFingerprintMode(Hash))
	ctx := context.Background()
	_, err := c.Refresh(ctx, nil)
	require.NoError(t, err)
	r, _ := c.Snapshot().Get("a.py")
	assert.NotZero(t, r.Fingerprint.Hash)

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "a.py"), future, future))
	res, err := c.Refresh(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Changed, "touching without a content change is not a change")

	writeFile(t, dir, "a.py", "A = 2\n")
	res, err = c.Refresh(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py"}, res.Changed)
	assert.Equal(t, 2, p.total())
}

func TestRefreshDeletion(t *testing.T) {
	t.Parallel()
	c, _, dir := setup(t, map[string]string{
		"keep.py": "K = 1\n",
		"gone.py": "G = 1\n",
	})
	ctx := context.Background()
	_, err := c.Refresh(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "gone.py")))
	res, err := c.Refresh(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"gone.py"}, res.Changed)
	assert.Equal(t, []string{"gone.py"}, res.Removed)
	assert.Zero(t, res.Reparsed)

	_, ok := c.Snapshot().Get("gone.py")
	assert.False(t, ok)
	assert.Equal(t, []string{"keep.py"}, c.Snapshot().Paths())
}

func TestRefreshDeletionCoalescedWithExplicitPath(t *testing.T) {
	t.Parallel()
	store := &memStore{rows: map[string]model.ParseResult{}}
	c, _, dir := setup(t, map[string]string{
		"a.py": "A = 1\n",
		"b.py": "B = 1\n",
	}, WithStore(store))
	_, err := c.Refresh(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "a.py")))
	req := newRequest(nil)
	req.merge([]string{"a.py"})
	res, err := c.cycle(req)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.py"}, res.Removed)
	assert.Equal(t, []string{"a.py"}, res.Changed)
	assert.Equal(t, []string{"a.py"}, c.Snapshot().Changed)
	assert.Equal(t, []string{"a.py"}, store.deleted)
}

func TestRefreshUnreadableIdempotent(t *testing.T) {
	t.Parallel()
	c, p, _ := setup(t, map[string]string{"f.py": "F = 1\n"})
	ctx := context.Background()
	// A path below a regular file fails to stat with ENOTDIR.
	bad := "f.py/inner.py"

	first, err := c.Refresh(ctx, []string{bad})
	require.NoError(t, err)
	assert.Equal(t, []string{bad}, first.Changed)
	r, ok := c.Snapshot().Get(bad)
	require.True(t, ok)
	require.NotNil(t, r.Err)
	assert.Equal(t, model.ReadError, r.Err.Kind)

	version := c.Snapshot().Version
	second, err := c.Refresh(ctx, []string{bad})
	require.NoError(t, err)
	assert.Empty(t, second.Changed)
	assert.Equal(t, version, c.Snapshot().Version)
	assert.Zero(t, p.total())
}

func TestRefreshExplicitPaths(t *testing.T) {
	t.Parallel()
	c, p, dir := setup(t, map[string]string{
		"a.py": "A = 1\n",
		"b.py": "B = 1\n",
	})
	ctx := context.Background()
	_, err := c.Refresh(ctx, nil)
	require.NoError(t, err)

	writeFile(t, dir, "a.py", "A = 100\n")
	writeFile(t, dir, "b.py", "B = 100\n")
	writeFile(t, dir, "new.py", "N = 1\n")

	res, err := c.Refresh(ctx, []string{"a.py", filepath.Join(dir, "new.py")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py", "new.py"}, res.Changed)
	assert.Equal(t, 1, p.counts["b.py"], "b.py was not requested")

	require.NoError(t, os.Remove(filepath.Join(dir, "a.py")))
	res, err = c.Refresh(ctx, []string{"a.py"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py"}, res.Removed)
}

func TestRefreshSyntaxErrorIsolated(t *testing.T) {
	t.Parallel()
	c, _, _ := setup(t, map[string]string{
		"bad.py":  "def broken(:\n",
		"good.py": "def fine():\n    pass\n",
	})
	res, err := c.Refresh(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Reparsed)

	snap := c.Snapshot()
	bad, _ := snap.Get("bad.py")
	require.NotNil(t, bad.Err)
	assert.Equal(t, model.SyntaxError, bad.Err.Kind)
	good, _ := snap.Get("good.py")
	assert.True(t, good.OK())
	require.Len(t, snap.Errors(), 1)
	assert.Equal(t, "bad.py", snap.Errors()[0].Path)
}

func TestRefreshSizeLimit(t *testing.T) {
	t.Parallel()
	c, _, dir := setup(t, map[string]string{
		"small.py": "S = 1\n",
	}, WithMaxFileSize(64))
	ctx := context.Background()
	writeFile(t, dir, "grows.py", "G = 1\n")
	_, err := c.Refresh(ctx, nil)
	require.NoError(t, err)

	writeFile(t, dir, "big.py", "X = '"+strings.Repeat("x", 100)+"'\n")
	writeFile(t, dir, "grows.py", "G = '"+strings.Repeat("g", 100)+"'\n")
	res, err := c.Refresh(ctx, nil)
	require.NoError(t, err)
	assert.Contains(t, res.Skipped, "big.py")
	assert.Contains(t, res.Skipped["big.py"], "exceeds limit")
	assert.Equal(t, []string{"grows.py"}, res.Removed, "a file that outgrows the limit leaves the cache")
	assert.Equal(t, []string{"small.py"}, c.Snapshot().Paths())
}

func TestInvalidate(t *testing.T) {
	t.Parallel()
	c, p, dir := setup(t, map[string]string{"a.py": "A = 1\n", "b.py": "B = 1\n"})
	ctx := context.Background()
	_, err := c.Refresh(ctx, nil)
	require.NoError(t, err)

	c.Invalidate(filepath.Join(dir, "a.py"))
	res, err := c.Refresh(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py"}, res.Changed)
	assert.Equal(t, 2, p.counts["a.py"])

	// The invalidation is consumed.
	res, err = c.Refresh(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Changed)
}

func TestRefreshCoalesced(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "a.py", "A = 1\n")

	p := newParser(t)
	p.gate = make(chan struct{})
	p.started = make(chan string, 1)
	enum := &countingEnumerator{Walker: discover.Walker{Root: dir}}
	c := New(dir, enum, p)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]RefreshResult, 4)
	errs := make([]error, 4)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = c.Refresh(ctx, nil)
	}()
	<-p.started

	for i := 1; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.Refresh(ctx, nil)
		}()
	}
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.pending != nil && c.pending.waiters == 3
	}, 5*time.Second, 5*time.Millisecond)

	close(p.gate)
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int32(2), enum.calls.Load(), "three queued callers share one cycle")
	assert.Equal(t, []string{"a.py"}, results[0].Changed)
	for i := 1; i < 4; i++ {
		assert.Empty(t, results[i].Changed)
		assert.Equal(t, results[1], results[i])
	}
	assert.Equal(t, 1, p.total())
}

func TestConcurrentReaders(t *testing.T) {
	t.Parallel()
	c, _, dir := setup(t, map[string]string{"a.py": "A = 1\n"})
	ctx := context.Background()

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			var last uint64
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := c.Snapshot()
				assert.GreaterOrEqual(t, snap.Version, last)
				last = snap.Version
				assert.Equal(t, len(snap.Units), len(snap.Results))
				for path := range snap.Units {
					_, ok := snap.Results[path]
					assert.True(t, ok)
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		writeFile(t, dir, "a.py", "A = "+strings.Repeat("1", i+1)+"\n")
		_, err := c.Refresh(ctx, nil)
		require.NoError(t, err)
	}
	close(stop)
	readers.Wait()
	assert.Equal(t, uint64(20), c.Snapshot().Version)
}

func TestCloseAbandonsCycle(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, name := range []string{"a.py", "b.py", "c.py", "d.py"} {
		writeFile(t, dir, name, "X = 1\n")
	}
	p := newParser(t)
	p.gate = make(chan struct{})
	p.started = make(chan string, 4)
	c := New(dir, discover.Walker{Root: dir}, p, WithWorkers(1))

	done := make(chan error, 1)
	go func() {
		_, err := c.Refresh(context.Background(), nil)
		done <- err
	}()
	first := <-p.started

	closed := make(chan struct{})
	go func() {
		_ = c.Close()
		close(closed)
	}()
	require.Eventually(t, func() bool { return c.ctx.Err() != nil }, 5*time.Second, time.Millisecond)
	close(p.gate)
	<-closed

	assert.ErrorIs(t, <-done, ErrClosed)
	assert.Equal(t, 1, p.total(), "queued work is discarded")
	assert.Equal(t, []string{first}, c.Snapshot().Paths(), "finished work is kept")

	_, err := c.Refresh(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestRefreshWaitCancelled(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "a.py", "A = 1\n")
	p := newParser(t)
	p.gate = make(chan struct{})
	p.started = make(chan string, 1)
	c := New(dir, discover.Walker{Root: dir}, p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx, nil)
		done <- err
	}()
	<-p.started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// The cycle still completes for later readers.
	close(p.gate)
	require.Eventually(t, func() bool { return c.Snapshot().Len() == 1 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
}

func TestRefreshRootUnreadable(t *testing.T) {
	t.Parallel()
	root := filepath.Join(t.TempDir(), "missing")
	c := New(root, discover.Walker{Root: root}, newParser(t))
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.Refresh(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, discover.ErrRootUnreadable)
	assert.Zero(t, c.Snapshot().Version)
}

type memStore struct {
	mu      sync.Mutex
	rows    map[string]model.ParseResult
	deleted []string
}

func (s *memStore) SaveResults(_ context.Context, results []model.ParseResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range results {
		s.rows[r.Path] = r
	}
	return nil
}

func (s *memStore) Delete(_ context.Context, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		delete(s.rows, p)
		s.deleted = append(s.deleted, p)
	}
	return nil
}

func (s *memStore) Load(context.Context) (map[string]model.ParseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.ParseResult, len(s.rows))
	for k, v := range s.rows {
		out[k] = v
	}
	return out, nil
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	store := &memStore{rows: map[string]model.ParseResult{}}
	c, _, dir := setup(t, map[string]string{"a.py": "A = 1\n", "b.py": "B = 1\n"}, WithStore(store))
	ctx := context.Background()
	_, err := c.Refresh(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, store.rows, 2)

	require.NoError(t, os.Remove(filepath.Join(dir, "b.py")))
	_, err = c.Refresh(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.py"}, store.deleted)

	// A fresh cache warm-starts from the store and reparses nothing.
	p := newParser(t)
	warm := New(dir, discover.Walker{Root: dir}, p, WithStore(store))
	t.Cleanup(func() { _ = warm.Close() })
	n, err := warm.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a.py"}, warm.Snapshot().Paths())

	res, err := warm.Refresh(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Changed)
	assert.Zero(t, p.total())
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
