package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/docscope/internal/model"
)

type candidate struct {
	key    string
	abs    string
	forced bool
}

type outcomeKind int

const (
	unchecked outcomeKind = iota
	unchanged
	reparsed
	removed
	skipped
)

type outcome struct {
	kind   outcomeKind
	unit   model.SourceUnit
	result model.ParseResult
	reason string
}

// cycle runs one refresh and publishes a new snapshot if anything changed.
func (c *Cache) cycle(req *request) (RefreshResult, error) {
	ctx := c.ctx
	if ctx.Err() != nil {
		return RefreshResult{}, ErrClosed
	}
	start := time.Now()
	prev := c.snap.Load()
	invalid := c.takeInvalid()

	candidates, gone, err := c.candidates(ctx, req, prev, invalid)
	if err != nil {
		if ctx.Err() != nil {
			return RefreshResult{Version: prev.Version}, ErrClosed
		}
		return RefreshResult{Version: prev.Version}, err
	}

	outcomes := make([]outcome, len(candidates))
	g := new(errgroup.Group)
	g.SetLimit(c.workers)
	for i, cand := range candidates {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// Work queued before cancellation is discarded, not started.
			if ctx.Err() != nil {
				return nil
			}
			outcomes[i] = c.check(cand, prev)
			return nil
		})
	}
	_ = g.Wait()

	res := RefreshResult{Version: prev.Version, Skipped: map[string]string{}}
	next := prev.next()
	for _, key := range gone {
		delete(next.Units, key)
		delete(next.Results, key)
		res.Removed = append(res.Removed, key)
	}
	var saved []model.ParseResult
	for i, o := range outcomes {
		key := candidates[i].key
		switch o.kind {
		case reparsed:
			next.Units[key] = o.unit
			next.Results[key] = o.result
			res.Changed = append(res.Changed, key)
			res.Reparsed++
			saved = append(saved, o.result)
			if o.result.Err != nil {
				c.logger.Warn("file failed to parse", "path", key, "kind", o.result.Err.Kind, "err", o.result.Err.Message)
			}
		case removed:
			delete(next.Units, key)
			delete(next.Results, key)
			res.Removed = append(res.Removed, key)
		case skipped:
			res.Skipped[key] = o.reason
			c.logger.Debug("skipping file", "path", key, "reason", o.reason)
			if _, ok := prev.Results[key]; ok {
				delete(next.Units, key)
				delete(next.Results, key)
				res.Removed = append(res.Removed, key)
			}
		}
	}
	res.Changed = append(res.Changed, res.Removed...)
	sort.Strings(res.Changed)
	sort.Strings(res.Removed)

	if len(res.Changed) > 0 {
		next.Changed = res.Changed
		next.UpdatedAt = time.Now()
		c.snap.Store(next)
		res.Version = next.Version
		c.persist(saved, res.Removed)
	}

	c.logger.Info("refresh complete",
		"version", res.Version,
		"checked", len(candidates),
		"reparsed", res.Reparsed,
		"changed", len(res.Changed),
		"removed", len(res.Removed),
		"skipped", len(res.Skipped),
		"duration", time.Since(start))

	if ctx.Err() != nil {
		return res, ErrClosed
	}
	return res, nil
}

// candidates lists the files to check and the keys known to be gone. A full
// request enumerates the root; anything tracked but not enumerated is gone.
// The two lists are disjoint.
func (c *Cache) candidates(ctx context.Context, req *request, prev *Snapshot, invalid map[string]struct{}) ([]candidate, []string, error) {
	seen := map[string]struct{}{}
	var out []candidate
	add := func(key, abs string) {
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		_, forced := invalid[key]
		out = append(out, candidate{key: key, abs: abs, forced: forced})
	}

	var gone []string
	goneSet := map[string]struct{}{}
	if req.full {
		entries, err := c.enum.Enumerate(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("enumerating %s: %w", c.root, err)
		}
		for _, e := range entries {
			add(c.key(e.Path), e.Abs)
		}
		for key := range prev.Units {
			if _, ok := seen[key]; !ok {
				gone = append(gone, key)
				goneSet[key] = struct{}{}
			}
		}
		sort.Strings(gone)
	}

	var explicit []string
	for p := range req.paths {
		explicit = append(explicit, c.key(p))
	}
	for key := range invalid {
		if _, ok := prev.Units[key]; ok {
			explicit = append(explicit, key)
		}
	}
	sort.Strings(explicit)
	for _, key := range explicit {
		if _, ok := goneSet[key]; ok {
			continue
		}
		abs := c.abs(key)
		if u, ok := prev.Units[key]; ok && u.AbsPath != "" {
			abs = u.AbsPath
		}
		add(key, abs)
	}
	return out, gone, nil
}

// check fingerprints one candidate and reparses it when the fingerprint
// differs from the stored one or the path was invalidated. A file that
// failed to read last time is read again.
func (c *Cache) check(cand candidate, snap *Snapshot) outcome {
	prev, known := snap.Units[cand.key]
	last := snap.Results[cand.key]
	fi, err := os.Stat(cand.abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if known {
				return outcome{kind: removed}
			}
			return outcome{kind: unchanged}
		}
		return c.failed(cand, prev, known, last, model.Fingerprint{}, err)
	}
	if fi.IsDir() {
		return outcome{kind: skipped, reason: "is a directory"}
	}
	if c.maxSize > 0 && fi.Size() > c.maxSize {
		return outcome{kind: skipped, reason: fmt.Sprintf("size %d exceeds limit %d", fi.Size(), c.maxSize)}
	}

	fp := model.Fingerprint{ModTime: fi.ModTime().UnixNano(), Size: fi.Size()}
	var src []byte
	if c.mode == Hash {
		src, err = os.ReadFile(cand.abs)
		if err != nil {
			return c.failed(cand, prev, known, last, fp, err)
		}
		fp = model.Fingerprint{Size: int64(len(src)), Hash: xxhash.Sum64(src)}
	}

	if known && !cand.forced && prev.Fingerprint == fp && !isReadError(last) {
		return outcome{kind: unchanged}
	}

	if src == nil {
		src, err = os.ReadFile(cand.abs)
		if err != nil {
			return c.failed(cand, prev, known, last, fp, err)
		}
	}
	r := c.parser.Parse(cand.key, src)
	r.Path = cand.key
	r.Fingerprint = fp
	return outcome{
		kind:   reparsed,
		unit:   model.SourceUnit{AbsPath: cand.abs, Path: cand.key, Fingerprint: fp, Size: fp.Size},
		result: r,
	}
}

// fingerprint computes the current fingerprint of abs in the cache's mode.
func (c *Cache) fingerprint(abs string) (model.Fingerprint, error) {
	fi, err := os.Stat(abs)
	if err != nil {
		return model.Fingerprint{}, err
	}
	if c.mode != Hash {
		return model.Fingerprint{ModTime: fi.ModTime().UnixNano(), Size: fi.Size()}, nil
	}
	src, err := os.ReadFile(abs)
	if err != nil {
		return model.Fingerprint{}, err
	}
	return model.Fingerprint{Size: int64(len(src)), Hash: xxhash.Sum64(src)}, nil
}

// failed records an unreadable file as a read error so it stays visible. A
// file that keeps failing the same way is reported unchanged.
func (c *Cache) failed(cand candidate, prev model.SourceUnit, known bool, last model.ParseResult, fp model.Fingerprint, err error) outcome {
	r := model.NewError(cand.key, model.ReadError, "reading %s: %v", cand.key, err)
	r.Err.Cause = err.Error()
	r.Fingerprint = fp
	if known && !cand.forced && prev.Fingerprint == fp && isReadError(last) && last.Err.Message == r.Err.Message {
		return outcome{kind: unchanged}
	}
	return outcome{
		kind:   reparsed,
		unit:   model.SourceUnit{AbsPath: cand.abs, Path: cand.key, Fingerprint: fp, Size: fp.Size},
		result: r,
	}
}

func isReadError(r model.ParseResult) bool {
	return r.Err != nil && r.Err.Kind == model.ReadError
}

// persist writes a published cycle to the store. Store failures are logged;
// the in-memory snapshot stays authoritative.
func (c *Cache) persist(saved []model.ParseResult, removed []string) {
	if c.store == nil {
		return
	}
	ctx := context.WithoutCancel(c.ctx)
	if len(saved) > 0 {
		if err := c.store.SaveResults(ctx, saved); err != nil {
			c.logger.Warn("persisting results", "files", len(saved), "err", err)
		}
	}
	if len(removed) > 0 {
		if err := c.store.Delete(ctx, removed); err != nil {
			c.logger.Warn("deleting persisted results", "files", len(removed), "err", err)
		}
	}
}
