// Package watch drives cache refreshes from filesystem events, a polling
// timer, or explicit rescan requests.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/phobologic/docscope/internal/cache"
	"github.com/phobologic/docscope/internal/discover"
)

// Mode selects the change trigger.
type Mode string

const (
	ModeFSNotify Mode = "fsnotify"
	ModePoll     Mode = "poll"
	ModeOff      Mode = "off" // explicit triggers only
)

const (
	DefaultInterval = 5 * time.Second
	DefaultDebounce = 300 * time.Millisecond
)

// ParseMode converts s to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeFSNotify, ModePoll, ModeOff:
		return m, nil
	case "":
		return ModeFSNotify, nil
	}
	return "", fmt.Errorf("unknown watch mode %q", s)
}

// Refresher is the part of the cache the watcher drives.
type Refresher interface {
	Refresh(ctx context.Context, paths []string) (cache.RefreshResult, error)
}

// Watcher runs refreshes against Refresher until its context ends. The zero
// values of Interval, Debounce and Skip select the defaults.
type Watcher struct {
	Refresher Refresher
	Root      string
	Mode      Mode
	Interval  time.Duration
	Debounce  time.Duration
	Skip      func(dirName string) bool
	Logger    *slog.Logger

	// OnRefresh, if set, is called after every successful refresh that
	// changed something.
	OnRefresh func(cache.RefreshResult)

	once    sync.Once
	trigger chan struct{}
}

func (w *Watcher) init() {
	w.once.Do(func() {
		w.trigger = make(chan struct{}, 1)
		if w.Interval <= 0 {
			w.Interval = DefaultInterval
		}
		if w.Debounce <= 0 {
			w.Debounce = DefaultDebounce
		}
		if w.Skip == nil {
			w.Skip = discover.SkipDir
		}
		if w.Logger == nil {
			w.Logger = slog.New(slog.DiscardHandler)
		}
		if w.Mode == "" {
			w.Mode = ModeFSNotify
		}
	})
}

// Trigger requests a full rescan. It never blocks; requests made while one
// is pending are merged into it.
func (w *Watcher) Trigger() {
	w.init()
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run performs an initial full refresh and then refreshes on every change
// signal until ctx is done. It returns nil on cancellation and an error only
// when the refresher is closed or the root is unreadable.
func (w *Watcher) Run(ctx context.Context) error {
	w.init()

	if w.Mode == ModeFSNotify {
		fw, err := fsnotify.NewWatcher()
		if err == nil {
			defer fw.Close()
			if err = w.addRecursive(fw, w.Root, nil); err == nil {
				return w.runEvents(ctx, fw)
			}
		}
		w.Logger.Warn("filesystem events unavailable, polling instead", "root", w.Root, "err", err)
		w.Mode = ModePoll
	}

	if err := w.refresh(ctx, nil); err != nil {
		return done(ctx, err)
	}

	var tick <-chan time.Time
	if w.Mode == ModePoll {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
		case <-w.trigger:
		}
		if err := w.refresh(ctx, nil); err != nil {
			return done(ctx, err)
		}
	}
}

func (w *Watcher) runEvents(ctx context.Context, fw *fsnotify.Watcher) error {
	if err := w.refresh(ctx, nil); err != nil {
		return done(ctx, err)
	}

	pending := map[string]struct{}{}
	full := false
	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.Debounce)
		} else {
			timer.Reset(w.Debounce)
		}
		fire = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-w.trigger:
			full = true
			schedule()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.handle(fw, ev, pending) {
				full = true
			}
			if full || len(pending) > 0 {
				schedule()
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			// Events may have been dropped.
			w.Logger.Warn("watch error", "err", err)
			full = true
			schedule()

		case <-fire:
			fire = nil
			var paths []string
			if !full {
				paths = make([]string, 0, len(pending))
				for p := range pending {
					paths = append(paths, p)
				}
				sort.Strings(paths)
			}
			clear(pending)
			full = false
			if err := w.refresh(ctx, paths); err != nil {
				return done(ctx, err)
			}
		}
	}
}

// handle records ev in pending. It reports whether the event needs a full
// rescan, which is the case for removed or renamed directories.
func (w *Watcher) handle(fw *fsnotify.Watcher, ev fsnotify.Event, pending map[string]struct{}) bool {
	name := filepath.Base(ev.Name)
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if w.Skip(name) {
				return false
			}
			if err := w.addRecursive(fw, ev.Name, pending); err != nil {
				w.Logger.Warn("watching new directory", "path", ev.Name, "err", err)
				return true
			}
			return false
		}
	}
	if discover.Source(name) {
		if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
			pending[ev.Name] = struct{}{}
		}
		return false
	}
	return (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)) && !w.Skip(name)
}

// addRecursive watches dir and its subdirectories. When pending is set, the
// source files already present are queued, since they may have been written
// before the watch was in place.
func (w *Watcher) addRecursive(fw *fsnotify.Watcher, dir string, pending map[string]struct{}) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			if pending != nil && discover.Source(d.Name()) {
				pending[path] = struct{}{}
			}
			return nil
		}
		if path != dir && w.Skip(d.Name()) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			if path == dir {
				return err
			}
			w.Logger.Debug("not watching directory", "path", path, "err", err)
		}
		return nil
	})
}

func (w *Watcher) refresh(ctx context.Context, paths []string) error {
	start := time.Now()
	res, err := w.Refresher.Refresh(ctx, paths)
	if err != nil {
		if errors.Is(err, cache.ErrClosed) || errors.Is(err, discover.ErrRootUnreadable) || ctx.Err() != nil {
			return err
		}
		w.Logger.Warn("refresh failed", "err", err)
		return nil
	}
	if len(res.Changed) > 0 {
		w.Logger.Info("refreshed",
			"changed", len(res.Changed),
			"reparsed", res.Reparsed,
			"version", res.Version,
			"duration", time.Since(start))
		if w.OnRefresh != nil {
			w.OnRefresh(res)
		}
	}
	return nil
}

// done maps errors caused by cancellation to a clean stop.
func done(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
