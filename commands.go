package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/phobologic/docscope/internal/cache"
	"github.com/phobologic/docscope/internal/crawl"
	"github.com/phobologic/docscope/internal/index"
	"github.com/phobologic/docscope/internal/model"
	"github.com/phobologic/docscope/internal/ranking"
	"github.com/phobologic/docscope/internal/toon"
	"github.com/phobologic/docscope/internal/watch"
)

// ScanCmd is the "scan" subcommand.
type ScanCmd struct {
	Root   string `arg:"" optional:"" help:"Directory to scan (defaults to the configured root)"`
	Format string `short:"f" enum:"toon,json" default:"toon" help:"Output format (toon or json)"`
}

// Run executes the scan command.
func (c *ScanCmd) Run(deps *Dependencies) error {
	e, err := openEngine(deps, c.Root)
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.cache.Refresh(deps.Ctx, nil)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", e.root, err)
	}
	deps.Logger.Info("scan complete", "root", e.root, "files", e.cache.Snapshot().Len(), "reparsed", res.Reparsed)

	snap := e.cache.Snapshot()
	if c.Format == "json" {
		return writeJSON(deps.Stdout, snap.Results)
	}
	_, err = fmt.Fprintln(deps.Stdout, toon.EncodeSnapshot(snap))
	return err
}

// SearchCmd is the "search" subcommand.
type SearchCmd struct {
	Query  string   `arg:"" help:"Text to look for in names and docstrings"`
	Root   string   `short:"r" type:"path" help:"Directory to search (defaults to the configured root)"`
	Fuzzy  bool     `short:"z" help:"Tolerate small misspellings per query word"`
	Limit  int      `short:"n" default:"20" help:"Maximum hits to print (0 for all)"`
	Kind   []string `short:"k" help:"Only hits of these kinds (module, function, class, constant)"`
	Path   string   `short:"p" help:"Only hits whose path starts with this prefix"`
	Format string   `short:"f" enum:"toon,json" default:"toon" help:"Output format (toon or json)"`
}

// Run executes the search command.
func (c *SearchCmd) Run(deps *Dependencies) error {
	e, err := openEngine(deps, c.Root)
	if err != nil {
		return err
	}
	defer e.Close()

	if _, err := e.cache.Refresh(deps.Ctx, nil); err != nil {
		return fmt.Errorf("scanning %s: %w", e.root, err)
	}

	live := index.NewLive(e.cache, index.DefaultMemoSize, deps.Logger)
	hits := ranking.Filter(live.Search(c.Query, c.Fuzzy, 0), c.Kind, c.Path)
	hits = ranking.Top(hits, c.Limit)

	if c.Format == "json" {
		if hits == nil {
			hits = []model.Hit{}
		}
		return writeJSON(deps.Stdout, hits)
	}
	_, err = fmt.Fprintln(deps.Stdout, toon.EncodeHits(hits))
	return err
}

// CrawlCmd is the "crawl" subcommand.
type CrawlCmd struct {
	Root        string   `arg:"" optional:"" help:"Directory to start from (defaults to the configured root)"`
	MaxModules  int      `name:"max-modules" help:"Maximum number of files to admit (defaults to config)"`
	MaxFileSize int64    `name:"max-file-size" help:"Skip files larger than this many bytes (defaults to config)"`
	NoFollow    bool     `name:"no-follow" help:"Extract only the root's own files"`
	SearchPath  []string `name:"search-path" short:"I" type:"path" help:"Extra directory to resolve absolute imports against (repeatable)"`
	Format      string   `short:"f" enum:"toon,json" default:"toon" help:"Output format (toon or json)"`
}

// Run executes the crawl command.
func (c *CrawlCmd) Run(deps *Dependencies) error {
	cfg := deps.Config
	root := c.Root
	if root == "" {
		root = cfg.Root
	}

	opts := cfg.CrawlOptions(deps.Logger)
	if c.MaxModules > 0 {
		opts.MaxModules = c.MaxModules
	}
	if c.MaxFileSize > 0 {
		opts.MaxFileSize = c.MaxFileSize
	}
	if c.NoFollow {
		opts.FollowDependencies = false
	}
	opts.SearchPaths = append(opts.SearchPaths, c.SearchPath...)

	x, err := newExtractor(cfg)
	if err != nil {
		return err
	}
	res, err := crawl.New(root, x, opts).Crawl(deps.Ctx)
	if err != nil {
		return err
	}

	if c.Format == "json" {
		return writeJSON(deps.Stdout, res)
	}
	_, err = fmt.Fprintln(deps.Stdout, toon.EncodeCrawl(res))
	return err
}

// WatchCmd is the "watch" subcommand.
type WatchCmd struct {
	Root string `arg:"" optional:"" help:"Directory to watch (defaults to the configured root)"`
	Mode string `short:"m" help:"Change trigger: fsnotify, poll or off (defaults to config)"`
}

// Run executes the watch command. It returns when the context is cancelled.
// SIGHUP requests a full rescan.
func (c *WatchCmd) Run(deps *Dependencies) error {
	cfg := deps.Config
	e, err := openEngine(deps, c.Root)
	if err != nil {
		return err
	}
	defer e.Close()

	modeName := cfg.Watch.Mode
	if c.Mode != "" {
		modeName = c.Mode
	}
	mode, err := watch.ParseMode(modeName)
	if err != nil {
		return err
	}

	w := &watch.Watcher{
		Refresher: e.cache,
		Root:      e.root,
		Mode:      mode,
		Interval:  cfg.Watch.Interval,
		Debounce:  cfg.Watch.Debounce,
		Logger:    deps.Logger,
		OnRefresh: func(res cache.RefreshResult) {
			printChanges(deps.Stdout, res)
		},
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-deps.Ctx.Done():
				return
			case <-hup:
				w.Trigger()
			}
		}
	}()

	deps.Logger.Info("watching", "root", e.root, "mode", mode)
	return w.Run(deps.Ctx)
}

func printChanges(w io.Writer, res cache.RefreshResult) {
	removed := make(map[string]struct{}, len(res.Removed))
	for _, p := range res.Removed {
		removed[p] = struct{}{}
	}
	for _, p := range res.Changed {
		verb := "changed"
		if _, ok := removed[p]; ok {
			verb = "removed"
		}
		_, _ = fmt.Fprintf(w, "%s %s\n", verb, p)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
