// docscope extracts, caches and indexes documentation from Python sources.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/phobologic/docscope/internal/cache"
	"github.com/phobologic/docscope/internal/config"
	"github.com/phobologic/docscope/internal/crawl"
	"github.com/phobologic/docscope/internal/discover"
	"github.com/phobologic/docscope/internal/model"
	"github.com/phobologic/docscope/internal/parse"
	"github.com/phobologic/docscope/internal/sqlite"
)

var version = "dev"

// defaultConfigFiles are tried in order when no config path is given.
var defaultConfigFiles = []string{".docscope.yaml", ".docscope.yml", ".docscope.toml"}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// Dependencies is bound into every command's Run method.
type Dependencies struct {
	Ctx    context.Context
	Stdout io.Writer
	Stderr io.Writer
	Config *config.Config
	Logger *slog.Logger
}

// CLI defines the command-line interface.
type CLI struct {
	Config   string           `short:"c" type:"path" env:"DOCSCOPE_CONFIG" help:"Config file (.yaml, .yml or .toml)"`
	LogLevel string           `name:"log-level" help:"Override the configured log level (debug, info, warn or error)"`
	Version  kong.VersionFlag `short:"V" help:"Show version and exit"`

	Scan   ScanCmd   `cmd:"" help:"Parse every source file under a root and print the models"`
	Search SearchCmd `cmd:"" help:"Search names and docstrings"`
	Crawl  CrawlCmd  `cmd:"" help:"Follow imports from a root and report the dependency closure"`
	Watch  WatchCmd  `cmd:"" help:"Keep the cache current and log changed files"`
	Init   InitCmd   `cmd:"" help:"Write a default config file"`
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cli := &CLI{}
	deps := &Dependencies{Ctx: ctx, Stdout: stdout, Stderr: stderr}
	parser, err := kong.New(cli,
		kong.Name("docscope"),
		kong.Description("Extract, cache and index documentation from Python sources."),
		kong.Writers(stdout, stderr),
		kong.Exit(func(int) {}),
		kong.Vars{"version": "docscope " + version},
		kong.Bind(deps),
	)
	if err != nil {
		return fmt.Errorf("creating parser: %w", err)
	}

	if len(args) == 0 {
		_, _ = parser.Parse([]string{"--help"})
		return errors.New("no command specified. Run 'docscope --help' to see available commands")
	}
	switch args[0] {
	case "help", "--help", "-h":
		_, _ = parser.Parse([]string{"--help"})
		return nil
	case "--version", "-V":
		_, _ = fmt.Fprintf(stdout, "docscope %s\n", version)
		return nil
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	path := cli.Config
	if path == "" && kctx.Command() != "init" && kctx.Command() != "init <path>" {
		path = findConfig()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	deps.Config = cfg
	deps.Logger = cfg.Logger(stderr)

	return kctx.Run(deps)
}

func findConfig() string {
	for _, name := range defaultConfigFiles {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// engine is a cache wired to its parser, enumerator and optional store.
type engine struct {
	root  string
	cache *cache.Cache
	db    *sqlite.DB
}

// openEngine builds the cache for root (the configured root when empty) and
// warms it from the store when one is configured.
func openEngine(deps *Dependencies, root string) (*engine, error) {
	cfg := deps.Config
	if root == "" {
		root = cfg.Root
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", root)
	}

	x, err := newExtractor(cfg)
	if err != nil {
		return nil, err
	}

	e := &engine{root: root}
	var enum cache.Enumerator = discover.Walker{Root: root, Logger: deps.Logger}
	if cfg.Crawl.Enabled {
		copts := cfg.CrawlOptions(deps.Logger)
		// Unchanged files already in the cache contribute their recorded imports.
		copts.Imports = func(key, abs string) ([]model.Import, bool) {
			return e.cache.KnownImports(key, abs)
		}
		enum = crawl.Enumerator{Crawler: crawl.New(root, crawl.ImportParser{X: x}, copts)}
	}

	opts := []cache.Option{
		cache.WithFingerprintMode(cache.FingerprintMode(cfg.Fingerprint)),
		cache.WithMaxFileSize(cfg.MaxFileSize),
		cache.WithLogger(deps.Logger),
	}
	if cfg.Store.Path != "" {
		e.db = sqlite.NewDB(cfg.Store.Path)
		if err := e.db.Open(); err != nil {
			fmt.Fprintln(deps.Stderr, "Hint: set DOCSCOPE_DB or store.path to use a different database path")
			return nil, fmt.Errorf("opening store at %q: %w", cfg.Store.Path, err)
		}
		profile := fmt.Sprintf("root=%s fingerprint=%s %s", root, cfg.Fingerprint, x.Options().Digest())
		dropped, err := e.db.UseProfile(deps.Ctx, profile)
		if err != nil {
			_ = e.db.Close()
			return nil, fmt.Errorf("opening store at %q: %w", cfg.Store.Path, err)
		}
		if dropped > 0 {
			deps.Logger.Info("discarded stored results built with other settings", "path", cfg.Store.Path, "files", dropped)
		}
		opts = append(opts, cache.WithStore(e.db))
	}
	e.cache = cache.New(root, enum, x, opts...)

	if e.db != nil {
		n, err := e.cache.Restore(deps.Ctx)
		if err != nil {
			deps.Logger.Warn("restoring from store", "path", cfg.Store.Path, "err", err)
		} else {
			deps.Logger.Debug("restored from store", "path", cfg.Store.Path, "files", n)
		}
	}
	return e, nil
}

func (e *engine) Close() error {
	err := e.cache.Close()
	if e.db != nil {
		err = errors.Join(err, e.db.Close())
	}
	return err
}

func newExtractor(cfg *config.Config) (*parse.Extractor, error) {
	x, err := parse.New(parse.Options{Style: cfg.StyleHint(), IncludePrivate: cfg.IncludePrivate})
	if err != nil {
		return nil, fmt.Errorf("creating extractor: %w", err)
	}
	return x, nil
}
