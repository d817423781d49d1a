// Package config loads docscope settings from a YAML or TOML file, a .env
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/docscope/internal/cache"
	"github.com/phobologic/docscope/internal/crawl"
	"github.com/phobologic/docscope/internal/model"
	"github.com/phobologic/docscope/internal/watch"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full set of settings.
type Config struct {
	Root           string `yaml:"root" toml:"root"`
	Style          string `yaml:"style" toml:"style"`
	IncludePrivate bool   `yaml:"include_private" toml:"include_private"`
	Fingerprint    string `yaml:"fingerprint" toml:"fingerprint"`
	MaxFileSize    int64  `yaml:"max_file_size" toml:"max_file_size"`

	Crawl CrawlConfig `yaml:"crawl" toml:"crawl"`
	Watch WatchConfig `yaml:"watch" toml:"watch"`
	Store StoreConfig `yaml:"store" toml:"store"`
	Log   LogConfig   `yaml:"log" toml:"log"`
}

// CrawlConfig controls dependency crawling. When Enabled, the cache tracks
// the crawl's file set instead of a flat walk of the root.
type CrawlConfig struct {
	Enabled            bool     `yaml:"enabled" toml:"enabled"`
	FollowDependencies bool     `yaml:"follow_dependencies" toml:"follow_dependencies"`
	MaxModules         int      `yaml:"max_modules" toml:"max_modules"`
	MaxFileSize        int64    `yaml:"max_file_size" toml:"max_file_size"`
	SearchPaths        []string `yaml:"search_paths" toml:"search_paths"`
}

// WatchConfig controls the change trigger.
type WatchConfig struct {
	Mode     string        `yaml:"mode" toml:"mode"`
	Interval time.Duration `yaml:"interval" toml:"interval"`
	Debounce time.Duration `yaml:"debounce" toml:"debounce"`
}

// StoreConfig locates the persisted state. An empty Path disables it.
type StoreConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Root:        ".",
		Style:       string(model.StyleAuto),
		Fingerprint: string(cache.Stat),
		MaxFileSize: cache.DefaultMaxFileSize,
		Crawl: CrawlConfig{
			FollowDependencies: true,
			MaxModules:         crawl.DefaultMaxModules,
			MaxFileSize:        crawl.DefaultMaxFileSize,
		},
		Watch: WatchConfig{
			Mode:     string(watch.ModeFSNotify),
			Interval: watch.DefaultInterval,
			Debounce: watch.DefaultDebounce,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads .env from the working directory if present, decodes path over
// the defaults, applies environment overrides and validates the result. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if err := decodeFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return fmt.Errorf("%w: unsupported config format %q", ErrInvalid, ext)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("DOCSCOPE_ROOT"); v != "" {
		c.Root = v
	}
	if v := os.Getenv("DOCSCOPE_STYLE"); v != "" {
		c.Style = v
	}
	if v := os.Getenv("DOCSCOPE_INCLUDE_PRIVATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: DOCSCOPE_INCLUDE_PRIVATE: %v", ErrInvalid, err)
		}
		c.IncludePrivate = b
	}
	if v := os.Getenv("DOCSCOPE_DB"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("PYTHONPATH"); v != "" {
		for _, p := range filepath.SplitList(v) {
			if p != "" {
				c.Crawl.SearchPaths = append(c.Crawl.SearchPaths, p)
			}
		}
	}
	return nil
}

// Validate reports the first setting out of range.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("%w: root is empty", ErrInvalid)
	}
	if _, ok := model.ParseStyle(c.Style); !ok {
		return fmt.Errorf("%w: style %q (want auto, google, numpy, rest or plain)", ErrInvalid, c.Style)
	}
	switch cache.FingerprintMode(c.Fingerprint) {
	case cache.Stat, cache.Hash:
	default:
		return fmt.Errorf("%w: fingerprint %q (want stat or hash)", ErrInvalid, c.Fingerprint)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("%w: max_file_size must be positive", ErrInvalid)
	}
	if c.Crawl.MaxModules <= 0 {
		return fmt.Errorf("%w: crawl.max_modules must be positive", ErrInvalid)
	}
	if c.Crawl.MaxFileSize <= 0 {
		return fmt.Errorf("%w: crawl.max_file_size must be positive", ErrInvalid)
	}
	if _, err := watch.ParseMode(c.Watch.Mode); err != nil {
		return fmt.Errorf("%w: watch.mode: %v", ErrInvalid, err)
	}
	if c.Watch.Interval <= 0 || c.Watch.Debounce < 0 {
		return fmt.Errorf("%w: watch interval must be positive and debounce non-negative", ErrInvalid)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q (want text or json)", ErrInvalid, c.Log.Format)
	}
	return nil
}

// StyleHint returns the validated docstring style.
func (c *Config) StyleHint() model.Style {
	s, _ := model.ParseStyle(c.Style)
	return s
}

// CrawlOptions converts the crawl section for the crawler.
func (c *Config) CrawlOptions(logger *slog.Logger) crawl.Options {
	return crawl.Options{
		MaxModules:         c.Crawl.MaxModules,
		MaxFileSize:        c.Crawl.MaxFileSize,
		FollowDependencies: c.Crawl.FollowDependencies,
		SearchPaths:        c.Crawl.SearchPaths,
		Logger:             logger,
	}
}

// Logger builds a logger writing to w in the configured level and format.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log.level %q", ErrInvalid, s)
	}
	return l, nil
}

// Encode writes c in the format implied by path's extension.
func (c *Config) Encode(w io.Writer, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.NewEncoder(w).Encode(c)
	case ".yaml", ".yml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("%w: unsupported config format %q", ErrInvalid, filepath.Ext(path))
}
