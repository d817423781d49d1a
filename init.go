package main

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/phobologic/docscope/internal/config"
)

const (
	sentinelStart = "# docscope:start"
	sentinelEnd   = "# docscope:end"

	defaultConfigPath = ".docscope.yaml"
	defaultStorePath  = ".docscope.db"
)

// InitCmd is the "init" subcommand. It writes a default config file and
// keeps a docscope block in the neighbouring .gitignore so the store is not
// committed.
type InitCmd struct {
	Path      string `arg:"" optional:"" default:".docscope.yaml" help:"Config file to write (.yaml, .yml or .toml)"`
	DryRun    bool   `name:"dry-run" help:"Print what would be written without modifying any file"`
	Force     bool   `help:"Overwrite an existing config file"`
	Gitignore bool   `negatable:"" default:"true" help:"Add the store files to .gitignore"`
}

// Run executes the init command.
func (c *InitCmd) Run(deps *Dependencies) error {
	path := c.Path
	if path == "" {
		path = defaultConfigPath
	}

	cfg := config.Default()
	cfg.Store.Path = defaultStorePath
	var buf bytes.Buffer
	if err := cfg.Encode(&buf, path); err != nil {
		return err
	}

	if c.DryRun {
		_, _ = fmt.Fprint(deps.Stdout, buf.String())
		return nil
	}

	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	_, _ = fmt.Fprintf(deps.Stderr, "wrote config to %s\n", path)

	if !c.Gitignore {
		return nil
	}
	ignorePath := filepath.Join(filepath.Dir(path), ".gitignore")
	existing, err := os.ReadFile(ignorePath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", ignorePath, err)
	}
	updated := applySection(string(existing), generateSection(defaultStorePath))
	if updated == string(existing) {
		return nil
	}
	if err := os.WriteFile(ignorePath, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", ignorePath, err)
	}
	_, _ = fmt.Fprintf(deps.Stderr, "updated %s\n", ignorePath)
	return nil
}

// generateSection returns the sentinel-wrapped ignore rules for a SQLite
// store at storePath, including its WAL side files.
func generateSection(storePath string) string {
	lines := []string{
		sentinelStart,
		storePath,
		storePath + "-wal",
		storePath + "-shm",
		sentinelEnd,
	}
	return strings.Join(lines, "\n")
}

// applySection inserts section into content, replacing an existing sentinel
// block if present or appending if not.
func applySection(content, section string) string {
	start := strings.Index(content, sentinelStart)
	end := strings.Index(content, sentinelEnd)

	if start >= 0 && end > start {
		return content[:start] + section + content[end+len(sentinelEnd):]
	}

	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if len(content) > 0 {
		content += "\n"
	}
	return content + section + "\n"
}
