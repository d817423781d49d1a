// Package discover finds parseable Python source files under a root.
package discover

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/phobologic/docscope/internal/lang"
)

// ErrRootUnreadable is returned when the scan root cannot be read.
var ErrRootUnreadable = errors.New("root unreadable")

// FileEntry represents a discovered source file.
type FileEntry struct {
	Path    string // slash-separated, relative to the root
	Abs     string
	Size    int64
	ModTime time.Time
}

var skipDirs = map[string]struct{}{
	"__pycache__":   {},
	"node_modules":  {},
	".git":          {},
	".hg":           {},
	".svn":          {},
	"venv":          {},
	".venv":         {},
	"env":           {},
	".env":          {},
	"build":         {},
	"dist":          {},
	".tox":          {},
	".nox":          {},
	".eggs":         {},
	".mypy_cache":   {},
	".ruff_cache":   {},
	".pytest_cache": {},
	"htmlcov":       {},
}

// SkipDir reports whether a directory name is excluded from traversal:
// hidden directories, build and cache artifacts, and *.egg-info.
func SkipDir(name string) bool {
	if _, skip := skipDirs[name]; skip {
		return true
	}
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".egg-info")
}

// Source reports whether a file name is a Python source file the engine
// extracts.
func Source(name string) bool {
	return !strings.HasPrefix(name, ".") && lang.ForExtension(filepath.Ext(name)) == lang.Python
}

// Walker enumerates the Python files under Root.
type Walker struct {
	Root   string
	Logger *slog.Logger
}

// Enumerate walks w.Root.
func (w Walker) Enumerate(ctx context.Context) ([]FileEntry, error) {
	return Files(ctx, w.Root, w.Logger)
}

// Files discovers Python source files under root, sorted by path. Inside a
// git work tree only tracked and untracked-but-not-ignored files are
// returned; otherwise the root .gitignore applies.
func Files(ctx context.Context, root string, logger *slog.Logger) ([]FileEntry, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRootUnreadable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRootUnreadable, root)
	}

	keep := newFilter(ctx, root)
	var results []FileEntry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil && path == root:
			return err
		case err != nil:
			logger.Warn("skipping unreadable path", "path", path, "err", err)
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case d.IsDir():
			if path != root && SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		case d.Type()&fs.ModeSymlink != 0, !Source(d.Name()):
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !keep(rel) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			logger.Warn("skipping unreadable file", "path", rel, "err", err)
			return nil
		}
		results = append(results, FileEntry{Path: rel, Abs: path, Size: fi.Size(), ModTime: fi.ModTime()})
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrRootUnreadable, err)
	}

	slices.SortFunc(results, func(a, b FileEntry) int { return strings.Compare(a.Path, b.Path) })
	return results, nil
}

// newFilter returns the inclusion test for slash-separated paths relative to
// root. Git's own view wins when root is a work tree.
func newFilter(ctx context.Context, root string) func(rel string) bool {
	if tracked := gitLsFiles(ctx, root); tracked != nil {
		return func(rel string) bool {
			_, ok := tracked[rel]
			return ok
		}
	}
	if gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
		return func(rel string) bool { return !gi.MatchesPath(rel) }
	}
	return func(string) bool { return true }
}

// gitLsFiles lists the files git would consider part of the work tree at root,
// or nil when root is not a work tree or git is unavailable.
func gitLsFiles(ctx context.Context, root string) map[string]struct{} {
	if info, err := os.Stat(filepath.Join(root, ".git")); err != nil || !info.IsDir() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "ls-files", "-z", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return nil
	}

	files := make(map[string]struct{})
	for _, name := range strings.Split(string(out), "\x00") {
		if name != "" {
			files[name] = struct{}{}
		}
	}
	return files
}
