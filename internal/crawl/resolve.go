package crawl

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/phobologic/docscope/internal/discover"
	"github.com/phobologic/docscope/internal/lang"
	"github.com/phobologic/docscope/internal/parse"
)

// Markers stand in for import targets that have no extractable source.
const (
	BuiltinMarker   = "(built-in)"
	ExtensionPrefix = "(extension) "
	NamespacePrefix = "(namespace) "
)

// builtins are modules compiled into the interpreter itself.
var builtins = map[string]struct{}{
	"_abc": {}, "_ast": {}, "_codecs": {}, "_collections": {}, "_functools": {},
	"_imp": {}, "_io": {}, "_locale": {}, "_operator": {}, "_signal": {},
	"_sre": {}, "_stat": {}, "_string": {}, "_symtable": {}, "_thread": {},
	"_tokenize": {}, "_tracemalloc": {}, "_typing": {}, "_warnings": {}, "_weakref": {},
	"atexit": {}, "builtins": {}, "errno": {}, "faulthandler": {}, "gc": {},
	"itertools": {}, "marshal": {}, "posix": {}, "pwd": {}, "sys": {},
	"time": {}, "xxsubtype": {},
}

// IsBuiltin reports whether the top-level package of an absolute import is
// compiled into the interpreter.
func IsBuiltin(ref string) bool {
	first, _, _ := strings.Cut(ref, ".")
	_, ok := builtins[first]
	return ok
}

// resolution is the outcome of resolving one import reference. name keys it
// in Resolved or Unresolved; value is a file path or a marker. file is set
// when the target is an extractable source file.
type resolution struct {
	name  string
	value string
	file  *node
}

// resolve maps ref, imported by from, to a target. Absolute references are
// searched under the crawl root and then the search paths. Relative ones are
// anchored at the importing file's package and keyed by the absolute name
// they denote.
func (s *state) resolve(from node, ref string) (resolution, bool) {
	level := len(ref) - len(strings.TrimLeft(ref, "."))
	if level == 0 {
		if IsBuiltin(ref) {
			return resolution{name: ref, value: BuiltinMarker}, true
		}
		return s.lookup(ref, s.c.roots())
	}

	name, ok := absoluteName(from.rel, level, ref[level:])
	if !ok || name == "" {
		return resolution{name: from.key + ":" + ref}, false
	}
	return s.lookup(name, []string{from.base})
}

func (c *Crawler) roots() []string {
	return append([]string{c.root}, c.opts.SearchPaths...)
}

// absoluteName turns a relative import in the file at rel into a dotted
// absolute name. ok is false when the import climbs above the top package.
func absoluteName(rel string, level int, rest string) (string, bool) {
	var parts []string
	if mod := parse.ModuleName(rel); mod != "" {
		parts = strings.Split(mod, ".")
	}
	if path.Base(rel) != "__init__.py" {
		if len(parts) == 0 {
			return "", false
		}
		parts = parts[:len(parts)-1]
	}
	up := level - 1
	if up > len(parts) {
		return "", false
	}
	parts = parts[:len(parts)-up]
	if rest != "" {
		parts = append(parts, strings.Split(rest, ".")...)
	}
	return strings.Join(parts, "."), true
}

// lookup tries the dotted prefixes of name from longest to shortest, and each
// prefix under every base in order.
func (s *state) lookup(name string, bases []string) (resolution, bool) {
	memoKey := name + "\x00" + strings.Join(bases, "\x00")
	if r, ok := s.memo[memoKey]; ok {
		return r, r.value != ""
	}

	r := resolution{name: name}
	parts := strings.Split(name, ".")
	for n := len(parts); n >= 1 && r.value == ""; n-- {
		for _, base := range bases {
			if found, ok := s.c.probe(base, parts[:n]); ok {
				r.value, r.file = found.value, found.file
				break
			}
		}
	}
	s.memo[memoKey] = r
	return r, r.value != ""
}

// probe checks one module path under base in resolution order: module file,
// package, compiled extension, namespace directory.
func (c *Crawler) probe(base string, parts []string) (resolution, bool) {
	for _, p := range parts {
		if p == "" || discover.SkipDir(p) {
			return resolution{}, false
		}
	}
	p := filepath.Join(append([]string{base}, parts...)...)

	if isFile(p + ".py") {
		return c.fileResolution(base, p+".py"), true
	}
	if init := filepath.Join(p, "__init__.py"); isFile(init) {
		return c.fileResolution(base, init), true
	}
	if ext := extensionModule(p); ext != "" {
		return resolution{value: ExtensionPrefix + c.key(ext)}, true
	}
	if info, err := os.Stat(p); err == nil && info.IsDir() {
		return resolution{value: NamespacePrefix + c.key(p)}, true
	}
	return resolution{}, false
}

func (c *Crawler) fileResolution(base, file string) resolution {
	rel, err := filepath.Rel(base, file)
	if err != nil {
		rel = filepath.Base(file)
	}
	n := &node{abs: file, key: c.key(file), base: base, rel: filepath.ToSlash(rel)}
	return resolution{value: n.key, file: n}
}

// extensionModule finds a compiled module for p: p.so, or a tagged name such
// as p.cpython-312-x86_64-linux-gnu.so.
func extensionModule(p string) string {
	dir, stem := filepath.Split(p)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, stem+".") {
			continue
		}
		for _, suffix := range lang.Python.ExtensionModules {
			if strings.HasSuffix(name, suffix) {
				return filepath.Join(dir, name)
			}
		}
	}
	return ""
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
