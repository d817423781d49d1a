package parse

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/docscope/internal/model"
)

func newExtractor(t *testing.T, opts Options) *Extractor {
	t.Helper()
	x, err := New(opts)
	require.NoError(t, err)
	return x
}

func mustParse(t *testing.T, x *Extractor, path, src string) *model.DocModel {
	t.Helper()
	res := x.Parse(path, []byte(src))
	require.Nil(t, res.Err, "unexpected error record")
	require.NotNil(t, res.Doc)
	return res.Doc
}

func names(entries []model.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestParseClassWithMethodAndComment(t *testing.T) {
	t.Parallel()
	x := newExtractor(t, Options{})

	src := `class Greeter:
    """Greeter class"""

    # Say hello to someone.
    def greet(self, name: str) -> str:
        return "Hello, " + name
`
	doc := mustParse(t, x, "greeter.py", src)
	require.Len(t, doc.Entries, 1)

	cls := doc.Entries[0]
	assert.Equal(t, model.Class, cls.Kind)
	assert.Equal(t, "Greeter", cls.Name)
	assert.Equal(t, "Greeter class", cls.Docstring)
	assert.Equal(t, "Greeter class", cls.Doc.Summary)
	require.Len(t, cls.Children, 1)

	greet := cls.Children[0]
	assert.Equal(t, model.Function, greet.Kind)
	assert.Equal(t, "greet", greet.Name)
	assert.Equal(t, "Greeter.greet", greet.QualName)
	require.Len(t, greet.Params, 2)
	assert.Equal(t, model.Param{Name: "self", Kind: model.Positional}, greet.Params[0])
	assert.Equal(t, model.Param{Name: "name", Kind: model.Positional, Type: "str"}, greet.Params[1])
	assert.Equal(t, "str", greet.Returns)
	assert.Equal(t, "greet(self, name: str) -> str", greet.Signature)

	require.Len(t, greet.Comments, 1)
	assert.Equal(t, "Say hello to someone.", greet.Comments[0].Text)
	assert.Equal(t, "Greeter.greet", greet.Comments[0].Target)
	assert.Empty(t, cls.Comments)
	assert.Empty(t, doc.Comments)
	assert.Equal(t, 4, greet.StartLine)
	assert.Equal(t, 5, greet.Line)
}

func TestParseConstants(t *testing.T) {
	t.Parallel()
	x := newExtractor(t, Options{})

	t.Run("literal and call", func(t *testing.T) {
		t.Parallel()
		doc := mustParse(t, x, "conf.py", "MAX = 10\nCONF = load_config()\n")
		require.Len(t, doc.Entries, 1)
		assert.Equal(t, model.Constant, doc.Entries[0].Kind)
		assert.Equal(t, "MAX", doc.Entries[0].Name)
		assert.Equal(t, "10", doc.Entries[0].Value)
		assert.Equal(t, "MAX = 10", doc.Entries[0].Signature)
		assert.Equal(t, 1, doc.Entries[0].Line)
		assert.Equal(t, model.StyleNone, doc.Entries[0].Doc.Style)
	})

	t.Run("literal shapes", func(t *testing.T) {
		t.Parallel()
		src := `A = B = 3
NAME: str = "docscope"
NEG = -1.5
ITEMS = [1, 2, (3, 4)]
MAP = {'a': 1, "b": [True, None]}
EMPTY = ()
SINGLE = (1,)
TAGS = {"x", "y"}
GREETING = f"hi {NAME}"
ANNOTATED: int
obj.attr = 1
_HIDDEN = 1
x, y = 1, 2
TOTAL = MAX + 1
`
		doc := mustParse(t, x, "consts.py", src)
		got := map[string]string{}
		for _, e := range doc.Entries {
			got[e.Name] = e.Value
		}
		assert.Equal(t, map[string]string{
			"A":      "3",
			"B":      "3",
			"NAME":   `"docscope"`,
			"NEG":    "-1.5",
			"ITEMS":  "[1, 2, (3, 4)]",
			"MAP":    `{'a': 1, "b": [True, None]}`,
			"EMPTY":  "()",
			"SINGLE": "(1,)",
			"TAGS":   `{"x", "y"}`,
		}, got)
		assert.Equal(t, []string{"A", "B", "NAME", "NEG", "ITEMS", "MAP", "EMPTY", "SINGLE", "TAGS"}, names(doc.Entries))
	})

	t.Run("function locals are not constants", func(t *testing.T) {
		t.Parallel()
		doc := mustParse(t, x, "f.py", "def f():\n    LIMIT = 3\n    return LIMIT\n")
		require.Len(t, doc.Entries, 1)
		assert.Empty(t, doc.Entries[0].Children)
	})
}

func TestParseSyntaxError(t *testing.T) {
	t.Parallel()
	x := newExtractor(t, Options{})

	results := []model.ParseResult{
		x.Parse("broken.py", []byte("def broken(:\n    pass\n")),
		x.Parse("fine.py", []byte("def fine():\n    pass\n")),
	}

	bad := results[0]
	require.NotNil(t, bad.Err)
	assert.Nil(t, bad.Doc)
	assert.False(t, bad.OK())
	assert.Equal(t, model.SyntaxError, bad.Err.Kind)
	assert.Contains(t, bad.Err.Message, "syntax error at line 1")
	assert.Equal(t, 1, bad.Err.Line)

	data, err := json.Marshal(bad)
	require.NoError(t, err)
	assert.JSONEq(t, `{"_error": "`+bad.Err.Message+`"}`, string(data))

	good := results[1]
	require.True(t, good.OK())
	assert.Equal(t, []string{"fine"}, names(good.Doc.Entries))
}

func TestParseStructuralSyntaxErrors(t *testing.T) {
	t.Parallel()
	x := newExtractor(t, Options{})

	tests := []struct {
		name   string
		src    string
		line   int
		reason string
	}{
		{"missing indented block", "def f():\npass\n", 2, "expected an indented block"},
		{"partial dedent", "def f():\n    return 1\n  y = 2\n", 3, "unindent does not match"},
		{"nested partial dedent", "class A:\n    def f(self):\n        pass\n      x = 1\n", 4, "unindent does not match"},
		{"unexpected indent", "x = 1\n    y = 2\n", 2, ""},
		{"module-level return", "return 5\n", 1, "'return' outside function"},
		{"return in class body", "def f():\n    class A:\n        return 1\n", 3, "'return' outside function"},
		{"break outside loop", "if True:\n    break\n", 2, "'break' outside loop"},
		{"continue in loop else", "for i in x:\n    pass\nelse:\n    continue\n", 4, "'continue' not properly in loop"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := x.Parse("bad.py", []byte(tt.src))
			require.NotNil(t, res.Err, "expected a syntax error")
			assert.Nil(t, res.Doc)
			assert.Equal(t, model.SyntaxError, res.Err.Kind)
			assert.Equal(t, tt.line, res.Err.Line)
			if tt.reason != "" {
				assert.Contains(t, res.Err.Message, tt.reason)
			}
		})
	}
}

func TestParseStructurallyValid(t *testing.T) {
	t.Parallel()
	x := newExtractor(t, Options{})

	srcs := map[string]string{
		"inline suite":       "def f(): return 1\nclass A: pass\n",
		"semicolons":         "x = 1; y = 2\n",
		"loop control":       "for i in x:\n    if i:\n        break\n    continue\nwhile True:\n    break\n",
		"outer loop in else": "while a:\n    for i in x:\n        pass\n    else:\n        break\n",
		"return in method":   "class A:\n    def f(self):\n        return 1\n",
		"continuation":       "X = (1,\n  2)\nY = 3\n",
		"decorated":          "@dec\ndef f():\n    pass\n",
	}
	for name, src := range srcs {
		res := x.Parse("ok.py", []byte(src))
		assert.True(t, res.OK(), "%s: %v", name, res.Err)
	}
}

func TestParseEncoding(t *testing.T) {
	t.Parallel()
	x := newExtractor(t, Options{})

	t.Run("invalid utf-8", func(t *testing.T) {
		t.Parallel()
		res := x.Parse("latin1.py", []byte("X = 1\nNAME = \"caf\xe9\"\n"))
		require.NotNil(t, res.Err)
		assert.Equal(t, model.EncodingError, res.Err.Kind)
		assert.Equal(t, 2, res.Err.Line)
	})

	t.Run("bom is stripped", func(t *testing.T) {
		t.Parallel()
		doc := mustParse(t, x, "bom.py", "\xef\xbb\xbfX = 1\n")
		assert.Equal(t, []string{"X"}, names(doc.Entries))
	})
}

func TestParseFile(t *testing.T) {
	t.Parallel()
	x := newExtractor(t, Options{KeepSource: true})
	dir := t.TempDir()

	src := "\"\"\"Package docs.\"\"\"\n\nVERSION = \"1.0\"\n"
	abs := filepath.Join(dir, "__init__.py")
	require.NoError(t, os.WriteFile(abs, []byte(src), 0o644))

	res := x.ParseFile(abs, "pkg/sub/__init__.py")
	require.True(t, res.OK())
	assert.Equal(t, "pkg/sub/__init__.py", res.Path)
	assert.Equal(t, "pkg.sub", res.Doc.Module)
	assert.Equal(t, "Package docs.", res.Doc.Docstring)
	assert.Equal(t, src, res.Doc.Source)

	missing := x.ParseFile(filepath.Join(dir, "missing.py"), "missing.py")
	require.NotNil(t, missing.Err)
	assert.Equal(t, model.ReadError, missing.Err.Kind)
}

func TestParseNestedQualifiedNames(t *testing.T) {
	t.Parallel()
	x := newExtractor(t, Options{})

	src := `class Outer:
    class Inner:
        def method(self):
            def helper():
                pass
            return helper
`
	doc := mustParse(t, x, "nested.py", src)
	var quals []string
	model.Walk(doc.Entries, func(e *model.Entry, _ *model.Entry) {
		quals = append(quals, e.QualName)
	})
	assert.Equal(t, []string{"Outer", "Outer.Inner", "Outer.Inner.method", "Outer.Inner.method.helper"}, quals)
	assert.NotNil(t, doc.Lookup("Outer.Inner.method.helper"))
}

func TestParseParamKinds(t *testing.T) {
	t.Parallel()
	x := newExtractor(t, Options{})

	src := `def f(a, /, b: int = 2, *args: str, c, d=3, **kw) -> None:
    pass

def g(x, *, y: "Y" = None):
    pass
`
	doc := mustParse(t, x, "params.py", src)
	require.Len(t, doc.Entries, 2)

	f := doc.Entries[0]
	assert.Equal(t, []model.Param{
		{Name: "a", Kind: model.Positional, PositionalOnly: true},
		{Name: "b", Kind: model.Positional, Type: "int", Default: "2", HasDefault: true},
		{Name: "args", Kind: model.VarPositional, Type: "str"},
		{Name: "c", Kind: model.KeywordOnly},
		{Name: "d", Kind: model.KeywordOnly, Default: "3", HasDefault: true},
		{Name: "kw", Kind: model.VarKeyword},
	}, f.Params)
	assert.Equal(t, "f(a, /, b: int = 2, *args: str, c, d=3, **kw) -> None", f.Signature)

	g := doc.Entries[1]
	assert.Equal(t, []model.Param{
		{Name: "x", Kind: model.Positional},
		{Name: "y", Kind: model.KeywordOnly, Type: `"Y"`, Default: "None", HasDefault: true},
	}, g.Params)
	assert.Equal(t, `g(x, *, y: "Y" = None)`, g.Signature)
}

func TestParseComments(t *testing.T) {
	t.Parallel()
	x := newExtractor(t, Options{})

	src := `# Module header comment.

import os


def first():
    """First."""
    x = 1  # trailing note
    return x


# Block one
# block two
def second():
    pass

# dangling at end
`
	doc := mustParse(t, x, "comments.py", src)
	require.Len(t, doc.Entries, 2)

	first, second := doc.Entries[0], doc.Entries[1]
	require.Len(t, first.Comments, 1)
	assert.Equal(t, "trailing note", first.Comments[0].Text)
	assert.Equal(t, 8, first.Comments[0].StartLine)

	require.Len(t, second.Comments, 1)
	assert.Equal(t, "Block one\nblock two", second.Comments[0].Text)
	assert.Equal(t, 12, second.Comments[0].StartLine)
	assert.Equal(t, 13, second.Comments[0].EndLine)
	assert.Equal(t, 12, second.StartLine)
	assert.Equal(t, 15, second.EndLine)

	require.Len(t, doc.Comments, 2)
	assert.Equal(t, "Module header comment.", doc.Comments[0].Text)
	assert.True(t, doc.Comments[0].Floating())
	assert.Equal(t, "dangling at end", doc.Comments[1].Text)

	// Every attached comment lies within its target's span.
	model.Walk(doc.Entries, func(e *model.Entry, _ *model.Entry) {
		for _, c := range e.Comments {
			assert.True(t, e.Contains(c.StartLine, c.EndLine), "%s does not contain %q", e.QualName, c.Text)
		}
	})
}

func TestParseDecoratorsAndFlags(t *testing.T) {
	t.Parallel()
	x := newExtractor(t, Options{})

	src := `class Shape:
    @property
    def area(self) -> float:
        return 0.0

    @staticmethod
    def unit():
        pass

    @classmethod
    def make(cls):
        return cls()

    async def load(self):
        pass


@dataclass(frozen=True)
class Square(Shape, metaclass=Meta):
    pass
`
	doc := mustParse(t, x, "shapes.py", src)
	require.Len(t, doc.Entries, 2)

	shape := doc.Entries[0]
	require.Equal(t, []string{"area", "unit", "make", "load"}, names(shape.Children))
	assert.True(t, shape.Children[0].Property)
	assert.Equal(t, []string{"property"}, shape.Children[0].Decorators)
	assert.Equal(t, 2, shape.Children[0].StartLine)
	assert.Equal(t, 3, shape.Children[0].Line)
	assert.True(t, shape.Children[1].StaticMethod)
	assert.True(t, shape.Children[2].ClassMethod)
	assert.True(t, shape.Children[3].Async)
	assert.Equal(t, "async load(self)", shape.Children[3].Signature)

	square := doc.Entries[1]
	assert.Equal(t, []string{"Shape", "metaclass=Meta"}, square.Bases)
	assert.Equal(t, []string{"dataclass(frozen=True)"}, square.Decorators)
	assert.Equal(t, "Square(Shape, metaclass=Meta)", square.Signature)
}

func TestParsePrivateNames(t *testing.T) {
	t.Parallel()

	src := `def _helper():
    pass

class _Hidden:
    pass

class Public:
    def __init__(self):
        pass

    def _internal(self):
        pass

_CACHE = {}
`
	t.Run("default", func(t *testing.T) {
		t.Parallel()
		doc := mustParse(t, newExtractor(t, Options{}), "priv.py", src)
		require.Equal(t, []string{"Public"}, names(doc.Entries))
		assert.Equal(t, []string{"__init__"}, names(doc.Entries[0].Children))
	})

	t.Run("include private", func(t *testing.T) {
		t.Parallel()
		doc := mustParse(t, newExtractor(t, Options{IncludePrivate: true}), "priv.py", src)
		require.Equal(t, []string{"_helper", "_Hidden", "Public", "_CACHE"}, names(doc.Entries))
		assert.Equal(t, []string{"__init__", "_internal"}, names(doc.Entries[2].Children))
	})
}

func TestParseDuplicatesAndConditionals(t *testing.T) {
	t.Parallel()
	x := newExtractor(t, Options{})

	src := `def dup():
    """one"""

def dup():
    """two"""

if TYPE_CHECKING:
    def hidden():
        pass
`
	doc := mustParse(t, x, "dup.py", src)
	require.Len(t, doc.Entries, 2)
	assert.Equal(t, "one", doc.Entries[0].Docstring)
	assert.Equal(t, "two", doc.Entries[1].Docstring)
	assert.Equal(t, "dup", doc.Entries[1].QualName)
}

func TestParseDocstringStyle(t *testing.T) {
	t.Parallel()

	src := `def add(x: int, y: int = 1) -> int:
    """Add two numbers.

    Args:
        x: First.
        y: Second.
    """
    return x + y
`
	t.Run("auto", func(t *testing.T) {
		t.Parallel()
		doc := mustParse(t, newExtractor(t, Options{}), "add.py", src)
		fn := doc.Entries[0]
		assert.Equal(t, model.StyleGoogle, fn.Doc.Style)
		assert.Equal(t, "Add two numbers.", fn.Doc.Summary)
		_, ok := fn.Doc.Section("Parameters")
		assert.True(t, ok)
	})

	t.Run("plain hint", func(t *testing.T) {
		t.Parallel()
		doc := mustParse(t, newExtractor(t, Options{Style: model.StylePlain}), "add.py", src)
		assert.Equal(t, model.StylePlain, doc.Entries[0].Doc.Style)
	})

	t.Run("no docstring", func(t *testing.T) {
		t.Parallel()
		doc := mustParse(t, newExtractor(t, Options{}), "bare.py", "def bare():\n    return 1\n")
		assert.Equal(t, model.StyleNone, doc.Entries[0].Doc.Style)
		assert.Equal(t, model.StyleNone, doc.Doc.Style)
	})
}

func TestParseImports(t *testing.T) {
	t.Parallel()
	x := newExtractor(t, Options{})

	src := `import os
import a.b as ab, c
from . import sibling
from ..pkg.mod import x, y as z
from m import *
try:
    import fast
except ImportError:
    fast = None
`
	doc := mustParse(t, x, "imports.py", src)
	assert.ElementsMatch(t, []model.Import{
		{Module: "os", Line: 1},
		{Module: "a.b", Line: 2},
		{Module: "c", Line: 2},
		{Level: 1, Names: []string{"sibling"}, Line: 3},
		{Module: "pkg.mod", Level: 2, Names: []string{"x", "y"}, Line: 4},
		{Module: "m", Names: []string{"*"}, Line: 5},
		{Module: "fast", Line: 7},
	}, doc.Imports)

	again, err := x.Imports([]byte(src))
	require.NoError(t, err)
	assert.ElementsMatch(t, doc.Imports, again)
}

func TestModuleName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{"mod.py", "mod"},
		{"pkg/sub/mod.py", "pkg.sub.mod"},
		{"pkg/__init__.py", "pkg"},
		{"./pkg/a.py", "pkg.a"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ModuleName(tt.path))
		})
	}
}

func TestIsPrivate(t *testing.T) {
	t.Parallel()

	assert.True(t, IsPrivate("_x"))
	assert.True(t, IsPrivate("__mangled"))
	assert.False(t, IsPrivate("__init__"))
	assert.False(t, IsPrivate("public"))
	assert.True(t, IsPrivate("__"))
}
