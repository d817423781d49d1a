// Package parse extracts documentation models from Python source files using
// tree-sitter. Nothing in the target file is ever evaluated.
package parse

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/docscope/internal/docstring"
	"github.com/phobologic/docscope/internal/lang"
	"github.com/phobologic/docscope/internal/model"
)

// Placeholder stands in for annotation or default text that cannot be rendered.
const Placeholder = "<?>"

var bom = []byte{0xEF, 0xBB, 0xBF}

// Options controls extraction.
type Options struct {
	Style          model.Style // docstring style hint
	IncludePrivate bool
	KeepSource     bool
}

// Extractor turns Python source into DocModels. It is safe for concurrent
// use; each call borrows its own tree-sitter parser.
type Extractor struct {
	opts    Options
	query   *sitter.Query
	parsers sync.Pool
}

// New creates an Extractor.
func New(opts Options) (*Extractor, error) {
	if opts.Style == "" {
		opts.Style = model.StyleAuto
	}
	q, err := lang.Python.GetImportQuery()
	if err != nil {
		return nil, fmt.Errorf("loading import query: %w", err)
	}
	x := &Extractor{opts: opts, query: q}
	x.parsers.New = func() any { return lang.Python.NewParser() }
	return x, nil
}

// Digest identifies the settings that shape extracted models. Models built
// under different digests are not interchangeable.
func (o Options) Digest() string {
	style := o.Style
	if style == "" {
		style = model.StyleAuto
	}
	return fmt.Sprintf("style=%s private=%t source=%t", style, o.IncludePrivate, o.KeepSource)
}

// Options returns the extractor's options.
func (x *Extractor) Options() Options {
	return x.opts
}

// ParseFile reads abs and parses it under the stable key rel. Read failures
// become a read ErrorRecord.
func (x *Extractor) ParseFile(abs, rel string) model.ParseResult {
	src, err := os.ReadFile(abs)
	if err != nil {
		r := model.NewError(rel, model.ReadError, "reading %s: %v", rel, err)
		r.Err.Cause = err.Error()
		return r
	}
	return x.Parse(rel, src)
}

// Parse extracts the documentation model of src. Syntax and encoding
// problems are returned as an ErrorRecord on the result, never as a panic or
// a Go error.
func (x *Extractor) Parse(path string, src []byte) model.ParseResult {
	src = bytes.TrimPrefix(src, bom)
	if !utf8.Valid(src) {
		line := invalidUTF8Line(src)
		r := model.NewError(path, model.EncodingError, "invalid UTF-8 at line %d", line)
		r.Err.Line = line
		return r
	}

	tree, err := x.parse(src)
	if err != nil {
		r := model.NewError(path, model.SyntaxError, "parse failed: %v", err)
		r.Err.Cause = err.Error()
		return r
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		bad := lang.FirstError(root)
		line, col := int(bad.StartPoint().Row)+1, int(bad.StartPoint().Column)+1
		r := model.NewError(path, model.SyntaxError, "syntax error at line %d, column %d", line, col)
		r.Err.Line, r.Err.Column = line, col
		return r
	}

	w := &walker{src: src, opts: x.opts}
	if issue := w.checkStructure(root); issue != nil {
		r := model.NewError(path, model.SyntaxError, "syntax error at line %d, column %d: %s", issue.line, issue.col, issue.reason)
		r.Err.Line, r.Err.Column = issue.line, issue.col
		return r
	}

	doc := &model.DocModel{
		Path:    path,
		Module:  ModuleName(path),
		Entries: w.block(root, "", true),
		Imports: x.imports(root, src),
	}
	doc.Docstring = w.docstring(root)
	doc.Doc = docstring.Normalize(doc.Docstring, x.opts.Style)
	doc.Comments = w.attachComments(doc.Entries, w.comments(root))
	if x.opts.KeepSource {
		doc.Source = string(src)
	}
	return model.ParseResult{Path: path, Doc: doc}
}

// Imports returns the import references in src. Files with syntax errors
// still yield every well-formed import statement.
func (x *Extractor) Imports(src []byte) ([]model.Import, error) {
	src = bytes.TrimPrefix(src, bom)
	tree, err := x.parse(src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	return x.imports(tree.RootNode(), src), nil
}

func (x *Extractor) parse(src []byte) (*sitter.Tree, error) {
	p := x.parsers.Get().(*sitter.Parser)
	defer x.parsers.Put(p)
	return p.ParseCtx(context.Background(), nil, src)
}

// ModuleName derives the dotted module name from a slash-separated path.
// A package's __init__.py names the package itself.
func ModuleName(path string) string {
	path = strings.TrimSuffix(strings.TrimPrefix(path, "./"), ".py")
	parts := strings.Split(path, "/")
	if len(parts) > 0 && parts[len(parts)-1] == "__init__" {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, ".")
}

func invalidUTF8Line(src []byte) int {
	line := 1
	for len(src) > 0 {
		r, size := utf8.DecodeRune(src)
		if r == utf8.RuneError && size <= 1 {
			return line
		}
		if r == '\n' {
			line++
		}
		src = src[size:]
	}
	return line
}

// IsPrivate reports whether name is excluded by the private-name rule.
// Dunder names are public.
func IsPrivate(name string) bool {
	if !strings.HasPrefix(name, "_") {
		return false
	}
	return !(len(name) > 4 && strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__"))
}
