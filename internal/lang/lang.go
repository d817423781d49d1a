// Package lang wraps the tree-sitter grammar used for extraction together
// with its embedded import query and small syntax-tree helpers.
package lang

import (
	"embed"
	"fmt"
	"regexp"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

//go:embed queries/*.scm
var queryFS embed.FS

// Language is a grammar plus the file naming rules of its source files.
type Language struct {
	Name string

	// Suffix marks extractable source files.
	Suffix string

	// ExtensionModules lists suffixes of compiled modules. They can be
	// resolved as import targets but never extracted.
	ExtensionModules []string

	grammar *sitter.Language

	importsOnce sync.Once
	imports     *sitter.Query
	importsErr  error
}

// bySuffix indexes registered languages by lower-cased file suffix.
var bySuffix = map[string]*Language{}

func register(l *Language) *Language {
	bySuffix[l.Suffix] = l
	return l
}

// ForExtension returns the language whose sources end in ext, or nil.
func ForExtension(ext string) *Language {
	return bySuffix[strings.ToLower(ext)]
}

// Grammar returns the tree-sitter grammar.
func (l *Language) Grammar() *sitter.Language {
	return l.grammar
}

// NewParser returns a parser for the language. Parsers are not safe for
// concurrent use.
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.grammar)
	return p
}

// GetImportQuery compiles the embedded import query on first use. The query
// is immutable and may be shared between goroutines.
func (l *Language) GetImportQuery() (*sitter.Query, error) {
	l.importsOnce.Do(func() {
		name := fmt.Sprintf("queries/%s.scm", l.Name)
		data, err := queryFS.ReadFile(name)
		if err != nil {
			l.importsErr = fmt.Errorf("reading %s: %w", name, err)
			return
		}
		l.imports, l.importsErr = sitter.NewQuery(data, l.grammar)
		if l.importsErr != nil {
			l.importsErr = fmt.Errorf("compiling %s: %w", name, l.importsErr)
		}
	})
	return l.imports, l.importsErr
}

// NodeText returns the source covered by node.
func NodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

var spaceRun = regexp.MustCompile(`\s+`)

// CollapseWhitespace folds every whitespace run into one space and trims the ends.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// StartLine returns the 1-based line a node starts on.
func StartLine(node *sitter.Node) int {
	return int(node.StartPoint().Row) + 1
}

// EndLine returns the 1-based last line a node covers. A node that ends at
// column 0 stops on the previous line.
func EndLine(node *sitter.Node) int {
	end := node.EndPoint()
	if end.Column == 0 && end.Row > node.StartPoint().Row {
		return int(end.Row)
	}
	return int(end.Row) + 1
}
