// Package model defines core data structures for docscope.
package model

import (
	"strings"
)

// EntryKind indicates the syntactic kind of a documented declaration.
type EntryKind string

const (
	Function EntryKind = "function"
	Class    EntryKind = "class"
	Constant EntryKind = "constant"
)

// ParamKind classifies how a parameter binds arguments.
type ParamKind string

const (
	Positional    ParamKind = "positional"
	KeywordOnly   ParamKind = "keyword_only"
	VarPositional ParamKind = "var_positional"
	VarKeyword    ParamKind = "var_keyword"
)

// Style names a docstring convention.
type Style string

const (
	StyleAuto   Style = "auto"
	StyleGoogle Style = "google"
	StyleNumpy  Style = "numpy"
	StyleRest   Style = "rest"
	StylePlain  Style = "plain"
	StyleNone   Style = "none"
)

// ParseStyle converts s to a Style, reporting whether it is a valid hint.
func ParseStyle(s string) (Style, bool) {
	switch st := Style(strings.ToLower(strings.TrimSpace(s))); st {
	case StyleAuto, StyleGoogle, StyleNumpy, StyleRest, StylePlain:
		return st, true
	case "":
		return StyleAuto, true
	}
	return "", false
}

// SectionItem is one {term, type, description} triple inside a docstring section.
type SectionItem struct {
	Term        string `json:"term,omitempty"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// Section is a named, ordered group of items (e.g. "Parameters").
type Section struct {
	Name  string        `json:"name"`
	Items []SectionItem `json:"items"`
}

// NormalizedDocstring is the structured form of a raw docstring.
type NormalizedDocstring struct {
	Style       Style     `json:"style"`
	Summary     string    `json:"summary,omitempty"`
	Description string    `json:"description,omitempty"`
	Sections    []Section `json:"sections,omitempty"`
	Confidence  float64   `json:"confidence"`
}

// Section returns the named section, if present.
func (d NormalizedDocstring) Section(name string) (Section, bool) {
	for _, s := range d.Sections {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return Section{}, false
}

// Param is a single function parameter. Type and Default hold literal source
// text; they are never evaluated.
type Param struct {
	Name           string    `json:"name"`
	Kind           ParamKind `json:"kind"`
	Type           string    `json:"type,omitempty"`
	Default        string    `json:"default,omitempty"`
	HasDefault     bool      `json:"has_default,omitempty"`
	PositionalOnly bool      `json:"positional_only,omitempty"`
}

// String renders the parameter the way it appears in a def line.
func (p Param) String() string {
	var b strings.Builder
	switch p.Kind {
	case VarPositional:
		b.WriteString("*")
	case VarKeyword:
		b.WriteString("**")
	}
	b.WriteString(p.Name)
	if p.Type != "" {
		b.WriteString(": ")
		b.WriteString(p.Type)
	}
	if p.HasDefault {
		if p.Type != "" {
			b.WriteString(" = ")
		} else {
			b.WriteString("=")
		}
		b.WriteString(p.Default)
	}
	return b.String()
}

// Comment is a source comment with its 1-based line span. Target is the
// qualified name of the entry it is attached to, or "" when floating.
type Comment struct {
	Text      string `json:"text"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Target    string `json:"target,omitempty"`
}

// Floating reports whether the comment is module-level.
func (c Comment) Floating() bool {
	return c.Target == ""
}

// Entry is one documented declaration. Kind selects which of the
// variant-specific fields are meaningful.
type Entry struct {
	Kind      EntryKind           `json:"kind"`
	Name      string              `json:"name"`
	QualName  string              `json:"qualname"`
	Signature string              `json:"signature"`
	Line      int                 `json:"line"`
	StartLine int                 `json:"start_line"`
	EndLine   int                 `json:"end_line"`
	Docstring string              `json:"docstring,omitempty"`
	Doc       NormalizedDocstring `json:"doc"`
	Comments  []Comment           `json:"comments"`
	Children  []Entry             `json:"children,omitempty"`

	// Function
	Params       []Param  `json:"params,omitempty"`
	Returns      string   `json:"returns,omitempty"`
	Async        bool     `json:"async,omitempty"`
	Decorators   []string `json:"decorators,omitempty"`
	Property     bool     `json:"property,omitempty"`
	StaticMethod bool     `json:"staticmethod,omitempty"`
	ClassMethod  bool     `json:"classmethod,omitempty"`

	// Class
	Bases []string `json:"bases,omitempty"`

	// Constant
	Value string `json:"value,omitempty"`
}

// Contains reports whether the entry's line span covers [start, end].
func (e *Entry) Contains(start, end int) bool {
	return e.StartLine <= start && end <= e.EndLine
}

// RenderSignature builds the one-line signature for the entry.
func (e *Entry) RenderSignature() string {
	switch e.Kind {
	case Function:
		var parts []string
		sawStar := false
		for i, p := range e.Params {
			if p.Kind == VarPositional {
				sawStar = true
			}
			if p.Kind == KeywordOnly && !sawStar {
				parts = append(parts, "*")
				sawStar = true
			}
			parts = append(parts, p.String())
			if p.PositionalOnly && (i+1 == len(e.Params) || !e.Params[i+1].PositionalOnly) {
				parts = append(parts, "/")
			}
		}
		sig := e.Name + "(" + strings.Join(parts, ", ") + ")"
		if e.Async {
			sig = "async " + sig
		}
		if e.Returns != "" {
			sig += " -> " + e.Returns
		}
		return sig
	case Class:
		if len(e.Bases) > 0 {
			return e.Name + "(" + strings.Join(e.Bases, ", ") + ")"
		}
		return e.Name
	case Constant:
		return e.Name + " = " + e.Value
	}
	return e.Name
}

// Import is a single import reference found in a file. Level is the number of
// leading dots of a relative import.
type Import struct {
	Module string   `json:"module,omitempty"`
	Names  []string `json:"names,omitempty"`
	Level  int      `json:"level,omitempty"`
	Line   int      `json:"line"`
}

// References expands the import into dotted reference strings, e.g.
// "from a import b, c" yields "a.b" and "a.c"; "from ..x import y" yields "..x.y".
func (im Import) References() []string {
	prefix := strings.Repeat(".", im.Level)
	base := prefix + im.Module
	if len(im.Names) == 0 {
		return []string{base}
	}
	refs := make([]string, 0, len(im.Names))
	for _, n := range im.Names {
		switch {
		case n == "*":
			refs = append(refs, base)
		case im.Module == "":
			refs = append(refs, prefix+n)
		default:
			refs = append(refs, base+"."+n)
		}
	}
	return refs
}

// DocModel is the documentation model for one source file.
type DocModel struct {
	Path      string              `json:"path"`
	Module    string              `json:"module"`
	Docstring string              `json:"docstring,omitempty"`
	Doc       NormalizedDocstring `json:"doc"`
	Entries   []Entry             `json:"entries"`
	Comments  []Comment           `json:"comments"`
	Imports   []Import            `json:"imports,omitempty"`
	Source    string              `json:"source,omitempty"`
}

// Walk calls fn for every entry in depth-first declaration order. The parent
// is nil for top-level entries.
func Walk(entries []Entry, fn func(e *Entry, parent *Entry)) {
	var visit func(list []Entry, parent *Entry)
	visit = func(list []Entry, parent *Entry) {
		for i := range list {
			fn(&list[i], parent)
			visit(list[i].Children, &list[i])
		}
	}
	visit(entries, nil)
}

// Lookup returns the first entry with the given qualified name.
func (m *DocModel) Lookup(qualName string) *Entry {
	var found *Entry
	Walk(m.Entries, func(e *Entry, _ *Entry) {
		if found == nil && e.QualName == qualName {
			found = e
		}
	})
	return found
}

// Hit is a single search result.
type Hit struct {
	Title    string `json:"title"`
	Path     string `json:"path"`
	Snippet  string `json:"snippet"`
	QualName string `json:"qualname"`
	Kind     string `json:"kind"`
	Field    string `json:"field"`
	Distance int    `json:"distance"`
	Order    int    `json:"-"`
}
