package parse

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/docscope/internal/docstring"
	"github.com/phobologic/docscope/internal/lang"
	"github.com/phobologic/docscope/internal/model"
)

// nodeKind is the closed set of statement shapes the walker understands.
type nodeKind int

const (
	otherNode nodeKind = iota
	functionNode
	classNode
	constantNode
	commentNode
)

// classify maps a statement to its kind. Decorated definitions are unwrapped;
// the returned node is the inner definition and decorators holds the
// decorator nodes. Assignments are constants only at module level.
func classify(stmt *sitter.Node, moduleLevel bool) (kind nodeKind, def *sitter.Node, decorators []*sitter.Node) {
	def, decorators = lang.PythonUnwrapDecorated(stmt)
	switch def.Type() {
	case "function_definition":
		return functionNode, def, decorators
	case "class_definition":
		return classNode, def, decorators
	case "comment":
		return commentNode, def, nil
	case "expression_statement":
		if moduleLevel && def.NamedChildCount() == 1 && def.NamedChild(0).Type() == "assignment" {
			return constantNode, def.NamedChild(0), nil
		}
	}
	return otherNode, def, nil
}

type walker struct {
	src        []byte
	opts       Options
	lineStarts []int
}

func (w *walker) text(n *sitter.Node) string {
	return lang.NodeText(n, w.src)
}

// render returns collapsed source text for annotations and defaults.
func (w *walker) render(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	if n.HasError() {
		return Placeholder
	}
	return lang.CollapseWhitespace(w.text(n))
}

func (w *walker) skip(name string) bool {
	return name == "" || (!w.opts.IncludePrivate && IsPrivate(name))
}

// block extracts the entries declared directly in a module or block body.
func (w *walker) block(body *sitter.Node, prefix string, moduleLevel bool) []model.Entry {
	if body == nil {
		return nil
	}
	var entries []model.Entry
	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmt := body.NamedChild(i)
		kind, def, decorators := classify(stmt, moduleLevel)
		switch kind {
		case functionNode:
			if e, ok := w.function(stmt, def, decorators, prefix); ok {
				entries = append(entries, e)
			}
		case classNode:
			if e, ok := w.class(stmt, def, decorators, prefix); ok {
				entries = append(entries, e)
			}
		case constantNode:
			entries = append(entries, w.constants(stmt, def)...)
		case commentNode, otherNode:
			// Comments are collected over the whole tree; other
			// statements carry no declarations we extract.
		}
	}
	return entries
}

func qualify(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func (w *walker) entry(kind model.EntryKind, stmt, def *sitter.Node, name, prefix string) model.Entry {
	return model.Entry{
		Kind:      kind,
		Name:      name,
		QualName:  qualify(prefix, name),
		Line:      lang.StartLine(def),
		StartLine: lang.StartLine(stmt),
		EndLine:   lastLine(stmt),
		Doc:       model.NormalizedDocstring{Style: model.StyleNone},
	}
}

func (w *walker) function(stmt, def *sitter.Node, decorators []*sitter.Node, prefix string) (model.Entry, bool) {
	name := lang.PythonDefName(def, w.src)
	if w.skip(name) {
		return model.Entry{}, false
	}
	e := w.entry(model.Function, stmt, def, name, prefix)
	e.Async = lang.PythonIsAsync(def)
	e.Params = w.params(def.ChildByFieldName("parameters"))
	if rt := def.ChildByFieldName("return_type"); rt != nil {
		e.Returns = w.render(rt)
	}
	for _, d := range decorators {
		text := strings.TrimPrefix(lang.CollapseWhitespace(w.text(d)), "@")
		e.Decorators = append(e.Decorators, text)
		switch {
		case text == "staticmethod":
			e.StaticMethod = true
		case text == "classmethod":
			e.ClassMethod = true
		case text == "property", strings.HasSuffix(text, "cached_property"),
			strings.HasSuffix(text, ".setter"), strings.HasSuffix(text, ".getter"), strings.HasSuffix(text, ".deleter"):
			e.Property = true
		}
	}

	body := def.ChildByFieldName("body")
	e.Docstring = w.docstring(body)
	e.Doc = docstring.Normalize(e.Docstring, w.opts.Style)
	e.Children = w.block(body, e.QualName, false)
	e.Signature = e.RenderSignature()
	return e, true
}

func (w *walker) class(stmt, def *sitter.Node, decorators []*sitter.Node, prefix string) (model.Entry, bool) {
	name := lang.PythonDefName(def, w.src)
	if w.skip(name) {
		return model.Entry{}, false
	}
	e := w.entry(model.Class, stmt, def, name, prefix)
	for _, d := range decorators {
		e.Decorators = append(e.Decorators, strings.TrimPrefix(lang.CollapseWhitespace(w.text(d)), "@"))
	}
	if supers := def.ChildByFieldName("superclasses"); supers != nil {
		for i := 0; i < int(supers.NamedChildCount()); i++ {
			if base := supers.NamedChild(i); base.Type() != "comment" {
				e.Bases = append(e.Bases, w.render(base))
			}
		}
	}

	body := def.ChildByFieldName("body")
	e.Docstring = w.docstring(body)
	e.Doc = docstring.Normalize(e.Docstring, w.opts.Style)
	e.Children = w.block(body, e.QualName, false)
	e.Signature = e.RenderSignature()
	return e, true
}

// params walks a parameters node. Kinds follow the separators: everything
// after a bare * or *args is keyword-only, everything before / is
// positional-only.
func (w *walker) params(list *sitter.Node) []model.Param {
	if list == nil {
		return nil
	}
	var params []model.Param
	keywordOnly := false
	for i := 0; i < int(list.NamedChildCount()); i++ {
		n := list.NamedChild(i)
		p := model.Param{Kind: model.Positional}
		if keywordOnly {
			p.Kind = model.KeywordOnly
		}

		switch n.Type() {
		case "identifier":
			p.Name = w.text(n)
		case "typed_parameter":
			inner := n.NamedChild(0)
			p.Type = w.render(n.ChildByFieldName("type"))
			w.splat(&p, inner, &keywordOnly)
		case "default_parameter", "typed_default_parameter":
			p.Name = w.text(n.ChildByFieldName("name"))
			p.Type = w.render(n.ChildByFieldName("type"))
			p.Default = w.render(n.ChildByFieldName("value"))
			p.HasDefault = true
		case "list_splat_pattern", "dictionary_splat_pattern":
			w.splat(&p, n, &keywordOnly)
			if p.Name == "" {
				// bare "*" in grammars without keyword_separator
				keywordOnly = true
				continue
			}
		case "keyword_separator":
			keywordOnly = true
			continue
		case "positional_separator":
			for j := range params {
				params[j].PositionalOnly = true
			}
			continue
		case "tuple_pattern":
			p.Name = w.render(n)
		default:
			continue
		}
		params = append(params, p)
	}
	return params
}

// splat fills name and kind for identifier, *args and **kwargs nodes.
func (w *walker) splat(p *model.Param, n *sitter.Node, keywordOnly *bool) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "list_splat_pattern":
		p.Kind = model.VarPositional
		*keywordOnly = true
	case "dictionary_splat_pattern":
		p.Kind = model.VarKeyword
	default:
		p.Name = w.text(n)
		return
	}
	if n.NamedChildCount() > 0 {
		p.Name = w.text(n.NamedChild(0))
	}
}

// constants extracts module-level literal assignments, including annotated
// and chained forms. Any non-literal right-hand side drops the statement.
func (w *walker) constants(stmt, assign *sitter.Node) []model.Entry {
	var targets []*sitter.Node
	value := assign
	for value != nil && value.Type() == "assignment" {
		left := value.ChildByFieldName("left")
		if left == nil || left.Type() != "identifier" {
			return nil
		}
		targets = append(targets, left)
		value = value.ChildByFieldName("right")
	}
	if value == nil {
		return nil
	}
	text, ok := w.literal(value)
	if !ok {
		return nil
	}

	var entries []model.Entry
	for _, t := range targets {
		name := w.text(t)
		if w.skip(name) {
			continue
		}
		e := w.entry(model.Constant, stmt, stmt, name, "")
		e.Value = text
		e.Signature = e.RenderSignature()
		entries = append(entries, e)
	}
	return entries
}

// literal renders n if it is a literal or a container built only from
// literals.
func (w *walker) literal(n *sitter.Node) (string, bool) {
	switch n.Type() {
	case "integer", "float", "true", "false", "none", "ellipsis":
		return w.text(n), true
	case "string":
		if isInterpolated(n, w.src) {
			return "", false
		}
		return w.text(n), true
	case "concatenated_string":
		parts := make([]string, 0, n.NamedChildCount())
		for i := 0; i < int(n.NamedChildCount()); i++ {
			part := n.NamedChild(i)
			if part.Type() == "comment" {
				continue
			}
			if part.Type() != "string" || isInterpolated(part, w.src) {
				return "", false
			}
			parts = append(parts, w.text(part))
		}
		return strings.Join(parts, " "), true
	case "unary_operator":
		op := n.ChildByFieldName("operator")
		arg := n.ChildByFieldName("argument")
		if op == nil || arg == nil || (arg.Type() != "integer" && arg.Type() != "float") {
			return "", false
		}
		return w.text(op) + w.text(arg), true
	case "parenthesized_expression":
		elems := namedNonComment(n)
		if len(elems) != 1 {
			return "", false
		}
		return w.literal(elems[0])
	case "tuple", "expression_list":
		items, ok := w.literals(namedNonComment(n))
		if !ok {
			return "", false
		}
		if len(items) == 1 {
			return "(" + items[0] + ",)", true
		}
		return "(" + strings.Join(items, ", ") + ")", true
	case "list":
		items, ok := w.literals(namedNonComment(n))
		return "[" + strings.Join(items, ", ") + "]", ok
	case "set":
		items, ok := w.literals(namedNonComment(n))
		return "{" + strings.Join(items, ", ") + "}", ok
	case "dictionary":
		var items []string
		for _, pair := range namedNonComment(n) {
			if pair.Type() != "pair" {
				return "", false
			}
			k, okK := w.literal(pair.ChildByFieldName("key"))
			v, okV := w.literal(pair.ChildByFieldName("value"))
			if !okK || !okV {
				return "", false
			}
			items = append(items, k+": "+v)
		}
		return "{" + strings.Join(items, ", ") + "}", true
	}
	return "", false
}

func (w *walker) literals(nodes []*sitter.Node) ([]string, bool) {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		s, ok := w.literal(n)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func namedNonComment(n *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() != "comment" {
			out = append(out, c)
		}
	}
	return out
}

func isInterpolated(str *sitter.Node, src []byte) bool {
	for i := 0; i < int(str.NamedChildCount()); i++ {
		if str.NamedChild(i).Type() == "interpolation" {
			return true
		}
	}
	prefix, _, _ := splitQuote(lang.NodeText(str, src))
	return strings.ContainsAny(prefix, "fF")
}

// docstring returns the raw text of the leading string statement of body.
func (w *walker) docstring(body *sitter.Node) string {
	if body == nil {
		return ""
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmt := body.NamedChild(i)
		if stmt.Type() == "comment" {
			continue
		}
		if stmt.Type() != "expression_statement" || stmt.NamedChildCount() != 1 {
			return ""
		}
		str := stmt.NamedChild(0)
		switch str.Type() {
		case "string":
			if isInterpolated(str, w.src) {
				return ""
			}
			return stringBody(w.text(str))
		case "concatenated_string":
			var b strings.Builder
			for _, part := range namedNonComment(str) {
				b.WriteString(stringBody(w.text(part)))
			}
			return b.String()
		}
		return ""
	}
	return ""
}

// splitQuote separates a string literal into prefix, quote and the rest.
func splitQuote(lit string) (prefix, quote, rest string) {
	i := strings.IndexAny(lit, `'"`)
	if i < 0 {
		return "", "", lit
	}
	prefix, rest = lit[:i], lit[i:]
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(rest, q) {
			return prefix, q, rest[len(q):]
		}
	}
	return prefix, "", rest
}

// stringBody strips the prefix and quotes from a string literal.
func stringBody(lit string) string {
	_, quote, rest := splitQuote(lit)
	return strings.TrimSuffix(rest, quote)
}

// lastLine is the last line holding a non-comment token of n, so comments
// trailing a block are not absorbed into its span.
func lastLine(n *sitter.Node) int {
	for i := int(n.ChildCount()) - 1; i >= 0; i-- {
		child := n.Child(i)
		if child.Type() == "comment" {
			continue
		}
		if !child.IsNamed() || child.ChildCount() == 0 {
			return lang.EndLine(child)
		}
		return lastLine(child)
	}
	return lang.EndLine(n)
}
