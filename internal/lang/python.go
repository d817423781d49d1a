package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Python is the only extracted language.
var Python = register(&Language{
	Name:             "python",
	Suffix:           ".py",
	ExtensionModules: []string{".so", ".pyd", ".dll"},
	grammar:          python.GetLanguage(),
})

// PythonUnwrapDecorated returns the function or class definition inside a
// decorated_definition together with its decorator nodes. Other nodes are
// returned unchanged.
func PythonUnwrapDecorated(node *sitter.Node) (*sitter.Node, []*sitter.Node) {
	if node.Type() != "decorated_definition" {
		return node, nil
	}
	var decorators []*sitter.Node
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() == "decorator" {
			decorators = append(decorators, child)
		}
	}
	def := node.ChildByFieldName("definition")
	if def == nil {
		return node, decorators
	}
	return def, decorators
}

// PythonDefName returns the identifier of a function or class definition.
func PythonDefName(node *sitter.Node, source []byte) string {
	if name := node.ChildByFieldName("name"); name != nil {
		return NodeText(name, source)
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "identifier" {
			return NodeText(child, source)
		}
	}
	return ""
}

// PythonIsAsync reports whether a function_definition carries the async keyword.
func PythonIsAsync(node *sitter.Node) bool {
	for i := 0; i < int(node.ChildCount()); i++ {
		switch node.Child(i).Type() {
		case "async":
			return true
		case "def":
			return false
		}
	}
	return false
}

// FirstError returns the first ERROR or MISSING node in document order, or nil.
func FirstError(node *sitter.Node) *sitter.Node {
	if node == nil || !node.HasError() {
		return nil
	}
	if node.Type() == "ERROR" || node.IsMissing() {
		return node
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "ERROR" || child.IsMissing() {
			return child
		}
		if found := FirstError(child); found != nil {
			return found
		}
	}
	return node
}
