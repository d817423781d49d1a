package parse

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/docscope/internal/lang"
)

// syntaxIssue is an error the grammar accepts but the language rejects.
type syntaxIssue struct {
	line, col int
	reason    string
}

// scope tracks which enclosing constructs a statement sits in.
type scope struct {
	inFunc bool
	inLoop bool
}

// checkStructure looks for the errors tree-sitter recovers from silently:
// empty suites, statements off their block's indentation, and return, break
// or continue outside the construct they need.
func (w *walker) checkStructure(root *sitter.Node) *syntaxIssue {
	return w.check(root, scope{})
}

func (w *walker) check(n *sitter.Node, s scope) *syntaxIssue {
	switch n.Type() {
	case "module":
		if issue := w.checkIndent(n, 0); issue != nil {
			return issue
		}
	case "block":
		if statementCount(n) == 0 {
			return &syntaxIssue{line: lang.StartLine(n) + 1, col: 1, reason: "expected an indented block"}
		}
		if issue := w.checkIndent(n, -1); issue != nil {
			return issue
		}
	case "function_definition":
		s = scope{inFunc: true}
	case "class_definition":
		s = scope{}
	case "return_statement":
		if !s.inFunc {
			return w.issueAt(n, "'return' outside function")
		}
	case "break_statement":
		if !s.inLoop {
			return w.issueAt(n, "'break' outside loop")
		}
	case "continue_statement":
		if !s.inLoop {
			return w.issueAt(n, "'continue' not properly in loop")
		}
	}

	loop := n.Type() == "for_statement" || n.Type() == "while_statement"
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		cs := s
		// A loop's else clause belongs to the enclosing loop, if any.
		if loop && child.Type() != "else_clause" {
			cs.inLoop = true
		}
		if issue := w.check(child, cs); issue != nil {
			return issue
		}
	}
	return nil
}

// checkIndent requires every statement that begins its line to start at
// the same column. ref < 0 takes the column of the first such statement.
func (w *walker) checkIndent(body *sitter.Node, ref int) *syntaxIssue {
	var prev *sitter.Node
	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmt := body.NamedChild(i)
		if stmt.Type() == "comment" {
			continue
		}
		col := int(stmt.StartPoint().Column)
		if w.lineIndent(lang.StartLine(stmt)) != col {
			prev = stmt
			continue
		}
		switch {
		case ref < 0:
			ref = col
		case col < ref, col > ref && prev != nil && w.lineIndent(lang.EndLine(prev)) > col:
			// A partial dedent out of the previous statement's suite.
			return w.issueAt(stmt, "unindent does not match any outer indentation level")
		case col > ref:
			return w.issueAt(stmt, "unexpected indent")
		}
		prev = stmt
	}
	return nil
}

func (w *walker) issueAt(n *sitter.Node, reason string) *syntaxIssue {
	return &syntaxIssue{line: lang.StartLine(n), col: int(n.StartPoint().Column) + 1, reason: reason}
}

func statementCount(block *sitter.Node) int {
	n := 0
	for i := 0; i < int(block.NamedChildCount()); i++ {
		if block.NamedChild(i).Type() != "comment" {
			n++
		}
	}
	return n
}
