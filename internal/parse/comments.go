package parse

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/docscope/internal/lang"
	"github.com/phobologic/docscope/internal/model"
)

// commentBlock is a run of comments before attachment. Column and ownLine
// describe the first comment of the run.
type commentBlock struct {
	text      []string
	startLine int
	endLine   int
	column    int
	ownLine   bool
}

// comments collects every comment in the tree in source order, merging
// consecutive own-line comments that share a column.
func (w *walker) comments(root *sitter.Node) []commentBlock {
	var blocks []commentBlock
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if n.Type() == "comment" {
			line := lang.StartLine(n)
			col := int(n.StartPoint().Column)
			own := w.ownLine(n)
			text := strings.TrimSpace(strings.TrimPrefix(w.text(n), "#"))
			if k := len(blocks) - 1; k >= 0 && own && blocks[k].ownLine &&
				blocks[k].endLine+1 == line && blocks[k].column == col {
				blocks[k].text = append(blocks[k].text, text)
				blocks[k].endLine = line
				return
			}
			blocks = append(blocks, commentBlock{
				text:      []string{text},
				startLine: line,
				endLine:   line,
				column:    col,
				ownLine:   own,
			})
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			visit(n.Child(i))
		}
	}
	visit(root)
	return blocks
}

// ownLine reports whether only whitespace precedes the comment on its line.
func (w *walker) ownLine(n *sitter.Node) bool {
	for i := int(n.StartByte()) - 1; i >= 0; i-- {
		switch w.src[i] {
		case '\n':
			return true
		case ' ', '\t', '\f':
			continue
		default:
			return false
		}
	}
	return true
}

// lineIndent returns the byte width of the leading whitespace of a 1-based line.
func (w *walker) lineIndent(line int) int {
	if w.lineStarts == nil {
		w.lineStarts = []int{0}
		for i, b := range w.src {
			if b == '\n' {
				w.lineStarts = append(w.lineStarts, i+1)
			}
		}
	}
	if line < 1 || line > len(w.lineStarts) {
		return -1
	}
	start, n := w.lineStarts[line-1], 0
	for start+n < len(w.src) && (w.src[start+n] == ' ' || w.src[start+n] == '\t') {
		n++
	}
	return n
}

// attachComments extends each declaration over the own-line comment block
// directly above it, then gives every comment to the innermost entry whose
// span contains it. Comments with no such entry are returned as floating.
func (w *walker) attachComments(entries []model.Entry, blocks []commentBlock) []model.Comment {
	starts := map[int][]*model.Entry{}
	model.Walk(entries, func(e *model.Entry, _ *model.Entry) {
		starts[e.StartLine] = append(starts[e.StartLine], e)
	})
	for _, b := range blocks {
		if !b.ownLine {
			continue
		}
		for _, e := range starts[b.endLine+1] {
			if w.lineIndent(e.StartLine) == b.column {
				e.StartLine = b.startLine
			}
		}
	}

	var floating []model.Comment
	for _, b := range blocks {
		c := model.Comment{
			Text:      strings.Join(b.text, "\n"),
			StartLine: b.startLine,
			EndLine:   b.endLine,
		}
		var target *model.Entry
		model.Walk(entries, func(e *model.Entry, _ *model.Entry) {
			if !e.Contains(c.StartLine, c.EndLine) {
				return
			}
			if target == nil || e.EndLine-e.StartLine <= target.EndLine-target.StartLine {
				target = e
			}
		})
		if target == nil {
			floating = append(floating, c)
			continue
		}
		c.Target = target.QualName
		target.Comments = append(target.Comments, c)
	}
	return floating
}
