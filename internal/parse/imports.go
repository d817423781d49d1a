package parse

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/docscope/internal/lang"
	"github.com/phobologic/docscope/internal/model"
)

// imports runs the import query over root. Statements containing syntax
// errors are skipped.
func (x *Extractor) imports(root *sitter.Node, src []byte) []model.Import {
	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(x.query, root)

	var out []model.Import
	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, c := range match.Captures {
			n := c.Node
			if n.HasError() {
				continue
			}
			switch x.query.CaptureNameForId(c.Index) {
			case "reference.import":
				out = append(out, importStatement(n, src)...)
			case "reference.import_from":
				out = append(out, importFrom(n, src))
			}
		}
	}
	return out
}

// importStatement expands "import a.b, c as d" into one Import per module.
func importStatement(n *sitter.Node, src []byte) []model.Import {
	var out []model.Import
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.FieldNameForChild(i) != "name" {
			continue
		}
		out = append(out, model.Import{
			Module: importedName(n.Child(i), src),
			Line:   lang.StartLine(n),
		})
	}
	return out
}

// importFrom handles "from .mod import a, b as c" and wildcard imports.
func importFrom(n *sitter.Node, src []byte) model.Import {
	im := model.Import{Line: lang.StartLine(n)}
	if mod := n.ChildByFieldName("module_name"); mod != nil {
		if mod.Type() == "relative_import" {
			for i := 0; i < int(mod.NamedChildCount()); i++ {
				part := mod.NamedChild(i)
				switch part.Type() {
				case "import_prefix":
					im.Level = strings.Count(lang.NodeText(part, src), ".")
				case "dotted_name":
					im.Module = lang.NodeText(part, src)
				}
			}
		} else {
			im.Module = lang.NodeText(mod, src)
		}
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.Type() == "wildcard_import" {
			im.Names = append(im.Names, "*")
			continue
		}
		if n.FieldNameForChild(i) == "name" {
			im.Names = append(im.Names, importedName(child, src))
		}
	}
	return im
}

func importedName(n *sitter.Node, src []byte) string {
	if n.Type() == "aliased_import" {
		if name := n.ChildByFieldName("name"); name != nil {
			return lang.NodeText(name, src)
		}
	}
	return lang.CollapseWhitespace(lang.NodeText(n, src))
}
