package docstring

import (
	"regexp"
	"strings"

	"github.com/phobologic/docscope/internal/model"
)

var (
	googleHeaderRe = regexp.MustCompile(`^(Args|Arguments|Parameters|Params|Keyword Args|Keyword Arguments|Other Parameters|Returns|Return|Yields|Yield|Raises|Raise|Attributes|Methods|Examples|Example|Notes|Note|Todo|Warnings|Warning|See Also|References)\s*:\s*$`)
	googleParamRe  = regexp.MustCompile(`^(\*{0,2}[A-Za-z_][A-Za-z0-9_.]*)\s*(?:\(([^)]*)\))?\s*:\s*(.*)$`)
	googleTypedRe  = regexp.MustCompile(`^([^:]+):\s*(.*)$`)
)

func detectGoogle(lines []string) float64 {
	headers, items := 0, 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if googleHeaderRe.MatchString(trimmed) {
			headers++
			continue
		}
		if indentOf(line) > 0 && googleParamRe.MatchString(trimmed) {
			items++
		}
	}
	if headers == 0 {
		return 0
	}
	score := 0.7 + 0.1*float64(headers-1)
	if items > 0 {
		score += 0.1
	}
	return min(1, score)
}

func parseGoogle(lines []string) model.NormalizedDocstring {
	var doc model.NormalizedDocstring

	type span struct {
		name        string
		indent      int
		start, stop int
	}
	var spans []span
	for i, line := range lines {
		if googleHeaderRe.MatchString(strings.TrimSpace(line)) {
			if len(spans) > 0 {
				spans[len(spans)-1].stop = i
			}
			spans = append(spans, span{name: canonical(strings.TrimSuffix(strings.TrimSpace(line), ":")), indent: indentOf(line), start: i + 1, stop: len(lines)})
		}
	}
	if len(spans) == 0 {
		doc.Summary, doc.Description = prose(lines)
		doc.Confidence = 0.5
		return doc
	}
	doc.Summary, doc.Description = prose(lines[:spans[0].start-1])

	var trailing []string
	matched, malformed := 0, 0
	for _, sp := range spans {
		body := lines[sp.start:sp.stop]
		// A section ends early at a non-blank line that is not indented past
		// its header; that text is trailing prose. A header on the first line
		// lost its indentation to cleaning, so its section runs to the next.
		for j, line := range body {
			if sp.start == 1 {
				break
			}
			if strings.TrimSpace(line) != "" && indentOf(line) <= sp.indent {
				trailing = append(trailing, body[j:]...)
				body = body[:j]
				break
			}
		}

		s := model.Section{Name: sp.name}
		if shapeOf(s.Name) == shapeFree {
			s.Items = freeItem(body)
		} else {
			var ok, bad int
			s.Items, ok, bad = googleItems(body, shapeOf(s.Name))
			matched += ok
			malformed += bad
		}
		if len(s.Items) > 0 {
			doc.Sections = append(doc.Sections, s)
		}
	}
	if extra := strings.TrimSpace(strings.Join(trailing, "\n")); extra != "" {
		if doc.Description == "" {
			doc.Description = extra
		} else {
			doc.Description += "\n\n" + extra
		}
	}
	doc.Confidence = quality(matched, malformed)
	return doc
}

func googleItems(body []string, shape sectionShape) ([]model.SectionItem, int, int) {
	base := -1
	for _, line := range body {
		if strings.TrimSpace(line) != "" {
			base = indentOf(line)
			break
		}
	}
	if base < 0 {
		return nil, 0, 0
	}

	var items []model.SectionItem
	matched, malformed := 0, 0
	for _, line := range body {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if indentOf(line) > base && len(items) > 0 {
			appendDescription(&items[len(items)-1], trimmed)
			continue
		}

		switch shape {
		case shapeTyped:
			item := model.SectionItem{}
			if m := googleTypedRe.FindStringSubmatch(trimmed); m != nil && (!strings.Contains(m[1], " ") || strings.Contains(m[1], "[")) {
				item.Type = strings.TrimSpace(m[1])
				appendDescription(&item, m[2])
			} else {
				appendDescription(&item, trimmed)
			}
			matched++
			items = append(items, item)
		default:
			m := googleParamRe.FindStringSubmatch(trimmed)
			if m == nil {
				malformed++
				if len(items) > 0 {
					appendDescription(&items[len(items)-1], trimmed)
				} else {
					items = append(items, model.SectionItem{Description: trimmed})
				}
				continue
			}
			matched++
			item := model.SectionItem{Term: m[1], Type: strings.TrimSpace(m[2])}
			appendDescription(&item, m[3])
			items = append(items, item)
		}
	}
	return items, matched, malformed
}
