package docstring

import (
	"regexp"
	"strings"

	"github.com/phobologic/docscope/internal/model"
)

var numpyUnderlineRe = regexp.MustCompile(`^\s*-{3,}\s*$`)

// numpyHeaders returns the indexes of lines that are section headers, that
// is non-blank lines followed by a dashed underline.
func numpyHeaders(lines []string) []int {
	var out []int
	for i := 0; i+1 < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" || numpyUnderlineRe.MatchString(lines[i]) {
			continue
		}
		if numpyUnderlineRe.MatchString(lines[i+1]) {
			out = append(out, i)
		}
	}
	return out
}

func detectNumpy(lines []string) float64 {
	score := 0.0
	for _, i := range numpyHeaders(lines) {
		if _, known := canonicalNames[strings.ToLower(strings.TrimSpace(lines[i]))]; known {
			score = max(score+0.05, 0.9)
		} else {
			score = max(score, 0.55)
		}
	}
	return min(1, score)
}

func parseNumpy(lines []string) model.NormalizedDocstring {
	var doc model.NormalizedDocstring
	headers := numpyHeaders(lines)
	if len(headers) == 0 {
		doc.Summary, doc.Description = prose(lines)
		doc.Confidence = 0.5
		return doc
	}
	doc.Summary, doc.Description = prose(lines[:headers[0]])

	matched, malformed := 0, 0
	for n, h := range headers {
		end := len(lines)
		if n+1 < len(headers) {
			end = headers[n+1]
		}
		body := lines[h+2 : end]
		s := model.Section{Name: canonical(lines[h])}
		if shapeOf(s.Name) == shapeFree {
			s.Items = freeItem(body)
		} else {
			var ok, bad int
			s.Items, ok, bad = numpyItems(body, shapeOf(s.Name))
			matched += ok
			malformed += bad
		}
		if len(s.Items) > 0 {
			doc.Sections = append(doc.Sections, s)
		}
	}
	doc.Confidence = quality(matched, malformed)
	return doc
}

// numpyItems splits a structured section body into items. Item headers sit
// at the body's base indentation; deeper lines continue the description.
func numpyItems(body []string, shape sectionShape) ([]model.SectionItem, int, int) {
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
		if indentOf(line) < base {
			malformed++
			continue
		}

		term, typ, hasColon := strings.Cut(trimmed, " : ")
		if !hasColon {
			term, typ, hasColon = strings.Cut(trimmed, ":")
		}
		term, typ = strings.TrimSpace(term), strings.TrimSpace(typ)
		item := model.SectionItem{}
		switch shape {
		case shapeTyped:
			if hasColon {
				item.Term, item.Type = term, typ
			} else {
				item.Type = trimmed
			}
			matched++
		case shapeException:
			item.Term = term
			if hasColon {
				item.Description = typ
			}
			matched++
		default:
			item.Term, item.Type = term, typ
			if strings.ContainsAny(term, " \t") {
				malformed++
			} else {
				matched++
			}
		}
		items = append(items, item)
	}
	return items, matched, malformed
}
