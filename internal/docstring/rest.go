package docstring

import (
	"regexp"
	"strings"

	"github.com/phobologic/docscope/internal/model"
)

// restFieldRe matches a field list line such as ":param int x: the value".
var restFieldRe = regexp.MustCompile(`^:([A-Za-z_]+)(?:\s+([^:]*[^:\s]))?:(?:\s+(.*))?$`)

var restKinds = map[string]string{
	"param":     "Parameters",
	"parameter": "Parameters",
	"arg":       "Parameters",
	"argument":  "Parameters",
	"key":       "Parameters",
	"keyword":   "Parameters",
	"type":      "type",
	"returns":   "Returns",
	"return":    "Returns",
	"rtype":     "rtype",
	"raises":    "Raises",
	"raise":     "Raises",
	"except":    "Raises",
	"exception": "Raises",
	"var":       "Attributes",
	"ivar":      "Attributes",
	"cvar":      "Attributes",
	"vartype":   "vartype",
	"yields":    "Yields",
	"yield":     "Yields",
	"ytype":     "ytype",
}

func detectRest(lines []string) float64 {
	n := 0
	for _, line := range lines {
		m := restFieldRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		if _, ok := restKinds[strings.ToLower(m[1])]; ok {
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return min(1, 0.6+0.15*float64(n-1))
}

func parseRest(lines []string) model.NormalizedDocstring {
	var doc model.NormalizedDocstring
	sections := map[string]*model.Section{}
	var order []string
	section := func(name string) *model.Section {
		if s, ok := sections[name]; ok {
			return s
		}
		s := &model.Section{Name: name}
		sections[name] = s
		order = append(order, name)
		return s
	}

	first := len(lines)
	for i, line := range lines {
		if restFieldRe.MatchString(strings.TrimSpace(line)) {
			first = i
			break
		}
	}
	doc.Summary, doc.Description = prose(lines[:first])

	var last *model.SectionItem
	matched, malformed := 0, 0
	for _, line := range lines[first:] {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		m := restFieldRe.FindStringSubmatch(trimmed)
		if m == nil {
			if last != nil && indentOf(line) > 0 {
				appendDescription(last, trimmed)
				continue
			}
			malformed++
			last = nil
			continue
		}
		matched++
		field, arg, text := strings.ToLower(m[1]), strings.TrimSpace(m[2]), m[3]
		kind, known := restKinds[field]
		if !known {
			kind = canonical(strings.ToUpper(field[:1]) + field[1:])
		}

		switch kind {
		case "type":
			setType(section("Parameters"), arg, text)
			last = nil
		case "vartype":
			setType(section("Attributes"), arg, text)
			last = nil
		case "rtype", "ytype":
			target := "Returns"
			if kind == "ytype" {
				target = "Yields"
			}
			s := section(target)
			if len(s.Items) == 0 {
				s.Items = append(s.Items, model.SectionItem{})
			}
			s.Items[len(s.Items)-1].Type = strings.TrimSpace(text)
			last = nil
		case "Parameters":
			item := model.SectionItem{Term: arg}
			if fields := strings.Fields(arg); len(fields) > 1 {
				item.Term = fields[len(fields)-1]
				item.Type = strings.Join(fields[:len(fields)-1], " ")
			}
			appendDescription(&item, text)
			last = addItem(section(kind), item)
		case "Returns", "Yields":
			item := model.SectionItem{}
			appendDescription(&item, text)
			last = addItem(section(kind), item)
		default:
			item := model.SectionItem{Term: arg}
			appendDescription(&item, text)
			last = addItem(section(kind), item)
		}
	}

	for _, name := range order {
		if s := sections[name]; len(s.Items) > 0 {
			doc.Sections = append(doc.Sections, *s)
		}
	}
	doc.Confidence = quality(matched, malformed)
	return doc
}

func addItem(s *model.Section, item model.SectionItem) *model.SectionItem {
	s.Items = append(s.Items, item)
	return &s.Items[len(s.Items)-1]
}

// setType records a ":type x:" field on the item named x, creating a
// placeholder when the type precedes the param.
func setType(s *model.Section, name, typ string) {
	typ = strings.TrimSpace(typ)
	for i := range s.Items {
		if s.Items[i].Term == name {
			s.Items[i].Type = typ
			return
		}
	}
	s.Items = append(s.Items, model.SectionItem{Term: name, Type: typ})
}
