// Package docstring classifies raw docstrings and splits them into
// structured sections.
package docstring

import (
	"strings"

	"github.com/phobologic/docscope/internal/model"
)

// Threshold is the minimum detector confidence for auto-detection to pick a style.
const Threshold = 0.5

// Detector is one row of the style table. Detect scores how strongly the
// cleaned lines look like the style; Parse extracts sections and reports its
// own parse quality in Confidence.
type Detector struct {
	Style  model.Style
	Detect func(lines []string) float64
	Parse  func(lines []string) model.NormalizedDocstring
}

// Detectors is evaluated in order during auto-detection. New styles are
// added by appending rows.
var Detectors = []Detector{
	{Style: model.StyleRest, Detect: detectRest, Parse: parseRest},
	{Style: model.StyleNumpy, Detect: detectNumpy, Parse: parseNumpy},
	{Style: model.StyleGoogle, Detect: detectGoogle, Parse: parseGoogle},
}

// Normalize cleans raw and structures it according to hint. With
// model.StyleAuto the first detector scoring at least Threshold wins,
// otherwise the docstring is treated as plain text. Normalize never fails.
func Normalize(raw string, hint model.Style) model.NormalizedDocstring {
	cleaned := Clean(raw)
	if cleaned == "" {
		return model.NormalizedDocstring{Style: model.StyleNone}
	}
	lines := strings.Split(cleaned, "\n")

	switch hint {
	case model.StylePlain:
		return parsePlain(lines, 1)
	case model.StyleAuto, "":
		best := 0.0
		for _, d := range Detectors {
			score := d.Detect(lines)
			if score >= Threshold {
				return finish(d, lines, score)
			}
			best = max(best, score)
		}
		return parsePlain(lines, 1-best)
	}

	for _, d := range Detectors {
		if d.Style == hint {
			return finish(d, lines, d.Detect(lines))
		}
	}
	return parsePlain(lines, 0)
}

// finish runs the row's parser and folds parse quality into the detector
// score. A forced style that does not match at all still yields a partial
// result with low confidence.
func finish(d Detector, lines []string, score float64) model.NormalizedDocstring {
	doc := d.Parse(lines)
	doc.Style = d.Style
	if score <= 0 {
		score = 0.1
	}
	doc.Confidence = round(score * doc.Confidence)
	return doc
}

func parsePlain(lines []string, confidence float64) model.NormalizedDocstring {
	summary, description := prose(lines)
	return model.NormalizedDocstring{
		Style:       model.StylePlain,
		Summary:     summary,
		Description: description,
		Confidence:  round(confidence),
	}
}

// Summary returns the first line of the cleaned docstring.
func Summary(raw string) string {
	summary, _ := prose(strings.Split(Clean(raw), "\n"))
	return summary
}

// Clean applies the conventional docstring indentation rules: tabs are
// expanded, the first line is stripped, the common indentation of the
// remaining lines is removed, and blank leading and trailing lines are dropped.
func Clean(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	lines := strings.Split(expandTabs(raw), "\n")

	indent := -1
	for _, line := range lines[1:] {
		stripped := strings.TrimLeft(line, " ")
		if stripped == "" {
			continue
		}
		n := len(line) - len(stripped)
		if indent < 0 || n < indent {
			indent = n
		}
	}

	out := make([]string, 0, len(lines))
	out = append(out, strings.TrimSpace(lines[0]))
	for _, line := range lines[1:] {
		if indent > 0 && len(line) >= indent {
			line = line[indent:]
		}
		out = append(out, strings.TrimRight(line, " \t"))
	}

	for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
		out = out[:len(out)-1]
	}
	for len(out) > 0 && strings.TrimSpace(out[0]) == "" {
		out = out[1:]
	}
	return strings.Join(out, "\n")
}

func expandTabs(s string) string {
	if !strings.Contains(s, "\t") {
		return s
	}
	var b strings.Builder
	col := 0
	for _, r := range s {
		switch r {
		case '\t':
			n := 8 - col%8
			b.WriteString(strings.Repeat(" ", n))
			col += n
		case '\n':
			b.WriteRune(r)
			col = 0
		default:
			b.WriteRune(r)
			col++
		}
	}
	return b.String()
}

// prose splits leading free text into a summary line and the remaining
// description.
func prose(lines []string) (string, string) {
	var summary string
	var rest []string
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		summary = strings.TrimSpace(line)
		rest = lines[i+1:]
		break
	}
	return summary, strings.TrimSpace(strings.Join(rest, "\n"))
}

// canonicalNames maps lower-cased section headers to their canonical name.
var canonicalNames = map[string]string{
	"args":              "Parameters",
	"arguments":         "Parameters",
	"parameters":        "Parameters",
	"parameter":         "Parameters",
	"params":            "Parameters",
	"param":             "Parameters",
	"other parameters":  "Other Parameters",
	"keyword args":      "Keyword Arguments",
	"keyword arguments": "Keyword Arguments",
	"returns":           "Returns",
	"return":            "Returns",
	"yields":            "Yields",
	"yield":             "Yields",
	"receives":          "Receives",
	"raises":            "Raises",
	"raise":             "Raises",
	"warns":             "Warns",
	"attributes":        "Attributes",
	"methods":           "Methods",
	"examples":          "Examples",
	"example":           "Examples",
	"notes":             "Notes",
	"note":              "Notes",
	"warnings":          "Warnings",
	"warning":           "Warnings",
	"see also":          "See Also",
	"references":        "References",
	"todo":              "Todo",
}

func canonical(header string) string {
	header = strings.TrimSpace(header)
	if name, ok := canonicalNames[strings.ToLower(header)]; ok {
		return name
	}
	return header
}

// sectionShape describes how the items of a canonical section are laid out.
type sectionShape int

const (
	shapeFree sectionShape = iota
	shapeNamed
	shapeTyped
	shapeException
)

func shapeOf(name string) sectionShape {
	switch name {
	case "Parameters", "Other Parameters", "Keyword Arguments", "Attributes", "Methods", "Receives":
		return shapeNamed
	case "Returns", "Yields":
		return shapeTyped
	case "Raises", "Warns":
		return shapeException
	}
	return shapeFree
}

func indentOf(line string) int {
	return len(line) - len(strings.TrimLeft(line, " "))
}

func freeItem(lines []string) []model.SectionItem {
	text := strings.TrimSpace(dedent(lines))
	if text == "" {
		return nil
	}
	return []model.SectionItem{{Description: text}}
}

func dedent(lines []string) string {
	indent := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if n := indentOf(line); indent < 0 || n < indent {
			indent = n
		}
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		if indent > 0 && len(line) >= indent {
			line = line[indent:]
		}
		out[i] = line
	}
	return strings.Join(out, "\n")
}

func appendDescription(item *model.SectionItem, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if item.Description == "" {
		item.Description = text
		return
	}
	item.Description += "\n" + text
}

func quality(matched, malformed int) float64 {
	if matched+malformed == 0 {
		return 1
	}
	return 0.5 + 0.5*float64(matched)/float64(matched+malformed)
}

func round(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return float64(int(f*100+0.5)) / 100
}
