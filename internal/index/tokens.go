package index

import (
	"regexp"
	"strings"
	"unicode"
)

var wordRe = regexp.MustCompile(`[0-9A-Za-z_]+`)

// Tokenize splits text into lower-cased word tokens. Each word is emitted
// whole and also split on underscores and camelCase boundaries, so
// "load_config" yields load_config, load, config and "HTTPServer" yields
// httpserver, http, server. Order follows first occurrence; duplicates are
// dropped.
func Tokenize(text string) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(tok string) {
		tok = strings.ToLower(strings.Trim(tok, "_"))
		if tok == "" {
			return
		}
		if _, dup := seen[tok]; dup {
			return
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}

	for _, word := range wordRe.FindAllString(text, -1) {
		add(word)
		for _, part := range strings.Split(word, "_") {
			for _, sub := range splitCamel(part) {
				add(sub)
			}
		}
	}
	return out
}

// splitCamel breaks an identifier at lower-to-upper transitions and before
// the last capital of an acronym run followed by lower case.
func splitCamel(s string) []string {
	runes := []rune(s)
	var parts []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := unicode.IsLower(prev) && unicode.IsUpper(cur) ||
			unicode.IsLetter(prev) != unicode.IsLetter(cur) ||
			(unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(runes) && unicode.IsLower(runes[i+1]))
		if boundary {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	return append(parts, string(runes[start:]))
}
