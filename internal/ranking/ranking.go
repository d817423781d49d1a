// Package ranking orders and trims search hits.
package ranking

import (
	"sort"
	"strings"

	"github.com/phobologic/docscope/internal/model"
)

// Field values a hit can match in. Name matches outrank doc matches.
const (
	FieldName = "name"
	FieldDoc  = "doc"
)

func fieldRank(f string) int {
	if f == FieldName {
		return 0
	}
	return 1
}

// Less reports whether a ranks before b: lower edit distance first, then a
// name match over a docstring match, then the shorter qualified name, then
// the earlier insertion order.
func Less(a, b *model.Hit) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	if ra, rb := fieldRank(a.Field), fieldRank(b.Field); ra != rb {
		return ra < rb
	}
	if la, lb := len(a.QualName), len(b.QualName); la != lb {
		return la < lb
	}
	return a.Order < b.Order
}

// Sort orders hits in place.
func Sort(hits []model.Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		return Less(&hits[i], &hits[j])
	})
}

// Top returns a copy of the first n hits. If n is <= 0 or >= len(hits), all
// hits are returned.
func Top(hits []model.Hit, n int) []model.Hit {
	if n <= 0 || n >= len(hits) {
		n = len(hits)
	}
	out := make([]model.Hit, n)
	copy(out, hits[:n])
	return out
}

// Filter keeps hits of the given kinds (all when empty) whose path starts
// with pathPrefix.
func Filter(hits []model.Hit, kinds []string, pathPrefix string) []model.Hit {
	if len(kinds) == 0 && pathPrefix == "" {
		return hits
	}
	kindSet := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		kindSet[strings.ToLower(k)] = struct{}{}
	}

	var out []model.Hit
	for i := range hits {
		h := &hits[i]
		if len(kindSet) > 0 {
			if _, ok := kindSet[h.Kind]; !ok {
				continue
			}
		}
		if pathPrefix != "" && !strings.HasPrefix(h.Path, pathPrefix) {
			continue
		}
		out = append(out, *h)
	}
	return out
}
