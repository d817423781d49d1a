package cache

import (
	"maps"
	"sort"
	"time"

	"github.com/phobologic/docscope/internal/model"
)

// Snapshot is an immutable view of the cache. It is never modified after
// publication, so readers may hold it for as long as they like.
type Snapshot struct {
	Version   uint64
	Units     map[string]model.SourceUnit
	Results   map[string]model.ParseResult
	Changed   []string // paths changed or removed by the cycle that published it
	UpdatedAt time.Time
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Units:   map[string]model.SourceUnit{},
		Results: map[string]model.ParseResult{},
	}
}

// Get returns the result stored for path.
func (s *Snapshot) Get(path string) (model.ParseResult, bool) {
	r, ok := s.Results[path]
	return r, ok
}

// Paths returns every tracked path in sorted order.
func (s *Snapshot) Paths() []string {
	out := make([]string, 0, len(s.Results))
	for p := range s.Results {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of tracked files.
func (s *Snapshot) Len() int {
	return len(s.Results)
}

// Errors returns the failed results in path order.
func (s *Snapshot) Errors() []model.ParseResult {
	var out []model.ParseResult
	for _, p := range s.Paths() {
		if r := s.Results[p]; r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// next copies s for modification by a refresh cycle.
func (s *Snapshot) next() *Snapshot {
	return &Snapshot{
		Version: s.Version + 1,
		Units:   maps.Clone(s.Units),
		Results: maps.Clone(s.Results),
	}
}
