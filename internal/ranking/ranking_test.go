package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phobologic/docscope/internal/model"
)

func makeHits() []model.Hit {
	return []model.Hit{
		{Title: "calc.total", QualName: "calc.total", Path: "calc.py", Kind: "function", Field: FieldDoc, Order: 0},
		{Title: "Adder.add", QualName: "Adder.add", Path: "calc.py", Kind: "function", Field: FieldName, Order: 1},
		{Title: "add", QualName: "add", Path: "ops/add.py", Kind: "function", Field: FieldName, Order: 2},
		{Title: "adds", QualName: "adds", Path: "ops/add.py", Kind: "constant", Field: FieldName, Distance: 1, Order: 3},
		{Title: "sub", QualName: "sub", Path: "ops/sub.py", Kind: "function", Field: FieldName, Order: 4},
	}
}

func titles(hits []model.Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Title
	}
	return out
}

func TestSort(t *testing.T) {
	t.Parallel()

	hits := makeHits()
	Sort(hits)
	assert.Equal(t, []string{"add", "sub", "Adder.add", "calc.total", "adds"}, titles(hits))
}

func TestSortInsertionOrderBreaksTies(t *testing.T) {
	t.Parallel()

	hits := []model.Hit{
		{Title: "b", QualName: "bb", Field: FieldName, Order: 1},
		{Title: "a", QualName: "aa", Field: FieldName, Order: 0},
	}
	Sort(hits)
	assert.Equal(t, []string{"a", "b"}, titles(hits))
}

func TestTop(t *testing.T) {
	t.Parallel()

	hits := makeHits()
	assert.Len(t, Top(hits, 0), 5)
	assert.Len(t, Top(hits, 9), 5)

	top := Top(hits, 2)
	assert.Equal(t, []string{"calc.total", "Adder.add"}, titles(top))
	top[0].Title = "changed"
	assert.Equal(t, "calc.total", hits[0].Title, "Top returns a copy")
}

func TestFilter(t *testing.T) {
	t.Parallel()

	hits := makeHits()
	assert.Len(t, Filter(hits, nil, ""), 5)
	assert.Equal(t, []string{"adds"}, titles(Filter(hits, []string{"Constant"}, "")))
	assert.Equal(t, []string{"add", "adds", "sub"}, titles(Filter(hits, nil, "ops/")))
	assert.Equal(t, []string{"add"}, titles(Filter(hits, []string{"function"}, "ops/add")))
}
