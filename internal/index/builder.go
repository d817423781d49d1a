package index

import (
	"sync"

	"github.com/phobologic/docscope/internal/cache"
	"github.com/phobologic/docscope/internal/model"
)

type fileEntry struct {
	fp      model.Fingerprint
	doc     *model.DocModel
	records []Record
}

// Builder rebuilds indexes incrementally. Per-file records are reused when a
// file's fingerprint and parsed model are unchanged since the previous
// rebuild. The output of Rebuild is always identical to Build on the same
// snapshot.
type Builder struct {
	mu    sync.Mutex
	files map[string]fileEntry

	reused, derived int // stats of the last rebuild
}

// NewBuilder returns a Builder with no cached records.
func NewBuilder() *Builder {
	return &Builder{files: map[string]fileEntry{}}
}

// Rebuild returns the index for snap.
func (b *Builder) Rebuild(snap *cache.Snapshot) *Index {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.reused, b.derived = 0, 0
	next := make(map[string]fileEntry, snap.Len())
	paths := snap.Paths()
	files := make([][]Record, 0, len(paths))
	for _, p := range paths {
		r, _ := snap.Get(p)
		fe, ok := b.files[p]
		if ok && fe.fp == r.Fingerprint && fe.doc == r.Doc {
			b.reused++
		} else {
			fe = fileEntry{fp: r.Fingerprint, doc: r.Doc, records: fileRecords(p, r)}
			b.derived++
		}
		next[p] = fe
		files = append(files, fe.records)
	}
	b.files = next
	return assemble(snap.Version, files)
}

// Stats reports how many files the last Rebuild reused and re-derived.
func (b *Builder) Stats() (reused, derived int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reused, b.derived
}
