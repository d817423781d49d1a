package index

import (
	"log/slog"
	"strconv"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/phobologic/docscope/internal/cache"
	"github.com/phobologic/docscope/internal/model"
	"github.com/phobologic/docscope/internal/ranking"
)

// DefaultMemoSize is the number of memoized queries a Live index keeps.
const DefaultMemoSize = 256

// Source yields the current snapshot. *cache.Cache satisfies it.
type Source interface {
	Snapshot() *cache.Snapshot
}

type memoKey struct {
	version uint64
	query   string
	fuzzy   bool
}

// Live keeps an index in step with a Source. The index is rebuilt lazily on
// the first query after the snapshot version moves; concurrent stale queries
// share one rebuild. A published index is never modified.
type Live struct {
	src     Source
	builder *Builder
	logger  *slog.Logger

	current atomic.Pointer[Index]
	group   singleflight.Group
	memo    *lru.Cache[memoKey, []model.Hit]
}

// NewLive binds an index to src. memoSize <= 0 selects DefaultMemoSize.
func NewLive(src Source, memoSize int, logger *slog.Logger) *Live {
	if memoSize <= 0 {
		memoSize = DefaultMemoSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	memo, err := lru.New[memoKey, []model.Hit](memoSize)
	if err != nil {
		panic(err) // only for a non-positive size
	}
	return &Live{src: src, builder: NewBuilder(), logger: logger, memo: memo}
}

// Index returns an index for the source's current snapshot, rebuilding it
// if the published one is older.
func (l *Live) Index() *Index {
	snap := l.src.Snapshot()
	if ix := l.current.Load(); ix != nil && ix.Version == snap.Version {
		return ix
	}

	v, _, _ := l.group.Do(strconv.FormatUint(snap.Version, 10), func() (any, error) {
		ix := l.builder.Rebuild(snap)
		reused, derived := l.builder.Stats()
		l.logger.Debug("index rebuilt",
			"version", ix.Version, "records", ix.Len(), "reused", reused, "derived", derived)
		l.publish(ix)
		return ix, nil
	})
	return v.(*Index)
}

// publish swaps ix in unless a newer index is already current.
func (l *Live) publish(ix *Index) {
	for {
		cur := l.current.Load()
		if cur != nil && cur.Version >= ix.Version {
			return
		}
		if l.current.CompareAndSwap(cur, ix) {
			return
		}
	}
}

// Search runs query against the current index and returns at most limit
// hits (all when limit <= 0). Results are memoized per index version.
func (l *Live) Search(query string, fuzzy bool, limit int) []model.Hit {
	ix := l.Index()
	key := memoKey{version: ix.Version, query: query, fuzzy: fuzzy}
	hits, ok := l.memo.Get(key)
	if !ok {
		hits = ix.Search(query, fuzzy)
		l.memo.Add(key, hits)
	}
	return ranking.Top(hits, limit)
}
