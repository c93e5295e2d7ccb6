// Package freespace implements the free-space map (spec §4.6): a bucketed
// index of pages by remaining slack, used to steer inserts toward a page
// that already has room instead of always allocating a new one.
package freespace

import (
	"sync"

	"github.com/leengari/mini-rdbms/internal/storage/page"
)

const levels = 40

type entry struct {
	pgno page.Pgno
	free int
}

// Map is a bucketed FIFO free-space index. A single mutex guards it;
// operations are O(levels) worst case, expected O(1). Stale entries (a
// page whose free space has since changed) are harmless: callers always
// re-check actual free space after pinning the page.
type Map struct {
	mu       sync.Mutex
	buckets  [levels][]entry
	pageSize int
}

// New creates an empty free-space map sized for pageSize pages.
func New(pageSize int) *Map {
	return &Map{pageSize: pageSize}
}

func (m *Map) bucketFor(free int) int {
	b := free / (m.pageSize / levels)
	if b >= levels {
		b = levels - 1
	}
	if b < 0 {
		b = 0
	}
	return b
}

// Add pushes (pgno, free) onto the tail of its bucket. Values above the
// largest bucket's range are clamped into the top bucket.
func (m *Map) Add(pgno page.Pgno, free int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bucketFor(free)
	m.buckets[b] = append(m.buckets[b], entry{pgno: pgno, free: free})
}

// Poll returns a page believed to have at least `required` bytes free,
// starting one bucket above required's own bucket so any pick strictly
// satisfies the request, and walking upward. Returns ok=false if no
// bucket has an entry.
func (m *Map) Poll(required int) (pgno page.Pgno, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.bucketFor(required) + 1
	if start >= levels {
		start = levels - 1
	}
	for b := start; b < levels; b++ {
		if len(m.buckets[b]) == 0 {
			continue
		}
		e := m.buckets[b][0]
		m.buckets[b] = m.buckets[b][1:]
		return e.pgno, true
	}
	return 0, false
}
