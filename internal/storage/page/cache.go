// Package page implements the fixed-size page cache (spec §4.1): a
// reference-counted LRU over a single segmented heap file. It is the
// lowest layer of the storage stack — every other subsystem reads and
// writes bytes through a *Cache.
package page

import (
	"container/list"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"
	"golang.org/x/sys/unix"

	"github.com/leengari/mini-rdbms/internal/errs"
)

// Pgno is a 1-based page number. Pgno 0 is never valid.
type Pgno uint32

// Handle is a pinned view of a page's bytes. Callers must Release it
// exactly once. The byte slice is shared with the cache; mutations are
// visible to every other holder of the same handle and are the caller's
// responsibility to serialize (the Data Item layer does this with a
// per-item write lock, per spec §4.4).
type Handle struct {
	Pgno Pgno
	Data []byte

	frame *frame
}

type frame struct {
	pgno  Pgno
	data  []byte
	dirty bool
	pins  int
	elem  *list.Element // position in the LRU list; nil while pinned
}

// Cache is a capped, reference-counted LRU over one heap file. All
// exported methods are safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	file     *os.File
	pageSize int
	capacity int
	pages    int // total pages currently represented on disk

	resident map[Pgno]*frame
	lru      *list.List // least-recently-used unpinned frames, front = oldest... back = most recent
	group    singleflight.Group

	logger *slog.Logger
}

// Open opens (creating if necessary) the heap file at path and returns a
// Cache backed by it.
func Open(path string, pageSize, capacity int, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errs.Wrap(errs.FileCannotRW, "open heap file", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.FileCannotRW, "stat heap file", err)
	}
	if info.Size()%int64(pageSize) != 0 {
		f.Close()
		return nil, errs.New(errs.FileCannotRW, fmt.Sprintf("heap file size %d is not a multiple of page size %d", info.Size(), pageSize))
	}
	c := &Cache{
		file:     f,
		pageSize: pageSize,
		capacity: capacity,
		pages:    int(info.Size() / int64(pageSize)),
		resident: make(map[Pgno]*frame),
		lru:      list.New(),
		logger:   logger,
	}
	return c, nil
}

// PageCount returns the number of pages currently allocated on disk.
func (c *Cache) PageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pages
}

// NewPage allocates a fresh page at the end of the heap file, initializes
// it with initBytes (zero-padded to PageSize), and returns its pgno. The
// page is not pinned; callers that need it immediately should GetPage it.
func (c *Cache) NewPage(initBytes []byte) (Pgno, error) {
	c.mu.Lock()
	c.pages++
	pgno := Pgno(c.pages)
	c.mu.Unlock()

	buf := make([]byte, c.pageSize)
	copy(buf, initBytes)

	if err := c.writeAt(pgno, buf); err != nil {
		return 0, err
	}
	return pgno, nil
}

// GetPage pins and returns the page pgno, loading it from disk if it is
// not resident. Concurrent GetPage calls for the same unresident pgno
// load it exactly once (single-flight); different pgnos load in parallel.
func (c *Cache) GetPage(pgno Pgno) (*Handle, error) {
	for {
		c.mu.Lock()
		if fr, ok := c.resident[pgno]; ok {
			c.pin(fr)
			c.mu.Unlock()
			return &Handle{Pgno: pgno, Data: fr.data, frame: fr}, nil
		}

		if len(c.resident) >= c.capacity {
			if !c.evictLocked() {
				c.mu.Unlock()
				return nil, errs.Sentinel(errs.CacheFull)
			}
		}
		c.mu.Unlock()

		v, err, _ := c.group.Do(fmt.Sprintf("%d", pgno), func() (interface{}, error) {
			return c.loadFromDisk(pgno)
		})
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if fr, ok := c.resident[pgno]; ok {
			// Someone beat us to installing the frame (or we just did);
			// pin and return it.
			c.pin(fr)
			c.mu.Unlock()
			return &Handle{Pgno: pgno, Data: fr.data, frame: fr}, nil
		}
		fr := &frame{pgno: pgno, data: v.([]byte), pins: 1}
		c.resident[pgno] = fr
		c.mu.Unlock()
		return &Handle{Pgno: pgno, Data: fr.data, frame: fr}, nil
	}
}

func (c *Cache) loadFromDisk(pgno Pgno) ([]byte, error) {
	buf := make([]byte, c.pageSize)
	off := int64(pgno-1) * int64(c.pageSize)
	if _, err := c.file.ReadAt(buf, off); err != nil {
		return nil, errs.Wrap(errs.FileCannotRW, "read page", err)
	}
	return buf, nil
}

// pin must be called with c.mu held.
func (c *Cache) pin(fr *frame) {
	if fr.pins == 0 && fr.elem != nil {
		c.lru.Remove(fr.elem)
		fr.elem = nil
	}
	fr.pins++
}

// evictLocked tries to evict one unpinned page to make room. Returns
// false if every resident page is pinned.
func (c *Cache) evictLocked() bool {
	elem := c.lru.Front()
	if elem == nil {
		return false
	}
	fr := elem.Value.(*frame)
	c.lru.Remove(elem)
	delete(c.resident, fr.pgno)
	if fr.dirty {
		if err := c.writeAt(fr.pgno, fr.data); err != nil {
			c.logger.Error("evict: write-back failed", "pgno", fr.pgno, "error", err)
		}
	}
	return true
}

// Release unpins handle. Once refcount reaches zero the page becomes
// eligible for eviction.
func (c *Cache) Release(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fr := h.frame
	fr.pins--
	if fr.pins < 0 {
		fr.pins = 0
	}
	if fr.pins == 0 {
		fr.elem = c.lru.PushBack(fr)
	}
}

// MarkDirty flags handle's page as needing write-back. It is a hint, not
// a lock: callers must still serialize concurrent mutation of the same
// page's bytes themselves (spec §5).
func (c *Cache) MarkDirty(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h.frame.dirty = true
}

// FlushPage synchronously writes handle's page back to disk.
func (c *Cache) FlushPage(h *Handle) error {
	c.mu.Lock()
	data := append([]byte(nil), h.frame.data...)
	dirty := h.frame.dirty
	h.frame.dirty = false
	c.mu.Unlock()
	if !dirty {
		return nil
	}
	return c.writeAt(h.Pgno, data)
}

func (c *Cache) writeAt(pgno Pgno, data []byte) error {
	off := int64(pgno-1) * int64(c.pageSize)
	if _, err := c.file.WriteAt(data, off); err != nil {
		return errs.Wrap(errs.FileCannotRW, "write page", err)
	}
	return nil
}

// TruncateTo discards every page beyond pgno. The caller must ensure no
// handle above the cut is pinned; this is checked on every call, and a
// pinned page makes it fail (spec §9 flags this as the source's weak point).
func (c *Cache) TruncateTo(pgno Pgno) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for p, fr := range c.resident {
		if p <= pgno {
			continue
		}
		if fr.pins > 0 {
			return errs.New(errs.FileCannotRW, fmt.Sprintf("truncate_to(%d): page %d is pinned", pgno, p))
		}
		if fr.elem != nil {
			c.lru.Remove(fr.elem)
		}
		delete(c.resident, p)
	}

	size := int64(pgno) * int64(c.pageSize)
	if err := c.file.Truncate(size); err != nil {
		return errs.Wrap(errs.FileCannotRW, "truncate heap file", err)
	}
	c.pages = int(pgno)
	return nil
}

// Close flushes every dirty resident page and closes the heap file.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for pgno, fr := range c.resident {
		if fr.dirty {
			if err := c.writeAt(pgno, fr.data); err != nil {
				return err
			}
			fr.dirty = false
		}
	}
	if err := unix.Fdatasync(int(c.file.Fd())); err != nil {
		c.logger.Warn("close: fdatasync failed", "error", err)
	}
	return c.file.Close()
}
