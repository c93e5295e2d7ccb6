// Package dataitem implements logical variable-length records inside
// pages (spec §4.4): insert/read with free-space-map-directed placement,
// and the before/after/rollback bracket that backs in-place overwrites
// (MVCC xmax stamping, catalog fixups) with WAL-logged before-images.
package dataitem

import (
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/leengari/mini-rdbms/internal/errs"
	"github.com/leengari/mini-rdbms/internal/storage/freespace"
	"github.com/leengari/mini-rdbms/internal/storage/page"
	"github.com/leengari/mini-rdbms/internal/storage/wal"
)

var byteOrder = binary.BigEndian

const (
	itemHeaderSize = 1 + 2 // Valid:u8 Size:u16
	pageHeaderSize = 2     // FSO:u16
)

// Uid packs (pgno, offset) into a single 64-bit row identifier, per spec
// §3: `(pgno << 32) | (offset & 0xFFFF)`.
func Uid(pgno page.Pgno, offset uint16) uint64 {
	return (uint64(pgno) << 32) | uint64(offset)
}

func unpackUid(uid uint64) (page.Pgno, uint16) {
	return page.Pgno(uid >> 32), uint16(uid & 0xFFFF)
}

// Handle is a read view of a data item: its logical payload, pinned
// through the underlying page for the caller's use.
type Handle struct {
	Uid     uint64
	Payload []byte

	ph *page.Handle
}

// Manager is the Data Item layer: page cache + WAL + free-space map.
type Manager struct {
	cache    *page.Cache
	wal      *wal.WAL
	fsm      *freespace.Map
	pageSize int

	mu    sync.Mutex
	locks map[uint64]*sync.Mutex // per-uid write lock for the before/after bracket

	logger *slog.Logger
}

// New builds a Data Item manager over an already-open cache, WAL, and
// free-space map.
func New(cache *page.Cache, w *wal.WAL, fsm *freespace.Map, pageSize int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cache: cache, wal: w, fsm: fsm, pageSize: pageSize, locks: make(map[uint64]*sync.Mutex), logger: logger}
}

func (m *Manager) lockFor(uid uint64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[uid]
	if !ok {
		l = &sync.Mutex{}
		m.locks[uid] = l
	}
	return l
}

func readFSO(data []byte) uint16 { return byteOrder.Uint16(data[0:2]) }
func writeFSO(data []byte, fso uint16) {
	byteOrder.PutUint16(data[0:2], fso)
}

// Insert wraps raw as [Valid=0][Size][raw], places it on a page with
// enough slack (consulting the free-space map, else allocating a new
// page), appends an insert WAL record, and writes the bytes. It returns
// the item's uid; the append is not necessarily flushed.
func (m *Manager) Insert(xid uint64, raw []byte) (uid uint64, lsn uint64, err error) {
	itemLen := itemHeaderSize + len(raw)
	if itemLen > m.pageSize-pageHeaderSize {
		return 0, 0, errs.New(errs.DataTooLarge, "data item exceeds page capacity")
	}

	var pgno page.Pgno
	var ph *page.Handle

	for attempt := 0; attempt < 4; attempt++ {
		cand, ok := m.fsm.Poll(itemLen)
		if !ok {
			break
		}
		ph, err = m.cache.GetPage(cand)
		if err != nil {
			return 0, 0, err
		}
		fso := readFSO(ph.Data)
		if m.pageSize-int(fso) >= itemLen {
			pgno = cand
			break
		}
		m.cache.Release(ph)
		ph = nil
	}

	if ph == nil {
		pgno, err = m.cache.NewPage([]byte{0, pageHeaderSize})
		if err != nil {
			return 0, 0, err
		}
		ph, err = m.cache.GetPage(pgno)
		if err != nil {
			return 0, 0, err
		}
		writeFSO(ph.Data, pageHeaderSize)
	}

	offset := readFSO(ph.Data)

	itemBytes := make([]byte, itemLen)
	itemBytes[0] = 0 // Valid
	byteOrder.PutUint16(itemBytes[1:3], uint16(len(raw)))
	copy(itemBytes[3:], raw)

	insertPayload := encodeInsert(xid, pgno, offset, itemBytes)
	recordLSN, err := m.wal.Append(insertPayload)
	if err != nil {
		m.cache.Release(ph)
		return 0, 0, err
	}

	copy(ph.Data[offset:int(offset)+itemLen], itemBytes)
	newFSO := uint16(int(offset) + itemLen)
	writeFSO(ph.Data, newFSO)
	m.cache.MarkDirty(ph)

	remaining := m.pageSize - int(newFSO)
	m.cache.Release(ph)
	m.fsm.Add(pgno, remaining)

	return Uid(pgno, offset), recordLSN, nil
}

func encodeInsert(xid uint64, pgno page.Pgno, offset uint16, raw []byte) []byte {
	buf := make([]byte, 1+8+4+2+len(raw))
	buf[0] = byte(wal.OpInsert)
	byteOrder.PutUint64(buf[1:9], xid)
	byteOrder.PutUint32(buf[9:13], uint32(pgno))
	byteOrder.PutUint16(buf[13:15], offset)
	copy(buf[15:], raw)
	return buf
}

func encodeUpdate(xid, uid uint64, old, new []byte) []byte {
	buf := make([]byte, 1+8+8+len(old)+len(new))
	buf[0] = byte(wal.OpUpdate)
	byteOrder.PutUint64(buf[1:9], xid)
	byteOrder.PutUint64(buf[9:17], uid)
	copy(buf[17:17+len(old)], old)
	copy(buf[17+len(old):], new)
	return buf
}

// Read loads the item at uid. It returns (nil, nil) if the item has been
// logically deleted (Valid != 0).
func (m *Manager) Read(uid uint64) (*Handle, error) {
	pgno, offset := unpackUid(uid)
	ph, err := m.cache.GetPage(pgno)
	if err != nil {
		return nil, err
	}
	valid := ph.Data[offset]
	if valid != 0 {
		m.cache.Release(ph)
		return nil, nil
	}
	size := byteOrder.Uint16(ph.Data[int(offset)+1 : int(offset)+3])
	payload := append([]byte(nil), ph.Data[int(offset)+3:int(offset)+3+int(size)]...)
	return &Handle{Uid: uid, Payload: payload, ph: ph}, nil
}

// Release unpins the page backing handle.
func (m *Manager) Release(h *Handle) {
	if h == nil || h.ph == nil {
		return
	}
	m.cache.Release(h.ph)
}

// UpdateCtx brackets an in-place overwrite: Before snapshots the old
// bytes and holds the item's write lock and page pin until After or
// Rollback releases them.
type UpdateCtx struct {
	uid    uint64
	pgno   page.Pgno
	offset uint16
	size   int
	oldRaw []byte
	ph     *page.Handle
	lock   *sync.Mutex
}

// Before acquires uid's write lock, marks its page dirty, and snapshots
// the current payload for later WAL logging / rollback.
func (m *Manager) Before(uid uint64) (*UpdateCtx, error) {
	lock := m.lockFor(uid)
	lock.Lock()

	pgno, offset := unpackUid(uid)
	ph, err := m.cache.GetPage(pgno)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if ph.Data[offset] != 0 {
		m.cache.Release(ph)
		lock.Unlock()
		return nil, errs.Sentinel(errs.NullEntry)
	}
	size := int(byteOrder.Uint16(ph.Data[int(offset)+1 : int(offset)+3]))
	old := append([]byte(nil), ph.Data[int(offset)+3:int(offset)+3+size]...)
	m.cache.MarkDirty(ph)

	return &UpdateCtx{uid: uid, pgno: pgno, offset: offset, size: size, oldRaw: old, ph: ph, lock: lock}, nil
}

// OldPayload returns the snapshot Before took.
func (c *UpdateCtx) OldPayload() []byte { return c.oldRaw }

// SetPayload overwrites the item's current bytes in place. newRaw must be
// the same length as the payload Before observed (spec §4.4: overwrite is
// only legal when size is unchanged).
func (c *UpdateCtx) SetPayload(newRaw []byte) error {
	if len(newRaw) != c.size {
		return errs.New(errs.InvalidValues, "overwrite payload length must match original")
	}
	copy(c.ph.Data[int(c.offset)+3:int(c.offset)+3+c.size], newRaw)
	return nil
}

// After emits the update WAL record (old + new raw, equal length) and
// releases the write lock and page pin.
func (m *Manager) After(ctx *UpdateCtx, xid uint64) (uint64, error) {
	newRaw := append([]byte(nil), ctx.ph.Data[int(ctx.offset)+3:int(ctx.offset)+3+ctx.size]...)
	payload := encodeUpdate(xid, ctx.uid, ctx.oldRaw, newRaw)
	lsn, err := m.wal.Append(payload)
	m.cache.Release(ctx.ph)
	ctx.lock.Unlock()
	return lsn, err
}

// Rollback restores the old bytes in place and releases the lock/pin
// without logging (used when an in-memory update attempt fails before
// commit).
func (m *Manager) Rollback(ctx *UpdateCtx) {
	copy(ctx.ph.Data[int(ctx.offset)+3:int(ctx.offset)+3+ctx.size], ctx.oldRaw)
	m.cache.MarkDirty(ctx.ph)
	m.cache.Release(ctx.ph)
	ctx.lock.Unlock()
}

// Close releases the Data Item manager's resources (the cache and WAL
// are owned by the caller and closed separately).
func (m *Manager) Close() error { return nil }
