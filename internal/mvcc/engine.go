package mvcc

import (
	"log/slog"

	"github.com/leengari/mini-rdbms/internal/errs"
	"github.com/leengari/mini-rdbms/internal/lockmgr"
	"github.com/leengari/mini-rdbms/internal/storage/dataitem"
	"github.com/leengari/mini-rdbms/internal/storage/wal"
	"github.com/leengari/mini-rdbms/internal/storage/xid"
)

// Engine is the MVCC layer: transaction lifecycle plus visibility-aware
// reads/writes on top of the Data Item manager.
type Engine struct {
	items  *dataitem.Manager
	locks  *lockmgr.Manager
	xstore *xid.Store
	log    *wal.WAL
	txs    *table

	logger *slog.Logger
}

// New builds an MVCC engine over already-open lower layers.
func New(items *dataitem.Manager, locks *lockmgr.Manager, xstore *xid.Store, w *wal.WAL, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{items: items, locks: locks, xstore: xstore, log: w, txs: newTable(), logger: logger}
}

// LockManager exposes the underlying lock manager, per spec §4.7.
func (e *Engine) LockManager() *lockmgr.Manager { return e.locks }

// Items exposes the underlying Data Item manager so the B+ tree index and
// catalog can write their own super-transaction entries (index nodes,
// root pointers, table/field metadata) directly, bypassing MVCC
// versioning for structures that aren't themselves row data.
func (e *Engine) Items() *dataitem.Manager { return e.items }

// WAL exposes the underlying write-ahead log, for callers (recovery,
// registry lifecycle) that need to flush or inspect it directly.
func (e *Engine) WAL() *wal.WAL { return e.log }

// Begin allocates an xid, builds a Transaction (with a snapshot for RR),
// and registers it in the active-transactions table.
func (e *Engine) Begin(level IsolationLevel) (uint64, error) {
	id, err := e.xstore.Begin()
	if err != nil {
		return 0, err
	}
	tx := &Transaction{Xid: id, Level: level}
	if level == RepeatableRead {
		tx.Snapshot = e.txs.snapshotOfActive()
	}
	e.txs.insert(tx)
	return id, nil
}

func (e *Engine) committed(xid uint64) (bool, error) {
	if xid == SuperXid {
		return true, nil
	}
	return e.xstore.IsCommitted(xid)
}

// visible evaluates spec §4.7's RC/RR rules for entry (xmin, xmax)
// against tx.
func (e *Engine) visible(tx *Transaction, xmin, xmax uint64) (bool, error) {
	self := tx.Xid
	if self == SuperXid {
		return true, nil
	}
	if xmin == self && xmax == 0 {
		return true, nil
	}

	xminCommitted, err := e.committed(xmin)
	if err != nil {
		return false, err
	}
	if !xminCommitted {
		return false, nil
	}

	if tx.Level == ReadCommitted {
		if xmax == 0 {
			return true, nil
		}
		if xmax == self {
			return false, nil
		}
		xmaxCommitted, err := e.committed(xmax)
		if err != nil {
			return false, err
		}
		return !xmaxCommitted, nil
	}

	// Repeatable Read.
	if xmin >= self || tx.inSnapshot(xmin) {
		return false, nil
	}
	if xmax == 0 {
		return true, nil
	}
	if xmax == self {
		return false, nil
	}
	xmaxCommitted, err := e.committed(xmax)
	if err != nil {
		return false, err
	}
	if !xmaxCommitted {
		return true, nil
	}
	return xmax > self || tx.inSnapshot(xmax), nil
}

// versionSkip reports the RR write-write conflict condition: xmax is
// committed and (xmax > self or xmax in snapshot).
func (e *Engine) versionSkip(tx *Transaction, xmax uint64) (bool, error) {
	if tx.Level != RepeatableRead || xmax == 0 {
		return false, nil
	}
	committed, err := e.committed(xmax)
	if err != nil {
		return false, err
	}
	if !committed {
		return false, nil
	}
	return xmax > tx.Xid || tx.inSnapshot(xmax), nil
}

// Read returns the visible body at uid for xid, or ok=false if no
// version of uid is visible.
func (e *Engine) Read(xid uint64, uid uint64) (body []byte, ok bool, err error) {
	tx, err := e.txs.lookup(xid)
	if err != nil {
		return nil, false, err
	}
	h, err := e.items.Read(uid)
	if err != nil {
		return nil, false, err
	}
	if h == nil {
		return nil, false, nil
	}
	defer e.items.Release(h)

	xmin, xmax, raw := decodeEntry(h.Payload)
	visible, err := e.visible(tx, xmin, xmax)
	if err != nil || !visible {
		return nil, false, err
	}
	return append([]byte(nil), raw...), true, nil
}

// Insert writes a fresh MVCC entry with xmin=xid, xmax=0.
func (e *Engine) Insert(xid uint64, body []byte) (uint64, error) {
	tx, err := e.txs.lookup(xid)
	if err != nil {
		return 0, err
	}
	raw := encodeEntry(xid, 0, body)
	uid, lsn, err := e.items.Insert(xid, raw)
	if err != nil {
		return 0, err
	}
	if lsn > tx.LastLSN {
		tx.LastLSN = lsn
	}
	return uid, nil
}

// Delete stamps xmax=xid on uid's current version, after taking the row
// lock and re-checking visibility and write-write conflicts.
func (e *Engine) Delete(xid uint64, uid uint64) (bool, error) {
	tx, err := e.txs.lookup(xid)
	if err != nil {
		return false, err
	}
	if err := e.acquireRow(tx, uid); err != nil {
		return false, err
	}

	ctx, err := e.items.Before(uid)
	if err != nil {
		return false, err
	}
	xmin, xmax, _ := decodeEntry(ctx.OldPayload())

	visible, err := e.visible(tx, xmin, xmax)
	if err != nil {
		e.items.Rollback(ctx)
		return false, tx.poison(err)
	}
	if !visible {
		e.items.Rollback(ctx)
		return false, nil
	}
	skip, err := e.versionSkip(tx, xmax)
	if err != nil {
		e.items.Rollback(ctx)
		return false, tx.poison(err)
	}
	if skip {
		e.items.Rollback(ctx)
		return false, tx.poison(errs.Sentinel(errs.ConcurrentUpdate))
	}

	newRaw := encodeXmax(ctx.OldPayload(), xid)
	if err := ctx.SetPayload(newRaw); err != nil {
		e.items.Rollback(ctx)
		return false, err
	}
	lsn, err := e.items.After(ctx, xid)
	if err != nil {
		return false, err
	}
	if lsn > tx.LastLSN {
		tx.LastLSN = lsn
	}
	return true, nil
}

// ReadForUpdate behaves like Read but takes and holds the row lock until
// the transaction terminates (or an explicit Release).
func (e *Engine) ReadForUpdate(xid uint64, uid uint64) (body []byte, ok bool, err error) {
	tx, err := e.txs.lookup(xid)
	if err != nil {
		return nil, false, err
	}
	if err := e.acquireRow(tx, uid); err != nil {
		return nil, false, err
	}

	h, err := e.items.Read(uid)
	if err != nil {
		return nil, false, err
	}
	if h == nil {
		return nil, false, nil
	}
	defer e.items.Release(h)

	xmin, xmax, raw := decodeEntry(h.Payload)
	visible, err := e.visible(tx, xmin, xmax)
	if err != nil || !visible {
		return nil, false, err
	}
	return append([]byte(nil), raw...), true, nil
}

// ReleaseRow drops xid's lock on uid without terminating the transaction.
func (e *Engine) ReleaseRow(xid, uid uint64) { e.locks.Release(xid, uid) }

func (e *Engine) acquireRow(tx *Transaction, uid uint64) error {
	if err := e.locks.Acquire(tx.Xid, uid); err != nil {
		return tx.poison(err)
	}
	return nil
}

// Commit marks tx terminated, releases its locks, flushes the WAL up to
// its last LSN, and marks it committed in the xid store — in that order,
// so a client is never told "committed" before the WAL durably has it
// (spec §5).
func (e *Engine) Commit(xid uint64) error {
	tx, err := e.txs.lookup(xid)
	if err != nil {
		return err
	}
	tx.Terminated = true
	e.txs.remove(xid)
	e.locks.Clear(xid)
	if tx.LastLSN > 0 {
		if err := e.log.Flush(tx.LastLSN); err != nil {
			return err
		}
	}
	return e.xstore.Commit(xid)
}

// Abort marks tx terminated, releases its locks, and records it aborted.
// No WAL flush is required: an aborted transaction's entries stay
// invisible because their xmin never becomes committed, and recovery
// replays an aborted transaction's records forward rather than undoing
// them.
func (e *Engine) Abort(xid uint64) error {
	tx, err := e.txs.lookup(xid)
	if err != nil {
		return err
	}
	tx.Terminated = true
	e.txs.remove(xid)
	e.locks.Clear(xid)
	return e.xstore.Abort(xid)
}
