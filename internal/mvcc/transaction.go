// Package mvcc implements the multi-version concurrency layer (spec
// §4.7): transaction lifecycle, xmin/xmax entry encoding, RC/RR
// visibility, and the read/insert/delete/read_for_update operations that
// sit between the Catalog/Executor and the Data Item layer.
package mvcc

import (
	"sync"

	"github.com/leengari/mini-rdbms/internal/errs"
)

// IsolationLevel is one of the two levels spec.md recognizes.
type IsolationLevel int

const (
	ReadCommitted IsolationLevel = iota
	RepeatableRead
)

// SuperXid is the synthetic transaction that writes catalog and index
// metadata: always committed, bypasses visibility and locking.
const SuperXid uint64 = 0

// Transaction is the in-memory record for one in-flight transaction.
type Transaction struct {
	Xid        uint64
	Level      IsolationLevel
	Snapshot   map[uint64]bool // active xids at begin time; populated only for RR
	Err        error           // poisons every subsequent op on this xid once set
	AutoAbort  bool
	Terminated bool
	LastLSN    uint64 // highest WAL end-LSN produced by this transaction so far
}

func (t *Transaction) inSnapshot(xid uint64) bool {
	return t.Snapshot != nil && t.Snapshot[xid]
}

func (t *Transaction) poison(err error) error {
	t.Err = err
	t.AutoAbort = true
	return err
}

// table is the process-wide map of active transactions, guarded by one
// mutex (spec §5: "a single mutex guards the active-transactions table.
// Snapshots are captured under that mutex at begin time and are immutable
// thereafter.").
type table struct {
	mu     sync.Mutex
	active map[uint64]*Transaction
}

func newTable() *table {
	return &table{active: make(map[uint64]*Transaction)}
}

func (t *table) lookup(xid uint64) (*Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tx, ok := t.active[xid]
	if !ok {
		return nil, errs.Sentinel(errs.NoTransaction)
	}
	if tx.Err != nil {
		return nil, tx.Err
	}
	return tx, nil
}

func (t *table) insert(tx *Transaction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[tx.Xid] = tx
}

func (t *table) remove(xid uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, xid)
}

func (t *table) snapshotOfActive() map[uint64]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := make(map[uint64]bool, len(t.active))
	for xid := range t.active {
		snap[xid] = true
	}
	return snap
}
