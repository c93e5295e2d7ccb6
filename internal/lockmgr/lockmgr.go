// Package lockmgr implements the per-row lock manager (spec §4.8): a
// wait-for graph over transaction and resource nodes, with DFS-based
// deadlock detection and FIFO-fair waiter queues.
package lockmgr

import (
	"sync"
	"time"

	"github.com/leengari/mini-rdbms/internal/errs"
)

type latch struct {
	ch   chan struct{}
	once sync.Once
}

func newLatch() *latch { return &latch{ch: make(chan struct{})} }

func (l *latch) signal() { l.once.Do(func() { close(l.ch) }) }

func (l *latch) wait(timeout time.Duration) bool {
	select {
	case <-l.ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

type txNode struct {
	xid     uint64
	holds   map[uint64]bool
	waiting uint64 // uid this xid is blocked on, 0 if not waiting
	latch   *latch
}

type resNode struct {
	holder  uint64 // xid, 0 means unheld (xid 0 never takes locks)
	waiters []uint64
}

// Manager is the lock manager. One mutex protects both maps; deadlock
// detection runs under it.
type Manager struct {
	mu      sync.Mutex
	txs     map[uint64]*txNode
	res     map[uint64]*resNode
	stamp   int
	timeout time.Duration
}

// New builds a lock manager with the given wait timeout.
func New(timeout time.Duration) *Manager {
	return &Manager{
		txs:     make(map[uint64]*txNode),
		res:     make(map[uint64]*resNode),
		timeout: timeout,
	}
}

func (m *Manager) txNodeLocked(xid uint64) *txNode {
	t, ok := m.txs[xid]
	if !ok {
		t = &txNode{xid: xid, holds: make(map[uint64]bool)}
		m.txs[xid] = t
	}
	return t
}

func (m *Manager) resNodeLocked(uid uint64) *resNode {
	r, ok := m.res[uid]
	if !ok {
		r = &resNode{}
		m.res[uid] = r
	}
	return r
}

// Acquire takes uid on behalf of xid, blocking (with a 30s-class
// timeout) if another transaction already holds it. It returns
// errs.Deadlock immediately if granting the wait would close a cycle in
// the wait-for graph, or errs.LockWaitTimeout if the wait expires.
func (m *Manager) Acquire(xid, uid uint64) error {
	if xid == 0 {
		return nil // super transaction bypasses locking
	}

	m.mu.Lock()
	tx := m.txNodeLocked(xid)
	res := m.resNodeLocked(uid)

	if res.holder == xid {
		m.mu.Unlock()
		return nil
	}
	if res.holder == 0 {
		res.holder = xid
		tx.holds[uid] = true
		m.mu.Unlock()
		return nil
	}

	tx.waiting = uid
	res.waiters = append(res.waiters, xid)
	l := newLatch()
	tx.latch = l

	if m.hasCycleLocked(xid) {
		tx.waiting = 0
		removeXid(&res.waiters, xid)
		m.mu.Unlock()
		return errs.Sentinel(errs.Deadlock)
	}
	m.mu.Unlock()

	if !l.wait(m.timeout) {
		m.mu.Lock()
		// If still waiting (not granted meanwhile), poison with timeout.
		if tx.waiting == uid {
			tx.waiting = 0
			if r, ok := m.res[uid]; ok {
				removeXid(&r.waiters, xid)
			}
		}
		m.mu.Unlock()
		return errs.Sentinel(errs.LockWaitTimeout)
	}
	return nil
}

// hasCycleLocked runs a DFS from xid over wait-for edges using a rising
// stamp counter; revisiting a node stamped with the current stamp means a
// cycle. Must be called with m.mu held.
func (m *Manager) hasCycleLocked(xid uint64) bool {
	m.stamp++
	stamp := m.stamp
	visited := make(map[uint64]int)

	var dfs func(cur uint64) bool
	dfs = func(cur uint64) bool {
		if visited[cur] == stamp {
			return true
		}
		visited[cur] = stamp
		node, ok := m.txs[cur]
		if !ok || node.waiting == 0 {
			return false
		}
		res, ok := m.res[node.waiting]
		if !ok || res.holder == 0 {
			return false
		}
		return dfs(res.holder)
	}
	return dfs(xid)
}

func removeXid(list *[]uint64, xid uint64) {
	out := (*list)[:0]
	for _, x := range *list {
		if x != xid {
			out = append(out, x)
		}
	}
	*list = out
}

// Release drops xid's hold on uid alone, transferring it to the next
// FIFO waiter (if any) without terminating xid's other locks.
func (m *Manager) Release(xid, uid uint64) {
	if xid == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseOneLocked(xid, uid)
}

func (m *Manager) releaseOneLocked(xid, uid uint64) {
	tx, ok := m.txs[xid]
	if ok {
		delete(tx.holds, uid)
	}
	res, ok := m.res[uid]
	if !ok || res.holder != xid {
		return
	}
	if len(res.waiters) == 0 {
		res.holder = 0
		return
	}
	next := res.waiters[0]
	res.waiters = res.waiters[1:]
	res.holder = next
	if nextTx, ok := m.txs[next]; ok {
		nextTx.waiting = 0
		nextTx.holds[uid] = true
		if nextTx.latch != nil {
			nextTx.latch.signal()
		}
	}
}

// Clear releases every uid held by xid, and if xid itself was waiting on
// a resource, removes that edge and wakes it through the
// poisoned-transaction path. Call this exactly once, at transaction
// termination.
func (m *Manager) Clear(xid uint64) {
	if xid == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[xid]
	if !ok {
		return
	}
	for uid := range tx.holds {
		m.releaseOneLocked(xid, uid)
	}
	if tx.waiting != 0 {
		if res, ok := m.res[tx.waiting]; ok {
			removeXid(&res.waiters, xid)
		}
		tx.waiting = 0
		if tx.latch != nil {
			tx.latch.signal()
		}
	}
	delete(m.txs, xid)
}
