package bptree

import (
	"sync"

	"github.com/leengari/mini-rdbms/internal/errs"
	"github.com/leengari/mini-rdbms/internal/storage/dataitem"
)

// superXid is the writer identity for every index node: it bypasses
// row-level locking and MVCC visibility (spec §4.9: index nodes are
// "stored as MVCC data items under the super transaction").
const superXid = 0

// Tree is a persistent B+ tree index over Data Items, fanning out at
// 2*Order entries per node before splitting (Order is spec's
// BALANCE_NUMBER). unique records whether the index backs a unique or
// primary field; the tree itself accepts duplicate keys either way.
type Tree struct {
	items   *dataitem.Manager
	mu      sync.RWMutex
	rootUid uint64
	order   int
	unique  bool
}

// New creates an empty tree (a single empty leaf root).
func New(items *dataitem.Manager, order int, unique bool) (*Tree, error) {
	root := &node{leaf: true}
	uid, err := writeNode(items, root)
	if err != nil {
		return nil, err
	}
	return &Tree{items: items, rootUid: uid, order: order, unique: unique}, nil
}

// Open attaches to a tree whose root pointer the catalog already persists.
func Open(items *dataitem.Manager, rootUid uint64, order int, unique bool) *Tree {
	return &Tree{items: items, rootUid: rootUid, order: order, unique: unique}
}

// RootUid returns the current root pointer, for the catalog to persist in
// its root-pointer item.
func (t *Tree) RootUid() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootUid
}

func writeNode(items *dataitem.Manager, n *node) (uint64, error) {
	uid, _, err := items.Insert(superXid, encodeNode(n))
	return uid, err
}

func (t *Tree) loadNode(uid uint64) (*node, error) {
	h, err := t.items.Read(uid)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, errs.New(errs.NullEntry, "index node missing")
	}
	defer t.items.Release(h)
	return decodeNode(uid, h.Payload), nil
}

// Insert places key -> uid. Duplicate keys are accepted in every tree,
// unique or not: an UPDATE, or a DELETE followed by an INSERT, leaves the
// older row version's entry under the same key. Uniqueness is checked by
// the executor against rows visible to the writing transaction before it
// calls Insert; that check and this insert do not run under one lock, so
// two concurrent inserts of the same key can both pass it.
func (t *Tree) Insert(key int64, uid uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, err := t.loadNode(t.rootUid)
	if err != nil {
		return err
	}
	newUid, newMax, splitUid, _, split, err := t.insertInto(root, key, uid)
	if err != nil {
		return err
	}
	if !split {
		t.rootUid = newUid
		return nil
	}

	// The tree's root has no parent, so a root split always produces a
	// new root whose rightmost entry is the sentinel: there is no
	// external upper bound above the whole tree.
	newRoot := &node{leaf: false, keys: []int64{newMax, SentinelMax}, ptrs: []uint64{newUid, splitUid}}
	rootUid, err := writeNode(t.items, newRoot)
	if err != nil {
		return err
	}
	t.rootUid = rootUid
	return nil
}

// insertInto inserts into the subtree rooted at n, splitting n if it
// overflows past 2*order entries. It returns n's replacement uid and its
// current max key, plus a new sibling's uid/max key if n split.
func (t *Tree) insertInto(n *node, key int64, uid uint64) (newUid uint64, maxKey int64, splitUid uint64, splitMaxKey int64, split bool, err error) {
	if n.leaf {
		idx := n.childFor(key)
		if idx < len(n.keys) && n.keys[idx] < key {
			idx++ // every existing key is smaller: append at the end
		}
		n.insertEntry(idx, key, uid)

		if len(n.keys) != 2*t.order {
			uidOut, err := writeNode(t.items, n)
			return uidOut, n.keys[len(n.keys)-1], 0, 0, false, err
		}

		mid := t.order
		leftKeys := append([]int64(nil), n.keys[:mid]...)
		leftPtrs := append([]uint64(nil), n.ptrs[:mid]...)
		rightKeys := append([]int64(nil), n.keys[mid:]...)
		rightPtrs := append([]uint64(nil), n.ptrs[mid:]...)

		right := &node{leaf: true, sibling: n.sibling, keys: rightKeys, ptrs: rightPtrs}
		rightUid, err := writeNode(t.items, right)
		if err != nil {
			return 0, 0, 0, 0, false, err
		}
		left := &node{leaf: true, sibling: rightUid, keys: leftKeys, ptrs: leftPtrs}
		leftUid, err := writeNode(t.items, left)
		if err != nil {
			return 0, 0, 0, 0, false, err
		}
		return leftUid, leftKeys[len(leftKeys)-1], rightUid, rightKeys[len(rightKeys)-1], true, nil
	}

	i := n.childFor(key)
	child, err := t.loadNode(n.ptrs[i])
	if err != nil {
		return 0, 0, 0, 0, false, err
	}
	childNewUid, childMaxKey, splitChildUid, splitChildMaxKey, childSplit, err := t.insertInto(child, key, uid)
	if err != nil {
		return 0, 0, 0, 0, false, err
	}

	n.ptrs[i] = childNewUid
	wasSentinel := n.keys[i] == SentinelMax
	if !wasSentinel {
		n.keys[i] = childMaxKey
	}

	if childSplit {
		newKey := splitChildMaxKey
		if wasSentinel {
			n.keys[i] = childMaxKey
			newKey = SentinelMax
		}
		n.insertEntry(i+1, newKey, splitChildUid)
	}

	if len(n.keys) != 2*t.order {
		uidOut, err := writeNode(t.items, n)
		return uidOut, n.keys[len(n.keys)-1], 0, 0, false, err
	}

	mid := t.order
	leftKeys := append([]int64(nil), n.keys[:mid]...)
	leftPtrs := append([]uint64(nil), n.ptrs[:mid]...)
	rightKeys := append([]int64(nil), n.keys[mid:]...)
	rightPtrs := append([]uint64(nil), n.ptrs[mid:]...)

	right := &node{leaf: false, keys: rightKeys, ptrs: rightPtrs}
	rightUid, err := writeNode(t.items, right)
	if err != nil {
		return 0, 0, 0, 0, false, err
	}
	left := &node{leaf: false, keys: leftKeys, ptrs: leftPtrs}
	leftUid, err := writeNode(t.items, left)
	if err != nil {
		return 0, 0, 0, 0, false, err
	}
	return leftUid, leftKeys[len(leftKeys)-1], rightUid, rightKeys[len(rightKeys)-1], true, nil
}

// Range returns every uid with lo <= key <= hi, walking the leaf chain.
func (t *Tree) Range(lo, hi int64) ([]uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rangeLocked(lo, hi)
}

func (t *Tree) rangeLocked(lo, hi int64) ([]uint64, error) {
	if lo > hi {
		return nil, nil
	}
	n, err := t.loadNode(t.rootUid)
	if err != nil {
		return nil, err
	}
	for !n.leaf {
		i := n.childFor(lo)
		n, err = t.loadNode(n.ptrs[i])
		if err != nil {
			return nil, err
		}
	}

	var out []uint64
	for {
		for idx, k := range n.keys {
			if k < lo {
				continue
			}
			if k > hi {
				return out, nil
			}
			out = append(out, n.ptrs[idx])
		}
		if n.sibling == 0 {
			break
		}
		n, err = t.loadNode(n.sibling)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Search returns every uid stored under key (more than one only for a
// non-unique index).
func (t *Tree) Search(key int64) ([]uint64, error) { return t.Range(key, key) }

// Exists reports whether key has at least one entry in the tree. Entries
// are not checked for visibility to any transaction.
func (t *Tree) Exists(key int64) (bool, error) {
	matches, err := t.Search(key)
	return len(matches) > 0, err
}

// Delete removes the first entry matching (key, uid) exactly. It does
// not rebalance underfull or now-empty nodes: spec.md only specifies
// Insert and range Search for this structure, and deletion here only
// needs to make an entry's key stop resolving, not keep the tree
// maximally compact (no vacuum/compaction pass is in scope).
func (t *Tree) Delete(key int64, uid uint64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, err := t.loadNode(t.rootUid)
	if err != nil {
		return false, err
	}
	newRootUid, _, found, err := t.deleteFrom(root, key, uid)
	if err != nil || !found {
		return found, err
	}
	t.rootUid = newRootUid
	return true, nil
}

func (t *Tree) deleteFrom(n *node, key int64, uid uint64) (newUid uint64, maxKey int64, found bool, err error) {
	if n.leaf {
		idx := -1
		for i, k := range n.keys {
			if k == key && n.ptrs[i] == uid {
				idx = i
				break
			}
			if k > key {
				break
			}
		}
		if idx < 0 {
			last := int64(0)
			if len(n.keys) > 0 {
				last = n.keys[len(n.keys)-1]
			}
			return n.uid, last, false, nil
		}
		n.removeEntry(idx)
		last := int64(0)
		if len(n.keys) > 0 {
			last = n.keys[len(n.keys)-1]
		}
		newUidOut, err := writeNode(t.items, n)
		return newUidOut, last, true, err
	}

	i := n.childFor(key)
	child, err := t.loadNode(n.ptrs[i])
	if err != nil {
		return 0, 0, false, err
	}
	childUid, childMax, found, err := t.deleteFrom(child, key, uid)
	if err != nil || !found {
		last := int64(0)
		if len(n.keys) > 0 {
			last = n.keys[len(n.keys)-1]
		}
		return n.uid, last, found, err
	}
	n.ptrs[i] = childUid
	if n.keys[i] != SentinelMax {
		n.keys[i] = childMax
	}
	newUidOut, err := writeNode(t.items, n)
	last := n.keys[len(n.keys)-1]
	return newUidOut, last, true, err
}
