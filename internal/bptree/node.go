// Package bptree implements the persistent B+ tree index (spec §4.9,
// data model §3): nodes are Data Items written under the super
// transaction, addressed by uid, with the tree's root uid held outside
// the tree (by the catalog, in a root-pointer item) so root splits are
// just a pointer swap from the caller's point of view.
package bptree

import (
	"encoding/binary"
	"math"
)

var byteOrder = binary.BigEndian

// SentinelMax marks an internal node's rightmost slot: "no upper bound",
// so a search for any key larger than everything inserted so far still
// routes somewhere.
const SentinelMax = int64(math.MaxInt64)

// node is the decoding of one B+ tree node's Data Item payload.
//
// Layout: [is_leaf:u8][key_count:u16][sibling_uid:u64] { [son_uid:u64][key:i64] }*count
//
// Leaf entries are (row_uid, key); internal entries are (child_uid,
// max_key_in_child), with the last entry's key forced to SentinelMax.
type node struct {
	uid     uint64
	leaf    bool
	sibling uint64
	keys    []int64
	ptrs    []uint64
}

const nodeHeaderSize = 1 + 2 + 8
const entrySize = 8 + 8

func encodeNode(n *node) []byte {
	buf := make([]byte, nodeHeaderSize+entrySize*len(n.keys))
	off := 0
	if n.leaf {
		buf[off] = 1
	}
	off++
	byteOrder.PutUint16(buf[off:off+2], uint16(len(n.keys)))
	off += 2
	byteOrder.PutUint64(buf[off:off+8], n.sibling)
	off += 8
	for i := range n.keys {
		byteOrder.PutUint64(buf[off:off+8], n.ptrs[i])
		off += 8
		byteOrder.PutUint64(buf[off:off+8], uint64(n.keys[i]))
		off += 8
	}
	return buf
}

func decodeNode(uid uint64, raw []byte) *node {
	n := &node{uid: uid}
	off := 0
	n.leaf = raw[off] == 1
	off++
	count := int(byteOrder.Uint16(raw[off : off+2]))
	off += 2
	n.sibling = byteOrder.Uint64(raw[off : off+8])
	off += 8
	n.keys = make([]int64, count)
	n.ptrs = make([]uint64, count)
	for i := 0; i < count; i++ {
		n.ptrs[i] = byteOrder.Uint64(raw[off : off+8])
		off += 8
		n.keys[i] = int64(byteOrder.Uint64(raw[off : off+8]))
		off += 8
	}
	return n
}

// childFor returns the first index whose key is >= target: the routing
// rule shared by insert-descent and search-descent (spec §4.9: "first
// slot with existing_key >= key").
func (n *node) childFor(target int64) int {
	lo, hi := 0, len(n.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if n.keys[mid] >= target {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo == len(n.keys) && lo > 0 {
		return lo - 1 // raced a concurrent split / no exact slot: last entry covers the tail
	}
	return lo
}

func (n *node) insertEntry(idx int, key int64, ptr uint64) {
	n.keys = append(n.keys, 0)
	n.ptrs = append(n.ptrs, 0)
	copy(n.keys[idx+1:], n.keys[idx:])
	copy(n.ptrs[idx+1:], n.ptrs[idx:])
	n.keys[idx] = key
	n.ptrs[idx] = ptr
}

func (n *node) removeEntry(idx int) {
	n.keys = append(n.keys[:idx], n.keys[idx+1:]...)
	n.ptrs = append(n.ptrs[:idx], n.ptrs[idx+1:]...)
}
