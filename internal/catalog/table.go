package catalog

// tableEntry is the on-disk shape of one Table catalog entry:
// `[name][next_uid:u64][field_uid:u64 ...]`.
type tableEntry struct {
	name      string
	nextUid   uint64
	fieldUids []uint64
}

func encodeTableEntry(t tableEntry) []byte {
	name := []byte(t.name)
	size := lenBytesSize(name) + 8 + 8*len(t.fieldUids)
	buf := make([]byte, size)
	off := putLenBytes(buf, 0, name)
	byteOrder.PutUint64(buf[off:off+8], t.nextUid)
	off += 8
	for _, uid := range t.fieldUids {
		byteOrder.PutUint64(buf[off:off+8], uid)
		off += 8
	}
	return buf
}

func decodeTableEntry(raw []byte) tableEntry {
	var t tableEntry
	var nameBytes []byte
	nameBytes, off := readLenBytes(raw, 0)
	t.name = string(nameBytes)
	t.nextUid = byteOrder.Uint64(raw[off : off+8])
	off += 8
	for off < len(raw) {
		t.fieldUids = append(t.fieldUids, byteOrder.Uint64(raw[off:off+8]))
		off += 8
	}
	return t
}

// Table is the decoded, in-memory view of a catalog entry: its own entry
// uid (for chain rewrites), the chain's next-table uid, and its fields in
// declaration order.
type Table struct {
	Name    string
	selfUid uint64
	nextUid uint64
	Fields  []Field
}

// Field looks up a column by name.
func (t *Table) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Primary returns the table's primary key field.
func (t *Table) Primary() (Field, bool) {
	for _, f := range t.Fields {
		if f.Primary {
			return f, true
		}
	}
	return Field{}, false
}
