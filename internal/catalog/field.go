// Package catalog implements the table/field catalog (spec §4.10): a
// singly-linked chain of Table entries anchored in a booter file, table
// and field metadata stored as plain data items under the super
// transaction (without the xmin/xmax header that MVCC row entries carry),
// and the row codec used to turn a column map into wire bytes and back.
package catalog

import "encoding/binary"

var byteOrder = binary.BigEndian

// FieldType is one of the three column types spec.md recognizes.
type FieldType int

const (
	TypeInt32 FieldType = iota
	TypeInt64
	TypeString
)

func (t FieldType) String() string {
	switch t {
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

// ParseFieldType maps a type name to FieldType, ok=false if unrecognized.
func ParseFieldType(name string) (FieldType, bool) {
	switch name {
	case "int32":
		return TypeInt32, true
	case "int64":
		return TypeInt64, true
	case "string":
		return TypeString, true
	default:
		return 0, false
	}
}

// Field is one column's catalog metadata: `[name][type][index_uid:u64][unique:u8][primary:u8]`.
// IndexUid is the uid of this field's root-pointer Data Item (0 means not
// indexed); primary implies unique implies indexed, per spec.md §3.
type Field struct {
	Name     string
	Type     FieldType
	IndexUid uint64
	Unique   bool
	Primary  bool
}

func (f Field) Indexed() bool { return f.IndexUid != 0 }

func putLenBytes(buf []byte, off int, s []byte) int {
	byteOrder.PutUint16(buf[off:off+2], uint16(len(s)))
	off += 2
	copy(buf[off:off+len(s)], s)
	return off + len(s)
}

func readLenBytes(raw []byte, off int) ([]byte, int) {
	n := int(byteOrder.Uint16(raw[off : off+2]))
	off += 2
	return raw[off : off+n], off + n
}

func lenBytesSize(s []byte) int { return 2 + len(s) }

func encodeField(f Field) []byte {
	name := []byte(f.Name)
	typ := []byte(f.Type.String())
	size := lenBytesSize(name) + lenBytesSize(typ) + 8 + 1 + 1
	buf := make([]byte, size)
	off := 0
	off = putLenBytes(buf, off, name)
	off = putLenBytes(buf, off, typ)
	byteOrder.PutUint64(buf[off:off+8], f.IndexUid)
	off += 8
	if f.Unique {
		buf[off] = 1
	}
	off++
	if f.Primary {
		buf[off] = 1
	}
	off++
	return buf
}

func decodeField(raw []byte) Field {
	var f Field
	off := 0
	var nameBytes, typeBytes []byte
	nameBytes, off = readLenBytes(raw, off)
	typeBytes, off = readLenBytes(raw, off)
	f.Name = string(nameBytes)
	typ, _ := ParseFieldType(string(typeBytes))
	f.Type = typ
	f.IndexUid = byteOrder.Uint64(raw[off : off+8])
	off += 8
	f.Unique = raw[off] != 0
	off++
	f.Primary = raw[off] != 0
	return f
}
