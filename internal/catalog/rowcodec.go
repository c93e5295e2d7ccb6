package catalog

import "github.com/leengari/mini-rdbms/internal/errs"

// Row is a decoded row: column name -> value (int32, int64, or string).
type Row map[string]any

func zeroValue(t FieldType) any {
	switch t {
	case TypeInt32:
		return int32(0)
	case TypeInt64:
		return int64(0)
	default:
		return ""
	}
}

// EncodeRow lays out values in the table's declared field order: fixed
// width for int32/int64, length-prefixed for string. Missing values
// default to the type's zero value, per spec.md §4.10 INSERT semantics.
func EncodeRow(table *Table, values Row) ([]byte, error) {
	size := 0
	for _, f := range table.Fields {
		v, ok := values[f.Name]
		if !ok {
			v = zeroValue(f.Type)
		}
		n, err := fieldSize(f, v)
		if err != nil {
			return nil, err
		}
		size += n
	}

	buf := make([]byte, size)
	off := 0
	for _, f := range table.Fields {
		v, ok := values[f.Name]
		if !ok {
			v = zeroValue(f.Type)
		}
		n, err := writeField(buf[off:], f, v)
		if err != nil {
			return nil, err
		}
		off += n
	}
	return buf, nil
}

func fieldSize(f Field, v any) (int, error) {
	switch f.Type {
	case TypeInt32:
		return 4, nil
	case TypeInt64:
		return 8, nil
	case TypeString:
		s, err := asString(v)
		if err != nil {
			return 0, err
		}
		return 2 + len(s), nil
	default:
		return 0, errs.New(errs.InvalidField, "unknown field type")
	}
}

func writeField(buf []byte, f Field, v any) (int, error) {
	switch f.Type {
	case TypeInt32:
		i, err := asInt32(v)
		if err != nil {
			return 0, err
		}
		byteOrder.PutUint32(buf[0:4], uint32(i))
		return 4, nil
	case TypeInt64:
		i, err := asInt64(v)
		if err != nil {
			return 0, err
		}
		byteOrder.PutUint64(buf[0:8], uint64(i))
		return 8, nil
	case TypeString:
		s, err := asString(v)
		if err != nil {
			return 0, err
		}
		byteOrder.PutUint16(buf[0:2], uint16(len(s)))
		copy(buf[2:2+len(s)], s)
		return 2 + len(s), nil
	default:
		return 0, errs.New(errs.InvalidField, "unknown field type")
	}
}

// DecodeRow is EncodeRow's inverse.
func DecodeRow(table *Table, raw []byte) (Row, error) {
	row := make(Row, len(table.Fields))
	off := 0
	for _, f := range table.Fields {
		switch f.Type {
		case TypeInt32:
			row[f.Name] = int32(byteOrder.Uint32(raw[off : off+4]))
			off += 4
		case TypeInt64:
			row[f.Name] = int64(byteOrder.Uint64(raw[off : off+8]))
			off += 8
		case TypeString:
			n := int(byteOrder.Uint16(raw[off : off+2]))
			off += 2
			row[f.Name] = string(raw[off : off+n])
			off += n
		default:
			return nil, errs.New(errs.InvalidField, "unknown field type")
		}
	}
	return row, nil
}

func asInt32(v any) (int32, error) {
	switch n := v.(type) {
	case int32:
		return n, nil
	case int64:
		return int32(n), nil
	case int:
		return int32(n), nil
	default:
		return 0, errs.New(errs.InvalidValues, "expected int32 value")
	}
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, errs.New(errs.InvalidValues, "expected int64 value")
	}
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", errs.New(errs.InvalidValues, "expected string value")
	}
	return s, nil
}

// IndexKey converts a column value to the int64 key the B+ tree index
// stores it under: ints pass through; strings hash-fold into an int64
// (spec.md's tree is keyed on int64, so a string-typed unique/indexed
// column is ordered by this fold rather than lexicographically).
func IndexKey(v any) (int64, error) {
	switch n := v.(type) {
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		var h int64 = 1469598103934665603 // FNV-1a offset basis
		for i := 0; i < len(n); i++ {
			h ^= int64(n[i])
			h *= 1099511628211
		}
		return h, nil
	default:
		return 0, errs.New(errs.InvalidValues, "unsupported index key type")
	}
}
