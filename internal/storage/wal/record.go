// Package wal implements the write-ahead log (spec §4.2): a three-stage
// append/write/flush pipeline over a ring buffer, with a recovery reader
// that validates and truncates a damaged tail on open.
package wal

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/leengari/mini-rdbms/internal/errs"
)

var byteOrder = binary.BigEndian

const (
	// Magic identifies a valid WAL file.
	Magic uint32 = 0x4D494E49 // "MINI"
	// Version is the current WAL format version.
	Version uint32 = 1

	// FileHeaderSize is [MAGIC:u32 VERSION:u32 HDR_CRC:u32
	// CHECKPOINT_LSN:u64 FLUSHED_LSN:u64 RESERVED:u32].
	FileHeaderSize = 4 + 4 + 4 + 8 + 8 + 4

	// RecordHeaderSize is [payload_len:u32 record_crc:u32 end_lsn:u64].
	RecordHeaderSize = 4 + 4 + 8
)

// OpKind distinguishes the two payload shapes a log record can carry.
type OpKind uint8

const (
	OpInsert OpKind = 0x00
	OpUpdate OpKind = 0x01
)

// FileHeader is the WAL's 32-byte preamble.
type FileHeader struct {
	CheckpointLSN uint64
	FlushedLSN    uint64
}

func (h FileHeader) encode() []byte {
	buf := make([]byte, FileHeaderSize)
	byteOrder.PutUint32(buf[0:4], Magic)
	byteOrder.PutUint32(buf[4:8], Version)
	byteOrder.PutUint64(buf[12:20], h.CheckpointLSN)
	byteOrder.PutUint64(buf[20:28], h.FlushedLSN)
	crc := crc32.ChecksumIEEE(buf[12:28])
	byteOrder.PutUint32(buf[8:12], crc)
	return buf
}

func decodeFileHeader(buf []byte) (FileHeader, error) {
	if len(buf) < FileHeaderSize {
		return FileHeader{}, errs.New(errs.BadLogFile, "truncated file header")
	}
	if byteOrder.Uint32(buf[0:4]) != Magic {
		return FileHeader{}, errs.New(errs.BadLogFile, "bad magic")
	}
	if byteOrder.Uint32(buf[4:8]) != Version {
		return FileHeader{}, errs.New(errs.BadLogFile, "unsupported version")
	}
	wantCRC := byteOrder.Uint32(buf[8:12])
	gotCRC := crc32.ChecksumIEEE(buf[12:28])
	if wantCRC != gotCRC {
		return FileHeader{}, errs.New(errs.BadLogFile, "header CRC mismatch")
	}
	return FileHeader{
		CheckpointLSN: byteOrder.Uint64(buf[12:20]),
		FlushedLSN:    byteOrder.Uint64(buf[20:28]),
	}, nil
}

// InsertPayload is the insert log-record shape: a brand-new data item's
// raw bytes at a fixed (pgno, offset).
type InsertPayload struct {
	Xid    uint64
	Pgno   uint32
	Offset uint16
	Raw    []byte
}

func (p InsertPayload) encode() []byte {
	buf := make([]byte, 1+8+4+2+len(p.Raw))
	buf[0] = byte(OpInsert)
	byteOrder.PutUint64(buf[1:9], p.Xid)
	byteOrder.PutUint32(buf[9:13], p.Pgno)
	byteOrder.PutUint16(buf[13:15], p.Offset)
	copy(buf[15:], p.Raw)
	return buf
}

func decodeInsertPayload(buf []byte) (InsertPayload, error) {
	if len(buf) < 15 {
		return InsertPayload{}, errs.New(errs.InvalidLogOp, "short insert payload")
	}
	return InsertPayload{
		Xid:    byteOrder.Uint64(buf[1:9]),
		Pgno:   byteOrder.Uint32(buf[9:13]),
		Offset: byteOrder.Uint16(buf[13:15]),
		Raw:    append([]byte(nil), buf[15:]...),
	}, nil
}

// UpdatePayload is the update log-record shape: the uid's before- and
// after-image, which must be equal length (spec §4.4).
type UpdatePayload struct {
	Xid uint64
	Uid uint64
	Old []byte
	New []byte
}

func (p UpdatePayload) encode() []byte {
	buf := make([]byte, 1+8+8+len(p.Old)+len(p.New))
	buf[0] = byte(OpUpdate)
	byteOrder.PutUint64(buf[1:9], p.Xid)
	byteOrder.PutUint64(buf[9:17], p.Uid)
	copy(buf[17:17+len(p.Old)], p.Old)
	copy(buf[17+len(p.Old):], p.New)
	return buf
}

func decodeUpdatePayload(buf []byte) (UpdatePayload, error) {
	if len(buf) < 17 {
		return UpdatePayload{}, errs.New(errs.InvalidLogOp, "short update payload")
	}
	rest := buf[17:]
	if len(rest)%2 != 0 {
		return UpdatePayload{}, errs.New(errs.InvalidLogOp, "update payload old/new length mismatch")
	}
	half := len(rest) / 2
	return UpdatePayload{
		Xid: byteOrder.Uint64(buf[1:9]),
		Uid: byteOrder.Uint64(buf[9:17]),
		Old: append([]byte(nil), rest[:half]...),
		New: append([]byte(nil), rest[half:]...),
	}, nil
}

// Record is a fully decoded, validated WAL record plus its end LSN.
type Record struct {
	EndLSN uint64
	Kind   OpKind
	Insert InsertPayload
	Update UpdatePayload
}

// encodeRecord frames payload as [payload_len][record_crc][end_lsn][payload].
func encodeRecord(payload []byte, endLSN uint64) []byte {
	buf := make([]byte, RecordHeaderSize+len(payload))
	byteOrder.PutUint32(buf[0:4], uint32(len(payload)))
	byteOrder.PutUint64(buf[8:16], endLSN)
	copy(buf[RecordHeaderSize:], payload)
	crc := crc32.ChecksumIEEE(payload)
	byteOrder.PutUint32(buf[4:8], crc)
	return buf
}

// decodeRecordPayload turns a validated raw payload into a Record (EndLSN
// filled in by the caller, who already validated it against position).
func decodeRecordPayload(payload []byte) (Record, error) {
	if len(payload) == 0 {
		return Record{}, errs.New(errs.InvalidLogOp, "empty payload")
	}
	switch OpKind(payload[0]) {
	case OpInsert:
		ins, err := decodeInsertPayload(payload)
		if err != nil {
			return Record{}, err
		}
		return Record{Kind: OpInsert, Insert: ins}, nil
	case OpUpdate:
		upd, err := decodeUpdatePayload(payload)
		if err != nil {
			return Record{}, err
		}
		return Record{Kind: OpUpdate, Update: upd}, nil
	default:
		return Record{}, errs.New(errs.InvalidLogOp, "unknown record op")
	}
}
