package wal

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"os"

	"github.com/leengari/mini-rdbms/internal/errs"
)

// scanAndValidate re-validates every record from FileHeaderSize forward,
// per spec §4.2's open-time recovery scan: payload_len must be
// non-negative, end_lsn must equal pos+HDR+payload_len, and the CRC must
// match. The position of the last valid record becomes the new file
// length; flushedLSN is clamped down to it and checkpointLSN is clamped
// to flushedLSN.
func scanAndValidate(f *os.File, hdr FileHeader) (validEnd int64, flushedLSN, checkpointLSN uint64, err error) {
	pos := int64(FileHeaderSize)
	header := make([]byte, RecordHeaderSize)

	for {
		n, readErr := f.ReadAt(header, pos)
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return 0, 0, 0, errs.Wrap(errs.BadLogFile, "scan: read record header", readErr)
		}
		if n < RecordHeaderSize {
			break // trailing partial header: stop, this is the tail to discard
		}

		payloadLen := binary.BigEndian.Uint32(header[0:4])
		recordCRC := binary.BigEndian.Uint32(header[4:8])
		endLSN := binary.BigEndian.Uint64(header[8:16])

		if endLSN != uint64(pos)+RecordHeaderSize+uint64(payloadLen) {
			break
		}

		payload := make([]byte, payloadLen)
		n, readErr = f.ReadAt(payload, pos+RecordHeaderSize)
		if uint32(n) < payloadLen {
			break
		}
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return 0, 0, 0, errs.Wrap(errs.BadLogFile, "scan: read payload", readErr)
		}
		if crc32.ChecksumIEEE(payload) != recordCRC {
			break
		}
		if _, err := decodeRecordPayload(payload); err != nil {
			break
		}

		pos = int64(endLSN)
	}

	validEnd = pos
	flushedLSN = hdr.FlushedLSN
	if flushedLSN > uint64(validEnd) {
		flushedLSN = uint64(validEnd)
	}
	checkpointLSN = hdr.CheckpointLSN
	if checkpointLSN > flushedLSN {
		checkpointLSN = flushedLSN
	}
	return validEnd, flushedLSN, checkpointLSN, nil
}

// Reader replays validated records forward from the start of the log,
// for use by the Recovery subsystem (spec §4.5).
type Reader struct {
	file *os.File
	pos  int64
}

func newReader(f *os.File) (*Reader, error) {
	return &Reader{file: f, pos: FileHeaderSize}, nil
}

// Next returns the next record and its end LSN, or io.EOF once the
// reader reaches the end of the (already-truncated, already-valid) log.
func (r *Reader) Next() (*Record, error) {
	header := make([]byte, RecordHeaderSize)
	if _, err := r.file.ReadAt(header, r.pos); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errs.Wrap(errs.BadLogFile, "reader: read header", err)
	}
	payloadLen := binary.BigEndian.Uint32(header[0:4])
	endLSN := binary.BigEndian.Uint64(header[8:16])

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := r.file.ReadAt(payload, r.pos+RecordHeaderSize); err != nil && !errors.Is(err, io.EOF) {
			return nil, errs.Wrap(errs.BadLogFile, "reader: read payload", err)
		}
	}

	rec, err := decodeRecordPayload(payload)
	if err != nil {
		return nil, err
	}
	rec.EndLSN = endLSN
	r.pos = int64(endLSN)
	return &rec, nil
}

// Reset rewinds the reader to the first record.
func (r *Reader) Reset() { r.pos = FileHeaderSize }
