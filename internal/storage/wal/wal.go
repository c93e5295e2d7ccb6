package wal

import (
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/leengari/mini-rdbms/internal/errs"
)

// WAL is the write-ahead log for one database. Three roles share one
// mutex and four condition predicates, per spec §4.2:
//
//	Producer (Append)  waits for ring-buffer space,       signals Writer
//	Writer             waits for pending bytes/shutdown,  signals Flusher
//	Flusher            waits for writer progress or an
//	                   external flush target,             signals Waiters
//	Waiter (Flush)     waits for flushedLSN >= target
type WAL struct {
	mu   sync.Mutex
	cond *sync.Cond // broadcast on every state change below; roles re-check their own predicate

	file *os.File

	ringSize    int
	staging     int
	pending     []byte // bytes appended but not yet written to file (the "ring buffer")
	writtenOff  int64  // file offset (beyond the header) up to which bytes are durable-pending
	writerDone  bool
	flusherDone bool

	nextLSN     uint64 // FileHeaderSize + total bytes appended so far
	writtenLSN  uint64 // nextLSN value once pending bytes are written to the file (not yet fsynced)
	flushedLSN  uint64 // durable: header rewritten and fsynced up to here
	checkpoint  uint64
	flushTarget uint64

	running bool
	logger  *slog.Logger
}

// Open opens or creates the WAL file at path and starts its writer and
// flusher goroutines.
func Open(path string, ringSize, stagingSize int, logger *slog.Logger) (*WAL, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errs.Wrap(errs.FileCannotRW, "open WAL file", err)
	}

	w := &WAL{
		file:     f,
		ringSize: ringSize,
		staging:  stagingSize,
		running:  true,
		logger:   logger,
	}
	w.cond = sync.NewCond(&w.mu)

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.FileCannotRW, "stat WAL file", err)
	}
	if info.Size() == 0 {
		hdr := FileHeader{CheckpointLSN: FileHeaderSize, FlushedLSN: FileHeaderSize}
		if _, err := f.WriteAt(hdr.encode(), 0); err != nil {
			f.Close()
			return nil, errs.Wrap(errs.FileCannotRW, "write WAL header", err)
		}
		w.nextLSN = FileHeaderSize
		w.writtenLSN = FileHeaderSize
		w.flushedLSN = FileHeaderSize
		w.checkpoint = FileHeaderSize
	} else {
		hdrBuf := make([]byte, FileHeaderSize)
		if _, err := f.ReadAt(hdrBuf, 0); err != nil {
			f.Close()
			return nil, errs.Wrap(errs.FileCannotRW, "read WAL header", err)
		}
		hdr, err := decodeFileHeader(hdrBuf)
		if err != nil {
			f.Close()
			return nil, err
		}
		validEnd, flushed, checkpoint, scanErr := scanAndValidate(f, hdr)
		if scanErr != nil {
			f.Close()
			return nil, scanErr
		}
		if err := f.Truncate(validEnd); err != nil {
			f.Close()
			return nil, errs.Wrap(errs.FileCannotRW, "truncate WAL tail", err)
		}
		w.nextLSN = uint64(validEnd)
		w.writtenLSN = uint64(validEnd)
		w.writtenOff = validEnd - FileHeaderSize
		w.flushedLSN = flushed
		w.checkpoint = checkpoint
		logger.Info("wal: opened", "end_lsn", validEnd, "flushed_lsn", flushed)
	}

	go w.writerLoop()
	go w.flusherLoop()
	return w, nil
}

// Append reserves space for payload, assigns it the next LSN, and returns
// once it is queued for the Writer (not yet durable — call Flush for
// that). Oversized records are rejected outright.
func (w *WAL) Append(payload []byte) (uint64, error) {
	rec := encodeRecord(payload, 0) // end LSN patched below
	if len(rec) > w.ringSize {
		return 0, errs.New(errs.RecordTooLarge, "record exceeds WAL ring buffer capacity")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for len(w.pending)+len(rec) > w.ringSize && w.running {
		w.cond.Wait()
	}
	if !w.running {
		return 0, errs.New(errs.FileCannotRW, "WAL is closed")
	}

	endLSN := w.nextLSN + uint64(len(rec))
	byteOrder.PutUint64(rec[8:16], endLSN)
	w.nextLSN = endLSN
	w.pending = append(w.pending, rec...)
	w.cond.Broadcast()
	return endLSN, nil
}

// writerLoop drains pending bytes into the file in staging-sized chunks.
func (w *WAL) writerLoop() {
	for {
		w.mu.Lock()
		for len(w.pending) == 0 && w.running {
			w.cond.Wait()
		}
		if !w.running && len(w.pending) == 0 {
			w.writerDone = true
			w.cond.Broadcast()
			w.mu.Unlock()
			return
		}
		n := len(w.pending)
		if n > w.staging {
			n = w.staging
		}
		chunk := append([]byte(nil), w.pending[:n]...)
		off := w.writtenOff
		w.mu.Unlock()

		if _, err := w.file.WriteAt(chunk, FileHeaderSize+off); err != nil {
			w.logger.Error("wal writer: write failed", "error", err)
			continue
		}

		w.mu.Lock()
		w.pending = w.pending[n:]
		w.writtenOff += int64(n)
		w.writtenLSN += uint64(n)
		w.cond.Broadcast()
		w.mu.Unlock()
	}
}

// flusherLoop wakes on writer progress or an externally raised flush
// target, rewrites the header, and fsyncs.
func (w *WAL) flusherLoop() {
	for {
		w.mu.Lock()
		for w.flushedLSN >= w.writtenLSN && w.flushTarget <= w.flushedLSN && w.running {
			w.cond.Wait()
		}
		if !w.running && w.flushedLSN >= w.writtenLSN && w.flushTarget <= w.flushedLSN {
			w.flusherDone = true
			w.cond.Broadcast()
			w.mu.Unlock()
			return
		}
		newFlushed := w.writtenLSN
		checkpoint := w.checkpoint
		w.mu.Unlock()

		hdr := FileHeader{CheckpointLSN: checkpoint, FlushedLSN: newFlushed}
		if _, err := w.file.WriteAt(hdr.encode(), 0); err != nil {
			w.logger.Error("wal flusher: header rewrite failed", "error", err)
			continue
		}
		if err := unix.Fdatasync(int(w.file.Fd())); err != nil {
			w.logger.Error("wal flusher: fdatasync failed", "error", err)
			continue
		}

		w.mu.Lock()
		w.flushedLSN = newFlushed
		w.cond.Broadcast()
		w.mu.Unlock()
	}
}

// Flush blocks until flushedLSN >= lsn.
func (w *WAL) Flush(lsn uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if lsn > w.flushTarget {
		w.flushTarget = lsn
	}
	w.cond.Broadcast()
	for w.flushedLSN < lsn && w.running {
		w.cond.Wait()
	}
	if !w.running && w.flushedLSN < lsn {
		return errs.New(errs.FileCannotRW, "WAL closed before flush target reached")
	}
	return nil
}

// GetFlushedLSN returns the current durable LSN.
func (w *WAL) GetFlushedLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushedLSN
}

// SetCheckpoint records the LSN below which the heap file is known to
// reflect every committed change.
func (w *WAL) SetCheckpoint(lsn uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.checkpoint = lsn
}

// OpenReader returns a fresh forward reader over the durable portion of
// the log, for REDO/UNDO recovery passes.
func (w *WAL) OpenReader() (*Reader, error) {
	return newReader(w.file)
}

// Close signals every waiting role to wake up and exit, then closes the
// file. Per spec §5, closing a database unblocks every waiter by
// signalling all condition variables once running=false.
func (w *WAL) Close() error {
	w.mu.Lock()
	w.running = false
	w.cond.Broadcast()
	for !w.writerDone || !w.flusherDone {
		w.cond.Wait()
	}
	w.mu.Unlock()
	return w.file.Close()
}
