// Package xid implements the transaction-id store (spec §4.3): a file of
// [counter:u64][status byte per xid] persisting whether each transaction
// is active, committed, or aborted.
package xid

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/leengari/mini-rdbms/internal/errs"
)

// Status is the persisted state of one transaction.
type Status byte

const (
	Active    Status = 0
	Committed Status = 1
	Aborted   Status = 2
)

const headerSize = 8 // counter:u64

// Store persists per-xid status. Xid 0 (the super transaction) is never
// stored — callers must special-case it before reaching the store.
type Store struct {
	mu      sync.RWMutex
	file    *os.File
	counter uint64
}

// Open opens or creates the xid file at path. A mismatch between file
// length and 8+counter is fatal.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errs.Wrap(errs.FileCannotRW, "open xid file", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.FileCannotRW, "stat xid file", err)
	}

	s := &Store{file: f}
	if info.Size() == 0 {
		if err := s.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
		return s, nil
	}

	hdr := make([]byte, headerSize)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.BadXidFile, "read xid header", err)
	}
	s.counter = binary.BigEndian.Uint64(hdr)
	if info.Size() != int64(headerSize+s.counter) {
		f.Close()
		return nil, errs.New(errs.BadXidFile, fmt.Sprintf("xid file length %d != %d+%d", info.Size(), headerSize, s.counter))
	}
	return s, nil
}

func (s *Store) writeHeader() error {
	buf := make([]byte, headerSize)
	binary.BigEndian.PutUint64(buf, s.counter)
	if _, err := s.file.WriteAt(buf, 0); err != nil {
		return errs.Wrap(errs.FileCannotRW, "write xid header", err)
	}
	return unix.Fdatasync(int(s.file.Fd()))
}

// Begin allocates and persists a new active xid.
func (s *Store) Begin() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	xid := s.counter + 1
	if err := s.writeStatus(xid, Active); err != nil {
		return 0, err
	}
	s.counter = xid
	if err := s.writeHeader(); err != nil {
		return 0, err
	}
	return xid, nil
}

func (s *Store) writeStatus(xid uint64, status Status) error {
	off := int64(headerSize + (xid - 1))
	if _, err := s.file.WriteAt([]byte{byte(status)}, off); err != nil {
		return errs.Wrap(errs.FileCannotRW, "write xid status", err)
	}
	return nil
}

// Commit marks xid committed and forces durability.
func (s *Store) Commit(xid uint64) error {
	if xid == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeStatus(xid, Committed); err != nil {
		return err
	}
	return unix.Fdatasync(int(s.file.Fd()))
}

// Abort marks xid aborted and forces durability.
func (s *Store) Abort(xid uint64) error {
	if xid == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeStatus(xid, Aborted); err != nil {
		return err
	}
	return unix.Fdatasync(int(s.file.Fd()))
}

func (s *Store) statusOf(xid uint64) (Status, error) {
	if xid == 0 {
		return Committed, nil // super transaction, always committed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := make([]byte, 1)
	off := int64(headerSize + (xid - 1))
	if _, err := s.file.ReadAt(buf, off); err != nil {
		return 0, errs.Wrap(errs.FileCannotRW, "read xid status", err)
	}
	return Status(buf[0]), nil
}

// IsActive, IsCommitted, IsAborted query a single status byte.
func (s *Store) IsActive(xid uint64) (bool, error) {
	st, err := s.statusOf(xid)
	return st == Active, err
}

func (s *Store) IsCommitted(xid uint64) (bool, error) {
	st, err := s.statusOf(xid)
	return st == Committed, err
}

func (s *Store) IsAborted(xid uint64) (bool, error) {
	st, err := s.statusOf(xid)
	return st == Aborted, err
}

// Close closes the underlying file.
func (s *Store) Close() error {
	return s.file.Close()
}
