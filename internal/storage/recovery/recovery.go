// Package recovery implements the REDO/UNDO pass driven by the WAL on
// open (spec §4.5). It runs before a database accepts traffic whenever
// page one's clean-shutdown token does not match.
package recovery

import (
	"encoding/binary"
	"io"
	"log/slog"

	"github.com/leengari/mini-rdbms/internal/errs"
	"github.com/leengari/mini-rdbms/internal/storage/page"
	"github.com/leengari/mini-rdbms/internal/storage/wal"
	"github.com/leengari/mini-rdbms/internal/storage/xid"
)

var byteOrder = binary.BigEndian

// Run executes the three-pass recovery algorithm: size scan, REDO,
// UNDO. cache and xstore must already be open; w must support
// OpenReader multiple times (each pass gets its own).
func Run(cache *page.Cache, w *wal.WAL, xstore *xid.Store, pageSize int, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	maxPgno, err := sizeScan(w)
	if err != nil {
		return err
	}
	if maxPgno == 0 {
		maxPgno = 1
	}
	if err := cache.TruncateTo(page.Pgno(maxPgno)); err != nil {
		return err
	}
	logger.Info("recovery: size scan complete", "max_pgno", maxPgno)

	activeAtCrash := make(map[uint64]bool)
	insertsByXid := make(map[uint64][]wal.InsertPayload)
	updatesByXid := make(map[uint64][]wal.UpdatePayload)

	r, err := w.OpenReader()
	if err != nil {
		return err
	}
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		var recXid uint64
		switch rec.Kind {
		case wal.OpInsert:
			recXid = rec.Insert.Xid
			insertsByXid[recXid] = append(insertsByXid[recXid], rec.Insert)
		case wal.OpUpdate:
			recXid = rec.Update.Xid
			updatesByXid[recXid] = append(updatesByXid[recXid], rec.Update)
		}
		active, err := transactionStillActive(xstore, recXid)
		if err != nil {
			return err
		}
		activeAtCrash[recXid] = active
	}

	// REDO: every record whose xid is not still active (committed or
	// aborted) is replayed forward.
	r2, err := w.OpenReader()
	if err != nil {
		return err
	}
	redone := 0
	for {
		rec, err := r2.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		var recXid uint64
		switch rec.Kind {
		case wal.OpInsert:
			recXid = rec.Insert.Xid
		case wal.OpUpdate:
			recXid = rec.Update.Xid
		}
		if activeAtCrash[recXid] {
			continue
		}
		if err := redo(cache, rec); err != nil {
			return err
		}
		redone++
	}
	logger.Info("recovery: redo pass complete", "records", redone)

	// UNDO: for every xid still active at crash time, undo its inserts in
	// reverse log order, then its updates in reverse log order, then mark
	// it aborted.
	undone := 0
	for txXid, active := range activeAtCrash {
		if !active || txXid == 0 {
			continue
		}
		ins := insertsByXid[txXid]
		for i := len(ins) - 1; i >= 0; i-- {
			if err := undoInsert(cache, ins[i]); err != nil {
				return err
			}
			undone++
		}
		upd := updatesByXid[txXid]
		for i := len(upd) - 1; i >= 0; i-- {
			if err := undoUpdate(cache, upd[i]); err != nil {
				return err
			}
			undone++
		}
		if err := xstore.Abort(txXid); err != nil {
			return err
		}
	}
	logger.Info("recovery: undo pass complete", "records", undone)

	return nil
}

func transactionStillActive(xstore *xid.Store, txXid uint64) (bool, error) {
	if txXid == 0 {
		return false, nil
	}
	return xstore.IsActive(txXid)
}

func sizeScan(w *wal.WAL) (uint32, error) {
	r, err := w.OpenReader()
	if err != nil {
		return 0, err
	}
	var maxPgno uint32
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		var pgno uint32
		switch rec.Kind {
		case wal.OpInsert:
			pgno = rec.Insert.Pgno
		case wal.OpUpdate:
			pgno = uint32(rec.Update.Uid >> 32)
		}
		if pgno > maxPgno {
			maxPgno = pgno
		}
	}
	return maxPgno, nil
}

func redo(cache *page.Cache, rec *wal.Record) error {
	switch rec.Kind {
	case wal.OpInsert:
		ins := rec.Insert
		ph, err := cache.GetPage(page.Pgno(ins.Pgno))
		if err != nil {
			return err
		}
		defer cache.Release(ph)
		end := int(ins.Offset) + len(ins.Raw)
		copy(ph.Data[ins.Offset:end], ins.Raw)
		fso := byteOrder.Uint16(ph.Data[0:2])
		if int(fso) < end {
			byteOrder.PutUint16(ph.Data[0:2], uint16(end))
		}
		cache.MarkDirty(ph)
		return nil
	case wal.OpUpdate:
		upd := rec.Update
		pgno := page.Pgno(upd.Uid >> 32)
		offset := uint16(upd.Uid & 0xFFFF)
		ph, err := cache.GetPage(pgno)
		if err != nil {
			return err
		}
		defer cache.Release(ph)
		start := int(offset) + 3
		copy(ph.Data[start:start+len(upd.New)], upd.New)
		cache.MarkDirty(ph)
		return nil
	default:
		return errs.New(errs.InvalidLogOp, "redo: unknown record kind")
	}
}

func undoInsert(cache *page.Cache, ins wal.InsertPayload) error {
	ph, err := cache.GetPage(page.Pgno(ins.Pgno))
	if err != nil {
		return err
	}
	defer cache.Release(ph)
	ph.Data[ins.Offset] = 1 // Valid=1: logically deleted
	cache.MarkDirty(ph)
	return nil
}

func undoUpdate(cache *page.Cache, upd wal.UpdatePayload) error {
	pgno := page.Pgno(upd.Uid >> 32)
	offset := uint16(upd.Uid & 0xFFFF)
	ph, err := cache.GetPage(pgno)
	if err != nil {
		return err
	}
	defer cache.Release(ph)
	start := int(offset) + 3
	copy(ph.Data[start:start+len(upd.Old)], upd.Old)
	cache.MarkDirty(ph)
	return nil
}
