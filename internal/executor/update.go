package executor

import (
	"fmt"

	"github.com/leengari/mini-rdbms/internal/catalog"
	"github.com/leengari/mini-rdbms/internal/errs"
	"github.com/leengari/mini-rdbms/internal/plan"
)

const maxRelocateRetries = 3

// relocate follows spec.md §4.10 step 2: read_for_update the candidate
// uid; if the row has moved (null), look it up again by its primary key
// through the primary index, retrying up to maxRelocateRetries times.
func (e *Executor) relocate(xid uint64, table *catalog.Table, primary catalog.Field, uid uint64, pkValue any) (lockedUid uint64, body []byte, ok bool, err error) {
	cur := uid
	for attempt := 0; attempt <= maxRelocateRetries; attempt++ {
		b, found, err := e.engine.ReadForUpdate(xid, cur)
		if err != nil {
			return 0, nil, false, err
		}
		if found {
			return cur, b, true, nil
		}
		tree, indexed := e.cat.Index(table.Name, primary.Name)
		if !indexed {
			return 0, nil, false, nil
		}
		key, err := catalog.IndexKey(pkValue)
		if err != nil {
			return 0, nil, false, err
		}
		uids, err := tree.Search(key)
		if err != nil {
			return 0, nil, false, err
		}
		if len(uids) == 0 {
			return 0, nil, false, nil
		}
		cur = uids[0]
	}
	return 0, nil, false, nil
}

func (e *Executor) checkUpdatedUniqueConstraints(xid uint64, table *catalog.Table, newRow catalog.Row, assignments map[string]any, excludeUid uint64) error {
	for _, f := range table.Fields {
		if !f.Unique {
			continue
		}
		if _, changed := assignments[f.Name]; !changed {
			continue
		}
		tree, ok := e.cat.Index(table.Name, f.Name)
		if !ok {
			continue
		}
		key, err := catalog.IndexKey(newRow[f.Name])
		if err != nil {
			return err
		}
		matches, err := tree.Search(key)
		if err != nil {
			return err
		}
		for _, m := range matches {
			if m == excludeUid {
				continue
			}
			_, visible, err := e.engine.Read(xid, m)
			if err != nil {
				return err
			}
			if visible {
				return errs.New(errs.DuplicatedEntry, fmt.Sprintf("%s.%s", table.Name, f.Name))
			}
		}
	}
	return nil
}

func (e *Executor) executeUpdate(xid uint64, s *plan.UpdateStatement) (*Result, error) {
	table, err := e.requireTable(s.Table)
	if err != nil {
		return nil, err
	}
	primary, hasPrimary := table.Primary()
	if !hasPrimary {
		return nil, errs.New(errs.PrimaryKeyMissing, table.Name)
	}
	if _, updatingPrimary := s.Assignments[primary.Name]; updatingPrimary {
		return nil, errs.New(errs.PrimaryKeyNotUpdatable, primary.Name)
	}

	candidates, err := e.candidateUids(table, s.Where)
	if err != nil {
		return nil, err
	}

	affected := 0
	for _, uid := range candidates {
		preBody, ok, err := e.engine.Read(xid, uid)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		preRow, err := catalog.DecodeRow(table, preBody)
		if err != nil {
			return nil, err
		}
		pkValue := preRow[primary.Name]

		lockedUid, body, found, err := e.relocate(xid, table, primary, uid, pkValue)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}

		row, err := catalog.DecodeRow(table, body)
		if err != nil {
			return nil, err
		}
		match, err := evaluateWhere(row, s.Where)
		if err != nil {
			return nil, err
		}
		if !match {
			e.engine.ReleaseRow(xid, lockedUid)
			continue
		}

		newRow := make(catalog.Row, len(row))
		for k, v := range row {
			newRow[k] = v
		}
		for k, v := range s.Assignments {
			newRow[k] = v
		}

		if err := e.checkUpdatedUniqueConstraints(xid, table, newRow, s.Assignments, lockedUid); err != nil {
			return nil, err
		}

		if _, err := e.engine.Delete(xid, lockedUid); err != nil {
			return nil, err
		}
		newRaw, err := catalog.EncodeRow(table, newRow)
		if err != nil {
			return nil, err
		}
		newUid, err := e.engine.Insert(xid, newRaw)
		if err != nil {
			return nil, err
		}
		if err := e.insertIndexEntries(table, newRow, newUid); err != nil {
			return nil, err
		}
		affected++
	}

	return &Result{Message: fmt.Sprintf("%d rows updated", affected), RowsAffected: affected}, nil
}
