package executor

import (
	"fmt"

	"github.com/leengari/mini-rdbms/internal/catalog"
	"github.com/leengari/mini-rdbms/internal/errs"
	"github.com/leengari/mini-rdbms/internal/plan"
)

// resolveInsertRow turns a column list + value list into a name->value
// map, defaulting missing non-primary columns to their type's zero value
// and erroring on arity mismatch, duplicate columns, unknown columns, or
// a missing primary key, per spec.md §4.10.
func resolveInsertRow(table *catalog.Table, columns []string, values []any) (catalog.Row, error) {
	if len(columns) != len(values) {
		return nil, errs.New(errs.InvalidValues, "column list and value list must be the same length")
	}
	seen := make(map[string]bool, len(columns))
	row := make(catalog.Row, len(table.Fields))
	for i, col := range columns {
		if seen[col] {
			return nil, errs.New(errs.InvalidValues, fmt.Sprintf("duplicate column %q", col))
		}
		seen[col] = true
		if _, ok := table.Field(col); !ok {
			return nil, errs.New(errs.FieldNotFound, col)
		}
		row[col] = values[i]
	}

	primary, ok := table.Primary()
	if !ok {
		return nil, errs.New(errs.PrimaryKeyMissing, table.Name)
	}
	if _, ok := row[primary.Name]; !ok {
		return nil, errs.New(errs.PrimaryKeyMissing, primary.Name)
	}
	return row, nil
}

func (e *Executor) checkUniqueConstraints(xid uint64, table *catalog.Table, row catalog.Row) error {
	for _, f := range table.Fields {
		if !f.Unique {
			continue
		}
		tree, ok := e.cat.Index(table.Name, f.Name)
		if !ok {
			continue
		}
		key, err := catalog.IndexKey(row[f.Name])
		if err != nil {
			return err
		}
		uids, err := tree.Search(key)
		if err != nil {
			return err
		}
		for _, uid := range uids {
			_, ok, err := e.engine.Read(xid, uid)
			if err != nil {
				return err
			}
			if ok {
				return errs.New(errs.DuplicatedEntry, fmt.Sprintf("%s.%s", table.Name, f.Name))
			}
		}
	}
	return nil
}

// insertIndexEntries inserts (key, uid) into every indexed field's tree
// and persists the updated root pointer.
func (e *Executor) insertIndexEntries(table *catalog.Table, row catalog.Row, uid uint64) error {
	for _, f := range table.Fields {
		if !f.Indexed() {
			continue
		}
		tree, ok := e.cat.Index(table.Name, f.Name)
		if !ok {
			continue
		}
		key, err := catalog.IndexKey(row[f.Name])
		if err != nil {
			return err
		}
		if err := tree.Insert(key, uid); err != nil {
			return err
		}
		if err := e.cat.SyncIndex(table.Name, f.Name); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) executeInsert(xid uint64, s *plan.InsertStatement) (*Result, error) {
	table, err := e.requireTable(s.Table)
	if err != nil {
		return nil, err
	}
	row, err := resolveInsertRow(table, s.Columns, s.Values)
	if err != nil {
		return nil, err
	}
	if err := e.checkUniqueConstraints(xid, table, row); err != nil {
		return nil, err
	}

	raw, err := catalog.EncodeRow(table, row)
	if err != nil {
		return nil, err
	}
	uid, err := e.engine.Insert(xid, raw)
	if err != nil {
		return nil, err
	}
	if err := e.insertIndexEntries(table, row, uid); err != nil {
		return nil, err
	}
	return &Result{Message: "1 row inserted", RowsAffected: 1}, nil
}
