package executor

import (
	"fmt"

	"github.com/leengari/mini-rdbms/internal/catalog"
	"github.com/leengari/mini-rdbms/internal/plan"
)

func (e *Executor) executeDelete(xid uint64, s *plan.DeleteStatement) (*Result, error) {
	table, err := e.requireTable(s.Table)
	if err != nil {
		return nil, err
	}
	candidates, err := e.candidateUids(table, s.Where)
	if err != nil {
		return nil, err
	}

	affected := 0
	for _, uid := range candidates {
		body, ok, err := e.engine.Read(xid, uid)
		if err != nil {
			return nil, err
		}
		if !ok {
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
			continue
		}
		deleted, err := e.engine.Delete(xid, uid)
		if err != nil {
			return nil, err
		}
		if deleted {
			affected++
		}
	}
	return &Result{Message: fmt.Sprintf("%d rows deleted", affected), RowsAffected: affected}, nil
}
