// Package session implements the per-connection glue (spec.md §4.12):
// tracking the current database and transaction, dispatching a parsed
// statement to the registry, MVCC layer, or executor, and wrapping
// implicit statements in an auto-transaction.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/leengari/mini-rdbms/internal/catalog"
	"github.com/leengari/mini-rdbms/internal/errs"
	"github.com/leengari/mini-rdbms/internal/executor"
	"github.com/leengari/mini-rdbms/internal/mvcc"
	"github.com/leengari/mini-rdbms/internal/parser"
	"github.com/leengari/mini-rdbms/internal/plan"
	"github.com/leengari/mini-rdbms/internal/registry"
)

// ResultType distinguishes a row-bearing result from a plain
// acknowledgement, per spec.md §4.12's ExecResult shape.
type ResultType string

const (
	ResultOK   ResultType = "OK"
	ResultRows ResultType = "RESULT"
)

// ExecResult is the structured outcome of one statement.
type ExecResult struct {
	Type         ResultType    `json:"type"`
	Message      string        `json:"message,omitempty"`
	Columns      []string      `json:"columns,omitempty"`
	Rows         []catalog.Row `json:"rows,omitempty"`
	AffectedRows int           `json:"affected_rows"`
	ResultRows   int           `json:"result_rows"`
	ElapsedNs    int64         `json:"elapsed_ns"`
}

// Session holds one connection's state: the database it has USEd and
// whether a transaction is currently open on it.
type Session struct {
	reg *registry.Registry

	// ID correlates this connection's statements across log lines,
	// independent of the xid any one of them happens to run under.
	ID string

	dbName   string
	stack    *registry.Stack
	xid      uint64
	explicit bool // true if the open xid came from an explicit BEGIN
}

// New returns a fresh session with no database selected.
func New(reg *registry.Registry) *Session {
	return &Session{reg: reg, ID: uuid.New().String()}
}

// Close releases the session's database, if any, aborting an
// outstanding transaction first.
func (s *Session) Close() {
	if s.stack != nil {
		if s.xid != 0 {
			s.stack.Engine.Abort(s.xid)
		}
		s.reg.Release(s.dbName)
	}
}

// Execute parses and runs one statement, timing the whole round trip.
func (s *Session) Execute(input string) (*ExecResult, error) {
	start := time.Now()
	stmt, err := parser.Parse(input)
	if err != nil {
		return nil, err
	}
	res, err := s.dispatch(stmt)
	if err != nil {
		return nil, err
	}
	res.ElapsedNs = time.Since(start).Nanoseconds()
	return res, nil
}

func (s *Session) dispatch(stmt plan.Statement) (*ExecResult, error) {
	switch st := stmt.(type) {
	case *plan.BeginStatement:
		return s.handleBegin(st)
	case *plan.CommitStatement:
		return s.handleCommit()
	case *plan.AbortStatement:
		return s.handleAbort()
	case *plan.UseStatement:
		return s.handleUse(st)
	case *plan.CreateDbStatement:
		return s.handleCreateDb(st)
	case *plan.DropDbStatement:
		return s.handleDropDb(st)
	case *plan.ShowDatabasesStatement:
		return s.handleShowDatabases()
	default:
		return s.runThroughExecutor(stmt)
	}
}

func (s *Session) handleBegin(st *plan.BeginStatement) (*ExecResult, error) {
	if err := s.requireDatabase(); err != nil {
		return nil, err
	}
	if s.xid != 0 {
		return nil, errs.New(errs.NestedTransaction, "a transaction is already open")
	}
	level := mvcc.ReadCommitted
	if st.Level == plan.RepeatableRead {
		level = mvcc.RepeatableRead
	}
	xid, err := s.stack.Engine.Begin(level)
	if err != nil {
		return nil, err
	}
	s.xid = xid
	s.explicit = true
	return &ExecResult{Type: ResultOK, Message: "transaction started"}, nil
}

func (s *Session) handleCommit() (*ExecResult, error) {
	if s.xid == 0 {
		return nil, errs.New(errs.NoTransaction, "no transaction is open")
	}
	xid := s.xid
	s.xid = 0
	s.explicit = false
	if err := s.stack.Engine.Commit(xid); err != nil {
		return nil, err
	}
	return &ExecResult{Type: ResultOK, Message: "transaction committed"}, nil
}

func (s *Session) handleAbort() (*ExecResult, error) {
	if s.xid == 0 {
		return nil, errs.New(errs.NoTransaction, "no transaction is open")
	}
	xid := s.xid
	s.xid = 0
	s.explicit = false
	if err := s.stack.Engine.Abort(xid); err != nil {
		return nil, err
	}
	return &ExecResult{Type: ResultOK, Message: "transaction aborted"}, nil
}

func (s *Session) handleUse(st *plan.UseStatement) (*ExecResult, error) {
	if s.xid != 0 {
		return nil, errs.New(errs.SwitchDatabaseInTxn, "cannot switch databases inside a transaction")
	}
	stack, err := s.reg.Acquire(st.Database)
	if err != nil {
		return nil, err
	}
	if s.stack != nil {
		s.reg.Release(s.dbName)
	}
	s.stack = stack
	s.dbName = st.Database
	return &ExecResult{Type: ResultOK, Message: "using database " + st.Database}, nil
}

func (s *Session) handleCreateDb(st *plan.CreateDbStatement) (*ExecResult, error) {
	if err := s.reg.Create(st.Database); err != nil {
		return nil, err
	}
	return &ExecResult{Type: ResultOK, Message: "database " + st.Database + " created"}, nil
}

func (s *Session) handleDropDb(st *plan.DropDbStatement) (*ExecResult, error) {
	if s.dbName == st.Database {
		return nil, errs.New(errs.DatabaseInUse, st.Database)
	}
	if err := s.reg.Drop(st.Database); err != nil {
		return nil, err
	}
	return &ExecResult{Type: ResultOK, Message: "database " + st.Database + " dropped"}, nil
}

func (s *Session) handleShowDatabases() (*ExecResult, error) {
	names, err := s.reg.Show()
	if err != nil {
		return nil, err
	}
	rows := make([]catalog.Row, 0, len(names))
	for _, n := range names {
		rows = append(rows, catalog.Row{"database": n})
	}
	return &ExecResult{Type: ResultRows, Columns: []string{"database"}, Rows: rows, ResultRows: len(rows)}, nil
}

func (s *Session) requireDatabase() error {
	if s.stack == nil {
		return errs.New(errs.NoDatabaseSelected, "no database selected; issue USE <database> first")
	}
	return nil
}

// runThroughExecutor handles every statement the Executor understands
// (DDL and DML). With no explicit transaction open it wraps execution in
// one of its own: begin, run, commit on success or abort on error — a
// ConcurrentUpdate error has already auto-aborted inside the MVCC layer,
// so that case just needs its xid forgotten, not aborted twice.
func (s *Session) runThroughExecutor(stmt plan.Statement) (*ExecResult, error) {
	if err := s.requireDatabase(); err != nil {
		return nil, err
	}

	xid := s.xid
	auto := xid == 0
	if auto {
		id, err := s.stack.Engine.Begin(mvcc.ReadCommitted)
		if err != nil {
			return nil, err
		}
		xid = id
	}

	exec := executor.New(s.stack.Catalog, s.stack.Engine)
	res, err := exec.Execute(xid, stmt)

	if auto {
		if err != nil {
			if !isPoisoned(err) {
				s.stack.Engine.Abort(xid)
			}
			return nil, err
		}
		if commitErr := s.stack.Engine.Commit(xid); commitErr != nil {
			return nil, commitErr
		}
	} else if err != nil {
		return nil, err
	}

	return toExecResult(res), nil
}

// isPoisoned reports whether err is one of the kinds the MVCC layer
// already terminates the transaction for internally (deadlock, lock
// timeout, a concurrent-update conflict), so an explicit Abort would be
// redundant.
func isPoisoned(err error) bool {
	for _, k := range []errs.Kind{errs.ConcurrentUpdate, errs.Deadlock, errs.LockWaitTimeout, errs.TransactionTerminated} {
		if errIsKind(err, k) {
			return true
		}
	}
	return false
}

func errIsKind(err error, kind errs.Kind) bool {
	ee, ok := err.(*errs.EngineError)
	return ok && ee.Kind == kind
}

func toExecResult(r *executor.Result) *ExecResult {
	if len(r.Columns) > 0 || r.Rows != nil {
		return &ExecResult{
			Type:         ResultRows,
			Columns:      r.Columns,
			Rows:         r.Rows,
			Message:      r.Message,
			AffectedRows: r.RowsAffected,
			ResultRows:   len(r.Rows),
		}
	}
	return &ExecResult{
		Type:         ResultOK,
		Message:      r.Message,
		AffectedRows: r.RowsAffected,
	}
}
