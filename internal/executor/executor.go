// Package executor implements the statement executor (spec §4.10): INSERT,
// SELECT (with WHERE/GROUP BY/HAVING/aggregates), UPDATE, DELETE, and the
// CREATE/DROP TABLE and DESCRIBE/SHOW TABLES DDL statements, all running
// against a Catalog-described table set over an MVCC engine.
package executor

import (
	"fmt"

	"github.com/leengari/mini-rdbms/internal/catalog"
	"github.com/leengari/mini-rdbms/internal/errs"
	"github.com/leengari/mini-rdbms/internal/mvcc"
	"github.com/leengari/mini-rdbms/internal/plan"
)

// ColumnMetadata describes one result column.
type ColumnMetadata struct {
	Name string
	Type string
}

// Result is the outcome of executing one statement.
type Result struct {
	Columns      []string
	Metadata     []ColumnMetadata
	Rows         []catalog.Row
	Message      string
	RowsAffected int
}

// Executor ties the catalog to the MVCC engine for statement execution.
type Executor struct {
	cat    *catalog.Catalog
	engine *mvcc.Engine
}

// New builds an Executor over an already-open catalog and engine.
func New(cat *catalog.Catalog, engine *mvcc.Engine) *Executor {
	return &Executor{cat: cat, engine: engine}
}

// Execute dispatches stmt under xid's transaction.
func (e *Executor) Execute(xid uint64, stmt plan.Statement) (*Result, error) {
	switch s := stmt.(type) {
	case *plan.CreateTableStatement:
		return e.executeCreateTable(s)
	case *plan.DropTableStatement:
		return e.executeDropTable(s)
	case *plan.DescribeStatement:
		return e.executeDescribe(s)
	case *plan.ShowStatement:
		return e.executeShow()
	case *plan.InsertStatement:
		return e.executeInsert(xid, s)
	case *plan.SelectStatement:
		return e.executeSelect(xid, s)
	case *plan.UpdateStatement:
		return e.executeUpdate(xid, s)
	case *plan.DeleteStatement:
		return e.executeDelete(xid, s)
	default:
		return nil, errs.New(errs.InvalidCommand, fmt.Sprintf("unsupported statement type %T", stmt))
	}
}

func (e *Executor) requireTable(name string) (*catalog.Table, error) {
	table, ok := e.cat.Table(name)
	if !ok {
		return nil, errs.New(errs.TableNotFound, name)
	}
	return table, nil
}

func columnMetadataFor(table *catalog.Table, name string) ColumnMetadata {
	if f, ok := table.Field(name); ok {
		return ColumnMetadata{Name: name, Type: f.Type.String()}
	}
	return ColumnMetadata{Name: name, Type: "unknown"}
}
