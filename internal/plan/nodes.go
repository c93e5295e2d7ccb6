// Package plan holds the statement shapes the Executor consumes. The
// tokenizer/grammar lives in internal/parser, which builds these values
// directly; this package only fixes the statement shape a parser must
// produce and the Session dispatches on.
package plan

import "github.com/leengari/mini-rdbms/internal/catalog"

// Node is the base interface every statement shares.
type Node interface {
	String() string
}

// Statement is one top-level command a Session can dispatch.
type Statement interface {
	Node
	statementNode()
}

// CompareOp is one of WHERE/HAVING's six comparison operators.
type CompareOp int

const (
	OpLt CompareOp = iota
	OpLe
	OpEq
	OpGt
	OpGe
	OpNe
)

func (o CompareOp) String() string {
	switch o {
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpEq:
		return "="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpNe:
		return "!="
	default:
		return "?"
	}
}

// LogicalOp joins WHERE's (at most two) predicates.
type LogicalOp int

const (
	LogicalNone LogicalOp = iota
	LogicalAnd
	LogicalOr
)

// Predicate is one `field OP literal` leaf of a WHERE clause.
type Predicate struct {
	Field   string
	Op      CompareOp
	Literal any
}

func (p *Predicate) String() string { return p.Field + " " + p.Op.String() + " ?" }

// Where is at most two single-field predicates joined by AND/OR, per
// spec.md §4.10's WHERE planning table.
type Where struct {
	Left  *Predicate
	Op    LogicalOp // LogicalNone if Right is nil
	Right *Predicate
}

// AggFunc is one of the recognized aggregate functions.
type AggFunc string

const (
	AggCount AggFunc = "COUNT"
	AggSum   AggFunc = "SUM"
	AggAvg   AggFunc = "AVG"
	AggMin   AggFunc = "MIN"
	AggMax   AggFunc = "MAX"
)

// Aggregate is `FUNC(field)` (field "" / "*" for COUNT(*)), optionally aliased.
type Aggregate struct {
	Func  AggFunc
	Field string
	Alias string
}

// Projection is one SELECT list item: a plain column, `*`, or an
// aggregate, each optionally aliased.
type Projection struct {
	Star  bool
	Field string
	Agg   *Aggregate
	Alias string
}

// HavingOperand is a grouping column, an aggregate reference (by
// position or alias), or a numeric constant.
type HavingOperand struct {
	Column   string
	AggIndex int // SELECT-list (projection) index of the aggregate, -1 if unused
	AggAlias string
	IsNumber bool
	Number   float64
}

// HavingPredicate compares two operands.
type HavingPredicate struct {
	Left  HavingOperand
	Op    CompareOp
	Right HavingOperand
}

// Having is a tree of predicates joined by AND/OR.
type Having struct {
	Pred  *HavingPredicate
	Left  *Having
	Op    LogicalOp
	Right *Having
}

// SelectStatement: SELECT <projections> FROM <table> [WHERE ...]
// [GROUP BY ...] [HAVING ...].
type SelectStatement struct {
	Table       string
	Projections []Projection
	Where       *Where
	GroupBy     []string
	Having      *Having
}

func (s *SelectStatement) statementNode() {}
func (s *SelectStatement) String() string { return "SELECT ... FROM " + s.Table }

// InsertStatement: INSERT INTO <table> (<columns>) VALUES (<values>).
type InsertStatement struct {
	Table   string
	Columns []string
	Values  []any
}

func (s *InsertStatement) statementNode() {}
func (s *InsertStatement) String() string { return "INSERT INTO " + s.Table }

// UpdateStatement: UPDATE <table> SET <assignments> [WHERE ...].
type UpdateStatement struct {
	Table       string
	Assignments map[string]any
	Where       *Where
}

func (s *UpdateStatement) statementNode() {}
func (s *UpdateStatement) String() string { return "UPDATE " + s.Table }

// DeleteStatement: DELETE FROM <table> [WHERE ...].
type DeleteStatement struct {
	Table string
	Where *Where
}

func (s *DeleteStatement) statementNode() {}
func (s *DeleteStatement) String() string { return "DELETE FROM " + s.Table }

// CreateTableStatement: CREATE TABLE <name> (<fields>).
type CreateTableStatement struct {
	Table  string
	Fields []catalog.Field
}

func (s *CreateTableStatement) statementNode() {}
func (s *CreateTableStatement) String() string { return "CREATE TABLE " + s.Table }

// DropTableStatement: DROP TABLE <name>.
type DropTableStatement struct {
	Table string
}

func (s *DropTableStatement) statementNode() {}
func (s *DropTableStatement) String() string { return "DROP TABLE " + s.Table }

// DescribeStatement: DESCRIBE <name>.
type DescribeStatement struct {
	Table string
}

func (s *DescribeStatement) statementNode() {}
func (s *DescribeStatement) String() string { return "DESCRIBE " + s.Table }

// ShowStatement: SHOW TABLES.
type ShowStatement struct{}

// ShowDatabasesStatement lists the registry's known databases — a
// connection-level command, unlike ShowStatement which lists one
// database's tables and needs a table selected.
type ShowDatabasesStatement struct{}

func (s *ShowStatement) statementNode() {}
func (s *ShowStatement) String() string { return "SHOW TABLES" }

func (s *ShowDatabasesStatement) statementNode() {}
func (s *ShowDatabasesStatement) String() string { return "SHOW DATABASES" }

// IsolationLevel names the two isolation levels BEGIN accepts.
type IsolationLevel int

const (
	ReadCommitted IsolationLevel = iota
	RepeatableRead
)

// BeginStatement: BEGIN [ISOLATION LEVEL ...].
type BeginStatement struct {
	Level IsolationLevel
}

func (s *BeginStatement) statementNode() {}
func (s *BeginStatement) String() string { return "BEGIN" }

// CommitStatement: COMMIT.
type CommitStatement struct{}

func (s *CommitStatement) statementNode() {}
func (s *CommitStatement) String() string { return "COMMIT" }

// AbortStatement: ABORT / ROLLBACK.
type AbortStatement struct{}

func (s *AbortStatement) statementNode() {}
func (s *AbortStatement) String() string { return "ABORT" }

// UseStatement: USE <database>.
type UseStatement struct {
	Database string
}

func (s *UseStatement) statementNode() {}
func (s *UseStatement) String() string { return "USE " + s.Database }

// CreateDbStatement: CREATE DATABASE <name>.
type CreateDbStatement struct {
	Database string
}

func (s *CreateDbStatement) statementNode() {}
func (s *CreateDbStatement) String() string { return "CREATE DATABASE " + s.Database }

// DropDbStatement: DROP DATABASE <name>.
type DropDbStatement struct {
	Database string
}

func (s *DropDbStatement) statementNode() {}
func (s *DropDbStatement) String() string { return "DROP DATABASE " + s.Database }
