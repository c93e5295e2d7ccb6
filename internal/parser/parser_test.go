package parser

import (
	"testing"

	"github.com/leengari/mini-rdbms/internal/catalog"
	"github.com/leengari/mini-rdbms/internal/plan"
)

func TestParseSelectWithWhere(t *testing.T) {
	stmt, err := Parse("SELECT id, name FROM users WHERE age >= 18;")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	sel, ok := stmt.(*plan.SelectStatement)
	if !ok {
		t.Fatalf("got %T, want *plan.SelectStatement", stmt)
	}
	if sel.Table != "users" {
		t.Errorf("table = %q, want %q", sel.Table, "users")
	}
	if len(sel.Projections) != 2 || sel.Projections[0].Field != "id" || sel.Projections[1].Field != "name" {
		t.Errorf("unexpected projections: %+v", sel.Projections)
	}
	if sel.Where == nil || sel.Where.Left.Field != "age" || sel.Where.Left.Op != plan.OpGe {
		t.Fatalf("unexpected where clause: %+v", sel.Where)
	}
	if sel.Where.Left.Literal != int64(18) {
		t.Errorf("literal = %#v, want int64(18)", sel.Where.Left.Literal)
	}
}

func TestParseSelectWithTwoPredicates(t *testing.T) {
	stmt, err := Parse("SELECT * FROM orders WHERE status = 'open' AND total > 100")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	sel := stmt.(*plan.SelectStatement)
	if !sel.Projections[0].Star {
		t.Fatalf("expected a star projection, got %+v", sel.Projections)
	}
	if sel.Where.Op != plan.LogicalAnd {
		t.Fatalf("expected AND, got %v", sel.Where.Op)
	}
	if sel.Where.Left.Literal != "open" || sel.Where.Right.Field != "total" {
		t.Errorf("unexpected where: %+v", sel.Where)
	}
}

func TestParseSelectGroupByHavingAggregate(t *testing.T) {
	stmt, err := Parse("SELECT dept, COUNT(*) AS n FROM emp GROUP BY dept HAVING COUNT(*) > 2")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	sel := stmt.(*plan.SelectStatement)
	if len(sel.GroupBy) != 1 || sel.GroupBy[0] != "dept" {
		t.Fatalf("unexpected group by: %+v", sel.GroupBy)
	}
	if sel.Projections[1].Agg == nil || sel.Projections[1].Agg.Func != plan.AggCount {
		t.Fatalf("unexpected aggregate projection: %+v", sel.Projections[1])
	}
	if sel.Having == nil || sel.Having.Pred == nil {
		t.Fatalf("expected a having predicate, got %+v", sel.Having)
	}
	if sel.Having.Pred.Left.AggIndex != 1 {
		t.Errorf("having left operand should resolve to projection 1, got %+v", sel.Having.Pred.Left)
	}
}

func TestParseInsert(t *testing.T) {
	stmt, err := Parse("INSERT INTO users (id, name) VALUES (1, 'alice')")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	ins := stmt.(*plan.InsertStatement)
	if ins.Table != "users" {
		t.Errorf("table = %q", ins.Table)
	}
	if len(ins.Columns) != 2 || ins.Columns[0] != "id" || ins.Columns[1] != "name" {
		t.Errorf("unexpected columns: %+v", ins.Columns)
	}
	if len(ins.Values) != 2 || ins.Values[0] != int64(1) || ins.Values[1] != "alice" {
		t.Errorf("unexpected values: %+v", ins.Values)
	}
}

func TestParseUpdate(t *testing.T) {
	stmt, err := Parse("UPDATE users SET name = 'bob', age = 30 WHERE id = 1")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	upd := stmt.(*plan.UpdateStatement)
	if upd.Table != "users" {
		t.Errorf("table = %q", upd.Table)
	}
	if upd.Assignments["name"] != "bob" || upd.Assignments["age"] != int64(30) {
		t.Errorf("unexpected assignments: %+v", upd.Assignments)
	}
	if upd.Where == nil || upd.Where.Left.Field != "id" {
		t.Fatalf("unexpected where: %+v", upd.Where)
	}
}

func TestParseDelete(t *testing.T) {
	stmt, err := Parse("DELETE FROM users WHERE id = 1")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	del := stmt.(*plan.DeleteStatement)
	if del.Table != "users" || del.Where.Left.Field != "id" {
		t.Errorf("unexpected delete statement: %+v", del)
	}
}

func TestParseCreateTable(t *testing.T) {
	stmt, err := Parse("CREATE TABLE users (id INT PRIMARY KEY, name VARCHAR UNIQUE, balance BIGINT)")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	ct := stmt.(*plan.CreateTableStatement)
	if ct.Table != "users" {
		t.Errorf("table = %q", ct.Table)
	}
	if len(ct.Fields) != 3 {
		t.Fatalf("got %d fields, want 3: %+v", len(ct.Fields), ct.Fields)
	}
	if !ct.Fields[0].Primary || ct.Fields[0].Type != catalog.TypeInt32 {
		t.Errorf("field 0 = %+v", ct.Fields[0])
	}
	if !ct.Fields[1].Unique || ct.Fields[1].Type != catalog.TypeString {
		t.Errorf("field 1 = %+v", ct.Fields[1])
	}
	if ct.Fields[2].Type != catalog.TypeInt64 {
		t.Errorf("field 2 = %+v", ct.Fields[2])
	}
}

func TestParseDropTableAndDatabase(t *testing.T) {
	stmt, err := Parse("DROP TABLE users")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if dt, ok := stmt.(*plan.DropTableStatement); !ok || dt.Table != "users" {
		t.Fatalf("unexpected statement: %+v", stmt)
	}

	stmt, err = Parse("DROP DATABASE shop")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if dd, ok := stmt.(*plan.DropDbStatement); !ok || dd.Database != "shop" {
		t.Fatalf("unexpected statement: %+v", stmt)
	}
}

func TestParseShowTablesAndDatabases(t *testing.T) {
	stmt, err := Parse("SHOW TABLES")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if _, ok := stmt.(*plan.ShowStatement); !ok {
		t.Fatalf("got %T, want *plan.ShowStatement", stmt)
	}

	stmt, err = Parse("SHOW DATABASES")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if _, ok := stmt.(*plan.ShowDatabasesStatement); !ok {
		t.Fatalf("got %T, want *plan.ShowDatabasesStatement", stmt)
	}
}

func TestParseBeginWithIsolationLevel(t *testing.T) {
	stmt, err := Parse("BEGIN TRANSACTION ISOLATION LEVEL REPEATABLE READ")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	b := stmt.(*plan.BeginStatement)
	if b.Level != plan.RepeatableRead {
		t.Errorf("level = %v, want RepeatableRead", b.Level)
	}

	stmt, err = Parse("BEGIN")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if stmt.(*plan.BeginStatement).Level != plan.ReadCommitted {
		t.Errorf("default level should be ReadCommitted")
	}
}

func TestParseCommitAbortUse(t *testing.T) {
	if stmt, err := Parse("COMMIT"); err != nil {
		t.Fatalf("Parse returned error: %v", err)
	} else if _, ok := stmt.(*plan.CommitStatement); !ok {
		t.Fatalf("got %T", stmt)
	}

	if stmt, err := Parse("ABORT"); err != nil {
		t.Fatalf("Parse returned error: %v", err)
	} else if _, ok := stmt.(*plan.AbortStatement); !ok {
		t.Fatalf("got %T", stmt)
	}

	if stmt, err := Parse("ROLLBACK"); err != nil {
		t.Fatalf("Parse returned error: %v", err)
	} else if _, ok := stmt.(*plan.AbortStatement); !ok {
		t.Fatalf("got %T", stmt)
	}

	stmt, err := Parse("USE shop")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if u, ok := stmt.(*plan.UseStatement); !ok || u.Database != "shop" {
		t.Fatalf("unexpected statement: %+v", stmt)
	}
}

func TestParseCreateDatabase(t *testing.T) {
	stmt, err := Parse("CREATE DATABASE shop")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	cd, ok := stmt.(*plan.CreateDbStatement)
	if !ok || cd.Database != "shop" {
		t.Fatalf("unexpected statement: %+v", stmt)
	}
}

func TestParseDescribe(t *testing.T) {
	stmt, err := Parse("DESCRIBE users")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if d, ok := stmt.(*plan.DescribeStatement); !ok || d.Table != "users" {
		t.Fatalf("unexpected statement: %+v", stmt)
	}
}

func TestParseErrorsOnMalformedStatement(t *testing.T) {
	cases := []string{
		"SELECT FROM users",
		"INSERT INTO users VALUES",
		"UPDATE users WHERE id = 1",
		"CREATE TABLE t (id WEIRDTYPE)",
		"",
	}
	for _, sql := range cases {
		if _, err := Parse(sql); err == nil {
			t.Errorf("Parse(%q) should have returned an error", sql)
		}
	}
}
