package session

import (
	"io"
	"log/slog"
	"testing"

	"github.com/leengari/mini-rdbms/internal/config"
	"github.com/leengari/mini-rdbms/internal/registry"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	cfg := config.Default()
	cfg.CacheCapacity = 16
	cfg.WALRingBufferSize = 1 << 16
	cfg.WALStagingSize = 4096
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := registry.New(t.TempDir(), cfg, logger)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return reg
}

func mustExecute(t *testing.T, s *Session, stmt string) *ExecResult {
	t.Helper()
	res, err := s.Execute(stmt)
	if err != nil {
		t.Fatalf("Execute(%q): %v", stmt, err)
	}
	return res
}

func TestSessionEndToEndCRUD(t *testing.T) {
	reg := newTestRegistry(t)
	s := New(reg)
	defer s.Close()

	mustExecute(t, s, "CREATE DATABASE shop")
	mustExecute(t, s, "USE shop")
	mustExecute(t, s, "CREATE TABLE users (id INT PRIMARY KEY, name VARCHAR UNIQUE, age INT)")

	mustExecute(t, s, "INSERT INTO users (id, name, age) VALUES (1, 'alice', 30)")
	mustExecute(t, s, "INSERT INTO users (id, name, age) VALUES (2, 'bob', 25)")

	res := mustExecute(t, s, "SELECT id, name FROM users WHERE age >= 30")
	if res.Type != ResultRows || res.ResultRows != 1 {
		t.Fatalf("unexpected select result: %+v", res)
	}
	if res.Rows[0]["name"] != "alice" {
		t.Errorf("got row %+v, want name=alice", res.Rows[0])
	}

	mustExecute(t, s, "UPDATE users SET age = 31 WHERE id = 1")
	res = mustExecute(t, s, "SELECT age FROM users WHERE id = 1")
	if res.Rows[0]["age"] != int32(31) {
		t.Errorf("got age %+v, want 31", res.Rows[0]["age"])
	}

	res = mustExecute(t, s, "DELETE FROM users WHERE id = 2")
	if res.AffectedRows != 1 {
		t.Errorf("got affected rows %d, want 1", res.AffectedRows)
	}

	res = mustExecute(t, s, "SELECT id FROM users")
	if res.ResultRows != 1 {
		t.Fatalf("expected one row remaining, got %+v", res.Rows)
	}
}

func TestSessionExplicitTransactionCommit(t *testing.T) {
	reg := newTestRegistry(t)
	s := New(reg)
	defer s.Close()

	mustExecute(t, s, "CREATE DATABASE shop")
	mustExecute(t, s, "USE shop")
	mustExecute(t, s, "CREATE TABLE t (id INT PRIMARY KEY, v INT)")

	mustExecute(t, s, "BEGIN")
	mustExecute(t, s, "INSERT INTO t (id, v) VALUES (1, 10)")
	mustExecute(t, s, "COMMIT")

	res := mustExecute(t, s, "SELECT v FROM t WHERE id = 1")
	if res.Rows[0]["v"] != int32(10) {
		t.Errorf("got %+v, want v=10", res.Rows[0])
	}
}

func TestSessionExplicitTransactionAbortRollsBack(t *testing.T) {
	reg := newTestRegistry(t)
	s := New(reg)
	defer s.Close()

	mustExecute(t, s, "CREATE DATABASE shop")
	mustExecute(t, s, "USE shop")
	mustExecute(t, s, "CREATE TABLE t (id INT PRIMARY KEY, v INT)")

	mustExecute(t, s, "BEGIN")
	mustExecute(t, s, "INSERT INTO t (id, v) VALUES (1, 10)")
	mustExecute(t, s, "ABORT")

	res := mustExecute(t, s, "SELECT v FROM t")
	if res.ResultRows != 0 {
		t.Fatalf("expected no rows after abort, got %+v", res.Rows)
	}
}

func TestSessionRequiresDatabaseSelected(t *testing.T) {
	reg := newTestRegistry(t)
	s := New(reg)
	defer s.Close()

	if _, err := s.Execute("SELECT * FROM t"); err == nil {
		t.Fatal("expected an error running a statement with no database selected")
	}
}

func TestSessionCommitWithNoOpenTransaction(t *testing.T) {
	reg := newTestRegistry(t)
	s := New(reg)
	defer s.Close()

	mustExecute(t, s, "CREATE DATABASE shop")
	mustExecute(t, s, "USE shop")

	if _, err := s.Execute("COMMIT"); err == nil {
		t.Fatal("expected an error committing with no open transaction")
	}
}

func TestSessionShowDatabases(t *testing.T) {
	reg := newTestRegistry(t)
	s := New(reg)
	defer s.Close()

	mustExecute(t, s, "CREATE DATABASE shop")
	mustExecute(t, s, "CREATE DATABASE billing")

	res := mustExecute(t, s, "SHOW DATABASES")
	if res.ResultRows != 2 {
		t.Fatalf("got %d databases, want 2: %+v", res.ResultRows, res.Rows)
	}
}

func TestSessionUniqueConstraintViolation(t *testing.T) {
	reg := newTestRegistry(t)
	s := New(reg)
	defer s.Close()

	mustExecute(t, s, "CREATE DATABASE shop")
	mustExecute(t, s, "USE shop")
	mustExecute(t, s, "CREATE TABLE users (id INT PRIMARY KEY, name VARCHAR UNIQUE)")
	mustExecute(t, s, "INSERT INTO users (id, name) VALUES (1, 'alice')")

	if _, err := s.Execute("INSERT INTO users (id, name) VALUES (2, 'alice')"); err == nil {
		t.Fatal("expected a unique constraint violation")
	}

	// The implicit transaction around the failed insert must have aborted,
	// leaving the table queryable and unaffected.
	res := mustExecute(t, s, "SELECT id FROM users")
	if res.ResultRows != 1 {
		t.Fatalf("expected exactly one row after the aborted insert, got %+v", res.Rows)
	}
}
