package registry

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/leengari/mini-rdbms/internal/config"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.CacheCapacity = 16
	cfg.WALRingBufferSize = 1 << 16
	cfg.WALStagingSize = 4096
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateAcquireRelease(t *testing.T) {
	root := t.TempDir()
	reg, err := New(root, testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := reg.Create("shop"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	stack, err := reg.Acquire("shop")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if stack.Name != "shop" {
		t.Errorf("stack.Name = %q, want %q", stack.Name, "shop")
	}

	stack2, err := reg.Acquire("shop")
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if stack2 != stack {
		t.Errorf("second Acquire returned a different stack, want the same refcounted instance")
	}

	if err := reg.Release("shop"); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := reg.Release("shop"); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}

func TestCreateRejectsDuplicateAndBadName(t *testing.T) {
	root := t.TempDir()
	reg, err := New(root, testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := reg.Create("shop"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := reg.Create("shop"); err == nil {
		t.Fatal("expected an error creating a duplicate database")
	}
	if err := reg.Create("bad name!"); err == nil {
		t.Fatal("expected an error creating a database with an invalid name")
	}
}

func TestAcquireUnknownDatabase(t *testing.T) {
	root := t.TempDir()
	reg, err := New(root, testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := reg.Acquire("nope"); err == nil {
		t.Fatal("expected an error acquiring an unknown database")
	}
}

func TestDropRefusesWhileInUse(t *testing.T) {
	root := t.TempDir()
	reg, err := New(root, testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := reg.Create("shop"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := reg.Acquire("shop"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if err := reg.Drop("shop"); err == nil {
		t.Fatal("expected Drop to refuse while the database is in use")
	}

	if err := reg.Release("shop"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := reg.Drop("shop"); err != nil {
		t.Fatalf("Drop after release: %v", err)
	}
	if _, err := reg.Acquire("shop"); err == nil {
		t.Fatal("expected Acquire to fail after Drop")
	}
}

func TestShowListsKnownDatabases(t *testing.T) {
	root := t.TempDir()
	reg, err := New(root, testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := reg.Create(name); err != nil {
			t.Fatalf("Create(%q): %v", name, err)
		}
	}

	names, err := reg.Show()
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestReopenAfterCleanShutdown(t *testing.T) {
	root := t.TempDir()
	reg, err := New(root, testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := reg.Create("shop"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	stack, err := reg.Acquire("shop")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := reg.Release("shop"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// Reopening a cleanly-released database must succeed without error
	// (recovery is skipped, per the matching open/close tokens).
	stack2, err := reg.Acquire("shop")
	if err != nil {
		t.Fatalf("reacquire after clean release: %v", err)
	}
	if stack2 == stack {
		t.Error("reacquiring after a full release should build a fresh stack")
	}
	if err := reg.Release("shop"); err != nil {
		t.Fatalf("final release: %v", err)
	}
}

func TestDirLayout(t *testing.T) {
	root := t.TempDir()
	reg, err := New(root, testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := reg.Create("shop"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, suffix := range []string{".db", ".log", ".xid", ".bt"} {
		p := filepath.Join(root, "shop", "shop"+suffix)
		if !fileExists(p) {
			t.Errorf("expected file %s to exist", p)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
