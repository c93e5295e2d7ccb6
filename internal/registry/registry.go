// Package registry owns the lifecycle of named databases (spec.md §4.11):
// creating their on-disk files, opening the full storage stack on first
// use, reference-counting concurrent users, and tearing the stack down
// once the last user releases it.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/leengari/mini-rdbms/internal/catalog"
	"github.com/leengari/mini-rdbms/internal/config"
	"github.com/leengari/mini-rdbms/internal/errs"
	"github.com/leengari/mini-rdbms/internal/lockmgr"
	"github.com/leengari/mini-rdbms/internal/mvcc"
	"github.com/leengari/mini-rdbms/internal/storage/dataitem"
	"github.com/leengari/mini-rdbms/internal/storage/freespace"
	"github.com/leengari/mini-rdbms/internal/storage/page"
	"github.com/leengari/mini-rdbms/internal/storage/recovery"
	"github.com/leengari/mini-rdbms/internal/storage/wal"
	"github.com/leengari/mini-rdbms/internal/storage/xid"
	"github.com/leengari/mini-rdbms/internal/validation"
)

// Stack bundles one open database's full storage and execution layers.
type Stack struct {
	Name    string
	Cache   *page.Cache
	WAL     *wal.WAL
	XStore  *xid.Store
	Items   *dataitem.Manager
	Locks   *lockmgr.Manager
	Engine  *mvcc.Engine
	Catalog *catalog.Catalog
}

// close stamps page one's close token (marking a clean shutdown so the
// next open can skip recovery) and tears down every layer.
func (s *Stack) close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if ph, err := s.Cache.GetPage(1); err == nil {
		page.WriteCloseToken(ph.Data)
		s.Cache.MarkDirty(ph)
		record(s.Cache.FlushPage(ph))
		s.Cache.Release(ph)
	} else {
		record(err)
	}

	record(s.WAL.Close())
	record(s.XStore.Close())
	record(s.Items.Close())
	record(s.Cache.Close())
	return firstErr
}

type openEntry struct {
	stack    *Stack
	refcount int
}

// Registry tracks every open database stack under one root directory.
type Registry struct {
	mu      sync.Mutex
	rootDir string
	cfg     config.Config
	logger  *slog.Logger
	open    map[string]*openEntry
}

// New returns a registry rooted at rootDir, creating it if necessary.
func New(rootDir string, cfg config.Config, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.FileCannotRW, "create registry root", err)
	}
	return &Registry{rootDir: rootDir, cfg: cfg, logger: logger, open: make(map[string]*openEntry)}, nil
}

func (r *Registry) dir(name string) string { return filepath.Join(r.rootDir, name) }

func (r *Registry) paths(name string) (db, log, xidPath, bt string) {
	base := r.dir(name)
	return filepath.Join(base, name+".db"),
		filepath.Join(base, name+".log"),
		filepath.Join(base, name+".xid"),
		filepath.Join(base, name+".bt")
}

// Create validates name's charset, lays down a fresh set of C2/C3/C4/C10
// files, then closes them — matching spec.md §4.11's "construct then
// close" description. Acquire reopens them on first real use.
func (r *Registry) Create(name string) error {
	if err := validation.ValidateIdentifier(name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dir := r.dir(name)
	if _, err := os.Stat(dir); err == nil {
		return errs.New(errs.DatabaseExists, name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.FileCannotRW, "create database directory", err)
	}

	stack, err := r.openStack(name)
	if err != nil {
		os.RemoveAll(dir)
		return err
	}
	if err := stack.close(); err != nil {
		os.RemoveAll(dir)
		return err
	}
	return nil
}

// Acquire opens (or reuses) name's stack and increments its refcount.
func (r *Registry) Acquire(name string) (*Stack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.open[name]; ok {
		e.refcount++
		return e.stack, nil
	}

	dir := r.dir(name)
	if _, err := os.Stat(dir); err != nil {
		return nil, errs.New(errs.DatabaseNotFound, name)
	}
	stack, err := r.openStack(name)
	if err != nil {
		return nil, err
	}
	r.open[name] = &openEntry{stack: stack, refcount: 1}
	return stack, nil
}

// Release decrements name's refcount and closes the stack once it drops
// to zero.
func (r *Registry) Release(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.open[name]
	if !ok {
		return nil
	}
	e.refcount--
	if e.refcount > 0 {
		return nil
	}
	delete(r.open, name)
	return e.stack.close()
}

// Drop refuses while name is in use; otherwise deletes its directory.
func (r *Registry) Drop(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.open[name]; ok {
		return errs.New(errs.DatabaseInUse, name)
	}
	dir := r.dir(name)
	if _, err := os.Stat(dir); err != nil {
		return errs.New(errs.DatabaseNotFound, name)
	}
	if err := os.RemoveAll(dir); err != nil {
		return errs.Wrap(errs.FileCannotRW, "drop database directory", err)
	}
	return nil
}

// Show lists every database directory under the root that holds a
// matching `.xid` file, sorted lexicographically.
func (r *Registry) Show() ([]string, error) {
	entries, err := os.ReadDir(r.rootDir)
	if err != nil {
		return nil, errs.Wrap(errs.FileCannotRW, "list registry root", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(r.rootDir, e.Name(), e.Name()+".xid")); err == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// openStack builds the full storage-and-execution stack for an already
// created directory, running recovery before handing back an engine that
// accepts traffic.
func (r *Registry) openStack(name string) (*Stack, error) {
	dbPath, logPath, xidPath, btPath := r.paths(name)
	cfg := r.cfg

	cache, err := page.Open(dbPath, cfg.PageSize, cfg.CacheCapacity, r.logger)
	if err != nil {
		return nil, err
	}
	w, err := wal.Open(logPath, cfg.WALRingBufferSize, cfg.WALStagingSize, r.logger)
	if err != nil {
		cache.Close()
		return nil, err
	}
	xstore, err := xid.Open(xidPath)
	if err != nil {
		w.Close()
		cache.Close()
		return nil, err
	}

	abort := func(err error) (*Stack, error) {
		xstore.Close()
		w.Close()
		cache.Close()
		return nil, err
	}

	if cache.PageCount() == 0 {
		if _, err := cache.NewPage(nil); err != nil {
			return abort(err)
		}
	} else {
		ph, err := cache.GetPage(1)
		if err != nil {
			return abort(err)
		}
		clean := page.WasCleanShutdown(ph.Data)
		cache.Release(ph)
		if !clean {
			if err := recovery.Run(cache, w, xstore, cfg.PageSize, r.logger); err != nil {
				return abort(fmt.Errorf("recovering database %q: %w", name, err))
			}
		}
	}

	if ph, err := cache.GetPage(1); err == nil {
		if err := page.WriteOpenToken(ph.Data); err != nil {
			cache.Release(ph)
			return abort(err)
		}
		cache.MarkDirty(ph)
		cache.Release(ph)
	} else {
		return abort(err)
	}

	fsm := freespace.New(cfg.PageSize)
	items := dataitem.New(cache, w, fsm, cfg.PageSize, r.logger)
	locks := lockmgr.New(cfg.LockWaitTimeout)
	engine := mvcc.New(items, locks, xstore, w, r.logger)

	if cfg.BalanceNumber > 0 {
		catalog.IndexOrder = cfg.BalanceNumber
	}
	cat, err := catalog.Open(btPath, items)
	if err != nil {
		xstore.Close()
		w.Close()
		cache.Close()
		return nil, err
	}

	return &Stack{
		Name:    name,
		Cache:   cache,
		WAL:     w,
		XStore:  xstore,
		Items:   items,
		Locks:   locks,
		Engine:  engine,
		Catalog: cat,
	}, nil
}
