package catalog

import (
	"os"
	"sync"

	"github.com/leengari/mini-rdbms/internal/bptree"
	"github.com/leengari/mini-rdbms/internal/errs"
	"github.com/leengari/mini-rdbms/internal/storage/dataitem"
)

// IndexOrder is the B+ tree's BALANCE_NUMBER for every catalog-managed
// index; a package var so the registry can override it from config.
var IndexOrder = 16

// entry is a cached table plus the open index trees for its indexed
// fields, keyed by field name.
type entry struct {
	table   *Table
	indexes map[string]*bptree.Tree
}

// Catalog is the table/field chain (spec §4.10): a singly-linked list of
// Table entries anchored in a booter file, each stored as a plain Data
// Item under the super transaction. Catalog bodies skip the MVCC
// xmin/xmax wrapper entirely: they are always written and read by the
// super transaction and are therefore always visible to everyone, so the
// wrapper would add bytes without adding any visibility information.
type Catalog struct {
	items      *dataitem.Manager
	booterPath string

	mu      sync.RWMutex
	tables  map[string]*entry
	headUid uint64
}

// Open loads the booter file (creating a fresh empty one if it doesn't
// exist) and walks the table chain into the cache.
func Open(booterPath string, items *dataitem.Manager) (*Catalog, error) {
	c := &Catalog{items: items, booterPath: booterPath, tables: make(map[string]*entry)}

	head, err := readBooter(booterPath)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(booterPath); os.IsNotExist(statErr) {
		if err := writeBooter(booterPath, 0); err != nil {
			return nil, err
		}
	}
	c.headUid = head

	uid := head
	for uid != 0 {
		h, err := items.Read(uid)
		if err != nil {
			return nil, err
		}
		if h == nil {
			return nil, errs.New(errs.BadXidFile, "catalog chain references a deleted entry")
		}
		te := decodeTableEntry(h.Payload)
		items.Release(h)

		table, err := c.loadTable(uid, te)
		if err != nil {
			return nil, err
		}
		if err := c.cacheTable(table); err != nil {
			return nil, err
		}
		uid = te.nextUid
	}
	return c, nil
}

func (c *Catalog) loadTable(selfUid uint64, te tableEntry) (*Table, error) {
	fields := make([]Field, 0, len(te.fieldUids))
	for _, fuid := range te.fieldUids {
		h, err := c.items.Read(fuid)
		if err != nil {
			return nil, err
		}
		if h == nil {
			return nil, errs.New(errs.BadXidFile, "catalog field entry missing")
		}
		fields = append(fields, decodeField(h.Payload))
		c.items.Release(h)
	}
	return &Table{Name: te.name, selfUid: selfUid, nextUid: te.nextUid, Fields: fields}, nil
}

func (c *Catalog) cacheTable(table *Table) error {
	idx := make(map[string]*bptree.Tree)
	for _, f := range table.Fields {
		if !f.Indexed() {
			continue
		}
		rootUid, err := c.readRootPointer(f.IndexUid)
		if err != nil {
			return err
		}
		idx[f.Name] = bptree.Open(c.items, rootUid, IndexOrder, f.Unique || f.Primary)
	}
	c.tables[table.Name] = &entry{table: table, indexes: idx}
	return nil
}

func (c *Catalog) readRootPointer(rootPointerUid uint64) (uint64, error) {
	h, err := c.items.Read(rootPointerUid)
	if err != nil {
		return 0, err
	}
	if h == nil {
		return 0, errs.New(errs.BadXidFile, "index root pointer missing")
	}
	defer c.items.Release(h)
	return byteOrder.Uint64(h.Payload), nil
}

func (c *Catalog) writeRootPointer(rootPointerUid, newRootUid uint64) error {
	ctx, err := c.items.Before(rootPointerUid)
	if err != nil {
		return err
	}
	buf := make([]byte, 8)
	byteOrder.PutUint64(buf, newRootUid)
	if err := ctx.SetPayload(buf); err != nil {
		c.items.Rollback(ctx)
		return err
	}
	_, err = c.items.After(ctx, 0)
	return err
}

// Table returns the cached metadata for name.
func (c *Catalog) Table(name string) (*Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.tables[name]
	if !ok {
		return nil, false
	}
	return e.table, true
}

// Index returns the open index tree for table.field, if indexed.
func (c *Catalog) Index(tableName, fieldName string) (*bptree.Tree, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.tables[tableName]
	if !ok {
		return nil, false
	}
	t, ok := e.indexes[fieldName]
	return t, ok
}

// Tables lists every table name in no particular order; callers that need
// a stable listing (e.g. SHOW TABLES) sort it themselves.
func (c *Catalog) Tables() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	return names
}

// CreateTable validates that name is free, writes a fresh root-pointer +
// tree for every indexed field, writes each field entry, then the table
// entry, then atomically repoints the booter file at it.
func (c *Catalog) CreateTable(name string, fields []Field) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tables[name]; exists {
		return errs.New(errs.DuplicatedTable, name)
	}

	primaryCount := 0
	for _, f := range fields {
		if f.Primary {
			primaryCount++
		}
	}
	if primaryCount != 1 {
		return errs.New(errs.PrimaryKeyMissing, "exactly one primary field is required")
	}

	fieldUids := make([]uint64, len(fields))
	for i, f := range fields {
		if f.Primary {
			f.Unique = true
		}
		if f.Unique && f.IndexUid == 0 {
			rootUid, err := c.newIndex(f.Unique)
			if err != nil {
				return err
			}
			f.IndexUid = rootUid
		}
		uid, _, err := c.items.Insert(0, encodeField(f))
		if err != nil {
			return err
		}
		fieldUids[i] = uid
		fields[i] = f
	}

	te := tableEntry{name: name, nextUid: c.headUid, fieldUids: fieldUids}
	tableUid, _, err := c.items.Insert(0, encodeTableEntry(te))
	if err != nil {
		return err
	}
	if err := writeBooter(c.booterPath, tableUid); err != nil {
		return err
	}
	c.headUid = tableUid

	table := &Table{Name: name, selfUid: tableUid, nextUid: te.nextUid, Fields: fields}
	return c.cacheTable(table)
}

// newIndex allocates a fresh empty tree and the root-pointer item that
// anchors it, returning the root-pointer item's uid (what Field.IndexUid
// stores).
func (c *Catalog) newIndex(unique bool) (uint64, error) {
	tree, err := bptree.New(c.items, IndexOrder, unique)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, 8)
	byteOrder.PutUint64(buf, tree.RootUid())
	uid, _, err := c.items.Insert(0, buf)
	return uid, err
}

// syncIndex persists tree's current root into its root-pointer item after
// a mutation; call this after every Insert/Delete against an index tree.
func (c *Catalog) syncIndex(rootPointerUid uint64, tree *bptree.Tree) error {
	return c.writeRootPointer(rootPointerUid, tree.RootUid())
}

// SyncIndex exposes syncIndex to the executor, since index mutations and
// their root-pointer fixups happen inside INSERT/UPDATE/DELETE, not here.
func (c *Catalog) SyncIndex(tableName, fieldName string) error {
	c.mu.RLock()
	e, ok := c.tables[tableName]
	c.mu.RUnlock()
	if !ok {
		return errs.New(errs.TableNotFound, tableName)
	}
	f, ok := e.table.Field(fieldName)
	if !ok || !f.Indexed() {
		return nil
	}
	tree := e.indexes[fieldName]
	return c.syncIndex(f.IndexUid, tree)
}

// DropTable unlinks name from the chain. Dropping the head repoints the
// booter; dropping a non-head entry rewrites the predecessor's nextUid in
// place (an 8-byte fixup, legal under spec.md's equal-length overwrite
// rule).
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.tables[name]
	if !ok {
		return errs.New(errs.TableNotFound, name)
	}
	target := e.table

	if c.headUid == target.selfUid {
		if err := writeBooter(c.booterPath, target.nextUid); err != nil {
			return err
		}
		c.headUid = target.nextUid
	} else {
		prev, err := c.findPredecessor(target.selfUid)
		if err != nil {
			return err
		}
		if err := c.relinkNext(prev, target.nextUid); err != nil {
			return err
		}
	}

	delete(c.tables, name)
	return nil
}

func (c *Catalog) findPredecessor(uid uint64) (*Table, error) {
	cur := c.headUid
	for cur != 0 {
		h, err := c.items.Read(cur)
		if err != nil {
			return nil, err
		}
		te := decodeTableEntry(h.Payload)
		c.items.Release(h)
		if te.nextUid == uid {
			return c.loadTable(cur, te)
		}
		cur = te.nextUid
	}
	return nil, errs.New(errs.TableNotFound, "predecessor not found in catalog chain")
}

// relinkNext overwrites prev's nextUid field in place. Table entries are
// `[name][next_uid:u64][field_uid...]`; next_uid always occupies the same
// 8 bytes regardless of table name length, so this is a fixed-length
// fixup, not a resize.
func (c *Catalog) relinkNext(prev *Table, newNext uint64) error {
	ctx, err := c.items.Before(prev.selfUid)
	if err != nil {
		return err
	}
	raw := append([]byte(nil), ctx.OldPayload()...)
	_, nameEnd := readLenBytes(raw, 0)
	byteOrder.PutUint64(raw[nameEnd:nameEnd+8], newNext)
	if err := ctx.SetPayload(raw); err != nil {
		c.items.Rollback(ctx)
		return err
	}
	_, err = c.items.After(ctx, 0)
	return err
}

func readBooter(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errs.Wrap(errs.FileCannotRW, path, err)
	}
	if len(data) != 8 {
		return 0, errs.New(errs.BadXidFile, "corrupt booter file length")
	}
	return byteOrder.Uint64(data), nil
}

func writeBooter(path string, uid uint64) error {
	buf := make([]byte, 8)
	byteOrder.PutUint64(buf, uid)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return errs.Wrap(errs.FileCannotRW, path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.FileCannotRW, path, err)
	}
	return nil
}
