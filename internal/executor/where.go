package executor

import (
	"fmt"
	"math"

	"github.com/leengari/mini-rdbms/internal/catalog"
	"github.com/leengari/mini-rdbms/internal/errs"
	"github.com/leengari/mini-rdbms/internal/plan"
)

// indexUsable reports whether op can be answered by field's B+ tree index.
// String-typed keys are folded to int64 via an FNV hash (catalog.IndexKey)
// for storage efficiency, so the tree's key order no longer matches
// lexicographic string order — only exact-match lookups on a string field
// can trust the tree; range comparisons on a string field fall back to a
// full scan even though the field has an index.
func indexUsable(f catalog.Field, op plan.CompareOp) bool {
	if !f.Indexed() || op == plan.OpNe {
		return false
	}
	if f.Type == catalog.TypeString {
		return op == plan.OpEq
	}
	return true
}

func predicateRange(key int64, op plan.CompareOp) (lo, hi int64) {
	switch op {
	case plan.OpLt:
		return math.MinInt64, key - 1
	case plan.OpLe:
		return math.MinInt64, key
	case plan.OpEq:
		return key, key
	case plan.OpGe:
		return key, math.MaxInt64
	case plan.OpGt:
		return key + 1, math.MaxInt64
	default:
		return math.MinInt64, math.MaxInt64
	}
}

func (e *Executor) indexRange(table *catalog.Table, p *plan.Predicate) ([]uint64, error) {
	f, ok := table.Field(p.Field)
	if !ok {
		return nil, errs.New(errs.FieldNotFound, p.Field)
	}
	tree, ok := e.cat.Index(table.Name, f.Name)
	if !ok {
		return nil, errs.New(errs.FieldNotIndexed, p.Field)
	}
	key, err := catalog.IndexKey(p.Literal)
	if err != nil {
		return nil, err
	}
	lo, hi := predicateRange(key, p.Op)
	return tree.Range(lo, hi)
}

func (e *Executor) fullScanCandidates(table *catalog.Table) ([]uint64, error) {
	primary, ok := table.Primary()
	if !ok {
		return nil, errs.New(errs.PrimaryKeyMissing, table.Name)
	}
	tree, ok := e.cat.Index(table.Name, primary.Name)
	if !ok {
		return nil, errs.New(errs.FieldNotIndexed, primary.Name)
	}
	return tree.Range(math.MinInt64, math.MaxInt64)
}

func intersectUids(a, b []uint64) []uint64 {
	set := make(map[uint64]bool, len(b))
	for _, u := range b {
		set[u] = true
	}
	var out []uint64
	for _, u := range a {
		if set[u] {
			out = append(out, u)
		}
	}
	return out
}

func unionUids(a, b []uint64) []uint64 {
	seen := make(map[uint64]bool, len(a)+len(b))
	var out []uint64
	for _, u := range append(append([]uint64(nil), a...), b...) {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

// candidateUids implements spec.md §4.10's WHERE planning table: at most
// two single-field predicates joined by AND/OR, resolved to a candidate
// uid set via index ranges where possible, falling back to a full scan.
// The caller is responsible for re-checking the full WHERE predicate (and
// MVCC visibility) against every candidate's decoded row — this function
// only narrows the search, it never finalizes membership.
func (e *Executor) candidateUids(table *catalog.Table, where *plan.Where) ([]uint64, error) {
	if where == nil {
		return e.fullScanCandidates(table)
	}
	if where.Right == nil {
		p := where.Left
		f, ok := table.Field(p.Field)
		if !ok {
			return nil, errs.New(errs.FieldNotFound, p.Field)
		}
		if indexUsable(f, p.Op) {
			return e.indexRange(table, p)
		}
		return e.fullScanCandidates(table)
	}

	a, b := where.Left, where.Right
	fa, okA := table.Field(a.Field)
	fb, okB := table.Field(b.Field)
	if !okA {
		return nil, errs.New(errs.FieldNotFound, a.Field)
	}
	if !okB {
		return nil, errs.New(errs.FieldNotFound, b.Field)
	}
	usableA := indexUsable(fa, a.Op)
	usableB := indexUsable(fb, b.Op)

	if usableA && usableB && a.Field == b.Field {
		keyA, err := catalog.IndexKey(a.Literal)
		if err != nil {
			return nil, err
		}
		keyB, err := catalog.IndexKey(b.Literal)
		if err != nil {
			return nil, err
		}
		loA, hiA := predicateRange(keyA, a.Op)
		loB, hiB := predicateRange(keyB, b.Op)
		tree, ok := e.cat.Index(table.Name, fa.Name)
		if !ok {
			return nil, errs.New(errs.FieldNotIndexed, fa.Name)
		}
		if where.Op == plan.LogicalAnd {
			lo, hi := loA, hiA
			if loB > lo {
				lo = loB
			}
			if hiB < hi {
				hi = hiB
			}
			return tree.Range(lo, hi)
		}
		lo, hi := loA, hiA
		if loB < lo {
			lo = loB
		}
		if hiB > hi {
			hi = hiB
		}
		return tree.Range(lo, hi)
	}

	switch {
	case usableA && usableB:
		ra, err := e.indexRange(table, a)
		if err != nil {
			return nil, err
		}
		rb, err := e.indexRange(table, b)
		if err != nil {
			return nil, err
		}
		if where.Op == plan.LogicalAnd {
			return intersectUids(ra, rb), nil
		}
		return unionUids(ra, rb), nil
	case usableA && !usableB:
		if where.Op == plan.LogicalAnd {
			return e.indexRange(table, a)
		}
		return e.fullScanCandidates(table)
	case !usableA && usableB:
		if where.Op == plan.LogicalAnd {
			return e.indexRange(table, b)
		}
		return e.fullScanCandidates(table)
	default:
		return e.fullScanCandidates(table)
	}
}

// evaluateWhere re-applies the full predicate to a decoded row; used to
// finalize both index-narrowed and full-scan candidates alike.
func evaluateWhere(row catalog.Row, where *plan.Where) (bool, error) {
	if where == nil {
		return true, nil
	}
	left, err := evaluatePredicate(row, where.Left)
	if err != nil {
		return false, err
	}
	if where.Right == nil {
		return left, nil
	}
	right, err := evaluatePredicate(row, where.Right)
	if err != nil {
		return false, err
	}
	if where.Op == plan.LogicalOr {
		return left || right, nil
	}
	return left && right, nil
}

func evaluatePredicate(row catalog.Row, p *plan.Predicate) (bool, error) {
	v, ok := row[p.Field]
	if !ok {
		return false, errs.New(errs.FieldNotFound, p.Field)
	}
	return compareValues(v, p.Literal, p.Op)
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// compareValues compares two column values using numeric order when both
// sides are numeric, lexicographic order otherwise (spec.md §4.10).
func compareValues(a, b any, op plan.CompareOp) (bool, error) {
	var cmp int
	na, okA := asNumber(a)
	nb, okB := asNumber(b)
	if okA && okB {
		switch {
		case na < nb:
			cmp = -1
		case na > nb:
			cmp = 1
		default:
			cmp = 0
		}
	} else {
		sa, ok1 := a.(string)
		sb, ok2 := b.(string)
		if !ok1 || !ok2 {
			return false, errs.New(errs.InvalidValues, fmt.Sprintf("cannot compare %T and %T", a, b))
		}
		switch {
		case sa < sb:
			cmp = -1
		case sa > sb:
			cmp = 1
		default:
			cmp = 0
		}
	}

	switch op {
	case plan.OpLt:
		return cmp < 0, nil
	case plan.OpLe:
		return cmp <= 0, nil
	case plan.OpEq:
		return cmp == 0, nil
	case plan.OpGt:
		return cmp > 0, nil
	case plan.OpGe:
		return cmp >= 0, nil
	case plan.OpNe:
		return cmp != 0, nil
	default:
		return false, errs.New(errs.InvalidCommand, "unknown comparison operator")
	}
}
