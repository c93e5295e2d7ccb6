package executor

import (
	"fmt"

	"github.com/leengari/mini-rdbms/internal/catalog"
	"github.com/leengari/mini-rdbms/internal/errs"
	"github.com/leengari/mini-rdbms/internal/plan"
)

// matchedRows computes WHERE's candidate uids, reads each under xid's
// visibility, decodes it, and keeps the ones the full predicate accepts.
func (e *Executor) matchedRows(xid uint64, table *catalog.Table, where *plan.Where) ([]catalog.Row, error) {
	uids, err := e.candidateUids(table, where)
	if err != nil {
		return nil, err
	}
	var rows []catalog.Row
	for _, uid := range uids {
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
		match, err := evaluateWhere(row, where)
		if err != nil {
			return nil, err
		}
		if match {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func expandProjections(table *catalog.Table, projections []plan.Projection) []plan.Projection {
	var out []plan.Projection
	for _, p := range projections {
		if !p.Star {
			out = append(out, p)
			continue
		}
		for _, f := range table.Fields {
			out = append(out, plan.Projection{Field: f.Name})
		}
	}
	return out
}

func projectionColumnName(p plan.Projection) string {
	if p.Alias != "" {
		return p.Alias
	}
	if p.Agg != nil {
		field := p.Agg.Field
		if field == "" {
			field = "*"
		}
		return fmt.Sprintf("%s(%s)", p.Agg.Func, field)
	}
	return p.Field
}

func validateGroupBy(table *catalog.Table, s *plan.SelectStatement, projections []plan.Projection, hasAggregates bool) error {
	groupSet := make(map[string]bool, len(s.GroupBy))
	for _, g := range s.GroupBy {
		if _, ok := table.Field(g); !ok {
			return errs.New(errs.FieldNotFound, g)
		}
		groupSet[g] = true
	}
	if !hasAggregates && len(s.GroupBy) == 0 {
		return nil
	}
	for _, p := range projections {
		if p.Agg != nil {
			continue
		}
		if !groupSet[p.Field] {
			return errs.New(errs.InvalidCommand, fmt.Sprintf("column %q must appear in GROUP BY or be used in an aggregate", p.Field))
		}
	}
	return nil
}

func (e *Executor) executeSelect(xid uint64, s *plan.SelectStatement) (*Result, error) {
	table, err := e.requireTable(s.Table)
	if err != nil {
		return nil, err
	}
	projections := expandProjections(table, s.Projections)

	hasAggregates := false
	for _, p := range projections {
		if p.Agg != nil {
			hasAggregates = true
			break
		}
	}
	if err := validateGroupBy(table, s, projections, hasAggregates); err != nil {
		return nil, err
	}

	rows, err := e.matchedRows(xid, table, s.Where)
	if err != nil {
		return nil, err
	}

	switch {
	case hasAggregates && len(s.GroupBy) == 0:
		return e.selectAggregateOnly(table, projections, rows)
	case hasAggregates && len(s.GroupBy) > 0:
		return e.selectGroupedAggregate(table, s, projections, rows)
	case !hasAggregates && len(s.GroupBy) > 0:
		return e.selectDistinctGroups(table, s, projections, rows)
	default:
		return e.selectPlain(table, projections, rows)
	}
}

func (e *Executor) selectPlain(table *catalog.Table, projections []plan.Projection, rows []catalog.Row) (*Result, error) {
	columns := make([]string, len(projections))
	metadata := make([]ColumnMetadata, len(projections))
	for i, p := range projections {
		columns[i] = projectionColumnName(p)
		metadata[i] = columnMetadataFor(table, p.Field)
	}
	out := make([]catalog.Row, len(rows))
	for i, row := range rows {
		projected := make(catalog.Row, len(projections))
		for j, p := range projections {
			projected[columns[j]] = row[p.Field]
		}
		out[i] = projected
	}
	return &Result{Columns: columns, Metadata: metadata, Rows: out}, nil
}

func (e *Executor) selectDistinctGroups(table *catalog.Table, s *plan.SelectStatement, projections []plan.Projection, rows []catalog.Row) (*Result, error) {
	columns := make([]string, len(projections))
	for i, p := range projections {
		columns[i] = projectionColumnName(p)
	}
	seen := make(map[string]bool)
	var out []catalog.Row
	for _, row := range rows {
		key := groupKey(row, s.GroupBy)
		if seen[key] {
			continue
		}
		seen[key] = true
		projected := make(catalog.Row, len(projections))
		for j, p := range projections {
			projected[columns[j]] = row[p.Field]
		}
		out = append(out, projected)
	}
	return &Result{Columns: columns, Rows: out}, nil
}

func groupKey(row catalog.Row, groupBy []string) string {
	key := ""
	for _, g := range groupBy {
		key += fmt.Sprintf("\x1f%v", row[g])
	}
	return key
}

// aggAccumulator folds one aggregate function over a stream of rows.
type aggAccumulator struct {
	fn         plan.AggFunc
	field      string
	count      int64
	sum        float64
	hasNumeric bool
	isString   bool
	seen       bool
	minNum     float64
	maxNum     float64
	minStr     string
	maxStr     string
}

func newAggAccumulator(fn plan.AggFunc, field string) *aggAccumulator {
	return &aggAccumulator{fn: fn, field: field}
}

func (a *aggAccumulator) add(row catalog.Row) error {
	if a.fn == plan.AggCount && (a.field == "" || a.field == "*") {
		a.count++
		return nil
	}
	v, ok := row[a.field]
	if !ok {
		return errs.New(errs.FieldNotFound, a.field)
	}
	a.count++
	if n, isNum := asNumber(v); isNum {
		a.hasNumeric = true
		a.sum += n
		if !a.seen || n < a.minNum {
			a.minNum = n
		}
		if !a.seen || n > a.maxNum {
			a.maxNum = n
		}
	} else if sv, ok := v.(string); ok {
		a.isString = true
		if !a.seen || sv < a.minStr {
			a.minStr = sv
		}
		if !a.seen || sv > a.maxStr {
			a.maxStr = sv
		}
	}
	a.seen = true
	return nil
}

func (a *aggAccumulator) value() (any, error) {
	switch a.fn {
	case plan.AggCount:
		return a.count, nil
	case plan.AggSum:
		if !a.hasNumeric {
			return nil, errs.New(errs.InvalidValues, "SUM requires a numeric field")
		}
		return a.sum, nil
	case plan.AggAvg:
		if !a.hasNumeric || a.count == 0 {
			return nil, errs.New(errs.InvalidValues, "AVG requires a numeric field")
		}
		return a.sum / float64(a.count), nil
	case plan.AggMin:
		if a.isString {
			return a.minStr, nil
		}
		return a.minNum, nil
	case plan.AggMax:
		if a.isString {
			return a.maxStr, nil
		}
		return a.maxNum, nil
	default:
		return nil, errs.New(errs.InvalidCommand, "unknown aggregate function")
	}
}

func (e *Executor) selectAggregateOnly(table *catalog.Table, projections []plan.Projection, rows []catalog.Row) (*Result, error) {
	accs := make([]*aggAccumulator, 0, len(projections))
	accIndexByProjection := make([]int, len(projections))
	for i, p := range projections {
		if p.Agg == nil {
			accIndexByProjection[i] = -1
			continue
		}
		accIndexByProjection[i] = len(accs)
		accs = append(accs, newAggAccumulator(p.Agg.Func, p.Agg.Field))
	}
	for _, row := range rows {
		for _, acc := range accs {
			if err := acc.add(row); err != nil {
				return nil, err
			}
		}
	}

	columns := make([]string, len(projections))
	row := make(catalog.Row, len(projections))
	for i, p := range projections {
		columns[i] = projectionColumnName(p)
		if accIndexByProjection[i] < 0 {
			return nil, errs.New(errs.InvalidCommand, fmt.Sprintf("column %q requires GROUP BY", p.Field))
		}
		v, err := accs[accIndexByProjection[i]].value()
		if err != nil {
			return nil, err
		}
		row[columns[i]] = v
	}
	return &Result{Columns: columns, Rows: []catalog.Row{row}}, nil
}

func (e *Executor) selectGroupedAggregate(table *catalog.Table, s *plan.SelectStatement, projections []plan.Projection, rows []catalog.Row) (*Result, error) {
	type group struct {
		keyRow catalog.Row
		accs   []*aggAccumulator
	}
	aggProjIdx := make([]int, 0) // index into projections that are aggregates
	for i, p := range projections {
		if p.Agg != nil {
			aggProjIdx = append(aggProjIdx, i)
		}
	}

	groups := make(map[string]*group)
	var order []string
	for _, row := range rows {
		key := groupKey(row, s.GroupBy)
		g, ok := groups[key]
		if !ok {
			g = &group{keyRow: row, accs: make([]*aggAccumulator, len(aggProjIdx))}
			for i, idx := range aggProjIdx {
				g.accs[i] = newAggAccumulator(projections[idx].Agg.Func, projections[idx].Agg.Field)
			}
			groups[key] = g
			order = append(order, key)
		}
		for _, acc := range g.accs {
			if err := acc.add(row); err != nil {
				return nil, err
			}
		}
	}

	aliasIndex := make(map[string]int)
	for _, idx := range aggProjIdx {
		if projections[idx].Agg.Alias != "" {
			aliasIndex[projections[idx].Agg.Alias] = idx
		}
	}

	columns := make([]string, len(projections))
	for i, p := range projections {
		columns[i] = projectionColumnName(p)
	}

	var out []catalog.Row
	for _, key := range order {
		g := groups[key]
		aggValues := make([]any, len(g.accs))
		for i, acc := range g.accs {
			v, err := acc.value()
			if err != nil {
				return nil, err
			}
			aggValues[i] = v
		}
		if s.Having != nil {
			// HAVING operands address aggregates by SELECT-list position,
			// so lay the values out by projection index.
			havingValues := make([]any, len(projections))
			for i, idx := range aggProjIdx {
				havingValues[idx] = aggValues[i]
			}
			pass, err := evaluateHaving(s.Having, g.keyRow, havingValues, aliasIndex)
			if err != nil {
				return nil, err
			}
			if !pass {
				continue
			}
		}
		outRow := make(catalog.Row, len(projections))
		aggPos := 0
		for i, p := range projections {
			if p.Agg != nil {
				outRow[columns[i]] = aggValues[aggPos]
				aggPos++
				continue
			}
			outRow[columns[i]] = g.keyRow[p.Field]
		}
		out = append(out, outRow)
	}
	return &Result{Columns: columns, Rows: out}, nil
}

func resolveHavingOperand(op plan.HavingOperand, keyRow catalog.Row, aggValues []any, aliasIndex map[string]int) (any, error) {
	if op.IsNumber {
		return op.Number, nil
	}
	if op.AggAlias != "" {
		idx, ok := aliasIndex[op.AggAlias]
		if !ok {
			return nil, errs.New(errs.InvalidCommand, fmt.Sprintf("unknown aggregate alias %q", op.AggAlias))
		}
		return aggValues[idx], nil
	}
	if op.AggIndex >= 0 {
		if op.AggIndex >= len(aggValues) {
			return nil, errs.New(errs.InvalidCommand, "aggregate index out of range")
		}
		return aggValues[op.AggIndex], nil
	}
	v, ok := keyRow[op.Column]
	if !ok {
		return nil, errs.New(errs.FieldNotFound, op.Column)
	}
	return v, nil
}

func evaluateHaving(h *plan.Having, keyRow catalog.Row, aggValues []any, aliasIndex map[string]int) (bool, error) {
	if h.Pred != nil {
		left, err := resolveHavingOperand(h.Pred.Left, keyRow, aggValues, aliasIndex)
		if err != nil {
			return false, err
		}
		right, err := resolveHavingOperand(h.Pred.Right, keyRow, aggValues, aliasIndex)
		if err != nil {
			return false, err
		}
		return compareValues(left, right, h.Pred.Op)
	}
	left, err := evaluateHaving(h.Left, keyRow, aggValues, aliasIndex)
	if err != nil {
		return false, err
	}
	right, err := evaluateHaving(h.Right, keyRow, aggValues, aliasIndex)
	if err != nil {
		return false, err
	}
	if h.Op == plan.LogicalOr {
		return left || right, nil
	}
	return left && right, nil
}
