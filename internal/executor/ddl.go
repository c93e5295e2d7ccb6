package executor

import (
	"fmt"
	"sort"

	"github.com/leengari/mini-rdbms/internal/catalog"
	"github.com/leengari/mini-rdbms/internal/plan"
)

func (e *Executor) executeCreateTable(s *plan.CreateTableStatement) (*Result, error) {
	if err := e.cat.CreateTable(s.Table, s.Fields); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("table %q created", s.Table)}, nil
}

func (e *Executor) executeDropTable(s *plan.DropTableStatement) (*Result, error) {
	if err := e.cat.DropTable(s.Table); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("table %q dropped", s.Table)}, nil
}

func (e *Executor) executeDescribe(s *plan.DescribeStatement) (*Result, error) {
	table, err := e.requireTable(s.Table)
	if err != nil {
		return nil, err
	}
	columns := []string{"field", "type", "unique", "primary", "indexed"}
	rows := make([]catalog.Row, 0, len(table.Fields))
	for _, f := range table.Fields {
		rows = append(rows, catalog.Row{
			"field":   f.Name,
			"type":    f.Type.String(),
			"unique":  f.Unique,
			"primary": f.Primary,
			"indexed": f.Indexed(),
		})
	}
	return &Result{Columns: columns, Rows: rows}, nil
}

func (e *Executor) executeShow() (*Result, error) {
	names := e.cat.Tables()
	sort.Strings(names)
	rows := make([]catalog.Row, 0, len(names))
	for _, n := range names {
		rows = append(rows, catalog.Row{"table": n})
	}
	return &Result{Columns: []string{"table"}, Rows: rows}, nil
}
