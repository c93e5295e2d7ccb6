// Package parser turns SQL text into the flat statement values internal/plan
// and internal/executor operate on.
package parser

import (
	"fmt"
	"strconv"

	"github.com/leengari/mini-rdbms/internal/catalog"
	"github.com/leengari/mini-rdbms/internal/parser/lexer"
	"github.com/leengari/mini-rdbms/internal/plan"
)

type Parser struct {
	tokens  []lexer.Token
	curPos  int
	curTok  lexer.Token
	peekTok lexer.Token
}

// Parse tokenizes and parses a single SQL statement.
func Parse(input string) (plan.Statement, error) {
	tokens, err := lexer.Tokenize(input)
	if err != nil {
		return nil, err
	}
	return New(tokens).Parse()
}

func New(tokens []lexer.Token) *Parser {
	p := &Parser{tokens: tokens}
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.curTok = p.peekTok
	if p.curPos < len(p.tokens) {
		p.peekTok = p.tokens[p.curPos]
		p.curPos++
	} else {
		p.peekTok = lexer.Token{Type: lexer.EOF}
	}
}

func (p *Parser) expect(t lexer.TokenType, what string) error {
	if p.curTok.Type != t {
		return fmt.Errorf("expected %s, got %q", what, p.curTok.Literal)
	}
	return nil
}

func (p *Parser) Parse() (plan.Statement, error) {
	switch p.curTok.Type {
	case lexer.SELECT:
		return p.parseSelect()
	case lexer.INSERT:
		return p.parseInsert()
	case lexer.UPDATE:
		return p.parseUpdate()
	case lexer.DELETE:
		return p.parseDelete()
	case lexer.CREATE:
		return p.parseCreate()
	case lexer.DROP:
		return p.parseDrop()
	case lexer.DESCRIBE:
		return p.parseDescribe()
	case lexer.SHOW:
		return p.parseShow()
	case lexer.BEGIN:
		return p.parseBegin()
	case lexer.COMMIT:
		p.nextToken()
		p.skipSemicolon()
		return &plan.CommitStatement{}, nil
	case lexer.ABORT, lexer.ROLLBACK:
		p.nextToken()
		p.skipSemicolon()
		return &plan.AbortStatement{}, nil
	case lexer.USE:
		return p.parseUse()
	default:
		return nil, fmt.Errorf("unexpected token %q at start of statement", p.curTok.Literal)
	}
}

func (p *Parser) skipSemicolon() {
	if p.curTok.Type == lexer.SEMICOLON {
		p.nextToken()
	}
}

// --- SELECT ---

func (p *Parser) parseSelect() (*plan.SelectStatement, error) {
	stmt := &plan.SelectStatement{}
	p.nextToken() // consume SELECT

	projections, err := p.parseProjectionList()
	if err != nil {
		return nil, err
	}
	stmt.Projections = projections

	if err := p.expect(lexer.FROM, "FROM"); err != nil {
		return nil, err
	}
	p.nextToken()

	if err := p.expect(lexer.IDENTIFIER, "table name"); err != nil {
		return nil, err
	}
	stmt.Table = p.curTok.Literal
	p.nextToken()

	if p.curTok.Type == lexer.WHERE {
		p.nextToken()
		where, err := p.parseWhere()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}

	if p.curTok.Type == lexer.GROUP {
		p.nextToken()
		if err := p.expect(lexer.BY, "BY"); err != nil {
			return nil, err
		}
		p.nextToken()
		cols, err := p.parseIdentifierNameList()
		if err != nil {
			return nil, err
		}
		stmt.GroupBy = cols
	}

	if p.curTok.Type == lexer.HAVING {
		p.nextToken()
		having, err := p.parseHaving(stmt.Projections)
		if err != nil {
			return nil, err
		}
		stmt.Having = having
	}

	p.skipSemicolon()
	return stmt, nil
}

func (p *Parser) parseProjectionList() ([]plan.Projection, error) {
	var out []plan.Projection
	for {
		proj, err := p.parseProjection()
		if err != nil {
			return nil, err
		}
		out = append(out, proj)
		if p.curTok.Type != lexer.COMMA {
			break
		}
		p.nextToken()
	}
	return out, nil
}

func (p *Parser) parseProjection() (plan.Projection, error) {
	if p.curTok.Type == lexer.ASTERISK {
		p.nextToken()
		return plan.Projection{Star: true}, nil
	}
	if fn, ok := aggFuncFor(p.curTok.Type); ok {
		p.nextToken()
		if err := p.expect(lexer.PAREN_OPEN, "("); err != nil {
			return plan.Projection{}, err
		}
		p.nextToken()
		field := ""
		if p.curTok.Type == lexer.ASTERISK {
			p.nextToken()
		} else {
			if err := p.expect(lexer.IDENTIFIER, "column name"); err != nil {
				return plan.Projection{}, err
			}
			field = p.curTok.Literal
			p.nextToken()
		}
		if err := p.expect(lexer.PAREN_CLOSE, ")"); err != nil {
			return plan.Projection{}, err
		}
		p.nextToken()
		alias := p.parseOptionalAlias()
		return plan.Projection{Agg: &plan.Aggregate{Func: fn, Field: field, Alias: alias}, Alias: alias}, nil
	}
	if err := p.expect(lexer.IDENTIFIER, "column name or aggregate"); err != nil {
		return plan.Projection{}, err
	}
	field := p.curTok.Literal
	p.nextToken()
	alias := p.parseOptionalAlias()
	return plan.Projection{Field: field, Alias: alias}, nil
}

func (p *Parser) parseOptionalAlias() string {
	if p.curTok.Type == lexer.AS {
		p.nextToken()
		alias := p.curTok.Literal
		p.nextToken()
		return alias
	}
	return ""
}

func aggFuncFor(t lexer.TokenType) (plan.AggFunc, bool) {
	switch t {
	case lexer.COUNT:
		return plan.AggCount, true
	case lexer.SUM:
		return plan.AggSum, true
	case lexer.AVG:
		return plan.AggAvg, true
	case lexer.MIN:
		return plan.AggMin, true
	case lexer.MAX:
		return plan.AggMax, true
	}
	return "", false
}

func (p *Parser) parseIdentifierNameList() ([]string, error) {
	var out []string
	for {
		if err := p.expect(lexer.IDENTIFIER, "identifier"); err != nil {
			return nil, err
		}
		out = append(out, p.curTok.Literal)
		p.nextToken()
		if p.curTok.Type != lexer.COMMA {
			break
		}
		p.nextToken()
	}
	return out, nil
}

// parseWhere parses spec.md §4.10's WHERE grammar: a single predicate, or
// two predicates joined by exactly one AND/OR.
func (p *Parser) parseWhere() (*plan.Where, error) {
	left, err := p.parsePredicate()
	if err != nil {
		return nil, err
	}
	w := &plan.Where{Left: left}
	switch p.curTok.Type {
	case lexer.AND:
		w.Op = plan.LogicalAnd
	case lexer.OR:
		w.Op = plan.LogicalOr
	default:
		return w, nil
	}
	p.nextToken()
	right, err := p.parsePredicate()
	if err != nil {
		return nil, err
	}
	w.Right = right
	return w, nil
}

func (p *Parser) parsePredicate() (*plan.Predicate, error) {
	if err := p.expect(lexer.IDENTIFIER, "column name"); err != nil {
		return nil, err
	}
	field := p.curTok.Literal
	p.nextToken()

	op, err := p.parseCompareOp()
	if err != nil {
		return nil, err
	}
	p.nextToken()

	lit, err := p.parseLiteralValue()
	if err != nil {
		return nil, err
	}
	return &plan.Predicate{Field: field, Op: op, Literal: lit}, nil
}

func (p *Parser) parseCompareOp() (plan.CompareOp, error) {
	switch p.curTok.Type {
	case lexer.EQUALS:
		return plan.OpEq, nil
	case lexer.NOT_EQUAL:
		return plan.OpNe, nil
	case lexer.LESS_THAN:
		return plan.OpLt, nil
	case lexer.LESS_EQUAL:
		return plan.OpLe, nil
	case lexer.GREATER_THAN:
		return plan.OpGt, nil
	case lexer.GREATER_EQUAL:
		return plan.OpGe, nil
	}
	return 0, fmt.Errorf("expected a comparison operator, got %q", p.curTok.Literal)
}

func (p *Parser) parseLiteralValue() (any, error) {
	switch p.curTok.Type {
	case lexer.STRING:
		v := p.curTok.Literal
		p.nextToken()
		return v, nil
	case lexer.NUMBER:
		v := p.curTok.Literal
		p.nextToken()
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", v)
		}
		return f, nil
	case lexer.TRUE:
		p.nextToken()
		return true, nil
	case lexer.FALSE:
		p.nextToken()
		return false, nil
	case lexer.NULL:
		p.nextToken()
		return nil, nil
	}
	return nil, fmt.Errorf("expected a literal value, got %q", p.curTok.Literal)
}

// parseHaving builds the HAVING tree, resolving aggregate references
// against the SELECT list's already-parsed projections.
func (p *Parser) parseHaving(projections []plan.Projection) (*plan.Having, error) {
	left, err := p.parseHavingAnd(projections)
	if err != nil {
		return nil, err
	}
	for p.curTok.Type == lexer.OR {
		p.nextToken()
		right, err := p.parseHavingAnd(projections)
		if err != nil {
			return nil, err
		}
		left = &plan.Having{Left: left, Op: plan.LogicalOr, Right: right}
	}
	return left, nil
}

func (p *Parser) parseHavingAnd(projections []plan.Projection) (*plan.Having, error) {
	left, err := p.parseHavingTerm(projections)
	if err != nil {
		return nil, err
	}
	for p.curTok.Type == lexer.AND {
		p.nextToken()
		right, err := p.parseHavingTerm(projections)
		if err != nil {
			return nil, err
		}
		left = &plan.Having{Left: left, Op: plan.LogicalAnd, Right: right}
	}
	return left, nil
}

func (p *Parser) parseHavingTerm(projections []plan.Projection) (*plan.Having, error) {
	if p.curTok.Type == lexer.PAREN_OPEN {
		p.nextToken()
		inner, err := p.parseHaving(projections)
		if err != nil {
			return nil, err
		}
		if err := p.expect(lexer.PAREN_CLOSE, ")"); err != nil {
			return nil, err
		}
		p.nextToken()
		return inner, nil
	}
	left, err := p.parseHavingOperand(projections)
	if err != nil {
		return nil, err
	}
	op, err := p.parseCompareOp()
	if err != nil {
		return nil, err
	}
	p.nextToken()
	right, err := p.parseHavingOperand(projections)
	if err != nil {
		return nil, err
	}
	return &plan.Having{Pred: &plan.HavingPredicate{Left: left, Op: op, Right: right}}, nil
}

func (p *Parser) parseHavingOperand(projections []plan.Projection) (plan.HavingOperand, error) {
	if p.curTok.Type == lexer.NUMBER {
		v := p.curTok.Literal
		p.nextToken()
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return plan.HavingOperand{}, fmt.Errorf("invalid number %q", v)
		}
		return plan.HavingOperand{IsNumber: true, Number: f, AggIndex: -1}, nil
	}
	if fn, ok := aggFuncFor(p.curTok.Type); ok {
		p.nextToken()
		if err := p.expect(lexer.PAREN_OPEN, "("); err != nil {
			return plan.HavingOperand{}, err
		}
		p.nextToken()
		field := ""
		if p.curTok.Type == lexer.ASTERISK {
			p.nextToken()
		} else {
			field = p.curTok.Literal
			p.nextToken()
		}
		if err := p.expect(lexer.PAREN_CLOSE, ")"); err != nil {
			return plan.HavingOperand{}, err
		}
		p.nextToken()
		idx := indexOfAggregate(projections, fn, field)
		if idx < 0 {
			return plan.HavingOperand{}, fmt.Errorf("HAVING references an aggregate not present in the SELECT list: %s(%s)", fn, field)
		}
		return plan.HavingOperand{AggIndex: idx}, nil
	}
	if err := p.expect(lexer.IDENTIFIER, "HAVING operand"); err != nil {
		return plan.HavingOperand{}, err
	}
	name := p.curTok.Literal
	p.nextToken()
	if idx := indexOfAlias(projections, name); idx >= 0 {
		return plan.HavingOperand{AggAlias: name, AggIndex: -1}, nil
	}
	return plan.HavingOperand{Column: name, AggIndex: -1}, nil
}

func indexOfAggregate(projections []plan.Projection, fn plan.AggFunc, field string) int {
	for i, p := range projections {
		if p.Agg != nil && p.Agg.Func == fn && p.Agg.Field == field {
			return i
		}
	}
	return -1
}

func indexOfAlias(projections []plan.Projection, alias string) int {
	for i, p := range projections {
		if p.Alias == alias {
			return i
		}
	}
	return -1
}

// --- INSERT ---

func (p *Parser) parseInsert() (*plan.InsertStatement, error) {
	stmt := &plan.InsertStatement{}
	p.nextToken() // INSERT

	if err := p.expect(lexer.INTO, "INTO"); err != nil {
		return nil, err
	}
	p.nextToken()

	if err := p.expect(lexer.IDENTIFIER, "table name"); err != nil {
		return nil, err
	}
	stmt.Table = p.curTok.Literal
	p.nextToken()

	if p.curTok.Type == lexer.PAREN_OPEN {
		p.nextToken()
		cols, err := p.parseIdentifierNameList()
		if err != nil {
			return nil, err
		}
		stmt.Columns = cols
		if err := p.expect(lexer.PAREN_CLOSE, ")"); err != nil {
			return nil, err
		}
		p.nextToken()
	}

	if err := p.expect(lexer.VALUES, "VALUES"); err != nil {
		return nil, err
	}
	p.nextToken()

	if err := p.expect(lexer.PAREN_OPEN, "("); err != nil {
		return nil, err
	}
	p.nextToken()

	var values []any
	for {
		v, err := p.parseLiteralValue()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.curTok.Type != lexer.COMMA {
			break
		}
		p.nextToken()
	}
	stmt.Values = values

	if err := p.expect(lexer.PAREN_CLOSE, ")"); err != nil {
		return nil, err
	}
	p.nextToken()
	p.skipSemicolon()
	return stmt, nil
}

// --- UPDATE ---

func (p *Parser) parseUpdate() (*plan.UpdateStatement, error) {
	stmt := &plan.UpdateStatement{Assignments: map[string]any{}}
	p.nextToken() // UPDATE

	if err := p.expect(lexer.IDENTIFIER, "table name"); err != nil {
		return nil, err
	}
	stmt.Table = p.curTok.Literal
	p.nextToken()

	if err := p.expect(lexer.SET, "SET"); err != nil {
		return nil, err
	}
	p.nextToken()

	for {
		if err := p.expect(lexer.IDENTIFIER, "column name"); err != nil {
			return nil, err
		}
		col := p.curTok.Literal
		p.nextToken()
		if err := p.expect(lexer.EQUALS, "="); err != nil {
			return nil, err
		}
		p.nextToken()
		val, err := p.parseLiteralValue()
		if err != nil {
			return nil, err
		}
		stmt.Assignments[col] = val
		if p.curTok.Type != lexer.COMMA {
			break
		}
		p.nextToken()
	}

	if p.curTok.Type == lexer.WHERE {
		p.nextToken()
		where, err := p.parseWhere()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	p.skipSemicolon()
	return stmt, nil
}

// --- DELETE ---

func (p *Parser) parseDelete() (*plan.DeleteStatement, error) {
	stmt := &plan.DeleteStatement{}
	p.nextToken() // DELETE

	if err := p.expect(lexer.FROM, "FROM"); err != nil {
		return nil, err
	}
	p.nextToken()

	if err := p.expect(lexer.IDENTIFIER, "table name"); err != nil {
		return nil, err
	}
	stmt.Table = p.curTok.Literal
	p.nextToken()

	if p.curTok.Type == lexer.WHERE {
		p.nextToken()
		where, err := p.parseWhere()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	p.skipSemicolon()
	return stmt, nil
}

// --- CREATE / DROP TABLE, CREATE / DROP DATABASE ---

func (p *Parser) parseCreate() (plan.Statement, error) {
	p.nextToken() // CREATE
	switch p.curTok.Type {
	case lexer.TABLE:
		return p.parseCreateTable()
	case lexer.DATABASE:
		p.nextToken()
		if err := p.expect(lexer.IDENTIFIER, "database name"); err != nil {
			return nil, err
		}
		name := p.curTok.Literal
		p.nextToken()
		p.skipSemicolon()
		return &plan.CreateDbStatement{Database: name}, nil
	}
	return nil, fmt.Errorf("expected TABLE or DATABASE after CREATE, got %q", p.curTok.Literal)
}

func (p *Parser) parseDrop() (plan.Statement, error) {
	p.nextToken() // DROP
	switch p.curTok.Type {
	case lexer.TABLE:
		p.nextToken()
		if err := p.expect(lexer.IDENTIFIER, "table name"); err != nil {
			return nil, err
		}
		name := p.curTok.Literal
		p.nextToken()
		p.skipSemicolon()
		return &plan.DropTableStatement{Table: name}, nil
	case lexer.DATABASE:
		p.nextToken()
		if err := p.expect(lexer.IDENTIFIER, "database name"); err != nil {
			return nil, err
		}
		name := p.curTok.Literal
		p.nextToken()
		p.skipSemicolon()
		return &plan.DropDbStatement{Database: name}, nil
	}
	return nil, fmt.Errorf("expected TABLE or DATABASE after DROP, got %q", p.curTok.Literal)
}

func (p *Parser) parseCreateTable() (*plan.CreateTableStatement, error) {
	p.nextToken() // TABLE
	if err := p.expect(lexer.IDENTIFIER, "table name"); err != nil {
		return nil, err
	}
	stmt := &plan.CreateTableStatement{Table: p.curTok.Literal}
	p.nextToken()

	if err := p.expect(lexer.PAREN_OPEN, "("); err != nil {
		return nil, err
	}
	p.nextToken()

	for {
		field, err := p.parseFieldDef()
		if err != nil {
			return nil, err
		}
		stmt.Fields = append(stmt.Fields, field)
		if p.curTok.Type != lexer.COMMA {
			break
		}
		p.nextToken()
	}

	if err := p.expect(lexer.PAREN_CLOSE, ")"); err != nil {
		return nil, err
	}
	p.nextToken()
	p.skipSemicolon()
	return stmt, nil
}

func (p *Parser) parseFieldDef() (catalog.Field, error) {
	if err := p.expect(lexer.IDENTIFIER, "field name"); err != nil {
		return catalog.Field{}, err
	}
	f := catalog.Field{Name: p.curTok.Literal}
	p.nextToken()

	switch p.curTok.Type {
	case lexer.INT:
		f.Type = catalog.TypeInt32
	case lexer.BIGINT:
		f.Type = catalog.TypeInt64
	case lexer.VARCHAR:
		f.Type = catalog.TypeString
	default:
		return catalog.Field{}, fmt.Errorf("expected a field type (INT, BIGINT, VARCHAR), got %q", p.curTok.Literal)
	}
	p.nextToken()

	for {
		switch p.curTok.Type {
		case lexer.UNIQUE:
			f.Unique = true
			p.nextToken()
			continue
		case lexer.PRIMARY:
			p.nextToken()
			if err := p.expect(lexer.KEY, "KEY"); err != nil {
				return catalog.Field{}, err
			}
			f.Primary = true
			p.nextToken()
			continue
		}
		break
	}
	return f, nil
}

// --- DESCRIBE / SHOW ---

func (p *Parser) parseDescribe() (*plan.DescribeStatement, error) {
	p.nextToken() // DESCRIBE
	if err := p.expect(lexer.IDENTIFIER, "table name"); err != nil {
		return nil, err
	}
	name := p.curTok.Literal
	p.nextToken()
	p.skipSemicolon()
	return &plan.DescribeStatement{Table: name}, nil
}

func (p *Parser) parseShow() (plan.Statement, error) {
	p.nextToken() // SHOW
	switch p.curTok.Type {
	case lexer.TABLES:
		p.nextToken()
		p.skipSemicolon()
		return &plan.ShowStatement{}, nil
	case lexer.DATABASES:
		p.nextToken()
		p.skipSemicolon()
		return &plan.ShowDatabasesStatement{}, nil
	}
	return nil, fmt.Errorf("expected TABLES or DATABASES after SHOW, got %q", p.curTok.Literal)
}

// --- BEGIN / USE ---

func (p *Parser) parseBegin() (*plan.BeginStatement, error) {
	p.nextToken() // BEGIN
	stmt := &plan.BeginStatement{Level: plan.ReadCommitted}
	if p.curTok.Type == lexer.TRANSACTION {
		p.nextToken()
	}
	if p.curTok.Type == lexer.ISOLATION {
		p.nextToken()
		if err := p.expect(lexer.LEVEL, "LEVEL"); err != nil {
			return nil, err
		}
		p.nextToken()
		switch p.curTok.Type {
		case lexer.READ:
			p.nextToken()
			if err := p.expect(lexer.COMMITTED, "COMMITTED"); err != nil {
				return nil, err
			}
			p.nextToken()
			stmt.Level = plan.ReadCommitted
		case lexer.REPEATABLE:
			p.nextToken()
			if err := p.expect(lexer.READ, "READ"); err != nil {
				return nil, err
			}
			p.nextToken()
			stmt.Level = plan.RepeatableRead
		default:
			return nil, fmt.Errorf("expected READ COMMITTED or REPEATABLE READ, got %q", p.curTok.Literal)
		}
	}
	p.skipSemicolon()
	return stmt, nil
}

func (p *Parser) parseUse() (*plan.UseStatement, error) {
	p.nextToken() // USE
	if err := p.expect(lexer.IDENTIFIER, "database name"); err != nil {
		return nil, err
	}
	name := p.curTok.Literal
	p.nextToken()
	p.skipSemicolon()
	return &plan.UseStatement{Database: name}, nil
}
