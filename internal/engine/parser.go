package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/r7-consult/wasm-sqlite-database/internal/storage"
)

// Parser turns a single SQL statement's source text into a Statement AST.
//
// What: A hand-written recursive-descent parser over the shared lexer.
// How: Two-token lookahead (cur/peek) with a standard precedence-climbing
// expression grammar (OR < AND < NOT < comparison < additive < term < unary).
// Why: The workbook query surface only needs a small, predictable grammar;
// a generated parser or parser-combinator library would be overkill for it.
type Parser struct {
	lx   *lexer
	cur  token
	peek token
}

// NewParser creates a Parser over the given SQL text.
func NewParser(sql string) *Parser {
	p := &Parser{lx: newLexer(sql)}
	p.advance()
	p.advance()
	return p
}

func (p *Parser) advance() {
	p.cur = p.peek
	p.peek = p.lx.nextToken()
}

func (p *Parser) atKeyword(kw string) bool {
	return p.cur.Typ == tKeyword && p.cur.Val == kw
}

func (p *Parser) atSymbol(sym string) bool {
	return p.cur.Typ == tSymbol && p.cur.Val == sym
}

func (p *Parser) eatKeyword(kw string) bool {
	if p.atKeyword(kw) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) eatSymbol(sym string) bool {
	if p.atSymbol(sym) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expectSymbol(sym string) error {
	if !p.eatSymbol(sym) {
		return fmt.Errorf("expected %q, got %q at pos %d", sym, p.cur.Val, p.cur.Pos)
	}
	return nil
}

func (p *Parser) expectKeyword(kw string) error {
	if !p.eatKeyword(kw) {
		return fmt.Errorf("expected %s, got %q at pos %d", kw, p.cur.Val, p.cur.Pos)
	}
	return nil
}

func (p *Parser) expectIdent() (string, error) {
	if p.cur.Typ != tIdent {
		// Allow keyword-as-identifier for type names used as bare idents is not needed here.
		return "", fmt.Errorf("expected identifier, got %q at pos %d", p.cur.Val, p.cur.Pos)
	}
	name := p.cur.Val
	p.advance()
	return name, nil
}

// ParseStatement parses the single statement held by the parser.
func (p *Parser) ParseStatement() (Statement, error) {
	switch {
	case p.atKeyword("CREATE"):
		return p.parseCreate()
	case p.atKeyword("DROP"):
		return p.parseDrop()
	case p.atKeyword("INSERT"):
		return p.parseInsert()
	case p.atKeyword("UPDATE"):
		return p.parseUpdate()
	case p.atKeyword("DELETE"):
		return p.parseDelete()
	case p.atKeyword("SELECT"):
		return p.parseSelect()
	default:
		return nil, fmt.Errorf("unsupported statement starting at %q", p.cur.Val)
	}
}

// ParseSQL parses a single SQL statement and returns its AST.
func ParseSQL(sql string) (Statement, error) {
	return NewParser(sql).ParseStatement()
}

// MustParseSQL parses sql and panics on error. Intended for tests and
// compile-time-constant queries.
func MustParseSQL(sql string) Statement {
	st, err := ParseSQL(sql)
	if err != nil {
		panic(err)
	}
	return st
}

func (p *Parser) parseCreate() (Statement, error) {
	p.advance() // CREATE
	if p.eatKeyword("OR") {
		if err := p.expectKeyword("REPLACE"); err != nil {
			return nil, err
		}
		return p.parseCreateView(true)
	}
	if p.atKeyword("VIEW") {
		return p.parseCreateView(false)
	}
	isTemp := p.eatKeyword("TEMP")
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	ifNotExists := false
	if p.eatKeyword("IF") {
		if err := p.expectKeyword("NOT"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("EXISTS"); err != nil {
			return nil, err
		}
		ifNotExists = true
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var cols []storage.Column
	for {
		colName, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		colType, err := p.parseColType()
		if err != nil {
			return nil, err
		}
		col := storage.Column{Name: colName, Type: colType}
		for p.isConstraintKeyword() {
			p.applyConstraint(&col)
		}
		cols = append(cols, col)
		if p.eatSymbol(",") {
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return &CreateTable{Name: name, Cols: cols, IsTemp: isTemp, IfNotExists: ifNotExists}, nil
}

func (p *Parser) isConstraintKeyword() bool {
	return p.atKeyword("PRIMARY") || p.atKeyword("UNIQUE") || p.atKeyword("NOT") ||
		p.atKeyword("FOREIGN") || p.atKeyword("REFERENCES")
}

// applyConstraint consumes a best-effort constraint clause. The workbook
// engine does not enforce constraints at execution time; it keeps them on
// the column only so round-tripped schemas remain descriptive.
func (p *Parser) applyConstraint(col *storage.Column) {
	switch {
	case p.eatKeyword("PRIMARY"):
		p.eatKeyword("KEY")
		col.Constraint = storage.PrimaryKey
	case p.eatKeyword("UNIQUE"):
		col.Constraint = storage.Unique
	case p.eatKeyword("NOT"):
		p.eatKeyword("NULL")
	case p.eatKeyword("FOREIGN"):
		p.eatKeyword("KEY")
	case p.eatKeyword("REFERENCES"):
		tbl, _ := p.expectIdent()
		var refCol string
		if p.eatSymbol("(") {
			refCol, _ = p.expectIdent()
			p.eatSymbol(")")
		}
		col.Constraint = storage.ForeignKey
		col.ForeignKey = &storage.ForeignKeyRef{Table: tbl, Column: refCol}
	default:
		p.advance()
	}
}

func (p *Parser) parseColType() (storage.ColType, error) {
	if p.cur.Typ != tKeyword && p.cur.Typ != tIdent {
		return 0, fmt.Errorf("expected type name, got %q", p.cur.Val)
	}
	name := strings.ToUpper(p.cur.Val)
	p.advance()
	switch name {
	case "INT", "INTEGER":
		return storage.IntType, nil
	case "INT8":
		return storage.Int8Type, nil
	case "INT16":
		return storage.Int16Type, nil
	case "INT32":
		return storage.Int32Type, nil
	case "INT64":
		return storage.Int64Type, nil
	case "UINT":
		return storage.UintType, nil
	case "UINT8":
		return storage.Uint8Type, nil
	case "UINT16":
		return storage.Uint16Type, nil
	case "UINT32":
		return storage.Uint32Type, nil
	case "UINT64":
		return storage.Uint64Type, nil
	case "FLOAT", "FLOAT64", "DOUBLE":
		return storage.Float64Type, nil
	case "FLOAT32":
		return storage.Float32Type, nil
	case "STRING", "TEXT", "VARCHAR", "CHAR":
		return storage.TextType, nil
	case "BOOL", "BOOLEAN":
		return storage.BoolType, nil
	case "TIME":
		return storage.TimeType, nil
	case "DATE":
		return storage.DateType, nil
	case "DATETIME":
		return storage.DateTimeType, nil
	case "TIMESTAMP":
		return storage.TimestampType, nil
	case "JSON":
		return storage.JsonType, nil
	case "JSONB":
		return storage.JsonbType, nil
	case "DECIMAL", "NUMERIC":
		return storage.DecimalType, nil
	case "MONEY":
		return storage.MoneyType, nil
	case "UUID":
		return storage.UUIDType, nil
	case "BLOB":
		return storage.BlobType, nil
	case "XML":
		return storage.XMLType, nil
	case "INTERVAL":
		return storage.IntervalType, nil
	case "GEOMETRY":
		return storage.GeometryType, nil
	case "VECTOR":
		return storage.VectorType, nil
	default:
		return storage.TextType, nil
	}
}

func (p *Parser) parseDrop() (Statement, error) {
	p.advance() // DROP
	if p.eatKeyword("VIEW") {
		ifExists := p.eatIfExists()
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &DropView{Name: name, IfExists: ifExists}, nil
	}
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	ifExists := p.eatIfExists()
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	return &DropTable{Name: name, IfExists: ifExists}, nil
}

func (p *Parser) eatIfExists() bool {
	if p.eatKeyword("IF") {
		p.eatKeyword("EXISTS")
		return true
	}
	return false
}

func (p *Parser) parseCreateView(orReplace bool) (Statement, error) {
	if err := p.expectKeyword("VIEW"); err != nil {
		return nil, err
	}
	ifNotExists := false
	if p.eatKeyword("IF") {
		if err := p.expectKeyword("NOT"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("EXISTS"); err != nil {
			return nil, err
		}
		ifNotExists = true
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	sel, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	return &CreateView{Name: name, Query: sel, IfNotExists: ifNotExists, OrReplace: orReplace}, nil
}

func (p *Parser) parseInsert() (Statement, error) {
	p.advance() // INSERT
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	var cols []string
	if p.eatSymbol("(") {
		for {
			c, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			cols = append(cols, c)
			if p.eatSymbol(",") {
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	var rows [][]Expr
	for {
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		var vals []Expr
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			vals = append(vals, e)
			if p.eatSymbol(",") {
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		rows = append(rows, vals)
		if p.eatSymbol(",") {
			continue
		}
		break
	}
	return &Insert{Table: table, Cols: cols, Rows: rows}, nil
}

func (p *Parser) parseUpdate() (Statement, error) {
	p.advance() // UPDATE
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	set := map[string]Expr{}
	for {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		set[col] = val
		if p.eatSymbol(",") {
			continue
		}
		break
	}
	var where Expr
	if p.eatKeyword("WHERE") {
		where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return &Update{Table: table, Set: set, Where: where}, nil
}

func (p *Parser) parseDelete() (Statement, error) {
	p.advance() // DELETE
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	var where Expr
	if p.eatKeyword("WHERE") {
		where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return &Delete{Table: table, Where: where}, nil
}

func (p *Parser) parseSelect() (*Select, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	p.eatKeyword("DISTINCT")
	var items []SelectItem
	for {
		if p.atSymbol("*") {
			p.advance()
			items = append(items, SelectItem{Star: true})
		} else {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			alias := ""
			if p.eatKeyword("AS") {
				a, err := p.expectIdent()
				if err != nil {
					return nil, err
				}
				alias = a
			} else if p.cur.Typ == tIdent {
				alias = p.cur.Val
				p.advance()
			}
			items = append(items, SelectItem{Expr: e, Alias: alias})
		}
		if p.eatSymbol(",") {
			continue
		}
		break
	}
	sel := &Select{Items: items}
	if p.eatKeyword("FROM") {
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		sel.From = name
	}
	if p.eatKeyword("WHERE") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Where = e
	}
	if p.eatKeyword("GROUP") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			sel.GroupBy = append(sel.GroupBy, e)
			if p.eatSymbol(",") {
				continue
			}
			break
		}
	}
	if p.eatKeyword("HAVING") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Having = e
	}
	if p.eatKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			desc := false
			if p.eatKeyword("DESC") {
				desc = true
			} else {
				p.eatKeyword("ASC")
			}
			sel.OrderBy = append(sel.OrderBy, OrderItem{Expr: e, Desc: desc})
			if p.eatSymbol(",") {
				continue
			}
			break
		}
	}
	if p.eatKeyword("LIMIT") {
		n, err := p.expectIntLiteral()
		if err != nil {
			return nil, err
		}
		sel.Limit = n
		sel.HasLimit = true
	}
	if p.eatKeyword("OFFSET") {
		n, err := p.expectIntLiteral()
		if err != nil {
			return nil, err
		}
		sel.Offset = n
	}
	return sel, nil
}

func (p *Parser) expectIntLiteral() (int, error) {
	if p.cur.Typ != tNumber {
		return 0, fmt.Errorf("expected integer, got %q", p.cur.Val)
	}
	n, err := strconv.Atoi(p.cur.Val)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", p.cur.Val, err)
	}
	p.advance()
	return n, nil
}

// Expression grammar, precedence low to high:
// expr -> or
// or -> and (OR and)*
// and -> not (AND not)*
// not -> NOT not | comparison
// comparison -> additive ( (=|<>|!=|<|<=|>|>=) additive | [NOT] IN (...) | [NOT] LIKE additive | IS [NOT] NULL )?
// additive -> term ((+|-) term)*
// term -> unary ((*|/|%) unary)*
// unary -> (-|+) unary | primary

func (p *Parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.eatKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.eatKeyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.eatKeyword("NOT") {
		e, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "NOT", Expr: e}, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if p.atKeyword("IS") {
		p.advance()
		negate := p.eatKeyword("NOT")
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return &IsNull{Expr: left, Negate: negate}, nil
	}
	negate := false
	if p.atKeyword("NOT") {
		p.advance()
		negate = true
	}
	if p.eatKeyword("IN") {
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		var list []Expr
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			list = append(list, e)
			if p.eatSymbol(",") {
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return &InExpr{Expr: left, List: list, Negate: negate}, nil
	}
	if p.eatKeyword("LIKE") {
		pat, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &LikeExpr{Expr: left, Pattern: pat, Negate: negate}, nil
	}
	if negate {
		return nil, fmt.Errorf("expected IN or LIKE after NOT at pos %d", p.cur.Pos)
	}
	if p.cur.Typ == tSymbol {
		switch p.cur.Val {
		case "=", "!=":
			op := p.cur.Val
			p.advance()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return &Binary{Op: op, Left: left, Right: right}, nil
		case "<":
			p.advance()
			op := "<"
			if p.atSymbol(">") {
				p.advance()
				op = "<>"
			} else if p.atSymbol("=") {
				p.advance()
				op = "<="
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return &Binary{Op: op, Left: left, Right: right}, nil
		case ">":
			p.advance()
			op := ">"
			if p.atSymbol("=") {
				p.advance()
				op = ">="
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return &Binary{Op: op, Left: left, Right: right}, nil
		case "<=", ">=", "<>":
			op := p.cur.Val
			p.advance()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return &Binary{Op: op, Left: left, Right: right}, nil
		}
	}
	return left, nil
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.cur.Typ == tSymbol && (p.cur.Val == "+" || p.cur.Val == "-") {
		op := p.cur.Val
		p.advance()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseTerm() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.Typ == tSymbol && (p.cur.Val == "*" || p.cur.Val == "/" || p.cur.Val == "%") {
		op := p.cur.Val
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.atSymbol("-") || p.atSymbol("+") {
		op := p.cur.Val
		p.advance()
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if op == "-" {
			return &Unary{Op: "-", Expr: e}, nil
		}
		return e, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, error) {
	switch {
	case p.cur.Typ == tNumber:
		v := p.cur.Val
		p.advance()
		if strings.Contains(v, ".") {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, err
			}
			return &Literal{Val: f}, nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, err
		}
		return &Literal{Val: n}, nil
	case p.cur.Typ == tString:
		v := p.cur.Val
		p.advance()
		return &Literal{Val: v}, nil
	case p.atKeyword("TRUE"):
		p.advance()
		return &Literal{Val: true}, nil
	case p.atKeyword("FALSE"):
		p.advance()
		return &Literal{Val: false}, nil
	case p.atKeyword("NULL"):
		p.advance()
		return &Literal{Val: nil}, nil
	case p.atKeyword("CASE"):
		return p.parseCase()
	case p.atSymbol("("):
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return e, nil
	case p.cur.Typ == tIdent || p.atKeyword("COUNT") || p.atKeyword("SUM") || p.atKeyword("AVG") ||
		p.atKeyword("MIN") || p.atKeyword("MAX"):
		name := p.cur.Val
		p.advance()
		if p.atSymbol("(") {
			return p.parseFuncCallArgs(name)
		}
		return &VarRef{Name: name}, nil
	default:
		return nil, fmt.Errorf("unexpected token %q at pos %d", p.cur.Val, p.cur.Pos)
	}
}

func (p *Parser) parseFuncCallArgs(name string) (Expr, error) {
	p.advance() // (
	fc := &FuncCall{Name: strings.ToUpper(name)}
	if p.atSymbol("*") {
		p.advance()
		fc.Star = true
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return fc, nil
	}
	if p.atSymbol(")") {
		p.advance()
		return fc, nil
	}
	fc.Distinct = p.eatKeyword("DISTINCT")
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		fc.Args = append(fc.Args, e)
		if p.eatSymbol(",") {
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return fc, nil
}

func (p *Parser) parseCase() (Expr, error) {
	p.advance() // CASE
	ce := &CaseExpr{}
	if !p.atKeyword("WHEN") {
		operand, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ce.Operand = operand
	}
	for p.eatKeyword("WHEN") {
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		then, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ce.Whens = append(ce.Whens, CaseWhen{Cond: cond, Then: then})
	}
	if p.eatKeyword("ELSE") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ce.Else = e
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return ce, nil
}
