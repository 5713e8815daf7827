// Package engine implements the minimal SQL dialect that backs workbook
// datasets: schema DDL, row DML, and SELECT with the handful of clauses the
// workbook query surface actually needs (WHERE, ORDER BY, LIMIT, aggregates).
//
// What: AST node types produced by the parser and consumed by the executor.
// How: Statement is an empty marker interface (as tinySQL's original grammar
// used); Expr is likewise a marker interface implemented by a small, closed
// set of expression node types.
// Why: A workbook is queried with ordinary SQL, not a bespoke DSL, so the
// engine mirrors a conventional (if deliberately small) SQL front end rather
// than inventing new query syntax.
package engine

import "github.com/r7-consult/wasm-sqlite-database/internal/storage"

// Statement is implemented by every parsed SQL statement.
type Statement interface{}

// Expr is implemented by every scalar expression node.
type Expr interface{}

// Literal is a constant value: number, string, bool, or nil.
type Literal struct {
	Val any
}

// VarRef is a column reference, optionally qualified (table.col).
type VarRef struct {
	Name string
}

// Unary applies a prefix operator (NOT, -) to an expression.
type Unary struct {
	Op   string
	Expr Expr
}

// Binary applies an infix operator (AND, OR, =, <>, <, <=, >, >=, +, -, *,
// /, %) to two expressions.
type Binary struct {
	Op    string
	Left  Expr
	Right Expr
}

// IsNull implements `expr IS [NOT] NULL`.
type IsNull struct {
	Expr   Expr
	Negate bool
}

// InExpr implements `expr [NOT] IN (list...)`.
type InExpr struct {
	Expr   Expr
	List   []Expr
	Negate bool
}

// LikeExpr implements `expr [NOT] LIKE pattern`.
type LikeExpr struct {
	Expr    Expr
	Pattern Expr
	Negate  bool
}

// FuncCall is a function call, including aggregates (COUNT, SUM, AVG, MIN,
// MAX) and COUNT(*).
type FuncCall struct {
	Name     string
	Args     []Expr
	Star     bool
	Distinct bool
}

// CaseWhen is one WHEN/THEN arm of a CaseExpr.
type CaseWhen struct {
	Cond Expr
	Then Expr
}

// CaseExpr implements `CASE [expr] WHEN ... THEN ... ELSE ... END`.
type CaseExpr struct {
	Operand Expr
	Whens   []CaseWhen
	Else    Expr
}

// OrderItem is one ORDER BY term.
type OrderItem struct {
	Expr Expr
	Desc bool
}

// SelectItem is one projected column in a SELECT list.
type SelectItem struct {
	Expr  Expr
	Alias string
	Star  bool
}

// Select is a SELECT statement over a single table (optionally a derived
// table introduced by a view).
type Select struct {
	Items    []SelectItem
	From     string
	Where    Expr
	GroupBy  []Expr
	Having   Expr
	OrderBy  []OrderItem
	Limit    int
	HasLimit bool
	Offset   int
}

// CreateTable is a CREATE TABLE statement.
type CreateTable struct {
	Name        string
	Cols        []storage.Column
	IsTemp      bool
	IfNotExists bool
}

// DropTable is a DROP TABLE statement.
type DropTable struct {
	Name     string
	IfExists bool
}

// Insert is an INSERT INTO ... VALUES statement. Multiple Rows supports
// multi-row VALUES lists.
type Insert struct {
	Table string
	Cols  []string
	Rows  [][]Expr
}

// Update is an UPDATE ... SET ... [WHERE ...] statement.
type Update struct {
	Table string
	Set   map[string]Expr
	Where Expr
}

// Delete is a DELETE FROM ... [WHERE ...] statement.
type Delete struct {
	Table string
	Where Expr
}

// CreateView is a CREATE [OR REPLACE] VIEW statement backed by a stored
// SELECT.
type CreateView struct {
	Name        string
	Query       *Select
	IfNotExists bool
	OrReplace   bool
}

// DropView is a DROP VIEW statement.
type DropView struct {
	Name     string
	IfExists bool
}
