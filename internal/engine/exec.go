package engine

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/r7-consult/wasm-sqlite-database/internal/storage"
)

// Row is a single result row keyed by (lower-cased) column name.
type Row map[string]any

// ResultSet is the output of executing a statement: the ordered column
// names of the projection plus the matching rows.
type ResultSet struct {
	Cols []string
	Rows []Row
}

var (
	viewsMu sync.RWMutex
	views   = map[string]*CreateView{}
)

func viewKey(name string) string { return strings.ToLower(name) }

// Execute runs a parsed Statement against db under the given tenant and
// returns its ResultSet. DDL and DML statements return an empty ResultSet
// on success.
//
// What: The single entry point tying AST nodes to storage mutations and
// row evaluation.
// How: A type switch dispatches to one handler per statement kind; SELECT
// additionally builds an evaluation environment per row for WHERE/ORDER
// BY/aggregate processing.
// Why: A flat dispatch table mirrors the shape of the grammar and keeps
// each statement's semantics in one place, which matters more for a small
// embedded engine than a generalized planner would.
func Execute(ctx context.Context, db *storage.DB, tenant string, stmt Statement) (*ResultSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch s := stmt.(type) {
	case *CreateTable:
		return &ResultSet{}, execCreateTable(db, tenant, s)
	case *DropTable:
		return &ResultSet{}, execDropTable(db, tenant, s)
	case *CreateView:
		return &ResultSet{}, execCreateView(s)
	case *DropView:
		return &ResultSet{}, execDropView(s)
	case *Insert:
		return &ResultSet{}, execInsert(db, tenant, s)
	case *Update:
		return &ResultSet{}, execUpdate(db, tenant, s)
	case *Delete:
		return &ResultSet{}, execDelete(db, tenant, s)
	case *Select:
		return execSelect(db, tenant, s)
	default:
		return nil, fmt.Errorf("unsupported statement type %T", stmt)
	}
}

func execCreateTable(db *storage.DB, tenant string, s *CreateTable) error {
	if s.IfNotExists && db.TableExists(tenant, s.Name) {
		return nil
	}
	t := storage.NewTable(s.Name, s.Cols, s.IsTemp)
	return db.Put(tenant, t)
}

func execDropTable(db *storage.DB, tenant string, s *DropTable) error {
	err := db.Drop(tenant, s.Name)
	if err != nil && s.IfExists {
		return nil
	}
	return err
}

func execCreateView(s *CreateView) error {
	viewsMu.Lock()
	defer viewsMu.Unlock()
	key := viewKey(s.Name)
	if _, exists := views[key]; exists {
		if s.IfNotExists {
			return nil
		}
		if !s.OrReplace {
			return fmt.Errorf("view %q already exists", s.Name)
		}
	}
	views[key] = s
	return nil
}

func execDropView(s *DropView) error {
	viewsMu.Lock()
	defer viewsMu.Unlock()
	key := viewKey(s.Name)
	if _, exists := views[key]; !exists {
		if s.IfExists {
			return nil
		}
		return fmt.Errorf("no such view %q", s.Name)
	}
	delete(views, key)
	return nil
}

func lookupView(name string) (*CreateView, bool) {
	viewsMu.RLock()
	defer viewsMu.RUnlock()
	v, ok := views[viewKey(name)]
	return v, ok
}

func execInsert(db *storage.DB, tenant string, s *Insert) error {
	t, err := db.Get(tenant, s.Table)
	if err != nil {
		return err
	}
	cols := s.Cols
	if len(cols) == 0 {
		cols = make([]string, len(t.Cols))
		for i, c := range t.Cols {
			cols[i] = c.Name
		}
	}
	colIdx := make([]int, len(cols))
	for i, c := range cols {
		idx, err := t.ColIndex(c)
		if err != nil {
			return err
		}
		colIdx[i] = idx
	}
	for _, rowExprs := range s.Rows {
		if len(rowExprs) != len(cols) {
			return fmt.Errorf("INSERT into %q: expected %d values, got %d", s.Table, len(cols), len(rowExprs))
		}
		row := make([]any, len(t.Cols))
		for i, e := range rowExprs {
			v, err := evalExpr(e, nil)
			if err != nil {
				return err
			}
			row[colIdx[i]] = v
		}
		dirtyIdx := len(t.Rows)
		t.Rows = append(t.Rows, row)
		t.MarkDirtyFrom(dirtyIdx)
	}
	return db.SyncTable(tenant, t)
}

func execUpdate(db *storage.DB, tenant string, s *Update) error {
	t, err := db.Get(tenant, s.Table)
	if err != nil {
		return err
	}
	setIdx := make(map[int]Expr, len(s.Set))
	for col, e := range s.Set {
		idx, err := t.ColIndex(col)
		if err != nil {
			return err
		}
		setIdx[idx] = e
	}
	for _, row := range t.Rows {
		env := envFromRow(t.Cols, row)
		if s.Where != nil {
			ok, err := evalBool(s.Where, env)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
		}
		for idx, e := range setIdx {
			v, err := evalExpr(e, env)
			if err != nil {
				return err
			}
			row[idx] = v
		}
	}
	t.MarkDirtyFrom(-1)
	return db.SyncTable(tenant, t)
}

func execDelete(db *storage.DB, tenant string, s *Delete) error {
	t, err := db.Get(tenant, s.Table)
	if err != nil {
		return err
	}
	kept := t.Rows[:0]
	for _, row := range t.Rows {
		env := envFromRow(t.Cols, row)
		if s.Where != nil {
			ok, err := evalBool(s.Where, env)
			if err != nil {
				return err
			}
			if ok {
				continue
			}
		}
		kept = append(kept, row)
	}
	t.Rows = kept
	t.MarkDirtyFrom(-1)
	return db.SyncTable(tenant, t)
}

// envFromRow builds a name->value lookup for expression evaluation over a
// stored row, keyed by lower-cased column name.
func envFromRow(cols []storage.Column, row []any) map[string]any {
	env := make(map[string]any, len(cols))
	for i, c := range cols {
		if i < len(row) {
			env[strings.ToLower(c.Name)] = row[i]
		}
	}
	return env
}

func execSelect(db *storage.DB, tenant string, s *Select) (*ResultSet, error) {
	var cols []storage.Column
	var rows [][]any

	if v, ok := lookupView(s.From); ok {
		inner, err := execSelect(db, tenant, v.Query)
		if err != nil {
			return nil, fmt.Errorf("view %q: %w", s.From, err)
		}
		for _, c := range inner.Cols {
			cols = append(cols, storage.Column{Name: c, Type: storage.TextType})
		}
		for _, r := range inner.Rows {
			row := make([]any, len(inner.Cols))
			for i, c := range inner.Cols {
				row[i] = r[strings.ToLower(c)]
			}
			rows = append(rows, row)
		}
	} else if s.From != "" {
		t, err := db.Get(tenant, s.From)
		if err != nil {
			return nil, err
		}
		cols = t.Cols
		rows = t.Rows
	}

	var filtered [][]any
	for _, row := range rows {
		env := envFromRow(cols, row)
		if s.Where != nil {
			ok, err := evalBool(s.Where, env)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		filtered = append(filtered, row)
	}

	isAgg := selectIsAggregate(s)
	if isAgg || len(s.GroupBy) > 0 {
		return execAggregateSelect(s, cols, filtered)
	}

	envs := make([]map[string]any, len(filtered))
	for i, row := range filtered {
		envs[i] = envFromRow(cols, row)
	}

	if len(s.OrderBy) > 0 {
		if err := sortEnvs(envs, s.OrderBy); err != nil {
			return nil, err
		}
	}

	envs = applyLimitOffset(envs, s)

	outCols, err := projectionColumns(s, cols)
	if err != nil {
		return nil, err
	}
	outRows := make([]Row, 0, len(envs))
	for _, env := range envs {
		r, err := projectRow(s, cols, env)
		if err != nil {
			return nil, err
		}
		outRows = append(outRows, r)
	}
	return &ResultSet{Cols: outCols, Rows: outRows}, nil
}

func selectIsAggregate(s *Select) bool {
	for _, item := range s.Items {
		if containsAggregate(item.Expr) {
			return true
		}
	}
	return false
}

func containsAggregate(e Expr) bool {
	switch v := e.(type) {
	case *FuncCall:
		switch v.Name {
		case "COUNT", "SUM", "AVG", "MIN", "MAX":
			return true
		}
		for _, a := range v.Args {
			if containsAggregate(a) {
				return true
			}
		}
	case *Binary:
		return containsAggregate(v.Left) || containsAggregate(v.Right)
	case *Unary:
		return containsAggregate(v.Expr)
	}
	return false
}

func projectionColumns(s *Select, cols []storage.Column) ([]string, error) {
	if len(s.Items) == 1 && s.Items[0].Star {
		out := make([]string, len(cols))
		for i, c := range cols {
			out[i] = c.Name
		}
		return out, nil
	}
	out := make([]string, 0, len(s.Items))
	for i, item := range s.Items {
		if item.Star {
			for _, c := range cols {
				out = append(out, c.Name)
			}
			continue
		}
		if item.Alias != "" {
			out = append(out, item.Alias)
			continue
		}
		if vr, ok := item.Expr.(*VarRef); ok {
			out = append(out, vr.Name)
			continue
		}
		out = append(out, fmt.Sprintf("col%d", i+1))
	}
	return out, nil
}

func projectRow(s *Select, cols []storage.Column, env map[string]any) (Row, error) {
	out := make(Row)
	if len(s.Items) == 1 && s.Items[0].Star {
		for _, c := range cols {
			out[strings.ToLower(c.Name)] = env[strings.ToLower(c.Name)]
		}
		return out, nil
	}
	for i, item := range s.Items {
		if item.Star {
			for _, c := range cols {
				out[strings.ToLower(c.Name)] = env[strings.ToLower(c.Name)]
			}
			continue
		}
		name := item.Alias
		if name == "" {
			if vr, ok := item.Expr.(*VarRef); ok {
				name = vr.Name
			} else {
				name = fmt.Sprintf("col%d", i+1)
			}
		}
		v, err := evalExpr(item.Expr, env)
		if err != nil {
			return nil, err
		}
		out[strings.ToLower(name)] = v
	}
	return out, nil
}

func applyLimitOffset(envs []map[string]any, s *Select) []map[string]any {
	if s.Offset > 0 {
		if s.Offset >= len(envs) {
			return nil
		}
		envs = envs[s.Offset:]
	}
	if s.HasLimit && s.Limit < len(envs) {
		envs = envs[:s.Limit]
	}
	return envs
}

func sortEnvs(envs []map[string]any, order []OrderItem) error {
	var sortErr error
	sort.SliceStable(envs, func(i, j int) bool {
		for _, ord := range order {
			vi, err := evalExpr(ord.Expr, envs[i])
			if err != nil {
				sortErr = err
				return false
			}
			vj, err := evalExpr(ord.Expr, envs[j])
			if err != nil {
				sortErr = err
				return false
			}
			c := compareValues(vi, vj)
			if c == 0 {
				continue
			}
			if ord.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return sortErr
}

// execAggregateSelect handles SELECT lists containing aggregate functions,
// with optional GROUP BY. Non-aggregate items in an aggregate query are
// treated as implicit group keys, matching the common "GROUP BY the
// non-aggregated columns" convention used by embedded engines.
func execAggregateSelect(s *Select, cols []storage.Column, rows [][]any) (*ResultSet, error) {
	groupExprs := s.GroupBy
	if len(groupExprs) == 0 {
		for _, item := range s.Items {
			if !containsAggregate(item.Expr) && !item.Star {
				groupExprs = append(groupExprs, item.Expr)
			}
		}
	}

	type group struct {
		key  string
		env  map[string]any
		rows []map[string]any
	}
	order := []string{}
	groups := map[string]*group{}

	for _, row := range rows {
		env := envFromRow(cols, row)
		keyParts := make([]string, len(groupExprs))
		for i, ge := range groupExprs {
			v, err := evalExpr(ge, env)
			if err != nil {
				return nil, err
			}
			keyParts[i] = fmt.Sprintf("%v", v)
		}
		key := strings.Join(keyParts, "\x1f")
		g, ok := groups[key]
		if !ok {
			g = &group{key: key, env: env}
			groups[key] = g
			order = append(order, key)
		}
		g.rows = append(g.rows, env)
	}

	if len(rows) == 0 && len(groupExprs) == 0 {
		// COUNT(*)/SUM with no rows still yields a single aggregate row.
		groups[""] = &group{}
		order = append(order, "")
	}

	outCols, err := projectionColumns(s, cols)
	if err != nil {
		return nil, err
	}

	var outRows []Row
	for _, key := range order {
		g := groups[key]
		out := make(Row)
		for i, item := range s.Items {
			name := item.Alias
			if name == "" {
				if vr, ok := item.Expr.(*VarRef); ok {
					name = vr.Name
				} else {
					name = fmt.Sprintf("col%d", i+1)
				}
			}
			v, err := evalAggregateItem(item.Expr, g.env, g.rows)
			if err != nil {
				return nil, err
			}
			out[strings.ToLower(name)] = v
		}
		if s.Having != nil {
			ok, err := evalAggregateBool(s.Having, g.env, g.rows)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		outRows = append(outRows, out)
	}
	return &ResultSet{Cols: outCols, Rows: outRows}, nil
}

func evalAggregateBool(e Expr, env map[string]any, rows []map[string]any) (bool, error) {
	v, err := evalAggregateItem(e, env, rows)
	if err != nil {
		return false, err
	}
	b, _ := asBool(v)
	return b, nil
}

func evalAggregateItem(e Expr, env map[string]any, rows []map[string]any) (any, error) {
	if fc, ok := e.(*FuncCall); ok {
		switch fc.Name {
		case "COUNT":
			if fc.Star {
				return int64(len(rows)), nil
			}
			n := int64(0)
			for _, r := range rows {
				v, err := evalExpr(fc.Args[0], r)
				if err != nil {
					return nil, err
				}
				if v != nil {
					n++
				}
			}
			return n, nil
		case "SUM", "AVG", "MIN", "MAX":
			var vals []float64
			for _, r := range rows {
				v, err := evalExpr(fc.Args[0], r)
				if err != nil {
					return nil, err
				}
				f, ok := asFloat(v)
				if ok {
					vals = append(vals, f)
				}
			}
			return aggregateNumeric(fc.Name, vals), nil
		}
	}
	return evalExpr(e, env)
}

func aggregateNumeric(name string, vals []float64) any {
	if len(vals) == 0 {
		if name == "SUM" {
			return int64(0)
		}
		return nil
	}
	switch name {
	case "SUM":
		var sum float64
		for _, v := range vals {
			sum += v
		}
		return sum
	case "AVG":
		var sum float64
		for _, v := range vals {
			sum += v
		}
		return sum / float64(len(vals))
	case "MIN":
		m := vals[0]
		for _, v := range vals[1:] {
			if v < m {
				m = v
			}
		}
		return m
	case "MAX":
		m := vals[0]
		for _, v := range vals[1:] {
			if v > m {
				m = v
			}
		}
		return m
	}
	return nil
}

// evalBool evaluates e and coerces the result to bool.
func evalBool(e Expr, env map[string]any) (bool, error) {
	v, err := evalExpr(e, env)
	if err != nil {
		return false, err
	}
	b, _ := asBool(v)
	return b, nil
}

func evalExpr(e Expr, env map[string]any) (any, error) {
	switch v := e.(type) {
	case nil:
		return nil, nil
	case *Literal:
		return v.Val, nil
	case *VarRef:
		name := v.Name
		if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
			name = name[idx+1:]
		}
		return env[strings.ToLower(name)], nil
	case *Unary:
		inner, err := evalExpr(v.Expr, env)
		if err != nil {
			return nil, err
		}
		switch v.Op {
		case "NOT":
			b, _ := asBool(inner)
			return !b, nil
		case "-":
			f, _ := asFloat(inner)
			return -f, nil
		}
		return nil, fmt.Errorf("unsupported unary operator %q", v.Op)
	case *Binary:
		return evalBinary(v, env)
	case *IsNull:
		val, err := evalExpr(v.Expr, env)
		if err != nil {
			return nil, err
		}
		isNull := val == nil
		if v.Negate {
			return !isNull, nil
		}
		return isNull, nil
	case *InExpr:
		val, err := evalExpr(v.Expr, env)
		if err != nil {
			return nil, err
		}
		found := false
		for _, item := range v.List {
			iv, err := evalExpr(item, env)
			if err != nil {
				return nil, err
			}
			if compareValues(val, iv) == 0 {
				found = true
				break
			}
		}
		if v.Negate {
			return !found, nil
		}
		return found, nil
	case *LikeExpr:
		val, err := evalExpr(v.Expr, env)
		if err != nil {
			return nil, err
		}
		pat, err := evalExpr(v.Pattern, env)
		if err != nil {
			return nil, err
		}
		matched := likeMatch(asString(val), asString(pat))
		if v.Negate {
			return !matched, nil
		}
		return matched, nil
	case *CaseExpr:
		return evalCase(v, env)
	case *FuncCall:
		return evalScalarFunc(v, env)
	default:
		return nil, fmt.Errorf("unsupported expression type %T", e)
	}
}

func evalBinary(b *Binary, env map[string]any) (any, error) {
	switch b.Op {
	case "AND":
		l, err := evalBool(b.Left, env)
		if err != nil {
			return nil, err
		}
		if !l {
			return false, nil
		}
		r, err := evalBool(b.Right, env)
		return r, err
	case "OR":
		l, err := evalBool(b.Left, env)
		if err != nil {
			return nil, err
		}
		if l {
			return true, nil
		}
		r, err := evalBool(b.Right, env)
		return r, err
	}
	lv, err := evalExpr(b.Left, env)
	if err != nil {
		return nil, err
	}
	rv, err := evalExpr(b.Right, env)
	if err != nil {
		return nil, err
	}
	switch b.Op {
	case "=":
		return compareValues(lv, rv) == 0, nil
	case "!=", "<>":
		return compareValues(lv, rv) != 0, nil
	case "<":
		return compareValues(lv, rv) < 0, nil
	case "<=":
		return compareValues(lv, rv) <= 0, nil
	case ">":
		return compareValues(lv, rv) > 0, nil
	case ">=":
		return compareValues(lv, rv) >= 0, nil
	case "+", "-", "*", "/", "%":
		return arith(b.Op, lv, rv)
	}
	return nil, fmt.Errorf("unsupported operator %q", b.Op)
}

func arith(op string, l, r any) (any, error) {
	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	if !lok || !rok {
		if op == "+" {
			return asString(l) + asString(r), nil
		}
		return nil, fmt.Errorf("non-numeric operand for %q", op)
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, fmt.Errorf("modulo by zero")
		}
		return float64(int64(lf) % int64(rf)), nil
	}
	return nil, fmt.Errorf("unsupported arithmetic operator %q", op)
}

func evalCase(c *CaseExpr, env map[string]any) (any, error) {
	var operand any
	var err error
	if c.Operand != nil {
		operand, err = evalExpr(c.Operand, env)
		if err != nil {
			return nil, err
		}
	}
	for _, w := range c.Whens {
		if c.Operand != nil {
			cv, err := evalExpr(w.Cond, env)
			if err != nil {
				return nil, err
			}
			if compareValues(operand, cv) == 0 {
				return evalExpr(w.Then, env)
			}
			continue
		}
		ok, err := evalBool(w.Cond, env)
		if err != nil {
			return nil, err
		}
		if ok {
			return evalExpr(w.Then, env)
		}
	}
	if c.Else != nil {
		return evalExpr(c.Else, env)
	}
	return nil, nil
}

func evalScalarFunc(fc *FuncCall, env map[string]any) (any, error) {
	switch fc.Name {
	case "UPPER", "LOWER", "LENGTH", "TRIM", "LTRIM", "RTRIM", "COALESCE", "ABS", "ROUND":
		return evalBuiltin(fc, env)
	case "COUNT", "SUM", "AVG", "MIN", "MAX":
		return nil, fmt.Errorf("aggregate function %s used outside an aggregate context", fc.Name)
	default:
		return nil, fmt.Errorf("unknown function %s", fc.Name)
	}
}

func evalBuiltin(fc *FuncCall, env map[string]any) (any, error) {
	args := make([]any, len(fc.Args))
	for i, a := range fc.Args {
		v, err := evalExpr(a, env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	switch fc.Name {
	case "UPPER":
		return strings.ToUpper(asString(arg(args, 0))), nil
	case "LOWER":
		return strings.ToLower(asString(arg(args, 0))), nil
	case "TRIM":
		return strings.TrimSpace(asString(arg(args, 0))), nil
	case "LTRIM":
		return strings.TrimLeft(asString(arg(args, 0)), " "), nil
	case "RTRIM":
		return strings.TrimRight(asString(arg(args, 0)), " "), nil
	case "LENGTH":
		return int64(len([]rune(asString(arg(args, 0))))), nil
	case "ABS":
		f, _ := asFloat(arg(args, 0))
		if f < 0 {
			f = -f
		}
		return f, nil
	case "ROUND":
		f, _ := asFloat(arg(args, 0))
		return float64(int64(f + 0.5)), nil
	case "COALESCE":
		for _, a := range args {
			if a != nil {
				return a, nil
			}
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unknown function %s", fc.Name)
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case nil:
		return false, true
	default:
		f, ok := asFloat(v)
		return f != 0, ok
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// compareValues orders values for WHERE/ORDER BY/IN comparisons, preferring
// numeric comparison when both sides parse as numbers and falling back to
// string comparison otherwise. nil sorts lowest.
func compareValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := asString(a), asString(b)
	return strings.Compare(as, bs)
}

func likeMatch(s, pattern string) bool {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile("(?is)" + sb.String())
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
