// Package sqlgen turns a render.Statement into ClickHouse SQL text.
// Every shape decision (which joins, which CTEs, recursive or not) was
// already made by pkg/render; this package only owns syntax: quoting,
// literal escaping, operator spelling, and WITH-block ordering.
package sqlgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/orneryd/cyphersql/pkg/analyzer"
	"github.com/orneryd/cyphersql/pkg/ast"
	"github.com/orneryd/cyphersql/pkg/cyphererr"
	"github.com/orneryd/cyphersql/pkg/exprparse"
	"github.com/orneryd/cyphersql/pkg/functions"
	"github.com/orneryd/cyphersql/pkg/plan"
	"github.com/orneryd/cyphersql/pkg/render"
	"github.com/orneryd/cyphersql/pkg/schema"
)

// Generate renders stmt to a complete SQL statement string. res supplies
// the property-resolution table the analyzer built; sch resolves the
// physical shape of any inline pattern nested inside an EXISTS/NOT
// EXISTS or size((pattern)) expression; params supplies the
// literal values substituted for every `$name` reference, since this
// core emits fully-literal SQL rather than a parameterized statement —
// no query-plan cache sits between this translator and ClickHouse, so
// there is nothing a bound parameter would buy.
func Generate(stmt *render.Statement, res *analyzer.Result, sch *schema.GraphSchema, params map[string]interface{}) (string, error) {
	g := &generator{res: res, sch: sch, params: params, db: stmt.Database}
	var sb strings.Builder

	if len(stmt.CTEs) > 0 {
		sb.WriteString("WITH ")
		if anyRecursive(stmt.CTEs) {
			sb.WriteString("RECURSIVE ")
		}
		for i, c := range stmt.CTEs {
			if i > 0 {
				sb.WriteString(",\n")
			}
			cteSQL, err := g.cte(c)
			if err != nil {
				return "", err
			}
			sb.WriteString(cteSQL)
		}
		sb.WriteString("\n")
	}

	selectSQL, err := g.selectStatement(stmt)
	if err != nil {
		return "", err
	}
	sb.WriteString(selectSQL)
	return sb.String(), nil
}

func anyRecursive(ctes []render.CTE) bool {
	for _, c := range ctes {
		if c.Recursive != nil {
			return true
		}
	}
	return false
}

type generator struct {
	res    *analyzer.Result
	sch    *schema.GraphSchema
	params map[string]interface{}

	// db, when non-empty, qualifies every physical table reference
	// (from translate.Options.Database or a USE prefix).
	db string
}

// table renders a physical table name, qualified with the selected
// database when one was given.
func (g *generator) table(name string) string {
	if g.db == "" || strings.Contains(name, ".") {
		return quoteIdent(name)
	}
	return quoteIdent(g.db) + "." + quoteIdent(name)
}

func (g *generator) cte(c render.CTE) (string, error) {
	if c.Recursive != nil {
		return g.recursiveCTE(c)
	}
	if len(c.Union) > 0 {
		parts := make([]string, len(c.Union))
		for i, branch := range c.Union {
			sql, err := g.selectStatement(branch)
			if err != nil {
				return "", err
			}
			parts[i] = sql
		}
		return fmt.Sprintf("%s AS (\n%s\n)", quoteIdent(c.Name), indent(strings.Join(parts, "\nUNION ALL\n"))), nil
	}
	body, err := g.selectBody(c.Columns, c.From, c.Where, nil, false, nil, nil, nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s AS (\n%s\n)", quoteIdent(c.Name), indent(body)), nil
}

// recursiveCTE emits the base-case/recursive-case UNION ALL for a
// variable-length path, with cycle prevention via has() against an
// accumulated edge-identity array and a depth column compared against
// Max. A polymorphic edge table gets its type-discriminator predicate
// repeated in both the base and recursive case; with more than one type
// value that predicate is an IN list. A multi-type VLP over distinct edge
// tables never reaches this function: render builds it as a UNION ALL
// CTE instead.
func (g *generator) recursiveCTE(c render.CTE) (string, error) {
	rc := c.Recursive
	edgeAlias := rc.BaseTable.Alias
	table := g.table(rc.BaseTable.Table)

	fromCol := joinCols(rc.FromCols)
	toCol := joinCols(rc.ToCols)
	edgeTuple := tupleExpr(edgeAlias, rc.EdgeCols)

	typeFilter := ""
	if rc.TypeColumn != "" && len(rc.TypeValues) > 0 {
		vals := make([]string, len(rc.TypeValues))
		for i, v := range rc.TypeValues {
			vals[i] = sqlString(v)
		}
		typeFilter = fmt.Sprintf("%s.%s IN (%s)", edgeAlias, quoteIdent(rc.TypeColumn), strings.Join(vals, ", "))
	}

	nodeExpr := fmt.Sprintf("%s.%s", edgeAlias, fromCol) // path_nodes seeds with the start id
	relTypeLiteral := "NULL"
	if len(rc.TypeValues) == 1 {
		relTypeLiteral = sqlString(rc.TypeValues[0])
	} else if rc.TypeColumn != "" {
		relTypeLiteral = fmt.Sprintf("%s.%s", edgeAlias, quoteIdent(rc.TypeColumn))
	}

	// Filter placement: start-node filters land in the base
	// case only; end-node filters (non-shortest mode) land in both the
	// base case (a depth-1 path can itself already reach the target)
	// and the recursive case; edge-property filters land in both.
	// Shortest-path mode withholds the end-node filter from both cases
	// (rc.EndWhere is nil then; it surfaces as rc.OuterEndWhere instead,
	// applied by sqlgen's CTESource wrapper) so intermediate hops toward
	// the target aren't pruned before the shortest one is found.
	baseFromExpr := fmt.Sprintf("%s.%s", edgeAlias, fromCol)
	baseToExpr := fmt.Sprintf("%s.%s", edgeAlias, toCol)

	baseConds := []string{}
	if typeFilter != "" {
		baseConds = append(baseConds, typeFilter)
	}
	if rc.StartWhere != nil {
		s, err := g.vlpExpr(rc.StartWhere, baseFromExpr, baseToExpr)
		if err != nil {
			return "", err
		}
		baseConds = append(baseConds, s)
	}
	if rc.EdgeWhere != nil {
		s, err := g.vlpExpr(rc.EdgeWhere, baseFromExpr, baseToExpr)
		if err != nil {
			return "", err
		}
		baseConds = append(baseConds, s)
	}
	if rc.EndWhere != nil {
		s, err := g.vlpExpr(rc.EndWhere, baseFromExpr, baseToExpr)
		if err != nil {
			return "", err
		}
		baseConds = append(baseConds, s)
	}
	baseWhere := ""
	if len(baseConds) > 0 {
		baseWhere = " WHERE " + strings.Join(baseConds, " AND ")
	}

	base := fmt.Sprintf(
		"SELECT %s.%s AS from_id, %s.%s AS to_id, 1 AS depth, [%s] AS path_edges, [%s] AS path_nodes, [%s] AS path_relationships\nFROM %s AS %s%s",
		edgeAlias, fromCol, edgeAlias, toCol, edgeTuple, nodeExpr, relTypeLiteral, table, edgeAlias, baseWhere,
	)

	recConds := []string{
		fmt.Sprintf("%s.depth < %d", rc.Name, rc.Max),
		fmt.Sprintf("NOT has(%s.path_edges, %s)", rc.Name, edgeTuple),
	}
	if typeFilter != "" {
		recConds = append(recConds, typeFilter)
	}
	if rc.EdgeWhere != nil {
		s, err := g.vlpExpr(rc.EdgeWhere, baseFromExpr, baseToExpr)
		if err != nil {
			return "", err
		}
		recConds = append(recConds, s)
	}
	if rc.EndWhere != nil {
		s, err := g.vlpExpr(rc.EndWhere, baseFromExpr, baseToExpr)
		if err != nil {
			return "", err
		}
		recConds = append(recConds, s)
	}
	recursive := fmt.Sprintf(
		"SELECT %s.from_id, %s.%s AS to_id, %s.depth + 1, arrayPushBack(%s.path_edges, %s), arrayPushBack(%s.path_nodes, %s.%s), arrayPushBack(%s.path_relationships, %s)\nFROM %s\nJOIN %s AS %s ON %s.%s = %s.to_id\nWHERE %s",
		rc.Name, edgeAlias, toCol, rc.Name, rc.Name, edgeTuple,
		rc.Name, edgeAlias, fromCol, rc.Name, relTypeLiteral,
		rc.Name, table, edgeAlias, edgeAlias, fromCol, rc.Name, strings.Join(recConds, " AND "),
	)

	body := base + "\nUNION ALL\n" + recursive
	if rc.Min > 1 {
		body = fmt.Sprintf("SELECT * FROM (\n%s\n) WHERE depth >= %d", indent(body), rc.Min)
	}
	return fmt.Sprintf("%s AS (\n%s\n)", quoteIdent(rc.Name), indent(body)), nil
}

// vlpExpr renders a VLP-pushed filter (built by render.pushableVLPFilter,
// which marks the endpoint's id column as a bare VarRef named "from_id"
// or "to_id") substituting those markers for the given SQL text rather
// than rendering them as literal column references — WHERE cannot
// reference a SELECT-list output alias, so the marker must resolve to
// the actual source expression (the edge table's from/to column) at the
// point it's used, not to the CTE's own output name.
func (g *generator) vlpExpr(e ast.Expr, fromExpr, toExpr string) (string, error) {
	switch n := e.(type) {
	case *ast.VarRef:
		switch n.Name {
		case "from_id":
			return fromExpr, nil
		case "to_id":
			return toExpr, nil
		}
		return quoteIdent(n.Name), nil
	case *ast.BinaryOp:
		l, err := g.vlpExpr(n.Left, fromExpr, toExpr)
		if err != nil {
			return "", err
		}
		r, err := g.vlpExpr(n.Right, fromExpr, toExpr)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s %s)", l, sqlOp(n.Op), r), nil
	case *ast.UnaryOp:
		operand, err := g.vlpExpr(n.Operand, fromExpr, toExpr)
		if err != nil {
			return "", err
		}
		switch strings.ToUpper(n.Op) {
		case "NOT":
			return fmt.Sprintf("(NOT %s)", operand), nil
		case "IS NULL":
			return fmt.Sprintf("(%s IS NULL)", operand), nil
		case "IS NOT NULL":
			return fmt.Sprintf("(%s IS NOT NULL)", operand), nil
		default:
			return fmt.Sprintf("(%s %s)", n.Op, operand), nil
		}
	case *ast.ListLiteral:
		parts := make([]string, len(n.Items))
		for i, it := range n.Items {
			s, err := g.vlpExpr(it, fromExpr, toExpr)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	default:
		// Literal, ParamRef, and anything else with no endpoint marker
		// to substitute render the same way as everywhere else.
		return g.expr(e)
	}
}

func joinCols(cols []string) string {
	if len(cols) == 1 {
		return quoteIdent(cols[0])
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

func tupleExpr(alias string, cols []string) string {
	if len(cols) == 1 {
		return fmt.Sprintf("%s.%s", alias, quoteIdent(cols[0]))
	}
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s.%s", alias, quoteIdent(c))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (g *generator) selectStatement(stmt *render.Statement) (string, error) {
	return g.selectBody(stmt.Columns, stmt.From, stmt.Where, stmt.GroupBy, stmt.Distinct, stmt.OrderBy, stmt.Skip, stmt.Limit)
}

func (g *generator) selectBody(
	cols []render.ColumnExpr,
	from render.Plan,
	where ast.Expr,
	groupBy []ast.Expr,
	distinct bool,
	orderBy []plan.OrderItem,
	skip, limit ast.Expr,
) (string, error) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if distinct {
		sb.WriteString("DISTINCT ")
	}

	if len(cols) == 0 {
		sb.WriteString("*")
	} else {
		parts := make([]string, len(cols))
		for i, c := range cols {
			expr, err := g.expr(c.Expr)
			if err != nil {
				return "", err
			}
			parts[i] = fmt.Sprintf("%s AS %s", expr, quoteOutputAlias(c.Output))
		}
		sb.WriteString(strings.Join(parts, ", "))
	}

	fromSQL, fromWhere, err := g.source(from)
	if err != nil {
		return "", err
	}
	sb.WriteString("\nFROM ")
	sb.WriteString(fromSQL)

	fullWhere := andSQLExpr(fromWhere, where)
	if fullWhere != nil {
		whereSQL, err := g.expr(fullWhere)
		if err != nil {
			return "", err
		}
		sb.WriteString("\nWHERE ")
		sb.WriteString(whereSQL)
	}

	if len(groupBy) > 0 {
		parts := make([]string, len(groupBy))
		for i, e := range groupBy {
			s, err := g.expr(e)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		sb.WriteString("\nGROUP BY ")
		sb.WriteString(strings.Join(parts, ", "))
	}

	if len(orderBy) > 0 {
		parts := make([]string, len(orderBy))
		for i, o := range orderBy {
			s, err := g.expr(o.Expr)
			if err != nil {
				return "", err
			}
			if o.Descending {
				s += " DESC"
			}
			parts[i] = s
		}
		sb.WriteString("\nORDER BY ")
		sb.WriteString(strings.Join(parts, ", "))
	}

	if limit != nil {
		s, err := g.expr(limit)
		if err != nil {
			return "", err
		}
		sb.WriteString("\nLIMIT ")
		sb.WriteString(s)
	}
	if skip != nil {
		s, err := g.expr(skip)
		if err != nil {
			return "", err
		}
		sb.WriteString("\nOFFSET ")
		sb.WriteString(s)
	}

	return sb.String(), nil
}

// source renders a render.Plan to a FROM-clause fragment. It returns an
// additional WHERE fragment for cases (LEFT JOIN pre-filtering)
// where a predicate must be applied inside a wrapped subquery rather
// than at the statement's top level.
func (g *generator) source(p render.Plan) (string, ast.Expr, error) {
	switch v := p.(type) {
	case *render.TableSource:
		return fmt.Sprintf("%s AS %s", g.table(v.Table), quoteIdent(v.Alias)), nil, nil

	case *render.FilteredPlan:
		inner, where, err := g.source(v.Plan)
		if err != nil {
			return "", nil, err
		}
		return inner, andSQLExpr(where, v.Where), nil

	case *render.UnwindPlan:
		inner, where, err := g.source(v.Plan)
		if err != nil {
			return "", nil, err
		}
		listSQL, err := g.expr(v.List)
		if err != nil {
			return "", nil, err
		}
		// ARRAY JOIN is ClickHouse's row-expanding operator: one output
		// row per element of the list, bound to the UNWIND variable.
		return fmt.Sprintf("%s\nARRAY JOIN %s AS %s", inner, listSQL, quoteIdent(v.Variable)), where, nil

	case *render.CTESource:
		if !v.ShortestWrap {
			return fmt.Sprintf("%s AS %s", quoteIdent(v.Name), quoteIdent(v.Alias)), nil, nil
		}
		// Shortest-path mode: surface only the minimum-depth row per
		// (from_id, to_id) pair. ClickHouse's LIMIT BY keeps exactly
		// one row per group once ordered by depth ascending — the
		// idiomatic ClickHouse substitute for a window-function
		// top-1-per-group query.
		where := ""
		if v.OuterEndWhere != nil {
			s, err := g.expr(v.OuterEndWhere)
			if err != nil {
				return "", nil, err
			}
			where = " WHERE " + s
		}
		wrapped := fmt.Sprintf(
			"(SELECT * FROM %s%s ORDER BY depth LIMIT 1 BY from_id, to_id) AS %s",
			quoteIdent(v.Name), where, quoteIdent(v.Alias),
		)
		return wrapped, nil, nil

	case *render.Join:
		return g.join(v)

	default:
		return "", nil, &cyphererr.InternalError{Detail: fmt.Sprintf("sqlgen: unhandled render.Plan %T", p)}
	}
}

func (g *generator) join(j *render.Join) (string, ast.Expr, error) {
	leftSQL, leftWhere, err := g.source(j.Left)
	if err != nil {
		return "", nil, err
	}

	kind := "JOIN"
	var rightSQL string
	var rightWhere ast.Expr
	if j.Kind == render.JoinLeft {
		kind = "LEFT JOIN"
		// Pre-filter the right side in a derived subquery so the
		// predicate narrows candidate rows before the LEFT JOIN, rather
		// than after — an outer WHERE on the right side would silently
		// turn the LEFT JOIN back into an INNER JOIN.
		rightSQL, rightWhere, err = g.wrappedSource(j.Right)
	} else {
		rightSQL, rightWhere, err = g.source(j.Right)
	}
	if err != nil {
		return "", nil, err
	}

	onClause := joinOnClause(j)

	sql := leftSQL + "\n" + kind + " " + rightSQL
	if onClause != "" {
		sql += " ON " + onClause
	} else {
		sql += " ON 1 = 1"
	}

	combinedWhere := andSQLExpr(leftWhere, rightWhere)

	if j.ExtraPredicate != nil {
		if j.Kind == render.JoinLeft {
			extraSQL, err := g.expr(j.ExtraPredicate)
			if err != nil {
				return "", nil, err
			}
			sql += " AND " + extraSQL
		} else {
			combinedWhere = andSQLExpr(combinedWhere, j.ExtraPredicate)
		}
	}

	return sql, combinedWhere, nil
}

// joinOnClause renders a Join's key-equality condition, qualifying each
// column with the alias the builder recorded it against (OnLeftAlias/
// OnRightAlias) rather than guessing one from the, possibly nested,
// Plan tree. A composite key renders as tuple equality
// `(a.c1, a.c2) = (b.c1, b.c2)` rather than an AND-chain, since
// ClickHouse optimizes tuple comparison better and this matches the
// composite-edge-ID convention used elsewhere.
func joinOnClause(j *render.Join) string {
	n := len(j.OnLeftCols)
	if n > len(j.OnRightCols) {
		n = len(j.OnRightCols)
	}
	if n == 0 {
		return ""
	}
	if n == 1 {
		return fmt.Sprintf("%s = %s",
			qualifyCol(j.OnLeftAlias, j.OnLeftCols[0]),
			qualifyCol(j.OnRightAlias, j.OnRightCols[0]))
	}
	leftParts := make([]string, n)
	rightParts := make([]string, n)
	for i := 0; i < n; i++ {
		leftParts[i] = qualifyCol(j.OnLeftAlias, j.OnLeftCols[i])
		rightParts[i] = qualifyCol(j.OnRightAlias, j.OnRightCols[i])
	}
	return fmt.Sprintf("(%s) = (%s)", strings.Join(leftParts, ", "), strings.Join(rightParts, ", "))
}

func qualifyCol(alias, col string) string {
	if alias == "" {
		return quoteIdent(col)
	}
	return alias + "." + quoteIdent(col)
}

// wrappedSource renders p inside a derived-table subquery, so a
// predicate that would otherwise leak through to the statement-level
// WHERE stays scoped to the right side of a LEFT JOIN.
func (g *generator) wrappedSource(p render.Plan) (string, ast.Expr, error) {
	fromSQL, where, err := g.source(p)
	if err != nil {
		return "", nil, err
	}
	alias := rightAlias(p)
	if where == nil {
		return fromSQL, nil, nil
	}
	whereSQL, err := g.expr(where)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("(SELECT * FROM %s WHERE %s) AS %s", fromSQL, whereSQL, quoteIdent(alias)), nil, nil
}

func rightAlias(p render.Plan) string {
	switch v := p.(type) {
	case *render.TableSource:
		return v.Alias
	case *render.CTESource:
		return v.Alias
	default:
		return "_sub"
	}
}

func andSQLExpr(a, b ast.Expr) ast.Expr {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return &ast.BinaryOp{Op: "AND", Left: a, Right: b}
}

// expr renders one resolved expression to SQL text.
func (g *generator) expr(e ast.Expr) (string, error) {
	switch n := e.(type) {
	case nil:
		return "NULL", nil

	case *ast.Literal:
		return literalSQL(n.Value), nil

	case *ast.ParamRef:
		val, ok := g.params[n.Name]
		if !ok {
			return "", &cyphererr.ParameterError{Kind: cyphererr.MissingParameter, Name: n.Name}
		}
		return literalSQL(val), nil

	case *ast.VarRef:
		return quoteIdent(n.Name), nil

	case *ast.PropertyAccess:
		return g.propertyAccess(n)

	case *ast.BinaryOp:
		left, err := g.expr(n.Left)
		if err != nil {
			return "", err
		}
		right, err := g.expr(n.Right)
		if err != nil {
			return "", err
		}
		switch strings.ToUpper(n.Op) {
		case "+":
			// Cypher + doubles as string concatenation; when either
			// operand is statically known to be a string, emit concat()
			//.
			if g.isStringExpr(n.Left) || g.isStringExpr(n.Right) {
				return fmt.Sprintf("concat(%s, %s)", left, right), nil
			}
		case "CONTAINS":
			return fmt.Sprintf("(positionCaseSensitive(%s, %s) > 0)", left, right), nil
		case "STARTS WITH":
			return fmt.Sprintf("startsWith(%s, %s)", left, right), nil
		case "ENDS WITH":
			return fmt.Sprintf("endsWith(%s, %s)", left, right), nil
		}
		return fmt.Sprintf("(%s %s %s)", left, sqlOp(n.Op), right), nil

	case *ast.UnaryOp:
		operand, err := g.expr(n.Operand)
		if err != nil {
			return "", err
		}
		switch strings.ToUpper(n.Op) {
		case "NOT":
			return fmt.Sprintf("(NOT %s)", operand), nil
		case "IS NULL":
			return fmt.Sprintf("(%s IS NULL)", operand), nil
		case "IS NOT NULL":
			return fmt.Sprintf("(%s IS NOT NULL)", operand), nil
		case "-":
			return fmt.Sprintf("(-%s)", operand), nil
		default:
			return fmt.Sprintf("(%s %s)", n.Op, operand), nil
		}

	case *ast.ListLiteral:
		parts := make([]string, len(n.Items))
		for i, it := range n.Items {
			s, err := g.expr(it)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "[" + strings.Join(parts, ", ") + "]", nil

	case *ast.MapLiteral:
		parts := make([]string, len(n.Keys))
		for i := range n.Keys {
			v, err := g.expr(n.Values[i])
			if err != nil {
				return "", err
			}
			parts[i] = fmt.Sprintf("%s, %s", sqlString(n.Keys[i]), v)
		}
		return "map(" + strings.Join(parts, ", ") + ")", nil

	case *ast.Indexing:
		list, err := g.expr(n.List)
		if err != nil {
			return "", err
		}
		idx, err := g.expr(n.Index)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s[%s]", list, idx), nil

	case *ast.CaseExpr:
		return g.caseExpr(n)

	case *ast.FuncCall:
		return g.funcCall(n)

	case *ast.ExistsSubquery:
		return g.existsSubquery(n)

	case *ast.PatternSize:
		return g.patternSize(n)

	case *ast.RowBundle:
		return g.rowBundle(n)

	case *ast.PathVarRef:
		return "", &cyphererr.UnsupportedFeature{Detail: fmt.Sprintf("%T requires pattern-aware rendering not wired into this expression path", n)}

	default:
		return "", &cyphererr.InternalError{Detail: fmt.Sprintf("sqlgen: unhandled expression %T", e)}
	}
}

func (g *generator) caseExpr(n *ast.CaseExpr) (string, error) {
	var sb strings.Builder
	sb.WriteString("CASE")
	if n.Operand != nil {
		s, err := g.expr(n.Operand)
		if err != nil {
			return "", err
		}
		sb.WriteString(" " + s)
	}
	for _, w := range n.Whens {
		cond, err := g.expr(w.Condition)
		if err != nil {
			return "", err
		}
		res, err := g.expr(w.Result)
		if err != nil {
			return "", err
		}
		sb.WriteString(fmt.Sprintf(" WHEN %s THEN %s", cond, res))
	}
	if n.Else != nil {
		s, err := g.expr(n.Else)
		if err != nil {
			return "", err
		}
		sb.WriteString(" ELSE " + s)
	}
	sb.WriteString(" END")
	return sb.String(), nil
}

func (g *generator) funcCall(n *ast.FuncCall) (string, error) {
	rendered, ok := functions.Translate(n)
	if !ok {
		return "", &cyphererr.UnsupportedFeature{Detail: "function " + n.Name}
	}
	parts := make([]string, len(rendered.Args))
	for i, a := range rendered.Args {
		s, err := g.expr(a)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	distinct := ""
	if n.Distinct {
		distinct = "DISTINCT "
	}
	return fmt.Sprintf("%s(%s%s)", rendered.SQLName, distinct, strings.Join(parts, ", ")), nil
}

// rowBundle renders a whole-node/whole-relationship RETURN item as a
// single JSON-shaped value: a named tuple of every resolved property,
// passed through ClickHouse's toJSONString so the result preserves each
// property's native type rather than concatenating strings.
func (g *generator) rowBundle(n *ast.RowBundle) (string, error) {
	parts := make([]string, len(n.Fields))
	for i, f := range n.Fields {
		expr, err := g.expr(f.Expr)
		if err != nil {
			return "", err
		}
		parts[i] = fmt.Sprintf("%s AS %s", expr, quoteOutputAlias(f.Key))
	}
	return fmt.Sprintf("toJSONString(tuple(%s))", strings.Join(parts, ", ")), nil
}

// existsSubquery renders `EXISTS {...}`/`NOT EXISTS {...}` as a
// correlated SQL EXISTS subquery over the inline pattern's single
// relationship hop.
func (g *generator) existsSubquery(n *ast.ExistsSubquery) (string, error) {
	sub, err := g.patternHopSubquery(n.Pattern, "1")
	if err != nil {
		return "", err
	}
	keyword := "EXISTS"
	if n.Negated {
		keyword = "NOT EXISTS"
	}
	return fmt.Sprintf("%s (%s)", keyword, sub), nil
}

// patternSize renders `size((a)-[:X]->(b))` as a correlated scalar count
// subquery over the inline pattern's single relationship hop.
func (g *generator) patternSize(n *ast.PatternSize) (string, error) {
	return g.patternHopSubquery(n.Pattern, "count()")
}

// patternHopSubquery is the shared implementation behind existsSubquery
// and patternSize. It is deliberately narrower than the full GraphRel
// render path: this expression carries pre-rendered SQL text rather
// than a structured sub-expression (documented opaque-expression
// debt), so it can only resolve a single relationship hop where one
// endpoint is already a standalone bound variable from the outer query
// — an FK-edge relationship (no edge table to correlate a subquery
// against) or a pattern with no bound endpoint is rejected rather than
// guessed at.
func (g *generator) patternHopSubquery(pat ast.Pattern, selectExpr string) (string, error) {
	if len(pat.Nodes) != 2 || len(pat.Rels) != 1 {
		return "", &cyphererr.UnsupportedFeature{Detail: "EXISTS/size(pattern) supports only a single relationship hop"}
	}
	rel := pat.Rels[0]
	if len(rel.Types) != 1 {
		return "", &cyphererr.UnsupportedFeature{Detail: "EXISTS/size(pattern) supports only a single relationship type"}
	}
	left, right := pat.Nodes[0], pat.Nodes[1]

	outerVar, outerIsFrom, ok := outerCorrelatedEndpoint(g.res, left, right, rel.Direction)
	if !ok {
		return "", &cyphererr.UnsupportedFeature{Detail: "EXISTS/size(pattern) requires one endpoint to already be a bound standalone node from the outer query"}
	}
	outerNS := g.res.NodeSchemas[outerVar]

	otherLabels := right.Labels
	if outerVar == right.Variable {
		otherLabels = left.Labels
	}

	relSchema, err := g.resolvePatternRel(rel.Types[0], outerNS.Label, otherLabels, outerIsFrom)
	if err != nil {
		return "", err
	}
	if relSchema.IsFKEdge() {
		return "", &cyphererr.UnsupportedFeature{Detail: "EXISTS/size(pattern) does not support FK-edge relationships"}
	}

	edgeAlias := rel.Variable
	if edgeAlias == "" {
		edgeAlias = "_pat"
	}
	edgeCol := relSchema.FromID
	if !outerIsFrom {
		edgeCol = relSchema.ToID
	}

	whereSQL := fmt.Sprintf("%s = %s", tupleExpr(edgeAlias, edgeCol), tupleExpr(outerVar, outerNS.NodeID))
	if relSchema.IsPolymorphic() {
		whereSQL += fmt.Sprintf(" AND %s.%s = %s", edgeAlias, quoteIdent(relSchema.TypeColumn), sqlString(relSchema.Type))
	}

	return fmt.Sprintf("SELECT %s FROM %s %s WHERE %s", selectExpr, g.table(relSchema.Table), quoteIdent(edgeAlias), whereSQL), nil
}

// outerCorrelatedEndpoint picks whichever of a pattern's two node
// endpoints is already a bound standalone variable from the outer
// query (the only kind this pattern can correlate against), and reports
// whether that endpoint sits on the relationship's "from" side.
func outerCorrelatedEndpoint(res *analyzer.Result, left, right ast.NodePattern, dir ast.RelDirection) (alias string, isFrom bool, ok bool) {
	leftIsFrom := dir != ast.DirLeft
	if left.Variable != "" {
		if _, bound := res.NodeSchemas[left.Variable]; bound {
			return left.Variable, leftIsFrom, true
		}
	}
	if right.Variable != "" {
		if _, bound := res.NodeSchemas[right.Variable]; bound {
			return right.Variable, !leftIsFrom, true
		}
	}
	return "", false, false
}

// resolvePatternRel resolves the relationship schema for a pattern hop
// nested inside EXISTS/size((pattern)): otherLabel may be empty (an
// anonymous endpoint), in which case every physical variant registered
// for relType is searched for one whose bound side matches outerLabel,
// mirroring the planner's anonymous-node label inference.
func (g *generator) resolvePatternRel(relType, outerLabel string, otherLabels []string, outerIsFrom bool) (*schema.RelationshipSchema, error) {
	if len(otherLabels) == 1 {
		fromLabel, toLabel := outerLabel, otherLabels[0]
		if !outerIsFrom {
			fromLabel, toLabel = otherLabels[0], outerLabel
		}
		if rs, ok := g.sch.Relationship(relType, fromLabel, toLabel); ok {
			return rs, nil
		}
	}
	for _, rs := range g.sch.RelationshipsByType(relType) {
		if outerIsFrom && rs.FromLabel == outerLabel {
			return rs, nil
		}
		if !outerIsFrom && rs.ToLabel == outerLabel {
			return rs, nil
		}
	}
	return nil, &cyphererr.SchemaError{Kind: cyphererr.UnknownRelationshipType, Detail: relType}
}

// propertyAccess renders a resolved property: either a bare qualified
// column, or a parsed expression with every ColumnRef substituted for
// the alias-qualified form and then rendered recursively.
func (g *generator) propertyAccess(n *ast.PropertyAccess) (string, error) {
	key := n.Variable + "." + n.Property
	resolved, ok := g.res.Properties[key]
	if !ok {
		// Not every access passes through the analyzer's resolver (a
		// CTE-exported column, for instance, resolves to itself);
		// fall back to `alias.property` verbatim.
		return fmt.Sprintf("%s.%s", quoteIdent(n.Variable), quoteIdent(n.Property)), nil
	}
	// A role-resolved property qualifies against the table alias that
	// physically carries it (the edge occurrence for a denormalized
	// endpoint), not the Cypher variable.
	alias := n.Variable
	if resolved.Alias != "" {
		alias = resolved.Alias
	}
	if resolved.Expression != nil {
		qualified := exprparse.Substitute(resolved.Expression, qualifyAllColumns(resolved.Expression, alias))
		return exprToSQLText(qualified), nil
	}
	return fmt.Sprintf("%s.%s", quoteIdent(alias), quoteIdent(resolved.Column)), nil
}

// qualifyAllColumns builds the replacement map exprparse.Substitute
// needs to prefix every bare column name in an expression with the
// owning row's alias.
func qualifyAllColumns(n exprparse.Node, alias string) map[string]string {
	cols := exprparse.Columns(n)
	out := make(map[string]string, len(cols))
	for _, c := range cols {
		out[c] = alias + "." + c
	}
	return out
}

// exprToSQLText renders an exprparse tree (already alias-qualified) to
// SQL text: string concatenation becomes ClickHouse's concat().
func exprToSQLText(n exprparse.Node) string {
	switch v := n.(type) {
	case *exprparse.ColumnRef:
		return v.Name
	case *exprparse.StringLiteral:
		return sqlString(v.Value)
	case *exprparse.NumberLiteral:
		return v.Text
	case *exprparse.Concat:
		parts := make([]string, len(v.Operands))
		for i, o := range v.Operands {
			parts[i] = exprToSQLText(o)
		}
		return "concat(" + strings.Join(parts, ", ") + ")"
	default:
		return ""
	}
}

// isStringExpr reports whether e is statically known to evaluate to a
// string: a string literal, a parameter bound to a string value, a
// string-returning function, or a + chain over either.
func (g *generator) isStringExpr(e ast.Expr) bool {
	switch n := e.(type) {
	case *ast.Literal:
		_, ok := n.Value.(string)
		return ok
	case *ast.ParamRef:
		_, ok := g.params[n.Name].(string)
		return ok
	case *ast.BinaryOp:
		if n.Op == "+" {
			return g.isStringExpr(n.Left) || g.isStringExpr(n.Right)
		}
		return false
	case *ast.FuncCall:
		switch strings.ToLower(n.Name) {
		case "tostring", "substring", "trim", "toupper", "tolower", "split":
			return true
		}
		return false
	default:
		return false
	}
}

func sqlOp(op string) string {
	switch strings.ToUpper(op) {
	case "=":
		return "="
	case "<>", "!=":
		return "!="
	case "AND":
		return "AND"
	case "OR":
		return "OR"
	case "XOR":
		return "XOR"
	case "IN":
		return "IN"
	default:
		return op
	}
}

func literalSQL(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return sqlString(val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case []interface{}:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = literalSQL(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []string:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = sqlString(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return sqlString(fmt.Sprintf("%v", val))
	}
}

func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdent(s string) string {
	return s
}

// quoteOutputAlias renders a projection's output column name as a
// double-quoted identifier. Unlike quoteIdent (used for physical table
// and column references, which never contain characters needing
// escaping), a RETURN item's output name is either an explicit alias or
// the verbatim source text of the expression — which can contain
// dots, operators, and whitespace (`RETURN 1  +  1` names its column
// `1  +  1`) — so it always needs quoting to be a legal identifier.
func quoteOutputAlias(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}
