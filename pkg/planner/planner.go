// Package planner builds a logical plan (pkg/plan) from a parsed query
// (pkg/ast): one linear pass over the clause list, each clause folding a
// new operator around the plan built so far. This stage does not consult
// the schema for anything beyond recording which labels and types were
// written in the query text — schema-aware resolution is the analyzer's
// job.
package planner

import (
	"fmt"
	"strings"

	"github.com/orneryd/cyphersql/pkg/ast"
	"github.com/orneryd/cyphersql/pkg/cyphererr"
	"github.com/orneryd/cyphersql/pkg/plan"
)

// aggregateFunctions is the set of function names that make a
// projection an Aggregation rather than a plain Projection. Matched
// case-insensitively against FuncCall.Name with any `ch.`/`chagg.`
// prefix stripped first.
var aggregateFunctions = map[string]bool{
	"count":      true,
	"sum":        true,
	"avg":        true,
	"min":        true,
	"max":        true,
	"collect":    true,
	"stddev":     true,
	"percentile": true,
}

// Build converts a parsed Query into a logical plan and the PlanContext
// the rest of the pipeline will thread through. maxHops seeds
// Context.MaxHops, the ceiling applied to unbounded variable-length
// patterns.
func Build(q *ast.Query, maxHops int) (plan.Node, *plan.Context, error) {
	ctx := plan.NewContext(maxHops)
	names := newAliasAllocator(q)
	var current plan.Node = &plan.Empty{}
	haveSource := false

	for _, clause := range q.Clauses {
		var err error
		current, haveSource, err = applyClause(current, haveSource, clause, ctx, names)
		if err != nil {
			return nil, nil, err
		}
	}
	return current, ctx, nil
}

// aliasAllocator synthesizes names for anonymous nodes and relationships.
// Anonymous aliases surface as SQL table aliases, so they are kept short
// and deterministic (r, r2, r3 / n, n2, n3) rather than random; every
// variable the query itself declares is collected up front so a
// synthesized name can never collide with a user binding anywhere in the
// statement, including one declared in a later clause.
type aliasAllocator struct {
	declared map[string]bool
	relSeq   int
	nodeSeq  int
	cteSeq   int
}

func newAliasAllocator(q *ast.Query) *aliasAllocator {
	a := &aliasAllocator{declared: make(map[string]bool)}
	for _, clause := range q.Clauses {
		switch c := clause.(type) {
		case *ast.MatchClause:
			for _, pat := range c.Patterns {
				a.collectPattern(pat)
			}
		case *ast.WithClause:
			for _, it := range c.Items {
				if it.Alias != "" {
					a.declared[it.Alias] = true
				}
			}
		case *ast.UnwindClause:
			a.declared[c.Variable] = true
		}
	}
	return a
}

func (a *aliasAllocator) collectPattern(pat ast.Pattern) {
	if pat.PathVariable != "" {
		a.declared[pat.PathVariable] = true
	}
	for _, n := range pat.Nodes {
		if n.Variable != "" {
			a.declared[n.Variable] = true
		}
	}
	for _, r := range pat.Rels {
		if r.Variable != "" {
			a.declared[r.Variable] = true
		}
	}
}

func (a *aliasAllocator) next(base string, seq *int) string {
	for {
		*seq++
		name := base
		if *seq > 1 {
			name = fmt.Sprintf("%s%d", base, *seq)
		}
		if !a.declared[name] {
			a.declared[name] = true
			return name
		}
	}
}

func (a *aliasAllocator) relAlias() string  { return a.next("r", &a.relSeq) }
func (a *aliasAllocator) nodeAlias() string { return a.next("n", &a.nodeSeq) }

// cteName numbers WITH-clause CTEs sequentially. CTE names surface in
// the emitted SQL, so they follow the same rule as every other
// synthesized name: deterministic, so one (query, schema, params)
// triple always yields byte-identical SQL.
func (a *aliasAllocator) cteName() string {
	for {
		a.cteSeq++
		name := fmt.Sprintf("cte_%d", a.cteSeq)
		if !a.declared[name] {
			a.declared[name] = true
			return name
		}
	}
}

func applyClause(current plan.Node, haveSource bool, clause ast.Clause, ctx *plan.Context, names *aliasAllocator) (plan.Node, bool, error) {
	switch c := clause.(type) {
	case *ast.MatchClause:
		return applyMatch(current, haveSource, c, ctx, names)
	case *ast.WithClause:
		n, err := applyWith(current, c, ctx, names)
		return n, true, err
	case *ast.ReturnClause:
		n, err := applyReturn(current, c, ctx)
		return n, true, err
	case *ast.UnwindClause:
		collectParams(c.List, ctx)
		ctx.Bind(c.Variable, plan.VarScalar, nil)
		return &plan.Unwind{Input: current, List: c.List, Variable: c.Variable}, true, nil
	case *ast.CallClause:
		for _, a := range c.Args {
			collectParams(a, ctx)
		}
		return &plan.CallProcedure{Input: current, Procedure: c.Procedure, Args: c.Args}, true, nil
	default:
		return nil, false, &cyphererr.InternalError{Detail: fmt.Sprintf("unknown clause type %T", clause)}
	}
}

// applyMatch folds one MATCH/OPTIONAL MATCH clause's patterns onto the
// plan built so far. Each pattern's own nodes/rels are joined into a
// single chain; multiple comma-separated patterns, and a MATCH following
// an already-populated plan, are joined by CartesianProduct — the render
// stage deduplicates any node alias shared across branches so the shared
// node is scanned once and re-joined by ID equality.
func applyMatch(current plan.Node, haveSource bool, c *ast.MatchClause, ctx *plan.Context, names *aliasAllocator) (plan.Node, bool, error) {
	var branch plan.Node
	for _, pat := range c.Patterns {
		chain, err := buildPatternChain(pat, c.Optional, ctx, names)
		if err != nil {
			return nil, false, err
		}
		if branch == nil {
			branch = chain
		} else {
			branch = &plan.CartesianProduct{Left: branch, Right: chain}
		}
	}
	if branch == nil {
		branch = &plan.Empty{}
	}

	if c.Where != nil {
		collectParams(c.Where, ctx)
		branch = &plan.Filter{Input: branch, Predicate: c.Where}
	}

	if !haveSource {
		return branch, true, nil
	}
	return &plan.CartesianProduct{Left: current, Right: branch}, true, nil
}

// buildPatternChain turns one Pattern's node/rel sequence into a plan
// subtree. Each hop becomes one GraphRel over its two endpoint
// GraphNodes; a multi-hop chain combines its hops with CartesianProduct,
// sharing the middle GraphNode pointer between adjacent hops so the
// render stage scans the shared node once and links the hops through it.
func buildPatternChain(pat ast.Pattern, optional bool, ctx *plan.Context, names *aliasAllocator) (plan.Node, error) {
	if len(pat.Nodes) == 0 {
		return nil, &cyphererr.InternalError{Detail: "pattern with no nodes"}
	}

	first := buildGraphNode(pat.Nodes[0], ctx, names)
	var chain plan.Node = first
	var prevGN *plan.GraphNode = first

	pathAliases := make([]string, 0, len(pat.Rels))

	for i, rel := range pat.Rels {
		rightNode := buildGraphNode(pat.Nodes[i+1], ctx, names)

		var vl *plan.VariableLength
		if rel.VariableLength != nil {
			vl = &plan.VariableLength{Min: rel.VariableLength.Min, Max: rel.VariableLength.Max}
		}

		relAlias := rel.Variable
		if relAlias == "" {
			relAlias = names.relAlias()
		}
		ctx.Bind(relAlias, plan.VarRelationship, rel.Types)

		// GraphRel.Left is always the relationship's FROM endpoint; a
		// left-pointing arrow swaps the pattern order into schema order
		// here so no later stage has to re-derive arrow direction.
		fromGN, toGN := prevGN, rightNode
		if rel.Direction == ast.DirLeft {
			fromGN, toGN = rightNode, prevGN
		}
		if fromGN.Alias != "" {
			ctx.AddRoleBinding(fromGN.Alias, relAlias, true)
		}
		if toGN.Alias != "" {
			ctx.AddRoleBinding(toGN.Alias, relAlias, false)
		}

		gr := &plan.GraphRel{
			Alias:          relAlias,
			Types:          rel.Types,
			VariableLength: vl,
			ShortestMode:   shortestModeFor(pat.ShortestMode),
			PathVariable:   pat.PathVariable,
			Left:           fromGN,
			Right:          toGN,
			Optional:       optional,
		}
		pathAliases = append(pathAliases, relAlias)

		if len(rel.Properties) > 0 {
			gr.WherePredicate = propertyMapPredicate(relAlias, rel.Properties, ctx)
		}

		if i == 0 {
			chain = gr
		} else {
			chain = &plan.CartesianProduct{Left: chain, Right: gr}
		}
		prevGN = rightNode
	}

	if pat.PathVariable != "" {
		ctx.PathVariables[pat.PathVariable] = pathAliases
		ctx.Bind(pat.PathVariable, plan.VarPath, nil)
	}

	return chain, nil
}

func buildGraphNode(np ast.NodePattern, ctx *plan.Context, names *aliasAllocator) *plan.GraphNode {
	alias := np.Variable
	if alias == "" {
		alias = names.nodeAlias()
	}
	ctx.Bind(alias, plan.VarNode, np.Labels)

	gn := &plan.GraphNode{Alias: alias, Labels: np.Labels}
	if len(np.Properties) > 0 {
		gn.Filter = propertyMapPredicate(alias, np.Properties, ctx)
	}
	return gn
}

// propertyMapPredicate turns an inline `{key: expr, ...}` property map
// into an AND-chain of equality comparisons against `alias.key`, the
// same normalization the analyzer expects every other WHERE predicate to
// already be in.
func propertyMapPredicate(alias string, props map[string]ast.Expr, ctx *plan.Context) ast.Expr {
	var pred ast.Expr
	for key, val := range props {
		collectParams(val, ctx)
		eq := &ast.BinaryOp{
			Op:   "=",
			Left: &ast.PropertyAccess{Variable: alias, Property: key},
			Right: val,
		}
		if pred == nil {
			pred = eq
		} else {
			pred = &ast.BinaryOp{Op: "AND", Left: pred, Right: eq}
		}
	}
	return pred
}

func shortestModeFor(m ast.ShortestMode) plan.ShortestMode {
	switch m {
	case ast.ShortestSingle:
		return plan.ShortestSingle
	case ast.ShortestAll:
		return plan.ShortestAll
	default:
		return plan.ShortestNone
	}
}

// applyWith builds the projection for a WITH clause and marks it as a
// scope barrier: every item's output name becomes a fresh CTE-sourced
// variable, recorded in ctx so the analyzer's property resolution
// knows to skip schema-based column mapping for it and use the CTE
// column directly instead.
func applyWith(current plan.Node, c *ast.WithClause, ctx *plan.Context, names *aliasAllocator) (plan.Node, error) {
	items, err := buildProjectionItems(c.Items, ctx)
	if err != nil {
		return nil, err
	}

	var node plan.Node = &plan.Projection{Input: current, Items: items, Distinct: c.Distinct}
	if c.Where != nil {
		collectParams(c.Where, ctx)
		node = &plan.Filter{Input: node, Predicate: c.Where}
	}

	cteName := names.cteName()
	wc := &plan.WithClause{Input: node, Items: items, Distinct: c.Distinct, CTEName: cteName}

	cols := make([]string, 0, len(items))
	for _, it := range items {
		cols = append(cols, it.Output)
		// The exported name re-enters the variable registry as a fresh
		// binding sourced from this CTE ("rebinding via WITH
		// replaces the source"). A bare-variable export (`WITH u AS
		// person`) keeps its Kind/Labels so `person.name` still resolves
		// as a node-property access downstream instead of an opaque
		// scalar; anything else (a computed expression, an aggregate)
		// re-enters as a plain scalar.
		kind := plan.VarScalar
		var labels []string
		if vr, ok := it.Expr.(*ast.VarRef); ok {
			if src := ctx.Lookup(vr.Name); src != nil {
				kind, labels = src.Kind, src.Labels
			}
		}
		ctx.Bind(it.Output, kind, labels)
		ctx.MarkCTESource(it.Output, cteName)
	}
	ctx.AddCTEExport(cteName, cols)

	node = plan.Node(wc)
	node, err = applyOrderSkipLimit(node, c.OrderBy, c.Skip, c.Limit, ctx)
	return node, err
}

// applyReturn builds the terminal projection. A projection containing
// any aggregate function call becomes an Aggregation, with every
// non-aggregate item folded into GroupBy — the render stage reproduces
// GroupBy verbatim as the SQL GROUP BY list.
func applyReturn(current plan.Node, c *ast.ReturnClause, ctx *plan.Context) (plan.Node, error) {
	items, err := buildProjectionItems(c.Items, ctx)
	if err != nil {
		return nil, err
	}

	var node plan.Node
	if hasAggregate(items) {
		var groupBy []ast.Expr
		for _, it := range items {
			if !exprHasAggregate(it.Expr) {
				groupBy = append(groupBy, it.Expr)
			}
		}
		node = &plan.Aggregation{Input: current, Items: items, GroupBy: groupBy, Distinct: c.Distinct}
	} else {
		node = &plan.Projection{Input: current, Items: items, Distinct: c.Distinct}
	}

	return applyOrderSkipLimit(node, c.OrderBy, c.Skip, c.Limit, ctx)
}

func applyOrderSkipLimit(node plan.Node, orderBy []ast.OrderItem, skip, limit ast.Expr, ctx *plan.Context) (plan.Node, error) {
	if len(orderBy) > 0 {
		items := make([]plan.OrderItem, len(orderBy))
		for i, o := range orderBy {
			collectParams(o.Expr, ctx)
			items[i] = plan.OrderItem{Expr: o.Expr, Descending: o.Descending}
		}
		node = &plan.OrderBy{Input: node, Items: items}
	}
	if skip != nil {
		collectParams(skip, ctx)
		node = &plan.Skip{Input: node, Count: skip}
	}
	if limit != nil {
		collectParams(limit, ctx)
		node = &plan.Limit{Input: node, Count: limit}
	}
	return node, nil
}

func buildProjectionItems(items []ast.ProjectionItem, ctx *plan.Context) ([]plan.ProjectionItem, error) {
	out := make([]plan.ProjectionItem, 0, len(items))
	for _, it := range items {
		collectParams(it.Expr, ctx)
		name := it.OutputName()
		if name == "" {
			return nil, &cyphererr.InternalError{Detail: "projection item missing both alias and original text"}
		}
		out = append(out, plan.ProjectionItem{Expr: it.Expr, Output: name})
	}
	return out, nil
}

func hasAggregate(items []plan.ProjectionItem) bool {
	for _, it := range items {
		if exprHasAggregate(it.Expr) {
			return true
		}
	}
	return false
}

func exprHasAggregate(e ast.Expr) bool {
	switch n := e.(type) {
	case *ast.FuncCall:
		// The chagg. passthrough prefix always marks an aggregate,
		// whatever function it names; that is the whole point of having
		// a second prefix next to ch.
		if len(n.Name) > 6 && strings.EqualFold(n.Name[:6], "chagg.") {
			return true
		}
		if aggregateFunctions[strings.ToLower(stripFuncPrefix(n.Name))] {
			return true
		}
		for _, a := range n.Args {
			if exprHasAggregate(a) {
				return true
			}
		}
	case *ast.BinaryOp:
		return exprHasAggregate(n.Left) || exprHasAggregate(n.Right)
	case *ast.UnaryOp:
		return exprHasAggregate(n.Operand)
	case *ast.Indexing:
		return exprHasAggregate(n.List) || exprHasAggregate(n.Index)
	case *ast.CaseExpr:
		if n.Operand != nil && exprHasAggregate(n.Operand) {
			return true
		}
		for _, w := range n.Whens {
			if exprHasAggregate(w.Condition) || exprHasAggregate(w.Result) {
				return true
			}
		}
		if n.Else != nil {
			return exprHasAggregate(n.Else)
		}
	case *ast.ListLiteral:
		for _, it := range n.Items {
			if exprHasAggregate(it) {
				return true
			}
		}
	}
	return false
}

func stripFuncPrefix(name string) string {
	for _, p := range []string{"ch.", "chagg."} {
		if len(name) > len(p) && name[:len(p)] == p {
			return name[len(p):]
		}
	}
	return name
}

// collectParams walks an expression tree registering every $param
// reference into ctx.Parameters, feeding the analyzer's
// parameter-validation pass.
func collectParams(e ast.Expr, ctx *plan.Context) {
	if e == nil {
		return
	}
	switch n := e.(type) {
	case *ast.ParamRef:
		ctx.UseParameter(n.Name)
	case *ast.FuncCall:
		for _, a := range n.Args {
			collectParams(a, ctx)
		}
	case *ast.BinaryOp:
		collectParams(n.Left, ctx)
		collectParams(n.Right, ctx)
	case *ast.UnaryOp:
		collectParams(n.Operand, ctx)
	case *ast.Indexing:
		collectParams(n.List, ctx)
		collectParams(n.Index, ctx)
	case *ast.ListLiteral:
		for _, it := range n.Items {
			collectParams(it, ctx)
		}
	case *ast.MapLiteral:
		for _, v := range n.Values {
			collectParams(v, ctx)
		}
	case *ast.CaseExpr:
		collectParams(n.Operand, ctx)
		for _, w := range n.Whens {
			collectParams(w.Condition, ctx)
			collectParams(w.Result, ctx)
		}
		collectParams(n.Else, ctx)
	case *ast.ExistsSubquery:
		collectParams(n.Where, ctx)
	}
}
