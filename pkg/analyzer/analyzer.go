// Package analyzer runs the ordered passes that turn a schema-naive
// logical plan into one the optimizer and render stage can act on
// without ever consulting pkg/schema again: resolving labels and
// relationship variants, validating variable-length transitivity,
// detaching filters, and resolving every property access to its
// physical column.
//
// Passes run in a fixed order because later passes depend on side tables
// earlier ones populate in ctx: labels resolve before the properties
// hanging off them are validated.
package analyzer

import (
	"fmt"
	"sort"

	"github.com/orneryd/cyphersql/pkg/ast"
	"github.com/orneryd/cyphersql/pkg/cyphererr"
	"github.com/orneryd/cyphersql/pkg/exprparse"
	"github.com/orneryd/cyphersql/pkg/plan"
	"github.com/orneryd/cyphersql/pkg/schema"
)

// ResolvedProperty is where one alias.property access ends up physically:
// either a bare column or a parsed expression over columns of the same
// row. Alias, when set, overrides the Cypher variable as the SQL table
// qualifier — a denormalized node has no table of its own, so its
// properties qualify against the edge alias that carries them.
type ResolvedProperty struct {
	Column     string
	Expression exprparse.Node
	Alias      string
}

// Result is the analyzer's output: the rewritten plan plus every side
// table the render stage needs, so render never has to re-derive schema
// facts the analyzer already worked out.
type Result struct {
	Plan plan.Node

	// RelSchemas maps a GraphRel's alias to the concrete physical
	// relationship variant matched for it.
	RelSchemas map[string]*schema.RelationshipSchema

	// NodeSchemas maps a GraphNode's alias to its resolved node schema.
	// A denormalized node alias (one whose properties live on an edge
	// table) is absent here; its properties resolve through
	// RelSchemas instead.
	NodeSchemas map[string]*schema.NodeSchema

	// Properties maps "alias.property" to its physical resolution.
	Properties map[string]ResolvedProperty
}

// Analyze runs all nine passes over root and returns the rewritten plan
// and resolution tables. params is the caller-supplied parameter value
// set, used only to validate that every $name the query references was
// actually supplied (pass 9).
func Analyze(root plan.Node, ctx *plan.Context, sch *schema.GraphSchema, params map[string]interface{}) (*Result, error) {
	res := &Result{
		RelSchemas:  make(map[string]*schema.RelationshipSchema),
		NodeSchemas: make(map[string]*schema.NodeSchema),
		Properties:  make(map[string]ResolvedProperty),
	}

	// Pass 1: type inference is mostly done by the planner via
	// ctx.Bind; here we just make sure every GraphRel's endpoints have
	// been bound as VarNode (a relationship alias can never appear
	// where a node is expected, an AmbiguousReference otherwise caught
	// here rather than surfacing as a nil-pointer deep in render).
	if err := checkVariableKinds(root, ctx); err != nil {
		return nil, err
	}

	// Pass 2: denormalized-standalone guard.
	if err := checkDenormalizedStandalone(root, sch); err != nil {
		return nil, err
	}

	// Pass 3: variable-length transitivity check. A non-transitive type
	// with min > 1 is impossible; with min <= 1 the variable-length
	// modifier is dropped so the pattern lowers to a plain single hop
	// and no recursive CTE is ever emitted for it.
	if err := applyVLPTransitivity(root, sch); err != nil {
		return nil, err
	}

	// Pass 4: graph-join inference — resolve each GraphRel's concrete
	// schema variant and infer labels for anonymous nodes from it. A
	// node alias shared across comma-separated patterns (or across the
	// hops of a chain) is resolved here too; the render stage scans it
	// once and links every other occurrence by ID equality.
	if err := resolveGraphJoins(root, ctx, sch, res); err != nil {
		return nil, err
	}

	// Pass 5: filter tagging — detach every Filter node, splitting its
	// predicate into an AND-chain of individually taggable conjuncts.
	root = detachFilters(root, ctx)

	// Pattern predicates (EXISTS {...}, size((pattern))) render as
	// pre-built correlated subquery text, which CTE-scope rewriting
	// cannot reach inside; referencing a CTE-sourced variable from one
	// would silently qualify against the pre-WITH table, so it is
	// rejected here instead.
	if err := checkOpaquePatternExprs(root, ctx); err != nil {
		return nil, err
	}

	// Pass 6: projection tagging is implicit: ProjectionItem.Output is
	// already final from the planner, so this pass only validates that
	// no projection references an unbound variable.
	if err := checkProjectionsBound(root, ctx); err != nil {
		return nil, err
	}

	// Pass 7/8: property resolution over every surviving expression —
	// projections, order-by terms, detached filter predicates, and
	// inline GraphRel/GraphNode filters.
	if err := resolveProperties(root, ctx, sch, res); err != nil {
		return nil, err
	}
	for _, fp := range ctx.FilterPredicates {
		if err := resolvePropertiesInExpr(fp.Expr, ctx, sch, res); err != nil {
			return nil, err
		}
	}

	// Pass 9: parameter validation.
	if err := checkParameters(ctx, params); err != nil {
		return nil, err
	}

	res.Plan = root
	return res, nil
}

func checkVariableKinds(n plan.Node, ctx *plan.Context) error {
	var walk func(n plan.Node) error
	walk = func(n plan.Node) error {
		if gr, ok := n.(*plan.GraphRel); ok {
			for _, side := range []*plan.GraphNode{gr.Left, gr.Right} {
				if side == nil || side.Alias == "" {
					continue
				}
				info := ctx.Lookup(side.Alias)
				if info != nil && info.Kind != plan.VarNode {
					return &cyphererr.AnalyzerError{
						Kind:       cyphererr.AmbiguousReference,
						AliasOrVar: side.Alias,
						Detail:     "used as a node but bound as a different kind of variable",
					}
				}
			}
		}
		for _, c := range n.Inputs() {
			if c == nil {
				continue
			}
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(n)
}

// checkDenormalizedStandalone rejects a GraphNode bound to a denormalized
// label that is not an endpoint of any GraphRel — a denormalized label
// has no table of its own, so it can only be matched through the edge
// that carries its properties.
func checkDenormalizedStandalone(root plan.Node, sch *schema.GraphSchema) error {
	relEndpoints := make(map[*plan.GraphNode]bool)
	var collect func(n plan.Node)
	collect = func(n plan.Node) {
		if gr, ok := n.(*plan.GraphRel); ok {
			relEndpoints[gr.Left] = true
			relEndpoints[gr.Right] = true
		}
		for _, c := range n.Inputs() {
			if c != nil {
				collect(c)
			}
		}
	}
	collect(root)

	var err error
	var walk func(n plan.Node)
	walk = func(n plan.Node) {
		if err != nil {
			return
		}
		if gn, ok := n.(*plan.GraphNode); ok && !relEndpoints[gn] {
			for _, label := range gn.Labels {
				if ns, found := sch.NodeByLabel(label); found && ns.IsDenormalized {
					err = &cyphererr.SchemaError{
						Kind:   cyphererr.DenormalizedStandalone,
						Detail: fmt.Sprintf("label %q has no standalone table and cannot be matched outside a relationship pattern", label),
					}
					return
				}
			}
		}
		for _, c := range n.Inputs() {
			if c != nil {
				walk(c)
			}
		}
	}
	walk(root)
	return err
}

// applyVLPTransitivity handles variable-length patterns over a single
// relationship type that schema metadata shows is not actually chainable
// (its TO label never recurs as a FROM label for the same type). Such a
// pattern can never match more than one hop: a minimum above 1 is
// rejected outright, and a minimum of 0 or 1 drops the variable-length
// modifier entirely, eliding the recursive CTE for a pattern that cannot
// recurse.
func applyVLPTransitivity(root plan.Node, sch *schema.GraphSchema) error {
	var err error
	var walk func(n plan.Node)
	walk = func(n plan.Node) {
		if err != nil {
			return
		}
		if gr, ok := n.(*plan.GraphRel); ok && gr.VariableLength != nil && len(gr.Types) == 1 && !sch.IsTransitive(gr.Types[0]) {
			if gr.VariableLength.Min > 1 {
				err = &cyphererr.SchemaError{
					Kind:   cyphererr.NonTransitiveVlpMinGreaterThanOne,
					Detail: fmt.Sprintf("relationship type %q is not transitive; variable-length min > 1 can never match", gr.Types[0]),
				}
				return
			}
			gr.VariableLength = nil
		}
		for _, c := range n.Inputs() {
			if c != nil {
				walk(c)
			}
		}
	}
	walk(root)
	return err
}

// checkOpaquePatternExprs rejects an EXISTS {...} or size((pattern))
// expression whose inline pattern names a CTE-sourced variable. These
// expressions lower to pre-rendered correlated subquery text, so the
// variable would silently be qualified against its pre-WITH physical
// table instead of the CTE export.
func checkOpaquePatternExprs(root plan.Node, ctx *plan.Context) error {
	checkPattern := func(pat ast.Pattern) error {
		for _, np := range pat.Nodes {
			if np.Variable == "" {
				continue
			}
			if info := ctx.Lookup(np.Variable); info != nil && info.CTESource != "" {
				return &cyphererr.UnsupportedFeature{
					Detail: fmt.Sprintf("pattern predicate referencing %q after a WITH barrier", np.Variable),
				}
			}
		}
		return nil
	}

	var err error
	var walkExpr func(e ast.Expr)
	walkExpr = func(e ast.Expr) {
		if err != nil || e == nil {
			return
		}
		switch n := e.(type) {
		case *ast.ExistsSubquery:
			err = checkPattern(n.Pattern)
		case *ast.PatternSize:
			err = checkPattern(n.Pattern)
		case *ast.BinaryOp:
			walkExpr(n.Left)
			walkExpr(n.Right)
		case *ast.UnaryOp:
			walkExpr(n.Operand)
		case *ast.FuncCall:
			for _, a := range n.Args {
				walkExpr(a)
			}
		case *ast.CaseExpr:
			walkExpr(n.Operand)
			for _, w := range n.Whens {
				walkExpr(w.Condition)
				walkExpr(w.Result)
			}
			walkExpr(n.Else)
		}
	}

	for _, fp := range ctx.FilterPredicates {
		walkExpr(fp.Expr)
		if err != nil {
			return err
		}
	}
	var walk func(n plan.Node)
	walk = func(n plan.Node) {
		if err != nil {
			return
		}
		switch v := n.(type) {
		case *plan.Projection:
			for _, it := range v.Items {
				walkExpr(it.Expr)
			}
		case *plan.Aggregation:
			for _, it := range v.Items {
				walkExpr(it.Expr)
			}
		case *plan.WithClause:
			for _, it := range v.Items {
				walkExpr(it.Expr)
			}
		}
		for _, c := range n.Inputs() {
			if c != nil {
				walk(c)
			}
		}
	}
	walk(root)
	return err
}

// resolveGraphJoins matches each GraphRel to the concrete
// RelationshipSchema variant implied by its endpoints' labels (inferring
// an endpoint's label from the relationship type when the pattern left it
// anonymous) and records both sides' NodeSchema.
func resolveGraphJoins(root plan.Node, ctx *plan.Context, sch *schema.GraphSchema, res *Result) error {
	var err error
	var walk func(n plan.Node)
	walk = func(n plan.Node) {
		if err != nil {
			return
		}
		if gr, ok := n.(*plan.GraphRel); ok {
			if len(gr.Types) == 0 {
				err = &cyphererr.UnsupportedFeature{Detail: "relationship pattern with no type cannot be resolved against a physical schema"}
				return
			}
			relType := gr.Types[0]
			variants := sch.RelationshipsByType(relType)
			if len(variants) == 0 {
				err = &cyphererr.SchemaError{Kind: cyphererr.UnknownRelationshipType, Detail: relType}
				return
			}

			fromLabels := gr.Left.Labels
			toLabels := gr.Right.Labels

			var matched *schema.RelationshipSchema
			for _, v := range variants {
				if labelMatches(fromLabels, v.FromLabel) && labelMatches(toLabels, v.ToLabel) {
					matched = v
					break
				}
			}
			if matched == nil {
				matched = variants[0]
			}
			res.RelSchemas[gr.Alias] = matched

			// Anonymous endpoints take their label from the matched
			// variant — but only for a single-type
			// pattern: a multi-type pattern's endpoint can legitimately
			// be any of several labels, and pinning one would wrongly
			// prune the type-combination enumeration downstream.
			if len(gr.Types) == 1 {
				if len(fromLabels) == 0 {
					gr.Left.Labels = []string{matched.FromLabel}
					ctx.Bind(gr.Left.Alias, plan.VarNode, []string{matched.FromLabel})
				}
				if len(toLabels) == 0 {
					gr.Right.Labels = []string{matched.ToLabel}
					ctx.Bind(gr.Right.Alias, plan.VarNode, []string{matched.ToLabel})
				}
			}

			for _, gn := range []*plan.GraphNode{gr.Left, gr.Right} {
				for _, label := range gn.Labels {
					if ns, found := sch.NodeByLabel(label); found && !ns.IsDenormalized {
						res.NodeSchemas[gn.Alias] = ns
					}
				}
			}
		}
		if gn, ok := n.(*plan.GraphNode); ok {
			for _, label := range gn.Labels {
				ns, found := sch.NodeByLabel(label)
				if !found {
					err = &cyphererr.SchemaError{Kind: cyphererr.UnknownLabel, Detail: label}
					return
				}
				if !ns.IsDenormalized {
					res.NodeSchemas[gn.Alias] = ns
				}
			}
		}
		for _, c := range n.Inputs() {
			if c != nil {
				walk(c)
			}
		}
	}
	walk(root)
	return err
}

func labelMatches(have []string, want string) bool {
	if len(have) == 0 {
		return true
	}
	for _, h := range have {
		if h == want {
			return true
		}
	}
	return false
}

// detachFilters removes every Filter node from the tree, splitting its
// predicate on top-level AND into individually taggable conjuncts pushed
// into ctx.FilterPredicates — the form the optimizer's FilterIntoGraphRel
// rule expects.
func detachFilters(root plan.Node, ctx *plan.Context) plan.Node {
	var rewrite func(n plan.Node) plan.Node
	rewrite = func(n plan.Node) plan.Node {
		children := n.Inputs()
		newChildren := make([]plan.Node, len(children))
		changed := false
		for i, c := range children {
			if c == nil {
				continue
			}
			newChildren[i] = rewrite(c)
			if newChildren[i] != c {
				changed = true
			}
		}
		if changed {
			n = n.WithInputs(newChildren)
		}
		if f, ok := n.(*plan.Filter); ok {
			for _, conj := range splitAnd(f.Predicate) {
				ctx.AddFilter(conj, aliasesIn(conj))
			}
			return f.Input
		}
		return n
	}
	return rewrite(root)
}

func splitAnd(e ast.Expr) []ast.Expr {
	if b, ok := e.(*ast.BinaryOp); ok && (b.Op == "AND" || b.Op == "and") {
		return append(splitAnd(b.Left), splitAnd(b.Right)...)
	}
	return []ast.Expr{e}
}

func aliasesIn(e ast.Expr) []string {
	seen := make(map[string]bool)
	var walk func(e ast.Expr)
	walk = func(e ast.Expr) {
		switch n := e.(type) {
		case *ast.PropertyAccess:
			seen[n.Variable] = true
		case *ast.VarRef:
			seen[n.Name] = true
		case *ast.BinaryOp:
			walk(n.Left)
			walk(n.Right)
		case *ast.UnaryOp:
			walk(n.Operand)
		case *ast.FuncCall:
			for _, a := range n.Args {
				walk(a)
			}
		case *ast.Indexing:
			walk(n.List)
			walk(n.Index)
		}
	}
	walk(e)
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func checkProjectionsBound(root plan.Node, ctx *plan.Context) error {
	var err error
	var check func(e ast.Expr)
	check = func(e ast.Expr) {
		if err != nil || e == nil {
			return
		}
		switch n := e.(type) {
		case *ast.VarRef:
			if ctx.Lookup(n.Name) == nil {
				err = &cyphererr.AnalyzerError{Kind: cyphererr.UnresolvedVariable, AliasOrVar: n.Name}
			}
		case *ast.PropertyAccess:
			if ctx.Lookup(n.Variable) == nil {
				err = &cyphererr.AnalyzerError{Kind: cyphererr.UnresolvedVariable, AliasOrVar: n.Variable}
			}
		case *ast.BinaryOp:
			check(n.Left)
			check(n.Right)
		case *ast.UnaryOp:
			check(n.Operand)
		case *ast.FuncCall:
			for _, a := range n.Args {
				check(a)
			}
		case *ast.Indexing:
			check(n.List)
			check(n.Index)
		}
	}
	var walk func(n plan.Node)
	walk = func(n plan.Node) {
		if err != nil {
			return
		}
		switch v := n.(type) {
		case *plan.Projection:
			for _, it := range v.Items {
				check(it.Expr)
			}
		case *plan.Aggregation:
			for _, it := range v.Items {
				check(it.Expr)
			}
		}
		for _, c := range n.Inputs() {
			if c != nil {
				walk(c)
			}
		}
	}
	walk(root)
	return err
}

// resolveProperties walks every projection and order-by expression in
// the tree, resolving each PropertyAccess it finds.
func resolveProperties(root plan.Node, ctx *plan.Context, sch *schema.GraphSchema, res *Result) error {
	var err error
	var walkExpr func(e ast.Expr)
	walkExpr = func(e ast.Expr) {
		if err != nil {
			return
		}
		if e == nil {
			return
		}
		switch n := e.(type) {
		case *ast.PropertyAccess:
			if resErr := resolveOne(n, ctx, sch, res); resErr != nil {
				err = resErr
			}
		case *ast.BinaryOp:
			walkExpr(n.Left)
			walkExpr(n.Right)
		case *ast.UnaryOp:
			walkExpr(n.Operand)
		case *ast.FuncCall:
			for _, a := range n.Args {
				walkExpr(a)
			}
		case *ast.Indexing:
			walkExpr(n.List)
			walkExpr(n.Index)
		case *ast.CaseExpr:
			walkExpr(n.Operand)
			for _, w := range n.Whens {
				walkExpr(w.Condition)
				walkExpr(w.Result)
			}
			walkExpr(n.Else)
		case *ast.ListLiteral:
			for _, it := range n.Items {
				walkExpr(it)
			}
		case *ast.MapLiteral:
			for _, v := range n.Values {
				walkExpr(v)
			}
		}
	}

	var walk func(n plan.Node)
	walk = func(n plan.Node) {
		if err != nil {
			return
		}
		switch v := n.(type) {
		case *plan.Projection:
			for _, it := range v.Items {
				walkExpr(it.Expr)
			}
		case *plan.Aggregation:
			for _, it := range v.Items {
				walkExpr(it.Expr)
			}
			for _, g := range v.GroupBy {
				walkExpr(g)
			}
		case *plan.WithClause:
			for _, it := range v.Items {
				walkExpr(it.Expr)
			}
		case *plan.OrderBy:
			for _, it := range v.Items {
				walkExpr(it.Expr)
			}
		case *plan.GraphRel:
			if v.WherePredicate != nil {
				walkExpr(v.WherePredicate)
			}
		case *plan.GraphNode:
			if v.Filter != nil {
				walkExpr(v.Filter)
			}
		}
		for _, c := range n.Inputs() {
			if c != nil {
				walk(c)
			}
		}
	}
	walk(root)
	return err
}

func resolvePropertiesInExpr(e ast.Expr, ctx *plan.Context, sch *schema.GraphSchema, res *Result) error {
	var err error
	var walkExpr func(e ast.Expr)
	walkExpr = func(e ast.Expr) {
		if err != nil || e == nil {
			return
		}
		switch n := e.(type) {
		case *ast.PropertyAccess:
			if resErr := resolveOne(n, ctx, sch, res); resErr != nil {
				err = resErr
			}
		case *ast.BinaryOp:
			walkExpr(n.Left)
			walkExpr(n.Right)
		case *ast.UnaryOp:
			walkExpr(n.Operand)
		case *ast.FuncCall:
			for _, a := range n.Args {
				walkExpr(a)
			}
		case *ast.Indexing:
			walkExpr(n.List)
			walkExpr(n.Index)
		}
	}
	walkExpr(e)
	return err
}

// resolveOne resolves a single alias.property access. A variable whose
// CTESource is set was exported by a prior WITH; its properties are
// already flat CTE columns and need no schema lookup at all. Otherwise
// resolution tries the node's own PropertyMappings and identifier
// columns, the relationship's own mappings, and finally the
// role-specific from/to node properties of the relationship that
// carried the alias into scope.
func resolveOne(pa *ast.PropertyAccess, ctx *plan.Context, sch *schema.GraphSchema, res *Result) error {
	key := pa.Variable + "." + pa.Property
	if _, done := res.Properties[key]; done {
		return nil
	}

	info := ctx.Lookup(pa.Variable)
	if info == nil {
		return &cyphererr.AnalyzerError{Kind: cyphererr.UnresolvedVariable, AliasOrVar: pa.Variable}
	}
	if info.CTESource != "" {
		res.Properties[key] = ResolvedProperty{Column: pa.Property}
		return nil
	}

	if ns, ok := res.NodeSchemas[pa.Variable]; ok {
		if pv, found := ns.PropertyMappings[pa.Property]; found {
			return storeResolved(key, pv, "", res)
		}
		// The identifier column(s) are addressable by their physical
		// name even without an explicit property mapping (`WHERE
		// a.user_id = 1` against node_id: [user_id]).
		for _, idCol := range ns.NodeID {
			if idCol == pa.Property {
				res.Properties[key] = ResolvedProperty{Column: idCol}
				return nil
			}
		}
	}

	if rs, ok := res.RelSchemas[pa.Variable]; ok && info.Kind == plan.VarRelationship {
		if pv, found := rs.RelPropertyMappings[pa.Property]; found {
			return storeResolved(key, pv, "", res)
		}
		for _, cols := range [][]string{rs.FromID, rs.ToID, rs.EdgeID} {
			for _, col := range cols {
				if col == pa.Property {
					res.Properties[key] = ResolvedProperty{Column: col}
					return nil
				}
			}
		}
	}

	for _, rb := range ctx.RoleBindings {
		if rb.NodeAlias != pa.Variable {
			continue
		}
		relSchema, ok := res.RelSchemas[rb.RelAlias]
		if !ok {
			continue
		}
		props := relSchema.ToNodeProperties
		if rb.FromSide {
			props = relSchema.FromNodeProperties
		}
		if pv, found := props[pa.Property]; found {
			// The property lives on the edge table, so it must qualify
			// against that edge's alias, not the node variable's —
			// role-aware resolution: the first recorded binding
			// for the alias wins when it is reachable through several.
			return storeResolved(key, pv, rb.RelAlias, res)
		}
	}

	return &cyphererr.AnalyzerError{
		Kind:       cyphererr.UnresolvedProperty,
		AliasOrVar: pa.Variable,
		Detail:     pa.Property,
	}
}

func storeResolved(key string, pv schema.PropertyValue, alias string, res *Result) error {
	if pv.IsExpression() {
		node, err := exprparse.Parse(pv.Expression)
		if err != nil {
			return &cyphererr.InternalError{Detail: "invalid property expression: " + err.Error()}
		}
		res.Properties[key] = ResolvedProperty{Expression: node, Alias: alias}
		return nil
	}
	res.Properties[key] = ResolvedProperty{Column: pv.Column, Alias: alias}
	return nil
}

func checkParameters(ctx *plan.Context, params map[string]interface{}) error {
	for name := range ctx.Parameters {
		if _, ok := params[name]; !ok {
			return &cyphererr.ParameterError{Kind: cyphererr.MissingParameter, Name: name}
		}
	}
	return nil
}
