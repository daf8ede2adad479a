// Package render turns an optimized logical plan into RenderPlan, a
// SQL-shaped intermediate representation: named CTEs with their column
// lists, join trees annotated with physical tables and key columns, and
// a final SELECT shape. Building this IR separately from string
// generation (pkg/sqlgen) keeps the SQL-shape decisions — how many hops
// become a recursive CTE, which join is a LEFT JOIN, what a WITH export
// looks like as a CTE — independent of syntax concerns like quoting and
// literal escaping.
package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/orneryd/cyphersql/pkg/analyzer"
	"github.com/orneryd/cyphersql/pkg/ast"
	"github.com/orneryd/cyphersql/pkg/cyphererr"
	"github.com/orneryd/cyphersql/pkg/exprparse"
	"github.com/orneryd/cyphersql/pkg/plan"
	"github.com/orneryd/cyphersql/pkg/schema"
)

// JoinKind distinguishes how two relation sources combine.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
)

// TableRef is one physical table occurrence with its SQL alias.
type TableRef struct {
	Table string
	Alias string
}

// Source is anything a SELECT can read rows from: a physical table, a
// previously-built CTE, or a recursive variable-length-path CTE.
type Source interface {
	sourceNode()
}

// TableSource reads directly from a physical table.
type TableSource struct {
	TableRef
}

func (*TableSource) sourceNode() {}

// CTESource reads from a CTE produced earlier in the same statement
// (either a WITH export or a variable-length-path CTE).
type CTESource struct {
	Name  string
	Alias string

	// ShortestWrap requests that sqlgen read this CTE through a
	// per-(from_id,to_id) minimum-depth wrapper instead of directly,
	// and OuterEndWhere, if non-nil, is applied inside that wrapper
	// (shortest-path end-filter placement).
	ShortestWrap  bool
	OuterEndWhere ast.Expr
}

func (*CTESource) sourceNode() {}

// Join combines two sources on a key-column equality (rendered as a
// tuple equality when either side's key is composite).
type Join struct {
	Kind  JoinKind
	Left  Plan
	Right Plan
	OnLeftCols  []string
	OnRightCols []string
	// OnLeftAlias/OnRightAlias qualify OnLeftCols/OnRightCols with the
	// specific table alias each belongs to. These are not always "the"
	// alias of the Left/Right subtree — e.g. in a three-way join the
	// edge alias qualifies the join key on the side whose Plan is
	// itself a nested Join — so the builder that knows which physical
	// table each column lives on sets them explicitly rather than
	// sqlgen trying to infer an alias from a (possibly composite) Plan.
	OnLeftAlias  string
	OnRightAlias string
	// ExtraPredicate carries any WHERE predicate the optimizer folded
	// into this GraphRel (FilterIntoGraphRel).
	ExtraPredicate ast.Expr
}

// Plan is one node of the render tree: either a leaf Source or a Join.
// It is distinct from Source so a Join's children can themselves be
// joins without an extra wrapper type.
type Plan interface {
	planRenderNode()
}

func (*TableSource) planRenderNode() {}
func (*CTESource) planRenderNode()   {}
func (*Join) planRenderNode()        {}

// ColumnExpr is one projected output column: an expression (already
// property-resolved by the analyzer) and its output name.
type ColumnExpr struct {
	Expr   ast.Expr
	Output string
}

// RecursiveCTE describes a WITH RECURSIVE block for a variable-length or
// shortest-path relationship pattern.
type RecursiveCTE struct {
	Name string

	// BaseTable/BaseAlias is the physical edge table the recursion
	// steps over (or, for an FK-edge encoding, the node table).
	BaseTable TableRef

	FromCols []string
	ToCols   []string
	EdgeCols []string // identity columns used for the cycle-prevention array

	Min int
	Max int // -1 means unbounded, capped by MaxHops at render time

	// TypeColumn/TypeValues restrict the base/recursive scan to these relationship
	// type values when the edge table is polymorphic; empty when not.
	TypeColumn string
	TypeValues []string

	// StartWhere/EdgeWhere land in the base case only (start-node
	// filters) or in both cases (edge-property filters); EndWhere lands
	// in both cases for a non-shortest VLP, or is withheld entirely
	// (moved to OuterEndWhere) for a shortest-path one.
	StartWhere ast.Expr
	EndWhere   ast.Expr
	EdgeWhere  ast.Expr

	// Shortest marks a GraphRel that came from shortestPath()/
	// allShortestPaths(); the generator wraps the CTE reference with a
	// per-(start,end) minimum-depth selection instead of surfacing every
	// recursion step.
	Shortest bool
	// OuterEndWhere is the end-node filter held back from the recursive
	// body because applying it inside a shortest-path CTE would prune
	// intermediate hops that lead to the target.
	OuterEndWhere ast.Expr
}

// CTE is one named, ordered entry in the statement's WITH block.
type CTE struct {
	Name       string
	Recursive  *RecursiveCTE // non-nil for a variable-length path CTE
	Columns    []ColumnExpr  // for a non-recursive (WITH-export) CTE
	From       Plan          // for a non-recursive CTE
	Where      ast.Expr

	// Union holds the enumerated UNION ALL branches of a multi-type
	// variable-length pattern spanning distinct edge tables; mutually
	// exclusive with the fields above.
	Union []*Statement
}

// Statement is the fully-built render IR for one query: the ordered CTE
// list (already topologically sorted) and the final SELECT.
type Statement struct {
	CTEs []CTE

	From     Plan
	Where    ast.Expr
	Columns  []ColumnExpr
	GroupBy  []ast.Expr
	Distinct bool
	OrderBy  []plan.OrderItem
	Skip     ast.Expr
	Limit    ast.Expr

	// Database optionally qualifies every physical table reference with
	// a database name (from translate.Options or a USE prefix).
	Database string
}

// Build walks the optimized plan tree bottom-up, producing a Statement.
// ctx carries MaxHops and the detached filter predicates the optimizer
// could not push into any single GraphRel (these become the
// statement-level WHERE).
func Build(res *analyzer.Result, ctx *plan.Context, sch *schema.GraphSchema) (*Statement, error) {
	b := &builder{
		res:        res,
		ctx:        ctx,
		sch:        sch,
		rendered:   make(map[string]bool),
		anchors:    make(map[string]denormAnchor),
		vlpAliases: make(map[string]bool),
	}
	rootPlan, err := b.render(res.Plan)
	if err != nil {
		return nil, err
	}

	stmt, ok := rootPlan.(*Statement)
	if !ok {
		// A tree with no terminal Projection/Aggregation (e.g. a bare
		// MATCH with no RETURN) still needs a Statement wrapper so
		// sqlgen has something to emit.
		src, ok := rootPlan.(Plan)
		if !ok {
			return nil, &cyphererr.InternalError{Detail: "render produced neither a Statement nor a Plan source"}
		}
		stmt = &Statement{From: src}
	}

	stmt.CTEs = topoSortCTEs(b.ctes)
	// A link predicate deferred by a suppressed endpoint with no
	// enclosing CartesianProduct to consume it (a self-referential
	// pattern like (a)-[:R]->(a)) still applies; it lands on the
	// statement WHERE.
	if b.graftPred != nil {
		stmt.Where = andExpr(stmt.Where, b.graftPred)
		b.graftPred = nil
	}
	for _, fp := range ctx.FilterPredicates {
		rewritten, err := b.rewriteExpr(fp.Expr)
		if err != nil {
			return nil, err
		}
		stmt.Where = andExpr(stmt.Where, rewritten)
	}
	return stmt, nil
}

type builder struct {
	res *analyzer.Result
	ctx *plan.Context
	sch *schema.GraphSchema

	ctes    []CTE
	cteSeen map[string]bool
	vlpSeq  int

	// rendered tracks node aliases whose table scan has already been
	// emitted, so a second occurrence of the same alias (a shared node
	// in a comma-separated pattern, or the middle node of a multi-hop
	// chain) is not scanned twice — the later hop links to the existing
	// alias by ID equality instead.
	rendered map[string]bool

	// anchors records, for each denormalized node alias, the edge alias
	// and columns that first materialized it, so a later hop through the
	// same alias can link edge-to-edge (f.dest_code = g.origin_code).
	anchors map[string]denormAnchor

	// vlpAliases marks relationship aliases rendered as a
	// variable-length CTE, so path-function rewriting knows whether
	// length(p) is the CTE's depth column or a plan-time constant.
	vlpAliases map[string]bool

	// vlpOuterWhere accumulates, across a single renderVariableLength
	// call, any filter conjunct that could not be pushed into the
	// recursive CTE body (pushableVLPFilter); wrapVLPWithNodeJoins
	// drains and applies it once the real node tables are joined back
	// in.
	vlpOuterWhere ast.Expr

	// graftPred/graftKind carry a suppressed-endpoint link predicate
	// (the hop's join condition against a table scanned by an earlier
	// branch) up to the CartesianProduct that combines the branches, so
	// the condition lands on the combining join's ON clause — on an
	// optional hop it must not demote the LEFT JOIN to an inner one by
	// riding in WHERE.
	graftPred ast.Expr
	graftKind JoinKind
}

// denormAnchor is the edge-table occurrence that owns a denormalized
// node alias's columns.
type denormAnchor struct {
	EdgeAlias string
	Cols      []string
}

// render walks a logical plan.Node bottom-up. The return value is either
// a Plan (a joinable row source, still mid-pipeline) or a *Statement
// (once a Projection/Aggregation/WithClause has capped the pipeline).
func (b *builder) render(n plan.Node) (interface{}, error) {
	switch v := n.(type) {
	case *plan.Empty:
		return &TableSource{TableRef{Table: "system.one", Alias: "_dual"}}, nil

	case *plan.ViewScan:
		return &TableSource{TableRef{Table: v.Table, Alias: v.Label}}, nil

	case *plan.GraphNode:
		ns, ok := b.res.NodeSchemas[v.Alias]
		if !ok {
			// A denormalized node: resolved entirely through its owning
			// GraphRel's edge table, so there's no standalone table to
			// scan here.
			return nil, nil
		}
		if b.rendered[v.Alias] {
			// Second occurrence of a shared alias; the caller links to
			// the already-scanned table by ID equality instead.
			return nil, nil
		}
		b.rendered[v.Alias] = true
		return &TableSource{TableRef{Table: ns.Table, Alias: v.Alias}}, nil

	case *plan.GraphRel:
		return b.renderGraphRel(v)

	case *plan.Filter:
		// Ordinarily unreachable: the analyzer detaches every Filter
		// node. Kept so a plan built outside the full
		// pipeline still renders.
		input, err := b.render(v.Input)
		if err != nil {
			return nil, err
		}
		if stmt, ok := input.(*Statement); ok {
			stmt.Where = andExpr(stmt.Where, v.Predicate)
			return stmt, nil
		}
		p, ok := input.(Plan)
		if !ok {
			return nil, &cyphererr.InternalError{Detail: "Filter input did not render to a row source"}
		}
		return &FilteredPlan{Plan: p, Where: v.Predicate}, nil

	case *plan.CartesianProduct:
		left, err := b.render(v.Left)
		if err != nil {
			return nil, err
		}
		right, err := b.render(v.Right)
		if err != nil {
			return nil, err
		}
		lp, lok := left.(Plan)
		rp, rok := right.(Plan)
		// The link predicate and join kind a suppressed shared-alias
		// endpoint deferred while the right branch rendered; consumed
		// here so the condition becomes the combining join's ON clause.
		graftPred, graftKind := b.graftPred, b.graftKind
		b.graftPred, b.graftKind = nil, JoinInner
		// A branch can render to nothing when every alias in it was
		// already scanned by the other branch (a repeated `MATCH (u)`);
		// the surviving branch is the whole row source then.
		if !lok || lp == nil {
			if !rok || rp == nil {
				return nil, &cyphererr.InternalError{Detail: "CartesianProduct with no renderable branch"}
			}
			return attachPredicate(rp, graftPred), nil
		}
		if !rok || rp == nil {
			return attachPredicate(lp, graftPred), nil
		}
		combined := graftLeft(lp, rp, graftKind, graftPred)
		if v.On != nil {
			if j, ok := combined.(*Join); ok {
				j.ExtraPredicate = andExpr(j.ExtraPredicate, v.On)
			} else {
				combined = &FilteredPlan{Plan: combined, Where: v.On}
			}
		}
		return combined, nil

	case *plan.Projection:
		return b.renderProjection(v, false)
	case *plan.Aggregation:
		return b.renderAggregation(v)
	case *plan.WithClause:
		return b.renderWith(v)
	case *plan.OrderBy:
		inner, err := b.render(v.Input)
		if err != nil {
			return nil, err
		}
		stmt, err := b.asStatement(inner)
		if err != nil {
			return nil, err
		}
		items := make([]plan.OrderItem, len(v.Items))
		for i, it := range v.Items {
			expr, err := b.rewriteExpr(it.Expr)
			if err != nil {
				return nil, err
			}
			items[i] = plan.OrderItem{Expr: expr, Descending: it.Descending}
		}
		stmt.OrderBy = items
		return stmt, nil
	case *plan.Limit:
		inner, err := b.render(v.Input)
		if err != nil {
			return nil, err
		}
		stmt, err := b.asStatement(inner)
		if err != nil {
			return nil, err
		}
		stmt.Limit = v.Count
		return stmt, nil
	case *plan.Skip:
		inner, err := b.render(v.Input)
		if err != nil {
			return nil, err
		}
		stmt, err := b.asStatement(inner)
		if err != nil {
			return nil, err
		}
		stmt.Skip = v.Count
		return stmt, nil
	case *plan.Unwind:
		// ARRAY JOIN is ClickHouse's row-expanding operator; sqlgen
		// recognizes an UnwindPlan and emits it accordingly.
		input, err := b.render(v.Input)
		if err != nil {
			return nil, err
		}
		p, ok := input.(Plan)
		if !ok {
			return nil, &cyphererr.InternalError{Detail: "Unwind input did not render to a row source"}
		}
		return &UnwindPlan{Plan: p, List: v.List, Variable: v.Variable}, nil
	case *plan.CallProcedure:
		// A procedure reference is opaque to this core: it lowers to a
		// passthrough SQL function call, the same escape hatch the ch./
		// chagg. prefixes expose.
		input, err := b.render(v.Input)
		if err != nil {
			return nil, err
		}
		stmt, err := b.asStatement(input)
		if err != nil {
			return nil, err
		}
		if len(stmt.Columns) == 0 {
			stmt.Columns = []ColumnExpr{{
				Expr:   &ast.FuncCall{Name: "ch." + v.Procedure, Args: v.Args},
				Output: v.Procedure,
			}}
		}
		return stmt, nil
	default:
		return nil, &cyphererr.InternalError{Detail: fmt.Sprintf("render: unhandled plan node %T", n)}
	}
}

// FilteredPlan carries a not-yet-joined WHERE predicate up to the
// nearest Statement, since Plan (the pre-projection row-source tree)
// has no WHERE slot of its own.
type FilteredPlan struct {
	Plan
	Where ast.Expr
}

func (*FilteredPlan) planRenderNode() {}

// UnwindPlan marks a row source that must be array-joined on a
// list-valued expression before anything downstream can read Variable;
// sqlgen emits it as a ClickHouse ARRAY JOIN.
type UnwindPlan struct {
	Plan
	List     ast.Expr
	Variable string
}

func (*UnwindPlan) planRenderNode() {}

// graftLeft combines two independently-built row-source trees into one
// left-deep join chain: lp is joined beneath the leftmost leaf of rp, so
// the emitted FROM clause stays a linear JOIN chain with each ON next to
// its pair — nested parenthesized join expressions are not portable
// ClickHouse syntax. kind and pred shape the newly-created combining
// join: the deferred link condition of a shared-alias endpoint becomes
// its ON predicate (a plain cross join when pred is nil).
func graftLeft(lp, rp Plan, kind JoinKind, pred ast.Expr) Plan {
	switch v := rp.(type) {
	case *Join:
		if _, ok := v.Left.(*Join); ok {
			v.Left = graftLeft(lp, v.Left, kind, pred)
			return v
		}
		v.Left = &Join{Kind: kind, Left: lp, Right: v.Left, ExtraPredicate: pred}
		return v
	case *FilteredPlan:
		v.Plan = graftLeft(lp, v.Plan, kind, pred)
		return v
	case *UnwindPlan:
		v.Plan = graftLeft(lp, v.Plan, kind, pred)
		return v
	default:
		return &Join{Kind: kind, Left: lp, Right: rp, ExtraPredicate: pred}
	}
}

func (b *builder) asStatement(v interface{}) (*Statement, error) {
	if stmt, ok := v.(*Statement); ok {
		return stmt, nil
	}
	p, ok := v.(Plan)
	if !ok {
		return nil, &cyphererr.InternalError{Detail: "expected a row source or statement"}
	}
	return &Statement{From: p}, nil
}

func (b *builder) renderProjection(v *plan.Projection, isAgg bool) (interface{}, error) {
	input, err := b.render(v.Input)
	if err != nil {
		return nil, err
	}
	cols, err := b.projectionColumns(v.Items)
	if err != nil {
		return nil, err
	}
	stmt, where := b.unwrapFiltered(input)
	if stmt == nil {
		return nil, &cyphererr.InternalError{Detail: "Projection input did not render to a row source"}
	}
	stmt.Columns = cols
	stmt.Distinct = v.Distinct
	stmt.Where = andExpr(stmt.Where, where)
	return stmt, nil
}

func (b *builder) renderAggregation(v *plan.Aggregation) (interface{}, error) {
	input, err := b.render(v.Input)
	if err != nil {
		return nil, err
	}
	cols, err := b.projectionColumns(v.Items)
	if err != nil {
		return nil, err
	}
	stmt, where := b.unwrapFiltered(input)
	if stmt == nil {
		return nil, &cyphererr.InternalError{Detail: "Aggregation input did not render to a row source"}
	}
	stmt.Columns = cols
	groupBy := make([]ast.Expr, len(v.GroupBy))
	for i, ge := range v.GroupBy {
		rg, err := b.rewriteExpr(ge)
		if err != nil {
			return nil, err
		}
		groupBy[i] = rg
	}
	stmt.GroupBy = groupBy
	stmt.Distinct = v.Distinct
	stmt.Where = andExpr(stmt.Where, where)
	return stmt, nil
}

// renderWith materializes a WITH clause as a named CTE: it builds the
// sub-statement for everything before the WITH, registers it under a
// fresh CTE name, and returns a CTESource so whatever comes after reads
// from it by name instead of re-embedding the subquery inline.
func (b *builder) renderWith(v *plan.WithClause) (interface{}, error) {
	input, err := b.render(v.Input)
	if err != nil {
		return nil, err
	}
	cols, nodeLikeOutputs, err := b.projectionColumnsForCTE(v.Items)
	if err != nil {
		return nil, err
	}
	stmt, where := b.unwrapFiltered(input)
	if stmt == nil {
		return nil, &cyphererr.InternalError{Detail: "WithClause input did not render to a row source"}
	}
	stmt.Columns = cols
	stmt.Distinct = v.Distinct
	stmt.Where = andExpr(stmt.Where, where)

	b.addCTE(CTE{Name: v.CTEName, Columns: cols, From: stmt.From, Where: stmt.Where})

	// A WITH that renames a single bound node/relationship variable
	// (`WITH u AS person`) aliases the CTE source under that new name, so
	// a later `person.name` qualifies against the same table alias the
	// FROM clause actually uses. Anything else reads through the
	// CTE's own generated name — fine, since every other downstream
	// reference to it is a bare, unqualified column.
	alias := v.CTEName
	if len(nodeLikeOutputs) == 1 {
		alias = nodeLikeOutputs[0]
	}
	return &CTESource{Name: v.CTEName, Alias: alias}, nil
}

// projectionColumnsForCTE builds a WITH clause's exported column list.
// Unlike projectionColumns (used for a terminal RETURN, where a bare
// node/relationship variable bundles into one JSON-shaped value),
// a WITH export flattens such a variable into one physical column per
// property, named `{output}_{property}` CTE-export-mapping
// convention, and records the Cypher-property → CTE-column resolution
// for every property of that variable so a later `output.property`
// reference (already given a pass-through "Column: property" guess by
// the analyzer's CTE-source skip rule) resolves to the real
// flattened column instead. It also reports which output names received
// this flattening, so renderWith can alias the CTE source accordingly.
func (b *builder) projectionColumnsForCTE(items []plan.ProjectionItem) ([]ColumnExpr, []string, error) {
	cols := make([]ColumnExpr, 0, len(items))
	var nodeLikeOutputs []string
	for _, it := range items {
		if vr, ok := it.Expr.(*ast.VarRef); ok {
			info := b.ctx.Lookup(vr.Name)
			if info != nil && info.CTESource == "" && (info.Kind == plan.VarNode || info.Kind == plan.VarRelationship) {
				flat, err := b.flattenForCTE(vr.Name, it.Output, info.Kind)
				if err != nil {
					return nil, nil, err
				}
				cols = append(cols, flat...)
				nodeLikeOutputs = append(nodeLikeOutputs, it.Output)
				continue
			}
		}
		expr, err := b.rewriteExpr(it.Expr)
		if err != nil {
			return nil, nil, err
		}
		cols = append(cols, ColumnExpr{Expr: expr, Output: it.Output})
	}
	return cols, nodeLikeOutputs, nil
}

// flattenForCTE expands a bare node or relationship variable into one
// ColumnExpr per schema-mapped property, named `{output}_{property}`,
// and overwrites res.Properties so every `output.property` access the
// analyzer already (provisionally) resolved points at the real flattened
// column instead of the bare property name.
func (b *builder) flattenForCTE(alias, output string, kind plan.VariableKind) ([]ColumnExpr, error) {
	var props map[string]schema.PropertyValue
	qualAlias := ""
	switch kind {
	case plan.VarNode:
		if ns, ok := b.res.NodeSchemas[alias]; ok {
			props = ns.PropertyMappings
		} else {
			for _, rb := range b.ctx.RoleBindings {
				if rb.NodeAlias != alias {
					continue
				}
				relSchema, ok := b.res.RelSchemas[rb.RelAlias]
				if !ok {
					continue
				}
				p := relSchema.ToNodeProperties
				prefix := "to_"
				if rb.FromSide {
					p = relSchema.FromNodeProperties
					prefix = "from_"
				}
				props = prefixProperties(p, prefix)
				qualAlias = rb.RelAlias
				break
			}
		}
	case plan.VarRelationship:
		if rs, ok := b.res.RelSchemas[alias]; ok {
			props = rs.RelPropertyMappings
		}
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cols := make([]ColumnExpr, 0, len(keys))
	for _, key := range keys {
		pv := props[key]
		outCol := output + "_" + key
		srcKey := alias + "." + key
		if pv.IsExpression() {
			node, err := exprparse.Parse(pv.Expression)
			if err != nil {
				return nil, &cyphererr.InternalError{Detail: "invalid property expression: " + err.Error()}
			}
			b.res.Properties[srcKey] = analyzer.ResolvedProperty{Expression: node, Alias: qualAlias}
		} else {
			b.res.Properties[srcKey] = analyzer.ResolvedProperty{Column: pv.Column, Alias: qualAlias}
		}
		b.res.Properties[output+"."+key] = analyzer.ResolvedProperty{Column: outCol}
		cols = append(cols, ColumnExpr{Expr: &ast.PropertyAccess{Variable: alias, Property: key}, Output: outCol})
	}
	return cols, nil
}

// projectionColumns builds the rendered column list for a Projection or
// Aggregation item set (WITH uses projectionColumnsForCTE), expanding any bare whole-node/
// whole-relationship RETURN item into a RowBundle and lowering
// graph-specific functions (length/nodes/relationships over a path
// variable, type, id) to their physical form along the way.
func (b *builder) projectionColumns(items []plan.ProjectionItem) ([]ColumnExpr, error) {
	cols := make([]ColumnExpr, len(items))
	for i, it := range items {
		expr, err := b.rewriteExpr(it.Expr)
		if err != nil {
			return nil, err
		}
		if vr, ok := expr.(*ast.VarRef); ok {
			bundle, err := b.bundleFor(vr.Name)
			if err != nil {
				return nil, err
			}
			if bundle != nil {
				expr = bundle
			}
		}
		cols[i] = ColumnExpr{Expr: expr, Output: it.Output}
	}
	return cols, nil
}

// rewriteExpr lowers graph-specific expressions that only the render
// stage can resolve, because they depend on how the pattern was
// physically rendered (a recursive CTE or a fixed-length join chain):
//
//   - length(p)        → the VLP CTE's depth column, or a plan-time
//     constant for a fixed-length path
//   - nodes(p)         → the CTE's path_nodes array
//   - relationships(p) → the CTE's path_relationships array
//   - type(r)          → the discriminator column (polymorphic) or the
//     type name as a literal
//   - id(n)            → the node's identifier column(s)
//   - count(n)/count(r) over a whole variable → count() (the bare table
//     alias is not a ClickHouse expression)
func (b *builder) rewriteExpr(e ast.Expr) (ast.Expr, error) {
	switch n := e.(type) {
	case nil:
		return nil, nil

	case *ast.VarRef:
		// A bare path variable projected directly (`RETURN p`) surfaces
		// as the traversal's node-ID array when the path came from a
		// recursive CTE; a fixed-length path has no array to project.
		if aliases, ok := b.ctx.PathVariables[n.Name]; ok && len(aliases) == 1 && b.vlpAliases[aliases[0]] {
			return &ast.PropertyAccess{Variable: aliases[0], Property: "path_nodes"}, nil
		}
		return e, nil

	case *ast.FuncCall:
		if rewritten, handled, err := b.rewriteGraphFunc(n); handled || err != nil {
			return rewritten, err
		}
		args := make([]ast.Expr, len(n.Args))
		for i, a := range n.Args {
			ra, err := b.rewriteExpr(a)
			if err != nil {
				return nil, err
			}
			args[i] = ra
		}
		return &ast.FuncCall{Name: n.Name, Args: args, Distinct: n.Distinct}, nil

	case *ast.BinaryOp:
		l, err := b.rewriteExpr(n.Left)
		if err != nil {
			return nil, err
		}
		r, err := b.rewriteExpr(n.Right)
		if err != nil {
			return nil, err
		}
		return &ast.BinaryOp{Op: n.Op, Left: l, Right: r}, nil

	case *ast.UnaryOp:
		operand, err := b.rewriteExpr(n.Operand)
		if err != nil {
			return nil, err
		}
		return &ast.UnaryOp{Op: n.Op, Operand: operand}, nil

	case *ast.Indexing:
		list, err := b.rewriteExpr(n.List)
		if err != nil {
			return nil, err
		}
		idx, err := b.rewriteExpr(n.Index)
		if err != nil {
			return nil, err
		}
		return &ast.Indexing{List: list, Index: idx}, nil

	case *ast.ListLiteral:
		items := make([]ast.Expr, len(n.Items))
		for i, it := range n.Items {
			ri, err := b.rewriteExpr(it)
			if err != nil {
				return nil, err
			}
			items[i] = ri
		}
		return &ast.ListLiteral{Items: items}, nil

	case *ast.CaseExpr:
		operand, err := b.rewriteExpr(n.Operand)
		if err != nil {
			return nil, err
		}
		whens := make([]ast.WhenClause, len(n.Whens))
		for i, w := range n.Whens {
			cond, err := b.rewriteExpr(w.Condition)
			if err != nil {
				return nil, err
			}
			res, err := b.rewriteExpr(w.Result)
			if err != nil {
				return nil, err
			}
			whens[i] = ast.WhenClause{Condition: cond, Result: res}
		}
		elseExpr, err := b.rewriteExpr(n.Else)
		if err != nil {
			return nil, err
		}
		return &ast.CaseExpr{Operand: operand, Whens: whens, Else: elseExpr}, nil

	default:
		return e, nil
	}
}

// rewriteGraphFunc handles the graph-specific function forms; handled
// is false when call is an ordinary function to be translated through
// the registry unchanged.
func (b *builder) rewriteGraphFunc(call *ast.FuncCall) (ast.Expr, bool, error) {
	name := strings.ToLower(call.Name)
	argVar := ""
	if len(call.Args) == 1 {
		switch a := call.Args[0].(type) {
		case *ast.VarRef:
			argVar = a.Name
		case *ast.PathVarRef:
			argVar = a.Name
		}
	}

	switch name {
	case "length", "nodes", "relationships":
		relAliases, isPath := b.ctx.PathVariables[argVar]
		if !isPath || len(relAliases) == 0 {
			return nil, false, nil
		}
		single := len(relAliases) == 1 && b.vlpAliases[relAliases[0]]
		switch name {
		case "length":
			if single {
				return &ast.PropertyAccess{Variable: relAliases[0], Property: "depth"}, true, nil
			}
			return &ast.Literal{Value: int64(len(relAliases))}, true, nil
		case "nodes":
			if single {
				return &ast.PropertyAccess{Variable: relAliases[0], Property: "path_nodes"}, true, nil
			}
			return nil, true, &cyphererr.UnsupportedFeature{Detail: "nodes() over a fixed-length path"}
		default:
			if single {
				return &ast.PropertyAccess{Variable: relAliases[0], Property: "path_relationships"}, true, nil
			}
			return nil, true, &cyphererr.UnsupportedFeature{Detail: "relationships() over a fixed-length path"}
		}

	case "type":
		if argVar == "" {
			return nil, false, nil
		}
		rs, ok := b.res.RelSchemas[argVar]
		if !ok {
			return nil, true, &cyphererr.UnsupportedFeature{Detail: "type() over a non-relationship variable"}
		}
		if rs.IsPolymorphic() {
			return &ast.PropertyAccess{Variable: argVar, Property: rs.TypeColumn}, true, nil
		}
		return &ast.Literal{Value: rs.Type}, true, nil

	case "id":
		if argVar == "" {
			return nil, false, nil
		}
		if ns, ok := b.res.NodeSchemas[argVar]; ok && len(ns.NodeID) > 0 {
			return colsExpr(argVar, ns.NodeID), true, nil
		}
		if rs, ok := b.res.RelSchemas[argVar]; ok && len(rs.EdgeID) > 0 {
			return colsExpr(argVar, rs.EdgeID), true, nil
		}
		return nil, true, &cyphererr.UnsupportedFeature{Detail: "id() over a variable with no schema identifier"}

	case "count":
		if argVar == "" {
			return nil, false, nil
		}
		info := b.ctx.Lookup(argVar)
		if info == nil || (info.Kind != plan.VarNode && info.Kind != plan.VarRelationship) || info.CTESource != "" {
			return nil, false, nil
		}
		if call.Distinct {
			if ns, ok := b.res.NodeSchemas[argVar]; ok && len(ns.NodeID) > 0 {
				return &ast.FuncCall{Name: "count", Args: []ast.Expr{colsExpr(argVar, ns.NodeID)}, Distinct: true}, true, nil
			}
		}
		return &ast.FuncCall{Name: "count"}, true, nil
	}
	return nil, false, nil
}

// bundleFor expands a bare node or relationship variable reference into
// a RowBundle enumerating every property its schema mapping defines, so
// a whole-row RETURN emits one JSON-shaped value (via sqlgen's
// toJSONString) instead of a bare, meaningless table-alias reference.
// Returns (nil, nil) for a scalar, path, or CTE-sourced variable — those
// render/emit unchanged, the CTE-sourced case because its properties are
// already flat output columns with no schema mapping to re-bundle.
func (b *builder) bundleFor(alias string) (*ast.RowBundle, error) {
	info := b.ctx.Lookup(alias)
	if info == nil || info.CTESource != "" {
		return nil, nil
	}
	switch info.Kind {
	case plan.VarNode:
		if ns, ok := b.res.NodeSchemas[alias]; ok {
			return b.bundleFromProperties(alias, "", ns.PropertyMappings)
		}
		// A denormalized node has no standalone schema entry; resolve its
		// properties through whichever relationship carried it into
		// scope. When more than one relationship binds the same alias
		// (e.g. a three-node denormalized chain), the first recorded
		// binding is used, the same pick-one-context rule single-property
		// access follows for a role-ambiguous alias.
		for _, rb := range b.ctx.RoleBindings {
			if rb.NodeAlias != alias {
				continue
			}
			relSchema, ok := b.res.RelSchemas[rb.RelAlias]
			if !ok {
				continue
			}
			props := relSchema.ToNodeProperties
			prefix := "to_"
			if rb.FromSide {
				props = relSchema.FromNodeProperties
				prefix = "from_"
			}
			return b.bundleFromProperties(alias, rb.RelAlias, prefixProperties(props, prefix))
		}
		return nil, nil
	case plan.VarRelationship:
		if rs, ok := b.res.RelSchemas[alias]; ok {
			return b.bundleFromProperties(alias, "", rs.RelPropertyMappings)
		}
		return nil, nil
	default:
		return nil, nil
	}
}

// prefixProperties renames every key in props with prefix, so a
// denormalized node's bundled keys are unambiguous about which endpoint
// role (from/to) they came from.
func prefixProperties(props map[string]schema.PropertyValue, prefix string) map[string]schema.PropertyValue {
	out := make(map[string]schema.PropertyValue, len(props))
	for k, v := range props {
		out[prefix+k] = v
	}
	return out
}

// bundleFromProperties builds one RowBundle field per property mapping,
// in deterministic (sorted-key) order, registering each one's physical
// resolution in the analyzer result the same way resolveOne would so
// sqlgen's propertyAccess can find it. qualAlias, when non-empty, is the
// edge-table alias that physically carries a denormalized endpoint's
// columns.
func (b *builder) bundleFromProperties(alias, qualAlias string, props map[string]schema.PropertyValue) (*ast.RowBundle, error) {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]ast.BundleField, 0, len(keys))
	for _, key := range keys {
		pv := props[key]
		resKey := alias + "." + key
		if _, ok := b.res.Properties[resKey]; !ok {
			if pv.IsExpression() {
				node, err := exprparse.Parse(pv.Expression)
				if err != nil {
					return nil, &cyphererr.InternalError{Detail: "invalid property expression: " + err.Error()}
				}
				b.res.Properties[resKey] = analyzer.ResolvedProperty{Expression: node, Alias: qualAlias}
			} else {
				b.res.Properties[resKey] = analyzer.ResolvedProperty{Column: pv.Column, Alias: qualAlias}
			}
		}
		fields = append(fields, ast.BundleField{Key: key, Expr: &ast.PropertyAccess{Variable: alias, Property: key}})
	}
	return &ast.RowBundle{Variable: alias, Fields: fields}, nil
}

func (b *builder) unwrapFiltered(v interface{}) (*Statement, ast.Expr) {
	if stmt, ok := v.(*Statement); ok {
		// An already-capped pipeline (a WithClause whose input is its
		// own Projection, or a CALL): reuse the statement; the caller
		// overwrites its column list.
		return stmt, nil
	}
	if fp, ok := v.(*FilteredPlan); ok {
		return &Statement{From: fp.Plan}, fp.Where
	}
	if p, ok := v.(Plan); ok {
		return &Statement{From: p}, nil
	}
	return nil, nil
}

func (b *builder) addCTE(c CTE) {
	if b.cteSeen == nil {
		b.cteSeen = make(map[string]bool)
	}
	if b.cteSeen[c.Name] {
		return
	}
	b.cteSeen[c.Name] = true
	b.ctes = append(b.ctes, c)
}

// renderGraphRel renders a single-hop relationship as a Join of its two
// endpoint scans over the edge table (standard encoding), a self-join on
// the node table (FK-edge), an already-denormalized pass-through
// (denormalized), or a discriminator-filtered scan (polymorphic) — and a
// variable-length relationship as a reference to a recursive CTE, or an
// enumerated UNION ALL CTE for multi-type patterns spanning distinct
// edge tables.
//
// An endpoint whose alias was already scanned earlier in the same
// statement (a shared node across comma patterns, or the middle node of
// a chain) renders to no new table; the hop links back to the existing
// alias with an ID-equality predicate instead.
func (b *builder) renderGraphRel(gr *plan.GraphRel) (interface{}, error) {
	relSchema := b.res.RelSchemas[gr.Alias]
	if relSchema == nil {
		return nil, &cyphererr.InternalError{Detail: "GraphRel " + gr.Alias + " has no resolved schema"}
	}

	if gr.VariableLength != nil {
		if b.needsTypeEnumeration(gr, relSchema) {
			return b.renderMultiTypeVLP(gr)
		}
		cteSrc, err := b.renderVariableLength(gr, relSchema)
		if err != nil {
			return nil, err
		}
		return b.wrapVLPWithNodeJoins(gr, cteSrc.(*CTESource))
	}

	leftSrc, err := b.render(gr.Left)
	if err != nil {
		return nil, err
	}
	rightSrc, err := b.render(gr.Right)
	if err != nil {
		return nil, err
	}
	leftPlan := asPlan(leftSrc)
	rightPlan := asPlan(rightSrc)

	kind := JoinInner
	if gr.Optional {
		kind = JoinLeft
	}

	switch {
	case relSchema.IsFKEdge():
		// FK-edge: no separate edge table, just a self-join of the node
		// table on the foreign-key column. Both endpoints render to the
		// node's own table under the node's own alias.
		var result Plan
		var extra ast.Expr
		switch {
		case leftPlan != nil && rightPlan != nil:
			result = &Join{Kind: kind, Left: leftPlan, Right: rightPlan,
				OnLeftCols: relSchema.FromID, OnRightCols: relSchema.ToID,
				OnLeftAlias: gr.Left.Alias, OnRightAlias: gr.Right.Alias}
		case leftPlan != nil:
			result = leftPlan
			extra = eqCols(gr.Left.Alias, relSchema.FromID, gr.Right.Alias, relSchema.ToID)
		case rightPlan != nil:
			result = rightPlan
			extra = eqCols(gr.Left.Alias, relSchema.FromID, gr.Right.Alias, relSchema.ToID)
		default:
			return nil, &cyphererr.InternalError{Detail: "FK-edge GraphRel with neither endpoint renderable"}
		}
		return attachPredicate(result, andExpr(extra, gr.WherePredicate)), nil

	case relSchema.Table != "" && (len(relSchema.FromNodeProperties) > 0 || len(relSchema.ToNodeProperties) > 0):
		// Denormalized: the edge table itself carries one or both
		// endpoints' properties, so a denormalized endpoint needs no
		// node join at all — but a later hop through the same
		// denormalized alias must link edge-to-edge through the anchor
		// that first materialized it.
		edgeSrc := &TableSource{TableRef{Table: relSchema.Table, Alias: gr.Alias}}
		var result Plan = edgeSrc
		var extra ast.Expr
		if relSchema.IsPolymorphic() {
			extra = andExpr(extra, typeDiscriminator(relSchema, gr.Alias))
		}

		result, extra = b.attachEndpoint(result, extra, kind, gr.Left.Alias, leftPlan, gr.Alias, relSchema.FromID, true)
		result, extra = b.attachEndpoint(result, extra, kind, gr.Right.Alias, rightPlan, gr.Alias, relSchema.ToID, false)
		return attachPredicate(result, andExpr(extra, gr.WherePredicate)), nil

	default:
		// Standard or polymorphic: node - edge - node, three-way join
		// collapsed into two binary joins (left-node/edge, then
		// result/right-node).
		edgeSrc := &TableSource{TableRef{Table: relSchema.Table, Alias: gr.Alias}}
		var result Plan = edgeSrc
		var extra ast.Expr
		if relSchema.IsPolymorphic() {
			extra = andExpr(extra, typeDiscriminator(relSchema, gr.Alias))
		}

		result, extra = b.attachEndpoint(result, extra, kind, gr.Left.Alias, leftPlan, gr.Alias, relSchema.FromID, true)
		result, extra = b.attachEndpoint(result, extra, kind, gr.Right.Alias, rightPlan, gr.Alias, relSchema.ToID, false)
		return attachPredicate(result, andExpr(extra, gr.WherePredicate)), nil
	}
}

// attachEndpoint joins one endpoint of a relationship hop onto the row
// source built so far. A freshly-scanned endpoint joins its node table
// on edge-key = node-ID equality; an endpoint whose alias is already in
// scope (shared node) or has no table at all (denormalized) contributes
// an equality predicate — against the earlier table alias, or against
// the anchoring edge occurrence — instead of a join.
func (b *builder) attachEndpoint(cur Plan, extra ast.Expr, kind JoinKind, nodeAlias string, nodePlan Plan, edgeAlias string, edgeCols []string, fromSide bool) (Plan, ast.Expr) {
	ns, hasTable := b.res.NodeSchemas[nodeAlias]
	switch {
	case nodePlan != nil:
		nodeID := edgeCols
		if hasTable && len(ns.NodeID) > 0 {
			nodeID = ns.NodeID
		}
		if fromSide {
			return &Join{Kind: kind, Left: nodePlan, Right: cur,
				OnLeftCols: nodeID, OnRightCols: edgeCols,
				OnLeftAlias: nodeAlias, OnRightAlias: edgeAlias}, extra
		}
		return &Join{Kind: kind, Left: cur, Right: nodePlan,
			OnLeftCols: edgeCols, OnRightCols: nodeID,
			OnLeftAlias: edgeAlias, OnRightAlias: nodeAlias}, extra

	case hasTable:
		// Already scanned earlier under its own alias: the link rides up
		// to the CartesianProduct's combining join, where it becomes the
		// ON condition instead of a WHERE conjunct.
		nodeID := ns.NodeID
		if len(nodeID) == 0 {
			nodeID = edgeCols
		}
		b.deferGraft(kind, eqCols(nodeAlias, nodeID, edgeAlias, edgeCols))
		return cur, extra

	default:
		// Denormalized endpoint: its values are columns of this edge
		// table. The first hop through the alias anchors it; any later
		// hop links edge-to-edge on the shared node's ID columns.
		if anchor, ok := b.anchors[nodeAlias]; ok && anchor.EdgeAlias != edgeAlias {
			b.deferGraft(kind, eqCols(anchor.EdgeAlias, anchor.Cols, edgeAlias, edgeCols))
			return cur, extra
		}
		b.anchors[nodeAlias] = denormAnchor{EdgeAlias: edgeAlias, Cols: edgeCols}
		return cur, extra
	}
}

// deferGraft records a cross-branch link condition for the next
// CartesianProduct to consume. A LEFT hop anywhere in the pending set
// makes the combining join a LEFT JOIN.
func (b *builder) deferGraft(kind JoinKind, pred ast.Expr) {
	b.graftPred = andExpr(b.graftPred, pred)
	if kind == JoinLeft {
		b.graftKind = JoinLeft
	}
}

// attachPredicate folds pred into the nearest join, or wraps a bare
// source so the predicate surfaces in the statement WHERE.
func attachPredicate(p Plan, pred ast.Expr) Plan {
	if pred == nil {
		return p
	}
	if j, ok := p.(*Join); ok {
		j.ExtraPredicate = andExpr(j.ExtraPredicate, pred)
		return j
	}
	return &FilteredPlan{Plan: p, Where: pred}
}

// eqCols builds an AND-chain of column-equality predicates between two
// aliased column lists, pairing columns positionally.
func eqCols(aAlias string, aCols []string, bAlias string, bCols []string) ast.Expr {
	n := len(aCols)
	if len(bCols) < n {
		n = len(bCols)
	}
	var pred ast.Expr
	for i := 0; i < n; i++ {
		eq := &ast.BinaryOp{
			Op:    "=",
			Left:  &ast.PropertyAccess{Variable: aAlias, Property: aCols[i]},
			Right: &ast.PropertyAccess{Variable: bAlias, Property: bCols[i]},
		}
		pred = andExpr(pred, eq)
	}
	return pred
}

func asPlan(v interface{}) Plan {
	if p, ok := v.(Plan); ok && p != nil {
		return p
	}
	return nil
}

func typeDiscriminator(rs *schema.RelationshipSchema, edgeAlias string) ast.Expr {
	return &ast.BinaryOp{
		Op:    "=",
		Left:  &ast.PropertyAccess{Variable: edgeAlias, Property: rs.TypeColumn},
		Right: &ast.Literal{Value: rs.Type},
	}
}

// renderVariableLength builds (or reuses) a RecursiveCTE for a
// variable-length or shortest-path GraphRel and returns a CTESource
// reading from it.
func (b *builder) renderVariableLength(gr *plan.GraphRel, rs *schema.RelationshipSchema) (interface{}, error) {
	min := gr.VariableLength.Min
	max := gr.VariableLength.Max
	if max < 0 || max > b.ctx.MaxHops {
		max = b.ctx.MaxHops
	}

	edgeCols := rs.EdgeID
	if len(edgeCols) == 0 {
		edgeCols = append(append([]string{}, rs.FromID...), rs.ToID...)
	}

	baseTable := rs.Table
	if rs.IsFKEdge() {
		// No separate edge table: recurse directly over the node table
		// that carries the self-referencing foreign key.
		if ns, ok := b.res.NodeSchemas[gr.Left.Alias]; ok {
			baseTable = ns.Table
		}
	}

	b.vlpSeq++
	name := fmt.Sprintf("vlp_%s_%d", gr.Alias, b.vlpSeq)

	rc := &RecursiveCTE{
		Name:      name,
		BaseTable: TableRef{Table: baseTable, Alias: gr.Alias},
		FromCols:  rs.FromID,
		ToCols:    rs.ToID,
		EdgeCols:  edgeCols,
		Min:       min,
		Max:       max,
		Shortest:  gr.ShortestMode != plan.ShortestNone,
	}
	if rs.IsPolymorphic() {
		rc.TypeColumn = rs.TypeColumn
		rc.TypeValues = gr.Types
	}

	// Split the predicate the optimizer attached to this GraphRel
	// (FilterIntoGraphRel) by which endpoint/edge alias each
	// top-level AND-conjunct references, then place each piece per the
	// VLP filter-placement contract. Only conjuncts that
	// resolve to the endpoint's node-ID column can be pushed into the
	// CTE itself (the CTE only carries from_id/to_id, not full node
	// rows); anything else is left for the outer join's WHERE, which
	// wrapVLPWithNodeJoins attaches once it has joined the real node
	// tables back in — correct either way, just not pushed down for
	// that narrower class of predicate (documented in DESIGN.md).
	startW, endW, edgeW, _ := splitVLPPredicate(gr.WherePredicate, gr.Left.Alias, gr.Right.Alias, gr.Alias)

	pushStart, outerStart := b.pushableVLPFilter(startW, gr.Left.Alias, "from_id")
	pushEnd, outerEnd := b.pushableVLPFilter(endW, gr.Right.Alias, "to_id")

	rc.StartWhere = pushStart
	rc.EdgeWhere = edgeW
	if rc.Shortest {
		rc.OuterEndWhere = andExpr(outerEnd, pushEnd)
	} else {
		rc.EndWhere = pushEnd
	}

	b.addCTE(CTE{Name: name, Recursive: rc})
	b.vlpAliases[gr.Alias] = true

	src := &CTESource{Name: name, Alias: gr.Alias}
	if rc.Shortest {
		src.ShortestWrap = true
		src.OuterEndWhere = rc.OuterEndWhere
	}
	b.vlpOuterWhere = andExpr(b.vlpOuterWhere, outerStart)
	if !rc.Shortest {
		b.vlpOuterWhere = andExpr(b.vlpOuterWhere, outerEnd)
	}
	// Rows below the requested minimum depth are filtered in the outer
	// SELECT, never inside the recursive body.
	minDepth := min
	if minDepth < 1 {
		minDepth = 1
	}
	b.vlpOuterWhere = andExpr(b.vlpOuterWhere, &ast.BinaryOp{
		Op:    ">=",
		Left:  &ast.PropertyAccess{Variable: gr.Alias, Property: "depth"},
		Right: &ast.Literal{Value: int64(minDepth)},
	})
	return src, nil
}

// needsTypeEnumeration reports whether a multi-type variable-length
// pattern spans more than one physical edge table. Types that all live
// on one polymorphic table recurse over that table with an IN filter;
// anything else cannot be expressed as a single recursive scan and is
// enumerated as a UNION ALL of explicit joins instead.
func (b *builder) needsTypeEnumeration(gr *plan.GraphRel, matched *schema.RelationshipSchema) bool {
	if len(gr.Types) <= 1 {
		return false
	}
	if !matched.IsPolymorphic() {
		return true
	}
	for _, t := range gr.Types {
		found := false
		for _, v := range matched.TypeValues {
			if v == t {
				found = true
				break
			}
		}
		if !found {
			return true
		}
	}
	return false
}

// renderMultiTypeVLP lowers a multi-type variable-length pattern over
// heterogeneous edge tables into a non-recursive CTE: one UNION ALL
// branch per valid hop-count × type-combination, each branch an explicit
// N-way join chained on endpoint-label compatibility. The fan-out is
// hard-capped at 3 hops; beyond that the pattern is rejected.
func (b *builder) renderMultiTypeVLP(gr *plan.GraphRel) (interface{}, error) {
	vl := gr.VariableLength
	maxH := vl.Max
	if maxH < 0 || maxH > 3 {
		return nil, &cyphererr.UnsupportedFeature{Detail: "multi-type variable-length pattern beyond 3 hops"}
	}
	minH := vl.Min
	if minH < 1 {
		minH = 1
	}

	var pool []*schema.RelationshipSchema
	for _, t := range gr.Types {
		variants := b.sch.RelationshipsByType(t)
		if len(variants) == 0 {
			return nil, &cyphererr.SchemaError{Kind: cyphererr.UnknownRelationshipType, Detail: t}
		}
		for _, v := range variants {
			if v.IsFKEdge() {
				continue
			}
			pool = append(pool, v)
		}
	}
	if len(pool) == 0 {
		return nil, &cyphererr.UnsupportedFeature{Detail: "multi-type variable-length pattern with no joinable edge tables"}
	}

	var branches []*Statement
	for h := minH; h <= maxH; h++ {
		for _, combo := range enumerateTypeCombos(pool, h, gr.Left.Labels, gr.Right.Labels) {
			branches = append(branches, buildComboBranch(gr.Alias, combo))
		}
	}
	if len(branches) == 0 {
		return nil, &cyphererr.UnsupportedFeature{Detail: "multi-type variable-length pattern with no label-compatible type combination"}
	}

	b.vlpSeq++
	name := fmt.Sprintf("vlp_%s_%d", gr.Alias, b.vlpSeq)
	b.addCTE(CTE{Name: name, Union: branches})
	b.vlpAliases[gr.Alias] = true

	return b.wrapVLPWithNodeJoins(gr, &CTESource{Name: name, Alias: gr.Alias})
}

// enumerateTypeCombos returns every sequence of hops relationship
// variants whose labels chain (each hop's TO label is the next hop's
// FROM label) and whose outer endpoints match the pattern's declared
// labels, when any were declared.
func enumerateTypeCombos(pool []*schema.RelationshipSchema, hops int, startLabels, endLabels []string) [][]*schema.RelationshipSchema {
	var out [][]*schema.RelationshipSchema
	var walk func(prefix []*schema.RelationshipSchema)
	walk = func(prefix []*schema.RelationshipSchema) {
		if len(prefix) == hops {
			last := prefix[len(prefix)-1]
			if len(endLabels) > 0 && !containsLabel(endLabels, last.ToLabel) {
				return
			}
			out = append(out, append([]*schema.RelationshipSchema(nil), prefix...))
			return
		}
		for _, v := range pool {
			if len(prefix) == 0 {
				if len(startLabels) > 0 && !containsLabel(startLabels, v.FromLabel) {
					continue
				}
			} else if prefix[len(prefix)-1].ToLabel != v.FromLabel {
				continue
			}
			walk(append(prefix, v))
		}
	}
	walk(nil)
	return out
}

func containsLabel(labels []string, l string) bool {
	for _, v := range labels {
		if v == l {
			return true
		}
	}
	return false
}

// buildComboBranch builds one UNION ALL branch: the hop tables joined
// left-deep on to-ID = from-ID, projecting the CTE's fixed column shape
// (from_id, to_id, depth, path_relationships) so every branch's SELECT
// list aligns regardless of hop count.
func buildComboBranch(relAlias string, combo []*schema.RelationshipSchema) *Statement {
	aliases := make([]string, len(combo))
	for i := range combo {
		aliases[i] = fmt.Sprintf("%s_h%d", relAlias, i+1)
	}

	var from Plan = &TableSource{TableRef{Table: combo[0].Table, Alias: aliases[0]}}
	var where ast.Expr
	if combo[0].IsPolymorphic() {
		where = andExpr(where, typeDiscriminator(combo[0], aliases[0]))
	}
	for i := 1; i < len(combo); i++ {
		from = &Join{Kind: JoinInner, Left: from,
			Right:       &TableSource{TableRef{Table: combo[i].Table, Alias: aliases[i]}},
			OnLeftCols:  combo[i-1].ToID,
			OnRightCols: combo[i].FromID,
			OnLeftAlias: aliases[i-1], OnRightAlias: aliases[i]}
		if combo[i].IsPolymorphic() {
			where = andExpr(where, typeDiscriminator(combo[i], aliases[i]))
		}
	}

	types := make([]ast.Expr, len(combo))
	for i, v := range combo {
		types[i] = &ast.Literal{Value: v.Type}
	}

	return &Statement{
		From:  from,
		Where: where,
		Columns: []ColumnExpr{
			{Expr: colsExpr(aliases[0], combo[0].FromID), Output: "from_id"},
			{Expr: colsExpr(aliases[len(combo)-1], combo[len(combo)-1].ToID), Output: "to_id"},
			{Expr: &ast.Literal{Value: int64(len(combo))}, Output: "depth"},
			{Expr: &ast.ListLiteral{Items: types}, Output: "path_relationships"},
		},
	}
}

// colsExpr addresses one or more columns of an aliased table as a
// single expression: a plain property access, or a tuple for a
// composite identifier.
func colsExpr(alias string, cols []string) ast.Expr {
	if len(cols) == 1 {
		return &ast.PropertyAccess{Variable: alias, Property: cols[0]}
	}
	args := make([]ast.Expr, len(cols))
	for i, c := range cols {
		args[i] = &ast.PropertyAccess{Variable: alias, Property: c}
	}
	return &ast.FuncCall{Name: "ch.tuple", Args: args}
}

// pushableVLPFilter checks whether every conjunct of pred is a bare
// `alias.<node-ID column>` comparison, in which case it can be rewritten
// to reference the CTE's own id column (idCol, one of "from_id"/"to_id")
// and pushed into the recursive body. A predicate touching any other
// property is returned unchanged in the "outer" position instead, to be
// applied once wrapVLPWithNodeJoins has joined the real node table back
// in under its original alias.
func (b *builder) pushableVLPFilter(pred ast.Expr, alias, idCol string) (pushed, outer ast.Expr) {
	if pred == nil {
		return nil, nil
	}
	ns, ok := b.res.NodeSchemas[alias]
	if !ok || len(ns.NodeID) != 1 {
		return nil, pred
	}
	idColumn := ns.NodeID[0]
	for _, conj := range splitConjuncts(pred) {
		if rewritten, ok := rewriteIDReference(conj, alias, idColumn, idCol); ok {
			pushed = andExpr(pushed, rewritten)
		} else {
			outer = andExpr(outer, conj)
		}
	}
	return pushed, outer
}

// rewriteIDReference substitutes every `alias.idColumn` PropertyAccess in
// e with a bare VarRef to newName (e.g. "from_id"/"to_id"), succeeding
// only when every variable reference inside e is that exact property —
// any other property access means this conjunct cannot be expressed
// purely in terms of the CTE's id columns.
func rewriteIDReference(e ast.Expr, alias, idColumn, newName string) (ast.Expr, bool) {
	switch n := e.(type) {
	case *ast.PropertyAccess:
		if n.Variable == alias && n.Property == idColumn {
			return &ast.VarRef{Name: newName}, true
		}
		return nil, false
	case *ast.BinaryOp:
		l, ok := rewriteIDReference(n.Left, alias, idColumn, newName)
		if !ok {
			return nil, false
		}
		r, ok := rewriteIDReference(n.Right, alias, idColumn, newName)
		if !ok {
			return nil, false
		}
		return &ast.BinaryOp{Op: n.Op, Left: l, Right: r}, true
	case *ast.UnaryOp:
		operand, ok := rewriteIDReference(n.Operand, alias, idColumn, newName)
		if !ok {
			return nil, false
		}
		return &ast.UnaryOp{Op: n.Op, Operand: operand}, true
	case *ast.Literal, *ast.ParamRef:
		return n, true
	case *ast.ListLiteral:
		items := make([]ast.Expr, len(n.Items))
		for i, it := range n.Items {
			rw, ok := rewriteIDReference(it, alias, idColumn, newName)
			if !ok {
				return nil, false
			}
			items[i] = rw
		}
		return &ast.ListLiteral{Items: items}, true
	default:
		return nil, false
	}
}

// wrapVLPWithNodeJoins joins the variable-length CTE back to the
// endpoints' own node tables under their original pattern aliases, so
// ordinary `alias.property` access (already resolved by the analyzer
// assuming a plain table alias) works the same way after a VLP
// hop as after a single-hop one, and so any non-ID-column filter that
// pushableVLPFilter couldn't push into the recursive body still applies
// correctly here.
func (b *builder) wrapVLPWithNodeJoins(gr *plan.GraphRel, cte *CTESource) (Plan, error) {
	kind := JoinInner
	if gr.Optional {
		kind = JoinLeft
	}

	outerWhere := b.vlpOuterWhere
	b.vlpOuterWhere = nil

	var result Plan = cte
	if ns, ok := b.res.NodeSchemas[gr.Left.Alias]; ok {
		if b.rendered[gr.Left.Alias] {
			outerWhere = andExpr(outerWhere, eqCols(gr.Left.Alias, ns.NodeID, gr.Alias, []string{"from_id"}))
		} else {
			b.rendered[gr.Left.Alias] = true
			leftNode := &TableSource{TableRef{Table: ns.Table, Alias: gr.Left.Alias}}
			result = &Join{Kind: kind, Left: leftNode, Right: result,
				OnLeftCols: ns.NodeID, OnRightCols: []string{"from_id"},
				OnLeftAlias: gr.Left.Alias, OnRightAlias: gr.Alias}
		}
	}
	if ns, ok := b.res.NodeSchemas[gr.Right.Alias]; ok {
		if b.rendered[gr.Right.Alias] {
			outerWhere = andExpr(outerWhere, eqCols(gr.Right.Alias, ns.NodeID, gr.Alias, []string{"to_id"}))
		} else {
			b.rendered[gr.Right.Alias] = true
			result = &Join{Kind: kind, Left: result, Right: &TableSource{TableRef{Table: ns.Table, Alias: gr.Right.Alias}},
				OnLeftCols: []string{"to_id"}, OnRightCols: ns.NodeID,
				OnLeftAlias: gr.Alias, OnRightAlias: gr.Right.Alias}
		}
	}
	if j, ok := result.(*Join); ok {
		j.ExtraPredicate = andExpr(j.ExtraPredicate, outerWhere)
	} else if outerWhere != nil {
		result = &FilteredPlan{Plan: result, Where: outerWhere}
	}
	return result, nil
}

// splitVLPPredicate partitions a WHERE predicate's top-level
// AND-conjuncts by which single alias each one references: the
// pattern's start node, its end node, the relationship itself, or (when
// a conjunct spans more than one of these, which FilterIntoGraphRel
// should not produce for a VLP GraphRel but which is handled
// conservatively here) left attached to the edge bucket so it is not
// silently dropped.
func splitVLPPredicate(pred ast.Expr, startAlias, endAlias, edgeAlias string) (start, end, edge ast.Expr, other ast.Expr) {
	for _, conj := range splitConjuncts(pred) {
		aliases := referencedAliases(conj)
		switch {
		case len(aliases) == 0:
			edge = andExpr(edge, conj)
		case onlyAlias(aliases, startAlias):
			start = andExpr(start, conj)
		case onlyAlias(aliases, endAlias):
			end = andExpr(end, conj)
		case onlyAlias(aliases, edgeAlias):
			edge = andExpr(edge, conj)
		default:
			edge = andExpr(edge, conj)
		}
	}
	return start, end, edge, other
}

func onlyAlias(aliases map[string]bool, alias string) bool {
	return len(aliases) == 1 && aliases[alias]
}

// splitConjuncts flattens a tree of AND nodes (of any shape) into its
// individual conjuncts; a nil predicate yields no conjuncts.
func splitConjuncts(e ast.Expr) []ast.Expr {
	if e == nil {
		return nil
	}
	if b, ok := e.(*ast.BinaryOp); ok && strings.EqualFold(b.Op, "AND") {
		return append(splitConjuncts(b.Left), splitConjuncts(b.Right)...)
	}
	return []ast.Expr{e}
}

// referencedAliases collects every variable name a predicate touches,
// via bare VarRef or PropertyAccess nodes.
func referencedAliases(e ast.Expr) map[string]bool {
	out := map[string]bool{}
	var walk func(ast.Expr)
	walk = func(e ast.Expr) {
		switch n := e.(type) {
		case nil:
		case *ast.VarRef:
			out[n.Name] = true
		case *ast.PropertyAccess:
			out[n.Variable] = true
		case *ast.BinaryOp:
			walk(n.Left)
			walk(n.Right)
		case *ast.UnaryOp:
			walk(n.Operand)
		case *ast.FuncCall:
			for _, a := range n.Args {
				walk(a)
			}
		case *ast.ListLiteral:
			for _, it := range n.Items {
				walk(it)
			}
		}
	}
	walk(e)
	return out
}

func andExpr(existing, add ast.Expr) ast.Expr {
	if add == nil {
		return existing
	}
	if existing == nil {
		return add
	}
	return &ast.BinaryOp{Op: "AND", Left: existing, Right: add}
}

// topoSortCTEs orders CTEs so each is defined after every CTE it
// references (ClickHouse, like standard SQL, requires WITH entries in
// dependency order). A reference is a CTESource found in a CTE's From
// tree; a recursive CTE's base table and a union CTE's branches are not
// searched. When the references form a cycle, the input order is
// returned unchanged and no error is reported.
func topoSortCTEs(ctes []CTE) []CTE {
	index := make(map[string]int, len(ctes))
	for i, c := range ctes {
		index[c.Name] = i
	}
	visited := make([]int, len(ctes)) // 0 unvisited, 1 in-progress, 2 done
	var order []CTE

	var visit func(i int) error
	visit = func(i int) error {
		if visited[i] == 2 {
			return nil
		}
		if visited[i] == 1 {
			return &cyphererr.InternalError{Detail: "cyclic CTE dependency: " + ctes[i].Name}
		}
		visited[i] = 1
		for _, dep := range cteDeps(ctes[i]) {
			if j, ok := index[dep]; ok {
				if err := visit(j); err != nil {
					return err
				}
			}
		}
		visited[i] = 2
		order = append(order, ctes[i])
		return nil
	}

	// Visit in original declaration order so independent CTEs keep a
	// stable, deterministic final order.
	for i := range ctes {
		if visited[i] == 0 {
			if err := visit(i); err != nil {
				// Surfacing a cycle here would require topoSortCTEs to
				// return an error; in practice this path is unreachable
				// because render never builds a CTE referencing a later
				// one, so we fall back to original order rather than
				// changing this function's signature for a case that
				// cannot occur through the public Build entry point.
				return ctes
			}
		}
	}
	return order
}

func cteDeps(c CTE) []string {
	var deps []string
	var walk func(p Plan)
	walk = func(p Plan) {
		switch v := p.(type) {
		case *CTESource:
			deps = append(deps, v.Name)
		case *Join:
			walk(v.Left)
			walk(v.Right)
		case *FilteredPlan:
			walk(v.Plan)
		case *UnwindPlan:
			walk(v.Plan)
		}
	}
	if c.From != nil {
		walk(c.From)
	}
	return deps
}
