// Package plan defines the logical plan: a polymorphic tree of
// graph-relational operators, and PlanContext, the mutable
// companion structure threaded through the planner and analyzer.
//
// Every node type pairs its constructor with a rebuild helper — here
// WithInputs — so a pass that only changes a child pointer is forced to
// copy every other field explicitly, and a new field on any variant
// can't silently fail to propagate through a rewrite.
package plan

import "github.com/orneryd/cyphersql/pkg/ast"

// Node is any logical plan operator.
type Node interface {
	planNode()
	// Inputs returns this node's direct children, in evaluation order.
	Inputs() []Node
	// WithInputs returns a shallow copy of this node with its children
	// replaced, preserving every other field unchanged.
	WithInputs(children []Node) Node
}

// Empty is the unit source — a plan producing exactly one empty row,
// used as the input to clauses with no preceding MATCH (e.g. a bare
// `RETURN 1`).
type Empty struct{}

func (*Empty) planNode()                  {}
func (*Empty) Inputs() []Node             { return nil }
func (e *Empty) WithInputs([]Node) Node   { return e }

// ViewScan is a scan of one physical table. Scans are always leaves.
type ViewScan struct {
	// Label is the schema label this scan realizes (for node scans) or
	// the relationship type (for denormalized relationship scans).
	Label string
	Table string

	// PropertyMappings is the full property_mappings from the schema,
	// carried so downstream property resolution never needs to go back
	// to GraphSchema once the plan is built.
	PropertyMappings map[string]PropertyValueRef

	// NodeID identifies the row; single column or composite tuple.
	NodeID []string

	// Denormalized relationship-scan metadata; nil for a standalone
	// node scan.
	FromNodeProperties map[string]PropertyValueRef
	ToNodeProperties   map[string]PropertyValueRef
	TypeColumn         string
	TypeValue          string

	// Filter is an additional filter expression attached directly to
	// the scan (distinct from Filter-node predicates, which are
	// detached into PlanContext during analysis).
	Filter ast.Expr
}

func (*ViewScan) planNode()        {}
func (*ViewScan) Inputs() []Node   { return nil }
func (v *ViewScan) WithInputs([]Node) Node {
	cp := *v
	return &cp
}

// PropertyValueRef mirrors schema.PropertyValue without importing
// pkg/schema from pkg/plan, keeping the plan package schema-agnostic the
// way the render/analysis stages expect (PlanContext is schema-derived
// but the plan tree itself should be replayable against any schema
// snapshot of the same shape).
type PropertyValueRef struct {
	Column     string
	Expression string
}

// GraphNode binds an alias to a node pattern over a ViewScan.
type GraphNode struct {
	Alias  string
	Labels []string
	Input  *ViewScan
	Filter ast.Expr // inline property-map filter, e.g. (n:Label {x: 1})
}

func (*GraphNode) planNode() {}
func (g *GraphNode) Inputs() []Node {
	if g.Input == nil {
		return nil
	}
	return []Node{g.Input}
}
func (g *GraphNode) WithInputs(children []Node) Node {
	cp := *g
	if len(children) > 0 {
		cp.Input = children[0].(*ViewScan)
	}
	return &cp
}

// VariableLength holds the `*min..max` modifier for a GraphRel; the
// shortest-path mode is kept on the GraphRel itself.
type VariableLength struct {
	Min int
	Max int
}

// ShortestMode mirrors ast.ShortestMode for the plan layer.
type ShortestMode int

const (
	ShortestNone ShortestMode = iota
	ShortestSingle
	ShortestAll
)

// GraphRel is the central pattern operator: it covers single-hop,
// multi-hop, variable-length, and shortest-path relationship patterns
// uniformly.
type GraphRel struct {
	Alias string
	Types []string

	VariableLength *VariableLength
	ShortestMode   ShortestMode
	PathVariable   string

	Left  *GraphNode
	Right *GraphNode

	// WherePredicate is populated by the optimizer's FilterIntoGraphRel
	// rule; nil until then.
	WherePredicate ast.Expr

	Optional bool
}

func (*GraphRel) planNode() {}
func (g *GraphRel) Inputs() []Node {
	return []Node{g.Left, g.Right}
}
func (g *GraphRel) WithInputs(children []Node) Node {
	cp := *g
	if len(children) > 0 {
		cp.Left = children[0].(*GraphNode)
	}
	if len(children) > 1 {
		cp.Right = children[1].(*GraphNode)
	}
	return &cp
}

// Filter applies a predicate to its input. The analyzer detaches every
// Filter node it visits: by the time the optimizer runs,
// the tree has none left, and their predicates live in
// PlanContext.FilterPredicates instead.
type Filter struct {
	Input     Node
	Predicate ast.Expr
}

func (*Filter) planNode()      {}
func (f *Filter) Inputs() []Node { return []Node{f.Input} }
func (f *Filter) WithInputs(children []Node) Node {
	cp := *f
	cp.Input = children[0]
	return &cp
}

// ProjectionItem is one output column of a Projection/WithClause node.
type ProjectionItem struct {
	Expr   ast.Expr
	Output string // output column name (alias or captured original text)
}

// Projection is a non-aggregating RETURN/WITH projection.
type Projection struct {
	Input    Node
	Items    []ProjectionItem
	Distinct bool
}

func (*Projection) planNode()        {}
func (p *Projection) Inputs() []Node { return []Node{p.Input} }
func (p *Projection) WithInputs(children []Node) Node {
	cp := *p
	cp.Input = children[0]
	return &cp
}

// Aggregation is a projection containing at least one aggregate
// function; GroupBy holds the non-aggregate items the render stage must
// repeat in a SQL GROUP BY.
type Aggregation struct {
	Input    Node
	Items    []ProjectionItem
	GroupBy  []ast.Expr
	Distinct bool
}

func (*Aggregation) planNode()        {}
func (a *Aggregation) Inputs() []Node { return []Node{a.Input} }
func (a *Aggregation) WithInputs(children []Node) Node {
	cp := *a
	cp.Input = children[0]
	return &cp
}

// WithClause is a WITH projection: a scope barrier that exports a CTE.
// It is distinguished from Projection so later passes can find scope
// boundaries without re-deriving them from clause order.
type WithClause struct {
	Input    Node
	Items    []ProjectionItem
	Distinct bool
	CTEName  string
}

func (*WithClause) planNode()        {}
func (w *WithClause) Inputs() []Node { return []Node{w.Input} }
func (w *WithClause) WithInputs(children []Node) Node {
	cp := *w
	cp.Input = children[0]
	return &cp
}

// OrderBy sorts its input.
type OrderBy struct {
	Input Node
	Items []OrderItem
}

// OrderItem is one ORDER BY term at the plan layer.
type OrderItem struct {
	Expr       ast.Expr
	Descending bool
}

func (*OrderBy) planNode()        {}
func (o *OrderBy) Inputs() []Node { return []Node{o.Input} }
func (o *OrderBy) WithInputs(children []Node) Node {
	cp := *o
	cp.Input = children[0]
	return &cp
}

// Limit bounds the number of rows returned.
type Limit struct {
	Input Node
	Count ast.Expr
}

func (*Limit) planNode()        {}
func (l *Limit) Inputs() []Node { return []Node{l.Input} }
func (l *Limit) WithInputs(children []Node) Node {
	cp := *l
	cp.Input = children[0]
	return &cp
}

// Skip discards a number of leading rows.
type Skip struct {
	Input Node
	Count ast.Expr
}

func (*Skip) planNode()        {}
func (s *Skip) Inputs() []Node { return []Node{s.Input} }
func (s *Skip) WithInputs(children []Node) Node {
	cp := *s
	cp.Input = children[0]
	return &cp
}

// Unwind expands a list expression into one row per element.
type Unwind struct {
	Input    Node
	List     ast.Expr
	Variable string
}

func (*Unwind) planNode()        {}
func (u *Unwind) Inputs() []Node { return []Node{u.Input} }
func (u *Unwind) WithInputs(children []Node) Node {
	cp := *u
	cp.Input = children[0]
	return &cp
}

// CartesianProduct joins two otherwise-unrelated plan branches, either
// as a true cartesian product or (when the analyzer detects a shared
// node alias across comma-separated patterns) an explicit
// join condition carried in On.
type CartesianProduct struct {
	Left  Node
	Right Node
	On    ast.Expr // nil for a true cartesian product
}

func (*CartesianProduct) planNode()        {}
func (c *CartesianProduct) Inputs() []Node { return []Node{c.Left, c.Right} }
func (c *CartesianProduct) WithInputs(children []Node) Node {
	cp := *c
	cp.Left = children[0]
	cp.Right = children[1]
	return &cp
}

// CallProcedure is an opaque procedure invocation:
// the render stage emits it as a passthrough SQL function call rather
// than interpreting procedure semantics.
type CallProcedure struct {
	Input     Node
	Procedure string
	Args      []ast.Expr
}

func (*CallProcedure) planNode()        {}
func (c *CallProcedure) Inputs() []Node { return []Node{c.Input} }
func (c *CallProcedure) WithInputs(children []Node) Node {
	cp := *c
	cp.Input = children[0]
	return &cp
}
