package plan

import "github.com/orneryd/cyphersql/pkg/ast"

// VariableKind classifies what a bound variable refers to, so later
// passes (property resolution, render) know how to treat a bare VarRef.
type VariableKind int

const (
	VarNode VariableKind = iota
	VarRelationship
	VarPath
	VarScalar // bound by UNWIND, WITH projection of a computed value, etc.
)

// VariableInfo records what the analyzer has learned about one bound
// variable.
type VariableInfo struct {
	Kind VariableKind

	// Labels is the node label set (VarNode) or relationship type set
	// (VarRelationship) known for this variable. May be empty if the
	// label was never stated in the pattern (an anonymous-label node
	// matched only by relationship context).
	Labels []string

	// CTESource is the CTE name this variable was re-bound from across a
	// WITH barrier, or "" if it is still sourced from the live pattern.
	CTESource string
}

// RoleBinding records that, for a given relationship alias's occurrence
// at a given position (from/to), a node alias resolves through a
// specific physical role — the mechanism behind role-aware property
// resolution: the same node alias can be reached through more than one
// relationship and must resolve to a different physical column
// depending on which edge carried it there.
type RoleBinding struct {
	NodeAlias string
	RelAlias  string
	// FromSide is true if NodeAlias is the "from" endpoint of RelAlias,
	// false if it is the "to" endpoint.
	FromSide bool
}

// CTEExport records one WITH clause's export: the CTE it created and
// the projected columns available on it, keyed by output name.
type CTEExport struct {
	Name    string
	Columns []string
}

// Context is PlanContext: the mutable analysis state threaded through
// the planner, analyzer, and optimizer, separate from the plan tree
// itself so that rewriting the tree never has to also rewrite a
// parallel side-table by hand.
type Context struct {
	// Variables maps every bound alias (node, relationship, path,
	// UNWIND-bound scalar) to what's known about it.
	Variables map[string]*VariableInfo

	// FilterPredicates holds predicates detached from Filter plan nodes
	// during analysis, keyed by the set of aliases each
	// predicate mentions so the optimizer's FilterIntoGraphRel rule can
	// find candidates for a given GraphRel without re-walking the
	// expression tree.
	FilterPredicates []FilterPredicate

	// RoleBindings records every node-alias-through-relationship-alias
	// occurrence seen while building the pattern schema context.
	RoleBindings []RoleBinding

	// CTEExports maps each WITH clause's position (by index, in
	// encounter order) to the CTE it exported.
	CTEExports []CTEExport

	// PathVariables maps a path variable name to the GraphRel alias (or
	// aliases, for multi-hop chains) it names.
	PathVariables map[string][]string

	// Parameters is the full set of query parameter names referenced
	// anywhere in the query, for the parameter-validation pass.
	Parameters map[string]struct{}

	// MaxHops is the ceiling applied to unbounded variable-length
	// patterns (`*` or `*min..`), sourced from configuration.
	MaxHops int
}

// FilterPredicate is one predicate detached from the tree, tagged with
// the aliases it references so later passes can decide which GraphRel
// or scan it can be pushed onto.
type FilterPredicate struct {
	Expr    ast.Expr
	Aliases []string
}

// NewContext returns an empty, ready-to-use Context.
func NewContext(maxHops int) *Context {
	return &Context{
		Variables:     make(map[string]*VariableInfo),
		PathVariables: make(map[string][]string),
		Parameters:    make(map[string]struct{}),
		MaxHops:       maxHops,
	}
}

// Bind registers or updates a variable's kind and label set. A second
// Bind of the same alias merges label sets rather than overwriting them,
// since a variable can acquire label information from more than one
// pattern occurrence (e.g. `(n:Person)` then later `(n:Employee)` in a
// comma-separated pattern list refers to the same row).
func (c *Context) Bind(alias string, kind VariableKind, labels []string) {
	info, ok := c.Variables[alias]
	if !ok {
		c.Variables[alias] = &VariableInfo{Kind: kind, Labels: append([]string(nil), labels...)}
		return
	}
	for _, l := range labels {
		if !containsString(info.Labels, l) {
			info.Labels = append(info.Labels, l)
		}
	}
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Lookup returns the VariableInfo for alias, or nil if it was never
// bound.
func (c *Context) Lookup(alias string) *VariableInfo {
	return c.Variables[alias]
}

// AddFilter registers a detached predicate along with the aliases it
// mentions.
func (c *Context) AddFilter(expr ast.Expr, aliases []string) {
	c.FilterPredicates = append(c.FilterPredicates, FilterPredicate{Expr: expr, Aliases: aliases})
}

// AddRoleBinding records one node-through-relationship occurrence.
func (c *Context) AddRoleBinding(nodeAlias, relAlias string, fromSide bool) {
	c.RoleBindings = append(c.RoleBindings, RoleBinding{NodeAlias: nodeAlias, RelAlias: relAlias, FromSide: fromSide})
}

// RoleFor returns the RoleBinding for nodeAlias as reached through
// relAlias, and whether one was recorded.
func (c *Context) RoleFor(nodeAlias, relAlias string) (RoleBinding, bool) {
	for _, rb := range c.RoleBindings {
		if rb.NodeAlias == nodeAlias && rb.RelAlias == relAlias {
			return rb, true
		}
	}
	return RoleBinding{}, false
}

// AddCTEExport records one WITH clause's exported CTE.
func (c *Context) AddCTEExport(name string, columns []string) {
	c.CTEExports = append(c.CTEExports, CTEExport{Name: name, Columns: columns})
}

// MarkCTESource flags alias as now sourced from the named CTE, the
// effect of crossing a WITH scope barrier.
func (c *Context) MarkCTESource(alias, cteName string) {
	if info, ok := c.Variables[alias]; ok {
		info.CTESource = cteName
	}
}

// UseParameter records that name was referenced by `$name` somewhere in
// the query.
func (c *Context) UseParameter(name string) {
	c.Parameters[name] = struct{}{}
}
