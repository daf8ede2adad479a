// Package schema describes how abstract graph concepts — labeled nodes
// and typed relationships — map onto physical tables in the target
// analytical database.
//
// A GraphSchema is produced by an external loader (out of scope for this
// module) from a YAML document and handed to the
// translation pipeline as an immutable, read-only value. This package
// only defines the shape of that value and the yaml tags it loads with;
// Load/Parse exist for the CLI and test fixtures, not as the canonical
// loader.
package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ColumnRef identifies a single physical column, or an ordered tuple of
// columns when a node or edge identifier is composite.
//
// A composite ref is rendered as a SQL tuple `(a.c1, a.c2)`, never as an
// AND-chain of equalities — the generator standardizes on tuple equality
// composite node IDs and composite edge IDs compare the
// same way.
type ColumnRef []string

// IsComposite reports whether this identifier spans more than one
// column.
func (c ColumnRef) IsComposite() bool { return len(c) > 1 }

// PropertyValue is how a Cypher property name maps onto physical
// storage: either a bare column reference, or a parsed scalar expression
// over columns of the same row (e.g. `full_name` might be
// `first_name || ' ' || last_name`, expressed once in YAML and reused by
// every query that asks for `.name`).
type PropertyValue struct {
	// Column is set when the property is a bare column reference.
	Column string `yaml:"column,omitempty"`

	// Expression is set when the property is a parsed scalar expression;
	// mutually exclusive with Column. Stored as source text; pkg/exprparse
	// parses it when the analyzer and render stages resolve the property,
	// so substitution works over the expression tree instead of string
	// surgery.
	Expression string `yaml:"expression,omitempty"`
}

// IsExpression reports whether this property resolves through a parsed
// expression rather than a single column.
func (p PropertyValue) IsExpression() bool { return p.Expression != "" }

// NodeSchema describes the physical realization of one node label.
type NodeSchema struct {
	Label string `yaml:"label"`

	// Table is the physical table name. Empty when IsDenormalized is
	// true — a denormalized label has no standalone table.
	Table string `yaml:"table,omitempty"`

	// NodeID is the node identifier: a single column, or an ordered
	// tuple for composite keys.
	NodeID ColumnRef `yaml:"node_id,omitempty"`

	// PropertyMappings maps a Cypher property name to its physical
	// realization.
	PropertyMappings map[string]PropertyValue `yaml:"property_mappings"`

	// IsDenormalized marks a label with no standalone table: its
	// properties live entirely on an edge table it participates in. A
	// denormalized node can only be matched within a relationship
	// pattern, never standalone.
	IsDenormalized bool `yaml:"is_denormalized,omitempty"`
}

// RelationshipSchema describes the physical realization of one
// relationship type, scoped by the (FromLabel, ToLabel) pair it
// connects — the same type name can have a different physical shape for
// a different endpoint-label pair.
type RelationshipSchema struct {
	Type      string `yaml:"type"`
	FromLabel string `yaml:"from_label"`
	ToLabel   string `yaml:"to_label"`

	// Table is the physical edge table. Empty for an FK-edge encoding:
	// there is no separate edge table at all, just a foreign-key column
	// living directly on the (necessarily FromLabel == ToLabel) node
	// table, which FromID/ToID then name alongside that table's primary
	// key.
	Table string `yaml:"table,omitempty"`

	FromID ColumnRef `yaml:"from_id"`
	ToID   ColumnRef `yaml:"to_id"`

	// EdgeID optionally identifies the edge instance; used by
	// variable-length path generation for edge-uniqueness. When absent,
	// the generator synthesizes (from_id, to_id) as the edge identity.
	EdgeID ColumnRef `yaml:"edge_id,omitempty"`

	// TypeColumn + TypeValues mark a polymorphic edge table: one
	// physical table hosting multiple logical relationship types,
	// discriminated by TypeColumn taking one of TypeValues.
	TypeColumn string   `yaml:"type_column,omitempty"`
	TypeValues []string `yaml:"type_values,omitempty"`

	// FromNodeProperties/ToNodeProperties give the columns on this edge
	// table that carry the FROM/TO endpoint's properties, when that
	// endpoint's label is denormalized.
	FromNodeProperties map[string]PropertyValue `yaml:"from_node_properties,omitempty"`
	ToNodeProperties   map[string]PropertyValue `yaml:"to_node_properties,omitempty"`

	// RelPropertyMappings maps the relationship's own properties (not
	// its endpoints') to physical columns.
	RelPropertyMappings map[string]PropertyValue `yaml:"rel_property_mappings,omitempty"`
}

// IsPolymorphic reports whether multiple logical relationship types
// share this physical table.
func (r *RelationshipSchema) IsPolymorphic() bool { return r.TypeColumn != "" }

// IsFKEdge reports the FK-edge encoding: the relationship has no
// standalone edge table, just a foreign-key column on the node table.
func (r *RelationshipSchema) IsFKEdge() bool { return r.Table == "" }

// GraphSchema is the full, immutable mapping from graph concepts to
// physical tables. It is safe for concurrent read access by multiple
// translations; nothing here mutates after indexing.
type GraphSchema struct {
	Nodes         []NodeSchema          `yaml:"nodes"`
	Relationships []RelationshipSchema  `yaml:"relationships"`

	nodesByLabel map[string]*NodeSchema
	// relsByKey indexes by "Type|FromLabel|ToLabel" for an exact match,
	// and a secondary index by Type alone handles anonymous-node
	// inference where only the type is known up front.
	relsByKey  map[string]*RelationshipSchema
	relsByType map[string][]*RelationshipSchema
}

// Load reads a GraphSchema from a YAML file at path and builds its
// lookup indexes.
func Load(path string) (*GraphSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return Parse(data)
}

// Parse builds a GraphSchema from YAML bytes already in memory —
// the path test fixtures use to avoid touching the filesystem.
func Parse(data []byte) (*GraphSchema, error) {
	var gs GraphSchema
	if err := yaml.Unmarshal(data, &gs); err != nil {
		return nil, fmt.Errorf("unmarshal graph schema: %w", err)
	}
	gs.index()
	return &gs, nil
}

func (g *GraphSchema) index() {
	g.nodesByLabel = make(map[string]*NodeSchema, len(g.Nodes))
	for i := range g.Nodes {
		g.nodesByLabel[g.Nodes[i].Label] = &g.Nodes[i]
	}

	g.relsByKey = make(map[string]*RelationshipSchema, len(g.Relationships))
	g.relsByType = make(map[string][]*RelationshipSchema)
	for i := range g.Relationships {
		r := &g.Relationships[i]
		key := r.Type + "|" + r.FromLabel + "|" + r.ToLabel
		g.relsByKey[key] = r
		g.relsByType[r.Type] = append(g.relsByType[r.Type], r)
	}
}

// NodeByLabel looks up a node schema by label.
func (g *GraphSchema) NodeByLabel(label string) (*NodeSchema, bool) {
	n, ok := g.nodesByLabel[label]
	return n, ok
}

// Relationship looks up the relationship schema for an exact
// (type, fromLabel, toLabel) triple.
func (g *GraphSchema) Relationship(relType, fromLabel, toLabel string) (*RelationshipSchema, bool) {
	r, ok := g.relsByKey[relType+"|"+fromLabel+"|"+toLabel]
	return r, ok
}

// RelationshipsByType returns every physical variant registered for a
// relationship type, regardless of endpoint labels — used to infer
// endpoint labels for anonymous nodes and to decide VLP
// transitivity.
func (g *GraphSchema) RelationshipsByType(relType string) []*RelationshipSchema {
	return g.relsByType[relType]
}

// IsTransitive reports whether relType can be chained: whether any
// registered TO label for relType can also appear as a FROM label for
// relType. Used by the VLP transitivity check.
func (g *GraphSchema) IsTransitive(relType string) bool {
	variants := g.relsByType[relType]
	fromLabels := make(map[string]bool, len(variants))
	for _, v := range variants {
		fromLabels[v.FromLabel] = true
	}
	for _, v := range variants {
		if fromLabels[v.ToLabel] {
			return true
		}
	}
	return false
}
