package render

import (
	"testing"

	"github.com/orneryd/cyphersql/pkg/analyzer"
	"github.com/orneryd/cyphersql/pkg/parser"
	"github.com/orneryd/cyphersql/pkg/planner"
	"github.com/orneryd/cyphersql/pkg/schema"
)

const renderFixtureYAML = `
nodes:
  - label: Person
    table: people
    node_id: [person_id]
    property_mappings:
      name:
        column: full_name
      age:
        column: age
  - label: Company
    table: companies
    node_id: [company_id]
    property_mappings:
      name:
        column: company_name

relationships:
  - type: WORKS_AT
    from_label: Person
    to_label: Company
    table: employment
    from_id: [person_id]
    to_id: [company_id]
  - type: KNOWS
    from_label: Person
    to_label: Person
    from_id: [person_id]
    to_id: [knows_person_id]
`

func buildStatement(t *testing.T, src string, maxHops int) *Statement {
	t.Helper()
	q, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	root, ctx, err := planner.Build(q, maxHops)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	gs, err := schema.Parse([]byte(renderFixtureYAML))
	if err != nil {
		t.Fatalf("schema.Parse: %v", err)
	}
	res, err := analyzer.Analyze(root, ctx, gs, map[string]interface{}{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	stmt, err := Build(res, ctx, gs)
	if err != nil {
		t.Fatalf("render.Build: %v", err)
	}
	return stmt
}

func TestRenderStandardEncodingJoin(t *testing.T) {
	stmt := buildStatement(t, "MATCH (a:Person)-[r:WORKS_AT]->(c:Company) RETURN a.name, c.name", 15)

	j, ok := stmt.From.(*Join)
	if !ok {
		t.Fatalf("expected the statement's From to be a *Join, got %T", stmt.From)
	}
	inner, ok := j.Left.(*Join)
	if !ok {
		t.Fatalf("expected a two-level join (node-edge, then result-node), got left=%T", j.Left)
	}
	edge, ok := inner.Right.(*TableSource)
	if !ok || edge.Table != "employment" {
		t.Fatalf("expected the inner join's right side to be the employment edge table, got %+v", inner.Right)
	}
}

func TestRenderFKEdgeSelfJoin(t *testing.T) {
	stmt := buildStatement(t, "MATCH (a:Person)-[r:KNOWS]->(b:Person) RETURN a.name, b.name", 15)

	j, ok := stmt.From.(*Join)
	if !ok {
		t.Fatalf("expected *Join, got %T", stmt.From)
	}
	left, lok := j.Left.(*TableSource)
	right, rok := j.Right.(*TableSource)
	if !lok || !rok {
		t.Fatalf("expected both FK-edge join sides to be plain node table sources, got left=%T right=%T", j.Left, j.Right)
	}
	if left.Table != "people" || right.Table != "people" {
		t.Errorf("expected both sides to read the people table, got %q / %q", left.Table, right.Table)
	}
	if len(j.OnLeftCols) == 0 || j.OnLeftCols[0] != "person_id" {
		t.Errorf("OnLeftCols = %v, want [person_id]", j.OnLeftCols)
	}
}

func TestRenderVariableLengthProducesRecursiveCTE(t *testing.T) {
	stmt := buildStatement(t, "MATCH (a:Person)-[:KNOWS*1..3]->(b:Person) RETURN a.name", 15)

	if len(stmt.CTEs) != 1 {
		t.Fatalf("expected exactly one CTE, got %d", len(stmt.CTEs))
	}
	rc := stmt.CTEs[0].Recursive
	if rc == nil {
		t.Fatal("expected a recursive CTE")
	}
	if rc.BaseTable.Table != "people" {
		t.Errorf("BaseTable = %q, want people (FK-edge base is the node table)", rc.BaseTable.Table)
	}
	if rc.Min != 1 || rc.Max != 3 {
		t.Errorf("Min/Max = %d/%d, want 1/3", rc.Min, rc.Max)
	}

	// The recursive CTE only carries id/path-tracking columns, so the
	// render stage joins the real node tables for "a" and "b" back in
	// under their pattern aliases, the same way a single-hop GraphRel
	// does, so that `a.name`/`b.name` resolve normally downstream.
	outer, ok := stmt.From.(*Join)
	if !ok {
		t.Fatalf("expected the statement to join the node tables back onto the VLP CTE, got %T", stmt.From)
	}
	inner, ok := outer.Left.(*Join)
	if !ok {
		t.Fatalf("expected a two-level join (a-node, then CTE-b-node), got left=%T", outer.Left)
	}
	if _, ok := inner.Right.(*CTESource); !ok {
		t.Fatalf("expected the inner join's right side to be the VLP CTE, got %T", inner.Right)
	}
	if right, ok := outer.Right.(*TableSource); !ok || right.Table != "people" {
		t.Fatalf("expected the outer join's right side to be the people table, got %+v", outer.Right)
	}
}

func TestRenderUnboundedVariableLengthCappedByMaxHops(t *testing.T) {
	stmt := buildStatement(t, "MATCH (a:Person)-[:KNOWS*]->(b:Person) RETURN a.name", 7)
	rc := stmt.CTEs[0].Recursive
	if rc.Max != 7 {
		t.Errorf("Max = %d, want the configured MaxHops of 7", rc.Max)
	}
}

func TestRenderWithClauseProducesCTE(t *testing.T) {
	stmt := buildStatement(t, "MATCH (n:Person) WITH n.name AS name RETURN name", 15)

	if len(stmt.CTEs) != 1 {
		t.Fatalf("expected one CTE from the WITH clause, got %d", len(stmt.CTEs))
	}
	if stmt.CTEs[0].Name != "cte_1" {
		t.Errorf("CTE name = %q, want the deterministic cte_1", stmt.CTEs[0].Name)
	}
	if stmt.CTEs[0].Recursive != nil {
		t.Error("expected a plain (non-recursive) CTE for a WITH export")
	}
	src, ok := stmt.From.(*CTESource)
	if !ok || src.Name != stmt.CTEs[0].Name {
		t.Fatalf("expected the final statement to read from the WITH CTE, got %+v", stmt.From)
	}
}

func TestRenderOrderByLimitSkipPropagate(t *testing.T) {
	stmt := buildStatement(t, "MATCH (n:Person) RETURN n.name ORDER BY n.age DESC SKIP 2 LIMIT 5", 15)
	if stmt.Limit == nil {
		t.Error("expected Limit to be set on the statement")
	}
	if stmt.Skip == nil {
		t.Error("expected Skip to be set on the statement")
	}
	if len(stmt.OrderBy) != 1 || !stmt.OrderBy[0].Descending {
		t.Errorf("expected one descending OrderBy item, got %+v", stmt.OrderBy)
	}
}

func TestTopoSortCTEsOrdersDependencies(t *testing.T) {
	ctes := []CTE{
		{Name: "b", From: &CTESource{Name: "a"}},
		{Name: "a", From: &TableSource{TableRef{Table: "people", Alias: "p"}}},
	}
	sorted := topoSortCTEs(ctes)
	if len(sorted) != 2 || sorted[0].Name != "a" || sorted[1].Name != "b" {
		t.Fatalf("expected [a, b] order, got %+v", sorted)
	}
}

func TestRenderMultiHopChainKeepsEveryHop(t *testing.T) {
	stmt := buildStatement(t, "MATCH (a:Person)-[r:WORKS_AT]->(c:Company)<-[s:WORKS_AT]-(b:Person) RETURN a.name, b.name", 15)

	tables := map[string]int{}
	var walk func(p Plan)
	walk = func(p Plan) {
		switch v := p.(type) {
		case *TableSource:
			tables[v.Table]++
		case *Join:
			walk(v.Left)
			walk(v.Right)
		case *FilteredPlan:
			walk(v.Plan)
		}
	}
	walk(stmt.From)

	if tables["employment"] != 2 {
		t.Errorf("expected the employment edge table twice (one per hop), got %d", tables["employment"])
	}
	if tables["people"] != 2 {
		t.Errorf("expected the people table twice (a and b), got %d", tables["people"])
	}
	if tables["companies"] != 1 {
		t.Errorf("expected the shared companies node exactly once, got %d", tables["companies"])
	}
}

func TestRenderMultiTypeVLPEnumeratesUnionBranches(t *testing.T) {
	const multiYAML = `
nodes:
  - label: Person
    table: people
    node_id: [person_id]
    property_mappings:
      name:
        column: full_name
  - label: Post
    table: posts
    node_id: [post_id]
    property_mappings:
      title:
        column: title

relationships:
  - type: FOLLOWS
    from_label: Person
    to_label: Person
    table: follows
    from_id: [follower_id]
    to_id: [followed_id]
  - type: AUTHORED
    from_label: Person
    to_label: Post
    table: authored
    from_id: [author_id]
    to_id: [post_id]
`
	q, err := parser.Parse("MATCH (a:Person)-[:FOLLOWS|AUTHORED*1..2]->(b) RETURN a.name")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	root, ctx, err := planner.Build(q, 15)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	gs, err := schema.Parse([]byte(multiYAML))
	if err != nil {
		t.Fatalf("schema.Parse: %v", err)
	}
	res, err := analyzer.Analyze(root, ctx, gs, map[string]interface{}{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	stmt, err := Build(res, ctx, gs)
	if err != nil {
		t.Fatalf("render.Build: %v", err)
	}

	if len(stmt.CTEs) != 1 {
		t.Fatalf("expected one enumeration CTE, got %d", len(stmt.CTEs))
	}
	cte := stmt.CTEs[0]
	if cte.Recursive != nil {
		t.Fatal("a multi-type VLP over distinct tables must not produce a recursive CTE")
	}
	// Depth 1: FOLLOWS, AUTHORED. Depth 2: FOLLOWS-FOLLOWS,
	// FOLLOWS-AUTHORED (AUTHORED ends at Post, which has no outgoing
	// edges, so no combination starts there).
	if len(cte.Union) != 4 {
		t.Fatalf("expected 4 type-combination branches, got %d", len(cte.Union))
	}
}

func TestRenderMultiTypeVLPBeyondCapRejected(t *testing.T) {
	q, err := parser.Parse("MATCH (a:Person)-[:WORKS_AT|KNOWS*1..4]->(b) RETURN a.name")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	root, ctx, err := planner.Build(q, 15)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	gs, err := schema.Parse([]byte(renderFixtureYAML))
	if err != nil {
		t.Fatalf("schema.Parse: %v", err)
	}
	res, err := analyzer.Analyze(root, ctx, gs, map[string]interface{}{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, err := Build(res, ctx, gs); err == nil {
		t.Fatal("expected a multi-type variable-length pattern beyond 3 hops to be rejected")
	}
}
