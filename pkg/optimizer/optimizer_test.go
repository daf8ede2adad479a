package optimizer

import (
	"testing"

	"github.com/orneryd/cyphersql/pkg/analyzer"
	"github.com/orneryd/cyphersql/pkg/ast"
	"github.com/orneryd/cyphersql/pkg/parser"
	"github.com/orneryd/cyphersql/pkg/plan"
	"github.com/orneryd/cyphersql/pkg/planner"
	"github.com/orneryd/cyphersql/pkg/schema"
)

const optFixtureYAML = `
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
`

func mustAnalyze(t *testing.T, src string) (*analyzer.Result, *plan.Context) {
	t.Helper()
	q, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	root, ctx, err := planner.Build(q, 15)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	gs, err := schema.Parse([]byte(optFixtureYAML))
	if err != nil {
		t.Fatalf("schema.Parse: %v", err)
	}
	res, err := analyzer.Analyze(root, ctx, gs, map[string]interface{}{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	return res, ctx
}

func TestFilterIntoGraphRelFoldsCoveredPredicate(t *testing.T) {
	res, ctx := mustAnalyze(t, "MATCH (a:Person)-[r:WORKS_AT]->(c:Company) WHERE a.age > 5 RETURN a")
	if len(ctx.FilterPredicates) != 1 {
		t.Fatalf("expected the filter to be detached before optimization, got %d", len(ctx.FilterPredicates))
	}

	root := Optimize(res, ctx)

	var gr *plan.GraphRel
	var find func(n plan.Node)
	find = func(n plan.Node) {
		if g, ok := n.(*plan.GraphRel); ok {
			gr = g
		}
		for _, c := range n.Inputs() {
			if c != nil {
				find(c)
			}
		}
	}
	find(root)
	if gr == nil {
		t.Fatal("expected a GraphRel in the optimized plan")
	}
	if gr.WherePredicate == nil {
		t.Error("expected the predicate to be folded into the covering GraphRel")
	}
	if len(ctx.FilterPredicates) != 0 {
		t.Errorf("expected no remaining filter predicates, got %d", len(ctx.FilterPredicates))
	}
}

func TestAnnotateShortestPathFillsDefaultRange(t *testing.T) {
	res, ctx := mustAnalyze(t, "MATCH p = shortestPath((a:Person)-[:WORKS_AT*]->(c:Company)) RETURN p")
	root := Optimize(res, ctx)

	var gr *plan.GraphRel
	var find func(n plan.Node)
	find = func(n plan.Node) {
		if g, ok := n.(*plan.GraphRel); ok {
			gr = g
		}
		for _, c := range n.Inputs() {
			if c != nil {
				find(c)
			}
		}
	}
	find(root)
	if gr == nil {
		t.Fatal("expected a GraphRel in the optimized plan")
	}
	if gr.VariableLength == nil {
		t.Fatal("expected shortestPath to carry a VariableLength range")
	}
}

func TestAndExprChains(t *testing.T) {
	a := &ast.Literal{Value: true}
	b := &ast.Literal{Value: false}
	if got := andExpr(nil, a); got != a {
		t.Errorf("andExpr(nil, a) = %v, want a unchanged", got)
	}
	got := andExpr(a, b)
	bop, ok := got.(*ast.BinaryOp)
	if !ok || bop.Op != "AND" || bop.Left != a || bop.Right != b {
		t.Errorf("andExpr(a, b) = %+v, want AND(a, b)", got)
	}
}
