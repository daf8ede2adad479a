// Package optimizer applies a small set of idempotent rewrite rules to
// an already-analyzed plan. There is no cost-based search: every rule
// here is a structural simplification with an obviously-correct
// precondition, not a heuristic.
package optimizer

import (
	"github.com/orneryd/cyphersql/pkg/analyzer"
	"github.com/orneryd/cyphersql/pkg/ast"
	"github.com/orneryd/cyphersql/pkg/plan"
)

// Optimize runs every rule to a fixed point (in practice one pass each,
// since no rule here can re-enable another) and returns the rewritten
// plan.
func Optimize(res *analyzer.Result, ctx *plan.Context) plan.Node {
	root := res.Plan
	root = filterIntoGraphRel(root, ctx)
	root = annotateShortestPath(root)
	return root
}

// filterIntoGraphRel pushes each detached filter predicate (ctx.FilterPredicates,
// populated by the analyzer's filter-detaching pass) onto the GraphRel
// whose endpoints cover every alias the predicate mentions, so the
// render stage can fold it into that hop's join condition instead of a
// separate WHERE clause applied after every join in the query has run.
// A predicate mentioning aliases spread across more than one GraphRel is
// left in ctx.FilterPredicates for the render stage to apply as a final
// WHERE.
func filterIntoGraphRel(root plan.Node, ctx *plan.Context) plan.Node {
	rels := collectGraphRels(root)
	remaining := ctx.FilterPredicates[:0:0]

	for _, fp := range ctx.FilterPredicates {
		target := findCoveringRel(rels, fp.Aliases)
		if target == nil {
			remaining = append(remaining, fp)
			continue
		}
		target.WherePredicate = andExpr(target.WherePredicate, fp.Expr)
	}
	ctx.FilterPredicates = remaining
	return root
}

func collectGraphRels(n plan.Node) []*plan.GraphRel {
	var out []*plan.GraphRel
	var walk func(n plan.Node)
	walk = func(n plan.Node) {
		if gr, ok := n.(*plan.GraphRel); ok {
			out = append(out, gr)
		}
		for _, c := range n.Inputs() {
			if c != nil {
				walk(c)
			}
		}
	}
	walk(n)
	return out
}

// findCoveringRel returns the GraphRel whose alias set (its own alias
// plus both endpoint aliases) is a superset of aliases, or nil if no
// single GraphRel covers them all. A predicate with no identified
// aliases (e.g. an EXISTS/size((pattern)) predicate, whose aliases live
// inside an inline sub-pattern aliasesIn doesn't walk into) never
// vacuously matches the first GraphRel — it stays detached and is
// applied as a top-level WHERE by the render stage instead.
func findCoveringRel(rels []*plan.GraphRel, aliases []string) *plan.GraphRel {
	if len(aliases) == 0 {
		return nil
	}
	for _, r := range rels {
		covers := map[string]bool{r.Alias: true}
		if r.Left != nil {
			covers[r.Left.Alias] = true
		}
		if r.Right != nil {
			covers[r.Right.Alias] = true
		}
		all := true
		for _, a := range aliases {
			if !covers[a] {
				all = false
				break
			}
		}
		if all {
			return r
		}
	}
	return nil
}

func andExpr(existing, add ast.Expr) ast.Expr {
	if existing == nil {
		return add
	}
	return &ast.BinaryOp{Op: "AND", Left: existing, Right: add}
}

// annotateShortestPath ensures every GraphRel produced from a
// shortestPath()/allShortestPaths() wrapper carries a VariableLength
// range even when the pattern text gave none (shortestPath((a)-[:R*]->(b))
// implicitly bounds the search the same way an explicit `*1..15` would,
// render applies the configured max-hops ceiling either way).
func annotateShortestPath(root plan.Node) plan.Node {
	var walk func(n plan.Node)
	walk = func(n plan.Node) {
		if gr, ok := n.(*plan.GraphRel); ok && gr.ShortestMode != plan.ShortestNone && gr.VariableLength == nil {
			gr.VariableLength = &plan.VariableLength{Min: 1, Max: -1}
		}
		for _, c := range n.Inputs() {
			if c != nil {
				walk(c)
			}
		}
	}
	walk(root)
	return root
}
