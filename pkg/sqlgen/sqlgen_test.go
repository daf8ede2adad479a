// Syntax-level tests: each one hand-builds a render.Statement (bypassing
// pkg/render) and asserts on the emitted string directly.
package sqlgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orneryd/cyphersql/pkg/analyzer"
	"github.com/orneryd/cyphersql/pkg/ast"
	"github.com/orneryd/cyphersql/pkg/render"
	"github.com/orneryd/cyphersql/pkg/schema"
)

func emptyResult() *analyzer.Result {
	return &analyzer.Result{
		RelSchemas:  map[string]*schema.RelationshipSchema{},
		NodeSchemas: map[string]*schema.NodeSchema{},
		Properties:  map[string]analyzer.ResolvedProperty{},
	}
}

func TestGenerateSimpleSelect(t *testing.T) {
	stmt := &render.Statement{
		From: &render.TableSource{TableRef: render.TableRef{Table: "users", Alias: "u"}},
		Columns: []render.ColumnExpr{
			{Expr: &ast.PropertyAccess{Variable: "u", Property: "name"}, Output: "u.name"},
		},
	}
	res := emptyResult()
	res.Properties["u.name"] = analyzer.ResolvedProperty{Column: "full_name"}

	sql, err := Generate(stmt, res, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "SELECT u.full_name AS \"u.name\"\nFROM users AS u", sql)
}

func TestGenerateDistinctAndWhere(t *testing.T) {
	stmt := &render.Statement{
		From:     &render.TableSource{TableRef: render.TableRef{Table: "users", Alias: "u"}},
		Distinct: true,
		Columns: []render.ColumnExpr{
			{Expr: &ast.VarRef{Name: "u"}, Output: "u"},
		},
		Where: &ast.BinaryOp{
			Op:    "=",
			Left:  &ast.PropertyAccess{Variable: "u", Property: "id"},
			Right: &ast.Literal{Value: int64(5)},
		},
	}
	res := emptyResult()
	res.Properties["u.id"] = analyzer.ResolvedProperty{Column: "id"}

	sql, err := Generate(stmt, res, nil, nil)
	require.NoError(t, err)
	require.Contains(t, sql, "SELECT DISTINCT")
	require.Contains(t, sql, "WHERE (u.id = 5)")
}

func TestGenerateJoinOnClause(t *testing.T) {
	stmt := &render.Statement{
		From: &render.Join{
			Kind:         render.JoinInner,
			Left:         &render.TableSource{TableRef: render.TableRef{Table: "users", Alias: "a"}},
			Right:        &render.TableSource{TableRef: render.TableRef{Table: "follows", Alias: "r"}},
			OnLeftCols:   []string{"user_id"},
			OnRightCols:  []string{"follower_id"},
			OnLeftAlias:  "a",
			OnRightAlias: "r",
		},
		Columns: []render.ColumnExpr{
			{Expr: &ast.VarRef{Name: "a"}, Output: "a"},
		},
	}
	sql, err := Generate(stmt, emptyResult(), nil, nil)
	require.NoError(t, err)
	require.Contains(t, sql, "FROM users AS a")
	require.Contains(t, sql, "JOIN follows AS r")
	require.Contains(t, sql, "ON a.user_id = r.follower_id")
}

func TestGenerateSkipLimit(t *testing.T) {
	stmt := &render.Statement{
		From: &render.TableSource{TableRef: render.TableRef{Table: "users", Alias: "u"}},
		Columns: []render.ColumnExpr{
			{Expr: &ast.PropertyAccess{Variable: "u", Property: "age"}, Output: "age"},
		},
		Skip:  &ast.Literal{Value: int64(2)},
		Limit: &ast.Literal{Value: int64(5)},
	}
	res := emptyResult()
	res.Properties["u.age"] = analyzer.ResolvedProperty{Column: "age"}

	sql, err := Generate(stmt, res, nil, nil)
	require.NoError(t, err)
	require.Contains(t, sql, "LIMIT 5")
	require.Contains(t, sql, "OFFSET 2")
}

func TestGenerateWithClauseCTE(t *testing.T) {
	stmt := &render.Statement{
		CTEs: []render.CTE{
			{
				Name: "cte_abc",
				Columns: []render.ColumnExpr{
					{Expr: &ast.PropertyAccess{Variable: "u", Property: "name"}, Output: "name"},
				},
				From: &render.TableSource{TableRef: render.TableRef{Table: "users", Alias: "u"}},
			},
		},
		From: &render.CTESource{Name: "cte_abc", Alias: "cte_abc"},
		Columns: []render.ColumnExpr{
			{Expr: &ast.VarRef{Name: "name"}, Output: "name"},
		},
	}
	res := emptyResult()
	res.Properties["u.name"] = analyzer.ResolvedProperty{Column: "full_name"}

	sql, err := Generate(stmt, res, nil, nil)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sql, "WITH "))
	require.False(t, strings.HasPrefix(sql, "WITH RECURSIVE"))
	require.Contains(t, sql, "cte_abc AS (")
	require.Contains(t, sql, "u.full_name AS \"name\"")
	require.Contains(t, sql, "FROM cte_abc AS cte_abc")
}

func TestGenerateRecursiveCTEMarksRecursive(t *testing.T) {
	stmt := &render.Statement{
		CTEs: []render.CTE{
			{
				Name: "vlp_r_1",
				Recursive: &render.RecursiveCTE{
					Name:      "vlp_r_1",
					BaseTable: render.TableRef{Table: "follows", Alias: "r"},
					FromCols:  []string{"follower_id"},
					ToCols:    []string{"followed_id"},
					EdgeCols:  []string{"follower_id", "followed_id"},
					Min:       1,
					Max:       3,
				},
			},
		},
		From: &render.CTESource{Name: "vlp_r_1", Alias: "vlp_r_1"},
		Columns: []render.ColumnExpr{
			{Expr: &ast.VarRef{Name: "vlp_r_1"}, Output: "vlp_r_1"},
		},
	}
	sql, err := Generate(stmt, emptyResult(), nil, nil)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sql, "WITH RECURSIVE "))
	require.Contains(t, sql, "UNION ALL")
	require.Contains(t, sql, "depth < 3")
	require.Contains(t, sql, "NOT has(")
}

func TestLiteralEscaping(t *testing.T) {
	stmt := &render.Statement{
		From: &render.TableSource{TableRef: render.TableRef{Table: "users", Alias: "u"}},
		Columns: []render.ColumnExpr{
			{Expr: &ast.VarRef{Name: "u"}, Output: "u"},
		},
		Where: &ast.BinaryOp{
			Op:    "=",
			Left:  &ast.PropertyAccess{Variable: "u", Property: "name"},
			Right: &ast.Literal{Value: "O'Brien"},
		},
	}
	res := emptyResult()
	res.Properties["u.name"] = analyzer.ResolvedProperty{Column: "name"}

	sql, err := Generate(stmt, res, nil, nil)
	require.NoError(t, err)
	require.Contains(t, sql, "'O''Brien'")
}

func TestParamRefSubstitutesLiteral(t *testing.T) {
	stmt := &render.Statement{
		From: &render.TableSource{TableRef: render.TableRef{Table: "users", Alias: "u"}},
		Columns: []render.ColumnExpr{
			{Expr: &ast.VarRef{Name: "u"}, Output: "u"},
		},
		Where: &ast.BinaryOp{
			Op:    "=",
			Left:  &ast.PropertyAccess{Variable: "u", Property: "id"},
			Right: &ast.ParamRef{Name: "id"},
		},
	}
	res := emptyResult()
	res.Properties["u.id"] = analyzer.ResolvedProperty{Column: "id"}

	sql, err := Generate(stmt, res, nil, map[string]interface{}{"id": int64(7)})
	require.NoError(t, err)
	require.Contains(t, sql, "u.id = 7)")
}

func TestParamRefMissingIsError(t *testing.T) {
	stmt := &render.Statement{
		From: &render.TableSource{TableRef: render.TableRef{Table: "users", Alias: "u"}},
		Where: &ast.BinaryOp{
			Op:    "=",
			Left:  &ast.PropertyAccess{Variable: "u", Property: "id"},
			Right: &ast.ParamRef{Name: "id"},
		},
	}
	res := emptyResult()
	res.Properties["u.id"] = analyzer.ResolvedProperty{Column: "id"}

	_, err := Generate(stmt, res, nil, nil)
	require.Error(t, err)
}

func TestRowBundleEmitsJSONHelper(t *testing.T) {
	stmt := &render.Statement{
		From: &render.TableSource{TableRef: render.TableRef{Table: "users", Alias: "u"}},
		Columns: []render.ColumnExpr{
			{Expr: &ast.RowBundle{
				Variable: "u",
				Fields: []ast.BundleField{
					{Key: "name", Expr: &ast.PropertyAccess{Variable: "u", Property: "name"}},
					{Key: "id", Expr: &ast.PropertyAccess{Variable: "u", Property: "id"}},
				},
			}, Output: "u"},
		},
	}
	res := emptyResult()
	res.Properties["u.name"] = analyzer.ResolvedProperty{Column: "full_name"}
	res.Properties["u.id"] = analyzer.ResolvedProperty{Column: "id"}

	sql, err := Generate(stmt, res, nil, nil)
	require.NoError(t, err)
	require.Contains(t, sql, "toJSONString(")
	require.Contains(t, sql, "u.full_name")
	require.Contains(t, sql, "u.id")
}

// An output column name containing a double quote (possible under the
// original-source-text naming rule, for an expression like
// `RETURN a."b"`) still escapes into a legal double-quoted identifier.
func TestQuoteOutputAliasEscapesEmbeddedQuotes(t *testing.T) {
	stmt := &render.Statement{
		From: &render.TableSource{TableRef: render.TableRef{Table: "users", Alias: "u"}},
		Columns: []render.ColumnExpr{
			{Expr: &ast.VarRef{Name: "u"}, Output: `weird"name`},
		},
	}
	sql, err := Generate(stmt, emptyResult(), nil, nil)
	require.NoError(t, err)
	require.Contains(t, sql, `AS "weird""name"`)
}

func TestStringConcatPlusBecomesConcat(t *testing.T) {
	stmt := &render.Statement{
		From: &render.TableSource{TableRef: render.TableRef{Table: "users", Alias: "u"}},
		Columns: []render.ColumnExpr{
			{Expr: &ast.BinaryOp{
				Op:    "+",
				Left:  &ast.PropertyAccess{Variable: "u", Property: "name"},
				Right: &ast.Literal{Value: "!"},
			}, Output: "greeting"},
		},
	}
	res := emptyResult()
	res.Properties["u.name"] = analyzer.ResolvedProperty{Column: "full_name"}

	sql, err := Generate(stmt, res, nil, nil)
	require.NoError(t, err)
	require.Contains(t, sql, "concat(u.full_name, '!')")
}

func TestContainsBecomesPosition(t *testing.T) {
	stmt := &render.Statement{
		From: &render.TableSource{TableRef: render.TableRef{Table: "users", Alias: "u"}},
		Columns: []render.ColumnExpr{
			{Expr: &ast.VarRef{Name: "u"}, Output: "u"},
		},
		Where: &ast.BinaryOp{
			Op:    "CONTAINS",
			Left:  &ast.PropertyAccess{Variable: "u", Property: "name"},
			Right: &ast.Literal{Value: "ann"},
		},
	}
	res := emptyResult()
	res.Properties["u.name"] = analyzer.ResolvedProperty{Column: "name"}

	sql, err := Generate(stmt, res, nil, nil)
	require.NoError(t, err)
	require.Contains(t, sql, "positionCaseSensitive(u.name, 'ann') > 0")
}

func TestUnwindPlanEmitsArrayJoin(t *testing.T) {
	stmt := &render.Statement{
		From: &render.UnwindPlan{
			Plan:     &render.TableSource{TableRef: render.TableRef{Table: "users", Alias: "u"}},
			List:     &ast.ListLiteral{Items: []ast.Expr{&ast.Literal{Value: int64(1)}, &ast.Literal{Value: int64(2)}}},
			Variable: "x",
		},
		Columns: []render.ColumnExpr{
			{Expr: &ast.VarRef{Name: "x"}, Output: "x"},
		},
	}
	sql, err := Generate(stmt, emptyResult(), nil, nil)
	require.NoError(t, err)
	require.Contains(t, sql, "ARRAY JOIN [1, 2] AS x")
}

func TestListParameterRendersArrayLiteral(t *testing.T) {
	stmt := &render.Statement{
		From: &render.TableSource{TableRef: render.TableRef{Table: "users", Alias: "u"}},
		Columns: []render.ColumnExpr{
			{Expr: &ast.VarRef{Name: "u"}, Output: "u"},
		},
		Where: &ast.BinaryOp{
			Op:    "IN",
			Left:  &ast.PropertyAccess{Variable: "u", Property: "id"},
			Right: &ast.ParamRef{Name: "ids"},
		},
	}
	res := emptyResult()
	res.Properties["u.id"] = analyzer.ResolvedProperty{Column: "id"}

	sql, err := Generate(stmt, res, nil, map[string]interface{}{"ids": []interface{}{int64(1), int64(2), "x"}})
	require.NoError(t, err)
	require.Contains(t, sql, "IN [1, 2, 'x']")
}

func TestUnionCTEEmitsUnionAll(t *testing.T) {
	branch := func(table, alias string) *render.Statement {
		return &render.Statement{
			From: &render.TableSource{TableRef: render.TableRef{Table: table, Alias: alias}},
			Columns: []render.ColumnExpr{
				{Expr: &ast.PropertyAccess{Variable: alias, Property: "src"}, Output: "from_id"},
				{Expr: &ast.PropertyAccess{Variable: alias, Property: "dst"}, Output: "to_id"},
			},
		}
	}
	stmt := &render.Statement{
		CTEs: []render.CTE{{Name: "vlp_r_1", Union: []*render.Statement{branch("e1", "r_h1"), branch("e2", "r_h1")}}},
		From: &render.CTESource{Name: "vlp_r_1", Alias: "r"},
		Columns: []render.ColumnExpr{
			{Expr: &ast.VarRef{Name: "from_id"}, Output: "from_id"},
		},
	}
	sql, err := Generate(stmt, emptyResult(), nil, nil)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sql, "WITH "), "expected a WITH block, got: %s", sql)
	require.False(t, strings.HasPrefix(sql, "WITH RECURSIVE"))
	require.Contains(t, sql, "UNION ALL")
	require.Contains(t, sql, "FROM e1 AS r_h1")
	require.Contains(t, sql, "FROM e2 AS r_h1")
}

func TestDatabaseQualifiesTables(t *testing.T) {
	stmt := &render.Statement{
		Database: "graph",
		From:     &render.TableSource{TableRef: render.TableRef{Table: "users", Alias: "u"}},
		Columns: []render.ColumnExpr{
			{Expr: &ast.VarRef{Name: "u"}, Output: "u"},
		},
	}
	sql, err := Generate(stmt, emptyResult(), nil, nil)
	require.NoError(t, err)
	require.Contains(t, sql, "FROM graph.users AS u")
}
