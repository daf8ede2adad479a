// Package functions translates Cypher scalar and aggregate function
// calls into their ClickHouse SQL equivalents. Most Cypher
// functions have no ClickHouse analogue with matching argument order or
// indexing convention, so each entry is a small rewrite rule rather than
// a name-for-name alias table.
package functions

import (
	"strings"

	"github.com/orneryd/cyphersql/pkg/ast"
)

// Rendered is a function call already lowered to SQL-shaped pieces: a
// SQL function name and a reordered/rewritten argument list, still as
// ast.Expr so the generator can render each argument through the normal
// expression renderer.
type Rendered struct {
	SQLName string
	Args    []ast.Expr
}

// chPrefixes are the escape-hatch namespaces: a call
// whose name starts with one of these passes straight through to SQL
// with the prefix stripped, bypassing the registry entirely.
var chPrefixes = []string{"ch.", "chagg."}

// Translate rewrites one Cypher FuncCall into its ClickHouse form. ok is
// false when name is not a recognized Cypher function and not a `ch.`/
// `chagg.` passthrough — the caller should treat this as an
// UnsupportedFeature.
func Translate(call *ast.FuncCall) (Rendered, bool) {
	for _, p := range chPrefixes {
		if strings.HasPrefix(call.Name, p) {
			return Rendered{SQLName: call.Name[len(p):], Args: call.Args}, true
		}
	}

	lower := strings.ToLower(call.Name)
	if rule, ok := rules[lower]; ok {
		return rule(call.Args), true
	}
	return Rendered{}, false
}

type rewriteFunc func(args []ast.Expr) Rendered

// rules maps a lower-cased Cypher function name to its rewrite. Index
// shifts (Cypher string positions are 0-indexed, ClickHouse's are
// 1-indexed) and argument-order
// differences are the main source of bugs this registry exists to
// centralize instead of leaving scattered through the generator.
var rules = map[string]rewriteFunc{
	// substring(s, start) / substring(s, start, length): Cypher start is
	// 0-indexed, ClickHouse substring() is 1-indexed.
	"substring": func(args []ast.Expr) Rendered {
		if len(args) < 2 {
			return Rendered{SQLName: "substring", Args: args}
		}
		shifted := append([]ast.Expr{args[0], shiftUp(args[1])}, args[2:]...)
		return Rendered{SQLName: "substring", Args: shifted}
	},

	// split(s, delim) -> splitByChar(delim, s): ClickHouse's
	// delimiter-first argument order.
	"split": func(args []ast.Expr) Rendered {
		if len(args) != 2 {
			return Rendered{SQLName: "splitByChar", Args: args}
		}
		return Rendered{SQLName: "splitByChar", Args: []ast.Expr{args[1], args[0]}}
	},

	"toupper": func(args []ast.Expr) Rendered { return Rendered{SQLName: "upper", Args: args} },
	"tolower": func(args []ast.Expr) Rendered { return Rendered{SQLName: "lower", Args: args} },
	"trim":    func(args []ast.Expr) Rendered { return Rendered{SQLName: "trim", Args: args} },

	"tostring":  func(args []ast.Expr) Rendered { return Rendered{SQLName: "toString", Args: args} },
	"tointeger": func(args []ast.Expr) Rendered { return Rendered{SQLName: "toInt64", Args: args} },
	"tofloat":   func(args []ast.Expr) Rendered { return Rendered{SQLName: "toFloat64", Args: args} },

	"coalesce": func(args []ast.Expr) Rendered { return Rendered{SQLName: "coalesce", Args: args} },
	"abs":      func(args []ast.Expr) Rendered { return Rendered{SQLName: "abs", Args: args} },
	"round":    func(args []ast.Expr) Rendered { return Rendered{SQLName: "round", Args: args} },
	"sqrt":     func(args []ast.Expr) Rendered { return Rendered{SQLName: "sqrt", Args: args} },

	"count":   func(args []ast.Expr) Rendered { return Rendered{SQLName: "count", Args: args} },
	"sum":     func(args []ast.Expr) Rendered { return Rendered{SQLName: "sum", Args: args} },
	"avg":     func(args []ast.Expr) Rendered { return Rendered{SQLName: "avg", Args: args} },
	"min":     func(args []ast.Expr) Rendered { return Rendered{SQLName: "min", Args: args} },
	"max":     func(args []ast.Expr) Rendered { return Rendered{SQLName: "max", Args: args} },
	"collect": func(args []ast.Expr) Rendered { return Rendered{SQLName: "groupArray", Args: args} },

	// size() over a string or list is ClickHouse length(); size over an
	// inline pattern never reaches the registry (the parser lowers it to
	// a PatternSize expression instead).
	"size": func(args []ast.Expr) Rendered { return Rendered{SQLName: "length", Args: args} },

	// id(), type(), length(), nodes(), and relationships() over graph
	// variables are lowered by the render stage, which knows each
	// variable's physical identifier and whether its path came from a
	// recursive CTE; they are deliberately absent here so an occurrence
	// the render stage could not resolve fails as unsupported instead of
	// emitting a nonsense call.
}

// shiftUp wraps e in `(e + 1)` unless e is already an integer literal,
// in which case the shift is folded at translate time.
func shiftUp(e ast.Expr) ast.Expr {
	if lit, ok := e.(*ast.Literal); ok {
		if n, ok := lit.Value.(int64); ok {
			return &ast.Literal{Value: n + 1}
		}
	}
	return &ast.BinaryOp{Op: "+", Left: e, Right: &ast.Literal{Value: int64(1)}}
}
