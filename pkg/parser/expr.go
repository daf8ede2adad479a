package parser

import (
	"strconv"
	"strings"

	"github.com/orneryd/cyphersql/pkg/ast"
)

// parseExpr parses a full expression at the lowest precedence (OR).
//
// Precedence, low to high:
//
//	OR
//	XOR
//	AND
//	NOT (unary)
//	comparison (= <> < > <= >= IN IS NULL CONTAINS STARTS WITH ENDS WITH)
//	additive (+ -)
//	multiplicative (* / %)
//	unary minus
//	postfix (.prop, [index])
//	primary
func (p *Parser) parseExpr() (ast.Expr, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (ast.Expr, error) {
	left, err := p.parseXor()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("OR") {
		p.advance()
		right, err := p.parseXor()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryOp{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseXor() (ast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("XOR") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryOp{Op: "XOR", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (ast.Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("AND") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryOp{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (ast.Expr, error) {
	if p.isKeyword("NOT") {
		if p.isKeywordAt(1, "EXISTS") {
			p.advance()
			e, err := p.parseExistsSubquery(true)
			if err != nil {
				return nil, err
			}
			return e, nil
		}
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryOp{Op: "NOT", Operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (ast.Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.isPunct("=") || p.isPunct("<>") || p.isPunct("<") || p.isPunct(">") || p.isPunct("<=") || p.isPunct(">="):
			op := p.advance().text
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &ast.BinaryOp{Op: op, Left: left, Right: right}
		case p.isKeyword("IN"):
			p.advance()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &ast.BinaryOp{Op: "IN", Left: left, Right: right}
		case p.isKeyword("CONTAINS"):
			p.advance()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &ast.BinaryOp{Op: "CONTAINS", Left: left, Right: right}
		case p.isKeyword("STARTS") && p.isKeywordAt(1, "WITH"):
			p.advance()
			p.advance()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &ast.BinaryOp{Op: "STARTS WITH", Left: left, Right: right}
		case p.isKeyword("ENDS") && p.isKeywordAt(1, "WITH"):
			p.advance()
			p.advance()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &ast.BinaryOp{Op: "ENDS WITH", Left: left, Right: right}
		case p.isKeyword("IS"):
			p.advance()
			negated := false
			if p.isKeyword("NOT") {
				p.advance()
				negated = true
			}
			if err := p.expectKeyword("NULL"); err != nil {
				return nil, err
			}
			op := "IS NULL"
			if negated {
				op = "IS NOT NULL"
			}
			left = &ast.UnaryOp{Op: op, Operand: left}
		default:
			return left, nil
		}
	}
}

func (p *Parser) parseAdditive() (ast.Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isPunct("+") || p.isPunct("-") {
		op := p.advance().text
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isPunct("*") || p.isPunct("/") || p.isPunct("%") {
		op := p.advance().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	if p.isPunct("-") {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryOp{Op: "-", Operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (ast.Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.isPunct("."):
			p.advance()
			if p.cur().kind != tokIdent {
				return nil, p.fail("a property name")
			}
			prop := p.advance().text
			if v, ok := e.(*ast.VarRef); ok {
				e = &ast.PropertyAccess{Variable: v.Name, Property: prop}
			} else if pv, ok := e.(*ast.PathVarRef); ok {
				e = &ast.PropertyAccess{Variable: pv.Name, Property: prop}
			} else {
				return nil, p.fail("a variable before '.'")
			}
		case p.isPunct("["):
			p.advance()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct("]"); err != nil {
				return nil, err
			}
			e = &ast.Indexing{List: e, Index: idx}
		default:
			return e, nil
		}
	}
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	t := p.cur()
	switch {
	case t.kind == tokNumber:
		p.advance()
		return &ast.Literal{Value: parseNumber(t.text)}, nil
	case t.kind == tokString:
		p.advance()
		return &ast.Literal{Value: t.text}, nil
	case t.kind == tokParam:
		p.advance()
		return &ast.ParamRef{Name: t.text}, nil
	case p.isPunct("("):
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return e, nil
	case p.isPunct("["):
		return p.parseListLiteral()
	case p.isPunct("{"):
		return p.parseMapLiteral()
	case p.isKeyword("true"):
		p.advance()
		return &ast.Literal{Value: true}, nil
	case p.isKeyword("false"):
		p.advance()
		return &ast.Literal{Value: false}, nil
	case p.isKeyword("null"):
		p.advance()
		return &ast.Literal{Value: nil}, nil
	case p.isKeyword("CASE"):
		return p.parseCase()
	case p.isKeyword("EXISTS"):
		return p.parseExistsSubquery(false)
	case t.kind == tokIdent:
		return p.parseIdentExpr()
	default:
		return nil, p.fail("an expression")
	}
}

func parseNumber(text string) interface{} {
	if strings.Contains(text, ".") {
		f, _ := strconv.ParseFloat(text, 64)
		return f
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		f, _ := strconv.ParseFloat(text, 64)
		return f
	}
	return n
}

// parseIdentExpr disambiguates a leading identifier into a variable
// reference, a function call (including namespaced `apoc.foo(...)`
// style and the `ch.`/`chagg.` escape-hatch prefixes), or `size(pattern)`.
func (p *Parser) parseIdentExpr() (ast.Expr, error) {
	name := p.advance().text
	if p.isPunct("(") {
		return p.parseFuncCallArgs(name)
	}
	if p.isPunct(".") && looksLikeNamespacedCall(p) {
		for p.isPunct(".") {
			p.advance()
			if p.cur().kind != tokIdent {
				return nil, p.fail("a function name segment")
			}
			name += "." + p.advance().text
			if p.isPunct("(") {
				return p.parseFuncCallArgs(name)
			}
		}
	}
	return &ast.VarRef{Name: name}, nil
}

// looksLikeNamespacedCall scans ahead (without consuming) to tell apart
// `apoc.coll.sum(...)` from `n.name` — the former keeps chaining
// `.ident` segments until an opening paren, the latter stops after one
// property.
func looksLikeNamespacedCall(p *Parser) bool {
	i := 0
	for {
		if !(p.at(i).kind == tokPunct && p.at(i).text == ".") {
			return false
		}
		if p.at(i+1).kind != tokIdent {
			return false
		}
		if p.at(i+2).kind == tokPunct && p.at(i+2).text == "(" {
			return true
		}
		if p.at(i+2).kind == tokPunct && p.at(i+2).text == "." {
			i += 2
			continue
		}
		return false
	}
}

func (p *Parser) parseFuncCallArgs(name string) (ast.Expr, error) {
	if strings.EqualFold(name, "size") {
		if la := p.at(1); la.kind == tokPunct && la.text == "(" {
			// size((a)-[...]->(b)): the sole argument is a pattern.
			save := p.pos
			p.advance() // '('
			if pat, err := p.tryParsePattern(); err == nil {
				if p.isPunct(")") {
					p.advance()
					return &ast.PatternSize{Pattern: pat}, nil
				}
			}
			p.pos = save
		}
	}
	p.advance() // '('
	var args []ast.Expr
	distinct := false
	if p.isKeyword("DISTINCT") {
		p.advance()
		distinct = true
	}
	for !p.isPunct(")") {
		a, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return &ast.FuncCall{Name: name, Args: args, Distinct: distinct}, nil
}

// tryParsePattern attempts to parse a bare pattern chain at the current
// position, used to disambiguate size((a)-[:X]->(b)) from a normal
// parenthesized expression. Restores nothing on failure — callers save
// p.pos themselves.
func (p *Parser) tryParsePattern() (ast.Pattern, error) {
	return p.parsePatternChain()
}

func (p *Parser) parseListLiteral() (ast.Expr, error) {
	p.advance() // '['
	lit := &ast.ListLiteral{}
	for !p.isPunct("]") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		lit.Items = append(lit.Items, e)
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct("]"); err != nil {
		return nil, err
	}
	return lit, nil
}

func (p *Parser) parseMapLiteral() (ast.Expr, error) {
	p.advance() // '{'
	lit := &ast.MapLiteral{}
	for !p.isPunct("}") {
		if p.cur().kind != tokIdent {
			return nil, p.fail("a map key")
		}
		key := p.advance().text
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		lit.Keys = append(lit.Keys, key)
		lit.Values = append(lit.Values, v)
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	return lit, nil
}

func (p *Parser) parseCase() (ast.Expr, error) {
	p.advance() // CASE
	ce := &ast.CaseExpr{}
	if !p.isKeyword("WHEN") {
		operand, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ce.Operand = operand
	}
	for p.isKeyword("WHEN") {
		p.advance()
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		result, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ce.Whens = append(ce.Whens, ast.WhenClause{Condition: cond, Result: result})
	}
	if p.isKeyword("ELSE") {
		p.advance()
		elseExpr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ce.Else = elseExpr
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return ce, nil
}

func (p *Parser) parseExistsSubquery(negated bool) (ast.Expr, error) {
	if err := p.expectKeyword("EXISTS"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	pat, err := p.parsePattern()
	if err != nil {
		return nil, err
	}
	es := &ast.ExistsSubquery{Pattern: pat, Negated: negated}
	if p.isKeyword("WHERE") {
		p.advance()
		where, err := p.parseWhereExpr()
		if err != nil {
			return nil, err
		}
		es.Where = where
	}
	if err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	return es, nil
}
