package parser

import (
	"strconv"
	"strings"

	"github.com/orneryd/cyphersql/pkg/ast"
	"github.com/orneryd/cyphersql/pkg/cyphererr"
)

// Parser holds the token stream for one Parse call. It is not safe for
// concurrent reuse across queries — callers construct a fresh Parser
// (via Parse) per query, matching the per-translation ownership model
// for the whole pipeline.
type Parser struct {
	src  string
	toks []token
	pos  int
}

// Parse parses a Cypher query string into an ast.Query, or returns a
// *cyphererr.ParseError naming the byte offset of the earliest
// unexpected token. A write clause (CREATE, MERGE, SET, DELETE, DETACH,
// REMOVE) is rejected with a *cyphererr.UnsupportedFeature instead.
func Parse(src string) (*ast.Query, error) {
	toks, err := lex(src)
	if err != nil {
		if le, ok := err.(*lexError); ok {
			return nil, &cyphererr.ParseError{Position: le.pos, Expected: "valid token", Found: le.msg}
		}
		return nil, err
	}
	p := &Parser{src: src, toks: toks}
	return p.parseQuery()
}

func (p *Parser) cur() token  { return p.toks[p.pos] }
func (p *Parser) at(i int) token {
	if p.pos+i >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+i]
}
func (p *Parser) advance() token {
	t := p.cur()
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// isKeyword reports whether the current token is the identifier kw,
// compared case-insensitively (keywords are case-insensitive, unlike
// identifiers).
func (p *Parser) isKeyword(kw string) bool {
	t := p.cur()
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

func (p *Parser) isKeywordAt(i int, kw string) bool {
	t := p.at(i)
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

func (p *Parser) isPunct(s string) bool {
	t := p.cur()
	return t.kind == tokPunct && t.text == s
}

func (p *Parser) expectPunct(s string) error {
	if !p.isPunct(s) {
		return p.fail(s)
	}
	p.advance()
	return nil
}

func (p *Parser) expectKeyword(kw string) error {
	if !p.isKeyword(kw) {
		return p.fail(kw)
	}
	p.advance()
	return nil
}

func (p *Parser) fail(expected string) error {
	t := p.cur()
	found := t.text
	if t.kind == tokEOF {
		found = ""
	}
	return &cyphererr.ParseError{Position: t.start, Expected: expected, Found: found}
}

// parseQuery parses the top-level [USE ident] statement [';'] form.
func (p *Parser) parseQuery() (*ast.Query, error) {
	q := &ast.Query{}

	if p.isKeyword("USE") {
		p.advance()
		if p.cur().kind != tokIdent {
			return nil, p.fail("database name")
		}
		q.Use = p.advance().text
	}

	for p.cur().kind != tokEOF && !p.isPunct(";") {
		clause, err := p.parseClause()
		if err != nil {
			return nil, err
		}
		q.Clauses = append(q.Clauses, clause)
	}

	if p.isPunct(";") {
		p.advance()
	}
	if p.cur().kind != tokEOF {
		return nil, p.fail("end of query")
	}
	if len(q.Clauses) == 0 {
		return nil, p.fail("a clause")
	}
	return q, nil
}

func (p *Parser) parseClause() (ast.Clause, error) {
	switch {
	case p.isKeyword("MATCH"):
		return p.parseMatch(false)
	case p.isKeyword("OPTIONAL"):
		p.advance()
		if err := p.expectKeyword("MATCH"); err != nil {
			return nil, err
		}
		return p.parseMatchBody(true)
	case p.isKeyword("WITH"):
		return p.parseWith()
	case p.isKeyword("RETURN"):
		return p.parseReturn()
	case p.isKeyword("UNWIND"):
		return p.parseUnwind()
	case p.isKeyword("CALL"):
		return p.parseCall()
	case p.isKeyword("CREATE"), p.isKeyword("MERGE"), p.isKeyword("SET"), p.isKeyword("DELETE"), p.isKeyword("DETACH"), p.isKeyword("REMOVE"):
		return nil, &cyphererr.UnsupportedFeature{Detail: "write clause " + p.cur().text + " (read-only core)"}
	default:
		return nil, p.fail("a clause (MATCH, OPTIONAL MATCH, WITH, RETURN, UNWIND, CALL)")
	}
}

func (p *Parser) parseMatch(optional bool) (ast.Clause, error) {
	p.advance() // MATCH
	return p.parseMatchBody(optional)
}

func (p *Parser) parseMatchBody(optional bool) (ast.Clause, error) {
	patterns, err := p.parsePatternList()
	if err != nil {
		return nil, err
	}
	clause := &ast.MatchClause{Optional: optional, Patterns: patterns}
	if p.isKeyword("WHERE") {
		p.advance()
		where, err := p.parseWhereExpr()
		if err != nil {
			return nil, err
		}
		clause.Where = where
	}
	return clause, nil
}

// parseWhereExpr parses the expression following WHERE, rejecting a
// leading AND/OR/XOR — a common user bug where the first conjunct was
// omitted.
func (p *Parser) parseWhereExpr() (ast.Expr, error) {
	if p.isKeyword("AND") || p.isKeyword("OR") || p.isKeyword("XOR") {
		return nil, &cyphererr.ParseError{Position: p.cur().start, Expected: "a predicate", Found: p.cur().text}
	}
	return p.parseExpr()
}

func (p *Parser) parsePatternList() ([]ast.Pattern, error) {
	var patterns []ast.Pattern
	for {
		pat, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, pat)
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return patterns, nil
}

func (p *Parser) parsePattern() (ast.Pattern, error) {
	var pathVar string
	if p.cur().kind == tokIdent && p.at(1).kind == tokPunct && p.at(1).text == "=" &&
		!strings.EqualFold(p.cur().text, "shortestPath") && !strings.EqualFold(p.cur().text, "allShortestPaths") {
		pathVar = p.advance().text
		p.advance() // '='
	}

	mode := ast.ShortestNone
	wrapped := false
	if p.isKeyword("shortestPath") {
		mode = ast.ShortestSingle
		wrapped = true
	} else if p.isKeyword("allShortestPaths") {
		mode = ast.ShortestAll
		wrapped = true
	}
	if wrapped {
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return ast.Pattern{}, err
		}
	}

	chain, err := p.parsePatternChain()
	if err != nil {
		return ast.Pattern{}, err
	}
	chain.PathVariable = pathVar
	chain.ShortestMode = mode

	if wrapped {
		if err := p.expectPunct(")"); err != nil {
			return ast.Pattern{}, err
		}
	}
	return chain, nil
}

// parsePatternChain parses node (rel node)* without the shortestPath
// wrapper or path-variable prefix.
func (p *Parser) parsePatternChain() (ast.Pattern, error) {
	var pat ast.Pattern
	first, err := p.parseNodePattern()
	if err != nil {
		return pat, err
	}
	pat.Nodes = append(pat.Nodes, first)

	for p.isPunct("-") || p.isPunct("<-") {
		rel, err := p.parseRelPattern()
		if err != nil {
			return pat, err
		}
		pat.Rels = append(pat.Rels, rel)
		node, err := p.parseNodePattern()
		if err != nil {
			return pat, err
		}
		pat.Nodes = append(pat.Nodes, node)
	}
	return pat, nil
}

func (p *Parser) parseNodePattern() (ast.NodePattern, error) {
	var np ast.NodePattern
	if err := p.expectPunct("("); err != nil {
		return np, err
	}
	if p.cur().kind == tokIdent && !p.isPunct(":") {
		np.Variable = p.advance().text
	}
	for p.isPunct(":") {
		p.advance()
		if p.cur().kind != tokIdent {
			return np, p.fail("a label")
		}
		np.Labels = append(np.Labels, p.advance().text)
	}
	if p.isPunct("{") {
		props, err := p.parsePropertyMap()
		if err != nil {
			return np, err
		}
		np.Properties = props
	}
	if err := p.expectPunct(")"); err != nil {
		return np, err
	}
	return np, nil
}

func (p *Parser) parsePropertyMap() (map[string]ast.Expr, error) {
	props := map[string]ast.Expr{}
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	for !p.isPunct("}") {
		if p.cur().kind != tokIdent {
			return nil, p.fail("a property name")
		}
		key := p.advance().text
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		props[key] = val
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	return props, nil
}

func (p *Parser) parseRelPattern() (ast.RelPattern, error) {
	var rel ast.RelPattern
	leftArrow := p.advance().text // "-" or "<-"

	hasBracket := p.isPunct("[")
	if hasBracket {
		p.advance()
		if p.cur().kind == tokIdent && !p.isPunct(":") {
			rel.Variable = p.advance().text
		}
		if p.isPunct(":") {
			p.advance()
			if p.cur().kind != tokIdent {
				return rel, p.fail("a relationship type")
			}
			rel.Types = append(rel.Types, p.advance().text)
			for p.isPunct("|") {
				p.advance()
				if p.cur().kind != tokIdent {
					return rel, p.fail("a relationship type")
				}
				rel.Types = append(rel.Types, p.advance().text)
			}
		}
		if p.isPunct("*") {
			hopRange, err := p.parseHopRange()
			if err != nil {
				return rel, err
			}
			rel.VariableLength = hopRange
		}
		if p.isPunct("{") {
			props, err := p.parsePropertyMap()
			if err != nil {
				return rel, err
			}
			rel.Properties = props
		}
		if err := p.expectPunct("]"); err != nil {
			return rel, err
		}
	}

	rightArrow := p.advance().text // "-" or "->"

	switch {
	case leftArrow == "<-" && rightArrow == "-":
		rel.Direction = ast.DirLeft
	case leftArrow == "-" && rightArrow == "->":
		rel.Direction = ast.DirRight
	case leftArrow == "-" && rightArrow == "-":
		rel.Direction = ast.DirEither
	default:
		return rel, &cyphererr.ParseError{Position: p.cur().start, Expected: "a valid relationship arrow", Found: leftArrow + "..." + rightArrow}
	}
	return rel, nil
}

// parseHopRange parses `*`, `*n`, `*min..max`, `*..max`, `*min..`.
func (p *Parser) parseHopRange() (*ast.HopRange, error) {
	p.advance() // '*'
	hr := &ast.HopRange{Min: 1, Max: -1}
	if p.cur().kind == tokNumber {
		n, _ := strconv.Atoi(p.advance().text)
		hr.Min = n
		hr.Max = n
	}
	if p.isPunct("..") {
		p.advance()
		hr.Max = -1
		if p.cur().kind == tokNumber {
			n, _ := strconv.Atoi(p.advance().text)
			hr.Max = n
		}
	}
	return hr, nil
}

func (p *Parser) parseWith() (ast.Clause, error) {
	start := p.cur().start
	p.advance() // WITH
	clause := &ast.WithClause{}
	if p.isKeyword("DISTINCT") {
		p.advance()
		clause.Distinct = true
	}
	items, err := p.parseProjectionList()
	if err != nil {
		return nil, err
	}
	clause.Items = items
	if err := p.parseTail(&clause.OrderBy, &clause.Skip, &clause.Limit, &clause.Where); err != nil {
		return nil, err
	}
	_ = start
	return clause, nil
}

func (p *Parser) parseReturn() (ast.Clause, error) {
	p.advance() // RETURN
	clause := &ast.ReturnClause{}
	if p.isKeyword("DISTINCT") {
		p.advance()
		clause.Distinct = true
	}
	items, err := p.parseProjectionList()
	if err != nil {
		return nil, err
	}
	clause.Items = items
	if err := p.parseTail(&clause.OrderBy, &clause.Skip, &clause.Limit, nil); err != nil {
		return nil, err
	}
	return clause, nil
}

// parseTail parses the common [ORDER BY ...] [SKIP ...] [LIMIT ...]
// (and, for WITH, [WHERE ...]) suffix shared by WITH and RETURN.
func (p *Parser) parseTail(orderBy *[]ast.OrderItem, skip, limit *ast.Expr, where *ast.Expr) error {
	if p.isKeyword("ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return err
			}
			item := ast.OrderItem{Expr: e}
			if p.isKeyword("DESC") || p.isKeyword("DESCENDING") {
				p.advance()
				item.Descending = true
			} else if p.isKeyword("ASC") || p.isKeyword("ASCENDING") {
				p.advance()
			}
			*orderBy = append(*orderBy, item)
			if p.isPunct(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if p.isKeyword("SKIP") {
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return err
		}
		*skip = e
	}
	if p.isKeyword("LIMIT") {
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return err
		}
		*limit = e
	}
	if where != nil && p.isKeyword("WHERE") {
		p.advance()
		e, err := p.parseWhereExpr()
		if err != nil {
			return err
		}
		*where = e
	}
	return nil
}

func (p *Parser) parseProjectionList() ([]ast.ProjectionItem, error) {
	var items []ast.ProjectionItem
	for {
		startTok := p.cur()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		item := ast.ProjectionItem{Expr: e}
		endByte := p.toks[p.pos-1].end
		if p.isKeyword("AS") {
			p.advance()
			if p.cur().kind != tokIdent {
				return nil, p.fail("an alias")
			}
			item.Alias = p.advance().text
		} else {
			item.OriginalText = sliceBytes(p.src, startTok.start, endByte)
		}
		items = append(items, item)
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return items, nil
}

func sliceBytes(src string, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(src) {
		end = len(src)
	}
	if end < start {
		return ""
	}
	return src[start:end]
}

func (p *Parser) parseUnwind() (ast.Clause, error) {
	p.advance() // UNWIND
	list, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	if p.cur().kind != tokIdent {
		return nil, p.fail("a variable")
	}
	variable := p.advance().text
	return &ast.UnwindClause{List: list, Variable: variable}, nil
}

func (p *Parser) parseCall() (ast.Clause, error) {
	p.advance() // CALL
	if p.cur().kind != tokIdent {
		return nil, p.fail("a procedure name")
	}
	name := p.advance().text
	for p.isPunct(".") {
		p.advance()
		if p.cur().kind != tokIdent {
			return nil, p.fail("a procedure name segment")
		}
		name += "." + p.advance().text
	}
	var args []ast.Expr
	if p.isPunct("(") {
		p.advance()
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
	}
	return &ast.CallClause{Procedure: name, Args: args}, nil
}
