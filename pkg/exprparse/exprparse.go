// Package exprparse parses the small scalar-expression language used in
// YAML property mappings (schema.PropertyValue.Expression) into a
// structured tree, so that later column-reference substitution is a
// tree walk instead of string surgery that would risk mangling a string
// literal that happens to contain a column name.
//
// Supported grammar: column references (bare identifiers), string and
// numeric literals, string concatenation with `+` or `||`, and
// parenthesized grouping. This is intentionally smaller than the Cypher
// expression grammar in pkg/ast — it only needs to express how a
// denormalized or derived property is computed from columns already on
// the same physical row.
package exprparse

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is a parsed scalar expression.
type Node interface {
	exprNode()
}

// ColumnRef is a reference to a column on the current row.
type ColumnRef struct {
	Name string
}

func (*ColumnRef) exprNode() {}

// StringLiteral is a quoted string constant.
type StringLiteral struct {
	Value string
}

func (*StringLiteral) exprNode() {}

// NumberLiteral is a numeric constant, kept as source text so integer
// vs. float formatting survives emission unchanged.
type NumberLiteral struct {
	Text string
}

func (*NumberLiteral) exprNode() {}

// Concat is string concatenation of two or more operands, from either
// `a + b` or `a || b` in the source expression.
type Concat struct {
	Operands []Node
}

func (*Concat) exprNode() {}

// Parse parses a scalar expression string into a Node tree.
func Parse(src string) (Node, error) {
	p := &parser{toks: tokenize(src), src: src}
	node, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("exprparse: unexpected trailing input at %q", p.toks[p.pos])
	}
	return node, nil
}

// Columns returns every distinct column name referenced anywhere in the
// tree, in first-seen order.
func Columns(n Node) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(Node)
	walk = func(n Node) {
		switch v := n.(type) {
		case *ColumnRef:
			if !seen[v.Name] {
				seen[v.Name] = true
				out = append(out, v.Name)
			}
		case *Concat:
			for _, op := range v.Operands {
				walk(op)
			}
		}
	}
	walk(n)
	return out
}

// Substitute returns a copy of the tree with every ColumnRef named by a
// key in replacements rewritten to a new column name (typically a
// table-qualified one, e.g. "name" -> "a.full_name"). Replacements are
// returned as-is as a ColumnRef carrying the already-qualified text;
// string literals are left untouched.
func Substitute(n Node, replacements map[string]string) Node {
	switch v := n.(type) {
	case *ColumnRef:
		if q, ok := replacements[v.Name]; ok {
			return &ColumnRef{Name: q}
		}
		return v
	case *Concat:
		out := make([]Node, len(v.Operands))
		for i, op := range v.Operands {
			out[i] = Substitute(op, replacements)
		}
		return &Concat{Operands: out}
	default:
		return n
	}
}

type parser struct {
	toks []string
	pos  int
	src  string
}

func (p *parser) peek() string {
	if p.pos >= len(p.toks) {
		return ""
	}
	return p.toks[p.pos]
}

func (p *parser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) parseConcat() (Node, error) {
	first, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	operands := []Node{first}
	for p.peek() == "+" || p.peek() == "||" {
		p.next()
		next, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		operands = append(operands, next)
	}
	if len(operands) == 1 {
		return operands[0], nil
	}
	return &Concat{Operands: operands}, nil
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.peek()
	if tok == "" {
		return nil, fmt.Errorf("exprparse: unexpected end of expression in %q", p.src)
	}
	if tok == "(" {
		p.next()
		inner, err := p.parseConcat()
		if err != nil {
			return nil, err
		}
		if p.peek() != ")" {
			return nil, fmt.Errorf("exprparse: expected ')' in %q", p.src)
		}
		p.next()
		return inner, nil
	}
	if strings.HasPrefix(tok, "'") {
		p.next()
		return &StringLiteral{Value: strings.Trim(tok, "'")}, nil
	}
	if _, err := strconv.ParseFloat(tok, 64); err == nil {
		p.next()
		return &NumberLiteral{Text: tok}, nil
	}
	p.next()
	return &ColumnRef{Name: tok}, nil
}

// tokenize splits a scalar expression into column/operator/literal
// tokens, keeping quoted string contents intact.
func tokenize(s string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\'':
			flush()
			j := i + 1
			for j < len(runes) && runes[j] != '\'' {
				j++
			}
			toks = append(toks, string(runes[i:j+1]))
			i = j
		case c == ' ' || c == '\t':
			flush()
		case c == '(' || c == ')':
			flush()
			toks = append(toks, string(c))
		case c == '|' && i+1 < len(runes) && runes[i+1] == '|':
			flush()
			toks = append(toks, "||")
			i++
		case c == '+':
			flush()
			toks = append(toks, "+")
		default:
			cur.WriteRune(c)
		}
	}
	flush()
	return toks
}
