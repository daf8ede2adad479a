package exprparse

import "testing"

func TestParseColumnRef(t *testing.T) {
	n, err := Parse("first_name")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cr, ok := n.(*ColumnRef)
	if !ok || cr.Name != "first_name" {
		t.Fatalf("expected ColumnRef{first_name}, got %+v", n)
	}
}

func TestParseConcatWithPlus(t *testing.T) {
	n, err := Parse("first_name + ' ' + last_name")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c, ok := n.(*Concat)
	if !ok || len(c.Operands) != 3 {
		t.Fatalf("expected a 3-operand Concat, got %+v", n)
	}
	if sl, ok := c.Operands[1].(*StringLiteral); !ok || sl.Value != " " {
		t.Errorf("expected the middle operand to be a ' ' literal, got %+v", c.Operands[1])
	}
}

func TestParseConcatWithDoublePipe(t *testing.T) {
	n, err := Parse("a || b")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c, ok := n.(*Concat)
	if !ok || len(c.Operands) != 2 {
		t.Fatalf("expected a 2-operand Concat, got %+v", n)
	}
}

func TestParseParenthesizedGrouping(t *testing.T) {
	n, err := Parse("(a)")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := n.(*ColumnRef); !ok {
		t.Fatalf("expected parens to unwrap to a bare ColumnRef, got %+v", n)
	}
}

func TestParseNumberLiteral(t *testing.T) {
	n, err := Parse("3.14")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	nl, ok := n.(*NumberLiteral)
	if !ok || nl.Text != "3.14" {
		t.Fatalf("expected NumberLiteral{3.14}, got %+v", n)
	}
}

func TestParseUnterminatedParenFails(t *testing.T) {
	if _, err := Parse("(a + b"); err == nil {
		t.Fatal("expected an error for an unterminated paren group")
	}
}

func TestColumnsDeduplicatesInFirstSeenOrder(t *testing.T) {
	n, err := Parse("a + b + a")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cols := Columns(n)
	if len(cols) != 2 || cols[0] != "a" || cols[1] != "b" {
		t.Fatalf("Columns = %v, want [a b]", cols)
	}
}

func TestSubstituteRewritesColumnRefs(t *testing.T) {
	n, err := Parse("first_name + ' ' + last_name")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out := Substitute(n, map[string]string{
		"first_name": "p.first_name",
		"last_name":  "p.last_name",
	})
	c := out.(*Concat)
	if cr, ok := c.Operands[0].(*ColumnRef); !ok || cr.Name != "p.first_name" {
		t.Errorf("expected first operand rewritten to p.first_name, got %+v", c.Operands[0])
	}
	if cr, ok := c.Operands[2].(*ColumnRef); !ok || cr.Name != "p.last_name" {
		t.Errorf("expected third operand rewritten to p.last_name, got %+v", c.Operands[2])
	}
	if sl, ok := c.Operands[1].(*StringLiteral); !ok || sl.Value != " " {
		t.Errorf("expected the literal operand untouched, got %+v", c.Operands[1])
	}

	orig := n.(*Concat)
	if cr, ok := orig.Operands[0].(*ColumnRef); !ok || cr.Name != "first_name" {
		t.Error("expected Substitute not to mutate the original tree")
	}
}
