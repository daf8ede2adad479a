package functions

import (
	"testing"

	"github.com/orneryd/cyphersql/pkg/ast"
)

func TestTranslatePassthroughPrefix(t *testing.T) {
	call := &ast.FuncCall{Name: "ch.now", Args: []ast.Expr{}}
	r, ok := Translate(call)
	if !ok {
		t.Fatal("expected a ch. prefixed call to translate")
	}
	if r.SQLName != "now" {
		t.Errorf("SQLName = %q, want now", r.SQLName)
	}
}

func TestTranslateChaggPrefix(t *testing.T) {
	call := &ast.FuncCall{Name: "chagg.anyLast", Args: []ast.Expr{&ast.VarRef{Name: "x"}}}
	r, ok := Translate(call)
	if !ok {
		t.Fatal("expected a chagg. prefixed call to translate")
	}
	if r.SQLName != "anyLast" {
		t.Errorf("SQLName = %q, want anyLast", r.SQLName)
	}
}

func TestTranslateCaseInsensitive(t *testing.T) {
	call := &ast.FuncCall{Name: "ToUpper", Args: []ast.Expr{&ast.VarRef{Name: "s"}}}
	r, ok := Translate(call)
	if !ok {
		t.Fatal("expected ToUpper to resolve case-insensitively")
	}
	if r.SQLName != "upper" {
		t.Errorf("SQLName = %q, want upper", r.SQLName)
	}
}

func TestTranslateSubstringShiftsStartIndex(t *testing.T) {
	call := &ast.FuncCall{Name: "substring", Args: []ast.Expr{
		&ast.VarRef{Name: "s"},
		&ast.Literal{Value: int64(2)},
	}}
	r, ok := Translate(call)
	if !ok {
		t.Fatal("expected substring to translate")
	}
	if r.SQLName != "substring" {
		t.Errorf("SQLName = %q, want substring", r.SQLName)
	}
	lit, ok := r.Args[1].(*ast.Literal)
	if !ok {
		t.Fatalf("expected a folded integer literal, got %T", r.Args[1])
	}
	if lit.Value.(int64) != 3 {
		t.Errorf("shifted start = %v, want 3", lit.Value)
	}
}

func TestTranslateSubstringShiftsNonLiteralStart(t *testing.T) {
	call := &ast.FuncCall{Name: "substring", Args: []ast.Expr{
		&ast.VarRef{Name: "s"},
		&ast.VarRef{Name: "start"},
	}}
	r, _ := Translate(call)
	bop, ok := r.Args[1].(*ast.BinaryOp)
	if !ok || bop.Op != "+" {
		t.Fatalf("expected a (start + 1) BinaryOp, got %+v", r.Args[1])
	}
}

func TestTranslateSplitReordersArgs(t *testing.T) {
	s := &ast.VarRef{Name: "s"}
	delim := &ast.Literal{Value: ","}
	call := &ast.FuncCall{Name: "split", Args: []ast.Expr{s, delim}}
	r, ok := Translate(call)
	if !ok {
		t.Fatal("expected split to translate")
	}
	if r.SQLName != "splitByChar" {
		t.Errorf("SQLName = %q, want splitByChar", r.SQLName)
	}
	if r.Args[0] != delim || r.Args[1] != s {
		t.Errorf("expected (delim, s) order, got %+v", r.Args)
	}
}

func TestTranslateCollectBecomesGroupArray(t *testing.T) {
	call := &ast.FuncCall{Name: "collect", Args: []ast.Expr{&ast.VarRef{Name: "x"}}}
	r, ok := Translate(call)
	if !ok {
		t.Fatal("expected collect to translate")
	}
	if r.SQLName != "groupArray" {
		t.Errorf("SQLName = %q, want groupArray", r.SQLName)
	}
}

func TestTranslateUnknownFunctionFails(t *testing.T) {
	call := &ast.FuncCall{Name: "definitelyNotARealFunction", Args: nil}
	_, ok := Translate(call)
	if ok {
		t.Error("expected an unrecognized function name to fail translation")
	}
}
