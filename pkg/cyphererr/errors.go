// Package cyphererr defines the typed, user-visible error kinds the
// translation pipeline can fail with.
//
// Every stage of the pipeline (parser, planner, analyzer, optimizer,
// render planner, SQL generator) returns one of these instead of a bare
// error string, so callers can switch on kind with errors.As the same
// way storage.ConstraintViolationError lets callers distinguish
// constraint failures from generic storage errors.
package cyphererr

import "fmt"

// ParseError reports that the input did not conform to the supported
// Cypher grammar.
//
// Position is the byte offset of the earliest unexpected token.
type ParseError struct {
	Position int
	Expected string
	Found    string
}

func (e *ParseError) Error() string {
	if e.Found == "" {
		return fmt.Sprintf("parse error at byte %d: expected %s", e.Position, e.Expected)
	}
	return fmt.Sprintf("parse error at byte %d: expected %s, found %q", e.Position, e.Expected, e.Found)
}

// SchemaErrorKind enumerates the ways a query can refer to something the
// graph schema does not describe.
type SchemaErrorKind int

const (
	UnknownLabel SchemaErrorKind = iota
	UnknownRelationshipType
	UnknownProperty
	DenormalizedStandalone
	NonTransitiveVlpMinGreaterThanOne
)

func (k SchemaErrorKind) String() string {
	switch k {
	case UnknownLabel:
		return "UnknownLabel"
	case UnknownRelationshipType:
		return "UnknownRelationshipType"
	case UnknownProperty:
		return "UnknownProperty"
	case DenormalizedStandalone:
		return "DenormalizedStandalone"
	case NonTransitiveVlpMinGreaterThanOne:
		return "NonTransitiveVlpMinGreaterThanOne"
	default:
		return "Unknown"
	}
}

// SchemaError reports that the query referenced a label, relationship
// type, or property the schema cannot resolve, or used a pattern the
// schema cannot support (a standalone denormalized node, or a
// non-transitive variable-length path requiring more than one hop).
type SchemaError struct {
	Kind   SchemaErrorKind
	Detail string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error (%s): %s", e.Kind, e.Detail)
}

// AnalyzerErrorKind enumerates the semantic-analysis failure modes.
type AnalyzerErrorKind int

const (
	UnresolvedVariable AnalyzerErrorKind = iota
	UnresolvedProperty
	TypeMismatch
	AmbiguousReference
)

func (k AnalyzerErrorKind) String() string {
	switch k {
	case UnresolvedVariable:
		return "UnresolvedVariable"
	case UnresolvedProperty:
		return "UnresolvedProperty"
	case TypeMismatch:
		return "TypeMismatch"
	case AmbiguousReference:
		return "AmbiguousReference"
	default:
		return "Unknown"
	}
}

// AnalyzerError reports a semantic analysis failure: a variable or
// property that could not be resolved against the plan context, a type
// mismatch, or an ambiguous alias reference.
type AnalyzerError struct {
	Kind       AnalyzerErrorKind
	AliasOrVar string
	Detail     string
}

func (e *AnalyzerError) Error() string {
	return fmt.Sprintf("analyzer error (%s) on %q: %s", e.Kind, e.AliasOrVar, e.Detail)
}

// ParameterErrorKind enumerates parameter-binding failures.
type ParameterErrorKind int

const (
	MissingParameter ParameterErrorKind = iota
	InvalidParameterValue
)

func (k ParameterErrorKind) String() string {
	if k == MissingParameter {
		return "MissingParameter"
	}
	return "InvalidParameterValue"
}

// ParameterError reports that a `$name` reference in the query was not
// satisfied by the supplied parameter map, or that the supplied value
// cannot be represented as a SQL literal.
type ParameterError struct {
	Kind ParameterErrorKind
	Name string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("parameter error (%s): %s", e.Kind, e.Name)
}

// UnsupportedFeature reports that the query uses a Cypher feature this
// core intentionally does not translate (write clauses, multi-type
// variable-length paths beyond the hard cap, and so on).
type UnsupportedFeature struct {
	Detail string
}

func (e *UnsupportedFeature) Error() string {
	return fmt.Sprintf("unsupported feature: %s", e.Detail)
}

// InternalError reports a violated invariant — a bug in this package,
// not a malformed query. Examples: a cyclic CTE dependency graph, or a
// render-plan reference to a CTE that was never produced.
type InternalError struct {
	Detail string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %s", e.Detail)
}
