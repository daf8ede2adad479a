package schema

import "testing"

const testSchemaYAML = `
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
    rel_property_mappings:
      since:
        column: start_date
  - type: KNOWS
    from_label: Person
    to_label: Person
    from_id: [person_id]
    to_id: [knows_person_id]
`

func TestParseAndIndex(t *testing.T) {
	gs, err := Parse([]byte(testSchemaYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	person, ok := gs.NodeByLabel("Person")
	if !ok {
		t.Fatal("expected Person label to be indexed")
	}
	if person.Table != "people" {
		t.Errorf("Table = %q, want people", person.Table)
	}

	if _, ok := gs.NodeByLabel("Nonexistent"); ok {
		t.Error("expected Nonexistent label to be absent")
	}

	rel, ok := gs.Relationship("WORKS_AT", "Person", "Company")
	if !ok {
		t.Fatal("expected WORKS_AT(Person,Company) to resolve")
	}
	if rel.Table != "employment" {
		t.Errorf("Table = %q, want employment", rel.Table)
	}
	if rel.IsFKEdge() {
		t.Error("WORKS_AT should not be FK-edge encoded")
	}
}

func TestIsFKEdge(t *testing.T) {
	gs, err := Parse([]byte(testSchemaYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rel, ok := gs.Relationship("KNOWS", "Person", "Person")
	if !ok {
		t.Fatal("expected KNOWS to resolve")
	}
	if !rel.IsFKEdge() {
		t.Error("KNOWS has no standalone edge table, so it should be FK-edge encoded")
	}
}

func TestIsTransitive(t *testing.T) {
	gs, err := Parse([]byte(testSchemaYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !gs.IsTransitive("KNOWS") {
		t.Error("KNOWS connects Person to Person, so it should be transitive")
	}
	if gs.IsTransitive("WORKS_AT") {
		t.Error("WORKS_AT connects Person to Company and never chains back, so it should not be transitive")
	}
}

func TestColumnRefComposite(t *testing.T) {
	single := ColumnRef{"id"}
	if single.IsComposite() {
		t.Error("single-column ref should not be composite")
	}
	composite := ColumnRef{"a", "b"}
	if !composite.IsComposite() {
		t.Error("two-column ref should be composite")
	}
}
