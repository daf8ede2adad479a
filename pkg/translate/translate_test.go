// End-to-end scenario tests: a fixture schema plus a query, asserted
// against the emitted SQL by substring/structural checks rather than
// diffing a full expected string.
package translate

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orneryd/cyphersql/pkg/schema"
)

// S1 — Standard single-hop.
func TestScenarioStandardSingleHop(t *testing.T) {
	gs, err := schema.Parse([]byte(`
nodes:
  - label: User
    table: users
    node_id: [user_id]
    property_mappings:
      name:
        column: full_name

relationships:
  - type: FOLLOWS
    from_label: User
    to_label: User
    table: follows
    from_id: [follower_id]
    to_id: [followed_id]
`))
	require.NoError(t, err)

	sql, err := Translate(context.Background(),
		"MATCH (a:User)-[:FOLLOWS]->(b:User) WHERE a.user_id = 1 RETURN b.name",
		gs, nil, Options{})
	require.NoError(t, err)

	require.Contains(t, sql, "b.full_name AS \"b.name\"")
	require.Contains(t, sql, "FROM users AS a")
	require.Contains(t, sql, "JOIN follows AS r")
	require.Contains(t, sql, "JOIN users AS b")
	require.Contains(t, sql, "a.user_id = 1")
}

// S2 — Variable-length with start and end filters.
func TestScenarioVariableLengthStartEndFilters(t *testing.T) {
	gs, err := schema.Parse([]byte(`
nodes:
  - label: User
    table: users
    node_id: [user_id]
    property_mappings:
      name:
        column: full_name

relationships:
  - type: FOLLOWS
    from_label: User
    to_label: User
    table: follows
    from_id: [follower_id]
    to_id: [followed_id]
`))
	require.NoError(t, err)

	sql, err := Translate(context.Background(),
		"MATCH (a:User)-[:FOLLOWS*1..3]->(b:User) WHERE a.user_id = 1 AND b.user_id = 5 RETURN b.name",
		gs, nil, Options{})
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(sql, "WITH RECURSIVE "), "expected WITH RECURSIVE prefix, got: %s", sql)

	// Exactly one WITH RECURSIVE block, opened once.
	require.Equal(t, 1, strings.Count(sql, "WITH RECURSIVE"))

	// Split the emitted CTE body into base case (before the first UNION
	// ALL) and recursive case (after) to check filter placement.
	cteStart := strings.Index(sql, "AS (")
	require.True(t, cteStart >= 0)
	unionIdx := strings.Index(sql, "UNION ALL")
	require.True(t, unionIdx > 0)
	base := sql[cteStart:unionIdx]
	rest := sql[unionIdx:]

	require.Contains(t, base, "follower_id = 1")
	require.Contains(t, base, "followed_id = 5")

	require.Contains(t, rest, "followed_id = 5")
	require.Contains(t, rest, "NOT has(")
	require.Contains(t, rest, "depth < 3")

	require.Contains(t, sql, "depth >= 1")
}

// S3 — Denormalized multi-hop with role-dependent property.
func TestScenarioDenormalizedRoleDependentProperty(t *testing.T) {
	gs, err := schema.Parse([]byte(`
nodes:
  - label: Airport
    is_denormalized: true

relationships:
  - type: FLIGHT
    from_label: Airport
    to_label: Airport
    table: flights
    from_id: [origin_code]
    to_id: [dest_code]
    from_node_properties:
      code:
        column: origin_code
      city:
        column: origin_city
    to_node_properties:
      code:
        column: dest_code
      city:
        column: dest_city
`))
	require.NoError(t, err)

	// b is the TO side of f (edge f: a -> b), so b.city resolves through
	// f's to_node_properties.
	sqlTo, err := Translate(context.Background(),
		"MATCH (a:Airport)-[f:FLIGHT]->(b:Airport)-[g:FLIGHT]->(c:Airport) RETURN b.city",
		gs, nil, Options{})
	require.NoError(t, err)
	require.Contains(t, sqlTo, "f.dest_city")

	// The same alias bound as the FROM side of a relationship (here b is
	// the start of a standalone two-node pattern over edge g) resolves
	// through that edge's from_node_properties instead — the other half
	// of the role-dependent mapping the scenario requires be reachable.
	sqlFrom, err := Translate(context.Background(),
		"MATCH (b:Airport)-[g:FLIGHT]->(c:Airport) RETURN b.city",
		gs, nil, Options{})
	require.NoError(t, err)
	require.Contains(t, sqlFrom, "g.origin_city")
}

// S4 — WITH renaming.
func TestScenarioWithRenaming(t *testing.T) {
	gs, err := schema.Parse([]byte(`
nodes:
  - label: User
    table: users
    node_id: [user_id]
    property_mappings:
      name:
        column: full_name
`))
	require.NoError(t, err)

	sql, err := Translate(context.Background(),
		"MATCH (u:User) WITH u AS person RETURN person.name",
		gs, nil, Options{})
	require.NoError(t, err)

	require.Contains(t, sql, "WITH ")
	require.Contains(t, sql, "cte_1 AS (")
	require.Contains(t, sql, "u.full_name AS \"person_name\"")
	require.Contains(t, sql, "FROM cte_1 AS person")
	require.Contains(t, sql, "person.person_name AS \"person.name\"")

	// Translation is a pure function of its inputs: the same query
	// emits byte-identical SQL, synthesized CTE names included.
	again, err := Translate(context.Background(),
		"MATCH (u:User) WITH u AS person RETURN person.name",
		gs, nil, Options{})
	require.NoError(t, err)
	require.Equal(t, sql, again)
}

// S5 — Comma-separated cross-table pattern.
func TestScenarioCommaSeparatedCrossTablePattern(t *testing.T) {
	gs, err := schema.Parse([]byte(`
nodes:
  - label: IP
    table: ips
    node_id: [ip]
    property_mappings:
      address:
        column: ip
  - label: Domain
    table: domains
    node_id: [domain_id]
    property_mappings:
      name:
        column: domain_name
  - label: Connection
    table: connections
    node_id: [conn_id]
    property_mappings:
      port:
        column: dest_port

relationships:
  - type: DNS
    from_label: IP
    to_label: Domain
    table: dns_requests
    from_id: [ip]
    to_id: [domain_id]
  - type: CONN
    from_label: IP
    to_label: Connection
    table: connections_edge
    from_id: [ip]
    to_id: [conn_id]
`))
	require.NoError(t, err)

	sql, err := Translate(context.Background(),
		"MATCH (a:IP)-[:DNS]->(d:Domain), (a)-[:CONN]->(c:Connection) RETURN d.name, c.port",
		gs, nil, Options{})
	require.NoError(t, err)

	require.Contains(t, sql, "dns_requests")
	require.Contains(t, sql, "connections_edge")
	require.Contains(t, sql, "ips AS a")
}

// S6 — VLP transitivity elision.
func TestScenarioVLPTransitivityElision(t *testing.T) {
	gs, err := schema.Parse([]byte(`
nodes:
  - label: IP
    table: ips
    node_id: [ip]
    property_mappings:
      address:
        column: ip
  - label: Domain
    table: domains
    node_id: [domain_id]
    property_mappings:
      name:
        column: domain_name

relationships:
  - type: DNS_REQUESTED
    from_label: IP
    to_label: Domain
    table: dns_requests
    from_id: [ip]
    to_id: [domain_id]
`))
	require.NoError(t, err)

	sql, err := Translate(context.Background(),
		"MATCH (a:IP)-[:DNS_REQUESTED*]->(b:Domain) RETURN a.address, b.name",
		gs, nil, Options{})
	require.NoError(t, err)

	require.NotContains(t, sql, "WITH RECURSIVE")
	require.Contains(t, sql, "dns_requests")
}

// Parameter substitution: no `$name` token may survive into the
// emitted SQL, and every value must be rendered as the right SQL literal
// form.
func TestParameterSubstitution(t *testing.T) {
	gs, err := schema.Parse([]byte(`
nodes:
  - label: User
    table: users
    node_id: [user_id]
    property_mappings:
      name:
        column: full_name
`))
	require.NoError(t, err)

	sql, err := Translate(context.Background(),
		"MATCH (u:User) WHERE u.name = $name RETURN u.name",
		gs, map[string]interface{}{"name": "O'Brien"}, Options{})
	require.NoError(t, err)

	require.NotContains(t, sql, "$name")
	require.Contains(t, sql, "'O''Brien'")
}

// Missing parameters fail with a typed ParameterError rather than
// emitting a `$name` placeholder into the SQL text.
func TestMissingParameterFails(t *testing.T) {
	gs, err := schema.Parse([]byte(`
nodes:
  - label: User
    table: users
    node_id: [user_id]
    property_mappings:
      name:
        column: full_name
`))
	require.NoError(t, err)

	_, err = Translate(context.Background(),
		"MATCH (u:User) WHERE u.name = $name RETURN u.name",
		gs, nil, Options{})
	require.Error(t, err)
}

// Original-text output-column names: RETURN with no AS preserves
// the exact source text, whitespace included, as the output alias.
func TestOriginalTextOutputColumnName(t *testing.T) {
	gs, err := schema.Parse([]byte(`
nodes:
  - label: User
    table: users
    node_id: [user_id]
    property_mappings:
      name:
        column: full_name
`))
	require.NoError(t, err)

	sql, err := Translate(context.Background(), "MATCH (u:User) RETURN 1  +  1", gs, nil, Options{})
	require.NoError(t, err)
	require.Contains(t, sql, `AS "1  +  1"`)
}

// Write operations are rejected; this core is read-only.
func TestWriteOperationsRejected(t *testing.T) {
	gs, err := schema.Parse([]byte(`
nodes:
  - label: User
    table: users
    node_id: [user_id]
    property_mappings:
      name:
        column: full_name
`))
	require.NoError(t, err)

	_, err = Translate(context.Background(), "CREATE (u:User {name: 'x'})", gs, nil, Options{})
	require.Error(t, err)
}

// Multi-type variable-length patterns over heterogeneous edge tables are
// enumerated as a UNION ALL of explicit joins, never a recursive CTE,
// and reject ranges beyond the 3-hop fan-out cap.
func TestMultiTypeVLPEnumeration(t *testing.T) {
	gs, err := schema.Parse([]byte(`
nodes:
  - label: Person
    table: people
    node_id: [person_id]
    property_mappings:
      name:
        column: full_name
  - label: Post
    table: posts
    node_id: [post_id]
    property_mappings:
      title:
        column: title

relationships:
  - type: FOLLOWS
    from_label: Person
    to_label: Person
    table: follows
    from_id: [follower_id]
    to_id: [followed_id]
  - type: AUTHORED
    from_label: Person
    to_label: Post
    table: authored
    from_id: [author_id]
    to_id: [post_id]
`))
	require.NoError(t, err)

	sql, err := Translate(context.Background(),
		"MATCH (a:Person)-[:FOLLOWS|AUTHORED*1..2]->(b) RETURN a.name",
		gs, nil, Options{})
	require.NoError(t, err)
	require.NotContains(t, sql, "WITH RECURSIVE")
	require.Contains(t, sql, "UNION ALL")
	require.Contains(t, sql, "follows")
	require.Contains(t, sql, "authored")

	_, err = Translate(context.Background(),
		"MATCH (a:Person)-[:FOLLOWS|AUTHORED*1..4]->(b) RETURN a.name",
		gs, nil, Options{})
	require.Error(t, err)
}

// UNWIND lowers to ClickHouse's ARRAY JOIN row-expansion.
func TestUnwindEmitsArrayJoin(t *testing.T) {
	gs, err := schema.Parse([]byte(`
nodes:
  - label: User
    table: users
    node_id: [user_id]
    property_mappings:
      name:
        column: full_name
`))
	require.NoError(t, err)

	sql, err := Translate(context.Background(),
		"MATCH (u:User) UNWIND [1, 2, 3] AS x RETURN x",
		gs, nil, Options{})
	require.NoError(t, err)
	require.Contains(t, sql, "ARRAY JOIN [1, 2, 3] AS x")
}

// length(p) over a variable-length path reads the recursive CTE's depth
// column; type(r) over a single-table relationship folds to a literal.
func TestPathAndTypeFunctions(t *testing.T) {
	gs, err := schema.Parse([]byte(`
nodes:
  - label: User
    table: users
    node_id: [user_id]
    property_mappings:
      name:
        column: full_name

relationships:
  - type: FOLLOWS
    from_label: User
    to_label: User
    table: follows
    from_id: [follower_id]
    to_id: [followed_id]
`))
	require.NoError(t, err)

	sql, err := Translate(context.Background(),
		"MATCH p = (a:User)-[:FOLLOWS*1..3]->(b:User) RETURN length(p)",
		gs, nil, Options{})
	require.NoError(t, err)
	require.Contains(t, sql, ".depth AS \"length(p)\"")

	sql, err = Translate(context.Background(),
		"MATCH (a:User)-[r:FOLLOWS]->(b:User) RETURN type(r)",
		gs, nil, Options{})
	require.NoError(t, err)
	require.Contains(t, sql, "'FOLLOWS' AS \"type(r)\"")
}

// A USE prefix qualifies every physical table with the database name.
func TestUsePrefixQualifiesTables(t *testing.T) {
	gs, err := schema.Parse([]byte(`
nodes:
  - label: User
    table: users
    node_id: [user_id]
    property_mappings:
      name:
        column: full_name
`))
	require.NoError(t, err)

	sql, err := Translate(context.Background(),
		"USE analytics MATCH (u:User) RETURN u.name",
		gs, nil, Options{})
	require.NoError(t, err)
	require.Contains(t, sql, "FROM analytics.users AS u")
}

// An OPTIONAL MATCH renders its hop with LEFT JOINs so unmatched rows
// survive.
func TestOptionalMatchUsesLeftJoin(t *testing.T) {
	gs, err := schema.Parse([]byte(`
nodes:
  - label: User
    table: users
    node_id: [user_id]
    property_mappings:
      name:
        column: full_name

relationships:
  - type: FOLLOWS
    from_label: User
    to_label: User
    table: follows
    from_id: [follower_id]
    to_id: [followed_id]
`))
	require.NoError(t, err)

	sql, err := Translate(context.Background(),
		"MATCH (a:User) OPTIONAL MATCH (a)-[:FOLLOWS]->(b:User) RETURN a.name, b.name",
		gs, nil, Options{})
	require.NoError(t, err)
	require.Contains(t, sql, "LEFT JOIN")
}
