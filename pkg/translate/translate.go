// Package translate wires the parser, planner, analyzer, optimizer,
// render planner, and SQL generator into the single public entry point
// this module exposes: turning one Cypher query string plus a graph
// schema into ClickHouse SQL text.
package translate

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/orneryd/cyphersql/pkg/analyzer"
	"github.com/orneryd/cyphersql/pkg/optimizer"
	"github.com/orneryd/cyphersql/pkg/parser"
	"github.com/orneryd/cyphersql/pkg/planner"
	"github.com/orneryd/cyphersql/pkg/render"
	"github.com/orneryd/cyphersql/pkg/schema"
	"github.com/orneryd/cyphersql/pkg/sqlgen"
)

var (
	tracer         = otel.Tracer("github.com/orneryd/cyphersql/pkg/translate")
	meter          = otel.Meter("github.com/orneryd/cyphersql/pkg/translate")
	translationsCt metric.Int64Counter
)

func init() {
	// Ignored: a no-op meter provider (the default until a caller wires a
	// real one) never errors on instrument creation.
	translationsCt, _ = meter.Int64Counter("cyphersql.translations.total",
		metric.WithDescription("Cypher-to-SQL translations, tagged by outcome"))
}

// Options controls translator behavior that isn't implied by the query
// or schema themselves.
type Options struct {
	// MaxHops bounds an unbounded variable-length pattern (`*` or
	// `*min..`). Defaults to 15 when zero, the same default
	// cyconfig.LoadFromEnv applies to CYPHERSQL_MAX_CTE_DEPTH.
	MaxHops int

	// Database, when non-empty, qualifies every physical table reference
	// in the emitted SQL. A `USE db` prefix in the query itself takes
	// precedence.
	Database string
}

// Translate compiles one Cypher query into ClickHouse SQL against sch,
// substituting params for every `$name` reference. Each pipeline stage
// runs under the "cyphersql.translate" parent span so a caller with
// tracing wired up can see which stage a slow or failing translation
// spent its time in.
func Translate(ctx context.Context, query string, sch *schema.GraphSchema, params map[string]interface{}, opts Options) (string, error) {
	maxHops := opts.MaxHops
	if maxHops == 0 {
		maxHops = 15
	}

	ctx, span := tracer.Start(ctx, "cyphersql.translate", trace.WithAttributes(
		attribute.Int("cyphersql.query_length", len(query)),
	))
	defer span.End()

	outcome := "ok"
	defer func() {
		translationsCt.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}()

	_, parseSpan := tracer.Start(ctx, "cyphersql.parse")
	q, err := parser.Parse(query)
	parseSpan.End()
	if err != nil {
		outcome = "parse_error"
		log.Printf("[cyphersql] parse error: %v", err)
		span.RecordError(err)
		return "", err
	}

	_, planSpan := tracer.Start(ctx, "cyphersql.plan")
	planNode, planCtx, err := planner.Build(q, maxHops)
	planSpan.End()
	if err != nil {
		outcome = "plan_error"
		log.Printf("[cyphersql] planning error: %v", err)
		span.RecordError(err)
		return "", err
	}

	_, analyzeSpan := tracer.Start(ctx, "cyphersql.analyze")
	res, err := analyzer.Analyze(planNode, planCtx, sch, params)
	analyzeSpan.End()
	if err != nil {
		outcome = "analyze_error"
		log.Printf("[cyphersql] analysis error: %v", err)
		span.RecordError(err)
		return "", err
	}

	_, optimizeSpan := tracer.Start(ctx, "cyphersql.optimize")
	res.Plan = optimizer.Optimize(res, planCtx)
	optimizeSpan.End()

	_, renderSpan := tracer.Start(ctx, "cyphersql.render")
	stmt, err := render.Build(res, planCtx, sch)
	renderSpan.End()
	if err != nil {
		outcome = "render_error"
		log.Printf("[cyphersql] render error: %v", err)
		span.RecordError(err)
		return "", err
	}
	stmt.Database = opts.Database
	if q.Use != "" {
		stmt.Database = q.Use
	}

	_, sqlSpan := tracer.Start(ctx, "cyphersql.sqlgen")
	sql, err := sqlgen.Generate(stmt, res, sch, params)
	sqlSpan.End()
	if err != nil {
		outcome = "sqlgen_error"
		log.Printf("[cyphersql] sql generation error: %v", err)
		span.RecordError(err)
		return "", err
	}

	span.SetAttributes(attribute.Int("cyphersql.sql_length", len(sql)))
	return sql, nil
}
