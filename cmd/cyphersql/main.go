// Package main provides the cyphersql CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orneryd/cyphersql/pkg/cyconfig"
	"github.com/orneryd/cyphersql/pkg/schema"
	"github.com/orneryd/cyphersql/pkg/translate"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cyphersql",
		Short: "cyphersql - Cypher-to-ClickHouse-SQL translator",
		Long: `cyphersql translates a read-only subset of openCypher into
ClickHouse-dialect SQL against a schema that maps graph labels and
relationship types onto physical tables.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cyphersql v%s (%s)\n", version, commit)
		},
	})

	translateCmd := &cobra.Command{
		Use:   "translate [cypher query]",
		Short: "Translate a Cypher query to ClickHouse SQL",
		Args:  cobra.ExactArgs(1),
		RunE:  runTranslate,
	}
	translateCmd.Flags().String("schema", "", "Path to the graph schema YAML file (defaults to CYPHERSQL_SCHEMA_PATH)")
	translateCmd.Flags().String("params", "{}", "JSON object of query parameters")
	translateCmd.Flags().Int("max-hops", 0, "Ceiling for unbounded variable-length patterns (defaults to CYPHERSQL_MAX_CTE_DEPTH)")
	rootCmd.AddCommand(translateCmd)

	checkCmd := &cobra.Command{
		Use:   "check [cypher query]",
		Short: "Translate a Cypher query and report success without printing the SQL",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheck,
	}
	checkCmd.Flags().String("schema", "", "Path to the graph schema YAML file (defaults to CYPHERSQL_SCHEMA_PATH)")
	checkCmd.Flags().String("params", "{}", "JSON object of query parameters")
	rootCmd.AddCommand(checkCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runTranslate(cmd *cobra.Command, args []string) error {
	cfg := cyconfig.LoadFromEnv()

	schemaPath, _ := cmd.Flags().GetString("schema")
	if schemaPath == "" {
		schemaPath = cfg.SchemaPath
	}
	sch, err := schema.Load(schemaPath)
	if err != nil {
		return err
	}

	paramsJSON, _ := cmd.Flags().GetString("params")
	params := map[string]interface{}{}
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		return fmt.Errorf("invalid --params JSON: %w", err)
	}

	maxHops, _ := cmd.Flags().GetInt("max-hops")
	if maxHops == 0 {
		maxHops = cfg.MaxHops
	}

	sql, err := translate.Translate(context.Background(), args[0], sch, params, translate.Options{MaxHops: maxHops})
	if err != nil {
		return err
	}
	fmt.Println(sql)
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg := cyconfig.LoadFromEnv()

	schemaPath, _ := cmd.Flags().GetString("schema")
	if schemaPath == "" {
		schemaPath = cfg.SchemaPath
	}
	sch, err := schema.Load(schemaPath)
	if err != nil {
		return err
	}

	paramsJSON, _ := cmd.Flags().GetString("params")
	params := map[string]interface{}{}
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		return fmt.Errorf("invalid --params JSON: %w", err)
	}

	if _, err := translate.Translate(context.Background(), args[0], sch, params, translate.Options{MaxHops: cfg.MaxHops}); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}
