package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/metamark-lang/metamark/compiler/schema"
	"github.com/metamark-lang/metamark/compiler/sqlgen"
	"github.com/metamark-lang/metamark/compiler/view"
	"github.com/metamark-lang/metamark/internal/cli/config"
	"github.com/metamark-lang/metamark/internal/loader"
)

var (
	compileOut  string
	compileJSON bool
)

func init() {
	compileCmd.Flags().StringVar(&compileOut, "out", "", "Write generated SQL files to this directory instead of stdout")
	compileCmd.Flags().BoolVar(&compileJSON, "json", false, "Emit schema graph metadata as JSON")
}

var compileCmd = &cobra.Command{
	Use:   "compile [dir]",
	Short: "Compile a schema directory to SQL",
	Long:  "Load entity documents, areas and view definitions from a directory and emit the CREATE TABLE/INDEX/VIEW statements",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := compileSchema(args)
		if err != nil {
			return err
		}
		defer result.Logger.Sync()
		printDiagnostics(result)

		if compileJSON {
			return emitJSON(result.Graph)
		}
		if compileOut != "" {
			return writeOutput(compileOut, result)
		}

		for _, stmt := range result.Statements {
			fmt.Println(stmt)
			fmt.Println()
		}
		for _, v := range result.Views {
			fmt.Println(v.SQL())
			fmt.Println()
		}
		return nil
	},
}

// compileResult bundles everything one compile pass produces. Config and
// Logger are handed back so commands never have to rebuild them; the caller
// owns the logger and must Sync it.
type compileResult struct {
	Config     *config.Config
	Logger     *zap.Logger
	Graph      *schema.Graph
	Statements []string
	Views      []view.CompiledView
	Errors     []error
	Warnings   []string
}

// compileSchema runs the full pipeline: load, schema-compile, generate DDL,
// compile views.
func compileSchema(args []string) (*compileResult, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	dir := cfg.SchemaDir
	if len(args) > 0 {
		dir = args[0]
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	loaded, err := loader.New(logger).Load(dir)
	if err != nil {
		return nil, err
	}
	if len(loaded.Documents) == 0 {
		return nil, fmt.Errorf("no entity documents found in %s", dir)
	}

	entityNames := make([]string, len(loaded.Documents))
	for i, doc := range loaded.Documents {
		entityNames[i] = doc.Name
	}

	compiler := schema.NewCompiler(loaded.Registry)
	graph := compiler.Compile(loaded.Documents, entityNames, loaded.Areas)
	if len(graph.Unordered) > 0 {
		logger.Warn("entities trapped in a foreign-key cycle are excluded from the creation order",
			zap.Strings("entities", graph.Unordered))
	}

	statements := sqlgen.NewDDLGenerator().GenerateSchema(graph)
	views := view.NewCompiler(logger).Compile(loaded.Views, graph)

	return &compileResult{
		Config:     cfg,
		Logger:     logger,
		Graph:      graph,
		Statements: statements,
		Views:      views,
		Errors:     compiler.Errors(),
		Warnings:   compiler.Warnings(),
	}, nil
}

// printDiagnostics renders compiler warnings and entity-level errors to
// stderr. Errors are non-fatal: the affected entities were dropped and the
// rest of the schema compiled.
func printDiagnostics(result *compileResult) {
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "%s %s\n", yellow("warning:"), w)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("error:"), e)
	}
}

// graphMetadata is the JSON shape emitted by --json.
type graphMetadata struct {
	Ordered   []string              `json:"ordered"`
	Unordered []string              `json:"unordered,omitempty"`
	Entities  map[string]entityMeta `json:"entities"`
}

type entityMeta struct {
	Table   string   `json:"table"`
	Area    string   `json:"area,omitempty"`
	Columns []string `json:"columns"`
	Label   string   `json:"label,omitempty"`
}

func emitJSON(g *schema.Graph) error {
	meta := graphMetadata{
		Ordered:   g.Ordered,
		Unordered: g.Unordered,
		Entities:  make(map[string]entityMeta, len(g.Entities)),
	}
	for name, ent := range g.Entities {
		cols := make([]string, len(ent.Columns))
		for i, c := range ent.Columns {
			cols[i] = c.Name
		}
		meta.Entities[name] = entityMeta{
			Table:   ent.TableName,
			Area:    ent.Area,
			Columns: cols,
			Label:   ent.Labels.Primary,
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

// writeOutput writes schema.sql and views.sql into the output directory.
func writeOutput(dir string, result *compileResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	schemaSQL := strings.Join(result.Statements, "\n\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, "schema.sql"), []byte(schemaSQL), 0o644); err != nil {
		return fmt.Errorf("failed to write schema.sql: %w", err)
	}

	if len(result.Views) > 0 {
		parts := make([]string, len(result.Views))
		for i, v := range result.Views {
			parts[i] = v.SQL()
		}
		viewSQL := strings.Join(parts, "\n\n") + "\n"
		if err := os.WriteFile(filepath.Join(dir, "views.sql"), []byte(viewSQL), 0o644); err != nil {
			return fmt.Errorf("failed to write views.sql: %w", err)
		}
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s wrote %d statement(s) and %d view(s) to %s\n",
		green("✓"), len(result.Statements), len(result.Views), dir)
	return nil
}
