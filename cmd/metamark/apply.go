package main

import (
	"database/sql"
	"fmt"

	"github.com/fatih/color"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/metamark-lang/metamark/internal/apply"
)

var applyDB string

func init() {
	applyCmd.Flags().StringVar(&applyDB, "db", "", "SQLite database file (defaults to the configured path)")
}

var applyCmd = &cobra.Command{
	Use:   "apply [dir]",
	Short: "Compile a schema directory and apply it to a SQLite database",
	Long:  "Compile the schema, then execute every generated statement in dependency order inside one transaction",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := compileSchema(args)
		if err != nil {
			return err
		}
		defer result.Logger.Sync()
		printDiagnostics(result)

		dbPath := applyDB
		if dbPath == "" {
			dbPath = result.Config.DatabasePath()
		}
		if dbPath == "" {
			return fmt.Errorf("no database path configured - pass --db or set database.path in metamark.yml")
		}

		db, err := sql.Open("sqlite3", dbPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		statements := result.Statements
		for _, v := range result.Views {
			statements = append(statements, v.SQL())
		}

		runner := apply.NewRunner(db, result.Logger)
		if err := runner.Initialize(); err != nil {
			return err
		}
		if err := runner.Apply(statements); err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s applied %d statement(s) to %s\n", green("✓"), len(statements), dbPath)
		return nil
	},
}
