package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version information - will be set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "metamark",
		Short: "Markdown-driven metamodel compiler",
		Long: `Metamark compiles annotated markdown entity documents into a relational
schema: SQLite DDL for tables, indexes and label views, plus user-defined
reporting views built from path expressions.`,
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(applyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds a console logger at the configured level.
func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
