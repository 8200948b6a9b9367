// Package main provides the rice-eval binary: a Hit-Rate@K evaluator for
// ranked retrieval output, usable as a one-shot CLI or as a server.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/evaluation"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rice-eval",
		Short: "Rice Eval - Hit-Rate@K evaluation for ranked retrieval",
		Long: `Rice Eval scores ranked prediction lists against ground truth and keeps
an append-only history of every evaluation run.

Examples:
  rice-eval evaluate runs.yaml                  # Evaluate locally
  rice-eval evaluate runs.yaml --format json    # JSON output
  rice-eval evaluate runs.yaml --server http://localhost:8080
  rice-eval history --grpc localhost:50051      # Remote history
  rice-eval serve                               # HTTP + gRPC server
  rice-eval watch                               # Follow snapshot events`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().String("format", "text", "output format (text, json)")

	rootCmd.AddCommand(
		evaluateCmd(),
		historyCmd(),
		serveCmd(),
		watchCmd(),
		versionCmd(),
	)

	return rootCmd
}

// loadConfig loads the config named by --config and applies --verbose.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logger.Logger {
	return logger.New(cfg.Log.Level, cfg.Log.Format)
}

// outputFormat validates --format.
func outputFormat(cmd *cobra.Command) (string, error) {
	format, _ := cmd.Flags().GetString("format")
	switch f := strings.ToLower(format); f {
	case "text", "json":
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q (must be text or json)", format)
	}
}

func render(w io.Writer, format string, snapshots []evaluation.MetricSnapshot) error {
	if format == "json" {
		return evaluation.WriteJSON(w, snapshots)
	}
	return evaluation.WriteText(w, snapshots)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rice-eval %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}
