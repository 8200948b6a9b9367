package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/client"
	"github.com/ricesearch/rice-eval/internal/grpcclient"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the evaluation history of a running server",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}

	cmd.Flags().String("server", "http://localhost:8080", "HTTP server URL")
	cmd.Flags().String("grpc", "", "gRPC server address (takes precedence over --server)")

	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if addr, _ := cmd.Flags().GetString("grpc"); addr != "" {
		gc, err := grpcclient.New(grpcclient.Config{ServerAddress: addr})
		if err != nil {
			return err
		}
		defer gc.Close()

		snapshots, err := gc.History(ctx)
		if err != nil {
			return fmt.Errorf("fetching history: %w", err)
		}
		return render(cmd.OutOrStdout(), format, snapshots)
	}

	serverURL, _ := cmd.Flags().GetString("server")
	snapshots, err := client.New(client.Config{BaseURL: serverURL}).History(ctx)
	if err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}
	return render(cmd.OutOrStdout(), format, snapshots)
}
