package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/bus"
	"github.com/ricesearch/rice-eval/internal/client"
	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/evaluation"
	"github.com/ricesearch/rice-eval/internal/grpcclient"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

// remoteEvaluator is implemented by both the HTTP and gRPC clients.
type remoteEvaluator interface {
	Evaluate(ctx context.Context, req evaluation.EvaluateRequest) (evaluation.MetricSnapshot, error)
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate FILE",
		Short: "Evaluate one or more runs from a YAML or JSON file",
		Long: `Evaluate reads ground truth and ranked predictions from FILE ("-" for stdin)
and prints Hit-Rate@K for every run. A file holds either one run:

  label: baseline
  ground_truth: [a, b]
  predictions: [[x, a, y], [b, c, d]]

or a list of runs under "runs:". Runs are scored locally unless --server or
--grpc points at a running rice-eval server.`,
		Args: cobra.ExactArgs(1),
		RunE: runEvaluate,
	}

	cmd.Flags().IntSlice("cutoffs", nil, "extra cutoffs to track (1, 3 and 5 are always tracked)")
	cmd.Flags().String("alignment", "", "length mismatch policy (strict, truncate)")
	cmd.Flags().String("server", "", "evaluate on a remote HTTP server, e.g. http://localhost:8080")
	cmd.Flags().String("grpc", "", "evaluate on a remote gRPC server, e.g. localhost:50051")
	cmd.Flags().Bool("publish", false, "publish local snapshots on the configured bus")

	return cmd
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	reqs, err := loadDataset(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	serverURL, _ := cmd.Flags().GetString("server")
	grpcAddr, _ := cmd.Flags().GetString("grpc")

	var snapshots []evaluation.MetricSnapshot
	switch {
	case serverURL != "" && grpcAddr != "":
		return fmt.Errorf("--server and --grpc are mutually exclusive")
	case serverURL != "":
		snapshots, err = evaluateRemote(ctx, client.New(client.Config{BaseURL: serverURL}), reqs)
	case grpcAddr != "":
		gc, gerr := grpcclient.New(grpcclient.Config{ServerAddress: grpcAddr})
		if gerr != nil {
			return gerr
		}
		defer gc.Close()
		snapshots, err = evaluateRemote(ctx, gc, reqs)
	default:
		snapshots, err = evaluateLocal(ctx, cmd, cfg, log, reqs)
	}
	if err != nil {
		return err
	}

	return render(cmd.OutOrStdout(), format, snapshots)
}

func evaluateRemote(ctx context.Context, r remoteEvaluator, reqs []evaluation.EvaluateRequest) ([]evaluation.MetricSnapshot, error) {
	snapshots := make([]evaluation.MetricSnapshot, 0, len(reqs))
	for i, req := range reqs {
		s, err := r.Evaluate(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", i+1, err)
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, nil
}

func evaluateLocal(ctx context.Context, cmd *cobra.Command, cfg *config.Config, log *logger.Logger, reqs []evaluation.EvaluateRequest) ([]evaluation.MetricSnapshot, error) {
	cutoffs := cfg.Evaluation.Cutoffs
	if cmd.Flags().Changed("cutoffs") {
		cutoffs, _ = cmd.Flags().GetIntSlice("cutoffs")
	}
	alignment := cfg.Evaluation.Alignment
	if a, _ := cmd.Flags().GetString("alignment"); a != "" {
		alignment = a
	}

	align, err := evaluation.ParseAlignment(alignment)
	if err != nil {
		return nil, err
	}
	evaluator, err := evaluation.NewHitRateEvaluator(evaluation.Options{
		Cutoffs:   cutoffs,
		Alignment: align,
	})
	if err != nil {
		return nil, err
	}

	svc := evaluation.NewService(evaluator, log)

	if publish, _ := cmd.Flags().GetBool("publish"); publish {
		b, err := bus.NewBus(cfg.Bus, log)
		if err != nil {
			return nil, err
		}
		// Close drains in-flight handlers before the process exits.
		defer b.Close()
		svc.AddObserver(evaluation.NewSnapshotPublisher(b, cfg.Bus.Topic, log))
	}

	for i, req := range reqs {
		if _, err := svc.Evaluate(ctx, evaluation.Request(req)); err != nil {
			return nil, fmt.Errorf("run %d: %w", i+1, err)
		}
	}

	return svc.History(), nil
}
