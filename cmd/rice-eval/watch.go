package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/bus"
	"github.com/ricesearch/rice-eval/internal/evaluation"
)

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow snapshots published on the configured event bus",
		Long: `Watch subscribes to the snapshot topic of the configured bus (kafka or
redis; the memory bus only sees events from the same process) and prints
every snapshot as it arrives until interrupted.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	b, err := bus.NewBus(cfg.Bus, log)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals...)
	defer stop()

	out := cmd.OutOrStdout()
	if err := b.Subscribe(ctx, cfg.Bus.Topic, snapshotPrinter(out, format)); err != nil {
		return fmt.Errorf("subscribing to %s: %w", cfg.Bus.Topic, err)
	}

	log.Info("Watching for snapshots", "bus", cfg.Bus.Type, "topic", cfg.Bus.Topic)
	<-ctx.Done()
	return nil
}

// snapshotPrinter renders each received snapshot on its own. Kafka runs
// one handler call per partition concurrently, so writes to w are
// serialized.
func snapshotPrinter(w io.Writer, format string) bus.Handler {
	var mu sync.Mutex
	return func(ctx context.Context, event bus.Event) error {
		s, err := evaluation.SnapshotFromEvent(event)
		if err != nil {
			return err
		}

		mu.Lock()
		defer mu.Unlock()
		return render(w, format, []evaluation.MetricSnapshot{s})
	}
}
