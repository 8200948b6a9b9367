package main

import (
	"context"
	"fmt"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ricesearch/rice-eval/internal/grpcserver"
	"github.com/ricesearch/rice-eval/internal/server"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC evaluation servers",
		Long: `Serve exposes the evaluator over HTTP (REST + /metrics) and gRPC, sharing one
append-only history between both surfaces. Every recorded snapshot is
published on the configured event bus.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().String("host", "0.0.0.0", "server host")
	cmd.Flags().Int("http-port", 8080, "HTTP server port")
	cmd.Flags().Int("grpc-port", 50051, "gRPC server port (0 disables gRPC)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	appCfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Override from flags
	if cmd.Flags().Changed("host") {
		appCfg.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("http-port") {
		appCfg.Port, _ = cmd.Flags().GetInt("http-port")
	}
	if cmd.Flags().Changed("grpc-port") {
		appCfg.GRPCPort, _ = cmd.Flags().GetInt("grpc-port")
	}
	if err := appCfg.Validate(); err != nil {
		return err
	}

	log := newLogger(appCfg)
	log.Info("Starting Rice Eval server",
		"version", version,
		"http_addr", appCfg.Address(),
		"grpc_addr", appCfg.GRPCAddress(),
	)

	srvCfg := server.DefaultConfig()
	srvCfg.Host = appCfg.Host
	srvCfg.Port = appCfg.Port
	srvCfg.Version = version
	srvCfg.ShutdownTimeout = shutdownTimeout

	srv, err := server.New(srvCfg, *appCfg, log)
	if err != nil {
		return err
	}

	var grpcSrv *grpcserver.Server
	if addr := appCfg.GRPCAddress(); addr != "" {
		grpcCfg := grpcserver.DefaultConfig()
		grpcCfg.TCPAddr = addr
		grpcSrv = grpcserver.New(grpcCfg, log, srv.Service())
	}

	// Platform-specific: Unix includes SIGQUIT, Windows does not
	ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals...)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcSrv != nil {
		g.Go(func() error {
			if err := grpcSrv.Start(); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutdown signal received")

		if grpcSrv != nil {
			grpcSrv.Stop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server exited with error", "error", err)
		return err
	}

	log.Info("Server stopped cleanly")
	return nil
}
