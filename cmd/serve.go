package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cairnhq/cairn/internal/httpapi"
	"github.com/cairnhq/cairn/internal/manager"
	"github.com/cairnhq/cairn/internal/store"
	"github.com/cairnhq/cairn/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator: worker manager plus HTTP API",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %s\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry init failed, continuing without traces", "error", err)
	} else {
		defer shutdownTracing(context.Background())
	}

	st, err := store.Open(cfg.DBPath(), store.Options{BusyTimeoutMS: cfg.Database.BusyTimeoutMS})
	if err != nil {
		fmt.Fprintf(os.Stderr, "store: %s\n", err)
		os.Exit(1)
	}
	defer st.Close()

	mgr := manager.New(cfg, st)
	mgr.Start()
	defer mgr.Stop()

	server := httpapi.NewServer(cfg, st, mgr)
	if err := server.ListenAndServe(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "server: %s\n", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}
