package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cairnhq/cairn/internal/agent"
	"github.com/cairnhq/cairn/internal/store"
	"github.com/cairnhq/cairn/internal/tracing"
)

// workerCmd is the child-process entrypoint: the manager spawns
// "cairn worker <run_id>" for every task. A nonzero exit tells the
// manager's monitor the run crashed.
func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "worker <run_id>",
		Short:  "Execute one agent run (spawned by the manager)",
		Args:   cobra.ExactArgs(1),
		Hidden: true,
		Run: func(cmd *cobra.Command, args []string) {
			runWorker(args[0])
		},
	}
}

func runWorker(runID string) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %s\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry)
	if err == nil {
		defer shutdownTracing(context.Background())
	}

	st, err := store.Open(cfg.DBPath(), store.Options{BusyTimeoutMS: cfg.Database.BusyTimeoutMS})
	if err != nil {
		fmt.Fprintf(os.Stderr, "store: %s\n", err)
		os.Exit(1)
	}
	defer st.Close()

	rt, err := agent.NewRuntime(cfg, st)
	if err != nil {
		fmt.Fprintf(os.Stderr, "runtime: %s\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	if err := rt.RunWorker(ctx, runID); err != nil {
		slog.Error("worker run failed", "run_id", runID, "error", err)
		os.Exit(1)
	}
}
