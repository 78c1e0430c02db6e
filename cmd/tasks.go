package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cairnhq/cairn/internal/manager"
	"github.com/cairnhq/cairn/internal/store"
)

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and manage tasks from the command line",
	}
	cmd.AddCommand(tasksListCmd())
	cmd.AddCommand(tasksCreateCmd())
	cmd.AddCommand(tasksShowCmd())
	cmd.AddCommand(tasksRemoveCmd())
	cmd.AddCommand(tasksDebugCmd())
	return cmd
}

// openStore loads config and opens the shared database, exiting on error.
func openStore() *store.Store {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %s\n", err)
		os.Exit(1)
	}
	st, err := store.Open(cfg.DBPath(), store.Options{BusyTimeoutMS: cfg.Database.BusyTimeoutMS})
	if err != nil {
		fmt.Fprintf(os.Stderr, "store: %s\n", err)
		os.Exit(1)
	}
	return st
}

func tasksListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active tasks",
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			defer st.Close()

			rows, err := st.ListActiveTasks()
			if err != nil {
				fmt.Fprintf(os.Stderr, "list tasks: %s\n", err)
				os.Exit(1)
			}
			for _, row := range rows {
				fmt.Printf("%-28s %-10s %-20s %s\n",
					row.TaskID,
					store.PayloadString(row.Payload, store.KeyAgentKind),
					store.PayloadString(row.Payload, store.KeyStatus),
					firstLine(store.PayloadString(row.Payload, store.KeyDescription)))
			}
		},
	}
}

func tasksCreateCmd() *cobra.Command {
	var (
		kind     string
		repos    []string
		branch   string
		provider string
		model    string
	)
	cmd := &cobra.Command{
		Use:   "create <description>",
		Short: "Create a task and spawn its worker",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "config: %s\n", err)
				os.Exit(1)
			}
			st, err := store.Open(cfg.DBPath(), store.Options{BusyTimeoutMS: cfg.Database.BusyTimeoutMS})
			if err != nil {
				fmt.Fprintf(os.Stderr, "store: %s\n", err)
				os.Exit(1)
			}
			defer st.Close()

			mgr := manager.New(cfg, st)
			runID, err := mgr.CreateTask(manager.CreateTaskRequest{
				Description: args[0],
				Kind:        kind,
				Repos:       repos,
				Branch:      branch,
				Provider:    provider,
				Model:       model,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "create task: %s\n", err)
				os.Exit(1)
			}
			fmt.Println(runID)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", store.KindPlanner, "agent kind (Planner, Manager, Engineer)")
	cmd.Flags().StringSliceVar(&repos, "repo", nil, "target repository (repeatable; default all connected)")
	cmd.Flags().StringVar(&branch, "branch", "", "working branch (auto-generated when empty)")
	cmd.Flags().StringVar(&provider, "provider", "", "model provider override")
	cmd.Flags().StringVar(&model, "model", "", "model name override")
	return cmd
}

func tasksShowCmd() *cobra.Command {
	var showLogs bool
	cmd := &cobra.Command{
		Use:   "show <run_id>",
		Short: "Print a task's payload (and optionally its logs) as JSON",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			defer st.Close()

			payload, err := st.GetActiveTask(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "load task: %s\n", err)
				os.Exit(1)
			}
			out := map[string]any{"task_id": args[0], "payload": payload}
			if showLogs {
				logs, err := st.LogsForTask(args[0])
				if err != nil {
					fmt.Fprintf(os.Stderr, "load logs: %s\n", err)
					os.Exit(1)
				}
				out["logs"] = logs
			}
			data, _ := json.MarshalIndent(out, "", "  ")
			fmt.Println(string(data))
		},
	}
	cmd.Flags().BoolVar(&showLogs, "logs", false, "include progress logs")
	return cmd
}

func tasksRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <run_id>",
		Short: "Delete a task, its logs, and its run links",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			defer st.Close()

			if err := st.RemoveLogsForTask(args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "remove logs: %s\n", err)
				os.Exit(1)
			}
			if err := st.RemoveActiveTask(args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "remove task: %s\n", err)
				os.Exit(1)
			}
			fmt.Printf("removed %s\n", args[0])
		},
	}
}

func tasksDebugCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Print the operator debug feed",
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			defer st.Close()

			msgs, err := st.DebugMessages(n)
			if err != nil {
				fmt.Fprintf(os.Stderr, "debug feed: %s\n", err)
				os.Exit(1)
			}
			for _, m := range msgs {
				fmt.Println(m.Message)
			}
		},
	}
	cmd.Flags().IntVar(&n, "n", 100, "number of messages")
	return cmd
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
