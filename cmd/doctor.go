package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cairnhq/cairn/internal/config"
	"github.com/cairnhq/cairn/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("cairn doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults + env apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Database:")
	fmt.Printf("    %-12s %s\n", "Path:", cfg.DBPath())
	st, err := store.Open(cfg.DBPath(), store.Options{BusyTimeoutMS: cfg.Database.BusyTimeoutMS})
	if err != nil {
		fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Status:", err)
	} else {
		defer st.Close()
		fmt.Printf("    %-12s OK (WAL, migrations applied)\n", "Status:")
		if rows, err := st.ListActiveTasks(); err == nil {
			fmt.Printf("    %-12s %d\n", "Tasks:", len(rows))
		}
	}

	fmt.Println()
	fmt.Println("  Providers:")
	checkSecret("Anthropic", cfg.Providers.Anthropic.APIKey)
	checkSecret("OpenAI", cfg.Providers.OpenAI.APIKey)

	fmt.Println()
	fmt.Println("  Git host:")
	checkSecret("Token", cfg.GitHost.Token)
	if len(cfg.GitHost.Repos) == 0 {
		fmt.Printf("    %-12s (none connected)\n", "Repos:")
	} else {
		fmt.Printf("    %-12s %s\n", "Repos:", strings.Join(cfg.GitHost.Repos, ", "))
	}

	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary("git")
	checkBinary("curl")

	fmt.Println()
	settingsDir := config.ExpandHome(cfg.Agents.SettingsDir)
	fmt.Printf("  Settings: %s", settingsDir)
	if _, err := os.Stat(settingsDir); err != nil {
		fmt.Println(" (NOT FOUND, created on first run)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkSecret(name, secret string) {
	if secret == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	masked := secret
	if len(secret) > 8 {
		masked = secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
	} else {
		masked = "***"
	}
	fmt.Printf("    %-12s %s\n", name+":", masked)
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
