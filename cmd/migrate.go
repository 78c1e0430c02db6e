package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/cairnhq/cairn/migrations"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateDownCmd())
	cmd.AddCommand(migrateVersionCmd())
	return cmd
}

// newMigrator opens the database directly (bypassing the store, which
// auto-migrates) and builds a migrator over the embedded SQL.
func newMigrator() (*migrate.Migrate, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", "file:"+cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	drv, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", src, "sqlite", drv)
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Run: func(cmd *cobra.Command, args []string) {
			m, err := newMigrator()
			if err != nil {
				fmt.Fprintf(os.Stderr, "migrate: %s\n", err)
				os.Exit(1)
			}
			if err := m.Up(); err != nil {
				if errors.Is(err, migrate.ErrNoChange) {
					fmt.Println("schema already up to date")
					return
				}
				fmt.Fprintf(os.Stderr, "migrate up: %s\n", err)
				os.Exit(1)
			}
			fmt.Println("migrations applied")
		},
	}
}

func migrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Run: func(cmd *cobra.Command, args []string) {
			m, err := newMigrator()
			if err != nil {
				fmt.Fprintf(os.Stderr, "migrate: %s\n", err)
				os.Exit(1)
			}
			if err := m.Steps(-1); err != nil {
				fmt.Fprintf(os.Stderr, "migrate down: %s\n", err)
				os.Exit(1)
			}
			fmt.Println("rolled back one migration")
		},
	}
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Run: func(cmd *cobra.Command, args []string) {
			m, err := newMigrator()
			if err != nil {
				fmt.Fprintf(os.Stderr, "migrate: %s\n", err)
				os.Exit(1)
			}
			version, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				fmt.Println("no migrations applied")
				return
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "migrate version: %s\n", err)
				os.Exit(1)
			}
			state := ""
			if dirty {
				state = " (dirty)"
			}
			fmt.Printf("schema version %d%s\n", version, state)
		},
	}
}
