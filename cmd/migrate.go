package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-vault/internal/config"
	"github.com/kozaktomas/face-vault/internal/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Apply pending database migrations to the PostgreSQL database.
Already applied migrations are skipped. With --status, only lists the
applied migrations without changing anything.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().Bool("status", false, "List applied migrations without applying anything")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	if mustGetBool(cmd, "status") {
		applied, err := pool.MigrationsApplied(ctx)
		if err != nil {
			return fmt.Errorf("list migrations: %w", err)
		}
		if len(applied) == 0 {
			fmt.Println("No migrations applied yet")
			return nil
		}
		fmt.Printf("Applied migrations (%d):\n", len(applied))
		for _, name := range applied {
			fmt.Printf("  %s\n", name)
		}
		return nil
	}

	if err := pool.Migrate(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	fmt.Println("Migrations up to date")
	return nil
}
