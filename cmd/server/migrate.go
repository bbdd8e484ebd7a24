package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atinyakov/memberauth/internal/config"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Apply all pending schema migrations to the configured MySQL or PostgreSQL database.`,
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if cfg.Driver() == driverMemory {
		return oops.Code("CONFIG_INVALID").Errorf("the memory driver has no schema to migrate")
	}

	cmd.Println("Running migrations...")
	_, closeStore, err := openStore(cmd.Context(), cfg, true, zap.NewNop())
	if err != nil {
		return err
	}
	if err := closeStore(); err != nil {
		return oops.Code("DB_CLOSE_FAILED").Wrap(err)
	}

	cmd.Println("Migrations completed successfully")
	return nil
}
