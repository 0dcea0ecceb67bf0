package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"collabcanvas/api/internal/store"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations, or roll back the latest with --down",
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("DATABASE_URL is required")
		}
		ctx := cmd.Context()
		db, err := store.Open(ctx, cfg.DatabaseURL, dbPool())
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		if migrateDown {
			version, err := store.RollbackMigration(ctx, db, cfg.MigrationsDir)
			if err != nil {
				return err
			}
			if version == "" {
				logger.Info("no migrations to roll back")
				return nil
			}
			logger.Info("migration rolled back", zap.String("version", version))
			return nil
		}

		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", zap.Strings("versions", applied))
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll back the most recent migration")
}

func dbPool() store.Pool {
	return store.Pool{
		MaxOpenConns:    cfg.DBMaxOpen,
		MaxIdleConns:    cfg.DBMaxIdle,
		ConnMaxLifetime: cfg.DBConnLifetime,
	}
}
