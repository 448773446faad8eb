package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/treservi/notify-engine/internal/infrastructure/repositories"
)

func newMigrateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  "Apply, inspect or roll back the push subscription and appointment schema.",
	}
	cmd.PersistentFlags().String("database-url", "", "Postgres connection URL")
	bindFlags(a.viper, cmd.PersistentFlags(), map[string]string{
		"database-url": "database.url",
	})

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool) error {
					if err := repositories.RunMigrations(ctx, pool); err != nil {
						return err
					}
					a.logger.Info("migrations applied")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the state of every migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withPool(cmd.Context(), repositories.MigrationStatus)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withPool(cmd.Context(), repositories.RollbackMigration)
			},
		},
	)
	return cmd
}

func (a *app) withPool(ctx context.Context, fn func(context.Context, *pgxpool.Pool) error) error {
	db := a.config.Database
	if db.URL == "" {
		return fmt.Errorf("database url is required (--database-url or NOTIFY_DATABASE_URL)")
	}
	pool, err := repositories.NewPostgresPool(ctx, repositories.PostgresConfig{
		URL:             db.URL,
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnIdleTime: db.MaxConnIdleTime,
		MaxConnLifetime: db.MaxConnLifetime,
	})
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, pool)
}
