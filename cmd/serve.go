package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/treservi/notify-engine/internal/di"
	"github.com/treservi/notify-engine/internal/infrastructure/repositories"
)

func newServeCommand(a *app) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the backend API",
		Long: `Run the backend API: push subscription management, authoritative unread counts,
appointment dispatch to the live feed and web push, and badge sync.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := di.NewBackendContainer(ctx, a.config, a.logger)
			if err != nil {
				return err
			}
			defer c.Close()

			if migrate {
				if c.Pool == nil {
					c.Logger.Warn("no database configured, skipping migrations")
				} else if err := repositories.RunMigrations(ctx, c.Pool); err != nil {
					return err
				}
			}

			c.Logger.Info("starting backend",
				"address", a.config.Server.Address,
				"feed", a.config.Feed.Type,
				"push", a.config.PushEnabled())
			return c.HTTPServer.Run(ctx, a.config.Server.Address)
		},
	}

	cmd.Flags().String("address", "", "Address to listen on")
	cmd.Flags().String("database-url", "", "Postgres connection URL")
	cmd.Flags().String("feed", "", "Change feed (nats, postgres, memory)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply pending migrations before serving")
	bindFlags(a.viper, cmd.Flags(), map[string]string{
		"address":      "server.address",
		"database-url": "database.url",
		"feed":         "feed.type",
	})
	return cmd
}
