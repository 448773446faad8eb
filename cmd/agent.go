package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/treservi/notify-engine/internal/di"
)

func newAgentCommand(a *app) *cobra.Command {
	var enable bool

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the device engine for one identity",
		Long: `Run the device engine: it keeps the unread count for the configured identity,
follows the live feed, renders the badge and exposes status and actions over HTTP.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := di.NewAgentContainer(ctx, a.config, a.logger)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Session.Start(ctx, c.Identity); err != nil {
				return err
			}
			if enable && !c.Session.EnableNotifications(ctx) {
				c.Logger.Warn("notifications could not be enabled", "status", c.Session.Snapshot().Status)
			}

			c.Logger.Info("starting agent",
				"address", a.config.Agent.Address,
				"user_id", c.Identity.UserID,
				"role", c.Identity.Scope.Role,
				"capability", c.Capability)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return c.HTTPServer.Run(gctx, a.config.Agent.Address)
			})
			g.Go(func() error {
				logCountChanges(gctx, c)
				return nil
			})
			return g.Wait()
		},
	}

	cmd.Flags().String("address", "", "Address for the status API")
	cmd.Flags().String("backend-url", "", "Backend API base URL")
	cmd.Flags().String("user-id", "", "Signed-in user")
	cmd.Flags().String("role", "", "Role of the user (owner, staff)")
	cmd.Flags().String("salon-id", "", "Salon the user belongs to")
	cmd.Flags().String("staff-id", "", "Staff member id (staff role only)")
	cmd.Flags().BoolVar(&enable, "enable-notifications", false, "Subscribe this device to push on start")
	bindFlags(a.viper, cmd.Flags(), map[string]string{
		"address":     "agent.address",
		"backend-url": "backend.url",
		"user-id":     "identity.user_id",
		"role":        "identity.role",
		"salon-id":    "identity.salon_id",
		"staff-id":    "identity.staff_id",
	})
	return cmd
}

func logCountChanges(ctx context.Context, c *di.AgentContainer) {
	updates, cancel := c.Session.Watch()
	defer cancel()

	last := -1
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if snap.Count != last {
				c.Logger.Info("unread count", "count", snap.Count, "status", snap.Status)
				last = snap.Count
			}
			if snap.Error != "" {
				c.Logger.Debug("session error", "kind", snap.ErrorKind, "error", snap.Error)
			}
		}
	}
}
