package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/treservi/notify-engine/internal/infrastructure/services"
	"github.com/treservi/notify-engine/pkg/config"
)

type vapidKeys struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

func newVAPIDCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vapid",
		Short: "Manage web push VAPID keys",
	}

	var format string
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate a VAPID key pair",
		Long:  "Generate a P-256 VAPID key pair, printed as env assignments or JSON.",
		// key generation needs no configuration
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			public, private, err := services.GenerateVAPIDKeys()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "env":
				_, err = fmt.Fprintf(out, "%s_VAPID_PUBLIC_KEY=%s\n%s_VAPID_PRIVATE_KEY=%s\n",
					config.EnvPrefix, public, config.EnvPrefix, private)
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				err = enc.Encode(vapidKeys{PublicKey: public, PrivateKey: private})
			default:
				return fmt.Errorf("unknown format %q (env, json)", format)
			}
			return err
		},
	}
	generate.Flags().StringVarP(&format, "format", "f", "env", "Output format (env, json)")

	cmd.AddCommand(generate)
	return cmd
}
