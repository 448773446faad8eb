package cmd

import (
	"log"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/treservi/notify-engine/pkg/config"
	"github.com/treservi/notify-engine/pkg/logger"
)

// app holds the configuration loaded before any subcommand runs
type app struct {
	viper    *viper.Viper
	cfgFile  string
	envFiles []string

	config *config.Config
	logger *slog.Logger
}

// NewRootCommand builds the notify-engine command tree. Every call returns an
// independent tree with its own viper instance.
func NewRootCommand() *cobra.Command {
	a := &app{viper: config.New()}

	root := &cobra.Command{
		Use:   "notify-engine",
		Short: "Appointment notification and badge sync engine",
		Long: `notify-engine delivers new salon appointments to the devices of the owner and the
assigned staff member, and keeps the unread badge consistent on every device.

  serve    runs the backend API (subscriptions, unread counts, dispatch)
  agent    runs the device engine for one signed-in identity
  migrate  manages the database schema
  vapid    generates web push keys`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "Configuration file path (yaml, json or toml)")
	flags.StringSliceVar(&a.envFiles, "env-file", []string{".env"}, "Env files read before the configuration")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (text, json)")
	bindFlags(a.viper, flags, map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
	})

	root.AddCommand(
		newServeCommand(a),
		newAgentCommand(a),
		newMigrateCommand(a),
		newVAPIDCommand(),
	)
	return root
}

// Execute runs the command tree against os.Args
func Execute() error {
	return NewRootCommand().Execute()
}

func (a *app) load() error {
	loaded, err := config.LoadDotEnv(a.envFiles...)
	if err != nil {
		return err
	}

	cfg, err := config.Load(a.viper, a.cfgFile)
	if err != nil {
		return err
	}
	a.config = cfg
	a.logger = logger.Setup(logger.FromConfig(cfg.Log.Level, cfg.Log.Format))
	if len(loaded) > 0 {
		a.logger.Debug("loaded env files", "files", loaded)
	}
	return nil
}

// bindFlags maps flag names to configuration keys
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			log.Printf("Failed to bind %s flag: %v", name, err)
		}
	}
}
