package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"postback-engine/internal/config"
	"postback-engine/internal/logger"
)

// RootOptions holds flags shared by every command. Empty flags leave the
// environment value in place.
type RootOptions struct {
	LogLevel    string
	DatabaseURL string

	cfg *config.Config
	log *logrus.Logger
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "postback-engine",
		Short: "Postback ingestion and commission attribution",
		Long: `Accepts betting-house postbacks, attributes them to affiliates and
books commission exactly once per business event.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.cfg = config.Load()
			if opts.LogLevel != "" {
				opts.cfg.LogLevel = opts.LogLevel
			}
			if opts.DatabaseURL != "" {
				opts.cfg.DatabaseURL = opts.DatabaseURL
			}
			opts.log = logger.SetupLogger(opts.cfg.LogLevel)
			opts.log.SetOutput(cmd.ErrOrStderr())
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error), overrides LOG_LEVEL")
	cmd.PersistentFlags().StringVar(&opts.DatabaseURL, "database-url", "", "postgres DSN or sqlite://path, overrides DATABASE_URL")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewTailCommand(opts))

	return cmd
}
