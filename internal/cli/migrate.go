package cli

import (
	"github.com/spf13/cobra"

	"postback-engine/internal/database"
	"postback-engine/internal/logger"
)

func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.SetupDatabase(opts.cfg.DatabaseURL, logger.GormLevel(opts.cfg.LogLevel))
			if err != nil {
				return err
			}
			defer closeDB(db, opts.log)

			opts.log.Info("Schema migrated")
			return nil
		},
	}
}
