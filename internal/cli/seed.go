package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"postback-engine/internal/database"
	"postback-engine/internal/logger"
	"postback-engine/internal/registry"
)

func NewSeedCommand(opts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load betting houses and affiliate links from a YAML file",
		Long: `Load betting houses and affiliate links from a YAML file.

Houses are upserted by slug; links already present are left alone.

Example:
  postback-engine seed --file testdata/seed.yaml --database-url sqlite://dev.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = opts.cfg.SeedFile
			}
			if file == "" {
				return errors.New("seed file required: pass --file or set SEED_FILE")
			}

			db, err := database.SetupDatabase(opts.cfg.DatabaseURL, logger.GormLevel(opts.cfg.LogLevel))
			if err != nil {
				return err
			}
			defer closeDB(db, opts.log)

			houses, closeCache := houseRegistry(db, opts.cfg, opts.log)
			defer closeCache()

			return seedFrom(cmd.Context(), db, houses, file, opts.log)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "path to the YAML seed file")

	return cmd
}

// seedFrom loads path and drops the cached copy of every seeded house so
// token and commission changes apply on the next postback.
func seedFrom(ctx context.Context, db *gorm.DB, houses *registry.Registry, path string, log *logrus.Logger) error {
	f, err := database.LoadSeedFile(path)
	if err != nil {
		return err
	}
	seededHouses, links, err := database.SeedDatabase(db, f)
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	for _, h := range f.Houses {
		if err := houses.Invalidate(ctx, h.Slug); err != nil {
			log.WithError(err).WithField("house", h.Slug).Warn("Failed to invalidate cached house")
		}
	}

	log.WithFields(logrus.Fields{
		"file":   path,
		"houses": seededHouses,
		"links":  links,
	}).Info("Database seeded")
	return nil
}
