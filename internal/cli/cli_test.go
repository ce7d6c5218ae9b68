package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"postback-engine/internal/database"
	"postback-engine/internal/models"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "migrate", "seed", "tail"} {
		assert.True(t, names[want], want)
	}
}

func TestMigrateAndSeed(t *testing.T) {
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "engine.db")

	_, err := execute(t, "migrate", "--database-url", dsn)
	require.NoError(t, err)

	out, err := execute(t, "seed", "--database-url", dsn, "--file", "../database/testdata/seed.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "Database seeded")

	db, err := database.Open(dsn, logger.Silent)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	var houses int64
	require.NoError(t, db.Model(&models.BettingHouse{}).Count(&houses).Error)
	assert.Equal(t, int64(2), houses)
}

func TestSeed_RequiresFile(t *testing.T) {
	t.Setenv("SEED_FILE", "")
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "engine.db")

	_, err := execute(t, "seed", "--database-url", dsn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed file required")
}

func TestTail_RequiresBroker(t *testing.T) {
	t.Setenv("KAFKA_BROKER", "")
	_, err := execute(t, "tail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKER")
}
