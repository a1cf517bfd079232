package platform

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresClientUpsert(t *testing.T) {
	dsn := os.Getenv("TRAINHOOKS_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TRAINHOOKS_TEST_PG_DSN not set")
	}
	c, err := NewPostgresClient(dsn)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()
	run := "test-run-" + t.Name()

	require.NoError(t, c.UpdateRunMetadata(ctx, run, map[string]any{"mosaicml/loss": 1.5, "mosaicml/stage": "fit"}))
	require.NoError(t, c.UpdateRunMetadata(ctx, run, map[string]any{"mosaicml/loss": 0.5}))

	got, err := c.Metadata(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, "0.5", got["mosaicml/loss"])
	assert.Equal(t, `"fit"`, got["mosaicml/stage"])
}

func TestPostgresClientRequiresRunName(t *testing.T) {
	c := NewPostgresClientFromDB(nil)
	err := c.UpdateRunMetadata(context.Background(), " ", nil)
	assert.ErrorContains(t, err, "run name is required")

	err = c.UpdateRunMetadata(context.Background(), "run", nil)
	assert.ErrorContains(t, err, "db is nil")
}
