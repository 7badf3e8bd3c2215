package cli

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"math-quiz-service/internal/app"
	"math-quiz-service/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInMemoryWiring(t *testing.T) {
	ctx := context.Background()
	cfg, err := config.Load(t.TempDir() + "/missing.yaml")
	require.NoError(t, err)
	cfg.Postgres.URL = ""
	cfg.Redis.Addr = ""
	cfg.Auth.BcryptCost = 4
	cfg.Game.SeedPerStage = 20

	b, err := openBackends(ctx, cfg, discardLogger())
	require.NoError(t, err)
	defer b.Close()
	assert.NotNil(t, b.limiter)

	svc, err := buildServices(ctx, cfg, b, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, cfg.Game.Name, svc.game.Name)

	player, err := svc.players.Signup(ctx, "ada", 8, "password")
	require.NoError(t, err)
	started, err := svc.games.StartSession(ctx, player.ID, svc.game.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, started.Question)
	assert.Equal(t, 1, started.Question.Difficulty)

	unlocks, err := svc.players.ListUnlocks(ctx)
	require.NoError(t, err)
	assert.Len(t, unlocks, len(app.DefaultUnlocks()))

	// a second start against the same store must not duplicate the catalog
	_, err = buildServices(ctx, cfg, b, discardLogger())
	require.NoError(t, err)
	unlocks, err = svc.players.ListUnlocks(ctx)
	require.NoError(t, err)
	assert.Len(t, unlocks, len(app.DefaultUnlocks()))
}
