package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyToAdvanceNeedsMinimumSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.signup(t, "ada")
	stages := f.stages

	f.finishSession(t, player.ID, 1, 0)
	f.finishSession(t, player.ID, 1, 0)
	ready, err := stages.ReadyToAdvance(ctx, player.ID, f.game.ID, 1)
	require.NoError(t, err)
	assert.False(t, ready, "two perfect sessions are not enough")

	f.finishSession(t, player.ID, 1, 0)
	ready, err = stages.ReadyToAdvance(ctx, player.ID, f.game.ID, 1)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestReadyToAdvanceUsesSuccessThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stages := f.stages

	// 6 correct of 9 answers is 66.7%.
	low := f.signup(t, "low")
	for i := 0; i < 3; i++ {
		f.finishSession(t, low.ID, 1, 1)
	}
	ready, err := stages.ReadyToAdvance(ctx, low.ID, f.game.ID, 1)
	require.NoError(t, err)
	assert.False(t, ready)

	// 6 correct of 7 answers is 85.7%.
	high := f.signup(t, "high")
	f.finishSession(t, high.ID, 1, 0)
	f.finishSession(t, high.ID, 1, 0)
	f.finishSession(t, high.ID, 1, 1)
	ready, err = stages.ReadyToAdvance(ctx, high.ID, f.game.ID, 1)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestReadyToAdvanceOnlyLooksAtRecentWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.signup(t, "ada")
	stages := f.stages

	for i := 0; i < 3; i++ {
		f.finishSession(t, player.ID, 1, 4)
	}
	for i := 0; i < 5; i++ {
		f.finishSession(t, player.ID, 1, 0)
	}

	ready, err := stages.ReadyToAdvance(ctx, player.ID, f.game.ID, 1)
	require.NoError(t, err)
	assert.True(t, ready, "older weak sessions fall outside the window")
}

func TestEligibleStageIsSequential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.signup(t, "ada")
	stages := f.stages

	// Perfect at stage 2 does not count while stage 1 is not mastered.
	for i := 0; i < 3; i++ {
		f.finishSession(t, player.ID, 2, 0)
	}
	stage, err := stages.EligibleStage(ctx, player.ID, f.game.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stage)

	for i := 0; i < 3; i++ {
		f.finishSession(t, player.ID, 1, 0)
	}
	stage, err = stages.EligibleStage(ctx, player.ID, f.game.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stage)
}

func TestEligibleStageNeverPassesMaxStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.signup(t, "ada")
	stages := f.stages

	for stage := 1; stage <= 5; stage++ {
		for i := 0; i < 3; i++ {
			f.finishSession(t, player.ID, stage, 0)
		}
	}
	stage, err := stages.EligibleStage(ctx, player.ID, f.game.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stage)
}

func TestAbandonedSessionsDoNotCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.signup(t, "ada")
	stages := f.stages

	f.finishSession(t, player.ID, 1, 0)
	f.finishSession(t, player.ID, 1, 0)

	// Two started and abandoned attempts.
	_, err := f.games.StartSession(ctx, player.ID, f.game.ID, intPtr(1))
	require.NoError(t, err)
	_, err = f.games.StartSession(ctx, player.ID, f.game.ID, intPtr(1))
	require.NoError(t, err)

	ready, err := stages.ReadyToAdvance(ctx, player.ID, f.game.ID, 1)
	require.NoError(t, err)
	assert.False(t, ready)
}
