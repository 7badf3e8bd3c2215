package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"math-quiz-service/internal/app"
	"math-quiz-service/internal/domain"
	"math-quiz-service/internal/infra/memory"
)

func TestTopPlayersOrderingAndInvalidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.signup(t, "ada")
	bob := f.signup(t, "bob")

	f.finishSession(t, ada.ID, 1, 0)
	top, err := f.reports.TopPlayers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 1)

	// Cached board is dropped when another session closes.
	f.finishSession(t, bob.ID, 1, 0)
	top, err = f.reports.TopPlayers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, bob.ID, top[0].PlayerID, "equal scores: most recent first")
	assert.Equal(t, ada.ID, top[1].PlayerID)
	assert.Equal(t, "bob", top[0].Name)

	_, err = f.players.SetLeaderboardExclusion(ctx, bob.ID, true)
	require.NoError(t, err)
	top, err = f.reports.TopPlayers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, ada.ID, top[0].PlayerID)
}

func TestTopPlayersLimitAndEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	top, err := f.reports.TopPlayers(ctx, 0)
	require.NoError(t, err)
	assert.NotNil(t, top)
	assert.Empty(t, top)

	ada := f.signup(t, "ada")
	for i := 0; i < 3; i++ {
		f.finishSession(t, ada.ID, 1, 0)
	}
	top, err = f.reports.TopPlayers(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func TestCacheFailureDoesNotFailReads(t *testing.T) {
	f := newFixture(t, withCache(brokenCache{}))
	ctx := context.Background()
	ada := f.signup(t, "ada")
	f.finishSession(t, ada.ID, 1, 0)

	top, err := f.reports.TopPlayers(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, top, 1)

	recent, err := f.reports.RecentSessions(ctx, ada.ID, 5)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

// stalledStore reads the leaderboard once, then holds the result until released.
type stalledStore struct {
	*memory.Store
	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func (s *stalledStore) TopScores(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	entries, err := s.Store.TopScores(ctx, limit)
	s.once.Do(func() {
		close(s.loaded)
		<-s.release
	})
	return entries, err
}

func TestLoadOverlappingInvalidationIsNotCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.signup(t, "ada")

	cache := memory.NewCache()
	slow := &stalledStore{Store: f.store, loaded: make(chan struct{}), release: make(chan struct{})}
	reports := app.NewReportService(slow, app.ReportConfig{Cache: cache})

	stale := make(chan []domain.LeaderboardEntry, 1)
	go func() {
		top, _ := reports.TopPlayers(ctx, 10)
		stale <- top
	}()
	<-slow.loaded

	session := f.finishSession(t, ada.ID, 1, 0)
	reports.SessionClosed(ctx, session)
	close(slow.release)
	assert.Empty(t, <-stale, "the overlapping load read the leaderboard before the session closed")

	var cached []domain.LeaderboardEntry
	found, err := cache.GetJSON(ctx, "leaderboard:top:10", &cached)
	require.NoError(t, err)
	assert.False(t, found, "a load that raced an invalidation must not be cached")

	top, err := reports.TopPlayers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	found, err = cache.GetJSON(ctx, "leaderboard:top:10", &cached)
	require.NoError(t, err)
	assert.True(t, found, "later loads are cached again")
	assert.Len(t, cached, 1)
}

func TestRecentSessionsSummaries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.signup(t, "ada")

	f.finishSession(t, ada.ID, 1, 2)
	recent, err := f.reports.RecentSessions(ctx, ada.ID, 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 2, recent[0].CorrectCount)
	assert.Equal(t, 2, recent[0].IncorrectCount)
	assert.Len(t, recent[0].WrongAnswers, 2)

	latest := f.finishSession(t, ada.ID, 2, 0)
	recent, err = f.reports.RecentSessions(ctx, ada.ID, 0)
	require.NoError(t, err)
	require.Len(t, recent, 2, "closing a session refreshes the cached list")
	assert.Equal(t, latest.ID, recent[0].SessionID)

	_, err = f.reports.RecentSessions(ctx, 999, 5)
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)
}

func TestTrendsBucketsByWeekAndMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.signup(t, "ada")

	// 2024-01-01 and 2024-01-03 share ISO week 1; 2024-01-10 is week 2.
	f.clock.Set(time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC))
	f.finishSession(t, ada.ID, 1, 0)
	f.clock.Set(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	f.finishSession(t, ada.ID, 1, 2)
	f.clock.Set(time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC))
	f.finishSession(t, ada.ID, 1, 0)

	weekly, err := f.reports.Trends(ctx, ada.ID, domain.PeriodWeek)
	require.NoError(t, err)
	require.Len(t, weekly, 2)
	assert.Equal(t, "2024-W01", weekly[0].Key)
	assert.Equal(t, "01/01/2024", weekly[0].Label)
	assert.Equal(t, 2, weekly[0].TotalGames)
	assert.Equal(t, 2.0, weekly[0].AvgScore)
	assert.Equal(t, 4, weekly[0].TotalCorrect)
	assert.Equal(t, 2, weekly[0].TotalIncorrect)
	assert.Equal(t, 66.67, weekly[0].SuccessRate)
	assert.Equal(t, "2024-W02", weekly[1].Key)
	assert.Equal(t, 100.0, weekly[1].SuccessRate)

	monthly, err := f.reports.Trends(ctx, ada.ID, domain.PeriodMonth)
	require.NoError(t, err)
	require.Len(t, monthly, 1)
	assert.Equal(t, "2024-01", monthly[0].Key)
	assert.Equal(t, "01/2024", monthly[0].Label)
	assert.Equal(t, 3, monthly[0].TotalGames)

	none, err := f.reports.Trends(ctx, f.signup(t, "bob").ID, domain.PeriodWeek)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestComparePeriods(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.signup(t, "ada")

	f.clock.Set(time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC))
	f.finishSession(t, ada.ID, 1, 2)
	f.finishSession(t, ada.ID, 1, 2)
	f.clock.Set(time.Date(2024, 1, 9, 10, 0, 0, 0, time.UTC))
	f.finishSession(t, ada.ID, 1, 0)

	week1 := domain.DateRange{Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 1, 7, 23, 59, 59, 0, time.UTC)}
	week2 := domain.DateRange{Start: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 1, 14, 23, 59, 59, 0, time.UTC)}

	cmp, err := f.reports.ComparePeriods(ctx, ada.ID, week1, week2)
	require.NoError(t, err)
	assert.Equal(t, 2, cmp.Period1.TotalGames)
	assert.Equal(t, 50.0, cmp.Period1.SuccessRate)
	assert.Equal(t, 1, cmp.Period2.TotalGames)
	assert.Equal(t, 100.0, cmp.Period2.SuccessRate)
	assert.Equal(t, -1, cmp.Difference.TotalGames)
	assert.Equal(t, 50.0, cmp.Difference.SuccessRate)

	inverted := domain.DateRange{Start: week2.End, End: week2.Start}
	_, err = f.reports.ComparePeriods(ctx, ada.ID, week1, inverted)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLeaderboardFeedReceivesUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.signup(t, "ada")

	ch, cancel, err := f.reports.SubscribeLeaderboard(ctx)
	require.NoError(t, err)
	defer cancel()

	initial := <-ch
	assert.Empty(t, initial.Entries)

	f.finishSession(t, ada.ID, 1, 0)
	select {
	case lb := <-ch:
		require.Len(t, lb.Entries, 1)
		assert.Equal(t, ada.ID, lb.Entries[0].PlayerID)
	case <-time.After(time.Second):
		t.Fatal("expected leaderboard update after session closed")
	}
}

type brokenCache struct{}

var errCacheDown = errors.New("cache down")

func (brokenCache) GetJSON(context.Context, string, any) (bool, error) { return false, errCacheDown }
func (brokenCache) SetJSON(context.Context, string, any, time.Duration) error {
	return errCacheDown
}
func (brokenCache) Delete(context.Context, ...string) error      { return errCacheDown }
func (brokenCache) DeletePrefix(context.Context, string) error { return errCacheDown }
