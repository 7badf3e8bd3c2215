package app_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"math-quiz-service/internal/app"
	"math-quiz-service/internal/auth"
	"math-quiz-service/internal/domain"
	"math-quiz-service/internal/infra/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store   *memory.Store
	cache   app.Cache
	clock   *clock
	game    domain.Game
	stages  *app.StageEvaluator
	games   *app.GameService
	reports *app.ReportService
	players *app.PlayerService
	feed    *app.LeaderboardFeed
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	cache        app.Cache
	gameOpts     []app.GameServiceOption
	perStage     int
	winningScore int
}

func withCache(c app.Cache) fixtureOption {
	return func(cfg *fixtureConfig) { cfg.cache = c }
}

func withGameOptions(opts ...app.GameServiceOption) fixtureOption {
	return func(cfg *fixtureConfig) { cfg.gameOpts = append(cfg.gameOpts, opts...) }
}

func withQuestionsPerStage(n int) fixtureOption {
	return func(cfg *fixtureConfig) { cfg.perStage = n }
}

func withWinningScore(n int) fixtureOption {
	return func(cfg *fixtureConfig) { cfg.winningScore = n }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{cache: memory.NewCache(), perStage: 20, winningScore: domain.DefaultWinningScore}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := context.Background()
	f := &fixture{
		store: memory.NewStore(),
		cache: cfg.cache,
		clock: newClock(),
		feed:  app.NewLeaderboardFeed(),
	}
	f.reports = app.NewReportService(f.store, app.ReportConfig{
		Cache: f.cache,
		Feed:  f.feed,
		Now:   f.clock.Now,
	})

	tokens, err := auth.NewTokens("test-secret", time.Hour)
	require.NoError(t, err)
	f.players = app.NewPlayerService(f.store, app.PlayerConfig{
		Hasher:   auth.NewBcryptHasher(bcrypt.MinCost),
		Tokens:   tokens,
		Admin:    app.AdminCredentials{Username: "admin", Password: "hunter2"},
		Cache:    f.cache,
		Observer: f.reports,
		Now:      f.clock.Now,
	})

	f.stages = app.NewStageEvaluator(f.store, f.store, domain.DefaultAdvancementPolicy())
	gameOpts := append([]app.GameServiceOption{
		app.WithSessionObserver(f.reports),
		app.WithClock(f.clock.Now),
	}, cfg.gameOpts...)
	f.games = app.NewGameService(f.store, f.store, f.stages, memory.NewLocker(), gameOpts...)

	f.game, err = f.games.EnsureGame(ctx, "arithmetic", "", cfg.winningScore)
	require.NoError(t, err)
	for stage := 1; stage <= domain.DefaultMaxStage; stage++ {
		seedQuestions(t, f.store, f.game.ID, stage, cfg.perStage)
	}
	return f
}

func seedQuestions(t *testing.T, store *memory.Store, gameID int64, difficulty, n int) {
	t.Helper()
	questions := make([]domain.Question, 0, n)
	for i := 0; i < n; i++ {
		questions = append(questions, domain.Question{
			Text:          fmt.Sprintf("%d + %d", difficulty, i),
			CorrectAnswer: difficulty + i,
			Difficulty:    difficulty,
		})
	}
	_, err := store.ImportQuestions(context.Background(), gameID, questions)
	require.NoError(t, err)
}

func (f *fixture) signup(t *testing.T, name string) domain.Player {
	t.Helper()
	player, err := f.players.Signup(context.Background(), name, 10, "password")
	require.NoError(t, err)
	return player
}

// finishSession plays one session to completion: wrong answers first, then
// correct ones until the winning score is reached.
func (f *fixture) finishSession(t *testing.T, playerID int64, stage int, wrong int) domain.PlayerSession {
	t.Helper()
	ctx := context.Background()
	started, err := f.games.StartSession(ctx, playerID, f.game.ID, &stage)
	require.NoError(t, err)
	require.NotNil(t, started.Session)

	question := *started.Question
	for i := 0; ; i++ {
		answer := question.CorrectAnswer
		if i < wrong {
			answer = question.CorrectAnswer + 1000
		}
		result, err := f.games.SubmitAnswer(ctx, playerID, question.ID, &answer)
		require.NoError(t, err)
		if result.SessionComplete {
			break
		}
		question = *result.NextQuestion
	}
	session, err := f.store.GetSession(ctx, started.Session.ID)
	require.NoError(t, err)
	require.True(t, session.Completed())
	f.clock.Advance(time.Minute)
	return session
}

func intPtr(v int) *int {
	return &v
}
