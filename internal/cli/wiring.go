package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"math-quiz-service/internal/app"
	"math-quiz-service/internal/auth"
	"math-quiz-service/internal/config"
	"math-quiz-service/internal/domain"
	"math-quiz-service/internal/infra/memory"
	"math-quiz-service/internal/infra/postgres"
	redisinfra "math-quiz-service/internal/infra/redis"
	"math-quiz-service/internal/mathgen"
	transport "math-quiz-service/internal/transport/http"
)

// backends holds the storage and coordination adapters chosen by config.
// Postgres and Redis are used when configured, in-memory otherwise.
type backends struct {
	store     app.Store
	questions app.QuestionBank
	importer  app.QuestionImporter
	cache     app.Cache
	locker    app.Locker
	limiter   transport.RateLimiter
	closers   []func()
}

func openBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backends, error) {
	b := &backends{}
	if cfg.Postgres.URL != "" {
		db := postgres.Open(cfg.Postgres.URL)
		b.closers = append(b.closers, func() { _ = db.Close() })
		if err := postgres.Migrate(ctx, db, logger); err != nil {
			b.Close()
			return nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect question pool: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		bank := postgres.NewQuestionBank(pool)
		b.store, b.questions, b.importer = postgres.NewStore(db), bank, bank
	} else {
		logger.Warn("postgres not configured, using in-memory store")
		store := memory.NewStore()
		b.store, b.questions, b.importer = store, store, store
	}

	requests := cfg.RateLimit.Requests
	window := config.TTLDuration(cfg.RateLimit.Window, time.Minute)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.closers = append(b.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		b.cache = redisinfra.NewCache(client)
		b.locker = redisinfra.NewLocker(client, config.TTLDuration(cfg.Redis.LockTTL, 10*time.Second))
		if requests > 0 {
			b.limiter = redisinfra.NewRateLimiter(client, requests, window)
		}
	} else {
		b.cache = memory.NewCache()
		b.locker = memory.NewLocker()
		if requests > 0 {
			b.limiter = memory.NewRateLimiter(requests, window)
		}
	}
	return b, nil
}

// Close releases connections in reverse order of opening.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

type services struct {
	games   *app.GameService
	reports *app.ReportService
	players *app.PlayerService
	tokens  *auth.Tokens
	game    domain.Game
}

func buildServices(ctx context.Context, cfg config.Config, b *backends, logger *slog.Logger) (*services, error) {
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		logger.Warn("JWT secret not configured, tokens will not survive a restart")
		secret = uuid.NewString()
	}
	tokens, err := auth.NewTokens(secret, config.TTLDuration(cfg.Auth.TokenTTL, 0))
	if err != nil {
		return nil, err
	}
	cost := cfg.Auth.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	ttls := cfg.CacheTTLs()
	reports := app.NewReportService(b.store, app.ReportConfig{
		Cache:  b.cache,
		TTLs:   ttls,
		Feed:   app.NewLeaderboardFeed(),
		Logger: logger,
	})
	players := app.NewPlayerService(b.store, app.PlayerConfig{
		Hasher:   auth.NewBcryptHasher(cost),
		Tokens:   tokens,
		Admin:    app.AdminCredentials{Username: cfg.Auth.AdminUsername, Password: cfg.Auth.AdminPassword},
		Cache:    b.cache,
		TTLs:     ttls,
		Observer: reports,
		Logger:   logger,
	})
	gen := mathgen.NewGenerator(cfg.Game.GeneratorSeed)
	games := app.NewGameService(b.store, b.questions,
		app.NewStageEvaluator(b.store, b.store, policy),
		b.locker,
		app.WithRestocker(mathgen.NewRestocker(gen, b.importer, cfg.Game.RestockBatch, logger)),
		app.WithSessionObserver(reports),
		app.WithLogger(logger),
	)

	game, err := games.EnsureGame(ctx, cfg.Game.Name, cfg.Game.Description, cfg.Game.WinningScore)
	if err != nil {
		return nil, fmt.Errorf("ensure game %q: %w", cfg.Game.Name, err)
	}
	if err := seedEmptyStages(ctx, b.importer, gen, game.ID, policy.MaxStage, cfg.Game.SeedPerStage, logger); err != nil {
		return nil, err
	}
	if _, err := players.EnsureUnlocks(ctx, app.DefaultUnlocks()); err != nil {
		return nil, err
	}
	return &services{games: games, reports: reports, players: players, tokens: tokens, game: game}, nil
}

// seedEmptyStages fills every stage that has no questions yet with generated ones.
func seedEmptyStages(ctx context.Context, importer app.QuestionImporter, gen *mathgen.Generator, gameID int64, maxStage, perStage int, logger *slog.Logger) error {
	if perStage <= 0 {
		return nil
	}
	for stage := 1; stage <= maxStage; stage++ {
		n, err := importer.CountQuestions(ctx, gameID, stage)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		added, err := importer.ImportQuestions(ctx, gameID, gen.Batch(stage, perStage))
		if err != nil {
			return fmt.Errorf("seed stage %d: %w", stage, err)
		}
		logger.InfoContext(ctx, "seeded stage questions", "game_id", gameID, "stage", stage, "added", added)
	}
	return nil
}
