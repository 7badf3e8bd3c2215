package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"math-quiz-service/internal/app"
	"math-quiz-service/internal/domain"
)

type Config struct {
	Server struct {
		Port            string `yaml:"port"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		LockTTL  string `yaml:"lock_ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Cache struct {
		LeaderboardTTL  string `yaml:"leaderboard_ttl"`
		LastSessionsTTL string `yaml:"last_sessions_ttl"`
		PlayerTTL       string `yaml:"player_ttl"`
	} `yaml:"cache"`
	Auth struct {
		JWTSecret     string `yaml:"jwt_secret"`
		TokenTTL      string `yaml:"token_ttl"`
		AdminUsername string `yaml:"admin_username"`
		AdminPassword string `yaml:"admin_password"`
		BcryptCost    int    `yaml:"bcrypt_cost"`
	} `yaml:"auth"`
	Game struct {
		Name          string `yaml:"name"`
		Description   string `yaml:"description"`
		WinningScore  int    `yaml:"winning_score"`
		RestockBatch  int    `yaml:"restock_batch"`
		GeneratorSeed int64  `yaml:"generator_seed"`
		// SeedPerStage is how many generated questions each empty stage receives at startup.
		SeedPerStage int `yaml:"seed_per_stage"`
	} `yaml:"game"`
	Stage struct {
		Window           int     `yaml:"window"`
		MinSessions      int     `yaml:"min_sessions"`
		SuccessThreshold float64 `yaml:"success_threshold"`
		MaxStage         int     `yaml:"max_stage"`
	} `yaml:"stage"`
	RateLimit struct {
		Requests int    `yaml:"requests"`
		Window   string `yaml:"window"`
	} `yaml:"rate_limit"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load reads YAML config from path and applies environment overrides.
// A missing file yields defaults; a .env file in the working directory is
// loaded first when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func defaults() Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Server.ShutdownTimeout = "5s"
	cfg.Redis.LockTTL = "10s"
	cfg.Auth.TokenTTL = "168h"
	cfg.Auth.AdminUsername = "admin"
	cfg.Game.Name = "Math Quiz"
	cfg.Game.Description = "Arithmetic practice in five stages"
	cfg.Game.WinningScore = domain.DefaultWinningScore
	cfg.Game.SeedPerStage = 100
	cfg.Stage.Window = domain.DefaultAdvancementWindow
	cfg.Stage.MinSessions = domain.DefaultMinCompletedSessions
	cfg.Stage.SuccessThreshold = domain.DefaultSuccessThreshold
	cfg.Stage.MaxStage = domain.DefaultMaxStage
	cfg.RateLimit.Requests = 20
	cfg.RateLimit.Window = "1m"
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return cfg
}

func applyEnv(cfg *Config) {
	overrides := []struct {
		key string
		dst *string
	}{
		{"PORT", &cfg.Server.Port},
		{"POSTGRES_URL", &cfg.Postgres.URL},
		{"REDIS_ADDR", &cfg.Redis.Addr},
		{"REDIS_PASSWORD", &cfg.Redis.Password},
		{"JWT_SECRET", &cfg.Auth.JWTSecret},
		{"ADMIN_USERNAME", &cfg.Auth.AdminUsername},
		{"ADMIN_PASSWORD", &cfg.Auth.AdminPassword},
		{"LOG_LEVEL", &cfg.Log.Level},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.key); v != "" {
			*o.dst = v
		}
	}
}

// Policy builds the stage advancement policy, rejecting invalid settings.
func (c Config) Policy() (domain.AdvancementPolicy, error) {
	p := domain.AdvancementPolicy{
		Window:           c.Stage.Window,
		MinSessions:      c.Stage.MinSessions,
		SuccessThreshold: c.Stage.SuccessThreshold,
		MaxStage:         c.Stage.MaxStage,
	}
	if err := p.Validate(); err != nil {
		return domain.AdvancementPolicy{}, fmt.Errorf("stage config: %w", err)
	}
	return p, nil
}

// CacheTTLs resolves the cache section, falling back per key.
func (c Config) CacheTTLs() app.CacheTTLs {
	def := app.DefaultCacheTTLs()
	return app.CacheTTLs{
		Leaderboard:  TTLDuration(c.Cache.LeaderboardTTL, def.Leaderboard),
		LastSessions: TTLDuration(c.Cache.LastSessionsTTL, def.LastSessions),
		Player:       TTLDuration(c.Cache.PlayerTTL, def.Player),
	}
}

// Logger builds the process logger from the log section.
func (c Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Log.Level)}
	if strings.EqualFold(c.Log.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
