package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"math-quiz-service/internal/domain"
)

const (
	maxNameLength   = 64
	minPasswordLen  = 4
	defaultPageSize = 10
	maxPageSize     = 100
)

// PasswordHasher hashes and verifies account passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// TokenIssuer mints bearer tokens for players and administrators.
type TokenIssuer interface {
	IssuePlayer(playerID int64, name string) (string, error)
	IssueAdmin(username string) (string, error)
}

// PlayerObserver is told when a player's leaderboard visibility changes.
type PlayerObserver interface {
	PlayerChanged(ctx context.Context, player domain.Player)
}

// AdminCredentials is the single configured administrator account.
type AdminCredentials struct {
	Username string
	Password string
}

// PlayerPage is one page of an admin player listing.
type PlayerPage struct {
	Players  []domain.Player `json:"players"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// PlayerConfig wires a PlayerService.
type PlayerConfig struct {
	Hasher   PasswordHasher
	Tokens   TokenIssuer
	Admin    AdminCredentials
	Cache    Cache
	TTLs     CacheTTLs
	Observer PlayerObserver
	Logger   *slog.Logger
	Now      func() time.Time
}

// PlayerService manages accounts, authentication and admin moderation.
type PlayerService struct {
	store    Store
	hasher   PasswordHasher
	tokens   TokenIssuer
	admin    AdminCredentials
	cache    Cache
	ttls     CacheTTLs
	observer PlayerObserver
	sf       singleflight.Group
	gen      atomic.Uint64
	logger   *slog.Logger
	now      func() time.Time
}

func NewPlayerService(store Store, cfg PlayerConfig) *PlayerService {
	s := &PlayerService{
		store:    store,
		hasher:   cfg.Hasher,
		tokens:   cfg.Tokens,
		admin:    cfg.Admin,
		cache:    cacheOrNop(cfg.Cache),
		ttls:     cfg.TTLs,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if s.ttls == (CacheTTLs{}) {
		s.ttls = DefaultCacheTTLs()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Signup registers a new player.
func (s *PlayerService) Signup(ctx context.Context, name string, age int, password string) (domain.Player, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "" || len(name) > maxNameLength:
		return domain.Player{}, fmt.Errorf("%w: name must be 1..%d characters", domain.ErrValidation, maxNameLength)
	case age < 1 || age > 150:
		return domain.Player{}, fmt.Errorf("%w: age must be between 1 and 150", domain.ErrValidation)
	case len(password) < minPasswordLen:
		return domain.Player{}, fmt.Errorf("%w: password must be at least %d characters", domain.ErrValidation, minPasswordLen)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return domain.Player{}, fmt.Errorf("hash password: %w", err)
	}
	player := domain.Player{Name: name, Age: age, PasswordHash: hash, CreatedAt: s.now()}
	if err := s.store.CreatePlayer(ctx, &player); err != nil {
		return domain.Player{}, err
	}
	s.logger.InfoContext(ctx, "player registered", "player_id", player.ID, "name", name)
	return player, nil
}

// Login verifies credentials and returns a bearer token. It always reads the
// store since cached players carry no password hash.
func (s *PlayerService) Login(ctx context.Context, name, password string) (string, domain.Player, error) {
	player, err := s.store.GetPlayerByName(ctx, strings.TrimSpace(name))
	if errors.Is(err, domain.ErrPlayerNotFound) {
		return "", domain.Player{}, fmt.Errorf("%w: invalid name or password", domain.ErrUnauthorized)
	}
	if err != nil {
		return "", domain.Player{}, err
	}
	if err := s.hasher.Compare(player.PasswordHash, password); err != nil {
		return "", domain.Player{}, fmt.Errorf("%w: invalid name or password", domain.ErrUnauthorized)
	}
	token, err := s.tokens.IssuePlayer(player.ID, player.Name)
	if err != nil {
		return "", domain.Player{}, fmt.Errorf("issue token: %w", err)
	}
	return token, player, nil
}

// AdminLogin checks the configured administrator credentials.
func (s *PlayerService) AdminLogin(ctx context.Context, username, password string) (string, error) {
	if s.admin.Username == "" || s.admin.Password == "" {
		return "", fmt.Errorf("%w: admin login disabled", domain.ErrUnauthorized)
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.admin.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.admin.Password)) == 1
	if !userOK || !passOK {
		s.logger.WarnContext(ctx, "admin login rejected", "username", username)
		return "", fmt.Errorf("%w: invalid admin credentials", domain.ErrUnauthorized)
	}
	return s.tokens.IssueAdmin(username)
}

// PlayerByName returns the public view of a player, cached by name. The
// password hash is never cached, so the result cannot verify credentials.
func (s *PlayerService) PlayerByName(ctx context.Context, name string) (domain.Player, error) {
	return readThrough(ctx, s.cache, &s.sf, &s.gen, s.logger, playerByNameKey(name), s.ttls.Player,
		func(ctx context.Context) (domain.Player, error) {
			player, err := s.store.GetPlayerByName(ctx, name)
			player.PasswordHash = ""
			return player, err
		})
}

// Player loads a player by id.
func (s *PlayerService) Player(ctx context.Context, id int64) (domain.Player, error) {
	return s.store.GetPlayer(ctx, id)
}

// ListPlayers pages through players, optionally filtered by a name substring.
func (s *PlayerService) ListPlayers(ctx context.Context, filter domain.PlayerFilter) (PlayerPage, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = defaultPageSize
	}
	filter.PageSize = min(filter.PageSize, maxPageSize)
	filter.Search = strings.TrimSpace(filter.Search)

	players, total, err := s.store.ListPlayers(ctx, filter)
	if err != nil {
		return PlayerPage{}, fmt.Errorf("list players: %w", err)
	}
	if players == nil {
		players = []domain.Player{}
	}
	return PlayerPage{Players: players, Total: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}

// SetLeaderboardExclusion hides or shows a player's sessions on the leaderboard.
func (s *PlayerService) SetLeaderboardExclusion(ctx context.Context, id int64, excluded bool) (domain.Player, error) {
	if err := s.store.SetLeaderboardExclusion(ctx, id, excluded); err != nil {
		return domain.Player{}, err
	}
	player, err := s.store.GetPlayer(ctx, id)
	if err != nil {
		return domain.Player{}, err
	}
	s.logger.InfoContext(ctx, "leaderboard exclusion changed", "player_id", id, "excluded", excluded)
	s.changed(ctx, player)
	return player, nil
}

// DeletePlayer removes a player together with their sessions and answers.
func (s *PlayerService) DeletePlayer(ctx context.Context, id int64) error {
	player, err := s.store.GetPlayer(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeletePlayer(ctx, id); err != nil {
		return fmt.Errorf("delete player %d: %w", id, err)
	}
	s.logger.InfoContext(ctx, "player deleted", "player_id", id, "name", player.Name)
	s.changed(ctx, player)
	return nil
}

func (s *PlayerService) changed(ctx context.Context, player domain.Player) {
	s.forgetName(ctx, player.Name)
	if s.observer != nil {
		s.observer.PlayerChanged(ctx, player)
	}
}

func (s *PlayerService) forgetName(ctx context.Context, name string) {
	invalidateKeys(ctx, s.cache, &s.gen, s.logger, playerByNameKey(name))
}
