package app

import (
	"context"
	"time"

	"math-quiz-service/internal/domain"
)

// PlayerRepository stores player accounts.
type PlayerRepository interface {
	CreatePlayer(ctx context.Context, player *domain.Player) error
	GetPlayer(ctx context.Context, id int64) (domain.Player, error)
	GetPlayerByName(ctx context.Context, name string) (domain.Player, error)
	ListPlayers(ctx context.Context, filter domain.PlayerFilter) ([]domain.Player, int, error)
	SetLeaderboardExclusion(ctx context.Context, id int64, excluded bool) error
	// DeletePlayer removes the player with its sessions and answers.
	DeletePlayer(ctx context.Context, id int64) error
}

// UnlockRepository stores the cosmetic unlock catalog and what each player owns.
type UnlockRepository interface {
	// CreateUnlock adds a catalog entry or returns domain.ErrConflict for a taken name.
	CreateUnlock(ctx context.Context, unlock *domain.Unlock) error
	GetUnlock(ctx context.Context, id int64) (domain.Unlock, error)
	// ListUnlocks returns the catalog ordered by id.
	ListUnlocks(ctx context.Context) ([]domain.Unlock, error)
	// PlayerUnlocks returns the unlocks a player owns, ordered by id.
	PlayerUnlocks(ctx context.Context, playerID int64) ([]domain.Unlock, error)
	// GrantUnlock records ownership and reports whether it was new.
	GrantUnlock(ctx context.Context, playerID, unlockID int64) (bool, error)
	// SetSelectedUnlock points the player at an owned unlock.
	SetSelectedUnlock(ctx context.Context, playerID, unlockID int64) error
}

// GameRepository stores games and their winning thresholds.
type GameRepository interface {
	CreateGame(ctx context.Context, game *domain.Game) error
	GetGame(ctx context.Context, id int64) (domain.Game, error)
	GetGameByName(ctx context.Context, name string) (domain.Game, error)
	SetWinningScore(ctx context.Context, id int64, score int) error
}

// SessionRepository is the persisted session registry keyed by player.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *domain.PlayerSession) error
	GetSession(ctx context.Context, id int64) (domain.PlayerSession, error)
	// ActiveSession returns the player's open session or domain.ErrNoActiveSession.
	ActiveSession(ctx context.Context, playerID int64) (domain.PlayerSession, error)
	// CompareAndSetScore moves an active session from oldScore to newScore or
	// returns domain.ErrScoreConflict.
	CompareAndSetScore(ctx context.Context, sessionID int64, oldScore, newScore int) error
	// CloseSession sets ended_at once. It reports whether this call closed it.
	CloseSession(ctx context.Context, sessionID int64, at time.Time) (bool, error)
	AbandonSession(ctx context.Context, sessionID int64, at time.Time) error
	CompletedSessions(ctx context.Context, query domain.SessionQuery) ([]domain.PlayerSession, error)
	// TopScores lists completed sessions of players not excluded from the
	// leaderboard, by score desc, ended_at desc, player id asc, session id asc.
	TopScores(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
}

// AnswerRepository is the append-only answer ledger.
type AnswerRepository interface {
	AppendAnswer(ctx context.Context, answer *domain.Answer) error
	// Ledger returns a session's answers in submission order.
	Ledger(ctx context.Context, sessionID int64) ([]domain.LedgerEntry, error)
	AnswerCounts(ctx context.Context, sessionIDs []int64) (map[int64]domain.AnswerCounts, error)
}

// Transactor runs fn atomically. Repositories called with the ctx passed to
// fn take part in the transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store bundles everything the services persist.
type Store interface {
	PlayerRepository
	UnlockRepository
	GameRepository
	SessionRepository
	AnswerRepository
	Transactor
}

// QuestionBank serves questions conditioned on difficulty.
type QuestionBank interface {
	GetQuestion(ctx context.Context, id int64) (domain.Question, error)
	// RandomQuestion picks uniformly among questions of the game at difficulty
	// whose ids are not in exclude, or returns domain.ErrExhausted.
	RandomQuestion(ctx context.Context, gameID int64, difficulty int, exclude []int64) (domain.Question, error)
}

// QuestionImporter bulk-loads questions into a bank.
type QuestionImporter interface {
	ImportQuestions(ctx context.Context, gameID int64, questions []domain.Question) (int, error)
	CountQuestions(ctx context.Context, gameID int64, difficulty int) (int, error)
}

// Restocker refills a bank when selection is exhausted.
type Restocker interface {
	Restock(ctx context.Context, gameID int64, difficulty int) error
}

// Cache is an optional look-aside cache. Implementations store JSON.
type Cache interface {
	// GetJSON decodes the value at key into dest and reports whether it was found.
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Locker serializes work per key (one player at a time).
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
