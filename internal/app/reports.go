package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"math-quiz-service/internal/domain"
)

const (
	// DefaultLeaderboardLimit is the leaderboard size when the caller asks for none.
	DefaultLeaderboardLimit = 10
	// MaxLeaderboardLimit caps leaderboard and recent-session requests.
	MaxLeaderboardLimit = 100
	// DefaultRecentSessions is how many past sessions a player report shows by default.
	DefaultRecentSessions = 10
)

// ReportConfig wires optional collaborators of a ReportService.
type ReportConfig struct {
	Cache  Cache
	TTLs   CacheTTLs
	Feed   *LeaderboardFeed
	Logger *slog.Logger
	Now    func() time.Time
	// FeedLimit is the size of snapshots pushed to live subscribers.
	FeedLimit int
}

// ReportService serves the derived read models: leaderboard, trends,
// comparisons and recent session summaries.
type ReportService struct {
	store     Store
	cache     Cache
	ttls      CacheTTLs
	feed      *LeaderboardFeed
	feedLimit int
	sf        singleflight.Group
	gen       atomic.Uint64
	logger    *slog.Logger
	now       func() time.Time
}

func NewReportService(store Store, cfg ReportConfig) *ReportService {
	r := &ReportService{
		store:     store,
		cache:     cacheOrNop(cfg.Cache),
		ttls:      cfg.TTLs,
		feed:      cfg.Feed,
		feedLimit: cfg.FeedLimit,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if r.ttls == (CacheTTLs{}) {
		r.ttls = DefaultCacheTTLs()
	}
	if r.feedLimit <= 0 {
		r.feedLimit = DefaultLeaderboardLimit
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// TopPlayers returns the best completed sessions, cached per limit.
func (r *ReportService) TopPlayers(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	limit = min(limit, MaxLeaderboardLimit)
	return readThrough(ctx, r.cache, &r.sf, &r.gen, r.logger, leaderboardKey(limit), r.ttls.Leaderboard,
		func(ctx context.Context) ([]domain.LeaderboardEntry, error) {
			entries, err := r.store.TopScores(ctx, limit)
			if err != nil {
				return nil, fmt.Errorf("load leaderboard: %w", err)
			}
			if entries == nil {
				entries = []domain.LeaderboardEntry{}
			}
			return entries, nil
		})
}

// RecentSessions summarizes the player's last completed sessions, newest first.
func (r *ReportService) RecentSessions(ctx context.Context, playerID int64, limit int) ([]domain.SessionSummary, error) {
	if limit <= 0 {
		limit = DefaultRecentSessions
	}
	limit = min(limit, MaxLeaderboardLimit)
	if _, err := r.store.GetPlayer(ctx, playerID); err != nil {
		return nil, err
	}
	return readThrough(ctx, r.cache, &r.sf, &r.gen, r.logger, lastSessionsKey(playerID, limit), r.ttls.LastSessions,
		func(ctx context.Context) ([]domain.SessionSummary, error) {
			sessions, err := r.store.CompletedSessions(ctx, domain.SessionQuery{PlayerID: playerID, Limit: limit})
			if err != nil {
				return nil, fmt.Errorf("load sessions: %w", err)
			}
			summaries := make([]domain.SessionSummary, 0, len(sessions))
			for _, session := range sessions {
				ledger, err := r.store.Ledger(ctx, session.ID)
				if err != nil {
					return nil, fmt.Errorf("load ledger %d: %w", session.ID, err)
				}
				summaries = append(summaries, domain.SummarizeLedger(session, ledger))
			}
			return summaries, nil
		})
}

// Trends buckets the player's completed sessions by ISO week or calendar month.
func (r *ReportService) Trends(ctx context.Context, playerID int64, period domain.Period) ([]domain.PeriodStats, error) {
	if _, err := r.store.GetPlayer(ctx, playerID); err != nil {
		return nil, err
	}
	sessions, counts, err := r.completedWithCounts(ctx, domain.SessionQuery{PlayerID: playerID, Ascending: true})
	if err != nil {
		return nil, err
	}
	return bucketSessions(sessions, counts, period), nil
}

// ComparePeriods aggregates two date ranges and reports period2 minus period1.
func (r *ReportService) ComparePeriods(ctx context.Context, playerID int64, p1, p2 domain.DateRange) (domain.PeriodComparison, error) {
	if err := p1.Validate(); err != nil {
		return domain.PeriodComparison{}, fmt.Errorf("period1: %w", err)
	}
	if err := p2.Validate(); err != nil {
		return domain.PeriodComparison{}, fmt.Errorf("period2: %w", err)
	}
	if _, err := r.store.GetPlayer(ctx, playerID); err != nil {
		return domain.PeriodComparison{}, err
	}
	s1, err := r.rangeStats(ctx, playerID, p1)
	if err != nil {
		return domain.PeriodComparison{}, err
	}
	s2, err := r.rangeStats(ctx, playerID, p2)
	if err != nil {
		return domain.PeriodComparison{}, err
	}
	return compareRanges(s1, s2), nil
}

func (r *ReportService) rangeStats(ctx context.Context, playerID int64, dr domain.DateRange) (domain.RangeStats, error) {
	from, to := dr.Start, dr.End
	sessions, counts, err := r.completedWithCounts(ctx, domain.SessionQuery{PlayerID: playerID, From: &from, To: &to})
	if err != nil {
		return domain.RangeStats{}, err
	}
	return summarizeRange(dr, sessions, counts), nil
}

func (r *ReportService) completedWithCounts(ctx context.Context, q domain.SessionQuery) ([]domain.PlayerSession, map[int64]domain.AnswerCounts, error) {
	sessions, err := r.store.CompletedSessions(ctx, q)
	if err != nil {
		return nil, nil, fmt.Errorf("load sessions: %w", err)
	}
	ids := make([]int64, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	counts, err := r.store.AnswerCounts(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("count answers: %w", err)
	}
	return sessions, counts, nil
}

// SubscribeLeaderboard attaches a live listener primed with the current board.
func (r *ReportService) SubscribeLeaderboard(ctx context.Context) (<-chan domain.Leaderboard, func(), error) {
	if r.feed == nil {
		return nil, nil, fmt.Errorf("live leaderboard disabled")
	}
	entries, err := r.TopPlayers(ctx, r.feedLimit)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := r.feed.Subscribe(domain.Leaderboard{Entries: entries, UpdatedAt: r.now()})
	return ch, cancel, nil
}

// FeedLimit is the maximum number of entries a live snapshot carries.
func (r *ReportService) FeedLimit() int {
	return r.feedLimit
}

// SessionClosed drops cached views touched by a finished session and pushes
// a fresh leaderboard to live subscribers.
func (r *ReportService) SessionClosed(ctx context.Context, session domain.PlayerSession) {
	invalidate(ctx, r.cache, &r.gen, r.logger, leaderboardKeyPrefix, lastSessionsPrefix(session.PlayerID))
	r.publish(ctx)
}

// PlayerChanged handles account edits and deletions that alter the leaderboard.
func (r *ReportService) PlayerChanged(ctx context.Context, player domain.Player) {
	invalidate(ctx, r.cache, &r.gen, r.logger, leaderboardKeyPrefix, lastSessionsPrefix(player.ID))
	invalidateKeys(ctx, r.cache, &r.gen, r.logger, playerByNameKey(player.Name))
	r.publish(ctx)
}

func (r *ReportService) publish(ctx context.Context) {
	if r.feed == nil || r.feed.Subscribers() == 0 {
		return
	}
	entries, err := r.TopPlayers(ctx, r.feedLimit)
	if err != nil {
		r.logger.ErrorContext(ctx, "leaderboard refresh failed", "error", err)
		return
	}
	r.feed.Publish(domain.Leaderboard{Entries: entries, UpdatedAt: r.now()})
}
