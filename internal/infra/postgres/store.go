package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"math-quiz-service/internal/domain"
)

type txKey struct{}

// Store implements app.Store on Postgres through bun. Repository calls made
// with a context from WithinTx run inside that transaction.
type Store struct {
	db *bun.DB
}

// Open connects bun to dsn.
func Open(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) conn(ctx context.Context) bun.IDB {
	if tx, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return tx
	}
	return s.db
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return fn(ctx)
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}

func notFound(err, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}

func (s *Store) CreatePlayer(ctx context.Context, player *domain.Player) error {
	row := playerRow{
		Name:                   player.Name,
		Age:                    player.Age,
		PasswordHash:           player.PasswordHash,
		ExcludeFromLeaderboard: player.ExcludeFromLeaderboard,
		SelectedUnlockID:       player.SelectedUnlockID,
		CreatedAt:              player.CreatedAt,
	}
	_, err := s.conn(ctx).NewInsert().Model(&row).Returning("id, created_at").Exec(ctx)
	if isUniqueViolation(err) {
		return domain.ErrPlayerExists
	}
	if err != nil {
		return fmt.Errorf("insert player: %w", err)
	}
	player.ID = row.ID
	player.CreatedAt = row.CreatedAt
	return nil
}

func (s *Store) GetPlayer(ctx context.Context, id int64) (domain.Player, error) {
	var row playerRow
	err := s.conn(ctx).NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return domain.Player{}, notFound(err, domain.ErrPlayerNotFound)
	}
	return row.toDomain(), nil
}

func (s *Store) GetPlayerByName(ctx context.Context, name string) (domain.Player, error) {
	var row playerRow
	err := s.conn(ctx).NewSelect().Model(&row).Where("name = ?", name).Scan(ctx)
	if err != nil {
		return domain.Player{}, notFound(err, domain.ErrPlayerNotFound)
	}
	return row.toDomain(), nil
}

func (s *Store) ListPlayers(ctx context.Context, filter domain.PlayerFilter) ([]domain.Player, int, error) {
	var rows []playerRow
	q := s.conn(ctx).NewSelect().Model(&rows).OrderExpr("id DESC")
	if filter.Search != "" {
		q = q.Where("name ILIKE ?", "%"+filter.Search+"%")
	}
	if filter.PageSize > 0 {
		q = q.Limit(filter.PageSize).Offset(filter.Offset())
	}
	total, err := q.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list players: %w", err)
	}
	players := make([]domain.Player, 0, len(rows))
	for _, row := range rows {
		players = append(players, row.toDomain())
	}
	return players, total, nil
}

func (s *Store) SetLeaderboardExclusion(ctx context.Context, id int64, excluded bool) error {
	res, err := s.conn(ctx).NewUpdate().Model((*playerRow)(nil)).
		Set("exclude_from_leaderboard = ?", excluded).
		Where("id = ?", id).
		Exec(ctx)
	return affectedOr(res, err, domain.ErrPlayerNotFound)
}

// DeletePlayer relies on ON DELETE CASCADE for sessions and answers.
func (s *Store) DeletePlayer(ctx context.Context, id int64) error {
	res, err := s.conn(ctx).NewDelete().Model((*playerRow)(nil)).Where("id = ?", id).Exec(ctx)
	return affectedOr(res, err, domain.ErrPlayerNotFound)
}

func (s *Store) CreateUnlock(ctx context.Context, unlock *domain.Unlock) error {
	row := unlockRow{
		Name:        unlock.Name,
		ImagePath:   unlock.ImagePath,
		Description: unlock.Description,
		Rarity:      unlock.Rarity,
	}
	_, err := s.conn(ctx).NewInsert().Model(&row).Returning("id").Exec(ctx)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: unlock %q already exists", domain.ErrConflict, unlock.Name)
	}
	if err != nil {
		return fmt.Errorf("insert unlock: %w", err)
	}
	unlock.ID = row.ID
	return nil
}

func (s *Store) GetUnlock(ctx context.Context, id int64) (domain.Unlock, error) {
	var row unlockRow
	err := s.conn(ctx).NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return domain.Unlock{}, notFound(err, domain.ErrUnlockNotFound)
	}
	return row.toDomain(), nil
}

func (s *Store) ListUnlocks(ctx context.Context) ([]domain.Unlock, error) {
	var rows []unlockRow
	if err := s.conn(ctx).NewSelect().Model(&rows).OrderExpr("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list unlocks: %w", err)
	}
	return unlocksToDomain(rows), nil
}

func (s *Store) PlayerUnlocks(ctx context.Context, playerID int64) ([]domain.Unlock, error) {
	var rows []unlockRow
	err := s.conn(ctx).NewSelect().Model(&rows).
		Join("JOIN player_unlocks AS pu ON pu.unlock_id = u.id").
		Where("pu.player_id = ?", playerID).
		OrderExpr("u.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("player unlocks: %w", err)
	}
	return unlocksToDomain(rows), nil
}

func unlocksToDomain(rows []unlockRow) []domain.Unlock {
	out := make([]domain.Unlock, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out
}

// GrantUnlock relies on the (player_id, unlock_id) key to keep ownership idempotent.
func (s *Store) GrantUnlock(ctx context.Context, playerID, unlockID int64) (bool, error) {
	row := playerUnlockRow{PlayerID: playerID, UnlockID: unlockID}
	res, err := s.conn(ctx).NewInsert().Model(&row).On("CONFLICT (player_id, unlock_id) DO NOTHING").Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("grant unlock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) SetSelectedUnlock(ctx context.Context, playerID, unlockID int64) error {
	res, err := s.conn(ctx).NewUpdate().Model((*playerRow)(nil)).
		Set("selected_unlock_id = ?", unlockID).
		Where("id = ?", playerID).
		Exec(ctx)
	return affectedOr(res, err, domain.ErrPlayerNotFound)
}

func affectedOr(res sql.Result, err error, missing error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

func (s *Store) CreateGame(ctx context.Context, game *domain.Game) error {
	row := gameRow{
		Name:         game.Name,
		Description:  game.Description,
		WinningScore: game.WinningScore,
		CreatedAt:    game.CreatedAt,
	}
	_, err := s.conn(ctx).NewInsert().Model(&row).Returning("id, created_at").Exec(ctx)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: game %q already exists", domain.ErrConflict, game.Name)
	}
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	game.ID = row.ID
	game.CreatedAt = row.CreatedAt
	return nil
}

func (s *Store) GetGame(ctx context.Context, id int64) (domain.Game, error) {
	var row gameRow
	if err := s.conn(ctx).NewSelect().Model(&row).Where("id = ?", id).Scan(ctx); err != nil {
		return domain.Game{}, notFound(err, domain.ErrGameNotFound)
	}
	return row.toDomain(), nil
}

func (s *Store) GetGameByName(ctx context.Context, name string) (domain.Game, error) {
	var row gameRow
	if err := s.conn(ctx).NewSelect().Model(&row).Where("name = ?", name).Scan(ctx); err != nil {
		return domain.Game{}, notFound(err, domain.ErrGameNotFound)
	}
	return row.toDomain(), nil
}

func (s *Store) SetWinningScore(ctx context.Context, id int64, score int) error {
	res, err := s.conn(ctx).NewUpdate().Model((*gameRow)(nil)).
		Set("winning_score = ?", score).
		Where("id = ?", id).
		Exec(ctx)
	return affectedOr(res, err, domain.ErrGameNotFound)
}

func (s *Store) CreateSession(ctx context.Context, session *domain.PlayerSession) error {
	row := sessionRow{
		PlayerID:  session.PlayerID,
		GameID:    session.GameID,
		Score:     session.Score,
		Stage:     session.Stage,
		StartedAt: session.StartedAt,
	}
	_, err := s.conn(ctx).NewInsert().Model(&row).Returning("id").Exec(ctx)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: player %d already has an open session", domain.ErrConflict, session.PlayerID)
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	session.ID = row.ID
	return nil
}

func (s *Store) GetSession(ctx context.Context, id int64) (domain.PlayerSession, error) {
	var row sessionRow
	if err := s.conn(ctx).NewSelect().Model(&row).Where("id = ?", id).Scan(ctx); err != nil {
		return domain.PlayerSession{}, notFound(err, domain.ErrSessionNotFound)
	}
	return row.toDomain(), nil
}

// ActiveSession locks the row when called inside a transaction.
func (s *Store) ActiveSession(ctx context.Context, playerID int64) (domain.PlayerSession, error) {
	var row sessionRow
	q := s.conn(ctx).NewSelect().Model(&row).
		Where("player_id = ?", playerID).
		Where("ended_at IS NULL").
		Where("abandoned_at IS NULL").
		OrderExpr("id DESC").
		Limit(1)
	if _, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		return domain.PlayerSession{}, notFound(err, domain.ErrNoActiveSession)
	}
	return row.toDomain(), nil
}

func (s *Store) CompareAndSetScore(ctx context.Context, sessionID int64, oldScore, newScore int) error {
	res, err := s.conn(ctx).NewUpdate().Model((*sessionRow)(nil)).
		Set("score = ?", newScore).
		Where("id = ?", sessionID).
		Where("score = ?", oldScore).
		Where("ended_at IS NULL").
		Where("abandoned_at IS NULL").
		Exec(ctx)
	if err := affectedOr(res, err, domain.ErrScoreConflict); err != nil {
		if errors.Is(err, domain.ErrScoreConflict) {
			if _, gerr := s.GetSession(ctx, sessionID); gerr != nil {
				return gerr
			}
		}
		return err
	}
	return nil
}

func (s *Store) CloseSession(ctx context.Context, sessionID int64, at time.Time) (bool, error) {
	return s.finish(ctx, sessionID, "ended_at", at)
}

func (s *Store) AbandonSession(ctx context.Context, sessionID int64, at time.Time) error {
	_, err := s.finish(ctx, sessionID, "abandoned_at", at)
	return err
}

// finish stamps column on an active session. Closed or abandoned sessions are left as they are.
func (s *Store) finish(ctx context.Context, sessionID int64, column string, at time.Time) (bool, error) {
	res, err := s.conn(ctx).NewUpdate().Model((*sessionRow)(nil)).
		Set("? = ?", bun.Ident(column), at).
		Where("id = ?", sessionID).
		Where("ended_at IS NULL").
		Where("abandoned_at IS NULL").
		Exec(ctx)
	err = affectedOr(res, err, domain.ErrSessionNotFound)
	if errors.Is(err, domain.ErrSessionNotFound) {
		if _, gerr := s.GetSession(ctx, sessionID); gerr != nil {
			return false, gerr
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("update session %d: %w", sessionID, err)
	}
	return true, nil
}

func (s *Store) CompletedSessions(ctx context.Context, query domain.SessionQuery) ([]domain.PlayerSession, error) {
	var rows []sessionRow
	q := s.conn(ctx).NewSelect().Model(&rows).Where("ended_at IS NOT NULL")
	if query.PlayerID != 0 {
		q = q.Where("player_id = ?", query.PlayerID)
	}
	if query.GameID != 0 {
		q = q.Where("game_id = ?", query.GameID)
	}
	if query.Stage != 0 {
		q = q.Where("stage = ?", query.Stage)
	}
	if query.From != nil {
		q = q.Where("ended_at >= ?", *query.From)
	}
	if query.To != nil {
		q = q.Where("ended_at <= ?", *query.To)
	}
	if query.Ascending {
		q = q.OrderExpr("ended_at ASC, id ASC")
	} else {
		q = q.OrderExpr("ended_at DESC, id DESC")
	}
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("select completed sessions: %w", err)
	}
	sessions := make([]domain.PlayerSession, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, row.toDomain())
	}
	return sessions, nil
}

func (s *Store) TopScores(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	var rows []leaderboardRow
	q := s.conn(ctx).NewSelect().
		TableExpr("player_sessions AS s").
		Join("JOIN players AS p ON p.id = s.player_id").
		ColumnExpr("s.player_id, s.id AS session_id, p.name, s.score, s.ended_at").
		Where("s.ended_at IS NOT NULL").
		Where("NOT p.exclude_from_leaderboard").
		OrderExpr("s.score DESC, s.ended_at DESC, s.player_id ASC, s.id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("select leaderboard: %w", err)
	}
	entries := make([]domain.LeaderboardEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, domain.LeaderboardEntry(row))
	}
	return entries, nil
}

func (s *Store) AppendAnswer(ctx context.Context, answer *domain.Answer) error {
	row := answerRow{
		SessionID:  answer.SessionID,
		QuestionID: answer.QuestionID,
		Submitted:  answer.Submitted,
		Correct:    answer.Correct,
		AnsweredAt: answer.AnsweredAt,
	}
	_, err := s.conn(ctx).NewInsert().Model(&row).Returning("id").Exec(ctx)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyAnswered
	}
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	answer.ID = row.ID
	return nil
}

func (s *Store) Ledger(ctx context.Context, sessionID int64) ([]domain.LedgerEntry, error) {
	var rows []ledgerRow
	err := s.conn(ctx).NewSelect().
		TableExpr("player_answers AS a").
		Join("JOIN questions AS q ON q.id = a.question_id").
		ColumnExpr("a.id, a.session_id, a.question_id, a.submitted, a.is_correct, a.answered_at").
		ColumnExpr("q.text AS prompt, q.correct_answer").
		Where("a.session_id = ?", sessionID).
		OrderExpr("a.id ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("select ledger: %w", err)
	}
	ledger := make([]domain.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		ledger = append(ledger, row.toDomain())
	}
	return ledger, nil
}

func (s *Store) AnswerCounts(ctx context.Context, sessionIDs []int64) (map[int64]domain.AnswerCounts, error) {
	counts := make(map[int64]domain.AnswerCounts, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return counts, nil
	}
	var rows []countRow
	err := s.conn(ctx).NewSelect().
		TableExpr("player_answers").
		ColumnExpr("session_id").
		ColumnExpr("count(*) FILTER (WHERE is_correct) AS correct").
		ColumnExpr("count(*) FILTER (WHERE NOT is_correct) AS incorrect").
		Where("session_id IN (?)", bun.In(sessionIDs)).
		GroupExpr("session_id").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("count answers: %w", err)
	}
	for _, row := range rows {
		counts[row.SessionID] = domain.AnswerCounts{Correct: row.Correct, Incorrect: row.Incorrect}
	}
	return counts, nil
}
