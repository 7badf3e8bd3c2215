package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"math-quiz-service/internal/domain"
)

type playerRow struct {
	bun.BaseModel `bun:"table:players,alias:p"`

	ID                     int64     `bun:"id,pk,autoincrement"`
	Name                   string    `bun:"name,notnull"`
	Age                    int       `bun:"age,notnull"`
	PasswordHash           string    `bun:"password_hash,notnull"`
	ExcludeFromLeaderboard bool      `bun:"exclude_from_leaderboard,notnull"`
	SelectedUnlockID       *int64    `bun:"selected_unlock_id"`
	CreatedAt              time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (r playerRow) toDomain() domain.Player {
	return domain.Player{
		ID:                     r.ID,
		Name:                   r.Name,
		Age:                    r.Age,
		PasswordHash:           r.PasswordHash,
		ExcludeFromLeaderboard: r.ExcludeFromLeaderboard,
		SelectedUnlockID:       r.SelectedUnlockID,
		CreatedAt:              r.CreatedAt,
	}
}

type unlockRow struct {
	bun.BaseModel `bun:"table:unlocks,alias:u"`

	ID          int64  `bun:"id,pk,autoincrement"`
	Name        string `bun:"name,notnull"`
	ImagePath   string `bun:"image_path,notnull"`
	Description string `bun:"description,notnull"`
	Rarity      string `bun:"rarity,notnull"`
}

func (r unlockRow) toDomain() domain.Unlock {
	return domain.Unlock{
		ID:          r.ID,
		Name:        r.Name,
		ImagePath:   r.ImagePath,
		Description: r.Description,
		Rarity:      r.Rarity,
	}
}

type playerUnlockRow struct {
	bun.BaseModel `bun:"table:player_unlocks,alias:pu"`

	PlayerID   int64     `bun:"player_id,pk"`
	UnlockID   int64     `bun:"unlock_id,pk"`
	UnlockedAt time.Time `bun:"unlocked_at,nullzero,notnull,default:current_timestamp"`
}

type gameRow struct {
	bun.BaseModel `bun:"table:games,alias:g"`

	ID           int64     `bun:"id,pk,autoincrement"`
	Name         string    `bun:"name,notnull"`
	Description  string    `bun:"description,notnull"`
	WinningScore int       `bun:"winning_score,notnull"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (r gameRow) toDomain() domain.Game {
	return domain.Game{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		WinningScore: r.WinningScore,
		CreatedAt:    r.CreatedAt,
	}
}

type sessionRow struct {
	bun.BaseModel `bun:"table:player_sessions,alias:s"`

	ID          int64      `bun:"id,pk,autoincrement"`
	PlayerID    int64      `bun:"player_id,notnull"`
	GameID      int64      `bun:"game_id,notnull"`
	Score       int        `bun:"score,notnull"`
	Stage       int        `bun:"stage,notnull"`
	StartedAt   time.Time  `bun:"started_at,notnull"`
	EndedAt     *time.Time `bun:"ended_at"`
	AbandonedAt *time.Time `bun:"abandoned_at"`
}

func (r sessionRow) toDomain() domain.PlayerSession {
	return domain.PlayerSession{
		ID:          r.ID,
		PlayerID:    r.PlayerID,
		GameID:      r.GameID,
		Score:       r.Score,
		Stage:       r.Stage,
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
		AbandonedAt: r.AbandonedAt,
	}
}

type answerRow struct {
	bun.BaseModel `bun:"table:player_answers,alias:a"`

	ID         int64     `bun:"id,pk,autoincrement"`
	SessionID  int64     `bun:"session_id,notnull"`
	QuestionID int64     `bun:"question_id,notnull"`
	Submitted  *int      `bun:"submitted"`
	Correct    bool      `bun:"is_correct,notnull"`
	AnsweredAt time.Time `bun:"answered_at,notnull"`
}

type ledgerRow struct {
	ID            int64     `bun:"id"`
	SessionID     int64     `bun:"session_id"`
	QuestionID    int64     `bun:"question_id"`
	Submitted     *int      `bun:"submitted"`
	Correct       bool      `bun:"is_correct"`
	AnsweredAt    time.Time `bun:"answered_at"`
	Prompt        string    `bun:"prompt"`
	CorrectAnswer int       `bun:"correct_answer"`
}

func (r ledgerRow) toDomain() domain.LedgerEntry {
	return domain.LedgerEntry{
		Answer: domain.Answer{
			ID:         r.ID,
			SessionID:  r.SessionID,
			QuestionID: r.QuestionID,
			Submitted:  r.Submitted,
			Correct:    r.Correct,
			AnsweredAt: r.AnsweredAt,
		},
		Prompt:        r.Prompt,
		CorrectAnswer: r.CorrectAnswer,
	}
}

type leaderboardRow struct {
	PlayerID  int64     `bun:"player_id"`
	SessionID int64     `bun:"session_id"`
	Name      string    `bun:"name"`
	Score     int       `bun:"score"`
	EndedAt   time.Time `bun:"ended_at"`
}

type countRow struct {
	SessionID int64 `bun:"session_id"`
	Correct   int   `bun:"correct"`
	Incorrect int   `bun:"incorrect"`
}
