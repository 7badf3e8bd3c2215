package domain

import "time"

// Game owns a question pool and the sessions played against it.
type Game struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	WinningScore int       `json:"winning_score"`
	CreatedAt    time.Time `json:"created_at"`
}

// Question is an immutable arithmetic prompt with a numeric answer.
type Question struct {
	ID            int64          `json:"id"`
	GameID        int64          `json:"game_id"`
	Text          string         `json:"text"`
	CorrectAnswer int            `json:"-"`
	Difficulty    int            `json:"difficulty"`
	ExtraData     map[string]any `json:"extra_data,omitempty"`
}

// IsCorrect reports whether submitted matches the answer. A missing answer is never correct.
func (q Question) IsCorrect(submitted *int) bool {
	return submitted != nil && *submitted == q.CorrectAnswer
}

// Player is a registered account. Stage and score live on sessions, not here.
type Player struct {
	ID                     int64     `json:"id"`
	Name                   string    `json:"name"`
	Age                    int       `json:"age"`
	PasswordHash           string    `json:"-"`
	ExcludeFromLeaderboard bool      `json:"exclude_from_leaderboard"`
	SelectedUnlockID       *int64    `json:"selected_unlock_id,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
}

// Unlock is a cosmetic reward from the catalog. Players earn unlocks and
// show one of them as their selected unlock.
type Unlock struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	ImagePath   string `json:"image_path"`
	Description string `json:"description,omitempty"`
	Rarity      string `json:"rarity"`
}

// PlayerSession is one play-through. Stage is fixed when the session is created.
type PlayerSession struct {
	ID          int64      `json:"id"`
	PlayerID    int64      `json:"player_id"`
	GameID      int64      `json:"game_id"`
	Score       int        `json:"score"`
	Stage       int        `json:"stage"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	AbandonedAt *time.Time `json:"abandoned_at,omitempty"`
}

// Active reports whether the session still accepts answers.
func (s PlayerSession) Active() bool {
	return s.EndedAt == nil && s.AbandonedAt == nil
}

// Completed reports whether the session was closed by reaching the winning score.
func (s PlayerSession) Completed() bool {
	return s.EndedAt != nil
}

// Answer is an append-only ledger record. Submitted is nil when the player timed out.
type Answer struct {
	ID         int64     `json:"id"`
	SessionID  int64     `json:"session_id"`
	QuestionID int64     `json:"question_id"`
	Submitted  *int      `json:"submitted"`
	Correct    bool      `json:"is_correct"`
	AnsweredAt time.Time `json:"answered_at"`
}

// LedgerEntry is an answer joined with the question it was given for.
type LedgerEntry struct {
	Answer
	Prompt        string `json:"prompt"`
	CorrectAnswer int    `json:"correct_answer"`
}

// AnswerCounts tallies a session's ledger.
type AnswerCounts struct {
	Correct   int `json:"correct"`
	Incorrect int `json:"incorrect"`
}

// Total is the number of answers counted.
func (c AnswerCounts) Total() int {
	return c.Correct + c.Incorrect
}

// Add merges other into c.
func (c *AnswerCounts) Add(other AnswerCounts) {
	c.Correct += other.Correct
	c.Incorrect += other.Incorrect
}

// LeaderboardEntry is one completed session on the leaderboard.
type LeaderboardEntry struct {
	PlayerID  int64     `json:"player_id"`
	SessionID int64     `json:"session_id"`
	Name      string    `json:"name"`
	Score     int       `json:"score"`
	EndedAt   time.Time `json:"ended_at"`
}

// Leaderboard is an ordered snapshot of the top completed sessions.
type Leaderboard struct {
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// SessionQuery filters completed sessions. Zero values mean "any".
type SessionQuery struct {
	PlayerID int64
	GameID   int64
	Stage    int
	From     *time.Time
	To       *time.Time
	// Limit caps the result; 0 means unlimited.
	Limit int
	// Ascending orders by ended_at oldest first; the default is newest first.
	Ascending bool
}

// PlayerFilter drives admin player listing.
type PlayerFilter struct {
	Search   string
	Page     int
	PageSize int
}

// Offset returns the row offset for the filter's page.
func (f PlayerFilter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}
