package domain

import (
	"fmt"
	"time"
)

// Period selects trend bucket granularity.
type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod validates a period name.
func ParsePeriod(raw string) (Period, error) {
	switch Period(raw) {
	case PeriodWeek, PeriodMonth:
		return Period(raw), nil
	case "":
		return PeriodWeek, nil
	}
	return "", fmt.Errorf("%w: period must be week or month, got %q", ErrValidation, raw)
}

// PeriodStats aggregates the completed sessions of one trend bucket.
type PeriodStats struct {
	Key            string    `json:"period_key"`
	Label          string    `json:"period_label"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	TotalGames     int       `json:"total_games"`
	AvgScore       float64   `json:"avg_score"`
	SuccessRate    float64   `json:"success_rate"`
	TotalCorrect   int       `json:"total_correct"`
	TotalIncorrect int       `json:"total_incorrect"`
}

// DateRange is a closed interval on session end time.
type DateRange struct {
	Start time.Time `json:"start_date"`
	End   time.Time `json:"end_date"`
}

// Validate rejects inverted ranges.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: range start and end are required", ErrValidation)
	}
	if r.Start.After(r.End) {
		return fmt.Errorf("%w: range start %s is after end %s", ErrValidation, r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	}
	return nil
}

// RangeStats aggregates all completed sessions inside a DateRange.
type RangeStats struct {
	DateRange
	TotalGames     int     `json:"total_games"`
	AvgScore       float64 `json:"avg_score"`
	SuccessRate    float64 `json:"success_rate"`
	TotalCorrect   int     `json:"total_correct"`
	TotalIncorrect int     `json:"total_incorrect"`
	TotalAnswers   int     `json:"total_answers"`
}

// StatsDelta is period2 minus period1.
type StatsDelta struct {
	AvgScore    float64 `json:"avg_score"`
	SuccessRate float64 `json:"success_rate"`
	TotalGames  int     `json:"total_games"`
}

// PeriodComparison places two ranges side by side.
type PeriodComparison struct {
	Period1    RangeStats `json:"period1"`
	Period2    RangeStats `json:"period2"`
	Difference StatsDelta `json:"difference"`
}

// WrongAnswer describes one incorrect ledger entry for display.
type WrongAnswer struct {
	QuestionID    int64  `json:"question_id"`
	Prompt        string `json:"prompt"`
	Submitted     *int   `json:"submitted"`
	CorrectAnswer int    `json:"correct_answer"`
}

// SessionSummary is the ledger view of one session.
type SessionSummary struct {
	SessionID      int64         `json:"session_id"`
	Stage          int           `json:"stage"`
	Score          int           `json:"score"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	CorrectCount   int           `json:"correct_count"`
	IncorrectCount int           `json:"incorrect_count"`
	WrongAnswers   []WrongAnswer `json:"wrong_answers"`
}

// SummarizeLedger folds ledger entries into a SessionSummary.
func SummarizeLedger(session PlayerSession, ledger []LedgerEntry) SessionSummary {
	summary := SessionSummary{
		SessionID:    session.ID,
		Stage:        session.Stage,
		Score:        session.Score,
		StartedAt:    session.StartedAt,
		EndedAt:      session.EndedAt,
		WrongAnswers: []WrongAnswer{},
	}
	for _, entry := range ledger {
		if entry.Correct {
			summary.CorrectCount++
			continue
		}
		summary.IncorrectCount++
		summary.WrongAnswers = append(summary.WrongAnswers, WrongAnswer{
			QuestionID:    entry.QuestionID,
			Prompt:        entry.Prompt,
			Submitted:     entry.Submitted,
			CorrectAnswer: entry.CorrectAnswer,
		})
	}
	return summary
}
