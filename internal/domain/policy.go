package domain

import "fmt"

const (
	// DefaultAdvancementWindow is how many recent completed sessions at a stage are considered.
	DefaultAdvancementWindow = 5
	// DefaultMinCompletedSessions is the fewest completed sessions at a stage before promotion.
	DefaultMinCompletedSessions = 3
	// DefaultSuccessThreshold is the promotion success rate, in percent.
	DefaultSuccessThreshold = 75.0
	// DefaultMaxStage is the highest stage a session can start at.
	DefaultMaxStage = 5
	// DefaultWinningScore applies to games created without an explicit threshold.
	DefaultWinningScore = 2
)

// AdvancementPolicy holds the promotion rule between stages.
type AdvancementPolicy struct {
	Window           int
	MinSessions      int
	SuccessThreshold float64
	MaxStage         int
}

// DefaultAdvancementPolicy returns the observed production policy.
func DefaultAdvancementPolicy() AdvancementPolicy {
	return AdvancementPolicy{
		Window:           DefaultAdvancementWindow,
		MinSessions:      DefaultMinCompletedSessions,
		SuccessThreshold: DefaultSuccessThreshold,
		MaxStage:         DefaultMaxStage,
	}
}

// Validate rejects policies that can never promote or never stop.
func (p AdvancementPolicy) Validate() error {
	switch {
	case p.Window < 1:
		return fmt.Errorf("%w: advancement window must be positive", ErrValidation)
	case p.MinSessions < 1 || p.MinSessions > p.Window:
		return fmt.Errorf("%w: min sessions must be between 1 and the window size", ErrValidation)
	case p.SuccessThreshold <= 0 || p.SuccessThreshold > 100:
		return fmt.Errorf("%w: success threshold must be in (0, 100]", ErrValidation)
	case p.MaxStage < 1:
		return fmt.Errorf("%w: max stage must be positive", ErrValidation)
	}
	return nil
}

// Ready applies the promotion rule to a window that holds sessions sessions
// and the given answer totals.
func (p AdvancementPolicy) Ready(sessions int, counts AnswerCounts) bool {
	if sessions < p.MinSessions {
		return false
	}
	total := counts.Total()
	if total == 0 {
		return false
	}
	// correct/total >= threshold/100 without dividing.
	return float64(counts.Correct)*100 >= p.SuccessThreshold*float64(total)
}

// ValidStage reports whether stage can be used to start a session.
func (p AdvancementPolicy) ValidStage(stage int) bool {
	return stage >= 1 && stage <= p.MaxStage
}

// NextScore applies one answer to a running score. Scores never drop below zero.
func NextScore(score int, correct bool) int {
	if correct {
		return score + 1
	}
	if score > 0 {
		return score - 1
	}
	return 0
}
