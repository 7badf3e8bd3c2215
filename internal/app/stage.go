package app

import (
	"context"
	"fmt"

	"math-quiz-service/internal/domain"
)

// StageEvaluator decides promotion between stages from completed-session history.
type StageEvaluator struct {
	sessions SessionRepository
	answers  AnswerRepository
	policy   domain.AdvancementPolicy
}

func NewStageEvaluator(sessions SessionRepository, answers AnswerRepository, policy domain.AdvancementPolicy) *StageEvaluator {
	return &StageEvaluator{sessions: sessions, answers: answers, policy: policy}
}

// Policy returns the promotion rule in force.
func (e *StageEvaluator) Policy() domain.AdvancementPolicy {
	return e.policy
}

// ReadyToAdvance reports whether the player's recent completed sessions at
// stage qualify them for stage+1.
func (e *StageEvaluator) ReadyToAdvance(ctx context.Context, playerID, gameID int64, stage int) (bool, error) {
	window, err := e.sessions.CompletedSessions(ctx, domain.SessionQuery{
		PlayerID: playerID,
		GameID:   gameID,
		Stage:    stage,
		Limit:    e.policy.Window,
	})
	if err != nil {
		return false, fmt.Errorf("load stage %d window: %w", stage, err)
	}
	if len(window) < e.policy.MinSessions {
		return false, nil
	}

	ids := make([]int64, 0, len(window))
	for _, s := range window {
		ids = append(ids, s.ID)
	}
	perSession, err := e.answers.AnswerCounts(ctx, ids)
	if err != nil {
		return false, fmt.Errorf("count stage %d answers: %w", stage, err)
	}
	var total domain.AnswerCounts
	for _, counts := range perSession {
		total.Add(counts)
	}
	return e.policy.Ready(len(window), total), nil
}

// EligibleStage walks stages upward from 1 and returns the highest stage
// reachable without skipping a failed level.
func (e *StageEvaluator) EligibleStage(ctx context.Context, playerID, gameID int64) (int, error) {
	stage := 1
	for stage < e.policy.MaxStage {
		ready, err := e.ReadyToAdvance(ctx, playerID, gameID, stage)
		if err != nil {
			return 0, err
		}
		if !ready {
			break
		}
		stage++
	}
	return stage, nil
}
