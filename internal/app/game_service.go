package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"math-quiz-service/internal/domain"
)

// SessionObserver is told about writes that invalidate derived read models.
type SessionObserver interface {
	SessionClosed(ctx context.Context, session domain.PlayerSession)
}

// StageProposal is the dry-run answer to "what stage would I start at".
type StageProposal struct {
	CurrentStage   int  `json:"current_stage"`
	EligibleStage  int  `json:"eligible_stage"`
	ReadyToAdvance bool `json:"ready_to_advance"`
	NextStage      int  `json:"next_stage,omitempty"`
}

// StartResult holds either a new session with its first question or, when
// promotion is available and no stage was confirmed, the proposal.
type StartResult struct {
	Session  *domain.PlayerSession `json:"session,omitempty"`
	Question *domain.Question      `json:"question,omitempty"`
	Proposal *StageProposal        `json:"proposal,omitempty"`
}

// AnswerResult summarizes one scoring step.
type AnswerResult struct {
	Correct         bool                  `json:"is_correct"`
	Score           int                   `json:"score"`
	Stage           int                   `json:"stage"`
	SessionComplete bool                  `json:"session_complete"`
	NextQuestion    *domain.Question      `json:"next_question,omitempty"`
	Summary         domain.SessionSummary `json:"summary"`
}

// SessionState is the player's open session with its game threshold.
type SessionState struct {
	Session      domain.PlayerSession `json:"session"`
	WinningScore int                  `json:"winning_score"`
}

// GameService runs sessions: stage assignment, question selection and scoring.
type GameService struct {
	store     Store
	questions QuestionBank
	stages    *StageEvaluator
	locker    Locker
	restocker Restocker
	observer  SessionObserver
	logger    *slog.Logger
	now       func() time.Time
}

// GameServiceOption customizes a GameService.
type GameServiceOption func(*GameService)

// WithRestocker enables one refill attempt when a stage runs out of questions.
func WithRestocker(r Restocker) GameServiceOption {
	return func(s *GameService) { s.restocker = r }
}

// WithSessionObserver registers the receiver of session-closed events.
func WithSessionObserver(o SessionObserver) GameServiceOption {
	return func(s *GameService) { s.observer = o }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) GameServiceOption {
	return func(s *GameService) { s.logger = l }
}

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) GameServiceOption {
	return func(s *GameService) { s.now = now }
}

func NewGameService(store Store, questions QuestionBank, stages *StageEvaluator, locker Locker, opts ...GameServiceOption) *GameService {
	s := &GameService{
		store:     store,
		questions: questions,
		stages:    stages,
		locker:    locker,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureGame returns the named game, creating it on first use.
func (s *GameService) EnsureGame(ctx context.Context, name, description string, winningScore int) (domain.Game, error) {
	game, err := s.store.GetGameByName(ctx, name)
	if err == nil {
		return game, nil
	}
	if !errors.Is(err, domain.ErrGameNotFound) {
		return domain.Game{}, err
	}
	if winningScore <= 0 {
		winningScore = domain.DefaultWinningScore
	}
	game = domain.Game{Name: name, Description: description, WinningScore: winningScore, CreatedAt: s.now()}
	if err := s.store.CreateGame(ctx, &game); err != nil {
		return domain.Game{}, err
	}
	s.logger.InfoContext(ctx, "game created", "game_id", game.ID, "name", name, "winning_score", winningScore)
	return game, nil
}

// SetWinningScore changes a game's threshold. Sessions already open are
// judged against the new value from their next answer on.
func (s *GameService) SetWinningScore(ctx context.Context, gameID int64, score int) (domain.Game, error) {
	if score < 1 {
		return domain.Game{}, fmt.Errorf("%w: winning score must be positive", domain.ErrValidation)
	}
	if err := s.store.SetWinningScore(ctx, gameID, score); err != nil {
		return domain.Game{}, err
	}
	return s.store.GetGame(ctx, gameID)
}

// ProposeStage computes the stage an implicit start would use without creating anything.
func (s *GameService) ProposeStage(ctx context.Context, playerID, gameID int64) (StageProposal, error) {
	if _, err := s.store.GetPlayer(ctx, playerID); err != nil {
		return StageProposal{}, err
	}
	if _, err := s.store.GetGame(ctx, gameID); err != nil {
		return StageProposal{}, err
	}
	return s.propose(ctx, playerID, gameID)
}

func (s *GameService) propose(ctx context.Context, playerID, gameID int64) (StageProposal, error) {
	current, err := s.currentStage(ctx, playerID, gameID)
	if err != nil {
		return StageProposal{}, err
	}
	eligible, err := s.stages.EligibleStage(ctx, playerID, gameID)
	if err != nil {
		return StageProposal{}, err
	}
	proposal := StageProposal{CurrentStage: current, EligibleStage: eligible}
	if eligible > current {
		proposal.ReadyToAdvance = true
		proposal.NextStage = eligible
	}
	return proposal, nil
}

// currentStage is the stage of the latest completed session, 1 for newcomers.
func (s *GameService) currentStage(ctx context.Context, playerID, gameID int64) (int, error) {
	last, err := s.store.CompletedSessions(ctx, domain.SessionQuery{PlayerID: playerID, GameID: gameID, Limit: 1})
	if err != nil {
		return 0, fmt.Errorf("load latest session: %w", err)
	}
	if len(last) == 0 {
		return 1, nil
	}
	return min(last[0].Stage, s.stages.Policy().MaxStage), nil
}

// StartSession opens a new attempt. Without stageOverride the stage comes from
// history and a pending promotion is returned as a proposal instead of a
// session. With stageOverride the session starts at that stage directly.
func (s *GameService) StartSession(ctx context.Context, playerID, gameID int64, stageOverride *int) (StartResult, error) {
	unlock, err := s.locker.Lock(ctx, playerLockKey(playerID))
	if err != nil {
		return StartResult{}, fmt.Errorf("lock player %d: %w", playerID, err)
	}
	defer unlock()

	if _, err := s.store.GetPlayer(ctx, playerID); err != nil {
		return StartResult{}, err
	}
	game, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return StartResult{}, err
	}

	var stage int
	if stageOverride != nil {
		if !s.stages.Policy().ValidStage(*stageOverride) {
			return StartResult{}, fmt.Errorf("%w: stage %d outside 1..%d", domain.ErrValidation, *stageOverride, s.stages.Policy().MaxStage)
		}
		stage = *stageOverride
	} else {
		proposal, err := s.propose(ctx, playerID, gameID)
		if err != nil {
			return StartResult{}, err
		}
		if proposal.ReadyToAdvance {
			return StartResult{Proposal: &proposal}, nil
		}
		stage = proposal.EligibleStage
	}

	var result StartResult
	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		now := s.now()
		open, err := s.store.ActiveSession(ctx, playerID)
		switch {
		case err == nil:
			if err := s.store.AbandonSession(ctx, open.ID, now); err != nil {
				return fmt.Errorf("abandon session %d: %w", open.ID, err)
			}
			s.logger.InfoContext(ctx, "session abandoned", "session_id", open.ID, "player_id", playerID)
		case !errors.Is(err, domain.ErrNoActiveSession):
			return err
		}

		session := domain.PlayerSession{
			PlayerID:  playerID,
			GameID:    game.ID,
			Stage:     stage,
			StartedAt: now,
		}
		if err := s.store.CreateSession(ctx, &session); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		question, err := s.nextQuestion(ctx, game.ID, stage, nil)
		if err != nil {
			return err
		}
		result = StartResult{Session: &session, Question: &question}
		return nil
	})
	if err != nil {
		return StartResult{}, err
	}
	s.logger.InfoContext(ctx, "session started",
		"session_id", result.Session.ID, "player_id", playerID, "game_id", game.ID, "stage", stage)
	return result, nil
}

// SubmitAnswer scores one answer against the player's open session. A nil
// submitted value is recorded as an incorrect answer.
func (s *GameService) SubmitAnswer(ctx context.Context, playerID, questionID int64, submitted *int) (AnswerResult, error) {
	unlock, err := s.locker.Lock(ctx, playerLockKey(playerID))
	if err != nil {
		return AnswerResult{}, fmt.Errorf("lock player %d: %w", playerID, err)
	}
	defer unlock()

	question, err := s.questions.GetQuestion(ctx, questionID)
	if err != nil {
		return AnswerResult{}, err
	}

	var (
		result  AnswerResult
		session domain.PlayerSession
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		active, err := s.store.ActiveSession(ctx, playerID)
		if err != nil {
			return err
		}
		session = active
		if question.GameID != session.GameID {
			return domain.ErrQuestionNotFound
		}
		ledger, err := s.store.Ledger(ctx, session.ID)
		if err != nil {
			return fmt.Errorf("load ledger: %w", err)
		}
		for _, entry := range ledger {
			if entry.QuestionID == question.ID {
				return domain.ErrAlreadyAnswered
			}
		}
		game, err := s.store.GetGame(ctx, session.GameID)
		if err != nil {
			return err
		}

		correct := question.IsCorrect(submitted)
		score := domain.NextScore(session.Score, correct)
		if err := s.store.CompareAndSetScore(ctx, session.ID, session.Score, score); err != nil {
			return err
		}
		session.Score = score

		now := s.now()
		answer := domain.Answer{
			SessionID:  session.ID,
			QuestionID: question.ID,
			Submitted:  submitted,
			Correct:    correct,
			AnsweredAt: now,
		}
		if err := s.store.AppendAnswer(ctx, &answer); err != nil {
			return fmt.Errorf("append answer: %w", err)
		}
		ledger = append(ledger, domain.LedgerEntry{Answer: answer, Prompt: question.Text, CorrectAnswer: question.CorrectAnswer})

		result = AnswerResult{Correct: correct, Score: score, Stage: session.Stage}
		if score >= game.WinningScore {
			if _, err := s.store.CloseSession(ctx, session.ID, now); err != nil {
				return fmt.Errorf("close session: %w", err)
			}
			session.EndedAt = &now
			result.SessionComplete = true
		} else {
			exclude := make([]int64, 0, len(ledger))
			for _, entry := range ledger {
				exclude = append(exclude, entry.QuestionID)
			}
			next, err := s.nextQuestion(ctx, session.GameID, session.Stage, exclude)
			if err != nil {
				return err
			}
			result.NextQuestion = &next
		}
		result.Summary = domain.SummarizeLedger(session, ledger)
		return nil
	})
	if err != nil {
		return AnswerResult{}, err
	}

	if result.SessionComplete {
		s.logger.InfoContext(ctx, "session complete",
			"session_id", session.ID, "player_id", playerID, "score", session.Score, "stage", session.Stage)
		if s.observer != nil {
			s.observer.SessionClosed(ctx, session)
		}
	}
	return result, nil
}

// CurrentState returns the player's open session.
func (s *GameService) CurrentState(ctx context.Context, playerID int64) (SessionState, error) {
	session, err := s.store.ActiveSession(ctx, playerID)
	if err != nil {
		return SessionState{}, err
	}
	game, err := s.store.GetGame(ctx, session.GameID)
	if err != nil {
		return SessionState{}, err
	}
	return SessionState{Session: session, WinningScore: game.WinningScore}, nil
}

func (s *GameService) nextQuestion(ctx context.Context, gameID int64, stage int, exclude []int64) (domain.Question, error) {
	question, err := s.questions.RandomQuestion(ctx, gameID, stage, exclude)
	if !errors.Is(err, domain.ErrExhausted) || s.restocker == nil {
		return question, err
	}
	s.logger.WarnContext(ctx, "question pool exhausted, restocking", "game_id", gameID, "stage", stage)
	if rerr := s.restocker.Restock(ctx, gameID, stage); rerr != nil {
		s.logger.ErrorContext(ctx, "restock failed", "game_id", gameID, "stage", stage, "error", rerr)
		return domain.Question{}, err
	}
	return s.questions.RandomQuestion(ctx, gameID, stage, exclude)
}

func playerLockKey(playerID int64) string {
	return "player:" + strconv.FormatInt(playerID, 10)
}
