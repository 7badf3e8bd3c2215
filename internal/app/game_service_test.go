package app_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"math-quiz-service/internal/app"
	"math-quiz-service/internal/domain"
	"math-quiz-service/internal/mathgen"
)

func TestNewcomerStartsAtStageOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.signup(t, "ada")

	proposal, err := f.games.ProposeStage(ctx, player.ID, f.game.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, proposal.CurrentStage)
	assert.False(t, proposal.ReadyToAdvance)

	started, err := f.games.StartSession(ctx, player.ID, f.game.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, started.Session)
	require.NotNil(t, started.Question)
	assert.Nil(t, started.Proposal)
	assert.Equal(t, 1, started.Session.Stage)
	assert.Equal(t, 0, started.Session.Score)
	assert.Equal(t, 1, started.Question.Difficulty)
}

func TestImplicitStartProposesPromotion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.signup(t, "ada")
	for i := 0; i < 3; i++ {
		f.finishSession(t, player.ID, 1, 0)
	}

	started, err := f.games.StartSession(ctx, player.ID, f.game.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, started.Proposal)
	assert.Nil(t, started.Session)
	assert.True(t, started.Proposal.ReadyToAdvance)
	assert.Equal(t, 1, started.Proposal.CurrentStage)
	assert.Equal(t, 2, started.Proposal.NextStage)

	_, err = f.games.CurrentState(ctx, player.ID)
	assert.ErrorIs(t, err, domain.ErrNoActiveSession, "a proposal must not create a session")

	started, err = f.games.StartSession(ctx, player.ID, f.game.ID, intPtr(2))
	require.NoError(t, err)
	require.NotNil(t, started.Session)
	assert.Equal(t, 2, started.Session.Stage)
	assert.Equal(t, 2, started.Question.Difficulty)
}

func TestDecliningPromotionKeepsCurrentStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.signup(t, "ada")
	for i := 0; i < 3; i++ {
		f.finishSession(t, player.ID, 1, 0)
	}

	started, err := f.games.StartSession(ctx, player.ID, f.game.ID, intPtr(1))
	require.NoError(t, err)
	require.NotNil(t, started.Session)
	assert.Equal(t, 1, started.Session.Stage)
}

func TestImplicitStartDemotesAfterWeakStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.signup(t, "ada")

	// Last session was at stage 3 but stage 1 was never mastered.
	f.finishSession(t, player.ID, 3, 0)

	started, err := f.games.StartSession(ctx, player.ID, f.game.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, started.Session)
	assert.Equal(t, 1, started.Session.Stage)
}

func TestStartRejectsInvalidOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.signup(t, "ada")

	for _, stage := range []int{0, 6, -1} {
		_, err := f.games.StartSession(ctx, player.ID, f.game.ID, intPtr(stage))
		assert.ErrorIs(t, err, domain.ErrValidation, "stage %d", stage)
	}
	_, err := f.games.CurrentState(ctx, player.ID)
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)
}

func TestStartUnknownPlayerOrGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.signup(t, "ada")

	_, err := f.games.StartSession(ctx, 999, f.game.ID, nil)
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)
	_, err = f.games.StartSession(ctx, player.ID, 999, nil)
	assert.ErrorIs(t, err, domain.ErrGameNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNewSessionAbandonsOpenOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.signup(t, "ada")

	first, err := f.games.StartSession(ctx, player.ID, f.game.ID, nil)
	require.NoError(t, err)
	second, err := f.games.StartSession(ctx, player.ID, f.game.ID, nil)
	require.NoError(t, err)

	old, err := f.store.GetSession(ctx, first.Session.ID)
	require.NoError(t, err)
	assert.NotNil(t, old.AbandonedAt)
	assert.False(t, old.Active())
	assert.False(t, old.Completed())

	state, err := f.games.CurrentState(ctx, player.ID)
	require.NoError(t, err)
	assert.Equal(t, second.Session.ID, state.Session.ID)
	assert.Equal(t, f.game.WinningScore, state.WinningScore)
}

func TestCorrectAnswerIncrementsScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.signup(t, "ada")
	started, err := f.games.StartSession(ctx, player.ID, f.game.ID, nil)
	require.NoError(t, err)

	answer := started.Question.CorrectAnswer
	result, err := f.games.SubmitAnswer(ctx, player.ID, started.Question.ID, &answer)
	require.NoError(t, err)
	assert.True(t, result.Correct)
	assert.Equal(t, 1, result.Score)
	assert.False(t, result.SessionComplete)
	require.NotNil(t, result.NextQuestion)
	assert.NotEqual(t, started.Question.ID, result.NextQuestion.ID)
	assert.Equal(t, 1, result.Summary.CorrectCount)
	assert.Empty(t, result.Summary.WrongAnswers)
}

func TestMissingAnswerIsIncorrectAndFloorsAtZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.signup(t, "ada")
	started, err := f.games.StartSession(ctx, player.ID, f.game.ID, nil)
	require.NoError(t, err)

	result, err := f.games.SubmitAnswer(ctx, player.ID, started.Question.ID, nil)
	require.NoError(t, err)
	assert.False(t, result.Correct)
	assert.Equal(t, 0, result.Score)
	require.Len(t, result.Summary.WrongAnswers, 1)
	assert.Nil(t, result.Summary.WrongAnswers[0].Submitted)
	assert.Equal(t, started.Question.CorrectAnswer, result.Summary.WrongAnswers[0].CorrectAnswer)

	ledger, err := f.store.Ledger(ctx, started.Session.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.False(t, ledger[0].Correct)
}

func TestLedgerKeepsSubmissionOrder(t *testing.T) {
	f := newFixture(t, withWinningScore(10))
	ctx := context.Background()
	player := f.signup(t, "ada")
	started, err := f.games.StartSession(ctx, player.ID, f.game.ID, nil)
	require.NoError(t, err)

	var (
		asked   []int64
		correct []bool
	)
	question := *started.Question
	for i := 0; i < 6; i++ {
		var answer *int
		if i%2 == 0 {
			answer = intPtr(question.CorrectAnswer)
		}
		result, err := f.games.SubmitAnswer(ctx, player.ID, question.ID, answer)
		require.NoError(t, err)
		asked = append(asked, question.ID)
		correct = append(correct, answer != nil)
		question = *result.NextQuestion
	}

	ledger, err := f.store.Ledger(ctx, started.Session.ID)
	require.NoError(t, err)
	require.Len(t, ledger, len(asked))
	for i, entry := range ledger {
		assert.Equal(t, asked[i], entry.QuestionID, "entry %d", i)
		assert.Equal(t, correct[i], entry.Correct, "entry %d", i)
		assert.Equal(t, correct[i], entry.Submitted != nil, "entry %d", i)
		if i > 0 {
			assert.Greater(t, entry.ID, ledger[i-1].ID)
		}
	}
}

func TestWrongAnswerDecrementsScore(t *testing.T) {
	f := newFixture(t, withWinningScore(5))
	ctx := context.Background()
	player := f.signup(t, "ada")
	started, err := f.games.StartSession(ctx, player.ID, f.game.ID, nil)
	require.NoError(t, err)

	answer := started.Question.CorrectAnswer
	result, err := f.games.SubmitAnswer(ctx, player.ID, started.Question.ID, &answer)
	require.NoError(t, err)
	require.Equal(t, 1, result.Score)

	wrong := result.NextQuestion.CorrectAnswer - 1
	result, err = f.games.SubmitAnswer(ctx, player.ID, result.NextQuestion.ID, &wrong)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Score)
	assert.Equal(t, 1, result.Summary.IncorrectCount)
}

func TestSessionClosesAtWinningScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.signup(t, "ada")
	started, err := f.games.StartSession(ctx, player.ID, f.game.ID, nil)
	require.NoError(t, err)

	answer := started.Question.CorrectAnswer
	result, err := f.games.SubmitAnswer(ctx, player.ID, started.Question.ID, &answer)
	require.NoError(t, err)
	next := result.NextQuestion
	answer = next.CorrectAnswer
	result, err = f.games.SubmitAnswer(ctx, player.ID, next.ID, &answer)
	require.NoError(t, err)
	assert.True(t, result.SessionComplete)
	assert.Nil(t, result.NextQuestion)
	assert.Equal(t, 2, result.Score)
	require.NotNil(t, result.Summary.EndedAt)

	_, err = f.games.SubmitAnswer(ctx, player.ID, started.Question.ID, &answer)
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)

	session, err := f.store.GetSession(ctx, started.Session.ID)
	require.NoError(t, err)
	assert.True(t, session.Completed())
	assert.Equal(t, 2, session.Score)
}

func TestSessionNeverRepeatsQuestionsOrChangesStage(t *testing.T) {
	f := newFixture(t, withWinningScore(100))
	ctx := context.Background()
	player := f.signup(t, "ada")
	started, err := f.games.StartSession(ctx, player.ID, f.game.ID, intPtr(3))
	require.NoError(t, err)

	seen := map[int64]bool{started.Question.ID: true}
	question := *started.Question
	for i := 0; i < 15; i++ {
		result, err := f.games.SubmitAnswer(ctx, player.ID, question.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, result.Stage)
		question = *result.NextQuestion
		assert.False(t, seen[question.ID], "question %d repeated", question.ID)
		assert.Equal(t, 3, question.Difficulty)
		seen[question.ID] = true
	}
}

func TestSubmitRejectsUnknownAndForeignQuestions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.signup(t, "ada")
	_, err := f.games.StartSession(ctx, player.ID, f.game.ID, nil)
	require.NoError(t, err)

	_, err = f.games.SubmitAnswer(ctx, player.ID, 99999, intPtr(1))
	assert.ErrorIs(t, err, domain.ErrQuestionNotFound)

	other, err := f.games.EnsureGame(ctx, "other", "", 2)
	require.NoError(t, err)
	seedQuestions(t, f.store, other.ID, 1, 1)
	foreign, err := f.store.RandomQuestion(ctx, other.ID, 1, nil)
	require.NoError(t, err)
	_, err = f.games.SubmitAnswer(ctx, player.ID, foreign.ID, intPtr(foreign.CorrectAnswer))
	assert.ErrorIs(t, err, domain.ErrQuestionNotFound)
}

func TestSubmitWithoutSession(t *testing.T) {
	f := newFixture(t)
	player := f.signup(t, "ada")
	question, err := f.store.RandomQuestion(context.Background(), f.game.ID, 1, nil)
	require.NoError(t, err)

	_, err = f.games.SubmitAnswer(context.Background(), player.ID, question.ID, intPtr(1))
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)
}

func TestDuplicateAnswerIsRejected(t *testing.T) {
	f := newFixture(t, withWinningScore(5))
	ctx := context.Background()
	player := f.signup(t, "ada")
	started, err := f.games.StartSession(ctx, player.ID, f.game.ID, nil)
	require.NoError(t, err)

	answer := started.Question.CorrectAnswer
	_, err = f.games.SubmitAnswer(ctx, player.ID, started.Question.ID, &answer)
	require.NoError(t, err)

	_, err = f.games.SubmitAnswer(ctx, player.ID, started.Question.ID, &answer)
	assert.ErrorIs(t, err, domain.ErrAlreadyAnswered)
	assert.ErrorIs(t, err, domain.ErrConflict)

	state, err := f.games.CurrentState(ctx, player.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Session.Score)
	ledger, err := f.store.Ledger(ctx, started.Session.ID)
	require.NoError(t, err)
	assert.Len(t, ledger, 1)
}

func TestExhaustedPoolRollsBackAnswer(t *testing.T) {
	f := newFixture(t, withQuestionsPerStage(1), withWinningScore(5))
	ctx := context.Background()
	player := f.signup(t, "ada")
	started, err := f.games.StartSession(ctx, player.ID, f.game.ID, nil)
	require.NoError(t, err)

	answer := started.Question.CorrectAnswer
	_, err = f.games.SubmitAnswer(ctx, player.ID, started.Question.ID, &answer)
	assert.ErrorIs(t, err, domain.ErrExhausted)

	state, err := f.games.CurrentState(ctx, player.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, state.Session.Score)
	ledger, err := f.store.Ledger(ctx, started.Session.ID)
	require.NoError(t, err)
	assert.Empty(t, ledger)
}

func TestExhaustedPoolIsRestocked(t *testing.T) {
	var f *fixture
	restocker := restockFunc(func(ctx context.Context, gameID int64, difficulty int) error {
		return mathgen.NewRestocker(mathgen.NewGenerator(1), f.store, 5, nil).Restock(ctx, gameID, difficulty)
	})
	f = newFixture(t, withQuestionsPerStage(1), withWinningScore(5), withGameOptions(app.WithRestocker(restocker)))
	ctx := context.Background()
	player := f.signup(t, "ada")
	started, err := f.games.StartSession(ctx, player.ID, f.game.ID, nil)
	require.NoError(t, err)

	answer := started.Question.CorrectAnswer
	result, err := f.games.SubmitAnswer(ctx, player.ID, started.Question.ID, &answer)
	require.NoError(t, err)
	require.NotNil(t, result.NextQuestion)
	assert.Equal(t, 1, result.NextQuestion.Difficulty)

	n, err := f.store.CountQuestions(ctx, f.game.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestConcurrentSubmissionsLoseNoUpdates(t *testing.T) {
	f := newFixture(t, withQuestionsPerStage(40), withWinningScore(100))
	ctx := context.Background()
	player := f.signup(t, "ada")
	_, err := f.games.StartSession(ctx, player.ID, f.game.ID, nil)
	require.NoError(t, err)

	var questions []domain.Question
	var exclude []int64
	for i := 0; i < 15; i++ {
		q, err := f.store.RandomQuestion(ctx, f.game.ID, 1, exclude)
		require.NoError(t, err)
		exclude = append(exclude, q.ID)
		questions = append(questions, q)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(questions))
	for _, q := range questions {
		wg.Add(1)
		go func(q domain.Question) {
			defer wg.Done()
			answer := q.CorrectAnswer
			_, err := f.games.SubmitAnswer(ctx, player.ID, q.ID, &answer)
			errs <- err
		}(q)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	state, err := f.games.CurrentState(ctx, player.ID)
	require.NoError(t, err)
	assert.Equal(t, len(questions), state.Session.Score)
	ledger, err := f.store.Ledger(ctx, state.Session.ID)
	require.NoError(t, err)
	assert.Len(t, ledger, len(questions))
}

func TestSetWinningScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	game, err := f.games.SetWinningScore(ctx, f.game.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, game.WinningScore)

	_, err = f.games.SetWinningScore(ctx, f.game.ID, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.games.SetWinningScore(ctx, 999, 3)
	assert.ErrorIs(t, err, domain.ErrGameNotFound)
}

type restockFunc func(ctx context.Context, gameID int64, difficulty int) error

func (f restockFunc) Restock(ctx context.Context, gameID int64, difficulty int) error {
	return f(ctx, gameID, difficulty)
}
