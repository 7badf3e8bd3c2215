package mathgen

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"math-quiz-service/internal/domain"
	"math-quiz-service/internal/infra/memory"
)

// evaluate recomputes a generated prompt of the form "a op b".
func evaluate(t *testing.T, text string) int {
	t.Helper()
	parts := strings.Fields(text)
	require.Len(t, parts, 3, "prompt %q", text)
	a, err := strconv.Atoi(parts[0])
	require.NoError(t, err)
	b, err := strconv.Atoi(parts[2])
	require.NoError(t, err)
	switch parts[1] {
	case "+":
		return a + b
	case "-":
		return a - b
	case "×":
		return a * b
	case "÷":
		require.NotZero(t, b)
		require.Zero(t, a%b, "division must be exact: %q", text)
		return a / b
	}
	t.Fatalf("unknown operator in %q", text)
	return 0
}

func TestGeneratorAnswersAreCorrect(t *testing.T) {
	gen := NewGenerator(7)
	for difficulty := 1; difficulty <= 6; difficulty++ {
		for i := 0; i < 200; i++ {
			q := gen.Question(difficulty)
			assert.Equal(t, difficulty, q.Difficulty)
			assert.Equal(t, evaluate(t, q.Text), q.CorrectAnswer, "prompt %q", q.Text)
		}
	}
}

func TestGeneratorRespectsTierBounds(t *testing.T) {
	gen := NewGenerator(11)
	for i := 0; i < 500; i++ {
		q := gen.Question(1)
		assert.LessOrEqual(t, q.CorrectAnswer, 18)
		assert.Contains(t, q.Text, "+")

		q = gen.Question(2)
		assert.GreaterOrEqual(t, q.CorrectAnswer, 0)
		assert.LessOrEqual(t, q.CorrectAnswer, 20)

		q = gen.Question(3)
		assert.GreaterOrEqual(t, q.CorrectAnswer, 0)
		assert.LessOrEqual(t, q.CorrectAnswer, 100)

		q = gen.Question(4)
		assert.GreaterOrEqual(t, q.CorrectAnswer, 4)
		assert.LessOrEqual(t, q.CorrectAnswer, 100)
	}
}

func TestBatchHasDistinctPrompts(t *testing.T) {
	batch := NewGenerator(3).Batch(4, 40)
	require.Len(t, batch, 40)
	seen := map[string]bool{}
	for _, q := range batch {
		assert.False(t, seen[q.Text], "duplicate prompt %q", q.Text)
		seen[q.Text] = true
	}
}

func TestRestockerImportsBatch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	game := domain.Game{Name: "math", WinningScore: 2}
	require.NoError(t, store.CreateGame(ctx, &game))

	r := NewRestocker(NewGenerator(5), store, 10, nil)
	require.NoError(t, r.Restock(ctx, game.ID, 3))

	n, err := store.CountQuestions(ctx, game.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	q, err := store.RandomQuestion(ctx, game.ID, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, game.ID, q.GameID)
}
