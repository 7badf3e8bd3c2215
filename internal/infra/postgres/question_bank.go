package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"math-quiz-service/internal/domain"
)

const questionColumns = `id, game_id, text, correct_answer, difficulty, extra_data`

// QuestionBank reads and bulk-loads questions through a pgx pool.
type QuestionBank struct {
	pool *pgxpool.Pool
}

func NewQuestionBank(pool *pgxpool.Pool) *QuestionBank {
	return &QuestionBank{pool: pool}
}

func (b *QuestionBank) GetQuestion(ctx context.Context, id int64) (domain.Question, error) {
	row := b.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, id)
	q, err := scanQuestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question %d: %w", id, err)
	}
	return q, nil
}

func (b *QuestionBank) RandomQuestion(ctx context.Context, gameID int64, difficulty int, exclude []int64) (domain.Question, error) {
	if exclude == nil {
		// a NULL array would filter out every row
		exclude = []int64{}
	}
	row := b.pool.QueryRow(ctx, `
SELECT `+questionColumns+`
FROM questions
WHERE game_id = $1 AND difficulty = $2 AND NOT (id = ANY($3))
ORDER BY random()
LIMIT 1`, gameID, difficulty, exclude)
	q, err := scanQuestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, fmt.Errorf("%w: game %d difficulty %d", domain.ErrExhausted, gameID, difficulty)
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("select question: %w", err)
	}
	return q, nil
}

// ImportQuestions bulk-inserts with COPY.
func (b *QuestionBank) ImportQuestions(ctx context.Context, gameID int64, questions []domain.Question) (int, error) {
	if len(questions) == 0 {
		return 0, nil
	}
	n, err := b.pool.CopyFrom(ctx,
		pgx.Identifier{"questions"},
		[]string{"game_id", "text", "correct_answer", "difficulty", "extra_data"},
		pgx.CopyFromSlice(len(questions), func(i int) ([]interface{}, error) {
			q := questions[i]
			difficulty := q.Difficulty
			if difficulty < 1 {
				difficulty = 1
			}
			var extra []byte
			if len(q.ExtraData) > 0 {
				raw, err := json.Marshal(q.ExtraData)
				if err != nil {
					return nil, fmt.Errorf("encode extra data: %w", err)
				}
				extra = raw
			}
			return []interface{}{gameID, q.Text, q.CorrectAnswer, difficulty, extra}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy questions: %w", err)
	}
	return int(n), nil
}

func (b *QuestionBank) CountQuestions(ctx context.Context, gameID int64, difficulty int) (int, error) {
	var n int
	err := b.pool.QueryRow(ctx,
		`SELECT count(*) FROM questions WHERE game_id = $1 AND difficulty = $2`, gameID, difficulty).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return n, nil
}

func scanQuestion(row pgx.Row) (domain.Question, error) {
	var (
		q     domain.Question
		extra []byte
	)
	if err := row.Scan(&q.ID, &q.GameID, &q.Text, &q.CorrectAnswer, &q.Difficulty, &extra); err != nil {
		return domain.Question{}, err
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &q.ExtraData); err != nil {
			return domain.Question{}, fmt.Errorf("unmarshal extra data: %w", err)
		}
	}
	return q, nil
}
