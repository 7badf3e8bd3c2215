package mathgen

import (
	"context"
	"fmt"
	"log/slog"

	"math-quiz-service/internal/app"
)

// DefaultBatchSize is how many questions one restock adds.
const DefaultBatchSize = 50

// Restocker refills an exhausted difficulty tier with generated questions.
type Restocker struct {
	gen      *Generator
	importer app.QuestionImporter
	batch    int
	logger   *slog.Logger
}

func NewRestocker(gen *Generator, importer app.QuestionImporter, batch int, logger *slog.Logger) *Restocker {
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Restocker{gen: gen, importer: importer, batch: batch, logger: logger}
}

func (r *Restocker) Restock(ctx context.Context, gameID int64, difficulty int) error {
	questions := r.gen.Batch(difficulty, r.batch)
	n, err := r.importer.ImportQuestions(ctx, gameID, questions)
	if err != nil {
		return fmt.Errorf("import generated questions: %w", err)
	}
	r.logger.InfoContext(ctx, "question pool restocked", "game_id", gameID, "difficulty", difficulty, "added", n)
	return nil
}
