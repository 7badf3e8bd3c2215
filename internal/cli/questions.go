package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"math-quiz-service/internal/app"
	"math-quiz-service/internal/config"
	"math-quiz-service/internal/domain"
	"math-quiz-service/internal/mathgen"
)

const importBatchSize = 100

// NewImportQuestionsCmd loads questions from a JSON-lines file.
func NewImportQuestionsCmd(configPath *string) *cobra.Command {
	var (
		file string
		game string
	)
	cmd := &cobra.Command{
		Use:   "import-questions",
		Short: "Import questions from a JSON-lines file",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			return withQuestionTarget(cmd.Context(), *configPath, game, func(ctx context.Context, importer app.QuestionImporter, gameID int64) error {
				n, err := importQuestions(ctx, f, importer, gameID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d questions into game %d\n", n, gameID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON-lines file with {text, correct_answer, difficulty} per line")
	cmd.Flags().StringVar(&game, "game", "", "game name (defaults to the configured game)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// NewGenerateQuestionsCmd adds generated questions to a stage.
func NewGenerateQuestionsCmd(configPath *string) *cobra.Command {
	var (
		game       string
		difficulty int
		count      int
		seed       int64
	)
	cmd := &cobra.Command{
		Use:   "generate-questions",
		Short: "Generate arithmetic questions for one difficulty",
		RunE: func(cmd *cobra.Command, args []string) error {
			if difficulty < 1 || count < 1 {
				return errors.New("difficulty and count must be positive")
			}
			return withQuestionTarget(cmd.Context(), *configPath, game, func(ctx context.Context, importer app.QuestionImporter, gameID int64) error {
				n, err := importer.ImportQuestions(ctx, gameID, mathgen.NewGenerator(seed).Batch(difficulty, count))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "generated %d questions at difficulty %d for game %d\n", n, difficulty, gameID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&game, "game", "", "game name (defaults to the configured game)")
	cmd.Flags().IntVar(&difficulty, "difficulty", 1, "stage the questions belong to")
	cmd.Flags().IntVar(&count, "count", mathgen.DefaultBatchSize, "number of questions")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 uses the clock)")
	return cmd
}

// withQuestionTarget opens the configured backends, resolves the game and
// hands the importer to fn.
func withQuestionTarget(ctx context.Context, configPath, gameName string, fn func(context.Context, app.QuestionImporter, int64) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" {
		return errors.New("postgres url not configured; in-memory questions would be lost on exit")
	}
	if gameName != "" {
		cfg.Game.Name = gameName
	}
	cfg.Game.SeedPerStage = 0
	logger := cfg.Logger(os.Stderr)

	backends, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backends.Close()
	svc, err := buildServices(ctx, cfg, backends, logger)
	if err != nil {
		return err
	}
	return fn(ctx, backends.importer, svc.game.ID)
}

type questionLine struct {
	Text          string         `json:"text"`
	CorrectAnswer *int           `json:"correct_answer"`
	Difficulty    int            `json:"difficulty"`
	ExtraData     map[string]any `json:"extra_data"`
}

// importQuestions streams JSON lines into the importer in batches. Blank
// lines are skipped and a missing difficulty means stage 1.
func importQuestions(ctx context.Context, r io.Reader, importer app.QuestionImporter, gameID int64) (int, error) {
	scanner := bufio.NewScanner(r)
	batch := make([]domain.Question, 0, importBatchSize)
	total := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := importer.ImportQuestions(ctx, gameID, batch)
		if err != nil {
			return err
		}
		total += n
		batch = batch[:0]
		return nil
	}

	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ql questionLine
		if err := json.Unmarshal([]byte(line), &ql); err != nil {
			return total, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if strings.TrimSpace(ql.Text) == "" || ql.CorrectAnswer == nil {
			return total, fmt.Errorf("line %d: %w: text and correct_answer are required", lineNo, domain.ErrValidation)
		}
		if ql.Difficulty < 1 {
			ql.Difficulty = 1
		}
		batch = append(batch, domain.Question{
			Text:          ql.Text,
			CorrectAnswer: *ql.CorrectAnswer,
			Difficulty:    ql.Difficulty,
			ExtraData:     ql.ExtraData,
		})
		if len(batch) == importBatchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return total, fmt.Errorf("read questions: %w", err)
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}
