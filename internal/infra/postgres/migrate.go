package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"math-quiz-service/internal/infra/postgres/migrations"
)

// Migrate applies pending schema migrations, holding the migration lock so
// concurrent instances do not race.
func Migrate(ctx context.Context, db *bun.DB, logger *slog.Logger) error {
	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if err := migrator.Lock(ctx); err != nil {
		return fmt.Errorf("lock migrations: %w", err)
	}
	defer func() {
		if err := migrator.Unlock(ctx); err != nil {
			logger.ErrorContext(ctx, "unlock migrations", "error", err)
		}
	}()

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if group.IsZero() {
		logger.InfoContext(ctx, "database schema up to date")
		return nil
	}
	logger.InfoContext(ctx, "migrations applied", "group", group.String())
	return nil
}
