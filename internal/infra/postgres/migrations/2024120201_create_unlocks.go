package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
)

//go:embed 0002_create_unlocks.sql
var createUnlocksSQL string

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createUnlocksSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `
ALTER TABLE players DROP CONSTRAINT IF EXISTS fk_players_selected_unlock;
DROP TABLE IF EXISTS player_unlocks;
DROP TABLE IF EXISTS unlocks;`)
			return err
		},
	)
}
