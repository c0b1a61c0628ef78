package postgres

import (
	"context"
	"fmt"

	"coderoom-service/internal/domain"
	"github.com/uptrace/bun"
)

type problemRow struct {
	bun.BaseModel `bun:"table:problems"`

	ID   string         `bun:"id,pk"`
	Data domain.Problem `bun:"data,type:jsonb,notnull"`
}

// SeedProblems upserts problems into the problems table.
func SeedProblems(ctx context.Context, db *bun.DB, problems []domain.Problem) error {
	if len(problems) == 0 {
		return nil
	}
	rows := make([]problemRow, 0, len(problems))
	for _, p := range problems {
		rows = append(rows, problemRow{ID: p.ID, Data: p})
	}
	_, err := db.NewInsert().
		Model(&rows).
		On("CONFLICT (id) DO UPDATE").
		Set("data = EXCLUDED.data").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("seed problems: %w", err)
	}
	return nil
}
