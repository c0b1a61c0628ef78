package postgres

import (
	"context"
	"fmt"
	"time"

	"coderoom-service/internal/domain"
	"github.com/samber/lo"
	"github.com/uptrace/bun"
)

// RoomResult is one ranked row of a completed room.
type RoomResult struct {
	bun.BaseModel `bun:"table:room_results"`

	RoomCode    string     `bun:"room_code,pk"`
	UserID      string     `bun:"user_id,pk"`
	ProblemID   string     `bun:"problem_id,notnull"`
	Name        string     `bun:"name,notnull"`
	Rank        int        `bun:"rank,notnull"`
	CompletedAt *time.Time `bun:"completed_at"`
	FinishedAt  time.Time  `bun:"finished_at,notnull"`
}

// ResultArchive stores final leaderboards in the room_results table.
type ResultArchive struct {
	db  *bun.DB
	now func() time.Time
}

func NewResultArchive(db *bun.DB) *ResultArchive {
	return &ResultArchive{db: db, now: time.Now}
}

// Record writes the leaderboard of room. Re-recording the same room overwrites its rows.
func (a *ResultArchive) Record(ctx context.Context, room domain.Room, board []domain.LeaderboardEntry) error {
	if len(board) == 0 {
		return nil
	}
	finishedAt := a.now().UTC()
	rows := lo.Map(board, func(e domain.LeaderboardEntry, _ int) RoomResult {
		return RoomResult{
			RoomCode:    room.Code,
			UserID:      e.UserID,
			ProblemID:   room.ProblemID,
			Name:        e.Name,
			Rank:        e.Rank,
			CompletedAt: e.CompletedAt,
			FinishedAt:  finishedAt,
		}
	})
	_, err := a.db.NewInsert().
		Model(&rows).
		On("CONFLICT (room_code, user_id) DO UPDATE").
		Set("rank = EXCLUDED.rank").
		Set("completed_at = EXCLUDED.completed_at").
		Set("finished_at = EXCLUDED.finished_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("record results for %s: %w", room.Code, err)
	}
	return nil
}

// ForRoom returns the archived leaderboard of code ordered by rank.
func (a *ResultArchive) ForRoom(ctx context.Context, code string) ([]RoomResult, error) {
	var rows []RoomResult
	err := a.db.NewSelect().
		Model(&rows).
		Where("room_code = ?", code).
		Order("rank ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load results for %s: %w", code, err)
	}
	return rows, nil
}
