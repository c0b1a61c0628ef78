package app

import (
	"context"

	"coderoom-service/internal/domain"
)

// RoomRepository abstracts where live rooms are kept (in-memory, Redis-backed, etc).
type RoomRepository interface {
	// Insert stores a new room; it returns false when the code is already taken.
	Insert(room *LiveRoom) bool
	Get(code string) (*LiveRoom, bool)
	Delete(code string)
	All() []*LiveRoom
	// Save records the canonical snapshot after every mutation. It is best-effort.
	Save(ctx context.Context, snapshot domain.Room)
}

// ProblemRepository loads problem content (from cache/backing store).
type ProblemRepository interface {
	GetProblem(ctx context.Context, problemID string) (domain.Problem, error)
	ListProblems(ctx context.Context) ([]domain.ProblemSummary, error)
}

// Judge runs a submission against the problem's test cases.
type Judge interface {
	// Evaluate runs every test case.
	Evaluate(ctx context.Context, problemID, userID, source string) (domain.Verdict, error)
	// Run only runs the sample cases.
	Run(ctx context.Context, problemID, userID, source string) (domain.Verdict, error)
}

// ResultArchive stores the final leaderboard of completed rooms.
type ResultArchive interface {
	Record(ctx context.Context, room domain.Room, board []domain.LeaderboardEntry) error
}

// SnapshotRelay forwards published snapshots outside the process.
type SnapshotRelay interface {
	Relay(ctx context.Context, snapshot domain.Room) error
}
