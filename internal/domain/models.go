package domain

import "time"

// RoomState is the lifecycle position of a room, derived from its flags.
type RoomState string

const (
	RoomOpen       RoomState = "open"
	RoomInProgress RoomState = "in_progress"
	RoomCompleted  RoomState = "completed"
	RoomClosed     RoomState = "closed"
)

// Player is a room member. Completion never reverts once set.
type Player struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Room is the canonical, self-describing snapshot of a room.
// Players are kept in join order.
type Room struct {
	Code          string    `json:"code"`
	HostID        string    `json:"hostId"`
	ProblemID     string    `json:"problemId"`
	Players       []Player  `json:"players"`
	Started       bool      `json:"started"`
	Active        bool      `json:"active"`
	GameCompleted bool      `json:"gameCompleted"`
	CreatedAt     time.Time `json:"createdAt"`
}

// State derives the lifecycle state from the room flags.
func (r Room) State() RoomState {
	switch {
	case !r.Active:
		return RoomClosed
	case r.GameCompleted:
		return RoomCompleted
	case r.Started:
		return RoomInProgress
	default:
		return RoomOpen
	}
}

// PlayerIndex returns the join position of userID, or -1.
func (r Room) PlayerIndex(userID string) int {
	for i := range r.Players {
		if r.Players[i].ID == userID {
			return i
		}
	}
	return -1
}

// HasPlayer reports whether userID is a member of the room.
func (r Room) HasPlayer(userID string) bool {
	return r.PlayerIndex(userID) >= 0
}

// Clone returns a deep copy safe to hand to other goroutines.
func (r Room) Clone() Room {
	players := make([]Player, len(r.Players))
	for i, p := range r.Players {
		if p.CompletedAt != nil {
			at := *p.CompletedAt
			p.CompletedAt = &at
		}
		players[i] = p
	}
	r.Players = players
	return r
}

// Failure describes the first failing test case of a submission.
type Failure struct {
	Index    int    `json:"index"`
	Input    string `json:"input"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Error    string `json:"error,omitempty"`
}

// Verdict is the judge's outcome for a submission.
type Verdict struct {
	AllPassed    bool     `json:"allPassed"`
	PassedCount  int      `json:"passedCount"`
	TotalCount   int      `json:"totalCount"`
	FirstFailure *Failure `json:"firstFailure,omitempty"`
}

// TestCase is a single input/expected pair of a problem.
type TestCase struct {
	Input    string `json:"input" yaml:"input"`
	Expected string `json:"expected" yaml:"expected"`
}

// Problem is a catalog entry a room races on.
type Problem struct {
	ID          string     `json:"id" yaml:"id"`
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description" yaml:"description"`
	Difficulty  string     `json:"difficulty" yaml:"difficulty"`
	TestCases   []TestCase `json:"testCases" yaml:"testCases"`
	StarterCode string     `json:"starterCode" yaml:"starterCode"`
}

// ProblemSummary is the listing form of a problem.
type ProblemSummary struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Difficulty string `json:"difficulty"`
}

// Summary strips a problem down to its listing form.
func (p Problem) Summary() ProblemSummary {
	return ProblemSummary{ID: p.ID, Title: p.Title, Difficulty: p.Difficulty}
}

// SampleSize is how many test cases a practice run executes.
const SampleSize = 3

// SampleCases returns the leading test cases used by practice runs.
func SampleCases(p Problem) []TestCase {
	if len(p.TestCases) <= SampleSize {
		return p.TestCases
	}
	return p.TestCases[:SampleSize]
}
