package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLeaderboardOrdering(t *testing.T) {
	req := require.New(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	at := func(sec int) *time.Time {
		ts := base.Add(time.Duration(sec) * time.Second)
		return &ts
	}

	room := Room{Players: []Player{
		{ID: "a", Name: "Ann"},
		{ID: "b", Name: "Bob", Completed: true, CompletedAt: at(30)},
		{ID: "c", Name: "Cid"},
		{ID: "d", Name: "Dee", Completed: true, CompletedAt: at(10)},
		{ID: "e", Name: "Eve", Completed: true, CompletedAt: at(30)},
	}}

	entries := Leaderboard(room)

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.UserID)
	}
	// d finished first; b and e tie and keep join order; a and c trail in join order.
	req.Equal([]string{"d", "b", "e", "a", "c"}, ids)
	for i, e := range entries {
		req.Equal(i+1, e.Rank)
	}
	req.True(entries[0].Completed)
	req.False(entries[3].Completed)

	// The source room must not be reordered.
	req.Equal("a", room.Players[0].ID)
}

func TestLeaderboardCompletedPrecedeIncomplete(t *testing.T) {
	req := require.New(t)
	now := time.Now()
	room := Room{}
	for i := 0; i < 20; i++ {
		p := Player{ID: fmt.Sprintf("u%d", i)}
		if i%3 == 0 {
			ts := now.Add(time.Duration(20-i) * time.Millisecond)
			p.Completed, p.CompletedAt = true, &ts
		}
		room.Players = append(room.Players, p)
	}

	entries := Leaderboard(room)
	seenIncomplete := false
	var last time.Time
	for _, e := range entries {
		if !e.Completed {
			seenIncomplete = true
			continue
		}
		req.False(seenIncomplete, "completed player ranked after an incomplete one")
		req.False(e.CompletedAt.Before(last))
		last = *e.CompletedAt
	}
}

func TestAllCompleted(t *testing.T) {
	req := require.New(t)
	req.False(AllCompleted(Room{}))
	req.False(AllCompleted(Room{Players: []Player{{ID: "a", Completed: true}, {ID: "b"}}}))
	req.True(AllCompleted(Room{Players: []Player{{ID: "a", Completed: true}, {ID: "b", Completed: true}}}))
}

func TestRoomState(t *testing.T) {
	req := require.New(t)
	req.Equal(RoomOpen, Room{Active: true}.State())
	req.Equal(RoomInProgress, Room{Active: true, Started: true}.State())
	req.Equal(RoomCompleted, Room{Active: true, Started: true, GameCompleted: true}.State())
	req.Equal(RoomClosed, Room{Started: true, GameCompleted: true}.State())
}

func TestCloneIsDeep(t *testing.T) {
	ts := time.Now()
	room := Room{Players: []Player{{ID: "a", Completed: true, CompletedAt: &ts}}}
	clone := room.Clone()
	clone.Players[0].Name = "changed"
	*clone.Players[0].CompletedAt = ts.Add(time.Hour)

	require.Empty(t, room.Players[0].Name)
	require.True(t, room.Players[0].CompletedAt.Equal(ts))
}

func TestErrorCode(t *testing.T) {
	req := require.New(t)
	req.Equal("RoomClosed", ErrorCode(fmt.Errorf("submit: %w", ErrRoomClosed)))
	req.Equal("NotHost", ErrorCode(ErrNotHost))
	req.Equal("Internal", ErrorCode(errors.New("boom")))
}

func TestSampleCases(t *testing.T) {
	cases := make([]TestCase, 5)
	for i := range cases {
		cases[i] = TestCase{Input: fmt.Sprint(i)}
	}
	require.Len(t, SampleCases(Problem{TestCases: cases}), SampleSize)
	require.Len(t, SampleCases(Problem{TestCases: cases[:2]}), 2)
	require.Empty(t, SampleCases(Problem{}))
}
