package domain

import (
	"sort"
	"time"

	"github.com/samber/lo"
)

// LeaderboardEntry is a ranked view of a player.
type LeaderboardEntry struct {
	Rank        int        `json:"rank"`
	UserID      string     `json:"userId"`
	Name        string     `json:"name"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// AllCompleted reports whether a non-empty room has every player completed.
func AllCompleted(room Room) bool {
	return len(room.Players) > 0 && lo.EveryBy(room.Players, func(p Player) bool { return p.Completed })
}

// Leaderboard ranks players: completed first by completedAt, then the rest.
// Join order breaks ties and orders the incomplete players.
func Leaderboard(room Room) []LeaderboardEntry {
	completed := lo.Filter(room.Players, func(p Player, _ int) bool { return p.Completed && p.CompletedAt != nil })
	pending := lo.Reject(room.Players, func(p Player, _ int) bool { return p.Completed && p.CompletedAt != nil })

	sort.SliceStable(completed, func(i, j int) bool {
		return completed[i].CompletedAt.Before(*completed[j].CompletedAt)
	})

	ordered := append(completed, pending...)
	return lo.Map(ordered, func(p Player, i int) LeaderboardEntry {
		entry := LeaderboardEntry{
			Rank:      i + 1,
			UserID:    p.ID,
			Name:      p.Name,
			Completed: p.Completed,
		}
		if p.CompletedAt != nil {
			at := *p.CompletedAt
			entry.CompletedAt = &at
		}
		return entry
	})
}
