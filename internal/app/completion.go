package app

import (
	"time"

	"coderoom-service/internal/domain"
)

// markCompleted records a passing submission for the player at idx.
// It returns false when the player had already completed.
func markCompleted(room *domain.Room, idx int, at time.Time) bool {
	player := &room.Players[idx]
	if player.Completed {
		return false
	}
	player.Completed = true
	player.CompletedAt = &at
	return true
}

// trackCompletion flips the gameCompleted latch the first time every player
// of a started room has completed. It reports whether the latch flipped now.
// Callers must hold the room lock.
func trackCompletion(room *domain.Room) bool {
	if room.GameCompleted || !room.Started || !room.Active {
		return false
	}
	if !domain.AllCompleted(*room) {
		return false
	}
	room.GameCompleted = true
	return true
}
