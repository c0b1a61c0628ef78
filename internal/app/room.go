package app

import (
	"strings"
	"sync"
	"time"

	"coderoom-service/internal/domain"
	"github.com/google/uuid"
)

const roomCodeLength = 6

// LiveRoom is the in-process, mutex-guarded home of one room.
// All mutations of a room go through its lock; rooms never share a lock.
type LiveRoom struct {
	code string

	mu       sync.Mutex
	state    domain.Room
	closedAt time.Time
	grace    *time.Timer
}

// NewLiveRoom is exported for infrastructure layers that need to seed rooms.
func NewLiveRoom(state domain.Room) *LiveRoom {
	return &LiveRoom{code: state.Code, state: state.Clone()}
}

// Code returns the immutable room code.
func (r *LiveRoom) Code() string {
	return r.code
}

// Snapshot returns a copy of the current room state.
func (r *LiveRoom) Snapshot() domain.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// closedSince reports when the room was deactivated.
func (r *LiveRoom) closedSince() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Active {
		return time.Time{}, false
	}
	return r.closedAt, true
}

// membership indexes which active room each user belongs to.
type membership struct {
	mu     sync.Mutex
	byUser map[string]string
}

func newMembership() *membership {
	return &membership{byUser: make(map[string]string)}
}

func (m *membership) claim(userID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byUser[userID]; ok {
		return domain.ErrAlreadyInRoom
	}
	m.byUser[userID] = code
	return nil
}

func (m *membership) release(userID, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byUser[userID] == code {
		delete(m.byUser, userID)
	}
}

func (m *membership) lookup(userID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.byUser[userID]
	return code, ok
}

// newRoomCode returns a short uppercase code players can type.
func newRoomCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:roomCodeLength])
}
