package client

import (
	"context"
	"sync"
	"time"

	"coderoom-service/internal/domain"
)

// DefaultCountdownTicks is the number of ticks between completion and the
// return to the problem list.
const DefaultCountdownTicks = 5

// TickerFactory creates a periodic ticker and its stop function.
type TickerFactory func(d time.Duration) (<-chan time.Time, func())

// RealTicker backs TickerFactory with time.NewTicker.
func RealTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Callbacks receive the agent's view changes. Any of them may be nil. They
// run on the goroutine that caused the change and must not block.
type Callbacks struct {
	// OnRoom is called with every snapshot that replaces the local room.
	OnRoom func(room domain.Room)
	// OnCleared is called when the local room is dropped.
	OnCleared func()
	// OnComplete is called once per game with the final leaderboard.
	OnComplete func(board []domain.LeaderboardEntry)
	// OnTick reports the remaining countdown ticks.
	OnTick func(remaining int)
	// OnReturn is called when the countdown ends or is dismissed.
	OnReturn func()
}

// Agent reconciles room snapshots for one viewer and drives the one-shot
// completion transition.
type Agent struct {
	viewerID  string
	ticks     int
	interval  time.Duration
	newTicker TickerFactory
	cb        Callbacks

	mu        sync.Mutex
	room      *domain.Room
	firedCode string
	// done is set once the transition for firedCode has ended; further
	// snapshots of that game are ignored.
	done          bool
	stopCountdown chan struct{}
}

type AgentOption func(*Agent)

func WithCountdown(ticks int, interval time.Duration) AgentOption {
	return func(a *Agent) {
		a.ticks = ticks
		a.interval = interval
	}
}

func WithTickerFactory(f TickerFactory) AgentOption {
	return func(a *Agent) { a.newTicker = f }
}

func NewAgent(viewerID string, cb Callbacks, opts ...AgentOption) *Agent {
	a := &Agent{
		viewerID:  viewerID,
		ticks:     DefaultCountdownTicks,
		interval:  time.Second,
		newTicker: RealTicker,
		cb:        cb,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply reconciles one snapshot. Redelivered and out-of-order snapshots are
// harmless: the completion transition fires at most once per game.
func (a *Agent) Apply(snap domain.Room) {
	var (
		emit     []func()
		fireGame bool
	)

	a.mu.Lock()
	switch {
	case a.firedCode != "" && a.firedCode == snap.Code && snap.Active && !snap.GameCompleted:
		// gameCompleted never reverts while the room is open, so this
		// snapshot predates the one that fired.
	case !snap.Active || !snap.HasPlayer(a.viewerID):
		if a.firedCode == "" || (a.firedCode == snap.Code && !snap.Active) {
			a.resetLocked()
		}
		if a.room != nil && a.room.Code == snap.Code {
			a.room = nil
			emit = append(emit, a.cb.OnCleared)
		}
	case a.firedCode != "" && a.firedCode != snap.Code:
		// A different room: a new game for this viewer.
		a.resetLocked()
		fallthrough
	default:
		if a.done && a.firedCode == snap.Code {
			break
		}
		room := snap.Clone()
		a.room = &room
		if a.cb.OnRoom != nil {
			emit = append(emit, func() { a.cb.OnRoom(room) })
		}
		if snap.Started && snap.GameCompleted && a.firedCode == "" {
			a.firedCode = snap.Code
			fireGame = true
			board := domain.Leaderboard(room)
			if a.cb.OnComplete != nil {
				emit = append(emit, func() { a.cb.OnComplete(board) })
			}
		}
	}
	if fireGame {
		a.startCountdownLocked()
	}
	a.mu.Unlock()

	for _, fn := range emit {
		if fn != nil {
			fn()
		}
	}
}

// Dismiss ends a running countdown immediately, with the same end state as
// the countdown reaching zero.
func (a *Agent) Dismiss() {
	a.finish(nil)
}

// Room returns the local copy of the room, if any.
func (a *Agent) Room() (domain.Room, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.room == nil {
		return domain.Room{}, false
	}
	return a.room.Clone(), true
}

// Leaderboard ranks the local room.
func (a *Agent) Leaderboard() []domain.LeaderboardEntry {
	room, ok := a.Room()
	if !ok {
		return nil
	}
	return domain.Leaderboard(room)
}

// CountingDown reports whether the completion countdown is running.
func (a *Agent) CountingDown() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopCountdown != nil
}

// Run applies snapshots from feed until it closes or ctx is done. Leaving Run
// cancels a pending countdown.
func (a *Agent) Run(ctx context.Context, feed <-chan domain.Room) {
	defer a.cancelCountdown()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-feed:
			if !ok {
				return
			}
			a.Apply(snap)
		}
	}
}

func (a *Agent) startCountdownLocked() {
	stop := make(chan struct{})
	a.stopCountdown = stop
	ticks, stopTicker := a.newTicker(a.interval)

	go func() {
		defer stopTicker()
		remaining := a.ticks
		for remaining > 0 {
			select {
			case <-stop:
				return
			case <-ticks:
				remaining--
				if a.cb.OnTick != nil {
					a.cb.OnTick(remaining)
				}
			}
		}
		a.finish(stop)
	}()
}

// finish clears the local room and returns the viewer to the problem list.
// Only the first caller per transition has any effect; a non-nil countdown
// only finishes if it is still the running one.
func (a *Agent) finish(countdown chan struct{}) {
	a.mu.Lock()
	if a.stopCountdown == nil || (countdown != nil && countdown != a.stopCountdown) {
		a.mu.Unlock()
		return
	}
	close(a.stopCountdown)
	a.stopCountdown = nil
	a.done = true
	hadRoom := a.room != nil
	a.room = nil
	a.mu.Unlock()

	if hadRoom && a.cb.OnCleared != nil {
		a.cb.OnCleared()
	}
	if a.cb.OnReturn != nil {
		a.cb.OnReturn()
	}
}

func (a *Agent) cancelCountdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopCountdown != nil {
		close(a.stopCountdown)
		a.stopCountdown = nil
	}
}

func (a *Agent) resetLocked() {
	if a.stopCountdown != nil {
		close(a.stopCountdown)
		a.stopCountdown = nil
	}
	a.firedCode = ""
	a.done = false
}
