package app

import (
	"context"
	"sync"
	"time"

	"coderoom-service/internal/domain"
	"github.com/rs/zerolog"
)

const defaultSubscriberBuffer = 8

// Broadcaster fans room snapshots out to every subscriber of a room code.
// Delivery is at-most-once and never blocks the publisher: a full subscriber
// queue loses its oldest snapshot, which the next full snapshot supersedes.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[chan domain.Room]struct{}
	buffer int

	relay   SnapshotRelay
	relayCh chan domain.Room
	log     zerolog.Logger
}

// NewBroadcaster creates a broadcaster with per-subscriber queues of size buffer.
func NewBroadcaster(buffer int, log zerolog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broadcaster{
		subs:   make(map[string]map[chan domain.Room]struct{}),
		buffer: buffer,
		log:    log,
	}
}

// WithRelay forwards every published snapshot to relay. Relay calls happen on
// the goroutine started by Run, in publish order.
func (b *Broadcaster) WithRelay(relay SnapshotRelay, queue int) *Broadcaster {
	b.relay = relay
	b.relayCh = make(chan domain.Room, queue)
	return b
}

// Run drains the relay queue until ctx is done. It is a no-op without a relay.
func (b *Broadcaster) Run(ctx context.Context) {
	if b.relay == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-b.relayCh:
			relayCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := b.relay.Relay(relayCtx, snap); err != nil {
				b.log.Warn().Err(err).Str("room", snap.Code).Msg("snapshot relay failed")
			}
			cancel()
		}
	}
}

// Subscribe registers a new subscriber for code. The caller must invoke the
// returned cancel function to avoid leaks; it is safe to call more than once.
func (b *Broadcaster) Subscribe(code string) (<-chan domain.Room, func()) {
	return b.subscribe(code, nil)
}

// subscribe registers a subscriber whose queue already holds initial, so no
// publish can slip between the first snapshot and registration.
func (b *Broadcaster) subscribe(code string, initial *domain.Room) (<-chan domain.Room, func()) {
	ch := make(chan domain.Room, b.buffer)
	if initial != nil {
		ch <- *initial
	}

	b.mu.Lock()
	set, ok := b.subs[code]
	if !ok {
		set = make(map[chan domain.Room]struct{})
		b.subs[code] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[code]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(b.subs, code)
			}
		}
	}
	return ch, cancel
}

// Publish pushes snapshot to all current subscribers of its code.
func (b *Broadcaster) Publish(snapshot domain.Room) {
	b.mu.RLock()
	for ch := range b.subs[snapshot.Code] {
		offer(ch, snapshot)
	}
	b.mu.RUnlock()

	if b.relayCh != nil {
		select {
		case b.relayCh <- snapshot:
		default:
			b.log.Warn().Str("room", snapshot.Code).Msg("relay queue full, snapshot not relayed")
		}
	}
}

// Close closes and removes every subscriber of code.
func (b *Broadcaster) Close(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[code] {
		close(ch)
	}
	delete(b.subs, code)
}

// Subscribers returns the number of subscribers currently registered for code.
func (b *Broadcaster) Subscribers(code string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[code])
}

func offer(ch chan domain.Room, snapshot domain.Room) {
	select {
	case ch <- snapshot:
		return
	default:
	}
	// Drop the stale snapshot so the newest state always gets through.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snapshot:
	default:
	}
}
