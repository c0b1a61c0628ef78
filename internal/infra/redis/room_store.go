package redis

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"coderoom-service/internal/app"
	"coderoom-service/internal/domain"
	"coderoom-service/internal/infra/memory"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// RoomStore is a Redis-aware implementation of app.RoomRepository.
// Notes:
//   - Live rooms stay in a local map so the per-room lock and broadcast logic
//     remain in-process.
//   - Every committed snapshot is mirrored to Redis so other instances and
//     operators can see who is in which room:
//     SET room:{code} <snapshot json>
//     SET room:user:{userID} {code}
//     SADD room:{code}:members {userID}
//   - Save runs under the room lock, so it only queues the snapshot; Run does
//     the Redis writes. Only the newest pending snapshot of a room is written.
type RoomStore struct {
	*memory.RoomStore
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger

	mu      sync.Mutex
	pending map[string]domain.Room
	order   []string
	wake    chan struct{}
}

func NewRoomStore(client *redis.Client, ttl time.Duration, log zerolog.Logger) *RoomStore {
	return &RoomStore{
		RoomStore: memory.NewRoomStore(),
		client:    client,
		ttl:       ttl,
		log:       log,
		pending:   make(map[string]domain.Room),
		wake:      make(chan struct{}, 1),
	}
}

// Save queues snapshot for mirroring. It never blocks on Redis.
func (s *RoomStore) Save(_ context.Context, snapshot domain.Room) {
	s.mu.Lock()
	if _, queued := s.pending[snapshot.Code]; !queued {
		s.order = append(s.order, snapshot.Code)
	}
	s.pending[snapshot.Code] = snapshot
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run writes queued snapshots to Redis until ctx is done, then flushes what
// is left.
func (s *RoomStore) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			s.flush(flushCtx)
			cancel()
			return
		case <-s.wake:
			s.flush(ctx)
		}
	}
}

func (s *RoomStore) flush(ctx context.Context) {
	s.mu.Lock()
	batch, order := s.pending, s.order
	s.pending = make(map[string]domain.Room, len(batch))
	s.order = nil
	s.mu.Unlock()

	for _, code := range order {
		s.mirror(ctx, batch[code])
	}
}

// mirror writes snapshot to Redis. Failures are logged, never returned: the
// in-process room stays authoritative.
func (s *RoomStore) mirror(ctx context.Context, snapshot domain.Room) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		s.log.Error().Err(err).Str("room", snapshot.Code).Msg("encode room snapshot")
		return
	}

	membersKey := membersKey(snapshot.Code)
	previous, err := s.client.SMembers(ctx, membersKey).Result()
	if err != nil && err != redis.Nil {
		s.log.Warn().Err(err).Str("room", snapshot.Code).Msg("read room members")
	}
	current := lo.Map(snapshot.Players, func(p domain.Player, _ int) string { return p.ID })
	if !snapshot.Active {
		current = nil
	}
	departed, _ := lo.Difference(previous, current)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, roomKey(snapshot.Code), payload, s.ttl)
	for _, userID := range departed {
		pipe.Del(ctx, userKey(userID))
		pipe.SRem(ctx, membersKey, userID)
	}
	for _, userID := range current {
		pipe.Set(ctx, userKey(userID), snapshot.Code, s.ttl)
		pipe.SAdd(ctx, membersKey, userID)
	}
	if len(current) > 0 && s.ttl > 0 {
		pipe.Expire(ctx, membersKey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("room", snapshot.Code).Msg("mirror room snapshot")
	}
}

// Delete drops the room locally and removes its mirrored snapshot.
func (s *RoomStore) Delete(code string) {
	s.RoomStore.Delete(code)
	s.mu.Lock()
	if _, queued := s.pending[code]; queued {
		delete(s.pending, code)
		s.order = lo.Without(s.order, code)
	}
	s.mu.Unlock()
	if err := s.client.Del(context.Background(), roomKey(code), membersKey(code)).Err(); err != nil {
		s.log.Warn().Err(err).Str("room", code).Msg("delete mirrored room")
	}
}

var _ app.RoomRepository = (*RoomStore)(nil)

func roomKey(code string) string {
	return "room:" + code
}

func membersKey(code string) string {
	return "room:" + code + ":members"
}

func userKey(userID string) string {
	return "room:user:" + userID
}
