package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"coderoom-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// SnapshotRelay publishes every room snapshot on room:{code}:snapshots so
// processes without a websocket to the room can follow it (see
// SubscribeSnapshots).
type SnapshotRelay struct {
	client *redis.Client
}

func NewSnapshotRelay(client *redis.Client) *SnapshotRelay {
	return &SnapshotRelay{client: client}
}

func (r *SnapshotRelay) Relay(ctx context.Context, snapshot domain.Room) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := r.client.Publish(ctx, SnapshotChannel(snapshot.Code), payload).Err(); err != nil {
		return fmt.Errorf("publish snapshot %s: %w", snapshot.Code, err)
	}
	return nil
}

// SnapshotChannel is the pub/sub channel for a room's snapshots.
func SnapshotChannel(code string) string {
	return "room:" + code + ":snapshots"
}

// SubscribeSnapshots follows the relayed snapshots of code until ctx is done,
// then closes the returned channel. The subscription is confirmed before it
// returns. A lagging reader loses the oldest queued snapshot.
func SubscribeSnapshots(ctx context.Context, client *redis.Client, code string, buffer int, log zerolog.Logger) (<-chan domain.Room, error) {
	sub := client.Subscribe(ctx, SnapshotChannel(code))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", SnapshotChannel(code), err)
	}
	if buffer <= 0 {
		buffer = 1
	}

	out := make(chan domain.Room, buffer)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var snap domain.Room
				if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
					log.Warn().Err(err).Str("channel", msg.Channel).Msg("decode relayed snapshot")
					continue
				}
				select {
				case out <- snap:
					continue
				default:
				}
				select {
				case <-out:
				default:
				}
				select {
				case out <- snap:
				default:
				}
			}
		}
	}()
	return out, nil
}
