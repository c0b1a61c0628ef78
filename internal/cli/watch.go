package cli

import (
	"context"
	"fmt"
	"time"

	"coderoom-service/internal/client"
	"coderoom-service/internal/config"
	"coderoom-service/internal/domain"
	infraredis "coderoom-service/internal/infra/redis"
	"coderoom-service/internal/logging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewWatchCmd follows a room as a participant would and logs what the
// synchronization agent sees. With --redis it reads the snapshot relay
// instead of opening a websocket.
func NewWatchCmd(configPath *string) *cobra.Command {
	var (
		baseURL string
		code    string
		userID  string
		token   string
		relay   bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a room's snapshots and completion countdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Log.Level, true).With().Str("room", code).Logger()

			returned := make(chan struct{})
			agent := client.NewAgent(userID, client.Callbacks{
				OnRoom: func(room domain.Room) {
					log.Info().Str("state", string(room.State())).Int("players", len(room.Players)).Msg("room")
				},
				OnCleared: func() { log.Info().Msg("left room") },
				OnComplete: func(board []domain.LeaderboardEntry) {
					for _, e := range board {
						log.Info().Int("rank", e.Rank).Str("user", e.UserID).Bool("completed", e.Completed).Msg("final standing")
					}
				},
				OnTick:   func(remaining int) { log.Info().Int("remaining", remaining).Msg("returning to problems") },
				OnReturn: func() { close(returned) },
			})

			if relay {
				return watchRelay(cmd.Context(), cfg, code, agent, returned, log)
			}

			if token == "" {
				tokens, err := tokenManager(cfg)
				if err != nil {
					return err
				}
				if token, err = tokens.Issue(userID, time.Hour); err != nil {
					return err
				}
			}
			conn, err := client.Dial(cmd.Context(), baseURL, code, token)
			if err != nil {
				return err
			}
			defer conn.Close()

			go func() {
				for serr := range conn.Errors() {
					log.Warn().Str("code", serr.Code).Msg(serr.Message)
				}
			}()
			go agent.Run(cmd.Context(), conn.Snapshots())

			select {
			case <-returned:
			case <-conn.Done():
				return conn.Err()
			case <-cmd.Context().Done():
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&code, "room", "", "room code to follow")
	cmd.Flags().StringVar(&userID, "user", "", "viewer user id")
	cmd.Flags().StringVar(&token, "token", "", "bearer token (minted from auth.secret when empty)")
	cmd.Flags().BoolVar(&relay, "redis", false, "follow the Redis snapshot relay at redis.addr instead of the websocket")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func watchRelay(ctx context.Context, cfg config.Config, code string, agent *client.Agent, returned <-chan struct{}, log zerolog.Logger) error {
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("--redis needs redis.addr")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	feed, err := infraredis.SubscribeSnapshots(ctx, rdb, code, cfg.Rooms.SubscriberBuffer, log)
	if err != nil {
		return err
	}
	log.Info().Str("channel", infraredis.SnapshotChannel(code)).Msg("following relay")

	done := make(chan struct{})
	go func() {
		agent.Run(ctx, feed)
		close(done)
	}()
	select {
	case <-returned:
	case <-done:
	}
	return nil
}
