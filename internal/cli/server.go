package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coderoom-service/internal/app"
	"coderoom-service/internal/config"
	"coderoom-service/internal/domain"
	"coderoom-service/internal/infra/memory"
	"coderoom-service/internal/infra/postgres"
	infraredis "coderoom-service/internal/infra/redis"
	"coderoom-service/internal/judge"
	"coderoom-service/internal/logging"
	transport "coderoom-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the coding room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens, err := tokenManager(cfg)
	if err != nil {
		return err
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, time.Hour)

	var (
		loader  memory.ProblemLoader
		options = []app.Option{
			app.WithLogger(log.With().Str("component", "rooms").Logger()),
			app.WithCompletionGrace(config.TTLDuration(cfg.Rooms.CompletionGrace, 10*time.Second)),
			app.WithRetention(config.TTLDuration(cfg.Rooms.Retention, 10*time.Minute)),
		}
	)
	if cfg.Postgres.URL != "" {
		db, err := openBun(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := runMigrations(ctx, db, log); err != nil {
			return err
		}
		if err := seedProblems(ctx, db, cfg.Problems.SeedFile, log); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader = postgres.NewProblemLoader(pool)
		options = append(options, app.WithResultArchive(postgres.NewResultArchive(db)))
	} else {
		problems := sampleProblems()
		if cfg.Problems.SeedFile != "" {
			if problems, err = config.LoadProblems(cfg.Problems.SeedFile); err != nil {
				return err
			}
		}
		byID := make(map[string]domain.Problem, len(problems))
		for _, p := range problems {
			byID[p.ID] = p
		}
		loader = memory.NewStaticProblemLoader(byID)
	}

	problemTTL := config.TTLDuration(cfg.Problems.TTL, 5*time.Minute)
	var problemRepo app.ProblemRepository
	if redisClient != nil {
		problemRepo = infraredis.NewProblemRepository(redisClient, loader, problemTTL)
	} else {
		problemRepo = memory.NewProblemRepository(loader, problemTTL)
	}

	var store app.RoomRepository
	events := app.NewBroadcaster(cfg.Rooms.SubscriberBuffer, log.With().Str("component", "broadcast").Logger())
	if redisClient != nil {
		mirrored := infraredis.NewRoomStore(redisClient, redisTTL, log)
		go mirrored.Run(ctx)
		store = mirrored
		events.WithRelay(infraredis.NewSnapshotRelay(redisClient), cfg.Rooms.RelayQueue)
	} else {
		store = memory.NewRoomStore()
	}

	var evaluator app.Judge = judge.Disabled{}
	if cfg.Judge.URL != "" {
		evaluator = judge.NewClient(cfg.Judge.URL, problemRepo, config.TTLDuration(cfg.Judge.Timeout, 10*time.Second))
	} else {
		log.Warn().Msg("judge.url not set, submissions will fail with JudgeUnavailable")
	}

	service := app.NewRoomService(store, problemRepo, evaluator, events, options...)
	go events.Run(ctx)
	go service.RunJanitor(ctx, config.TTLDuration(cfg.Rooms.SweepInterval, time.Minute))

	wsHandler := transport.NewWSHandler(service, tokens, transport.WSOptions{
		LeaveOnDisconnect: cfg.WS.LeaveOnDisconnect,
		RateLimit:         rate.Limit(cfg.WS.RateLimit),
		RateBurst:         cfg.WS.RateBurst,
		PingInterval:      config.TTLDuration(cfg.WS.PingInterval, 30*time.Second),
	}, log.With().Str("component", "ws").Logger())
	router := transport.NewRouter(transport.NewRESTHandler(service, tokens), wsHandler, log)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("starting coding room service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server...")
	case err := <-errCh:
		log.Error().Err(err).Msg("failed to start server")
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.TTLDuration(cfg.Server.ShutdownTimeout, 5*time.Second))
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleProblems is the built-in catalog used without Postgres or a seed file.
func sampleProblems() []domain.Problem {
	return []domain.Problem{
		{
			ID:          "two-sum",
			Title:       "Two Sum",
			Description: "Given an array of integers nums and an integer target, return indices of the two numbers such that they add up to target.",
			Difficulty:  "Easy",
			TestCases: []domain.TestCase{
				{Input: "[2,7,11,15], 9", Expected: "[0,1]"},
				{Input: "[3,2,4], 6", Expected: "[1,2]"},
				{Input: "[3,3], 6", Expected: "[0,1]"},
			},
			StarterCode: "def twoSum(nums, target):\n    pass\n",
		},
		{
			ID:          "valid-parentheses",
			Title:       "Valid Parentheses",
			Description: "Given a string s containing just the characters '(', ')', '{', '}', '[' and ']', determine if the input string is valid.",
			Difficulty:  "Easy",
			TestCases: []domain.TestCase{
				{Input: `"()"`, Expected: "true"},
				{Input: `"()[]{}"`, Expected: "true"},
				{Input: `"(]"`, Expected: "false"},
			},
			StarterCode: "def isValid(s):\n    pass\n",
		},
	}
}
