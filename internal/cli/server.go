package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	pgloader "live-quiz-service/internal/infra/postgres"
	redisstore "live-quiz-service/internal/infra/redis"
	transport "live-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	checks := map[string]transport.HealthCheck{}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 6*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		checks["postgres"] = pool.Ping
	}

	loader, err := quizLoader(cfg, pool)
	if err != nil {
		return err
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	var store app.SessionStore
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, loader, quizTTL)
		store = redisstore.NewSessionStore(redisClient, redisTTL)
		logger.Info("using redis session store", "addr", cfg.Redis.Addr)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
		store = memory.NewSessionStore()
		logger.Info("using in-memory session store")
	}

	tiePolicy, err := app.ParseTiePolicy(cfg.Session.TiePolicy)
	if err != nil {
		return err
	}
	service := app.NewQuizService(store, quizRepo,
		app.WithLogger(logger),
		app.WithTiePolicy(tiePolicy),
		app.WithDefaultTimeLimit(cfg.Session.TimeLimitSeconds),
		app.WithPinAllocator(app.NewPinAllocator(store, cfg.Session.PinAttempts, logger)),
	)

	router := transport.NewRouter(service, logger, cfg.Session.JoinURL, checks)
	server := transport.NewServer(":"+finalPort, router, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		return server.Shutdown(context.Background())
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// quizLoader picks the quiz source: Postgres when configured, else the seed file, else
// the bundled sample.
func quizLoader(cfg config.Config, pool *pgxpool.Pool) (memory.QuizLoader, error) {
	switch {
	case pool != nil:
		return pgloader.NewQuizLoader(pool), nil
	case cfg.Quiz.SeedFile != "":
		return memory.LoadSeedFile(cfg.Quiz.SeedFile)
	default:
		slog.Warn("no quiz source configured, serving the sample quiz")
		return memory.NewStaticQuizLoader(sampleQuizzes()), nil
	}
}

func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"sample": {
			ID:    "sample",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "a", Text: "3"},
						{ID: "b", Text: "4", Correct: true},
						{ID: "c", Text: "5"},
					},
				},
				{
					ID:     "q2",
					Prompt: "Which planet is closest to the sun?",
					Options: []domain.Option{
						{ID: "a", Text: "Venus"},
						{ID: "b", Text: "Earth"},
						{ID: "c", Text: "Mercury", Correct: true},
						{ID: "d", Text: "Mars"},
					},
				},
			},
		},
	}
}
