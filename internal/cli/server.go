package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quizflow-service/internal/app"
	"quizflow-service/internal/config"
	"quizflow-service/internal/domain"
	"quizflow-service/internal/infra/memory"
	pgstore "quizflow-service/internal/infra/postgres"
	redisinfra "quizflow-service/internal/infra/redis"
	transport "quizflow-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the game session server",
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

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
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

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var store app.GameStore = memory.NewGameStore(sampleInstances(), sampleQuestions())
	if pool != nil {
		store = pgstore.NewGameStore(pool)
	}

	sessionTTL := config.TTLDuration(cfg.Game.SessionTTL, 24*time.Hour)
	cacheTTL := config.TTLDuration(cfg.Game.QuestionCacheTTL, 10*time.Minute)

	var (
		sessions   app.SessionRepository
		questions  app.QuestionRepository
		fanout     app.Broadcaster
		subscriber app.RoomSubscriber
	)
	if redisClient != nil {
		sessions = redisinfra.NewSessionRepository(redisClient, store, sessionTTL)
		questions = redisinfra.NewQuestionRepository(redisClient, store, cacheTTL)
		bus := redisinfra.NewBroadcaster(redisClient, sessions)
		fanout, subscriber = bus, bus
	} else {
		memSessions := memory.NewSessionRepository(store)
		sessions = memSessions
		questions = memory.NewQuestionRepository(store, cacheTTL)
		bus := memory.NewBroadcaster(memSessions)
		fanout, subscriber = bus, bus
	}

	service := app.NewGameService(sessions, questions, store, fanout, app.NewFlowRegistry(), app.NewClock())
	wsHandler := transport.NewWSHandler(service, subscriber)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quizflow service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleInstances and sampleQuestions provide a minimal demo game for runs
// without Postgres.
func sampleInstances() map[string]domain.GameInstance {
	return map[string]domain.GameInstance{
		"DEMO42": {
			ID:              "instance-demo",
			AccessCode:      "DEMO42",
			Status:          domain.StatusPending,
			Mode:            domain.ModeQuiz,
			TemplateID:      "tmpl-demo",
			InitiatorUserID: "teacher-1",
			Settings:        domain.GameSettings{TimeMultiplier: 1, ShowLeaderboard: true},
		},
	}
}

func sampleQuestions() map[string][]domain.Question {
	return map[string][]domain.Question{
		"tmpl-demo": {
			{
				UID:  "q1",
				Text: "What is 2 + 2?",
				Type: domain.QuestionSingleChoice,
				Options: []domain.AnswerOption{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4"},
					{ID: "o3", Text: "5"},
				},
				CorrectOptionIDs: []string{"o2"},
				TimeLimitSeconds: 20,
			},
			{
				UID:              "q2",
				Text:             "Roughly, what is pi?",
				Type:             domain.QuestionNumeric,
				NumericAnswer:    ptrFloat(3.14159),
				Explanation:      "Any value within tolerance of 3.14159 counts.",
				TimeLimitSeconds: 15,
			},
		},
	}
}

func ptrFloat(v float64) *float64 { return &v }
