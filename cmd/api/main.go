package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"mockview/internal/api"
	"mockview/internal/auth"
	"mockview/internal/config"
	"mockview/internal/database"
	"mockview/internal/interview"
	"mockview/internal/llm"
	"mockview/internal/notify"
	"mockview/internal/storage"
	"mockview/internal/tasks"
)

const maxResumesPerUser = 20

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}
	cfg := config.MustLoad()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("api bootstrapping",
		slog.String("db_host", cfg.Database.Host),
		slog.Int("db_port", cfg.Database.Port),
		slog.String("db_name", cfg.Database.Name),
		slog.String("scoring_mode", cfg.Scoring.Mode),
	)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	logger.Info("database migrated")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Error("close asynq client failed", slog.Any("error", err))
		}
	}()

	storageClient, err := storage.NewClient(ctx, cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}

	authService, err := auth.LoadAuthService(cfg.Auth.PrivateKeyPath, cfg.Auth.PublicKeyPath, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	if err != nil {
		log.Fatalf("load auth service: %v", err)
	}

	bus := notify.NewRedisBus(redisClient)

	questionModel := llm.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.QuestionModel, cfg.LLM.RequestsPerSecond, cfg.LLM.Burst)
	scoringModel := questionModel.WithModel(cfg.LLM.ScoringModel)
	reportModel := questionModel.WithModel(cfg.LLM.ReportModel)

	store := interview.NewStore(db)
	locks := interview.NewKeyedMutex()
	scorer := interview.NewScorer(store, scoringModel, bus, logger)
	orchestrator := interview.NewOrchestrator(store, reportModel, bus, cfg.Interview.CompletionTimeout, cfg.Interview.RecheckInterval, logger)

	var queue interview.ScoringQueue
	switch cfg.Scoring.Mode {
	case config.ScoringModeInline:
		pool := interview.NewScoringPool(scorer, cfg.Scoring.PoolSize, cfg.Scoring.MaxRetry, logger)
		defer pool.Close()
		queue = pool
	default:
		queue = tasks.NewAsynqScoringQueue(asynqClient, cfg.Scoring.MaxRetry)
	}

	sessions := interview.NewSessionService(store, orchestrator, cfg.Interview.MaxQuestionsPerSess)
	generator := interview.NewGenerator(store, questionModel, locks, cfg.Interview.ResumeTextLimit, logger)
	recorder := interview.NewRecorder(store, locks, queue, cfg.Interview.MaxAnswerRunes, logger)
	shares := interview.NewShareService(store, cfg.Share.Secret, cfg.Share.PublicBaseURL, logger)
	limiter := api.NewGenerationLimiter(redisClient, cfg.Interview.GenerationPerHour)

	watcher, err := interview.NewWatcher(orchestrator, cfg.Interview.WatchSpec, logger)
	if err != nil {
		log.Fatalf("init completion watcher: %v", err)
	}
	watcher.Start()

	router := api.NewRouter(logger)
	api.RegisterRoutes(router, api.Handlers{
		Auth:      api.NewAuthHandler(db, authService, redisClient),
		Resumes:   api.NewResumeHandler(db, maxResumesPerUser),
		Interview: api.NewInterviewHandler(sessions, generator, recorder, orchestrator, limiter),
		Shares:    api.NewShareHandler(shares),
		Exports:   api.NewExportHandler(store, asynqClient, storageClient, cfg.Worker.ExportLinkTTL),
		Ws:        api.NewWsHandler(bus, authService, logger, cfg.API.AllowedOrigins),
	}, authService)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("api listening", slog.String("addr", server.Addr))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server stopped", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	watcher.Stop(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}
	logger.Info("api stopped")
}
