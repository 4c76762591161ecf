package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appcfg "github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/auth"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/game"
	"github.com/park285/cheese-arena/internal/httpapi"
	"github.com/park285/cheese-arena/internal/matchmaking"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/notify"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/outbox"
	"github.com/park285/cheese-arena/internal/puzzle"
	"github.com/park285/cheese-arena/internal/registry"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/internal/store"
	"github.com/park285/cheese-arena/internal/store/memstore"
	"github.com/park285/cheese-arena/internal/store/postgres"
	"github.com/park285/cheese-arena/internal/transport"
)

type repositories interface {
	store.GameRepository
	store.ProfileRepository
	store.PuzzleRepository
	puzzle.Sink
}

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv("cheese-arena"); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, closeRepos, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("store_init_failed", zap.Error(err))
	}
	defer closeRepos()

	if cfg.PuzzleSeedFile != "" {
		if err := seedPuzzles(ctx, cfg.PuzzleSeedFile, repos, logger); err != nil {
			logger.Fatal("puzzle_seed_failed", zap.Error(err))
		}
	}

	tcs, err := domain.NewTimeControls(cfg.TimeControls)
	if err != nil {
		logger.Fatal("time_controls_invalid", zap.Error(err))
	}
	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_load_failed", zap.Error(err))
	}

	sessions := session.NewStore(session.Config{TTL: cfg.SessionTTL, Grace: cfg.SessionGrace, Logger: logger})
	lobby := registry.New[string]("matchmaking", logger)
	players := registry.NewGameRegistry(logger)

	orchCfg := game.Config{
		Sessions: sessions,
		Conns:    players,
		Games:    repos,
		Profiles: repos,
		Logger:   logger,
	}

	var rdb *redis.Client
	var box *outbox.Outbox
	if cfg.RedisURL != "" {
		rdb, err = outbox.Dial(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis_init_failed", zap.Error(err))
		}
		defer func() { _ = rdb.Close() }()
		box = outbox.New(rdb, logger)
		orchCfg.Outbox = box
	} else {
		logger.Warn("outbox_disabled", zap.String("reason", "REDIS_URL not set"))
	}
	if cfg.FinalizeWebhookURL != "" {
		orchCfg.Notifier = notify.NewWebhook(cfg.FinalizeWebhookURL)
	}

	orch, err := game.New(orchCfg)
	if err != nil {
		logger.Fatal("orchestrator_init_failed", zap.Error(err))
	}
	queue, err := matchmaking.NewQueue(matchmaking.Config{
		TimeControls: tcs,
		Creator:      orch,
		Conns:        lobby,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("matchmaking_init_failed", zap.Error(err))
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)
	if cfg.JWTSecret == "" {
		logger.Warn("auth_insecure", zap.String("reason", "AUTH_JWT_SECRET not set; trusting user_id"))
	}
	sockets, err := transport.NewServer(transport.Config{
		Verifier:       verifier,
		Games:          orch,
		Queue:          queue,
		Lobby:          lobby,
		Ratings:        repos,
		Catalog:        catalog,
		SendBuffer:     cfg.WSSendBuffer,
		WriteTimeout:   cfg.WSWriteTimeout,
		OriginPatterns: cfg.WSOriginPatterns,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("transport_init_failed", zap.Error(err))
	}

	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(httpapi.Deps{
		Live:     orch,
		Games:    repos,
		Profiles: repos,
		Trainer:  puzzle.NewTrainer(repos, repos, logger),
		Verifier: verifier,
		Sockets:  sockets,
		Logger:   logger,
	})

	var wg sync.WaitGroup
	background := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	background(func() { sessions.Run(ctx, cfg.SessionSweepInterval) })
	background(func() { orch.RunTimeoutSweep(ctx, cfg.TimeoutSweepInterval) })
	if box != nil {
		background(func() { box.Run(ctx, cfg.OutboxRetryInterval, orch.Replay) })
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http_listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_serve_failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown_started")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_failed", zap.Error(err))
	}
	wg.Wait()
	logger.Info("shutdown_complete", zap.Int("live_sessions", sessions.Len()))
}

func openStore(cfg *appcfg.AppConfig, logger *zap.Logger) (repositories, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("store_in_memory", zap.String("reason", "DATABASE_URL not set"))
		return memstore.New(), func() {}, nil
	}
	db, err := postgres.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.MigrateOnStart {
		if err := postgres.Migrate(db.DB); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}
	return postgres.New(db), func() { _ = db.Close() }, nil
}

func seedPuzzles(ctx context.Context, path string, sink puzzle.Sink, logger *zap.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := puzzle.Import(ctx, f, sink)
	if err != nil {
		return err
	}
	logger.Info("puzzles_seeded", zap.String("path", path), zap.Int("count", n))
	return nil
}
