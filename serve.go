package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"relaybot/internal/api"
	"relaybot/internal/auth"
	"relaybot/internal/bot"
	"relaybot/internal/config"
	"relaybot/internal/logging"
	"relaybot/internal/metrics"
	"relaybot/internal/redis"
	"relaybot/internal/service/ai"
	"relaybot/internal/session"
	"relaybot/internal/storage"
	"relaybot/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := logging.New(os.Stdout, cfg.Logging)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	allowStore, closeDB, err := openAllowStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()
	policy, err := auth.LoadPolicy(ctx, allowStore, cfg.Auth.AllowedUsers, cfg.Auth.AllowAll, cfg.Auth.GroupCommandsBypass())
	if err != nil {
		return fmt.Errorf("load allow-list: %w", err)
	}
	gate := auth.NewGate(policy)
	logger.Info("authorization policy loaded",
		"allowed_users", len(policy.Allowed),
		"allow_all", policy.AllowAll,
		"group_commands_open", policy.GroupCommandsOpen,
	)

	var rdb *redis.Client
	if cfg.RedisEnabled() {
		rdb, err = redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("create redis client: %w", err)
		}
		defer rdb.Close()
	}

	idleTimeout := time.Duration(cfg.Session.IdleTimeout) * time.Minute
	sessions := session.NewStore(session.Options{
		MaxHistory: cfg.Session.MaxHistory,
		Logger:     logger,
		Cache:      rdb,
		CacheTTL:   idleTimeout,
	})
	defer sessions.Close()

	sched := worker.NewScheduler(worker.Config{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		MaxPending:  cfg.BasicConfig.MaxPending,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Second,
		Logger:      logger,
	})
	defer sched.Stop()

	m := metrics.New()
	m.TrackSessions(sessions.Len)
	m.TrackPending(sched.Pending)

	aiService, err := ai.NewService(ctx, cfg.AI, logger)
	if err != nil {
		return err
	}
	dispatcher, err := bot.New(bot.Deps{
		Gate:      gate,
		Sessions:  sessions,
		Scheduler: sched,
		AI:        aiService,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	api.NewHandler(dispatcher, m, cfg.BasicConfig.WebhookSecret, logger).RegisterRoutes(router)
	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	sessions.StartEvictor(gctx, time.Duration(cfg.Session.EvictInterval)*time.Minute, idleTimeout)
	g.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return sessions.Listen(gctx)
	})
	g.Go(func() error {
		reloadOnHangup(gctx, gate, allowStore, cfg, logger)
		return nil
	})
	return g.Wait()
}

// reloadOnHangup rebuilds the allow-list on SIGHUP so `relaybot allow` edits
// take effect without a restart.
func reloadOnHangup(ctx context.Context, gate *auth.Gate, store *auth.Store, cfg *config.Config, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			policy, err := auth.LoadPolicy(ctx, store, cfg.Auth.AllowedUsers, cfg.Auth.AllowAll, cfg.Auth.GroupCommandsBypass())
			if err != nil {
				logger.Error("allow-list reload failed", "error", err)
				continue
			}
			gate.Reload(policy)
			logger.Info("allow-list reloaded", "allowed_users", len(policy.Allowed))
		}
	}
}

// openAllowStore opens the allow-list table when a database is configured.
func openAllowStore(ctx context.Context, cfg *config.Config) (*auth.Store, func(), error) {
	if cfg.Database == "" {
		return nil, func() {}, nil
	}
	db, err := storage.Open(ctx, cfg.Database, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(ctx, db, cfg.Database); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return auth.NewStore(db, cfg.Database), func() { db.Close() }, nil
}
