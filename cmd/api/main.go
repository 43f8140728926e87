package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/memeq/internal/config"
	"github.com/you/memeq/internal/httpapi"
	"github.com/you/memeq/internal/lifecycle"
	"github.com/you/memeq/internal/logging"
	"github.com/you/memeq/internal/queue"
	"github.com/you/memeq/internal/storage"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.AppEnv)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := r.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal("invalid REDIS_URL", zap.Error(err))
	}
	rdb := r.NewClient(opts)
	defer rdb.Close()

	store := storage.New(rdb, cfg.JobTTL, cfg.JobTTLMin)
	if err := store.Ping(ctx); err != nil {
		log.Fatal("redis unreachable", zap.Error(err))
	}

	q := queue.New(rdb)
	machine := lifecycle.NewMachine(store, log)
	reaper := lifecycle.NewReaper(store, machine, cfg.ReapThreshold, log)
	admitter := lifecycle.NewAdmitter(store, q, reaper, cfg.CapacityCeiling, log)

	var archive *storage.Archive
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("postgres connection failed", zap.Error(err))
		}
		defer pool.Close()
		archive = storage.NewArchive(pool)
	}

	srv := httpapi.NewServer(httpapi.ServerDeps{
		Store:    store,
		Admitter: admitter,
		Reaper:   reaper,
		Queue:    q,
		Archive:  archive,
		Origins:  cfg.AllowedOrigins,
		AppEnv:   cfg.AppEnv,
		Log:      log,
	})

	httpServer := &http.Server{
		Addr:         cfg.APIAddr,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}()

	log.Info("api listening", zap.String("addr", cfg.APIAddr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("server failed", zap.Error(err))
	}
}
