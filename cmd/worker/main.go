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
	"golang.org/x/sync/errgroup"

	"github.com/you/memeq/internal/config"
	"github.com/you/memeq/internal/generate"
	"github.com/you/memeq/internal/lifecycle"
	"github.com/you/memeq/internal/logging"
	"github.com/you/memeq/internal/providers/cloudinary"
	"github.com/you/memeq/internal/providers/openai"
	"github.com/you/memeq/internal/providers/render"
	"github.com/you/memeq/internal/queue"
	"github.com/you/memeq/internal/storage"
	"github.com/you/memeq/internal/worker"
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

	var archive *storage.Archive
	if cfg.PostgresDSN != "" {
		if err := storage.ApplyMigrations(cfg.PostgresDSN, cfg.MigrationsDir); err != nil {
			log.Fatal("archive migrations failed", zap.Error(err))
		}
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("postgres connection failed", zap.Error(err))
		}
		defer pool.Close()
		archive = storage.NewArchive(pool)
	}

	httpClient := &http.Client{Timeout: 120 * time.Second}

	captionBackend, err := openai.New(openai.Options{
		APIKey:     cfg.CaptionAPIKey,
		Model:      cfg.CaptionModel,
		BaseURL:    cfg.CaptionAPIURL,
		HTTPClient: httpClient,
	})
	if err != nil {
		log.Fatal("caption backend", zap.Error(err))
	}
	captioner := generate.NewRetryingCaptioner(
		captionBackend, cfg.CaptionMaxAttempts, cfg.RetryBackoffBase, cfg.CaptionTimeout, log)

	uploader, err := cloudinary.New(cloudinary.Options{
		BaseURL:    cfg.UploadURL,
		CloudName:  cfg.UploadCloud,
		APIKey:     cfg.UploadKey,
		APISecret:  cfg.UploadSecret,
		Folder:     cfg.UploadFolder,
		HTTPClient: httpClient,
	})
	if err != nil {
		log.Fatal("uploader", zap.Error(err))
	}

	renderer := render.New(cfg.RenderURL, httpClient)

	pipeline := worker.NewPipeline(worker.PipelineDeps{
		Machine:   machine,
		Store:     store,
		Archive:   archive,
		Composer:  renderer,
		Overlayer: renderer,
		Captioner: captioner,
		Uploader:  uploader,
		Deadline:  cfg.JobDeadline,
		Log:       log,
	})
	consumer := worker.NewConsumer(q, pipeline, cfg.QueueMaxRetries, cfg.RetryBackoffBase, log)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		g.Go(func() error { return consumer.Run(gctx) })
	}
	g.Go(func() error { return janitor(gctx, q, reaper, cfg.ReapInterval, log) })

	log.Info("worker running",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Duration("deadline", cfg.JobDeadline),
	)
	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatal("worker exited", zap.Error(err))
	}
	log.Info("worker stopped")
}

// janitor promotes due retry tasks every second and reaps stale jobs on the
// configured interval. Both operations are idempotent, so every worker
// process runs its own janitor without coordination.
func janitor(ctx context.Context, q *queue.RedisQ, reaper *lifecycle.Reaper, reapEvery time.Duration, log *zap.Logger) error {
	promote := time.NewTicker(time.Second)
	defer promote.Stop()
	if reapEvery <= 0 {
		reapEvery = time.Minute
	}
	reap := time.NewTicker(reapEvery)
	defer reap.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-promote.C:
			if _, err := q.MoveDue(ctx, time.Now().Unix(), 200); err != nil && ctx.Err() == nil {
				log.Warn("retry promotion failed", zap.Error(err))
			}
		case <-reap.C:
			if _, err := reaper.Sweep(ctx); err != nil && ctx.Err() == nil {
				log.Warn("reaper sweep failed", zap.Error(err))
			}
		}
	}
}
