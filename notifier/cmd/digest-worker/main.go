package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"jungleboard/notifier/internal/repos"
	"jungleboard/shared/cachex"
	"jungleboard/shared/config"
	"jungleboard/shared/dbx"
	"jungleboard/shared/lockx"
	"jungleboard/shared/logx"
	"jungleboard/shared/metricsx"
)

const taskBadgeDigest = "digest.badges"

type badgePush struct {
	UserID string `json:"userId"`
	Unread int    `json:"unread"`
}

func main() {
	cfg, problems := config.Load("digest-worker", 8083)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.AsynqRedisAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR is required"})
	}
	if cfg.RedisAddr == "" {
		problems = append(problems, config.Problem{Field: "REDIS_ADDR", Message: "REDIS_ADDR is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	dbPool, err := dbx.NewPool(cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	cache, err := cachex.New(cfg)
	if err != nil {
		logger.Error(context.Background(), "redis_init_failed", "redis init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer func() { _ = cache.Close() }()

	notifRepo := repos.NewNotificationsRepo(dbPool)
	unreadTTL := time.Duration(cfg.UnreadCacheTTLSec) * time.Second
	httpClient := &http.Client{Timeout: 5 * time.Second}
	badgeURL := strings.TrimRight(cfg.NotifierInternal, "/") + "/internal/badge"

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Queues: map[string]int{
			cfg.AsynqQueue: 1,
		},
	})
	defer server.Shutdown()

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskBadgeDigest, func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("asynq").Start(ctx, "digest.badges")
		span.SetAttributes(attribute.String("queue", cfg.AsynqQueue))
		defer span.End()

		// Only one worker instance runs a digest cycle at a time.
		lock, acquired, err := lockx.Acquire(ctx, cache.Client(), "digest:badges", digestLockTTL(cfg.DigestIntervalSec))
		if err != nil {
			return err
		}
		if !acquired {
			return nil
		}
		defer func() { _ = lockx.Release(ctx, cache.Client(), lock) }()

		counts, err := notifRepo.UnreadCounts(ctx)
		if err != nil {
			return err
		}
		pushed := 0
		for _, c := range counts {
			if err := cache.SetUnread(ctx, c.RecipientUserID, c.Count, unreadTTL); err != nil {
				logger.Warn(ctx, "unread_cache_warm_failed", "failed to warm unread cache",
					slog.String("user_id", c.RecipientUserID),
					slog.String("error", err.Error()),
				)
			}
			if err := pushBadge(ctx, httpClient, badgeURL, badgePush{UserID: c.RecipientUserID, Unread: c.Count}); err != nil {
				logger.Warn(ctx, "badge_push_failed", "failed to push badge",
					slog.String("user_id", c.RecipientUserID),
					slog.String("error", err.Error()),
				)
				continue
			}
			pushed++
		}
		logger.Info(ctx, "digest_cycle", "badge digest cycle completed",
			slog.Int("recipients", len(counts)),
			slog.Int("pushed", pushed),
		)
		return nil
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
	})
	defer scheduler.Shutdown()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	if _, err := scheduler.Register("@every "+strconv.Itoa(cfg.DigestIntervalSec)+"s", asynq.NewTask(taskBadgeDigest, nil, asynq.Queue(cfg.AsynqQueue))); err != nil {
		logger.Error(context.Background(), "scheduler_init_failed", "scheduler init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error(context.Background(), "scheduler_start_failed", "scheduler start failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			info, err := inspector.GetQueueInfo(cfg.AsynqQueue)
			if err != nil {
				continue
			}
			metricsx.SetAsynqQueueDepth(cfg.AsynqQueue, info.Size)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "worker_start", "digest worker started",
			slog.String("queue", cfg.AsynqQueue),
			slog.Int("concurrency", cfg.AsynqConcurrency),
			slog.Int("interval_seconds", cfg.DigestIntervalSec),
		)
		errCh <- server.Run(mux)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, asynq.ErrServerClosed) {
			logger.Error(context.Background(), "worker_failed", "worker failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	logger.Info(context.Background(), "worker_stop", "digest worker stopped")
}

// digestLockTTL leaves the lease in place well past the scheduling interval
// so a cycle that runs long does not lapse mid-flight and let a second
// instance overlap. Release trims the lease back as soon as a cycle ends.
func digestLockTTL(intervalSec int) time.Duration {
	ttl := 2 * time.Duration(intervalSec) * time.Second
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}

func pushBadge(ctx context.Context, client *http.Client, url string, push badgePush) error {
	body, err := json.Marshal(push)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("badge push returned status %d", resp.StatusCode)
	}
	return nil
}
