package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"jungleboard/migrations"
	"jungleboard/notifier/internal/fanout"
	"jungleboard/notifier/internal/handlers"
	"jungleboard/notifier/internal/realtime"
	"jungleboard/notifier/internal/repos"
	"jungleboard/shared/authx"
	"jungleboard/shared/cachex"
	"jungleboard/shared/config"
	"jungleboard/shared/dbx"
	"jungleboard/shared/events"
	"jungleboard/shared/httpx"
	"jungleboard/shared/influxx"
	"jungleboard/shared/logx"
	"jungleboard/shared/metricsx"
	"jungleboard/shared/mqx"
	"jungleboard/shared/observability"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

func main() {
	cfg, problems := config.Load("notifier", 8082)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if cfg.KafkaGroupID == "" {
		problems = append(problems, config.Problem{Field: "KAFKA_CONSUMER_GROUP", Message: "KAFKA_CONSUMER_GROUP is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	if cfg.OtelEnabled {
		if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		}); err == nil {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	metricsx.Register()

	dbPool, err := dbx.NewPool(cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	if cfg.MigrateOnStart {
		if err := dbx.Migrate(dbPool, migrations.FS); err != nil {
			logger.Error(context.Background(), "migrate_failed", "migrations failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka producer init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer func() { _ = producer.Close() }()

	reader, err := mqx.NewConsumer(cfg, cfg.TaskEventsTopic, cfg.KafkaGroupID)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka reader init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer reader.Close()

	var cache *cachex.Client
	if cfg.RedisAddr != "" {
		cache, err = cachex.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "redis_init_failed", "unread cache disabled",
				slog.String("error", err.Error()),
			)
		} else {
			defer func() { _ = cache.Close() }()
		}
	}

	var influx *influxx.Client
	if cfg.InfluxURL != "" {
		influx, err = influxx.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "influx_init_failed", "fanout telemetry disabled",
				slog.String("error", err.Error()),
			)
		} else {
			defer influx.Close()
		}
	}

	var verifier *authx.JWTVerifier
	if cfg.OIDCIssuer != "" && cfg.OIDCAudience != "" {
		verifier, err = authx.NewJWTVerifier(cfg.OIDCIssuer, cfg.OIDCAudience, cfg.OIDCJWKSURL, cfg.JWKSTTLSeconds, cfg.JWTClockSkewSec)
		if err != nil {
			logger.Error(context.Background(), "auth_init_failed", "jwt verifier init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	registry := realtime.NewRegistry()
	notificationsRepo := repos.NewNotificationsRepo(dbPool)
	svc := fanout.NewService(notificationsRepo, registry, logger, influx)

	ws := &realtime.Handler{
		Registry:     registry,
		Log:          logger,
		Verifier:     verifier,
		WriteTimeout: time.Duration(cfg.WSWriteTimeoutMS) * time.Millisecond,
		SendBuffer:   cfg.WSSendBuffer,
	}
	rest := &handlers.Handler{
		Notifications: notificationsRepo,
		Cache:         cache,
		UnreadTTL:     time.Duration(cfg.UnreadCacheTTLSec) * time.Second,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ok",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbx.Ping(r.Context(), dbPool); err != nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION",
				"service not ready: database unavailable",
				map[string]any{"problem": "db_ping_failed"},
			)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ready",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.Handle("GET /metrics", metricsx.Handler())
	mux.Handle("GET /ws", ws)
	rest.Register(mux)

	// internal push surface for the digest worker; not exposed publicly
	mux.HandleFunc("POST /internal/badge", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID string `json:"userId"`
			Unread int    `json:"unread"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "userId is required", nil)
			return
		}
		delivered := registry.Broadcast(realtime.RoomUser(req.UserID), realtime.FrameBadge, realtime.BadgeFrame(req.Unread))
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"delivered": delivered})
	})

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})

	handler := httpx.WrapServeMux(mux, notFound)
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithRecover(logger, handler)
	handler = metricsx.Instrument(handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{SkipPaths: map[string]bool{"/healthz": true, "/metrics": true, "/ws": true}}, handler)
	handler = otelhttp.NewHandler(handler, "http")

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		runConsumer(ctx, cfg, logger, reader, producer, svc)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "service_start", "starting service",
			slog.String("addr", server.Addr),
			slog.Int("http_port", cfg.HTTPPort),
			slog.String("topic", cfg.TaskEventsTopic),
			slog.String("group", cfg.KafkaGroupID),
		)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server_failed", "server failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	// stop fetching and drain the in-flight message before the server dies
	cancel()
	select {
	case <-consumerDone:
	case <-time.After(10 * time.Second):
		logger.Warn(context.Background(), "consumer_drain_timeout", "consumer did not drain in time")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	logger.Info(context.Background(), "service_stop", "service stopped")
}

// runConsumer is the fan-out loop: strictly sequential within one instance,
// at-least-once end to end. The offset commits only after the event is
// persisted or parked on the dead-letter topic; the unique index on
// (event_id, recipient) makes redelivery harmless.
func runConsumer(ctx context.Context, cfg config.Config, logger logx.Logger, reader *kafka.Reader, producer *mqx.Producer, svc *fanout.Service) {
	logger.Info(ctx, "consumer_start", "fanout consumer started",
		slog.String("topic", cfg.TaskEventsTopic),
		slog.String("group", cfg.KafkaGroupID),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			logger.Error(ctx, "kafka_fetch_failed", "failed to fetch message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		spanCtx, span := otel.Tracer("mqx").Start(ctx, "kafka.consume")
		span.SetAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", cfg.TaskEventsTopic),
		)
		err = svc.Handle(spanCtx, msg.Value)
		span.End()

		switch {
		case err == nil:
			// fall through to commit

		case errors.Is(err, events.ErrMalformed):
			// poison message, never retried in place
			metricsx.IncDeadLetter("malformed")
			if dlErr := producer.PublishDead(ctx, cfg.DeadLetterTopic, msg, "malformed"); dlErr != nil {
				logger.Error(ctx, "dead_letter_failed", "failed to park malformed message",
					slog.String("error_code", "INTERNAL_ERROR"),
					slog.String("error", dlErr.Error()),
				)
				continue
			}
			logger.Warn(ctx, "event_dead_lettered", "malformed event parked",
				slog.String("error", err.Error()),
			)

		default:
			attempts := mqx.Attempts(msg) + 1
			if attempts >= cfg.FanoutMaxAttempts {
				metricsx.IncDeadLetter("max_attempts")
				if dlErr := producer.PublishDead(ctx, cfg.DeadLetterTopic, msg, "max_attempts"); dlErr != nil {
					logger.Error(ctx, "dead_letter_failed", "failed to park exhausted message",
						slog.String("error_code", "INTERNAL_ERROR"),
						slog.String("error", dlErr.Error()),
					)
					continue
				}
				logger.Error(ctx, "event_dead_lettered", "event exhausted redelivery budget",
					slog.String("error_code", "INTERNAL_ERROR"),
					slog.Int("attempts", attempts),
					slog.String("error", err.Error()),
				)
			} else {
				// requeue on the same topic with the attempt counter bumped
				headers := map[string]string{mqx.HeaderAttempts: strconv.Itoa(attempts)}
				if reErr := producer.Publish(ctx, cfg.TaskEventsTopic, msg.Key, msg.Value, headers); reErr != nil {
					logger.Error(ctx, "event_requeue_failed", "failed to requeue event",
						slog.String("error_code", "INTERNAL_ERROR"),
						slog.String("error", reErr.Error()),
					)
					continue
				}
				logger.Warn(ctx, "event_requeued", "event handling failed, requeued",
					slog.Int("attempts", attempts),
					slog.String("error", err.Error()),
				)
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Error(ctx, "kafka_commit_failed", "failed to commit message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
		}
		stats := reader.Stats()
		metricsx.SetKafkaLag(stats.Topic, cfg.KafkaGroupID, stats.Lag)
	}

	logger.Info(context.Background(), "consumer_stop", "fanout consumer stopped")
}
