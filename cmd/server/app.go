package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"

	"docket/internal/auth"
	"docket/internal/platform/config"
	"docket/internal/platform/kafka"
	platformmetrics "docket/internal/platform/metrics"
	"docket/internal/platform/postgres"
	"docket/internal/platform/redis"
	"docket/internal/platform/tracing"
	workflowhandler "docket/internal/workflow/handler"
	workflowmetrics "docket/internal/workflow/metrics"
	"docket/internal/workflow/policy"
	"docket/internal/workflow/service"
	workflowstore "docket/internal/workflow/store"
	"docket/pkg/platform/audit"
	"docket/pkg/platform/audit/alert"
	auditmemory "docket/pkg/platform/audit/store/memory"
	auditpostgres "docket/pkg/platform/audit/store/postgres"
	"docket/pkg/platform/audit/worker"
	"docket/pkg/platform/circuit"
	"docket/pkg/platform/httputil"
	"docket/pkg/platform/middleware/admin"
	authmw "docket/pkg/platform/middleware/auth"
	"docket/pkg/platform/middleware/metadata"
	"docket/pkg/platform/middleware/request"
	"docket/pkg/platform/middleware/requesttime"
)

// app is the wired server. close releases every connection it opened.
type app struct {
	router  http.Handler
	worker  *worker.Worker
	buffer  *audit.RingBuffer
	checks  map[string]func(context.Context) error
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{checks: map[string]func(context.Context) error{}}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	table, err := loadTable(cfg.Workflow.TransitionsFile)
	if err != nil {
		return nil, err
	}

	var (
		store      service.Store
		auditStore audit.Store
	)
	if cfg.Database.URL != "" {
		db, err := openDatabase(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		a.checks["postgres"] = db.PingContext
		if cfg.Database.MigrateOnStart {
			applied, err := postgres.Migrate(ctx, db)
			if err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.InfoContext(ctx, "migrations applied", "applied", applied)
		}
		store = workflowstore.NewPostgres(db, workflowstore.WithTxTimeout(cfg.Workflow.TxTimeout))
		auditStore = auditpostgres.New(db)
	} else {
		logger.WarnContext(ctx, "no database configured, state is kept in memory and lost on exit")
		store = workflowstore.NewInMemory(workflowstore.WithTxTimeout(cfg.Workflow.TxTimeout))
		auditStore = auditmemory.NewInMemoryStore()
	}

	auditMetrics := audit.NewMetrics(reg)
	buffer := audit.NewRingBuffer(cfg.Audit.BufferSize)
	a.buffer = buffer
	recorderOpts := []audit.Option{
		audit.WithLogger(logger),
		audit.WithMetrics(auditMetrics),
		audit.WithBuffer(buffer),
	}
	producer, err := kafka.NewClient(ctx, kafkaConfig(cfg.Kafka))
	if err != nil {
		return nil, err
	}
	if producer != nil {
		a.closers = append(a.closers, producer.Close)
		a.checks["kafka"] = producer.Ping
		if err := kafka.EnsureTopics(ctx, producer, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor, cfg.Kafka.AlertTopic); err != nil {
			return nil, err
		}
		recorderOpts = append(recorderOpts, audit.WithAlerter(newAlerter(producer, cfg.Kafka.AlertTopic, logger, auditMetrics)))
	} else {
		logger.WarnContext(ctx, "no kafka brokers configured, audit failure alerts go to the log only")
	}
	recorder := audit.NewRecorder(auditStore, recorderOpts...)
	a.worker = worker.NewWorker(auditStore, buffer, cfg.Audit.RedeliveryInterval,
		worker.WithLogger(logger),
		worker.WithMetrics(auditMetrics),
	)

	engine := service.New(store, table,
		service.WithLogger(logger),
		service.WithMetrics(workflowmetrics.New(reg)),
		service.WithTracer(tracing.Tracer("docket/workflow")),
		service.WithAuditRecorder(recorder),
		service.WithAuditReader(auditStore),
		service.WithAttempts(cfg.Workflow.CascadeAttempts),
	)

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		return nil, err
	}
	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	var revocations *auth.RevocationList
	if rc != nil {
		a.closers = append(a.closers, func() { _ = rc.Close() })
		a.checks["redis"] = rc.Health
		revocations = auth.NewRevocationList(rc.Client, auth.WithRegisterer(reg))
	} else {
		logger.WarnContext(ctx, "no redis configured, token revocation is disabled")
	}

	a.router = newRouter(routerDeps{
		logger:       logger,
		registry:     reg,
		metricsToken: cfg.Server.MetricsToken,
		tokens:       tokens,
		revocations:  revocations,
		tokenTTL:     cfg.Auth.TokenTTL,
		engine:       engine,
		checks:       a.checks,
	})
	ok = true
	return a, nil
}

type routerDeps struct {
	logger       *slog.Logger
	registry     *prometheus.Registry
	metricsToken string
	tokens       authmw.JWTValidator
	revocations  *auth.RevocationList // nil disables revocation
	tokenTTL     time.Duration
	engine       workflowhandler.Service
	checks       map[string]func(context.Context) error
}

func newRouter(d routerDeps) http.Handler {
	httpMetrics := platformmetrics.New(d.registry)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(httpMetrics.Middleware)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	r.Get("/readyz", readiness(d.checks, d.logger))

	var metricsHandler http.Handler = promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{Registry: d.registry})
	if d.metricsToken != "" {
		metricsHandler = admin.RequireOperatorToken(d.metricsToken, d.logger)(metricsHandler)
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	var checker authmw.TokenRevocationChecker
	if d.revocations != nil {
		checker = d.revocations
	}
	r.Group(func(r chi.Router) {
		r.Use(authmw.OptionalAuth(d.tokens, checker, d.logger))
		workflowhandler.New(d.engine, d.logger).Register(r)
	})
	if d.revocations != nil {
		r.Group(func(r chi.Router) {
			r.Use(authmw.RequireAuth(d.tokens, checker, d.logger))
			auth.NewHandler(d.revocations, d.tokenTTL, d.logger).Register(r)
		})
	}
	return r
}

// readiness answers 503 naming every dependency that failed its check.
func readiness(checks map[string]func(context.Context) error, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		failed := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.WarnContext(ctx, "readiness check failed", "dependency", name, "error", err)
				failed[name] = "unavailable"
			}
		}
		if len(failed) > 0 {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func openDatabase(ctx context.Context, cfg config.Database) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database.url is required")
	}
	return postgres.Open(ctx, postgres.Config{
		URL:             cfg.URL,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
}

func loadTable(path string) (*policy.Table, error) {
	if path == "" {
		return policy.Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transitions file: %w", err)
	}
	table, err := policy.Load(data)
	if err != nil {
		return nil, fmt.Errorf("load transitions file %s: %w", path, err)
	}
	return table, nil
}

func kafkaConfig(cfg config.Kafka) kafka.Config {
	return kafka.Config{
		Brokers:           cfg.Brokers,
		ClientID:          cfg.ClientID,
		AlertTopic:        cfg.AlertTopic,
		Partitions:        cfg.Partitions,
		ReplicationFactor: cfg.ReplicationFactor,
		DialTimeout:       10 * time.Second,
	}
}

func newAlerter(producer *kgo.Client, topic string, logger *slog.Logger, m *audit.Metrics) *alert.Publisher {
	return alert.New(producer, topic,
		alert.WithLogger(logger),
		alert.WithMetrics(m),
		alert.WithBreaker(circuit.New("audit-alerts", circuit.WithFailureThreshold(3), circuit.WithCooldown(30*time.Second))),
	)
}
