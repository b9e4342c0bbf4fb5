package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"zentry-anomalies/internal/cleaning"
	"zentry-anomalies/internal/config"
	"zentry-anomalies/internal/fcm"
	"zentry-anomalies/internal/features"
	"zentry-anomalies/internal/infrastructure/artifact"
	"zentry-anomalies/internal/infrastructure/asyncstorage"
	"zentry-anomalies/internal/infrastructure/broker"
	"zentry-anomalies/internal/infrastructure/modelcache"
	"zentry-anomalies/internal/infrastructure/storage"
	"zentry-anomalies/internal/infrastructure/telemetry"
	"zentry-anomalies/internal/logging"
	"zentry-anomalies/internal/metrics"
	"zentry-anomalies/internal/ports"
	"zentry-anomalies/internal/usecase"

	_ "github.com/lib/pq"
)

// Application wires configuration to adapters and the pipeline. Adapter
// selection is configuration-driven; the domain services never know which
// transport backs them.
type Application struct {
	cfg      config.Config
	pipeline *usecase.Pipeline
	closers  []func()
}

// New builds a runnable application instance. The chosen relational adapter
// handles persistence; when a telemetry API URL is configured it becomes the
// raw-data source instead.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	a := &Application{cfg: cfg}

	mets := metrics.New(prometheus.NewRegistry())

	var repository ports.Repository
	switch cfg.Database.Adapter {
	case "async":
		pool, err := asyncstorage.New(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open async repository: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		repository = pool
	default:
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sync repository: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		repository = storage.NewPostgresRepository(db)
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		repository = modelcache.Wrap(repository, rdb, cfg.Redis.TTL,
			baseLogger.With("component", "modelcache"))
	}

	var source ports.Repository
	if cfg.Telemetry.BaseURL != "" {
		source = telemetry.NewClient(cfg.Telemetry.BaseURL, cfg.Telemetry.APIKey,
			cfg.Telemetry.Timeout, baseLogger.With("component", "telemetry"))
	}

	var publisher ports.VerdictPublisher
	if cfg.Broker.URL != "" {
		conn, err := amqp.Dial(cfg.Broker.URL)
		if err != nil {
			return nil, fmt.Errorf("connect broker: %w", err)
		}
		a.closers = append(a.closers, func() { _ = conn.Close() })
		pub, err := broker.NewPublisher(conn, cfg.Broker.Exchange, cfg.Broker.RoutingKey)
		if err != nil {
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		a.closers = append(a.closers, func() { _ = pub.Close() })
		publisher = pub
	}

	var artifacts ports.ArtifactStore
	if cfg.Artifacts.Endpoint != "" {
		store, err := artifact.NewStore(cfg.Artifacts.Endpoint, cfg.Artifacts.AccessKey,
			cfg.Artifacts.SecretKey, cfg.Artifacts.Bucket, cfg.Artifacts.UseSSL)
		if err != nil {
			return nil, fmt.Errorf("init artifact store: %w", err)
		}
		artifacts = store
	}

	featurizer, err := features.New(cfg.Features, baseLogger.With("component", "features"))
	if err != nil {
		return nil, fmt.Errorf("init featurizer: %w", err)
	}

	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Source:     source,
		Repository: repository,
		Cleaner:    cleaning.New(cfg.Cleaning, baseLogger.With("component", "cleaning")),
		Featurizer: featurizer,
		Engine:     fcm.New(baseLogger.With("component", "fcm"), mets),
		Publisher:  publisher,
		Artifacts:  artifacts,
		Metrics:    mets,
		Logger:     baseLogger.With("component", "pipeline"),
	})
	return a, nil
}

// RunTraining executes the training pipeline over the selected window.
func (a *Application) RunTraining(ctx context.Context, sel ports.Selector) (usecase.TrainingSummary, error) {
	if err := a.cfg.ValidateTraining(); err != nil {
		return usecase.TrainingSummary{}, fmt.Errorf("config: %w", err)
	}
	params := fcm.Params{
		K:             a.cfg.Clustering.K,
		M:             a.cfg.Clustering.M,
		Tolerance:     a.cfg.Clustering.Tolerance,
		MaxIterations: a.cfg.Clustering.MaxIterations,
		Seed:          a.cfg.Clustering.Seed,
	}
	return a.pipeline.RunTraining(ctx, sel, params)
}

// RunInference executes the inference pipeline over the selected window.
func (a *Application) RunInference(ctx context.Context, sel ports.Selector) (usecase.InferenceSummary, error) {
	if err := a.cfg.ValidateInference(); err != nil {
		return usecase.InferenceSummary{}, fmt.Errorf("config: %w", err)
	}
	sp := fcm.ScoreParams{
		ConfidenceThreshold: a.cfg.Anomaly.ConfidenceThreshold,
		DistanceThreshold:   a.cfg.Anomaly.DistanceThreshold,
	}
	return a.pipeline.RunInference(ctx, sel, sp)
}

// Close releases every acquired resource in reverse order.
func (a *Application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
