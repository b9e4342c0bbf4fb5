package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"zentry-anomalies/internal/cleaning"
	"zentry-anomalies/internal/domain"
	"zentry-anomalies/internal/fcm"
	"zentry-anomalies/internal/features"
	"zentry-anomalies/internal/metrics"
	"zentry-anomalies/internal/ports"
)

// PipelineDeps wires the driven adapters and domain services into the
// training and inference workflows.
type PipelineDeps struct {
	// Source fetches raw readings. When nil, Repository is used for fetching
	// too; a remote API adapter is plugged in here while a relational
	// adapter persists.
	Source     ports.Repository
	Repository ports.Repository
	Cleaner    *cleaning.Service
	Featurizer *features.Service
	Engine     *fcm.Engine
	Publisher  ports.VerdictPublisher
	Artifacts  ports.ArtifactStore
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Pipeline implements the shared fetch → clean → featurize flow plus the
// training and inference tails.
type Pipeline struct {
	source     ports.Repository
	repository ports.Repository
	cleaner    *cleaning.Service
	featurizer *features.Service
	engine     *fcm.Engine
	publisher  ports.VerdictPublisher
	artifacts  ports.ArtifactStore
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	source := deps.Source
	if source == nil {
		source = deps.Repository
	}
	return &Pipeline{
		source:     source,
		repository: deps.Repository,
		cleaner:    deps.Cleaner,
		featurizer: deps.Featurizer,
		engine:     deps.Engine,
		publisher:  deps.Publisher,
		artifacts:  deps.Artifacts,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
}

// TrainingSummary reports the outcome of one training run.
type TrainingSummary struct {
	ModelVersion    string
	Vectors         int
	Iterations      int
	Converged       bool
	Cleaning        cleaning.Report
	SkippedEntities int
}

// InferenceSummary reports the outcome of one inference run.
type InferenceSummary struct {
	ModelVersion    string
	Verdicts        int
	Anomalies       int
	Persisted       int
	Cleaning        cleaning.Report
	SkippedEntities int
}

// RunTraining fetches, cleans and featurizes the selected window, fits a new
// cluster model and persists it. The fitted model additionally goes to the
// artifact store when one is wired; artifact failures are logged, not fatal,
// since the relational store already holds the model.
func (p *Pipeline) RunTraining(ctx context.Context, sel ports.Selector, params fcm.Params) (TrainingSummary, error) {
	vectors, cleanReport, featReport, err := p.buildFeatures(ctx, sel)
	if err != nil {
		return TrainingSummary{}, err
	}

	model, err := p.engine.Fit(ctx, vectors, params)
	if err != nil {
		return TrainingSummary{}, fmt.Errorf("fit model: %w", err)
	}

	version, err := p.repository.SaveModel(ctx, model)
	if err != nil {
		p.metrics.RecordPersistFailure()
		return TrainingSummary{}, fmt.Errorf("save model: %w", err)
	}

	if p.artifacts != nil {
		if key, aErr := p.artifacts.StoreModel(ctx, model); aErr != nil {
			p.warn("model snapshot failed", "version", version, "error", aErr)
		} else {
			p.debug("model snapshot stored", "key", key)
		}
	}

	p.info("training run complete", "model_version", version,
		"vectors", len(vectors), "iterations", model.Iterations, "converged", model.Converged)
	return TrainingSummary{
		ModelVersion:    version,
		Vectors:         len(vectors),
		Iterations:      model.Iterations,
		Converged:       model.Converged,
		Cleaning:        cleanReport,
		SkippedEntities: len(featReport.Insufficient),
	}, nil
}

// RunInference fetches, cleans and featurizes the selected window, scores
// every vector against the latest persisted model and saves the verdicts in
// one batch, ordered per entity by window start. Cancellation before the
// save leaves nothing persisted. Publishing is best-effort: verdicts are
// already durable when it runs.
func (p *Pipeline) RunInference(ctx context.Context, sel ports.Selector, sp fcm.ScoreParams) (InferenceSummary, error) {
	vectors, cleanReport, featReport, err := p.buildFeatures(ctx, sel)
	if err != nil {
		return InferenceSummary{}, err
	}

	model, err := p.repository.LoadLatestModel(ctx)
	if err != nil {
		return InferenceSummary{}, fmt.Errorf("load model: %w", err)
	}

	sort.SliceStable(vectors, func(i, j int) bool {
		if vectors[i].EntityID != vectors[j].EntityID {
			return vectors[i].EntityID < vectors[j].EntityID
		}
		return vectors[i].Window.Start.Before(vectors[j].Window.Start)
	})

	verdicts := make([]domain.AnomalyVerdict, 0, len(vectors))
	anomalies := 0
	for _, vector := range vectors {
		select {
		case <-ctx.Done():
			return InferenceSummary{}, ctx.Err()
		default:
		}

		verdict, sErr := p.engine.Score(model, vector, sp)
		if sErr != nil {
			return InferenceSummary{}, fmt.Errorf("score entity %s: %w", vector.EntityID, sErr)
		}
		if verdict.Anomalous {
			anomalies++
		}
		verdicts = append(verdicts, verdict)
	}

	persisted, err := p.repository.SaveVerdicts(ctx, verdicts)
	if err != nil {
		p.metrics.RecordPersistFailure()
		return InferenceSummary{}, fmt.Errorf("save verdicts: %w", err)
	}

	if p.publisher != nil && len(verdicts) > 0 {
		if pubErr := p.publisher.PublishVerdicts(ctx, verdicts); pubErr != nil {
			p.warn("verdict publish failed", "error", pubErr)
		}
	}

	p.info("inference run complete", "model_version", model.Version,
		"verdicts", len(verdicts), "anomalies", anomalies, "persisted", persisted)
	return InferenceSummary{
		ModelVersion:    model.Version,
		Verdicts:        len(verdicts),
		Anomalies:       anomalies,
		Persisted:       persisted,
		Cleaning:        cleanReport,
		SkippedEntities: len(featReport.Insufficient),
	}, nil
}

func (p *Pipeline) buildFeatures(ctx context.Context, sel ports.Selector) ([]domain.FeatureVector, cleaning.Report, features.Report, error) {
	raw, err := p.source.FetchRaw(ctx, sel)
	if err != nil {
		return nil, cleaning.Report{}, features.Report{}, fmt.Errorf("fetch raw: %w", err)
	}
	p.debug("fetched readings", "count", len(raw))

	records, cleanReport, err := p.cleaner.Clean(raw)
	if err != nil {
		return nil, cleanReport, features.Report{}, fmt.Errorf("clean: %w", err)
	}
	p.metrics.RecordCleaned(string(domain.StatusOK), cleanReport.OK)
	p.metrics.RecordCleaned(string(domain.StatusImputed), cleanReport.Imputed)
	p.metrics.RecordCleaned(string(domain.StatusDropped), cleanReport.Dropped)

	vectors, featReport, err := p.featurizer.Featurize(records)
	if err != nil {
		return nil, cleanReport, featReport, fmt.Errorf("featurize: %w", err)
	}
	for _, insufficient := range featReport.Insufficient {
		p.warn("entity skipped", "error", insufficient)
	}
	return vectors, cleanReport, featReport, nil
}

func (p *Pipeline) info(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Pipeline) warn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}

func (p *Pipeline) debug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}
