package ports

import (
	"context"
	"time"

	"zentry-anomalies/internal/domain"
)

// Selector restricts a raw-data fetch to a set of entities and a time range.
// An empty EntityIDs slice means all entities.
type Selector struct {
	EntityIDs []string
	From      time.Time
	To        time.Time
}

// Repository is the persistence port shared by every transport. Adapter
// choice is a transport/performance decision and must not change cleaning or
// classification outcomes. SaveModel and SaveVerdicts are upserts: re-running
// with identical input must not duplicate rows.
type Repository interface {
	FetchRaw(ctx context.Context, sel Selector) ([]domain.RawReading, error)
	SaveModel(ctx context.Context, model domain.ClusterModel) (string, error)
	// LoadLatestModel returns domain.ErrNoModelAvailable when no training
	// run has ever persisted a model.
	LoadLatestModel(ctx context.Context) (domain.ClusterModel, error)
	SaveVerdicts(ctx context.Context, verdicts []domain.AnomalyVerdict) (int, error)
}

// VerdictPublisher streams scored verdicts to downstream consumers.
type VerdictPublisher interface {
	PublishVerdicts(ctx context.Context, verdicts []domain.AnomalyVerdict) error
}

// ArtifactStore archives fitted model snapshots outside the relational store.
type ArtifactStore interface {
	StoreModel(ctx context.Context, model domain.ClusterModel) (string, error)
}
