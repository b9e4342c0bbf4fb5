package domain

import "time"

// ClusterModel is the read-only result of one fuzzy c-means training run.
// Later runs supersede it by version; it is never mutated.
type ClusterModel struct {
	Version    string
	Centers    [][]float64
	M          float64
	Tolerance  float64
	Iterations int
	Converged  bool
	FittedAt   time.Time
}

// Dimension reports the feature-space dimension of the centers.
func (m ClusterModel) Dimension() int {
	if len(m.Centers) == 0 {
		return 0
	}
	return len(m.Centers[0])
}

// FeatureVector is a fixed-length aggregate of one entity's records in one window.
type FeatureVector struct {
	EntityID          string
	Window            TimeWindow
	Values            []float64
	FeatureSetVersion string
}

// VerdictReason explains why a vector was flagged anomalous.
type VerdictReason string

const (
	ReasonNone          VerdictReason = "none"
	ReasonLowConfidence VerdictReason = "low_confidence" // fits no known pattern well
	ReasonOutOfEnvelope VerdictReason = "out_of_envelope"
)

// AnomalyVerdict is the scoring outcome for one feature vector. A re-score
// produces a new verdict, never an update. Severity is the nearest-center
// distance divided by the configured distance threshold, so verdicts are
// rankable: larger means farther from every trained pattern.
type AnomalyVerdict struct {
	EntityID     string
	Window       TimeWindow
	Memberships  []float64
	Anomalous    bool
	Reason       VerdictReason
	Severity     float64
	ModelVersion string
	ScoredAt     time.Time
}
