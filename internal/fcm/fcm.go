// Package fcm implements the fuzzy c-means clustering engine behind the
// anomaly classifier. Fit learns cluster centers from training vectors;
// Score evaluates one vector against a fitted model without moving centers.
// Every call is independent given its inputs; a fitted model is read-only
// and safe to share across concurrent Score calls.
package fcm

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"zentry-anomalies/internal/domain"
	"zentry-anomalies/internal/metrics"
)

// Params are the externally supplied fit parameters.
type Params struct {
	K             int
	M             float64 // fuzzifier, > 1
	Tolerance     float64 // max center movement that counts as converged
	MaxIterations int
	Seed          int64
}

// ScoreParams are the externally supplied anomaly thresholds.
type ScoreParams struct {
	// ConfidenceThreshold flags vectors whose best membership is below it:
	// the vector fits no known pattern well.
	ConfidenceThreshold float64
	// DistanceThreshold flags vectors whose nearest-center distance exceeds
	// it: the vector is outside the trained envelope. It also normalizes
	// severity.
	DistanceThreshold float64
}

// Engine is stateless between invocations; it holds only ambient wiring.
type Engine struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New builds an engine. Both arguments may be nil.
func New(logger *slog.Logger, m *metrics.Metrics) *Engine {
	return &Engine{logger: logger, metrics: m}
}

// Fit runs the fuzzy c-means alternation until the maximum center movement
// drops below Tolerance or MaxIterations is reached. Hitting the iteration
// cap is reported through Converged=false, not as an error.
//
// Seeding: the membership matrix is initialized from math/rand with the
// configured seed and rows normalized to sum to 1, so identical inputs and
// parameters reproduce identical centers.
//
// ctx is checked between iterations; cancellation returns ctx.Err() and the
// partial fit is discarded.
func (e *Engine) Fit(ctx context.Context, vectors []domain.FeatureVector, p Params) (domain.ClusterModel, error) {
	n := len(vectors)
	if n < p.K {
		return domain.ClusterModel{}, &domain.InsufficientSamplesError{Samples: n, K: p.K}
	}

	data := make([][]float64, n)
	dim := len(vectors[0].Values)
	for i, v := range vectors {
		if len(v.Values) != dim {
			return domain.ClusterModel{}, &domain.ValidationError{
				Index: i, Field: "values", Msg: "has inconsistent dimension",
			}
		}
		data[i] = v.Values
	}

	if allIdentical(data) {
		return domain.ClusterModel{}, &domain.DegenerateDataError{Samples: n}
	}

	rng := rand.New(rand.NewSource(p.Seed))
	u := initMemberships(rng, n, p.K)
	centers := make([][]float64, p.K)
	prev := make([][]float64, p.K)
	for j := 0; j < p.K; j++ {
		centers[j] = make([]float64, dim)
		prev[j] = make([]float64, dim)
	}

	exponent := 2.0 / (p.M - 1.0)
	converged := false
	iterations := 0

	for it := 0; it < p.MaxIterations; it++ {
		select {
		case <-ctx.Done():
			return domain.ClusterModel{}, ctx.Err()
		default:
		}

		iterations = it + 1
		for j := range centers {
			copy(prev[j], centers[j])
		}

		updateCenters(centers, data, u, p.M)
		updateMemberships(u, data, centers, exponent)

		if it > 0 && maxMovement(centers, prev) < p.Tolerance {
			converged = true
			break
		}
	}

	fittedAt := time.Now().UTC()
	model := domain.ClusterModel{
		Version:    fittedAt.Format(time.RFC3339Nano),
		Centers:    centers,
		M:          p.M,
		Tolerance:  p.Tolerance,
		Iterations: iterations,
		Converged:  converged,
		FittedAt:   fittedAt,
	}

	e.metrics.RecordFitIterations(iterations)
	if e.logger != nil {
		e.logger.Info("fit complete", "k", p.K, "samples", n,
			"iterations", iterations, "converged", converged)
	}
	return model, nil
}

// Score computes membership degrees of one vector against the model's fixed
// centers, using the same formula as Fit. Pure function of (model, vector).
//
// When both thresholds trip, the reported reason is low confidence; the
// out-of-envelope reason is reserved for vectors the model assigns to a
// cluster with confidence but that sit beyond the distance threshold.
func (e *Engine) Score(model domain.ClusterModel, vector domain.FeatureVector, sp ScoreParams) (domain.AnomalyVerdict, error) {
	dim := model.Dimension()
	if len(vector.Values) != dim {
		return domain.AnomalyVerdict{}, &domain.ModelDimensionMismatchError{
			ModelDim:  dim,
			VectorDim: len(vector.Values),
		}
	}

	exponent := 2.0 / (model.M - 1.0)
	memberships := make([]float64, len(model.Centers))
	distances := make([]float64, len(model.Centers))
	nearest := math.Inf(1)
	for j, center := range model.Centers {
		distances[j] = euclidean(vector.Values, center)
		if distances[j] < nearest {
			nearest = distances[j]
		}
	}
	membershipRow(memberships, distances, exponent)

	best := 0.0
	for _, m := range memberships {
		if m > best {
			best = m
		}
	}

	anomalous := false
	reason := domain.ReasonNone
	if best < sp.ConfidenceThreshold {
		anomalous = true
		reason = domain.ReasonLowConfidence
	} else if nearest > sp.DistanceThreshold {
		anomalous = true
		reason = domain.ReasonOutOfEnvelope
	}

	severity := nearest
	if sp.DistanceThreshold > 0 {
		severity = nearest / sp.DistanceThreshold
	}

	verdict := domain.AnomalyVerdict{
		EntityID:     vector.EntityID,
		Window:       vector.Window,
		Memberships:  memberships,
		Anomalous:    anomalous,
		Reason:       reason,
		Severity:     severity,
		ModelVersion: model.Version,
		ScoredAt:     time.Now().UTC(),
	}
	e.metrics.RecordVerdict(anomalous)
	return verdict, nil
}

// initMemberships draws a random membership matrix with normalized rows.
func initMemberships(rng *rand.Rand, n, k int) [][]float64 {
	u := make([][]float64, n)
	for i := range u {
		row := make([]float64, k)
		sum := 0.0
		for j := range row {
			// Offset keeps rows away from degenerate all-zero draws.
			row[j] = rng.Float64() + 1e-9
			sum += row[j]
		}
		for j := range row {
			row[j] /= sum
		}
		u[i] = row
	}
	return u
}

// updateCenters recomputes each center as the u^m-weighted centroid.
func updateCenters(centers, data, u [][]float64, m float64) {
	dim := len(centers[0])
	for j := range centers {
		for d := 0; d < dim; d++ {
			centers[j][d] = 0
		}
		weightSum := 0.0
		for i := range data {
			w := math.Pow(u[i][j], m)
			weightSum += w
			for d := 0; d < dim; d++ {
				centers[j][d] += w * data[i][d]
			}
		}
		if weightSum == 0 {
			continue
		}
		for d := 0; d < dim; d++ {
			centers[j][d] /= weightSum
		}
	}
}

// updateMemberships recomputes u from inverse distances raised to 2/(m-1).
func updateMemberships(u, data, centers [][]float64, exponent float64) {
	distances := make([]float64, len(centers))
	for i := range data {
		for j, center := range centers {
			distances[j] = euclidean(data[i], center)
		}
		membershipRow(u[i], distances, exponent)
	}
}

// membershipRow fills one membership row from center distances. A zero
// distance collapses the row to crisp membership in the coincident centers.
func membershipRow(row, distances []float64, exponent float64) {
	for _, d := range distances {
		if d == 0 {
			hits := 0
			for _, other := range distances {
				if other == 0 {
					hits++
				}
			}
			for j, other := range distances {
				if other == 0 {
					row[j] = 1.0 / float64(hits)
				} else {
					row[j] = 0
				}
			}
			return
		}
	}
	for j := range row {
		sum := 0.0
		for l := range distances {
			sum += math.Pow(distances[j]/distances[l], exponent)
		}
		row[j] = 1.0 / sum
	}
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

func maxMovement(centers, prev [][]float64) float64 {
	max := 0.0
	for j := range centers {
		for d := range centers[j] {
			if diff := math.Abs(centers[j][d] - prev[j][d]); diff > max {
				max = diff
			}
		}
	}
	return max
}

func allIdentical(data [][]float64) bool {
	first := data[0]
	for _, row := range data[1:] {
		for d := range row {
			if row[d] != first[d] {
				return false
			}
		}
	}
	return true
}
