package features

import (
	"errors"
	"math"
	"testing"
	"time"

	"zentry-anomalies/internal/config"
	"zentry-anomalies/internal/domain"
)

func testConfig() config.FeatureConfig {
	return config.FeatureConfig{
		Window:     15 * time.Minute,
		MinRecords: 3,
		Quantity:   "consumption",
		Names:      []string{"mean", "stddev", "range", "rate"},
	}
}

func record(entity string, ts time.Time, value float64) domain.CleanedRecord {
	return domain.CleanedRecord{
		EntityID:   entity,
		Timestamp:  ts,
		Status:     domain.StatusOK,
		Quantities: map[string]float64{"consumption": value},
	}
}

func TestNewRejectsUnknownFeature(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Names = []string{"mean", "kurtosis"}
	if _, err := New(cfg, nil); err == nil {
		t.Fatalf("expected error for unknown feature name")
	}
}

func TestFeaturizeFixedDimension(t *testing.T) {
	t.Parallel()

	svc, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	base := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	var records []domain.CleanedRecord
	for i := 0; i < 6; i++ {
		records = append(records, record("meter-1", base.Add(time.Duration(i)*2*time.Minute), float64(10+i)))
	}
	for i := 0; i < 4; i++ {
		records = append(records, record("meter-2", base.Add(time.Duration(i)*3*time.Minute), 5))
	}

	vectors, report, err := svc.Featurize(records)
	if err != nil {
		t.Fatalf("Featurize returned error: %v", err)
	}
	if len(vectors) == 0 {
		t.Fatalf("expected vectors, got none")
	}
	for _, v := range vectors {
		if len(v.Values) != 4 {
			t.Fatalf("expected 4 features, got %d", len(v.Values))
		}
		for i, value := range v.Values {
			if math.IsNaN(value) || math.IsInf(value, 0) {
				t.Fatalf("feature %d is undefined: %v", i, value)
			}
		}
		if v.FeatureSetVersion != svc.Version() {
			t.Fatalf("unexpected feature set version %s", v.FeatureSetVersion)
		}
	}
	if report.Vectors != len(vectors) {
		t.Fatalf("report.Vectors=%d, len(vectors)=%d", report.Vectors, len(vectors))
	}
}

func TestFeaturizeStatistics(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Names = []string{"mean", "min", "max", "range", "count"}
	svc, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	base := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	records := []domain.CleanedRecord{
		record("meter-1", base.Add(1*time.Minute), 10),
		record("meter-1", base.Add(5*time.Minute), 20),
		record("meter-1", base.Add(9*time.Minute), 30),
	}

	vectors, _, err := svc.Featurize(records)
	if err != nil {
		t.Fatalf("Featurize returned error: %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("expected 1 vector, got %d", len(vectors))
	}

	want := []float64{20, 10, 30, 20, 3}
	for i, w := range want {
		if got := vectors[0].Values[i]; math.Abs(got-w) > 1e-9 {
			t.Fatalf("feature %d: want %v, got %v", i, w, got)
		}
	}
}

func TestFeaturizeExcludesSparseWindows(t *testing.T) {
	t.Parallel()

	svc, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	base := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	records := []domain.CleanedRecord{
		record("meter-1", base, 10),
		record("meter-1", base.Add(time.Minute), 11), // only 2 in window, min is 3
	}

	vectors, report, err := svc.Featurize(records)
	if err != nil {
		t.Fatalf("Featurize returned error: %v", err)
	}
	if len(vectors) != 0 {
		t.Fatalf("expected no vectors for sparse window, got %d", len(vectors))
	}
	if report.ExcludedWindows != 1 {
		t.Fatalf("expected 1 excluded window, got %d", report.ExcludedWindows)
	}
	if len(report.Insufficient) != 1 {
		t.Fatalf("expected 1 insufficient entity, got %d", len(report.Insufficient))
	}
	var insufficientErr *domain.InsufficientDataError
	if !errors.As(report.Insufficient[0], &insufficientErr) {
		t.Fatalf("expected InsufficientDataError, got %T", report.Insufficient[0])
	}
}

func TestFeaturizeExcludesDroppedRecords(t *testing.T) {
	t.Parallel()

	svc, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	base := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	records := []domain.CleanedRecord{
		record("meter-1", base, 10),
		record("meter-1", base.Add(time.Minute), 11),
		record("meter-1", base.Add(2*time.Minute), 12),
		{EntityID: "meter-1", Timestamp: base.Add(3 * time.Minute), Status: domain.StatusDropped},
	}

	vectors, _, err := svc.Featurize(records)
	if err != nil {
		t.Fatalf("Featurize returned error: %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("expected 1 vector, got %d", len(vectors))
	}
	// count would have been 4 if the dropped record leaked in
	cfg := testConfig()
	cfg.Names = []string{"count"}
	countSvc, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	countVectors, _, err := countSvc.Featurize(records)
	if err != nil {
		t.Fatalf("Featurize returned error: %v", err)
	}
	if got := countVectors[0].Values[0]; got != 3 {
		t.Fatalf("expected 3 aggregated records, got %v", got)
	}
}

func TestFeaturizeDeterministicOrdering(t *testing.T) {
	t.Parallel()

	svc, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	base := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	var records []domain.CleanedRecord
	for _, entity := range []string{"meter-2", "meter-1"} {
		for i := 0; i < 3; i++ {
			records = append(records, record(entity, base.Add(time.Duration(i)*time.Minute), float64(i)))
		}
	}

	first, _, err := svc.Featurize(records)
	if err != nil {
		t.Fatalf("Featurize returned error: %v", err)
	}
	second, _, err := svc.Featurize(records)
	if err != nil {
		t.Fatalf("Featurize returned error: %v", err)
	}

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected 2 vectors per run, got %d and %d", len(first), len(second))
	}
	if first[0].EntityID != "meter-1" || first[1].EntityID != "meter-2" {
		t.Fatalf("expected entity-sorted output, got %s then %s", first[0].EntityID, first[1].EntityID)
	}
	for i := range first {
		for j := range first[i].Values {
			if first[i].Values[j] != second[i].Values[j] {
				t.Fatalf("runs disagree at vector %d feature %d", i, j)
			}
		}
	}
}
