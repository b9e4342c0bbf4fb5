package cleaning

import (
	"errors"
	"testing"
	"time"

	"zentry-anomalies/internal/config"
	"zentry-anomalies/internal/domain"
)

func testConfig() config.CleaningConfig {
	return config.CleaningConfig{
		Bounds:     map[string]config.FieldBounds{"consumption": {Min: 0, Max: 1000}},
		Imputation: "last",
	}
}

func reading(entity string, ts time.Time, seq int64, consumption float64) domain.RawReading {
	return domain.RawReading{
		EntityID:   entity,
		Timestamp:  ts,
		Quantities: map[string]float64{"consumption": consumption},
		Source:     "test",
		Seq:        seq,
	}
}

func TestCleanDuplicateTimestamps(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	raw := []domain.RawReading{
		reading("meter-1", base, 1, 10),
		reading("meter-1", base.Add(time.Minute), 2, 11),
		reading("meter-1", base.Add(2*time.Minute), 3, 12),
		reading("meter-1", base.Add(time.Minute), 4, 99), // duplicate, arrives later
		reading("meter-2", base, 5, 20),
	}

	svc := New(testConfig(), nil)
	records, report, err := svc.Clean(raw)
	if err != nil {
		t.Fatalf("Clean returned error: %v", err)
	}

	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	if report.Dropped != 1 {
		t.Fatalf("expected 1 dropped, got %d", report.Dropped)
	}
	if report.OK+report.Imputed != 4 {
		t.Fatalf("expected 4 surviving records, got %d", report.OK+report.Imputed)
	}

	// The later arrival must be the one kept.
	for _, rec := range records {
		if rec.EntityID == "meter-1" && rec.Timestamp.Equal(base.Add(time.Minute)) && rec.Status != domain.StatusDropped {
			if got := rec.Quantities["consumption"]; got != 99 {
				t.Fatalf("expected later arrival (99) to win, got %v", got)
			}
		}
	}
}

func TestCleanOutOfBoundsImputed(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	raw := []domain.RawReading{
		reading("meter-1", base, 1, 50),
		reading("meter-1", base.Add(time.Minute), 2, 5000), // above physical bounds
	}

	svc := New(testConfig(), nil)
	records, report, err := svc.Clean(raw)
	if err != nil {
		t.Fatalf("Clean returned error: %v", err)
	}

	if report.Imputed != 1 {
		t.Fatalf("expected 1 imputed, got %d", report.Imputed)
	}
	last := records[1]
	if last.Status != domain.StatusImputed {
		t.Fatalf("expected imputed status, got %s", last.Status)
	}
	if got := last.Quantities["consumption"]; got != 50 {
		t.Fatalf("expected last known value 50, got %v", got)
	}
}

func TestCleanNoImputationSourceDrops(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	raw := []domain.RawReading{
		{EntityID: "meter-1", Timestamp: base, Quantities: map[string]float64{}, Seq: 1},
	}

	svc := New(testConfig(), nil)
	records, report, err := svc.Clean(raw)
	if err != nil {
		t.Fatalf("Clean returned error: %v", err)
	}

	if report.Dropped != 1 {
		t.Fatalf("expected 1 dropped, got %d", report.Dropped)
	}
	if records[0].Quantities != nil {
		t.Fatalf("dropped record must carry no quantities")
	}
}

func TestCleanDropStrategy(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Imputation = "drop"
	base := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	raw := []domain.RawReading{
		reading("meter-1", base, 1, 50),
		reading("meter-1", base.Add(time.Minute), 2, -10), // below bounds
	}

	svc := New(cfg, nil)
	_, report, err := svc.Clean(raw)
	if err != nil {
		t.Fatalf("Clean returned error: %v", err)
	}
	if report.Dropped != 1 || report.OK != 1 {
		t.Fatalf("expected 1 ok and 1 dropped, got ok=%d dropped=%d", report.OK, report.Dropped)
	}
}

func TestCleanMalformedRecordsReported(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	raw := []domain.RawReading{
		reading("meter-1", base, 1, 50),
		{EntityID: "", Timestamp: base, Seq: 2},               // missing entity id
		{EntityID: "meter-2", Timestamp: time.Time{}, Seq: 3}, // zero timestamp
	}

	svc := New(testConfig(), nil)
	records, report, err := svc.Clean(raw)
	if err != nil {
		t.Fatalf("one good record should not fail the batch: %v", err)
	}
	if len(report.Malformed) != 2 {
		t.Fatalf("expected 2 malformed, got %d", len(report.Malformed))
	}
	var vErr *domain.ValidationError
	if !errors.As(report.Malformed[0], &vErr) {
		t.Fatalf("expected ValidationError, got %T", report.Malformed[0])
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 surviving record, got %d", len(records))
	}
}

func TestCleanAllMalformedFails(t *testing.T) {
	t.Parallel()

	raw := []domain.RawReading{
		{EntityID: "", Timestamp: time.Now()},
	}

	svc := New(testConfig(), nil)
	_, _, err := svc.Clean(raw)
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for fully malformed batch, got %v", err)
	}
}
