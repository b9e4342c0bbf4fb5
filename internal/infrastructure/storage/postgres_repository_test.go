package storage

import (
	"testing"
	"time"

	"zentry-anomalies/internal/domain"
)

func TestSortVerdictsPerEntityWindowOrder(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	window := func(offset int) domain.TimeWindow {
		return domain.TimeWindow{Start: base.Add(time.Duration(offset) * 15 * time.Minute), Width: 15 * time.Minute}
	}

	verdicts := []domain.AnomalyVerdict{
		{EntityID: "meter-2", Window: window(1)},
		{EntityID: "meter-1", Window: window(2)},
		{EntityID: "meter-2", Window: window(0)},
		{EntityID: "meter-1", Window: window(0)},
	}

	sortVerdicts(verdicts)

	var lastEntity string
	var lastStart time.Time
	for i, v := range verdicts {
		if v.EntityID == lastEntity && v.Window.Start.Before(lastStart) {
			t.Fatalf("verdict %d out of window order for %s", i, v.EntityID)
		}
		if v.EntityID != lastEntity {
			lastEntity = v.EntityID
			lastStart = time.Time{}
		}
		lastStart = v.Window.Start
	}
	if verdicts[0].EntityID != "meter-1" || !verdicts[0].Window.Start.Equal(window(0).Start) {
		t.Fatalf("unexpected first verdict: %s %v", verdicts[0].EntityID, verdicts[0].Window.Start)
	}
}
