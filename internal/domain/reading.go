package domain

import "time"

// RawReading is a single telemetry sample as delivered by an ingestion adapter.
// Immutable once created; discarded after cleaning.
type RawReading struct {
	EntityID   string
	Timestamp  time.Time
	Quantities map[string]float64
	Source     string
	Seq        int64 // arrival order, resolves duplicate timestamps
}

// CleaningStatus attributes a cleaned record to sensor repair or exclusion.
type CleaningStatus string

const (
	StatusOK      CleaningStatus = "ok"
	StatusImputed CleaningStatus = "imputed"
	StatusDropped CleaningStatus = "dropped"
)

// CleanedRecord is the post-cleaning view of exactly one RawReading.
// A dropped record carries no quantities and never reaches featurization.
type CleanedRecord struct {
	EntityID   string
	Timestamp  time.Time
	Status     CleaningStatus
	Quantities map[string]float64
	Reason     string
	Source     string
}

// TimeWindow is a fixed-width aggregation bucket aligned to the Unix epoch.
type TimeWindow struct {
	Start time.Time
	Width time.Duration
}

var epoch = time.Unix(0, 0)

// WindowFor buckets a timestamp into its epoch-aligned window. Window starts
// are whole multiples of width counted from the Unix epoch, including widths
// that do not divide a day evenly.
func WindowFor(ts time.Time, width time.Duration) TimeWindow {
	offset := ts.Sub(epoch) % width
	if offset < 0 {
		offset += width
	}
	// Round(0) strips the monotonic reading so equal windows compare equal.
	return TimeWindow{Start: ts.Add(-offset).Round(0), Width: width}
}

// End is the exclusive upper bound of the window.
func (w TimeWindow) End() time.Time {
	return w.Start.Add(w.Width)
}
