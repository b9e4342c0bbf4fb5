package features

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"zentry-anomalies/internal/config"
	"zentry-anomalies/internal/domain"
)

// sample is one record's contribution to a window aggregate.
type sample struct {
	at    int64 // unix seconds
	value float64
}

// statistic computes one named feature over a window's samples, given the
// window width in seconds. Samples are ordered by time and never empty.
type statistic func(samples []sample, windowSeconds float64) float64

// registry maps feature names usable in configuration to their statistics.
// The order of features in a vector is the configuration order, never the
// registry's.
var registry = map[string]statistic{
	"mean":   statMean,
	"stddev": statStddev,
	"min":    statMin,
	"max":    statMax,
	"range":  statRange,
	"rate":   statRate,
	"count":  func(s []sample, _ float64) float64 { return float64(len(s)) },
}

// Report summarizes one featurization pass. Insufficient holds the
// per-entity InsufficientDataError values; they skip the entity, not the run.
type Report struct {
	Vectors         int
	ExcludedWindows int
	Insufficient    []error
}

// Service derives fixed-dimension feature vectors from cleaned records.
type Service struct {
	cfg     config.FeatureConfig
	version string
	logger  *slog.Logger
}

// New validates the configured feature names against the registry.
func New(cfg config.FeatureConfig, logger *slog.Logger) (*Service, error) {
	if len(cfg.Names) == 0 {
		return nil, fmt.Errorf("feature set is empty")
	}
	for _, name := range cfg.Names {
		if _, ok := registry[name]; !ok {
			return nil, fmt.Errorf("unknown feature %q", name)
		}
	}
	version := strings.Join(cfg.Names, ",") + "@" + cfg.Window.String()
	return &Service{cfg: cfg, version: version, logger: logger}, nil
}

// Version identifies the active feature set; vectors carry it so a model is
// only ever scored against vectors built the same way.
func (s *Service) Version() string {
	return s.version
}

// Featurize groups records by entity and fixed-width window and computes the
// configured statistics over the configured quantity. Dropped records are
// excluded; windows below the minimum record count are excluded whole rather
// than producing a partially populated vector. Output ordering is
// deterministic: by entity, then window start.
func (s *Service) Featurize(records []domain.CleanedRecord) ([]domain.FeatureVector, Report, error) {
	report := Report{}

	grouped := map[string]map[domain.TimeWindow][]sample{}
	for _, rec := range records {
		if rec.Status == domain.StatusDropped {
			continue
		}
		value, ok := rec.Quantities[s.cfg.Quantity]
		if !ok {
			continue
		}
		window := domain.WindowFor(rec.Timestamp, s.cfg.Window)
		byWindow := grouped[rec.EntityID]
		if byWindow == nil {
			byWindow = map[domain.TimeWindow][]sample{}
			grouped[rec.EntityID] = byWindow
		}
		byWindow[window] = append(byWindow[window], sample{at: rec.Timestamp.Unix(), value: value})
	}

	entities := make([]string, 0, len(grouped))
	for entity := range grouped {
		entities = append(entities, entity)
	}
	sort.Strings(entities)

	windowSeconds := s.cfg.Window.Seconds()
	var vectors []domain.FeatureVector
	for _, entity := range entities {
		byWindow := grouped[entity]

		windows := make([]domain.TimeWindow, 0, len(byWindow))
		for w := range byWindow {
			windows = append(windows, w)
		}
		sort.Slice(windows, func(i, j int) bool { return windows[i].Start.Before(windows[j].Start) })

		produced := 0
		for _, w := range windows {
			samples := byWindow[w]
			if len(samples) < s.cfg.MinRecords {
				report.ExcludedWindows++
				continue
			}
			sort.Slice(samples, func(i, j int) bool { return samples[i].at < samples[j].at })

			values := make([]float64, len(s.cfg.Names))
			defined := true
			for i, name := range s.cfg.Names {
				v := registry[name](samples, windowSeconds)
				if math.IsNaN(v) || math.IsInf(v, 0) {
					defined = false
					break
				}
				values[i] = v
			}
			if !defined {
				report.ExcludedWindows++
				continue
			}

			vectors = append(vectors, domain.FeatureVector{
				EntityID:          entity,
				Window:            w,
				Values:            values,
				FeatureSetVersion: s.version,
			})
			produced++
		}

		if produced == 0 {
			report.Insufficient = append(report.Insufficient,
				&domain.InsufficientDataError{EntityID: entity, Min: s.cfg.MinRecords})
		}
	}

	report.Vectors = len(vectors)
	s.debug("featurization done", "vectors", report.Vectors,
		"excluded_windows", report.ExcludedWindows, "insufficient_entities", len(report.Insufficient))
	return vectors, report, nil
}

func statMean(samples []sample, _ float64) float64 {
	sum := 0.0
	for _, s := range samples {
		sum += s.value
	}
	return sum / float64(len(samples))
}

// statStddev is the population standard deviation; a single-sample window
// yields 0, not NaN.
func statStddev(samples []sample, w float64) float64 {
	mean := statMean(samples, w)
	variance := 0.0
	for _, s := range samples {
		diff := s.value - mean
		variance += diff * diff
	}
	return math.Sqrt(variance / float64(len(samples)))
}

func statMin(samples []sample, _ float64) float64 {
	min := samples[0].value
	for _, s := range samples[1:] {
		if s.value < min {
			min = s.value
		}
	}
	return min
}

func statMax(samples []sample, _ float64) float64 {
	max := samples[0].value
	for _, s := range samples[1:] {
		if s.value > max {
			max = s.value
		}
	}
	return max
}

// statRange is the peak-to-trough spread inside the window.
func statRange(samples []sample, w float64) float64 {
	return statMax(samples, w) - statMin(samples, w)
}

// statRate is the net change over the window, per second of window width.
func statRate(samples []sample, windowSeconds float64) float64 {
	return (samples[len(samples)-1].value - samples[0].value) / windowSeconds
}

func (s *Service) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
