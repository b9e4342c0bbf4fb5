package cleaning

import (
	"fmt"
	"log/slog"
	"sort"

	"zentry-anomalies/internal/config"
	"zentry-anomalies/internal/domain"
)

// Drop/imputation reasons attached to records for downstream auditing.
const (
	reasonDuplicateTimestamp = "duplicate timestamp, later arrival kept"
	reasonNoImputationSource = "missing value with no prior observation"
	reasonDropStrategy       = "missing value, drop strategy configured"
)

// Report attributes every cleaning outcome so audits can separate sensor
// failure from model behavior.
type Report struct {
	Total     int
	OK        int
	Imputed   int
	Dropped   int
	Reasons   map[string]int
	Malformed []error
}

// Service validates and repairs raw readings. It performs no I/O; the only
// output is the returned records and report.
type Service struct {
	cfg    config.CleaningConfig
	logger *slog.Logger
}

// New builds a cleaning service from external configuration. Logger may be nil.
func New(cfg config.CleaningConfig, logger *slog.Logger) *Service {
	return &Service{cfg: cfg, logger: logger}
}

// Clean turns raw readings into cleaned records. Structurally malformed
// readings are excluded and reported per record; Clean fails outright only
// when no reading in a non-empty batch is usable.
func (s *Service) Clean(raw []domain.RawReading) ([]domain.CleanedRecord, Report, error) {
	report := Report{Total: len(raw), Reasons: map[string]int{}}

	valid := make([]domain.RawReading, 0, len(raw))
	for i, r := range raw {
		if err := validate(i, r); err != nil {
			report.Malformed = append(report.Malformed, err)
			continue
		}
		valid = append(valid, r)
	}
	if len(raw) > 0 && len(valid) == 0 {
		return nil, report, fmt.Errorf("clean batch: %w", report.Malformed[0])
	}

	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].EntityID != valid[j].EntityID {
			return valid[i].EntityID < valid[j].EntityID
		}
		if !valid[i].Timestamp.Equal(valid[j].Timestamp) {
			return valid[i].Timestamp.Before(valid[j].Timestamp)
		}
		return valid[i].Seq < valid[j].Seq
	})

	records := make([]domain.CleanedRecord, 0, len(valid))
	lastKnown := map[string]map[string]float64{}

	for i, r := range valid {
		// Duplicate (entity, timestamp): the latest arrival wins, the rest
		// are dropped. Sorting placed the winner last in its group.
		if i+1 < len(valid) && sameKey(r, valid[i+1]) {
			records = append(records, dropped(r, reasonDuplicateTimestamp))
			report.Reasons[reasonDuplicateTimestamp]++
			continue
		}

		rec, reason := s.repair(r, lastKnown)
		records = append(records, rec)
		if reason != "" {
			report.Reasons[reason]++
		}
	}

	for _, rec := range records {
		switch rec.Status {
		case domain.StatusOK:
			report.OK++
		case domain.StatusImputed:
			report.Imputed++
		case domain.StatusDropped:
			report.Dropped++
		}
	}

	s.debug("cleaning done", "total", report.Total, "ok", report.OK,
		"imputed", report.Imputed, "dropped", report.Dropped, "malformed", len(report.Malformed))
	return records, report, nil
}

// repair applies bounds checks and the configured imputation strategy to one
// reading. lastKnown is updated with in-bounds observations per entity/field.
func (s *Service) repair(r domain.RawReading, lastKnown map[string]map[string]float64) (domain.CleanedRecord, string) {
	quantities := make(map[string]float64, len(r.Quantities))
	for field, value := range r.Quantities {
		if bounds, ok := s.cfg.Bounds[field]; ok {
			if value < bounds.Min || value > bounds.Max {
				continue // out of physical bounds: treated as missing
			}
		}
		quantities[field] = value
	}

	known := lastKnown[r.EntityID]
	if known == nil {
		known = map[string]float64{}
		lastKnown[r.EntityID] = known
	}

	imputed := false
	for field := range s.cfg.Bounds {
		if _, ok := quantities[field]; ok {
			continue
		}
		if s.cfg.Imputation == "drop" {
			return dropped(r, reasonDropStrategy), reasonDropStrategy
		}
		prior, ok := known[field]
		if !ok {
			return dropped(r, reasonNoImputationSource), reasonNoImputationSource
		}
		quantities[field] = prior
		imputed = true
	}

	for field, value := range quantities {
		known[field] = value
	}

	status := domain.StatusOK
	reason := ""
	if imputed {
		status = domain.StatusImputed
		reason = "imputed from last known value"
	}
	return domain.CleanedRecord{
		EntityID:   r.EntityID,
		Timestamp:  r.Timestamp,
		Status:     status,
		Quantities: quantities,
		Reason:     reason,
		Source:     r.Source,
	}, reason
}

func validate(index int, r domain.RawReading) error {
	if r.EntityID == "" {
		return &domain.ValidationError{Index: index, Field: "entity_id", Msg: "is empty"}
	}
	if r.Timestamp.IsZero() {
		return &domain.ValidationError{Index: index, Field: "timestamp", Msg: "is zero"}
	}
	return nil
}

func sameKey(a, b domain.RawReading) bool {
	return a.EntityID == b.EntityID && a.Timestamp.Equal(b.Timestamp)
}

func dropped(r domain.RawReading, reason string) domain.CleanedRecord {
	return domain.CleanedRecord{
		EntityID:  r.EntityID,
		Timestamp: r.Timestamp,
		Status:    domain.StatusDropped,
		Reason:    reason,
		Source:    r.Source,
	}
}

func (s *Service) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
