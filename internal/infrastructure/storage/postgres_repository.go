// Package storage is the blocking relational adapter, used by the training
// pipeline where throughput is not critical. One statement at a time on the
// calling goroutine.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"zentry-anomalies/internal/domain"
	"zentry-anomalies/internal/ports"
)

// PostgresRepository persists readings, models and verdicts into Postgres.
type PostgresRepository struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.Repository = (*PostgresRepository)(nil)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// FetchRaw loads readings for the selector, ordered by entity and timestamp.
func (r *PostgresRepository) FetchRaw(ctx context.Context, sel ports.Selector) ([]domain.RawReading, error) {
	builder := r.sb.
		Select("entity_id", "ts", "quantities", "source", "seq").
		From("readings").
		Where(sq.GtOrEq{"ts": sel.From}).
		Where(sq.Lt{"ts": sel.To}).
		OrderBy("entity_id", "ts", "seq")
	if len(sel.EntityIDs) > 0 {
		builder = builder.Where(sq.Expr("entity_id = ANY(?)", pq.StringArray(sel.EntityIDs)))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build fetch query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ioErr("fetch readings", err)
	}
	defer rows.Close()

	var readings []domain.RawReading
	for rows.Next() {
		var (
			reading domain.RawReading
			raw     []byte
		)
		if err := rows.Scan(&reading.EntityID, &reading.Timestamp, &raw, &reading.Source, &reading.Seq); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		if err := json.Unmarshal(raw, &reading.Quantities); err != nil {
			return nil, fmt.Errorf("decode quantities: %w", err)
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("iterate readings", err)
	}

	return readings, nil
}

// SaveModel upserts the model keyed by version.
func (r *PostgresRepository) SaveModel(ctx context.Context, model domain.ClusterModel) (string, error) {
	centers, err := json.Marshal(model.Centers)
	if err != nil {
		return "", fmt.Errorf("encode centers: %w", err)
	}

	query, args, err := r.sb.
		Insert("models").
		Columns("version", "centers", "m", "tolerance", "iterations", "converged", "fitted_at").
		Values(model.Version, centers, model.M, model.Tolerance, model.Iterations, model.Converged, model.FittedAt).
		Suffix(`ON CONFLICT (version) DO UPDATE
                SET centers = EXCLUDED.centers,
                    m = EXCLUDED.m,
                    tolerance = EXCLUDED.tolerance,
                    iterations = EXCLUDED.iterations,
                    converged = EXCLUDED.converged,
                    fitted_at = EXCLUDED.fitted_at`).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build model upsert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return "", ioErr("save model", err)
	}
	return model.Version, nil
}

// LoadLatestModel returns the most recently fitted model.
func (r *PostgresRepository) LoadLatestModel(ctx context.Context) (domain.ClusterModel, error) {
	query, args, err := r.sb.
		Select("version", "centers", "m", "tolerance", "iterations", "converged", "fitted_at").
		From("models").
		OrderBy("fitted_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return domain.ClusterModel{}, fmt.Errorf("build model query: %w", err)
	}

	var (
		model   domain.ClusterModel
		centers []byte
	)
	row := r.db.QueryRowContext(ctx, query, args...)
	err = row.Scan(&model.Version, &centers, &model.M, &model.Tolerance, &model.Iterations, &model.Converged, &model.FittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ClusterModel{}, domain.ErrNoModelAvailable
	}
	if err != nil {
		return domain.ClusterModel{}, ioErr("load model", err)
	}
	if err := json.Unmarshal(centers, &model.Centers); err != nil {
		return domain.ClusterModel{}, fmt.Errorf("decode centers: %w", err)
	}
	return model, nil
}

// SaveVerdicts upserts the batch keyed by (entity, window start, model
// version) inside one transaction, so a cancelled run commits nothing.
// Verdicts are written in non-decreasing window order per entity.
func (r *PostgresRepository) SaveVerdicts(ctx context.Context, verdicts []domain.AnomalyVerdict) (int, error) {
	if len(verdicts) == 0 {
		return 0, nil
	}

	ordered := make([]domain.AnomalyVerdict, len(verdicts))
	copy(ordered, verdicts)
	sortVerdicts(ordered)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, ioErr("begin verdicts tx", err)
	}
	defer tx.Rollback()

	for _, v := range ordered {
		memberships, mErr := json.Marshal(v.Memberships)
		if mErr != nil {
			return 0, fmt.Errorf("encode memberships: %w", mErr)
		}

		query, args, bErr := r.sb.
			Insert("verdicts").
			Columns("entity_id", "window_start", "window_width_seconds", "model_version",
				"memberships", "anomalous", "reason", "severity", "scored_at").
			Values(v.EntityID, v.Window.Start, int64(v.Window.Width.Seconds()), v.ModelVersion,
				memberships, v.Anomalous, string(v.Reason), v.Severity, v.ScoredAt).
			Suffix(`ON CONFLICT (entity_id, window_start, model_version) DO UPDATE
                    SET memberships = EXCLUDED.memberships,
                        anomalous = EXCLUDED.anomalous,
                        reason = EXCLUDED.reason,
                        severity = EXCLUDED.severity,
                        scored_at = EXCLUDED.scored_at`).
			ToSql()
		if bErr != nil {
			return 0, fmt.Errorf("build verdict upsert: %w", bErr)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, ioErr("save verdict", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, ioErr("commit verdicts", err)
	}
	return len(ordered), nil
}

func sortVerdicts(verdicts []domain.AnomalyVerdict) {
	sort.SliceStable(verdicts, func(i, j int) bool {
		if verdicts[i].EntityID != verdicts[j].EntityID {
			return verdicts[i].EntityID < verdicts[j].EntityID
		}
		return verdicts[i].Window.Start.Before(verdicts[j].Window.Start)
	})
}

func ioErr(op string, err error) error {
	kind := domain.IOConnection
	if errors.Is(err, context.DeadlineExceeded) {
		kind = domain.IOTimeout
	}
	return &domain.AdapterIOError{Op: op, Kind: kind, Err: err}
}
