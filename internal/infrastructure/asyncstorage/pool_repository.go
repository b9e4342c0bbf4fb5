// Package asyncstorage is the non-blocking relational adapter, used where
// overlapping I/O matters (high-volume inference). It issues multiple
// outstanding operations on a pgx connection pool; per-entity write ordering
// is preserved, ordering across entities is not.
//
// Unlike the blocking adapter, SaveVerdicts is not a single transaction:
// each entity commits independently, so an aborted batch can leave some
// entities persisted and others not. Upserts keep a retry of the same batch
// idempotent; callers needing all-or-nothing batches use the sync adapter.
package asyncstorage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"zentry-anomalies/internal/domain"
	"zentry-anomalies/internal/ports"
)

const defaultSaveConcurrency = 4

// PoolRepository persists readings, models and verdicts through a pgx pool.
type PoolRepository struct {
	pool        *pgxpool.Pool
	concurrency int
}

var _ ports.Repository = (*PoolRepository)(nil)

// New connects a pool for the given DSN. Close releases it.
func New(ctx context.Context, dsn string) (*PoolRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, ioErr("connect pool", err)
	}
	return NewWithPool(pool), nil
}

// NewWithPool wires an existing pool.
func NewWithPool(pool *pgxpool.Pool) *PoolRepository {
	concurrency := defaultSaveConcurrency
	if pool != nil && int(pool.Config().MaxConns) < concurrency {
		concurrency = int(pool.Config().MaxConns)
	}
	return &PoolRepository{pool: pool, concurrency: concurrency}
}

// Close releases the underlying pool.
func (r *PoolRepository) Close() {
	r.pool.Close()
}

// FetchRaw loads readings for the selector, ordered by entity and timestamp.
func (r *PoolRepository) FetchRaw(ctx context.Context, sel ports.Selector) ([]domain.RawReading, error) {
	query := `SELECT entity_id, ts, quantities, source, seq
              FROM readings
              WHERE ts >= $1 AND ts < $2`
	args := []any{sel.From, sel.To}
	if len(sel.EntityIDs) > 0 {
		query += ` AND entity_id = ANY($3)`
		args = append(args, sel.EntityIDs)
	}
	query += ` ORDER BY entity_id, ts, seq`

	rows, err := r.pool.Query(ctx, query, args...)
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
func (r *PoolRepository) SaveModel(ctx context.Context, model domain.ClusterModel) (string, error) {
	centers, err := json.Marshal(model.Centers)
	if err != nil {
		return "", fmt.Errorf("encode centers: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO models (version, centers, m, tolerance, iterations, converged, fitted_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7)
         ON CONFLICT (version) DO UPDATE
         SET centers = EXCLUDED.centers,
             m = EXCLUDED.m,
             tolerance = EXCLUDED.tolerance,
             iterations = EXCLUDED.iterations,
             converged = EXCLUDED.converged,
             fitted_at = EXCLUDED.fitted_at`,
		model.Version, centers, model.M, model.Tolerance, model.Iterations, model.Converged, model.FittedAt)
	if err != nil {
		return "", ioErr("save model", err)
	}
	return model.Version, nil
}

// LoadLatestModel returns the most recently fitted model.
func (r *PoolRepository) LoadLatestModel(ctx context.Context) (domain.ClusterModel, error) {
	var (
		model   domain.ClusterModel
		centers []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT version, centers, m, tolerance, iterations, converged, fitted_at
         FROM models ORDER BY fitted_at DESC LIMIT 1`).
		Scan(&model.Version, &centers, &model.M, &model.Tolerance, &model.Iterations, &model.Converged, &model.FittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
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

// SaveVerdicts groups the batch by entity and saves entities concurrently.
// Each entity's verdicts go through one transaction in window order, so an
// ordering-sensitive consumer never observes an entity's windows out of
// sequence and cancellation never leaves an entity half-written.
func (r *PoolRepository) SaveVerdicts(ctx context.Context, verdicts []domain.AnomalyVerdict) (int, error) {
	if len(verdicts) == 0 {
		return 0, nil
	}

	byEntity := map[string][]domain.AnomalyVerdict{}
	for _, v := range verdicts {
		byEntity[v.EntityID] = append(byEntity[v.EntityID], v)
	}

	var persisted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, group := range byEntity {
		group := group
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Window.Start.Before(group[j].Window.Start)
		})
		g.Go(func() error {
			if err := r.saveEntityVerdicts(gctx, group); err != nil {
				return err
			}
			persisted.Add(int64(len(group)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(persisted.Load()), err
	}
	return int(persisted.Load()), nil
}

func (r *PoolRepository) saveEntityVerdicts(ctx context.Context, verdicts []domain.AnomalyVerdict) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return ioErr("begin verdicts tx", err)
	}
	defer tx.Rollback(ctx)

	for _, v := range verdicts {
		memberships, mErr := json.Marshal(v.Memberships)
		if mErr != nil {
			return fmt.Errorf("encode memberships: %w", mErr)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO verdicts (entity_id, window_start, window_width_seconds, model_version,
                                   memberships, anomalous, reason, severity, scored_at)
             VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
             ON CONFLICT (entity_id, window_start, model_version) DO UPDATE
             SET memberships = EXCLUDED.memberships,
                 anomalous = EXCLUDED.anomalous,
                 reason = EXCLUDED.reason,
                 severity = EXCLUDED.severity,
                 scored_at = EXCLUDED.scored_at`,
			v.EntityID, v.Window.Start, int64(v.Window.Width.Seconds()), v.ModelVersion,
			memberships, v.Anomalous, string(v.Reason), v.Severity, v.ScoredAt)
		if err != nil {
			return ioErr("save verdict", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return ioErr("commit verdicts", err)
	}
	return nil
}

func ioErr(op string, err error) error {
	kind := domain.IOConnection
	if errors.Is(err, context.DeadlineExceeded) {
		kind = domain.IOTimeout
	}
	return &domain.AdapterIOError{Op: op, Kind: kind, Err: err}
}
