package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"bloomrisk/internal/models"
	"bloomrisk/pkg/database"
	"bloomrisk/pkg/logging"
	"bloomrisk/pkg/metrics"
)

// ObservationRepository stores long-format observations per snapshot
type ObservationRepository interface {
	ReplaceSnapshot(ctx context.Context, snapshotID string, observations []*models.Observation) (int, error)
	Load(ctx context.Context, filter ObservationFilter) ([]*models.Observation, error)
	Snapshots(ctx context.Context) ([]SnapshotSummary, error)
	HealthCheck(ctx context.Context) error
}

// ObservationFilter narrows a Load; zero fields do not filter
type ObservationFilter struct {
	SnapshotID *string
	SiteIDs    []string
	AnalyteIDs []string
	From       *time.Time
	To         *time.Time
}

// SnapshotSummary describes one stored snapshot
type SnapshotSummary struct {
	SnapshotID string    `json:"snapshot_id" db:"snapshot_id"`
	Rows       int       `json:"rows" db:"rows"`
	Sites      int       `json:"sites" db:"sites"`
	FirstTime  time.Time `json:"first_time" db:"first_time"`
	LastTime   time.Time `json:"last_time" db:"last_time"`
}

const observationColumns = "id, phenomenon_time, site_id, analyte_id, value, unit, snapshot_id, created_at"

type observationRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewObservationRepository creates a repository backed by db
func NewObservationRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) ObservationRepository {
	return &observationRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ReplaceSnapshot deletes any rows of snapshotID and bulk-copies the new
// ones in a single transaction, so reloading a snapshot is idempotent
func (r *observationRepository) ReplaceSnapshot(ctx context.Context, snapshotID string, observations []*models.Observation) (int, error) {
	start := time.Now()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM observations WHERE snapshot_id = $1`, snapshotID)
	if err != nil {
		r.metrics.RecordDBError("delete_error")
		return 0, fmt.Errorf("failed to clear snapshot %s: %w", snapshotID, err)
	}
	replaced, _ := res.RowsAffected()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("observations",
		"phenomenon_time", "site_id", "analyte_id", "value", "unit", "snapshot_id", "created_at"))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare copy: %w", err)
	}

	now := time.Now().UTC()
	for _, obs := range observations {
		if _, err := stmt.ExecContext(ctx, obs.PhenomenonTime, obs.SiteID, obs.AnalyteID, obs.Value, obs.Unit, snapshotID, now); err != nil {
			stmt.Close()
			r.metrics.RecordDBError("copy_error")
			return 0, fmt.Errorf("failed to copy observation: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		r.metrics.RecordDBError("copy_error")
		return 0, fmt.Errorf("failed to flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("failed to close copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.DBRowsLoaded.Add(float64(len(observations)))
	r.logger.Info(ctx, "[REPO_REPLACE_SNAPSHOT] Snapshot loaded", logging.Fields{
		"snapshot_id": snapshotID,
		"rows":        len(observations),
		"replaced":    replaced,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return len(observations), nil
}

// Load returns observations ordered by time, site and analyte
func (r *observationRepository) Load(ctx context.Context, filter ObservationFilter) ([]*models.Observation, error) {
	query, args := buildLoadQuery(filter)

	var observations []*models.Observation
	if err := r.db.SelectContext(ctx, "load_observations", &observations, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load observations: %w", err)
	}
	return observations, nil
}

// Snapshots summarises stored snapshots, newest id first
func (r *observationRepository) Snapshots(ctx context.Context) ([]SnapshotSummary, error) {
	query := `
		SELECT snapshot_id,
		       COUNT(*) AS rows,
		       COUNT(DISTINCT site_id) AS sites,
		       MIN(phenomenon_time) AS first_time,
		       MAX(phenomenon_time) AS last_time
		FROM observations
		GROUP BY snapshot_id
		ORDER BY snapshot_id DESC
	`
	var out []SnapshotSummary
	if err := r.db.SelectContext(ctx, "list_snapshots", &out, query); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return out, nil
}

func (r *observationRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

func buildLoadQuery(filter ObservationFilter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.SnapshotID != nil {
		add("snapshot_id = $%d", *filter.SnapshotID)
	}
	if len(filter.SiteIDs) > 0 {
		add("site_id = ANY($%d)", pq.Array(filter.SiteIDs))
	}
	if len(filter.AnalyteIDs) > 0 {
		add("analyte_id = ANY($%d)", pq.Array(filter.AnalyteIDs))
	}
	if filter.From != nil {
		add("phenomenon_time >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("phenomenon_time <= $%d", *filter.To)
	}

	query := "SELECT " + observationColumns + " FROM observations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY phenomenon_time, site_id, analyte_id, id"
	return query, args
}
