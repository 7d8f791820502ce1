package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bloomrisk/internal/matrix"
	"bloomrisk/internal/models"
	"bloomrisk/internal/storage"
	"bloomrisk/pkg/logging"
	"bloomrisk/pkg/metrics"
)

// BuildService builds and persists feature matrices
type BuildService struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// BuildRequest describes one build. Table takes precedence over InputPath;
// an empty OutputDir falls back to the configured one.
type BuildRequest struct {
	InputPath string
	Table     *models.Table
	Config    matrix.Config
	OutputDir string
}

// BuildResult reports where a build was written
type BuildResult struct {
	RunID    string
	Paths    storage.Paths
	Metadata *storage.Metadata
	Duration time.Duration
}

// NewBuildService creates a new build service
func NewBuildService(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *BuildService {
	return &BuildService{
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Build runs one feature matrix build end to end
func (s *BuildService) Build(ctx context.Context, req BuildRequest) (result *BuildResult, err error) {
	start := time.Now()
	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	ctx = logging.WithSnapshotID(ctx, req.Config.Snapshot())

	timer := s.metrics.NewTimer(s.metrics.RunDuration.WithLabelValues("build"))
	defer func() {
		timer.ObserveDuration()
		s.metrics.RecordRun("build", err)
		if err != nil {
			s.logger.Error(ctx, "[BUILD_ERROR] Feature matrix build failed", logging.Fields{
				"input": req.InputPath,
			}, err)
		}
	}()

	table := req.Table
	if table == nil {
		s.logger.Info(ctx, "[BUILD_READ] Reading observations", logging.Fields{
			"input": req.InputPath,
			"stage": "READ",
		})
		table, err = storage.ReadTable(ctx, req.InputPath)
		if err != nil {
			return nil, err
		}
	}
	s.metrics.RecordsInTotal.WithLabelValues("build").Add(float64(table.Len()))

	builder, err := matrix.NewBuilder(table, req.Config)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "[BUILD_START] Building feature matrix", logging.Fields{
		"rows_in":                    table.Len(),
		"target_determinand_id":      req.Config.TargetID,
		"predictor_ids":              req.Config.PredictorIDs,
		"lookback_days":              req.Config.LookbackDays,
		"feature_config_fingerprint": builder.Fingerprint(),
		"stage":                      "BUILD",
	})

	m, err := builder.Build(ctx)
	if err != nil {
		return nil, err
	}
	s.recordQuality(ctx, m)

	dir := req.OutputDir
	if dir == "" {
		dir = req.Config.OutputDir
	}
	paths, err := storage.WriteMatrix(dir, m)
	if err != nil {
		return nil, fmt.Errorf("persist feature matrix: %w", err)
	}

	result = &BuildResult{
		RunID:    runID,
		Paths:    paths,
		Metadata: storage.NewMetadata(m),
		Duration: time.Since(start),
	}

	s.logger.Info(ctx, "[BUILD_COMPLETE] Feature matrix written", logging.Fields{
		"data":        paths.Data,
		"meta":        paths.Meta,
		"n_rows":      m.Artifacts.NRows,
		"n_pos":       m.Artifacts.NPos,
		"duration_ms": result.Duration.Milliseconds(),
		"stage":       "COMPLETE",
	})
	return result, nil
}

func (s *BuildService) recordQuality(ctx context.Context, m *matrix.Matrix) {
	s.metrics.MatrixRows.Set(float64(m.Artifacts.NRows))
	if m.Artifacts.PosRate != nil {
		s.metrics.MatrixPositiveRate.Set(*m.Artifacts.PosRate)
	}

	target := m.Quality.Target
	s.metrics.RecordDrops("build", map[string]int{
		"bad_timestamp":  target.DroppedBadTimestamp,
		"outside_window": target.OutsideWindow,
		"non_numeric":    target.DroppedNonNumeric,
	})

	for _, p := range m.Quality.Predictors {
		s.metrics.PredictorMissingTotal.WithLabelValues(p.ID).Add(float64(p.Join.Anchors - p.Join.Matched))
		s.metrics.PredictorStaleTotal.WithLabelValues(p.ID).Add(float64(p.Join.Stale))

		if p.Join.Anchors > 0 && p.Join.Matched == 0 {
			s.logger.Warn(ctx, "[BUILD_PREDICTOR_EMPTY] Predictor never matched inside the lookback", logging.Fields{
				"determinand_id": p.ID,
				"anchors":        p.Join.Anchors,
				"stale":          p.Join.Stale,
			})
		}
	}
}
