package services

import (
	"context"
	"path/filepath"
	"time"

	"bloomrisk/internal/clean"
	"bloomrisk/internal/storage"
	"bloomrisk/pkg/logging"
	"bloomrisk/pkg/metrics"
)

// CleanService turns a raw snapshot into the clean table
type CleanService struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// CleanRequest describes one clean run
type CleanRequest struct {
	InputPath  string
	Config     clean.Config
	OutputDir  string
	ReportsDir string
	RunID      string
}

// CleanResult locates the clean outputs
type CleanResult struct {
	DataPath   string
	ReportPath string
	Report     *clean.Report
}

// NewCleanService creates a new clean service
func NewCleanService(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *CleanService {
	return &CleanService{logger: logger, metrics: metricsCollector}
}

// Clean reads, cleans and writes <stem>.parquet plus <stem>_clean_report.json
func (s *CleanService) Clean(ctx context.Context, req CleanRequest) (result *CleanResult, err error) {
	timer := s.metrics.NewTimer(s.metrics.RunDuration.WithLabelValues("clean"))
	defer func() {
		timer.ObserveDuration()
		s.metrics.RecordRun("clean", err)
	}()

	if req.Config.SnapshotID != nil {
		ctx = logging.WithSnapshotID(ctx, *req.Config.SnapshotID)
	}

	cleaner, err := clean.New(req.Config)
	if err != nil {
		return nil, err
	}

	table, err := storage.ReadTable(ctx, req.InputPath)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordsInTotal.WithLabelValues("clean").Add(float64(table.Len()))

	start := time.Now()
	out, report, err := cleaner.Clean(table)
	if err != nil {
		return nil, err
	}

	d := report.Drops
	s.metrics.RecordDrops("clean", map[string]int{
		"not_selected":        d.NotSelected,
		"bad_timestamp":       d.BadTimestamp,
		"non_numeric":         d.NonNumeric,
		"missing_or_bad_unit": d.MissingOrBadUnit,
		"invalid_values":      d.InvalidValues,
		"duplicates":          d.Duplicates,
	})

	stem := req.Config.Stem(req.RunID)
	result = &CleanResult{
		DataPath:   filepath.Join(req.OutputDir, stem+".parquet"),
		ReportPath: filepath.Join(req.ReportsDir, stem+"_clean_report.json"),
		Report:     report,
	}
	if err := storage.WriteTable(result.DataPath, out); err != nil {
		return nil, err
	}
	if err := storage.WriteJSON(result.ReportPath, report); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "[CLEAN_COMPLETE] Clean table written", logging.Fields{
		"data":               result.DataPath,
		"report":             result.ReportPath,
		"rows_in":            report.Rows.In,
		"rows_out":           report.Rows.Out,
		"config_fingerprint": report.ConfigFingerprint,
		"duration_ms":        time.Since(start).Milliseconds(),
	})
	return result, nil
}
