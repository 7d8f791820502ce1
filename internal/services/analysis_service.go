package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"bloomrisk/internal/baselines"
	"bloomrisk/internal/derive"
	"bloomrisk/internal/labels"
	"bloomrisk/internal/models"
	"bloomrisk/internal/storage"
	"bloomrisk/pkg/logging"
	"bloomrisk/pkg/metrics"
)

// AnalysisService runs the standalone stages that sit next to the matrix
// build: labelling, wide-frame features and baseline evaluation
type AnalysisService struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewAnalysisService creates a new analysis service
func NewAnalysisService(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *AnalysisService {
	return &AnalysisService{logger: logger, metrics: metricsCollector}
}

// LabelRequest labels a table carrying the target value column
type LabelRequest struct {
	InputPath  string
	Config     labels.Config
	OutputPath string
	ReportPath string
}

// LabelResult holds the audit of a label run
type LabelResult struct {
	OutputPath string
	ReportPath string
	Audit      labels.AuditSummary
}

// Label writes the labelled table and its audit summary
func (s *AnalysisService) Label(ctx context.Context, req LabelRequest) (result *LabelResult, err error) {
	defer func() { s.metrics.RecordRun("labels", err) }()

	definer, err := labels.NewDefiner(req.Config)
	if err != nil {
		return nil, err
	}
	table, err := storage.ReadTable(ctx, req.InputPath)
	if err != nil {
		return nil, err
	}
	out, ys, err := definer.LabelTable(table)
	if err != nil {
		return nil, err
	}

	result = &LabelResult{
		OutputPath: req.OutputPath,
		ReportPath: req.ReportPath,
		Audit:      definer.Audit(ys),
	}
	if err := storage.WriteTable(req.OutputPath, out); err != nil {
		return nil, err
	}
	if req.ReportPath != "" {
		if err := storage.WriteJSON(req.ReportPath, result.Audit); err != nil {
			return nil, err
		}
	}

	s.logger.Info(ctx, "[LABELS_COMPLETE] Labels written", logging.Fields{
		"output":                   req.OutputPath,
		"n":                        result.Audit.N,
		"n_pos":                    result.Audit.Positives,
		"label_config_fingerprint": result.Audit.Fingerprint,
	})
	return result, nil
}

// FrameRequest builds wide-frame features from a clean long table
type FrameRequest struct {
	InputPath  string
	Pivot      derive.PivotSpec
	Config     derive.FrameConfig
	OutputPath string
}

// FrameResult describes the written feature frame
type FrameResult struct {
	OutputPath string
	Rows       int
	Columns    []string
}

// Frame pivots a long table, derives leakage-safe features and writes them
func (s *AnalysisService) Frame(ctx context.Context, req FrameRequest) (result *FrameResult, err error) {
	defer func() { s.metrics.RecordRun("frame", err) }()

	builder, err := derive.NewFrameBuilder(req.Config)
	if err != nil {
		return nil, err
	}
	table, err := storage.ReadTable(ctx, req.InputPath)
	if err != nil {
		return nil, err
	}
	frame, err := derive.Pivot(table, req.Pivot)
	if err != nil {
		return nil, err
	}
	features, err := builder.Build(frame)
	if err != nil {
		return nil, err
	}

	cols := features.Columns(req.Pivot.Columns.Time)
	if err := storage.WriteColumns(req.OutputPath, cols); err != nil {
		return nil, err
	}

	result = &FrameResult{OutputPath: req.OutputPath, Rows: len(features.Times), Columns: features.Names}
	s.logger.Info(ctx, "[FRAME_COMPLETE] Feature frame written", logging.Fields{
		"output":  req.OutputPath,
		"rows":    result.Rows,
		"columns": len(result.Columns),
	})
	return result, nil
}

// BaselineRequest evaluates the reference baselines on a labelled table
type BaselineRequest struct {
	InputPath    string
	SiteColumn   string
	TimeColumn   string
	LabelColumn  string
	TrainEndYear int
	AlertRate    float64
	ReportPath   string
}

// BaselineReport is the persisted evaluation
type BaselineReport struct {
	Input        string              `json:"input"`
	TrainEndYear int                 `json:"train_end_year"`
	NTrain       int                 `json:"n_train"`
	NTest        int                 `json:"n_test"`
	Skipped      int                 `json:"skipped_rows"`
	Metrics      []baselines.Metrics `json:"metrics"`
	Models       map[string]any      `json:"models"`
}

// Baselines fits every baseline on years up to TrainEndYear and evaluates
// on the later years
func (s *AnalysisService) Baselines(ctx context.Context, req BaselineRequest) (report *BaselineReport, err error) {
	defer func() { s.metrics.RecordRun("baselines", err) }()

	if req.AlertRate <= 0 || req.AlertRate > 1 {
		return nil, &models.ConfigError{Field: "alert_rate", Message: fmt.Sprintf("must be in (0, 1], got %g", req.AlertRate)}
	}

	table, err := storage.ReadTable(ctx, req.InputPath)
	if err != nil {
		return nil, err
	}
	samples, skipped, err := baselines.SamplesFromTable(table, req.SiteColumn, req.TimeColumn, req.LabelColumn)
	if err != nil {
		return nil, err
	}
	train, test := baselines.SplitByYear(samples, req.TrainEndYear)
	if len(test) == 0 {
		return nil, fmt.Errorf("no test samples after %d in %s", req.TrainEndYear, req.InputPath)
	}

	results, scores, err := baselines.Run(train, test, req.AlertRate)
	if err != nil {
		return nil, err
	}

	report = &BaselineReport{
		Input:        filepath.Base(req.InputPath),
		TrainEndYear: req.TrainEndYear,
		NTrain:       len(train),
		NTest:        len(test),
		Skipped:      skipped,
		Metrics:      scores,
		Models:       make(map[string]any, len(results)),
	}
	for _, r := range results {
		report.Models[r.Name] = r.Meta
	}
	if req.ReportPath != "" {
		if err := storage.WriteJSON(req.ReportPath, report); err != nil {
			return nil, err
		}
	}

	names := make([]string, len(scores))
	for i, m := range scores {
		names[i] = m.Model
	}
	s.logger.Info(ctx, "[BASELINES_COMPLETE] Baselines evaluated", logging.Fields{
		"n_train": len(train),
		"n_test":  len(test),
		"ranking": strings.Join(names, ","),
	})
	return report, nil
}
