package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"bloomrisk/internal/matrix"
	"bloomrisk/internal/models"
)

// rename commits staged matrix files; replaced in tests
var rename = os.Rename

// MetaSuffix is appended to a data file name to form its sidecar name
const MetaSuffix = ".meta.json"

// Paths locates a persisted matrix
type Paths struct {
	Data string `json:"data"`
	Meta string `json:"meta"`
}

// Metadata is the JSON sidecar written next to every feature matrix
type Metadata struct {
	DataFile                 string               `json:"data_file"`
	SnapshotID               *string              `json:"snapshot_id"`
	FeatureVersion           string               `json:"feature_version"`
	LabelVersion             string               `json:"label_version"`
	LookbackDays             int                  `json:"lookback_days"`
	PredictorIDs             []string             `json:"predictor_ids"`
	TargetDeterminandID      string               `json:"target_determinand_id"`
	Threshold                float64              `json:"threshold_ugL"`
	StrictlyGreater          bool                 `json:"strictly_greater"`
	Window                   string               `json:"window"`
	FeatureConfigFingerprint string               `json:"feature_config_fingerprint"`
	LabelConfigFingerprint   string               `json:"label_config_fingerprint"`
	NRows                    int                  `json:"n_rows"`
	NPos                     int                  `json:"n_pos"`
	PosRate                  *float64             `json:"pos_rate"`
	Columns                  []string             `json:"columns"`
	Quality                  matrix.QualityReport `json:"quality"`
}

// FileName returns the data file name of a build:
// features_<snapshot>_lb<lookback>_<version>.parquet
func FileName(cfg matrix.Config) string {
	return fmt.Sprintf("features_%s_lb%d_%s.parquet", cfg.Snapshot(), cfg.LookbackDays, cfg.FeatureVersion)
}

// NewMetadata describes a built matrix
func NewMetadata(m *matrix.Matrix) *Metadata {
	cfg := m.Config
	return &Metadata{
		DataFile:                 FileName(cfg),
		SnapshotID:               cfg.SnapshotID,
		FeatureVersion:           cfg.FeatureVersion,
		LabelVersion:             cfg.LabelVersion,
		LookbackDays:             cfg.LookbackDays,
		PredictorIDs:             append([]string{}, cfg.PredictorIDs...),
		TargetDeterminandID:      cfg.TargetID,
		Threshold:                cfg.Threshold,
		StrictlyGreater:          cfg.StrictlyGreater,
		Window:                   cfg.Window().String(),
		FeatureConfigFingerprint: m.Fingerprint,
		LabelConfigFingerprint:   m.LabelFingerprint,
		NRows:                    m.Artifacts.NRows,
		NPos:                     m.Artifacts.NPos,
		PosRate:                  m.Artifacts.PosRate,
		Columns:                  m.ColumnNames(),
		Quality:                  m.Quality,
	}
}

// WriteMatrix persists a matrix as Parquet plus its JSON sidecar in dir.
// Both files are staged under temporary names and only renamed into place
// once both were written, so a failure leaves no partial output.
func WriteMatrix(dir string, m *matrix.Matrix) (Paths, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create output dir: %w", err)
	}

	name := FileName(m.Config)
	paths := Paths{
		Data: filepath.Join(dir, name),
		Meta: filepath.Join(dir, name+MetaSuffix),
	}

	meta, err := json.MarshalIndent(NewMetadata(m), "", "  ")
	if err != nil {
		return Paths{}, fmt.Errorf("encode metadata: %w", err)
	}

	dataTmp, err := stage(dir, name, func(f *os.File) error {
		return WriteParquet(f, m.Columns())
	})
	if err != nil {
		return Paths{}, err
	}
	metaTmp, err := stage(dir, name+MetaSuffix, func(f *os.File) error {
		_, err := f.Write(meta)
		return err
	})
	if err != nil {
		_ = os.Remove(dataTmp)
		return Paths{}, err
	}

	if err := rename(dataTmp, paths.Data); err != nil {
		_ = os.Remove(dataTmp)
		_ = os.Remove(metaTmp)
		return Paths{}, fmt.Errorf("commit %s: %w", paths.Data, err)
	}
	if err := rename(metaTmp, paths.Meta); err != nil {
		// the data file already replaced any earlier build, so an earlier
		// sidecar would now describe a file that is gone
		_ = os.Remove(metaTmp)
		_ = os.Remove(paths.Data)
		_ = os.Remove(paths.Meta)
		return Paths{}, fmt.Errorf("commit %s: %w", paths.Meta, err)
	}
	return paths, nil
}

// WriteTable persists a table atomically: CSV for a .csv path, Parquet
// otherwise. Parquet column kinds are inferred from the first non-nil cell of
// each column.
func WriteTable(path string, table *models.Table) error {
	if strings.ToLower(filepath.Ext(path)) != ".csv" {
		return WriteColumns(path, TableColumns(table))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := stage(filepath.Dir(path), filepath.Base(path), func(f *os.File) error {
		return WriteCSV(f, table)
	})
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit %s: %w", path, err)
	}
	return nil
}

// WriteColumns persists typed columns as Parquet, atomically
func WriteColumns(path string, cols []*models.Column) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := stage(filepath.Dir(path), filepath.Base(path), func(f *os.File) error {
		return WriteParquet(f, cols)
	})
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit %s: %w", path, err)
	}
	return nil
}

// WriteJSON writes v as indented JSON, atomically
func WriteJSON(path string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := stage(filepath.Dir(path), filepath.Base(path), func(f *os.File) error {
		_, err := f.Write(payload)
		return err
	})
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit %s: %w", path, err)
	}
	return nil
}

// ReadMetadata loads a sidecar
func ReadMetadata(path string) (*Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata %s: %w", path, err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", path, err)
	}
	return &meta, nil
}

// ListMetadata loads every sidecar in dir, ordered by data file name.
// A missing directory yields an empty list.
func ListMetadata(dir string) ([]*Metadata, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var out []*Metadata
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), MetaSuffix) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		meta, err := ReadMetadata(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if meta.DataFile == "" {
			meta.DataFile = strings.TrimSuffix(e.Name(), MetaSuffix)
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DataFile < out[j].DataFile })
	return out, nil
}

// stage writes a hidden temporary file next to its final name and returns
// its path; on failure the temporary file is removed
func stage(dir, name string, write func(*os.File) error) (string, error) {
	f, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("stage %s: %w", name, err)
	}
	tmp := f.Name()

	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil && !isClosed(err) {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	return tmp, nil
}

// TableColumns converts a table into typed columns, inferring each column's
// kind from its first non-nil cell. Cells that do not fit the kind are null.
func TableColumns(table *models.Table) []*models.Column {
	names := table.Columns()
	cols := make([]*models.Column, len(names))
	for c, name := range names {
		values, _ := table.Column(name)
		kind := models.KindString
		for _, v := range values {
			if v == nil {
				continue
			}
			kind = kindOf(v)
			break
		}
		col := models.NewColumn(name, kind, len(values))
		for i, v := range values {
			col.Values[i] = normalize(v, kind)
		}
		cols[c] = col
	}
	return cols
}

func kindOf(v any) models.Kind {
	switch v.(type) {
	case time.Time:
		return models.KindTime
	case float64, float32:
		return models.KindFloat
	case int, int32, int64:
		return models.KindInt
	}
	return models.KindString
}

func normalize(v any, kind models.Kind) any {
	if v == nil {
		return nil
	}
	switch kind {
	case models.KindTime:
		if t, ok := models.ParseTimestamp(v); ok {
			return t
		}
		return nil
	case models.KindFloat:
		if f, ok := models.ToFloat(v); ok {
			return f
		}
		return nil
	case models.KindInt:
		if n, ok := models.ToInt(v); ok {
			return n
		}
		return nil
	}
	return models.CellString(v)
}
