// Package clean harmonises a raw long-format observation snapshot into the
// typed, filtered, deduplicated table consumed by feature building.
//
// The clean layer never aggregates or pivots. It selects analytes, fixes the
// timestamp zone, coerces values, enforces unit presence and simple validity
// rules, then dedupes and sorts deterministically.
package clean

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"bloomrisk/internal/models"
	"bloomrisk/pkg/fingerprint"
)

// NormalizedIDColumn carries the zero-stripped analyte identifier
const NormalizedIDColumn = "_det_id_norm"

// Range is an inclusive validity range for one analyte
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Config controls the clean layer
type Config struct {
	models.ColumnNames `yaml:",inline"`

	DeterminandIDs []string `json:"determinand_ids" yaml:"determinand_ids"`

	AssumeTZ string `json:"assume_tz" yaml:"assume_tz"`
	OutputTZ string `json:"output_tz" yaml:"output_tz"`

	CoerceNumericErrors string `json:"coerce_numeric_errors" yaml:"coerce_numeric_errors"`
	DropNonNumeric      bool   `json:"drop_non_numeric" yaml:"drop_non_numeric"`

	DropNegative        bool             `json:"drop_negative" yaml:"drop_negative"`
	MinMaxByDeterminand map[string]Range `json:"min_max_by_determinand" yaml:"min_max_by_determinand"`

	RequireUnits bool                `json:"require_units" yaml:"require_units"`
	AllowedUnits map[string][]string `json:"allowed_units" yaml:"allowed_units"`

	SortKeys   []string `json:"sort_keys" yaml:"sort_keys"`
	DedupeKeys []string `json:"dedupe_keys" yaml:"dedupe_keys"`
	DedupeKeep string   `json:"dedupe_keep" yaml:"dedupe_keep"`

	SnapshotID   *string `json:"snapshot_id" yaml:"snapshot_id"`
	CleanVersion string  `json:"clean_version" yaml:"clean_version"`
}

// DefaultConfig keeps the chlorophyll, nutrient and context analytes of the
// water-quality archive export
func DefaultConfig() Config {
	cols := models.DefaultColumns()
	keys := []string{cols.Time, cols.Site, cols.Analyte}
	return Config{
		ColumnNames:         cols,
		DeterminandIDs:      []string{"7887", "348", "9686", "111", "117", "9901", "76", "61"},
		AssumeTZ:            "UTC",
		OutputTZ:            "UTC",
		CoerceNumericErrors: "coerce",
		DropNonNumeric:      true,
		DropNegative:        true,
		RequireUnits:        true,
		SortKeys:            keys,
		DedupeKeys:          append([]string(nil), keys...),
		DedupeKeep:          "last",
		CleanVersion:        "CLEAN_V1",
	}
}

// NormalizeID strips surrounding space and leading zeros: "0061" -> "61", "000" -> "0"
func NormalizeID(v any) string {
	s := strings.TrimLeft(models.CellString(v), "0")
	if s == "" {
		return "0"
	}
	return s
}

// Stem names output files: the run id, else the snapshot id, else "clean"
func (c Config) Stem(runID string) string {
	switch {
	case runID != "":
		return runID
	case c.SnapshotID != nil && *c.SnapshotID != "":
		return *c.SnapshotID
	}
	return "clean"
}

// Rows counts rows entering and leaving the clean layer
type Rows struct {
	In  int `json:"in"`
	Out int `json:"out"`
}

// Drops counts rows removed per rule
type Drops struct {
	NotSelected      int `json:"not_selected"`
	BadTimestamp     int `json:"bad_timestamp"`
	NonNumeric       int `json:"non_numeric"`
	MissingOrBadUnit int `json:"missing_or_bad_unit"`
	InvalidValues    int `json:"invalid_values"`
	Duplicates       int `json:"duplicates"`
}

// Report is the deterministic QA record of a clean run
type Report struct {
	ConfigFingerprint  string         `json:"config_fingerprint"`
	SnapshotID         *string        `json:"snapshot_id"`
	CleanVersion       string         `json:"clean_version"`
	Rows               Rows           `json:"rows"`
	Drops              Drops          `json:"drops"`
	UnitNormalisations map[string]int `json:"unit_normalisations"`
}

// Cleaner applies a validated configuration
type Cleaner struct {
	cfg         Config
	assume      *time.Location
	output      *time.Location
	wanted      map[string]bool
	fingerprint string
}

// New validates cfg
func New(cfg Config) (*Cleaner, error) {
	if len(cfg.DeterminandIDs) == 0 {
		return nil, &models.ConfigError{Field: "determinand_ids", Message: "must not be empty"}
	}
	if cfg.CoerceNumericErrors != "raise" && cfg.CoerceNumericErrors != "coerce" {
		return nil, &models.ConfigError{Field: "coerce_numeric_errors", Message: "must be 'raise' or 'coerce'"}
	}
	if cfg.DedupeKeep != "first" && cfg.DedupeKeep != "last" {
		return nil, &models.ConfigError{Field: "dedupe_keep", Message: "must be 'first' or 'last'"}
	}
	for _, r := range cfg.MinMaxByDeterminand {
		if r.Max < r.Min {
			return nil, &models.ConfigError{Field: "min_max_by_determinand", Message: fmt.Sprintf("max < min (%g < %g)", r.Max, r.Min)}
		}
	}

	assume, err := time.LoadLocation(cfg.AssumeTZ)
	if err != nil {
		return nil, &models.ConfigError{Field: "assume_tz", Message: err.Error()}
	}
	output, err := time.LoadLocation(cfg.OutputTZ)
	if err != nil {
		return nil, &models.ConfigError{Field: "output_tz", Message: err.Error()}
	}

	wanted := make(map[string]bool, len(cfg.DeterminandIDs))
	for _, id := range cfg.DeterminandIDs {
		wanted[NormalizeID(id)] = true
	}

	fp, err := fingerprint.Of(cfg)
	if err != nil {
		return nil, fmt.Errorf("clean config fingerprint: %w", err)
	}

	return &Cleaner{cfg: cfg, assume: assume, output: output, wanted: wanted, fingerprint: fp}, nil
}

// Fingerprint returns the configuration fingerprint
func (c *Cleaner) Fingerprint() string {
	return c.fingerprint
}

// Clean returns the clean table: the input columns plus NormalizedIDColumn,
// with typed timestamp and value cells. Per-row problems are counted in the
// report; a non-numeric value in "raise" mode fails the run.
func (c *Cleaner) Clean(table *models.Table) (*models.Table, *Report, error) {
	cfg := c.cfg
	if err := table.RequireColumns("table", cfg.ColumnNames.Required()...); err != nil {
		return nil, nil, err
	}
	if err := table.RequireColumns("sort_keys", cfg.SortKeys...); err != nil {
		return nil, nil, err
	}
	if err := table.RequireColumns("dedupe_keys", cfg.DedupeKeys...); err != nil {
		return nil, nil, err
	}

	report := &Report{
		ConfigFingerprint:  c.fingerprint,
		SnapshotID:         cfg.SnapshotID,
		CleanVersion:       cfg.CleanVersion,
		Rows:               Rows{In: table.Len()},
		UnitNormalisations: map[string]int{},
	}

	columns := table.Columns()
	if !table.HasColumn(NormalizedIDColumn) {
		columns = append(columns, NormalizedIDColumn)
	}
	out := models.NewTable(columns)

	timeCol, _ := table.ColumnIndex(cfg.Time)
	analyteCol, _ := table.ColumnIndex(cfg.Analyte)
	valueCol, _ := table.ColumnIndex(cfg.Value)
	unitCol, _ := table.ColumnIndex(cfg.Unit)
	normCol, _ := out.ColumnIndex(NormalizedIDColumn)

	var kept [][]any
	for i := 0; i < table.Len(); i++ {
		row := make([]any, len(columns))
		copy(row, table.Row(i))

		id := NormalizeID(row[analyteCol])
		if !c.wanted[id] {
			report.Drops.NotSelected++
			continue
		}
		row[normCol] = id

		ts, ok := models.ParseTimestampIn(row[timeCol], c.assume)
		if !ok {
			report.Drops.BadTimestamp++
			continue
		}
		row[timeCol] = ts.In(c.output)

		value, numeric := models.ToFloat(row[valueCol])
		if numeric {
			row[valueCol] = value
		} else {
			if cfg.CoerceNumericErrors == "raise" {
				return nil, nil, fmt.Errorf("row %d: non-numeric value %v in column %s", i, row[valueCol], cfg.Value)
			}
			report.Drops.NonNumeric++
			if cfg.DropNonNumeric {
				continue
			}
			row[valueCol] = nil
		}

		unit := models.CellString(row[unitCol])
		if cfg.RequireUnits && unit == "" {
			report.Drops.MissingOrBadUnit++
			continue
		}
		if allowed, ok := cfg.AllowedUnits[id]; ok && !contains(allowed, unit) {
			report.Drops.MissingOrBadUnit++
			continue
		}

		if numeric {
			if cfg.DropNegative && value < 0 {
				report.Drops.InvalidValues++
				continue
			}
			if r, has := cfg.MinMaxByDeterminand[id]; has && (value < r.Min || value > r.Max) {
				report.Drops.InvalidValues++
				continue
			}
		}

		kept = append(kept, row)
	}

	kept, dups := c.dedupe(out, kept)
	report.Drops.Duplicates = dups
	c.sort(out, kept)

	for _, row := range kept {
		if err := out.Append(row...); err != nil {
			return nil, nil, err
		}
	}
	report.Rows.Out = out.Len()
	return out, report, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (c *Cleaner) indexes(t *models.Table, names []string) []int {
	idx := make([]int, len(names))
	for i, n := range names {
		idx[i], _ = t.ColumnIndex(n)
	}
	return idx
}

func (c *Cleaner) dedupe(t *models.Table, rows [][]any) ([][]any, int) {
	if len(c.cfg.DedupeKeys) == 0 {
		return rows, 0
	}
	keys := c.indexes(t, c.cfg.DedupeKeys)

	rowKey := func(row []any) string {
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = models.CellString(row[k])
		}
		return strings.Join(parts, "\x1f")
	}

	chosen := make(map[string]int, len(rows))
	for i, row := range rows {
		k := rowKey(row)
		if _, seen := chosen[k]; seen && c.cfg.DedupeKeep == "first" {
			continue
		}
		chosen[k] = i
	}

	out := make([][]any, 0, len(chosen))
	for i, row := range rows {
		if chosen[rowKey(row)] == i {
			out = append(out, row)
		}
	}
	return out, len(rows) - len(out)
}

func (c *Cleaner) sort(t *models.Table, rows [][]any) {
	if len(c.cfg.SortKeys) == 0 {
		return
	}
	keys := c.indexes(t, c.cfg.SortKeys)
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			if cmp := compareCells(rows[i][k], rows[j][k]); cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
}

// compareCells orders nil first, then timestamps, numbers and text
func compareCells(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	fa, okA := a.(float64)
	fb, okB := b.(float64)
	if okA && okB {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(models.CellString(a), models.CellString(b))
}
