package derive

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"bloomrisk/internal/models"
)

// Frame is a wide table indexed by ascending timestamp with one nullable
// numeric column per analyte
type Frame struct {
	Times   []time.Time
	names   []string
	columns map[string][]*float64
}

// NewFrame creates an empty frame over the given timestamps
func NewFrame(times []time.Time) *Frame {
	return &Frame{Times: times, columns: map[string][]*float64{}}
}

// Set adds or replaces a column; values must align with Times
func (f *Frame) Set(name string, values []*float64) error {
	if len(values) != len(f.Times) {
		return fmt.Errorf("column %s has %d values, frame has %d rows", name, len(values), len(f.Times))
	}
	if _, ok := f.columns[name]; !ok {
		f.names = append(f.names, name)
	}
	f.columns[name] = values
	return nil
}

// Column returns a column by name
func (f *Frame) Column(name string) ([]*float64, bool) {
	v, ok := f.columns[name]
	return v, ok
}

// Names returns column names in insertion order
func (f *Frame) Names() []string {
	return append([]string(nil), f.names...)
}

// Len returns the number of rows
func (f *Frame) Len() int {
	return len(f.Times)
}

// Between returns the rows with from <= t <= to. Columns share no backing
// storage with the receiver.
func (f *Frame) Between(from, to time.Time) *Frame {
	lo := sort.Search(len(f.Times), func(i int) bool { return !f.Times[i].Before(from) })
	hi := sort.Search(len(f.Times), func(i int) bool { return f.Times[i].After(to) })
	if hi < lo {
		hi = lo
	}

	out := NewFrame(append([]time.Time(nil), f.Times[lo:hi]...))
	for _, name := range f.names {
		_ = out.Set(name, append([]*float64(nil), f.columns[name][lo:hi]...))
	}
	return out
}

// ColumnFeatures selects the lags and shifted rolling means computed for one column
type ColumnFeatures struct {
	Column string `json:"col" yaml:"col"`
	Prefix string `json:"prefix" yaml:"prefix"`
	Lags   []int  `json:"lags" yaml:"lags"`
	Rolls  []int  `json:"rolls" yaml:"rolls"`
}

func (c ColumnFeatures) validate(field string) error {
	if c.Column == "" {
		return &models.ConfigError{Field: field + ".col", Message: "must not be empty"}
	}
	for _, k := range c.Lags {
		if k < 1 {
			return &models.ConfigError{Field: field + ".lags", Message: fmt.Sprintf("lag must be >= 1 (got %d)", k)}
		}
	}
	for _, w := range c.Rolls {
		if w < 1 {
			return &models.ConfigError{Field: field + ".rolls", Message: fmt.Sprintf("window must be >= 1 (got %d)", w)}
		}
	}
	return nil
}

func (c ColumnFeatures) prefix() string {
	if c.Prefix != "" {
		return c.Prefix
	}
	return c.Column
}

// FrameConfig configures the wide-frame feature builder
type FrameConfig struct {
	Threshold           float64          `json:"chl_threshold" yaml:"chl_threshold"`
	Target              ColumnFeatures   `json:"target" yaml:"target"`
	Nutrients           []ColumnFeatures `json:"nutrients" yaml:"nutrients"`
	AddMissingnessFlags bool             `json:"add_missingness_flags" yaml:"add_missingness_flags"`
}

// DefaultFrameConfig returns the chlorophyll / nitrogen / phosphorus feature set
func DefaultFrameConfig() FrameConfig {
	return FrameConfig{
		Threshold: 20.0,
		Target:    ColumnFeatures{Column: "chl", Lags: []int{1, 7}, Rolls: []int{7, 30}},
		Nutrients: []ColumnFeatures{
			{Column: "tn", Lags: []int{7}, Rolls: []int{30}},
			{Column: "tp", Lags: []int{7}, Rolls: []int{30}},
		},
		AddMissingnessFlags: true,
	}
}

// FeatureFrame is the builder output: one row per frame timestamp, columns in
// a deterministic order fixed by configuration and the input column set
type FeatureFrame struct {
	Times  []time.Time
	Names  []string
	Values [][]*float64
}

// Column returns a feature column by name
func (ff *FeatureFrame) Column(name string) ([]*float64, bool) {
	for i, n := range ff.Names {
		if n == name {
			return ff.Values[i], true
		}
	}
	return nil, false
}

func (ff *FeatureFrame) add(name string, values []*float64) {
	ff.Names = append(ff.Names, name)
	ff.Values = append(ff.Values, values)
}

// FrameBuilder computes leakage-safe features over a wide frame
type FrameBuilder struct {
	cfg FrameConfig
}

// NewFrameBuilder validates the configuration
func NewFrameBuilder(cfg FrameConfig) (*FrameBuilder, error) {
	if math.IsNaN(cfg.Threshold) || math.IsInf(cfg.Threshold, 0) {
		return nil, &models.ConfigError{Field: "chl_threshold", Message: "must be finite"}
	}
	if err := cfg.Target.validate("target"); err != nil {
		return nil, err
	}
	for i, n := range cfg.Nutrients {
		if err := n.validate(fmt.Sprintf("nutrients[%d]", i)); err != nil {
			return nil, err
		}
	}
	return &FrameBuilder{cfg: cfg}, nil
}

// Build computes the feature columns. The target column must be present;
// nutrient columns absent from the frame are skipped.
func (b *FrameBuilder) Build(frame *Frame) (*FeatureFrame, error) {
	if !sort.SliceIsSorted(frame.Times, func(i, j int) bool { return frame.Times[i].Before(frame.Times[j]) }) {
		return nil, fmt.Errorf("frame timestamps are not sorted ascending")
	}

	target, ok := frame.Column(b.cfg.Target.Column)
	if !ok {
		return nil, &models.ConfigError{
			Field:   "target.col",
			Message: fmt.Sprintf("missing column %q in frame", b.cfg.Target.Column),
		}
	}

	out := &FeatureFrame{Times: append([]time.Time(nil), frame.Times...)}
	tp := b.cfg.Target.prefix()

	addLagsAndRolls(out, tp, target, b.cfg.Target)
	out.add("prev_exceed_flag", PrevExceedance(target, b.cfg.Threshold))
	out.add("days_since_prev", DaysSincePrevious(nil, frame.Times))

	month := make([]*float64, frame.Len())
	doySin := make([]*float64, frame.Len())
	doyCos := make([]*float64, frame.Len())
	for i, t := range frame.Times {
		s := Seasonal(t)
		m := float64(s.Month)
		month[i], doySin[i], doyCos[i] = &m, &s.DoySin, &s.DoyCos
	}
	out.add("month", month)
	out.add("doy_sin", doySin)
	out.add("doy_cos", doyCos)

	present := []string{b.cfg.Target.Column}
	for _, n := range b.cfg.Nutrients {
		values, ok := frame.Column(n.Column)
		if !ok {
			continue
		}
		addLagsAndRolls(out, n.prefix(), values, n)
		present = append(present, n.Column)
	}

	if b.cfg.AddMissingnessFlags {
		for _, col := range present {
			values, _ := frame.Column(col)
			flags := MissingFlags(values)
			column := make([]*float64, len(flags))
			for i, f := range flags {
				v := float64(f)
				column[i] = &v
			}
			out.add("miss_"+col, column)
		}
	}

	return out, nil
}

func addLagsAndRolls(out *FeatureFrame, prefix string, values []*float64, cf ColumnFeatures) {
	for _, k := range cf.Lags {
		out.add(prefix+"_lag_"+strconv.Itoa(k), Lag(values, k))
	}
	for _, w := range cf.Rolls {
		out.add(prefix+"_roll_mean_"+strconv.Itoa(w), ShiftedRollingMean(values, w))
	}
}

// Columns flattens the feature frame into typed columns, timestamps first
func (ff *FeatureFrame) Columns(timeName string) []*models.Column {
	cols := make([]*models.Column, 0, len(ff.Names)+1)
	tc := models.NewColumn(timeName, models.KindTime, len(ff.Times))
	for i, t := range ff.Times {
		tc.Values[i] = t
	}
	cols = append(cols, tc)

	for c, name := range ff.Names {
		col := models.NewColumn(name, models.KindFloat, len(ff.Times))
		for i, v := range ff.Values[c] {
			if v != nil {
				col.Values[i] = *v
			}
		}
		cols = append(cols, col)
	}
	return cols
}
