// Package baselines provides reference predictors for the exceedance label
// and the metrics used to compare them: average precision, Brier score and
// recall / precision at a fixed alert rate.
package baselines

import (
	"fmt"
	"sort"
	"time"

	"bloomrisk/internal/models"
)

// Sample is one labelled anchor
type Sample struct {
	Site  string
	Time  time.Time
	Label int
}

// Month returns the calendar month of the sample
func (s Sample) Month() int {
	return int(s.Time.Month())
}

// Result holds a baseline's scores for a sample set, in the order the
// baseline evaluated them
type Result struct {
	Name   string         `json:"name"`
	YTrue  []int          `json:"-"`
	YScore []float64      `json:"-"`
	YPred  []int          `json:"-"`
	Meta   map[string]any `json:"meta"`
}

// SamplesFromTable reads samples from a labelled table such as a persisted
// feature matrix. Rows with an unparseable timestamp or label are skipped.
func SamplesFromTable(table *models.Table, siteCol, timeCol, labelCol string) ([]Sample, int, error) {
	if err := table.RequireColumns("table", siteCol, timeCol, labelCol); err != nil {
		return nil, 0, err
	}
	si, _ := table.ColumnIndex(siteCol)
	ti, _ := table.ColumnIndex(timeCol)
	li, _ := table.ColumnIndex(labelCol)

	out := make([]Sample, 0, table.Len())
	skipped := 0
	for i := 0; i < table.Len(); i++ {
		ts, ok := models.ParseTimestamp(table.Cell(i, ti))
		if !ok {
			skipped++
			continue
		}
		y, ok := models.ToInt(table.Cell(i, li))
		if !ok || (y != 0 && y != 1) {
			skipped++
			continue
		}
		out = append(out, Sample{Site: models.CellString(table.Cell(i, si)), Time: ts, Label: int(y)})
	}
	return out, skipped, nil
}

// SplitByYear returns samples up to and including trainEndYear, and the rest
func SplitByYear(samples []Sample, trainEndYear int) (train, test []Sample) {
	for _, s := range samples {
		if s.Time.Year() <= trainEndYear {
			train = append(train, s)
		} else {
			test = append(test, s)
		}
	}
	return train, test
}

func sortedBySiteTime(samples []Sample) []Sample {
	out := append([]Sample(nil), samples...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Site != out[j].Site {
			return out[i].Site < out[j].Site
		}
		return out[i].Time.Before(out[j].Time)
	})
	return out
}

// majority returns the most frequent label; ties resolve to 0
func majority(samples []Sample) int {
	pos := 0
	for _, s := range samples {
		pos += s.Label
	}
	if pos*2 > len(samples) {
		return 1
	}
	return 0
}

// Persistence predicts y(t) = y(t-1) per site in time order. The first sample
// of each site falls back to the majority label of the evaluated samples.
func Persistence(samples []Sample) Result {
	d := sortedBySiteTime(samples)
	fallback := majority(d)

	res := Result{
		Name:   "persistence",
		YTrue:  make([]int, len(d)),
		YScore: make([]float64, len(d)),
		YPred:  make([]int, len(d)),
		Meta:   map[string]any{"fallback_class": fallback},
	}
	for i, s := range d {
		pred := fallback
		if i > 0 && d[i-1].Site == s.Site {
			pred = d[i-1].Label
		}
		res.YTrue[i] = s.Label
		res.YPred[i] = pred
		res.YScore[i] = float64(pred)
	}
	return res
}

// SeasonalMean predicts P(y=1 | month) learned from training samples only
type SeasonalMean struct {
	ByMonth map[int]float64 `json:"p_by_month"`
	Global  float64         `json:"global_p"`
}

// FitSeasonalMean estimates the per-month positive rate
func FitSeasonalMean(train []Sample) *SeasonalMean {
	sums := map[int]int{}
	counts := map[int]int{}
	total := 0
	for _, s := range train {
		sums[s.Month()] += s.Label
		counts[s.Month()]++
		total += s.Label
	}

	m := &SeasonalMean{ByMonth: make(map[int]float64, len(counts))}
	if len(train) > 0 {
		m.Global = float64(total) / float64(len(train))
	}
	for month, n := range counts {
		m.ByMonth[month] = float64(sums[month]) / float64(n)
	}
	return m
}

// Predict scores samples; months unseen in training use the global rate
func (m *SeasonalMean) Predict(samples []Sample) Result {
	res := Result{
		Name:   "seasonal_mean",
		YTrue:  make([]int, len(samples)),
		YScore: make([]float64, len(samples)),
		YPred:  make([]int, len(samples)),
		Meta:   map[string]any{"global_p": m.Global, "p_by_month": m.ByMonth},
	}
	for i, s := range samples {
		p, ok := m.ByMonth[s.Month()]
		if !ok {
			p = m.Global
		}
		res.YTrue[i] = s.Label
		res.YScore[i] = p
		if p >= 0.5 {
			res.YPred[i] = 1
		}
	}
	return res
}

// Prior scores every sample with the training positive rate
type Prior struct {
	Rate float64 `json:"rate"`
}

// FitPrior estimates the training positive rate
func FitPrior(train []Sample) *Prior {
	if len(train) == 0 {
		return &Prior{}
	}
	pos := 0
	for _, s := range train {
		pos += s.Label
	}
	return &Prior{Rate: float64(pos) / float64(len(train))}
}

// Predict scores samples with the constant prior
func (p *Prior) Predict(samples []Sample) Result {
	res := Result{
		Name:   "prior",
		YTrue:  make([]int, len(samples)),
		YScore: make([]float64, len(samples)),
		YPred:  make([]int, len(samples)),
		Meta:   map[string]any{"rate": p.Rate},
	}
	pred := 0
	if p.Rate >= 0.5 {
		pred = 1
	}
	for i, s := range samples {
		res.YTrue[i] = s.Label
		res.YScore[i] = p.Rate
		res.YPred[i] = pred
	}
	return res
}

// Validate checks that the result arrays line up
func (r Result) Validate() error {
	if len(r.YTrue) != len(r.YScore) || len(r.YTrue) != len(r.YPred) {
		return fmt.Errorf("baseline %s: misaligned results (%d labels, %d scores, %d predictions)",
			r.Name, len(r.YTrue), len(r.YScore), len(r.YPred))
	}
	return nil
}
