package baselines

import (
	"encoding/json"
	"math"
	"sort"
)

// DefaultAlertRate is the share of samples flagged when ranking by score
const DefaultAlertRate = 0.10

// Metrics summarises one baseline. Undefined values are NaN and encode as
// JSON null.
type Metrics struct {
	Model     string
	N         int
	NPos      int
	PRAUC     float64
	Brier     float64
	AlertRate float64
	Recall    float64
	Precision float64
}

// MarshalJSON encodes NaN metrics as null
func (m Metrics) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Model     string   `json:"model"`
		N         int      `json:"n"`
		NPos      int      `json:"n_pos"`
		PRAUC     *float64 `json:"pr_auc"`
		Brier     *float64 `json:"brier"`
		AlertRate float64  `json:"alert_rate"`
		Recall    *float64 `json:"recall_at_alert_rate"`
		Precision *float64 `json:"precision_at_alert_rate"`
	}{
		Model:     m.Model,
		N:         m.N,
		NPos:      m.NPos,
		PRAUC:     finite(m.PRAUC),
		Brier:     finite(m.Brier),
		AlertRate: m.AlertRate,
		Recall:    finite(m.Recall),
		Precision: finite(m.Precision),
	})
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// descending returns indices ordered by score, highest first; ties keep
// their input order
func descending(scores []float64) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	return idx
}

// AveragePrecision is the area under the precision-recall curve as the
// step-wise sum over distinct score thresholds. NaN without positives.
func AveragePrecision(yTrue []int, yScore []float64) float64 {
	pos := 0
	for _, y := range yTrue {
		pos += y
	}
	if pos == 0 {
		return math.NaN()
	}

	idx := descending(yScore)
	var ap, prevRecall float64
	tp, fp := 0, 0
	for i := 0; i < len(idx); {
		score := yScore[idx[i]]
		for ; i < len(idx) && yScore[idx[i]] == score; i++ {
			if yTrue[idx[i]] == 1 {
				tp++
			} else {
				fp++
			}
		}
		recall := float64(tp) / float64(pos)
		precision := float64(tp) / float64(tp+fp)
		ap += (recall - prevRecall) * precision
		prevRecall = recall
	}
	return ap
}

// Brier is the mean squared difference between score and label
func Brier(yTrue []int, yScore []float64) float64 {
	if len(yTrue) == 0 {
		return math.NaN()
	}
	var sum float64
	for i, y := range yTrue {
		d := yScore[i] - float64(y)
		sum += d * d
	}
	return sum / float64(len(yTrue))
}

// AtAlertRate flags the top k = max(1, ceil(rate*n)) samples by score and
// returns recall and precision of that alert set. Recall is NaN without
// positives; both are NaN for an empty input.
func AtAlertRate(yTrue []int, yScore []float64, rate float64) (recall, precision float64) {
	n := len(yTrue)
	if n == 0 {
		return math.NaN(), math.NaN()
	}
	k := int(math.Ceil(rate * float64(n)))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}

	pos := 0
	for _, y := range yTrue {
		pos += y
	}
	tp := 0
	for _, i := range descending(yScore)[:k] {
		tp += yTrue[i]
	}

	recall = math.NaN()
	if pos > 0 {
		recall = float64(tp) / float64(pos)
	}
	return recall, float64(tp) / float64(k)
}

// Evaluate scores a baseline result
func Evaluate(r Result, alertRate float64) (Metrics, error) {
	if err := r.Validate(); err != nil {
		return Metrics{}, err
	}
	pos := 0
	for _, y := range r.YTrue {
		pos += y
	}
	recall, precision := AtAlertRate(r.YTrue, r.YScore, alertRate)
	return Metrics{
		Model:     r.Name,
		N:         len(r.YTrue),
		NPos:      pos,
		PRAUC:     AveragePrecision(r.YTrue, r.YScore),
		Brier:     Brier(r.YTrue, r.YScore),
		AlertRate: alertRate,
		Recall:    recall,
		Precision: precision,
	}, nil
}

// EvaluateAll scores every result and orders them by PR-AUC, best first.
// Undefined PR-AUC sorts last.
func EvaluateAll(results []Result, alertRate float64) ([]Metrics, error) {
	out := make([]Metrics, 0, len(results))
	for _, r := range results {
		m, err := Evaluate(r, alertRate)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].PRAUC, out[j].PRAUC
		if math.IsNaN(b) {
			return !math.IsNaN(a)
		}
		return a > b
	})
	return out, nil
}

// Run fits every baseline on train and evaluates it on test
func Run(train, test []Sample, alertRate float64) ([]Result, []Metrics, error) {
	results := []Result{
		Persistence(test),
		FitSeasonalMean(train).Predict(test),
		FitPrior(train).Predict(test),
	}
	metrics, err := EvaluateAll(results, alertRate)
	if err != nil {
		return nil, nil, err
	}
	return results, metrics, nil
}
