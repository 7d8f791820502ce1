// Package asof implements the backward point-in-time join that attaches
// predictor observations to target anchors without looking into the future.
//
// For every anchor the join selects the latest predictor observation at the
// same site whose timestamp is at or before the anchor timestamp. A match
// older than the lookback window is discarded entirely, so a stale value is
// indistinguishable from no value at all.
package asof

import (
	"errors"
	"sort"
	"time"

	"bloomrisk/internal/series"
)

const secondsPerDay = 86400.0

// ErrLookback is returned when the lookback window is not positive
var ErrLookback = errors.New("asof: lookback_days must be > 0")

// Anchor is a point in time at a site for which predictors are looked up
type Anchor struct {
	Site string
	Time time.Time
}

// Match is the outcome of the join for one anchor and one predictor.
// IsMissing is true exactly when Value is nil.
type Match struct {
	Value     *float64
	MatchedAt *time.Time
	AgeDays   *float64
	IsMissing bool
	// Stale marks anchors whose latest predictor existed but was too old
	Stale bool
}

// Stats summarizes a join for quality reporting
type Stats struct {
	Anchors int `json:"anchors"`
	Matched int `json:"matched"`
	Stale   int `json:"stale"`
	NoMatch int `json:"no_match"`
}

// JoinBackward joins predictor points onto anchors, per site, backward in
// time, enforcing the lookback window. The result is aligned with anchors.
//
// Among predictor points sharing a (site, timestamp) the one with the highest
// Row wins. Neither input is modified.
func JoinBackward(anchors []Anchor, predictor []series.Point, lookbackDays int) ([]Match, error) {
	if lookbackDays <= 0 {
		return nil, ErrLookback
	}

	order := make([]int, len(anchors))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := anchors[order[i]], anchors[order[j]]
		if a.Site != b.Site {
			return a.Site < b.Site
		}
		return a.Time.Before(b.Time)
	})

	points := make([]series.Point, len(predictor))
	copy(points, predictor)
	series.SortPoints(points)

	lookback := float64(lookbackDays)
	out := make([]Match, len(anchors))

	j, last := 0, -1
	for k, idx := range order {
		a := anchors[idx]
		if k > 0 && anchors[order[k-1]].Site != a.Site {
			last = -1
		}

		for j < len(points) && points[j].Site < a.Site {
			j++
		}
		for j < len(points) && points[j].Site == a.Site && !points[j].Time.After(a.Time) {
			last = j
			j++
		}

		if last < 0 {
			out[idx] = Match{IsMissing: true}
			continue
		}

		p := points[last]
		age := a.Time.Sub(p.Time).Seconds() / secondsPerDay
		if age > lookback {
			out[idx] = Match{IsMissing: true, Stale: true}
			continue
		}

		value := p.Value
		matchedAt := p.Time
		out[idx] = Match{
			Value:     &value,
			MatchedAt: &matchedAt,
			AgeDays:   &age,
		}
	}

	return out, nil
}

// Summarize counts matched, stale and unmatched anchors
func Summarize(matches []Match) Stats {
	stats := Stats{Anchors: len(matches)}
	for _, m := range matches {
		switch {
		case !m.IsMissing:
			stats.Matched++
		case m.Stale:
			stats.Stale++
		default:
			stats.NoMatch++
		}
	}
	return stats
}
