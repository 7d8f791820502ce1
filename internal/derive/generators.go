// Package derive computes leakage-safe features over time-sorted series:
// positional lags, rolling statistics over the series shifted by one step,
// elapsed time, missingness flags and cyclical seasonality encodings.
//
// Every generator that looks at history only ever reads strictly earlier
// positions. Grouped variants restart at each site boundary so that no value
// leaks from one site into the next.
package derive

import (
	"math"
	"time"
)

const secondsPerDay = 86400.0

// Lag returns values shifted k positions later: out[i] = values[i-k].
// The first k positions are nil. k must not be negative.
func Lag(values []*float64, k int) []*float64 {
	out := make([]*float64, len(values))
	for i := k; i < len(values); i++ {
		out[i] = values[i-k]
	}
	return out
}

// ShiftedRollingMean returns the mean of the w values strictly before each
// position: out[i] = mean(values[i-w .. i-1]). Nil values are skipped and a
// partial window at the start of the series still yields a mean as long as at
// least one earlier value exists.
func ShiftedRollingMean(values []*float64, w int) []*float64 {
	shifted := Lag(values, 1)
	out := make([]*float64, len(values))
	for i := range shifted {
		start := i - w + 1
		if start < 0 {
			start = 0
		}
		var sum float64
		var n int
		for _, v := range shifted[start : i+1] {
			if v != nil {
				sum += *v
				n++
			}
		}
		if n > 0 {
			mean := sum / float64(n)
			out[i] = &mean
		}
	}
	return out
}

// Segments splits a site column sorted by site into [start, end) ranges
func Segments(sites []string) [][2]int {
	var out [][2]int
	start := 0
	for i := 1; i <= len(sites); i++ {
		if i == len(sites) || sites[i] != sites[start] {
			out = append(out, [2]int{start, i})
			start = i
		}
	}
	return out
}

func grouped(sites []string, values []*float64, fn func([]*float64) []*float64) []*float64 {
	out := make([]*float64, len(values))
	for _, seg := range Segments(sites) {
		copy(out[seg[0]:seg[1]], fn(values[seg[0]:seg[1]]))
	}
	return out
}

// GroupedLag applies Lag independently within each site
func GroupedLag(sites []string, values []*float64, k int) []*float64 {
	return grouped(sites, values, func(v []*float64) []*float64 { return Lag(v, k) })
}

// GroupedShiftedRollingMean applies ShiftedRollingMean independently within each site
func GroupedShiftedRollingMean(sites []string, values []*float64, w int) []*float64 {
	return grouped(sites, values, func(v []*float64) []*float64 { return ShiftedRollingMean(v, w) })
}

// DaysSincePrevious returns the days elapsed since the previous observation
// of the same site; the first observation of each site is nil. Pass a single
// repeated site (or nil sites) for an ungrouped series.
func DaysSincePrevious(sites []string, times []time.Time) []*float64 {
	out := make([]*float64, len(times))
	for i := 1; i < len(times); i++ {
		if sites != nil && sites[i] != sites[i-1] {
			continue
		}
		d := times[i].Sub(times[i-1]).Seconds() / secondsPerDay
		out[i] = &d
	}
	return out
}

// MissingFlags returns 1 where a value is nil and 0 otherwise
func MissingFlags(values []*float64) []int {
	out := make([]int, len(values))
	for i, v := range values {
		if v == nil {
			out[i] = 1
		}
	}
	return out
}

// PrevExceedance flags whether the previous value exceeded the threshold.
// The first position, or one whose previous value is nil, is nil rather
// than 0: an unknown previous value is reported as unknown, not as a
// non-exceedance. Callers wanting a strict 0/1 column fill nil with 0.
func PrevExceedance(values []*float64, threshold float64) []*float64 {
	prev := Lag(values, 1)
	out := make([]*float64, len(values))
	for i, v := range prev {
		if v == nil {
			continue
		}
		flag := 0.0
		if *v > threshold {
			flag = 1
		}
		out[i] = &flag
	}
	return out
}

// Seasonality holds cyclical encodings of the calendar position of a timestamp
type Seasonality struct {
	Month     int
	DayOfYear int
	MonthSin  float64
	MonthCos  float64
	DoySin    float64
	DoyCos    float64
}

// Seasonal encodes month on a 12-step circle and day-of-year on a
// 365.25-day circle. It needs no history and is always defined.
func Seasonal(t time.Time) Seasonality {
	month := float64(t.Month())
	doy := float64(t.YearDay())
	monthAngle := 2 * math.Pi * month / 12.0
	doyAngle := 2 * math.Pi * doy / 365.25

	return Seasonality{
		Month:     int(t.Month()),
		DayOfYear: t.YearDay(),
		MonthSin:  math.Sin(monthAngle),
		MonthCos:  math.Cos(monthAngle),
		DoySin:    math.Sin(doyAngle),
		DoyCos:    math.Cos(doyAngle),
	}
}

// Ptrs converts plain values to a nullable slice
func Ptrs(values []float64) []*float64 {
	out := make([]*float64, len(values))
	for i := range values {
		v := values[i]
		out[i] = &v
	}
	return out
}
