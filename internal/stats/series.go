package stats

import (
	"math"
	"time"

	"github.com/lox/kasselweather/internal/models"
)

type YearValue struct {
	Year  int     `json:"year"`
	Value float64 `json:"value"`
}

// YearlyAverage returns the mean of column per calendar year, ascending.
// Absent values are skipped and years without any value are left out. A
// column the table does not declare yields an empty series.
func YearlyAverage(t models.Table, column models.Column) []YearValue {
	if !t.HasColumn(column) {
		return nil
	}

	var out []YearValue
	var s float64
	var n int
	year := 0
	flush := func() {
		if n > 0 {
			out = append(out, YearValue{Year: year, Value: s / float64(n)})
		}
		s, n = 0, 0
	}
	for _, r := range t.Rows {
		if r.Date.IsZero() {
			continue
		}
		if y := r.Date.Year(); y != year {
			flush()
			year = y
		}
		if v := r.Value(column); v.Valid {
			s += v.Float64
			n++
		}
	}
	flush()
	return out
}

type MonthValue struct {
	Month time.Time `json:"month"`
	Value float64   `json:"value"`
}

// MonthlySums resamples rows into contiguous calendar months (labelled by the
// first of the month) and sums column. Months with no values sum to zero.
func MonthlySums(t models.Table, column models.Column) []MonthValue {
	if !t.HasColumn(column) {
		return nil
	}

	var first, last time.Time
	for _, r := range t.Rows {
		if r.Date.IsZero() {
			continue
		}
		m := monthStart(r.Date)
		if first.IsZero() || m.Before(first) {
			first = m
		}
		if m.After(last) {
			last = m
		}
	}
	if first.IsZero() {
		return nil
	}

	index := make(map[time.Time]int)
	var out []MonthValue
	for m := first; !m.After(last); m = m.AddDate(0, 1, 0) {
		index[m] = len(out)
		out = append(out, MonthValue{Month: m})
	}
	for _, r := range t.Rows {
		if r.Date.IsZero() {
			continue
		}
		if v := r.Value(column); v.Valid {
			out[index[monthStart(r.Date)]].Value += v.Float64
		}
	}
	return out
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Column returns every row's value for column with NaN marking absent values,
// so positional reductions like RollingMean keep their alignment.
func Column(t models.Table, column models.Column) []float64 {
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		if v := r.Value(column); v.Valid {
			out[i] = v.Float64
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}
