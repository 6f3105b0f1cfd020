package stats

import (
	"time"

	"github.com/lox/kasselweather/internal/models"
)

type Season string

const (
	Spring Season = "Spring"
	Summer Season = "Summer"
	Autumn Season = "Autumn"
	Winter Season = "Winter"
)

// Seasons is the display order used by every seasonal view.
var Seasons = []Season{Spring, Summer, Autumn, Winter}

// SeasonOf maps a month to its meteorological season.
func SeasonOf(m time.Month) Season {
	switch m {
	case time.March, time.April, time.May:
		return Spring
	case time.June, time.July, time.August:
		return Summer
	case time.September, time.October, time.November:
		return Autumn
	default:
		return Winter
	}
}

// Partition groups rows by season. Winter collects December of one year with
// January and February of the next.
type Partition struct {
	Columns []models.Column
	Groups  map[Season][]models.Observation
}

// PartitionBySeason filters rows into the four seasons. Rows without a date
// are dropped.
func PartitionBySeason(t models.Table) Partition {
	p := Partition{
		Columns: t.Columns,
		Groups:  make(map[Season][]models.Observation, len(Seasons)),
	}
	for _, s := range Seasons {
		p.Groups[s] = nil
	}
	for _, r := range t.Rows {
		if r.Date.IsZero() {
			continue
		}
		s := SeasonOf(r.Date.Month())
		p.Groups[s] = append(p.Groups[s], r)
	}
	return p
}

func (p Partition) HasColumn(c models.Column) bool {
	for _, col := range p.Columns {
		if col == c {
			return true
		}
	}
	return false
}

// Values returns the present values of column c for one season.
func (p Partition) Values(s Season, c models.Column) []float64 {
	var out []float64
	for _, r := range p.Groups[s] {
		if v := r.Value(c); v.Valid {
			out = append(out, v.Float64)
		}
	}
	return out
}

// Len is the number of rows across all seasons.
func (p Partition) Len() int {
	n := 0
	for _, rows := range p.Groups {
		n += len(rows)
	}
	return n
}
