package models

import (
	"database/sql"
	"time"
)

// Column names follow the upstream data provider's field names.
type Column string

const (
	ColTAvg Column = "tavg"
	ColTMin Column = "tmin"
	ColTMax Column = "tmax"
	ColPrcp Column = "prcp"
	ColWspd Column = "wspd"
	ColWpgt Column = "wpgt"
	ColPres Column = "pres"
	ColTsun Column = "tsun"
)

// AllColumns is the expected column shape of a table, in display order.
var AllColumns = []Column{ColTAvg, ColTMin, ColTMax, ColPrcp, ColWspd, ColWpgt, ColPres, ColTsun}

// MonthlyColumns is what the provider returns for monthly aggregates (no gusts).
var MonthlyColumns = []Column{ColTAvg, ColTMin, ColTMax, ColPrcp, ColWspd, ColPres, ColTsun}

type Granularity string

const (
	Daily   Granularity = "daily"
	Monthly Granularity = "monthly"
)

type Point struct {
	Latitude  float64
	Longitude float64
	Elevation sql.NullFloat64
}

type Station struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Elevation sql.NullFloat64 `json:"-"`
	Distance  sql.NullFloat64 `json:"-"` // km from the target point
}

// Point returns the station location as a query point.
func (s Station) Point() Point {
	return Point{Latitude: s.Latitude, Longitude: s.Longitude, Elevation: s.Elevation}
}

// Observation is one day (or one month) of station data. Dates are UTC midnight;
// monthly rows carry the first day of the month.
type Observation struct {
	Date time.Time
	TAvg sql.NullFloat64
	TMin sql.NullFloat64
	TMax sql.NullFloat64
	Prcp sql.NullFloat64
	Wspd sql.NullFloat64
	Wpgt sql.NullFloat64
	Pres sql.NullFloat64
	Tsun sql.NullFloat64
}

// Value returns the field for the named column. Unknown columns are absent.
func (o Observation) Value(c Column) sql.NullFloat64 {
	switch c {
	case ColTAvg:
		return o.TAvg
	case ColTMin:
		return o.TMin
	case ColTMax:
		return o.TMax
	case ColPrcp:
		return o.Prcp
	case ColWspd:
		return o.Wspd
	case ColWpgt:
		return o.Wpgt
	case ColPres:
		return o.Pres
	case ColTsun:
		return o.Tsun
	}
	return sql.NullFloat64{}
}

// Set assigns the field for the named column.
func (o *Observation) Set(c Column, v sql.NullFloat64) {
	switch c {
	case ColTAvg:
		o.TAvg = v
	case ColTMin:
		o.TMin = v
	case ColTMax:
		o.TMax = v
	case ColPrcp:
		o.Prcp = v
	case ColWspd:
		o.Wspd = v
	case ColWpgt:
		o.Wpgt = v
	case ColPres:
		o.Pres = v
	case ColTsun:
		o.Tsun = v
	}
}

// Table is an ordered collection of observations together with the columns
// the source declared. A declared column may still hold only absent values.
type Table struct {
	Granularity Granularity
	Columns     []Column
	Rows        []Observation
}

// EmptyTable returns a table with no rows but the full expected column shape.
func EmptyTable(g Granularity) Table {
	cols := make([]Column, len(AllColumns))
	copy(cols, AllColumns)
	return Table{Granularity: g, Columns: cols}
}

func (t Table) HasColumn(c Column) bool {
	for _, col := range t.Columns {
		if col == c {
			return true
		}
	}
	return false
}

func (t Table) Empty() bool {
	return len(t.Rows) == 0
}

// Values returns the present values of a column together with the index of the
// row each value came from.
func (t Table) Values(c Column) (values []float64, rows []int) {
	if !t.HasColumn(c) {
		return nil, nil
	}
	for i, r := range t.Rows {
		if v := r.Value(c); v.Valid {
			values = append(values, v.Float64)
			rows = append(rows, i)
		}
	}
	return values, rows
}

// Date truncates t to UTC midnight.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
