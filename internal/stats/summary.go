package stats

import (
	"time"

	"github.com/lox/kasselweather/internal/models"
)

// Extreme pairs a date with the value that made it extreme.
type Extreme struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

type TemperatureStats struct {
	Mean    float64 `json:"mean"`
	Max     float64 `json:"max"`
	Min     float64 `json:"min"`
	Std     float64 `json:"std"`
	Hottest Extreme `json:"hottestDay"`
	Coldest Extreme `json:"coldestDay"`
}

type PrecipitationStats struct {
	Total     float64 `json:"total"`
	Mean      float64 `json:"mean"`
	Max       float64 `json:"max"`
	RainyDays int     `json:"rainyDays"`
	Rainiest  Extreme `json:"rainiestDay"`
}

type WindStats struct {
	Mean     float64 `json:"mean"`
	Max      float64 `json:"max"`
	Windiest Extreme `json:"windiestDay"`
}

type SunshineStats struct {
	Total float64 `json:"total"`
	Mean  float64 `json:"mean"`
}

// Summary holds one optional group per metric family. A nil group means the
// source table had no usable data for it; there are no zero placeholders.
type Summary struct {
	Rows          int                 `json:"rows"`
	Temperature   *TemperatureStats   `json:"temperature,omitempty"`
	Precipitation *PrecipitationStats `json:"precipitation,omitempty"`
	Wind          *WindStats          `json:"wind,omitempty"`
	Sunshine      *SunshineStats      `json:"sunshine,omitempty"`
}

func (s Summary) HasTemperature() bool   { return s.Temperature != nil }
func (s Summary) HasPrecipitation() bool { return s.Precipitation != nil }
func (s Summary) HasWind() bool          { return s.Wind != nil }
func (s Summary) HasSunshine() bool      { return s.Sunshine != nil }

// Compute builds a Summary from the table. Extremes resolve ties to the first
// occurring row.
func Compute(t models.Table) Summary {
	s := Summary{Rows: len(t.Rows)}
	s.Temperature = temperature(t)
	s.Precipitation = precipitation(t)
	s.Wind = wind(t)
	s.Sunshine = sunshine(t)
	return s
}

func temperature(t models.Table) *TemperatureStats {
	avg, _ := t.Values(models.ColTAvg)
	highs, highRows := t.Values(models.ColTMax)
	lows, lowRows := t.Values(models.ColTMin)
	if len(avg) == 0 || len(highs) == 0 || len(lows) == 0 {
		return nil
	}

	hi := argMax(highs)
	lo := argMin(lows)
	return &TemperatureStats{
		Mean:    mean(avg),
		Max:     highs[hi],
		Min:     lows[lo],
		Std:     sampleStd(avg),
		Hottest: Extreme{Date: t.Rows[highRows[hi]].Date, Value: highs[hi]},
		Coldest: Extreme{Date: t.Rows[lowRows[lo]].Date, Value: lows[lo]},
	}
}

func precipitation(t models.Table) *PrecipitationStats {
	values, rows := t.Values(models.ColPrcp)
	if len(values) == 0 {
		return nil
	}

	rainy := 0
	for _, v := range values {
		if v > 0 {
			rainy++
		}
	}
	i := argMax(values)
	return &PrecipitationStats{
		Total:     sum(values),
		Mean:      mean(values),
		Max:       values[i],
		RainyDays: rainy,
		Rainiest:  Extreme{Date: t.Rows[rows[i]].Date, Value: values[i]},
	}
}

func wind(t models.Table) *WindStats {
	values, rows := t.Values(models.ColWspd)
	if len(values) == 0 {
		return nil
	}
	i := argMax(values)
	return &WindStats{
		Mean:     mean(values),
		Max:      values[i],
		Windiest: Extreme{Date: t.Rows[rows[i]].Date, Value: values[i]},
	}
}

func sunshine(t models.Table) *SunshineStats {
	values, _ := t.Values(models.ColTsun)
	if len(values) == 0 {
		return nil
	}
	return &SunshineStats{Total: sum(values), Mean: mean(values)}
}
