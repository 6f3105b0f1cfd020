package ingest

import (
	"github.com/lox/kasselweather/internal/models"
)

const (
	FlagTempOutOfRange     = "temp_out_of_range"
	FlagTempInverted       = "tmin_above_tmax"
	FlagPrecipNegative     = "precip_negative"
	FlagWindSpeedUnlikely  = "wind_speed_unlikely"
	FlagPressureOutOfRange = "pressure_out_of_range"
	FlagSunshineInvalid    = "sunshine_invalid"
)

// ValidateObservation reports implausible values. Flagged rows are kept;
// the flags are informational.
func ValidateObservation(obs *models.Observation, g models.Granularity) []string {
	var flags []string

	for _, v := range []models.Column{models.ColTAvg, models.ColTMin, models.ColTMax} {
		if t := obs.Value(v); t.Valid && (t.Float64 < -50 || t.Float64 > 50) {
			flags = append(flags, FlagTempOutOfRange)
			break
		}
	}

	if obs.TMin.Valid && obs.TMax.Valid && obs.TMin.Float64 > obs.TMax.Float64 {
		flags = append(flags, FlagTempInverted)
	}

	if obs.Prcp.Valid && obs.Prcp.Float64 < 0 {
		flags = append(flags, FlagPrecipNegative)
	}

	if obs.Wspd.Valid && (obs.Wspd.Float64 < 0 || obs.Wspd.Float64 > 200) {
		flags = append(flags, FlagWindSpeedUnlikely)
	}

	if obs.Pres.Valid && (obs.Pres.Float64 < 900 || obs.Pres.Float64 > 1100) {
		flags = append(flags, FlagPressureOutOfRange)
	}

	if obs.Tsun.Valid {
		// Minutes of sunshine; a day has 1440, a month at most 31 of them.
		limit := 1440.0
		if g == models.Monthly {
			limit = 31 * 1440
		}
		if obs.Tsun.Float64 < 0 || obs.Tsun.Float64 > limit {
			flags = append(flags, FlagSunshineInvalid)
		}
	}

	return flags
}
