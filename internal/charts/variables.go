package charts

import (
	"fmt"

	"github.com/lox/kasselweather/internal/models"
	"github.com/lox/kasselweather/internal/stats"
)

// Palette colours.
const (
	ColorTemp    = "#FF9500"
	ColorPrcp    = "#1E88E5"
	ColorWind    = "#76FF03"
	ColorSun     = "#FFEB3B"
	ColorWinter  = "#00BCD4"
	ColorSpring  = "#8BC34A"
	ColorSummer  = "#FF5722"
	ColorAutumn  = "#795548"
	ColorRolling = "#FF0000"
)

var variableTitles = map[models.Column]string{
	models.ColTAvg: "Durchschnittstemperatur",
	models.ColTMax: "Maximale Temperatur",
	models.ColTMin: "Minimale Temperatur",
	models.ColPrcp: "Niederschlag",
	models.ColWspd: "Windgeschwindigkeit",
}

var variableUnits = map[models.Column]string{
	models.ColTAvg: "°C",
	models.ColTMax: "°C",
	models.ColTMin: "°C",
	models.ColPrcp: "mm",
	models.ColWspd: "km/h",
}

// VariableTitle is the display name of a column, or the column name itself.
func VariableTitle(c models.Column) string {
	if t, ok := variableTitles[c]; ok {
		return t
	}
	return string(c)
}

// VariableLabel is the axis label for a column, e.g. "Niederschlag (mm)".
func VariableLabel(c models.Column) string {
	return fmt.Sprintf("%s (%s)", VariableTitle(c), variableUnits[c])
}

func variableColor(c models.Column) string {
	switch c {
	case models.ColPrcp:
		return ColorPrcp
	case models.ColWspd, models.ColWpgt:
		return ColorWind
	case models.ColTsun:
		return ColorSun
	}
	return ColorTemp
}

var seasonLabels = map[stats.Season]string{
	stats.Spring: "Frühling",
	stats.Summer: "Sommer",
	stats.Autumn: "Herbst",
	stats.Winter: "Winter",
}

var seasonColors = map[stats.Season]string{
	stats.Spring: ColorSpring,
	stats.Summer: ColorSummer,
	stats.Autumn: ColorAutumn,
	stats.Winter: ColorWinter,
}

// SeasonLabel is the display name of a season.
func SeasonLabel(s stats.Season) string {
	return seasonLabels[s]
}

func seasonCategories() []string {
	out := make([]string, len(stats.Seasons))
	for i, s := range stats.Seasons {
		out[i] = seasonLabels[s]
	}
	return out
}
