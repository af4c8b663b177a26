package services

import (
	"strconv"

	"github.com/volatiletech/null/v8"

	"github.com/soaringjerry/goodenergy/internal/models"
)

// GraphAxis is the Y axis of an indicator chart.
type GraphAxis struct {
	Ticks  []float64
	Labels []string
}

// BuildGraphAxis lays out Y ticks and labels. maxValue is the highest answer
// the charted user gave, used to size numeric axes.
func BuildGraphAxis(ind *models.Indicator, maxValue null.Float64) GraphAxis {
	switch ind.Scale.Kind {
	case models.ScaleLikert:
		axis := GraphAxis{}
		for _, l := range ind.Scale.Levels {
			axis.Ticks = append(axis.Ticks, float64(l.Position))
			axis.Labels = append(axis.Labels, l.Label)
		}
		return axis
	case models.ScaleNumeric:
		ticks := numericTicks(ind.Scale, maxValue)
		axis := GraphAxis{Ticks: make([]float64, 0, len(ticks)), Labels: make([]string, 0, len(ticks))}
		for _, t := range ticks {
			axis.Ticks = append(axis.Ticks, float64(t))
			label := strconv.Itoa(t)
			if ind.Scale.IsPercentage {
				label += "%"
			}
			axis.Labels = append(axis.Labels, label)
		}
		return axis
	}
	return GraphAxis{}
}

func numericTicks(sc models.Scale, maxValue null.Float64) []int {
	start := int(sc.RangeStart.Float64)
	var end, step int
	if sc.IsPercentage {
		end, step = 100, 10
	} else {
		switch {
		case maxValue.Valid && maxValue.Float64 != 0:
			end = int(maxValue.Float64)
		case sc.RangeEnd.Valid:
			end = int(sc.RangeEnd.Float64)
		}
		step = tickStep(end - start)
		end = end + step + 1
	}
	var ticks []int
	for v := start; v < end; v += step {
		ticks = append(ticks, v)
	}
	if len(ticks) == 0 || ticks[len(ticks)-1] != end {
		ticks = append(ticks, end)
	}
	return ticks
}

func tickStep(span int) int {
	switch {
	case span >= 1000:
		return 100
	case span >= 500:
		return 50
	case span >= 150:
		return 20
	case span >= 100:
		return 10
	case span > 50:
		return 5
	case span > 10:
		return 2
	}
	return 1
}

// DisplayType names the widget used to answer and chart the indicator.
func DisplayType(ind *models.Indicator) string {
	return string(ind.Scale.Kind)
}
