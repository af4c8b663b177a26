package services

import (
	"fmt"
	"math"

	"github.com/volatiletech/null/v8"

	"github.com/soaringjerry/goodenergy/internal/models"
)

// ceilEpsilon keeps float noise such as 60.00000000000001 from rounding up.
const ceilEpsilon = 1e-9

// AsPercentage maps a raw answer value onto 0..100.
//
// Likert: ceil((raw-1) * 100/(levels-1)); a null or zero raw maps to 0.
// Numeric: min(raw * 100/top, 100) where top is the target when set and
// range_end otherwise.
func AsPercentage(ind *models.Indicator, raw null.Float64) (float64, error) {
	if ind == nil {
		return 0, NewInvalidError("indicator is nil")
	}
	switch ind.Scale.Kind {
	case models.ScaleLikert:
		return likertPercentage(ind, raw)
	case models.ScaleNumeric:
		return numericPercentage(ind, raw)
	default:
		return 0, NewConfigurationError(fmt.Sprintf("indicator %s has unknown scale %q", ind.ID, ind.Scale.Kind))
	}
}

func likertPercentage(ind *models.Indicator, raw null.Float64) (float64, error) {
	levels := len(ind.Scale.Levels)
	if levels < 2 {
		return 0, NewConfigurationError(fmt.Sprintf("likert indicator %s needs at least two levels", ind.ID))
	}
	if !raw.Valid || raw.Float64 == 0 {
		return 0, nil
	}
	if raw.Float64 < 1 || raw.Float64 > float64(levels) {
		return 0, NewInvalidError(fmt.Sprintf("value %v outside 1..%d", raw.Float64, levels))
	}
	pct := (raw.Float64 - 1) * 100 / float64(levels-1)
	return math.Ceil(pct - ceilEpsilon), nil
}

func numericPercentage(ind *models.Indicator, raw null.Float64) (float64, error) {
	top := NumericTop(ind)
	if top == 0 {
		return 0, NewConfigurationError(fmt.Sprintf("numeric indicator %s has no target or range end", ind.ID))
	}
	if !raw.Valid {
		return 0, nil
	}
	pct := raw.Float64 * 100 / top
	return math.Max(0, math.Min(pct, 100)), nil
}

// NumericTop returns the target if set, else range_end, else 0.
func NumericTop(ind *models.Indicator) float64 {
	if ind.Scale.Target.Valid && ind.Scale.Target.Float64 != 0 {
		return ind.Scale.Target.Float64
	}
	if ind.Scale.RangeEnd.Valid {
		return ind.Scale.RangeEnd.Float64
	}
	return 0
}

// CanAverage reports whether answers of this scale can be averaged.
func CanAverage(ind *models.Indicator) bool {
	switch ind.Scale.Kind {
	case models.ScaleLikert, models.ScaleNumeric:
		return true
	}
	return false
}

// CanGraph reports whether answers of this scale can be charted.
func CanGraph(ind *models.Indicator) bool {
	switch ind.Scale.Kind {
	case models.ScaleLikert, models.ScaleNumeric:
		return true
	}
	return false
}

// ValidateValue checks a user-submitted raw value against the scale bounds.
func ValidateValue(ind *models.Indicator, v float64) error {
	switch ind.Scale.Kind {
	case models.ScaleLikert:
		n := len(ind.Scale.Levels)
		if v < 1 || v > float64(n) {
			return NewInvalidError(fmt.Sprintf("value must be between 1 and %d", n))
		}
	case models.ScaleNumeric:
		s := ind.Scale
		if s.RangeStart.Valid && v < s.RangeStart.Float64 {
			return NewInvalidError(fmt.Sprintf("value must be at least %v", s.RangeStart.Float64))
		}
		if s.RangeEnd.Valid && v > s.RangeEnd.Float64 {
			return NewInvalidError(fmt.Sprintf("value must be at most %v", s.RangeEnd.Float64))
		}
	default:
		return NewConfigurationError(fmt.Sprintf("indicator %s has unknown scale %q", ind.ID, ind.Scale.Kind))
	}
	return nil
}
