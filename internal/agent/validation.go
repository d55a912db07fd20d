package agent

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mtconnect-agent/backend/internal/models"
)

// validate checks values against the category, representation and
// constraints of di. On failure it returns the values with the offending
// entries removed together with an error wrapping ErrValidation. A nil or
// empty cleaned set means nothing valid remains.
func validate(di *models.DataItem, values models.ObservationValues) (models.ObservationValues, error) {
	if di.Category == models.CategoryCondition {
		level := values.Level()
		if !level.IsValid() {
			return nil, fmt.Errorf("%w: %s has invalid condition level %q", ErrValidation, di.ID, level)
		}
		return values, nil
	}

	result, hasResult := values.Get(models.ValueKeyResult)
	unavailable := hasResult && result == models.Unavailable

	var bad []string
	var problems []string
	reject := func(key, problem string) {
		bad = append(bad, key)
		problems = append(problems, problem)
	}

	switch di.EffectiveRepresentation() {
	case models.RepresentationDataSet:
		if !unavailable && !hasAny(values, models.IsDataSetKey) {
			reject(models.ValueKeyResult, "data set has no entries")
		}
	case models.RepresentationTable:
		if !unavailable && !hasAny(values, models.IsTableKey) {
			reject(models.ValueKeyResult, "table has no cells")
		}
	case models.RepresentationTimeSeries:
		if unavailable {
			break
		}
		n := count(values, models.IsTimeSeriesKey)
		if n == 0 {
			reject(models.ValueKeyResult, "time series has no samples")
			break
		}
		if sc, ok := values.Get(models.ValueKeySampleCount); ok {
			if c, err := strconv.Atoi(sc); err != nil || c != n {
				reject(models.ValueKeySampleCount, fmt.Sprintf("sample count %q does not match %d samples", sc, n))
			}
		}
	default:
		if !hasResult || unavailable {
			break
		}
		if di.Category == models.CategorySample {
			if err := checkNumeric(result, di.Constraints); err != "" {
				reject(models.ValueKeyResult, err)
			}
		} else if di.Constraints != nil && len(di.Constraints.Values) > 0 && !contains(di.Constraints.Values, result) {
			reject(models.ValueKeyResult, fmt.Sprintf("value %q is not allowed", result))
		}
	}

	if len(bad) == 0 {
		return values, nil
	}
	return strip(values, bad), fmt.Errorf("%w: %s: %s", ErrValidation, di.ID, strings.Join(problems, "; "))
}

// checkNumeric verifies every element of a scalar or vector sample.
func checkNumeric(result string, c *models.Constraints) string {
	fields := strings.Fields(result)
	if len(fields) == 0 {
		return "empty sample"
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return fmt.Sprintf("sample %q is not numeric", result)
		}
		if c == nil {
			continue
		}
		if c.Minimum != nil && v < *c.Minimum {
			return fmt.Sprintf("sample %v is below minimum %v", v, *c.Minimum)
		}
		if c.Maximum != nil && v > *c.Maximum {
			return fmt.Sprintf("sample %v is above maximum %v", v, *c.Maximum)
		}
	}
	return ""
}

func hasAny(values models.ObservationValues, match func(string) bool) bool {
	return count(values, match) > 0
}

func count(values models.ObservationValues, match func(string) bool) int {
	n := 0
	for _, v := range values {
		if match(v.Key) {
			n++
		}
	}
	return n
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func strip(values models.ObservationValues, keys []string) models.ObservationValues {
	out := make(models.ObservationValues, 0, len(values))
	for _, v := range values {
		if !contains(keys, v.Key) {
			out = append(out, v)
		}
	}
	return out
}
