package buffer

import "github.com/mtconnect-agent/backend/internal/models"

// MergeCondition applies a new condition observation to the list of
// unresolved conditions of a data item. The returned list is newest first.
//
// UNAVAILABLE, and NORMAL without a native code, replace the whole list.
// Otherwise entries with a different native code that are still active
// are retained; an entry with the same code is superseded. NORMAL with a
// native code clears only that code.
func MergeCondition(prev []*models.ObservationRecord, rec *models.ObservationRecord) []*models.ObservationRecord {
	level := rec.Values.Level()
	code := rec.Values.NativeCode()

	if level == models.ConditionUnavailable || (level == models.ConditionNormal && code == "") {
		return []*models.ObservationRecord{rec}
	}

	retained := make([]*models.ObservationRecord, 0, len(prev))
	for _, p := range prev {
		if !isActiveCondition(p) {
			continue
		}
		if p.Values.NativeCode() == code {
			continue
		}
		retained = append(retained, p)
	}

	if level == models.ConditionNormal {
		if len(retained) == 0 {
			return []*models.ObservationRecord{rec}
		}
		return retained
	}

	out := make([]*models.ObservationRecord, 0, len(retained)+1)
	out = append(out, rec)
	return append(out, retained...)
}

// ActiveConditions returns the entries of a condition list that describe an
// active warning or fault.
func ActiveConditions(list []*models.ObservationRecord) []*models.ObservationRecord {
	out := make([]*models.ObservationRecord, 0, len(list))
	for _, rec := range list {
		if isActiveCondition(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func isActiveCondition(rec *models.ObservationRecord) bool {
	switch rec.Values.Level() {
	case models.ConditionUnavailable, models.ConditionNormal:
		return false
	}
	return true
}
