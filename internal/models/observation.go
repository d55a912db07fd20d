package models

import (
	"fmt"
	"strings"
	"time"
)

// Value keys carried by observations.
const (
	ValueKeyResult         = "Result"
	ValueKeyLevel          = "Level"
	ValueKeyNativeCode     = "NativeCode"
	ValueKeyNativeSeverity = "NativeSeverity"
	ValueKeyQualifier      = "Qualifier"
	ValueKeyAssetType      = "AssetType"
	ValueKeySampleCount    = "SampleCount"
	ValueKeySampleRate     = "SampleRate"
	ValueKeyResetTriggered = "ResetTriggered"

	valueKeyDataSet    = "DataSet"
	valueKeyTable      = "Table"
	valueKeyTimeSeries = "TimeSeries"
)

// Unavailable is the value reported when a data item has no known value.
const Unavailable = "UNAVAILABLE"

// ConditionLevel is the state of a CONDITION data item.
type ConditionLevel string

const (
	ConditionUnavailable ConditionLevel = "UNAVAILABLE"
	ConditionNormal      ConditionLevel = "NORMAL"
	ConditionWarning     ConditionLevel = "WARNING"
	ConditionFault       ConditionLevel = "FAULT"
)

// IsValid reports whether the level is one of the known condition levels.
func (l ConditionLevel) IsValid() bool {
	switch l {
	case ConditionUnavailable, ConditionNormal, ConditionWarning, ConditionFault:
		return true
	}
	return false
}

// ObservationValue is one (key, value) pair of an observation.
type ObservationValue struct {
	Key   string `json:"key" msgpack:"key" cbor:"key"`
	Value string `json:"value" msgpack:"value" cbor:"value"`
}

// ObservationValues is the ordered value set of a single observation.
type ObservationValues []ObservationValue

// Get returns the value stored under key.
func (v ObservationValues) Get(key string) (string, bool) {
	for i := len(v) - 1; i >= 0; i-- {
		if v[i].Key == key {
			return v[i].Value, true
		}
	}
	return "", false
}

// Result is shorthand for Get(ValueKeyResult).
func (v ObservationValues) Result() string {
	r, _ := v.Get(ValueKeyResult)
	return r
}

// Level returns the condition level of the values.
func (v ObservationValues) Level() ConditionLevel {
	l, _ := v.Get(ValueKeyLevel)
	return ConditionLevel(l)
}

// NativeCode returns the native fault code of a condition.
func (v ObservationValues) NativeCode() string {
	c, _ := v.Get(ValueKeyNativeCode)
	return c
}

// Set replaces the value under key or appends it.
func (v ObservationValues) Set(key, value string) ObservationValues {
	for i := range v {
		if v[i].Key == key {
			v[i].Value = value
			return v
		}
	}
	return append(v, ObservationValue{Key: key, Value: value})
}

// Normalize removes duplicate keys. The first position of a key is kept
// together with the last value written for it.
func (v ObservationValues) Normalize() ObservationValues {
	if len(v) < 2 {
		return v
	}
	pos := make(map[string]int, len(v))
	out := make(ObservationValues, 0, len(v))
	for _, ov := range v {
		if i, ok := pos[ov.Key]; ok {
			out[i].Value = ov.Value
			continue
		}
		pos[ov.Key] = len(out)
		out = append(out, ov)
	}
	return out
}

// Clone returns a copy that does not share storage with v.
func (v ObservationValues) Clone() ObservationValues {
	if v == nil {
		return nil
	}
	out := make(ObservationValues, len(v))
	copy(out, v)
	return out
}

// DataSetKey returns the value key of a DATA_SET entry.
func DataSetKey(key string) string {
	return valueKeyDataSet + "[" + key + "]"
}

// TableKey returns the value key of a TABLE cell.
func TableKey(row, cell string) string {
	return valueKeyTable + "[" + row + "][" + cell + "]"
}

// TimeSeriesKey returns the value key of the n-th TIME_SERIES sample.
func TimeSeriesKey(n int) string {
	return fmt.Sprintf("%s[%d]", valueKeyTimeSeries, n)
}

// IsDataSetKey reports whether key addresses a DATA_SET entry.
func IsDataSetKey(key string) bool {
	return strings.HasPrefix(key, valueKeyDataSet+"[")
}

// IsTableKey reports whether key addresses a TABLE cell.
func IsTableKey(key string) bool {
	return strings.HasPrefix(key, valueKeyTable+"[")
}

// IsTimeSeriesKey reports whether key addresses a TIME_SERIES sample.
func IsTimeSeriesKey(key string) bool {
	return strings.HasPrefix(key, valueKeyTimeSeries+"[")
}

// ObservationInput is an observation as submitted by an adapter or client.
type ObservationInput struct {
	DeviceKey   string            `json:"device"`
	DataItemKey string            `json:"dataItem"`
	Values      ObservationValues `json:"values"`
	Timestamp   time.Time         `json:"timestamp"`
}

// ObservationRecord is an accepted observation. Records are immutable once
// stored in the history buffer.
type ObservationRecord struct {
	BufferKey      int               `json:"bufferKey" msgpack:"bufferKey" cbor:"bufferKey"`
	DeviceUUID     string            `json:"deviceUuid" msgpack:"deviceUuid" cbor:"deviceUuid"`
	DataItemID     string            `json:"dataItemId" msgpack:"dataItemId" cbor:"dataItemId"`
	Category       Category          `json:"category" msgpack:"category" cbor:"category"`
	Representation Representation    `json:"representation" msgpack:"representation" cbor:"representation"`
	Values         ObservationValues `json:"values" msgpack:"values" cbor:"values"`
	Sequence       int64             `json:"sequence" msgpack:"sequence" cbor:"sequence"`
	Timestamp      time.Time         `json:"timestamp" msgpack:"timestamp" cbor:"timestamp"`
	Hash           uint64            `json:"-" msgpack:"-" cbor:"-"`
}
