package agent

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mtconnect-agent/backend/internal/buffer"
	"github.com/mtconnect-agent/backend/internal/config"
	"github.com/mtconnect-agent/backend/internal/models"
	"github.com/mtconnect-agent/backend/internal/units"
)

func (a *Agent) inputOptions(opts *InputOptions) InputOptions {
	if opts != nil {
		return *opts
	}
	return InputOptions{
		ConvertUnits:    a.opts.ConvertUnits,
		IgnoreCase:      a.opts.IgnoreCase,
		IgnoreTimestamp: a.opts.IgnoreTimestamps,
	}
}

// AddObservation resolves, normalizes, validates and stores an observation.
//
// It returns false only when the device or data item is unknown, or when
// strict validation rejects the values. Filtered and unchanged observations
// return true without touching the history buffer.
func (a *Agent) AddObservation(deviceKey, dataItemKey string, values models.ObservationValues, ts time.Time, opts *InputOptions) bool {
	a.counters.observationsReceived.Add(1)

	deviceUUID := a.index.ResolveDeviceUUID(deviceKey)
	if deviceUUID == "" {
		a.invalidObservation(deviceKey, dataItemKey, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceKey))
		return false
	}
	bound, ok := a.index.ResolveDataItem(deviceUUID, dataItemKey)
	if !ok {
		a.invalidObservation(deviceUUID, dataItemKey, fmt.Errorf("%w: %s", ErrUnknownDataItem, dataItemKey))
		return false
	}
	di := bound.DataItem
	in := a.inputOptions(opts)

	values = values.Clone().Normalize()
	if in.IgnoreTimestamp || ts.IsZero() {
		ts = a.now()
	}
	a.events.fireObservationReceived(models.ObservationInput{
		DeviceKey:   deviceUUID,
		DataItemKey: di.ID,
		Values:      values.Clone(),
		Timestamp:   ts,
	})

	if in.IgnoreCase {
		values = upperCase(values)
	}
	if in.ConvertUnits && di.Category == models.CategorySample {
		values = convertUnits(di, values)
	}

	if a.opts.ValidationLevel != config.ValidationIgnore {
		cleaned, err := validate(di, values)
		if err != nil {
			a.invalidObservation(deviceUUID, di.ID, err)
			switch a.opts.ValidationLevel {
			case config.ValidationStrict:
				return false
			case config.ValidationRemove:
				if len(cleaned) == 0 {
					return true
				}
				values = cleaned
			}
		}
	}

	a.store(deviceUUID, di, values, ts)
	return true
}

// writeInternal stores an observation generated by the agent itself,
// bypassing normalization and validation.
func (a *Agent) writeInternal(deviceUUID, dataItemID string, values models.ObservationValues, ts time.Time) bool {
	bound, ok := a.index.ResolveDataItem(deviceUUID, dataItemID)
	if !ok {
		a.log.Warn("internal data item missing",
			zap.String("device", deviceUUID),
			zap.String("dataItem", dataItemID))
		return false
	}
	return a.store(deviceUUID, bound.DataItem, values, ts)
}

// store runs the current value update and, when the update is material,
// appends the record to the history buffer under the cache lock. It reports
// whether the observation was stored.
func (a *Agent) store(deviceUUID string, di *models.DataItem, values models.ObservationValues, ts time.Time) bool {
	key, ok := a.index.BufferKeyFor(deviceUUID, di.ID)
	if !ok {
		return false
	}
	rec := &models.ObservationRecord{
		BufferKey:      key,
		DeviceUUID:     deviceUUID,
		DataItemID:     di.ID,
		Category:       di.Category,
		Representation: di.EffectiveRepresentation(),
		Values:         values,
		Timestamp:      ts,
	}

	var stored *models.ObservationRecord
	commit := func(r *models.ObservationRecord) *models.ObservationRecord {
		stored = a.history.AddObservation(r)
		return stored
	}

	var changed bool
	if di.Category == models.CategoryCondition {
		changed = a.current.UpdateCondition(rec, commit)
	} else {
		changed = a.current.UpdateObservation(di, rec, commit)
	}
	if !changed {
		return false
	}
	if stored == nil {
		stored = rec
	}

	a.counters.observationsAdded.Add(1)
	a.events.fireObservationAdded(stored)
	return true
}

func (a *Agent) invalidObservation(deviceUUID, key string, err error) {
	a.counters.invalidObservations.Add(1)
	a.log.Debug("invalid observation",
		zap.String("device", deviceUUID),
		zap.String("dataItem", key),
		zap.Error(err))
	a.events.fireInvalidObservation(deviceUUID, key, err)
}

// SetDeviceUnavailable reports every data item of a device as UNAVAILABLE,
// except the asset data items the agent manages. It returns false when the
// device is unknown.
func (a *Agent) SetDeviceUnavailable(deviceKey string, ts time.Time) bool {
	deviceUUID := a.index.ResolveDeviceUUID(deviceKey)
	if deviceUUID == "" {
		return false
	}
	if ts.IsZero() {
		ts = a.now()
	}
	for _, bound := range a.index.DataItems(deviceUUID) {
		di := bound.DataItem
		switch di.Type {
		case models.TypeAssetChanged, models.TypeAssetRemoved, models.TypeAssetCount:
			continue
		}
		a.store(deviceUUID, di, unavailableValues(di), ts)
	}
	return true
}

// ActiveConditions returns the unresolved WARNING and FAULT entries of a
// condition data item, newest first.
func (a *Agent) ActiveConditions(deviceKey, dataItemKey string) []*models.ObservationRecord {
	deviceUUID := a.index.ResolveDeviceUUID(deviceKey)
	if deviceUUID == "" {
		return nil
	}
	bound, ok := a.index.ResolveDataItem(deviceUUID, dataItemKey)
	if !ok {
		return nil
	}
	key, ok := a.index.BufferKeyFor(deviceUUID, bound.DataItem.ID)
	if !ok {
		return nil
	}
	return buffer.ActiveConditions(a.current.Conditions(key))
}

func unavailableValues(di *models.DataItem) models.ObservationValues {
	if di.Category == models.CategoryCondition {
		return models.ObservationValues{{Key: models.ValueKeyLevel, Value: string(models.ConditionUnavailable)}}
	}
	return models.ObservationValues{{Key: models.ValueKeyResult, Value: models.Unavailable}}
}

func upperCase(values models.ObservationValues) models.ObservationValues {
	for i := range values {
		switch values[i].Key {
		case models.ValueKeyResult, models.ValueKeyLevel:
			values[i].Value = strings.ToUpper(values[i].Value)
		}
	}
	return values
}

func convertUnits(di *models.DataItem, values models.ObservationValues) models.ObservationValues {
	if di.NativeUnits == "" && di.NativeScale == 0 {
		return values
	}
	for i := range values {
		if values[i].Key != models.ValueKeyResult && !models.IsTimeSeriesKey(values[i].Key) {
			continue
		}
		if values[i].Value == models.Unavailable {
			continue
		}
		if converted, ok := units.Convert(values[i].Value, di.NativeUnits, di.Units, di.NativeScale); ok {
			values[i].Value = converted
		}
	}
	return values
}
