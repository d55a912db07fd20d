package agent

import (
	"fmt"
	"sort"

	"github.com/mtconnect-agent/backend/internal/buffer"
	"github.com/mtconnect-agent/backend/internal/models"
)

// StreamQuery selects the observations of a streams response.
type StreamQuery struct {
	// DeviceKey is a device uuid or name; empty selects every device.
	DeviceKey string
	// DataItemIDs restricts the response to these data item ids or names.
	DataItemIDs []string

	// At reconstructs the current state as of a sequence (current only).
	At int64
	// From, To and Count select a sequence range (sample only). Values <= 0
	// for From and To mean "not given".
	From  int64
	To    int64
	Count int
}

type target struct {
	device *models.Device
	keys   []int
	items  map[int]models.BoundDataItem
	// component ids in model order
	components []string
}

// GetCurrentSnapshot returns the latest observation of every selected data
// item. With q.At set, the state is rebuilt from the history buffer as of
// that sequence.
func (a *Agent) GetCurrentSnapshot(q StreamQuery) (*models.StreamsResponse, error) {
	targets, keys, err := a.resolveTargets(q)
	if err != nil {
		return nil, err
	}

	var result buffer.QueryResult
	if q.At > 0 {
		result = a.history.GetCurrentObservations(keys, q.At)
	} else {
		result = buffer.QueryResult{Window: a.history.Window()}
		result.Resume = result.NextSequence
		result.Observations = a.current.Snapshot(keys)
	}
	return a.buildStreams(targets, result), nil
}

// GetHistorySnapshot returns the observations of the selected data items in
// a sequence range.
func (a *Agent) GetHistorySnapshot(q StreamQuery) (*models.StreamsResponse, error) {
	targets, keys, err := a.resolveTargets(q)
	if err != nil {
		return nil, err
	}
	result := a.history.GetObservations(keys, q.From, q.To, q.Count)
	return a.buildStreams(targets, result), nil
}

func (a *Agent) resolveTargets(q StreamQuery) ([]*target, []int, error) {
	var devices []*models.Device
	if q.DeviceKey != "" {
		dev := a.Device(q.DeviceKey)
		if dev == nil {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownDevice, q.DeviceKey)
		}
		devices = []*models.Device{dev}
	} else {
		devices = a.index.Devices()
	}

	var wanted map[string]bool
	if len(q.DataItemIDs) > 0 {
		wanted = make(map[string]bool, len(q.DataItemIDs))
		for _, id := range q.DataItemIDs {
			wanted[id] = false
		}
	}

	targets := make([]*target, 0, len(devices))
	keys := make([]int, 0)
	for _, dev := range devices {
		t := &target{device: dev, items: make(map[int]models.BoundDataItem)}
		seen := make(map[string]bool)
		for _, bound := range a.index.DataItems(dev.UUID) {
			di := bound.DataItem
			if wanted != nil {
				_, byID := wanted[di.ID]
				_, byName := wanted[di.Name]
				if !byID && !(di.Name != "" && byName) {
					continue
				}
				if byID {
					wanted[di.ID] = true
				}
				if byName {
					wanted[di.Name] = true
				}
			}
			key, ok := a.index.BufferKeyFor(dev.UUID, di.ID)
			if !ok {
				continue
			}
			t.keys = append(t.keys, key)
			t.items[key] = bound
			if !seen[bound.ComponentID] {
				seen[bound.ComponentID] = true
				t.components = append(t.components, bound.ComponentID)
			}
		}
		keys = append(keys, t.keys...)
		targets = append(targets, t)
	}

	for id, found := range wanted {
		if !found {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownDataItem, id)
		}
	}
	return targets, keys, nil
}

// buildStreams groups a flat record list into device and component streams.
// Records are sorted by buffer key once and then consumed in a single pass;
// buffer keys of one device are contiguous because the device index is the
// high part of the key.
func (a *Agent) buildStreams(targets []*target, result buffer.QueryResult) *models.StreamsResponse {
	header := a.Header()
	header.FirstSequence = result.FirstSequence
	header.LastSequence = result.LastSequence
	header.NextSequence = result.Resume

	resp := &models.StreamsResponse{
		Header:     header,
		Streams:    make([]models.DeviceStream, 0, len(targets)),
		OutOfRange: result.OutOfRange,
	}

	recs := result.Observations
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].BufferKey != recs[j].BufferKey {
			return recs[i].BufferKey < recs[j].BufferKey
		}
		return recs[i].Sequence < recs[j].Sequence
	})

	byKey := make(map[int]*target, len(recs))
	for _, t := range targets {
		for _, k := range t.keys {
			byKey[k] = t
		}
	}

	streams := make(map[*target]map[string]*models.ComponentStream, len(targets))
	for _, rec := range recs {
		t, ok := byKey[rec.BufferKey]
		if !ok {
			continue
		}
		bound := t.items[rec.BufferKey]
		comps := streams[t]
		if comps == nil {
			comps = make(map[string]*models.ComponentStream)
			streams[t] = comps
		}
		cs := comps[bound.ComponentID]
		if cs == nil {
			cs = &models.ComponentStream{
				Component:   bound.ComponentType,
				ComponentID: bound.ComponentID,
				Name:        bound.ComponentName,
			}
			comps[bound.ComponentID] = cs
		}

		out := toOutput(bound.DataItem, rec)
		switch rec.Category {
		case models.CategorySample:
			cs.Samples = append(cs.Samples, out)
		case models.CategoryCondition:
			cs.Conditions = append(cs.Conditions, out)
		default:
			cs.Events = append(cs.Events, out)
		}

		if resp.ReturnedCount == 0 || rec.Sequence < resp.FirstReturned {
			resp.FirstReturned = rec.Sequence
		}
		if rec.Sequence > resp.LastReturned {
			resp.LastReturned = rec.Sequence
		}
		resp.ReturnedCount++
	}

	for _, t := range targets {
		ds := models.DeviceStream{
			Name:       t.device.Name,
			UUID:       t.device.UUID,
			Components: make([]models.ComponentStream, 0),
		}
		comps := streams[t]
		for _, id := range t.components {
			if cs, ok := comps[id]; ok {
				ds.Components = append(ds.Components, *cs)
			}
		}
		resp.Streams = append(resp.Streams, ds)
	}
	return resp
}

func toOutput(di *models.DataItem, rec *models.ObservationRecord) models.ObservationOutput {
	return models.ObservationOutput{
		DataItemID:     di.ID,
		Name:           di.Name,
		Type:           di.Type,
		SubType:        di.SubType,
		Category:       rec.Category,
		Representation: rec.Representation,
		Sequence:       rec.Sequence,
		Timestamp:      rec.Timestamp,
		Values:         rec.Values,
	}
}

// GetDevices returns the probe response for one device or all devices.
func (a *Agent) GetDevices(deviceKey string) (*models.DevicesResponse, error) {
	resp := &models.DevicesResponse{Header: a.Header()}
	if deviceKey == "" {
		resp.Devices = a.index.Devices()
		return resp, nil
	}
	dev := a.Device(deviceKey)
	if dev == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceKey)
	}
	resp.Devices = []*models.Device{dev}
	return resp, nil
}
