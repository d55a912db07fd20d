package agent

import (
	"sync"

	"github.com/mtconnect-agent/backend/internal/models"
)

// Callback signatures. Callbacks run synchronously on the writer's goroutine
// and must not block. The order in which subscribers are called is not
// defined.
type (
	ObservationReceivedFunc func(models.ObservationInput)
	ObservationAddedFunc    func(*models.ObservationRecord)
	AssetFunc               func(models.AssetRecord)
	InvalidObservationFunc  func(deviceUUID, dataItemKey string, err error)
	InvalidAssetFunc        func(asset models.AssetRecord, err error)
	DeviceAddedFunc         func(device *models.Device, isNew bool)
)

type events struct {
	mu                  sync.RWMutex
	observationReceived []ObservationReceivedFunc
	observationAdded    []ObservationAddedFunc
	assetReceived       []AssetFunc
	assetAdded          []AssetFunc
	assetRemoved        []AssetFunc
	invalidObservation  []InvalidObservationFunc
	invalidAsset        []InvalidAssetFunc
	deviceAdded         []DeviceAddedFunc
}

// OnObservationReceived subscribes to every resolved observation before
// filtering.
func (a *Agent) OnObservationReceived(fn ObservationReceivedFunc) {
	a.events.mu.Lock()
	defer a.events.mu.Unlock()
	a.events.observationReceived = append(a.events.observationReceived, fn)
}

// OnObservationAdded subscribes to observations stored in the history buffer.
func (a *Agent) OnObservationAdded(fn ObservationAddedFunc) {
	a.events.mu.Lock()
	defer a.events.mu.Unlock()
	a.events.observationAdded = append(a.events.observationAdded, fn)
}

// OnAssetReceived subscribes to every asset submitted for a known device.
func (a *Agent) OnAssetReceived(fn AssetFunc) {
	a.events.mu.Lock()
	defer a.events.mu.Unlock()
	a.events.assetReceived = append(a.events.assetReceived, fn)
}

// OnAssetAdded subscribes to assets that were stored or changed.
func (a *Agent) OnAssetAdded(fn AssetFunc) {
	a.events.mu.Lock()
	defer a.events.mu.Unlock()
	a.events.assetAdded = append(a.events.assetAdded, fn)
}

// OnAssetRemoved subscribes to removed and evicted assets.
func (a *Agent) OnAssetRemoved(fn AssetFunc) {
	a.events.mu.Lock()
	defer a.events.mu.Unlock()
	a.events.assetRemoved = append(a.events.assetRemoved, fn)
}

// OnInvalidObservation subscribes to rejected or corrected observations.
func (a *Agent) OnInvalidObservation(fn InvalidObservationFunc) {
	a.events.mu.Lock()
	defer a.events.mu.Unlock()
	a.events.invalidObservation = append(a.events.invalidObservation, fn)
}

// OnInvalidAsset subscribes to rejected or flagged assets.
func (a *Agent) OnInvalidAsset(fn InvalidAssetFunc) {
	a.events.mu.Lock()
	defer a.events.mu.Unlock()
	a.events.invalidAsset = append(a.events.invalidAsset, fn)
}

// OnDeviceAdded subscribes to device registrations.
func (a *Agent) OnDeviceAdded(fn DeviceAddedFunc) {
	a.events.mu.Lock()
	defer a.events.mu.Unlock()
	a.events.deviceAdded = append(a.events.deviceAdded, fn)
}

func (e *events) fireObservationReceived(in models.ObservationInput) {
	e.mu.RLock()
	subs := e.observationReceived
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(in)
	}
}

func (e *events) fireObservationAdded(rec *models.ObservationRecord) {
	e.mu.RLock()
	subs := e.observationAdded
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(rec)
	}
}

func (e *events) fireAsset(list func(*events) []AssetFunc, rec models.AssetRecord) {
	e.mu.RLock()
	subs := list(e)
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(rec)
	}
}

func (e *events) fireInvalidObservation(deviceUUID, key string, err error) {
	e.mu.RLock()
	subs := e.invalidObservation
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(deviceUUID, key, err)
	}
}

func (e *events) fireInvalidAsset(rec models.AssetRecord, err error) {
	e.mu.RLock()
	subs := e.invalidAsset
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(rec, err)
	}
}

func (e *events) fireDeviceAdded(device *models.Device, isNew bool) {
	e.mu.RLock()
	subs := e.deviceAdded
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(device, isNew)
	}
}

func assetReceived(e *events) []AssetFunc { return e.assetReceived }
func assetAdded(e *events) []AssetFunc    { return e.assetAdded }
func assetRemoved(e *events) []AssetFunc  { return e.assetRemoved }
