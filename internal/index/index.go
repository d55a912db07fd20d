// Package index maps device and data item string identities to dense
// integers. The integers are combined into buffer keys that address the
// current value cache and the observation history buffer without string
// concatenation on the hot path.
package index

import (
	"strings"
	"sync"

	"github.com/mtconnect-agent/backend/internal/models"
)

// MaxDataItems is the capacity of the data item index space. Data item
// indices at or above this value collide with the next device's keys.
const MaxDataItems = 10000

// BufferKey combines a device index and a data item index.
func BufferKey(deviceIndex, dataItemIndex int) int {
	return deviceIndex*MaxDataItems + dataItemIndex
}

// DecodeBufferKey splits a buffer key into its device and data item indices.
func DecodeBufferKey(key int) (deviceIndex, dataItemIndex int) {
	return key / MaxDataItems, key % MaxDataItems
}

type deviceEntry struct {
	index  int
	device *models.Device
	items  []models.BoundDataItem

	// lookup tables; values are positions in items
	byID          map[string]int
	byName        map[string]int
	bySourceID    map[string]int
	bySourceValue map[string]int
}

// Index is the device model index. Allocation is guarded by a single
// coarse lock; lookups take the read lock.
type Index struct {
	mu sync.RWMutex

	lastDevice   int
	lastDataItem int

	deviceIdx   map[string]int // uuid -> device index
	dataItemIdx map[string]int // uuid + "\x00" + id -> data item index

	devices    map[string]*deviceEntry // uuid -> entry
	names      map[string]string       // name -> uuid
	lowerNames map[string]string       // lower(name) -> uuid
	order      []string                // uuids in registration order
}

// New creates an empty index.
func New() *Index {
	return &Index{
		deviceIdx:   make(map[string]int),
		dataItemIdx: make(map[string]int),
		devices:     make(map[string]*deviceEntry),
		names:       make(map[string]string),
		lowerNames:  make(map[string]string),
	}
}

func pairKey(deviceUUID, dataItemID string) string {
	return deviceUUID + "\x00" + dataItemID
}

// GetOrCreateDeviceIndex returns the index of the device, allocating the
// next one on first reference. Indices start at 1 and are never reused.
func (ix *Index) GetOrCreateDeviceIndex(uuid string) int {
	// Fast path: read lock
	ix.mu.RLock()
	if idx, ok := ix.deviceIdx[uuid]; ok {
		ix.mu.RUnlock()
		return idx
	}
	ix.mu.RUnlock()

	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.deviceIndexLocked(uuid)
}

func (ix *Index) deviceIndexLocked(uuid string) int {
	if idx, ok := ix.deviceIdx[uuid]; ok {
		return idx
	}
	ix.lastDevice++
	ix.deviceIdx[uuid] = ix.lastDevice
	return ix.lastDevice
}

// GetOrCreateDataItemIndex returns the index of the data item, allocating
// the next one on first reference. The index space is shared by all devices.
func (ix *Index) GetOrCreateDataItemIndex(deviceUUID, dataItemID string) int {
	k := pairKey(deviceUUID, dataItemID)

	ix.mu.RLock()
	if idx, ok := ix.dataItemIdx[k]; ok {
		ix.mu.RUnlock()
		return idx
	}
	ix.mu.RUnlock()

	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.dataItemIndexLocked(k)
}

func (ix *Index) dataItemIndexLocked(k string) int {
	if idx, ok := ix.dataItemIdx[k]; ok {
		return idx
	}
	ix.lastDataItem++
	ix.dataItemIdx[k] = ix.lastDataItem
	return ix.lastDataItem
}

// AddDevice registers the device model and allocates indices for all of its
// data items. Re-registering a uuid keeps the existing indices and replaces
// the lookup tables. It reports whether the device was previously unknown.
func (ix *Index) AddDevice(device *models.Device) (deviceIndex int, isNew bool) {
	if device == nil {
		panic("index: AddDevice called with nil device")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	prev, existed := ix.devices[device.UUID]
	deviceIndex = ix.deviceIndexLocked(device.UUID)

	entry := &deviceEntry{
		index:         deviceIndex,
		device:        device,
		items:         models.FlattenDataItems(device),
		byID:          make(map[string]int),
		byName:        make(map[string]int),
		bySourceID:    make(map[string]int),
		bySourceValue: make(map[string]int),
	}
	for i, bound := range entry.items {
		di := bound.DataItem
		// first declaration wins for every alias
		if _, ok := entry.byID[di.ID]; !ok {
			entry.byID[di.ID] = i
		}
		if di.Name != "" {
			if _, ok := entry.byName[di.Name]; !ok {
				entry.byName[di.Name] = i
			}
		}
		if di.Source != nil {
			if di.Source.DataItemID != "" {
				if _, ok := entry.bySourceID[di.Source.DataItemID]; !ok {
					entry.bySourceID[di.Source.DataItemID] = i
				}
			}
			if v := strings.TrimSpace(di.Source.Value); v != "" {
				if _, ok := entry.bySourceValue[v]; !ok {
					entry.bySourceValue[v] = i
				}
			}
		}
		ix.dataItemIndexLocked(pairKey(device.UUID, di.ID))
	}

	if existed {
		if prev.device.Name != device.Name {
			ix.removeNameLocked(prev.device.Name, device.UUID)
		}
	} else {
		ix.order = append(ix.order, device.UUID)
	}
	ix.devices[device.UUID] = entry
	if device.Name != "" {
		ix.names[device.Name] = device.UUID
		ix.lowerNames[strings.ToLower(device.Name)] = device.UUID
	}
	return deviceIndex, !existed
}

func (ix *Index) removeNameLocked(name, uuid string) {
	if ix.names[name] == uuid {
		delete(ix.names, name)
	}
	lower := strings.ToLower(name)
	if ix.lowerNames[lower] == uuid {
		delete(ix.lowerNames, lower)
	}
}

// ResolveDeviceUUID resolves a uuid, a name, or a case-insensitive name to
// the uuid of a registered device. It returns "" when nothing matches.
func (ix *Index) ResolveDeviceUUID(key string) string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if _, ok := ix.devices[key]; ok {
		return key
	}
	if uuid, ok := ix.names[key]; ok {
		return uuid
	}
	if uuid, ok := ix.lowerNames[strings.ToLower(key)]; ok {
		return uuid
	}
	return ""
}

// ResolveDataItem resolves an id, a name, a source data item id or a source
// value to a data item of the device, in that order.
func (ix *Index) ResolveDataItem(deviceUUID, key string) (models.BoundDataItem, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	entry, ok := ix.devices[deviceUUID]
	if !ok {
		return models.BoundDataItem{}, false
	}
	for _, table := range []map[string]int{entry.byID, entry.byName, entry.bySourceID, entry.bySourceValue} {
		if i, ok := table[key]; ok {
			return entry.items[i], true
		}
	}
	return models.BoundDataItem{}, false
}

// DeviceIndex returns the index of a registered device without allocating.
func (ix *Index) DeviceIndex(uuid string) (int, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	idx, ok := ix.deviceIdx[uuid]
	return idx, ok
}

// BufferKeyFor returns the buffer key of a registered data item.
func (ix *Index) BufferKeyFor(deviceUUID, dataItemID string) (int, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	dev, ok := ix.deviceIdx[deviceUUID]
	if !ok {
		return 0, false
	}
	di, ok := ix.dataItemIdx[pairKey(deviceUUID, dataItemID)]
	if !ok {
		return 0, false
	}
	return BufferKey(dev, di), true
}

// Device returns the registered model of a device.
func (ix *Index) Device(uuid string) *models.Device {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if entry, ok := ix.devices[uuid]; ok {
		return entry.device
	}
	return nil
}

// Devices returns every registered device in registration order.
func (ix *Index) Devices() []*models.Device {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]*models.Device, 0, len(ix.order))
	for _, uuid := range ix.order {
		out = append(out, ix.devices[uuid].device)
	}
	return out
}

// DataItems returns the data items of a device in model order.
func (ix *Index) DataItems(deviceUUID string) []models.BoundDataItem {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	entry, ok := ix.devices[deviceUUID]
	if !ok {
		return nil
	}
	out := make([]models.BoundDataItem, len(entry.items))
	copy(out, entry.items)
	return out
}

// Len returns the number of registered devices.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.order)
}
