package buffer

import (
	"container/list"
	"sync"
	"time"

	"github.com/mtconnect-agent/backend/internal/models"
)

// AssetRemovedFunc is called after an asset is removed or evicted.
type AssetRemovedFunc func(models.AssetRecord)

// AssetBuffer is a fixed capacity store of assets in insertion order. When
// the buffer is full the oldest asset is evicted.
type AssetBuffer struct {
	mu            sync.RWMutex
	capacity      int
	retainRemoved bool

	order  *list.List               // oldest at front
	assets map[string]*list.Element // asset id -> element holding *models.AssetRecord
	counts map[string]map[string]int

	onRemoved AssetRemovedFunc
}

// NewAssetBuffer creates an asset buffer. With retainRemoved false, removed
// assets are deleted instead of kept with the Removed flag.
func NewAssetBuffer(capacity int, retainRemoved bool) *AssetBuffer {
	return &AssetBuffer{
		capacity:      capacity,
		retainRemoved: retainRemoved,
		order:         list.New(),
		assets:        make(map[string]*list.Element),
		counts:        make(map[string]map[string]int),
	}
}

// OnRemoved sets the removal callback. It fires outside the buffer lock.
func (b *AssetBuffer) OnRemoved(fn AssetRemovedFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRemoved = fn
}

// Capacity returns the maximum number of assets.
func (b *AssetBuffer) Capacity() int {
	return b.capacity
}

// AddAsset inserts or updates an asset by id. Updates move the asset to the
// newest position. isNew is true when the id was not stored or was stored
// removed and comes back active; changed is
// false when the stored asset already had the same content hash. Evicted
// assets are reported removed at the timestamp of rec.
func (b *AssetBuffer) AddAsset(rec models.AssetRecord) (isNew, changed bool) {
	if b.capacity <= 0 {
		return false, false
	}

	var evicted []models.AssetRecord
	defer func() { b.fireRemoved(evicted) }()

	b.mu.Lock()
	defer b.mu.Unlock()

	if el, ok := b.assets[rec.AssetID]; ok {
		existing := el.Value.(*models.AssetRecord)
		if existing.Hash != "" && existing.Hash == rec.Hash && existing.Removed == rec.Removed &&
			existing.DeviceUUID == rec.DeviceUUID {
			return false, false
		}
		revived := existing.Removed && !rec.Removed
		if !existing.Removed {
			b.adjustCountLocked(existing.DeviceUUID, existing.Type, -1)
		}
		if !rec.Removed {
			b.adjustCountLocked(rec.DeviceUUID, rec.Type, 1)
		}
		stored := rec
		el.Value = &stored
		b.order.MoveToBack(el)
		return revived, true
	}

	for b.order.Len() >= b.capacity {
		oldest := b.order.Front()
		old := oldest.Value.(*models.AssetRecord)
		b.order.Remove(oldest)
		delete(b.assets, old.AssetID)
		if !old.Removed {
			b.adjustCountLocked(old.DeviceUUID, old.Type, -1)
			gone := *old
			gone.Removed = true
			gone.Timestamp = rec.Timestamp
			evicted = append(evicted, gone)
		}
	}

	stored := rec
	b.assets[rec.AssetID] = b.order.PushBack(&stored)
	if !rec.Removed {
		b.adjustCountLocked(rec.DeviceUUID, rec.Type, 1)
	}
	return true, true
}

// RemoveAsset marks an asset removed. It returns false when the id is
// unknown or already removed.
func (b *AssetBuffer) RemoveAsset(assetID string, ts time.Time) (models.AssetRecord, bool) {
	var removed []models.AssetRecord
	defer func() { b.fireRemoved(removed) }()

	b.mu.Lock()
	defer b.mu.Unlock()

	el, ok := b.assets[assetID]
	if !ok {
		return models.AssetRecord{}, false
	}
	rec := el.Value.(*models.AssetRecord)
	if rec.Removed {
		return models.AssetRecord{}, false
	}
	out := b.removeLocked(el, ts)
	removed = append(removed, out)
	return out, true
}

// RemoveAllAssets removes every active asset of the given type. An empty
// deviceUUID matches all devices; an empty assetType matches all types.
func (b *AssetBuffer) RemoveAllAssets(deviceUUID, assetType string, ts time.Time) []models.AssetRecord {
	var removed []models.AssetRecord
	defer func() { b.fireRemoved(removed) }()

	b.mu.Lock()
	defer b.mu.Unlock()

	for el := b.order.Front(); el != nil; {
		next := el.Next()
		rec := el.Value.(*models.AssetRecord)
		if !rec.Removed && (deviceUUID == "" || rec.DeviceUUID == deviceUUID) &&
			(assetType == "" || rec.Type == assetType) {
			removed = append(removed, b.removeLocked(el, ts))
		}
		el = next
	}
	out := make([]models.AssetRecord, len(removed))
	copy(out, removed)
	return out
}

func (b *AssetBuffer) removeLocked(el *list.Element, ts time.Time) models.AssetRecord {
	rec := el.Value.(*models.AssetRecord)
	b.adjustCountLocked(rec.DeviceUUID, rec.Type, -1)

	updated := *rec
	updated.Removed = true
	if !ts.IsZero() {
		updated.Timestamp = ts
	}
	if b.retainRemoved {
		el.Value = &updated
	} else {
		b.order.Remove(el)
		delete(b.assets, rec.AssetID)
	}
	return updated
}

func (b *AssetBuffer) adjustCountLocked(deviceUUID, assetType string, delta int) {
	byType, ok := b.counts[deviceUUID]
	if !ok {
		byType = make(map[string]int)
		b.counts[deviceUUID] = byType
	}
	n := byType[assetType] + delta
	if n < 0 {
		n = 0
	}
	byType[assetType] = n
}

func (b *AssetBuffer) fireRemoved(recs []models.AssetRecord) {
	if len(recs) == 0 {
		return
	}
	b.mu.RLock()
	fn := b.onRemoved
	b.mu.RUnlock()
	if fn == nil {
		return
	}
	for _, rec := range recs {
		fn(rec)
	}
}

// GetAsset returns an asset by id, including removed ones.
func (b *AssetBuffer) GetAsset(assetID string) (models.AssetRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	el, ok := b.assets[assetID]
	if !ok {
		return models.AssetRecord{}, false
	}
	return *el.Value.(*models.AssetRecord), true
}

// GetAssets returns the assets matching q, newest first.
func (b *AssetBuffer) GetAssets(q models.AssetQuery) []models.AssetRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]models.AssetRecord, 0)
	for el := b.order.Back(); el != nil; el = el.Prev() {
		if q.Count > 0 && len(out) >= q.Count {
			break
		}
		rec := el.Value.(*models.AssetRecord)
		if rec.Removed && !q.Removed {
			continue
		}
		if q.DeviceUUID != "" && rec.DeviceUUID != q.DeviceUUID {
			continue
		}
		if q.Type != "" && rec.Type != q.Type {
			continue
		}
		out = append(out, *rec)
	}
	return out
}

// AssetCount returns the number of active assets of a type on a device.
func (b *AssetBuffer) AssetCount(deviceUUID, assetType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.counts[deviceUUID][assetType]
}

// AssetCounts returns the active asset counts of a device by type. Types
// whose assets were all removed are reported with a zero count.
func (b *AssetBuffer) AssetCounts(deviceUUID string) map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]int, len(b.counts[deviceUUID]))
	for t, n := range b.counts[deviceUUID] {
		out[t] = n
	}
	return out
}

// Len returns the number of stored assets, removed ones included.
func (b *AssetBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.order.Len()
}
