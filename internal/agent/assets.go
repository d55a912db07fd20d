package agent

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/mtconnect-agent/backend/internal/config"
	"github.com/mtconnect-agent/backend/internal/models"
)

// minimumAssetVersion is the first MTConnect version (major*100+minor)
// defining each asset type. Unlisted types are accepted by every version.
var minimumAssetVersion = map[string]int{
	"CuttingTool":                      102,
	"CuttingToolArchetype":             102,
	"File":                             107,
	"FileArchetype":                    107,
	"QIFDocumentWrapper":               107,
	"RawMaterial":                      108,
	"ComponentConfigurationParameters": 202,
	"Fixture":                          202,
	"Pallet":                           202,
}

// HashAsset returns the content hash used to detect asset changes.
func HashAsset(assetType, content string) string {
	h := blake3.New()
	h.Write([]byte(assetType))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// AddAsset stores an asset for a device. An asset without an id gets a
// generated one. It returns false when the device is unknown or strict
// validation rejects the asset's type for the device's version.
func (a *Agent) AddAsset(deviceKey string, asset models.AssetRecord, opts *InputOptions) bool {
	deviceUUID := a.index.ResolveDeviceUUID(deviceKey)
	if deviceUUID == "" {
		a.invalidAsset(asset, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceKey))
		return false
	}

	in := a.inputOptions(opts)
	asset.DeviceUUID = deviceUUID
	if asset.AssetID == "" {
		asset.AssetID = uuid.NewString()
	}
	if in.IgnoreTimestamp || asset.Timestamp.IsZero() {
		asset.Timestamp = a.now()
	}
	asset.Hash = HashAsset(asset.Type, asset.Content)
	a.events.fireAsset(assetReceived, asset)

	if a.opts.ValidationLevel != config.ValidationIgnore {
		if err := a.checkAssetVersion(deviceUUID, asset.Type); err != nil {
			a.invalidAsset(asset, err)
			if a.opts.ValidationLevel == config.ValidationStrict {
				return false
			}
		}
	}

	isNew, changed := a.assets.AddAsset(asset)
	if !changed {
		return true
	}
	a.counters.assetsAdded.Add(1)

	items := a.assetItemsFor(deviceUUID)
	if isNew {
		a.writeInternal(deviceUUID, items.changed, models.ObservationValues{
			{Key: models.ValueKeyResult, Value: asset.AssetID},
			{Key: models.ValueKeyAssetType, Value: asset.Type},
		}, asset.Timestamp)
	}
	a.writeAssetCount(deviceUUID, items, asset.Timestamp)

	a.events.fireAsset(assetAdded, asset)
	return true
}

func (a *Agent) checkAssetVersion(deviceUUID, assetType string) error {
	min, ok := minimumAssetVersion[assetType]
	if !ok {
		return nil
	}
	version := a.opts.Version
	if dev := a.index.Device(deviceUUID); dev != nil && dev.MTConnectVersion != "" {
		version = dev.MTConnectVersion
	}
	if models.ParseVersion(version) < min {
		return fmt.Errorf("%w: %s requires %d.%d, device is %s", ErrVersion, assetType, min/100, min%100, version)
	}
	return nil
}

// RemoveAsset marks an asset removed. It returns false when the asset is
// unknown or already removed.
func (a *Agent) RemoveAsset(assetID string, ts time.Time) bool {
	if ts.IsZero() {
		ts = a.now()
	}
	_, ok := a.assets.RemoveAsset(assetID, ts)
	return ok
}

// RemoveAllAssets removes every active asset of a type; an empty type
// removes all assets. It returns false when nothing was removed.
func (a *Agent) RemoveAllAssets(assetType string, ts time.Time) bool {
	return a.RemoveDeviceAssets("", assetType, ts) > 0
}

// RemoveDeviceAssets removes the active assets of one device, or of all
// devices when deviceKey is empty, and returns how many were removed.
func (a *Agent) RemoveDeviceAssets(deviceKey, assetType string, ts time.Time) int {
	deviceUUID := ""
	if deviceKey != "" {
		if deviceUUID = a.index.ResolveDeviceUUID(deviceKey); deviceUUID == "" {
			return 0
		}
	}
	if ts.IsZero() {
		ts = a.now()
	}
	return len(a.assets.RemoveAllAssets(deviceUUID, assetType, ts))
}

// handleAssetRemoved runs for removals and evictions, outside the asset
// buffer lock.
func (a *Agent) handleAssetRemoved(asset models.AssetRecord) {
	a.counters.assetsRemoved.Add(1)
	ts := asset.Timestamp
	if ts.IsZero() {
		ts = a.now()
	}

	items := a.assetItemsFor(asset.DeviceUUID)
	if items.removed != "" {
		a.writeInternal(asset.DeviceUUID, items.removed, models.ObservationValues{
			{Key: models.ValueKeyResult, Value: asset.AssetID},
			{Key: models.ValueKeyAssetType, Value: asset.Type},
		}, ts)
		a.writeAssetCount(asset.DeviceUUID, items, ts)
	}

	a.log.Debug("asset removed", zap.String("assetId", asset.AssetID), zap.String("type", asset.Type))
	a.events.fireAsset(assetRemoved, asset)
}

func (a *Agent) writeAssetCount(deviceUUID string, items assetItems, ts time.Time) {
	if items.count == "" {
		return
	}
	counts := a.assets.AssetCounts(deviceUUID)
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)

	values := make(models.ObservationValues, 0, len(types))
	for _, t := range types {
		values = append(values, models.ObservationValue{Key: models.DataSetKey(t), Value: strconv.Itoa(counts[t])})
	}
	if len(values) == 0 {
		return
	}
	a.writeInternal(deviceUUID, items.count, values, ts)
}

func (a *Agent) assetItemsFor(deviceUUID string) assetItems {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.assetItems[deviceUUID]
}

func (a *Agent) invalidAsset(asset models.AssetRecord, err error) {
	a.log.Debug("invalid asset", zap.String("assetId", asset.AssetID), zap.Error(err))
	a.events.fireInvalidAsset(asset, err)
}

// GetAssets returns the assets matching the filters, newest first. An empty
// deviceKey selects every device; count <= 0 is unlimited.
func (a *Agent) GetAssets(deviceKey, assetType string, removed bool, count int) ([]models.AssetRecord, error) {
	q := models.AssetQuery{Type: assetType, Removed: removed, Count: count}
	if deviceKey != "" {
		if q.DeviceUUID = a.index.ResolveDeviceUUID(deviceKey); q.DeviceUUID == "" {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceKey)
		}
	}
	return a.assets.GetAssets(q), nil
}

// GetAsset returns an asset by id, removed assets included.
func (a *Agent) GetAsset(assetID string) (models.AssetRecord, error) {
	rec, ok := a.assets.GetAsset(assetID)
	if !ok {
		return models.AssetRecord{}, fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}
	return rec, nil
}

// AssetCount returns the number of active assets of a type on a device.
func (a *Agent) AssetCount(deviceKey, assetType string) int {
	deviceUUID := a.index.ResolveDeviceUUID(deviceKey)
	if deviceUUID == "" {
		return 0
	}
	return a.assets.AssetCount(deviceUUID, assetType)
}
