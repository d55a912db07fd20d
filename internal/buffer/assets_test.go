package buffer

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtconnect-agent/backend/internal/models"
)

func asset(id, typ, device string) models.AssetRecord {
	return models.AssetRecord{
		AssetID:    id,
		Type:       typ,
		DeviceUUID: device,
		Timestamp:  t0,
		Content:    "<" + typ + " assetId=\"" + id + "\"/>",
		Hash:       "h-" + id,
	}
}

func TestAssetBufferCounts(t *testing.T) {
	b := NewAssetBuffer(100, true)

	for i := 0; i < 5; i++ {
		isNew, changed := b.AddAsset(asset(fmt.Sprintf("T%d", i), "CuttingTool", "D"))
		require.True(t, isNew)
		require.True(t, changed)
	}
	for i := 0; i < 2; i++ {
		_, ok := b.RemoveAsset(fmt.Sprintf("T%d", i), t0.Add(time.Second))
		require.True(t, ok)
	}
	assert.Equal(t, 3, b.AssetCount("D", "CuttingTool"))

	t.Run("double remove is rejected", func(t *testing.T) {
		_, ok := b.RemoveAsset("T0", t0)
		assert.False(t, ok)
		_, ok = b.RemoveAsset("missing", t0)
		assert.False(t, ok)
		assert.Equal(t, 3, b.AssetCount("D", "CuttingTool"))
	})

	t.Run("remove all keeps zero entries", func(t *testing.T) {
		removed := b.RemoveAllAssets("", "CuttingTool", t0)
		assert.Len(t, removed, 3)
		counts := b.AssetCounts("D")
		n, ok := counts["CuttingTool"]
		assert.True(t, ok)
		assert.Equal(t, 0, n)
	})

	t.Run("retained removed assets are listed on request", func(t *testing.T) {
		assert.Empty(t, b.GetAssets(models.AssetQuery{}))
		assert.Len(t, b.GetAssets(models.AssetQuery{Removed: true}), 5)
	})
}

func TestAssetBufferUpdate(t *testing.T) {
	b := NewAssetBuffer(10, true)
	b.AddAsset(asset("A", "File", "D"))
	b.AddAsset(asset("B", "File", "D"))

	isNew, changed := b.AddAsset(asset("A", "File", "D"))
	assert.False(t, isNew)
	assert.False(t, changed, "identical content is a no-op")

	updated := asset("A", "File", "D")
	updated.Hash = "h-A2"
	isNew, changed = b.AddAsset(updated)
	assert.False(t, isNew)
	assert.True(t, changed)
	assert.Equal(t, 2, b.AssetCount("D", "File"))

	list := b.GetAssets(models.AssetQuery{})
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].AssetID, "updated asset moves to newest")
}

func TestAssetBufferReAddRemoved(t *testing.T) {
	b := NewAssetBuffer(10, true)
	b.AddAsset(asset("A", "File", "D"))
	_, ok := b.RemoveAsset("A", t0)
	require.True(t, ok)
	assert.Equal(t, 0, b.AssetCount("D", "File"))

	isNew, changed := b.AddAsset(asset("A", "File", "D"))
	assert.True(t, isNew, "a removed asset coming back counts as new")
	assert.True(t, changed)
	assert.Equal(t, 1, b.AssetCount("D", "File"))
}

func TestAssetBufferEviction(t *testing.T) {
	b := NewAssetBuffer(3, true)
	var removed []string
	b.OnRemoved(func(rec models.AssetRecord) {
		assert.True(t, rec.Removed)
		// callbacks run outside the lock
		_ = b.AssetCount(rec.DeviceUUID, rec.Type)
		removed = append(removed, rec.AssetID)
	})

	b.AddAsset(asset("1", "Fixture", "D"))
	b.AddAsset(asset("2", "Fixture", "D"))
	b.AddAsset(asset("3", "Fixture", "D"))
	b.RemoveAsset("2", t0)
	require.Equal(t, []string{"2"}, removed)

	b.AddAsset(asset("4", "Fixture", "D"))
	assert.Equal(t, []string{"2", "1"}, removed, "oldest active asset evicted")
	assert.Equal(t, 2, b.AssetCount("D", "Fixture"))

	// evicting an already removed asset does not fire or decrement again
	b.AddAsset(asset("5", "Fixture", "D"))
	assert.Equal(t, []string{"2", "1"}, removed)
	assert.Equal(t, 3, b.AssetCount("D", "Fixture"))
	assert.Equal(t, 3, b.Len())

	_, ok := b.GetAsset("1")
	assert.False(t, ok)
}

func TestAssetBufferDropRemoved(t *testing.T) {
	b := NewAssetBuffer(10, false)
	b.AddAsset(asset("x", "Pallet", "D"))
	b.AddAsset(asset("y", "Pallet", "E"))

	_, ok := b.RemoveAsset("x", t0)
	require.True(t, ok)
	_, ok = b.GetAsset("x")
	assert.False(t, ok)
	assert.Equal(t, 1, b.Len())

	list := b.GetAssets(models.AssetQuery{DeviceUUID: "E", Type: "Pallet", Removed: true, Count: 5})
	require.Len(t, list, 1)
	assert.Equal(t, "y", list[0].AssetID)
}
