package agent

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtconnect-agent/backend/internal/config"
	"github.com/mtconnect-agent/backend/internal/models"
	"github.com/mtconnect-agent/backend/internal/testutil"
)

func tool(id string) models.AssetRecord {
	return models.AssetRecord{AssetID: id, Type: "CuttingTool", Content: "<CuttingTool assetId=\"" + id + "\"/>"}
}

func TestAssetCountConsistency(t *testing.T) {
	a, _, rec := newTestAgent(t, nil)

	for i := 1; i <= 3; i++ {
		require.True(t, a.AddAsset("Mill", tool(fmt.Sprintf("t%d", i)), nil))
	}
	assert.Equal(t, 3, a.AssetCount("Mill", "CuttingTool"))

	require.True(t, a.RemoveAsset("t1", t0.Add(time.Second)))
	assert.False(t, a.RemoveAsset("t1", t0.Add(time.Second)), "already removed")
	assert.False(t, a.RemoveAsset("missing", t0))
	assert.Equal(t, 2, a.AssetCount("Mill", "CuttingTool"))

	// capacity 4: t5 evicts the removed t1 silently, t6 evicts t2
	for i := 4; i <= 6; i++ {
		require.True(t, a.AddAsset("Mill", tool(fmt.Sprintf("t%d", i)), nil))
	}
	assert.Equal(t, 6-2, a.AssetCount("Mill", "CuttingTool"))

	require.Len(t, rec.removed, 2)
	assert.Equal(t, "t1", rec.removed[0].AssetID)
	assert.Equal(t, "t2", rec.removed[1].AssetID)

	count := current(t, a, "d1_asset_count")
	require.Len(t, count, 1)
	got, _ := count[0].Values.Get(models.DataSetKey("CuttingTool"))
	assert.Equal(t, "4", got)

	removed := current(t, a, "d1_asset_rem")
	require.Len(t, removed, 1)
	assert.Equal(t, "t2", removed[0].Values.Result())

	changed := current(t, a, "d1_asset_chg")
	require.Len(t, changed, 1)
	assert.Equal(t, "t6", changed[0].Values.Result())
	assetType, _ := changed[0].Values.Get(models.ValueKeyAssetType)
	assert.Equal(t, "CuttingTool", assetType)
}

func TestAssetUpdate(t *testing.T) {
	a, _, rec := newTestAgent(t, nil)
	var added int
	a.OnAssetAdded(func(models.AssetRecord) { added++ })

	require.True(t, a.AddAsset("Mill", tool("t1"), nil))
	require.True(t, a.AddAsset("Mill", tool("t1"), nil), "identical resend")
	assert.Equal(t, 1, added)

	update := tool("t1")
	update.Content = "<CuttingTool assetId=\"t1\" changed=\"true\"/>"
	require.True(t, a.AddAsset("Mill", update, nil))
	assert.Equal(t, 2, added)
	assert.Len(t, rec.addedFor("d1_asset_chg"), 1, "updates do not emit AssetChanged")
	assert.Equal(t, 1, a.AssetCount("Mill", "CuttingTool"))

	stored, err := a.GetAsset("t1")
	require.NoError(t, err)
	assert.Equal(t, HashAsset(update.Type, update.Content), stored.Hash)
	assert.Equal(t, testutil.DeviceUUID, stored.DeviceUUID)
}

func TestAssetReAddAfterRemove(t *testing.T) {
	a, _, rec := newTestAgent(t, nil)
	var added int
	a.OnAssetAdded(func(models.AssetRecord) { added++ })

	require.True(t, a.AddAsset("Mill", tool("t1"), nil))
	require.True(t, a.RemoveAsset("t1", time.Time{}))
	assert.Equal(t, 0, a.AssetCount("Mill", "CuttingTool"))

	require.True(t, a.AddAsset("Mill", tool("t1"), nil))
	assert.Equal(t, 1, a.AssetCount("Mill", "CuttingTool"))
	assert.Equal(t, 2, added)
	assert.Len(t, rec.addedFor("d1_asset_chg"), 2)

	stored, err := a.GetAsset("t1")
	require.NoError(t, err)
	assert.False(t, stored.Removed)
}

func TestAssetGeneratedID(t *testing.T) {
	a, _, _ := newTestAgent(t, nil)
	require.True(t, a.AddAsset("Mill", models.AssetRecord{Type: "Fixture", Content: "<Fixture/>"}, nil))

	assets, err := a.GetAssets("Mill", "Fixture", false, 0)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.NotEmpty(t, assets[0].AssetID)
	assert.Equal(t, t0, assets[0].Timestamp)
}

func TestAssetVersionCheck(t *testing.T) {
	old := testutil.NewDevice()
	old.UUID, old.Name, old.ID, old.MTConnectVersion = "old-001", "Old", "o1", "1.5"

	tests := []struct {
		level  string
		want   bool
		stored bool
	}{
		{config.ValidationWarning, true, true},
		{config.ValidationStrict, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			a, _, _ := newTestAgent(t, func(o *Options) { o.ValidationLevel = tt.level })
			a.RegisterDevice(old)

			var reported error
			a.OnInvalidAsset(func(_ models.AssetRecord, err error) { reported = err })

			assert.Equal(t, tt.want, a.AddAsset("Old", models.AssetRecord{AssetID: "f1", Type: "Fixture"}, nil))
			assert.True(t, errors.Is(reported, ErrVersion))
			_, err := a.GetAsset("f1")
			assert.Equal(t, tt.stored, err == nil)

			// CuttingTool exists since 1.2
			reported = nil
			assert.True(t, a.AddAsset("Old", tool("c1"), nil))
			assert.NoError(t, reported)
		})
	}
}

func TestRemoveAllAssets(t *testing.T) {
	a, _, rec := newTestAgent(t, func(o *Options) { o.AssetBufferSize = 10 })

	require.True(t, a.AddAsset("Mill", tool("t1"), nil))
	require.True(t, a.AddAsset("Mill", tool("t2"), nil))
	require.True(t, a.AddAsset("Mill", models.AssetRecord{AssetID: "f1", Type: "Fixture"}, nil))

	assert.True(t, a.RemoveAllAssets("CuttingTool", t0))
	assert.False(t, a.RemoveAllAssets("CuttingTool", t0), "nothing left to remove")
	assert.Len(t, rec.removed, 2)
	assert.Equal(t, 0, a.AssetCount("Mill", "CuttingTool"))
	assert.Equal(t, 1, a.AssetCount("Mill", "Fixture"))

	active, err := a.GetAssets("", "", false, 0)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	all, err := a.GetAssets("Mill", "", true, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	count := current(t, a, "d1_asset_count")[0]
	zero, ok := count.Values.Get(models.DataSetKey("CuttingTool"))
	assert.True(t, ok, "zero counts stay in the data set")
	assert.Equal(t, "0", zero)

	_, err = a.GetAssets("Lathe", "", false, 0)
	assert.ErrorIs(t, err, ErrUnknownDevice)
	assert.False(t, a.AddAsset("Lathe", tool("x"), nil))
}
