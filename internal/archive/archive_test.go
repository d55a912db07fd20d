package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mtconnect-agent/backend/internal/models"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func record(seq int64, device, id, value string) *models.ObservationRecord {
	return &models.ObservationRecord{
		Sequence:       seq,
		BufferKey:      10000 + int(seq),
		DeviceUUID:     device,
		DataItemID:     id,
		Category:       models.CategoryEvent,
		Representation: models.RepresentationValue,
		Values:         models.ObservationValues{{Key: models.ValueKeyResult, Value: value}},
		Timestamp:      t0.Add(time.Duration(seq) * time.Second),
	}
}

func openTest(t *testing.T, batchSize int) *Archive {
	t.Helper()
	ar, err := Open(Options{
		Path:      filepath.Join(t.TempDir(), "archive.duckdb"),
		BatchSize: batchSize,
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { ar.Close() })
	return ar
}

func TestArchiveFlushAndQuery(t *testing.T) {
	ar := openTest(t, 100)

	for i := int64(1); i <= 6; i++ {
		device := "mill-001"
		if i%2 == 0 {
			device = "lathe-001"
		}
		ar.Add(record(i, device, fmt.Sprintf("item%d", i%3), fmt.Sprintf("v%d", i)))
	}
	assert.Equal(t, 6, ar.Pending())
	require.NoError(t, ar.Flush())
	assert.Equal(t, 0, ar.Pending())
	assert.Equal(t, int64(6), ar.Len())

	ctx := context.Background()
	tests := []struct {
		name string
		q    Query
		want []int64
	}{
		{"all", Query{}, []int64{1, 2, 3, 4, 5, 6}},
		{"device", Query{DeviceUUID: "mill-001"}, []int64{1, 3, 5}},
		{"data items", Query{DataItemIDs: []string{"item1", "item2"}}, []int64{1, 2, 4, 5}},
		{"time range", Query{From: t0.Add(2 * time.Second), To: t0.Add(4 * time.Second)}, []int64{2, 3, 4}},
		{"limit", Query{Limit: 2}, []int64{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := ar.QueryRange(ctx, tt.q)
			require.NoError(t, err)
			got := make([]int64, len(recs))
			for i, r := range recs {
				got[i] = r.Sequence
			}
			assert.Equal(t, tt.want, got)
		})
	}

	recs, err := ar.QueryRange(ctx, Query{DeviceUUID: "mill-001", Limit: 1})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "v1", recs[0].Values.Result())
	assert.True(t, t0.Add(time.Second).Equal(recs[0].Timestamp))
	assert.Equal(t, 10001, recs[0].BufferKey)
	assert.Equal(t, models.CategoryEvent, recs[0].Category)
}

func TestArchiveRunFlushesFullBatches(t *testing.T) {
	ar := openTest(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ar.Run(ctx, time.Hour) }()

	ar.Add(record(1, "mill-001", "a", "1"))
	ar.Add(record(2, "mill-001", "a", "2"))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && ar.Len() < 2 {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, int64(2), ar.Len())

	// pending rows are flushed on shutdown
	ar.Add(record(3, "mill-001", "a", "3"))
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int64(3), ar.Len())
}

func TestArchiveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.duckdb")
	ar, err := Open(Options{Path: path})
	require.NoError(t, err)
	ar.Add(record(1, "mill-001", "a", "1"))
	require.NoError(t, ar.Close())

	ar, err = Open(Options{Path: path})
	require.NoError(t, err)
	defer ar.Close()
	assert.Equal(t, int64(1), ar.Len())
}
