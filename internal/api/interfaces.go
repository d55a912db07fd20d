// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mtconnect-agent/backend/internal/agent"
	"github.com/mtconnect-agent/backend/internal/archive"
	"github.com/mtconnect-agent/backend/internal/models"
)

// ProbeHandler serves device models
type ProbeHandler interface {
	HandleProbe(c echo.Context) error
}

// StreamsHandler serves current and sample documents
type StreamsHandler interface {
	HandleCurrent(c echo.Context) error
	HandleSample(c echo.Context) error
	HandleSampleStream(c echo.Context) error
}

// AssetHandler serves and modifies assets
type AssetHandler interface {
	HandleGetAssets(c echo.Context) error
	HandleGetAsset(c echo.Context) error
	HandlePostAsset(c echo.Context) error
	HandleDeleteAsset(c echo.Context) error
	HandleDeleteAssets(c echo.Context) error
}

// InputHandler accepts observations over HTTP
type InputHandler interface {
	HandlePostObservations(c echo.Context) error
}

// ArchiveHandler serves archived observations
type ArchiveHandler interface {
	HandleArchive(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// AgentService is the part of the agent the API depends on.
// This allows mocking in tests
type AgentService interface {
	Header() models.Header
	Metrics() agent.Metrics
	Devices() []*models.Device
	AgentDevice() *models.Device
	GetDevices(deviceKey string) (*models.DevicesResponse, error)
	GetCurrentSnapshot(q agent.StreamQuery) (*models.StreamsResponse, error)
	GetHistorySnapshot(q agent.StreamQuery) (*models.StreamsResponse, error)
	GetAssets(deviceKey, assetType string, removed bool, count int) ([]models.AssetRecord, error)
	GetAsset(assetID string) (models.AssetRecord, error)
	AddAsset(deviceKey string, asset models.AssetRecord, opts *agent.InputOptions) bool
	RemoveAsset(assetID string, ts time.Time) bool
	RemoveDeviceAssets(deviceKey, assetType string, ts time.Time) int
	AddObservation(deviceKey, dataItemKey string, values models.ObservationValues, ts time.Time, opts *agent.InputOptions) bool
	ResolveDevice(key string) (string, bool)
}

// ArchiveReader queries archived observations
type ArchiveReader interface {
	QueryRange(ctx context.Context, q archive.Query) ([]models.ObservationRecord, error)
	Len() int64
	Pending() int
}
