// handlers_assets.go - Asset handlers
package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mtconnect-agent/backend/internal/models"
)

// AssetHandlerImpl implements the AssetHandler interface
type AssetHandlerImpl struct {
	agent AgentService
}

// NewAssetHandler creates a new asset handler
func NewAssetHandler(a AgentService) AssetHandler {
	return &AssetHandlerImpl{agent: a}
}

// postAssetRequest is the JSON form of an asset upload
type postAssetRequest struct {
	AssetID   string `json:"assetId"`
	Type      string `json:"type"`
	Device    string `json:"device"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// HandleGetAssets returns assets filtered by device, type and removal state
func (h *AssetHandlerImpl) HandleGetAssets(c echo.Context) error {
	device := c.Param("device")
	if device == "" {
		device = c.QueryParam("device")
	}

	removed := false
	if raw := c.QueryParam("removed"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return NewInvalidRequestError("invalid removed", err)
		}
		removed = v
	}
	count, err := queryInt(c, "count")
	if err != nil {
		return err
	}

	assets, err := h.agent.GetAssets(device, c.QueryParam("type"), removed, int(count))
	if err != nil {
		return fromAgentError(err)
	}
	return respond(c, http.StatusOK, &models.AssetsResponse{Header: h.agent.Header(), Assets: assets})
}

// HandleGetAsset returns one or more assets by id; ids are ';' separated
func (h *AssetHandlerImpl) HandleGetAsset(c echo.Context) error {
	ids := splitList(c.Param("ids"))
	if len(ids) == 0 {
		return NewInvalidRequestError("asset id required", nil)
	}

	assets := make([]models.AssetRecord, 0, len(ids))
	for _, id := range ids {
		asset, err := h.agent.GetAsset(id)
		if err != nil {
			return NewAssetNotFoundError(id)
		}
		assets = append(assets, asset)
	}
	return respond(c, http.StatusOK, &models.AssetsResponse{Header: h.agent.Header(), Assets: assets})
}

// HandlePostAsset adds or updates an asset. The body is either the JSON
// form or the raw asset document with device, type and assetId given as
// query parameters.
func (h *AssetHandlerImpl) HandlePostAsset(c echo.Context) error {
	var req postAssetRequest
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		if err := c.Bind(&req); err != nil {
			return NewInvalidRequestError("invalid request body", err)
		}
	} else {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return NewInvalidRequestError("failed to read body", err)
		}
		req = postAssetRequest{
			AssetID:   c.QueryParam("assetId"),
			Type:      c.QueryParam("type"),
			Device:    c.QueryParam("device"),
			Content:   string(body),
			Timestamp: c.QueryParam("timestamp"),
		}
	}

	if req.Type == "" {
		return NewInvalidRequestError("validation failed for field: type", nil)
	}
	if req.Device == "" {
		device := h.defaultDevice()
		if device == nil {
			return NewInvalidRequestError("validation failed for field: device", nil)
		}
		req.Device = device.UUID
	}
	if _, ok := h.agent.ResolveDevice(req.Device); !ok {
		return NewNoDeviceError(req.Device)
	}

	asset := models.AssetRecord{AssetID: req.AssetID, Type: req.Type, Content: req.Content}
	if req.Timestamp != "" {
		ts, err := parseTimestamp(req.Timestamp)
		if err != nil {
			return err
		}
		asset.Timestamp = ts
	}

	if !h.agent.AddAsset(req.Device, asset, nil) {
		return NewInvalidRequestError("asset rejected", nil)
	}
	return respond(c, http.StatusCreated, map[string]interface{}{
		"success": true,
		"type":    req.Type,
		"device":  req.Device,
	})
}

// HandleDeleteAsset marks an asset removed
func (h *AssetHandlerImpl) HandleDeleteAsset(c echo.Context) error {
	id := c.Param("id")
	if !h.agent.RemoveAsset(id, time.Time{}) {
		return NewAssetNotFoundError(id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleDeleteAssets removes every active asset of a type, optionally of
// one device only
func (h *AssetHandlerImpl) HandleDeleteAssets(c echo.Context) error {
	assetType := c.QueryParam("type")
	device := c.QueryParam("device")

	var removed int
	if device != "" {
		if _, ok := h.agent.ResolveDevice(device); !ok {
			return NewNoDeviceError(device)
		}
		removed = h.agent.RemoveDeviceAssets(device, assetType, time.Time{})
	} else {
		if assetType == "" {
			return NewInvalidRequestError("validation failed for field: type", nil)
		}
		removed = h.agent.RemoveDeviceAssets("", assetType, time.Time{})
	}
	return respond(c, http.StatusOK, map[string]int{"removed": removed})
}

// defaultDevice returns the only device besides the Agent device, or nil
// when there is not exactly one
func (h *AssetHandlerImpl) defaultDevice() *models.Device {
	agentUUID := ""
	if dev := h.agent.AgentDevice(); dev != nil {
		agentUUID = dev.UUID
	}
	var found *models.Device
	for _, dev := range h.agent.Devices() {
		if dev.UUID == agentUUID {
			continue
		}
		if found != nil {
			return nil
		}
		found = dev
	}
	return found
}
