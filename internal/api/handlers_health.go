// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	agent   AgentService
	archive ArchiveReader
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, a AgentService, ar ArchiveReader) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		agent:   a,
		archive: ar,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	header := h.agent.Header()
	body := map[string]interface{}{
		"status":        "ok",
		"version":       h.version,
		"instanceId":    header.InstanceID,
		"devices":       len(h.agent.Devices()),
		"firstSequence": header.FirstSequence,
		"nextSequence":  header.NextSequence,
		"metrics":       h.agent.Metrics(),
	}
	if h.archive != nil {
		body["archive"] = map[string]interface{}{
			"stored":  h.archive.Len(),
			"pending": h.archive.Pending(),
		}
	}
	return c.JSON(http.StatusOK, body)
}
