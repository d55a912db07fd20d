// handlers_probe.go - Device model handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ProbeHandlerImpl implements the ProbeHandler interface
type ProbeHandlerImpl struct {
	agent AgentService
}

// NewProbeHandler creates a new probe handler
func NewProbeHandler(a AgentService) ProbeHandler {
	return &ProbeHandlerImpl{agent: a}
}

// HandleProbe returns the device models, optionally of a single device
func (h *ProbeHandlerImpl) HandleProbe(c echo.Context) error {
	resp, err := h.agent.GetDevices(c.Param("device"))
	if err != nil {
		return fromAgentError(err)
	}
	return respond(c, http.StatusOK, resp)
}
