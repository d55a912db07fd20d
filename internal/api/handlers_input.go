// handlers_input.go - HTTP observation input
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/relvacode/iso8601"

	"github.com/mtconnect-agent/backend/internal/models"
)

// InputHandlerImpl implements the InputHandler interface
type InputHandlerImpl struct {
	agent AgentService
}

// NewInputHandler creates a new input handler
func NewInputHandler(a AgentService) InputHandler {
	return &InputHandlerImpl{agent: a}
}

// observationInput is one posted observation. Value is shorthand for a
// single Result.
type observationInput struct {
	DataItem  string                   `json:"dataItem"`
	Value     *string                  `json:"value,omitempty"`
	Values    models.ObservationValues `json:"values,omitempty"`
	Timestamp string                   `json:"timestamp,omitempty"`
}

type observationsRequest struct {
	Timestamp    string             `json:"timestamp,omitempty"`
	Observations []observationInput `json:"observations"`
}

type observationsResponse struct {
	Accepted int      `json:"accepted"`
	Rejected []string `json:"rejected,omitempty"`
}

// HandlePostObservations stores observations for a device. Observations
// the agent rejects are listed in the response.
func (h *InputHandlerImpl) HandlePostObservations(c echo.Context) error {
	device := c.Param("device")
	if _, ok := h.agent.ResolveDevice(device); !ok {
		return NewNoDeviceError(device)
	}

	var req observationsRequest
	if err := c.Bind(&req); err != nil {
		return NewInvalidRequestError("invalid request body", err)
	}
	if len(req.Observations) == 0 {
		return NewInvalidRequestError("validation failed for field: observations", nil)
	}

	var batchTS time.Time
	if req.Timestamp != "" {
		ts, err := parseTimestamp(req.Timestamp)
		if err != nil {
			return err
		}
		batchTS = ts
	}

	var resp observationsResponse
	for _, obs := range req.Observations {
		if obs.DataItem == "" {
			return NewInvalidRequestError("validation failed for field: dataItem", nil)
		}
		values := obs.Values
		if obs.Value != nil {
			values = append(models.ObservationValues{{Key: models.ValueKeyResult, Value: *obs.Value}}, values...)
		}
		if len(values) == 0 {
			return NewInvalidRequestError("no values for "+obs.DataItem, nil)
		}

		ts := batchTS
		if obs.Timestamp != "" {
			t, err := parseTimestamp(obs.Timestamp)
			if err != nil {
				return err
			}
			ts = t
		}

		if h.agent.AddObservation(device, obs.DataItem, values, ts, nil) {
			resp.Accepted++
		} else {
			resp.Rejected = append(resp.Rejected, obs.DataItem)
		}
	}
	return respond(c, http.StatusOK, resp)
}

func parseTimestamp(raw string) (time.Time, error) {
	ts, err := iso8601.ParseString(raw)
	if err != nil {
		return time.Time{}, NewInvalidRequestError("invalid timestamp", err)
	}
	return ts.UTC(), nil
}
