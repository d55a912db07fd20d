// handlers_streams.go - Current and sample handlers
package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mtconnect-agent/backend/internal/agent"
	"github.com/mtconnect-agent/backend/internal/models"
)

// DefaultSampleCount is the number of observations a sample returns when
// count is not given
const DefaultSampleCount = 100

// StreamsHandlerImpl implements the StreamsHandler interface
type StreamsHandlerImpl struct {
	agent  AgentService
	stream *StreamHandler
}

// NewStreamsHandler creates a new streams handler
func NewStreamsHandler(a AgentService, logger *zap.Logger) StreamsHandler {
	return &StreamsHandlerImpl{
		agent:  a,
		stream: NewStreamHandler(a, logger),
	}
}

// HandleCurrent returns the latest value of every selected data item
func (h *StreamsHandlerImpl) HandleCurrent(c echo.Context) error {
	at, err := queryInt(c, "at")
	if err != nil {
		return err
	}
	if at < 0 {
		return NewInvalidRequestError("at must not be negative", nil)
	}

	resp, err := h.agent.GetCurrentSnapshot(agent.StreamQuery{
		DeviceKey:   c.Param("device"),
		DataItemIDs: splitList(c.QueryParam("dataItemIds")),
		At:          at,
	})
	if err != nil {
		return fromAgentError(err)
	}
	if resp.OutOfRange {
		return outOfRange("at", at, resp.Header)
	}
	return respond(c, http.StatusOK, resp)
}

// HandleSample returns observations in a sequence range
func (h *StreamsHandlerImpl) HandleSample(c echo.Context) error {
	q, err := sampleQuery(c)
	if err != nil {
		return err
	}

	resp, err := h.agent.GetHistorySnapshot(q)
	if err != nil {
		return fromAgentError(err)
	}
	if resp.OutOfRange {
		return outOfRange("from", q.From, resp.Header)
	}
	return respond(c, http.StatusOK, resp)
}

// HandleSampleStream upgrades to a WebSocket streaming sample documents
func (h *StreamsHandlerImpl) HandleSampleStream(c echo.Context) error {
	return h.stream.HandleWebSocket(c)
}

func sampleQuery(c echo.Context) (agent.StreamQuery, error) {
	q := agent.StreamQuery{
		DeviceKey:   c.Param("device"),
		DataItemIDs: splitList(c.QueryParam("dataItemIds")),
	}
	if q.DeviceKey == "" {
		q.DeviceKey = c.QueryParam("device")
	}

	var err error
	if q.From, err = queryInt(c, "from"); err != nil {
		return q, err
	}
	if q.To, err = queryInt(c, "to"); err != nil {
		return q, err
	}
	count, err := queryInt(c, "count")
	if err != nil {
		return q, err
	}
	q.Count = int(count)
	if c.QueryParam("count") == "" {
		q.Count = DefaultSampleCount
	}
	if q.Count == 0 {
		return q, NewInvalidRequestError("count must not be zero", nil)
	}
	if q.From > 0 && q.To > 0 && q.To < q.From {
		return q, NewInvalidRequestError("to must not be less than from", nil)
	}
	return q, nil
}

func outOfRange(param string, value int64, h models.Header) *APIError {
	return NewOutOfRangeError(fmt.Sprintf("%s %d is outside the buffer [%d, %d]",
		param, value, h.FirstSequence, h.NextSequence))
}
