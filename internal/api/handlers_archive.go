// handlers_archive.go - Archived observation queries
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mtconnect-agent/backend/internal/archive"
	"github.com/mtconnect-agent/backend/internal/models"
)

// MaxArchiveLimit caps the rows one archive request returns
const MaxArchiveLimit = 10000

// ArchiveHandlerImpl implements the ArchiveHandler interface
type ArchiveHandlerImpl struct {
	agent   AgentService
	archive ArchiveReader
}

// NewArchiveHandler creates a new archive handler. A nil reader answers
// every request with UNSUPPORTED.
func NewArchiveHandler(a AgentService, ar ArchiveReader) ArchiveHandler {
	return &ArchiveHandlerImpl{agent: a, archive: ar}
}

type archiveResponse struct {
	Observations []models.ObservationRecord `json:"observations" msgpack:"observations" cbor:"observations"`
	Count        int                        `json:"count" msgpack:"count" cbor:"count"`
}

// HandleArchive returns archived observations of a device in a time range
func (h *ArchiveHandlerImpl) HandleArchive(c echo.Context) error {
	if h.archive == nil {
		return NewUnsupportedError("observation archive is disabled")
	}

	q := archive.Query{DataItemIDs: splitList(c.QueryParam("dataItemIds"))}
	if device := c.QueryParam("device"); device != "" {
		uuid, ok := h.agent.ResolveDevice(device)
		if !ok {
			return NewNoDeviceError(device)
		}
		q.DeviceUUID = uuid
	}

	var err error
	if q.From, err = queryTime(c, "from"); err != nil {
		return err
	}
	if q.To, err = queryTime(c, "to"); err != nil {
		return err
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return NewInvalidRequestError("to must not be before from", nil)
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	if limit <= 0 || limit > MaxArchiveLimit {
		limit = MaxArchiveLimit
	}
	q.Limit = int(limit)

	recs, err := h.archive.QueryRange(c.Request().Context(), q)
	if err != nil {
		return NewInternalError("archive query failed", err)
	}
	return respond(c, http.StatusOK, &archiveResponse{Observations: recs, Count: len(recs)})
}
