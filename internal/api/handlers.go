// handlers.go - Shared request parsing and response encoding
package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/relvacode/iso8601"

	"github.com/mtconnect-agent/backend/internal/codec"
)

// responseFormat picks the encoding from the format query parameter, falling
// back to the Accept header
func responseFormat(c echo.Context) (codec.Format, error) {
	if name := c.QueryParam("format"); name != "" {
		return codec.ParseFormat(name)
	}
	return codec.Negotiate(c.Request().Header.Get(echo.HeaderAccept)), nil
}

// respond encodes v in the negotiated format
func respond(c echo.Context, status int, v interface{}) error {
	format, err := responseFormat(c)
	if err != nil {
		format = codec.JSON
		if _, ok := v.(*APIError); !ok {
			status = http.StatusBadRequest
			v = NewInvalidRequestError("unsupported format", err)
		}
	}
	if format == codec.JSON {
		return c.JSON(status, v)
	}

	data, err := format.Marshal(v)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, NewInternalError("failed to encode "+string(format), err))
	}
	return c.Blob(status, format.ContentType(), data)
}

// queryInt parses an optional integer query parameter
func queryInt(c echo.Context, name string) (int64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, NewInvalidRequestError("invalid "+name, err)
	}
	return v, nil
}

// queryTime parses an optional ISO 8601 query parameter
func queryTime(c echo.Context, name string) (time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return time.Time{}, nil
	}
	ts, err := iso8601.ParseString(raw)
	if err != nil {
		return time.Time{}, NewInvalidRequestError("invalid "+name, err)
	}
	return ts.UTC(), nil
}

// splitList splits a list parameter on ';' or ','
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == ',' })
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
