package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mtconnect-agent/backend/internal/agent"
)

// WebSocket message types for the sample stream
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeCurrent   = "current"
	MsgTypeSample    = "sample"
	MsgTypeHeartbeat = "heartbeat"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

// Stream pacing limits
const (
	DefaultStreamInterval = 500 * time.Millisecond
	MinStreamInterval     = 10 * time.Millisecond
	StreamHeartbeat       = 10 * time.Second
)

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WebSocket error response
type WSErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// StreamHandler pushes sample documents to WebSocket clients
type StreamHandler struct {
	agent    AgentService
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients int
}

// NewStreamHandler creates a new WebSocket stream handler
func NewStreamHandler(a AgentService, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		agent: a,
		log:   logger.Named("stream"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
	}
}

// Clients returns the number of connected stream clients
func (sh *StreamHandler) Clients() int {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.clients
}

// streamConn serializes writes to one connection
type streamConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (sc *streamConn) send(msgType string, payload interface{}) error {
	msg := WSMessage{Type: msgType, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		msg.Payload = data
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.ws.WriteJSON(msg)
}

// HandleWebSocket validates the query, upgrades the connection and streams
// sample documents every interval until the client goes away. Without from,
// the stream starts with a current document.
func (sh *StreamHandler) HandleWebSocket(c echo.Context) error {
	q, err := sampleQuery(c)
	if err != nil {
		return err
	}
	intervalMs, err := queryInt(c, "interval")
	if err != nil {
		return err
	}
	interval := DefaultStreamInterval
	if intervalMs > 0 {
		interval = time.Duration(intervalMs) * time.Millisecond
	}
	if interval < MinStreamInterval {
		interval = MinStreamInterval
	}

	// reject unknown devices and data items before upgrading
	current, err := sh.agent.GetCurrentSnapshot(agent.StreamQuery{DeviceKey: q.DeviceKey, DataItemIDs: q.DataItemIDs})
	if err != nil {
		return fromAgentError(err)
	}

	ws, err := sh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	sh.mu.Lock()
	sh.clients++
	sh.mu.Unlock()
	defer func() {
		sh.mu.Lock()
		sh.clients--
		sh.mu.Unlock()
	}()

	log := sh.log.With(zap.String("remote", c.RealIP()), zap.String("device", q.DeviceKey))
	log.Info("stream client connected", zap.Duration("interval", interval))
	defer log.Info("stream client disconnected")

	conn := &streamConn{ws: ws}
	if q.From <= 0 {
		if err := conn.send(MsgTypeCurrent, current); err != nil {
			return nil
		}
		q.From = current.Header.NextSequence
	}

	closed := make(chan struct{})
	go sh.readLoop(conn, closed, log)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastSent := time.Now()

	for {
		select {
		case <-closed:
			return nil
		case <-c.Request().Context().Done():
			return nil
		case <-ticker.C:
		}

		resp, err := sh.agent.GetHistorySnapshot(q)
		if err != nil {
			conn.send(MsgTypeError, WSErrorResponse{Type: MsgTypeError, Message: err.Error(), Code: fromAgentError(err).Code})
			return nil
		}
		if resp.OutOfRange {
			// the client fell behind the ring; continue from the oldest retained
			q.From = resp.Header.FirstSequence
			continue
		}

		if resp.ReturnedCount > 0 {
			if err := conn.send(MsgTypeSample, resp); err != nil {
				return nil
			}
			lastSent = time.Now()
		} else if time.Since(lastSent) >= StreamHeartbeat {
			if err := conn.send(MsgTypeHeartbeat, nil); err != nil {
				return nil
			}
			lastSent = time.Now()
		}
		if resp.Header.NextSequence > q.From {
			q.From = resp.Header.NextSequence
		}
	}
}

// readLoop answers pings and reports when the client closes the connection
func (sh *StreamHandler) readLoop(conn *streamConn, closed chan<- struct{}, log *zap.Logger) {
	defer close(closed)
	for {
		var msg WSMessage
		if err := conn.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("stream connection error", zap.Error(err))
			}
			return
		}
		switch msg.Type {
		case MsgTypePing:
			conn.send(MsgTypePong, nil)
		default:
			conn.send(MsgTypeError, WSErrorResponse{Type: MsgTypeError, Message: "Unknown message type: " + msg.Type, Code: CodeInvalidRequest})
		}
	}
}
