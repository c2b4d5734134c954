package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/ocr-scanner/scanner/internal/models"
)

// WebSocket message types for the state stream
const (
	// Client -> Server messages
	MsgTypePing = "ping"
	MsgTypeScan = "scan"
	MsgTypeCopy = "copy"

	// Server -> Client messages
	MsgTypeState = "state"
	MsgTypeAck   = "ack"
	MsgTypeError = "error"
	MsgTypePong  = "pong"
)

const (
	writeWait    = 10 * time.Second
	replyBacklog = 8
)

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WSAckPayload answers a scan request
type WSAckPayload struct {
	Request string `json:"request"`
	Started bool   `json:"started"`
}

// WebSocket error response
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler streams controller snapshots and accepts scan/copy commands
type WebSocketHandler struct {
	ctrl           Controller
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	maxMessageSize int64
}

// NewWebSocketHandler creates a new state stream handler. maxMessageKB
// bounds inbound frames; zero means 64KB.
func NewWebSocketHandler(ctrl Controller, logger *slog.Logger, maxMessageKB int) *WebSocketHandler {
	if maxMessageKB <= 0 {
		maxMessageKB = 64
	}
	return &WebSocketHandler{
		ctrl:   ctrl,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// CORS middleware governs browser origins
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		maxMessageSize: int64(maxMessageKB) * 1024,
	}
}

// HandleStateStream upgrades the connection, pushes the current snapshot and
// then every change. Only the newest pending snapshot is kept for a slow client.
func (wsh *WebSocketHandler) HandleStateStream(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()
	ws.SetReadLimit(wsh.maxMessageSize)

	wsh.logger.Debug("state stream connected", "remote", c.RealIP())

	pending := make(chan models.Snapshot, 1)
	replies := make(chan WSMessage, replyBacklog)
	done := make(chan struct{})

	var offerMu sync.Mutex
	offer := func(snap models.Snapshot) {
		offerMu.Lock()
		defer offerMu.Unlock()
		select {
		case pending <- snap:
		default:
			select {
			case <-pending:
			default:
			}
			pending <- snap
		}
	}

	unsubscribe := wsh.ctrl.Subscribe(offer)
	defer unsubscribe()
	offer(wsh.ctrl.Snapshot())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		wsh.writeLoop(ws, pending, replies, done)
	}()

	wsh.readLoop(ws, replies)

	close(done)
	<-writerDone
	wsh.logger.Debug("state stream disconnected", "remote", c.RealIP())
	return nil
}

func (wsh *WebSocketHandler) readLoop(ws *websocket.Conn, replies chan<- WSMessage) {
	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsh.logger.Warn("state stream read failed", "error", err)
			}
			return
		}

		var reply WSMessage
		switch msg.Type {
		case MsgTypePing:
			reply = WSMessage{Type: MsgTypePong}
		case MsgTypeScan:
			reply = WSMessage{Type: MsgTypeAck, Payload: mustJSON(WSAckPayload{
				Request: MsgTypeScan,
				Started: wsh.ctrl.RequestScan(),
			})}
		case MsgTypeCopy:
			wsh.ctrl.CopyResultToClipboard()
			reply = WSMessage{Type: MsgTypeAck, Payload: mustJSON(WSAckPayload{Request: MsgTypeCopy})}
		default:
			reply = WSMessage{Type: MsgTypeError, Payload: mustJSON(WSErrorResponse{
				Message: "Unknown message type: " + msg.Type,
				Code:    "INVALID_TYPE",
			})}
		}

		select {
		case replies <- reply:
		default:
			wsh.logger.Warn("state stream reply dropped", "type", reply.Type)
		}
	}
}

// writeLoop owns all writes to ws.
func (wsh *WebSocketHandler) writeLoop(ws *websocket.Conn, pending <-chan models.Snapshot, replies <-chan WSMessage, done <-chan struct{}) {
	for {
		var msg WSMessage
		select {
		case <-done:
			return
		case snap := <-pending:
			msg = WSMessage{Type: MsgTypeState, Payload: mustJSON(snap)}
		case msg = <-replies:
		}

		msg.Timestamp = time.Now().UnixMilli()
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteJSON(msg); err != nil {
			wsh.logger.Warn("state stream write failed", "error", err)
			// Unblock the reader so the handler can return.
			ws.Close()
			return
		}
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
