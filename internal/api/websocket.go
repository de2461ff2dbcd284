package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the API is bound to the operator's machine
	},
}

// wsConnection streams store snapshots to one client. State changes only mark the
// client stale; the writer snapshots the store when it is ready, so bursts collapse into
// one message carrying the latest state.
type wsConnection struct {
	conn   *websocket.Conn
	send   chan []byte
	stale  chan struct{}
	api    *InventoryAPI
	done   chan struct{}
	closed sync.Once
}

// wsRequest is a client command
type wsRequest struct {
	Action string `json:"action"`
}

// wsMessage is what the server pushes
type wsMessage struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// handleWebSocket handles WebSocket connections
func (a *InventoryAPI) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.Warn("failed to upgrade connection", "error", err)
		return
	}

	ws := newWSConnection(conn, a)

	updates, unsubscribe := a.Store.Subscribe()
	ws.sendSnapshot()

	go ws.forward(updates, unsubscribe)
	go ws.writePump()
	go ws.readPump()
}

func newWSConnection(conn *websocket.Conn, a *InventoryAPI) *wsConnection {
	return &wsConnection{
		conn:  conn,
		send:  make(chan []byte, 16),
		stale: make(chan struct{}, 1),
		api:   a,
		done:  make(chan struct{}),
	}
}

// forward turns store change signals into snapshot messages until the connection closes
func (c *wsConnection) forward(updates <-chan struct{}, unsubscribe func()) {
	defer unsubscribe()
	for {
		select {
		case <-updates:
			c.sendSnapshot()
		case <-c.done:
			return
		}
	}
}

// readPump pumps messages from the WebSocket connection to the handler
func (c *wsConnection) readPump() {
	defer c.close()

	c.conn.SetReadLimit(4 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.api.logger.Warn("websocket error", "error", err)
			}
			return
		}

		c.handleMessage(message)
	}
}

// writePump pumps messages from the server to the WebSocket connection
func (c *wsConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(message); err != nil {
				return
			}
		case <-c.stale:
			message, err := c.stateMessage()
			if err != nil {
				c.api.logger.Error("failed to marshal websocket message", "error", err)
				continue
			}
			if err := c.write(message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *wsConnection) write(message []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	w.Write(message)
	return w.Close()
}

// handleMessage processes incoming messages
func (c *wsConnection) handleMessage(message []byte) {
	var req wsRequest
	if err := json.Unmarshal(message, &req); err != nil {
		c.sendError("invalid message")
		return
	}

	switch req.Action {
	case "refresh":
		go func() {
			if err := c.api.Store.Refresh(context.Background()); err != nil {
				c.sendError(err.Error())
			}
		}()
	default:
		c.sendError("unknown action: " + req.Action)
	}
}

// sendSnapshot marks the client stale; a pending mark already covers this change.
func (c *wsConnection) sendSnapshot() {
	select {
	case c.stale <- struct{}{}:
	default:
	}
}

func (c *wsConnection) stateMessage() ([]byte, error) {
	return json.Marshal(wsMessage{Type: "state", Data: c.api.Store.Snapshot()})
}

func (c *wsConnection) sendError(message string) {
	c.push(wsMessage{Type: "error", Error: message})
}

func (c *wsConnection) push(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.api.logger.Error("failed to marshal websocket message", "error", err)
		return
	}

	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.api.logger.Warn("websocket buffer full, dropping message", "type", msg.Type)
	}
}

func (c *wsConnection) close() {
	c.closed.Do(func() { close(c.done) })
}
