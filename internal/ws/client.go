package ws

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Send buffer size per client.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
	Subprotocols:    []string{SubprotocolProtobuf, SubprotocolJSON},
}

// Client represents a WebSocket client connection.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	connID   string
	groups   map[string]bool
	logger   *zap.Logger
	protocol string // "protobuf" or "json"

	mu     sync.Mutex
	closed bool
}

// ServeWS upgrades the request and subscribes the connection to the
// comma-separated symbols query parameter, if any. Without a requested
// subprotocol the connection speaks JSON.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	connID := uuid.New().String()

	// Negotiate subprotocol - check what client requested
	protocol := ProtocolJSON
	var responseHeader http.Header
	for _, proto := range websocket.Subprotocols(r) {
		switch proto {
		case SubprotocolProtobuf:
			protocol = ProtocolProtobuf
			responseHeader = http.Header{"Sec-WebSocket-Protocol": {proto}}
		case SubprotocolJSON:
			protocol = ProtocolJSON
			responseHeader = http.Header{"Sec-WebSocket-Protocol": {proto}}
		}
		if responseHeader != nil {
			break
		}
	}

	h.logger.Debug("websocket subprotocol negotiated",
		zap.String("protocol", protocol),
		zap.Strings("requested", websocket.Subprotocols(r)),
	)

	// Upgrade to WebSocket
	conn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		connID:   connID,
		groups:   make(map[string]bool),
		logger:   h.logger,
		protocol: protocol,
	}

	if !h.add(client) {
		_ = conn.Close()
		return
	}

	client.reply(connectedMessage(connID))

	for _, symbol := range strings.Split(r.URL.Query().Get("symbols"), ",") {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" {
			continue
		}
		if !h.JoinGroup(client, symbol) {
			client.logger.Debug("invalid group name",
				zap.String("connID", connID),
				zap.String("group", symbol),
			)
		}
	}

	// Start read/write pumps
	go client.writePump()
	go client.readPump()
}

// enqueue queues a frame without blocking. It reports false when the
// client is closed or its buffer is full.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Send encodes msg in this client's protocol and queues it.
func (c *Client) Send(msg map[string]any) bool {
	frame, err := c.hub.codec.Encode(c.protocol, msg)
	if err != nil {
		c.logger.Warn("failed to encode message",
			zap.String("connID", c.connID),
			zap.Error(err),
		)
		return false
	}
	if !c.enqueue(frame) {
		go c.hub.drop(c)
		return false
	}
	return true
}

func (c *Client) reply(msg map[string]any) {
	_ = c.Send(msg)
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.drop(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	// Determine message type based on protocol
	msgType := websocket.BinaryMessage
	if c.protocol == ProtocolJSON {
		msgType = websocket.TextMessage
	}

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed, send close message
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(msgType, message); err != nil {
				c.logger.Debug("websocket write error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming upstream message.
func (c *Client) handleMessage(data []byte) {
	raw, err := c.hub.codec.Decode(c.protocol, data)
	if err != nil {
		c.logger.Debug("failed to parse upstream message",
			zap.String("connID", c.connID),
			zap.String("protocol", c.protocol),
			zap.Error(err),
		)
		return
	}
	msg, err := routeUpstream(raw)
	if err != nil {
		c.logger.Debug("unsupported upstream message",
			zap.String("connID", c.connID),
			zap.Error(err),
		)
		return
	}

	switch m := msg.(type) {
	case *subscribeRequest:
		ok := c.hub.JoinGroup(c, m.symbol)
		if !ok {
			c.logger.Debug("invalid group name",
				zap.String("connID", c.connID),
				zap.String("group", m.symbol),
			)
		}
		if m.ackID != nil {
			c.reply(ackMessage(*m.ackID, ok))
		}

	case *unsubscribeRequest:
		c.hub.LeaveGroup(c, m.symbol)
		if m.ackID != nil {
			c.reply(ackMessage(*m.ackID, true))
		}

	case *pingRequest:
		c.reply(pongMessage())
	}
}
