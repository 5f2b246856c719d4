package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	// Maximum composer frame size: a body at the rune limit with every rune
	// JSON-escaped as a surrogate pair (12 bytes), plus the envelope.
	maxMessageSize = MaxContentLength*12 + 1024
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict to the configured frontend origin once it is part of config.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Frame types sent to websocket clients.
const (
	FrameSnapshot      = "snapshot"
	FrameMessage       = "message"
	FrameSent          = "sent"
	FrameConversations = "conversations"
	FrameError         = "error"
)

// Frame is the JSON envelope written to websocket clients.
type Frame struct {
	Type          string                `json:"type"`
	Counterparty  *Counterparty         `json:"counterparty,omitempty"`
	Messages      []Message             `json:"messages,omitempty"`
	Message       *Message              `json:"message,omitempty"`
	Conversations []ConversationSummary `json:"conversations,omitempty"`
	Error         string                `json:"error,omitempty"`
	// Content echoes a failed composer submission so the client can keep it.
	Content string `json:"content,omitempty"`
}

// Client is a middleman between one websocket connection and a live session.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func newClient(ctx context.Context, conn *websocket.Conn, logger *slog.Logger) *Client {
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Queue hands a frame to the write pump. It gives up once the client is done.
func (c *Client) Queue(f Frame) {
	payload, err := json.Marshal(f)
	if err != nil {
		c.logger.Error("Could not encode frame", "type", f.Type, "error", err.Error())
		return
	}
	select {
	case c.send <- payload:
	case <-c.ctx.Done():
	}
}

// readPump pumps frames from the websocket connection to onFrame until the
// connection fails, then cancels the client.
func (c *Client) readPump(onFrame func([]byte)) {
	defer c.cancel()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("Websocket read failed", "error", err.Error())
			}
			return
		}
		if onFrame != nil {
			onFrame(payload)
		}
	}
}

// writePump pumps queued frames to the websocket connection and keeps it
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
