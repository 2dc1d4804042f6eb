package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// ErrSlowConsumer is returned when a client's send buffer is full.
var ErrSlowConsumer = errors.New("ws: send buffer full")

// ClientFrame is a control message sent by a websocket client.
type ClientFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// Client represents a websocket client connection.
type Client struct {
	conn *websocket.Conn
	hub  *Hub
	send chan []byte
	log  *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient constructs a client wrapper with a bounded send buffer.
func NewClient(conn *websocket.Conn, hub *Hub, buffer int, logger *slog.Logger) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		conn:   conn,
		hub:    hub,
		send:   make(chan []byte, buffer),
		log:    logger,
		closed: make(chan struct{}),
	}
}

// Send queues a payload without blocking.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.closed:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.log.Warn("websocket client too slow, dropping")
		return ErrSlowConsumer
	}
}

// Close terminates the connection. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// Serve pumps frames in both directions until the connection ends, then
// removes the client from every channel.
func (c *Client) Serve() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveAll(c)
		c.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read failed", "error", err)
			}
			return
		}
		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil || !ValidChannel(frame.Channel) {
			_ = c.Send(errorFrame("expected {\"type\":\"subscribe\",\"channel\":\"logs:<deploymentId>\"}"))
			continue
		}
		switch frame.Type {
		case "subscribe":
			c.hub.Subscribe(frame.Channel, c)
		case "unsubscribe":
			c.hub.Unsubscribe(frame.Channel, c)
		default:
			_ = c.Send(errorFrame("unknown frame type " + frame.Type))
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("websocket send failed", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

func errorFrame(msg string) []byte {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return data
}
