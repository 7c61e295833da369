package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const sendBufferSize = 64

type Client struct {
	ID      string
	UserID  string
	Conn    *websocket.Conn
	Manager *Manager
	Send    chan []byte

	// guarded by Manager.clientsMutex
	subscriptions map[string]bool
}

func NewClient(id, userID string, conn *websocket.Conn, manager *Manager) *Client {
	return &Client{
		ID:      id,
		UserID:  userID,
		Conn:    conn,
		Manager: manager,
		Send:    make(chan []byte, sendBufferSize),
	}
}

func (c *Client) closeConn() {
	if c.Conn != nil {
		c.Conn.Close()
	}
}

func (c *Client) ReadPump() {
	cfg := c.Manager.config
	defer func() {
		select {
		case c.Manager.Unregister <- c:
		case <-c.Manager.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(cfg.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.Manager.logger.Debug("websocket read error", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}

		select {
		case c.Manager.HandleMessage <- &ClientMessage{Client: c, Message: message}:
		case <-c.Manager.done:
			return
		}
	}
}

// WritePump writes one message per frame; receivers decode frames as single
// JSON documents.
func (c *Client) WritePump() {
	cfg := c.Manager.config
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
