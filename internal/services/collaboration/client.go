package collaboration

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"review-collab/internal/logger"
	"review-collab/internal/models"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Client is one WebSocket connection to the collaboration server.
// Connection fields and user are owned by the SessionManager loop; the pumps
// only move bytes.
type Client struct {
	*models.Connection
	conn    *websocket.Conn
	send    chan []byte // buffered outbound frames
	manager *SessionManager
	ctx     context.Context
	log     *slog.Logger

	user          *models.CollaborationUser // set while joined
	authSessionID string                    // session the token was issued for
	lastActive    atomic.Int64              // unix nanoseconds
}

func newClient(ctx context.Context, sm *SessionManager, conn *websocket.Conn) *Client {
	info := models.NewConnection()
	c := &Client{
		Connection: info,
		conn:       conn,
		send:       make(chan []byte, sm.opts.SendBuffer),
		manager:    sm,
		ctx:        ctx,
		log:        sm.log.With(slog.String("conn_id", info.ID)),
	}
	c.touch()
	return c
}

func (c *Client) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

func (c *Client) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastActive.Load()))
}

// ReadPump decodes inbound frames and hands them to the manager loop.
func (c *Client) ReadPump() {
	defer func() {
		c.manager.Unregister(c)
		c.conn.Close()
	}()

	deadline := c.manager.opts.PingInterval + c.manager.opts.PingTimeout
	c.conn.SetReadLimit(c.manager.opts.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket closed unexpectedly", logger.Err(err))
			}
			return
		}

		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(deadline))

		ev, ack, err := models.Decode(message)
		if err != nil {
			c.log.Debug("dropping undecodable frame", logger.Err(err))
			if ack != 0 {
				c.reply(models.Ack{Success: false, Error: err.Error()}, ack)
			} else if errors.Is(err, models.ErrUnknownEvent) || errors.Is(err, models.ErrMalformedPayload) {
				c.reply(models.ErrorEvent{Message: err.Error()}, 0)
			}
			continue
		}

		if !c.manager.Dispatch(c, ev, ack) {
			return
		}
	}
}

// WritePump writes queued frames and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.manager.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply answers a frame that never reached the loop, e.g. one that failed to
// decode. Delivery still goes through the loop, which owns send.
func (c *Client) reply(ev models.Event, ack uint64) {
	data, err := models.Encode(ev, ack)
	if err != nil {
		c.log.Error("failed to encode reply", logger.Err(err))
		return
	}
	c.manager.sendDirect(c, data)
}
