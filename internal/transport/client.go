// Package transport serves the realtime websocket endpoints.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

var (
	ErrClientClosed   = errors.New("client closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

const pingInterval = 30 * time.Second

// Client is one accepted websocket. Writes go through a buffered queue
// drained by writePump, so Send never blocks the caller.
type Client struct {
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	closeCode    websocket.StatusCode
	closeReason  string
	writeTimeout time.Duration
	logger       *zap.Logger
}

func newClient(conn *websocket.Conn, buffer int, writeTimeout time.Duration, logger *zap.Logger) *Client {
	if buffer <= 0 {
		buffer = 32
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Client{
		conn:         conn,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
		closeCode:    websocket.StatusNormalClosure,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Send queues msg as a JSON text frame.
func (c *Client) Send(msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close asks writePump to flush what is queued and close with code.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = websocket.StatusCode(code)
		c.closeReason = reason
		close(c.done)
	})
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-c.send:
			if err := c.write(ctx, b); err != nil {
				c.logger.Debug("ws_write_failed", zap.Error(err))
				c.Close(int(websocket.StatusInternalError), "write failed")
				_ = c.conn.CloseNow()
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				c.Close(int(websocket.StatusGoingAway), "ping failed")
				_ = c.conn.CloseNow()
				return
			}
		case <-c.done:
			c.flush(ctx)
			_ = c.conn.Close(c.closeCode, c.closeReason)
			return
		}
	}
}

// flush writes whatever is still queued without waiting for more.
func (c *Client) flush(ctx context.Context) {
	for {
		select {
		case b := <-c.send:
			if err := c.write(ctx, b); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(ctx context.Context, b []byte) error {
	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, b)
}
