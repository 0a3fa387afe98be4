package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WSChannel carries the message envelope over a websocket connection.
// Writes are serialized; gorilla permits only one concurrent writer.
type WSChannel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
}

// NewWSChannel wraps an upgraded websocket connection
func NewWSChannel(conn *websocket.Conn) *WSChannel {
	return &WSChannel{conn: conn}
}

func (c *WSChannel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		return normalizeWSError(err)
	}
	return nil
}

// Receive blocks on the socket. Cancellation is delivered by closing
// the channel, which unblocks the pending read.
func (c *WSChannel) Receive(ctx context.Context) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return Message{}, normalizeWSError(err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed frames are dropped, not fatal
			log.Debug().Err(err).Msg("discarding malformed guest frame")
			continue
		}
		return msg, nil
	}
}

func (c *WSChannel) Close() error {
	var err error
	c.once.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func normalizeWSError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return ErrChannelClosed
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return ErrChannelClosed
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) || errors.Is(err, net.ErrClosed) {
		return ErrChannelClosed
	}
	return err
}
