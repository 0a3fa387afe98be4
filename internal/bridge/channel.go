package bridge

import (
	"context"
	"errors"
	"sync"
)

// ErrChannelClosed indicates the counterpart side has gone away
var ErrChannelClosed = errors.New("message channel closed")

// Channel is a generic cross-context message channel between host and
// guest. Sender verification happens when the channel is established
// (the websocket upgrade checks the origin); a connected Channel is
// trusted to be the expected counterpart.
type Channel interface {
	// Send delivers one message to the counterpart
	Send(ctx context.Context, msg Message) error

	// Receive blocks until the next inbound message, the context is
	// cancelled, or the channel closes (ErrChannelClosed)
	Receive(ctx context.Context) (Message, error)

	// Close tears the channel down; safe to call more than once
	Close() error
}

// pipeChannel is one end of an in-memory channel pair. Closing either
// end closes both.
type pipeChannel struct {
	in  chan Message
	out chan Message

	closeOnce *sync.Once
	closed    chan struct{}
}

// Pipe creates two connected in-memory Channels, host side first.
// Used by tests to run a bridge without sockets.
func Pipe() (Channel, Channel) {
	a := make(chan Message, 16)
	b := make(chan Message, 16)
	closed := make(chan struct{})
	once := &sync.Once{}
	host := &pipeChannel{in: a, out: b, closed: closed, closeOnce: once}
	guest := &pipeChannel{in: b, out: a, closed: closed, closeOnce: once}
	return host, guest
}

func (c *pipeChannel) Send(ctx context.Context, msg Message) error {
	select {
	case <-c.closed:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	case c.out <- msg:
		return nil
	}
}

func (c *pipeChannel) Receive(ctx context.Context) (Message, error) {
	select {
	case <-c.closed:
		return Message{}, ErrChannelClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case msg := <-c.in:
		return msg, nil
	}
}

func (c *pipeChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}
