package chat

import (
	"context"

	"DuoChat/logger"
	"DuoChat/service/chat/protocol"
)

type HandlerFunc func(ctx context.Context, c *Client, f *protocol.Frame)

// Dispatcher routes decoded frames to the handler registered for the event
// name. Registration happens once during server construction; dispatch is
// read-only after that.
type Dispatcher struct {
	handlers map[string]HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

func (d *Dispatcher) Register(event string, fn HandlerFunc) {
	d.handlers[event] = fn
}

func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, f *protocol.Frame) {
	fn, ok := d.handlers[f.Event]
	if !ok {
		logger.Debug("[dispatcher] unknown event: " + f.Event)
		return
	}
	fn(ctx, c, f)
}
