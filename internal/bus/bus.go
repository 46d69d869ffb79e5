// Package bus carries inbound events from a channel to the agent that owns it.
//
// Each agent owns exactly one MessageBus. Channels publish from their own
// goroutines; the agent consumes sequentially, which gives per-agent
// arrival-order handling without locks around agent state.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultBufferSize is the inbound queue depth used by NewMessageBus(0).
const DefaultBufferSize = 256

// MessageBus is a bounded in-process queue of inbound events.
type MessageBus struct {
	inbound chan InboundEvent
	closed  chan struct{}
	once    sync.Once
}

// NewMessageBus creates a bus with the given buffer size (0 = default).
func NewMessageBus(size int) *MessageBus {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &MessageBus{
		inbound: make(chan InboundEvent, size),
		closed:  make(chan struct{}),
	}
}

// PublishInbound enqueues an event. It never blocks: when the queue is full
// or the bus is closed the event is dropped and false is returned.
func (b *MessageBus) PublishInbound(ev InboundEvent) bool {
	select {
	case <-b.closed:
		return false
	default:
	}
	select {
	case b.inbound <- ev:
		return true
	default:
		slog.Warn("inbound queue full, dropping event", "kind", ev.Kind, "channel", ev.Channel)
		return false
	}
}

// ConsumeInbound blocks until an event is available, the context is done,
// or the bus is closed. ok is false in the latter two cases.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundEvent, bool) {
	select {
	case ev := <-b.inbound:
		return ev, true
	case <-ctx.Done():
		return InboundEvent{}, false
	case <-b.closed:
		return InboundEvent{}, false
	}
}

// Close stops accepting events and releases consumers. Safe to call twice.
func (b *MessageBus) Close() {
	b.once.Do(func() { close(b.closed) })
}

// Len reports the number of queued events.
func (b *MessageBus) Len() int { return len(b.inbound) }

var _ MessageRouter = (*MessageBus)(nil)
