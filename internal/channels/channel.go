// Package channels provides the transport abstraction between chat platforms
// (Slack, Discord, Telegram) and the agents that own them.
//
// A channel turns platform events into bus.InboundEvent values and publishes
// them to the agent's bus; it also exposes the platform's post primitive as Send.
package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/nextlevelbuilder/botparty/internal/bus"
)

// Channel defines the interface that all platform transports must satisfy.
type Channel interface {
	// Name returns the platform identifier ("slack", "discord", "telegram").
	Name() string

	// Bind sets the bus that received events are published to.
	Bind(b bus.MessageRouter)

	// Start begins listening for events. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the listener.
	Stop(ctx context.Context) error

	// Send posts text to a platform channel.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning returns whether the channel is actively listening.
	IsRunning() bool
}

// SendError wraps a failed post to a platform channel.
type SendError struct {
	Platform string
	Channel  string
	Err      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s: send to %s: %v", e.Platform, e.Channel, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// BaseChannel provides shared functionality for all channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name    string
	agent   string
	running atomic.Bool

	mu  sync.RWMutex
	bus bus.MessageRouter
}

// NewBaseChannel creates a BaseChannel for platform name owned by agent.
func NewBaseChannel(name, agent string) *BaseChannel {
	return &BaseChannel{name: name, agent: agent}
}

// Name returns the platform name.
func (c *BaseChannel) Name() string { return c.name }

// Agent returns the name of the owning agent.
func (c *BaseChannel) Agent() string { return c.agent }

// Bind sets the destination bus for inbound events.
func (c *BaseChannel) Bind(b bus.MessageRouter) {
	c.mu.Lock()
	c.bus = b
	c.mu.Unlock()
}

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// HandleEvent stamps the platform on ev and publishes it to the bound bus.
// Events received before Bind are dropped.
func (c *BaseChannel) HandleEvent(ev bus.InboundEvent) bool {
	c.mu.RLock()
	b := c.bus
	c.mu.RUnlock()
	if b == nil {
		return false
	}
	ev.Platform = c.name
	return b.PublishInbound(ev)
}

// NewSendError builds a *SendError for this channel.
func (c *BaseChannel) NewSendError(channel string, err error) error {
	return &SendError{Platform: c.name, Channel: channel, Err: err}
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return s[:runeOffset(s, maxLen)] + "..."
}

// SplitMessage breaks content into chunks of at most maxRunes characters,
// preferring to cut after a newline in the second half of a chunk. Cuts always
// fall on a character boundary. Empty content yields no chunks.
func SplitMessage(content string, maxRunes int) []string {
	if content == "" {
		return nil
	}
	if maxRunes <= 0 {
		return []string{content}
	}
	var out []string
	for content != "" {
		if utf8.RuneCountInString(content) <= maxRunes {
			out = append(out, content)
			break
		}
		limit := runeOffset(content, maxRunes)
		cut := limit
		if idx := strings.LastIndexByte(content[:limit], '\n'); idx >= 0 && utf8.RuneCountInString(content[:idx]) > maxRunes/2 {
			cut = idx + 1
		}
		out = append(out, content[:cut])
		content = content[cut:]
	}
	return out
}

// runeOffset returns the byte offset of the n-th character of s, or len(s).
func runeOffset(s string, n int) int {
	i := 0
	for off := range s {
		if i == n {
			return off
		}
		i++
	}
	return len(s)
}
