package bus

import "context"

// EventKind identifies what produced an inbound event.
type EventKind string

const (
	EventMessage EventKind = "message"
	EventMention EventKind = "mention"
	EventCommand EventKind = "command"
)

// InboundEvent is the platform-neutral view of a message, mention or slash command.
// It is built by a channel per dispatch and discarded after handling.
type InboundEvent struct {
	Kind     EventKind `json:"kind"`
	Command  string    `json:"command,omitempty"` // normalized name without "/", only for EventCommand
	Text     string    `json:"text"`
	Channel  string    `json:"channel"`
	User     string    `json:"user"`
	Team     string    `json:"team,omitempty"`
	Platform string    `json:"platform,omitempty"` // "slack", "discord", "telegram"
}

// OutboundMessage is a reply ready to hand to a channel's post primitive.
type OutboundMessage struct {
	Channel string `json:"channel"`
	Content string `json:"content"`
}

// EventHandler handles one inbound event.
type EventHandler func(InboundEvent)

// MessageRouter abstracts the inbound side of an agent's bus.
type MessageRouter interface {
	PublishInbound(ev InboundEvent) bool
	ConsumeInbound(ctx context.Context) (InboundEvent, bool)
}
