package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/nextlevelbuilder/botparty/internal/bus"
	"github.com/nextlevelbuilder/botparty/internal/providers"
	"github.com/nextlevelbuilder/botparty/internal/sessions"
)

// ChatBackend is the conversational app a router forwards mentions to.
type ChatBackend interface {
	Chat(ctx context.Context, sessionID, message string) (*providers.ChatReply, error)
}

// RouterConfig configures a new Router.
type RouterConfig struct {
	Agent           string // for log context
	Sessions        *sessions.Store
	Backend         ChatBackend
	ReplyToMessages bool
	SanitizeReplies bool // pass backend replies through SanitizeReply
	Logger          *slog.Logger
}

// Router turns inbound events into replies. It never posts anything itself;
// the caller owns the send path.
type Router struct {
	agent           string
	sessions        *sessions.Store
	backend         ChatBackend
	replyToMessages bool
	sanitize        bool
	log             *slog.Logger
	muted           atomic.Bool
}

// NewRouter creates a Router. A nil Sessions gets a fresh in-memory store.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Sessions == nil {
		cfg.Sessions = sessions.NewStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{
		agent:           cfg.Agent,
		sessions:        cfg.Sessions,
		backend:         cfg.Backend,
		replyToMessages: cfg.ReplyToMessages,
		sanitize:        cfg.SanitizeReplies,
		log:             cfg.Logger,
	}
}

// Muted reports the mute flag.
func (r *Router) Muted() bool { return r.muted.Load() }

// SetMuted sets the mute flag.
func (r *Router) SetMuted(v bool) { r.muted.Store(v) }

// Sessions returns the router's session store.
func (r *Router) Sessions() *sessions.Store { return r.sessions }

// Route handles one inbound event and returns the replies to send, in order.
func (r *Router) Route(ctx context.Context, ev bus.InboundEvent) []bus.OutboundMessage {
	log := r.log.With("team", ev.Team, "channel", ev.Channel, "user", ev.User)

	var cmd CommandKind
	if ev.Kind == bus.EventCommand {
		cmd = ParseCommand(ev.Command)
		log.Info("received command", "command", ev.Command, "text", ev.Text)
	} else {
		log.Info("received event", "kind", ev.Kind, "text", ev.Text)
	}

	if r.Muted() && !(ev.Kind == bus.EventCommand && cmd.Admin()) {
		log.Debug("muted, dropping event", "kind", ev.Kind)
		return nil
	}

	if ev.Kind == bus.EventCommand {
		if out, handled := r.routeCommand(cmd, ev); handled {
			return out
		}
	}

	switch Classify(ev.Text) {
	case IntentRollcall:
		return reply(ev.Channel, "I'm here! (from <@%s>)", ev.User)
	case IntentReset:
		r.sessions.Reset(ev.Channel)
		log.Info("session reset")
		return reply(ev.Channel, "State reset! (from <@%s>)", ev.User)
	}

	switch ev.Kind {
	case bus.EventMention:
		return []bus.OutboundMessage{{Channel: ev.Channel, Content: r.askBackend(ctx, log, ev)}}
	case bus.EventMessage:
		if r.replyToMessages {
			return reply(ev.Channel, "What's up? (from <@%s>)", ev.User)
		}
	}
	return nil
}

// routeCommand serves known slash commands. Unknown commands fall through to keyword dispatch.
func (r *Router) routeCommand(cmd CommandKind, ev bus.InboundEvent) ([]bus.OutboundMessage, bool) {
	switch cmd {
	case CommandToggle:
		now := !r.muted.Load()
		r.muted.Store(now)
		return reply(ev.Channel, "I'm now %s ! (from <@%s>)", muteWord(now), ev.User), true
	case CommandStatus:
		return reply(ev.Channel, "I'm %s ! (from <@%s>)", muteWord(r.Muted()), ev.User), true
	case CommandPing:
		return reply(ev.Channel, "Pong! (from <@%s>)", ev.User), true
	case CommandRollcall:
		return []bus.OutboundMessage{
			{Channel: ev.Channel, Content: fmt.Sprintf("I'm here! (from <@%s>)", ev.User)},
			{Channel: ev.Channel, Content: fmt.Sprintf("@channel, rollcall! (from <@%s>)", ev.User)},
		}, true
	}
	return nil, false
}

func (r *Router) askBackend(ctx context.Context, log *slog.Logger, ev bus.InboundEvent) string {
	if r.backend == nil {
		return "error calling LLM app: no LLM app configured"
	}
	sess := r.sessions.GetOrCreate(ev.Channel)

	log.Info("calling LLM app", "session_id", sess.ID)
	res, err := r.backend.Chat(ctx, sess.ID, ev.Text)
	if err != nil {
		cause := err.Error()
		var ce *providers.ChatError
		if errors.As(err, &ce) {
			cause = ce.Cause
		}
		log.Warn("LLM app call failed", "error", err)
		return "error calling LLM app: " + cause
	}
	if res.IsRaw() {
		log.Warn("LLM app returned non-JSON body", "bytes", len(res.Raw))
		return "error calling LLM app: " + res.Raw
	}
	if res.Content == "" {
		return "error calling LLM app: empty response"
	}
	log.Info("got response back from LLM app")
	if r.sanitize {
		if cleaned := SanitizeReply(res.Content); cleaned != "" {
			return cleaned
		}
	}
	return res.Content
}

func reply(channel, format string, args ...any) []bus.OutboundMessage {
	return []bus.OutboundMessage{{Channel: channel, Content: fmt.Sprintf(format, args...)}}
}

func muteWord(muted bool) string {
	if muted {
		return "muted"
	}
	return "unmuted"
}
