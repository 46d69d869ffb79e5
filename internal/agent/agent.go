// Package agent runs the bots of a botparty fleet: one Agent per configured
// bot, a Router that decides how each event is answered, an optional
// WebhookPoller, and the Supervisor that runs them side by side.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/botparty/internal/bus"
	"github.com/nextlevelbuilder/botparty/internal/channels"
	"github.com/nextlevelbuilder/botparty/internal/config"
	"github.com/nextlevelbuilder/botparty/internal/providers"
	"github.com/nextlevelbuilder/botparty/internal/sessions"
)

const (
	sendBurst       = 3
	transportStopTO = 5 * time.Second
)

// State is an agent's lifecycle position.
type State int32

const (
	StateConstructed State = iota
	StateRegistered
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateRegistered:
		return "registered"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// AgentError is an unrecoverable failure of one agent.
type AgentError struct {
	Agent string
	Op    string
	Err   error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s: %s: %v", e.Agent, e.Op, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

// Agent is one bot: a transport, its private bus, a router and the send path.
type Agent struct {
	cfg       config.AgentConfig
	transport channels.Channel
	bus       *bus.MessageBus
	router    *Router
	limiter   *channels.SendLimiter
	poller    *WebhookPoller
	log       *slog.Logger

	state        atomic.Int32
	registerOnce sync.Once
}

// Option configures an Agent.
type Option func(*agentOptions)

type agentOptions struct {
	backend    ChatBackend
	sessions   *sessions.Store
	logger     *slog.Logger
	httpClient *http.Client
	busSize    int
}

// WithBackend overrides the chat app client built from LLMAppURL.
func WithBackend(b ChatBackend) Option { return func(o *agentOptions) { o.backend = b } }

// WithSessions sets the session store (e.g. one with persistence).
func WithSessions(s *sessions.Store) Option { return func(o *agentOptions) { o.sessions = s } }

// WithLogger sets the agent's logger.
func WithLogger(l *slog.Logger) Option { return func(o *agentOptions) { o.logger = l } }

// WithWebhookClient sets the HTTP client used by the webhook poller.
func WithWebhookClient(c *http.Client) Option { return func(o *agentOptions) { o.httpClient = c } }

// WithBusSize sets the inbound queue depth.
func WithBusSize(n int) Option { return func(o *agentOptions) { o.busSize = n } }

// New validates cfg and assembles an agent around transport.
func New(cfg config.AgentConfig, transport channels.Channel, opts ...Option) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, &config.ConfigError{Agent: cfg.Name, Reason: "no transport"}
	}

	var o agentOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	log := o.logger.With("agent", cfg.Name)
	if o.backend == nil && cfg.LLMAppURL != "" {
		o.backend = providers.NewChatAppClient(cfg.LLMAppURL, cfg.LLMTimeout)
	}

	a := &Agent{
		cfg:       cfg,
		transport: transport,
		bus:       bus.NewMessageBus(o.busSize),
		limiter:   channels.NewSendLimiter(cfg.SendRate, sendBurst),
		log:       log,
	}
	a.router = NewRouter(RouterConfig{
		Agent:           cfg.Name,
		Sessions:        o.sessions,
		Backend:         o.backend,
		ReplyToMessages: cfg.ReplyToMessages,
		SanitizeReplies: cfg.SanitizeReplies,
		Logger:          log,
	})
	a.router.SetMuted(cfg.StartMuted)

	if cfg.Webhook != nil {
		a.poller = NewWebhookPoller(WebhookPollerConfig{
			Webhook:        *cfg.Webhook,
			DefaultChannel: cfg.DefaultChannel,
			Send:           a.Send,
			Client:         o.httpClient,
			Logger:         log,
		})
	}
	return a, nil
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.cfg.Name }

// Config returns the agent's resolved configuration.
func (a *Agent) Config() config.AgentConfig { return a.cfg }

// State returns the lifecycle state.
func (a *Agent) State() State { return State(a.state.Load()) }

// Mute suppresses conversational replies.
func (a *Agent) Mute() { a.router.SetMuted(true) }

// Unmute re-enables conversational replies.
func (a *Agent) Unmute() { a.router.SetMuted(false) }

// Muted reports the mute flag.
func (a *Agent) Muted() bool { return a.router.Muted() }

// Register binds the transport to the agent's bus. Calling it again is a no-op.
func (a *Agent) Register() {
	a.registerOnce.Do(func() {
		a.transport.Bind(a.bus)
		a.state.CompareAndSwap(int32(StateConstructed), int32(StateRegistered))
	})
}

// Start announces the agent, starts its transport and webhook poller, and
// handles events until ctx is cancelled. A transport start failure is
// returned as *AgentError.
func (a *Agent) Start(ctx context.Context) error {
	a.Register()
	if !a.state.CompareAndSwap(int32(StateRegistered), int32(StateRunning)) {
		return &AgentError{Agent: a.cfg.Name, Op: "start", Err: fmt.Errorf("agent is %s", a.State())}
	}

	var pollDone chan struct{}
	defer func() { a.shutdown(pollDone) }()

	a.log.Info("agent online", "message", a.cfg.OnlineMessage, "channel", a.cfg.DefaultChannel)
	a.Send(ctx, a.cfg.DefaultChannel, a.cfg.OnlineMessage)

	if a.cfg.ListenEvents {
		if err := a.transport.Start(ctx); err != nil {
			return &AgentError{Agent: a.cfg.Name, Op: "start transport", Err: err}
		}
	}

	if a.poller != nil {
		pollDone = make(chan struct{})
		go func() {
			defer close(pollDone)
			a.poller.Run(ctx)
		}()
	}

	for {
		ev, ok := a.bus.ConsumeInbound(ctx)
		if !ok {
			return nil
		}
		a.handle(ctx, ev)
	}
}

// Send posts payload to channel. Non-string payloads are formatted with fmt.
// Failures are logged, never returned. Nothing is sent once the agent is stopping.
func (a *Agent) Send(ctx context.Context, channel string, payload any) {
	text, ok := payload.(string)
	if !ok {
		text = fmt.Sprint(payload)
	}
	log := a.log.With("channel", channel)

	if ctx.Err() != nil || a.State() >= StateStopping {
		log.Debug("agent stopping, send dropped", "text", channels.Truncate(text, 80))
		return
	}
	log.Info("send", "user", a.cfg.Name, "text", text)

	if err := a.limiter.Wait(ctx); err != nil {
		log.Debug("send cancelled while throttled", "error", err)
		return
	}
	if err := a.transport.Send(ctx, bus.OutboundMessage{Channel: channel, Content: text}); err != nil {
		var se *channels.SendError
		if errors.As(err, &se) {
			log.Error("send failed", "platform", se.Platform, "error", se.Err)
			return
		}
		log.Error("send failed", "error", err)
	}
}

// handle routes one event and sends its replies. A panic is contained to this event.
func (a *Agent) handle(ctx context.Context, ev bus.InboundEvent) {
	ctx, span := otel.Tracer("botparty/agent").Start(ctx, "agent.handle")
	span.SetAttributes(
		attribute.String("agent", a.cfg.Name),
		attribute.String("event.kind", string(ev.Kind)),
		attribute.String("event.channel", ev.Channel),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			a.log.Error("panic while handling event", "kind", ev.Kind, "channel", ev.Channel, "panic", r)
		}
	}()

	for _, out := range a.router.Route(ctx, ev) {
		a.Send(ctx, out.Channel, out.Content)
	}
}

func (a *Agent) shutdown(pollDone chan struct{}) {
	a.state.Store(int32(StateStopping))
	a.bus.Close()

	stopCtx, cancel := context.WithTimeout(context.Background(), transportStopTO)
	defer cancel()
	if a.cfg.ListenEvents {
		if err := a.transport.Stop(stopCtx); err != nil {
			a.log.Warn("transport stop failed", "error", err)
		}
	}
	if pollDone != nil {
		select {
		case <-pollDone:
		case <-stopCtx.Done():
			a.log.Warn("webhook poller did not exit in time")
		}
	}
	a.state.Store(int32(StateStopped))
	a.log.Info("agent stopped")
}

// Status is a point-in-time view of an agent.
type Status struct {
	Name      string `json:"name"`
	Platform  string `json:"platform"`
	State     string `json:"state"`
	Muted     bool   `json:"muted"`
	Listening bool   `json:"listening"`
	Webhook   string `json:"webhook,omitempty"`
	Sessions  int    `json:"sessions"`
}

// Status returns a snapshot of the agent.
func (a *Agent) Status() Status {
	st := Status{
		Name:      a.cfg.Name,
		Platform:  a.cfg.Platform,
		State:     a.State().String(),
		Muted:     a.Muted(),
		Listening: a.transport.IsRunning(),
		Sessions:  a.router.Sessions().Len(),
	}
	if a.cfg.Webhook != nil {
		st.Webhook = a.cfg.Webhook.URL
	}
	return st
}
