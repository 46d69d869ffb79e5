// Package slack connects an agent to Slack over Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/nextlevelbuilder/botparty/internal/bus"
	"github.com/nextlevelbuilder/botparty/internal/channels"
	"github.com/nextlevelbuilder/botparty/internal/config"
)

// poster is the subset of *slack.Client used to post and identify.
type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
}

// Channel receives events through Socket Mode and posts with the Web API.
type Channel struct {
	*channels.BaseChannel
	api       poster
	sm        *socketmode.Client
	botUserID string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Slack channel from config.
func New(cfg config.AgentConfig) (*Channel, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("slack bot token is required")
	}
	var opts []slack.Option
	if cfg.AppToken != "" {
		opts = append(opts, slack.OptionAppLevelToken(cfg.AppToken))
	}
	api := slack.New(cfg.BotToken, opts...)

	c := &Channel{
		BaseChannel: channels.NewBaseChannel(config.PlatformSlack, cfg.Name),
		api:         api,
	}
	if cfg.AppToken != "" {
		c.sm = socketmode.New(api)
	}
	return c, nil
}

// Factory adapts New to channels.ChannelFactory.
func Factory(cfg config.AgentConfig) (channels.Channel, error) {
	return New(cfg)
}

// Start identifies the bot and opens the Socket Mode connection.
func (c *Channel) Start(ctx context.Context) error {
	if c.sm == nil {
		return errors.New("slack socket mode requires an app token")
	}
	slog.Info("starting slack bot", "agent", c.Agent())

	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	c.botUserID = auth.UserID

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		if err := c.sm.RunContext(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("slack socket mode stopped", "agent", c.Agent(), "error", err)
		}
	}()
	go func() {
		defer close(done)
		c.eventLoop(runCtx)
	}()

	c.SetRunning(true)
	slog.Info("slack bot connected", "agent", c.Agent(), "user", auth.User, "team", auth.Team)
	return nil
}

// Stop closes the Socket Mode connection and waits for the event loop to exit.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}

	slog.Info("stopping slack bot", "agent", c.Agent())
	c.SetRunning(false)
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("slack: stop: %w", ctx.Err())
	}
}

// Send posts plain text to a Slack channel.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if msg.Channel == "" {
		return c.NewSendError(msg.Channel, errors.New("empty channel"))
	}
	if _, _, err := c.api.PostMessageContext(ctx, msg.Channel, slack.MsgOptionText(msg.Content, false)); err != nil {
		return c.NewSendError(msg.Channel, err)
	}
	return nil
}

func (c *Channel) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.sm.Events:
			if !ok {
				return
			}
			c.dispatch(evt)
		}
	}
}

func (c *Channel) dispatch(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		slog.Debug("slack: connecting", "agent", c.Agent())
	case socketmode.EventTypeConnected:
		slog.Debug("slack: connected", "agent", c.Agent())
	case socketmode.EventTypeConnectionError:
		slog.Warn("slack: connection error", "agent", c.Agent())
	case socketmode.EventTypeEventsAPI:
		ev, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			c.sm.Ack(*evt.Request)
		}
		if inbound, ok := c.translateEventsAPI(ev); ok {
			c.HandleEvent(inbound)
		}
	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		if evt.Request != nil {
			c.sm.Ack(*evt.Request)
		}
		c.HandleEvent(translateSlashCommand(cmd))
	}
}

// translateEventsAPI maps app_mention and message callbacks to inbound events.
// Plain messages that mention the bot are skipped: Slack delivers them again as app_mention.
func (c *Channel) translateEventsAPI(ev slackevents.EventsAPIEvent) (bus.InboundEvent, bool) {
	if ev.Type != slackevents.CallbackEvent {
		return bus.InboundEvent{}, false
	}
	switch inner := ev.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		return bus.InboundEvent{
			Kind:    bus.EventMention,
			Text:    inner.Text,
			Channel: inner.Channel,
			User:    inner.User,
			Team:    ev.TeamID,
		}, true
	case *slackevents.MessageEvent:
		if inner.BotID != "" || inner.SubType != "" || inner.User == "" {
			return bus.InboundEvent{}, false
		}
		if c.botUserID != "" && (inner.User == c.botUserID || strings.Contains(inner.Text, "<@"+c.botUserID+">")) {
			return bus.InboundEvent{}, false
		}
		return bus.InboundEvent{
			Kind:    bus.EventMessage,
			Text:    inner.Text,
			Channel: inner.Channel,
			User:    inner.User,
			Team:    ev.TeamID,
		}, true
	}
	return bus.InboundEvent{}, false
}

func translateSlashCommand(cmd slack.SlashCommand) bus.InboundEvent {
	return bus.InboundEvent{
		Kind:    bus.EventCommand,
		Command: strings.TrimPrefix(cmd.Command, "/"),
		Text:    cmd.Text,
		Channel: cmd.ChannelID,
		User:    cmd.UserID,
		Team:    cmd.TeamID,
	}
}
