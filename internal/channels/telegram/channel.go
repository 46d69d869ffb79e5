// Package telegram connects an agent to Telegram via the Bot API using long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/botparty/internal/bus"
	"github.com/nextlevelbuilder/botparty/internal/channels"
	"github.com/nextlevelbuilder/botparty/internal/config"
)

const maxMessageLen = 4096 // characters

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot *telego.Bot

	mu         sync.Mutex
	pollCancel context.CancelFunc // cancels the long polling context
	pollDone   chan struct{}      // closed when polling goroutine exits
}

// New creates a new Telegram channel from config.
func New(cfg config.AgentConfig) (*Channel, error) {
	bot, err := telego.NewBot(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel(config.PlatformTelegram, cfg.Name),
		bot:         bot,
	}, nil
}

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)", "agent", c.Agent())

	// Stop() cancels this context to cleanly shut down long polling.
	pollCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.mu.Lock()
	c.pollCancel = cancel
	c.pollDone = done
	c.mu.Unlock()

	c.SetRunning(true)
	slog.Info("telegram bot connected", "agent", c.Agent(), "username", c.bot.Username())

	go func() {
		if err := c.SyncMenuCommands(pollCtx, DefaultMenuCommands()); err != nil {
			slog.Warn("failed to sync telegram menu commands", "agent", c.Agent(), "error", err)
		}
	}()

	go func() {
		defer close(done)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed", "agent", c.Agent())
					return
				}
				if update.Message == nil {
					continue
				}
				if ev, ok := translateMessage(update.Message, c.bot.Username()); ok {
					c.HandleEvent(ev)
				}
			}
		}
	}()

	return nil
}

// Stop cancels long polling and waits for the polling goroutine to exit.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.pollCancel, c.pollDone
	c.pollCancel, c.pollDone = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}

	slog.Info("stopping telegram bot", "agent", c.Agent())
	c.SetRunning(false)
	cancel()

	// Telegram releases the getUpdates lock only once polling has exited.
	select {
	case <-done:
		slog.Info("telegram bot stopped", "agent", c.Agent())
	case <-ctx.Done():
		slog.Warn("telegram polling goroutine did not exit before deadline", "agent", c.Agent())
	case <-time.After(10 * time.Second):
		slog.Warn("telegram polling goroutine did not exit within timeout", "agent", c.Agent())
	}
	return nil
}

// Send delivers text to a Telegram chat, splitting long messages.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := parseChatID(msg.Channel)
	if err != nil {
		return c.NewSendError(msg.Channel, fmt.Errorf("invalid chat id: %w", err))
	}
	for _, chunk := range channels.SplitMessage(msg.Content, maxMessageLen) {
		if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			return c.NewSendError(msg.Channel, err)
		}
	}
	return nil
}

// translateMessage maps a Telegram message to an inbound event.
// "/cmd@bot args" becomes a command; private chats and "@bot" mentions become mentions.
func translateMessage(m *telego.Message, botUsername string) (bus.InboundEvent, bool) {
	if m.From != nil && m.From.IsBot {
		return bus.InboundEvent{}, false
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if text == "" {
		return bus.InboundEvent{}, false
	}

	ev := bus.InboundEvent{
		Kind:    bus.EventMessage,
		Text:    text,
		Channel: strconv.FormatInt(m.Chat.ID, 10),
	}
	if m.From != nil {
		ev.User = strconv.FormatInt(m.From.ID, 10)
	}

	if cmd, args, ok := parseCommand(text, botUsername); ok {
		ev.Kind = bus.EventCommand
		ev.Command = cmd
		ev.Text = args
		return ev, true
	}
	if m.Chat.Type == telego.ChatTypePrivate ||
		(botUsername != "" && strings.Contains(strings.ToLower(text), "@"+strings.ToLower(botUsername))) {
		ev.Kind = bus.EventMention
	}
	return ev, true
}

// parseChatID converts a string chat ID to int64.
func parseChatID(chatIDStr string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(chatIDStr), 10, 64)
}
