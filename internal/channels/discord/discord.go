package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/botparty/internal/bus"
	"github.com/nextlevelbuilder/botparty/internal/channels"
	"github.com/nextlevelbuilder/botparty/internal/config"
)

const maxMessageLen = 2000 // characters

// slashCommands are registered globally when the bot connects.
var slashCommands = []*discordgo.ApplicationCommand{
	{Name: "toggle", Description: "Mute or unmute the bot"},
	{Name: "botstatus", Description: "Show whether the bot is muted"},
	{Name: "ping", Description: "Check that the bot is alive"},
	{Name: "rollcall", Description: "Ask every bot to check in"},
}

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	session   *discordgo.Session
	botUserID string // populated on start
	removers  []func()
}

// New creates a new Discord channel from config.
func New(cfg config.AgentConfig) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	// Request necessary intents
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel(config.PlatformDiscord, cfg.Name),
		session:     session,
	}, nil
}

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot", "agent", c.Agent())

	c.removers = append(c.removers,
		c.session.AddHandler(c.handleMessage),
		c.session.AddHandler(c.handleInteraction),
	)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	// Fetch bot identity
	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	for _, cmd := range slashCommands {
		if _, err := c.session.ApplicationCommandCreate(user.ID, "", cmd); err != nil {
			slog.Warn("discord: register slash command failed", "agent", c.Agent(), "command", cmd.Name, "error", err)
		}
	}

	c.SetRunning(true)
	slog.Info("discord bot connected", "agent", c.Agent(), "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	if !c.IsRunning() {
		return nil
	}
	slog.Info("stopping discord bot", "agent", c.Agent())
	c.SetRunning(false)
	for _, rm := range c.removers {
		rm()
	}
	c.removers = nil
	return c.session.Close()
}

// Send delivers text to a Discord channel, splitting at 2000 characters.
// Sending only needs the REST API, so it works without Start.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if msg.Channel == "" {
		return c.NewSendError(msg.Channel, fmt.Errorf("empty channel id"))
	}
	for _, chunk := range channels.SplitMessage(msg.Content, maxMessageLen) {
		if _, err := c.session.ChannelMessageSend(msg.Channel, chunk, discordgo.WithContext(ctx)); err != nil {
			return c.NewSendError(msg.Channel, err)
		}
	}
	return nil
}

// handleMessage processes incoming Discord messages.
func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	ev, ok := c.translateMessage(m)
	if !ok {
		return
	}
	slog.Debug("discord message received",
		"agent", c.Agent(),
		"channel_id", ev.Channel,
		"kind", ev.Kind,
		"preview", channels.Truncate(ev.Text, 50),
	)
	c.HandleEvent(ev)
}

func (c *Channel) translateMessage(m *discordgo.MessageCreate) (bus.InboundEvent, bool) {
	// Ignore own and other bots' messages
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return bus.InboundEvent{}, false
	}

	kind := bus.EventMessage
	for _, u := range m.Mentions {
		if u.ID == c.botUserID {
			kind = bus.EventMention
			break
		}
	}
	return bus.InboundEvent{
		Kind:    kind,
		Text:    m.Content,
		Channel: m.ChannelID,
		User:    m.Author.ID,
		Team:    m.GuildID,
	}, true
}

// handleInteraction acknowledges slash commands and forwards them as command events.
func (c *Channel) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ev, ok := translateInteraction(i)
	if !ok {
		return
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "/" + ev.Command,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		slog.Warn("discord: interaction ack failed", "agent", c.Agent(), "command", ev.Command, "error", err)
	}
	c.HandleEvent(ev)
}

func translateInteraction(i *discordgo.InteractionCreate) (bus.InboundEvent, bool) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return bus.InboundEvent{}, false
	}
	data := i.ApplicationCommandData()

	userID := ""
	switch {
	case i.Member != nil && i.Member.User != nil:
		userID = i.Member.User.ID
	case i.User != nil:
		userID = i.User.ID
	}

	var text string
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			text = opt.StringValue()
			break
		}
	}
	return bus.InboundEvent{
		Kind:    bus.EventCommand,
		Command: data.Name,
		Text:    text,
		Channel: i.ChannelID,
		User:    userID,
		Team:    i.GuildID,
	}, true
}
