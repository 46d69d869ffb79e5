package slack

import (
	"context"
	"errors"
	"testing"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/nextlevelbuilder/botparty/internal/bus"
	"github.com/nextlevelbuilder/botparty/internal/channels"
	"github.com/nextlevelbuilder/botparty/internal/config"
)

type fakePoster struct {
	channel string
	err     error
	calls   int
}

func (f *fakePoster) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	f.calls++
	f.channel = channelID
	return channelID, "123.456", f.err
}

func (f *fakePoster) AuthTestContext(context.Context) (*slack.AuthTestResponse, error) {
	return &slack.AuthTestResponse{UserID: "UBOT"}, nil
}

func newTestChannel(p poster) *Channel {
	return &Channel{
		BaseChannel: channels.NewBaseChannel(config.PlatformSlack, "dexter"),
		api:         p,
		botUserID:   "UBOT",
	}
}

func callback(inner interface{}) slackevents.EventsAPIEvent {
	return slackevents.EventsAPIEvent{
		Type:       slackevents.CallbackEvent,
		TeamID:     "T1",
		InnerEvent: slackevents.EventsAPIInnerEvent{Data: inner},
	}
}

func TestTranslate_AppMention(t *testing.T) {
	c := newTestChannel(&fakePoster{})
	ev, ok := c.translateEventsAPI(callback(&slackevents.AppMentionEvent{
		User: "U1", Text: "<@UBOT> rollcall", Channel: "C1",
	}))
	if !ok {
		t.Fatal("expected mention to translate")
	}
	if ev.Kind != bus.EventMention || ev.Team != "T1" || ev.Channel != "C1" || ev.User != "U1" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestTranslate_MessageSkipsMentionsAndBots(t *testing.T) {
	c := newTestChannel(&fakePoster{})

	if _, ok := c.translateEventsAPI(callback(&slackevents.MessageEvent{User: "U1", Text: "hey <@UBOT>", Channel: "C1"})); ok {
		t.Fatal("message containing the bot mention must be left to app_mention")
	}
	if _, ok := c.translateEventsAPI(callback(&slackevents.MessageEvent{User: "U2", BotID: "B2", Text: "beep", Channel: "C1"})); ok {
		t.Fatal("bot messages must be skipped")
	}
	if _, ok := c.translateEventsAPI(callback(&slackevents.MessageEvent{User: "U1", SubType: "message_changed", Channel: "C1"})); ok {
		t.Fatal("subtyped messages must be skipped")
	}

	ev, ok := c.translateEventsAPI(callback(&slackevents.MessageEvent{User: "U1", Text: "hello", Channel: "C1"}))
	if !ok || ev.Kind != bus.EventMessage || ev.Text != "hello" {
		t.Fatalf("expected plain message event, got %+v ok=%v", ev, ok)
	}
}

func TestTranslate_SlashCommand(t *testing.T) {
	ev := translateSlashCommand(slack.SlashCommand{
		Command: "/toggle", Text: "", TeamID: "T1", ChannelID: "C1", UserID: "U1",
	})
	if ev.Kind != bus.EventCommand || ev.Command != "toggle" || ev.Channel != "C1" || ev.User != "U1" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestSend(t *testing.T) {
	p := &fakePoster{}
	c := newTestChannel(p)
	if err := c.Send(context.Background(), bus.OutboundMessage{Channel: "C1", Content: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if p.calls != 1 || p.channel != "C1" {
		t.Fatalf("unexpected post: %+v", p)
	}

	p.err = errors.New("channel_not_found")
	err := c.Send(context.Background(), bus.OutboundMessage{Channel: "C404", Content: "hi"})
	var se *channels.SendError
	if !errors.As(err, &se) || se.Channel != "C404" {
		t.Fatalf("expected *SendError, got %v", err)
	}
}

func TestStartWithoutAppToken(t *testing.T) {
	c, err := New(config.AgentConfig{Name: "louie", BotToken: "xoxb"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected error without app token")
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop on never-started channel: %v", err)
	}
}
