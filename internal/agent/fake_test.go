package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nextlevelbuilder/botparty/internal/bus"
	"github.com/nextlevelbuilder/botparty/internal/channels"
	"github.com/nextlevelbuilder/botparty/internal/config"
	"github.com/nextlevelbuilder/botparty/internal/providers"
)

// fakeChannel records posts and lets tests inject inbound events.
type fakeChannel struct {
	*channels.BaseChannel

	mu       sync.Mutex
	sent     []bus.OutboundMessage
	started  chan struct{}
	startErr error
	sendErr  error
	stopWait time.Duration
	binds    int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		BaseChannel: channels.NewBaseChannel("fake", "test"),
		started:     make(chan struct{}),
	}
}

func (f *fakeChannel) Bind(b bus.MessageRouter) {
	f.mu.Lock()
	f.binds++
	f.mu.Unlock()
	f.BaseChannel.Bind(b)
}

func (f *fakeChannel) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.SetRunning(true)
	close(f.started)
	return nil
}

func (f *fakeChannel) Stop(context.Context) error {
	if f.stopWait > 0 {
		time.Sleep(f.stopWait)
	}
	f.SetRunning(false)
	return nil
}

func (f *fakeChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return &channels.SendError{Platform: "fake", Channel: msg.Channel, Err: f.sendErr}
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) Sent() []bus.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bus.OutboundMessage(nil), f.sent...)
}

// waitSent polls until at least n messages were posted or timeout elapses.
func (f *fakeChannel) waitSent(n int, timeout time.Duration) []bus.OutboundMessage {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s := f.Sent(); len(s) >= n {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	return f.Sent()
}

// fakeBackend answers every Chat call with reply or err.
type fakeBackend struct {
	mu       sync.Mutex
	reply    *providers.ChatReply
	err      error
	sessions []string
}

func (b *fakeBackend) Chat(_ context.Context, sessionID, _ string) (*providers.ChatReply, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = append(b.sessions, sessionID)
	if b.err != nil {
		return nil, b.err
	}
	return b.reply, nil
}

func (b *fakeBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

var errTimeout = &providers.ChatError{Cause: "timeout", Err: errors.New("context deadline exceeded")}

func testAgentConfig(name string) config.AgentConfig {
	return config.AgentConfig{
		Key:             name,
		Name:            name,
		Platform:        config.PlatformSlack,
		BotToken:        "xoxb-test",
		AppToken:        "xapp-test",
		DefaultChannel:  "CDEFAULT",
		OnlineMessage:   name + " online",
		ReplyToMessages: true,
		ListenEvents:    true,
		SendRate:        1000,
	}
}
