package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/botparty/internal/bus"
	"github.com/nextlevelbuilder/botparty/internal/config"
	"github.com/nextlevelbuilder/botparty/internal/providers"
)

func TestNew_MissingFields(t *testing.T) {
	cfg := testAgentConfig("dexter")
	cfg.BotToken = ""
	cfg.OnlineMessage = ""

	_, err := New(cfg, newFakeChannel())
	var ce *config.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	if len(ce.Missing) != 2 {
		t.Fatalf("expected 2 missing fields, got %v", ce.Missing)
	}
}

func TestNew_NilTransport(t *testing.T) {
	var ce *config.ConfigError
	if _, err := New(testAgentConfig("dexter"), nil); !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
}

func TestAgent_MuteState(t *testing.T) {
	cfg := testAgentConfig("poppy")
	cfg.StartMuted = true
	a, err := New(cfg, newFakeChannel())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !a.Muted() {
		t.Fatal("start_muted must mute the agent")
	}
	a.Unmute()
	if a.Muted() {
		t.Fatal("unmute failed")
	}
	a.Mute()
	if !a.Muted() || a.State() != StateConstructed {
		t.Fatal("mute failed or state changed")
	}
}

// startAgent runs a.Start in the background and waits for the transport to start.
func startAgent(t *testing.T, a *Agent, ch *fakeChannel) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Start(ctx) }()

	select {
	case <-ch.started:
	case <-time.After(2 * time.Second):
		cancelFn()
		t.Fatal("transport never started")
	}
	return cancelFn, errc
}

func TestAgent_StartSendsOnlineMessageAndRoutes(t *testing.T) {
	ch := newFakeChannel()
	backend := &fakeBackend{reply: &providers.ChatReply{Content: "sunny"}}
	a, err := New(testAgentConfig("dexter"), ch, WithBackend(backend))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cancel, done := startAgent(t, a, ch)
	defer cancel()

	if a.State() != StateRunning {
		t.Fatalf("expected running, got %s", a.State())
	}

	ch.HandleEvent(bus.InboundEvent{Kind: bus.EventMention, Text: "weather?", Channel: "C1", User: "U1"})
	sent := ch.waitSent(2, 2*time.Second)
	if len(sent) != 2 {
		t.Fatalf("expected 2 posts, got %+v", sent)
	}
	if sent[0].Channel != "CDEFAULT" || sent[0].Content != "dexter online" {
		t.Fatalf("first post must be the online message, got %+v", sent[0])
	}
	if sent[1].Channel != "C1" || sent[1].Content != "sunny" {
		t.Fatalf("unexpected reply %+v", sent[1])
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop")
	}
	if a.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", a.State())
	}
	if ch.IsRunning() {
		t.Fatal("transport must be stopped")
	}
}

func TestAgent_RegisterIdempotent(t *testing.T) {
	ch := newFakeChannel()
	a, err := New(testAgentConfig("dexter"), ch)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	a.Register()
	a.Register()
	if ch.binds != 1 {
		t.Fatalf("expected a single bind, got %d", ch.binds)
	}
	if a.State() != StateRegistered {
		t.Fatalf("expected registered, got %s", a.State())
	}

	cancel, done := startAgent(t, a, ch)
	defer cancel()
	a.Register()

	ch.HandleEvent(bus.InboundEvent{Kind: bus.EventMessage, Text: "hello", Channel: "C1", User: "U1"})
	ch.waitSent(2, 2*time.Second)
	time.Sleep(50 * time.Millisecond)
	if sent := ch.Sent(); len(sent) != 2 {
		t.Fatalf("expected online message plus one reply, got %+v", sent)
	}
	cancel()
	<-done
}

func TestAgent_NoSendAfterCancel(t *testing.T) {
	ch := newFakeChannel()
	a, err := New(testAgentConfig("dexter"), ch)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cancel, done := startAgent(t, a, ch)
	ch.waitSent(1, time.Second)

	cancel()
	<-done

	before := len(ch.Sent())
	a.Send(context.Background(), "C1", "late")
	ch.HandleEvent(bus.InboundEvent{Kind: bus.EventMessage, Text: "hello", Channel: "C1", User: "U1"})
	time.Sleep(50 * time.Millisecond)
	if after := len(ch.Sent()); after != before {
		t.Fatalf("agent posted after shutdown: %d -> %d", before, after)
	}
}

func TestAgent_TransportStartFailure(t *testing.T) {
	ch := newFakeChannel()
	ch.startErr = errors.New("invalid_auth")
	a, err := New(testAgentConfig("dexter"), ch)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	err = a.Start(context.Background())
	var ae *AgentError
	if !errors.As(err, &ae) || ae.Agent != "dexter" {
		t.Fatalf("expected *AgentError, got %v", err)
	}
	if a.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", a.State())
	}
}

func TestAgent_SendFailureIsSwallowed(t *testing.T) {
	ch := newFakeChannel()
	ch.sendErr = errors.New("channel_not_found")
	a, err := New(testAgentConfig("dexter"), ch)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cancel, done := startAgent(t, a, ch)
	defer cancel()

	ch.HandleEvent(bus.InboundEvent{Kind: bus.EventMessage, Text: "hello", Channel: "C1", User: "U1"})
	ch.HandleEvent(bus.InboundEvent{Kind: bus.EventCommand, Command: "ping", Channel: "C1", User: "U1"})
	time.Sleep(50 * time.Millisecond)

	if a.State() != StateRunning {
		t.Fatalf("failed sends must not stop the agent, state %s", a.State())
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("start returned %v", err)
	}
}

func TestAgent_SendCoercesPayload(t *testing.T) {
	ch := newFakeChannel()
	a, err := New(testAgentConfig("dexter"), ch)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	a.Send(context.Background(), "C1", map[string]int{"n": 1})
	sent := ch.Sent()
	if len(sent) != 1 || sent[0].Content != "map[n:1]" {
		t.Fatalf("unexpected post %+v", sent)
	}
}

func TestAgent_ListenEventsOff(t *testing.T) {
	ch := newFakeChannel()
	cfg := testAgentConfig("louie")
	cfg.ListenEvents = false
	a, err := New(cfg, ch)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Start(ctx) }()

	ch.waitSent(1, time.Second)
	if ch.IsRunning() {
		t.Fatal("transport must not listen when listen_events is off")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("start returned %v", err)
	}
}

func TestState_String(t *testing.T) {
	if StateStopping.String() != "stopping" || State(42).String() != "state(42)" {
		t.Fatal("unexpected state names")
	}
}
