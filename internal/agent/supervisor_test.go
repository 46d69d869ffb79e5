package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/botparty/internal/channels"
	"github.com/nextlevelbuilder/botparty/internal/config"
)

func boolPtr(b bool) *bool { return &b }

// fleet builds a config with dexter, poppy (muted) and a broken agent,
// plus a loader whose fake channels are recorded by name.
func fleet(t *testing.T) (*config.Config, *channels.InstanceLoader, map[string]*fakeChannel) {
	t.Helper()
	cfg := config.Default()
	cfg.Defaults.LLMAppURL = ""
	cfg.Defaults.SendRate = 1000
	cfg.Gateway.ShutdownGrace = "1s"
	cfg.Agents = map[string]config.AgentSettings{
		"dexter": {DefaultChannel: "C1", OnlineMessage: "dexter online", BotToken: "b", AppToken: "a"},
		"poppy":  {DefaultChannel: "C1", OnlineMessage: "poppy online", BotToken: "b", AppToken: "a", StartMuted: boolPtr(true)},
		"broken": {DefaultChannel: "C1"},
	}

	var mu sync.Mutex
	chans := map[string]*fakeChannel{}
	loader := channels.NewInstanceLoader()
	loader.RegisterFactory(config.PlatformSlack, func(ac config.AgentConfig) (channels.Channel, error) {
		ch := newFakeChannel()
		mu.Lock()
		chans[ac.Name] = ch
		mu.Unlock()
		return ch, nil
	})
	return cfg, loader, chans
}

func TestSupervisor_BuildSkipsInvalidAgents(t *testing.T) {
	cfg, loader, _ := fleet(t)
	s := NewSupervisor(SupervisorConfig{Config: cfg, Loader: loader})

	errs := s.Build()
	if len(errs) != 1 {
		t.Fatalf("expected one build error, got %v", errs)
	}
	var ce *config.ConfigError
	if !errors.As(errs[0], &ce) || ce.Agent != "broken" {
		t.Fatalf("expected ConfigError for broken, got %v", errs[0])
	}

	status := s.Status()
	if len(status) != 2 || status[0].Name != "dexter" || status[1].Name != "poppy" {
		t.Fatalf("unexpected fleet %+v", status)
	}
	if status[0].Muted || !status[1].Muted {
		t.Fatalf("start_muted not applied: %+v", status)
	}
}

func TestSupervisor_RunAndShutdown(t *testing.T) {
	cfg, loader, chans := fleet(t)
	s := NewSupervisor(SupervisorConfig{Config: cfg, Loader: loader})
	s.Build()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for _, name := range []string{"dexter", "poppy"} {
		select {
		case <-chans[name].started:
		case <-time.After(2 * time.Second):
			t.Fatalf("%s never started", name)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not return within grace")
	}
	for _, st := range s.Status() {
		if st.State != "stopped" {
			t.Fatalf("agent %s not stopped: %s", st.Name, st.State)
		}
	}
}

func TestSupervisor_IsolatesFailingAgent(t *testing.T) {
	cfg, _, _ := fleet(t)
	delete(cfg.Agents, "broken")

	healthy := newFakeChannel()
	loader := channels.NewInstanceLoader()
	loader.RegisterFactory(config.PlatformSlack, func(ac config.AgentConfig) (channels.Channel, error) {
		if ac.Name == "dexter" {
			ch := newFakeChannel()
			ch.startErr = errors.New("invalid_auth")
			return ch, nil
		}
		return healthy, nil
	})

	s := NewSupervisor(SupervisorConfig{Config: cfg, Loader: loader})
	if errs := s.Build(); len(errs) != 0 {
		t.Fatalf("unexpected build errors %v", errs)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-healthy.started:
	case <-time.After(2 * time.Second):
		t.Fatal("healthy agent never started")
	}
	time.Sleep(50 * time.Millisecond)

	var poppy *Agent
	for _, a := range s.Agents() {
		if a.Name() == "poppy" {
			poppy = a
		}
	}
	if poppy.State() != StateRunning {
		t.Fatalf("poppy must keep running, state %s", poppy.State())
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestSupervisor_ShutdownTimeout(t *testing.T) {
	cfg, _, _ := fleet(t)
	delete(cfg.Agents, "broken")
	delete(cfg.Agents, "poppy")
	cfg.Gateway.ShutdownGrace = "50ms"

	slow := newFakeChannel()
	slow.stopWait = 500 * time.Millisecond
	loader := channels.NewInstanceLoader()
	loader.RegisterFactory(config.PlatformSlack, func(config.AgentConfig) (channels.Channel, error) { return slow, nil })

	s := NewSupervisor(SupervisorConfig{Config: cfg, Loader: loader})
	s.Build()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	<-slow.started
	cancel()

	if err := <-done; !errors.Is(err, ErrShutdownTimeout) {
		t.Fatalf("expected ErrShutdownTimeout, got %v", err)
	}
}

func TestSupervisor_NoAgents(t *testing.T) {
	cfg := config.Default()
	s := NewSupervisor(SupervisorConfig{Config: cfg, Loader: channels.NewInstanceLoader()})
	s.Build()
	if err := s.Run(context.Background()); !errors.Is(err, ErrNoAgents) {
		t.Fatalf("expected ErrNoAgents, got %v", err)
	}
}

func TestSupervisor_AllAgentsFail(t *testing.T) {
	cfg, _, _ := fleet(t)
	delete(cfg.Agents, "broken")
	loader := channels.NewInstanceLoader()
	loader.RegisterFactory(config.PlatformSlack, func(config.AgentConfig) (channels.Channel, error) {
		ch := newFakeChannel()
		ch.startErr = errors.New("invalid_auth")
		return ch, nil
	})
	s := NewSupervisor(SupervisorConfig{Config: cfg, Loader: loader})
	s.Build()
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected error when every agent fails")
	}
}
