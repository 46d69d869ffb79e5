package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/botparty/internal/channels"
	"github.com/nextlevelbuilder/botparty/internal/config"
	"github.com/nextlevelbuilder/botparty/internal/sessions"
	"github.com/nextlevelbuilder/botparty/internal/store"
)

// ErrShutdownTimeout is returned by Run when agents do not unwind within the grace period.
var ErrShutdownTimeout = errors.New("agents did not stop within shutdown grace period")

// ErrNoAgents is returned by Run when no agent could be built.
var ErrNoAgents = errors.New("no agents to run")

// LoggerFactory returns the logger for one agent.
type LoggerFactory func(agentName string) *slog.Logger

// SupervisorConfig configures a new Supervisor.
type SupervisorConfig struct {
	Config   *config.Config
	Loader   *channels.InstanceLoader
	Loggers  LoggerFactory        // nil = slog.Default()
	Sessions store.SessionIDStore // nil = in-memory sessions only
	Options  []Option             // applied to every agent
}

// Supervisor builds the fleet from configuration and runs every agent as an
// independent unit: one agent failing never stops the others.
type Supervisor struct {
	cfg     *config.Config
	loader  *channels.InstanceLoader
	loggers LoggerFactory
	idStore store.SessionIDStore
	options []Option
	grace   time.Duration

	mu     sync.RWMutex
	agents []*Agent
}

// NewSupervisor creates a supervisor. Call Build, then Run.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	s := &Supervisor{
		cfg:     cfg.Config,
		loader:  cfg.Loader,
		loggers: cfg.Loggers,
		idStore: cfg.Sessions,
		options: cfg.Options,
		grace:   cfg.Config.ShutdownGrace(),
	}
	if s.loggers == nil {
		s.loggers = func(string) *slog.Logger { return slog.Default() }
	}
	return s
}

// Build resolves and constructs every configured agent in name order.
// An agent that fails to resolve or construct is skipped; its error is
// logged and returned in the slice.
func (s *Supervisor) Build() []error {
	var errs []error
	var agents []*Agent

	for _, key := range s.cfg.AgentKeys() {
		a, err := s.buildAgent(key)
		if err != nil {
			slog.Error("agent skipped", "agent", key, "error", err)
			errs = append(errs, err)
			continue
		}
		agents = append(agents, a)
		slog.Info("agent built", "agent", a.Name(), "platform", a.cfg.Platform,
			"muted", a.Muted(), "webhook", a.cfg.Webhook != nil, "listen", a.cfg.ListenEvents)
	}

	s.mu.Lock()
	s.agents = agents
	s.mu.Unlock()
	return errs
}

func (s *Supervisor) buildAgent(key string) (*Agent, error) {
	ac, err := s.cfg.ResolveAgent(key)
	if err != nil {
		return nil, err
	}
	transport, err := s.loader.Create(ac)
	if err != nil {
		return nil, err
	}

	var storeOpts []sessions.Option
	if s.idStore != nil {
		storeOpts = append(storeOpts, sessions.WithPersistence(s.idStore, ac.Name, ac.Platform))
	}
	opts := append([]Option{
		WithLogger(s.loggers(ac.Name)),
		WithSessions(sessions.NewStore(storeOpts...)),
	}, s.options...)
	return New(ac, transport, opts...)
}

// Agents returns the built agents.
func (s *Supervisor) Agents() []*Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Agent(nil), s.agents...)
}

// Run starts all agents concurrently and blocks until they have all stopped.
// After ctx is cancelled, agents get the shutdown grace period to unwind;
// if they do not, Run returns ErrShutdownTimeout.
func (s *Supervisor) Run(ctx context.Context) error {
	agents := s.Agents()
	if len(agents) == 0 {
		return ErrNoAgents
	}

	var (
		g      errgroup.Group
		failMu sync.Mutex
		failed int
	)
	for _, a := range agents {
		g.Go(func() error {
			if err := s.runAgent(ctx, a); err != nil {
				failMu.Lock()
				failed++
				failMu.Unlock()
			}
			// Never propagate: one agent's failure must not affect the group.
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()

	select {
	case <-done:
		if ctx.Err() == nil && failed == len(agents) {
			return fmt.Errorf("all %d agents failed", failed)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down agents", "grace", s.grace)
	select {
	case <-done:
		return nil
	case <-time.After(s.grace):
		for _, a := range agents {
			if a.State() != StateStopped {
				slog.Warn("agent did not stop in time", "agent", a.Name(), "state", a.State())
			}
		}
		return ErrShutdownTimeout
	}
}

// runAgent runs one agent, containing panics and logging failures.
func (s *Supervisor) runAgent(ctx context.Context, a *Agent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &AgentError{Agent: a.Name(), Op: "run", Err: fmt.Errorf("panic: %v", r)}
			slog.Error("agent crashed", "agent", a.Name(), "error", err)
		}
	}()

	if err := a.Start(ctx); err != nil {
		slog.Error("agent stopped with error", "agent", a.Name(), "error", err)
		return err
	}
	return nil
}

// Status returns a snapshot of every agent.
func (s *Supervisor) Status() []Status {
	agents := s.Agents()
	out := make([]Status, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.Status())
	}
	return out
}
