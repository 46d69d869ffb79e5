// Package logging configures slog for the process and gives every agent its
// own rotating log file next to the shared console output.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nextlevelbuilder/botparty/internal/config"
)

// Setup installs a text logger on stdout as the slog default and returns it.
func Setup(w io.Writer, verbose bool) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	l := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: Level(verbose)}))
	slog.SetDefault(l)
	return l
}

// Level maps the -v flag to a slog level.
func Level(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// AgentLoggers hands out per-agent loggers. Each writes to the base handler
// and, when a directory is configured, to <dir>/<agent>.log rotated by size.
type AgentLoggers struct {
	base  slog.Handler
	cfg   config.LoggingConfig
	level slog.Leveler

	mu    sync.Mutex
	files map[string]*lumberjack.Logger
}

// NewAgentLoggers creates a factory on top of base. An empty cfg.Dir disables files.
func NewAgentLoggers(base *slog.Logger, cfg config.LoggingConfig, level slog.Leveler) *AgentLoggers {
	if base == nil {
		base = slog.Default()
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	return &AgentLoggers{
		base:  base.Handler(),
		cfg:   cfg,
		level: level,
		files: make(map[string]*lumberjack.Logger),
	}
}

// For returns the logger of agent name. Loggers for the same name share one file.
func (l *AgentLoggers) For(name string) *slog.Logger {
	if l.cfg.Dir == "" {
		return slog.New(l.base)
	}

	l.mu.Lock()
	f, ok := l.files[name]
	if !ok {
		if err := os.MkdirAll(l.cfg.Dir, 0o755); err != nil {
			l.mu.Unlock()
			slog.Warn("logging: cannot create log dir, using console only", "dir", l.cfg.Dir, "error", err)
			return slog.New(l.base)
		}
		f = &lumberjack.Logger{
			Filename:   filepath.Join(l.cfg.Dir, name+".log"),
			MaxSize:    l.cfg.MaxSizeMB,
			MaxBackups: l.cfg.MaxBackups,
		}
		l.files[name] = f
	}
	l.mu.Unlock()

	file := slog.NewTextHandler(f, &slog.HandlerOptions{Level: l.level})
	return slog.New(&fanout{handlers: []slog.Handler{l.base, file}})
}

// Close closes every log file.
func (l *AgentLoggers) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for name, f := range l.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(l.files, name)
	}
	return errors.Join(errs...)
}

// fanout sends each record to every handler that accepts its level.
type fanout struct {
	handlers []slog.Handler
}

func (h *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, hh := range h.handlers {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if err := hh.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		out[i] = hh.WithAttrs(attrs)
	}
	return &fanout{handlers: out}
}

func (h *fanout) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		out[i] = hh.WithGroup(name)
	}
	return &fanout{handlers: out}
}
