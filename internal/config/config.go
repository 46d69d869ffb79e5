package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Supported platforms.
const (
	PlatformSlack    = "slack"
	PlatformDiscord  = "discord"
	PlatformTelegram = "telegram"
)

// DefaultLLMAppURL is the chat app used when neither defaults nor the agent set one.
const DefaultLLMAppURL = "https://chatapi.apps.shaut.us"

// Config is the root configuration of a botparty fleet.
type Config struct {
	Defaults  AgentSettings            `json:"defaults"`
	Agents    map[string]AgentSettings `json:"agents"`
	Gateway   GatewayConfig            `json:"gateway"`
	Telemetry TelemetryConfig          `json:"telemetry,omitempty"`
	Logging   LoggingConfig            `json:"logging,omitempty"`
	Sessions  SessionsConfig           `json:"sessions,omitempty"`

	// Secrets is loaded from a separate file and never serialized.
	Secrets map[string]AgentSecrets `json:"-"`
}

// AgentSettings is one agent's entry in the options file. Every field is optional
// so that Defaults can be layered underneath.
type AgentSettings struct {
	Name            string            `json:"name,omitempty"`
	Platform        string            `json:"platform,omitempty"` // "slack" (default), "discord", "telegram"
	DefaultChannel  string            `json:"default_channel,omitempty"`
	OnlineMessage   string            `json:"online_message,omitempty"`
	LLMAppURL       string            `json:"llm_app_url,omitempty"`
	LLMTimeout      string            `json:"llm_timeout,omitempty"` // Go duration (default "60s")
	StartMuted      *bool             `json:"start_muted,omitempty"`
	ReplyToMessages *bool             `json:"reply_to_messages,omitempty"` // default true
	ListenEvents    *bool             `json:"listen_events,omitempty"`     // default true
	SanitizeReplies *bool             `json:"sanitize_replies,omitempty"`  // strip reasoning tags from LLM replies (default false)
	SendRate        float64           `json:"send_rate,omitempty"`         // messages per second (default 1)
	Webhook         *WebhookSettings  `json:"webhook,omitempty"`
	Extras          map[string]string `json:"extras,omitempty"`

	// Tokens may also live here, although the secrets file is preferred.
	BotToken string `json:"bot_token,omitempty"`
	AppToken string `json:"app_token,omitempty"`
}

// WebhookSettings configures polling of an HTTP endpoint.
type WebhookSettings struct {
	URL          string `json:"url"`
	Interval     string `json:"interval,omitempty"`      // Go duration (default "5s")
	Timeout      string `json:"timeout,omitempty"`       // per-request, Go duration (default "5s")
	AlertMention string `json:"alert_mention,omitempty"` // e.g. "<@poppy>"
}

// AgentSecrets holds the credentials of one agent, keyed by agent name in the secrets file.
type AgentSecrets struct {
	SlackBotToken    string `json:"SLACK_BOT_TOKEN,omitempty"`
	SlackAppToken    string `json:"SLACK_APP_TOKEN,omitempty"`
	DiscordBotToken  string `json:"DISCORD_BOT_TOKEN,omitempty"`
	TelegramBotToken string `json:"TELEGRAM_BOT_TOKEN,omitempty"`
	LLMAppURL        string `json:"LLM_APP_URL,omitempty"`
}

// GatewayConfig controls fleet-wide supervision.
type GatewayConfig struct {
	ShutdownGrace string `json:"shutdown_grace,omitempty"` // Go duration (default "5s")
}

// TelemetryConfig configures OpenTelemetry export for traces.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"` // e.g. "localhost:4317"
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"` // default "botparty"
	Headers     map[string]string `json:"headers,omitempty"`
}

// LoggingConfig controls per-agent log files. Empty Dir disables file logging.
type LoggingConfig struct {
	Dir        string `json:"dir,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"` // default 10
	MaxBackups int    `json:"max_backups,omitempty"` // default 5
}

// SessionsConfig enables persistence of session ids. Empty Storage keeps them in memory.
type SessionsConfig struct {
	Storage string `json:"storage,omitempty"` // sqlite file path
}

// AgentConfig is the validated, fully merged configuration of one agent.
type AgentConfig struct {
	Key             string // entry name in the options file
	Name            string
	Platform        string
	BotToken        string
	AppToken        string
	DefaultChannel  string
	OnlineMessage   string
	LLMAppURL       string
	LLMTimeout      time.Duration
	StartMuted      bool
	ReplyToMessages bool
	ListenEvents    bool
	SanitizeReplies bool
	SendRate        float64
	Webhook         *WebhookConfig
	Extras          map[string]string
}

// WebhookConfig is the resolved webhook polling configuration.
type WebhookConfig struct {
	URL          string
	Interval     time.Duration
	Timeout      time.Duration
	AlertMention string
}

// ConfigError reports an agent configuration that cannot be used.
type ConfigError struct {
	Agent   string
	Missing []string
	Reason  string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "agent %q: invalid config", e.Agent)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing %s", strings.Join(e.Missing, ", "))
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

// AgentKeys returns the configured agent entry names in sorted order.
func (c *Config) AgentKeys() []string {
	keys := make([]string, 0, len(c.Agents))
	for k := range c.Agents {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ShutdownGrace returns the parsed gateway.shutdown_grace (default 5s).
func (c *Config) ShutdownGrace() time.Duration {
	return parseDurationOr(c.Gateway.ShutdownGrace, 5*time.Second)
}

// Hash returns a short digest of options and secrets, used to skip no-op reloads.
func (c *Config) Hash() string {
	data, _ := json.Marshal(struct {
		*Config
		Secrets map[string]AgentSecrets
	}{c, c.Secrets})
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
