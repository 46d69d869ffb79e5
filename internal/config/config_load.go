package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Defaults: AgentSettings{
			Platform:   PlatformSlack,
			LLMAppURL:  DefaultLLMAppURL,
			LLMTimeout: "60s",
			SendRate:   1,
		},
		Agents:  map[string]AgentSettings{},
		Gateway: GatewayConfig{ShutdownGrace: "5s"},
		Logging: LoggingConfig{
			Dir:        "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		Secrets: map[string]AgentSecrets{},
	}
}

// Load reads the options file and the secrets file, then overlays env vars.
//
// The options file is either the structured form ({"defaults", "agents", ...})
// or a bare map of agent name to settings. A missing secrets file is not an
// error: tokens may come from the options file or the environment.
func Load(optionsPath, secretsPath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(optionsPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := parseOptions(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", optionsPath, err)
	}

	if secretsPath != "" {
		data, err := os.ReadFile(secretsPath)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read secrets: %w", err)
		default:
			if err := json5.Unmarshal(data, &cfg.Secrets); err != nil {
				return nil, fmt.Errorf("parse secrets %s: %w", secretsPath, err)
			}
			if cfg.Secrets == nil {
				cfg.Secrets = make(map[string]AgentSecrets)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// structuredKeys mark the structured options form.
var structuredKeys = []string{"defaults", "agents", "gateway", "telemetry", "logging", "sessions"}

func parseOptions(data []byte, cfg *Config) error {
	var probe map[string]interface{}
	if err := json5.Unmarshal(data, &probe); err != nil {
		return err
	}
	for _, k := range structuredKeys {
		if _, ok := probe[k]; ok {
			return json5.Unmarshal(data, cfg)
		}
	}
	// Bare map form: {"Dexter": {...}, "Poppy": {...}}
	return json5.Unmarshal(data, &cfg.Agents)
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("BOTPARTY_LLM_APP_URL", &c.Defaults.LLMAppURL)
	envStr("BOTPARTY_LOG_DIR", &c.Logging.Dir)
	envStr("BOTPARTY_SESSIONS_STORAGE", &c.Sessions.Storage)
	envStr("BOTPARTY_SHUTDOWN_GRACE", &c.Gateway.ShutdownGrace)

	// Telemetry
	envStr("BOTPARTY_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("BOTPARTY_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("BOTPARTY_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("BOTPARTY_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("BOTPARTY_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	// Per-agent tokens: BOTPARTY_<NAME>_BOT_TOKEN / BOTPARTY_<NAME>_APP_TOKEN
	for key := range c.Agents {
		sec := c.Secrets[key]
		prefix := "BOTPARTY_" + envName(key) + "_"
		envStr(prefix+"BOT_TOKEN", &sec.SlackBotToken)
		envStr(prefix+"APP_TOKEN", &sec.SlackAppToken)
		if sec != (AgentSecrets{}) {
			c.Secrets[key] = sec
		}
	}
}

// envName upper-cases key and replaces anything outside [A-Z0-9] with '_'.
func envName(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, key)
}

// ResolveAgent merges defaults, the agent's settings and its secrets into a
// validated AgentConfig. Secrets take precedence over settings.
func (c *Config) ResolveAgent(key string) (AgentConfig, error) {
	spec, ok := c.Agents[key]
	if !ok {
		return AgentConfig{}, &ConfigError{Agent: key, Reason: "no such agent"}
	}
	s := mergeSettings(c.Defaults, spec)
	sec := c.Secrets[key]

	ac := AgentConfig{
		Key:             key,
		Name:            s.Name,
		Platform:        strings.ToLower(s.Platform),
		BotToken:        s.BotToken,
		AppToken:        s.AppToken,
		DefaultChannel:  s.DefaultChannel,
		OnlineMessage:   s.OnlineMessage,
		LLMAppURL:       s.LLMAppURL,
		LLMTimeout:      parseDurationOr(s.LLMTimeout, 60*time.Second),
		StartMuted:      boolOr(s.StartMuted, false),
		ReplyToMessages: boolOr(s.ReplyToMessages, true),
		ListenEvents:    boolOr(s.ListenEvents, true),
		SanitizeReplies: boolOr(s.SanitizeReplies, false),
		SendRate:        s.SendRate,
		Extras:          s.Extras,
	}
	if ac.Name == "" {
		ac.Name = key
	}
	if ac.Platform == "" {
		ac.Platform = PlatformSlack
	}
	if ac.SendRate <= 0 {
		ac.SendRate = 1
	}
	if sec.LLMAppURL != "" {
		ac.LLMAppURL = sec.LLMAppURL
	}

	switch ac.Platform {
	case PlatformSlack:
		if sec.SlackBotToken != "" {
			ac.BotToken = sec.SlackBotToken
		}
		if sec.SlackAppToken != "" {
			ac.AppToken = sec.SlackAppToken
		}
	case PlatformDiscord:
		ac.BotToken = firstNonEmpty(sec.DiscordBotToken, sec.SlackBotToken, ac.BotToken)
	case PlatformTelegram:
		ac.BotToken = firstNonEmpty(sec.TelegramBotToken, sec.SlackBotToken, ac.BotToken)
	default:
		return AgentConfig{}, &ConfigError{Agent: key, Reason: fmt.Sprintf("unsupported platform %q", ac.Platform)}
	}

	// Legacy form: extras.webhookUrl
	if s.Webhook == nil && s.Extras["webhookUrl"] != "" {
		s.Webhook = &WebhookSettings{URL: s.Extras["webhookUrl"]}
	}
	if s.Webhook != nil {
		wh, err := resolveWebhook(key, s.Webhook)
		if err != nil {
			return AgentConfig{}, err
		}
		ac.Webhook = wh
	}

	if err := ac.Validate(); err != nil {
		return AgentConfig{}, err
	}
	return ac, nil
}

// Validate checks that every required field is present.
func (ac AgentConfig) Validate() error {
	var missing []string
	if ac.Name == "" {
		missing = append(missing, "name")
	}
	if ac.BotToken == "" {
		missing = append(missing, "bot_token")
	}
	if ac.Platform == PlatformSlack && ac.ListenEvents && ac.AppToken == "" {
		missing = append(missing, "app_token")
	}
	if ac.DefaultChannel == "" {
		missing = append(missing, "default_channel")
	}
	if ac.OnlineMessage == "" {
		missing = append(missing, "online_message")
	}
	if len(missing) > 0 {
		agent := ac.Key
		if agent == "" {
			agent = ac.Name
		}
		return &ConfigError{Agent: agent, Missing: missing}
	}
	return nil
}

func resolveWebhook(key string, w *WebhookSettings) (*WebhookConfig, error) {
	u, err := url.Parse(w.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &ConfigError{Agent: key, Reason: fmt.Sprintf("webhook url %q must be an absolute http(s) url", w.URL)}
	}
	return &WebhookConfig{
		URL:          w.URL,
		Interval:     parseDurationOr(w.Interval, 5*time.Second),
		Timeout:      parseDurationOr(w.Timeout, 5*time.Second),
		AlertMention: w.AlertMention,
	}, nil
}

// mergeSettings layers spec over base. Non-zero spec fields win.
func mergeSettings(base, spec AgentSettings) AgentSettings {
	out := base
	str := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	str(&out.Name, spec.Name)
	str(&out.Platform, spec.Platform)
	str(&out.DefaultChannel, spec.DefaultChannel)
	str(&out.OnlineMessage, spec.OnlineMessage)
	str(&out.LLMAppURL, spec.LLMAppURL)
	str(&out.LLMTimeout, spec.LLMTimeout)
	str(&out.BotToken, spec.BotToken)
	str(&out.AppToken, spec.AppToken)
	if spec.StartMuted != nil {
		out.StartMuted = spec.StartMuted
	}
	if spec.ReplyToMessages != nil {
		out.ReplyToMessages = spec.ReplyToMessages
	}
	if spec.ListenEvents != nil {
		out.ListenEvents = spec.ListenEvents
	}
	if spec.SanitizeReplies != nil {
		out.SanitizeReplies = spec.SanitizeReplies
	}
	if spec.SendRate > 0 {
		out.SendRate = spec.SendRate
	}
	if spec.Webhook != nil {
		out.Webhook = spec.Webhook
	}
	if len(spec.Extras) > 0 {
		merged := make(map[string]string, len(base.Extras)+len(spec.Extras))
		for k, v := range base.Extras {
			merged[k] = v
		}
		for k, v := range spec.Extras {
			merged[k] = v
		}
		out.Extras = merged
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
