package discord

import (
	"fmt"

	"github.com/nextlevelbuilder/botparty/internal/channels"
	"github.com/nextlevelbuilder/botparty/internal/config"
)

// Factory creates a Discord channel from a resolved agent config.
func Factory(cfg config.AgentConfig) (channels.Channel, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	return New(cfg)
}
