// Package sessions — per-channel session identity and its key format.
//
// Persisted session keys follow the canonical format:
//
//	agent:{agentName}:{platform}:{channel}
//
// Examples:
//
//	agent:dexter:slack:C024BE91L
//	agent:louie:telegram:-100123456
package sessions

import (
	"fmt"
	"strings"
)

// BuildSessionKey builds the canonical key for one agent's conversation in a channel.
func BuildSessionKey(agentName, platform, channel string) string {
	return fmt.Sprintf("agent:%s:%s:%s", agentName, platform, channel)
}

// KeyPrefix returns the prefix shared by every key of one agent on one platform.
func KeyPrefix(agentName, platform string) string {
	return fmt.Sprintf("agent:%s:%s:", agentName, platform)
}

// ParseSessionKey splits a canonical key into its parts.
// Returns empty strings if the key is not in the expected format.
// Channel ids may themselves contain ':'; everything after the platform is the channel.
func ParseSessionKey(key string) (agentName, platform, channel string) {
	parts := strings.SplitN(key, ":", 4)
	if len(parts) < 4 || parts[0] != "agent" || parts[3] == "" {
		return "", "", ""
	}
	return parts[1], parts[2], parts[3]
}
