package agent

import "strings"

// Intent is the keyword class of a message or mention text.
type Intent int

const (
	IntentNone Intent = iota
	IntentRollcall
	IntentReset
)

func (i Intent) String() string {
	switch i {
	case IntentRollcall:
		return "rollcall"
	case IntentReset:
		return "reset"
	default:
		return "none"
	}
}

// Classify returns the intent of text. Matching is a case-sensitive substring
// search and rollcall wins over reset when both appear.
func Classify(text string) Intent {
	switch {
	case strings.Contains(text, "rollcall"):
		return IntentRollcall
	case strings.Contains(text, "reset"):
		return IntentReset
	default:
		return IntentNone
	}
}

// CommandKind identifies a slash command.
type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandToggle
	CommandStatus
	CommandPing
	CommandRollcall
)

// ParseCommand maps a normalized command name ("toggle", "/botstatus") to its kind.
func ParseCommand(name string) CommandKind {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "/")) {
	case "toggle", "mute":
		return CommandToggle
	case "botstatus", "status":
		return CommandStatus
	case "ping":
		return CommandPing
	case "rollcall":
		return CommandRollcall
	default:
		return CommandUnknown
	}
}

// Admin reports whether the command is served while the agent is muted.
func (k CommandKind) Admin() bool {
	return k == CommandToggle || k == CommandStatus || k == CommandPing
}
