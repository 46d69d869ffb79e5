package telegram

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
)

// parseCommand splits "/name@bot args" into name and args.
// Commands addressed to a different bot are not ours.
func parseCommand(text, botUsername string) (name, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	if at := strings.IndexByte(head, '@'); at >= 0 {
		target := head[at+1:]
		head = head[:at]
		if botUsername != "" && !strings.EqualFold(target, botUsername) {
			return "", "", false
		}
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

// SyncMenuCommands registers bot commands with Telegram via setMyCommands.
func (c *Channel) SyncMenuCommands(ctx context.Context, commands []telego.BotCommand) error {
	if err := c.bot.DeleteMyCommands(ctx, nil); err != nil {
		slog.Debug("deleteMyCommands failed (may not exist)", "error", err)
	}
	if len(commands) == 0 {
		return nil
	}
	return c.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{
		Commands: commands,
	})
}

// DefaultMenuCommands returns the bot menu commands.
func DefaultMenuCommands() []telego.BotCommand {
	return []telego.BotCommand{
		{Command: "toggle", Description: "Mute or unmute the bot"},
		{Command: "botstatus", Description: "Show whether the bot is muted"},
		{Command: "ping", Description: "Check that the bot is alive"},
		{Command: "rollcall", Description: "Ask every bot to check in"},
	}
}
