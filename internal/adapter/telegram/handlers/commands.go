// Package handlers implements the bot commands.
package handlers

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"wosbot/internal/platform/sqlite"
)

// StatusSource reports the databases currently open in the process.
// *sqlite.Runner implements it.
type StatusSource interface {
	Registered(ctx context.Context) ([]sqlite.FileStatus, error)
}

// Commands answers bot commands.
type Commands struct {
	status  StatusSource
	logger  *slog.Logger
	started time.Time
}

// New creates command handlers over the given status source.
func New(status StatusSource, logger *slog.Logger) *Commands {
	if logger == nil {
		logger = slog.Default()
	}
	return &Commands{status: status, logger: logger.With("component", "telegram"), started: time.Now()}
}

// Handle routes updates to command handlers.
func (c *Commands) Handle(ctx context.Context, b *bot.Bot, upd *models.Update) {
	msg := upd.Message
	if msg == nil || !strings.HasPrefix(msg.Text, "/") {
		return
	}
	reply, ok := c.Reply(ctx, msg.Text)
	if !ok {
		return
	}
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: msg.Chat.ID, Text: reply}); err != nil {
		c.logger.Warn("send reply", "command", command(msg.Text), "chat_id", msg.Chat.ID, "error", err)
	}
}

// Reply returns the answer to a command message; ok is false for unknown commands.
func (c *Commands) Reply(ctx context.Context, text string) (string, bool) {
	switch command(text) {
	case "start":
		return c.Start(), true
	case "ping":
		return Ping(), true
	case "status":
		return c.Status(ctx), true
	}
	return "", false
}

// command extracts the command name from "/status@wosbot args".
func command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}
