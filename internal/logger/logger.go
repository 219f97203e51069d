// Package logger provides structured logging for the Prisma bot on top of
// log/slog, plus a go-telegram middleware that logs every update.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/muesli/reflow/truncate"
)

const previewWidth = 50

// NewLogger creates a stdout logger with the given level ("debug", "info",
// "warn" or "error"; anything else means info) and sets it as the default.
// JSON output is used when jsonOutput is true, text otherwise.
func NewLogger(levelStr string, jsonOutput bool) *slog.Logger {
	logger := newLogger(os.Stdout, levelStr, jsonOutput)
	slog.SetDefault(logger)
	return logger
}

func newLogger(w io.Writer, levelStr string, jsonOutput bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(levelStr)}

	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a configured level name to a slog level.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Middleware logs the start and end of every update with its chat, thread,
// user and a short text preview.
func Middleware(log *slog.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			startTime := time.Now()
			logEntry := log.With(UpdateAttrs(update)...)

			logEntry.DebugContext(ctx, "Processing update")
			next(ctx, b, update)
			logEntry.InfoContext(ctx, "Finished processing update", "duration", time.Since(startTime))
		}
	}
}

// UpdateAttrs extracts log attributes from an update. It never dereferences
// optional fields without checking them.
func UpdateAttrs(update *models.Update) []any {
	if update == nil {
		return []any{"update_type", "none"}
	}
	attrs := []any{"update_id", update.ID}

	switch {
	case update.Message != nil:
		msg := update.Message
		attrs = append(attrs,
			"update_type", "message",
			"message_id", msg.ID,
			"chat_id", msg.Chat.ID,
			"thread_id", msg.MessageThreadID,
			"text_preview", Preview(msg.Text),
		)
		if msg.From != nil {
			attrs = append(attrs, "user_id", msg.From.ID)
		}
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		attrs = append(attrs,
			"update_type", "callback_query",
			"callback_query_id", cq.ID,
			"user_id", cq.From.ID,
			"data", cq.Data,
		)
		switch {
		case cq.Message.Message != nil:
			attrs = append(attrs, "chat_id", cq.Message.Message.Chat.ID, "message_accessible", true)
		case cq.Message.InaccessibleMessage != nil:
			attrs = append(attrs, "chat_id", cq.Message.InaccessibleMessage.Chat.ID, "message_accessible", false)
		}
	default:
		attrs = append(attrs, "update_type", "other")
	}
	return attrs
}

// Preview shortens s for log output.
func Preview(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return truncate.StringWithTail(s, previewWidth, "...")
}
