// Package handlers contains Telegram bot command and message handlers,
// along with their registration logic and middleware.
package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// AdminOnly creates a middleware that lets only the configured admin user
// through. Everyone else gets the "unauthorized" message.
func AdminOnly(deps HandlerDeps) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
			if !allowAdmin(ctx, bot, deps, update) {
				return
			}
			next(ctx, bot, update)
		}
	}
}

// allowAdmin reports whether update comes from the admin and replies to
// anyone else.
func allowAdmin(ctx context.Context, s Sender, deps HandlerDeps, update *models.Update) bool {
	if update.Message == nil || update.Message.From == nil {
		return false
	}

	msg := update.Message
	if deps.Config.IsAdmin(msg.From.ID) {
		return true
	}

	deps.Logger.WarnContext(ctx, "Unauthorized access attempt", "middleware", "AdminOnly", "user_id", msg.From.ID, "chat_id", msg.Chat.ID)
	sendLogged(ctx, s, deps, "admin_only", outgoing{
		ChatID:   msg.Chat.ID,
		ThreadID: msg.MessageThreadID,
		ReplyTo:  msg.ID,
		Text:     deps.Config.Messages.Unauthorized,
	})
	return false
}
