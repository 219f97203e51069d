package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewHelpHandler returns a handler for the /help command.
func NewHelpHandler(deps HandlerDeps) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		helpHandler{deps}.handle(ctx, b, update)
	}
}

type helpHandler struct {
	deps HandlerDeps
}

func (h helpHandler) handle(ctx context.Context, s Sender, update *models.Update) {
	log := h.deps.Logger.With("handler", "help")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Help handler received update with nil message or sender", "update_id", update.ID)
		return
	}
	msg := update.Message
	log.InfoContext(ctx, "Handling /help command", "chat_id", msg.Chat.ID, "user_id", msg.From.ID)

	sendLogged(ctx, s, h.deps, "help", outgoing{
		ChatID:   msg.Chat.ID,
		ThreadID: msg.MessageThreadID,
		Text:     withBotName(h.deps, h.deps.Config.Messages.Help),
	})
}
