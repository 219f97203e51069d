package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewStartHandler returns a handler for the /start command.
func NewStartHandler(deps HandlerDeps) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		startHandler{deps}.handle(ctx, b, update)
	}
}

// startHandler greets the user with the configured welcome text.
type startHandler struct {
	deps HandlerDeps
}

func (h startHandler) handle(ctx context.Context, s Sender, update *models.Update) {
	log := h.deps.Logger.With("handler", "start")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Start handler received update with nil message or sender", "update_id", update.ID)
		return
	}
	msg := update.Message
	log.InfoContext(ctx, "Handling /start command", "chat_id", msg.Chat.ID, "user_id", msg.From.ID)

	sendLogged(ctx, s, h.deps, "start", outgoing{
		ChatID:   msg.Chat.ID,
		ThreadID: msg.MessageThreadID,
		Text:     withBotName(h.deps, h.deps.Config.Messages.Welcome),
	})
}
