package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mcards/prismabot/internal/dialog"
)

// NewCallbackHandler returns the handler for the confirm/redo inline
// buttons. The engine reply replaces the text of the message that carried
// the buttons.
func NewCallbackHandler(deps HandlerDeps) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		callbackHandler{deps}.handle(ctx, b, update)
	}
}

type callbackHandler struct {
	deps HandlerDeps
}

func (h callbackHandler) handle(ctx context.Context, s Sender, update *models.Update) {
	log := h.deps.Logger.With("handler", "card_callback")

	cq := update.CallbackQuery
	if cq == nil {
		return
	}

	choice, ok := dialog.ParseChoice(cq.Data)
	msg := cq.Message.Message
	if !ok || msg == nil {
		log.InfoContext(ctx, "Ignoring unusable callback", "data", cq.Data, "message_accessible", msg != nil)
		h.answer(ctx, s, cq.ID, h.deps.Config.Messages.CallbackExpired)
		return
	}

	// A button only acts on the project the chat is linked to.
	if projectID, linked := h.deps.Engine.ProjectByChat(ctx, msg.Chat.ID); !linked || projectID != choice.ProjectID {
		log.WarnContext(ctx, "Callback for a project not linked to this chat", "chat_id", msg.Chat.ID, "project_id", choice.ProjectID, "user_id", cq.From.ID)
		h.answer(ctx, s, cq.ID, h.deps.Config.Messages.CallbackExpired)
		return
	}

	var reply dialog.Reply
	switch choice.Action {
	case dialog.ActionConfirm:
		reply = h.deps.Engine.ConfirmCard(ctx, choice.ProjectID)
	case dialog.ActionRedo:
		reply = h.deps.Engine.RedoCard(ctx, choice.ProjectID)
	}
	h.answer(ctx, s, cq.ID, "")

	log.InfoContext(ctx, "Handled card callback", "action", choice.Action, "project_id", choice.ProjectID, "user_id", cq.From.ID)
	if err := edit(ctx, s, msg.Chat.ID, msg.ID, reply.Text, Keyboard(reply.Affordance)); err != nil {
		log.WarnContext(ctx, "Failed to edit message, sending a new one", "chat_id", msg.Chat.ID, "message_id", msg.ID, "error", err)
		sendLogged(ctx, s, h.deps, "card_callback", outgoing{
			ChatID:   msg.Chat.ID,
			ThreadID: msg.MessageThreadID,
			Text:     reply.Text,
			Markup:   Keyboard(reply.Affordance),
		})
	}
}

func (h callbackHandler) answer(ctx context.Context, s Sender, id, text string) {
	if _, err := s.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: id, Text: text}); err != nil {
		h.deps.Logger.WarnContext(ctx, "Failed to answer callback query", "handler", "card_callback", "error", err)
	}
}
