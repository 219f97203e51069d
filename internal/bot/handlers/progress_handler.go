package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mcards/prismabot/internal/dialog"
)

// NewProgressHandler returns a handler for /ideaprogress.
func NewProgressHandler(deps HandlerDeps) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		progressHandler{deps}.handle(ctx, b, update)
	}
}

type progressHandler struct {
	deps HandlerDeps
}

func (h progressHandler) handle(ctx context.Context, s Sender, update *models.Update) {
	log := h.deps.Logger.With("handler", "ideaprogress")

	msg := update.Message
	if msg == nil || msg.From == nil {
		log.WarnContext(ctx, "Received update with nil message or sender", "update_id", update.ID)
		return
	}

	projectID, ok := projectForMessage(ctx, s, h.deps, "ideaprogress", msg)
	if !ok {
		return
	}

	reply := outgoing{ChatID: msg.Chat.ID, ThreadID: msg.MessageThreadID, ReplyTo: msg.ID}
	p, err := h.deps.Engine.Progress(ctx, projectID)
	switch {
	case err != nil:
		log.ErrorContext(ctx, "Failed to load progress", "project_id", projectID, "error", err)
		reply.Text = h.deps.Config.Messages.GeneralError
	case !p.Started:
		reply.Text = h.deps.Config.Messages.ProgressIdle
	default:
		reply.Text = h.render(p)
	}
	sendLogged(ctx, s, h.deps, "ideaprogress", reply)
}

func (h progressHandler) render(p dialog.Progress) string {
	var sb strings.Builder
	sb.WriteString(h.deps.Config.Messages.ProgressHeader)
	sb.WriteString("\n\n")
	sb.WriteString(dialog.ProgressBar(p.CardsCompleted, p.TotalCards))

	if p.State != dialog.StateCompleted {
		title := string(p.CurrentCard)
		if card, ok := h.deps.Engine.Catalog().Card(p.CurrentCard); ok {
			title = card.Emoji + " " + card.Title
		}
		fmt.Fprintf(&sb, "\n\nТекущая карточка: *%s*\nВопрос: %d/%d", title, p.CurrentQuestion, p.QuestionsInCard)
	}

	fmt.Fprintf(&sb, "\n\nОбщий прогресс: %d%%", p.Percent)
	return sb.String()
}
