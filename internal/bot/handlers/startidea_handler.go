package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewStartIdeaHandler returns a handler for /startidea. It (re)starts the
// project's dialog and posts the first question to the intake thread.
func NewStartIdeaHandler(deps HandlerDeps) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		startIdeaHandler{deps: deps, name: "startidea"}.handle(ctx, b, update)
	}
}

// NewRestartHandler returns a handler for /restart, which discards the
// current draft and starts over from the first card.
func NewRestartHandler(deps HandlerDeps) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		startIdeaHandler{deps: deps, name: "restart", restart: true}.handle(ctx, b, update)
	}
}

type startIdeaHandler struct {
	deps    HandlerDeps
	name    string
	restart bool
}

func (h startIdeaHandler) handle(ctx context.Context, s Sender, update *models.Update) {
	log := h.deps.Logger.With("handler", h.name)

	msg := update.Message
	if msg == nil || msg.From == nil {
		log.WarnContext(ctx, "Received update with nil message or sender", "update_id", update.ID)
		return
	}

	projectID, ok := projectForMessage(ctx, s, h.deps, h.name, msg)
	if !ok {
		log.InfoContext(ctx, "Chat is not linked to a project", "chat_id", msg.Chat.ID)
		return
	}

	started, text := h.deps.Engine.StartDialog(ctx, projectID)
	if !started {
		sendLogged(ctx, s, h.deps, h.name, outgoing{ChatID: msg.Chat.ID, ThreadID: msg.MessageThreadID, ReplyTo: msg.ID, Text: text})
		return
	}

	log.InfoContext(ctx, "Dialog (re)started", "project_id", projectID, "chat_id", msg.Chat.ID, "user_id", msg.From.ID)
	thread := dialogThread(ctx, h.deps, projectID, msg.MessageThreadID)
	sendLogged(ctx, s, h.deps, h.name, outgoing{
		ChatID:   msg.Chat.ID,
		ThreadID: thread,
		Text:     h.intro() + "\n\n" + text,
	})
}

func (h startIdeaHandler) intro() string {
	if h.restart {
		return h.deps.Config.Messages.DialogRestarted
	}

	cat := h.deps.Engine.Catalog()
	names := make([]string, 0, cat.Len())
	for i, ct := range cat.Order() {
		card, _ := cat.Card(ct)
		names = append(names, fmt.Sprintf("%d. %s %s", i+1, card.Emoji, card.Title))
	}
	return strings.ReplaceAll(h.deps.Config.Messages.DialogStarted, "{cards}", "\n"+strings.Join(names, "\n"))
}
