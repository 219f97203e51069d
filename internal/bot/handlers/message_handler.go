package handlers

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mcards/prismabot/internal/database"
	"github.com/mcards/prismabot/internal/gemini"
)

// nameTriggers address the bot without an @mention.
var nameTriggers = []string{"prisma", "призма", "присма"}

// NewMessageHandler returns the default handler for non-command messages.
// Messages in a project's intake thread feed the guided dialog; messages
// elsewhere that address the bot get a free-form reply.
func NewMessageHandler(deps HandlerDeps) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		messageHandler{deps}.handle(ctx, b, update)
	}
}

type messageHandler struct {
	deps HandlerDeps
}

func (h messageHandler) handle(ctx context.Context, s Sender, update *models.Update) {
	log := h.deps.Logger.With("handler", "message")

	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return
	}
	if len(msg.Photo) > 0 {
		h.handlePhoto(ctx, s, msg)
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" || strings.HasPrefix(text, "/") {
		log.DebugContext(ctx, "Ignoring empty or command message", "chat_id", msg.Chat.ID)
		return
	}

	projectID, linked := h.deps.Engine.ProjectByChat(ctx, msg.Chat.ID)
	if linked && h.deps.Engine.ShouldHandleMessage(ctx, projectID, msg.MessageThreadID) {
		h.handleDialog(ctx, s, msg, projectID, text)
		return
	}

	if !h.addressed(msg, msg.Text) {
		return
	}
	h.handleChat(ctx, s, msg, projectID, text, nil)
}

// handlePhoto answers photos whose caption addresses the bot. Photos never
// feed the guided dialog.
func (h messageHandler) handlePhoto(ctx context.Context, s Sender, msg *models.Message) {
	log := h.deps.Logger.With("handler", "message")
	if !h.addressed(msg, msg.Caption) {
		log.DebugContext(ctx, "Ignoring photo not addressed to the bot", "chat_id", msg.Chat.ID)
		return
	}
	log.InfoContext(ctx, "Handling photo", "chat_id", msg.Chat.ID, "sizes", len(msg.Photo))

	best := largestPhoto(msg.Photo)
	data, mimeType, err := downloadPhoto(ctx, s, best.FileID)
	if err != nil {
		log.ErrorContext(ctx, "Photo download failed", "chat_id", msg.Chat.ID, "file_id", best.FileID, "error", err)
		sendLogged(ctx, s, h.deps, "message", outgoing{
			ChatID:   msg.Chat.ID,
			ThreadID: msg.MessageThreadID,
			ReplyTo:  msg.ID,
			Text:     h.deps.Config.Messages.GeneralError,
		})
		return
	}

	projectID, _ := h.deps.Engine.ProjectByChat(ctx, msg.Chat.ID)
	content := strings.TrimSpace(gemini.PhotoPrefix + " " + strings.TrimSpace(msg.Caption))
	h.handleChat(ctx, s, msg, projectID, content, &gemini.Image{Data: data, MIMEType: mimeType})
}

func (h messageHandler) handleDialog(ctx context.Context, s Sender, msg *models.Message, projectID, text string) {
	log := h.deps.Logger.With("handler", "message")
	log.DebugContext(ctx, "Routing message to dialog", "project_id", projectID, "chat_id", msg.Chat.ID, "thread_id", msg.MessageThreadID)

	reply := h.deps.Engine.ProcessMessage(ctx, projectID, text, displayName(msg.From))
	sendLogged(ctx, s, h.deps, "message", outgoing{
		ChatID:   msg.Chat.ID,
		ThreadID: msg.MessageThreadID,
		ReplyTo:  msg.ID,
		Text:     reply.Text,
		Markup:   Keyboard(reply.Affordance),
	})
}

// handleChat answers with the LLM, using the chat history and the linked
// project's cards as context. image, when set, goes along with text.
func (h messageHandler) handleChat(ctx context.Context, s Sender, msg *models.Message, projectID, text string, image *gemini.Image) {
	log := h.deps.Logger.With("handler", "message")
	chatID := msg.Chat.ID

	incoming := &database.Message{
		ChatID:    chatID,
		UserID:    msg.From.ID,
		UserName:  displayName(msg.From),
		Role:      database.RoleUser,
		Content:   text,
		Timestamp: time.Unix(int64(msg.Date), 0).UTC(),
	}
	saveMessageWithRetry(ctx, h.deps, incoming, "incoming message")

	history := h.history(ctx, chatID, incoming)
	workspace := h.workspace(ctx, projectID)

	_, _ = s.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID:          chatID,
		MessageThreadID: msg.MessageThreadID,
		Action:          models.ChatActionTyping,
	})

	aiCtx, cancel := context.WithTimeout(ctx, aiProcessingTimeout)
	defer cancel()

	username, firstName := "", "Prisma"
	if info := h.deps.Config.Telegram.BotInfo; info != nil {
		username, firstName = info.Username, info.FirstName
	}
	var answer string
	var err error
	if image != nil {
		answer, err = h.deps.GeminiClient.GenerateImageReply(aiCtx, history, *image, workspace, username, firstName)
	} else {
		answer, err = h.deps.GeminiClient.GenerateReply(aiCtx, history, workspace, username, firstName)
	}
	if err != nil || strings.TrimSpace(answer) == "" {
		log.ErrorContext(ctx, "Reply generation failed, using fallback", "chat_id", chatID, "error", err)
		answer = h.deps.GeminiClient.FallbackReply()
	}

	sent, err := send(ctx, s, outgoing{ChatID: chatID, ThreadID: msg.MessageThreadID, ReplyTo: msg.ID, Text: answer})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send reply", "chat_id", chatID, "error", err)
		return
	}
	log.InfoContext(ctx, "Sent reply", "chat_id", chatID, "message_id", sent.ID)

	outgoingMsg := &database.Message{
		ChatID:    chatID,
		UserName:  firstName,
		Role:      database.RoleBot,
		Content:   answer,
		Timestamp: time.Now().UTC(),
	}
	if info := h.deps.Config.Telegram.BotInfo; info != nil {
		outgoingMsg.UserID = info.ID
	}
	saveMessageWithRetry(ctx, h.deps, outgoingMsg, "bot reply")
}

// history returns the recent chat messages ending with incoming. When the
// store is unavailable the reply is generated from incoming alone.
func (h messageHandler) history(ctx context.Context, chatID int64, incoming *database.Message) []*database.Message {
	limit := h.deps.Config.Database.MaxHistoryMessages
	if limit <= 0 {
		return []*database.Message{incoming}
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbSaveTimeout)
	defer cancel()

	msgs, err := h.deps.Store.GetRecentMessages(dbCtx, chatID, limit)
	if err != nil {
		h.deps.Logger.WarnContext(ctx, "Failed to load history", "handler", "message", "chat_id", chatID, "error", err)
		return []*database.Message{incoming}
	}

	// incoming is already stored unless saving failed.
	if incoming.ID == 0 || len(msgs) == 0 || msgs[len(msgs)-1].ID != incoming.ID {
		msgs = append(msgs, incoming)
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs
}

func (h messageHandler) workspace(ctx context.Context, projectID string) string {
	if projectID == "" {
		return ""
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbSaveTimeout)
	defer cancel()

	project, err := h.deps.Store.GetProject(dbCtx, projectID)
	if err != nil {
		h.deps.Logger.WarnContext(ctx, "Failed to load project", "handler", "message", "project_id", projectID, "error", err)
		return ""
	}
	cards, err := h.deps.Store.ListCards(dbCtx, projectID)
	if err != nil {
		h.deps.Logger.WarnContext(ctx, "Failed to load cards", "handler", "message", "project_id", projectID, "error", err)
		return ""
	}
	return gemini.WorkspaceContext(project, cards, h.deps.Engine.Catalog())
}

// addressed reports whether msg replies to the bot, or text mentions the
// bot or calls it by name. text is the message text or a photo caption.
func (h messageHandler) addressed(msg *models.Message, text string) bool {
	info := h.deps.Config.Telegram.BotInfo
	if info != nil && msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil && msg.ReplyToMessage.From.ID == info.ID {
		return true
	}

	text = strings.ToLower(text)
	triggers := nameTriggers
	if info != nil && info.Username != "" {
		username := strings.ToLower(info.Username)
		if strings.Contains(text, "@"+username) {
			return true
		}
		triggers = append([]string{username}, nameTriggers...)
	}

	for _, w := range strings.Fields(text) {
		stripped := strings.TrimFunc(w, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) })
		for _, trigger := range triggers {
			if stripped == trigger {
				return true
			}
		}
	}
	return false
}
