package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mcards/prismabot/internal/database"
	"github.com/mcards/prismabot/internal/dialog"
)

const (
	aiProcessingTimeout = 2 * time.Minute
	sendMessageTimeout  = 10 * time.Second
	dbSaveTimeout       = 5 * time.Second
	saveRetries         = 3
)

// outgoing describes one message to send.
type outgoing struct {
	ChatID   int64
	ThreadID int
	ReplyTo  int
	Text     string
	Markup   models.ReplyMarkup
}

// Keyboard renders the confirm/redo affordance as one row of inline
// buttons. It returns nil when there is nothing to render.
func Keyboard(aff *dialog.Affordance) models.ReplyMarkup {
	if aff == nil {
		return nil
	}
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{{
			{Text: aff.Confirm.Label, CallbackData: aff.Confirm.Data()},
			{Text: aff.Redo.Label, CallbackData: aff.Redo.Data()},
		}},
	}
}

// send delivers msg as Markdown and falls back to plain text when Telegram
// rejects the markup, then to plain text without the keyboard.
func send(ctx context.Context, s Sender, msg outgoing) (*models.Message, error) {
	sendCtx, cancel := context.WithTimeout(ctx, sendMessageTimeout)
	defer cancel()

	params := &bot.SendMessageParams{
		ChatID:          msg.ChatID,
		MessageThreadID: msg.ThreadID,
		Text:            msg.Text,
		ParseMode:       models.ParseModeMarkdownV1,
		ReplyMarkup:     msg.Markup,
	}
	if msg.ReplyTo > 0 {
		params.ReplyParameters = &models.ReplyParameters{MessageID: msg.ReplyTo}
	}

	sent, err := s.SendMessage(sendCtx, params)
	if err == nil {
		return sent, nil
	}

	params.ParseMode = ""
	sent, plainErr := s.SendMessage(sendCtx, params)
	if plainErr == nil {
		return sent, nil
	}
	if params.ReplyMarkup == nil {
		return nil, fmt.Errorf("failed to send message (markdown: %v): %w", err, plainErr)
	}

	// Telegram rejects the whole message over a bad keyboard; the text
	// still has to reach the chat.
	params.ReplyMarkup = nil
	sent, bareErr := s.SendMessage(sendCtx, params)
	if bareErr != nil {
		return nil, fmt.Errorf("failed to send message (markdown: %v, plain: %v): %w", err, plainErr, bareErr)
	}
	return sent, nil
}

// sendLogged sends msg and logs failures.
func sendLogged(ctx context.Context, s Sender, deps HandlerDeps, handler string, msg outgoing) {
	if _, err := send(ctx, s, msg); err != nil {
		deps.Logger.ErrorContext(ctx, "Failed to send message", "handler", handler, "chat_id", msg.ChatID, "thread_id", msg.ThreadID, "error", err)
	}
}

// edit replaces the text and keyboard of an existing message, with the
// same Markdown fallback as send.
func edit(ctx context.Context, s Sender, chatID int64, messageID int, text string, markup models.ReplyMarkup) error {
	editCtx, cancel := context.WithTimeout(ctx, sendMessageTimeout)
	defer cancel()

	params := &bot.EditMessageTextParams{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ParseMode:   models.ParseModeMarkdownV1,
		ReplyMarkup: markup,
	}
	if _, err := s.EditMessageText(editCtx, params); err == nil {
		return nil
	}
	params.ParseMode = ""
	_, err := s.EditMessageText(editCtx, params)
	return err
}

// withBotName replaces "@botname" with the bot's username.
func withBotName(deps HandlerDeps, text string) string {
	if info := deps.Config.Telegram.BotInfo; info != nil && info.Username != "" {
		return strings.ReplaceAll(text, "@botname", "@"+info.Username)
	}
	return text
}

// displayName picks the name the dialog greets the user with.
func displayName(u *models.User) string {
	switch {
	case u == nil:
		return "друг"
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return u.Username
	default:
		return "друг"
	}
}

// saveMessageWithRetry persists a history line, retrying transient failures.
func saveMessageWithRetry(ctx context.Context, deps HandlerDeps, msg *database.Message, msgType string) {
	log := deps.Logger.With("handler", "history")
	var err error

	for attempt := range saveRetries {
		dbCtx, cancel := context.WithTimeout(ctx, dbSaveTimeout)
		err = deps.Store.SaveMessage(dbCtx, msg)
		cancel()
		if err == nil {
			log.DebugContext(ctx, "Message saved", "type", msgType, "db_message_id", msg.ID, "chat_id", msg.ChatID)
			return
		}

		log.WarnContext(ctx, "Failed to save message, retrying", "type", msgType, "chat_id", msg.ChatID, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(500*(attempt+1)) * time.Millisecond):
		}
	}

	log.ErrorContext(ctx, "Failed to save message after retries", "type", msgType, "chat_id", msg.ChatID, "error", err)
}

// projectForMessage resolves the chat's project and tells the user when the
// chat is not linked to one.
func projectForMessage(ctx context.Context, s Sender, deps HandlerDeps, handler string, msg *models.Message) (string, bool) {
	projectID, ok := deps.Engine.ProjectByChat(ctx, msg.Chat.ID)
	if !ok {
		sendLogged(ctx, s, deps, handler, outgoing{
			ChatID:   msg.Chat.ID,
			ThreadID: msg.MessageThreadID,
			ReplyTo:  msg.ID,
			Text:     deps.Config.Messages.NotInProject,
		})
	}
	return projectID, ok
}

// dialogThread returns the project's intake thread, or fallback when it
// cannot be resolved.
func dialogThread(ctx context.Context, deps HandlerDeps, projectID string, fallback int) int {
	dbCtx, cancel := context.WithTimeout(ctx, dbSaveTimeout)
	defer cancel()

	thread, err := deps.Store.IntakeThread(dbCtx, projectID)
	if err != nil || thread == 0 {
		return fallback
	}
	return thread
}
