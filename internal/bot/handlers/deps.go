package handlers

import (
	"context"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mcards/prismabot/internal/config"
	"github.com/mcards/prismabot/internal/database"
	"github.com/mcards/prismabot/internal/dialog"
	"github.com/mcards/prismabot/internal/gemini"
)

// HandlerDeps provides dependencies for Telegram handlers.
type HandlerDeps struct {
	Logger       *slog.Logger
	Config       *config.Config
	Store        database.Store
	Engine       *dialog.Engine
	GeminiClient gemini.Client
}

// Sender is the part of the Telegram API the handlers call. *bot.Bot
// implements it.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
	GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error)
	FileDownloadLink(f *models.File) string
}

var _ Sender = (*bot.Bot)(nil)
