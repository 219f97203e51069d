// Package tasks implements the bot's scheduled tasks and their registry.
package tasks

import (
	"context"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mcards/prismabot/internal/config"
	"github.com/mcards/prismabot/internal/database"
	"github.com/mcards/prismabot/internal/dialog"
)

// Sender posts messages to Telegram. *bot.Bot implements it.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
	Engine *dialog.Engine
	Sender Sender
	Config *config.Config
}
