package handlers

import (
	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mcards/prismabot/internal/dialog"
)

// RegisteredHandler represents a handler with its match rule and middleware.
type RegisteredHandler struct {
	HandlerType tgbot.HandlerType
	Pattern     string
	Handler     tgbot.HandlerFunc
	Middleware  []tgbot.Middleware
	MatchType   tgbot.MatchType
	Description string
}

func command(pattern, description string, h tgbot.HandlerFunc, mw ...tgbot.Middleware) RegisteredHandler {
	return RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     pattern,
		Handler:     h,
		MatchType:   tgbot.MatchTypeCommandStartOnly,
		Middleware:  mw,
		Description: description,
	}
}

func callback(action dialog.Action, h tgbot.HandlerFunc) RegisteredHandler {
	return RegisteredHandler{
		HandlerType: tgbot.HandlerTypeCallbackQueryData,
		Pattern:     string(action) + ":",
		Handler:     h,
		MatchType:   tgbot.MatchTypePrefix,
	}
}

// RegisterAllCommands returns every command and callback handler keyed by
// a unique name. Non-command messages go to NewMessageHandler, which is
// installed as the bot's default handler.
func RegisterAllCommands(deps HandlerDeps) map[string]RegisteredHandler {
	adminMiddleware := AdminOnly(deps)
	cardCallback := NewCallbackHandler(deps)

	return map[string]RegisteredHandler{
		"/start":        command("start", "Приветствие и подсказки", NewStartHandler(deps)),
		"/help":         command("help", "Список команд", NewHelpHandler(deps)),
		"/startidea":    command("startidea", "Начать карточки фазы IDEA", NewStartIdeaHandler(deps)),
		"/ideaprogress": command("ideaprogress", "Прогресс по карточкам", NewProgressHandler(deps)),
		"/restart":      command("restart", "Начать карточки заново", NewRestartHandler(deps)),
		"/link_project": command("link_project", "Привязать чат к проекту (админ)", NewLinkProjectHandler(deps), adminMiddleware),

		"cb:" + string(dialog.ActionConfirm): callback(dialog.ActionConfirm, cardCallback),
		"cb:" + string(dialog.ActionRedo):    callback(dialog.ActionRedo, cardCallback),
	}
}

// BotCommands lists the registered commands for the Telegram command menu.
func BotCommands(registered map[string]RegisteredHandler) []models.BotCommand {
	order := []string{"/startidea", "/ideaprogress", "/restart", "/help", "/start", "/link_project"}

	cmds := make([]models.BotCommand, 0, len(order))
	for _, name := range order {
		h, ok := registered[name]
		if !ok || h.Description == "" {
			continue
		}
		cmds = append(cmds, models.BotCommand{Command: h.Pattern, Description: h.Description})
	}
	return cmds
}
