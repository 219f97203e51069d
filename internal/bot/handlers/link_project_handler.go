package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mcards/prismabot/internal/database"
	"github.com/mcards/prismabot/internal/dialog"
)

// NewLinkProjectHandler returns the admin handler for
// "/link_project <project_id> [name]". It binds the current chat to the
// project and makes the thread the command was sent in the intake thread.
func NewLinkProjectHandler(deps HandlerDeps) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		linkProjectHandler{deps}.handle(ctx, b, update)
	}
}

type linkProjectHandler struct {
	deps HandlerDeps
}

func (h linkProjectHandler) handle(ctx context.Context, s Sender, update *models.Update) {
	log := h.deps.Logger.With("handler", "link_project")

	msg := update.Message
	if msg == nil || msg.From == nil {
		log.WarnContext(ctx, "Received update with nil message or sender", "update_id", update.ID)
		return
	}
	reply := outgoing{ChatID: msg.Chat.ID, ThreadID: msg.MessageThreadID, ReplyTo: msg.ID}

	projectID, name, err := parseLinkArgs(msg.Text)
	if err != nil {
		reply.Text = h.deps.Config.Messages.LinkUsage
		sendLogged(ctx, s, h.deps, "link_project", reply)
		return
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbSaveTimeout)
	defer cancel()

	project := &database.Project{
		ID:             projectID,
		Name:           name,
		ChatID:         msg.Chat.ID,
		IntakeThreadID: msg.MessageThreadID,
	}
	if err := h.deps.Store.LinkProject(dbCtx, project); err != nil {
		log.ErrorContext(ctx, "Failed to link project", "project_id", projectID, "chat_id", msg.Chat.ID, "error", err)
		reply.Text = h.deps.Config.Messages.GeneralError
		sendLogged(ctx, s, h.deps, "link_project", reply)
		return
	}

	log.InfoContext(ctx, "Project linked", "project_id", projectID, "chat_id", msg.Chat.ID, "thread_id", msg.MessageThreadID)
	reply.Text = strings.NewReplacer(
		"{project}", projectID,
		"{thread}", strconv.Itoa(msg.MessageThreadID),
	).Replace(h.deps.Config.Messages.ProjectLinked)
	sendLogged(ctx, s, h.deps, "link_project", reply)
}

var errLinkUsage = errors.New("usage: /link_project <project_id> [name]")

// parseLinkArgs splits "/link_project id some name" into its id and
// optional name. Ids must fit into button callback data.
func parseLinkArgs(text string) (projectID, name string, err error) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return "", "", errLinkUsage
	}
	projectID = fields[1]
	if strings.ContainsAny(projectID, ":/") || len(projectID) > dialog.MaxProjectIDLen {
		return "", "", errLinkUsage
	}
	return projectID, strings.Join(fields[2:], " "), nil
}
