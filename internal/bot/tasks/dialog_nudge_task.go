package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mcards/prismabot/internal/bot/handlers"
	"github.com/mcards/prismabot/internal/dialog"
)

const nudgeSendTimeout = 10 * time.Second

// newDialogNudgeTask creates the task that reminds projects about dialogs
// left waiting for an answer. Each stalled dialog is reminded once until
// it moves again.
func newDialogNudgeTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "dialog_nudge")

	return func(ctx context.Context) error {
		after := deps.Config.Dialog.NudgeAfter
		if after <= 0 {
			log.DebugContext(ctx, "Dialog reminders disabled, skipping")
			return nil
		}

		records, err := deps.Store.ActiveDialogs(ctx)
		if err != nil {
			log.ErrorContext(ctx, "Failed to list active dialogs", "error", err)
			return fmt.Errorf("dialog nudge failed: %w", err)
		}

		now := time.Now().UTC()
		var sent, failed int
		for _, rec := range records {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !stalled(rec, now, after) {
				continue
			}
			if err := nudge(ctx, deps, rec, now); err != nil {
				log.WarnContext(ctx, "Failed to remind about dialog", "project_id", rec.ProjectID, "error", err)
				failed++
				continue
			}
			sent++
		}

		log.InfoContext(ctx, "Dialog nudge completed", "active", len(records), "reminded", sent, "failed", failed)
		if failed > 0 {
			return fmt.Errorf("dialog nudge: %d of %d reminders failed", failed, sent+failed)
		}
		return nil
	}
}

// stalled reports whether rec has been idle for at least after and has not
// been reminded since its last change.
func stalled(rec *dialog.Record, now time.Time, after time.Duration) bool {
	if now.Sub(rec.UpdatedAt) < after {
		return false
	}
	return rec.NudgedAt.IsZero() || rec.NudgedAt.Before(rec.UpdatedAt)
}

func nudge(ctx context.Context, deps TaskDeps, rec *dialog.Record, now time.Time) error {
	project, err := deps.Store.GetProject(ctx, rec.ProjectID)
	if err != nil {
		return err
	}
	reply, err := deps.Engine.Reminder(rec)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, nudgeSendTimeout)
	defer cancel()

	params := &bot.SendMessageParams{
		ChatID:          project.ChatID,
		MessageThreadID: project.IntakeThreadID,
		Text:            reply.Text,
		ParseMode:       models.ParseModeMarkdownV1,
		ReplyMarkup:     handlers.Keyboard(reply.Affordance),
	}
	if _, err := deps.Sender.SendMessage(sendCtx, params); err != nil {
		params.ParseMode = ""
		if _, plainErr := deps.Sender.SendMessage(sendCtx, params); plainErr != nil {
			return fmt.Errorf("failed to send reminder (markdown: %v): %w", err, plainErr)
		}
	}

	return deps.Store.MarkNudged(ctx, rec.ProjectID, now)
}
