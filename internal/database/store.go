package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mcards/prismabot/internal/dialog"
)

// Store defines the persistence operations of the bot. It satisfies
// dialog.Store, so the dialog engine works on top of it directly.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	dialog.Store

	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// LinkProject creates or updates a project and binds it to its chat.
	// A chat belongs to at most one project; a previous binding is released.
	LinkProject(ctx context.Context, project *Project) error

	// GetProject returns dialog.ErrProjectNotFound for unknown ids.
	GetProject(ctx context.Context, projectID string) (*Project, error)

	// ListCards returns the project's confirmed cards, oldest first.
	ListCards(ctx context.Context, projectID string) ([]*Card, error)

	// ActiveDialogs returns every dialog that is waiting on its user.
	ActiveDialogs(ctx context.Context) ([]*dialog.Record, error)

	// MarkNudged records that a reminder was sent for the dialog.
	MarkNudged(ctx context.Context, projectID string, at time.Time) error

	// SaveMessage inserts a history message.
	SaveMessage(ctx context.Context, message *Message) error

	// GetRecentMessages returns up to limit latest messages of a chat in
	// chronological order.
	GetRecentMessages(ctx context.Context, chatID int64, limit int) ([]*Message, error)

	// DeleteMessagesBefore removes history older than before.
	DeleteMessagesBefore(ctx context.Context, before time.Time) (int64, error)

	// RunMaintenance performs backend housekeeping such as VACUUM.
	RunMaintenance(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}

// activeStates are the stored state values of dialogs waiting on a user.
var activeStates = []string{
	dialog.StateAwaitingAnswer.String(),
	dialog.StateAwaitingCustom.String(),
	dialog.StateConfirming.String(),
}

// sqlxStore provides an implementation of the Store interface using sqlx.
// Queries are written with '?' placeholders and rebound per driver.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
		now:    time.Now,
	}
}

// unavailable wraps a driver failure so callers can classify it.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, dialog.ErrStoreUnavailable, err)
}

func (s *sqlxStore) rollback(ctx context.Context, tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.logger.WarnContext(ctx, "Error rolling back transaction", "error", err)
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *sqlxStore) Close() error {
	return s.db.Close()
}

// LoadDialog returns the stored dialog of projectID, or nil when none exists.
func (s *sqlxStore) LoadDialog(ctx context.Context, projectID string) (*dialog.Record, error) {
	var row dialogRow
	query := s.db.Rebind(`
        SELECT project_id, current_card, current_question, state, draft_answers, updated_at, nudged_at
        FROM dialog_states
        WHERE project_id = ?`)

	err := s.db.GetContext(ctx, &row, query, projectID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error loading dialog", "project_id", projectID, "error", err)
		return nil, unavailable("load dialog", err)
	}

	return row.record()
}

// SaveDialog upserts the dialog row of rec.ProjectID.
func (s *sqlxStore) SaveDialog(ctx context.Context, rec *dialog.Record) error {
	if rec == nil || rec.ProjectID == "" {
		return errors.New("cannot save dialog without project id")
	}

	row, err := newDialogRow(rec)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO dialog_states (project_id, current_card, current_question, state, draft_answers, updated_at, nudged_at)
        VALUES (:project_id, :current_card, :current_question, :state, :draft_answers, :updated_at, :nudged_at)
        ON CONFLICT (project_id) DO UPDATE SET
            current_card = excluded.current_card,
            current_question = excluded.current_question,
            state = excluded.state,
            draft_answers = excluded.draft_answers,
            updated_at = excluded.updated_at,
            nudged_at = excluded.nudged_at`

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		s.logger.ErrorContext(ctx, "Error saving dialog", "project_id", rec.ProjectID, "error", err)
		return unavailable("save dialog", err)
	}

	s.logger.DebugContext(ctx, "Dialog saved",
		"project_id", rec.ProjectID, "card", rec.CurrentCard, "question", rec.CurrentQuestion, "state", rec.State)
	return nil
}

// SaveCard upserts a confirmed card by (project, type). The row id is
// assigned once and kept on later confirmations of the same card.
func (s *sqlxStore) SaveCard(ctx context.Context, card *dialog.FinishedCard) error {
	if card == nil {
		return errors.New("cannot save nil card")
	}

	content, err := json.Marshal(card.Answers)
	if err != nil {
		return fmt.Errorf("failed to encode card answers: %w", err)
	}

	completedAt := card.CompletedAt.UTC()
	if completedAt.IsZero() {
		completedAt = s.now().UTC()
	}
	row := &Card{
		ID:        uuid.NewString(),
		ProjectID: card.ProjectID,
		Type:      card.CardType,
		Stage:     card.Stage,
		Content:   string(content),
		FillRate:  100,
		CreatedAt: completedAt,
		UpdatedAt: completedAt,
	}

	query := `
        INSERT INTO cards (id, project_id, type, stage, content, fill_rate, created_at, updated_at)
        VALUES (:id, :project_id, :type, :stage, :content, :fill_rate, :created_at, :updated_at)
        ON CONFLICT (project_id, type) DO UPDATE SET
            stage = excluded.stage,
            content = excluded.content,
            fill_rate = excluded.fill_rate,
            updated_at = excluded.updated_at`

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		s.logger.ErrorContext(ctx, "Error saving card",
			"project_id", card.ProjectID, "card_type", card.CardType, "error", err)
		return unavailable("save card", err)
	}

	s.logger.InfoContext(ctx, "Card saved", "project_id", card.ProjectID, "card_type", card.CardType)
	return nil
}

// ProjectByChat returns the project bound to chatID.
func (s *sqlxStore) ProjectByChat(ctx context.Context, chatID int64) (string, error) {
	var id string
	err := s.db.GetContext(ctx, &id, s.db.Rebind(`SELECT id FROM projects WHERE chat_id = ?`), chatID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", dialog.ErrProjectNotFound
	case err != nil:
		s.logger.ErrorContext(ctx, "Error resolving project by chat", "chat_id", chatID, "error", err)
		return "", unavailable("project by chat", err)
	}
	return id, nil
}

// IntakeThread returns the thread hosting the project's dialog; 0 means
// the project has none.
func (s *sqlxStore) IntakeThread(ctx context.Context, projectID string) (int, error) {
	var thread int
	err := s.db.GetContext(ctx, &thread,
		s.db.Rebind(`SELECT intake_thread_id FROM projects WHERE id = ?`), projectID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, dialog.ErrProjectNotFound
	case err != nil:
		s.logger.ErrorContext(ctx, "Error loading intake thread", "project_id", projectID, "error", err)
		return 0, unavailable("intake thread", err)
	}
	return thread, nil
}

// LinkProject creates or updates a project and binds it to its chat.
func (s *sqlxStore) LinkProject(ctx context.Context, project *Project) error {
	if project == nil || project.ID == "" {
		return errors.New("cannot link project without id")
	}
	if project.ChatID == 0 {
		return errors.New("project must have a non-zero chat_id")
	}

	now := s.now().UTC()
	project.UpdatedAt = now
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for linking project",
			"project_id", project.ID, "error", err)
		return unavailable("begin transaction", err)
	}
	defer s.rollback(ctx, tx)

	release := tx.Rebind(`UPDATE projects SET chat_id = NULL, intake_thread_id = 0, updated_at = ?
        WHERE chat_id = ? AND id <> ?`)
	if _, err := tx.ExecContext(ctx, release, now, project.ChatID, project.ID); err != nil {
		s.logger.ErrorContext(ctx, "Error releasing previous chat binding", "chat_id", project.ChatID, "error", err)
		return unavailable("release chat", err)
	}

	upsert := `
        INSERT INTO projects (id, name, chat_id, intake_thread_id, created_at, updated_at)
        VALUES (:id, :name, :chat_id, :intake_thread_id, :created_at, :updated_at)
        ON CONFLICT (id) DO UPDATE SET
            name = CASE WHEN excluded.name = '' THEN projects.name ELSE excluded.name END,
            chat_id = excluded.chat_id,
            intake_thread_id = excluded.intake_thread_id,
            updated_at = excluded.updated_at`
	if _, err := tx.NamedExecContext(ctx, upsert, project); err != nil {
		s.logger.ErrorContext(ctx, "Error linking project", "project_id", project.ID, "error", err)
		return unavailable("link project", err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction", "project_id", project.ID, "error", err)
		return unavailable("commit", err)
	}

	s.logger.InfoContext(ctx, "Project linked",
		"project_id", project.ID, "chat_id", project.ChatID, "thread_id", project.IntakeThreadID)
	return nil
}

// GetProject returns a project by id.
func (s *sqlxStore) GetProject(ctx context.Context, projectID string) (*Project, error) {
	var project Project
	query := s.db.Rebind(`
        SELECT id, name, COALESCE(chat_id, 0) AS chat_id, intake_thread_id, created_at, updated_at
        FROM projects
        WHERE id = ?`)

	err := s.db.GetContext(ctx, &project, query, projectID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, dialog.ErrProjectNotFound
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting project", "project_id", projectID, "error", err)
		return nil, unavailable("get project", err)
	}
	return &project, nil
}

// ListCards returns the project's confirmed cards, oldest first.
func (s *sqlxStore) ListCards(ctx context.Context, projectID string) ([]*Card, error) {
	var cards []*Card
	query := s.db.Rebind(`
        SELECT id, project_id, type, stage, content, fill_rate, created_at, updated_at
        FROM cards
        WHERE project_id = ?
        ORDER BY created_at ASC, type ASC`)

	if err := s.db.SelectContext(ctx, &cards, query, projectID); err != nil {
		s.logger.ErrorContext(ctx, "Error listing cards", "project_id", projectID, "error", err)
		return nil, unavailable("list cards", err)
	}
	return cards, nil
}

// ActiveDialogs returns dialogs in an awaiting, custom or confirming state.
func (s *sqlxStore) ActiveDialogs(ctx context.Context) ([]*dialog.Record, error) {
	query, args, err := sqlx.In(`
        SELECT project_id, current_card, current_question, state, draft_answers, updated_at, nudged_at
        FROM dialog_states
        WHERE state IN (?)
        ORDER BY updated_at ASC`, activeStates)
	if err != nil {
		return nil, fmt.Errorf("failed to build active dialogs query: %w", err)
	}

	var rows []*dialogRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		s.logger.ErrorContext(ctx, "Error listing active dialogs", "error", err)
		return nil, unavailable("active dialogs", err)
	}

	records := make([]*dialog.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping unreadable dialog", "project_id", row.ProjectID, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// MarkNudged stamps nudged_at without touching the rest of the dialog.
func (s *sqlxStore) MarkNudged(ctx context.Context, projectID string, at time.Time) error {
	query := s.db.Rebind(`UPDATE dialog_states SET nudged_at = ? WHERE project_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, at.UTC(), projectID); err != nil {
		s.logger.ErrorContext(ctx, "Error marking dialog nudged", "project_id", projectID, "error", err)
		return unavailable("mark nudged", err)
	}
	return nil
}

// SaveMessage inserts a new message record.
func (s *sqlxStore) SaveMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return errors.New("cannot save nil message")
	}
	if message.ChatID == 0 {
		return errors.New("message must have a non-zero chat_id")
	}
	if message.Content == "" {
		return errors.New("message must have non-empty content")
	}
	if message.Role == "" {
		message.Role = RoleUser
	}

	now := s.now().UTC()
	message.CreatedAt = now
	if message.Timestamp.IsZero() {
		message.Timestamp = now
	}
	message.Timestamp = message.Timestamp.UTC()

	query := s.db.Rebind(`
        INSERT INTO messages (chat_id, user_id, user_name, role, content, timestamp, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        RETURNING id`)

	err := s.db.QueryRowxContext(ctx, query,
		message.ChatID, message.UserID, message.UserName, message.Role,
		message.Content, message.Timestamp, message.CreatedAt,
	).Scan(&message.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message", "chat_id", message.ChatID, "user_id", message.UserID, "error", err)
		return unavailable("save message", err)
	}

	s.logger.DebugContext(ctx, "Message saved successfully",
		"chat_id", message.ChatID, "user_id", message.UserID, "message_id", message.ID)
	return nil
}

// GetRecentMessages returns the latest messages of a chat, oldest first.
func (s *sqlxStore) GetRecentMessages(ctx context.Context, chatID int64, limit int) ([]*Message, error) {
	if chatID == 0 {
		return nil, errors.New("chat_id cannot be zero")
	}
	if limit <= 0 {
		limit = 20
		s.logger.DebugContext(ctx, "No limit provided, using default", "chat_id", chatID, "default_limit", limit)
	}

	var messages []*Message
	query := s.db.Rebind(`
        SELECT id, chat_id, user_id, user_name, role, content, timestamp, created_at
        FROM messages
        WHERE chat_id = ?
        ORDER BY timestamp DESC, id DESC
        LIMIT ?`)

	if err := s.db.SelectContext(ctx, &messages, query, chatID, limit); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching messages",
				"chat_id", chatID, "error", err)
		} else {
			s.logger.ErrorContext(ctx, "Error getting recent messages", "chat_id", chatID, "error", err)
		}
		return nil, unavailable("recent messages", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	s.logger.DebugContext(ctx, "Fetched recent messages successfully", "chat_id", chatID, "count", len(messages))
	return messages, nil
}

// DeleteMessagesBefore removes history older than before.
func (s *sqlxStore) DeleteMessagesBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM messages WHERE timestamp < ?`), before.UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting old messages", "before", before, "error", err)
		return 0, unavailable("delete messages", err)
	}

	count, _ := result.RowsAffected()
	s.logger.InfoContext(ctx, "Deleted old messages", "count", count, "before", before)
	return count, nil
}

// RunMaintenance runs VACUUM (SQLite) or VACUUM ANALYZE (Postgres).
func (s *sqlxStore) RunMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	statement := "VACUUM;"
	if s.db.DriverName() == "pgx" {
		statement = "VACUUM ANALYZE;"
	} else if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		s.logger.WarnContext(ctx, "Failed to set busy timeout", "error", err)
	}

	s.logger.InfoContext(ctx, "Starting database maintenance", "statement", statement)

	// VACUUM must run outside a transaction on both dialects.
	_, err := s.db.ExecContext(ctx, statement)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Database maintenance timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance failed", "error", err)
		return fmt.Errorf("failed to execute %s: %w", statement, err)
	default:
		s.logger.InfoContext(ctx, "Database maintenance completed successfully")
	}
	return nil
}
