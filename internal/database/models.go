package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcards/prismabot/internal/dialog"
)

// Message roles stored in the history table.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// Project is a workspace that a Telegram chat and its intake thread are
// linked to.
type Project struct {
	ID             string    `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	ChatID         int64     `db:"chat_id" json:"chat_id"`
	IntakeThreadID int       `db:"intake_thread_id" json:"intake_thread_id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Card is a confirmed card row. Content holds the answers as a JSON object.
type Card struct {
	ID        string    `db:"id" json:"id"`
	ProjectID string    `db:"project_id" json:"project_id"`
	Type      string    `db:"type" json:"type"`
	Stage     string    `db:"stage" json:"stage"`
	Content   string    `db:"content" json:"content"`
	FillRate  int       `db:"fill_rate" json:"fill_rate"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Answers decodes Content.
func (c *Card) Answers() (map[string]string, error) {
	answers := map[string]string{}
	if c.Content == "" {
		return answers, nil
	}
	if err := json.Unmarshal([]byte(c.Content), &answers); err != nil {
		return nil, fmt.Errorf("card %s has invalid content: %w", c.ID, err)
	}
	return answers, nil
}

// Message is one line of chat history used as LLM context.
type Message struct {
	ID        int64     `db:"id" json:"id"`
	ChatID    int64     `db:"chat_id" json:"chat_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	UserName  string    `db:"user_name" json:"user_name"`
	Role      string    `db:"role" json:"role"`
	Content   string    `db:"content" json:"content"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// dialogRow is the dialog_states row.
type dialogRow struct {
	ProjectID       string       `db:"project_id"`
	CurrentCard     string       `db:"current_card"`
	CurrentQuestion int          `db:"current_question"`
	State           string       `db:"state"`
	DraftAnswers    string       `db:"draft_answers"`
	UpdatedAt       time.Time    `db:"updated_at"`
	NudgedAt        sql.NullTime `db:"nudged_at"`
}

func newDialogRow(rec *dialog.Record) (*dialogRow, error) {
	answers := rec.DraftAnswers
	if answers == nil {
		answers = map[string]string{}
	}
	draft, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode draft answers: %w", err)
	}
	return &dialogRow{
		ProjectID:       rec.ProjectID,
		CurrentCard:     rec.CurrentCard,
		CurrentQuestion: rec.CurrentQuestion,
		State:           rec.State,
		DraftAnswers:    string(draft),
		UpdatedAt:       rec.UpdatedAt.UTC(),
		NudgedAt:        sql.NullTime{Time: rec.NudgedAt.UTC(), Valid: !rec.NudgedAt.IsZero()},
	}, nil
}

func (r *dialogRow) record() (*dialog.Record, error) {
	answers := map[string]string{}
	if r.DraftAnswers != "" {
		if err := json.Unmarshal([]byte(r.DraftAnswers), &answers); err != nil {
			return nil, fmt.Errorf("%w: project %s draft answers: %v", dialog.ErrMalformedState, r.ProjectID, err)
		}
	}
	rec := &dialog.Record{
		ProjectID:       r.ProjectID,
		CurrentCard:     r.CurrentCard,
		CurrentQuestion: r.CurrentQuestion,
		State:           r.State,
		DraftAnswers:    answers,
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if r.NudgedAt.Valid {
		rec.NudgedAt = r.NudgedAt.Time.UTC()
	}
	return rec, nil
}
