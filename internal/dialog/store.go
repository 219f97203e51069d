package dialog

import (
	"context"
	"time"
)

// Record is the persisted form of a Context. State stays a raw string so
// that unknown values can be detected on load.
type Record struct {
	ProjectID       string
	CurrentCard     string
	CurrentQuestion int
	State           string
	DraftAnswers    map[string]string
	UpdatedAt       time.Time
	NudgedAt        time.Time
}

// FinishedCard is a confirmed card handed to the CardSink.
type FinishedCard struct {
	ProjectID   string
	CardType    string
	Stage       string
	Answers     map[string]string
	CompletedAt time.Time
}

// StateStore persists one Record per project.
type StateStore interface {
	// LoadDialog returns (nil, nil) when the project has no dialog yet.
	LoadDialog(ctx context.Context, projectID string) (*Record, error)
	// SaveDialog replaces the project's record.
	SaveDialog(ctx context.Context, rec *Record) error
}

// CardSink stores confirmed cards, one row per (project, card type).
type CardSink interface {
	SaveCard(ctx context.Context, card *FinishedCard) error
}

// Projects maps transport identities to projects.
type Projects interface {
	// ProjectByChat returns ErrProjectNotFound for unmapped chats.
	ProjectByChat(ctx context.Context, chatID int64) (string, error)
	// IntakeThread returns the thread that hosts the project's dialog, or
	// ErrProjectNotFound.
	IntakeThread(ctx context.Context, projectID string) (int, error)
}

// Store is everything the Engine needs from persistence.
type Store interface {
	StateStore
	CardSink
	Projects
}
