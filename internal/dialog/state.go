// Package dialog implements the guided questionnaire state machine that
// walks a project through the catalog cards one question at a time.
package dialog

import (
	"fmt"
	"maps"
	"time"

	"github.com/mcards/prismabot/internal/catalog"
)

// State is the position of a dialog in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingAnswer
	StateAwaitingCustom
	StateConfirming
	StateCompleted
)

var stateNames = map[State]string{
	StateIdle:           "idle",
	StateAwaitingAnswer: "awaiting",
	StateAwaitingCustom: "custom",
	StateConfirming:     "confirming",
	StateCompleted:      "completed",
}

// String returns the storage representation of s.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState decodes a stored state value.
func ParseState(v string) (State, error) {
	for s, name := range stateNames {
		if name == v {
			return s, nil
		}
	}
	return StateIdle, fmt.Errorf("%w: unknown state %q", ErrMalformedState, v)
}

// Context is the mutable session of one project.
type Context struct {
	ProjectID       string
	CurrentCard     catalog.CardType
	CurrentQuestion int
	State           State
	// DraftAnswers only ever holds fields of CurrentCard.
	DraftAnswers map[string]string
	UpdatedAt    time.Time
	NudgedAt     time.Time
}

// Clone returns a deep copy of c.
func (c *Context) Clone() *Context {
	out := *c
	out.DraftAnswers = maps.Clone(c.DraftAnswers)
	if out.DraftAnswers == nil {
		out.DraftAnswers = map[string]string{}
	}
	return &out
}

// Record converts c to its storage form.
func (c *Context) Record() *Record {
	return &Record{
		ProjectID:       c.ProjectID,
		CurrentCard:     string(c.CurrentCard),
		CurrentQuestion: c.CurrentQuestion,
		State:           c.State.String(),
		DraftAnswers:    maps.Clone(c.DraftAnswers),
		UpdatedAt:       c.UpdatedAt,
		NudgedAt:        c.NudgedAt,
	}
}

// Decode converts a stored record into a Context, rejecting unknown states.
func (r *Record) Decode() (*Context, error) {
	state, err := ParseState(r.State)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", r.ProjectID, err)
	}
	answers := maps.Clone(r.DraftAnswers)
	if answers == nil {
		answers = map[string]string{}
	}
	return &Context{
		ProjectID:       r.ProjectID,
		CurrentCard:     catalog.CardType(r.CurrentCard),
		CurrentQuestion: r.CurrentQuestion,
		State:           state,
		DraftAnswers:    answers,
		UpdatedAt:       r.UpdatedAt,
		NudgedAt:        r.NudgedAt,
	}, nil
}

// Active reports whether the dialog is waiting on the user.
func (s State) Active() bool {
	return s == StateAwaitingAnswer || s == StateAwaitingCustom || s == StateConfirming
}
