// Package catalog holds the static questionnaire: the ordered cards of the
// IDEA phase, their questions and option sets, plus the pure helpers that
// render questions and interpret answers against them.
package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// CardType identifies a card, e.g. "product" or "vision".
type CardType string

// Option is one multiple-choice answer of a closed question.
type Option struct {
	Key  string `yaml:"key"`
	Text string `yaml:"text"`
}

// Question is either an OpenQuestion or a ClosedQuestion.
type Question interface {
	// Num is the 1-based position of the question within its card.
	Num() int
	// Prompt is the question text shown to the user.
	Prompt() string
	// FieldName is the key the answer is stored under.
	FieldName() string

	isQuestion()
}

// OpenQuestion accepts any free-text answer.
type OpenQuestion struct {
	Number int
	Text   string
	Field  string
	Hint   string
}

func (q OpenQuestion) Num() int          { return q.Number }
func (q OpenQuestion) Prompt() string    { return q.Text }
func (q OpenQuestion) FieldName() string { return q.Field }
func (OpenQuestion) isQuestion()         {}

// ClosedQuestion offers lettered options. When EscapeKey is set, selecting
// that option asks the user to type a custom answer instead.
type ClosedQuestion struct {
	Number    int
	Text      string
	Field     string
	Options   []Option
	EscapeKey string
}

func (q ClosedQuestion) Num() int          { return q.Number }
func (q ClosedQuestion) Prompt() string    { return q.Text }
func (q ClosedQuestion) FieldName() string { return q.Field }
func (ClosedQuestion) isQuestion()         {}

// Escape returns the escape option, if the question has one.
func (q ClosedQuestion) Escape() (Option, bool) {
	if q.EscapeKey == "" {
		return Option{}, false
	}
	for _, opt := range q.Options {
		if opt.Key == q.EscapeKey {
			return opt, true
		}
	}
	return Option{}, false
}

// Card is a named, ordered group of questions persisted as one unit.
type Card struct {
	Type      CardType
	Title     string
	Emoji     string
	Intro     string
	Questions []Question
}

// Catalog is an immutable, ordered set of cards.
type Catalog struct {
	order []CardType
	cards map[CardType]*Card
}

// ErrInvalidCatalog is returned when card definitions are inconsistent.
var ErrInvalidCatalog = errors.New("invalid catalog")

// New builds a Catalog from cards in traversal order and validates it.
func New(cards ...*Card) (*Catalog, error) {
	if len(cards) == 0 {
		return nil, fmt.Errorf("%w: no cards defined", ErrInvalidCatalog)
	}

	c := &Catalog{
		order: make([]CardType, 0, len(cards)),
		cards: make(map[CardType]*Card, len(cards)),
	}
	for _, card := range cards {
		if card == nil {
			return nil, fmt.Errorf("%w: nil card", ErrInvalidCatalog)
		}
		if err := validateCard(card); err != nil {
			return nil, err
		}
		key := normalize(card.Type)
		if _, dup := c.cards[key]; dup {
			return nil, fmt.Errorf("%w: duplicate card type %q", ErrInvalidCatalog, card.Type)
		}
		card.Type = key
		c.order = append(c.order, key)
		c.cards[key] = card
	}
	return c, nil
}

func validateCard(card *Card) error {
	if strings.TrimSpace(string(card.Type)) == "" {
		return fmt.Errorf("%w: card without type", ErrInvalidCatalog)
	}
	if len(card.Questions) == 0 {
		return fmt.Errorf("%w: card %q has no questions", ErrInvalidCatalog, card.Type)
	}

	fields := make(map[string]struct{}, len(card.Questions))
	for i, q := range card.Questions {
		if q == nil {
			return fmt.Errorf("%w: card %q question %d is nil", ErrInvalidCatalog, card.Type, i+1)
		}
		if q.Num() != i+1 {
			return fmt.Errorf("%w: card %q question %d numbered %d", ErrInvalidCatalog, card.Type, i+1, q.Num())
		}
		if q.FieldName() == "" {
			return fmt.Errorf("%w: card %q question %d has no field", ErrInvalidCatalog, card.Type, i+1)
		}
		if _, dup := fields[q.FieldName()]; dup {
			return fmt.Errorf("%w: card %q repeats field %q", ErrInvalidCatalog, card.Type, q.FieldName())
		}
		fields[q.FieldName()] = struct{}{}

		closed, ok := q.(ClosedQuestion)
		if !ok {
			continue
		}
		if len(closed.Options) == 0 {
			return fmt.Errorf("%w: card %q question %d has no options", ErrInvalidCatalog, card.Type, i+1)
		}
		if closed.EscapeKey != "" {
			if _, ok := closed.Escape(); !ok {
				return fmt.Errorf("%w: card %q question %d escape key %q is not an option",
					ErrInvalidCatalog, card.Type, i+1, closed.EscapeKey)
			}
		}
	}
	return nil
}

func normalize(t CardType) CardType {
	return CardType(strings.ToLower(strings.TrimSpace(string(t))))
}

// Order returns the card traversal order.
func (c *Catalog) Order() []CardType {
	out := make([]CardType, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns the number of cards.
func (c *Catalog) Len() int { return len(c.order) }

// First returns the first card in traversal order.
func (c *Catalog) First() CardType { return c.order[0] }

// Card returns the card definition for cardType.
func (c *Catalog) Card(cardType CardType) (*Card, bool) {
	card, ok := c.cards[normalize(cardType)]
	return card, ok
}

// Question returns the 1-indexed question of a card.
func (c *Catalog) Question(cardType CardType, number int) (Question, bool) {
	card, ok := c.Card(cardType)
	if !ok || number < 1 || number > len(card.Questions) {
		return nil, false
	}
	return card.Questions[number-1], true
}

// Index returns the position of cardType in the traversal order.
func (c *Catalog) Index(cardType CardType) (int, bool) {
	key := normalize(cardType)
	for i, t := range c.order {
		if t == key {
			return i, true
		}
	}
	return 0, false
}

// NextCard returns the card after cardType. It reports false for the last
// card and for unknown card types.
func (c *Catalog) NextCard(cardType CardType) (CardType, bool) {
	i, ok := c.Index(cardType)
	if !ok || i+1 >= len(c.order) {
		return "", false
	}
	return c.order[i+1], true
}

// QuestionCount returns the number of questions in cardType, or 0.
func (c *Catalog) QuestionCount(cardType CardType) int {
	card, ok := c.Card(cardType)
	if !ok {
		return 0
	}
	return len(card.Questions)
}

// TotalQuestions returns the number of questions across all cards.
func (c *Catalog) TotalQuestions() int {
	total := 0
	for _, t := range c.order {
		total += len(c.cards[t].Questions)
	}
	return total
}

// QuestionsBefore returns how many questions precede cardType in the order.
func (c *Catalog) QuestionsBefore(cardType CardType) int {
	i, ok := c.Index(cardType)
	if !ok {
		return 0
	}
	n := 0
	for _, t := range c.order[:i] {
		n += len(c.cards[t].Questions)
	}
	return n
}
