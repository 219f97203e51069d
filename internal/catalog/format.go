package catalog

import (
	"fmt"
	"strings"

	"github.com/muesli/reflow/truncate"
)

const (
	ellipsis           = "..."
	summaryPromptLimit = 40
	summaryAnswerLimit = 100
	missingAnswer      = "—"
)

// Clip shortens s to limit display cells, appending "..." when it was cut.
func Clip(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	return truncate.StringWithTail(s, uint(limit+len(ellipsis)), ellipsis)
}

// FormatQuestion renders a question message: a "(n/total)" header, the card
// intro when includeIntro is set for the first question, the question text,
// and either the lettered options or the hint.
func (c *Catalog) FormatQuestion(cardType CardType, number int, includeIntro bool) (string, bool) {
	card, ok := c.Card(cardType)
	if !ok {
		return "", false
	}
	q, ok := c.Question(cardType, number)
	if !ok {
		return "", false
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s *%s* (%d/%d)\n\n", card.Emoji, card.Title, number, len(card.Questions))
	if includeIntro && number == 1 && card.Intro != "" {
		sb.WriteString(card.Intro)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "*Вопрос %d:* %s", number, q.Prompt())

	switch q := q.(type) {
	case ClosedQuestion:
		sb.WriteString("\n")
		for _, opt := range q.Options {
			fmt.Fprintf(&sb, "\n%s) %s", opt.Key, opt.Text)
		}
	case OpenQuestion:
		if q.Hint != "" {
			fmt.Fprintf(&sb, "\n\n💡 _%s_", q.Hint)
		}
	}

	return sb.String(), true
}

// Summary renders every question of a card with its answer from answers.
func (c *Catalog) Summary(cardType CardType, answers map[string]string) string {
	card, ok := c.Card(cardType)
	if !ok {
		return ""
	}

	lines := make([]string, 0, len(card.Questions))
	for _, q := range card.Questions {
		answer, ok := answers[q.FieldName()]
		if !ok || answer == "" {
			answer = missingAnswer
		}
		lines = append(lines, fmt.Sprintf("*%s*\n_%s_",
			Clip(q.Prompt(), summaryPromptLimit),
			Clip(answer, summaryAnswerLimit)))
	}
	return strings.Join(lines, "\n\n")
}
