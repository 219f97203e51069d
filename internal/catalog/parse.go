package catalog

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Answer is the interpretation of a raw reply to a question.
type Answer struct {
	// Value is the text to store under the question's field.
	Value string
	// NeedsCustom is set when the user picked the escape option and the
	// actual answer still has to be typed.
	NeedsCustom bool
}

// ParseAnswer interprets raw against q. Open questions take the trimmed
// text verbatim. Closed questions accept "B" or "B) anything" and store the
// option's canonical text; unmatched input is kept as a custom answer.
func ParseAnswer(raw string, q Question) Answer {
	trimmed := strings.TrimSpace(raw)

	closed, ok := q.(ClosedQuestion)
	if !ok || len(closed.Options) == 0 {
		return Answer{Value: trimmed}
	}

	// Casers keep state and must not be shared across goroutines.
	upper := cases.Upper(language.Und)
	normalized := upper.String(trimmed)

	for _, opt := range closed.Options {
		key := upper.String(strings.TrimSpace(opt.Key))
		if key == "" {
			continue
		}
		if normalized != key && !strings.HasPrefix(normalized, key+")") {
			continue
		}
		if closed.EscapeKey != "" && opt.Key == closed.EscapeKey {
			return Answer{NeedsCustom: true}
		}
		return Answer{Value: opt.Text}
	}

	return Answer{Value: trimmed}
}
