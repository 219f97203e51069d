package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAnswer(t *testing.T) {
	t.Parallel()

	closed := ClosedQuestion{
		Number: 1,
		Field:  "product_type",
		Options: []Option{
			{Key: "A", Text: "Мобильное приложение"},
			{Key: "B", Text: "Веб-сервис"},
			{Key: "C", Text: "Telegram-бот"},
			{Key: "D", Text: "Свой вариант"},
		},
		EscapeKey: "D",
	}
	noEscape := ClosedQuestion{
		Number:  1,
		Field:   "product_type",
		Options: []Option{{Key: "A", Text: "App"}, {Key: "B", Text: "Bot"}},
	}
	open := OpenQuestion{Number: 3, Field: "description", Hint: "one sentence"}

	tests := []struct {
		name     string
		raw      string
		question Question
		want     Answer
	}{
		{name: "open question keeps text", raw: "  Helps people focus \n", question: open, want: Answer{Value: "Helps people focus"}},
		{name: "open question keeps letters", raw: "A", question: open, want: Answer{Value: "A"}},
		{name: "exact letter", raw: "B", question: closed, want: Answer{Value: "Веб-сервис"}},
		{name: "lowercase letter", raw: "b", question: closed, want: Answer{Value: "Веб-сервис"}},
		{name: "letter with padding", raw: "  c  ", question: closed, want: Answer{Value: "Telegram-бот"}},
		{name: "letter paren prefix", raw: "b) whatever", question: closed, want: Answer{Value: "Веб-сервис"}},
		{name: "escape letter", raw: "D", question: closed, want: Answer{NeedsCustom: true}},
		{name: "escape with paren", raw: "d) Свой вариант", question: closed, want: Answer{NeedsCustom: true}},
		{name: "no match falls back", raw: "z", question: closed, want: Answer{Value: "z"}},
		{name: "letter without paren is not a prefix match", raw: "Bot for teams", question: closed, want: Answer{Value: "Bot for teams"}},
		{name: "free text kept verbatim", raw: "  мой собственный ответ ", question: closed, want: Answer{Value: "мой собственный ответ"}},
		{name: "no escape option", raw: "A", question: noEscape, want: Answer{Value: "App"}},
		{name: "no escape option unmatched", raw: "D", question: noEscape, want: Answer{Value: "D"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParseAnswer(tt.raw, tt.question))
		})
	}
}
