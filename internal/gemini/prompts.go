package gemini

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mcards/prismabot/internal/catalog"
	"github.com/mcards/prismabot/internal/database"
)

// ChatHeader is prepended to the configured system instruction. The format
// expects the bot first name and the bot username twice.
const ChatHeader = `Ты %s, бот проекта в Telegram-группе. Сообщение с упоминанием @%s или ответ на твоё сообщение адресованы тебе. Упоминание @%s в тексте ожидаемо, не комментируй его.

[ВАЖНО] Не повторяй префикс вида "[2006-01-02 15:04] имя:" в ответе. Отвечай только текстом сообщения.

`

// workspaceHeader opens the block with the project's finished cards.
const workspaceHeader = "КОНТЕКСТ ПРОЕКТА"

const historyTimeLayout = "2006-01-02 15:04"

// PhotoPrefix marks history lines that stand for a photo.
const PhotoPrefix = "[ФОТО]"

// imageInstruction follows the picture in the last user turn.
const imageInstruction = "Проанализируй картинку из последнего сообщения и ответь в своём стиле."

var echoedPrefix = regexp.MustCompile(`(?m)^(?:\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}\] [^:\n]{1,64}: )+`)

func formatMessage(m *database.Message) string {
	name := m.UserName
	if name == "" {
		name = fmt.Sprintf("user%d", m.UserID)
	}
	return fmt.Sprintf("[%s] %s: %s", m.Timestamp.UTC().Format(historyTimeLayout), name, m.Content)
}

func stripEchoedPrefix(s string) string {
	return strings.TrimSpace(echoedPrefix.ReplaceAllString(s, ""))
}

// WorkspaceContext renders a project's confirmed cards as plain text for the
// system instruction. Cards are listed in catalog order; types unknown to
// the catalog are skipped. It returns "" when nothing is confirmed.
func WorkspaceContext(project *database.Project, cards []*database.Card, cat *catalog.Catalog) string {
	if len(cards) == 0 || cat == nil {
		return ""
	}

	byType := make(map[catalog.CardType]*database.Card, len(cards))
	for _, c := range cards {
		byType[catalog.CardType(c.Type)] = c
	}

	var sb strings.Builder
	sb.WriteString(workspaceHeader)
	if project != nil && project.Name != "" {
		fmt.Fprintf(&sb, " «%s»", project.Name)
	}
	sb.WriteString(":\n")

	written := 0
	for _, ct := range cat.Order() {
		row, ok := byType[ct]
		if !ok {
			continue
		}
		card, _ := cat.Card(ct)
		answers, err := row.Answers()
		if err != nil {
			continue
		}

		fmt.Fprintf(&sb, "\n%s %s\n", card.Emoji, card.Title)
		for _, q := range card.Questions {
			if a := answers[q.FieldName()]; a != "" {
				fmt.Fprintf(&sb, "- %s %s\n", q.Prompt(), a)
			}
		}
		written++
	}

	if written == 0 {
		return ""
	}
	return sb.String()
}
