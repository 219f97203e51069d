package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNewLogger_JSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer

	log := newLogger(&buf, "warn", true)
	log.Info("dropped")
	log.Warn("kept", "project_id", "p1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "p1", entry["project_id"])
}

func TestPreview(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", Preview("short"))
	assert.Equal(t, "a b", Preview("a\nb"))

	long := strings.Repeat("я", 80)
	got := Preview(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, previewWidth, len([]rune(got)))
}

func attrMap(attrs []any) map[string]any {
	m := make(map[string]any, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		m[attrs[i].(string)] = attrs[i+1]
	}
	return m
}

func TestUpdateAttrs(t *testing.T) {
	t.Parallel()

	t.Run("message", func(t *testing.T) {
		t.Parallel()
		got := attrMap(UpdateAttrs(&models.Update{
			ID: 1,
			Message: &models.Message{
				ID: 10, Chat: models.Chat{ID: -100}, MessageThreadID: 7,
				From: &models.User{ID: 5}, Text: "hello",
			},
		}))
		assert.Equal(t, "message", got["update_type"])
		assert.Equal(t, int64(-100), got["chat_id"])
		assert.Equal(t, 7, got["thread_id"])
		assert.Equal(t, int64(5), got["user_id"])
	})

	t.Run("callback without message", func(t *testing.T) {
		t.Parallel()
		got := attrMap(UpdateAttrs(&models.Update{
			ID:            2,
			CallbackQuery: &models.CallbackQuery{ID: "cb", From: models.User{ID: 5}, Data: "confirm_card:p1"},
		}))
		assert.Equal(t, "callback_query", got["update_type"])
		assert.NotContains(t, got, "chat_id")
	})

	t.Run("inaccessible callback message", func(t *testing.T) {
		t.Parallel()
		got := attrMap(UpdateAttrs(&models.Update{
			CallbackQuery: &models.CallbackQuery{
				ID: "cb",
				Message: models.MaybeInaccessibleMessage{
					InaccessibleMessage: &models.InaccessibleMessage{Chat: models.Chat{ID: -5}},
				},
			},
		}))
		assert.Equal(t, int64(-5), got["chat_id"])
		assert.Equal(t, false, got["message_accessible"])
	})

	t.Run("nil update", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "none", attrMap(UpdateAttrs(nil))["update_type"])
	})
}

func TestMiddleware_CallsNext(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	called := false

	h := Middleware(newLogger(&buf, "debug", false))(func(ctx context.Context, _ *bot.Bot, _ *models.Update) {
		called = true
	})
	h(context.Background(), nil, &models.Update{ID: 3, Message: &models.Message{Text: "hi"}})

	assert.True(t, called)
	assert.Contains(t, buf.String(), "Finished processing update")
}
