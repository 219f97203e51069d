package database

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcards/prismabot/internal/dialog"
)

func newTestStore(t *testing.T) (*sqlxStore, *sqlx.DB) {
	t.Helper()
	db, err := NewDB(DriverSQLite, filepath.Join(t.TempDir(), "prisma.db"))
	require.NoError(t, err)
	t.Cleanup(func() { CloseDB(db) })

	store := NewStore(db, slog.New(slog.NewTextHandler(io.Discard, nil))).(*sqlxStore)
	return store, db
}

func linkTestProject(t *testing.T, s Store, id string, chatID int64, thread int) {
	t.Helper()
	require.NoError(t, s.LinkProject(context.Background(), &Project{
		ID: id, Name: "Project " + id, ChatID: chatID, IntakeThreadID: thread,
	}))
}

func TestSQLStore_Projects(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.ProjectByChat(ctx, -100)
	require.ErrorIs(t, err, dialog.ErrProjectNotFound)
	_, err = s.IntakeThread(ctx, "p1")
	require.ErrorIs(t, err, dialog.ErrProjectNotFound)
	_, err = s.GetProject(ctx, "p1")
	require.ErrorIs(t, err, dialog.ErrProjectNotFound)

	linkTestProject(t, s, "p1", -100, 12)

	id, err := s.ProjectByChat(ctx, -100)
	require.NoError(t, err)
	assert.Equal(t, "p1", id)

	thread, err := s.IntakeThread(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 12, thread)

	// Relinking the chat to another project releases the first binding.
	linkTestProject(t, s, "p2", -100, 34)
	id, err = s.ProjectByChat(ctx, -100)
	require.NoError(t, err)
	assert.Equal(t, "p2", id)

	p1, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, p1.ChatID)
	assert.Zero(t, p1.IntakeThreadID)
	assert.Equal(t, "Project p1", p1.Name)

	// An empty name keeps the stored one.
	require.NoError(t, s.LinkProject(ctx, &Project{ID: "p2", ChatID: -100, IntakeThreadID: 56}))
	p2, err := s.GetProject(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, "Project p2", p2.Name)
	assert.Equal(t, 56, p2.IntakeThreadID)
}

func TestSQLStore_LinkProjectValidation(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	assert.Error(t, s.LinkProject(context.Background(), nil))
	assert.Error(t, s.LinkProject(context.Background(), &Project{ChatID: 1}))
	assert.Error(t, s.LinkProject(context.Background(), &Project{ID: "p"}))
}

func TestSQLStore_DialogRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)
	linkTestProject(t, s, "p1", -100, 12)

	rec, err := s.LoadDialog(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	updated := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	want := &dialog.Record{
		ProjectID:       "p1",
		CurrentCard:     "product",
		CurrentQuestion: 3,
		State:           "custom",
		DraftAnswers:    map[string]string{"product_name": "Prisma", "product_type": "Bot"},
		UpdatedAt:       updated,
	}
	require.NoError(t, s.SaveDialog(ctx, want))

	got, err := s.LoadDialog(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	want.State = "confirming"
	want.DraftAnswers = map[string]string{}
	want.NudgedAt = updated.Add(time.Hour)
	require.NoError(t, s.SaveDialog(ctx, want))

	got, err = s.LoadDialog(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSQLStore_DialogKeepsUnknownState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)
	linkTestProject(t, s, "p1", -100, 12)

	require.NoError(t, s.SaveDialog(ctx, &dialog.Record{
		ProjectID: "p1", CurrentCard: "product", CurrentQuestion: 1, State: "legacy", UpdatedAt: time.Now(),
	}))

	rec, err := s.LoadDialog(ctx, "p1")
	require.NoError(t, err)
	_, err = rec.Decode()
	assert.ErrorIs(t, err, dialog.ErrMalformedState)
}

func TestSQLStore_DialogRequiresProject(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	err := s.SaveDialog(context.Background(), &dialog.Record{
		ProjectID: "ghost", CurrentCard: "product", CurrentQuestion: 1, State: "awaiting", UpdatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, dialog.ErrStoreUnavailable)
}

func TestSQLStore_CardsUpsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)
	linkTestProject(t, s, "p1", -100, 12)

	first := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveCard(ctx, &dialog.FinishedCard{
		ProjectID: "p1", CardType: "product", Stage: "idea",
		Answers: map[string]string{"product_name": "v1"}, CompletedAt: first,
	}))
	require.NoError(t, s.SaveCard(ctx, &dialog.FinishedCard{
		ProjectID: "p1", CardType: "problem", Stage: "idea",
		Answers: map[string]string{"problem_pain": "slow"}, CompletedAt: first.Add(time.Minute),
	}))

	cards, err := s.ListCards(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, cards, 2)
	productID := cards[0].ID
	assert.Equal(t, "product", cards[0].Type)
	assert.Equal(t, 100, cards[0].FillRate)

	require.NoError(t, s.SaveCard(ctx, &dialog.FinishedCard{
		ProjectID: "p1", CardType: "product", Stage: "idea",
		Answers: map[string]string{"product_name": "v2"}, CompletedAt: first.Add(time.Hour),
	}))

	cards, err = s.ListCards(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, productID, cards[0].ID)

	answers, err := cards[0].Answers()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"product_name": "v2"}, answers)
}

func TestSQLStore_ActiveDialogsAndNudge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)

	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	states := map[string]string{"a": "awaiting", "b": "custom", "c": "confirming", "d": "completed", "e": "idle"}
	i := 0
	for id, state := range states {
		linkTestProject(t, s, id, int64(-100-i), 10+i)
		require.NoError(t, s.SaveDialog(ctx, &dialog.Record{
			ProjectID: id, CurrentCard: "product", CurrentQuestion: 1, State: state, UpdatedAt: base,
		}))
		i++
	}

	active, err := s.ActiveDialogs(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(active))
	for _, rec := range active {
		ids = append(ids, rec.ProjectID)
		assert.True(t, rec.NudgedAt.IsZero())
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)

	nudged := base.Add(2 * time.Hour)
	require.NoError(t, s.MarkNudged(ctx, "a", nudged))
	rec, err := s.LoadDialog(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, nudged, rec.NudgedAt)
	assert.Equal(t, base, rec.UpdatedAt)
}

func TestSQLStore_Messages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)

	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := range 5 {
		require.NoError(t, s.SaveMessage(ctx, &Message{
			ChatID: -100, UserID: 1, UserName: "ann", Content: string(rune('a' + i)),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.SaveMessage(ctx, &Message{
		ChatID: -200, UserID: 2, Role: RoleBot, Content: "other chat", Timestamp: base,
	}))

	recent, err := s.GetRecentMessages(ctx, -100, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, []string{"c", "d", "e"}, []string{recent[0].Content, recent[1].Content, recent[2].Content})
	assert.Equal(t, RoleUser, recent[0].Role)
	assert.NotZero(t, recent[0].ID)

	deleted, err := s.DeleteMessagesBefore(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	recent, err = s.GetRecentMessages(ctx, -100, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}

func TestSQLStore_SaveMessageValidation(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	tests := []struct {
		name string
		msg  *Message
	}{
		{"nil message", nil},
		{"zero chat", &Message{Content: "x"}},
		{"empty content", &Message{ChatID: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, s.SaveMessage(context.Background(), tt.msg))
		})
	}
}

func TestSQLStore_Maintenance(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.RunMaintenance(context.Background()))
}

func TestSQLiteDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain path", "data/bot.db", "data/bot.db?_pragma=foreign_keys%281%29&_time_format=sqlite"},
		{"keeps explicit params", "bot.db?_time_format=custom", "bot.db?_pragma=foreign_keys%281%29&_time_format=custom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SQLiteDSN(tt.in))
		})
	}
}

func TestExtractDBNameFromPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"bot.db", "bot.db"},
		{"file:bot.db?_pragma=x", "bot.db"},
		{"file:my%20bot.db", "my bot.db"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExtractDBNameFromPath(tt.in))
		})
	}
}
