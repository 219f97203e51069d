package dialog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcards/prismabot/internal/catalog"
)

const (
	testProject = "proj-1"
	testThread  = 77
)

var errBoom = errors.New("boom")

// memStore is an in-memory Store with failure injection.
type memStore struct {
	mu       sync.Mutex
	threads  map[string]int
	chats    map[int64]string
	dialogs  map[string]*Record
	cards    map[string]map[string]*FinishedCard
	cardLog  []*FinishedCard
	loads    int
	failLoad error
	failSave error
	failCard error
}

func newMemStore() *memStore {
	return &memStore{
		threads: map[string]int{testProject: testThread},
		chats:   map[int64]string{-100: testProject},
		dialogs: map[string]*Record{},
		cards:   map[string]map[string]*FinishedCard{},
	}
}

func (m *memStore) LoadDialog(_ context.Context, projectID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.failLoad != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, m.failLoad)
	}
	rec, ok := m.dialogs[projectID]
	if !ok {
		return nil, nil
	}
	return copyRecord(rec), nil
}

func (m *memStore) SaveDialog(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, m.failSave)
	}
	m.dialogs[rec.ProjectID] = copyRecord(rec)
	return nil
}

func (m *memStore) SaveCard(_ context.Context, card *FinishedCard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCard != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, m.failCard)
	}
	c := *card
	c.Answers = maps.Clone(card.Answers)
	if m.cards[card.ProjectID] == nil {
		m.cards[card.ProjectID] = map[string]*FinishedCard{}
	}
	m.cards[card.ProjectID][card.CardType] = &c
	m.cardLog = append(m.cardLog, &c)
	return nil
}

func (m *memStore) ProjectByChat(_ context.Context, chatID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.chats[chatID]
	if !ok {
		return "", ErrProjectNotFound
	}
	return id, nil
}

func (m *memStore) IntakeThread(_ context.Context, projectID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	thread, ok := m.threads[projectID]
	if !ok {
		return 0, ErrProjectNotFound
	}
	return thread, nil
}

func (m *memStore) dialog(projectID string) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.dialogs[projectID]
	if !ok {
		return nil
	}
	return copyRecord(rec)
}

func (m *memStore) setFailures(load, save, card error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLoad, m.failSave, m.failCard = load, save, card
}

func twoCardCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(
		&catalog.Card{
			Type: "product", Title: "Продукт", Emoji: "📦", Intro: "Расскажи о продукте.",
			Questions: []catalog.Question{
				catalog.ClosedQuestion{Number: 1, Text: "Что это?", Field: "product_type",
					Options: []catalog.Option{{Key: "A", Text: "App"}, {Key: "B", Text: "Bot"}}},
				catalog.OpenQuestion{Number: 2, Text: "Зачем?", Field: "product_purpose", Hint: "одно предложение"},
			},
		},
		&catalog.Card{
			Type: "problem", Title: "Проблема", Emoji: "🔥",
			Questions: []catalog.Question{
				catalog.OpenQuestion{Number: 1, Text: "Какая боль?", Field: "problem_pain"},
				catalog.ClosedQuestion{Number: 2, Text: "Как часто?", Field: "problem_frequency",
					Options: []catalog.Option{{Key: "A", Text: "Каждый день"}, {Key: "B", Text: "Иногда"}, {Key: "D", Text: "Свой вариант"}},
					EscapeKey: "D"},
			},
		},
	)
	require.NoError(t, err)
	return cat
}

func newTestEngine(t *testing.T, store Store, cat *catalog.Catalog, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC) }),
	}
	return NewEngine(store, cat, append(base, opts...)...)
}

func TestEngine_ConcreteScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	e := newTestEngine(t, store, twoCardCatalog(t))

	ok, text := e.StartDialog(ctx, testProject)
	require.True(t, ok)
	assert.Contains(t, text, "Что это?")
	assert.Contains(t, text, "A) App")
	assert.Contains(t, text, "B) Bot")

	reply := e.ProcessMessage(ctx, testProject, "A", "Ann")
	assert.Contains(t, reply.Text, "✓ App")
	assert.Contains(t, reply.Text, "Зачем?")
	assert.Contains(t, reply.Text, "💡 _одно предложение_")
	assert.Nil(t, reply.Affordance)
	assert.Equal(t, "App", store.dialog(testProject).DraftAnswers["product_type"])

	reply = e.ProcessMessage(ctx, testProject, "Helps people focus", "Ann")
	require.NotNil(t, reply.Affordance)
	assert.Contains(t, reply.Text, "Карточка Продукт готова")
	assert.Contains(t, reply.Text, "_Helps people focus_")
	assert.Equal(t, "confirm_card:"+testProject, reply.Affordance.Confirm.Data())
	assert.Equal(t, "redo_card:"+testProject, reply.Affordance.Redo.Data())
	assert.Equal(t, "confirming", store.dialog(testProject).State)

	reply = e.ConfirmCard(ctx, testProject)
	assert.Contains(t, reply.Text, "Какая боль?")
	assert.Contains(t, reply.Text, "[●○] 1/2")

	require.Len(t, store.cardLog, 1)
	card := store.cardLog[0]
	assert.Equal(t, "product", card.CardType)
	assert.Equal(t, DefaultStage, card.Stage)
	assert.Equal(t, map[string]string{"product_type": "App", "product_purpose": "Helps people focus"}, card.Answers)

	rec := store.dialog(testProject)
	assert.Equal(t, "problem", rec.CurrentCard)
	assert.Equal(t, 1, rec.CurrentQuestion)
	assert.Equal(t, "awaiting", rec.State)
	assert.Empty(t, rec.DraftAnswers)
}

func TestEngine_FullTraversal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	cat := catalog.Default()
	e := newTestEngine(t, store, cat)

	ok, _ := e.StartDialog(ctx, testProject)
	require.True(t, ok)

	for i, cardType := range cat.Order() {
		for n := 1; n <= cat.QuestionCount(cardType); n++ {
			q, ok := cat.Question(cardType, n)
			require.True(t, ok)
			answer := fmt.Sprintf("answer %d", n)
			if closed, ok := q.(catalog.ClosedQuestion); ok {
				answer = closed.Options[0].Key
			}
			e.ProcessMessage(ctx, testProject, answer, "Ann")
		}
		require.Equal(t, "confirming", store.dialog(testProject).State, "card %s", cardType)

		reply := e.ProcessMessage(ctx, testProject, "да", "Ann")
		if i == cat.Len()-1 {
			assert.Equal(t, e.Messages().PhaseCompleted, reply.Text)
		} else {
			assert.Contains(t, reply.Text, e.Messages().CardSaved)
		}
	}

	assert.Equal(t, "completed", store.dialog(testProject).State)
	require.Len(t, store.cardLog, cat.Len())
	for i, card := range store.cardLog {
		assert.Equal(t, string(cat.Order()[i]), card.CardType)
		assert.Len(t, card.Answers, cat.QuestionCount(cat.Order()[i]))
	}

	reply := e.ProcessMessage(ctx, testProject, "ещё", "Ann")
	assert.Equal(t, e.Messages().AlreadyComplete, reply.Text)

	p, err := e.Progress(ctx, testProject)
	require.NoError(t, err)
	assert.Equal(t, 100, p.Percent)
	assert.Equal(t, cat.Len(), p.CardsCompleted)
}

func TestEngine_EscapeOption(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	e := newTestEngine(t, store, twoCardCatalog(t))

	require.NoError(t, store.SaveDialog(ctx, &Record{
		ProjectID: testProject, CurrentCard: "problem", CurrentQuestion: 2, State: "awaiting",
		DraftAnswers: map[string]string{"problem_pain": "долго"},
	}))

	reply := e.ProcessMessage(ctx, testProject, "d", "Ann")
	assert.Equal(t, e.Messages().AskCustom, reply.Text)
	rec := store.dialog(testProject)
	assert.Equal(t, "custom", rec.State)
	assert.Equal(t, 2, rec.CurrentQuestion)
	assert.NotContains(t, rec.DraftAnswers, "problem_frequency")

	reply = e.ProcessMessage(ctx, testProject, "  раз в квартал  ", "Ann")
	require.NotNil(t, reply.Affordance)
	rec = store.dialog(testProject)
	assert.Equal(t, "confirming", rec.State)
	assert.Equal(t, "раз в квартал", rec.DraftAnswers["problem_frequency"])
}

func TestEngine_LenientFreeText(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	e := newTestEngine(t, store, twoCardCatalog(t))

	e.StartDialog(ctx, testProject)
	e.ProcessMessage(ctx, testProject, "Маркетплейс", "Ann")

	rec := store.dialog(testProject)
	assert.Equal(t, "Маркетплейс", rec.DraftAnswers["product_type"])
	assert.Equal(t, 2, rec.CurrentQuestion)
}

func TestEngine_RedoIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	e := newTestEngine(t, store, twoCardCatalog(t))

	e.StartDialog(ctx, testProject)
	e.ProcessMessage(ctx, testProject, "A", "Ann")
	e.ProcessMessage(ctx, testProject, "focus", "Ann")
	e.ConfirmCard(ctx, testProject)

	e.ProcessMessage(ctx, testProject, "нет времени", "Ann")
	e.ProcessMessage(ctx, testProject, "B", "Ann")
	before := store.dialog(testProject)
	require.Equal(t, "confirming", before.State)

	reply := e.ProcessMessage(ctx, testProject, "Переделать!", "Ann")
	assert.Contains(t, reply.Text, e.Messages().RedoStarted)
	assert.Contains(t, reply.Text, "Какая боль?")

	rec := store.dialog(testProject)
	assert.Equal(t, "problem", rec.CurrentCard)
	assert.Equal(t, 1, rec.CurrentQuestion)
	assert.Equal(t, "awaiting", rec.State)
	assert.Empty(t, rec.DraftAnswers)

	require.Len(t, store.cardLog, 1)
	assert.Equal(t, "App", store.cards[testProject]["product"].Answers["product_type"])
}

func TestEngine_RedoCardMidCard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	e := newTestEngine(t, store, twoCardCatalog(t))

	e.StartDialog(ctx, testProject)
	e.ProcessMessage(ctx, testProject, "A", "Ann")

	reply := e.RedoCard(ctx, testProject)
	assert.Contains(t, reply.Text, "Что это?")
	rec := store.dialog(testProject)
	assert.Equal(t, 1, rec.CurrentQuestion)
	assert.Empty(t, rec.DraftAnswers)
}

func TestEngine_ConfirmOutsideConfirming(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	e := newTestEngine(t, store, twoCardCatalog(t))

	e.StartDialog(ctx, testProject)
	e.ProcessMessage(ctx, testProject, "A", "Ann")

	reply := e.ConfirmCard(ctx, testProject)
	assert.True(t, strings.HasPrefix(reply.Text, e.Messages().NothingToConfirm))
	assert.Contains(t, reply.Text, "Зачем?")
	assert.Empty(t, store.cardLog)
	assert.Equal(t, 2, store.dialog(testProject).CurrentQuestion)
}

func TestEngine_ConfirmationHint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	e := newTestEngine(t, store, twoCardCatalog(t))

	e.StartDialog(ctx, testProject)
	e.ProcessMessage(ctx, testProject, "A", "Ann")
	e.ProcessMessage(ctx, testProject, "focus", "Ann")

	reply := e.ProcessMessage(ctx, testProject, "может быть", "Ann")
	assert.Equal(t, e.Messages().ConfirmHint, reply.Text)
	require.NotNil(t, reply.Affordance)
	assert.Equal(t, "confirming", store.dialog(testProject).State)
}

func TestEngine_NoDialog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	e := newTestEngine(t, store, twoCardCatalog(t))

	assert.Equal(t, e.Messages().DialogNotFound, e.ConfirmCard(ctx, testProject).Text)
	assert.Equal(t, e.Messages().DialogNotFound, e.RedoCard(ctx, testProject).Text)

	reply := e.ProcessMessage(ctx, testProject, "привет", "Ann")
	assert.True(t, strings.HasPrefix(reply.Text, "Привет, Ann!"))
	assert.Contains(t, reply.Text, "Что это?")

	rec := store.dialog(testProject)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.CurrentQuestion)
	assert.Empty(t, rec.DraftAnswers)
}

func TestEngine_UnknownProject(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	e := newTestEngine(t, store, twoCardCatalog(t))

	ok, text := e.StartDialog(ctx, "ghost")
	assert.False(t, ok)
	assert.Equal(t, e.Messages().ProjectNotFound, text)

	reply := e.ProcessMessage(ctx, "ghost", "hi", "Ann")
	assert.Equal(t, e.Messages().ProjectNotFound, reply.Text)
	assert.Nil(t, store.dialog("ghost"))

	_, found := e.ProjectByChat(ctx, 42)
	assert.False(t, found)
	id, found := e.ProjectByChat(ctx, -100)
	assert.True(t, found)
	assert.Equal(t, testProject, id)
}

func TestEngine_StartIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	e := newTestEngine(t, store, twoCardCatalog(t))

	e.StartDialog(ctx, testProject)
	e.ProcessMessage(ctx, testProject, "A", "Ann")

	ok1, text1 := e.StartDialog(ctx, testProject)
	first := store.dialog(testProject)
	ok2, text2 := e.StartDialog(ctx, testProject)
	second := store.dialog(testProject)

	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.Equal(t, text1, text2)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, second.CurrentQuestion)
	assert.Empty(t, second.DraftAnswers)
}

func TestEngine_ShouldHandleMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	store.threads["no-thread"] = 0
	e := newTestEngine(t, store, twoCardCatalog(t))

	tests := []struct {
		name      string
		projectID string
		threadID  int
		want      bool
	}{
		{"intake thread", testProject, testThread, true},
		{"other thread", testProject, testThread + 1, false},
		{"no thread", testProject, 0, false},
		{"empty project", "", testThread, false},
		{"unknown project", "ghost", testThread, false},
		{"project without intake", "no-thread", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.ShouldHandleMessage(ctx, tt.projectID, tt.threadID))
		})
	}
}

func TestEngine_MalformedState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	e := newTestEngine(t, store, twoCardCatalog(t))

	require.NoError(t, store.SaveDialog(ctx, &Record{
		ProjectID: testProject, CurrentCard: "product", CurrentQuestion: 1, State: "waiting_for_godot",
	}))

	reply := e.ProcessMessage(ctx, testProject, "A", "Ann")
	assert.Equal(t, e.Messages().MalformedState, reply.Text)
	assert.Equal(t, "waiting_for_godot", store.dialog(testProject).State)

	_, err := e.Progress(ctx, testProject)
	assert.ErrorIs(t, err, ErrMalformedState)

	ok, _ := e.StartDialog(ctx, testProject)
	assert.True(t, ok)
	assert.Equal(t, "awaiting", store.dialog(testProject).State)
}

func TestEngine_QuestionNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	e := newTestEngine(t, store, twoCardCatalog(t))

	require.NoError(t, store.SaveDialog(ctx, &Record{
		ProjectID: testProject, CurrentCard: "product", CurrentQuestion: 9, State: "awaiting",
	}))

	reply := e.ProcessMessage(ctx, testProject, "A", "Ann")
	assert.Equal(t, e.Messages().QuestionNotFound, reply.Text)
	assert.Equal(t, 9, store.dialog(testProject).CurrentQuestion)
}

func TestEngine_StoreFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	e := newTestEngine(t, store, twoCardCatalog(t))

	e.StartDialog(ctx, testProject)
	e.ProcessMessage(ctx, testProject, "A", "Ann")
	before := store.dialog(testProject)

	store.setFailures(nil, errBoom, nil)
	reply := e.ProcessMessage(ctx, testProject, "focus", "Ann")
	assert.Equal(t, e.Messages().GenericError, reply.Text)
	assert.Equal(t, before, store.dialog(testProject))

	store.setFailures(nil, nil, nil)
	reply = e.ProcessMessage(ctx, testProject, "focus", "Ann")
	require.NotNil(t, reply.Affordance)
	assert.Equal(t, "confirming", store.dialog(testProject).State)
}

func TestEngine_SinkFailureKeepsConfirming(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	e := newTestEngine(t, store, twoCardCatalog(t))

	e.StartDialog(ctx, testProject)
	e.ProcessMessage(ctx, testProject, "A", "Ann")
	e.ProcessMessage(ctx, testProject, "focus", "Ann")

	store.setFailures(nil, nil, errBoom)
	reply := e.ConfirmCard(ctx, testProject)
	assert.Equal(t, e.Messages().GenericError, reply.Text)
	rec := store.dialog(testProject)
	assert.Equal(t, "confirming", rec.State)
	assert.Equal(t, "product", rec.CurrentCard)
	assert.Len(t, rec.DraftAnswers, 2)
	assert.Empty(t, store.cardLog)

	store.setFailures(nil, nil, nil)
	reply = e.ConfirmCard(ctx, testProject)
	assert.Contains(t, reply.Text, e.Messages().CardSaved)
	assert.Len(t, store.cardLog, 1)
}

func TestEngine_LoadFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	e := newTestEngine(t, store, twoCardCatalog(t), WithCache(false))

	store.setFailures(errBoom, nil, nil)
	reply := e.ProcessMessage(ctx, testProject, "A", "Ann")
	assert.Equal(t, e.Messages().GenericError, reply.Text)

	_, err := e.Progress(ctx, testProject)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestEngine_ColdCacheResumes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	cat := twoCardCatalog(t)

	first := newTestEngine(t, store, cat)
	first.StartDialog(ctx, testProject)
	first.ProcessMessage(ctx, testProject, "B", "Ann")

	restarted := newTestEngine(t, store, cat)
	reply := restarted.ProcessMessage(ctx, testProject, "focus", "Ann")
	require.NotNil(t, reply.Affordance)

	rec := store.dialog(testProject)
	assert.Equal(t, "Bot", rec.DraftAnswers["product_type"])
	assert.Equal(t, "focus", rec.DraftAnswers["product_purpose"])
}

func TestEngine_CacheServesRepeatedLoads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	e := newTestEngine(t, store, twoCardCatalog(t))

	e.StartDialog(ctx, testProject)
	for range 3 {
		_, err := e.Progress(ctx, testProject)
		require.NoError(t, err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Zero(t, store.loads)
}

func TestEngine_ProgressMonotonic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	e := newTestEngine(t, store, twoCardCatalog(t))

	p, err := e.Progress(ctx, testProject)
	require.NoError(t, err)
	assert.False(t, p.Started)
	assert.Zero(t, p.Percent)

	e.StartDialog(ctx, testProject)
	steps := []func(){
		func() { e.ProcessMessage(ctx, testProject, "A", "Ann") },
		func() { e.ProcessMessage(ctx, testProject, "focus", "Ann") },
		func() { e.ConfirmCard(ctx, testProject) },
		func() { e.ProcessMessage(ctx, testProject, "pain", "Ann") },
		func() { e.ProcessMessage(ctx, testProject, "d", "Ann") },
		func() { e.ProcessMessage(ctx, testProject, "weekly", "Ann") },
		func() { e.ConfirmCard(ctx, testProject) },
	}

	prev := -1
	for i, step := range steps {
		p, err := e.Progress(ctx, testProject)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p.Percent, prev, "step %d", i)
		assert.Less(t, p.Percent, 100, "step %d", i)
		prev = p.Percent
		step()
	}

	p, err = e.Progress(ctx, testProject)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, p.State)
	assert.Equal(t, 100, p.Percent)
}

func TestEngine_ProgressValues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	e := newTestEngine(t, store, twoCardCatalog(t))

	require.NoError(t, store.SaveDialog(ctx, &Record{
		ProjectID: testProject, CurrentCard: "problem", CurrentQuestion: 2, State: "awaiting",
	}))

	p, err := e.Progress(ctx, testProject)
	require.NoError(t, err)
	assert.True(t, p.Started)
	assert.Equal(t, 1, p.CardsCompleted)
	assert.Equal(t, 2, p.TotalCards)
	assert.Equal(t, 2, p.QuestionsInCard)
	assert.Equal(t, 75, p.Percent)
}

func TestEngine_ConcurrentAnswers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	cat, err := catalog.New(&catalog.Card{
		Type: "notes", Title: "Notes",
		Questions: []catalog.Question{
			catalog.OpenQuestion{Number: 1, Text: "one", Field: "f1"},
			catalog.OpenQuestion{Number: 2, Text: "two", Field: "f2"},
			catalog.OpenQuestion{Number: 3, Text: "three", Field: "f3"},
		},
	})
	require.NoError(t, err)
	e := newTestEngine(t, store, cat, WithCache(false))
	e.StartDialog(ctx, testProject)

	var wg sync.WaitGroup
	for _, answer := range []string{"x", "y"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.ProcessMessage(ctx, testProject, answer, "Ann")
		}()
	}
	wg.Wait()

	rec := store.dialog(testProject)
	assert.Equal(t, 3, rec.CurrentQuestion)
	assert.Len(t, rec.DraftAnswers, 2)
	assert.ElementsMatch(t, []string{"x", "y"}, []string{rec.DraftAnswers["f1"], rec.DraftAnswers["f2"]})
	assert.Zero(t, e.locks.size())
}

func TestEngine_Reminder(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, newMemStore(), twoCardCatalog(t))

	reply, err := e.Reminder(&Record{ProjectID: testProject, CurrentCard: "product", CurrentQuestion: 2, State: "awaiting"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reply.Text, e.Messages().Reminder))
	assert.Contains(t, reply.Text, "Зачем?")

	reply, err = e.Reminder(&Record{ProjectID: testProject, CurrentCard: "product", CurrentQuestion: 2, State: "confirming"})
	require.NoError(t, err)
	assert.NotNil(t, reply.Affordance)

	_, err = e.Reminder(&Record{ProjectID: testProject, State: "completed"})
	assert.ErrorIs(t, err, ErrMalformedState)
}

func TestParseChoice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		data   string
		want   Choice
		wantOK bool
	}{
		{"confirm_card:abc", Choice{Action: ActionConfirm, ProjectID: "abc"}, true},
		{"redo_card:abc-def", Choice{Action: ActionRedo, ProjectID: "abc-def"}, true},
		{"redo_card:", Choice{}, false},
		{"delete_card:abc", Choice{}, false},
		{"confirm_card", Choice{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseChoice(tt.data)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProgressBar(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "[●●○○○] 2/5", ProgressBar(2, 5))
	assert.Equal(t, "[○○] 0/2", ProgressBar(-1, 2))
	assert.Equal(t, "[●●] 2/2", ProgressBar(3, 2))
}
