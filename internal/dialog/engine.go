package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/mcards/prismabot/internal/catalog"
)

// DefaultStage is the lifecycle stage recorded on finished cards.
const DefaultStage = "idea"

// Action is the kind of an affordance choice.
type Action string

const (
	ActionConfirm Action = "confirm_card"
	ActionRedo    Action = "redo_card"
)

// MaxProjectIDLen is the longest project id whose choices still fit in
// Telegram's 64-byte callback data.
const MaxProjectIDLen = 64 - len(ActionConfirm) - len(":")

// Choice is one button of an Affordance.
type Choice struct {
	Action    Action
	Label     string
	ProjectID string
}

// Data encodes the choice as "<action>:<project_id>".
func (c Choice) Data() string {
	return string(c.Action) + ":" + c.ProjectID
}

// ParseChoice decodes data produced by Choice.Data.
func ParseChoice(data string) (Choice, bool) {
	action, projectID, ok := strings.Cut(data, ":")
	if !ok || projectID == "" {
		return Choice{}, false
	}
	switch Action(action) {
	case ActionConfirm, ActionRedo:
		return Choice{Action: Action(action), ProjectID: projectID}, true
	default:
		return Choice{}, false
	}
}

// Affordance is the confirm/redo pair offered with a card summary.
type Affordance struct {
	Confirm Choice
	Redo    Choice
}

// Reply is what the engine wants sent back to the user.
type Reply struct {
	Text       string
	Affordance *Affordance
}

// Progress describes how far a project got through the catalog.
type Progress struct {
	Started         bool
	State           State
	CurrentCard     catalog.CardType
	CurrentQuestion int
	QuestionsInCard int
	CardsCompleted  int
	TotalCards      int
	Percent         int
}

// Engine drives the per-project dialog. All operations that change a
// dialog are serialized per project.
type Engine struct {
	store   Store
	states  StateStore
	cache   *cachedStates
	catalog *catalog.Catalog
	locks   *keyedMutex

	msgs         Messages
	confirmWords map[string]struct{}
	redoWords    map[string]struct{}
	stage        string
	timeout      time.Duration
	useCache     bool

	log *slog.Logger
	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMessages replaces the user-facing texts.
func WithMessages(m Messages) Option {
	return func(e *Engine) { e.msgs = m }
}

// WithStoreTimeout bounds every store call. Zero disables the bound.
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithCache toggles the in-process write-through state cache.
func WithCache(enabled bool) Option {
	return func(e *Engine) { e.useCache = enabled }
}

// WithReplyWords sets the text replies accepted while confirming a card.
// Empty lists keep the defaults.
func WithReplyWords(confirm, redo []string) Option {
	return func(e *Engine) {
		if len(confirm) > 0 {
			e.confirmWords = wordSet(confirm)
		}
		if len(redo) > 0 {
			e.redoWords = wordSet(redo)
		}
	}
}

// WithStage sets the stage recorded on finished cards.
func WithStage(stage string) Option {
	return func(e *Engine) { e.stage = stage }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine over store and cat.
func NewEngine(store Store, cat *catalog.Catalog, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		catalog:      cat,
		locks:        newKeyedMutex(),
		msgs:         DefaultMessages(),
		confirmWords: wordSet(DefaultConfirmWords),
		redoWords:    wordSet(DefaultRedoWords),
		stage:        DefaultStage,
		timeout:      5 * time.Second,
		useCache:     true,
		log:          slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.log = e.log.With("component", "dialog_engine")
	e.states = store
	if e.useCache {
		e.cache = newCachedStates(store)
		e.states = e.cache
	}
	return e
}

// Catalog returns the catalog the engine walks.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// Messages returns the engine's user-facing texts.
func (e *Engine) Messages() Messages { return e.msgs }

// ProjectByChat resolves a chat to its project. Lookup failures are logged
// and reported as not found.
func (e *Engine) ProjectByChat(ctx context.Context, chatID int64) (string, bool) {
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	projectID, err := e.store.ProjectByChat(ctx, chatID)
	if err != nil {
		if !errors.Is(err, ErrProjectNotFound) {
			e.log.WarnContext(ctx, "Failed to resolve project", "chat_id", chatID, "error", err)
		}
		return "", false
	}
	return projectID, true
}

// ShouldHandleMessage reports whether a message in threadID belongs to the
// project's dialog. Messages outside any thread, and any lookup failure,
// yield false.
func (e *Engine) ShouldHandleMessage(ctx context.Context, projectID string, threadID int) bool {
	if projectID == "" || threadID == 0 {
		return false
	}

	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	intake, err := e.store.IntakeThread(ctx, projectID)
	if err != nil {
		if !errors.Is(err, ErrProjectNotFound) {
			e.log.WarnContext(ctx, "Failed to load intake thread", "project_id", projectID, "error", err)
		}
		return false
	}
	return intake != 0 && intake == threadID
}

// StartDialog (re)initializes the project's dialog at the first question of
// the first card and returns that question. Any previous progress on the
// current draft is discarded.
func (e *Engine) StartDialog(ctx context.Context, projectID string) (bool, string) {
	unlock := e.locks.Lock(projectID)
	defer unlock()

	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	text, err := e.start(ctx, projectID)
	if err != nil {
		if errors.Is(err, ErrProjectNotFound) {
			return false, e.msgs.ProjectNotFound
		}
		e.log.ErrorContext(ctx, "Failed to start dialog", "project_id", projectID, "error", err)
		return false, e.msgs.StartFailed
	}

	e.log.InfoContext(ctx, "Dialog started", "project_id", projectID)
	return true, text
}

// ProcessMessage feeds a user message into the dialog. A project without an
// active dialog gets a greeting and the first question; the message itself
// is not consumed as an answer in that case.
func (e *Engine) ProcessMessage(ctx context.Context, projectID, text, userName string) Reply {
	unlock := e.locks.Lock(projectID)
	defer unlock()

	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	dc, err := e.load(ctx, projectID)
	if err != nil {
		return e.fail(ctx, "process_message", projectID, err)
	}

	if dc == nil || dc.State == StateIdle {
		first, err := e.start(ctx, projectID)
		if err != nil {
			return e.fail(ctx, "process_message", projectID, err)
		}
		greeting := strings.ReplaceAll(e.msgs.Greeting, "{name}", userName)
		return Reply{Text: greeting + "\n\n" + first}
	}

	var reply Reply
	switch dc.State {
	case StateAwaitingAnswer:
		reply, err = e.answer(ctx, dc, text)
	case StateAwaitingCustom:
		reply, err = e.customAnswer(ctx, dc, text)
	case StateConfirming:
		reply, err = e.textConfirmation(ctx, dc, text)
	case StateCompleted:
		reply = Reply{Text: e.msgs.AlreadyComplete}
	default:
		err = fmt.Errorf("%w: %s", ErrMalformedState, dc.State)
	}
	if err != nil {
		return e.fail(ctx, "process_message", projectID, err)
	}
	return reply
}

// ConfirmCard finalizes the current card. It only acts while the card
// awaits confirmation; otherwise the current question is repeated.
func (e *Engine) ConfirmCard(ctx context.Context, projectID string) Reply {
	return e.withDialog(ctx, "confirm_card", projectID, e.confirm)
}

// RedoCard discards the current card's draft and restarts it.
func (e *Engine) RedoCard(ctx context.Context, projectID string) Reply {
	return e.withDialog(ctx, "redo_card", projectID, e.redo)
}

func (e *Engine) withDialog(ctx context.Context, op, projectID string,
	fn func(context.Context, *Context) (Reply, error),
) Reply {
	unlock := e.locks.Lock(projectID)
	defer unlock()

	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	dc, err := e.load(ctx, projectID)
	if err != nil {
		return e.fail(ctx, op, projectID, err)
	}
	if dc == nil || dc.State == StateIdle {
		return Reply{Text: e.msgs.DialogNotFound}
	}

	reply, err := fn(ctx, dc)
	if err != nil {
		return e.fail(ctx, op, projectID, err)
	}
	return reply
}

// Progress reports the project's position. Percent is the share of
// questions already behind the user and is 100 only once completed.
func (e *Engine) Progress(ctx context.Context, projectID string) (Progress, error) {
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	p := Progress{TotalCards: e.catalog.Len()}

	dc, err := e.load(ctx, projectID)
	if err != nil {
		return p, err
	}
	if dc == nil || dc.State == StateIdle {
		return p, nil
	}

	p.Started = true
	p.State = dc.State
	p.CurrentCard = dc.CurrentCard
	p.CurrentQuestion = dc.CurrentQuestion
	p.QuestionsInCard = e.catalog.QuestionCount(dc.CurrentCard)

	if dc.State == StateCompleted {
		p.CardsCompleted = p.TotalCards
		p.Percent = 100
		return p, nil
	}

	idx, ok := e.catalog.Index(dc.CurrentCard)
	if !ok {
		return p, fmt.Errorf("%w: card %q", ErrQuestionNotFound, dc.CurrentCard)
	}
	p.CardsCompleted = idx

	answered := e.catalog.QuestionsBefore(dc.CurrentCard) + dc.CurrentQuestion - 1
	p.Percent = min(answered*100/e.catalog.TotalQuestions(), 99)
	return p, nil
}

// Reminder renders a nudge for an active dialog record without touching
// the store.
func (e *Engine) Reminder(rec *Record) (Reply, error) {
	dc, err := rec.Decode()
	if err != nil {
		return Reply{}, err
	}
	if !dc.State.Active() {
		return Reply{}, fmt.Errorf("%w: %s dialog has nothing to remind about", ErrMalformedState, dc.State)
	}

	reply, err := e.currentPrompt(dc)
	if err != nil {
		return Reply{}, err
	}
	reply.Text = e.msgs.Reminder + "\n\n" + reply.Text
	return reply, nil
}

// ProgressBar renders "[●●○○○] 2/5".
func ProgressBar(done, total int) string {
	done = max(0, min(done, total))
	return fmt.Sprintf("[%s%s] %d/%d",
		strings.Repeat("●", done), strings.Repeat("○", total-done), done, total)
}

func (e *Engine) start(ctx context.Context, projectID string) (string, error) {
	if _, err := e.store.IntakeThread(ctx, projectID); err != nil {
		return "", err
	}

	first := e.catalog.First()
	text, ok := e.catalog.FormatQuestion(first, 1, true)
	if !ok {
		return "", fmt.Errorf("%w: card %q question 1", ErrQuestionNotFound, first)
	}

	dc := &Context{
		ProjectID:       projectID,
		CurrentCard:     first,
		CurrentQuestion: 1,
		State:           StateAwaitingAnswer,
		DraftAnswers:    map[string]string{},
	}
	if err := e.save(ctx, dc); err != nil {
		return "", err
	}
	return text, nil
}

func (e *Engine) answer(ctx context.Context, dc *Context, text string) (Reply, error) {
	q, err := e.question(dc)
	if err != nil {
		return Reply{}, err
	}

	ans := catalog.ParseAnswer(text, q)
	if ans.NeedsCustom {
		dc.State = StateAwaitingCustom
		if err := e.save(ctx, dc); err != nil {
			return Reply{}, err
		}
		return Reply{Text: e.msgs.AskCustom}, nil
	}
	return e.record(ctx, dc, q, ans.Value)
}

func (e *Engine) customAnswer(ctx context.Context, dc *Context, text string) (Reply, error) {
	q, err := e.question(dc)
	if err != nil {
		return Reply{}, err
	}
	return e.record(ctx, dc, q, strings.TrimSpace(text))
}

// record stores value for q and moves to the next question, or to
// confirmation after the last one.
func (e *Engine) record(ctx context.Context, dc *Context, q catalog.Question, value string) (Reply, error) {
	dc.DraftAnswers[q.FieldName()] = value
	ack := "✓ " + value + "\n\n"

	if dc.CurrentQuestion < e.catalog.QuestionCount(dc.CurrentCard) {
		dc.CurrentQuestion++
		dc.State = StateAwaitingAnswer
		next, ok := e.catalog.FormatQuestion(dc.CurrentCard, dc.CurrentQuestion, false)
		if !ok {
			return Reply{}, fmt.Errorf("%w: card %q question %d", ErrQuestionNotFound, dc.CurrentCard, dc.CurrentQuestion)
		}
		if err := e.save(ctx, dc); err != nil {
			return Reply{}, err
		}
		return Reply{Text: ack + next}, nil
	}

	dc.State = StateConfirming
	if err := e.save(ctx, dc); err != nil {
		return Reply{}, err
	}
	return Reply{Text: ack + e.confirmationText(dc), Affordance: e.affordance(dc.ProjectID)}, nil
}

func (e *Engine) textConfirmation(ctx context.Context, dc *Context, text string) (Reply, error) {
	word := normalizeWord(text)
	if _, ok := e.confirmWords[word]; ok {
		return e.confirm(ctx, dc)
	}
	if _, ok := e.redoWords[word]; ok {
		return e.redo(ctx, dc)
	}
	return Reply{Text: e.msgs.ConfirmHint, Affordance: e.affordance(dc.ProjectID)}, nil
}

func (e *Engine) confirm(ctx context.Context, dc *Context) (Reply, error) {
	switch dc.State {
	case StateCompleted:
		return Reply{Text: e.msgs.AlreadyComplete}, nil
	case StateConfirming:
	default:
		reply, err := e.currentPrompt(dc)
		if err != nil {
			return Reply{}, err
		}
		reply.Text = e.msgs.NothingToConfirm + "\n\n" + reply.Text
		return reply, nil
	}

	card, ok := e.catalog.Card(dc.CurrentCard)
	if !ok {
		return Reply{}, fmt.Errorf("%w: card %q", ErrQuestionNotFound, dc.CurrentCard)
	}

	// The card row is an idempotent upsert, so a failed state save below
	// leaves the dialog in CONFIRMING and a retry rewrites the same row.
	finished := &FinishedCard{
		ProjectID:   dc.ProjectID,
		CardType:    string(card.Type),
		Stage:       e.stage,
		Answers:     maps.Clone(dc.DraftAnswers),
		CompletedAt: e.now().UTC(),
	}
	if err := e.store.SaveCard(ctx, finished); err != nil {
		return Reply{}, err
	}

	dc.DraftAnswers = map[string]string{}
	next, ok := e.catalog.NextCard(card.Type)
	if !ok {
		dc.State = StateCompleted
		if err := e.save(ctx, dc); err != nil {
			return Reply{}, err
		}
		e.log.InfoContext(ctx, "Dialog completed", "project_id", dc.ProjectID)
		return Reply{Text: e.msgs.PhaseCompleted}, nil
	}

	dc.CurrentCard = next
	dc.CurrentQuestion = 1
	dc.State = StateAwaitingAnswer
	text, ok := e.catalog.FormatQuestion(next, 1, true)
	if !ok {
		return Reply{}, fmt.Errorf("%w: card %q question 1", ErrQuestionNotFound, next)
	}
	if err := e.save(ctx, dc); err != nil {
		return Reply{}, err
	}

	done, _ := e.catalog.Index(next)
	e.log.InfoContext(ctx, "Card confirmed", "project_id", dc.ProjectID, "card", card.Type)
	return Reply{Text: e.msgs.CardSaved + "\n\n" + ProgressBar(done, e.catalog.Len()) + "\n\n" + text}, nil
}

func (e *Engine) redo(ctx context.Context, dc *Context) (Reply, error) {
	if dc.State == StateCompleted {
		return Reply{Text: e.msgs.AlreadyComplete}, nil
	}

	dc.CurrentQuestion = 1
	dc.State = StateAwaitingAnswer
	dc.DraftAnswers = map[string]string{}
	text, ok := e.catalog.FormatQuestion(dc.CurrentCard, 1, true)
	if !ok {
		return Reply{}, fmt.Errorf("%w: card %q question 1", ErrQuestionNotFound, dc.CurrentCard)
	}
	if err := e.save(ctx, dc); err != nil {
		return Reply{}, err
	}
	return Reply{Text: e.msgs.RedoStarted + "\n\n" + text}, nil
}

// currentPrompt re-renders whatever the dialog is waiting for.
func (e *Engine) currentPrompt(dc *Context) (Reply, error) {
	switch dc.State {
	case StateAwaitingAnswer:
		text, ok := e.catalog.FormatQuestion(dc.CurrentCard, dc.CurrentQuestion, dc.CurrentQuestion == 1)
		if !ok {
			return Reply{}, fmt.Errorf("%w: card %q question %d", ErrQuestionNotFound, dc.CurrentCard, dc.CurrentQuestion)
		}
		return Reply{Text: text}, nil
	case StateAwaitingCustom:
		if _, err := e.question(dc); err != nil {
			return Reply{}, err
		}
		return Reply{Text: e.msgs.AskCustom}, nil
	case StateConfirming:
		if _, ok := e.catalog.Card(dc.CurrentCard); !ok {
			return Reply{}, fmt.Errorf("%w: card %q", ErrQuestionNotFound, dc.CurrentCard)
		}
		return Reply{Text: e.confirmationText(dc), Affordance: e.affordance(dc.ProjectID)}, nil
	case StateCompleted:
		return Reply{Text: e.msgs.AlreadyComplete}, nil
	default:
		return Reply{Text: e.msgs.DialogNotFound}, nil
	}
}

func (e *Engine) confirmationText(dc *Context) string {
	card, _ := e.catalog.Card(dc.CurrentCard)
	ready := strings.NewReplacer("{emoji}", card.Emoji, "{title}", card.Title).Replace(e.msgs.CardReady)
	return ready + "\n\n" + e.catalog.Summary(dc.CurrentCard, dc.DraftAnswers) + "\n\n" + e.msgs.ConfirmPrompt
}

func (e *Engine) affordance(projectID string) *Affordance {
	return &Affordance{
		Confirm: Choice{Action: ActionConfirm, Label: e.msgs.ConfirmButton, ProjectID: projectID},
		Redo:    Choice{Action: ActionRedo, Label: e.msgs.RedoButton, ProjectID: projectID},
	}
}

func (e *Engine) question(dc *Context) (catalog.Question, error) {
	q, ok := e.catalog.Question(dc.CurrentCard, dc.CurrentQuestion)
	if !ok {
		return nil, fmt.Errorf("%w: card %q question %d", ErrQuestionNotFound, dc.CurrentCard, dc.CurrentQuestion)
	}
	return q, nil
}

func (e *Engine) load(ctx context.Context, projectID string) (*Context, error) {
	rec, err := e.states.LoadDialog(ctx, projectID)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Decode()
}

func (e *Engine) save(ctx context.Context, dc *Context) error {
	dc.UpdatedAt = e.now().UTC()
	dc.NudgedAt = time.Time{}
	return e.states.SaveDialog(ctx, dc.Record())
}

func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}

// fail logs err and maps it to the matching user-facing text.
func (e *Engine) fail(ctx context.Context, op, projectID string, err error) Reply {
	log := e.log.With("operation", op, "project_id", projectID, "error", err)

	switch {
	case errors.Is(err, ErrProjectNotFound):
		log.WarnContext(ctx, "Project not found")
		return Reply{Text: e.msgs.ProjectNotFound}
	case errors.Is(err, ErrQuestionNotFound):
		log.ErrorContext(ctx, "Dialog points outside the catalog")
		return Reply{Text: e.msgs.QuestionNotFound}
	case errors.Is(err, ErrMalformedState):
		log.ErrorContext(ctx, "Malformed dialog state")
		return Reply{Text: e.msgs.MalformedState}
	default:
		log.ErrorContext(ctx, "Dialog operation failed")
		return Reply{Text: e.msgs.GenericError}
	}
}

func normalizeWord(s string) string {
	return strings.Trim(cases.Fold().String(strings.TrimSpace(s)), " .!?,")
}

func wordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if n := normalizeWord(w); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}
