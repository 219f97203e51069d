// Package redisstore implements database.Store on Redis for deployments that
// keep dialog state in a shared key-value store instead of SQL.
//
// Layout (all keys share a configurable prefix):
//
//	project:<id>        JSON Project
//	chat:<chat_id>      project id bound to the chat
//	dialog:<id>         JSON dialog record
//	dialogs:active      set of project ids with a dialog waiting on its user
//	cards:<id>          hash card type -> JSON Card
//	messages:<chat_id>  sorted set of JSON messages scored by timestamp
//	messages:chats      set of chat ids that have history
//	messages:seq        message id counter
package redisstore

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mcards/prismabot/internal/database"
	"github.com/mcards/prismabot/internal/dialog"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "prisma:"

// Store is a Redis-backed database.Store.
type Store struct {
	rdb    *redis.Client
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

var _ database.Store = (*Store)(nil)

type dialogDoc struct {
	ProjectID       string            `json:"project_id"`
	CurrentCard     string            `json:"current_card"`
	CurrentQuestion int               `json:"current_question"`
	State           string            `json:"state"`
	DraftAnswers    map[string]string `json:"draft_answers"`
	UpdatedAt       time.Time         `json:"updated_at"`
	NudgedAt        time.Time         `json:"nudged_at"`
}

// New connects to redisURL (redis://host:port/db) and verifies the
// connection.
func New(ctx context.Context, redisURL, prefix string, logger *slog.Logger) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewWithClient(rdb, prefix, logger)
	s.logger.Info("Connected to Redis", "addr", opt.Addr, "db", opt.DB)
	return s, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client, prefix string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		rdb:    rdb,
		prefix: prefix,
		logger: logger.With("component", "redis_store"),
		now:    time.Now,
	}
}

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (s *Store) projectKey(id string) string { return s.key("project", id) }
func (s *Store) chatKey(chatID int64) string { return s.key("chat", strconv.FormatInt(chatID, 10)) }
func (s *Store) dialogKey(id string) string  { return s.key("dialog", id) }
func (s *Store) activeKey() string           { return s.key("dialogs", "active") }
func (s *Store) cardsKey(id string) string   { return s.key("cards", id) }
func (s *Store) chatsKey() string            { return s.key("messages", "chats") }
func (s *Store) msgSeqKey() string           { return s.key("messages", "seq") }

func (s *Store) historyKey(chatID int64) string {
	return s.key("messages", strconv.FormatInt(chatID, 10))
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, dialog.ErrStoreUnavailable, err)
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	if err := s.rdb.Close(); err != nil {
		s.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	s.logger.Info("Redis connection closed")
	return nil
}

// LoadDialog returns the project's dialog, or nil when there is none.
func (s *Store) LoadDialog(ctx context.Context, projectID string) (*dialog.Record, error) {
	raw, err := s.rdb.Get(ctx, s.dialogKey(projectID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Redis GET dialog failed", "project_id", projectID, "error", err)
		return nil, unavailable("load dialog", err)
	}
	return decodeDialog(projectID, raw)
}

func decodeDialog(projectID string, raw []byte) (*dialog.Record, error) {
	var doc dialogDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: project %s: %v", dialog.ErrMalformedState, projectID, err)
	}
	if doc.DraftAnswers == nil {
		doc.DraftAnswers = map[string]string{}
	}
	return &dialog.Record{
		ProjectID:       doc.ProjectID,
		CurrentCard:     doc.CurrentCard,
		CurrentQuestion: doc.CurrentQuestion,
		State:           doc.State,
		DraftAnswers:    doc.DraftAnswers,
		UpdatedAt:       doc.UpdatedAt.UTC(),
		NudgedAt:        doc.NudgedAt.UTC(),
	}, nil
}

func encodeDialog(rec *dialog.Record) ([]byte, error) {
	return json.Marshal(dialogDoc{
		ProjectID:       rec.ProjectID,
		CurrentCard:     rec.CurrentCard,
		CurrentQuestion: rec.CurrentQuestion,
		State:           rec.State,
		DraftAnswers:    rec.DraftAnswers,
		UpdatedAt:       rec.UpdatedAt.UTC(),
		NudgedAt:        rec.NudgedAt.UTC(),
	})
}

func isActive(state string) bool {
	st, err := dialog.ParseState(state)
	return err == nil && st.Active()
}

// SaveDialog replaces the dialog and keeps the active set in sync.
func (s *Store) SaveDialog(ctx context.Context, rec *dialog.Record) error {
	if rec == nil || rec.ProjectID == "" {
		return errors.New("cannot save dialog without project id")
	}
	raw, err := encodeDialog(rec)
	if err != nil {
		return fmt.Errorf("failed to encode dialog: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.dialogKey(rec.ProjectID), raw, 0)
		if isActive(rec.State) {
			pipe.SAdd(ctx, s.activeKey(), rec.ProjectID)
		} else {
			pipe.SRem(ctx, s.activeKey(), rec.ProjectID)
		}
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Redis save dialog failed", "project_id", rec.ProjectID, "error", err)
		return unavailable("save dialog", err)
	}
	return nil
}

// SaveCard upserts the card of (project, type), keeping its id and
// creation time across re-confirmations.
func (s *Store) SaveCard(ctx context.Context, card *dialog.FinishedCard) error {
	if card == nil {
		return errors.New("cannot save nil card")
	}
	content, err := json.Marshal(card.Answers)
	if err != nil {
		return fmt.Errorf("failed to encode card answers: %w", err)
	}

	completedAt := card.CompletedAt.UTC()
	if completedAt.IsZero() {
		completedAt = s.now().UTC()
	}
	row := database.Card{
		ID:        uuid.NewString(),
		ProjectID: card.ProjectID,
		Type:      card.CardType,
		Stage:     card.Stage,
		Content:   string(content),
		FillRate:  100,
		CreatedAt: completedAt,
		UpdatedAt: completedAt,
	}

	key := s.cardsKey(card.ProjectID)
	existing, err := s.rdb.HGet(ctx, key, card.CardType).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		s.logger.ErrorContext(ctx, "Redis HGET card failed", "project_id", card.ProjectID, "error", err)
		return unavailable("save card", err)
	default:
		var prev database.Card
		if json.Unmarshal(existing, &prev) == nil && prev.ID != "" {
			row.ID = prev.ID
			row.CreatedAt = prev.CreatedAt
		}
	}

	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode card: %w", err)
	}
	if err := s.rdb.HSet(ctx, key, card.CardType, raw).Err(); err != nil {
		s.logger.ErrorContext(ctx, "Redis HSET card failed", "project_id", card.ProjectID, "error", err)
		return unavailable("save card", err)
	}

	s.logger.InfoContext(ctx, "Card saved", "project_id", card.ProjectID, "card_type", card.CardType)
	return nil
}

// ProjectByChat returns the project bound to chatID.
func (s *Store) ProjectByChat(ctx context.Context, chatID int64) (string, error) {
	id, err := s.rdb.Get(ctx, s.chatKey(chatID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", dialog.ErrProjectNotFound
	}
	if err != nil {
		return "", unavailable("project by chat", err)
	}
	return id, nil
}

// IntakeThread returns the project's intake thread.
func (s *Store) IntakeThread(ctx context.Context, projectID string) (int, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return 0, err
	}
	return p.IntakeThreadID, nil
}

// GetProject returns a project by id.
func (s *Store) GetProject(ctx context.Context, projectID string) (*database.Project, error) {
	p, err := s.getProject(ctx, s.rdb, projectID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, dialog.ErrProjectNotFound
	}
	return p, nil
}

// getter is the read side shared by *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) getProject(ctx context.Context, c getter, projectID string) (*database.Project, error) {
	raw, err := c.Get(ctx, s.projectKey(projectID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get project", err)
	}
	var p database.Project
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("project %s is unreadable: %w", projectID, err)
	}
	return &p, nil
}

// LinkProject creates or updates a project and binds it to its chat,
// releasing whatever project held the chat before.
func (s *Store) LinkProject(ctx context.Context, project *database.Project) error {
	if project == nil || project.ID == "" {
		return errors.New("cannot link project without id")
	}
	if project.ChatID == 0 {
		return errors.New("project must have a non-zero chat_id")
	}

	now := s.now().UTC()
	chatKey := s.chatKey(project.ChatID)

	txf := func(tx *redis.Tx) error {
		prev, err := s.getProject(ctx, tx, project.ID)
		if err != nil {
			return err
		}
		holder, err := tx.Get(ctx, chatKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return unavailable("link project", err)
		}

		var released *database.Project
		if holder != "" && holder != project.ID {
			if released, err = s.getProject(ctx, tx, holder); err != nil {
				return err
			}
		}

		project.CreatedAt = now
		if prev != nil {
			project.CreatedAt = prev.CreatedAt
			if project.Name == "" {
				project.Name = prev.Name
			}
		}
		project.UpdatedAt = now

		raw, err := json.Marshal(project)
		if err != nil {
			return fmt.Errorf("failed to encode project: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if prev != nil && prev.ChatID != 0 && prev.ChatID != project.ChatID {
				pipe.Del(ctx, s.chatKey(prev.ChatID))
			}
			if released != nil {
				released.ChatID = 0
				released.IntakeThreadID = 0
				released.UpdatedAt = now
				if rawReleased, err := json.Marshal(released); err == nil {
					pipe.Set(ctx, s.projectKey(released.ID), rawReleased, 0)
				}
			}
			pipe.Set(ctx, s.projectKey(project.ID), raw, 0)
			pipe.Set(ctx, chatKey, project.ID, 0)
			return nil
		})
		return err
	}

	if err := s.rdb.Watch(ctx, txf, s.projectKey(project.ID), chatKey); err != nil {
		s.logger.ErrorContext(ctx, "Redis link project failed", "project_id", project.ID, "error", err)
		if errors.Is(err, dialog.ErrStoreUnavailable) {
			return err
		}
		return unavailable("link project", err)
	}

	s.logger.InfoContext(ctx, "Project linked",
		"project_id", project.ID, "chat_id", project.ChatID, "thread_id", project.IntakeThreadID)
	return nil
}

// ListCards returns the project's cards, oldest first.
func (s *Store) ListCards(ctx context.Context, projectID string) ([]*database.Card, error) {
	raw, err := s.rdb.HGetAll(ctx, s.cardsKey(projectID)).Result()
	if err != nil {
		return nil, unavailable("list cards", err)
	}

	cards := make([]*database.Card, 0, len(raw))
	for cardType, value := range raw {
		var c database.Card
		if err := json.Unmarshal([]byte(value), &c); err != nil {
			s.logger.WarnContext(ctx, "Skipping unreadable card", "project_id", projectID, "card_type", cardType, "error", err)
			continue
		}
		cards = append(cards, &c)
	}
	slices.SortFunc(cards, func(a, b *database.Card) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Type, b.Type)
	})
	return cards, nil
}

// ActiveDialogs returns every dialog in the active set.
func (s *Store) ActiveDialogs(ctx context.Context) ([]*dialog.Record, error) {
	ids, err := s.rdb.SMembers(ctx, s.activeKey()).Result()
	if err != nil {
		return nil, unavailable("active dialogs", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.dialogKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("active dialogs", err)
	}

	records := make([]*dialog.Record, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decodeDialog(ids[i], []byte(str))
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping unreadable dialog", "project_id", ids[i], "error", err)
			continue
		}
		if isActive(rec.State) {
			records = append(records, rec)
		}
	}
	slices.SortFunc(records, func(a, b *dialog.Record) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	return records, nil
}

// MarkNudged stamps NudgedAt unless the dialog changed concurrently.
func (s *Store) MarkNudged(ctx context.Context, projectID string, at time.Time) error {
	key := s.dialogKey(projectID)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		rec, err := decodeDialog(projectID, raw)
		if err != nil {
			return err
		}
		rec.NudgedAt = at.UTC()
		updated, err := encodeDialog(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}, key)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		s.logger.DebugContext(ctx, "Dialog changed while marking nudge", "project_id", projectID)
		return nil
	case err != nil:
		return unavailable("mark nudged", err)
	}
	return nil
}

// SaveMessage appends a message to the chat history.
func (s *Store) SaveMessage(ctx context.Context, message *database.Message) error {
	if message == nil {
		return errors.New("cannot save nil message")
	}
	if message.ChatID == 0 {
		return errors.New("message must have a non-zero chat_id")
	}
	if message.Content == "" {
		return errors.New("message must have non-empty content")
	}
	if message.Role == "" {
		message.Role = database.RoleUser
	}

	now := s.now().UTC()
	message.CreatedAt = now
	if message.Timestamp.IsZero() {
		message.Timestamp = now
	}
	message.Timestamp = message.Timestamp.UTC()

	id, err := s.rdb.Incr(ctx, s.msgSeqKey()).Result()
	if err != nil {
		return unavailable("save message", err)
	}
	message.ID = id

	raw, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.historyKey(message.ChatID), redis.Z{
			Score:  float64(message.Timestamp.UnixMilli()),
			Member: raw,
		})
		pipe.SAdd(ctx, s.chatsKey(), message.ChatID)
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Redis save message failed", "chat_id", message.ChatID, "error", err)
		return unavailable("save message", err)
	}
	return nil
}

// GetRecentMessages returns the latest messages of a chat, oldest first.
func (s *Store) GetRecentMessages(ctx context.Context, chatID int64, limit int) ([]*database.Message, error) {
	if chatID == 0 {
		return nil, errors.New("chat_id cannot be zero")
	}
	if limit <= 0 {
		limit = 20
	}

	raw, err := s.rdb.ZRevRange(ctx, s.historyKey(chatID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, unavailable("recent messages", err)
	}

	messages := make([]*database.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var m database.Message
		if err := json.Unmarshal([]byte(raw[i]), &m); err != nil {
			s.logger.WarnContext(ctx, "Skipping unreadable message", "chat_id", chatID, "error", err)
			continue
		}
		messages = append(messages, &m)
	}
	return messages, nil
}

// DeleteMessagesBefore drops history older than before across all chats.
func (s *Store) DeleteMessagesBefore(ctx context.Context, before time.Time) (int64, error) {
	chats, err := s.rdb.SMembers(ctx, s.chatsKey()).Result()
	if err != nil {
		return 0, unavailable("delete messages", err)
	}

	upper := "(" + strconv.FormatInt(before.UTC().UnixMilli(), 10)
	var total int64
	for _, chat := range chats {
		n, err := s.rdb.ZRemRangeByScore(ctx, s.key("messages", chat), "-inf", upper).Result()
		if err != nil {
			return total, unavailable("delete messages", err)
		}
		total += n
	}

	s.logger.InfoContext(ctx, "Deleted old messages", "count", total, "before", before)
	return total, nil
}

// RunMaintenance prunes the active set of dialogs that are gone or no
// longer waiting on their user.
func (s *Store) RunMaintenance(ctx context.Context) error {
	ids, err := s.rdb.SMembers(ctx, s.activeKey()).Result()
	if err != nil {
		return unavailable("maintenance", err)
	}

	var stale []any
	for _, id := range ids {
		raw, err := s.rdb.Get(ctx, s.dialogKey(id)).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			stale = append(stale, id)
		case err != nil:
			return unavailable("maintenance", err)
		default:
			rec, err := decodeDialog(id, raw)
			if err != nil || !isActive(rec.State) {
				stale = append(stale, id)
			}
		}
	}

	if len(stale) > 0 {
		if err := s.rdb.SRem(ctx, s.activeKey(), stale...).Err(); err != nil {
			return unavailable("maintenance", err)
		}
	}
	s.logger.InfoContext(ctx, "Redis maintenance completed", "active", len(ids)-len(stale), "pruned", len(stale))
	return nil
}
