package dialog

import (
	"context"
	"maps"
	"sync"
)

// cachedStates is a write-through cache in front of a StateStore. Entries
// are filled only from successful loads and saves, so a cold cache simply
// falls through to the store.
type cachedStates struct {
	next StateStore

	mu      sync.RWMutex
	records map[string]*Record
}

func newCachedStates(next StateStore) *cachedStates {
	return &cachedStates{next: next, records: make(map[string]*Record)}
}

func (c *cachedStates) LoadDialog(ctx context.Context, projectID string) (*Record, error) {
	c.mu.RLock()
	rec, ok := c.records[projectID]
	c.mu.RUnlock()
	if ok {
		return copyRecord(rec), nil
	}

	rec, err := c.next.LoadDialog(ctx, projectID)
	if err != nil || rec == nil {
		return rec, err
	}

	c.mu.Lock()
	c.records[projectID] = copyRecord(rec)
	c.mu.Unlock()
	return rec, nil
}

func (c *cachedStates) SaveDialog(ctx context.Context, rec *Record) error {
	if err := c.next.SaveDialog(ctx, rec); err != nil {
		c.Invalidate(rec.ProjectID)
		return err
	}

	c.mu.Lock()
	c.records[rec.ProjectID] = copyRecord(rec)
	c.mu.Unlock()
	return nil
}

// Invalidate drops the cached record of projectID.
func (c *cachedStates) Invalidate(projectID string) {
	c.mu.Lock()
	delete(c.records, projectID)
	c.mu.Unlock()
}

func copyRecord(r *Record) *Record {
	out := *r
	out.DraftAnswers = maps.Clone(r.DraftAnswers)
	return &out
}
