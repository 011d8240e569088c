// Package memory is an in-process audit.Store for tests and single-node development.
package memory

import (
	"context"
	"sync"

	id "docket/pkg/domain"
	audit "docket/pkg/platform/audit"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	records []audit.Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}

func (s *InMemoryStore) Append(ctx context.Context, rec *audit.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := audit.GenesisHash
	if n := len(s.records); n > 0 {
		prev = s.records[n-1].Hash
	}
	audit.Seal(rec, prev)
	rec.Seq = int64(len(s.records) + 1)
	s.records = append(s.records, *rec)
	return nil
}

// ListRecent returns up to limit records, newest first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.records, limit, func(audit.Record) bool { return true }), nil
}

func (s *InMemoryStore) ListByActor(_ context.Context, actor id.UserID, limit int) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.records, limit, func(r audit.Record) bool {
		return r.ActorID != nil && *r.ActorID == actor
	}), nil
}

func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Record{}, s.records...), nil
}

func newestFirst(records []audit.Record, limit int, keep func(audit.Record) bool) []audit.Record {
	out := []audit.Record{}
	for i := len(records) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if keep(records[i]) {
			out = append(out, records[i])
		}
	}
	return out
}
