package auth

import (
	"context"

	"github.com/skywrite-dev/skywrite/store"
)

// FlowStore holds in-flight authorization attempts, keyed by flow
// identifier. Exactly one live record exists per attempt; records are
// consumed (taken) exactly once.
type FlowStore struct {
	rs store.RecordStore
}

func NewFlowStore(rs store.RecordStore) *FlowStore {
	return &FlowStore{rs: rs}
}

func (s *FlowStore) Save(ctx context.Context, flowID string, data []byte) error {
	return s.rs.Put(ctx, flowID, data)
}

// Take consumes the flow record. The first concurrent caller wins; everyone
// else gets [store.ErrNotFound].
func (s *FlowStore) Take(ctx context.Context, flowID string) ([]byte, error) {
	return s.rs.Take(ctx, flowID)
}

func (s *FlowStore) Delete(ctx context.Context, flowID string) error {
	return s.rs.Delete(ctx, flowID)
}

// SessionStore holds completed, renewable credentials, keyed by subject
// identifier. At most one record per subject: a new login overwrites.
type SessionStore struct {
	rs store.RecordStore
}

func NewSessionStore(rs store.RecordStore) *SessionStore {
	return &SessionStore{rs: rs}
}

func (s *SessionStore) Get(ctx context.Context, subject string) ([]byte, error) {
	return s.rs.Get(ctx, subject)
}

func (s *SessionStore) Save(ctx context.Context, subject string, data []byte) error {
	return s.rs.Put(ctx, subject, data)
}

func (s *SessionStore) Delete(ctx context.Context, subject string) error {
	return s.rs.Delete(ctx, subject)
}
