package controller

import (
	"context"
	"sync"
	"time"

	"github.com/turtacn/ertviz/pkg/errors"
)

// State is the persisted part of a session.  Replaying Query, then Value,
// then Selection reproduces the session.
type State struct {
	SessionID string        `json:"session_id"`
	Query     string        `json:"query"`
	Value     SelectorValue `json:"value"`
	Selection []string      `json:"selection"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StateStore persists session state.  Load returns a SESS_001 error for
// unknown sessions.
type StateStore interface {
	Load(ctx context.Context, sessionID string) (State, error)
	Save(ctx context.Context, st State) error
}

// MemoryStore keeps state in process.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[sessionID]
	if !ok {
		return State{}, errSessionNotFound(sessionID)
	}
	st.Selection = append([]string(nil), st.Selection...)
	return st, nil
}

func (m *MemoryStore) Save(_ context.Context, st State) error {
	st.Selection = append([]string(nil), st.Selection...)
	m.mu.Lock()
	m.states[st.SessionID] = st
	m.mu.Unlock()
	return nil
}

// KV is the key/value contract CacheStore needs.  The redis Cache satisfies
// it; Get must return a not-found error on a miss.
type KV interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// CacheStore keeps state in a KV under "session:<id>".
type CacheStore struct {
	kv  KV
	ttl time.Duration
}

// NewCacheStore returns a store whose entries expire ttl after the last
// save.  ttl 0 uses the KV default.
func NewCacheStore(kv KV, ttl time.Duration) *CacheStore {
	return &CacheStore{kv: kv, ttl: ttl}
}

func stateKey(id string) string { return "session:" + id }

func (c *CacheStore) Load(ctx context.Context, sessionID string) (State, error) {
	var st State
	if err := c.kv.Get(ctx, stateKey(sessionID), &st); err != nil {
		if errors.IsNotFound(err) {
			return State{}, errSessionNotFound(sessionID)
		}
		return State{}, err
	}
	return st, nil
}

func (c *CacheStore) Save(ctx context.Context, st State) error {
	return c.kv.Set(ctx, stateKey(st.SessionID), st, c.ttl)
}

func errSessionNotFound(id string) error {
	return errors.New(errors.CodeSessionNotFound, "session not found").WithDetail(id)
}
