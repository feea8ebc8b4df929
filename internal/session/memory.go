package session

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/shre-db/linked-squad/go/assistant/internal/metrics"
	"github.com/shre-db/linked-squad/go/assistant/internal/state"
)

const memoryBackend = "memory"

// MemoryStore keeps encoded sessions in process with LRU eviction and an idle TTL.
// States are stored as JSON so callers never share mutable state with the store.
type MemoryStore struct {
	mu sync.Mutex

	ttl         time.Duration
	maxSessions int

	lru *list.List               // front=MRU
	m   map[string]*list.Element // id -> element(Value=*memoryItem)

	now func() time.Time
}

type memoryItem struct {
	id       string
	data     []byte
	lastUsed time.Time
}

// NewMemoryStore creates an in-process store. Zero values select the defaults.
func NewMemoryStore(ttl time.Duration, maxSessions int) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if maxSessions <= 0 {
		maxSessions = defaultCacheSize
	}
	return &MemoryStore{
		ttl:         ttl,
		maxSessions: maxSessions,
		lru:         list.New(),
		m:           map[string]*list.Element{},
		now:         time.Now,
	}
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*state.ConversationState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.evictExpiredLocked(s.now())
	e := s.m[sessionID]
	var data []byte
	if e != nil {
		it := e.Value.(*memoryItem)
		it.lastUsed = s.now()
		s.lru.MoveToFront(e)
		data = it.data
	}
	s.mu.Unlock()

	if data == nil {
		metrics.RecordSessionOp(memoryBackend, "load", nil)
		return nil, ErrSessionNotFound
	}
	st, err := decode(sessionID, data)
	metrics.RecordSessionOp(memoryBackend, "load", err)
	return st, err
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, st *state.ConversationState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(st)
	if err != nil {
		metrics.RecordSessionOp(memoryBackend, "save", err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.evictExpiredLocked(now)
	if e := s.m[st.SessionID]; e != nil {
		it := e.Value.(*memoryItem)
		it.data = data
		it.lastUsed = now
		s.lru.MoveToFront(e)
	} else {
		s.m[st.SessionID] = s.lru.PushFront(&memoryItem{id: st.SessionID, data: data, lastUsed: now})
	}
	s.evictOverLimitLocked()
	metrics.RecordSessionOp(memoryBackend, "save", nil)
	return nil
}

// Delete implements Store. Deleting an unknown id is not an error.
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.m[sessionID]; e != nil {
		s.deleteElemLocked(e)
	}
	metrics.RecordSessionOp(memoryBackend, "delete", nil)
	return nil
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked(s.now())
	return s.lru.Len()
}

func (s *MemoryStore) evictExpiredLocked(now time.Time) {
	for e := s.lru.Back(); e != nil; {
		prev := e.Prev()
		if now.Sub(e.Value.(*memoryItem).lastUsed) <= s.ttl {
			break
		}
		s.deleteElemLocked(e)
		metrics.SessionCacheEvictions.Inc()
		e = prev
	}
}

func (s *MemoryStore) evictOverLimitLocked() {
	for s.lru.Len() > s.maxSessions {
		e := s.lru.Back()
		if e == nil {
			return
		}
		s.deleteElemLocked(e)
		metrics.SessionCacheEvictions.Inc()
	}
}

func (s *MemoryStore) deleteElemLocked(e *list.Element) {
	delete(s.m, e.Value.(*memoryItem).id)
	s.lru.Remove(e)
}

// Close implements io.Closer. It drops every session.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Init()
	s.m = map[string]*list.Element{}
	return nil
}
