package storage

import (
	"context"
	"sync"
	"time"
)

// In-memory twins of the Redis stores. Same observable semantics, with an
// injectable clock so TTL lapses are testable without sleeping. Used by the
// coordinator tests and by single-node development runs without Redis.

type memPresence struct {
	rec      PresenceRecord
	conns    map[string]struct{}
	expireAt time.Time
}

type MemPresenceStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	users map[string]*memPresence

	Clock func() time.Time
}

func NewMemPresenceStore(ttl time.Duration) *MemPresenceStore {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &MemPresenceStore{
		ttl:   ttl,
		users: make(map[string]*memPresence),
		Clock: time.Now,
	}
}

// expired records read as offline; callers never see a stale entry.
func (s *MemPresenceStore) liveLocked(userID string) *memPresence {
	p := s.users[userID]
	if p == nil {
		return nil
	}
	if s.Clock().After(p.expireAt) {
		delete(s.users, userID)
		return nil
	}
	return p
}

func (s *MemPresenceStore) Connect(_ context.Context, userID, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Clock()
	p := s.liveLocked(userID)
	if p == nil {
		p = &memPresence{conns: make(map[string]struct{})}
		s.users[userID] = p
	}
	p.conns[connID] = struct{}{}
	p.rec.Status = StatusOnline
	p.rec.FocusedRoom = ""
	p.rec.LastSeen = now
	p.expireAt = now.Add(s.ttl)
	return nil
}

func (s *MemPresenceStore) EnterRoom(_ context.Context, userID, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Clock()
	p := s.liveLocked(userID)
	if p == nil {
		p = &memPresence{conns: make(map[string]struct{})}
		s.users[userID] = p
	}
	p.rec.Status = StatusInChat
	p.rec.FocusedRoom = roomID
	p.rec.LastSeen = now
	p.expireAt = now.Add(s.ttl)
	return nil
}

func (s *MemPresenceStore) LeaveRoom(_ context.Context, userID, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.liveLocked(userID)
	if p == nil || p.rec.FocusedRoom != roomID {
		return nil
	}
	now := s.Clock()
	p.rec.Status = StatusOnline
	p.rec.FocusedRoom = ""
	p.rec.LastSeen = now
	p.expireAt = now.Add(s.ttl)
	return nil
}

func (s *MemPresenceStore) Heartbeat(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.liveLocked(userID); p != nil {
		p.expireAt = s.Clock().Add(s.ttl)
	}
	return nil
}

func (s *MemPresenceStore) Disconnect(_ context.Context, userID, connID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.liveLocked(userID)
	if p == nil {
		return false, nil
	}
	// Only removing a tracked connection can trigger the transition.
	if _, ok := p.conns[connID]; !ok {
		return false, nil
	}
	delete(p.conns, connID)
	if len(p.conns) > 0 {
		return false, nil
	}
	now := s.Clock()
	p.rec.Status = StatusOffline
	p.rec.FocusedRoom = ""
	p.rec.LastSeen = now
	p.expireAt = now.Add(s.ttl)
	return true, nil
}

func (s *MemPresenceStore) Read(_ context.Context, userID string) (PresenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.liveLocked(userID)
	if p == nil {
		return PresenceRecord{Status: StatusOffline}, nil
	}
	return p.rec, nil
}

type memLock struct {
	callID   string
	expireAt time.Time
}

type MemBusyLockStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	locks map[string]memLock

	Clock func() time.Time
}

func NewMemBusyLockStore(ttl time.Duration) *MemBusyLockStore {
	if ttl <= 0 {
		ttl = 100 * time.Second
	}
	return &MemBusyLockStore{
		ttl:   ttl,
		locks: make(map[string]memLock),
		Clock: time.Now,
	}
}

func (s *MemBusyLockStore) Acquire(_ context.Context, userID, callID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Clock()
	if l, ok := s.locks[userID]; ok && now.Before(l.expireAt) {
		return false, nil
	}
	s.locks[userID] = memLock{callID: callID, expireAt: now.Add(s.ttl)}
	return true, nil
}

func (s *MemBusyLockStore) Release(_ context.Context, userID, callID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok || l.callID != callID {
		return false, nil
	}
	delete(s.locks, userID)
	return true, nil
}

func (s *MemBusyLockStore) Holder(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok || s.Clock().After(l.expireAt) {
		return "", nil
	}
	return l.callID, nil
}

type memCall struct {
	entry    CallEntry
	expireAt time.Time
}

type MemCallIndexStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	calls map[string]memCall

	Clock func() time.Time
}

func NewMemCallIndexStore(ttl time.Duration) *MemCallIndexStore {
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	return &MemCallIndexStore{
		ttl:   ttl,
		calls: make(map[string]memCall),
		Clock: time.Now,
	}
}

func (s *MemCallIndexStore) Put(_ context.Context, entry CallEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[entry.CallID] = memCall{entry: entry, expireAt: s.Clock().Add(s.ttl)}
	return nil
}

func (s *MemCallIndexStore) Get(_ context.Context, callID string) (*CallEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok || s.Clock().After(c.expireAt) {
		return nil, nil
	}
	entry := c.entry
	return &entry, nil
}

func (s *MemCallIndexStore) Delete(_ context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.calls, callID)
	return nil
}
