package model

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is the in-memory twin of MongoStore, used by coordinator tests
// and infrastructure-free development runs. Err, when set, makes every
// operation fail — the hook for exercising the no-fan-out-on-store-failure
// contract.
type MemStore struct {
	mu            sync.Mutex
	messages      map[string]*Message
	conversations map[string]*Conversation
	calls         map[string]*CallSession
	users         map[string]*User

	Err error
}

func NewMemStore() *MemStore {
	return &MemStore{
		messages:      make(map[string]*Message),
		conversations: make(map[string]*Conversation),
		calls:         make(map[string]*CallSession),
		users:         make(map[string]*User),
	}
}

// SeedConversation installs a conversation for tests.
func (s *MemStore) SeedConversation(conv *Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv.UnreadCount == nil {
		conv.UnreadCount = make(map[string]int64)
	}
	s.conversations[conv.ID] = conv
}

// Message returns a copy of the stored message for assertions.
func (s *MemStore) Message(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// CallCount reports how many call sessions were persisted.
func (s *MemStore) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Call returns a copy of the stored call session for assertions.
func (s *MemStore) Call(id string) (CallSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return CallSession{}, false
	}
	return *c, true
}

func (s *MemStore) InsertMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	cp := *msg
	s.messages[msg.ID] = &cp
	return nil
}

func (s *MemStore) ListMessages(_ context.Context, convID string, before time.Time, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []Message
	for _, m := range s.messages {
		if m.ConversationID != convID {
			continue
		}
		if !before.IsZero() && !m.Timestamp.Before(before) {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) PromoteConversationRead(_ context.Context, convID, receiverID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var ids []string
	for _, m := range s.messages {
		if m.ConversationID == convID && m.Receiver == receiverID &&
			m.Status.Rank() >= 0 && m.Status.Rank() < StatusRead.Rank() {
			m.Status = StatusRead
			ids = append(ids, m.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemStore) PromotePendingDelivered(_ context.Context, receiverID string) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	byConv := make(map[string][]string)
	for _, m := range s.messages {
		if m.Receiver == receiverID && m.Status == StatusSent {
			m.Status = StatusDelivered
			byConv[m.ConversationID] = append(byConv[m.ConversationID], m.ID)
		}
	}
	if len(byConv) == 0 {
		return nil, nil
	}
	for _, ids := range byConv {
		sort.Strings(ids)
	}
	return byConv, nil
}

func (s *MemStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	conv, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	cp := *conv
	cp.UnreadCount = make(map[string]int64, len(conv.UnreadCount))
	for k, v := range conv.UnreadCount {
		cp.UnreadCount[k] = v
	}
	return &cp, nil
}

func (s *MemStore) ListConversations(_ context.Context, userID string, before time.Time, limit int) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []Conversation
	for _, c := range s.conversations {
		if !c.HasParticipant(userID) {
			continue
		}
		if !before.IsZero() && !c.UpdatedAt.Before(before) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) ApplyLastMessage(_ context.Context, convID, msgID, preview string, ts time.Time, senderID, receiverID string, incReceiver bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	conv, ok := s.conversations[convID]
	if !ok {
		return nil
	}
	conv.LastMessageID = msgID
	conv.LastMessagePreview = preview
	conv.UpdatedAt = ts
	if conv.UnreadCount == nil {
		conv.UnreadCount = make(map[string]int64)
	}
	conv.UnreadCount[senderID] = 0
	if incReceiver {
		conv.UnreadCount[receiverID]++
	}
	return nil
}

func (s *MemStore) ResetUnread(_ context.Context, convID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if conv, ok := s.conversations[convID]; ok {
		if conv.UnreadCount == nil {
			conv.UnreadCount = make(map[string]int64)
		}
		conv.UnreadCount[userID] = 0
	}
	return nil
}

func (s *MemStore) InsertCall(_ context.Context, call *CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	cp := *call
	s.calls[call.ID] = &cp
	return nil
}

func (s *MemStore) MarkCallConnected(_ context.Context, callID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	if c, ok := s.calls[callID]; ok && c.ConnectedAt == nil {
		t := at
		c.ConnectedAt = &t
		return true, nil
	}
	return false, nil
}

func (s *MemStore) MarkCallEnded(_ context.Context, callID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	c, ok := s.calls[callID]
	if !ok || c.EndedAt != nil {
		return nil
	}
	t := at
	c.EndedAt = &t
	if c.ConnectedAt != nil {
		c.DurationSec = int64(at.Sub(*c.ConnectedAt) / time.Second)
	}
	return nil
}

func (s *MemStore) ListCallsForUser(_ context.Context, userID string, limit int) ([]CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []CallSession
	for _, c := range s.calls {
		if c.CallerID == userID || c.CalleeID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) UpdateLastSeen(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	u, ok := s.users[userID]
	if !ok {
		u = &User{ID: userID}
		s.users[userID] = u
	}
	u.LastSeen = at
	return nil
}

func (s *MemStore) GetUser(_ context.Context, userID string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}
