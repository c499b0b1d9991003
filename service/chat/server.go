package chat

import (
	"context"
	"time"

	"DuoChat/module/chat/call"
	"DuoChat/module/chat/message"
	"DuoChat/module/chat/model"
	"DuoChat/service/storage"
	"DuoChat/tools/safe"
	"DuoChat/tools/security"
)

// UserStore is the profile slice the gateway touches directly.
type UserStore interface {
	UpdateLastSeen(ctx context.Context, userID string, at time.Time) error
	GetUser(ctx context.Context, userID string) (*model.User, error)
	ListConversations(ctx context.Context, userID string, before time.Time, limit int) ([]model.Conversation, error)
	ListMessages(ctx context.Context, convID string, before time.Time, limit int) ([]model.Message, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	ListCallsForUser(ctx context.Context, userID string, limit int) ([]model.CallSession, error)
}

type Options struct {
	SendQueueSize int           // per-connection buffered frames
	PingInterval  time.Duration // server-initiated ping cadence
	WriteWait     time.Duration // per-frame write deadline
	ReadLimit     int64         // max inbound frame size in bytes
	JWT           security.Options
}

func (o *Options) fill() {
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 256
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 512 * 1024
	}
}

// Server ties the websocket transport to the registry, presence and the two
// coordinators. Everything arrives through the constructor; there is no
// process-global server instance.
type Server struct {
	opts       Options
	registry   *Registry
	dispatcher *Dispatcher
	presence   storage.PresenceStore
	delivery   *message.Coordinator
	calls      *call.Coordinator
	users      UserStore
}

func NewServer(opts Options, registry *Registry, presence storage.PresenceStore, delivery *message.Coordinator, calls *call.Coordinator, users UserStore) *Server {
	safe.MustNotNil(registry, "registry")
	safe.MustNotNil(presence, "presence store")
	safe.MustNotNil(delivery, "delivery coordinator")
	safe.MustNotNil(calls, "call coordinator")
	safe.MustNotNil(users, "user store")
	opts.fill()
	s := &Server{
		opts:       opts,
		registry:   registry,
		dispatcher: NewDispatcher(),
		presence:   presence,
		delivery:   delivery,
		calls:      calls,
		users:      users,
	}
	s.registerHandlers()
	return s
}

func (s *Server) Registry() *Registry { return s.registry }
