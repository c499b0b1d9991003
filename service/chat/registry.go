package chat

import (
	"sync"
)

// Registry is the in-process connection index: conn by ID, conns by user,
// room membership both ways. All four maps move under one mutex so a
// dropped connection releases everything in a single step and no lookup can
// observe a half-removed member.
type Registry struct {
	mu          sync.RWMutex
	byConn      map[string]*Client
	byUser      map[string]map[string]*Client // userID -> connID -> client
	rooms       map[string]map[string]*Client // roomID -> connID -> client
	roomsByConn map[string]map[string]bool    // connID -> roomID set

	fanout *Fanout
	// mirror, when set, repeats publishes to the other nodes. Empty room
	// means a full broadcast.
	mirror func(roomID, exceptUserID string, payload []byte)
}

func NewRegistry(fanout *Fanout) *Registry {
	return &Registry{
		byConn:      make(map[string]*Client),
		byUser:      make(map[string]map[string]*Client),
		rooms:       make(map[string]map[string]*Client),
		roomsByConn: make(map[string]map[string]bool),
		fanout:      fanout,
	}
}

// Add registers a freshly upgraded connection before it has a user.
func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn[c.ConnID] = c
	r.roomsByConn[c.ConnID] = make(map[string]bool)
}

// Bind attaches the user identity to the connection and joins the user's
// personal room, so direct events address the user ID like any other room.
func (r *Registry) Bind(connID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byConn[connID]
	if !ok {
		return
	}
	c.UserID = userID
	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]*Client)
		r.byUser[userID] = conns
	}
	conns[connID] = c
	r.joinLocked(c, userID)
}

func (r *Registry) joinLocked(c *Client, roomID string) {
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]*Client)
		r.rooms[roomID] = members
	}
	members[c.ConnID] = c
	if set, ok := r.roomsByConn[c.ConnID]; ok {
		set[roomID] = true
	}
}

func (r *Registry) Join(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byConn[connID]; ok {
		r.joinLocked(c, roomID)
	}
}

func (r *Registry) Leave(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, roomID)
}

func (r *Registry) leaveLocked(connID, roomID string) {
	if members, ok := r.rooms[roomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	if set, ok := r.roomsByConn[connID]; ok {
		delete(set, roomID)
	}
}

// Drop removes the connection from every index it appears in. Returns the
// client so the caller can run presence and call teardown with its state.
func (r *Registry) Drop(connID string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byConn[connID]
	if !ok {
		return nil
	}
	for roomID := range r.roomsByConn[connID] {
		r.leaveLocked(connID, roomID)
	}
	delete(r.roomsByConn, connID)
	if c.UserID != "" {
		if conns, ok := r.byUser[c.UserID]; ok {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(r.byUser, c.UserID)
			}
		}
	}
	delete(r.byConn, connID)
	return c
}

func (r *Registry) Get(connID string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byConn[connID]
}

// IsMember reports whether any of the user's connections currently sits in
// the room.
func (r *Registry) IsMember(userID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	for _, c := range members {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

// UserOnline reports whether the user holds at least one live connection on
// this node.
func (r *Registry) UserOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// SetMirror installs the cross-node repeater. Must be called before the
// first connection arrives.
func (r *Registry) SetMirror(m func(roomID, exceptUserID string, payload []byte)) {
	r.mirror = m
}

// Publish fans the payload out to every connection in the room. Empty rooms
// are a silent no-op locally; the mirror still carries the event to nodes
// that may host members.
func (r *Registry) Publish(roomID string, payload []byte) {
	r.fanout.Broadcast(r.members(roomID, ""), payload)
	if r.mirror != nil {
		r.mirror(roomID, "", payload)
	}
}

// PublishExcept skips the named user's own connections, for events like
// typing where echoing back to the origin is noise.
func (r *Registry) PublishExcept(roomID, exceptUserID string, payload []byte) {
	r.fanout.Broadcast(r.members(roomID, exceptUserID), payload)
	if r.mirror != nil {
		r.mirror(roomID, exceptUserID, payload)
	}
}

// Deliver applies a mirrored event from another node, local side only.
func (r *Registry) Deliver(roomID, exceptUserID string, payload []byte) {
	if roomID == "" {
		r.broadcastLocal(payload)
		return
	}
	r.fanout.Broadcast(r.members(roomID, exceptUserID), payload)
}

func (r *Registry) members(roomID, exceptUserID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]*Client, 0, len(members))
	for _, c := range members {
		if exceptUserID != "" && c.UserID == exceptUserID {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Broadcast sends the payload to every registered connection, bound or not.
func (r *Registry) Broadcast(payload []byte) {
	r.broadcastLocal(payload)
	if r.mirror != nil {
		r.mirror("", "", payload)
	}
}

func (r *Registry) broadcastLocal(payload []byte) {
	r.mu.RLock()
	conns := make([]*Client, 0, len(r.byConn))
	for _, c := range r.byConn {
		conns = append(conns, c)
	}
	r.mu.RUnlock()
	r.fanout.Broadcast(conns, payload)
}
