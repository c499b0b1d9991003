package storage

import (
	"context"
	"time"
)

// Narrow per-concern store interfaces. One physical Redis backs all three in
// production, but presence, admission control and call routing are faked
// independently in tests.

type PresenceStatus string

const (
	StatusOffline PresenceStatus = "offline"
	StatusOnline  PresenceStatus = "online"
	StatusInChat  PresenceStatus = "in_chat"
)

// Reachable reports whether the status counts as a live peer.
func (s PresenceStatus) Reachable() bool {
	return s == StatusOnline || s == StatusInChat
}

// PresenceRecord is the per-user liveness snapshot. LastSeen is zero while
// the user has never been observed or the record expired without a clean
// disconnect.
type PresenceRecord struct {
	Status      PresenceStatus
	FocusedRoom string
	LastSeen    time.Time
}

type PresenceStore interface {
	// Connect adds connID to the user's connection set and marks ONLINE.
	Connect(ctx context.Context, userID, connID string) error
	// EnterRoom marks IN_CHAT focused on roomID.
	EnterRoom(ctx context.Context, userID, roomID string) error
	// LeaveRoom reverts to ONLINE only if the focus still matches roomID.
	LeaveRoom(ctx context.Context, userID, roomID string) error
	// Heartbeat refreshes the TTL without touching state.
	Heartbeat(ctx context.Context, userID string) error
	// Disconnect removes connID; reports true exactly once, when the last
	// connection went away and the user flipped to OFFLINE.
	Disconnect(ctx context.Context, userID, connID string) (wentOffline bool, err error)
	// Read never errors on unknown users: they are OFFLINE with empty LastSeen.
	Read(ctx context.Context, userID string) (PresenceRecord, error)
}

// BusyLockStore is the sole call-admission primitive: at most one active
// callID per user, TTL-bound as a liveness safety net.
type BusyLockStore interface {
	// Acquire takes the user's lock for callID; false when already held.
	Acquire(ctx context.Context, userID, callID string) (bool, error)
	// Release frees the lock only while it still references callID.
	Release(ctx context.Context, userID, callID string) (bool, error)
	// Holder returns the active callID, or "" when the user is free.
	Holder(ctx context.Context, userID string) (string, error)
}

// CallEntry is the authoritative callId -> participant-pair mapping that
// both signaling relay and cleanup consult.
type CallEntry struct {
	CallID   string `json:"call_id"`
	CallerID string `json:"caller_id"`
	CalleeID string `json:"callee_id"`
	CallType string `json:"call_type"`
}

// Includes reports whether userID is one of the two parties.
func (e *CallEntry) Includes(userID string) bool {
	return e != nil && (e.CallerID == userID || e.CalleeID == userID)
}

// Peer returns the other party, or "" when userID is not a participant.
func (e *CallEntry) Peer(userID string) string {
	switch {
	case e == nil:
		return ""
	case e.CallerID == userID:
		return e.CalleeID
	case e.CalleeID == userID:
		return e.CallerID
	default:
		return ""
	}
}

type CallIndexStore interface {
	Put(ctx context.Context, entry CallEntry) error
	// Get returns nil (no error) for unknown or expired call IDs.
	Get(ctx context.Context, callID string) (*CallEntry, error)
	Delete(ctx context.Context, callID string) error
}
