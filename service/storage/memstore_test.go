package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPresenceOfflineOnlyWhenLastConnectionLeaves(t *testing.T) {
	ctx := context.Background()
	s := NewMemPresenceStore(time.Minute)

	require.NoError(t, s.Connect(ctx, "u1", "c1"))
	require.NoError(t, s.Connect(ctx, "u1", "c2"))

	went, err := s.Disconnect(ctx, "u1", "c1")
	require.NoError(t, err)
	require.False(t, went, "one tab closing must not flip a multi-tab user offline")

	rec, err := s.Read(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, StatusOnline, rec.Status)

	went, err = s.Disconnect(ctx, "u1", "c2")
	require.NoError(t, err)
	require.True(t, went)

	// The transition reports exactly once.
	went, err = s.Disconnect(ctx, "u1", "c2")
	require.NoError(t, err)
	require.False(t, went)

	rec, err = s.Read(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, StatusOffline, rec.Status)
	require.False(t, rec.LastSeen.IsZero())
}

func TestPresenceDisconnectOfUntrackedConnection(t *testing.T) {
	ctx := context.Background()
	s := NewMemPresenceStore(time.Minute)

	require.NoError(t, s.Connect(ctx, "u1", "c1"))

	went, err := s.Disconnect(ctx, "u1", "ghost")
	require.NoError(t, err)
	require.False(t, went, "an untracked connection cannot take the user offline")

	rec, err := s.Read(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, StatusOnline, rec.Status)
}

func TestPresenceDisconnectAfterTTLLapse(t *testing.T) {
	ctx := context.Background()
	s := NewMemPresenceStore(60 * time.Second)
	now := time.Now()
	s.Clock = func() time.Time { return now }

	require.NoError(t, s.Connect(ctx, "u1", "c1"))
	now = now.Add(61 * time.Second)

	// The ttl already took the user offline; the late disconnect must not
	// report the transition a second time.
	went, err := s.Disconnect(ctx, "u1", "c1")
	require.NoError(t, err)
	require.False(t, went)
}

func TestPresenceLeaveRoomOnlyWhenFocusMatches(t *testing.T) {
	ctx := context.Background()
	s := NewMemPresenceStore(time.Minute)

	require.NoError(t, s.Connect(ctx, "u1", "c1"))
	require.NoError(t, s.EnterRoom(ctx, "u1", "roomA"))

	// A stale leave for an older focus must not clobber the current one.
	require.NoError(t, s.LeaveRoom(ctx, "u1", "roomB"))
	rec, _ := s.Read(ctx, "u1")
	require.Equal(t, StatusInChat, rec.Status)
	require.Equal(t, "roomA", rec.FocusedRoom)

	require.NoError(t, s.LeaveRoom(ctx, "u1", "roomA"))
	rec, _ = s.Read(ctx, "u1")
	require.Equal(t, StatusOnline, rec.Status)
	require.Empty(t, rec.FocusedRoom)
}

func TestPresenceExpiresWithoutHeartbeat(t *testing.T) {
	ctx := context.Background()
	s := NewMemPresenceStore(60 * time.Second)
	now := time.Now()
	s.Clock = func() time.Time { return now }

	require.NoError(t, s.Connect(ctx, "u1", "c1"))

	now = now.Add(30 * time.Second)
	require.NoError(t, s.Heartbeat(ctx, "u1"))

	now = now.Add(45 * time.Second)
	rec, err := s.Read(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, StatusOnline, rec.Status, "heartbeat must have refreshed the ttl")

	now = now.Add(61 * time.Second)
	rec, err = s.Read(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, StatusOffline, rec.Status)
}

func TestPresenceUnknownUserReadsOffline(t *testing.T) {
	s := NewMemPresenceStore(time.Minute)
	rec, err := s.Read(context.Background(), "ghost")
	require.NoError(t, err)
	require.Equal(t, StatusOffline, rec.Status)
	require.True(t, rec.LastSeen.IsZero())
}

func TestBusyLockSingleHolder(t *testing.T) {
	ctx := context.Background()
	s := NewMemBusyLockStore(time.Minute)

	ok, err := s.Acquire(ctx, "u1", "call_1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Acquire(ctx, "u1", "call_2")
	require.NoError(t, err)
	require.False(t, ok, "second call must lose admission")

	// Release with the wrong callId must not free the lock.
	ok, err = s.Release(ctx, "u1", "call_2")
	require.NoError(t, err)
	require.False(t, ok)
	holder, err := s.Holder(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "call_1", holder)

	ok, err = s.Release(ctx, "u1", "call_1")
	require.NoError(t, err)
	require.True(t, ok)
	holder, err = s.Holder(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, holder)
}

func TestBusyLockExpires(t *testing.T) {
	ctx := context.Background()
	s := NewMemBusyLockStore(100 * time.Second)
	now := time.Now()
	s.Clock = func() time.Time { return now }

	ok, _ := s.Acquire(ctx, "u1", "call_1")
	require.True(t, ok)

	now = now.Add(101 * time.Second)
	holder, err := s.Holder(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, holder, "expired lock must not block new calls")

	ok, _ = s.Acquire(ctx, "u1", "call_2")
	require.True(t, ok)
}

func TestCallIndexLookupAndExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemCallIndexStore(120 * time.Second)
	now := time.Now()
	s.Clock = func() time.Time { return now }

	entry := CallEntry{CallID: "call_1", CallerID: "a", CalleeID: "b", CallType: "video"}
	require.NoError(t, s.Put(ctx, entry))

	got, err := s.Get(ctx, "call_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "a", got.CallerID)
	require.Equal(t, "b", got.Peer("a"))
	require.True(t, got.Includes("b"))
	require.False(t, got.Includes("c"))

	got, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, got, "unknown call ids resolve to nil, not an error")

	now = now.Add(121 * time.Second)
	got, err = s.Get(ctx, "call_1")
	require.NoError(t, err)
	require.Nil(t, got)
}
