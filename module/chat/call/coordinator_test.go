package call

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"DuoChat/module/chat/model"
	"DuoChat/service/storage"
	"DuoChat/tools/errs"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type wireFrame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

type fakeRooms struct {
	mu   sync.Mutex
	pubs map[string][]wireFrame
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{pubs: make(map[string][]wireFrame)}
}

func (f *fakeRooms) Publish(roomID string, payload []byte) {
	var fr wireFrame
	if err := json.Unmarshal(payload, &fr); err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubs[roomID] = append(f.pubs[roomID], fr)
}

func (f *fakeRooms) events(roomID, event string) []wireFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []wireFrame
	for _, fr := range f.pubs[roomID] {
		if fr.Event == event {
			out = append(out, fr)
		}
	}
	return out
}

type callRig struct {
	co       *Coordinator
	db       *model.MemStore
	presence *storage.MemPresenceStore
	locks    *storage.MemBusyLockStore
	index    *storage.MemCallIndexStore
	rooms    *fakeRooms
}

func newCallRig(t *testing.T, ring time.Duration) *callRig {
	t.Helper()
	rig := &callRig{
		db:       model.NewMemStore(),
		presence: storage.NewMemPresenceStore(time.Minute),
		locks:    storage.NewMemBusyLockStore(time.Hour),
		index:    storage.NewMemCallIndexStore(time.Hour),
		rooms:    newFakeRooms(),
	}
	co, err := NewCoordinator(Config{RingTimeout: ring, LockTTL: 3 * ring},
		rig.db, rig.presence, rig.locks, rig.index, rig.rooms)
	require.NoError(t, err)
	rig.co = co
	return rig
}

func (rig *callRig) holder(t *testing.T, userID string) string {
	t.Helper()
	h, err := rig.locks.Holder(context.Background(), userID)
	require.NoError(t, err)
	return h
}

func TestConfigRejectsShortLockTTL(t *testing.T) {
	_, err := NewCoordinator(Config{RingTimeout: 30 * time.Second, LockTTL: 60 * time.Second},
		model.NewMemStore(), storage.NewMemPresenceStore(0), storage.NewMemBusyLockStore(0),
		storage.NewMemCallIndexStore(0), newFakeRooms())
	require.Error(t, err)
}

func TestOfferToUnreachableCallee(t *testing.T) {
	rig := newCallRig(t, time.Minute)

	callID, err := rig.co.Offer(context.Background(), OfferInput{
		CallerID: "alice", CalleeID: "bob", CallType: "audio",
	})
	require.NoError(t, err)
	require.Empty(t, callID)

	unreachable := rig.rooms.events("alice", "call_unreachable")
	require.Len(t, unreachable, 1)
	require.NotEmpty(t, unreachable[0].Data["reason"])

	require.Zero(t, rig.db.CallCount(), "a rejected offer leaves no history")
	require.Empty(t, rig.holder(t, "alice"))
	require.Empty(t, rig.holder(t, "bob"))
}

type failingPresence struct{ err error }

func (f failingPresence) Read(context.Context, string) (storage.PresenceRecord, error) {
	return storage.PresenceRecord{}, f.err
}

func TestOfferSurfacesPresenceReadFailure(t *testing.T) {
	rooms := newFakeRooms()
	db := model.NewMemStore()
	co, err := NewCoordinator(Config{RingTimeout: time.Minute, LockTTL: 3 * time.Minute},
		db, failingPresence{err: errors.New("i/o timeout")},
		storage.NewMemBusyLockStore(0), storage.NewMemCallIndexStore(0), rooms)
	require.NoError(t, err)

	callID, err := co.Offer(context.Background(), OfferInput{
		CallerID: "alice", CalleeID: "bob",
	})
	require.Empty(t, callID)
	require.Equal(t, errs.CodeTransientStore, errs.CodeOf(err))

	// A store blip is not a verdict on the callee.
	require.Empty(t, rooms.events("alice", "call_unreachable"))
	require.Zero(t, db.CallCount())
}

func TestOfferToBusyCalleeLeavesNoTrace(t *testing.T) {
	rig := newCallRig(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, rig.presence.Connect(ctx, "bob", "tab1"))
	ok, err := rig.locks.Acquire(ctx, "bob", "call_other")
	require.NoError(t, err)
	require.True(t, ok)

	callID, err := rig.co.Offer(ctx, OfferInput{CallerID: "alice", CalleeID: "bob"})
	require.NoError(t, err)
	require.Empty(t, callID)

	busy := rig.rooms.events("alice", "call_busy")
	require.Len(t, busy, 1)
	require.NotEmpty(t, busy[0].Data["reason"])

	require.Zero(t, rig.db.CallCount())
	require.Equal(t, "call_other", rig.holder(t, "bob"), "the existing call keeps its lock")
	require.Empty(t, rig.holder(t, "alice"))
	require.Empty(t, rig.rooms.events("bob", "call_offer_relay"))
}

func TestOfferAnswerEndLifecycle(t *testing.T) {
	rig := newCallRig(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, rig.presence.Connect(ctx, "bob", "tab1"))

	callID, err := rig.co.Offer(ctx, OfferInput{
		CallerID: "alice", CalleeID: "bob", CallType: "video",
		Offer: map[string]any{"type": "offer", "sdp": "v=0"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, callID)

	relayed := rig.rooms.events("bob", "call_offer_relay")
	require.Len(t, relayed, 1)
	require.Equal(t, callID, relayed[0].Data["callId"])
	require.Equal(t, "alice", relayed[0].Data["callerId"])
	require.Equal(t, "video", relayed[0].Data["callType"])

	require.Equal(t, callID, rig.holder(t, "alice"))
	require.Equal(t, callID, rig.holder(t, "bob"))
	entry, err := rig.index.Get(ctx, callID)
	require.NoError(t, err)
	require.NotNil(t, entry)

	require.True(t, rig.co.Answer(ctx, "bob", callID, map[string]any{"type": "answer"}))
	require.Len(t, rig.rooms.events("alice", "call_answer_relay"), 1)
	session, ok := rig.db.Call(callID)
	require.True(t, ok)
	require.NotNil(t, session.ConnectedAt)

	// A duplicate accept is dropped, not relayed again.
	require.False(t, rig.co.Answer(ctx, "bob", callID, map[string]any{"type": "answer"}))
	require.Len(t, rig.rooms.events("alice", "call_answer_relay"), 1)

	rig.co.Ice(ctx, "alice", callID, map[string]any{"candidate": "c0"})
	require.Len(t, rig.rooms.events("bob", "call_ice_relay"), 1)

	rig.co.MediaState(ctx, "bob", callID, "video", false)
	relayedMedia := rig.rooms.events("alice", "media_state_relay")
	require.Len(t, relayedMedia, 1)
	require.Equal(t, false, relayedMedia[0].Data["enabled"])

	rig.co.End(ctx, "alice", callID)
	require.Len(t, rig.rooms.events("bob", "call_ended"), 1)
	session, _ = rig.db.Call(callID)
	require.NotNil(t, session.EndedAt)
	require.Empty(t, rig.holder(t, "alice"))
	require.Empty(t, rig.holder(t, "bob"))
	entry, err = rig.index.Get(ctx, callID)
	require.NoError(t, err)
	require.Nil(t, entry)

	// Hang-up races resolve to a single teardown.
	rig.co.End(ctx, "bob", callID)
	require.Len(t, rig.rooms.events("alice", "call_ended"), 0)
	require.Len(t, rig.rooms.events("bob", "call_ended"), 1)
}

func TestDurationComputedExactlyOnce(t *testing.T) {
	rig := newCallRig(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, rig.presence.Connect(ctx, "bob", "tab1"))

	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	now := base
	var mu sync.Mutex
	rig.co.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	setNow := func(t time.Time) {
		mu.Lock()
		now = t
		mu.Unlock()
	}

	callID, err := rig.co.Offer(ctx, OfferInput{CallerID: "alice", CalleeID: "bob"})
	require.NoError(t, err)

	setNow(base.Add(10 * time.Second))
	require.True(t, rig.co.Answer(ctx, "bob", callID, nil))

	setNow(base.Add(70 * time.Second))
	rig.co.End(ctx, "alice", callID)

	session, ok := rig.db.Call(callID)
	require.True(t, ok)
	require.EqualValues(t, 60, session.DurationSec)

	// A racing second end must not recompute against a later clock.
	setNow(base.Add(500 * time.Second))
	rig.co.End(ctx, "bob", callID)
	session, _ = rig.db.Call(callID)
	require.EqualValues(t, 60, session.DurationSec)
}

func TestDeclineNotifiesCallerAndFreesLocks(t *testing.T) {
	rig := newCallRig(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, rig.presence.Connect(ctx, "bob", "tab1"))

	callID, err := rig.co.Offer(ctx, OfferInput{CallerID: "alice", CalleeID: "bob"})
	require.NoError(t, err)

	// Only the callee may decline.
	rig.co.Decline(ctx, "alice", callID)
	require.Empty(t, rig.rooms.events("alice", "call_declined"))

	rig.co.Decline(ctx, "bob", callID)
	require.Len(t, rig.rooms.events("alice", "call_declined"), 1)
	require.Empty(t, rig.holder(t, "alice"))
	require.Empty(t, rig.holder(t, "bob"))

	session, ok := rig.db.Call(callID)
	require.True(t, ok)
	require.Nil(t, session.ConnectedAt, "declined calls stay missed in history")
	require.NotNil(t, session.EndedAt)
}

func TestCancelNotifiesCallee(t *testing.T) {
	rig := newCallRig(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, rig.presence.Connect(ctx, "bob", "tab1"))

	callID, err := rig.co.Offer(ctx, OfferInput{CallerID: "alice", CalleeID: "bob"})
	require.NoError(t, err)

	rig.co.Cancel(ctx, "alice", callID)
	require.Len(t, rig.rooms.events("bob", "call_cancelled"), 1)
	require.Empty(t, rig.holder(t, "alice"))
	require.Empty(t, rig.holder(t, "bob"))
}

func TestRingTimeoutTearsDownBothSides(t *testing.T) {
	rig := newCallRig(t, 30*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, rig.presence.Connect(ctx, "bob", "tab1"))

	callID, err := rig.co.Offer(ctx, OfferInput{CallerID: "alice", CalleeID: "bob"})
	require.NoError(t, err)
	require.NotEmpty(t, callID)

	require.Eventually(t, func() bool {
		return len(rig.rooms.events("alice", "call_cancelled")) == 1 &&
			len(rig.rooms.events("bob", "call_cancelled")) == 1
	}, time.Second, 5*time.Millisecond)

	require.Empty(t, rig.holder(t, "alice"))
	require.Empty(t, rig.holder(t, "bob"))
	entry, err := rig.index.Get(ctx, callID)
	require.NoError(t, err)
	require.Nil(t, entry)
}

func TestAnswerStopsRingTimer(t *testing.T) {
	rig := newCallRig(t, 30*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, rig.presence.Connect(ctx, "bob", "tab1"))

	callID, err := rig.co.Offer(ctx, OfferInput{CallerID: "alice", CalleeID: "bob"})
	require.NoError(t, err)
	require.True(t, rig.co.Answer(ctx, "bob", callID, nil))

	time.Sleep(100 * time.Millisecond)
	require.Empty(t, rig.rooms.events("alice", "call_cancelled"))
	require.Empty(t, rig.rooms.events("bob", "call_cancelled"))
	require.Equal(t, callID, rig.holder(t, "alice"), "an answered call keeps its locks")
}

func TestStaleSignalsSilentlyDropped(t *testing.T) {
	rig := newCallRig(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, rig.presence.Connect(ctx, "bob", "tab1"))

	callID, err := rig.co.Offer(ctx, OfferInput{CallerID: "alice", CalleeID: "bob"})
	require.NoError(t, err)

	// Outsiders and unknown calls produce nothing.
	require.False(t, rig.co.Answer(ctx, "carol", callID, nil))
	rig.co.Ice(ctx, "carol", callID, map[string]any{"candidate": "x"})
	rig.co.Ice(ctx, "alice", "call_gone", map[string]any{"candidate": "x"})
	require.Empty(t, rig.rooms.events("alice", "call_answer_relay"))
	require.Empty(t, rig.rooms.events("bob", "call_ice_relay"))
	require.Empty(t, rig.rooms.events("alice", "call_ice_relay"))
}

func TestDisconnectImplicitlyEndsCall(t *testing.T) {
	rig := newCallRig(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, rig.presence.Connect(ctx, "bob", "tab1"))

	callID, err := rig.co.Offer(ctx, OfferInput{CallerID: "alice", CalleeID: "bob"})
	require.NoError(t, err)
	require.True(t, rig.co.Answer(ctx, "bob", callID, nil))

	rig.co.HandleDisconnect(ctx, "bob", callID)

	ended := rig.rooms.events("alice", "call_ended")
	require.Len(t, ended, 1)
	require.Equal(t, "peer disconnected", ended[0].Data["reason"])
	require.Empty(t, rig.holder(t, "alice"))
	require.Empty(t, rig.holder(t, "bob"))

	// Dropping with no active call is a no-op.
	rig.co.HandleDisconnect(ctx, "alice", "")
	require.Len(t, rig.rooms.events("alice", "call_ended"), 1)
}
