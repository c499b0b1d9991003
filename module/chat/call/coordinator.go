package call

import (
	"context"
	"sync"
	"time"

	"DuoChat/logger"
	"DuoChat/module/chat/model"
	"DuoChat/service/chat/protocol"
	"DuoChat/service/storage"
	"DuoChat/tools/errs"
	"DuoChat/tools/ids"
)

// Store is the durable call-history slice the coordinator writes.
type Store interface {
	InsertCall(ctx context.Context, call *model.CallSession) error
	MarkCallConnected(ctx context.Context, callID string, at time.Time) (bool, error)
	MarkCallEnded(ctx context.Context, callID string, at time.Time) error
}

type PresenceReader interface {
	Read(ctx context.Context, userID string) (storage.PresenceRecord, error)
}

// Rooms delivers signaling frames to a user's personal room.
type Rooms interface {
	Publish(roomID string, payload []byte)
}

type Config struct {
	// RingTimeout bounds how long an unanswered offer may ring.
	RingTimeout time.Duration
	// LockTTL must comfortably outlive the ring phase so the busy lock
	// cannot expire under a still-pending offer.
	LockTTL time.Duration
}

func (c Config) validate() error {
	if c.RingTimeout <= 0 {
		return errs.ErrValidation.WithDetail("ring timeout must be positive")
	}
	if c.LockTTL < 3*c.RingTimeout {
		return errs.ErrValidation.WithDetail("lock ttl must be at least three ring timeouts")
	}
	return nil
}

// Coordinator brokers two-party call signaling. Admission is decided solely
// by the busy locks, the call index is the only callId -> participants
// mapping, and cleanup is idempotent so end, decline, cancel, timeout and
// disconnect can race freely.
type Coordinator struct {
	cfg      Config
	store    Store
	presence PresenceReader
	locks    storage.BusyLockStore
	index    storage.CallIndexStore
	rooms    Rooms
	clock    func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer // callID -> ring timer
}

func NewCoordinator(cfg Config, store Store, presence PresenceReader, locks storage.BusyLockStore, index storage.CallIndexStore, rooms Rooms) (*Coordinator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Coordinator{
		cfg:      cfg,
		store:    store,
		presence: presence,
		locks:    locks,
		index:    index,
		rooms:    rooms,
		clock:    time.Now,
		timers:   make(map[string]*time.Timer),
	}, nil
}

// SetClock overrides the time source for tests.
func (co *Coordinator) SetClock(clock func() time.Time) { co.clock = clock }

type OfferInput struct {
	CallerID      string
	CalleeID      string
	CallType      string
	Offer         any
	CallerProfile map[string]any
}

// Offer runs call admission and, when it passes, relays the SDP offer to
// the callee and starts the ring timer. Rejections are reported to the
// caller as events, not errors; only malformed input errors out. Both busy
// locks are taken before any CallSession row exists, so a lost race leaves
// no trace in history.
func (co *Coordinator) Offer(ctx context.Context, in OfferInput) (string, error) {
	if in.CallerID == "" || in.CalleeID == "" || in.CallerID == in.CalleeID {
		return "", errs.ErrValidation.WithDetail("bad call parties")
	}
	if in.CallType != "video" {
		in.CallType = "audio"
	}

	// A presence read failure is not evidence the callee is offline; surface
	// it instead of reporting a definitive negative to the caller.
	rec, err := co.presence.Read(ctx, in.CalleeID)
	if err != nil {
		logger.Errorf("[call] presence read %s: %v", in.CalleeID, err)
		return "", errs.ErrTransientStore.WithDetail(err.Error())
	}
	if !rec.Status.Reachable() {
		co.rooms.Publish(in.CallerID,
			protocol.BuildCallResult(protocol.EvCallUnreachable, "", in.CalleeID+" is not reachable"))
		return "", nil
	}

	callID := ids.GenerateString()
	ok, err := co.locks.Acquire(ctx, in.CalleeID, callID)
	if err != nil || !ok {
		co.rooms.Publish(in.CallerID,
			protocol.BuildCallResult(protocol.EvCallBusy, "", in.CalleeID+" is on another call"))
		return "", nil
	}
	ok, err = co.locks.Acquire(ctx, in.CallerID, callID)
	if err != nil || !ok {
		co.releaseLocks(ctx, storage.CallEntry{CallID: callID, CalleeID: in.CalleeID})
		co.rooms.Publish(in.CallerID,
			protocol.BuildCallResult(protocol.EvCallBusy, "", "you are already in a call"))
		return "", nil
	}

	entry := storage.CallEntry{
		CallID:   callID,
		CallerID: in.CallerID,
		CalleeID: in.CalleeID,
		CallType: in.CallType,
	}
	now := co.clock()
	if err := co.store.InsertCall(ctx, &model.CallSession{
		ID:        callID,
		CallerID:  in.CallerID,
		CalleeID:  in.CalleeID,
		CallType:  in.CallType,
		CreatedAt: now,
	}); err != nil {
		co.releaseLocks(ctx, entry)
		co.rooms.Publish(in.CallerID,
			protocol.BuildCallResult(protocol.EvCallEnded, callID, "call setup failed"))
		return "", errs.ErrTransientStore.WithDetail(err.Error())
	}
	if err := co.index.Put(ctx, entry); err != nil {
		co.releaseLocks(ctx, entry)
		_ = co.store.MarkCallEnded(ctx, callID, co.clock())
		co.rooms.Publish(in.CallerID,
			protocol.BuildCallResult(protocol.EvCallEnded, callID, "call setup failed"))
		return "", errs.ErrTransientStore.WithDetail(err.Error())
	}

	co.rooms.Publish(in.CalleeID, protocol.MustEncode(protocol.EvCallOfferRelay,
		protocol.CallOfferRelayEvent{
			CallID:        callID,
			CallerID:      in.CallerID,
			CallType:      in.CallType,
			Offer:         in.Offer,
			CallerProfile: in.CallerProfile,
		}))

	co.mu.Lock()
	co.timers[callID] = time.AfterFunc(co.cfg.RingTimeout, func() {
		co.ringExpired(callID)
	})
	co.mu.Unlock()
	return callID, nil
}

// Answer relays the SDP answer to the caller and marks the session
// connected. Stale or foreign callIds and duplicate accepts are silently
// dropped.
func (co *Coordinator) Answer(ctx context.Context, calleeID, callID string, answer any) bool {
	entry := co.lookup(ctx, callID)
	if entry == nil || entry.CalleeID != calleeID {
		return false
	}
	co.stopTimer(callID)
	first, err := co.store.MarkCallConnected(ctx, callID, co.clock())
	if err != nil {
		logger.Errorf("[call] mark connected %s: %v", callID, err)
		return false
	}
	if !first {
		return false
	}
	co.rooms.Publish(entry.CallerID, protocol.MustEncode(protocol.EvCallAnswerRelay,
		protocol.CallAnswerRelayEvent{CallID: callID, Answer: answer}))
	return true
}

// Ice relays a trickle candidate to the other party.
func (co *Coordinator) Ice(ctx context.Context, fromID, callID string, candidate any) {
	entry := co.lookup(ctx, callID)
	if !entry.Includes(fromID) {
		return
	}
	co.rooms.Publish(entry.Peer(fromID), protocol.MustEncode(protocol.EvCallIceRelay,
		protocol.CallIceRelayEvent{CallID: callID, From: fromID, Candidate: candidate}))
}

// MediaState relays a mute or camera toggle to the other party.
func (co *Coordinator) MediaState(ctx context.Context, fromID, callID, kind string, enabled bool) {
	entry := co.lookup(ctx, callID)
	if !entry.Includes(fromID) {
		return
	}
	co.rooms.Publish(entry.Peer(fromID), protocol.MustEncode(protocol.EvMediaStateRelay,
		protocol.MediaStateRelayEvent{CallID: callID, From: fromID, Kind: kind, Enabled: enabled}))
}

// End tears the call down on hang-up from either party.
func (co *Coordinator) End(ctx context.Context, userID, callID string) {
	entry := co.lookup(ctx, callID)
	if !entry.Includes(userID) {
		return
	}
	co.cleanup(ctx, entry)
	co.rooms.Publish(entry.Peer(userID),
		protocol.BuildCallResult(protocol.EvCallEnded, callID, ""))
}

// Decline is the callee rejecting a ringing offer.
func (co *Coordinator) Decline(ctx context.Context, calleeID, callID string) {
	entry := co.lookup(ctx, callID)
	if entry == nil || entry.CalleeID != calleeID {
		return
	}
	co.cleanup(ctx, entry)
	co.rooms.Publish(entry.CallerID,
		protocol.BuildCallResult(protocol.EvCallDeclined, callID, ""))
}

// Cancel is the caller withdrawing a ringing offer.
func (co *Coordinator) Cancel(ctx context.Context, callerID, callID string) {
	entry := co.lookup(ctx, callID)
	if entry == nil || entry.CallerID != callerID {
		return
	}
	co.cleanup(ctx, entry)
	co.rooms.Publish(entry.CalleeID,
		protocol.BuildCallResult(protocol.EvCallCancelled, callID, ""))
}

// HandleDisconnect implicitly ends the call a dropping connection was in.
func (co *Coordinator) HandleDisconnect(ctx context.Context, userID, activeCallID string) {
	if activeCallID == "" {
		return
	}
	entry := co.lookup(ctx, activeCallID)
	if !entry.Includes(userID) {
		return
	}
	co.cleanup(ctx, entry)
	co.rooms.Publish(entry.Peer(userID),
		protocol.BuildCallResult(protocol.EvCallEnded, activeCallID, "peer disconnected"))
}

func (co *Coordinator) ringExpired(callID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entry := co.lookup(ctx, callID)
	if entry == nil {
		return
	}
	co.cleanup(ctx, entry)
	cancelled := protocol.BuildCallResult(protocol.EvCallCancelled, callID, "no answer")
	co.rooms.Publish(entry.CallerID, cancelled)
	co.rooms.Publish(entry.CalleeID, cancelled)
}

func (co *Coordinator) lookup(ctx context.Context, callID string) *storage.CallEntry {
	if callID == "" {
		return nil
	}
	entry, err := co.index.Get(ctx, callID)
	if err != nil {
		logger.Errorf("[call] index get %s: %v", callID, err)
		return nil
	}
	return entry
}

// cleanup is safe to run any number of times for the same call: the history
// update is guarded on ended_at, lock release compares the held callId, and
// deleting a missing index key is a no-op.
func (co *Coordinator) cleanup(ctx context.Context, entry *storage.CallEntry) {
	co.stopTimer(entry.CallID)
	if err := co.store.MarkCallEnded(ctx, entry.CallID, co.clock()); err != nil {
		logger.Errorf("[call] mark ended %s: %v", entry.CallID, err)
	}
	co.releaseLocks(ctx, *entry)
	if err := co.index.Delete(ctx, entry.CallID); err != nil {
		logger.Errorf("[call] index delete %s: %v", entry.CallID, err)
	}
}

func (co *Coordinator) releaseLocks(ctx context.Context, entry storage.CallEntry) {
	for _, userID := range []string{entry.CallerID, entry.CalleeID} {
		if userID == "" {
			continue
		}
		if _, err := co.locks.Release(ctx, userID, entry.CallID); err != nil {
			logger.Errorf("[call] release lock %s/%s: %v", userID, entry.CallID, err)
		}
	}
}

func (co *Coordinator) stopTimer(callID string) {
	co.mu.Lock()
	if t, ok := co.timers[callID]; ok {
		t.Stop()
		delete(co.timers, callID)
	}
	co.mu.Unlock()
}
