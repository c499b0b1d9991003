package message

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

// fakeRooms records fan-out instead of writing to sockets.
type fakeRooms struct {
	mu      sync.Mutex
	members map[string]map[string]bool
	pubs    map[string][]wireFrame
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{
		members: make(map[string]map[string]bool),
		pubs:    make(map[string][]wireFrame),
	}
}

func (f *fakeRooms) join(userID, roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[roomID] == nil {
		f.members[roomID] = make(map[string]bool)
	}
	f.members[roomID][userID] = true
}

func (f *fakeRooms) IsMember(userID, roomID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[roomID][userID]
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

func (f *fakeRooms) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, frames := range f.pubs {
		n += len(frames)
	}
	return n
}

func newTestDelivery(t *testing.T) (*Coordinator, *model.MemStore, *storage.MemPresenceStore, *fakeRooms) {
	t.Helper()
	db := model.NewMemStore()
	db.SeedConversation(&model.Conversation{
		ID:           "conv1",
		Participants: []string{"alice", "bob"},
	})
	presence := storage.NewMemPresenceStore(time.Minute)
	rooms := newFakeRooms()
	return NewCoordinator(db, presence, rooms), db, presence, rooms
}

func TestSendToFocusedReceiverLandsRead(t *testing.T) {
	co, db, _, rooms := newTestDelivery(t)
	rooms.join("bob", "conv1")

	msg, err := co.Send(context.Background(), SendInput{
		SenderID:       "alice",
		ConversationID: "conv1",
		Content:        "hey",
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusRead, msg.Status)

	stored, ok := db.Message(msg.ID)
	require.True(t, ok)
	require.Equal(t, model.StatusRead, stored.Status)
	require.Equal(t, "bob", stored.Receiver)

	// The receiver was looking at the chat: no unread increment.
	changed := rooms.events("bob", "conversation_changed")
	require.Len(t, changed, 1)
	require.EqualValues(t, 0, changed[0].Data["unreadCount"])

	require.Len(t, rooms.events("conv1", "message_received"), 1)
	require.Empty(t, rooms.events("bob", "message_received"),
		"the personal room carries conversation_changed, not the message itself")
}

func TestSendToOnlineReceiverLandsDelivered(t *testing.T) {
	co, db, presence, rooms := newTestDelivery(t)
	require.NoError(t, presence.Connect(context.Background(), "bob", "tab1"))

	msg, err := co.Send(context.Background(), SendInput{
		SenderID:       "alice",
		ConversationID: "conv1",
		Content:        "hey",
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusDelivered, msg.Status)

	changed := rooms.events("bob", "conversation_changed")
	require.Len(t, changed, 1)
	require.EqualValues(t, 1, changed[0].Data["unreadCount"])

	conv, err := db.GetConversation(context.Background(), "conv1")
	require.NoError(t, err)
	require.EqualValues(t, 1, conv.UnreadFor("bob"))
	require.EqualValues(t, 0, conv.UnreadFor("alice"))
	require.Equal(t, msg.ID, conv.LastMessageID)
	require.Equal(t, "hey", conv.LastMessagePreview)
}

func TestSendToOfflineReceiverLandsSent(t *testing.T) {
	co, db, _, _ := newTestDelivery(t)

	msg, err := co.Send(context.Background(), SendInput{
		SenderID:       "alice",
		ConversationID: "conv1",
		Content:        "hey",
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusSent, msg.Status)

	stored, _ := db.Message(msg.ID)
	require.Equal(t, model.StatusSent, stored.Status)
}

func TestMediaPreviewLines(t *testing.T) {
	co, db, _, _ := newTestDelivery(t)

	msg, err := co.Send(context.Background(), SendInput{
		SenderID:       "alice",
		ConversationID: "conv1",
		Media:          &model.Media{Type: "image", URL: "https://cdn/x.jpg"},
	})
	require.NoError(t, err)
	require.NotNil(t, msg.Media)

	conv, err := db.GetConversation(context.Background(), "conv1")
	require.NoError(t, err)
	require.Equal(t, "📷 Photo", conv.LastMessagePreview)

	require.Equal(t, "🎤 Voice message",
		PreviewOf(&model.Message{Media: &model.Media{Type: "audio", IsVoice: true}}))
	require.Equal(t, "🎵 Audio",
		PreviewOf(&model.Message{Media: &model.Media{Type: "audio"}}))
	require.Equal(t, "📎 Attachment",
		PreviewOf(&model.Message{Media: &model.Media{Type: "archive"}}))
	require.Equal(t, "text wins",
		PreviewOf(&model.Message{Content: "text wins", Media: &model.Media{Type: "image"}}))
}

func TestReconnectPromotesPendingToDelivered(t *testing.T) {
	co, db, _, rooms := newTestDelivery(t)

	first, err := co.Send(context.Background(), SendInput{
		SenderID: "alice", ConversationID: "conv1", Content: "one",
	})
	require.NoError(t, err)
	second, err := co.Send(context.Background(), SendInput{
		SenderID: "alice", ConversationID: "conv1", Content: "two",
	})
	require.NoError(t, err)

	require.NoError(t, co.PromoteOnReconnect(context.Background(), "bob"))

	for _, id := range []string{first.ID, second.ID} {
		stored, _ := db.Message(id)
		require.Equal(t, model.StatusDelivered, stored.Status)
	}

	// One batched event to the sender, both ids inside.
	changed := rooms.events("alice", "status_changed")
	require.Len(t, changed, 1)
	require.Equal(t, "delivered", changed[0].Data["status"])
	ids, ok := changed[0].Data["messageIds"].([]any)
	require.True(t, ok)
	require.Len(t, ids, 2)

	// Nothing pending the second time around.
	require.NoError(t, co.PromoteOnReconnect(context.Background(), "bob"))
	require.Len(t, rooms.events("alice", "status_changed"), 1)
}

func TestMarkReadPromotesBatchAndResetsUnread(t *testing.T) {
	co, db, _, rooms := newTestDelivery(t)

	msg, err := co.Send(context.Background(), SendInput{
		SenderID: "alice", ConversationID: "conv1", Content: "hey",
	})
	require.NoError(t, err)

	require.NoError(t, co.MarkRead(context.Background(), "conv1", "bob"))

	stored, _ := db.Message(msg.ID)
	require.Equal(t, model.StatusRead, stored.Status)

	conv, _ := db.GetConversation(context.Background(), "conv1")
	require.EqualValues(t, 0, conv.UnreadFor("bob"))

	promoted := rooms.events("alice", "status_changed")
	require.Len(t, promoted, 1)
	require.Equal(t, "read", promoted[0].Data["status"])
	require.Len(t, rooms.events("alice", "conversation_marked_read"), 1)
	require.Len(t, rooms.events("bob", "conversation_marked_read"), 1)

	// Re-reading an already-read conversation must not repeat the batch,
	// and a later reconnect must not regress read back to delivered.
	require.NoError(t, co.MarkRead(context.Background(), "conv1", "bob"))
	require.Len(t, rooms.events("alice", "status_changed"), 1)

	require.NoError(t, co.PromoteOnReconnect(context.Background(), "bob"))
	stored, _ = db.Message(msg.ID)
	require.Equal(t, model.StatusRead, stored.Status)
}

func TestSendFailsClosedOnStoreError(t *testing.T) {
	co, db, _, rooms := newTestDelivery(t)
	db.Err = errors.New("primary stepped down")

	_, err := co.Send(context.Background(), SendInput{
		SenderID: "alice", ConversationID: "conv1", Content: "hey",
	})
	require.Error(t, err)
	require.Equal(t, errs.CodeTransientStore, errs.CodeOf(err))
	require.Zero(t, rooms.total(), "a failed persist must not fan anything out")
}

func TestSendValidation(t *testing.T) {
	co, _, _, _ := newTestDelivery(t)
	ctx := context.Background()

	_, err := co.Send(ctx, SendInput{SenderID: "alice", ConversationID: "conv1"})
	require.Equal(t, errs.CodeValidation, errs.CodeOf(err))

	_, err = co.Send(ctx, SendInput{SenderID: "carol", ConversationID: "conv1", Content: "hi"})
	require.Equal(t, errs.CodeValidation, errs.CodeOf(err))

	_, err = co.Send(ctx, SendInput{SenderID: "alice", ConversationID: "nope", Content: "hi"})
	require.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
}
