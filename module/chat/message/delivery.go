package message

import (
	"context"
	"time"

	"DuoChat/module/chat/model"
	"DuoChat/service/chat/protocol"
	"DuoChat/service/storage"
	"DuoChat/tools/errs"
	"DuoChat/tools/ids"
)

// Store is the durable slice of the model layer the coordinator needs.
type Store interface {
	InsertMessage(ctx context.Context, msg *model.Message) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	ApplyLastMessage(ctx context.Context, convID, msgID, preview string, ts time.Time, senderID, receiverID string, incReceiver bool) error
	PromoteConversationRead(ctx context.Context, convID, receiverID string) ([]string, error)
	PromotePendingDelivered(ctx context.Context, receiverID string) (map[string][]string, error)
	ResetUnread(ctx context.Context, convID, userID string) error
}

// PresenceReader answers reachability without exposing presence writes.
type PresenceReader interface {
	Read(ctx context.Context, userID string) (storage.PresenceRecord, error)
}

// Rooms is the live-connection view: focused-room membership plus fan-out.
// Personal rooms are keyed by user ID.
type Rooms interface {
	IsMember(userID, roomID string) bool
	Publish(roomID string, payload []byte)
}

// Coordinator owns the send path: it decides the initial delivery status,
// persists before any fan-out, and keeps promotions moving only forward
// along sent < delivered < read.
type Coordinator struct {
	store    Store
	presence PresenceReader
	rooms    Rooms
	clock    func() time.Time
}

func NewCoordinator(store Store, presence PresenceReader, rooms Rooms) *Coordinator {
	return &Coordinator{
		store:    store,
		presence: presence,
		rooms:    rooms,
		clock:    time.Now,
	}
}

// SetClock overrides the time source for tests.
func (co *Coordinator) SetClock(clock func() time.Time) { co.clock = clock }

type SendInput struct {
	SenderID       string
	ConversationID string
	Content        string
	Media          *model.Media
	// ClientID is the sender's optimistic-UI correlation token; it rides the
	// fan-out untouched.
	ClientID string
}

// Send persists a new message and fans it out. The initial status collapses
// the receiver's state at send time: focused on this conversation means
// read, merely reachable means delivered, anything else means sent. A store
// failure aborts before any event leaves the node.
func (co *Coordinator) Send(ctx context.Context, in SendInput) (*model.Message, error) {
	if in.SenderID == "" || in.ConversationID == "" {
		return nil, errs.ErrValidation.WithDetail("sender and conversation required")
	}
	if in.Content == "" && in.Media == nil {
		return nil, errs.ErrValidation.WithDetail("empty message")
	}
	conv, err := co.store.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return nil, errs.ErrTransientStore.WithDetail(err.Error())
	}
	if conv == nil {
		return nil, errs.ErrNotFound.WithDetail("conversation " + in.ConversationID)
	}
	if !conv.HasParticipant(in.SenderID) {
		return nil, errs.ErrValidation.WithDetail("sender not a participant")
	}
	receiverID := conv.PeerOf(in.SenderID)

	// A presence read failure degrades to sent; reconnect promotion will
	// catch the message up later.
	status := model.StatusSent
	if co.rooms.IsMember(receiverID, in.ConversationID) {
		status = model.StatusRead
	} else if rec, perr := co.presence.Read(ctx, receiverID); perr == nil && rec.Status.Reachable() {
		status = model.StatusDelivered
	}

	now := co.clock()
	msg := &model.Message{
		ID:             ids.GenerateString(),
		ConversationID: in.ConversationID,
		Sender:         in.SenderID,
		Receiver:       receiverID,
		Content:        in.Content,
		Media:          in.Media,
		Status:         status,
		Timestamp:      now,
	}
	if err := co.store.InsertMessage(ctx, msg); err != nil {
		return nil, errs.ErrTransientStore.WithDetail(err.Error())
	}

	preview := PreviewOf(msg)
	incReceiver := status != model.StatusRead
	if err := co.store.ApplyLastMessage(ctx, in.ConversationID, msg.ID, preview, now, in.SenderID, receiverID, incReceiver); err != nil {
		return nil, errs.ErrTransientStore.WithDetail(err.Error())
	}

	// The message itself goes to the conversation room only; personal rooms
	// carry conversation_changed. Publishing both would hand a focused
	// receiver the same frame twice through their auto-joined personal room.
	co.rooms.Publish(in.ConversationID, protocol.BuildMessageReceived(msg, in.ClientID))

	receiverUnread := conv.UnreadFor(receiverID)
	if incReceiver {
		receiverUnread++
	}
	co.rooms.Publish(in.SenderID,
		protocol.BuildConversationChanged(in.ConversationID, msg.ID, preview, 0, now))
	co.rooms.Publish(receiverID,
		protocol.BuildConversationChanged(in.ConversationID, msg.ID, preview, receiverUnread, now))
	return msg, nil
}

// MarkRead promotes every message below read for this reader in the
// conversation and resets their unread counter. The peer gets one batched
// status event no matter how many messages moved; nothing is sent when the
// promotion matched nothing.
func (co *Coordinator) MarkRead(ctx context.Context, convID, readerID string) error {
	conv, err := co.store.GetConversation(ctx, convID)
	if err != nil {
		return errs.ErrTransientStore.WithDetail(err.Error())
	}
	if conv == nil {
		return errs.ErrNotFound.WithDetail("conversation " + convID)
	}
	if !conv.HasParticipant(readerID) {
		return errs.ErrValidation.WithDetail("reader not a participant")
	}
	msgIDs, err := co.store.PromoteConversationRead(ctx, convID, readerID)
	if err != nil {
		return errs.ErrTransientStore.WithDetail(err.Error())
	}
	if err := co.store.ResetUnread(ctx, convID, readerID); err != nil {
		return errs.ErrTransientStore.WithDetail(err.Error())
	}
	peerID := conv.PeerOf(readerID)
	if len(msgIDs) > 0 {
		co.rooms.Publish(peerID, protocol.BuildStatusChanged(convID, msgIDs, model.StatusRead))
	}
	marked := protocol.BuildConversationMarkedRead(convID, readerID)
	co.rooms.Publish(peerID, marked)
	// The reader's other devices clear their badge too.
	co.rooms.Publish(readerID, marked)
	return nil
}

// PromoteOnReconnect moves the user's pending sent messages to delivered
// and tells each sender, one batched event per conversation.
func (co *Coordinator) PromoteOnReconnect(ctx context.Context, userID string) error {
	byConv, err := co.store.PromotePendingDelivered(ctx, userID)
	if err != nil {
		return errs.ErrTransientStore.WithDetail(err.Error())
	}
	for convID, msgIDs := range byConv {
		conv, err := co.store.GetConversation(ctx, convID)
		if err != nil || conv == nil {
			continue
		}
		co.rooms.Publish(conv.PeerOf(userID),
			protocol.BuildStatusChanged(convID, msgIDs, model.StatusDelivered))
	}
	return nil
}
