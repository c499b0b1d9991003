package protocol

import (
	"encoding/json"
	"time"

	"DuoChat/logger"
	"DuoChat/module/chat/model"
)

// Inbound event names.
const (
	EvRegister       = "register"
	EvJoinRoom       = "join_room"
	EvLeaveRoom      = "leave_room"
	EvHeartbeat      = "heartbeat"
	EvTypingStart    = "typing_start"
	EvTypingStop     = "typing_stop"
	EvCallOffer      = "call_offer"
	EvCallAnswer     = "call_answer"
	EvCallIce        = "call_ice"
	EvCallEnd        = "call_end"
	EvCallDecline    = "call_decline"
	EvCallCancel     = "call_cancel"
	EvMediaState     = "media_state"
	EvCheckReachable = "check_reachable"
)

// Outbound event names.
const (
	EvPresenceChanged        = "presence_changed"
	EvMessageReceived        = "message_received"
	EvConversationChanged    = "conversation_changed"
	EvStatusChanged          = "status_changed"
	EvConversationMarkedRead = "conversation_marked_read"
	EvTypingChanged          = "typing_changed"
	EvCallOfferRelay         = "call_offer_relay"
	EvCallAnswerRelay        = "call_answer_relay"
	EvCallIceRelay           = "call_ice_relay"
	EvCallUnreachable        = "call_unreachable"
	EvCallBusy               = "call_busy"
	EvCallEnded              = "call_ended"
	EvCallDeclined           = "call_declined"
	EvCallCancelled          = "call_cancelled"
	EvMediaStateRelay        = "media_state_relay"
	EvReachableStatus        = "reachable_status"
)

// Frame is the wire envelope: an event name plus an event-shaped payload.
type Frame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

func DecodeFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// MustEncode marshals a frame, logging instead of failing: payloads are
// built from our own structs, so an error here is a programming bug.
func MustEncode(event string, data any) []byte {
	raw, err := json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{Event: event, Data: data})
	if err != nil {
		logger.Errorf("[frames] encode %s: %v", event, err)
		return nil
	}
	return raw
}

// ---- inbound payloads ----

type RegisterPayload struct {
	Token string `json:"token"`
}

type RoomPayload struct {
	RoomID string `json:"roomId"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
}

type CallOfferPayload struct {
	CalleeID      string         `json:"calleeId"`
	Offer         any            `json:"offer"`
	CallType      string         `json:"callType"`
	CallerProfile map[string]any `json:"callerProfile,omitempty"`
}

type CallAnswerPayload struct {
	CallID string `json:"callId"`
	Answer any    `json:"answer"`
}

type CallIcePayload struct {
	CallID    string `json:"callId"`
	Candidate any    `json:"candidate"`
}

type CallEndPayload struct {
	CallID string `json:"callId"`
}

type MediaStatePayload struct {
	CallID  string `json:"callId"`
	Kind    string `json:"kind"` // audio or video
	Enabled bool   `json:"enabled"`
}

type CheckReachablePayload struct {
	UserID string `json:"userId"`
}

// ---- outbound builders ----

type PresenceEvent struct {
	UserID   string `json:"userId"`
	Status   string `json:"status"`
	LastSeen int64  `json:"lastSeen,omitempty"`
}

func BuildPresenceChanged(userID, status string, lastSeen time.Time) []byte {
	ev := PresenceEvent{UserID: userID, Status: status}
	if !lastSeen.IsZero() {
		ev.LastSeen = lastSeen.UnixMilli()
	}
	return MustEncode(EvPresenceChanged, ev)
}

// BuildMessageReceived carries the message plus the sender's optimistic-UI
// token, so the sending client can reconcile its pending row.
func BuildMessageReceived(msg *model.Message, clientID string) []byte {
	return MustEncode(EvMessageReceived, struct {
		*model.Message
		ClientID string `json:"clientId,omitempty"`
	}{Message: msg, ClientID: clientID})
}

type ConversationChangedEvent struct {
	ConversationID     string `json:"conversationId"`
	LastMessageID      string `json:"lastMessageId"`
	LastMessagePreview string `json:"lastMessagePreview"`
	UnreadCount        int64  `json:"unreadCount"`
	UpdatedAt          int64  `json:"updatedAt"`
}

func BuildConversationChanged(convID, msgID, preview string, unread int64, at time.Time) []byte {
	return MustEncode(EvConversationChanged, ConversationChangedEvent{
		ConversationID:     convID,
		LastMessageID:      msgID,
		LastMessagePreview: preview,
		UnreadCount:        unread,
		UpdatedAt:          at.UnixMilli(),
	})
}

type StatusChangedEvent struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	Status         string   `json:"status"`
}

func BuildStatusChanged(convID string, msgIDs []string, status model.MessageStatus) []byte {
	return MustEncode(EvStatusChanged, StatusChangedEvent{
		ConversationID: convID,
		MessageIDs:     msgIDs,
		Status:         string(status),
	})
}

type ConversationMarkedReadEvent struct {
	ConversationID string `json:"conversationId"`
	ReaderID       string `json:"readerId"`
}

func BuildConversationMarkedRead(convID, readerID string) []byte {
	return MustEncode(EvConversationMarkedRead, ConversationMarkedReadEvent{
		ConversationID: convID,
		ReaderID:       readerID,
	})
}

type TypingChangedEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Typing         bool   `json:"typing"`
}

func BuildTypingChanged(convID, userID string, typing bool) []byte {
	return MustEncode(EvTypingChanged, TypingChangedEvent{
		ConversationID: convID,
		UserID:         userID,
		Typing:         typing,
	})
}

type CallOfferRelayEvent struct {
	CallID        string         `json:"callId"`
	CallerID      string         `json:"callerId"`
	CallType      string         `json:"callType"`
	Offer         any            `json:"offer"`
	CallerProfile map[string]any `json:"callerProfile,omitempty"`
}

type CallAnswerRelayEvent struct {
	CallID string `json:"callId"`
	Answer any    `json:"answer"`
}

type CallIceRelayEvent struct {
	CallID    string `json:"callId"`
	From      string `json:"from"`
	Candidate any    `json:"candidate"`
}

type CallResultEvent struct {
	CallID string `json:"callId,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func BuildCallResult(event, callID, reason string) []byte {
	return MustEncode(event, CallResultEvent{CallID: callID, Reason: reason})
}

type MediaStateRelayEvent struct {
	CallID  string `json:"callId"`
	From    string `json:"from"`
	Kind    string `json:"kind"`
	Enabled bool   `json:"enabled"`
}

type ReachableStatusEvent struct {
	UserID    string `json:"userId"`
	Reachable bool   `json:"reachable"`
	Status    string `json:"status"`
}

func BuildReachableStatus(userID string, reachable bool, status string) []byte {
	return MustEncode(EvReachableStatus, ReachableStatusEvent{
		UserID:    userID,
		Reachable: reachable,
		Status:    status,
	})
}
