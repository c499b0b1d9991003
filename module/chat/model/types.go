package model

import (
	"time"
)

// Collection names.
const (
	MessageTableName      = "message"
	ConversationTableName = "conversation"
	CallTableName         = "call"
	UserTableName         = "user"
)

// MessageStatus forms the delivery lattice sent < delivered < read.
// failed is a terminal branch outside the lattice: it is never promoted
// and never reached from read.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Rank returns the lattice position, or -1 for failed/unknown.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	default:
		return -1
	}
}

// Media is a descriptor of an already-uploaded blob; the upload surface
// (object storage) is an external collaborator, only URL + metadata land
// here.
type Media struct {
	Type      string `bson:"type" json:"type"` // image|video|audio|document
	IsVoice   bool   `bson:"is_voice" json:"isVoice"`
	URL       string `bson:"url" json:"url"`
	Thumbnail string `bson:"thumbnail,omitempty" json:"thumbnail,omitempty"`
	FileName  string `bson:"file_name,omitempty" json:"fileName,omitempty"`
	FileSize  int64  `bson:"file_size,omitempty" json:"fileSize,omitempty"`
}

type Message struct {
	ID             string        `bson:"_id" json:"messageId"`
	ConversationID string        `bson:"conversation_id" json:"conversationId"`
	Sender         string        `bson:"sender" json:"sender"`
	Receiver       string        `bson:"receiver" json:"receiver"`
	Content        string        `bson:"content" json:"content"`
	Media          *Media        `bson:"media,omitempty" json:"media,omitempty"`
	Status         MessageStatus `bson:"status" json:"status"`
	Timestamp      time.Time     `bson:"timestamp" json:"timestamp"`
}

type Conversation struct {
	ID                 string           `bson:"_id" json:"conversationId"`
	Participants       []string         `bson:"participants" json:"participants"`
	LastMessageID      string           `bson:"last_message_id,omitempty" json:"lastMessageId,omitempty"`
	LastMessagePreview string           `bson:"last_message_preview" json:"lastMessagePreview"`
	UnreadCount        map[string]int64 `bson:"unread_count" json:"unreadCount"`
	UpdatedAt          time.Time        `bson:"updated_at" json:"updatedAt"`
}

// PeerOf returns the other participant of a two-party conversation,
// or "" when userID is not a participant.
func (c *Conversation) PeerOf(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// UnreadFor is nil-map safe.
func (c *Conversation) UnreadFor(userID string) int64 {
	if c.UnreadCount == nil {
		return 0
	}
	return c.UnreadCount[userID]
}

type CallSession struct {
	ID          string     `bson:"_id" json:"callId"`
	CallerID    string     `bson:"caller_id" json:"callerId"`
	CalleeID    string     `bson:"callee_id" json:"calleeId"`
	CallType    string     `bson:"call_type" json:"callType"` // audio|video
	CreatedAt   time.Time  `bson:"created_at" json:"startedAt"`
	ConnectedAt *time.Time `bson:"connected_at,omitempty" json:"connectedAt,omitempty"`
	EndedAt     *time.Time `bson:"ended_at,omitempty" json:"endedAt,omitempty"`
	DurationSec int64      `bson:"duration_sec" json:"duration"`
}

// User is the slice of the profile this layer touches: lastSeen persistence
// on offline, and the snapshot fields the conversation list renders.
// Profile CRUD itself lives with an external collaborator.
type User struct {
	ID              string    `bson:"_id" json:"userId"`
	FullName        string    `bson:"full_name" json:"fullName"`
	Username        string    `bson:"username" json:"username"`
	ProfileImageURL string    `bson:"profile_image_url" json:"profileImageUrl"`
	LastSeen        time.Time `bson:"last_seen" json:"lastSeen"`
}
