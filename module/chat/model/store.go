package model

import (
	"context"
	"time"

	"DuoChat/service/mgo"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore is the durable side of the realtime layer. Every promotion
// filter re-states the lattice guard, so a racing writer can only ever move
// a status forward; re-applying an equal or lower status matches nothing.
type MongoStore struct{}

func NewMongoStore() *MongoStore { return &MongoStore{} }

func (s *MongoStore) messages() *mongo.Collection {
	return mgo.GetDB().Collection(MessageTableName)
}

func (s *MongoStore) conversations() *mongo.Collection {
	return mgo.GetDB().Collection(ConversationTableName)
}

func (s *MongoStore) calls() *mongo.Collection {
	return mgo.GetDB().Collection(CallTableName)
}

func (s *MongoStore) users() *mongo.Collection {
	return mgo.GetDB().Collection(UserTableName)
}

// ---- messages ----

func (s *MongoStore) InsertMessage(ctx context.Context, msg *Message) error {
	_, err := s.messages().InsertOne(ctx, msg)
	return errors.Wrap(err, "insert message")
}

// ListMessages returns up to limit messages newest-first, strictly older
// than the cursor when one is given.
func (s *MongoStore) ListMessages(ctx context.Context, convID string, before time.Time, limit int) ([]Message, error) {
	filter := bson.M{"conversation_id": convID}
	if !before.IsZero() {
		filter["timestamp"] = bson.M{"$lt": before}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.messages().Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	var out []Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode messages")
	}
	return out, nil
}

// PromoteConversationRead bulk-promotes every message to the receiver in
// this conversation that sits below read, and returns the promoted IDs.
func (s *MongoStore) PromoteConversationRead(ctx context.Context, convID, receiverID string) ([]string, error) {
	below := bson.M{"$in": []MessageStatus{StatusSent, StatusDelivered}}
	filter := bson.M{
		"conversation_id": convID,
		"receiver":        receiverID,
		"status":          below,
	}
	cur, err := s.messages().Find(ctx, filter,
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, errors.Wrap(err, "find unread")
	}
	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, errors.Wrap(err, "decode unread")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	// The status guard repeats in the update filter: a concurrent promotion
	// cannot be regressed.
	_, err = s.messages().UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "status": below},
		bson.M{"$set": bson.M{"status": StatusRead}})
	if err != nil {
		return nil, errors.Wrap(err, "promote read")
	}
	return ids, nil
}

// PromotePendingDelivered moves the user's sent messages to delivered
// across all conversations, returning promoted IDs grouped by conversation.
func (s *MongoStore) PromotePendingDelivered(ctx context.Context, receiverID string) (map[string][]string, error) {
	filter := bson.M{"receiver": receiverID, "status": StatusSent}
	cur, err := s.messages().Find(ctx, filter,
		options.Find().SetProjection(bson.M{"_id": 1, "conversation_id": 1}))
	if err != nil {
		return nil, errors.Wrap(err, "find pending")
	}
	var rows []struct {
		ID             string `bson:"_id"`
		ConversationID string `bson:"conversation_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, errors.Wrap(err, "decode pending")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(rows))
	byConv := make(map[string][]string)
	for _, r := range rows {
		ids = append(ids, r.ID)
		byConv[r.ConversationID] = append(byConv[r.ConversationID], r.ID)
	}
	_, err = s.messages().UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "status": StatusSent},
		bson.M{"$set": bson.M{"status": StatusDelivered}})
	if err != nil {
		return nil, errors.Wrap(err, "promote delivered")
	}
	return byConv, nil
}

// ---- conversations ----

// GetConversation returns nil without error for unknown IDs.
func (s *MongoStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := s.conversations().FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get conversation")
	}
	return &conv, nil
}

func (s *MongoStore) ListConversations(ctx context.Context, userID string, before time.Time, limit int) ([]Conversation, error) {
	filter := bson.M{"participants": userID}
	if !before.IsZero() {
		filter["updated_at"] = bson.M{"$lt": before}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.conversations().Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "list conversations")
	}
	var out []Conversation
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode conversations")
	}
	return out, nil
}

// ApplyLastMessage records the new tail message on the conversation: the
// sender's counter always resets on a send, the receiver's increments only
// when the message did not land as read.
func (s *MongoStore) ApplyLastMessage(ctx context.Context, convID, msgID, preview string, ts time.Time, senderID, receiverID string, incReceiver bool) error {
	update := bson.M{
		"$set": bson.M{
			"last_message_id":        msgID,
			"last_message_preview":   preview,
			"updated_at":             ts,
			"unread_count." + senderID: int64(0),
		},
	}
	if incReceiver {
		update["$inc"] = bson.M{"unread_count." + receiverID: int64(1)}
	}
	_, err := s.conversations().UpdateOne(ctx, bson.M{"_id": convID}, update)
	return errors.Wrap(err, "apply last message")
}

func (s *MongoStore) ResetUnread(ctx context.Context, convID, userID string) error {
	_, err := s.conversations().UpdateOne(ctx,
		bson.M{"_id": convID},
		bson.M{"$set": bson.M{"unread_count." + userID: int64(0)}})
	return errors.Wrap(err, "reset unread")
}

// ---- calls ----

func (s *MongoStore) InsertCall(ctx context.Context, call *CallSession) error {
	_, err := s.calls().InsertOne(ctx, call)
	return errors.Wrap(err, "insert call")
}

// MarkCallConnected sets connectedAt once; a duplicate accept matches
// nothing and reports false.
func (s *MongoStore) MarkCallConnected(ctx context.Context, callID string, at time.Time) (bool, error) {
	res, err := s.calls().UpdateOne(ctx,
		bson.M{"_id": callID, "connected_at": nil},
		bson.M{"$set": bson.M{"connected_at": at}})
	if err != nil {
		return false, errors.Wrap(err, "mark call connected")
	}
	return res.ModifiedCount > 0, nil
}

// MarkCallEnded persists endedAt and the duration exactly once: the
// ended_at-nil filter makes repeated cleanup a no-op, so duration can never
// be computed twice.
func (s *MongoStore) MarkCallEnded(ctx context.Context, callID string, at time.Time) error {
	var call CallSession
	err := s.calls().FindOne(ctx, bson.M{"_id": callID}).Decode(&call)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "load call")
	}
	var duration int64
	if call.ConnectedAt != nil {
		duration = int64(at.Sub(*call.ConnectedAt) / time.Second)
	}
	_, err = s.calls().UpdateOne(ctx,
		bson.M{"_id": callID, "ended_at": nil},
		bson.M{"$set": bson.M{"ended_at": at, "duration_sec": duration}})
	return errors.Wrap(err, "mark call ended")
}

func (s *MongoStore) ListCallsForUser(ctx context.Context, userID string, limit int) ([]CallSession, error) {
	filter := bson.M{"$or": []bson.M{
		{"caller_id": userID},
		{"callee_id": userID},
	}}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.calls().Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "list calls")
	}
	var out []CallSession
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode calls")
	}
	return out, nil
}

// ---- users ----

func (s *MongoStore) UpdateLastSeen(ctx context.Context, userID string, at time.Time) error {
	_, err := s.users().UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"last_seen": at}})
	return errors.Wrap(err, "update last seen")
}

func (s *MongoStore) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	err := s.users().FindOne(ctx, bson.M{"_id": userID}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	return &u, nil
}
