package storage

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ntpoppe/sharply-sub000/service/chat"
	"github.com/ntpoppe/sharply-sub000/tools/errs"
	"github.com/ntpoppe/sharply-sub000/tools/ids"
)

const (
	collMessages  = "messages"
	historyLimit  = 200
	StatusNormal  = 0
	StatusRevoked = 1
	StatusDeleted = 2
)

// MessageDoc is the stored shape of one channel message.
type MessageDoc struct {
	ID        string `bson:"_id"`        // snowflake, assigned here
	ChannelID string `bson:"channel_id"`
	SenderID  string `bson:"sender_id"`
	Content   string `bson:"content"`
	SendTime  int64  `bson:"send_time"` // unix ms, UTC, assigned here
	Status    int32  `bson:"status"`    // soft delete lives in the store only
}

// ChannelChecker answers whether a channel exists; the relational side
// owns channel rows, so the message store delegates the check.
type ChannelChecker interface {
	ChannelExists(ctx context.Context, channelID string) (bool, error)
}

// MongoMessages persists channel messages. Timestamps are assigned at
// persist time and kept strictly increasing per channel even when the
// wall clock stalls within a millisecond.
type MongoMessages struct {
	db       *mongo.Database
	channels ChannelChecker

	mu     sync.Mutex
	lastTS map[string]int64 // channel -> last assigned unix ms
}

func NewMongoMessages(db *mongo.Database, channels ChannelChecker) *MongoMessages {
	return &MongoMessages{
		db:       db,
		channels: channels,
		lastTS:   make(map[string]int64),
	}
}

func (s *MongoMessages) coll() *mongo.Collection { return s.db.Collection(collMessages) }

// nextTimestamp hands out a per-channel strictly increasing unix-ms
// timestamp. Callers (the dispatcher) already serialize per channel;
// the guard here makes the store safe on its own as well.
func (s *MongoMessages) nextTimestamp(channelID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC().UnixMilli()
	if last, ok := s.lastTS[channelID]; ok && now <= last {
		now = last + 1
	}
	s.lastTS[channelID] = now
	return now
}

// Persist validates the channel, assigns ID and timestamp, and inserts
// the document. Returns errs.ErrChannelNotFound for unknown channels.
func (s *MongoMessages) Persist(ctx context.Context, channelID, senderID, content string) (*chat.Message, error) {
	exists, err := s.channels.ChannelExists(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errs.ErrChannelNotFound.WithDetail(channelID)
	}

	doc := MessageDoc{
		ID:        ids.GenerateString(),
		ChannelID: channelID,
		SenderID:  senderID,
		Content:   content,
		SendTime:  s.nextTimestamp(channelID),
		Status:    StatusNormal,
	}
	if _, err := s.coll().InsertOne(ctx, doc); err != nil {
		return nil, errs.ErrPersistenceUnavailable.WrapMsg(err.Error(), "op", "insert_message")
	}
	return docToMessage(&doc), nil
}

// History returns the channel's most recent messages, ascending by
// timestamp, soft-deleted entries filtered out.
func (s *MongoMessages) History(ctx context.Context, channelID string) ([]*chat.Message, error) {
	filter := bson.M{
		"channel_id": channelID,
		"status":     bson.M{"$ne": StatusDeleted},
	}
	// newest page first, then flip to ascending for display order
	cur, err := s.coll().Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "send_time", Value: -1}}).SetLimit(historyLimit))
	if err != nil {
		return nil, errs.ErrPersistenceUnavailable.WrapMsg(err.Error(), "op", "history")
	}
	defer cur.Close(ctx)

	var docs []MessageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errs.ErrPersistenceUnavailable.WrapMsg(err.Error(), "op", "history_decode")
	}
	out := make([]*chat.Message, len(docs))
	for i := range docs {
		out[len(docs)-1-i] = docToMessage(&docs[i])
	}
	return out, nil
}

// MarkDeleted soft-deletes one message (moderation surface).
func (s *MongoMessages) MarkDeleted(ctx context.Context, messageID string) error {
	_, err := s.coll().UpdateOne(ctx,
		bson.M{"_id": messageID},
		bson.M{"$set": bson.M{"status": StatusDeleted}})
	if err != nil {
		return errs.ErrPersistenceUnavailable.WrapMsg(err.Error(), "op", "mark_deleted")
	}
	return nil
}

func docToMessage(d *MessageDoc) *chat.Message {
	return &chat.Message{
		ID:        d.ID,
		ChannelID: d.ChannelID,
		SenderID:  d.SenderID,
		Content:   d.Content,
		Timestamp: time.UnixMilli(d.SendTime).UTC(),
	}
}
