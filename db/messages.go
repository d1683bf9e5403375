package db

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"pawmart/hub"
	"pawmart/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageStore keeps relayed messages in MongoDB. seq preserves insertion
// order, which createdAt alone cannot at millisecond precision.
type MessageStore struct {
	coll *mongo.Collection
}

func NewMessageStore(coll *mongo.Collection) *MessageStore {
	return &MessageStore{coll: coll}
}

type messageDoc struct {
	models.Message `bson:",inline"`
	Seq            int64 `bson:"seq"`
}

var lastSeq atomic.Int64

// nextSeq returns a strictly increasing nanosecond stamp.
func nextSeq(now time.Time) int64 {
	for {
		prev := lastSeq.Load()
		n := now.UnixNano()
		if n <= prev {
			n = prev + 1
		}
		if lastSeq.CompareAndSwap(prev, n) {
			return n
		}
	}
}

// EnsureIndexes creates the conversation lookup index.
func (s *MessageStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "senderId", Value: 1}, {Key: "receiverId", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetName("conversation_seq"),
	})
	return err
}

func (s *MessageStore) Insert(ctx context.Context, msg models.Message) error {
	_, err := s.coll.InsertOne(ctx, messageDoc{Message: msg, Seq: nextSeq(time.Now())})
	return err
}

func (s *MessageStore) Get(ctx context.Context, id string) (models.Message, error) {
	var doc messageDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Message{}, hub.ErrNotFound
	}
	return doc.Message, err
}

// Patch is a compare-and-set on type. A miss is reported as not found or
// stale depending on whether the document exists.
func (s *MessageStore) Patch(ctx context.Context, id string, expect models.MessageType, patch models.MessagePatch) (models.Message, error) {
	set := patchSet(patch)
	if len(set) == 0 {
		return s.Get(ctx, id)
	}
	var doc messageDoc
	err := s.coll.FindOneAndUpdate(ctx, patchFilter(id, expect), bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		current, gerr := s.Get(ctx, id)
		if gerr != nil {
			return models.Message{}, gerr
		}
		return current, hub.ErrStale
	}
	return doc.Message, err
}

func patchFilter(id string, expect models.MessageType) bson.M {
	return bson.M{"_id": id, "type": expect}
}

func patchSet(patch models.MessagePatch) bson.M {
	set := bson.M{}
	if patch.Type != nil {
		set["type"] = *patch.Type
	}
	if patch.Content != nil {
		set["content"] = *patch.Content
	}
	return set
}

func (s *MessageStore) Conversation(ctx context.Context, a, b string) ([]models.Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"senderId": a, "receiverId": b},
		bson.M{"senderId": b, "receiverId": a},
	}}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]models.Message, len(docs))
	for i, d := range docs {
		out[i] = d.Message
	}
	return out, nil
}

var _ hub.MessageStore = (*MessageStore)(nil)
