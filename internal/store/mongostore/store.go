// Package mongostore keeps users, chats and messages as MongoDB documents.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/pliu/banter/internal/models"
	"github.com/pliu/banter/internal/store"
)

var _ store.Store = (*MongoStore)(nil)

type MongoStore struct {
	client   *mongo.Client
	users    *mongo.Collection
	chats    *mongo.Collection
	messages *mongo.Collection
}

func New(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	db := client.Database(database)
	s := &MongoStore{
		client:   client,
		users:    db.Collection("users"),
		chats:    db.Collection("chats"),
		messages: db.Collection("messages"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("indexes: %w", err)
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.chats.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			// Only direct chats carry a pairKey.
			Keys: bson.D{{Key: "pairKey", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"pairKey": bson.M{"$type": "string"}}),
		},
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updatedAt", Value: -1}}},
	})
	if err != nil {
		return err
	}

	_, err = s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "chatId", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "receiver", Value: 1}, {Key: "seen", Value: 1}, {Key: "chatId", Value: 1}}},
	})
	return err
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

// BSON dates carry milliseconds.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return store.ErrDuplicate
	}
	return err
}

func (s *MongoStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now()
	}
	_, err := s.users.InsertOne(ctx, user)
	return translate(err)
}

func (s *MongoStore) GetUserByName(ctx context.Context, name string) (*models.User, error) {
	var user models.User
	if err := s.users.FindOne(ctx, bson.M{"_id": name}).Decode(&user); err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *MongoStore) SearchUsers(ctx context.Context, prefix string, limit int) ([]models.User, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"secret": 0})
	cur, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}, opts)
	if err != nil {
		return nil, err
	}
	var users []models.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *MongoStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	chat.ID = uuid.NewString()
	chat.CreatedAt = now()
	chat.UpdatedAt = chat.CreatedAt
	chat.MessageSeq = 0
	_, err := s.chats.InsertOne(ctx, chat)
	return translate(err)
}

func (s *MongoStore) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	var chat models.Chat
	if err := s.chats.FindOne(ctx, bson.M{"_id": chatID}).Decode(&chat); err != nil {
		return nil, translate(err)
	}
	return &chat, nil
}

func (s *MongoStore) FindDirectChat(ctx context.Context, pairKey string) (*models.Chat, error) {
	var chat models.Chat
	if err := s.chats.FindOne(ctx, bson.M{"pairKey": pairKey}).Decode(&chat); err != nil {
		return nil, translate(err)
	}
	return &chat, nil
}

func (s *MongoStore) GetUserChats(ctx context.Context, user string) ([]models.Chat, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cur, err := s.chats.Find(ctx, bson.M{"participants": user}, opts)
	if err != nil {
		return nil, err
	}
	chats := []models.Chat{}
	if err := cur.All(ctx, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (s *MongoStore) RenameGroup(ctx context.Context, chatID, name, admin string) (bool, error) {
	res, err := s.chats.UpdateOne(ctx,
		bson.M{"_id": chatID, "admin": admin, "isGroup": true},
		bson.M{"$set": bson.M{"name": name, "updatedAt": now()}})
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func (s *MongoStore) CountUnread(ctx context.Context, user string) (map[string]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "receiver", Value: user}, {Key: "seen", Value: false}}}},
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$chatId"}, {Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
	}
	cur, err := s.messages.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ChatID string `bson:"_id"`
		N      int    `bson:"n"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.ChatID] = r.N
	}
	return counts, nil
}

// SaveMessage reserves the next seq on the chat document and inserts the
// message in one transaction. The chat document is the write-conflict point,
// so appends to a chat commit in seq order and a failed insert rolls the
// counter back. $max keeps updatedAt, and so createdAt, monotonic per chat.
// Transactions need a replica set; a standalone server rejects them.
func (s *MongoStore) SaveMessage(ctx context.Context, msg *models.Message, preview string) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		var chat models.Chat
		err := s.chats.FindOneAndUpdate(sc,
			bson.M{"_id": msg.ChatID},
			bson.M{
				"$inc": bson.M{"messageSeq": 1},
				"$max": bson.M{"updatedAt": now()},
				"$set": bson.M{"lastMessage": preview},
			},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&chat)
		if err != nil {
			return nil, err
		}

		msg.ID = uuid.NewString()
		msg.Seq = chat.MessageSeq
		msg.CreatedAt = chat.UpdatedAt.UTC()
		msg.Seen = false
		msg.DeletedForEveryone = false
		_, err = s.messages.InsertOne(sc, msg)
		return nil, err
	})
	return translate(err)
}

func (s *MongoStore) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	var m models.Message
	if err := s.messages.FindOne(ctx, bson.M{"_id": messageID}).Decode(&m); err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (s *MongoStore) GetChatMessages(ctx context.Context, chatID string, page store.Page) ([]models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	if page.Limit > 0 {
		opts.SetLimit(int64(page.Limit))
	}
	cur, err := s.messages.Find(ctx, bson.M{"chatId": chatID, "seq": bson.M{"$gt": page.After}}, opts)
	if err != nil {
		return nil, err
	}
	messages := []models.Message{}
	if err := cur.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *MongoStore) MarkSeen(ctx context.Context, chatID, reader string) (int64, error) {
	res, err := s.messages.UpdateMany(ctx,
		bson.M{"chatId": chatID, "receiver": reader, "seen": false},
		bson.M{"$set": bson.M{"seen": true}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *MongoStore) SoftDeleteMessage(ctx context.Context, messageID string) (bool, error) {
	res, err := s.messages.UpdateOne(ctx,
		bson.M{"_id": messageID, "deletedForEveryone": false},
		bson.M{"$set": bson.M{"deletedForEveryone": true}})
	if err != nil {
		return false, err
	}
	if res.ModifiedCount > 0 {
		return true, nil
	}
	if _, err := s.GetMessage(ctx, messageID); err != nil {
		return false, err
	}
	return false, nil
}
