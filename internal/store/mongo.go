// ABOUTME: MongoDB implementation of the Store interface using mongo-driver
// ABOUTME: Relies on a unique pair_key index for conversation uniqueness and a counter document for message order

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collUsers         = "users"
	collConversations = "conversations"
	collMessages      = "messages"
	collCounters      = "counters"

	messageSeqCounter = "message_seq"
)

// MongoConfig describes how to reach the database
type MongoConfig struct {
	URI         string
	Database    string
	MaxPoolSize uint64
	Timeout     time.Duration
}

// MongoStore implements the Store interface on MongoDB
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

type userDoc struct {
	ID           string    `bson:"_id"`
	Name         string    `bson:"name"`
	Email        string    `bson:"email"`
	ProfilePic   string    `bson:"profile_pic"`
	PasswordHash string    `bson:"password_hash"`
	CreatedAt    time.Time `bson:"created_at"`
}

type conversationDoc struct {
	ID         string    `bson:"_id"`
	PairKey    string    `bson:"pair_key"`
	Sender     string    `bson:"sender"`
	Receiver   string    `bson:"receiver"`
	MessageIDs []string  `bson:"message_ids"`
	CreatedAt  time.Time `bson:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
	LastSeq    int64     `bson:"last_seq"`
}

type messageDoc struct {
	ID             string    `bson:"_id"`
	Seq            int64     `bson:"seq"`
	ConversationID string    `bson:"conversation_id"`
	AuthorID       string    `bson:"author_id"`
	Text           string    `bson:"text"`
	ImageURL       string    `bson:"image_url"`
	VideoURL       string    `bson:"video_url"`
	Seen           bool      `bson:"seen"`
	CreatedAt      time.Time `bson:"created_at"`
}

// NewMongoStore connects, pings and ensures indexes
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = "chatline"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	s := &MongoStore{
		client: client,
		db:     client.Database(cfg.Database),
		logger: slog.Default().With("component", "store"),
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	s.logger.Info("Mongo store initialized", "database", cfg.Database)
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collUsers: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_email")},
		},
		collConversations: {
			{Keys: bson.D{{Key: "pair_key", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_pair_key")},
			{Keys: bson.D{{Key: "sender", Value: 1}, {Key: "last_seq", Value: -1}}, Options: options.Index().SetName("idx_sender_seq")},
			{Keys: bson.D{{Key: "receiver", Value: 1}, {Key: "last_seq", Value: -1}}, Options: options.Index().SetName("idx_receiver_seq")},
		},
		collMessages: {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "seq", Value: 1}}, Options: options.Index().SetName("idx_conversation_seq")},
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "author_id", Value: 1}, {Key: "seen", Value: 1}}, Options: options.Index().SetName("idx_unseen")},
		},
	}
	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%s: %w", coll, err)
		}
	}
	return nil
}

// Close disconnects the client
func (s *MongoStore) Close() error {
	s.logger.Info("closing Mongo store")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping verifies the primary is reachable
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.Collection(collUsers).InsertOne(ctx, userDoc{
		ID:           user.ID,
		Name:         user.Name,
		Email:        user.Email,
		ProfilePic:   user.ProfilePic,
		PasswordHash: user.PasswordHash,
		CreatedAt:    user.CreatedAt.UTC(),
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (s *MongoStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*User, error) {
	var doc userDoc
	err := s.db.Collection(collUsers).FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &User{
		ID:           doc.ID,
		Name:         doc.Name,
		Email:        doc.Email,
		ProfilePic:   doc.ProfilePic,
		PasswordHash: doc.PasswordHash,
		CreatedAt:    doc.CreatedAt,
	}, nil
}

// CreateConversation inserts the conversation; a duplicate-key error on the
// unique pair_key index maps to ErrDuplicateConversation.
func (s *MongoStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.PairKey == "" {
		conv.PairKey = PairKey(conv.Sender, conv.Receiver)
	}
	_, err := s.db.Collection(collConversations).InsertOne(ctx, conversationDoc{
		ID:         conv.ID,
		PairKey:    conv.PairKey,
		Sender:     conv.Sender,
		Receiver:   conv.Receiver,
		MessageIDs: []string{},
		CreatedAt:  conv.CreatedAt.UTC(),
		UpdatedAt:  conv.UpdatedAt.UTC(),
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}
	s.logger.Debug("created conversation", "id", conv.ID, "pair_key", conv.PairKey)
	return nil
}

func (s *MongoStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return s.findConversation(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetConversationByPair(ctx context.Context, a, b string) (*Conversation, error) {
	return s.findConversation(ctx, bson.M{"pair_key": PairKey(a, b)})
}

func (s *MongoStore) findConversation(ctx context.Context, filter bson.M) (*Conversation, error) {
	var doc conversationDoc
	opts := options.FindOne().SetProjection(bson.M{"message_ids": 0})
	err := s.db.Collection(collConversations).FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return doc.toConversation(), nil
}

func (d *conversationDoc) toConversation() *Conversation {
	return &Conversation{
		ID:        d.ID,
		PairKey:   d.PairKey,
		Sender:    d.Sender,
		Receiver:  d.Receiver,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
		LastSeq:   d.LastSeq,
	}
}

func (s *MongoStore) ListConversationsFor(ctx context.Context, identity string) ([]*Conversation, error) {
	filter := bson.M{"$or": bson.A{bson.M{"sender": identity}, bson.M{"receiver": identity}}}
	opts := options.Find().
		SetSort(bson.D{{Key: "last_seq", Value: -1}, {Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetProjection(bson.M{"message_ids": 0})

	cur, err := s.db.Collection(collConversations).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer cur.Close(ctx)

	var convs []*Conversation
	for cur.Next(ctx) {
		var doc conversationDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding conversation: %w", err)
		}
		convs = append(convs, doc.toConversation())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return convs, nil
}

// nextSeq allocates the next message sequence from the counters collection
func (s *MongoStore) nextSeq(ctx context.Context) (int64, error) {
	var out struct {
		Value int64 `bson:"value"`
	}
	err := s.db.Collection(collCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": messageSeqCounter},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&out)
	if err != nil {
		return 0, fmt.Errorf("allocating message seq: %w", err)
	}
	return out.Value, nil
}

// AppendMessage checks the conversation exists, inserts the message and then
// pushes its id onto the conversation with an atomic update-by-id.
func (s *MongoStore) AppendMessage(ctx context.Context, msg *Message) error {
	n, err := s.db.Collection(collConversations).CountDocuments(ctx, bson.M{"_id": msg.ConversationID})
	if err != nil {
		return fmt.Errorf("checking conversation: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	seq, err := s.nextSeq(ctx)
	if err != nil {
		return err
	}

	_, err = s.db.Collection(collMessages).InsertOne(ctx, messageDoc{
		ID:             msg.ID,
		Seq:            seq,
		ConversationID: msg.ConversationID,
		AuthorID:       msg.AuthorID,
		Text:           msg.Text,
		ImageURL:       msg.ImageURL,
		VideoURL:       msg.VideoURL,
		Seen:           msg.Seen,
		CreatedAt:      msg.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = s.db.Collection(collConversations).UpdateByID(ctx, msg.ConversationID, bson.M{
		"$push": bson.M{"message_ids": msg.ID},
		"$set":  bson.M{"updated_at": msg.CreatedAt.UTC()},
		"$max":  bson.M{"last_seq": seq},
	})
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}

	msg.Seq = seq
	s.logger.Debug("appended message", "id", msg.ID, "conversation_id", msg.ConversationID, "seq", seq)
	return nil
}

func (s *MongoStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cur, err := s.db.Collection(collMessages).Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer cur.Close(ctx)

	var msgs []*Message
	for cur.Next(ctx) {
		var doc messageDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding message: %w", err)
		}
		msgs = append(msgs, doc.toMessage())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

func (s *MongoStore) LastMessage(ctx context.Context, conversationID string) (*Message, error) {
	var doc messageDoc
	opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})
	err := s.db.Collection(collMessages).FindOne(ctx, bson.M{"conversation_id": conversationID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying last message: %w", err)
	}
	return doc.toMessage(), nil
}

func (d *messageDoc) toMessage() *Message {
	return &Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		AuthorID:       d.AuthorID,
		Text:           d.Text,
		ImageURL:       d.ImageURL,
		VideoURL:       d.VideoURL,
		Seen:           d.Seen,
		CreatedAt:      d.CreatedAt,
		Seq:            d.Seq,
	}
}

func (s *MongoStore) CountUnseen(ctx context.Context, conversationID, authorID string) (int, error) {
	n, err := s.db.Collection(collMessages).CountDocuments(ctx, bson.M{
		"conversation_id": conversationID,
		"author_id":       authorID,
		"seen":            false,
	})
	if err != nil {
		return 0, fmt.Errorf("counting unseen messages: %w", err)
	}
	return int(n), nil
}

// MarkSeen flips seen with a single UpdateMany and reports the modified count
func (s *MongoStore) MarkSeen(ctx context.Context, conversationID, authorID string) (int64, error) {
	res, err := s.db.Collection(collMessages).UpdateMany(ctx,
		bson.M{"conversation_id": conversationID, "author_id": authorID, "seen": false},
		bson.M{"$set": bson.M{"seen": true}},
	)
	if err != nil {
		return 0, fmt.Errorf("marking messages seen: %w", err)
	}
	return res.ModifiedCount, nil
}
