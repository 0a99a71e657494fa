package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/courier/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Mongo stores messages in the threads collection and chats in the chats
// collection. Server time comes from $$NOW and $currentDate.
type Mongo struct {
	client  *mongo.Client
	threads *mongo.Collection
	chats   *mongo.Collection
	logger  *zap.Logger
}

var _ Store = (*Mongo)(nil)

// DialMongo connects to uri and ensures the indexes the store relies on.
// opTimeout bounds every operation that carries no earlier deadline.
func DialMongo(ctx context.Context, uri, database string, opTimeout time.Duration, logger *zap.Logger) (*Mongo, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Client().ApplyURI(uri)
	if opTimeout > 0 {
		opts.SetTimeout(opTimeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	db := client.Database(database)
	m := &Mongo{
		client:  client,
		threads: db.Collection("threads"),
		chats:   db.Collection("chats"),
		logger:  logger,
	}
	if err := m.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := m.threads.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "optimisticId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("optimistic_id_idx"),
		},
		{
			Keys:    bson.D{{Key: "chatId", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("chat_ts_idx"),
		},
	})
	if err != nil {
		return classify("create indexes", err)
	}
	return nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// classify wraps network-class driver errors with ErrUnavailable.
func classify(op string, err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	if errors.Is(err, mongo.ErrClientDisconnected) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": oid}
	}
	return bson.M{"_id": id}
}

// lit keeps pipeline updates from reading user text such as "$5" as a field path.
func lit(v any) bson.M {
	return bson.M{"$literal": v}
}

type threadDoc struct {
	ID            primitive.ObjectID `bson:"_id"`
	ChatID        string             `bson:"chatId"`
	SenderID      string             `bson:"senderId"`
	SenderName    string             `bson:"senderName"`
	Text          string             `bson:"text,omitempty"`
	ImageURL      string             `bson:"imageUrl,omitempty"`
	AudioURL      string             `bson:"audioUrl,omitempty"`
	AudioDuration int                `bson:"audioDuration,omitempty"`
	AudioSize     int64              `bson:"audioSize,omitempty"`
	Timestamp     any                `bson:"timestamp"`
	Status        string             `bson:"status"`
	OptimisticID  string             `bson:"optimisticId"`
}

// WriteMessage upserts by optimisticId. The first write fixes the server
// timestamp; rewrites keep it.
func (m *Mongo) WriteMessage(ctx context.Context, msg *model.Message) (Receipt, error) {
	if msg.OptimisticID == "" {
		return Receipt{}, errors.New("write message: empty optimistic id")
	}
	set := bson.M{
		"chatId":       lit(msg.ChatID),
		"senderId":     lit(msg.SenderID),
		"senderName":   lit(msg.SenderName),
		"optimisticId": lit(msg.OptimisticID),
		"timestamp":    bson.M{"$ifNull": bson.A{"$timestamp", "$$NOW"}},
		"status":       bson.M{"$ifNull": bson.A{"$status", string(model.StatusSent)}},
	}
	c := msg.Content
	switch c.Type() {
	case model.ContentVoice:
		set["audioUrl"] = lit(c.AudioURL)
		set["audioDuration"] = c.AudioDuration
		set["audioSize"] = c.AudioSize
	case model.ContentImage:
		set["imageUrl"] = lit(c.ImageURL)
		if c.Text != "" {
			set["text"] = lit(c.Text)
		}
	default:
		set["text"] = lit(c.Text)
	}

	var doc threadDoc
	err := m.threads.FindOneAndUpdate(ctx,
		bson.M{"optimisticId": msg.OptimisticID},
		mongo.Pipeline{{{Key: "$set", Value: set}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return Receipt{}, classify("write message", err)
	}
	return Receipt{ID: doc.ID.Hex(), Timestamp: Millis(doc.Timestamp)}, nil
}

func (m *Mongo) UpdateMessageStatus(ctx context.Context, id string, status model.MessageStatus) error {
	res, err := m.threads.UpdateOne(ctx, idFilter(id), bson.M{"$set": bson.M{"status": string(status)}})
	if err != nil {
		return classify("update message status", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update message status %s: %w", id, ErrNotFound)
	}
	return nil
}

func (m *Mongo) UpdateChatSummary(ctx context.Context, chatID string, last model.LastMessage) error {
	update := mongo.Pipeline{{{Key: "$set", Value: bson.M{
		"lastMessage": bson.M{
			"senderId":   lit(last.SenderID),
			"senderName": lit(last.SenderName),
			"text":       lit(last.Text),
			"type":       string(last.Type),
			"timestamp":  "$$NOW",
		},
		"lastMessageTime": "$$NOW",
		"updatedAt":       "$$NOW",
	}}}}
	if _, err := m.chats.UpdateOne(ctx, bson.M{"_id": chatID}, update); err != nil {
		return classify("update chat summary", err)
	}
	return nil
}

type lastMessageDoc struct {
	SenderID   string `bson:"senderId"`
	SenderName string `bson:"senderName"`
	Text       string `bson:"text"`
	Type       string `bson:"type"`
	Timestamp  any    `bson:"timestamp"`
}

type chatDoc struct {
	ID           string          `bson:"_id"`
	Type         string          `bson:"type"`
	Name         string          `bson:"name,omitempty"`
	Participants []string        `bson:"participants"`
	AdminIDs     []string        `bson:"adminIds"`
	LastMessage  *lastMessageDoc `bson:"lastMessage,omitempty"`
	UpdatedAt    any             `bson:"updatedAt"`
	Muted        bool            `bson:"muted"`
}

func (d *chatDoc) toModel() *model.Chat {
	c := &model.Chat{
		ID:           d.ID,
		Type:         model.ChatType(d.Type),
		Name:         d.Name,
		Participants: d.Participants,
		AdminIDs:     d.AdminIDs,
		UpdatedAt:    Millis(d.UpdatedAt),
		Muted:        d.Muted,
	}
	if d.LastMessage != nil {
		c.LastMessage = &model.LastMessage{
			SenderID:   d.LastMessage.SenderID,
			SenderName: d.LastMessage.SenderName,
			Text:       d.LastMessage.Text,
			Type:       model.ContentType(d.LastMessage.Type),
			Timestamp:  Millis(d.LastMessage.Timestamp),
		}
	}
	return c
}

func (m *Mongo) CreateChat(ctx context.Context, c *model.Chat) (*model.Chat, error) {
	admins := c.AdminIDs
	if admins == nil {
		admins = []string{}
	}
	update := bson.M{
		"$setOnInsert": bson.M{
			"type":         string(c.Type),
			"name":         c.Name,
			"participants": c.Participants,
			"adminIds":     admins,
			"muted":        c.Muted,
		},
		"$currentDate": bson.M{"updatedAt": true},
	}
	var doc chatDoc
	err := m.chats.FindOneAndUpdate(ctx, bson.M{"_id": c.ID}, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return nil, classify("create chat", err)
	}
	return doc.toModel(), nil
}

func (m *Mongo) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	var doc chatDoc
	err := m.chats.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, classify("get chat", err)
	}
	return doc.toModel(), nil
}

func (m *Mongo) DeleteChat(ctx context.Context, id string) error {
	res, err := m.chats.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return classify("delete chat", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	if _, err := m.threads.DeleteMany(ctx, bson.M{"chatId": id}); err != nil {
		// The chat is gone, orphaned messages are unreachable.
		m.logger.Warn("delete chat messages", zap.String("chat_id", id), zap.Error(err))
	}
	return nil
}

func (m *Mongo) RemoveParticipant(ctx context.Context, chatID, userID string) error {
	res, err := m.chats.UpdateOne(ctx, bson.M{"_id": chatID}, bson.M{
		"$pull":        bson.M{"participants": userID, "adminIds": userID},
		"$currentDate": bson.M{"updatedAt": true},
	})
	if err != nil {
		return classify("remove participant", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	return nil
}

// SetReaction adds or removes userID under reactions.<emoji> of the message.
func (m *Mongo) SetReaction(ctx context.Context, r *model.Reaction) error {
	op := "$addToSet"
	if r.Remove {
		op = "$pull"
	}
	res, err := m.threads.UpdateOne(ctx, idFilter(r.MessageID), bson.M{
		op: bson.M{"reactions." + r.Emoji: r.UserID},
	})
	if err != nil {
		return classify("set reaction", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("message %s: %w", r.MessageID, ErrNotFound)
	}
	return nil
}
