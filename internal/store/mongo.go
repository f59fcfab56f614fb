package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/hirewire/messaging-service/internal/domain"
)

// Mongo is the production MessageStore and UserDirectory.
type Mongo struct {
	client   *mongo.Client
	db       *mongo.Database
	messages *mongo.Collection
	users    *mongo.Collection
	log      *zap.SugaredLogger

	tsMu   sync.Mutex
	lastTS time.Time
}

type messageDoc struct {
	ID         string    `bson:"_id"`
	PairKey    string    `bson:"pair_key"`
	SenderID   string    `bson:"sender_id"`
	ReceiverID string    `bson:"receiver_id"`
	Content    string    `bson:"content"`
	CreatedAt  time.Time `bson:"created_at"`
	IsRead     bool      `bson:"is_read"`
}

type conversationRow struct {
	ID     string     `bson:"_id"`
	Last   messageDoc `bson:"last"`
	Unread int64      `bson:"unread"`
}

type userDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Email     string    `bson:"email"`
	Role      string    `bson:"role"`
	Company   string    `bson:"company,omitempty"`
	Active    bool      `bson:"active"`
	CreatedAt time.Time `bson:"created_at"`
}

// NewMongo connects, pings and ensures the message indexes.
func NewMongo(ctx context.Context, uri, database string, log *zap.SugaredLogger) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	db := client.Database(database)
	m := &Mongo{
		client:   client,
		db:       db,
		messages: db.Collection("messages"),
		users:    db.Collection("users"),
		log:      log,
	}

	_, err = m.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "pair_key", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "sender_id", Value: 1}, {Key: "is_read", Value: 1}}},
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// nextTimestamp returns a strictly increasing wall-clock time, truncated to
// the millisecond resolution BSON datetimes store. Same-instant appends get
// distinct created_at values, so the (created_at, _id) sort reflects
// insertion order, and the returned message carries exactly the timestamp
// later reads will see.
func (m *Mongo) nextTimestamp() time.Time {
	m.tsMu.Lock()
	defer m.tsMu.Unlock()
	now := time.Now().UTC().Truncate(time.Millisecond)
	if !now.After(m.lastTS) {
		now = m.lastTS.Add(time.Millisecond)
	}
	m.lastTS = now
	return now
}

func (m *Mongo) Append(ctx context.Context, senderID, receiverID, content string) (*domain.Message, error) {
	if err := domain.ValidateContent(senderID, receiverID, content); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	msg := domain.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  m.nextTimestamp(),
		IsRead:     false,
	}
	doc := messageDoc{
		ID:         msg.ID,
		PairKey:    msg.PairKey(),
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		CreatedAt:  msg.CreatedAt,
		IsRead:     msg.IsRead,
	}
	if _, err := m.messages.InsertOne(ctx, doc); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (m *Mongo) ListThread(ctx context.Context, userA, userB, cursor string, limit int) ([]domain.Message, string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"pair_key": domain.PairKey(userA, userB)}
	if cursor != "" {
		after, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		filter["$or"] = []bson.M{
			{"created_at": bson.M{"$gt": after}},
			{"created_at": after, "_id": bson.M{"$gt": id}},
		}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	cur, err := m.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, "", err
	}
	defer cur.Close(ctx)

	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, "", err
	}

	msgs := lo.Map(docs, func(d messageDoc, _ int) domain.Message { return d.message() })
	next := ""
	if len(msgs) == limit && limit > 0 {
		last := msgs[len(msgs)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return msgs, next, nil
}

func (m *Mongo) MarkRead(ctx context.Context, readerID, counterpartID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res, err := m.messages.UpdateMany(ctx,
		bson.M{"receiver_id": readerID, "sender_id": counterpartID, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (m *Mongo) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": []bson.M{{"sender_id": userID}, {"receiver_id": userID}}}}},
		{{Key: "$addFields", Value: bson.M{"counterpart": bson.M{
			"$cond": bson.A{bson.M{"$eq": bson.A{"$sender_id", userID}}, "$receiver_id", "$sender_id"},
		}}}},
		{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$group", Value: bson.M{
			"_id":  "$counterpart",
			"last": bson.M{"$first": "$$ROOT"},
			"unread": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$and": bson.A{
					bson.M{"$eq": bson.A{"$receiver_id", userID}},
					bson.M{"$eq": bson.A{"$is_read", false}},
				}}, 1, 0,
			}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "last.created_at", Value: -1}}}},
	}

	cur, err := m.messages.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rows []conversationRow
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []domain.Conversation{}, nil
	}

	ids := lo.Map(rows, func(r conversationRow, _ int) string { return r.ID })
	users, err := m.GetUsers(ctx, ids)
	if err != nil {
		return nil, err
	}

	convs := make([]domain.Conversation, 0, len(rows))
	for _, r := range rows {
		summary := domain.UserSummary{ID: r.ID}
		if u, ok := users[r.ID]; ok {
			summary = u.Summary()
		}
		convs = append(convs, domain.Conversation{
			Counterpart: summary,
			LastMessage: r.Last.message(),
			UnreadCount: r.Unread,
		})
	}
	return convs, nil
}

func (m *Mongo) GetUser(ctx context.Context, id string) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var doc userDoc
	if err := m.users.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	u := doc.user()
	return &u, nil
}

func (m *Mongo) GetUsers(ctx context.Context, ids []string) (map[string]domain.User, error) {
	cur, err := m.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make(map[string]domain.User, len(docs))
	for _, d := range docs {
		out[d.ID] = d.user()
	}
	return out, nil
}

// CreateUser exists for seeding and local development; the user service owns
// account lifecycle in production.
func (m *Mongo) CreateUser(ctx context.Context, u domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	doc := userDoc{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		Company:   u.Company,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
	}
	_, err := m.users.InsertOne(ctx, doc)
	return err
}

func (d messageDoc) message() domain.Message {
	return domain.Message{
		ID:         d.ID,
		SenderID:   d.SenderID,
		ReceiverID: d.ReceiverID,
		Content:    d.Content,
		CreatedAt:  d.CreatedAt,
		IsRead:     d.IsRead,
	}
}

func (d userDoc) user() domain.User {
	return domain.User{
		ID:        d.ID,
		Name:      d.Name,
		Email:     d.Email,
		Role:      domain.UserRole(d.Role),
		Company:   d.Company,
		Active:    d.Active,
		CreatedAt: d.CreatedAt,
	}
}
