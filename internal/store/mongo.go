package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Tyrowin/campuschat/internal/identity"
)

// Collection names follow the account service's schema: messages reference
// users by ObjectId.
const (
	mongoMessages = "messages"
	mongoUsers    = "users"
)

type mongoMessage struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Sender    interface{}        `bson:"sender"`
	Receiver  interface{}        `bson:"receiver"`
	Content   string             `bson:"content"`
	Timestamp time.Time          `bson:"timestamp"`
}

type mongoUser struct {
	ID    interface{} `bson:"_id"`
	Name  string      `bson:"name"`
	Email string      `bson:"email"`
}

// OpenMongo connects and pings a Mongo deployment.
func OpenMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "ping mongo")
	}
	return client, nil
}

// mongoRef stores hex IDs as ObjectIds so documents stay joinable with the
// users collection; anything else is kept as a plain string.
func mongoRef(id string) interface{} {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func mongoRefString(v interface{}) string {
	switch ref := v.(type) {
	case primitive.ObjectID:
		return ref.Hex()
	case string:
		return ref
	default:
		return ""
	}
}

// MongoLog stores messages in the messages collection.
type MongoLog struct {
	coll *mongo.Collection
}

// NewMongoLog uses db.messages.
func NewMongoLog(db *mongo.Database) *MongoLog {
	return &MongoLog{coll: db.Collection(mongoMessages)}
}

// EnsureIndexes creates the conversation index.
func (l *MongoLog) EnsureIndexes(ctx context.Context) error {
	_, err := l.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "sender", Value: 1}, {Key: "receiver", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	return errors.Wrap(err, "create message index")
}

// Append implements MessageLog.
func (l *MongoLog) Append(ctx context.Context, sender, receiver, content string, ts time.Time) (string, error) {
	res, err := l.coll.InsertOne(ctx, mongoMessage{
		Sender:    mongoRef(sender),
		Receiver:  mongoRef(receiver),
		Content:   content,
		Timestamp: ts.UTC(),
	})
	if err != nil {
		return "", unavailable("insert message", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", errors.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

// Query implements MessageLog.
func (l *MongoLog) Query(ctx context.Context, userA, userB string) ([]Message, error) {
	a, b := mongoRef(userA), mongoRef(userB)
	filter := bson.M{"$or": bson.A{
		bson.M{"sender": a, "receiver": b},
		bson.M{"sender": b, "receiver": a},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})

	cur, err := l.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, unavailable("find conversation", err)
	}
	var docs []mongoMessage
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable("decode conversation", err)
	}

	out := make([]Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, Message{
			ID:        d.ID.Hex(),
			Sender:    mongoRefString(d.Sender),
			Receiver:  mongoRefString(d.Receiver),
			Content:   d.Content,
			Timestamp: d.Timestamp,
		})
	}
	return out, nil
}

// MongoDirectory reads display info from the users collection.
type MongoDirectory struct {
	coll *mongo.Collection
}

// NewMongoDirectory uses db.users.
func NewMongoDirectory(db *mongo.Database) *MongoDirectory {
	return &MongoDirectory{coll: db.Collection(mongoUsers)}
}

// LookupDisplayInfo implements identity.Directory.
func (d *MongoDirectory) LookupDisplayInfo(ctx context.Context, userID string) (identity.DisplayInfo, error) {
	var u mongoUser
	err := d.coll.FindOne(ctx, bson.M{"_id": mongoRef(userID)}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return identity.DisplayInfo{}, errors.Wrapf(identity.ErrNotFound, "user %q", userID)
	}
	if err != nil {
		return identity.DisplayInfo{}, errors.Wrap(err, "lookup user")
	}
	return identity.DisplayInfo{ID: mongoRefString(u.ID), Name: u.Name, Email: u.Email}, nil
}
