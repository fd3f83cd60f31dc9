package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const receiptsCollection = "receipts"

// MongoStore implements Store on a MongoDB collection. Ids are ObjectID hex strings.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// mongoDocument adds the ObjectID primary key to a Document.
type mongoDocument struct {
	ObjectID primitive.ObjectID `bson:"_id,omitempty"`
	Document `bson:",inline"`
}

func (m *mongoDocument) document() *Document {
	doc := m.Document
	doc.ID = m.ObjectID.Hex()
	return &doc
}

// NewMongoStore connects to uri and ensures the unique transaction id index.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}

	coll := client.Database(database).Collection(receiptsCollection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "transaction_info.transaction_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("transaction_id_unique"),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("creating transaction id index: %w", err)
	}

	slog.Info("Connected to MongoDB", "database", database, "collection", receiptsCollection)
	return &MongoStore{client: client, coll: coll}, nil
}

func (m *MongoStore) Save(ctx context.Context, doc *Document) (string, error) {
	res, err := m.coll.InsertOne(ctx, &mongoDocument{Document: *doc})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("%w: %s", ErrDuplicateTransaction, doc.TransactionInfo.TransactionID)
		}
		return "", fmt.Errorf("inserting receipt: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	doc.ID = oid.Hex()
	return doc.ID, nil
}

func (m *MongoStore) Get(ctx context.Context, id string) (*Document, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var md mongoDocument
	if err := m.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&md); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("finding receipt: %w", err)
	}
	return md.document(), nil
}

func (m *MongoStore) List(ctx context.Context, skip, limit int) ([]*Document, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))
	cur, err := m.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	var rows []mongoDocument
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decoding receipts: %w", err)
	}
	docs := make([]*Document, 0, len(rows))
	for i := range rows {
		docs = append(docs, rows[i].document())
	}
	return docs, nil
}

func (m *MongoStore) Count(ctx context.Context) (int, error) {
	n, err := m.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("counting receipts: %w", err)
	}
	return int(n), nil
}

func (m *MongoStore) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	res, err := m.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("deleting receipt: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// HealthCheck pings the primary.
func (m *MongoStore) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		slog.Warn("MongoDB health check failed", "error", err)
		return false
	}
	return true
}

func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
