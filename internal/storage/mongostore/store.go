// Package mongostore is the document-database LedgerStore. Documents keep
// the field names of the legacy transactions collection (user_id,
// user_name, amount) so existing data stays readable.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tallybot/backend/internal/models"
	"github.com/tallybot/backend/internal/storage"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// collection is the subset of *mongo.Collection the store uses.
type collection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	FindOneAndDelete(ctx context.Context, filter interface{}, opts ...*options.FindOneAndDeleteOptions) *mongo.SingleResult
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

type document struct {
	ID            primitive.ObjectID `bson:"_id"`
	SubjectID     snowflake          `bson:"user_id"`
	SubjectName   string             `bson:"user_name"`
	Item          string             `bson:"item,omitempty"`
	Amount        float64            `bson:"amount"`
	PaymentMethod string             `bson:"payment_method,omitempty"`
	Reason        string             `bson:"reason,omitempty"`
	LoggedBy      string             `bson:"logged_by"`
	CreatedAt     time.Time          `bson:"created_at"`
}

// snowflake is a Discord user id, written as a string. Older documents
// stored it as a number, so decoding accepts either.
type snowflake string

func (s *snowflake) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: t, Value: data}
	if str, ok := raw.StringValueOK(); ok {
		*s = snowflake(str)
		return nil
	}
	if n, ok := raw.Int64OK(); ok {
		*s = snowflake(strconv.FormatInt(n, 10))
		return nil
	}
	if n, ok := raw.Int32OK(); ok {
		*s = snowflake(strconv.FormatInt(int64(n), 10))
		return nil
	}
	if f, ok := raw.DoubleOK(); ok {
		*s = snowflake(strconv.FormatFloat(f, 'f', -1, 64))
		return nil
	}
	if t == bsontype.Null || t == bsontype.Undefined {
		*s = ""
		return nil
	}
	return fmt.Errorf("user_id: unsupported bson type %s", t)
}

// subjectFilter matches both the string form and, for numeric ids, the
// legacy numeric form. Mongo compares numbers across int32, int64 and double.
func subjectFilter(id string) interface{} {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return bson.M{"$in": bson.A{id, n}}
	}
	return id
}

// creationOrder sorts documents the way they were inserted. Legacy documents
// without created_at fall back to ObjectID order, which is time-prefixed.
var creationOrder = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

// Store is a LedgerStore over one MongoDB collection.
type Store struct {
	client *mongo.Client
	coll   collection
	now    func() time.Time
}

// New creates a Store over database.collection of client.
func New(client *mongo.Client, database, coll string) *Store {
	return &Store{
		client: client,
		coll:   client.Database(database).Collection(coll),
		now:    time.Now,
	}
}

func (s *Store) Insert(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error) {
	entry, err := storage.PrepareInsert(entry, s.now())
	if err != nil {
		return models.LedgerEntry{}, err
	}

	doc := toDocument(entry)
	doc.ID = primitive.NewObjectID()
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return models.LedgerEntry{}, classify("insert", err)
	}

	// Mongo keeps milliseconds and a float64 amount; return what a later
	// read will see.
	entry.ID = doc.ID.Hex()
	entry.Amount = decimal.NewFromFloat(doc.Amount)
	entry.CreatedAt = doc.CreatedAt
	return entry, nil
}

func (s *Store) ListBySubject(ctx context.Context, subjectID string) ([]models.LedgerEntry, error) {
	docs, err := s.find(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	entries := make([]models.LedgerEntry, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, fromDocument(d))
	}
	return entries, nil
}

func (s *Store) find(ctx context.Context, subjectID string) ([]document, error) {
	cur, err := s.coll.Find(ctx, bson.M{"user_id": subjectFilter(subjectID)}, options.Find().SetSort(creationOrder))
	if err != nil {
		return nil, classify("find", err)
	}

	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classify("decode", err)
	}
	return docs, nil
}

// DeleteByMatch uses findOneAndDelete so matching and deleting happen in one
// server-side step.
func (s *Store) DeleteByMatch(ctx context.Context, subjectID string, m storage.Matcher) (models.LedgerEntry, bool, error) {
	res := s.coll.FindOneAndDelete(ctx, matchFilter(subjectID, m), options.FindOneAndDelete().SetSort(creationOrder))

	var doc document
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.LedgerEntry{}, false, nil
		}
		return models.LedgerEntry{}, false, classify("find and delete", err)
	}
	return fromDocument(doc), true, nil
}

// DeleteByIndex resolves index against a fresh listing and deletes that
// document by _id. Callers wanting protection from concurrent commands wrap
// the store with storage.NewSerialized.
func (s *Store) DeleteByIndex(ctx context.Context, subjectID string, index int) (models.LedgerEntry, bool, error) {
	docs, err := s.find(ctx, subjectID)
	if err != nil {
		return models.LedgerEntry{}, false, err
	}
	if !storage.IndexInRange(index, len(docs)) {
		return models.LedgerEntry{}, false, nil
	}

	target := docs[index-1]
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": target.ID})
	if err != nil {
		return models.LedgerEntry{}, false, classify("delete", err)
	}
	if res.DeletedCount == 0 {
		return models.LedgerEntry{}, false, nil
	}
	return fromDocument(target), true, nil
}

// Ping checks the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func matchFilter(subjectID string, m storage.Matcher) bson.M {
	filter := bson.M{"user_id": subjectFilter(subjectID)}
	if m.Amount != nil {
		filter["amount"] = m.Amount.InexactFloat64()
	}
	if m.Item != "" {
		filter["item"] = m.Item
	}
	if m.PaymentMethod != "" {
		filter["payment_method"] = m.PaymentMethod
	}
	return filter
}

func classify(op string, err error) error {
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return fmt.Errorf("%w: mongo %s: %v", storage.ErrTransient, op, err)
	}
	return fmt.Errorf("mongo %s: %w", op, err)
}

func toDocument(e models.LedgerEntry) document {
	return document{
		SubjectID:     snowflake(e.SubjectID),
		SubjectName:   e.SubjectName,
		Item:          e.Item,
		Amount:        e.Amount.InexactFloat64(),
		PaymentMethod: e.PaymentMethod,
		LoggedBy:      e.LoggedBy,
		CreatedAt:     e.CreatedAt.Truncate(time.Millisecond),
	}
}

func fromDocument(d document) models.LedgerEntry {
	payment := d.PaymentMethod
	if payment == "" {
		payment = d.Reason
	}
	return models.LedgerEntry{
		ID:            d.ID.Hex(),
		SubjectID:     string(d.SubjectID),
		SubjectName:   d.SubjectName,
		Item:          d.Item,
		Amount:        decimal.NewFromFloat(d.Amount),
		PaymentMethod: payment,
		LoggedBy:      d.LoggedBy,
		CreatedAt:     d.CreatedAt.UTC(),
	}
}

var (
	_ storage.LedgerStore = (*Store)(nil)
	_ storage.Pinger      = (*Store)(nil)
)
