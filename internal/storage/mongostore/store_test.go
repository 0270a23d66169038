package mongostore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tallybot/backend/internal/storage"
	"github.com/tallybot/backend/internal/storage/storagetest"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MockCollection struct {
	mock.Mock
}

func (m *MockCollection) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	args := m.Called(ctx, document)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mongo.InsertOneResult), args.Error(1)
}

func (m *MockCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mongo.Cursor), args.Error(1)
}

func (m *MockCollection) FindOneAndDelete(ctx context.Context, filter interface{}, opts ...*options.FindOneAndDeleteOptions) *mongo.SingleResult {
	args := m.Called(ctx, filter)
	return args.Get(0).(*mongo.SingleResult)
}

func (m *MockCollection) DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mongo.DeleteResult), args.Error(1)
}

func newTestStore(coll *MockCollection) *Store {
	return &Store{
		coll: coll,
		now:  func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 123456789, time.UTC) },
	}
}

func cursorOf(t *testing.T, docs ...document) *mongo.Cursor {
	items := make([]interface{}, 0, len(docs))
	for _, d := range docs {
		items = append(items, d)
	}
	cur, err := mongo.NewCursorFromDocuments(items, nil, nil)
	require.NoError(t, err)
	return cur
}

func testDoc(amount float64, item string, at time.Time) document {
	return document{
		ID:            primitive.NewObjectID(),
		SubjectID:     "U1",
		SubjectName:   "user-U1",
		Item:          item,
		Amount:        amount,
		PaymentMethod: "cashapp",
		LoggedBy:      "admin-1",
		CreatedAt:     at,
	}
}

func TestStore_Insert(t *testing.T) {
	ctx := context.Background()

	t.Run("stores document with legacy field names", func(t *testing.T) {
		coll := &MockCollection{}
		s := newTestStore(coll)

		coll.On("InsertOne", ctx, mock.MatchedBy(func(d document) bool {
			return !d.ID.IsZero() &&
				d.SubjectID == "U1" &&
				d.Amount == 19.99 &&
				d.LoggedBy == "admin-1" &&
				d.CreatedAt.Equal(time.Date(2026, 5, 1, 10, 0, 0, 123000000, time.UTC))
		})).Return(&mongo.InsertOneResult{}, nil)

		e, err := s.Insert(ctx, storagetest.NewEntry("U1", "19.99"))
		require.NoError(t, err)
		assert.Len(t, e.ID, 24)
		assert.True(t, e.Amount.Equal(decimal.RequireFromString("19.99")))
		coll.AssertExpectations(t)
	})

	t.Run("returns the amount a later read will see", func(t *testing.T) {
		coll := &MockCollection{}
		s := newTestStore(coll)
		coll.On("InsertOne", ctx, mock.Anything).Return(&mongo.InsertOneResult{}, nil)

		const precise = "19.999999999999999999"
		e, err := s.Insert(ctx, storagetest.NewEntry("U1", precise))
		require.NoError(t, err)

		stored := decimal.NewFromFloat(decimal.RequireFromString(precise).InexactFloat64())
		assert.True(t, e.Amount.Equal(stored), "got %s, want %s", e.Amount, stored)
		assert.False(t, e.Amount.Equal(decimal.RequireFromString(precise)))
	})

	t.Run("invalid entry never reaches mongo", func(t *testing.T) {
		coll := &MockCollection{}
		s := newTestStore(coll)

		_, err := s.Insert(ctx, storagetest.NewEntry("", "1"))
		assert.ErrorIs(t, err, storage.ErrInvalidEntry)
		coll.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
	})

	t.Run("timeout is transient", func(t *testing.T) {
		coll := &MockCollection{}
		s := newTestStore(coll)
		coll.On("InsertOne", ctx, mock.Anything).Return(nil, context.DeadlineExceeded)

		_, err := s.Insert(ctx, storagetest.NewEntry("U1", "1"))
		assert.ErrorIs(t, err, storage.ErrTransient)
	})

	t.Run("other failures are not transient", func(t *testing.T) {
		coll := &MockCollection{}
		s := newTestStore(coll)
		coll.On("InsertOne", ctx, mock.Anything).Return(nil, errors.New("duplicate key"))

		_, err := s.Insert(ctx, storagetest.NewEntry("U1", "1"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, storage.ErrTransient)
	})
}

func TestStore_ListBySubject(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("maps documents in cursor order", func(t *testing.T) {
		coll := &MockCollection{}
		s := newTestStore(coll)
		a := testDoc(25, "first", at)
		b := testDoc(3.5, "second", at.Add(time.Minute))
		coll.On("Find", ctx, bson.M{"user_id": "U1"}).Return(cursorOf(t, a, b), nil)

		listed, err := s.ListBySubject(ctx, "U1")
		require.NoError(t, err)
		require.Len(t, listed, 2)
		assert.Equal(t, a.ID.Hex(), listed[0].ID)
		assert.Equal(t, "first", listed[0].Item)
		assert.True(t, listed[0].Amount.Equal(decimal.NewFromInt(25)))
		assert.Equal(t, b.ID.Hex(), listed[1].ID)
		assert.True(t, listed[1].Amount.Equal(decimal.RequireFromString("3.5")))
	})

	t.Run("no documents gives empty slice", func(t *testing.T) {
		coll := &MockCollection{}
		s := newTestStore(coll)
		coll.On("Find", ctx, bson.M{"user_id": "U1"}).Return(cursorOf(t), nil)

		listed, err := s.ListBySubject(ctx, "U1")
		require.NoError(t, err)
		assert.NotNil(t, listed)
		assert.Empty(t, listed)
	})

	t.Run("legacy reason becomes payment method", func(t *testing.T) {
		coll := &MockCollection{}
		s := newTestStore(coll)
		legacy := testDoc(10, "", at)
		legacy.PaymentMethod = ""
		legacy.Reason = "No reason provided"
		coll.On("Find", ctx, bson.M{"user_id": "U1"}).Return(cursorOf(t, legacy), nil)

		listed, err := s.ListBySubject(ctx, "U1")
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, "No reason provided", listed[0].PaymentMethod)
	})

	t.Run("numeric user ids from older documents", func(t *testing.T) {
		coll := &MockCollection{}
		s := newTestStore(coll)
		const id = "123456789012345678"
		older := bson.M{
			"_id":       primitive.NewObjectID(),
			"user_id":   int64(123456789012345678),
			"user_name": "old-user",
			"amount":    25.0,
			"reason":    "old",
		}
		current := testDoc(3, "new", at)
		current.SubjectID = id
		cur, err := mongo.NewCursorFromDocuments([]interface{}{older, current}, nil, nil)
		require.NoError(t, err)
		coll.On("Find", ctx, bson.M{"user_id": bson.M{"$in": bson.A{id, int64(123456789012345678)}}}).Return(cur, nil)

		listed, err := s.ListBySubject(ctx, id)
		require.NoError(t, err)
		require.Len(t, listed, 2)
		assert.Equal(t, id, listed[0].SubjectID)
		assert.Equal(t, "old", listed[0].PaymentMethod)
		assert.True(t, listed[0].Amount.Equal(decimal.NewFromInt(25)))
		assert.Equal(t, id, listed[1].SubjectID)
		coll.AssertExpectations(t)
	})

	t.Run("int32 and double user ids decode", func(t *testing.T) {
		coll := &MockCollection{}
		s := newTestStore(coll)
		docs := []interface{}{
			bson.M{"_id": primitive.NewObjectID(), "user_id": int32(42), "amount": 1.0},
			bson.M{"_id": primitive.NewObjectID(), "user_id": 42.0, "amount": 2.0},
		}
		cur, err := mongo.NewCursorFromDocuments(docs, nil, nil)
		require.NoError(t, err)
		coll.On("Find", ctx, bson.M{"user_id": bson.M{"$in": bson.A{"42", int64(42)}}}).Return(cur, nil)

		listed, err := s.ListBySubject(ctx, "42")
		require.NoError(t, err)
		require.Len(t, listed, 2)
		assert.Equal(t, "42", listed[0].SubjectID)
		assert.Equal(t, "42", listed[1].SubjectID)
	})
}

func TestStore_DeleteByMatch(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("returns the deleted document", func(t *testing.T) {
		coll := &MockCollection{}
		s := newTestStore(coll)
		doc := testDoc(25, "widget", at)
		coll.On("FindOneAndDelete", ctx, bson.M{"user_id": "U1", "amount": 25.0}).
			Return(mongo.NewSingleResultFromDocument(doc, nil, nil))

		removed, ok, err := s.DeleteByMatch(ctx, "U1", storage.MatchAmount(decimal.RequireFromString("25.0")))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, doc.ID.Hex(), removed.ID)
		coll.AssertExpectations(t)
	})

	t.Run("no match is not an error", func(t *testing.T) {
		coll := &MockCollection{}
		s := newTestStore(coll)
		coll.On("FindOneAndDelete", ctx, bson.M{"user_id": "U1", "amount": 99.0}).
			Return(mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil))

		_, ok, err := s.DeleteByMatch(ctx, "U1", storage.MatchAmount(decimal.NewFromInt(99)))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("extra matcher fields join the filter", func(t *testing.T) {
		m := storage.MatchAmount(decimal.NewFromInt(5))
		m.Item = "widget"
		m.PaymentMethod = "paypal"
		assert.Equal(t, bson.M{"user_id": "U1", "amount": 5.0, "item": "widget", "payment_method": "paypal"}, matchFilter("U1", m))
	})

	t.Run("numeric ids also match older numeric documents", func(t *testing.T) {
		m := storage.MatchAmount(decimal.NewFromInt(5))
		assert.Equal(t, bson.M{"user_id": bson.M{"$in": bson.A{"77", int64(77)}}, "amount": 5.0}, matchFilter("77", m))
	})

	t.Run("deletes an older numeric document", func(t *testing.T) {
		coll := &MockCollection{}
		s := newTestStore(coll)
		older := bson.M{"_id": primitive.NewObjectID(), "user_id": int64(77), "amount": 5.0, "reason": "venmo"}
		coll.On("FindOneAndDelete", ctx, bson.M{"user_id": bson.M{"$in": bson.A{"77", int64(77)}}, "amount": 5.0}).
			Return(mongo.NewSingleResultFromDocument(older, nil, nil))

		removed, ok, err := s.DeleteByMatch(ctx, "77", storage.MatchAmount(decimal.NewFromInt(5)))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "77", removed.SubjectID)
		assert.Equal(t, "venmo", removed.PaymentMethod)
	})
}

func TestStore_DeleteByIndex(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("deletes the document at the position", func(t *testing.T) {
		coll := &MockCollection{}
		s := newTestStore(coll)
		a, b, c := testDoc(1, "a", at), testDoc(2, "b", at.Add(time.Second)), testDoc(3, "c", at.Add(2*time.Second))
		coll.On("Find", ctx, bson.M{"user_id": "U1"}).Return(cursorOf(t, a, b, c), nil)
		coll.On("DeleteOne", ctx, bson.M{"_id": b.ID}).Return(&mongo.DeleteResult{DeletedCount: 1}, nil)

		removed, ok, err := s.DeleteByIndex(ctx, "U1", 2)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, b.ID.Hex(), removed.ID)
		coll.AssertExpectations(t)
	})

	t.Run("out of range does not delete", func(t *testing.T) {
		coll := &MockCollection{}
		s := newTestStore(coll)
		coll.On("Find", ctx, bson.M{"user_id": "U1"}).Return(cursorOf(t, testDoc(1, "a", at)), nil)

		_, ok, err := s.DeleteByIndex(ctx, "U1", 2)
		require.NoError(t, err)
		assert.False(t, ok)
		coll.AssertNotCalled(t, "DeleteOne", mock.Anything, mock.Anything)
	})

	t.Run("document already gone", func(t *testing.T) {
		coll := &MockCollection{}
		s := newTestStore(coll)
		a := testDoc(1, "a", at)
		coll.On("Find", ctx, bson.M{"user_id": "U1"}).Return(cursorOf(t, a), nil)
		coll.On("DeleteOne", ctx, bson.M{"_id": a.ID}).Return(&mongo.DeleteResult{DeletedCount: 0}, nil)

		_, ok, err := s.DeleteByIndex(ctx, "U1", 1)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
