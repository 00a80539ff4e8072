// Package mongostore is the MongoDB PaymentStore, selected with database.driver=mongo.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/Josh0007-sunday/chainproofserver/internal/models"
)

// ErrOutOfRange is returned for u64 values BSON cannot hold as int64.
var ErrOutOfRange = errors.New("value exceeds int64 range")

type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// Connect dials uri and ensures the signature and requester indexes exist.
func Connect(ctx context.Context, uri, database, collection string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	s := &Store{client: client, coll: client.Database(database).Collection(collection)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "signature", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "requesterId", Value: 1}, {Key: "endpoint", Value: 1}, {Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongo create indexes: %w", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) FindBySignature(ctx context.Context, signature string) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	err := s.coll.FindOne(ctx, bson.M{"signature": signature}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) UpsertBySignature(ctx context.Context, rec *models.PaymentRecord) (*models.PaymentRecord, error) {
	now := time.Now().UTC()
	status := rec.Status
	if status == "" {
		status = models.StatusPending
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	fields, err := mutableFields(rec, status, now)
	if err != nil {
		return nil, err
	}

	insert := bson.M{"signature": rec.Signature, "createdAt": created}
	for k, v := range fields {
		insert[k] = v
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"signature": rec.Signature},
		bson.M{"$setOnInsert": insert},
		options.Update().SetUpsert(true),
	)
	// a concurrent upsert may win the unique index; the row then exists
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, err
	}
	if err != nil || res.UpsertedCount == 0 {
		_, err = s.coll.UpdateOne(ctx,
			bson.M{"signature": rec.Signature, "status": models.StatusPending},
			bson.M{"$set": fields},
		)
		if err != nil {
			return nil, err
		}
	}
	return s.FindBySignature(ctx, rec.Signature)
}

func mutableFields(rec *models.PaymentRecord, status models.PaymentStatus, now time.Time) (bson.M, error) {
	if rec.Amount > math.MaxInt64 {
		return nil, fmt.Errorf("%w: amount %d", ErrOutOfRange, rec.Amount)
	}
	if rec.Slot != nil && *rec.Slot > math.MaxInt64 {
		return nil, fmt.Errorf("%w: slot %d", ErrOutOfRange, *rec.Slot)
	}
	m := bson.M{
		"amount":    int64(rec.Amount),
		"decimals":  rec.Decimals,
		"tokenMint": rec.TokenMint,
		"sender":    rec.Sender,
		"recipient": rec.Recipient,
		"endpoint":  rec.Endpoint,
		"variant":   rec.Variant,
		"status":    status,
		"network":   rec.Network,
		"updatedAt": now,
	}
	if rec.RequesterID != "" {
		m["requesterId"] = rec.RequesterID
	}
	if rec.Slot != nil {
		m["slot"] = int64(*rec.Slot)
	}
	if rec.BlockTime != nil {
		m["blockTime"] = *rec.BlockTime
	}
	if rec.FailReason != "" {
		m["failureReason"] = rec.FailReason
	}
	if rec.VerifiedAt != nil {
		m["verifiedAt"] = *rec.VerifiedAt
	}
	return m, nil
}

func (s *Store) ListByRequester(ctx context.Context, requesterID string, limit int) ([]models.PaymentRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	cur, err := s.coll.Find(ctx, bson.M{"requesterId": requesterID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	var recs []models.PaymentRecord
	if err := cur.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *Store) HasConfirmedPayment(ctx context.Context, requesterID, endpoint string) (bool, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{
		"requesterId": requesterID,
		"endpoint":    endpoint,
		"status":      models.StatusConfirmed,
	}, options.Count().SetLimit(1))
	return n > 0, err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}
