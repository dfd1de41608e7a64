package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/signdesk/signdesk/internal/document"
	"github.com/signdesk/signdesk/pkg/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepo implements a MongoDB-backed repository for signable documents.
// Signatures are embedded in their document, so deleting the document removes
// its whole ledger in one operation.
type MongoRepo struct {
	col *mongo.Collection
}

func NewMongoRepo(ctx context.Context, col *mongo.Collection) *MongoRepo {
	idx := []mongo.IndexModel{
		{Keys: bson.D{{Key: "signatures.userId", Value: 1}}},
		{Keys: bson.D{{Key: "uploadedAt", Value: -1}}},
	}
	if _, err := col.Indexes().CreateMany(ctx, idx); err != nil {
		logger.Warnf("signable documents: index creation failed: %v", err)
	}
	return &MongoRepo{col: col}
}

func (m *MongoRepo) Create(ctx context.Context, d *document.SignableDocument) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if _, err := m.col.InsertOne(ctx, d); err != nil {
		return fmt.Errorf("insert document %s: %w", d.ID, err)
	}
	return nil
}

func (m *MongoRepo) Get(ctx context.Context, id string) (*document.SignableDocument, error) {
	var d document.SignableDocument
	err := m.col.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, document.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (m *MongoRepo) List(ctx context.Context, f ListFilter) ([]*document.SignableDocument, error) {
	filter := bson.M{}
	if f.SignerID != "" {
		filter["signatures.userId"] = f.SignerID
	}
	opts := options.Find().SetSort(bson.D{{Key: "uploadedAt", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := m.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*document.SignableDocument{}
	for cur.Next(ctx) {
		var d document.SignableDocument
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, cur.Err()
}

// RecordSignature replaces the matching pending entry with a single
// conditional update; the $elemMatch guard makes a second write for the same
// signer a no-op that is reported as ErrAlreadySigned.
func (m *MongoRepo) RecordSignature(ctx context.Context, docID, userID string, rec document.SignatureRecord) (*document.SignableDocument, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	filter := bson.M{
		"_id":        docID,
		"signatures": bson.M{"$elemMatch": bson.M{"userId": userID, "signed": false}},
	}
	update := bson.M{"$set": bson.M{"signatures.$": rec.Entry(userID)}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated document.SignableDocument
	err := m.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("record signature %s/%s: %w", docID, userID, err)
	}
	current, gerr := m.Get(ctx, docID)
	if gerr != nil {
		return nil, gerr
	}
	if current.SignedFor(userID) {
		return nil, fmt.Errorf("%w: %s already signed %s", document.ErrAlreadySigned, userID, docID)
	}
	return nil, fmt.Errorf("%w: no signature entry for %s on %s", document.ErrNotFound, userID, docID)
}

func (m *MongoRepo) Delete(ctx context.Context, id string) error {
	res, err := m.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return document.ErrNotFound
	}
	return nil
}

func (m *MongoRepo) Ping(ctx context.Context) error {
	return m.col.Database().Client().Ping(ctx, nil)
}
