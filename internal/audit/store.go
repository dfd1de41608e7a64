package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signdesk/signdesk/internal/document"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Outcome values stored on an attempt.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	// OutcomeUnrecorded is a signature the agent produced that never reached
	// the ledger. These need manual reconciliation.
	OutcomeUnrecorded = "unrecorded"
)

// Attempt is the Mongo representation of one finished signing attempt.
type Attempt struct {
	ID             string                    `bson:"_id" json:"id"`
	DocumentID     string                    `bson:"documentId" json:"documentId"`
	UserID         string                    `bson:"userId" json:"userId"`
	Attempt        int                       `bson:"attempt" json:"attempt"`
	Outcome        string                    `bson:"outcome" json:"outcome"`
	ErrorKind      string                    `bson:"errorKind,omitempty" json:"errorKind,omitempty"`
	Error          string                    `bson:"error,omitempty" json:"error,omitempty"`
	Digest         string                    `bson:"digest,omitempty" json:"digest,omitempty"`
	Algorithm      string                    `bson:"algorithm,omitempty" json:"algorithm,omitempty"`
	SignatureValue string                    `bson:"signatureValue,omitempty" json:"signatureValue,omitempty"`
	Certificate    *document.CertificateInfo `bson:"certificate,omitempty" json:"certificate,omitempty"`
	SignedFileName string                    `bson:"signedFileName,omitempty" json:"signedFileName,omitempty"`
	SignedAt       *time.Time                `bson:"signedAt,omitempty" json:"signedAt,omitempty"`
	Transcript     []string                  `bson:"transcript,omitempty" json:"transcript,omitempty"`
	Reconciled     bool                      `bson:"reconciled" json:"reconciled"`
	CreatedAt      time.Time                 `bson:"createdAt" json:"createdAt"`
}

// Store persists attempts into the signing_attempts collection. A Store
// without a collection is a no-op so the service runs without Mongo.
type Store struct {
	col *mongo.Collection
}

func NewStore(col *mongo.Collection) *Store {
	return &Store{col: col}
}

// Save upserts an attempt by id.
func (s *Store) Save(ctx context.Context, a *Attempt) error {
	if s == nil || s.col == nil {
		return nil
	}
	if a.ID == "" {
		return fmt.Errorf("save attempt: missing id")
	}
	opts := options.Update().SetUpsert(true)
	if _, err := s.col.UpdateOne(ctx, bson.M{"_id": a.ID}, bson.M{"$set": a}, opts); err != nil {
		return fmt.Errorf("save attempt: %w", err)
	}
	return nil
}

// Load fetches an attempt by id. Returns nil when not found.
func (s *Store) Load(ctx context.Context, id string) (*Attempt, error) {
	if s == nil || s.col == nil {
		return nil, nil
	}
	var a Attempt
	if err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&a); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// Unreconciled lists unrecorded signatures, oldest first.
func (s *Store) Unreconciled(ctx context.Context) ([]*Attempt, error) {
	if s == nil || s.col == nil {
		return []*Attempt{}, nil
	}
	filter := bson.M{"outcome": OutcomeUnrecorded, "reconciled": false}
	cur, err := s.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*Attempt{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkReconciled flags an unrecorded attempt as handled.
func (s *Store) MarkReconciled(ctx context.Context, id string) error {
	if s == nil || s.col == nil {
		return nil
	}
	res, err := s.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"reconciled": true}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("attempt %s: %w", id, document.ErrNotFound)
	}
	return nil
}
