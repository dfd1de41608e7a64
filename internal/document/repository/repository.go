package repository

import (
	"context"

	"github.com/signdesk/signdesk/internal/document"
)

// ListFilter narrows List results. The zero value lists every document.
type ListFilter struct {
	// SignerID restricts results to documents where the user has a ledger entry.
	SignerID string
}

// Repository persists signable documents together with their ledger.
// RecordSignature is the only mutation of an existing document and must be an
// atomic replace of a single pending entry.
type Repository interface {
	Create(ctx context.Context, d *document.SignableDocument) error
	Get(ctx context.Context, id string) (*document.SignableDocument, error)
	List(ctx context.Context, f ListFilter) ([]*document.SignableDocument, error)
	RecordSignature(ctx context.Context, docID, userID string, rec document.SignatureRecord) (*document.SignableDocument, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}
