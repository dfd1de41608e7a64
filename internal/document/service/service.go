package service

import (
	"context"
	"fmt"
	"time"

	"github.com/signdesk/signdesk/internal/document"
	"github.com/signdesk/signdesk/internal/document/repository"
	"github.com/signdesk/signdesk/internal/models"
	"github.com/signdesk/signdesk/pkg/logger"
	"github.com/signdesk/signdesk/pkg/metrics"
)

// Status narrows List results.
type Status string

const (
	StatusAll Status = ""
	// StatusPending: for managers, documents with at least one unsigned entry;
	// for signers, documents the caller still has to sign.
	StatusPending Status = "pending"
	// StatusComplete: every entry signed (managers) or signed by the caller.
	StatusComplete Status = "complete"
)

// ParseStatus accepts "", "pending", "complete" and "signed" (alias of complete).
func ParseStatus(s string) (Status, error) {
	switch s {
	case "", "all":
		return StatusAll, nil
	case "pending":
		return StatusPending, nil
	case "complete", "signed":
		return StatusComplete, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", document.ErrValidation, s)
}

// Filter is the caller-supplied list filter.
type Filter struct {
	Status Status
	// OwnerID limits a manager's view to one signer. Ignored for signers, who
	// only ever see their own documents.
	OwnerID string
}

// CreateInput is the payload of a distribution.
type CreateInput struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	FileRef       string   `json:"file"`
	ContentDigest string   `json:"contentDigest,omitempty"`
	SignerIDs     []string `json:"signerIds"`
}

// Directory lists the known signer identities.
type Directory interface {
	List(ctx context.Context) ([]*models.User, error)
}

// Service is the distribution workflow: create, list and delete documents
// and record signatures against their ledger.
type Service struct {
	repo  repository.Repository
	users Directory
	now   func() time.Time
}

func New(repo repository.Repository, users Directory) *Service {
	return &Service{repo: repo, users: users, now: time.Now}
}

func requireManager(caller *models.User) error {
	if !caller.CanDistribute() {
		return fmt.Errorf("%w: administrator or manager role required", document.ErrForbidden)
	}
	return nil
}

// Create distributes a new document with one pending entry per signer.
func (s *Service) Create(ctx context.Context, caller *models.User, in CreateInput) (*document.SignableDocument, error) {
	if err := requireManager(caller); err != nil {
		return nil, err
	}
	d, err := document.NewSignableDocument(in.Title, in.Description, in.FileRef, caller.Sub, in.SignerIDs, s.now())
	if err != nil {
		return nil, err
	}
	d.ContentDigest = in.ContentDigest
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	metrics.DocumentsCreated.Inc()
	logger.Infof("document %s distributed by %s to %d signers", d.ID, caller.Sub, len(d.Signatures))
	return d, nil
}

// Delete removes a document together with its whole ledger.
func (s *Service) Delete(ctx context.Context, caller *models.User, id string) error {
	if err := requireManager(caller); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	metrics.DocumentsDeleted.Inc()
	logger.Infof("document %s deleted by %s", id, caller.Sub)
	return nil
}

// List returns every document for managers and only the caller's documents
// for signers.
func (s *Service) List(ctx context.Context, caller *models.User, f Filter) ([]*document.SignableDocument, error) {
	if caller == nil {
		return nil, document.ErrForbidden
	}
	manager := caller.CanDistribute()
	rf := repository.ListFilter{SignerID: caller.Sub}
	if manager {
		rf.SignerID = f.OwnerID
	}
	docs, err := s.repo.List(ctx, rf)
	if err != nil {
		return nil, err
	}
	if f.Status == StatusAll {
		return docs, nil
	}
	out := make([]*document.SignableDocument, 0, len(docs))
	for _, d := range docs {
		var pending bool
		if manager && f.OwnerID == "" {
			pending = !d.IsComplete()
		} else {
			pending = d.PendingFor(rf.SignerID)
		}
		if pending == (f.Status == StatusPending) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Get returns one document. Signers may only read documents they appear in.
func (s *Service) Get(ctx context.Context, caller *models.User, id string) (*document.SignableDocument, error) {
	if caller == nil {
		return nil, document.ErrForbidden
	}
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.CanDistribute() && !d.HasSigner(caller.Sub) {
		return nil, fmt.Errorf("%w: %s is not a signer of %s", document.ErrForbidden, caller.Sub, id)
	}
	return d, nil
}

// Lookup returns a document without caller scoping. It backs the signing
// workflow, which checks the signer itself.
func (s *Service) Lookup(ctx context.Context, id string) (*document.SignableDocument, error) {
	return s.repo.Get(ctx, id)
}

// RecordSignature applies a completed signature to the pending entry of
// userID. It fails with ErrNotFound when the pair has no pending entry.
func (s *Service) RecordSignature(ctx context.Context, docID, userID string, rec document.SignatureRecord) (*document.SignableDocument, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return s.repo.RecordSignature(ctx, docID, userID, rec)
}

// Users is the signer directory, restricted to managers.
func (s *Service) Users(ctx context.Context, caller *models.User) ([]*models.User, error) {
	if err := requireManager(caller); err != nil {
		return nil, err
	}
	if s.users == nil {
		return []*models.User{}, nil
	}
	return s.users.List(ctx)
}
