package document

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewSignableDocument builds a document with one pending entry per signer.
// Signer ids are trimmed and deduplicated keeping first-seen order.
func NewSignableDocument(title, description, fileRef, uploadedBy string, signerIDs []string, now time.Time) (*SignableDocument, error) {
	title = strings.TrimSpace(title)
	fileRef = strings.TrimSpace(fileRef)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if fileRef == "" {
		return nil, fmt.Errorf("%w: file is required", ErrValidation)
	}
	seen := make(map[string]struct{}, len(signerIDs))
	sigs := make([]Signature, 0, len(signerIDs))
	for _, id := range signerIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		sigs = append(sigs, Signature{UserID: id})
	}
	if len(sigs) == 0 {
		return nil, fmt.Errorf("%w: at least one signer is required", ErrValidation)
	}
	return &SignableDocument{
		ID:          uuid.NewString(),
		Title:       title,
		Description: strings.TrimSpace(description),
		File:        fileRef,
		UploadedBy:  uploadedBy,
		UploadedAt:  now.UTC().Truncate(time.Millisecond),
		Signatures:  sigs,
	}, nil
}

// Validate checks the ledger invariants: non-empty, unique signers and no
// partially populated entry.
func (d *SignableDocument) Validate() error {
	if len(d.Signatures) == 0 {
		return fmt.Errorf("%w: document %s has no signers", ErrInconsistentLedger, d.ID)
	}
	seen := make(map[string]struct{}, len(d.Signatures))
	for _, s := range d.Signatures {
		if _, dup := seen[s.UserID]; dup {
			return fmt.Errorf("%w: signer %s appears twice", ErrInconsistentLedger, s.UserID)
		}
		seen[s.UserID] = struct{}{}
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate reports a partially populated entry.
func (s Signature) Validate() error {
	set := 0
	if s.SignedAt != nil {
		set++
	}
	if s.SignatureValue != "" {
		set++
	}
	if s.CertificateInfo != nil {
		set++
	}
	if s.SignedFileName != "" {
		set++
	}
	switch {
	case s.Signed && set == 4:
		return nil
	case !s.Signed && set == 0 && s.SignatureAlgorithm == "":
		return nil
	}
	return fmt.Errorf("%w: entry for %s is partially populated", ErrInconsistentLedger, s.UserID)
}

// Validate checks that a record carries every field a signed entry needs.
func (r SignatureRecord) Validate() error {
	var missing []string
	if r.Value == "" {
		missing = append(missing, "signature value")
	}
	if r.Algorithm == "" {
		missing = append(missing, "algorithm")
	}
	if r.SignedFileName == "" {
		missing = append(missing, "signed file name")
	}
	if r.SignedAt.IsZero() {
		missing = append(missing, "signed at")
	}
	c := r.Certificate
	if c.OwnerName == "" || c.IssuerName == "" || c.SerialNumber == "" || c.ValidFrom == "" || c.ValidTo == "" {
		missing = append(missing, "certificate")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: incomplete signature record (%s)", ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// SignatureFor returns the entry assigned to userID.
func (d *SignableDocument) SignatureFor(userID string) (Signature, bool) {
	for _, s := range d.Signatures {
		if s.UserID == userID {
			return s, true
		}
	}
	return Signature{}, false
}

func (d *SignableDocument) HasSigner(userID string) bool {
	_, ok := d.SignatureFor(userID)
	return ok
}

// PendingFor reports whether userID has an unsigned entry.
func (d *SignableDocument) PendingFor(userID string) bool {
	s, ok := d.SignatureFor(userID)
	return ok && !s.Signed
}

// SignedFor reports whether userID has a signed entry.
func (d *SignableDocument) SignedFor(userID string) bool {
	s, ok := d.SignatureFor(userID)
	return ok && s.Signed
}

// Progress returns the number of signed entries and the total.
func (d *SignableDocument) Progress() (signed, total int) {
	for _, s := range d.Signatures {
		if s.Signed {
			signed++
		}
	}
	return signed, len(d.Signatures)
}

// Percent is the rounded completion ratio; 0 for an empty ledger.
func (d *SignableDocument) Percent() int {
	signed, total := d.Progress()
	if total == 0 {
		return 0
	}
	return (signed*100 + total/2) / total
}

func (d *SignableDocument) IsComplete() bool {
	signed, total := d.Progress()
	return total > 0 && signed == total
}

// Clone returns a deep copy.
func (d *SignableDocument) Clone() *SignableDocument {
	cp := *d
	cp.Signatures = make([]Signature, len(d.Signatures))
	for i, s := range d.Signatures {
		if s.SignedAt != nil {
			t := *s.SignedAt
			s.SignedAt = &t
		}
		if s.CertificateInfo != nil {
			c := *s.CertificateInfo
			s.CertificateInfo = &c
		}
		cp.Signatures[i] = s
	}
	return &cp
}

// WithSignature returns a copy of d whose entry for userID is replaced by the
// signed entry described by rec. The receiver is never modified.
func (d *SignableDocument) WithSignature(userID string, rec SignatureRecord) (*SignableDocument, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	idx := -1
	for i, s := range d.Signatures {
		if s.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: no signature entry for %s on %s", ErrNotFound, userID, d.ID)
	}
	if d.Signatures[idx].Signed {
		return nil, fmt.Errorf("%w: %s already signed %s", ErrAlreadySigned, userID, d.ID)
	}
	out := d.Clone()
	out.Signatures[idx] = rec.Entry(userID)
	return out, nil
}

// Entry builds the signed ledger entry for userID.
func (r SignatureRecord) Entry(userID string) Signature {
	at := r.SignedAt.UTC().Truncate(time.Millisecond)
	cert := r.Certificate
	return Signature{
		UserID:             userID,
		Signed:             true,
		SignedAt:           &at,
		SignatureAlgorithm: r.Algorithm,
		SignatureValue:     r.Value,
		CertificateInfo:    &cert,
		SignedFileName:     r.SignedFileName,
	}
}
