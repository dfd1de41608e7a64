package document

import (
	"errors"
	"time"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("document not found")
	ErrForbidden          = errors.New("operation not permitted for caller")
	ErrInconsistentLedger = errors.New("inconsistent signature ledger")
)

// ErrAlreadySigned is returned when the signer's entry is already signed.
var ErrAlreadySigned error = alreadySigned{}

// alreadySigned also matches ErrNotFound: a signed entry is no longer a
// pending one.
type alreadySigned struct{}

func (alreadySigned) Error() string        { return "signature already recorded" }
func (alreadySigned) Is(target error) bool { return target == ErrNotFound }

// SignableDocument is a document distributed to a fixed set of signers together
// with its per-signer signature ledger.
type SignableDocument struct {
	ID          string `json:"id" bson:"_id"`
	Title       string `json:"title" bson:"title"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`
	// File is the storage reference of the original artifact.
	File string `json:"file" bson:"file"`
	// ContentDigest is the hex SHA-256 of the original artifact, when known at upload.
	ContentDigest string      `json:"contentDigest,omitempty" bson:"contentDigest,omitempty"`
	UploadedBy    string      `json:"uploadedBy" bson:"uploadedBy"`
	UploadedAt    time.Time   `json:"uploadedAt" bson:"uploadedAt"`
	Signatures    []Signature `json:"signatures" bson:"signatures"`
}

// Signature is one signer's ledger entry. It is owned by its document.
type Signature struct {
	UserID             string           `json:"userId" bson:"userId"`
	Signed             bool             `json:"signed" bson:"signed"`
	SignedAt           *time.Time       `json:"signedAt,omitempty" bson:"signedAt,omitempty"`
	SignatureAlgorithm string           `json:"signatureAlgorithm,omitempty" bson:"signatureAlgorithm,omitempty"`
	SignatureValue     string           `json:"signatureValue,omitempty" bson:"signatureValue,omitempty"`
	CertificateInfo    *CertificateInfo `json:"certificateInfo,omitempty" bson:"certificateInfo,omitempty"`
	SignedFileName     string           `json:"signedFileName,omitempty" bson:"signedFileName,omitempty"`
}

// CertificateInfo is what the signing agent asserted about the certificate at
// signing time. It is recorded, not re-validated.
type CertificateInfo struct {
	OwnerName    string `json:"ownerName" bson:"ownerName"`
	IssuerName   string `json:"issuerName" bson:"issuerName"`
	SerialNumber string `json:"serialNumber" bson:"serialNumber"`
	// ValidFrom and ValidTo are calendar dates (YYYY-MM-DD).
	ValidFrom string `json:"validFrom" bson:"validFrom"`
	ValidTo   string `json:"validTo" bson:"validTo"`
}

// SignatureRecord is the complete result applied to a pending entry.
type SignatureRecord struct {
	Algorithm      string
	Value          string
	Certificate    CertificateInfo
	SignedFileName string
	SignedAt       time.Time
}
