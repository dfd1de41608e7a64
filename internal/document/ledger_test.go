package document

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() SignatureRecord {
	return SignatureRecord{
		Algorithm:      "SHA256withRSA",
		Value:          "c2lnbmF0dXJl",
		Certificate:    CertificateInfo{OwnerName: "ANA GARCIA", IssuerName: "AC FNMT Usuarios", SerialNumber: "0A1B2C3D4E5F6071", ValidFrom: "2025-01-01", ValidTo: "2028-01-01"},
		SignedFileName: "contrato_firmado.pdf",
		SignedAt:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestNewSignableDocument_DedupesSigners(t *testing.T) {
	d, err := NewSignableDocument(" Contrato ", "anual", "contrato.pdf", "admin-1", []string{"u1", "u2", "u1", " ", "u3"}, time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, d.ID)
	require.Equal(t, "Contrato", d.Title)
	require.Len(t, d.Signatures, 3)
	assert.Equal(t, []string{"u1", "u2", "u3"}, []string{d.Signatures[0].UserID, d.Signatures[1].UserID, d.Signatures[2].UserID})
	for _, s := range d.Signatures {
		assert.False(t, s.Signed)
	}
	require.NoError(t, d.Validate())
}

func TestNewSignableDocument_Validation(t *testing.T) {
	cases := []struct {
		name, title, file string
		signers           []string
	}{
		{"missing title", "", "a.pdf", []string{"u1"}},
		{"missing file", "T", "  ", []string{"u1"}},
		{"no signers", "T", "a.pdf", nil},
		{"blank signers", "T", "a.pdf", []string{"", " "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSignableDocument(tc.title, "", tc.file, "admin", tc.signers, time.Now())
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestProgress(t *testing.T) {
	d, err := NewSignableDocument("T", "", "a.pdf", "admin", []string{"u1", "u2", "u3"}, time.Now())
	require.NoError(t, err)

	signed, total := d.Progress()
	assert.Equal(t, 0, signed)
	assert.Equal(t, 3, total)
	assert.Equal(t, 0, d.Percent())

	d2, err := d.WithSignature("u2", sampleRecord())
	require.NoError(t, err)
	signed, total = d2.Progress()
	assert.Equal(t, 1, signed)
	assert.Equal(t, 3, total)
	assert.Equal(t, 33, d2.Percent())
	assert.False(t, d2.IsComplete())

	empty := &SignableDocument{}
	signed, total = empty.Progress()
	assert.Equal(t, 0, signed)
	assert.Equal(t, 0, total)
	assert.Equal(t, 0, empty.Percent())
}

func TestPendingAndSignedFor(t *testing.T) {
	d, err := NewSignableDocument("T", "", "a.pdf", "admin", []string{"u1", "u2"}, time.Now())
	require.NoError(t, err)
	d, err = d.WithSignature("u1", sampleRecord())
	require.NoError(t, err)

	assert.False(t, d.PendingFor("u1"))
	assert.True(t, d.SignedFor("u1"))
	assert.True(t, d.PendingFor("u2"))
	assert.False(t, d.SignedFor("u2"))
	assert.False(t, d.PendingFor("stranger"))
	assert.False(t, d.SignedFor("stranger"))
}

func TestWithSignature_TouchesOnlyOneEntry(t *testing.T) {
	d, err := NewSignableDocument("T", "", "a.pdf", "admin", []string{"u1", "u2", "u3"}, time.Now())
	require.NoError(t, err)
	before := d.Clone()

	out, err := d.WithSignature("u2", sampleRecord())
	require.NoError(t, err)

	assert.Equal(t, before, d, "receiver must not change")
	assert.Equal(t, d.Signatures[0], out.Signatures[0])
	assert.Equal(t, d.Signatures[2], out.Signatures[2])
	got := out.Signatures[1]
	assert.True(t, got.Signed)
	require.NotNil(t, got.SignedAt)
	require.NotNil(t, got.CertificateInfo)
	assert.Equal(t, "AC FNMT Usuarios", got.CertificateInfo.IssuerName)
	assert.Equal(t, "contrato_firmado.pdf", got.SignedFileName)
	require.NoError(t, out.Validate())
}

func TestWithSignature_Errors(t *testing.T) {
	d, err := NewSignableDocument("T", "", "a.pdf", "admin", []string{"u1"}, time.Now())
	require.NoError(t, err)

	_, err = d.WithSignature("nobody", sampleRecord())
	require.ErrorIs(t, err, ErrNotFound)

	signed, err := d.WithSignature("u1", sampleRecord())
	require.NoError(t, err)
	_, err = signed.WithSignature("u1", sampleRecord())
	require.ErrorIs(t, err, ErrAlreadySigned)
	// no pending entry is left for u1
	require.ErrorIs(t, err, ErrNotFound)
	require.NotErrorIs(t, ErrNotFound, ErrAlreadySigned)

	partial := sampleRecord()
	partial.Certificate.SerialNumber = ""
	_, err = d.WithSignature("u1", partial)
	require.ErrorIs(t, err, ErrValidation)
}

func TestValidate_DetectsBrokenLedgers(t *testing.T) {
	now := time.Now()
	dup := &SignableDocument{ID: "d", Signatures: []Signature{{UserID: "u1"}, {UserID: "u1"}}}
	require.True(t, errors.Is(dup.Validate(), ErrInconsistentLedger))

	none := &SignableDocument{ID: "d"}
	require.ErrorIs(t, none.Validate(), ErrInconsistentLedger)

	partialPending := &SignableDocument{ID: "d", Signatures: []Signature{{UserID: "u1", SignedAt: &now}}}
	require.ErrorIs(t, partialPending.Validate(), ErrInconsistentLedger)

	partialSigned := &SignableDocument{ID: "d", Signatures: []Signature{{UserID: "u1", Signed: true, SignatureValue: "x"}}}
	require.ErrorIs(t, partialSigned.Validate(), ErrInconsistentLedger)
}

func TestQueriesAreSafeForConcurrentReaders(t *testing.T) {
	d, err := NewSignableDocument("T", "", "a.pdf", "admin", []string{"u1", "u2", "u3"}, time.Now())
	require.NoError(t, err)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = d.Progress()
				_ = d.PendingFor("u2")
				_ = d.SignedFor("u3")
			}
		}()
	}
	wg.Wait()
	signed, total := d.Progress()
	assert.Equal(t, 0, signed)
	assert.Equal(t, 3, total)
}
