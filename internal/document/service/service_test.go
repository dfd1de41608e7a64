package service

import (
	"context"
	"testing"
	"time"

	"github.com/signdesk/signdesk/internal/document"
	"github.com/signdesk/signdesk/internal/document/repository"
	"github.com/signdesk/signdesk/internal/models"
	"github.com/stretchr/testify/require"
)

var (
	admin   = &models.User{Sub: "admin", Name: "Admin", Role: models.RoleAdmin}
	manager = &models.User{Sub: "mgr", Name: "Gestor", Role: models.RoleManager}
	ana     = &models.User{Sub: "ana", Name: "Ana", Role: models.RoleSigner}
	luis    = &models.User{Sub: "luis", Name: "Luis", Role: models.RoleSigner}
)

type staticDirectory []*models.User

func (d staticDirectory) List(ctx context.Context) ([]*models.User, error) { return d, nil }

func sampleRecord(name string) document.SignatureRecord {
	return document.SignatureRecord{
		Algorithm: "SHA256withRSA",
		Value:     "c2lnbmF0dXJl",
		Certificate: document.CertificateInfo{
			OwnerName: "Ana", IssuerName: "AC FNMT Usuarios", SerialNumber: "0a1b2c3d4e5f6789",
			ValidFrom: "2025-01-01", ValidTo: "2028-01-01",
		},
		SignedFileName: name,
		SignedAt:       time.Now(),
	}
}

func newService() *Service {
	return New(repository.NewMemoryRepo(), staticDirectory{admin, manager, ana, luis})
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	s := newService()

	d, err := s.Create(ctx, manager, CreateInput{Title: "Nómina marzo", FileRef: "nomina.pdf", SignerIDs: []string{"ana", "luis", "ana"}})
	require.NoError(t, err)
	require.Len(t, d.Signatures, 2)
	require.Equal(t, "mgr", d.UploadedBy)
	for _, sig := range d.Signatures {
		require.False(t, sig.Signed)
	}

	stored, err := s.Get(ctx, admin, d.ID)
	require.NoError(t, err)
	require.Equal(t, d.Signatures, stored.Signatures)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	s := newService()
	cases := map[string]CreateInput{
		"no signers": {Title: "x", FileRef: "x.pdf"},
		"no file":    {Title: "x", SignerIDs: []string{"ana"}},
		"no title":   {FileRef: "x.pdf", SignerIDs: []string{"ana"}},
		"blank ids":  {Title: "x", FileRef: "x.pdf", SignerIDs: []string{" ", ""}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.Create(ctx, admin, in)
			require.ErrorIs(t, err, document.ErrValidation)
		})
	}
	list, err := s.List(ctx, admin, Filter{})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestCreateRequiresManager(t *testing.T) {
	_, err := newService().Create(context.Background(), ana, CreateInput{Title: "x", FileRef: "x.pdf", SignerIDs: []string{"ana"}})
	require.ErrorIs(t, err, document.ErrForbidden)
}

func TestListScoping(t *testing.T) {
	ctx := context.Background()
	s := newService()
	both, err := s.Create(ctx, admin, CreateInput{Title: "A", FileRef: "a.pdf", SignerIDs: []string{"ana", "luis"}})
	require.NoError(t, err)
	onlyLuis, err := s.Create(ctx, admin, CreateInput{Title: "B", FileRef: "b.pdf", SignerIDs: []string{"luis"}})
	require.NoError(t, err)

	all, err := s.List(ctx, manager, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	mine, err := s.List(ctx, ana, Filter{OwnerID: "luis"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, both.ID, mine[0].ID)

	forLuis, err := s.List(ctx, admin, Filter{OwnerID: "luis"})
	require.NoError(t, err)
	require.Len(t, forLuis, 2)

	_, err = s.Get(ctx, ana, onlyLuis.ID)
	require.ErrorIs(t, err, document.ErrForbidden)
}

func TestListStatusFilter(t *testing.T) {
	ctx := context.Background()
	s := newService()
	d, err := s.Create(ctx, admin, CreateInput{Title: "A", FileRef: "a.pdf", SignerIDs: []string{"ana", "luis"}})
	require.NoError(t, err)
	_, err = s.Create(ctx, admin, CreateInput{Title: "B", FileRef: "b.pdf", SignerIDs: []string{"ana"}})
	require.NoError(t, err)

	_, err = s.RecordSignature(ctx, d.ID, "ana", sampleRecord("a_firmado.pdf"))
	require.NoError(t, err)

	pending, err := s.List(ctx, ana, Filter{Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "B", pending[0].Title)

	signed, err := s.List(ctx, ana, Filter{Status: StatusComplete})
	require.NoError(t, err)
	require.Len(t, signed, 1)
	require.Equal(t, d.ID, signed[0].ID)

	// d still waits for luis, so nothing is complete yet
	complete, err := s.List(ctx, admin, Filter{Status: StatusComplete})
	require.NoError(t, err)
	require.Empty(t, complete)
	open, err := s.List(ctx, admin, Filter{Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, open, 2)
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("signed")
	require.NoError(t, err)
	require.Equal(t, StatusComplete, st)
	_, err = ParseStatus("archived")
	require.ErrorIs(t, err, document.ErrValidation)
}

func TestRecordSignatureTouchesOneEntry(t *testing.T) {
	ctx := context.Background()
	s := newService()
	d, err := s.Create(ctx, admin, CreateInput{Title: "A", FileRef: "a.pdf", SignerIDs: []string{"ana", "luis", "admin"}})
	require.NoError(t, err)

	updated, err := s.RecordSignature(ctx, d.ID, "luis", sampleRecord("a_firmado.pdf"))
	require.NoError(t, err)
	signed, total := updated.Progress()
	require.Equal(t, 1, signed)
	require.Equal(t, 3, total)
	require.Equal(t, d.Signatures[0], updated.Signatures[0])
	require.Equal(t, d.Signatures[2], updated.Signatures[2])

	_, err = s.RecordSignature(ctx, d.ID, "luis", sampleRecord("a_firmado.pdf"))
	require.ErrorIs(t, err, document.ErrAlreadySigned)
	_, err = s.RecordSignature(ctx, d.ID, "nobody", sampleRecord("a_firmado.pdf"))
	require.ErrorIs(t, err, document.ErrNotFound)

	incomplete := sampleRecord("")
	_, err = s.RecordSignature(ctx, d.ID, "ana", incomplete)
	require.ErrorIs(t, err, document.ErrValidation)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newService()
	d, err := s.Create(ctx, admin, CreateInput{Title: "A", FileRef: "a.pdf", SignerIDs: []string{"ana"}})
	require.NoError(t, err)

	require.ErrorIs(t, s.Delete(ctx, ana, d.ID), document.ErrForbidden)
	require.NoError(t, s.Delete(ctx, manager, d.ID))
	require.ErrorIs(t, s.Delete(ctx, manager, d.ID), document.ErrNotFound)

	list, err := s.List(ctx, ana, Filter{})
	require.NoError(t, err)
	require.Empty(t, list)
	_, err = s.RecordSignature(ctx, d.ID, "ana", sampleRecord("a_firmado.pdf"))
	require.ErrorIs(t, err, document.ErrNotFound)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := newService()
	_, err := s.Users(ctx, luis)
	require.ErrorIs(t, err, document.ErrForbidden)
	list, err := s.Users(ctx, admin)
	require.NoError(t, err)
	require.Len(t, list, 4)
}
