package agent

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/signdesk/signdesk/internal/document"
	"github.com/signdesk/signdesk/internal/storage"
	"github.com/stretchr/testify/require"
)

// scriptedAgent records calls and fails or blocks on request.
type scriptedAgent struct {
	mu      sync.Mutex
	calls   []string
	failAt  string
	failErr error
	blockAt string
	result  *Result
	got     DispatchRequest
	closed  bool
}

func (s *scriptedAgent) enter(ctx context.Context, step string) error {
	s.mu.Lock()
	s.calls = append(s.calls, step)
	s.mu.Unlock()
	if s.blockAt == step {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.failAt == step {
		if s.failErr != nil {
			return s.failErr
		}
		return errors.New(step + " failed")
	}
	return nil
}

func (s *scriptedAgent) CheckEnvironment(ctx context.Context, sink Sink) error {
	return s.enter(ctx, StepCheck)
}

func (s *scriptedAgent) Dispatch(ctx context.Context, req DispatchRequest, sink Sink) (Ticket, error) {
	s.got = req
	if err := s.enter(ctx, StepDispatch); err != nil {
		return Ticket{}, err
	}
	return Ticket{ID: "t-1"}, nil
}

func (s *scriptedAgent) AwaitUserAction(ctx context.Context, t Ticket, sink Sink) error {
	return s.enter(ctx, StepAwait)
}

func (s *scriptedAgent) RetrieveResult(ctx context.Context, t Ticket, sink Sink) (*Result, error) {
	if err := s.enter(ctx, StepRetrieve); err != nil {
		return nil, err
	}
	return s.result, nil
}

func (s *scriptedAgent) Close() error {
	s.closed = true
	return nil
}

func validResult() *Result {
	return &Result{
		Signature: "c2lnbmF0dXJl",
		Algorithm: "SHA256withRSA",
		Certificate: &document.CertificateInfo{
			OwnerName: "ANA GARCIA", IssuerName: SimulatedIssuer, SerialNumber: "0123456789ABCDEF",
			ValidFrom: "2025-01-01", ValidTo: "2028-01-01",
		},
	}
}

type lines struct {
	mu  sync.Mutex
	out []string
}

func (l *lines) Log(msg string) {
	l.mu.Lock()
	l.out = append(l.out, msg)
	l.mu.Unlock()
}

func newTestClient(a Agent, content ContentSource, opts Options) *Client {
	return NewClient(ProviderFunc(func() Agent { return a }), content, opts)
}

func TestSign_OrderedSuccess(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	body := "%PDF-1.7 contrato"
	require.NoError(t, store.UploadFile(ctx, "docs/contrato.pdf", strings.NewReader(body), int64(len(body)), "application/pdf"))

	a := &scriptedAgent{result: validResult()}
	sink := &lines{}
	out, err := newTestClient(a, store, Options{}).Sign(ctx, Request{DocumentID: "d1", FileRef: "docs/contrato.pdf", SignerID: "ana"}, sink)
	require.NoError(t, err)

	require.Equal(t, []string{StepCheck, StepDispatch, StepAwait, StepRetrieve}, a.calls)
	require.True(t, a.closed)

	sum := sha256.Sum256([]byte(body))
	require.Equal(t, hex.EncodeToString(sum[:]), a.got.Digest)
	require.Equal(t, "contrato.pdf", a.got.FileName)
	require.Equal(t, []byte(body), a.got.Content)

	require.Equal(t, "docs/signed/ana/contrato_firmado.pdf", out.SignedFileName)
	require.Equal(t, "ANA GARCIA", out.Certificate.OwnerName)
	require.NoError(t, out.Record().Validate())

	require.NotEmpty(t, sink.out)
	require.Equal(t, "Inicializando entorno de firma...", sink.out[0])
	// the original is hashed after the environment check, never before
	hashed := -1
	for i, line := range sink.out {
		if strings.HasPrefix(line, "Calculando hash") {
			hashed = i
		}
	}
	require.Greater(t, hashed, 0)
	require.Equal(t, "Firma completada exitosamente.", sink.out[len(sink.out)-1])
}

func TestSign_StepFailures(t *testing.T) {
	cases := []struct {
		step string
		want error
	}{
		{StepCheck, ErrAgentUnavailable},
		{StepDispatch, ErrAgentProtocol},
		{StepAwait, ErrAgentProtocol},
		{StepRetrieve, ErrAgentProtocol},
	}
	for _, tc := range cases {
		t.Run(tc.step, func(t *testing.T) {
			a := &scriptedAgent{failAt: tc.step, result: validResult()}
			out, err := newTestClient(a, nil, Options{}).Sign(context.Background(), Request{FileRef: "a.pdf", Digest: "ab12"}, nil)
			require.Nil(t, out)
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, tc.step, a.calls[len(a.calls)-1])
			require.True(t, a.closed)
		})
	}
}

func TestSign_InteractionTimeout(t *testing.T) {
	a := &scriptedAgent{blockAt: StepAwait, result: validResult()}
	c := newTestClient(a, nil, Options{StepTimeout: time.Second, InteractionTimeout: 20 * time.Millisecond})
	_, err := c.Sign(context.Background(), Request{FileRef: "a.pdf", Digest: "ab12"}, nil)
	require.ErrorIs(t, err, ErrAgentTimeout)
	require.Equal(t, []string{StepCheck, StepDispatch, StepAwait}, a.calls)
}

func TestSign_IncompleteResultRejected(t *testing.T) {
	noCert := validResult()
	noCert.Certificate.SerialNumber = ""
	noSig := validResult()
	noSig.Signature = ""
	for name, res := range map[string]*Result{"missing serial": noCert, "missing signature": noSig, "nil": nil} {
		t.Run(name, func(t *testing.T) {
			a := &scriptedAgent{result: res}
			out, err := newTestClient(a, nil, Options{}).Sign(context.Background(), Request{FileRef: "a.pdf", Digest: "ab12"}, nil)
			require.Nil(t, out)
			require.ErrorIs(t, err, ErrAgentProtocol)
		})
	}
}

func TestSign_DigestMismatch(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.UploadFile(ctx, "a.pdf", strings.NewReader("abc"), 3, ""))
	a := &scriptedAgent{result: validResult()}
	_, err := newTestClient(a, store, Options{}).Sign(ctx, Request{FileRef: "a.pdf", Digest: strings.Repeat("0", 64)}, nil)
	require.ErrorIs(t, err, ErrAgentProtocol)
	require.Equal(t, []string{StepCheck}, a.calls)
	require.True(t, a.closed)
}

func TestSign_RequiresDigestWithoutContent(t *testing.T) {
	a := &scriptedAgent{result: validResult()}
	_, err := newTestClient(a, nil, Options{}).Sign(context.Background(), Request{FileRef: "a.pdf"}, nil)
	require.ErrorIs(t, err, ErrAgentProtocol)
	require.Equal(t, []string{StepCheck}, a.calls)
}

// slowSource blocks downloads until the context ends.
type slowSource struct{}

func (slowSource) DownloadFile(ctx context.Context, key string) (io.ReadCloser, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSign_DigestRunsUnderDispatchDeadline(t *testing.T) {
	a := &scriptedAgent{result: validResult()}
	c := newTestClient(a, slowSource{}, Options{StepTimeout: 20 * time.Millisecond, InteractionTimeout: time.Second})
	_, err := c.Sign(context.Background(), Request{FileRef: "a.pdf"}, nil)
	require.ErrorIs(t, err, ErrAgentTimeout)
	require.Contains(t, err.Error(), StepDispatch)
	require.Equal(t, []string{StepCheck}, a.calls)
}

func TestSign_PEMCertificate(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	notBefore := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(0xABCDEF),
		Subject:      pkix.Name{CommonName: "GARCIA LOPEZ ANA - 12345678Z"},
		Issuer:       pkix.Name{CommonName: "AC FNMT Usuarios"},
		NotBefore:    notBefore,
		NotAfter:     notBefore.AddDate(2, 0, 0),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	pemCert := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))

	res := &Result{Signature: "c2ln", Algorithm: "SHA256withECDSA", CertificatePEM: pemCert}
	out, err := newTestClient(&scriptedAgent{result: res}, nil, Options{}).Sign(context.Background(), Request{FileRef: "a.pdf", Digest: "ab"}, nil)
	require.NoError(t, err)
	require.Equal(t, "GARCIA LOPEZ ANA - 12345678Z", out.Certificate.OwnerName)
	// self-signed: issuer is the subject
	require.Equal(t, "GARCIA LOPEZ ANA - 12345678Z", out.Certificate.IssuerName)
	require.Equal(t, "ABCDEF", out.Certificate.SerialNumber)
	require.Equal(t, "2025-03-01", out.Certificate.ValidFrom)
	require.Equal(t, "2027-03-01", out.Certificate.ValidTo)

	bad := &Result{Signature: "c2ln", Algorithm: "SHA256withECDSA", CertificatePEM: "not a certificate"}
	_, err = newTestClient(&scriptedAgent{result: bad}, nil, Options{}).Sign(context.Background(), Request{FileRef: "a.pdf", Digest: "ab"}, nil)
	require.ErrorIs(t, err, ErrAgentProtocol)
}
