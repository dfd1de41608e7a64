package agent

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/signdesk/signdesk/internal/storage"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSAgent_AgainstSimulatedServer(t *testing.T) {
	srv := httptest.NewServer(NewServer(SimulatedProvider(0), "AutoFirma 1.8.2 (simulado)"))
	defer srv.Close()

	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.UploadFile(ctx, "nomina.pdf", strings.NewReader("%PDF"), 4, "application/pdf"))

	c := NewClient(WSProvider{URL: wsURL(srv)}, store, Options{StepTimeout: 5 * time.Second, InteractionTimeout: 5 * time.Second})
	sink := &lines{}
	out, err := c.Sign(ctx, Request{DocumentID: "d1", FileRef: "nomina.pdf", SignerID: "u1", SignerName: "Ana Garcia"}, sink)
	require.NoError(t, err)

	require.Equal(t, "signed/u1/nomina_firmado.pdf", out.SignedFileName)
	require.Equal(t, "ANA GARCIA", out.Certificate.OwnerName)
	require.Equal(t, SimulatedIssuer, out.Certificate.IssuerName)
	require.Len(t, out.Certificate.SerialNumber, 16)
	require.Equal(t, []byte("%PDF"), out.SignedContent)
	require.Len(t, out.Signature, 128)

	joined := strings.Join(sink.out, "\n")
	require.Contains(t, joined, "Conexión establecida con AutoFirma 1.8.2 (simulado)")
	// agent progress frames arrive between the client's own step lines
	require.Less(t, strings.Index(joined, "Por favor, complete el proceso"), strings.Index(joined, "Firma completada exitosamente."))
}

func TestWSAgent_Unavailable(t *testing.T) {
	srv := httptest.NewServer(NewServer(SimulatedProvider(0), "x"))
	url := wsURL(srv)
	srv.Close()

	c := NewClient(WSProvider{URL: url, HandshakeTimeout: time.Second}, nil, Options{StepTimeout: 2 * time.Second})
	_, err := c.Sign(context.Background(), Request{FileRef: "a.pdf", Digest: "ab"}, nil)
	require.ErrorIs(t, err, ErrAgentUnavailable)
}

func TestWSAgent_InteractionTimeout(t *testing.T) {
	srv := httptest.NewServer(NewServer(SimulatedProvider(200*time.Millisecond), "slow"))
	defer srv.Close()

	c := NewClient(WSProvider{URL: wsURL(srv)}, nil, Options{StepTimeout: 5 * time.Second, InteractionTimeout: 50 * time.Millisecond})
	_, err := c.Sign(context.Background(), Request{FileRef: "a.pdf", Digest: "ab"}, nil)
	require.ErrorIs(t, err, ErrAgentTimeout)
}

func TestTimeoutErr(t *testing.T) {
	deadline := &net.OpError{Op: "read", Net: "tcp", Err: os.ErrDeadlineExceeded}

	// the socket deadline fired while the step context is still live
	err := timeoutErr(context.Background(), deadline)
	require.ErrorIs(t, err, ErrAgentTimeout)
	require.ErrorIs(t, classify(context.Background(), StepAwait, err), ErrAgentTimeout)
	require.NotErrorIs(t, classify(context.Background(), StepAwait, err), ErrAgentProtocol)

	require.NoError(t, timeoutErr(context.Background(), errors.New("websocket: close 1006")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	require.ErrorIs(t, timeoutErr(ctx, errors.New("use of closed network connection")), context.DeadlineExceeded)
}

func TestWSAgent_InteractionTimeoutIsStable(t *testing.T) {
	srv := httptest.NewServer(NewServer(SimulatedProvider(200*time.Millisecond), "slow"))
	defer srv.Close()

	c := NewClient(WSProvider{URL: wsURL(srv)}, nil, Options{StepTimeout: 5 * time.Second, InteractionTimeout: 30 * time.Millisecond})
	for i := 0; i < 10; i++ {
		_, err := c.Sign(context.Background(), Request{FileRef: "a.pdf", Digest: "ab"}, nil)
		require.ErrorIs(t, err, ErrAgentTimeout, "run %d", i)
		require.NotErrorIs(t, err, ErrAgentProtocol, "run %d", i)
	}
}
