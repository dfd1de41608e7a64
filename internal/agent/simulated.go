package agent

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/signdesk/signdesk/internal/document"
)

// SimulatedIssuer is the issuer reported by the simulated agent.
const SimulatedIssuer = "AC FNMT Usuarios"

// SimulatedAgent imitates a local signing application with timed delays and
// a generated certificate. It never produces a real signature.
type SimulatedAgent struct {
	latency time.Duration
	now     func() time.Time

	dispatched map[string]DispatchRequest
}

// SimulatedProvider yields a SimulatedAgent per attempt.
func SimulatedProvider(latency time.Duration) Provider {
	return ProviderFunc(func() Agent { return NewSimulatedAgent(latency) })
}

func NewSimulatedAgent(latency time.Duration) *SimulatedAgent {
	return &SimulatedAgent{latency: latency, now: time.Now, dispatched: map[string]DispatchRequest{}}
}

func (s *SimulatedAgent) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *SimulatedAgent) CheckEnvironment(ctx context.Context, sink Sink) error {
	if err := s.wait(ctx, s.latency/2); err != nil {
		return err
	}
	sink.Log("Aplicación de firma simulada disponible.")
	return nil
}

func (s *SimulatedAgent) Dispatch(ctx context.Context, req DispatchRequest, sink Sink) (Ticket, error) {
	if req.Digest == "" {
		return Ticket{}, fmt.Errorf("dispatch without digest")
	}
	if err := s.wait(ctx, s.latency); err != nil {
		return Ticket{}, err
	}
	id := uuid.NewString()
	s.dispatched[id] = req
	sink.Log(fmt.Sprintf("Documento recibido (%s %s).", req.DigestAlgorithm, req.Digest))
	return Ticket{ID: id}, nil
}

func (s *SimulatedAgent) AwaitUserAction(ctx context.Context, t Ticket, sink Sink) error {
	if _, ok := s.dispatched[t.ID]; !ok {
		return fmt.Errorf("unknown ticket %s", t.ID)
	}
	sink.Log("Por favor, complete el proceso en la ventana de AutoFirma.")
	if err := s.wait(ctx, 3*s.latency); err != nil {
		return err
	}
	sink.Log("PIN Correcto. Iniciando operación criptográfica...")
	return nil
}

func (s *SimulatedAgent) RetrieveResult(ctx context.Context, t Ticket, sink Sink) (*Result, error) {
	req, ok := s.dispatched[t.ID]
	if !ok {
		return nil, fmt.Errorf("unknown ticket %s", t.ID)
	}
	if err := s.wait(ctx, s.latency); err != nil {
		return nil, err
	}
	serial, err := randomHex(8)
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 96)
	if _, err := rand.Read(sig); err != nil {
		return nil, err
	}
	owner := req.SignerName
	if owner == "" {
		owner = req.SignerID
	}
	now := s.now().UTC()
	delete(s.dispatched, t.ID)
	return &Result{
		Signature: base64.StdEncoding.EncodeToString(sig),
		Algorithm: "SHA256withRSA",
		Certificate: &document.CertificateInfo{
			OwnerName:    strings.ToUpper(owner),
			IssuerName:   SimulatedIssuer,
			SerialNumber: strings.ToUpper(serial),
			ValidFrom:    now.AddDate(-1, 0, 0).Format(dateLayout),
			ValidTo:      now.AddDate(2, 0, 0).Format(dateLayout),
		},
		SignedContent: req.Content,
	}, nil
}

func (s *SimulatedAgent) Close() error { return nil }

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
