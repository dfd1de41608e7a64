package agent

import (
	"context"
	"errors"

	"github.com/signdesk/signdesk/internal/document"
)

var (
	// ErrAgentUnavailable means the environment check failed: the local
	// signing application is not installed, not running or not reachable.
	ErrAgentUnavailable = errors.New("signing agent unavailable")
	// ErrAgentProtocol covers any failure after the environment check,
	// including incomplete results.
	ErrAgentProtocol = errors.New("signing agent protocol error")
	// ErrAgentTimeout is returned when a step exceeds its bounded wait.
	ErrAgentTimeout = errors.New("signing agent timed out")
)

// RemediationHint is shown to the signer after ErrAgentUnavailable.
const RemediationHint = "Verifique que la aplicación está instalada y ejecutándose."

// Sink receives human readable progress lines in the order they are produced.
type Sink interface {
	Log(msg string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(msg string)

func (f SinkFunc) Log(msg string) { f(msg) }

// DiscardSink drops every line.
var DiscardSink Sink = SinkFunc(func(string) {})

// DispatchRequest is what the agent receives for one document.
type DispatchRequest struct {
	FileRef         string `json:"fileRef"`
	FileName        string `json:"fileName"`
	Digest          string `json:"digest"`
	DigestAlgorithm string `json:"digestAlgorithm"`
	SignerID        string `json:"signerId"`
	SignerName      string `json:"signerName,omitempty"`
	// Content is the original artifact when the client could read it.
	Content []byte `json:"content,omitempty"`
}

// Ticket identifies a dispatched document inside one agent session.
type Ticket struct {
	ID string `json:"ticket"`
}

// Result is the raw result reported by the agent. The certificate may come as
// structured fields, as a PEM certificate, or both.
type Result struct {
	Signature      string                    `json:"signature"`
	Algorithm      string                    `json:"algorithm"`
	Certificate    *document.CertificateInfo `json:"certificate,omitempty"`
	CertificatePEM string                    `json:"certificatePem,omitempty"`
	// SignedContent is the signed artifact, when the agent returns one.
	SignedContent []byte `json:"signedContent,omitempty"`
}

// Agent is the capability offered by a local signing application. An Agent
// value serves a single attempt; Close releases whatever the attempt holds.
type Agent interface {
	CheckEnvironment(ctx context.Context, sink Sink) error
	Dispatch(ctx context.Context, req DispatchRequest, sink Sink) (Ticket, error)
	AwaitUserAction(ctx context.Context, t Ticket, sink Sink) error
	RetrieveResult(ctx context.Context, t Ticket, sink Sink) (*Result, error)
	Close() error
}

// Provider hands out a fresh Agent for every attempt.
type Provider interface {
	NewAgent() Agent
}

// ProviderFunc adapts a constructor to Provider.
type ProviderFunc func() Agent

func (f ProviderFunc) NewAgent() Agent { return f() }
