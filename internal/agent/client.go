package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/signdesk/signdesk/internal/document"
	"github.com/signdesk/signdesk/pkg/logger"
	"github.com/signdesk/signdesk/pkg/metrics"
	"go.uber.org/zap"
)

// Step names, also used as metric labels.
const (
	StepCheck    = "check"
	StepDispatch = "dispatch"
	StepAwait    = "await"
	StepRetrieve = "retrieve"
)

// ContentSource reads original artifacts by reference. storage.FileStore
// satisfies it.
type ContentSource interface {
	DownloadFile(ctx context.Context, key string) (io.ReadCloser, error)
}

// Request describes one signing attempt.
type Request struct {
	DocumentID string
	FileRef    string
	// Digest is the stored hex SHA-256 of the original, if known.
	Digest     string
	SignerID   string
	SignerName string
}

// Outcome is a complete signing result. It is never returned partially.
type Outcome struct {
	Signature      string
	Algorithm      string
	Certificate    document.CertificateInfo
	SignedFileName string
	SignedContent  []byte
	Digest         string
	SignedAt       time.Time
}

// Record converts the outcome into the ledger record for the signer.
func (o *Outcome) Record() document.SignatureRecord {
	return document.SignatureRecord{
		Algorithm:      o.Algorithm,
		Value:          o.Signature,
		Certificate:    o.Certificate,
		SignedFileName: o.SignedFileName,
		SignedAt:       o.SignedAt,
	}
}

// Options tunes the client.
type Options struct {
	StepTimeout        time.Duration
	InteractionTimeout time.Duration
	// MaxContentSize caps how much of the original is read for hashing.
	MaxContentSize int64
}

// Client drives the ordered exchange with a signing agent.
type Client struct {
	provider Provider
	content  ContentSource
	opts     Options
	now      func() time.Time
}

// NewClient builds a client. content may be nil, in which case requests must
// carry a stored digest.
func NewClient(p Provider, content ContentSource, opts Options) *Client {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 30 * time.Second
	}
	if opts.InteractionTimeout <= 0 {
		opts.InteractionTimeout = 5 * time.Minute
	}
	if opts.MaxContentSize <= 0 {
		opts.MaxContentSize = 25 << 20
	}
	return &Client{provider: p, content: content, opts: opts, now: time.Now}
}

// Sign runs check, dispatch, await and retrieve in order and derives the
// signer's signed object key. Errors wrap ErrAgentUnavailable,
// ErrAgentProtocol or ErrAgentTimeout.
func (c *Client) Sign(ctx context.Context, req Request, sink Sink) (*Outcome, error) {
	if sink == nil {
		sink = DiscardSink
	}
	log := logger.With(zap.String("document", req.DocumentID), zap.String("signer", req.SignerID))

	a := c.provider.NewAgent()
	defer a.Close()

	sink.Log("Inicializando entorno de firma...")
	if err := c.step(ctx, StepCheck, c.opts.StepTimeout, func(ctx context.Context) error {
		return a.CheckEnvironment(ctx, sink)
	}); err != nil {
		log.Warn("agent environment check failed", zap.Error(err))
		return nil, err
	}

	// the digest is computed as part of dispatch, under its deadline
	var (
		dreq   DispatchRequest
		ticket Ticket
	)
	if err := c.step(ctx, StepDispatch, c.opts.StepTimeout, func(ctx context.Context) error {
		var err error
		if dreq, err = c.prepare(ctx, req, sink); err != nil {
			return err
		}
		sink.Log(fmt.Sprintf("Enviando documento %q a la aplicación local...", dreq.FileName))
		ticket, err = a.Dispatch(ctx, dreq, sink)
		return err
	}); err != nil {
		log.Warn("agent dispatch failed", zap.Error(err))
		return nil, err
	}

	sink.Log("Esperando selección de certificado y PIN del usuario...")
	if err := c.step(ctx, StepAwait, c.opts.InteractionTimeout, func(ctx context.Context) error {
		return a.AwaitUserAction(ctx, ticket, sink)
	}); err != nil {
		log.Warn("agent user interaction failed", zap.Error(err))
		return nil, err
	}

	var res *Result
	sink.Log("Recibiendo firma y certificado desde la aplicación local...")
	if err := c.step(ctx, StepRetrieve, c.opts.StepTimeout, func(ctx context.Context) error {
		var err error
		res, err = a.RetrieveResult(ctx, ticket, sink)
		return err
	}); err != nil {
		log.Warn("agent result retrieval failed", zap.Error(err))
		return nil, err
	}

	out, err := c.complete(req, dreq.Digest, res)
	if err != nil {
		log.Warn("agent returned an incomplete result", zap.Error(err))
		return nil, err
	}
	sink.Log("Certificado validado: " + out.Certificate.OwnerName)
	sink.Log("Generando archivo firmado: " + out.SignedFileName)
	sink.Log("Firma completada exitosamente.")
	log.Info("signature obtained", zap.String("algorithm", out.Algorithm), zap.String("serial", out.Certificate.SerialNumber))
	return out, nil
}

// prepare computes the content digest that binds the displayed document to
// the signed artifact.
func (c *Client) prepare(ctx context.Context, req Request, sink Sink) (DispatchRequest, error) {
	dreq := DispatchRequest{
		FileRef:         req.FileRef,
		FileName:        path.Base(req.FileRef),
		DigestAlgorithm: "SHA-256",
		SignerID:        req.SignerID,
		SignerName:      req.SignerName,
	}
	if strings.TrimSpace(req.FileRef) == "" {
		return dreq, fmt.Errorf("%w: document has no file reference", ErrAgentProtocol)
	}
	stored := strings.ToLower(req.Digest)
	if c.content == nil {
		if stored == "" {
			return dreq, fmt.Errorf("%w: no content digest available for %s", ErrAgentProtocol, req.FileRef)
		}
		dreq.Digest = stored
		return dreq, nil
	}

	sink.Log("Calculando hash del documento (SHA-256)...")
	rc, err := c.content.DownloadFile(ctx, req.FileRef)
	if err != nil {
		if ctx.Err() != nil {
			return dreq, ctx.Err()
		}
		return dreq, fmt.Errorf("%w: read original %s: %v", ErrAgentProtocol, req.FileRef, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, c.opts.MaxContentSize+1))
	if err != nil {
		if ctx.Err() != nil {
			return dreq, ctx.Err()
		}
		return dreq, fmt.Errorf("%w: read original %s: %v", ErrAgentProtocol, req.FileRef, err)
	}
	if int64(len(data)) > c.opts.MaxContentSize {
		return dreq, fmt.Errorf("%w: original %s exceeds %d bytes", ErrAgentProtocol, req.FileRef, c.opts.MaxContentSize)
	}
	sum := sha256.Sum256(data)
	dreq.Digest = hex.EncodeToString(sum[:])
	if stored != "" && stored != dreq.Digest {
		return dreq, fmt.Errorf("%w: content of %s does not match its recorded digest", ErrAgentProtocol, req.FileRef)
	}
	dreq.Content = data
	return dreq, nil
}

// complete checks the agent result and builds the outcome.
func (c *Client) complete(req Request, digest string, res *Result) (*Outcome, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: empty result", ErrAgentProtocol)
	}
	if res.Signature == "" || res.Algorithm == "" {
		return nil, fmt.Errorf("%w: result lacks signature value or algorithm", ErrAgentProtocol)
	}
	var cert document.CertificateInfo
	switch {
	case res.CertificatePEM != "":
		parsed, err := certificateFromPEM(res.CertificatePEM)
		if err != nil {
			return nil, err
		}
		cert = parsed
	case res.Certificate != nil:
		cert = *res.Certificate
	}
	if !completeCertificate(cert) {
		return nil, fmt.Errorf("%w: result lacks certificate data", ErrAgentProtocol)
	}
	return &Outcome{
		Signature:      res.Signature,
		Algorithm:      res.Algorithm,
		Certificate:    cert,
		SignedFileName: SignedObjectKey(req.FileRef, req.SignerID),
		SignedContent:  res.SignedContent,
		Digest:         digest,
		SignedAt:       c.now().UTC(),
	}, nil
}

// step runs fn under its own deadline and classifies the failure.
func (c *Client) step(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	err := fn(sctx)
	result := "ok"
	if err != nil {
		err = classify(sctx, name, err)
		result = "error"
		if errors.Is(err, ErrAgentTimeout) {
			result = "timeout"
		}
	}
	metrics.AgentStepDuration.WithLabelValues(name, result).Observe(time.Since(start).Seconds())
	return err
}

func classify(ctx context.Context, step string, err error) error {
	switch {
	case errors.Is(err, ErrAgentTimeout), errors.Is(err, ErrAgentUnavailable), errors.Is(err, ErrAgentProtocol):
		return fmt.Errorf("%s: %w", step, err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", step, ErrAgentTimeout)
	case step == StepCheck:
		return fmt.Errorf("%s: %w: %v", step, ErrAgentUnavailable, err)
	}
	return fmt.Errorf("%s: %w: %v", step, ErrAgentProtocol, err)
}
