package signing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/signdesk/signdesk/internal/agent"
	"github.com/signdesk/signdesk/internal/audit"
	"github.com/signdesk/signdesk/internal/document"
	"github.com/signdesk/signdesk/internal/storage"
	"github.com/signdesk/signdesk/pkg/logger"
	"github.com/signdesk/signdesk/pkg/metrics"
	"go.uber.org/zap"
)

// Documents is the ledger boundary used by the workflow.
type Documents interface {
	Lookup(ctx context.Context, id string) (*document.SignableDocument, error)
	RecordSignature(ctx context.Context, docID, userID string, rec document.SignatureRecord) (*document.SignableDocument, error)
}

// AgentClient runs one complete agent exchange.
type AgentClient interface {
	Sign(ctx context.Context, req agent.Request, sink agent.Sink) (*agent.Outcome, error)
}

// Auditor records finished attempts.
type Auditor interface {
	Save(ctx context.Context, a *audit.Attempt) error
}

// Signer identifies the person signing.
type Signer struct {
	ID   string
	Name string
}

// Deps are the collaborators of a Manager. Files and Audit may be nil.
type Deps struct {
	Documents Documents
	Agent     AgentClient
	Files     storage.FileStore
	Sessions  SessionStore
	Locks     Locker
	Audit     Auditor
}

// dismissLockTTL bounds how long Dismiss holds the pair lock.
const dismissLockTTL = 10 * time.Second

type Options struct {
	// LockTTL is how long an attempt lock lives without a refresh. Running
	// attempts refresh it every third of the TTL.
	LockTTL time.Duration
	// PollInterval is how often Wait re-reads a session changed elsewhere.
	PollInterval time.Duration
}

// Manager drives the per-(document, signer) signing workflow.
type Manager struct {
	deps Deps
	opts Options
	root context.Context
	now  func() time.Time

	wg      sync.WaitGroup
	mu      sync.Mutex
	changed chan struct{}
	running map[string]chan struct{}
}

// NewManager returns a Manager. Attempts run on root, not on the request
// context, so an abandoned request never leaves a half-finished write.
func NewManager(root context.Context, deps Deps, opts Options) *Manager {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	return &Manager{
		deps:    deps,
		opts:    opts,
		root:    root,
		now:     time.Now,
		changed: make(chan struct{}),
		running: map[string]chan struct{}{},
	}
}

// Get returns the current session; an absent session is idle.
func (m *Manager) Get(ctx context.Context, docID, userID string) (*Session, error) {
	s, err := m.deps.Sessions.Get(ctx, docID, userID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return idleSession(docID, userID), nil
	}
	return s, nil
}

// Open moves idle to reviewing for a pending entry.
func (m *Manager) Open(ctx context.Context, docID, userID string) (*Session, error) {
	s, err := m.Get(ctx, docID, userID)
	if err != nil {
		return nil, err
	}
	if s.State != StateIdle && s.State != StateReviewing {
		return nil, fmt.Errorf("%w: open from %s", ErrInvalidTransition, s.State)
	}
	doc, err := m.pending(ctx, docID, userID)
	if err != nil {
		return nil, err
	}
	s.State = StateReviewing
	s.Title = doc.Title
	s.FileRef = doc.File
	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Confirm starts an attempt: the transcript is cleared, the pair is locked
// and the agent exchange runs in the background.
func (m *Manager) Confirm(ctx context.Context, docID string, signer Signer) (*Session, error) {
	lk := key(docID, signer.ID)
	token, err := m.deps.Locks.Acquire(ctx, lk, m.opts.LockTTL)
	if err != nil {
		return nil, err
	}
	started := false
	defer func() {
		if !started {
			_ = m.deps.Locks.Release(context.Background(), lk, token)
		}
	}()
	if m.isRunning(lk) {
		return nil, ErrAttemptInFlight
	}

	s, err := m.Get(ctx, docID, signer.ID)
	if err != nil {
		return nil, err
	}
	if s.State.Busy() {
		// the lock was free and no attempt runs here, so whoever ran it is gone
		logger.Warnf("signing: recovering stale %s session %s/%s", s.State, docID, signer.ID)
		s.State = StateError
	}
	if !canConfirm(s.State) {
		return nil, fmt.Errorf("%w: confirm from %s", ErrInvalidTransition, s.State)
	}
	doc, err := m.pending(ctx, docID, signer.ID)
	if err != nil {
		return nil, err
	}

	s.State = StateConnecting
	s.Attempt++
	s.Title = doc.Title
	s.FileRef = doc.File
	s.Transcript = []string{}
	s.Result = nil
	s.ErrorKind, s.Error, s.Hint = "", "", ""
	if err := m.save(ctx, s); err != nil {
		return nil, err
	}

	started = true
	done := make(chan struct{})
	m.mu.Lock()
	m.running[lk] = done
	m.mu.Unlock()
	m.wg.Add(1)
	go m.run(s.Clone(), doc, signer, lk, token, done)
	return s, nil
}

// Dismiss returns the pair to idle and discards the transient session. It
// holds the pair lock so it cannot interleave with Confirm.
func (m *Manager) Dismiss(ctx context.Context, docID, userID string) error {
	lk := key(docID, userID)
	if m.isRunning(lk) {
		return ErrCloseBlocked
	}
	token, err := m.deps.Locks.Acquire(ctx, lk, dismissLockTTL)
	if errors.Is(err, ErrAttemptInFlight) {
		return ErrCloseBlocked
	}
	if err != nil {
		return err
	}
	defer func() { _ = m.deps.Locks.Release(context.Background(), lk, token) }()

	s, err := m.deps.Sessions.Get(ctx, docID, userID)
	if err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	if s.State.Busy() {
		return ErrCloseBlocked
	}
	if err := m.deps.Sessions.Delete(ctx, docID, userID); err != nil {
		return err
	}
	m.notify()
	return nil
}

func (m *Manager) isRunning(lk string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[lk]
	return ok
}

// keepLock extends the attempt lock every third of its TTL until the
// returned stop func is called.
func (m *Manager) keepLock(lk, token string, log *zap.Logger) func() {
	every := m.opts.LockTTL / 3
	if every <= 0 {
		every = time.Millisecond
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				ctx, cancel := context.WithTimeout(context.Background(), every)
				err := m.deps.Locks.Refresh(ctx, lk, token, m.opts.LockTTL)
				cancel()
				if err != nil {
					log.Warn("refresh signing lock", zap.String("lock", lk), zap.Error(err))
				}
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}

// Wait blocks until the session is no longer connecting or processing. An
// attempt running in this process is waited for until it has fully finished.
func (m *Manager) Wait(ctx context.Context, docID, userID string) (*Session, error) {
	m.mu.Lock()
	done := m.running[key(docID, userID)]
	m.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	for {
		m.mu.Lock()
		ch := m.changed
		m.mu.Unlock()

		s, err := m.Get(ctx, docID, userID)
		if err != nil {
			return nil, err
		}
		if !s.State.Busy() {
			return s, nil
		}
		t := time.NewTimer(m.opts.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-ch:
		case <-t.C:
		}
		t.Stop()
	}
}

// Shutdown waits for in-flight attempts to finish or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) pending(ctx context.Context, docID, userID string) (*document.SignableDocument, error) {
	doc, err := m.deps.Documents.Lookup(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.SignedFor(userID) {
		return nil, fmt.Errorf("%w: %s already signed %s", document.ErrAlreadySigned, userID, docID)
	}
	if !doc.PendingFor(userID) {
		return nil, fmt.Errorf("%w: no signature entry for %s on %s", document.ErrNotFound, userID, docID)
	}
	return doc, nil
}

func (m *Manager) save(ctx context.Context, s *Session) error {
	s.UpdatedAt = m.now().UTC()
	if err := m.deps.Sessions.Put(ctx, s); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	m.notify()
	return nil
}

// notify wakes every Wait in this process.
func (m *Manager) notify() {
	m.mu.Lock()
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()
}

// run is the processing half of an attempt. It owns s until it returns.
func (m *Manager) run(s *Session, doc *document.SignableDocument, signer Signer, lk, token string, done chan struct{}) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.running, lk)
		m.mu.Unlock()
		close(done)
	}()
	defer func() {
		if err := m.deps.Locks.Release(context.Background(), lk, token); err != nil {
			logger.Warnf("release signing lock %s: %v", lk, err)
		}
	}()
	ctx := m.root
	log := logger.With(zap.String("document", s.DocumentID), zap.String("signer", s.UserID), zap.Int("attempt", s.Attempt))
	defer m.keepLock(lk, token, log)()
	tr := newTranscript(ctx, m, s)

	tr.Log("Iniciando comunicación con la aplicación local de firma...")
	s.State = StateProcessing
	tr.flush()

	out, err := m.deps.Agent.Sign(ctx, agent.Request{
		DocumentID: doc.ID,
		FileRef:    doc.File,
		Digest:     doc.ContentDigest,
		SignerID:   signer.ID,
		SignerName: signer.Name,
	}, tr)
	if err != nil {
		kind := kindOf(err)
		switch kind {
		case KindAgentUnavailable:
			tr.Log("ERROR: No se pudo comunicar con AutoFirma.")
			tr.Log(agent.RemediationHint)
			s.Hint = agent.RemediationHint
		case KindAgentTimeout:
			tr.Log("ERROR: La aplicación de firma no respondió a tiempo.")
		default:
			tr.Log("ERROR: No se pudo completar la firma con la aplicación local.")
		}
		log.Warn("signing attempt failed", zap.String("kind", string(kind)), zap.Error(err))
		m.fail(tr, s, kind, err)
		m.audit(ctx, s, nil, audit.OutcomeFailed)
		return
	}

	if err := m.storeArtifact(ctx, tr, out); err != nil {
		m.unrecorded(ctx, log, tr, s, out, err)
		return
	}
	tr.Log("Registrando firma de " + out.SignedFileName + "...")
	updated, err := m.deps.Documents.RecordSignature(ctx, s.DocumentID, s.UserID, out.Record())
	if err != nil {
		m.unrecorded(ctx, log, tr, s, out, err)
		return
	}

	tr.Log("Documento almacenado correctamente en el servidor.")
	if entry, ok := updated.SignatureFor(s.UserID); ok {
		s.Result = &entry
	}
	s.State = StateSuccess
	tr.flush()
	metrics.SigningAttempts.WithLabelValues("success").Inc()
	log.Info("signature recorded", zap.String("signedFile", out.SignedFileName))
	m.audit(ctx, s, out, audit.OutcomeSuccess)
}

func (m *Manager) storeArtifact(ctx context.Context, tr *transcript, out *agent.Outcome) error {
	if m.deps.Files == nil || len(out.SignedContent) == 0 {
		return nil
	}
	tr.Log("Subiendo documento firmado: " + out.SignedFileName + "...")
	ct := mime.TypeByExtension(path.Ext(out.SignedFileName))
	if ct == "" {
		ct = "application/octet-stream"
	}
	if err := m.deps.Files.UploadFile(ctx, out.SignedFileName, bytes.NewReader(out.SignedContent), int64(len(out.SignedContent)), ct); err != nil {
		return fmt.Errorf("upload %s: %w", out.SignedFileName, err)
	}
	return nil
}

// unrecorded handles a signature that was produced but not stored. The
// complete result is logged and audited so it can be reconciled by hand.
func (m *Manager) unrecorded(ctx context.Context, log *zap.Logger, tr *transcript, s *Session, out *agent.Outcome, cause error) {
	tr.Log("ERROR: La firma se obtuvo pero no se pudo registrar en el servidor.")
	tr.Log("Contacte con un administrador para conciliar la firma.")
	log.Error("signature produced but not recorded",
		zap.Error(cause),
		zap.String("signedFile", out.SignedFileName),
		zap.String("algorithm", out.Algorithm),
		zap.String("signatureValue", out.Signature),
		zap.String("digest", out.Digest),
		zap.String("certOwner", out.Certificate.OwnerName),
		zap.String("certIssuer", out.Certificate.IssuerName),
		zap.String("certSerial", out.Certificate.SerialNumber),
		zap.String("certValidFrom", out.Certificate.ValidFrom),
		zap.String("certValidTo", out.Certificate.ValidTo),
		zap.Time("signedAt", out.SignedAt),
	)
	m.fail(tr, s, KindPersistence, fmt.Errorf("%w: %v", ErrPersistence, cause))
	m.audit(ctx, s, out, audit.OutcomeUnrecorded)
}

func (m *Manager) fail(tr *transcript, s *Session, kind ErrorKind, err error) {
	s.State = StateError
	s.ErrorKind = kind
	s.Error = err.Error()
	tr.flush()
	metrics.SigningAttempts.WithLabelValues(string(kind)).Inc()
}

func (m *Manager) audit(ctx context.Context, s *Session, out *agent.Outcome, outcome string) {
	if m.deps.Audit == nil {
		return
	}
	a := &audit.Attempt{
		ID:         uuid.NewString(),
		DocumentID: s.DocumentID,
		UserID:     s.UserID,
		Attempt:    s.Attempt,
		Outcome:    outcome,
		ErrorKind:  string(s.ErrorKind),
		Error:      s.Error,
		Transcript: append([]string(nil), s.Transcript...),
		CreatedAt:  m.now().UTC(),
	}
	if out != nil {
		cert := out.Certificate
		at := out.SignedAt
		a.Digest = out.Digest
		a.Algorithm = out.Algorithm
		a.SignatureValue = out.Signature
		a.Certificate = &cert
		a.SignedFileName = out.SignedFileName
		a.SignedAt = &at
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := m.deps.Audit.Save(actx, a); err != nil {
		logger.Errorf("audit signing attempt %s for %s/%s: %v", a.ID, s.DocumentID, s.UserID, err)
	}
}

func kindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, agent.ErrAgentUnavailable):
		return KindAgentUnavailable
	case errors.Is(err, agent.ErrAgentTimeout):
		return KindAgentTimeout
	}
	return KindAgentProtocol
}
