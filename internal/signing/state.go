package signing

import (
	"errors"
	"time"

	"github.com/signdesk/signdesk/internal/document"
)

var (
	// ErrAttemptInFlight rejects a second attempt for the same document and signer.
	ErrAttemptInFlight = errors.New("a signing attempt is already in progress")
	// ErrInvalidTransition is returned when the session state does not allow the operation.
	ErrInvalidTransition = errors.New("invalid signing state transition")
	// ErrCloseBlocked is returned when dismissing a session that is processing.
	ErrCloseBlocked = errors.New("signing session cannot be closed while processing")
	// ErrLockLost is returned when refreshing a lock the caller no longer owns.
	ErrLockLost = errors.New("signing lock is no longer held")
	// ErrPersistence marks a signature that was produced but could not be recorded.
	ErrPersistence = errors.New("signature produced but not recorded")
)

// State is the signing workflow state of one (document, signer) pair.
type State string

const (
	StateIdle       State = "idle"
	StateReviewing  State = "reviewing"
	StateConnecting State = "connecting"
	StateProcessing State = "processing"
	StateSuccess    State = "success"
	StateError      State = "error"
)

// Busy reports whether an agent exchange is under way.
func (s State) Busy() bool {
	return s == StateConnecting || s == StateProcessing
}

// CanClose is the guard for the hosting surface: closing is allowed from
// idle, success and error only.
func CanClose(s State) bool {
	return s == StateIdle || s == StateSuccess || s == StateError
}

func canConfirm(s State) bool {
	return s == StateIdle || s == StateReviewing || s == StateError
}

// ErrorKind classifies a failed attempt.
type ErrorKind string

const (
	KindAgentUnavailable ErrorKind = "agent_unavailable"
	KindAgentProtocol    ErrorKind = "agent_protocol"
	KindAgentTimeout     ErrorKind = "agent_timeout"
	KindPersistence      ErrorKind = "persistence"
)

// Session is the explicit workflow value for one (document, signer) pair.
type Session struct {
	DocumentID string   `json:"documentId"`
	UserID     string   `json:"userId"`
	State      State    `json:"state"`
	Attempt    int      `json:"attempt"`
	Title      string   `json:"title,omitempty"`
	FileRef    string   `json:"file,omitempty"`
	Transcript []string `json:"transcript"`
	// Result is the recorded ledger entry after a successful attempt.
	Result    *document.Signature `json:"result,omitempty"`
	ErrorKind ErrorKind           `json:"errorKind,omitempty"`
	Error     string              `json:"error,omitempty"`
	Hint      string              `json:"hint,omitempty"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

func (s *Session) Clone() *Session {
	cp := *s
	cp.Transcript = append([]string(nil), s.Transcript...)
	if s.Result != nil {
		r := *s.Result
		cp.Result = &r
	}
	return &cp
}

// idleSession is what an absent session looks like.
func idleSession(docID, userID string) *Session {
	return &Session{DocumentID: docID, UserID: userID, State: StateIdle, Transcript: []string{}}
}

func key(docID, userID string) string {
	return docID + ":" + userID
}
