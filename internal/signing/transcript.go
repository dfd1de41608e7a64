package signing

import (
	"context"
	"sync"

	"github.com/signdesk/signdesk/pkg/logger"
)

const timeLayout = "15:04:05"

// transcript is the agent.Sink of one attempt. Lines get a "[hh:mm:ss]"
// prefix and are written through to the session store in order.
type transcript struct {
	mu  sync.Mutex
	ctx context.Context
	m   *Manager
	s   *Session
}

func newTranscript(ctx context.Context, m *Manager, s *Session) *transcript {
	return &transcript{ctx: ctx, m: m, s: s}
}

func (t *transcript) Log(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Transcript = append(t.s.Transcript, "["+t.m.now().Format(timeLayout)+"] "+msg)
	t.saveLocked()
}

// flush persists state changes made to the session outside Log.
func (t *transcript) flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.saveLocked()
}

func (t *transcript) saveLocked() {
	if err := t.m.save(context.WithoutCancel(t.ctx), t.s.Clone()); err != nil {
		logger.Warnf("signing: persist session %s/%s: %v", t.s.DocumentID, t.s.UserID, err)
	}
}
