package agent

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/signdesk/signdesk/pkg/logger"
)

// Server exposes any Agent implementation over the WebSocket frame protocol.
// Each connection gets its own Agent from the provider.
type Server struct {
	provider Provider
	name     string
	upgrader websocket.Upgrader
	// ReadLimit caps a single inbound frame; dispatch frames carry the document.
	ReadLimit int64
}

// NewServer returns a Server announcing itself as name in check replies.
func NewServer(p Provider, name string) *Server {
	return &Server{
		provider:  p,
		name:      name,
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		ReadLimit: 64 << 20,
	}
}

// ServeHTTP upgrades the request and serves frames until the peer leaves.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("agent server: upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.ReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	a := s.provider.NewAgent()
	defer a.Close()

	out := &frameWriter{conn: conn}
	logger.Infof("agent server: session opened from %s", r.RemoteAddr)
	for {
		var req Frame
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debugf("agent server: read: %v", err)
			}
			logger.Infof("agent server: session closed from %s", r.RemoteAddr)
			return
		}
		reply := s.handle(ctx, a, req, out)
		reply.ID = req.ID
		if err := out.write(reply); err != nil {
			logger.Debugf("agent server: write: %v", err)
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, a Agent, req Frame, out *frameWriter) Frame {
	sink := SinkFunc(func(msg string) {
		_ = out.write(Frame{Type: frameProgress, ID: req.ID, Message: msg})
	})
	fail := func(err error) Frame { return Frame{Type: frameError, Error: err.Error()} }

	switch req.Type {
	case frameCheck:
		if err := a.CheckEnvironment(ctx, sink); err != nil {
			return fail(err)
		}
		return Frame{Type: frameCheck + okSuffix, Agent: s.name}
	case frameDispatch:
		if req.Dispatch == nil {
			return Frame{Type: frameError, Error: "dispatch frame without payload"}
		}
		t, err := a.Dispatch(ctx, *req.Dispatch, sink)
		if err != nil {
			return fail(err)
		}
		return Frame{Type: frameDispatch + okSuffix, Ticket: t.ID}
	case frameAwait:
		if err := a.AwaitUserAction(ctx, Ticket{ID: req.Ticket}, sink); err != nil {
			return fail(err)
		}
		return Frame{Type: frameAwait + okSuffix, Ticket: req.Ticket}
	case frameRetrieve:
		res, err := a.RetrieveResult(ctx, Ticket{ID: req.Ticket}, sink)
		if err != nil {
			return fail(err)
		}
		return Frame{Type: frameRetrieve + okSuffix, Ticket: req.Ticket, Result: res}
	}
	return Frame{Type: frameError, Error: "unknown frame type " + req.Type}
}

// frameWriter serialises writes; gorilla connections allow one writer.
type frameWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *frameWriter) write(f Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(f)
}
