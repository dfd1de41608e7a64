package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/signdesk/signdesk/pkg/logger"
)

// DefaultURL is the loopback endpoint local signing agents listen on.
const DefaultURL = "ws://127.0.0.1:9774"

// WSProvider dials a local agent over WebSocket, one connection per attempt.
type WSProvider struct {
	URL              string
	HandshakeTimeout time.Duration
	Header           http.Header
}

func (p WSProvider) NewAgent() Agent {
	url := p.URL
	if url == "" {
		url = DefaultURL
	}
	ht := p.HandshakeTimeout
	if ht <= 0 {
		ht = 10 * time.Second
	}
	return &WSAgent{url: url, dialer: websocket.Dialer{HandshakeTimeout: ht}, header: p.Header}
}

// WSAgent speaks the JSON frame protocol with a local agent. A WSAgent serves
// one attempt and is not safe for concurrent steps.
type WSAgent struct {
	url    string
	dialer websocket.Dialer
	header http.Header

	mu   sync.Mutex
	conn *websocket.Conn
}

// CheckEnvironment dials the agent and waits for its check reply.
func (a *WSAgent) CheckEnvironment(ctx context.Context, sink Sink) error {
	sink.Log("Verificando WebSockets en " + a.url + "...")
	conn, resp, err := a.dialer.DialContext(ctx, a.url, a.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: dial %s: %v (status %d)", ErrAgentUnavailable, a.url, err, resp.StatusCode)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: dial %s: %v", ErrAgentUnavailable, a.url, err)
	}
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	reply, err := a.roundTrip(ctx, Frame{Type: frameCheck}, sink)
	if err != nil {
		if errors.Is(err, ErrAgentProtocol) {
			return fmt.Errorf("%w: %v", ErrAgentUnavailable, err)
		}
		return err
	}
	name := reply.Agent
	if name == "" {
		name = "agente de firma"
	}
	sink.Log("Conexión establecida con " + name)
	return nil
}

func (a *WSAgent) Dispatch(ctx context.Context, req DispatchRequest, sink Sink) (Ticket, error) {
	reply, err := a.roundTrip(ctx, Frame{Type: frameDispatch, Dispatch: &req}, sink)
	if err != nil {
		return Ticket{}, err
	}
	if reply.Ticket == "" {
		return Ticket{}, fmt.Errorf("%w: dispatch reply without ticket", ErrAgentProtocol)
	}
	return Ticket{ID: reply.Ticket}, nil
}

func (a *WSAgent) AwaitUserAction(ctx context.Context, t Ticket, sink Sink) error {
	_, err := a.roundTrip(ctx, Frame{Type: frameAwait, Ticket: t.ID}, sink)
	return err
}

func (a *WSAgent) RetrieveResult(ctx context.Context, t Ticket, sink Sink) (*Result, error) {
	reply, err := a.roundTrip(ctx, Frame{Type: frameRetrieve, Ticket: t.ID}, sink)
	if err != nil {
		return nil, err
	}
	if reply.Result == nil {
		return nil, fmt.Errorf("%w: retrieve reply without result", ErrAgentProtocol)
	}
	return reply.Result, nil
}

// Close sends a close frame and drops the connection.
func (a *WSAgent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	_ = a.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := a.conn.Close()
	a.conn = nil
	return err
}

// roundTrip writes req and reads until the correlated reply arrives,
// forwarding progress frames to sink.
func (a *WSAgent) roundTrip(ctx context.Context, req Frame, sink Sink) (Frame, error) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return Frame{}, fmt.Errorf("%w: not connected", ErrAgentProtocol)
	}
	req.ID = uuid.NewString()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(req); err != nil {
		if terr := timeoutErr(ctx, err); terr != nil {
			return Frame{}, terr
		}
		return Frame{}, fmt.Errorf("%w: write %s: %v", ErrAgentProtocol, req.Type, err)
	}

	// unblock the read when ctx is cancelled
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()
	_ = conn.SetReadDeadline(deadline)

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if terr := timeoutErr(ctx, err); terr != nil {
				return Frame{}, terr
			}
			return Frame{}, fmt.Errorf("%w: read %s reply: %v", ErrAgentProtocol, req.Type, err)
		}
		switch {
		case f.Type == frameProgress:
			if f.Message != "" {
				sink.Log(f.Message)
			}
		case f.ID != req.ID:
			logger.Debugf("agent: ignoring frame %s for id %s while waiting for %s", f.Type, f.ID, req.ID)
		case f.Type == frameError:
			return Frame{}, fmt.Errorf("%w: %s: %s", ErrAgentProtocol, req.Type, f.Error)
		case f.Type == req.Type+okSuffix:
			return f, nil
		default:
			return Frame{}, fmt.Errorf("%w: unexpected %q reply to %s", ErrAgentProtocol, f.Type, req.Type)
		}
	}
}

// timeoutErr reports a socket error caused by ctx ending. The socket deadline
// equals the context deadline and may fire first, so an i/o timeout counts
// as the context's.
func timeoutErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrAgentTimeout, err)
	}
	return nil
}
