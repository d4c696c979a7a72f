package watchsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"mentory-go/internal/mentory"
)

// SyncPath is where the phone side accepts watch connections.
const SyncPath = "/sync"

const (
	kindRequest = "request"
	kindReply   = "reply"
	kindMessage = "message"
	kindContext = "context"

	writeTimeout    = 5 * time.Second
	redialDelay     = time.Second
	shutdownTimeout = 5 * time.Second
)

// envelope is the JSON frame exchanged over the socket.
type envelope struct {
	ID      uint64  `json:"id,omitempty"`
	Kind    string  `json:"kind"`
	Payload Payload `json:"payload,omitempty"`
}

// WebSocketTransport carries payloads over a single WebSocket connection.
// The phone side listens (it is an http.Handler), the watch side dials.
// A newer connection replaces the current one.
type WebSocketTransport struct {
	dialURL string
	logger  mentory.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	handler    Handler
	conn       *websocket.Conn
	connDone   chan struct{}
	pending    map[uint64]chan Payload
	nextID     uint64
	appContext Payload
	closed     bool
}

// NewWebSocketListener returns the accepting end. Mount it on SyncPath.
func NewWebSocketListener(logger mentory.Logger) *WebSocketTransport {
	return newWebSocketTransport("", logger)
}

// NewWebSocketDialer returns the end that connects to url on Activate and
// redials after the connection drops.
func NewWebSocketDialer(url string, logger mentory.Logger) *WebSocketTransport {
	return newWebSocketTransport(url, logger)
}

func newWebSocketTransport(dialURL string, logger mentory.Logger) *WebSocketTransport {
	if logger == nil {
		logger = mentory.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketTransport{
		dialURL: dialURL,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[uint64]chan Payload),
	}
}

func (t *WebSocketTransport) currentHandler() Handler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handler
}

// goTracked starts fn unless the transport is closed.
func (t *WebSocketTransport) goTracked(fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn()
	}()
	return true
}

func (t *WebSocketTransport) Activate(h Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()

	if t.dialURL == "" {
		t.goTracked(func() {
			h.ActivationCompleted(ActivationActivated, nil)
			if t.Reachable() {
				h.ReachabilityChanged(true)
			}
		})
		return
	}
	t.goTracked(func() { t.dialLoop(h) })
}

func (t *WebSocketTransport) dialLoop(h Handler) {
	activated := false
	for {
		conn, _, err := websocket.Dial(t.ctx, t.dialURL, nil)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			if !activated {
				h.ActivationCompleted(ActivationNotActivated, fmt.Errorf("dial %s: %w", t.dialURL, err))
				return
			}
			t.logger.Debug("redial failed", "url", t.dialURL, "error", err)
		} else {
			done := t.attach(conn)
			if !activated {
				activated = true
				h.ActivationCompleted(ActivationActivated, nil)
			}
			t.readLoop(conn, done)
		}

		select {
		case <-t.ctx.Done():
			return
		case <-time.After(redialDelay):
		}
	}
}

// ServeHTTP accepts a watch connection and reads from it until it drops.
func (t *WebSocketTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		http.Error(w, "sync transport closed", http.StatusServiceUnavailable)
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()
	defer t.wg.Done()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		t.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	t.logger.Info("watch connected", "remote", r.RemoteAddr)
	t.readLoop(conn, t.attach(conn))
}

// attach makes conn the current connection and re-sends the latest context.
func (t *WebSocketTransport) attach(conn *websocket.Conn) chan struct{} {
	done := make(chan struct{})

	t.mu.Lock()
	old, oldDone := t.conn, t.connDone
	t.conn, t.connDone = conn, done
	appContext := t.appContext.clone()
	h := t.handler
	t.mu.Unlock()

	if old != nil {
		close(oldDone)
		_ = old.CloseNow()
	}
	if appContext != nil {
		if err := t.write(t.ctx, conn, envelope{Kind: kindContext, Payload: appContext}); err != nil {
			t.logger.Warn("resend context failed", "error", err)
		}
	}
	if h != nil {
		h.ReachabilityChanged(true)
	}
	return done
}

// detach clears conn if it is still current.
func (t *WebSocketTransport) detach(conn *websocket.Conn, done chan struct{}) {
	_ = conn.CloseNow()

	t.mu.Lock()
	current := t.conn == conn
	if current {
		t.conn, t.connDone = nil, nil
	}
	h := t.handler
	t.mu.Unlock()

	if !current {
		return
	}
	close(done)
	if h != nil {
		h.ReachabilityChanged(false)
	}
}

func (t *WebSocketTransport) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer t.detach(conn, done)
	for {
		var env envelope
		if err := wsjson.Read(t.ctx, conn, &env); err != nil {
			if t.ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				t.logger.Debug("sync read ended", "error", err)
			}
			return
		}
		t.dispatch(conn, env)
	}
}

func (t *WebSocketTransport) dispatch(conn *websocket.Conn, env envelope) {
	if env.Kind == kindReply {
		t.mu.Lock()
		ch, ok := t.pending[env.ID]
		delete(t.pending, env.ID)
		t.mu.Unlock()
		if ok {
			ch <- env.Payload
		}
		return
	}

	h := t.currentHandler()
	if h == nil {
		t.logger.Debug("frame dropped before activation", "kind", env.Kind)
		return
	}
	switch env.Kind {
	case kindRequest:
		var once sync.Once
		h.MessageReceived(env.Payload, func(p Payload) {
			once.Do(func() {
				if err := t.write(t.ctx, conn, envelope{ID: env.ID, Kind: kindReply, Payload: p}); err != nil {
					t.logger.Warn("reply failed", "error", err)
				}
			})
		})
	case kindMessage:
		h.MessageReceived(env.Payload, nil)
	case kindContext:
		h.ContextReceived(env.Payload)
	default:
		t.logger.Warn("unknown frame", "kind", env.Kind)
	}
}

func (t *WebSocketTransport) write(ctx context.Context, conn *websocket.Conn, env envelope) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, env)
}

func (t *WebSocketTransport) current() (*websocket.Conn, chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn, t.connDone
}

func (t *WebSocketTransport) Reachable() bool {
	conn, _ := t.current()
	return conn != nil
}

func (t *WebSocketTransport) SendMessage(ctx context.Context, msg Payload) (Payload, error) {
	t.mu.Lock()
	conn, done := t.conn, t.connDone
	if conn == nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("send message: %w", mentory.ErrTransportUnreachable)
	}
	t.nextID++
	id := t.nextID
	replies := make(chan Payload, 1)
	t.pending[id] = replies
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if err := t.write(ctx, conn, envelope{ID: id, Kind: kindRequest, Payload: msg}); err != nil {
		return nil, t.sendError(ctx, err)
	}

	select {
	case p := <-replies:
		return p, nil
	case <-done:
		return nil, fmt.Errorf("send message: connection dropped: %w", mentory.ErrTransportUnreachable)
	case <-t.ctx.Done():
		return nil, fmt.Errorf("send message: %w", mentory.ErrTransportUnreachable)
	case <-ctx.Done():
		return nil, fmt.Errorf("send message: no reply: %w: %w", mentory.ErrTransport, ctx.Err())
	}
}

func (t *WebSocketTransport) sendError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("send message: %w: %w", mentory.ErrTransport, err)
	}
	return fmt.Errorf("send message: %w: %w", mentory.ErrTransportUnreachable, err)
}

func (t *WebSocketTransport) Send(ctx context.Context, msg Payload) error {
	conn, _ := t.current()
	if conn == nil {
		return fmt.Errorf("send: %w", mentory.ErrTransportUnreachable)
	}
	if err := t.write(ctx, conn, envelope{Kind: kindMessage, Payload: msg}); err != nil {
		return t.sendError(ctx, err)
	}
	return nil
}

func (t *WebSocketTransport) UpdateContext(ctx context.Context, appContext Payload) error {
	t.mu.Lock()
	t.appContext = appContext.clone()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := t.write(ctx, conn, envelope{Kind: kindContext, Payload: appContext}); err != nil {
		return fmt.Errorf("update context: %w", err)
	}
	return nil
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	t.cancel()
	if conn != nil {
		_ = conn.CloseNow()
	}
	t.wg.Wait()
	return nil
}

var _ Transport = (*WebSocketTransport)(nil)

// Serve exposes t on addr under SyncPath until ctx is cancelled.
func Serve(ctx context.Context, addr string, t *WebSocketTransport, logger mentory.Logger) error {
	if logger == nil {
		logger = mentory.NewNopLogger()
	}
	mux := http.NewServeMux()
	mux.Handle(SyncPath, t)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("sync server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("sync server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = t.Close()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
