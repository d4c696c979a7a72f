package watchsync

import (
	"context"
	"fmt"
	"sync"

	"mentory-go/internal/mentory"
)

// memoryLink is the state shared by both ends of a memory pair.
type memoryLink struct {
	mu        sync.Mutex
	reachable bool
	dropped   chan struct{}
}

// MemoryTransport is one end of an in-process link. Deliveries to an end
// run in order on that end's inbox goroutine.
type MemoryTransport struct {
	name string
	link *memoryLink
	peer *MemoryTransport

	// Guarded by link.mu.
	handler       Handler
	activationErr error
	appContext    Payload
	closed        bool

	inbox chan func()
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewMemoryPair returns two connected ends. The link starts reachable.
func NewMemoryPair() (phone, watch *MemoryTransport) {
	link := &memoryLink{reachable: true, dropped: make(chan struct{})}
	phone = newMemoryEnd("phone", link)
	watch = newMemoryEnd("watch", link)
	phone.peer, watch.peer = watch, phone
	return phone, watch
}

func newMemoryEnd(name string, link *memoryLink) *MemoryTransport {
	t := &MemoryTransport{
		name:  name,
		link:  link,
		inbox: make(chan func(), eventBufferSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *MemoryTransport) loop() {
	defer close(t.done)
	for {
		select {
		case fn := <-t.inbox:
			fn()
		case <-t.quit:
			return
		}
	}
}

func (t *MemoryTransport) enqueue(fn func()) bool {
	select {
	case t.inbox <- fn:
		return true
	case <-t.quit:
		return false
	}
}

// deliver runs fn against the activated handler of t.
func (t *MemoryTransport) deliver(fn func(Handler)) bool {
	t.link.mu.Lock()
	h, closed := t.handler, t.closed
	t.link.mu.Unlock()
	if h == nil || closed {
		return false
	}
	return t.enqueue(func() { fn(h) })
}

// FailActivation makes the next Activate report err.
func (t *MemoryTransport) FailActivation(err error) {
	t.link.mu.Lock()
	t.activationErr = err
	t.link.mu.Unlock()
}

// SetReachable toggles the link for both ends. Requests in flight when the
// link drops fail as unreachable.
func (t *MemoryTransport) SetReachable(reachable bool) {
	t.link.mu.Lock()
	if t.link.reachable == reachable {
		t.link.mu.Unlock()
		return
	}
	t.link.reachable = reachable
	if reachable {
		t.link.dropped = make(chan struct{})
	} else {
		close(t.link.dropped)
	}
	t.link.mu.Unlock()

	for _, end := range []*MemoryTransport{t, t.peer} {
		r := end.Reachable()
		end.deliver(func(h Handler) { h.ReachabilityChanged(r) })
	}
	if reachable {
		t.flushContext()
		t.peer.flushContext()
	}
}

// flushContext delivers t's latest application context to the peer.
func (t *MemoryTransport) flushContext() {
	t.link.mu.Lock()
	appContext := t.appContext.clone()
	t.link.mu.Unlock()
	if appContext == nil || !t.Reachable() {
		return
	}
	t.peer.deliver(func(h Handler) { h.ContextReceived(appContext) })
}

func (t *MemoryTransport) Activate(h Handler) {
	t.link.mu.Lock()
	err := t.activationErr
	t.activationErr = nil
	if err == nil {
		t.handler = h
	}
	t.link.mu.Unlock()

	if err != nil {
		t.enqueue(func() { h.ActivationCompleted(ActivationNotActivated, err) })
		return
	}
	t.enqueue(func() { h.ActivationCompleted(ActivationActivated, nil) })
	t.peer.flushContext()
	if t.Reachable() {
		t.peer.deliver(func(h Handler) { h.ReachabilityChanged(true) })
	}
}

func (t *MemoryTransport) Reachable() bool {
	t.link.mu.Lock()
	defer t.link.mu.Unlock()
	return t.link.reachable && !t.closed && !t.peer.closed && t.peer.handler != nil
}

func (t *MemoryTransport) SendMessage(ctx context.Context, msg Payload) (Payload, error) {
	if !t.Reachable() {
		return nil, fmt.Errorf("%s send: %w", t.name, mentory.ErrTransportUnreachable)
	}
	t.link.mu.Lock()
	dropped := t.link.dropped
	t.link.mu.Unlock()

	replies := make(chan Payload, 1)
	var once sync.Once
	reply := func(p Payload) {
		once.Do(func() { replies <- p.clone() })
	}
	out := msg.clone()
	if !t.peer.deliver(func(h Handler) { h.MessageReceived(out, reply) }) {
		return nil, fmt.Errorf("%s send: %w", t.name, mentory.ErrTransportUnreachable)
	}

	select {
	case p := <-replies:
		return p, nil
	case <-dropped:
		return nil, fmt.Errorf("%s send: link dropped: %w", t.name, mentory.ErrTransportUnreachable)
	case <-t.quit:
		return nil, fmt.Errorf("%s send: %w", t.name, mentory.ErrTransportUnreachable)
	case <-ctx.Done():
		return nil, fmt.Errorf("%s send: no reply: %w: %w", t.name, mentory.ErrTransport, ctx.Err())
	}
}

func (t *MemoryTransport) Send(_ context.Context, msg Payload) error {
	if !t.Reachable() {
		return fmt.Errorf("%s send: %w", t.name, mentory.ErrTransportUnreachable)
	}
	out := msg.clone()
	if !t.peer.deliver(func(h Handler) { h.MessageReceived(out, nil) }) {
		return fmt.Errorf("%s send: %w", t.name, mentory.ErrTransportUnreachable)
	}
	return nil
}

func (t *MemoryTransport) UpdateContext(_ context.Context, appContext Payload) error {
	t.link.mu.Lock()
	if t.closed {
		t.link.mu.Unlock()
		return fmt.Errorf("%s update context: %w", t.name, mentory.ErrTransportUnreachable)
	}
	t.appContext = appContext.clone()
	t.link.mu.Unlock()

	t.flushContext()
	return nil
}

func (t *MemoryTransport) Close() error {
	t.once.Do(func() {
		t.link.mu.Lock()
		t.closed = true
		t.link.mu.Unlock()

		t.peer.deliver(func(h Handler) { h.ReachabilityChanged(false) })
		close(t.quit)
		<-t.done
	})
	return nil
}

var _ Transport = (*MemoryTransport)(nil)
