package watchsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mentory-go/internal/mentory"
)

var (
	// ErrNotActivated is returned by RequestData before activation completed.
	ErrNotActivated = errors.New("sync channel not activated")
	// ErrChannelClosed is returned by operations on a closed Channel.
	ErrChannelClosed = errors.New("sync channel closed")
)

const (
	defaultRequestTimeout = 5 * time.Second
	eventBufferSize       = 64
)

// Channel is the watch-side end of the sync link.
//
// All state lives on one worker goroutine. Public methods and transport
// callbacks post events to it, so concurrent replies and pushes are merged
// one at a time and the cache converges to the last writer per field.
type Channel struct {
	transport      Transport
	requestTimeout time.Duration
	logger         mentory.Logger

	events  chan func()
	quit    chan struct{}
	stopped chan struct{}
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once

	// Owned by the worker.
	state     State
	reason    string
	activated bool
	cache     WatchSyncState
	onUpdate  func(WatchSyncState)
}

// NewChannel creates an Inactive channel over transport and starts its worker.
// A zero requestTimeout uses five seconds.
func NewChannel(transport Transport, requestTimeout time.Duration, logger mentory.Logger) *Channel {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = mentory.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	c := &Channel{
		transport:      transport,
		requestTimeout: requestTimeout,
		logger:         logger,
		events:         make(chan func(), eventBufferSize),
		quit:           make(chan struct{}),
		stopped:        make(chan struct{}),
		baseCtx:        ctx,
		cancel:         cancel,
		cache:          WatchSyncState{Status: ConnectionStatus{Kind: StatusWaiting}},
	}
	go c.loop()
	return c
}

func (c *Channel) loop() {
	defer close(c.stopped)
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-c.quit:
			return
		}
	}
}

// post queues fn on the worker. It reports false once the channel is closed.
func (c *Channel) post(fn func()) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.events <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// await runs fn on the worker and waits for it.
func (c *Channel) await(fn func()) bool {
	done := make(chan struct{})
	if !c.post(func() { fn(); close(done) }) {
		return false
	}
	select {
	case <-done:
		return true
	case <-c.stopped:
		return false
	}
}

// Close stops the worker, abandons in-flight requests and closes the transport.
func (c *Channel) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		close(c.quit)
		<-c.stopped
		c.wg.Wait()
		err = c.transport.Close()
	})
	return err
}

// OnUpdate installs the handler that receives a full WatchSyncState after
// every change. It runs on the worker goroutine and must not block.
func (c *Channel) OnUpdate(fn func(WatchSyncState)) {
	c.await(func() { c.onUpdate = fn })
}

// Current returns the cached state.
func (c *Channel) Current() WatchSyncState {
	var s WatchSyncState
	c.await(func() { s = c.cache })
	return s
}

// State returns the lifecycle state and, for StateError, the reason.
func (c *Channel) State() (State, string) {
	var (
		s      State
		reason string
	)
	c.await(func() { s, reason = c.state, c.reason })
	return s, reason
}

// Activate starts the transport. It only has an effect while Inactive or
// after a failed activation.
func (c *Channel) Activate() {
	c.post(func() {
		if c.state != StateInactive && (c.activated || c.state != StateError) {
			c.logger.Debug("activate ignored", "state", c.state)
			return
		}
		c.setState(StateActivating, "")
		c.setStatus(ConnectionStatus{Kind: StatusWaiting})
		c.transport.Activate(c)
	})
}

// RequestData asks the phone for the mentor message and character and
// waits for the reply. Failures never clear the cache: an unreachable phone
// moves to StateUnreachable and status disconnected, any other transport
// failure to StateError.
func (c *Channel) RequestData(ctx context.Context) error {
	var precondition error
	if !c.await(func() {
		if !c.activated {
			precondition = fmt.Errorf("%w (state %s)", ErrNotActivated, c.state)
			return
		}
		if !c.transport.Reachable() {
			c.markUnreachable()
			precondition = mentory.ErrTransportUnreachable
		}
	}) {
		return ErrChannelClosed
	}
	if precondition != nil {
		return precondition
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	reply, err := c.transport.SendMessage(reqCtx, Payload{KeyRequest: RequestInitialData})

	c.await(func() {
		switch {
		case errors.Is(err, mentory.ErrTransportUnreachable):
			c.logger.Warn("phone unreachable", "error", err)
			c.markUnreachable()
		case err != nil:
			c.logger.Error("data request failed", "error", err)
			c.fail(err.Error())
		default:
			c.merge(reply.lookup(KeyMentorMessage), reply.lookup(KeyMentorCharacter))
		}
	})
	return err
}

// HandleReceivedData merges the non-nil fields into the cache, marks the
// link connected and publishes the full state.
func (c *Channel) HandleReceivedData(message, character *string) {
	c.await(func() { c.merge(message, character) })
}

// Transport callbacks. Each one is re-posted onto the worker.

func (c *Channel) ActivationCompleted(state ActivationState, err error) {
	c.post(func() {
		if err != nil {
			c.logger.Error("activation failed", "error", err)
			c.fail(err.Error())
			return
		}

		switch state {
		case ActivationActivated:
			c.activated = true
			c.setState(StateActivated, "")
			c.notify()
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				_ = c.RequestData(c.baseCtx)
			}()
		default:
			c.setState(StateInactive, "")
			c.setStatus(ConnectionStatus{Kind: StatusDisconnected})
		}
	})
}

func (c *Channel) MessageReceived(msg Payload, reply func(Payload)) {
	message, character := msg.lookup(KeyMentorMessage), msg.lookup(KeyMentorCharacter)
	c.post(func() { c.merge(message, character) })
	if reply != nil {
		reply(Payload{KeyStatus: StatusReceived})
	}
}

func (c *Channel) ContextReceived(appContext Payload) {
	message, character := appContext.lookup(KeyMentorMessage), appContext.lookup(KeyMentorCharacter)
	c.post(func() { c.merge(message, character) })
}

func (c *Channel) ReachabilityChanged(reachable bool) {
	c.post(func() {
		if !c.activated {
			return
		}
		if !reachable {
			c.markUnreachable()
			return
		}
		switch c.state {
		case StateActivated, StateUnreachable:
			c.setState(StateReachable, "")
		}
	})
}

// Worker-only helpers.

func (c *Channel) merge(message, character *string) {
	if message != nil {
		c.cache.MentorMessage = *message
	}
	if character != nil {
		c.cache.MentorCharacter = *character
	}
	switch c.state {
	case StateActivated, StateUnreachable, StateError:
		c.setState(StateReachable, "")
	}
	c.setStatus(ConnectionStatus{Kind: StatusConnected})
}

func (c *Channel) markUnreachable() {
	c.setState(StateUnreachable, "")
	c.setStatus(ConnectionStatus{Kind: StatusDisconnected})
}

func (c *Channel) fail(reason string) {
	c.setState(StateError, reason)
	c.setStatus(ConnectionStatus{Kind: StatusError, Reason: reason})
}

func (c *Channel) setState(s State, reason string) {
	if c.state != s {
		c.logger.Debug("sync state changed", "from", c.state, "to", s)
	}
	c.state = s
	c.reason = reason
}

// setStatus always publishes, even when the status is unchanged.
func (c *Channel) setStatus(status ConnectionStatus) {
	c.cache.Status = status
	c.notify()
}

func (c *Channel) notify() {
	if c.onUpdate != nil {
		c.onUpdate(c.cache)
	}
}
