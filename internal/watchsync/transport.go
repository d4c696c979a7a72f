package watchsync

import "context"

// Payload is a flat string-keyed message body.
type Payload map[string]string

// Recognized payload keys and values.
const (
	KeyRequest         = "request"
	KeyMentorMessage   = "mentorMessage"
	KeyMentorCharacter = "mentorCharacter"
	KeyStatus          = "status"

	RequestInitialData = "initialData"
	StatusReceived     = "received"
)

func (p Payload) clone() Payload {
	if p == nil {
		return nil
	}
	c := make(Payload, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// lookup returns nil when key is absent.
func (p Payload) lookup(key string) *string {
	v, ok := p[key]
	if !ok {
		return nil
	}
	return &v
}

// ActivationState is reported by a transport when activation finishes.
type ActivationState int

const (
	ActivationNotActivated ActivationState = iota
	ActivationInactive
	ActivationActivated
)

// Handler receives transport events. Callbacks arrive on transport-owned
// goroutines and must not block for long.
type Handler interface {
	ActivationCompleted(state ActivationState, err error)

	// MessageReceived delivers a peer message. reply is nil when the peer
	// does not expect an answer.
	MessageReceived(msg Payload, reply func(Payload))

	// ContextReceived delivers the peer's latest application context.
	ContextReceived(ctx Payload)

	ReachabilityChanged(reachable bool)
}

// Transport moves payloads between the phone and the watch.
// Delivery is at most once; nothing is retried.
type Transport interface {
	// Activate registers h and starts activation. Completion is reported
	// asynchronously through h.ActivationCompleted.
	Activate(h Handler)

	// Reachable reports whether the peer can currently receive messages.
	Reachable() bool

	// SendMessage sends msg and waits for the single reply.
	// Returns ErrTransportUnreachable when the peer is not reachable.
	SendMessage(ctx context.Context, msg Payload) (Payload, error)

	// Send pushes msg without expecting a reply.
	Send(ctx context.Context, msg Payload) error

	// UpdateContext replaces the application context. The latest context is
	// delivered when the peer is or becomes reachable.
	UpdateContext(ctx context.Context, appContext Payload) error

	Close() error
}
