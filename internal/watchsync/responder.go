package watchsync

import (
	"context"
	"maps"
	"sync"

	"mentory-go/internal/mentory"
	"mentory-go/internal/model"
	"mentory-go/internal/store"
)

// MentorSource is the phone-side state served to the watch.
// *store.Store satisfies it.
type MentorSource interface {
	MentorMessage(ctx context.Context) (*model.MentorMessage, error)
	Character(ctx context.Context) (*model.Character, error)
	Subscribe(ctx context.Context) <-chan store.Snapshot
}

// Responder is the phone end: it answers data requests from a MentorSource
// and pushes the application context whenever the mentor state changes.
type Responder struct {
	source    MentorSource
	transport Transport
	logger    mentory.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
	last   Payload
}

func NewResponder(source MentorSource, transport Transport, logger mentory.Logger) *Responder {
	if logger == nil {
		logger = mentory.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Responder{
		source:    source,
		transport: transport,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start activates the transport, publishes the current state as context and
// follows store snapshots until Close.
func (r *Responder) Start(ctx context.Context) error {
	r.transport.Activate(r)

	p, err := r.currentPayload(ctx)
	if err != nil {
		return err
	}
	r.push(ctx, p)

	updates := r.source.Subscribe(r.ctx)
	r.goTracked(func() {
		for snap := range updates {
			if snap.Kind != store.KindMentorMessage && snap.Kind != store.KindCharacter {
				continue
			}
			r.push(r.ctx, snapshotPayload(snap))
		}
	})
	return nil
}

func (r *Responder) goTracked(fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
	return true
}

// push sends p as the application context unless it equals the last one.
func (r *Responder) push(ctx context.Context, p Payload) {
	r.mu.Lock()
	if r.last != nil && maps.Equal(r.last, p) {
		r.mu.Unlock()
		return
	}
	r.last = p.clone()
	r.mu.Unlock()

	if err := r.transport.UpdateContext(ctx, p); err != nil {
		r.logger.Warn("context push failed", "error", err)
		return
	}
	r.logger.Debug("context pushed", "keys", len(p))
}

func (r *Responder) currentPayload(ctx context.Context) (Payload, error) {
	message, err := r.source.MentorMessage(ctx)
	if err != nil {
		return nil, err
	}
	character, err := r.source.Character(ctx)
	if err != nil {
		return nil, err
	}
	return mentorPayload(message, character), nil
}

func snapshotPayload(snap store.Snapshot) Payload {
	return mentorPayload(snap.MentorMessage, snap.Character)
}

// mentorPayload carries only the fields that are set. The message's own
// character wins over the store's persona.
func mentorPayload(message *model.MentorMessage, fallback *model.Character) Payload {
	p := Payload{}
	character := fallback
	if message != nil {
		if message.Content != nil {
			p[KeyMentorMessage] = *message.Content
		}
		if message.Character != nil {
			character = message.Character
		}
	}
	if character != nil {
		p[KeyMentorCharacter] = string(*character)
	}
	return p
}

// Close stops following the store and closes the transport.
func (r *Responder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	return r.transport.Close()
}

// Handler callbacks.

func (r *Responder) ActivationCompleted(state ActivationState, err error) {
	if err != nil {
		r.logger.Error("sync activation failed", "error", err)
		return
	}
	r.logger.Debug("sync activation completed", "state", state)
}

func (r *Responder) MessageReceived(msg Payload, reply func(Payload)) {
	if reply == nil {
		r.logger.Debug("watch message ignored", "keys", len(msg))
		return
	}
	if msg[KeyRequest] != RequestInitialData {
		reply(Payload{KeyStatus: StatusReceived})
		return
	}

	r.goTracked(func() {
		p, err := r.currentPayload(r.ctx)
		if err != nil {
			// The watch keeps its cache when no reply arrives.
			r.logger.Error("initial data unavailable", "error", err)
			return
		}
		reply(p)
	})
}

func (r *Responder) ContextReceived(appContext Payload) {
	r.logger.Debug("watch context ignored", "keys", len(appContext))
}

func (r *Responder) ReachabilityChanged(reachable bool) {
	r.logger.Info("watch reachability changed", "reachable", reachable)
}
