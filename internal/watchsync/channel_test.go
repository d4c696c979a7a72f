package watchsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mentory-go/internal/mentory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

const waitFor = 2 * time.Second

// phoneStub is a scripted phone-side handler.
type phoneStub struct {
	mu       sync.Mutex
	answer   Payload
	silent   bool
	requests []Payload
}

func newPhoneStub(answer Payload) *phoneStub {
	return &phoneStub{answer: answer}
}

func (p *phoneStub) setSilent(silent bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.silent = silent
}

func (p *phoneStub) Requests() []Payload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Payload(nil), p.requests...)
}

func (p *phoneStub) ActivationCompleted(ActivationState, error) {}
func (p *phoneStub) ContextReceived(Payload)                    {}
func (p *phoneStub) ReachabilityChanged(bool)                   {}

func (p *phoneStub) MessageReceived(msg Payload, reply func(Payload)) {
	p.mu.Lock()
	p.requests = append(p.requests, msg)
	answer, silent := p.answer.clone(), p.silent
	p.mu.Unlock()

	if reply != nil && !silent {
		reply(answer)
	}
}

// updateLog records every published WatchSyncState.
type updateLog struct {
	mu      sync.Mutex
	updates []WatchSyncState
}

func (l *updateLog) record(s WatchSyncState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, s)
}

func (l *updateLog) last() (WatchSyncState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.updates) == 0 {
		return WatchSyncState{}, false
	}
	return l.updates[len(l.updates)-1], true
}

// connectedPair activates both ends and waits until the watch has the
// phone's initial data.
func connectedPair(t *testing.T, answer Payload, timeout time.Duration) (*Channel, *MemoryTransport, *phoneStub) {
	t.Helper()
	phone, watch := NewMemoryPair()
	stub := newPhoneStub(answer)
	phone.Activate(stub)

	c := NewChannel(watch, timeout, nil)
	t.Cleanup(func() {
		_ = c.Close()
		_ = phone.Close()
	})

	c.Activate()
	require.Eventually(t, func() bool {
		return c.Current().Status.Kind == StatusConnected
	}, waitFor, 5*time.Millisecond)
	return c, phone, stub
}

func TestChannel_ActivationRequestsInitialData(t *testing.T) {
	c, _, stub := connectedPair(t, Payload{KeyMentorMessage: "Take a walk.", KeyMentorCharacter: "warm"}, time.Second)

	got := c.Current()
	assert.Equal(t, "Take a walk.", got.MentorMessage)
	assert.Equal(t, "warm", got.MentorCharacter)

	state, _ := c.State()
	assert.Equal(t, StateReachable, state)

	requests := stub.Requests()
	require.NotEmpty(t, requests)
	assert.Equal(t, Payload{KeyRequest: RequestInitialData}, requests[0])
}

func TestChannel_UpdatesCarryFullState(t *testing.T) {
	phone, watch := NewMemoryPair()
	phone.Activate(newPhoneStub(Payload{KeyMentorMessage: "m", KeyMentorCharacter: "cool"}))
	defer phone.Close()

	c := NewChannel(watch, time.Second, nil)
	defer c.Close()

	log := &updateLog{}
	c.OnUpdate(log.record)
	c.Activate()

	require.Eventually(t, func() bool {
		s, ok := log.last()
		return ok && s.Status.Kind == StatusConnected
	}, waitFor, 5*time.Millisecond)

	s, _ := log.last()
	assert.Equal(t, WatchSyncState{
		MentorMessage:   "m",
		MentorCharacter: "cool",
		Status:          ConnectionStatus{Kind: StatusConnected},
	}, s)
}

func TestChannel_UnreachableKeepsCache(t *testing.T) {
	c, phone, _ := connectedPair(t, Payload{KeyMentorMessage: "cached", KeyMentorCharacter: "cool"}, time.Second)

	phone.SetReachable(false)
	require.Eventually(t, func() bool {
		s, _ := c.State()
		return s == StateUnreachable
	}, waitFor, 5*time.Millisecond)

	err := c.RequestData(context.Background())
	assert.ErrorIs(t, err, mentory.ErrTransportUnreachable)

	got := c.Current()
	assert.Equal(t, "cached", got.MentorMessage)
	assert.Equal(t, "cool", got.MentorCharacter)
	assert.Equal(t, StatusDisconnected, got.Status.Kind)

	phone.SetReachable(true)
	require.NoError(t, c.RequestData(context.Background()))
	assert.Equal(t, StatusConnected, c.Current().Status.Kind)
}

func TestChannel_TransportErrorKeepsCache(t *testing.T) {
	c, _, stub := connectedPair(t, Payload{KeyMentorMessage: "cached"}, 50*time.Millisecond)
	stub.setSilent(true)

	err := c.RequestData(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, mentory.ErrTransport)

	state, reason := c.State()
	assert.Equal(t, StateError, state)
	assert.NotEmpty(t, reason)

	got := c.Current()
	assert.Equal(t, "cached", got.MentorMessage)
	assert.Equal(t, StatusError, got.Status.Kind)
	assert.Contains(t, got.Status.String(), "error(")

	// A later successful exchange recovers.
	stub.setSilent(false)
	require.NoError(t, c.RequestData(context.Background()))
	state, _ = c.State()
	assert.Equal(t, StateReachable, state)
}

func TestChannel_PushMergesOnlyPresentKeys(t *testing.T) {
	c, phone, _ := connectedPair(t, Payload{KeyMentorMessage: "keep me", KeyMentorCharacter: "warm"}, time.Second)

	require.NoError(t, phone.Send(context.Background(), Payload{KeyMentorCharacter: "cool"}))
	require.Eventually(t, func() bool {
		return c.Current().MentorCharacter == "cool"
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, "keep me", c.Current().MentorMessage)
}

func TestChannel_PushWithReplyIsAcknowledged(t *testing.T) {
	c, phone, _ := connectedPair(t, Payload{}, time.Second)

	reply, err := phone.SendMessage(context.Background(), Payload{KeyMentorMessage: "fresh"})
	require.NoError(t, err)
	assert.Equal(t, Payload{KeyStatus: StatusReceived}, reply)

	require.Eventually(t, func() bool {
		return c.Current().MentorMessage == "fresh"
	}, waitFor, 5*time.Millisecond)
}

func TestChannel_ContextReplication(t *testing.T) {
	c, phone, _ := connectedPair(t, Payload{}, time.Second)

	require.NoError(t, phone.UpdateContext(context.Background(), Payload{KeyMentorMessage: "ctx", KeyMentorCharacter: "warm"}))
	require.Eventually(t, func() bool {
		got := c.Current()
		return got.MentorMessage == "ctx" && got.MentorCharacter == "warm"
	}, waitFor, 5*time.Millisecond)
}

func TestChannel_ContextDeliveredOnReconnect(t *testing.T) {
	c, phone, _ := connectedPair(t, Payload{}, time.Second)

	phone.SetReachable(false)
	require.NoError(t, phone.UpdateContext(context.Background(), Payload{KeyMentorMessage: "while away"}))
	assert.Empty(t, c.Current().MentorMessage)

	phone.SetReachable(true)
	require.Eventually(t, func() bool {
		return c.Current().MentorMessage == "while away"
	}, waitFor, 5*time.Millisecond)
}

func TestChannel_ActivationFailure(t *testing.T) {
	phone, watch := NewMemoryPair()
	defer phone.Close()
	phone.Activate(newPhoneStub(Payload{}))
	watch.FailActivation(errors.New("no companion"))

	c := NewChannel(watch, time.Second, nil)
	defer c.Close()
	c.Activate()

	require.Eventually(t, func() bool {
		s, _ := c.State()
		return s == StateError
	}, waitFor, 5*time.Millisecond)

	_, reason := c.State()
	assert.Equal(t, "no companion", reason)
	assert.Equal(t, ConnectionStatus{Kind: StatusError, Reason: "no companion"}, c.Current().Status)
	assert.ErrorIs(t, c.RequestData(context.Background()), ErrNotActivated)

	// Activation can be retried after a failure.
	c.Activate()
	require.Eventually(t, func() bool {
		return c.Current().Status.Kind == StatusConnected
	}, waitFor, 5*time.Millisecond)
}

func TestChannel_RequestDataBeforeActivation(t *testing.T) {
	phone, watch := NewMemoryPair()
	defer phone.Close()
	c := NewChannel(watch, time.Second, nil)
	defer c.Close()

	assert.ErrorIs(t, c.RequestData(context.Background()), ErrNotActivated)
	state, _ := c.State()
	assert.Equal(t, StateInactive, state)
	assert.Equal(t, StatusWaiting, c.Current().Status.Kind)
}

func TestChannel_HandleReceivedData(t *testing.T) {
	phone, watch := NewMemoryPair()
	defer phone.Close()
	c := NewChannel(watch, time.Second, nil)
	defer c.Close()

	message := "hello"
	c.HandleReceivedData(&message, nil)
	character := "cool"
	c.HandleReceivedData(nil, &character)

	assert.Equal(t, WatchSyncState{
		MentorMessage:   "hello",
		MentorCharacter: "cool",
		Status:          ConnectionStatus{Kind: StatusConnected},
	}, c.Current())
}

func TestChannel_Closed(t *testing.T) {
	phone, watch := NewMemoryPair()
	defer phone.Close()
	c := NewChannel(watch, time.Second, nil)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.RequestData(context.Background()), ErrChannelClosed)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unreachable", StateUnreachable.String())
	assert.Equal(t, "state(42)", State(42).String())
	assert.Equal(t, "connected", ConnectionStatus{Kind: StatusConnected}.String())
	assert.Equal(t, "error(boom)", ConnectionStatus{Kind: StatusError, Reason: "boom"}.String())
}
