// Package watchsync replicates the mentor message and mentor character
// from the phone runtime to a companion watch runtime.
//
// The watch side runs a Channel: a small state machine with a local cache
// that survives failed exchanges. The phone side runs a Responder that
// answers requests from a store and pushes changes as they are committed.
// Both sides talk through a Transport.
package watchsync

import "fmt"

// State is the lifecycle state of a Channel.
type State int

const (
	StateInactive State = iota
	StateActivating
	StateActivated
	StateReachable
	StateUnreachable
	StateError
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateReachable:
		return "reachable"
	case StateUnreachable:
		return "unreachable"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StatusKind is the user-facing connection status.
type StatusKind string

const (
	StatusWaiting      StatusKind = "waiting"
	StatusConnected    StatusKind = "connected"
	StatusDisconnected StatusKind = "disconnected"
	StatusError        StatusKind = "error"
)

// ConnectionStatus is a StatusKind plus the reason for StatusError.
type ConnectionStatus struct {
	Kind   StatusKind
	Reason string
}

func (s ConnectionStatus) String() string {
	if s.Kind == StatusError {
		return fmt.Sprintf("error(%s)", s.Reason)
	}
	return string(s.Kind)
}

// WatchSyncState is the replicated view shown on the watch.
// Every change is published as a full copy.
type WatchSyncState struct {
	MentorMessage   string
	MentorCharacter string
	Status          ConnectionStatus
}
