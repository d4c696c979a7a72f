// Package analysis turns raw journal text into analyzed pending records by
// asking a language model.
package analysis

import (
	"context"
	"errors"
)

var (
	// ErrNetwork means the gateway could not be reached or rejected the call.
	ErrNetwork = errors.New("analysis gateway unreachable")
	// ErrEmptyResponse means the gateway answered with no text.
	ErrEmptyResponse = errors.New("analysis gateway returned an empty answer")
)

// Gateway is an opaque question/answer capability.
// Implementations do not retry.
type Gateway interface {
	Ask(ctx context.Context, question string) (string, error)
}
