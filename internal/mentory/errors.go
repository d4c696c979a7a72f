package mentory

import "errors"

// Persistence errors are recovered at the store boundary: the operation
// logs, returns its neutral default and also returns the wrapped error.
var (
	ErrPersistence        = errors.New("persistence error")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrStoreNotFound      = errors.New("store not found")
	ErrRecordNotFound     = errors.New("record not found")
	ErrSuggestionNotFound = errors.New("suggestion not found")
	ErrStoreClosed        = errors.New("store closed")
)

// Transport errors never escape the sync channel; they become status values.
var (
	ErrTransportUnreachable = errors.New("peer unreachable")
	ErrTransport            = errors.New("transport error")
)

// Analysis errors propagate to the caller of the submit flow.
var (
	ErrAnalysis   = errors.New("analysis failed")
	ErrEmptyInput = errors.New("empty input")
)
