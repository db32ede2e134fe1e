package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrTokenRejected means the provider reports the push key as permanently
	// invalid or unregistered.
	ErrTokenRejected = errors.New("push key rejected by provider")
	// ErrTransient covers timeouts, rate limiting and provider-side 5xx errors.
	ErrTransient = errors.New("transient provider failure")
)

// Failure reasons reported to the Recorder.
const (
	ReasonInvalid    = "invalid"
	ReasonRejected   = "rejected"
	ReasonExhausted  = "exhausted"
	ReasonSuppressed = "suppressed"
	ReasonUnroutable = "unroutable"
	ReasonDefect     = "defect"
)

// ProviderError attaches a provider name and classification to the
// underlying SDK error.
type ProviderError struct {
	Provider string
	Kind     error
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Rejected classifies err as a fatal token rejection.
func Rejected(provider string, err error) error {
	return &ProviderError{Provider: provider, Kind: ErrTokenRejected, Err: err}
}

// Transient classifies err as retryable.
func Transient(provider string, err error) error {
	return &ProviderError{Provider: provider, Kind: ErrTransient, Err: err}
}
