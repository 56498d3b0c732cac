package llm

import "errors"

// BackendError wraps a provider failure with enough detail for the
// cascade executor to decide whether to fail over to the next backend
// in the chain or give up immediately. Rate-limit and transport errors
// are always worth trying the next backend for; a budget error is not,
// since every backend shares the same budget.
type BackendError struct {
	Backend string
	Kind    BackendErrorKind
	Err     error
}

// BackendErrorKind classifies why a backend call failed.
type BackendErrorKind int

const (
	KindTransport BackendErrorKind = iota
	KindRateLimited
	KindCircuitOpen
	KindBudgetExceeded
	KindInvalidResponse
)

func (e *BackendError) Error() string {
	return e.Backend + ": " + e.Err.Error()
}

func (e *BackendError) Unwrap() error { return e.Err }

// Failover reports whether the cascade executor should try the next
// backend after this error, as opposed to aborting the whole chain.
func (e *BackendError) Failover() bool {
	return e.Kind != KindBudgetExceeded
}

var (
	// ErrChainExhausted is returned when every backend in a cascade
	// chain failed.
	ErrChainExhausted = errors.New("llm: cascade chain exhausted")

	// ErrUnknownRoute is returned when no route matches a requested key.
	ErrUnknownRoute = errors.New("llm: no route configured for key")

	// ErrBudgetExceeded is returned when a cost tracker's budget ceiling
	// has been reached.
	ErrBudgetExceeded = errors.New("llm: cost budget exceeded")
)
