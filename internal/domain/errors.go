package domain

import "errors"

// Source failure taxonomy. Source clients classify every failure into one
// of these so the sync coordinator can decide per-asset outcomes without
// knowing anything source-specific.
var (
	// ErrSourceUnavailable - network error or timeout. Transient; the next
	// scheduled cycle retries. No backoff logic here, the scheduler owns cadence.
	ErrSourceUnavailable = errors.New("price source unavailable")

	// ErrSourceRejected - bad credentials or quota exhaustion. Not retryable
	// without operator action.
	ErrSourceRejected = errors.New("price source rejected request")

	// ErrNoQuote - the response is well-formed but lacks the needed key.
	// Benign; the coordinator reports the asset as missing for this cycle.
	ErrNoQuote = errors.New("no quote for key")
)
