package oracle

import (
	"errors"
	"math/rand"
	"time"
)

// MaxAttempts bounds the retry state machine.
const MaxAttempts = 3

// attemptOutcome is one transition of the retry state machine:
// Attempt(n) moves to success, a retryable failure (back to Attempt(n+1)
// until the cap), or a terminal failure.
type attemptOutcome int

const (
	outcomeSuccess attemptOutcome = iota
	outcomeRetryable
	outcomeTerminal
)

// classify maps an oracle error to its retry outcome and any explicit wait
// hint from a rate-limit response.
func classify(err error) (attemptOutcome, time.Duration) {
	if err == nil {
		return outcomeSuccess, 0
	}
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return outcomeRetryable, 0
	}
	var call *CallError
	if errors.As(err, &call) && call.Retryable {
		return outcomeRetryable, call.RetryAfter
	}
	// Malformed responses and non-retryable call errors end the machine.
	return outcomeTerminal, 0
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	return base + jitter
}
