// Package oracle defines the external text-understanding interfaces and the
// guard that every caller goes through: caching, bounded concurrency,
// retry with backoff, truncation, and degraded-result recovery.
package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/leaselens/leaselens/internal/lease"
)

// Request is one extraction call for a single AST leaf.
type Request struct {
	Content       string `json:"content"`
	Heading       string `json:"heading"`
	ParentHeading string `json:"parent_heading"`
	PageStart     int    `json:"page_start"`
	PageEnd       int    `json:"page_end"`
}

// Result is the oracle's judgment about one span of text.
type Result struct {
	ClauseType    string         `json:"clause_type"`
	RiskFlags     []lease.RiskTag `json:"risk_flags"`
	KeyValues     map[string]any `json:"key_values"`
	Confidence    float64        `json:"confidence"`
	Justification string         `json:"justification"`
}

// ExtractionOracle classifies a text span and extracts its values.
type ExtractionOracle interface {
	Extract(ctx context.Context, req Request) (*Result, error)
}

// EmbeddingOracle maps text to a fixed-dimension vector.
type EmbeddingOracle interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dim() int
}

// TimeoutError reports an oracle call that exceeded its per-call deadline.
type TimeoutError struct {
	Op      string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("oracle %s timed out after %s", e.Op, e.Elapsed)
}

// MalformedError reports a response that could not be decoded into the
// contract shape.
type MalformedError struct {
	Raw string
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("oracle response malformed: %v (raw: %s)", e.Err, truncate(e.Raw, 200))
}

func (e *MalformedError) Unwrap() error { return e.Err }

// CallError reports a failed oracle call. Retryable errors may carry an
// explicit wait hint from a rate-limit response.
type CallError struct {
	StatusCode int
	Message    string
	Retryable  bool
	RetryAfter time.Duration
}

func (e *CallError) Error() string {
	return fmt.Sprintf("oracle call failed (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// EmbeddingError reports a failed embedding call.
type EmbeddingError struct {
	Message string
	Err     error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed: %s", e.Message)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
