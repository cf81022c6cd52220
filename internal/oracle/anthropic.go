package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const anthropicURL = "https://api.anthropic.com/v1/messages"

// AnthropicOracle calls the Anthropic Messages API for clause extraction.
// A circuit breaker sits in front of the HTTP client so a dead upstream
// fails fast instead of burning the retry budget on every leaf.
type AnthropicOracle struct {
	apiKey     string
	model      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func NewAnthropicOracle(apiKey, model string, timeout time.Duration) *AnthropicOracle {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &AnthropicOracle{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "anthropic",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const extractionSystemPrompt = `You analyze commercial lease language. Given one section of a lease, return a single JSON object with these fields:

- "clause_type": snake_case label for the clause (e.g. "base_rent", "renewal_option", "indemnification")
- "risk_flags": list of {"level": "low"|"medium"|"high", "description": string}
- "key_values": object of extracted values (amounts, dates, areas, parties); use null for unknown
- "confidence": float 0.0-1.0
- "justification": one sentence explaining the classification

Rules:
- Classify the dominant obligation of the section, not incidental mentions
- Dates as ISO 8601 strings, amounts as numbers without currency symbols
- Return {"clause_type": "unknown", ...} with low confidence rather than guessing

Respond with ONLY the JSON object, no other text.`

// Extract implements ExtractionOracle.
func (o *AnthropicOracle) Extract(ctx context.Context, req Request) (*Result, error) {
	prompt := buildPrompt(req)
	raw, err := o.breaker.Execute(func() (any, error) {
		return o.call(ctx, prompt)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &CallError{Message: err.Error(), Retryable: true}
		}
		return nil, err
	}
	return raw.(*Result), nil
}

func buildPrompt(req Request) string {
	var sb strings.Builder
	if req.ParentHeading != "" {
		fmt.Fprintf(&sb, "Parent section: %s\n", req.ParentHeading)
	}
	if req.Heading != "" {
		fmt.Fprintf(&sb, "Section: %s\n", req.Heading)
	}
	if req.PageStart > 0 {
		fmt.Fprintf(&sb, "Pages: %d-%d\n", req.PageStart, req.PageEnd)
	}
	sb.WriteString("---\n")
	sb.WriteString(req.Content)
	return sb.String()
}

func (o *AnthropicOracle) call(ctx context.Context, prompt string) (*Result, error) {
	reqBody := anthropicRequest{
		Model:     o.model,
		MaxTokens: 4096,
		System:    extractionSystemPrompt,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", o.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	start := time.Now()
	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return nil, &TimeoutError{Op: "extract", Elapsed: time.Since(start)}
		}
		return nil, &CallError{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &CallError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
			Retryable:  true,
			RetryAfter: retryAfter(resp.Header),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &CallError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &MalformedError{Raw: string(respBody), Err: err}
	}
	if apiResp.Error != nil {
		return nil, &CallError{Message: apiResp.Error.Type + ": " + apiResp.Error.Message}
	}
	if len(apiResp.Content) == 0 {
		return nil, &MalformedError{Raw: string(respBody), Err: fmt.Errorf("empty content")}
	}

	text := stripCodeBlock(apiResp.Content[0].Text)
	var result Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, &MalformedError{Raw: text, Err: err}
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return &result, nil
}

func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func isTimeout(err error) bool {
	t, ok := err.(interface{ Timeout() bool })
	return ok && t.Timeout()
}

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

// Close releases resources.
func (o *AnthropicOracle) Close() {
	o.httpClient.CloseIdleConnections()
}
