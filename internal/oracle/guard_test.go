package oracle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeOracle replays a scripted sequence of responses.
type fakeOracle struct {
	mu      sync.Mutex
	script  []func() (*Result, error)
	calls   int
	lastReq Request
}

func (f *fakeOracle) Extract(_ context.Context, req Request) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = req
	i := f.calls
	f.calls++
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	return f.script[i]()
}

func ok(clauseType string) func() (*Result, error) {
	return func() (*Result, error) {
		return &Result{ClauseType: clauseType, Confidence: 0.9}, nil
	}
}

func retryable() func() (*Result, error) {
	return func() (*Result, error) {
		return nil, &CallError{StatusCode: 503, Message: "upstream sad", Retryable: true}
	}
}

func newTestGuard(o ExtractionOracle) *Guard {
	g := NewGuard(o, DefaultGuardConfig(), nil, nil)
	g.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return g
}

func TestGuard_SuccessFirstAttempt(t *testing.T) {
	f := &fakeOracle{script: []func() (*Result, error){ok("base_rent")}}
	g := newTestGuard(f)

	res, err := g.Extract(context.Background(), Request{Content: "Rent is $100.", Heading: "RENT"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.ClauseType != "base_rent" {
		t.Errorf("clause type = %q, want base_rent", res.ClauseType)
	}
	if f.calls != 1 {
		t.Errorf("calls = %d, want 1", f.calls)
	}
}

func TestGuard_RetriesThenSucceeds(t *testing.T) {
	f := &fakeOracle{script: []func() (*Result, error){retryable(), retryable(), ok("term")}}
	g := newTestGuard(f)

	res, err := g.Extract(context.Background(), Request{Content: "Term is five years.", Heading: "TERM"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.ClauseType != "term" {
		t.Errorf("clause type = %q, want term", res.ClauseType)
	}
	if f.calls != 3 {
		t.Errorf("calls = %d, want 3", f.calls)
	}
	if got := g.Telemetry().Retries.Load(); got != 2 {
		t.Errorf("retries = %d, want 2", got)
	}
}

func TestGuard_ExhaustsRetries(t *testing.T) {
	f := &fakeOracle{script: []func() (*Result, error){retryable()}}
	g := newTestGuard(f)

	_, err := g.Extract(context.Background(), Request{Content: "x", Heading: "H"})
	if err == nil {
		t.Fatal("want error after exhausted retries")
	}
	var call *CallError
	if !errors.As(err, &call) {
		t.Fatalf("err = %T, want *CallError", err)
	}
	if f.calls != MaxAttempts {
		t.Errorf("calls = %d, want %d", f.calls, MaxAttempts)
	}
	if got := g.Telemetry().Degraded.Load(); got != 1 {
		t.Errorf("degraded = %d, want 1", got)
	}
}

func TestGuard_MalformedIsTerminal(t *testing.T) {
	f := &fakeOracle{script: []func() (*Result, error){
		func() (*Result, error) { return nil, &MalformedError{Raw: "not json"} },
	}}
	g := newTestGuard(f)

	_, err := g.Extract(context.Background(), Request{Content: "x"})
	var malformed *MalformedError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want *MalformedError", err)
	}
	if f.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on malformed)", f.calls)
	}
}

func TestGuard_CacheHit(t *testing.T) {
	f := &fakeOracle{script: []func() (*Result, error){ok("use")}}
	g := newTestGuard(f)
	req := Request{Content: "Premises used for retail only.", Heading: "USE"}

	if _, err := g.Extract(context.Background(), req); err != nil {
		t.Fatalf("first Extract: %v", err)
	}
	if _, err := g.Extract(context.Background(), req); err != nil {
		t.Fatalf("second Extract: %v", err)
	}
	if f.calls != 1 {
		t.Errorf("calls = %d, want 1 (second should hit cache)", f.calls)
	}
	if got := g.Telemetry().CacheHits.Load(); got != 1 {
		t.Errorf("cache hits = %d, want 1", got)
	}
}

func TestGuard_ContextDistinguishesCacheKeys(t *testing.T) {
	f := &fakeOracle{script: []func() (*Result, error){ok("a"), ok("b")}}
	g := newTestGuard(f)

	if _, err := g.Extract(context.Background(), Request{Content: "same text", Heading: "RENT"}); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Extract(context.Background(), Request{Content: "same text", Heading: "TERM"}); err != nil {
		t.Fatal(err)
	}
	if f.calls != 2 {
		t.Errorf("calls = %d, want 2 (different headings are different keys)", f.calls)
	}
}

func TestGuard_TruncatesLongInput(t *testing.T) {
	f := &fakeOracle{script: []func() (*Result, error){ok("long")}}
	cfg := DefaultGuardConfig()
	cfg.MaxInputChars = 100
	g := NewGuard(f, cfg, nil, nil)
	g.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	long := strings.Repeat("The tenant shall pay rent monthly. ", 20)
	if _, err := g.Extract(context.Background(), Request{Content: long}); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(f.lastReq.Content) > 100 {
		t.Errorf("forwarded content len = %d, want <= 100", len(f.lastReq.Content))
	}
	if !strings.HasSuffix(f.lastReq.Content, ".") {
		t.Errorf("truncation should end at a sentence boundary, got %q", f.lastReq.Content)
	}
}

func TestGuard_RateLimitHintUsed(t *testing.T) {
	f := &fakeOracle{script: []func() (*Result, error){
		func() (*Result, error) {
			return nil, &CallError{StatusCode: 429, Retryable: true, RetryAfter: 7 * time.Second}
		},
		ok("rent"),
	}}
	g := NewGuard(f, DefaultGuardConfig(), nil, nil)
	var waited time.Duration
	g.sleep = func(_ context.Context, d time.Duration) error {
		waited = d
		return nil
	}

	if _, err := g.Extract(context.Background(), Request{Content: "x"}); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if waited != 7*time.Second {
		t.Errorf("waited %s, want the 7s rate-limit hint", waited)
	}
}

func TestTruncateAtSentence(t *testing.T) {
	text := "First sentence here. Second sentence follows. Third one is cut."
	got := TruncateAtSentence(text, 50)
	if got != "First sentence here. Second sentence follows." {
		t.Errorf("got %q", got)
	}

	// No boundary within budget: hard cut.
	hard := TruncateAtSentence("no boundaries anywhere in this text at all", 10)
	if hard != "no boundar" {
		t.Errorf("hard cut = %q", hard)
	}

	// Under budget: untouched.
	if got := TruncateAtSentence("short.", 100); got != "short." {
		t.Errorf("got %q", got)
	}
}

func TestGuard_CleanupCacheEvictsExpired(t *testing.T) {
	f := &fakeOracle{script: []func() (*Result, error){ok("rent")}}
	cfg := DefaultGuardConfig()
	cfg.CacheTTL = 10 * time.Millisecond
	g := NewGuard(f, cfg, nil, nil)

	if _, err := g.Extract(context.Background(), Request{Content: "x"}); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if g.cache.Len() != 1 {
		t.Fatalf("cache len = %d, want 1", g.cache.Len())
	}
	time.Sleep(20 * time.Millisecond)
	g.CleanupCache()
	if g.cache.Len() != 0 {
		t.Errorf("cache len = %d after cleanup, want 0", g.cache.Len())
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c := NewCache(10 * time.Millisecond)
	key := CacheKey(Request{Content: "x"})
	c.Put(key, &Result{ClauseType: "x"})
	if _, ok := c.Get(key); !ok {
		t.Fatal("want hit before expiry")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get(key); ok {
		t.Error("want miss after expiry")
	}
	c.Cleanup()
	if c.Len() != 0 {
		t.Errorf("len = %d after cleanup, want 0", c.Len())
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want attemptOutcome
	}{
		{nil, outcomeSuccess},
		{&TimeoutError{Op: "extract"}, outcomeRetryable},
		{&CallError{StatusCode: 503, Retryable: true}, outcomeRetryable},
		{&CallError{StatusCode: 400}, outcomeTerminal},
		{&MalformedError{Raw: "x"}, outcomeTerminal},
		{errors.New("plain"), outcomeTerminal},
	}
	for _, tc := range cases {
		if got, _ := classify(tc.err); got != tc.want {
			t.Errorf("classify(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestBackoff_Capped(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := Backoff(attempt)
		if d < time.Second || d > 45*time.Second {
			t.Errorf("Backoff(%d) = %s, out of expected range", attempt, d)
		}
	}
}
