package oracle

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// GuardConfig controls the protective wrapper around oracle calls.
type GuardConfig struct {
	MaxConcurrent int           // In-flight call cap.
	MaxInputChars int           // Truncation budget per request.
	CallTimeout   time.Duration // Hard per-call deadline.
	CacheTTL      time.Duration
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxConcurrent: 6,
		MaxInputChars: 12000,
		CallTimeout:   60 * time.Second,
		CacheTTL:      time.Hour,
	}
}

// Guard wraps an ExtractionOracle with the required call discipline: a
// content+context cache, a concurrency cap, sentence-aware truncation, a
// per-call timeout, and capped retries. Failures after the last attempt
// come back as an error for the caller to fold into a degraded clause;
// the guard itself never aborts a run.
type Guard struct {
	oracle ExtractionOracle
	cache  *Cache
	sem    chan struct{}
	cfg    GuardConfig
	tel    *Telemetry
	logger *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewGuard(o ExtractionOracle, cfg GuardConfig, tel *Telemetry, logger *slog.Logger) *Guard {
	def := DefaultGuardConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = def.MaxInputChars
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if tel == nil {
		tel = NewTelemetry(time.Hour)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		oracle: o,
		cache:  NewCache(cfg.CacheTTL),
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		cfg:    cfg,
		tel:    tel,
		logger: logger.With("component", "oracle_guard"),
		sleep:  sleepCtx,
	}
}

// Telemetry exposes the guard's counters.
func (g *Guard) Telemetry() *Telemetry { return g.tel }

// CleanupCache drops expired cache entries. Called from the engine's
// maintenance ticker; lookups already lazily evict on miss, this bounds
// memory for keys that are never asked for again.
func (g *Guard) CleanupCache() { g.cache.Cleanup() }

// Extract runs one guarded oracle call. A non-nil error means every attempt
// failed and the caller should produce a degraded clause. Context
// cancellation is returned as-is.
func (g *Guard) Extract(ctx context.Context, req Request) (*Result, error) {
	if len(req.Content) > g.cfg.MaxInputChars {
		req.Content = TruncateAtSentence(req.Content, g.cfg.MaxInputChars)
		g.tel.Truncated.Add(1)
	}

	key := CacheKey(req)
	if res, ok := g.cache.Get(key); ok {
		g.tel.CacheHits.Add(1)
		return res, nil
	}

	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-g.sem }()

	var lastErr error
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		res, err := g.attempt(ctx, req)
		outcome, waitHint := classify(err)
		switch outcome {
		case outcomeSuccess:
			g.cache.Put(key, res)
			return res, nil
		case outcomeTerminal:
			g.tel.Failures.Add(1)
			g.logger.Warn("oracle call failed terminally",
				"heading", req.Heading, "error", err)
			return nil, err
		}

		lastErr = err
		g.tel.Retries.Add(1)
		wait := Backoff(attempt)
		if waitHint > 0 {
			// Rate-limit hint: wait exactly as told, once, without
			// consuming extra backoff budget.
			wait = waitHint
		}
		g.logger.Debug("oracle call retrying",
			"heading", req.Heading, "attempt", attempt+1, "wait", wait, "error", err)
		if err := g.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	g.tel.Failures.Add(1)
	g.tel.Degraded.Add(1)
	g.logger.Warn("oracle call exhausted retries",
		"heading", req.Heading, "attempts", MaxAttempts, "error", lastErr)
	return nil, lastErr
}

func (g *Guard) attempt(ctx context.Context, req Request) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()

	g.tel.Calls.Add(1)
	start := time.Now()
	res, err := g.oracle.Extract(callCtx, req)
	g.tel.RecordLatency(time.Since(start))

	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, &TimeoutError{Op: "extract", Elapsed: time.Since(start)}
	}
	if err == nil {
		err = VetResult(res)
	}
	return res, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
