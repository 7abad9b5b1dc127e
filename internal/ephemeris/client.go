package ephemeris

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/star/orrery/internal/bodies"
	"github.com/star/orrery/internal/metrics"
)

// Source returns the raw vector table for one query. *Fetcher implements it.
type Source interface {
	Fetch(ctx context.Context, q Query) (string, error)
}

// ClientConfig configures the fan-out client.
type ClientConfig struct {
	Concurrency int // max bodies fetched at once (default: all)
}

// Client fetches every tracked body for a range concurrently and isolates
// per-body failures.
type Client struct {
	source Source
	cache  *Cache
	config ClientConfig
	logger *slog.Logger

	// seq numbers invocations; only the latest may deliver a result.
	seq atomic.Uint64
}

// NewClient creates a Client. cache may be nil.
func NewClient(source Source, cache *Cache, config ClientConfig, logger *slog.Logger) *Client {
	return &Client{
		source: source,
		cache:  cache,
		config: config,
		logger: logger,
	}
}

// TargetsFor returns the fetch targets for every tracked body in reg.
func TargetsFor(reg *bodies.Registry) []Target {
	tracked := reg.Tracked()
	targets := make([]Target, 0, len(tracked))
	for _, b := range tracked {
		targets = append(targets, Target{Body: b.ID, Command: b.Command, Center: reg.Center(b)})
	}
	return targets
}

// bodyResult is the output of one body's fetch and parse.
type bodyResult struct {
	body    string
	samples []PositionSample
	err     error
}

// Fetch retrieves and parses every target for rng.
//
// The returned Result is complete; failed bodies are listed in Failures and
// absent from Ephemeris. If every body fails the Result is returned together
// with an *EmptyRangeError. If another Fetch started after this one, the
// result is discarded and ErrSuperseded is returned.
func (c *Client) Fetch(ctx context.Context, rng Range, targets []Target) (*Result, error) {
	seq := c.seq.Add(1)
	id := uuid.NewString()

	if err := rng.Validate(); err != nil {
		return nil, fmt.Errorf("invalid range: %w", err)
	}

	expected, _ := rng.ExpectedSamples()
	c.logger.Info("ephemeris fetch starting",
		"component", "ephemeris",
		"request_id", id,
		"range", rng.Key(),
		"bodies", len(targets),
		"expected_samples", expected,
	)

	start := time.Now()
	results := make([]bodyResult, len(targets))

	var g errgroup.Group
	if c.config.Concurrency > 0 {
		g.SetLimit(c.config.Concurrency)
	}
	for i, t := range targets {
		g.Go(func() error {
			samples, err := c.fetchBody(ctx, Query{Body: t.Body, Command: t.Command, Center: t.Center, Range: rng})
			results[i] = bodyResult{body: t.Body, samples: samples, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if c.seq.Load() != seq {
		c.logger.Debug("discarding superseded ephemeris result", "component", "ephemeris", "request_id", id, "range", rng.Key())
		metrics.IncEphemerisSuperseded()
		return nil, ErrSuperseded
	}

	res := &Result{
		ID:        id,
		Seq:       seq,
		Range:     rng,
		FetchedAt: time.Now(),
		Ephemeris: make(map[string][]PositionSample, len(targets)),
	}
	for _, r := range results {
		if r.err != nil {
			res.Failures = append(res.Failures, BodyFailure{Body: r.body, Err: r.err})
			metrics.IncBodyFetch(r.body, failureKind(r.err))
			c.logger.Warn("body ephemeris unavailable",
				"component", "ephemeris",
				"request_id", id,
				"body", r.body,
				"range", rng.Key(),
				"error", r.err,
			)
			continue
		}
		if expected > 0 && len(r.samples) != expected {
			c.logger.Debug("sample count differs from expected", "component", "ephemeris", "body", r.body, "samples", len(r.samples), "expected", expected)
		}
		res.Ephemeris[r.body] = r.samples
		metrics.IncBodyFetch(r.body, "ok")
	}

	duration := time.Since(start)
	metrics.ObserveEphemerisFetch(duration)
	c.logger.Info("ephemeris fetch complete",
		"component", "ephemeris",
		"request_id", id,
		"success", len(res.Ephemeris),
		"failed", len(res.Failures),
		"min_samples", res.MinLength(),
		"duration_ms", duration.Milliseconds(),
	)

	if len(res.Ephemeris) == 0 {
		return res, &EmptyRangeError{Range: rng, Failures: res.Failures}
	}
	return res, nil
}

// fetchBody returns one body's samples, preferring the cache.
func (c *Client) fetchBody(ctx context.Context, q Query) ([]PositionSample, error) {
	key := CacheKey(q)

	if c.cache != nil {
		text, ok, err := c.cache.Get(key)
		if err != nil {
			c.logger.Warn("ephemeris cache read failed", "component", "ephemeris", "body", q.Body, "error", err)
		}
		if ok {
			samples, err := parseBody(q.Body, text)
			if err == nil {
				metrics.IncCacheHits()
				return samples, nil
			}
			c.logger.Warn("dropping unparseable cache entry", "component", "ephemeris", "body", q.Body, "error", err)
			if err := c.cache.Delete(key); err != nil {
				c.logger.Warn("ephemeris cache delete failed", "component", "ephemeris", "body", q.Body, "error", err)
			}
		}
		metrics.IncCacheMisses()
	}

	text, err := c.source.Fetch(ctx, q)
	if err != nil {
		return nil, &FetchError{Body: q.Body, Err: err}
	}

	samples, err := parseBody(q.Body, text)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Put(key, text); err != nil {
			c.logger.Warn("ephemeris cache write failed", "component", "ephemeris", "body", q.Body, "error", err)
		}
	}
	return samples, nil
}

// parseBody parses text and rejects tables with no samples.
func parseBody(body, text string) ([]PositionSample, error) {
	samples, err := Parse(body, text)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, &FormatError{Body: body, Line: -1, Reason: "no coordinate lines between markers"}
	}
	return samples, nil
}

func failureKind(err error) string {
	var fe *FormatError
	if errors.As(err, &fe) {
		return "format_error"
	}
	return "fetch_error"
}
