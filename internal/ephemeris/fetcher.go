package ephemeris

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/star/orrery/internal/metrics"
)

const (
	defaultBaseURL = "https://ssd.jpl.nasa.gov/api/horizons.api"

	// maxResponseBytes bounds a single Horizons response.
	maxResponseBytes = 10 << 20
)

// FetcherConfig configures the Horizons fetcher.
type FetcherConfig struct {
	BaseURL           string
	Timeout           time.Duration // per attempt
	Retries           int           // extra attempts after the first
	RetryDelay        time.Duration
	RequestsPerSecond float64 // zero disables pacing
	Burst             int
	BreakerFailures   uint32        // consecutive failures before the breaker opens
	BreakerTimeout    time.Duration // how long the breaker stays open
}

// Query identifies one vector table request.
type Query struct {
	Body    string
	Command string
	Center  string
	Range   Range
}

// Fetcher retrieves raw vector tables from the Horizons API.
type Fetcher struct {
	config     FetcherConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[string]
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher. Zero config fields fall back to defaults.
func NewFetcher(config FetcherConfig, logger *slog.Logger) *Fetcher {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Retries < 0 {
		config.Retries = 0
	}
	if config.BreakerFailures == 0 {
		config.BreakerFailures = 5
	}
	if config.BreakerTimeout <= 0 {
		config.BreakerTimeout = 30 * time.Second
	}

	f := &Fetcher{
		config:     config,
		httpClient: &http.Client{},
		logger:     logger,
	}

	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	f.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "horizons",
		MaxRequests: 1,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerFailures
		},
		// Bad queries are the caller's problem, not an unhealthy upstream.
		IsSuccessful: func(err error) bool {
			return err == nil || !retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "component", "ephemeris", "breaker", name, "from", from.String(), "to", to.String())
			metrics.SetBreakerState(int(to))
		},
	})

	return f
}

// BaseURL returns the configured Horizons endpoint.
func (f *Fetcher) BaseURL() string {
	return f.config.BaseURL
}

// Fetch returns the vector table text for q, retrying transport errors and
// 5xx responses up to the configured number of times.
func (f *Fetcher) Fetch(ctx context.Context, q Query) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= f.config.Retries; attempt++ {
		if attempt > 0 {
			f.logger.Debug("retrying ephemeris request", "component", "ephemeris", "body", q.Body, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(f.config.RetryDelay):
			}
		}

		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("waiting for request slot: %w", err)
			}
		}

		text, err := f.breaker.Execute(func() (string, error) {
			return f.fetchOnce(ctx, q)
		})
		if err == nil {
			return text, nil
		}
		lastErr = err
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || !retryable(err) || ctx.Err() != nil {
			return "", err
		}
	}
	return "", lastErr
}

// horizonsResponse is the JSON envelope returned by the Horizons API.
type horizonsResponse struct {
	Result string `json:"result"`
	Error  string `json:"error"`
}

type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", e.code, e.url)
}

// upstreamError is a well-formed Horizons response that reports a problem
// with the query itself.
type upstreamError struct {
	msg string
}

func (e *upstreamError) Error() string {
	return "horizons error: " + e.msg
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	var ue *upstreamError
	if errors.As(err, &ue) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

func (f *Fetcher) fetchOnce(ctx context.Context, q Query) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	reqURL := f.requestURL(q)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		metrics.RecordUpstreamRequest("error", time.Since(start))
		return "", fmt.Errorf("requesting vector table: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordUpstreamRequest(strconv.Itoa(resp.StatusCode), time.Since(start))
		return "", &statusError{code: resp.StatusCode, url: f.config.BaseURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		metrics.RecordUpstreamRequest("error", time.Since(start))
		return "", fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxResponseBytes {
		metrics.RecordUpstreamRequest("too_large", time.Since(start))
		return "", &upstreamError{msg: fmt.Sprintf("response exceeds %d byte limit", maxResponseBytes)}
	}
	metrics.RecordUpstreamRequest("ok", time.Since(start))

	var env horizonsResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return "", &upstreamError{msg: "decoding response: " + err.Error()}
	}
	if env.Error != "" {
		return "", &upstreamError{msg: env.Error}
	}
	if env.Result == "" {
		return "", &upstreamError{msg: "empty result field"}
	}

	return env.Result, nil
}

func (f *Fetcher) requestURL(q Query) string {
	v := url.Values{}
	v.Set("format", "json")
	v.Set("COMMAND", quote(q.Command))
	v.Set("OBJ_DATA", quote("YES"))
	v.Set("MAKE_EPHEM", quote("YES"))
	v.Set("EPHEM_TYPE", quote("VECTOR"))
	v.Set("CENTER", quote(q.Center))
	v.Set("START_TIME", quote(q.Range.Start.UTC().Format(TimeLayout)))
	v.Set("STOP_TIME", quote(q.Range.Stop.UTC().Format(TimeLayout)))
	v.Set("STEP_SIZE", quote(q.Range.Step))
	return f.config.BaseURL + "?" + v.Encode()
}

func quote(s string) string {
	return "'" + s + "'"
}
