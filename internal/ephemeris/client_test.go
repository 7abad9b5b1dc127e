package ephemeris

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/star/orrery/internal/bodies"
	"github.com/star/orrery/internal/logging"
)

// fakeSource serves canned tables per body.
type fakeSource struct {
	mu     sync.Mutex
	tables map[string]string
	errs   map[string]error
	calls  atomic.Int32
	// gate, when set, blocks every Fetch until closed.
	gate chan struct{}
}

func (s *fakeSource) Fetch(ctx context.Context, q Query) (string, error) {
	s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[q.Body]; err != nil {
		return "", err
	}
	return s.tables[q.Body], nil
}

func defaultTargets(t *testing.T) []Target {
	t.Helper()
	return TargetsFor(bodies.DefaultRegistry())
}

func fullSource(t *testing.T, lengths map[string]int) *fakeSource {
	t.Helper()
	src := &fakeSource{tables: map[string]string{}, errs: map[string]error{}}
	for _, target := range defaultTargets(t) {
		n := 6
		if l, ok := lengths[target.Body]; ok {
			n = l
		}
		coords := make([][3]float64, n)
		for i := range coords {
			coords[i] = [3]float64{float64(i+1) * 1e5, 0, 0}
		}
		src.tables[target.Body] = vectorTable(target.Body, coords)
	}
	return src
}

func testRange(t *testing.T) Range {
	return testQuery(t).Range
}

func TestTargetsFor(t *testing.T) {
	targets := defaultTargets(t)
	if len(targets) != 5 {
		t.Fatalf("got %d targets, want 5", len(targets))
	}
	for _, target := range targets {
		if target.Body == "sun" {
			t.Error("sun should not be fetched")
		}
		want := bodies.AbsoluteCenter
		if target.Body == "moon" {
			want = "500@399"
		}
		if target.Center != want {
			t.Errorf("%s center = %q, want %q", target.Body, target.Center, want)
		}
	}
}

func TestClientFetchAll(t *testing.T) {
	src := fullSource(t, map[string]int{"mars": 4})
	c := NewClient(src, nil, ClientConfig{}, logging.Discard())

	res, err := c.Fetch(context.Background(), testRange(t), defaultTargets(t))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(res.Ephemeris) != 5 {
		t.Errorf("got %d bodies, want 5", len(res.Ephemeris))
	}
	if len(res.Failures) != 0 {
		t.Errorf("unexpected failures: %+v", res.Failures)
	}
	if res.MinLength() != 4 {
		t.Errorf("MinLength() = %d, want 4", res.MinLength())
	}
	if res.ID == "" || res.Seq != 1 {
		t.Errorf("result id %q seq %d, want non-empty id and seq 1", res.ID, res.Seq)
	}
	if got := res.Ephemeris["earth"][0].X; !approx(got, 1) {
		t.Errorf("earth[0].X = %v, want 1", got)
	}
}

func TestClientPartialFailure(t *testing.T) {
	src := fullSource(t, nil)
	src.errs["venus"] = errors.New("connection reset")
	c := NewClient(src, nil, ClientConfig{Concurrency: 2}, logging.Discard())

	res, err := c.Fetch(context.Background(), testRange(t), defaultTargets(t))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if _, ok := res.Ephemeris["venus"]; ok {
		t.Error("failed body should be absent")
	}
	if len(res.Ephemeris) != 4 {
		t.Errorf("got %d bodies, want 4", len(res.Ephemeris))
	}
	if len(res.Failures) != 1 || res.Failures[0].Body != "venus" {
		t.Fatalf("Failures = %+v, want venus only", res.Failures)
	}
	var fe *FetchError
	if !errors.As(res.Failures[0].Err, &fe) {
		t.Errorf("failure error %T is not *FetchError", res.Failures[0].Err)
	}
}

func TestClientMalformedBody(t *testing.T) {
	src := fullSource(t, nil)
	src.tables["mercury"] = "no markers here"
	c := NewClient(src, nil, ClientConfig{}, logging.Discard())

	res, err := c.Fetch(context.Background(), testRange(t), defaultTargets(t))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if _, ok := res.Ephemeris["mercury"]; ok {
		t.Error("malformed body should be absent")
	}
	var fe *FormatError
	if len(res.Failures) != 1 || !errors.As(res.Failures[0].Err, &fe) {
		t.Errorf("Failures = %+v, want one FormatError", res.Failures)
	}
}

func TestClientZeroSamplesIsFailure(t *testing.T) {
	src := fullSource(t, nil)
	src.tables["earth"] = "$$SOE\n$$EOE\n"
	c := NewClient(src, nil, ClientConfig{}, logging.Discard())

	res, err := c.Fetch(context.Background(), testRange(t), defaultTargets(t))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if _, ok := res.Ephemeris["earth"]; ok {
		t.Error("body with zero samples should be absent")
	}
}

func TestClientAllFail(t *testing.T) {
	src := fullSource(t, nil)
	for _, target := range defaultTargets(t) {
		src.errs[target.Body] = errors.New("upstream down")
	}
	c := NewClient(src, nil, ClientConfig{}, logging.Discard())

	res, err := c.Fetch(context.Background(), testRange(t), defaultTargets(t))
	var empty *EmptyRangeError
	if !errors.As(err, &empty) {
		t.Fatalf("error = %v, want *EmptyRangeError", err)
	}
	if len(empty.Failures) != 5 {
		t.Errorf("got %d failures, want 5", len(empty.Failures))
	}
	if res == nil || len(res.Ephemeris) != 0 {
		t.Errorf("result = %+v, want empty mapping", res)
	}
}

func TestClientInvalidRange(t *testing.T) {
	src := fullSource(t, nil)
	c := NewClient(src, nil, ClientConfig{}, logging.Discard())

	rng := testRange(t)
	rng.Step = "soon"
	if _, err := c.Fetch(context.Background(), rng, defaultTargets(t)); err == nil {
		t.Fatal("expected invalid range error")
	}
	if src.calls.Load() != 0 {
		t.Errorf("source called %d times for invalid range", src.calls.Load())
	}
}

func TestClientSuperseded(t *testing.T) {
	src := fullSource(t, nil)
	src.gate = make(chan struct{})
	c := NewClient(src, nil, ClientConfig{}, logging.Discard())
	targets := defaultTargets(t)

	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Fetch(context.Background(), testRange(t), targets)
		firstErr <- err
	}()

	// Wait until the first invocation is in flight before starting the second.
	for src.calls.Load() < int32(len(targets)) {
		select {
		case err := <-firstErr:
			t.Fatalf("first fetch finished early: %v", err)
		case <-time.After(time.Millisecond):
		}
	}

	secondDone := make(chan *Result, 1)
	go func() {
		res, err := c.Fetch(context.Background(), testRange(t), targets)
		if err != nil {
			t.Errorf("second fetch failed: %v", err)
		}
		secondDone <- res
	}()

	for src.calls.Load() < int32(2*len(targets)) {
		time.Sleep(time.Millisecond)
	}
	close(src.gate)

	if err := <-firstErr; !errors.Is(err, ErrSuperseded) {
		t.Errorf("first fetch error = %v, want ErrSuperseded", err)
	}
	if res := <-secondDone; res == nil || res.Seq != 2 {
		t.Errorf("second result = %+v, want seq 2", res)
	}
}

func TestClientCache(t *testing.T) {
	src := fullSource(t, nil)
	cache := openTestCache(t)
	c := NewClient(src, cache, ClientConfig{}, logging.Discard())
	targets := defaultTargets(t)

	if _, err := c.Fetch(context.Background(), testRange(t), targets); err != nil {
		t.Fatalf("first Fetch failed: %v", err)
	}
	if src.calls.Load() != 5 {
		t.Fatalf("source called %d times, want 5", src.calls.Load())
	}
	if cache.Len() != 5 {
		t.Errorf("cache holds %d entries, want 5", cache.Len())
	}

	if _, err := c.Fetch(context.Background(), testRange(t), targets); err != nil {
		t.Fatalf("second Fetch failed: %v", err)
	}
	if src.calls.Load() != 5 {
		t.Errorf("source called %d times after cached fetch, want 5", src.calls.Load())
	}
}

func TestClientDropsCorruptCacheEntry(t *testing.T) {
	src := fullSource(t, nil)
	cache := openTestCache(t)
	c := NewClient(src, cache, ClientConfig{}, logging.Discard())
	targets := defaultTargets(t)

	var earth Target
	for _, target := range targets {
		if target.Body == "earth" {
			earth = target
		}
	}
	key := CacheKey(Query{Body: earth.Body, Command: earth.Command, Center: earth.Center, Range: testRange(t)})
	if err := cache.Put(key, "truncated"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	res, err := c.Fetch(context.Background(), testRange(t), targets)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if _, ok := res.Ephemeris["earth"]; !ok {
		t.Error("earth should be refetched after a corrupt cache entry")
	}
	text, ok, _ := cache.Get(key)
	if !ok || text == "truncated" {
		t.Error("corrupt cache entry was not replaced")
	}
}
