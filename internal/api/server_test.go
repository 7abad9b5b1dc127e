package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/goccy/go-json"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/orrery/internal/auth"
	"github.com/star/orrery/internal/bodies"
	"github.com/star/orrery/internal/ephemeris"
	"github.com/star/orrery/internal/logging"
	"github.com/star/orrery/internal/scene"
	"github.com/star/orrery/internal/timeline"
	"github.com/star/orrery/internal/view"
)

// fakeController records calls and returns canned state.
type fakeController struct {
	mu       sync.Mutex
	ready    bool
	err      error
	state    timeline.State
	ranges   []ephemeris.Range
	rotates  [][2]float64
	zooms    []float64
	commands []string
}

func (f *fakeController) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeController) SelectRange(ctx context.Context, rng ephemeris.Range) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.ranges = append(f.ranges, rng)
	return "req-1", nil
}

func (f *fakeController) command(name string) (timeline.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return timeline.State{}, f.err
	}
	f.commands = append(f.commands, name)
	return f.state, nil
}

func (f *fakeController) Play(ctx context.Context) (timeline.State, error) { return f.command("play") }
func (f *fakeController) Pause(ctx context.Context) (timeline.State, error) { return f.command("pause") }
func (f *fakeController) Toggle(ctx context.Context) (timeline.State, error) { return f.command("toggle") }
func (f *fakeController) State(ctx context.Context) (timeline.State, error) { return f.command("state") }

func (f *fakeController) Rotate(ctx context.Context, dx, dy float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotates = append(f.rotates, [2]float64{dx, dy})
	return f.err
}

func (f *fakeController) Zoom(ctx context.Context, factor float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zooms = append(f.zooms, factor)
	return f.err
}

func (f *fakeController) Camera(ctx context.Context) (scene.CameraState, error) {
	return scene.CameraState{Position: r3.Vec{Z: 60}, Up: r3.Vec{Y: 1}, FOV: 125}, f.err
}

type testEnv struct {
	ctrl    *fakeController
	store   *ephemeris.Store
	handler http.Handler
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	ctrl := &fakeController{
		ready: true,
		state: timeline.State{CurrentIndex: 2, TotalFrames: 6, Running: true, Phase: timeline.ReadyRunning},
	}
	store := ephemeris.NewStore()
	cfg := Config{
		Addr:           "127.0.0.1:0",
		CORSOrigins:    []string{"*"},
		RangeRateLimit: 100,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv := NewServer(cfg, Deps{
		Controller: ctrl,
		Registry:   bodies.DefaultRegistry(),
		Store:      store,
		Frames: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		},
		Web: fstest.MapFS{
			"index.html": &fstest.MapFile{Data: []byte("<!doctype html><title>orrery</title>")},
		},
	}, logging.Discard())
	return &testEnv{ctrl: ctrl, store: store, handler: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

func TestProbes(t *testing.T) {
	env := newTestEnv(t, nil)

	if w := env.do(t, "GET", "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
	if w := env.do(t, "GET", "/readyz", ""); w.Code != http.StatusOK {
		t.Errorf("readyz = %d", w.Code)
	}
	env.ctrl.mu.Lock()
	env.ctrl.ready = false
	env.ctrl.mu.Unlock()
	if w := env.do(t, "GET", "/readyz", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz while stopped = %d, want 503", w.Code)
	}
	if w := env.do(t, "GET", "/metrics", ""); w.Code != http.StatusOK {
		t.Errorf("metrics = %d", w.Code)
	}
}

func TestBodies(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, "GET", "/api/v1/bodies", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var list struct {
		Count  int            `json:"count"`
		Bodies []bodyResponse `json:"bodies"`
	}
	decode(t, w, &list)
	if list.Count != 6 || len(list.Bodies) != 6 {
		t.Fatalf("count = %d, bodies = %d, want 6", list.Count, len(list.Bodies))
	}
	if list.Bodies[len(list.Bodies)-1].ID != "moon" {
		t.Errorf("last body = %q, want relatives last", list.Bodies[len(list.Bodies)-1].ID)
	}

	w = env.do(t, "GET", "/api/v1/bodies/moon", "")
	if w.Code != http.StatusOK {
		t.Fatalf("moon status = %d", w.Code)
	}
	var moon bodyResponse
	decode(t, w, &moon)
	if moon.Primary != "earth" || moon.Center != "500@399" || !moon.Tracked {
		t.Errorf("moon = %+v", moon)
	}

	w = env.do(t, "GET", "/api/v1/bodies/sun", "")
	var sun bodyResponse
	decode(t, w, &sun)
	if sun.Tracked || sun.Center != "" {
		t.Errorf("sun = %+v, want untracked without center", sun)
	}

	if w := env.do(t, "GET", "/api/v1/bodies/pluto", ""); w.Code != http.StatusNotFound {
		t.Errorf("pluto status = %d, want 404", w.Code)
	}
}

func TestTimelineRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		method, path, command string
	}{
		{"GET", "/api/v1/timeline", "state"},
		{"POST", "/api/v1/timeline/play", "play"},
		{"POST", "/api/v1/timeline/pause", "pause"},
		{"POST", "/api/v1/timeline/toggle", "toggle"},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			var st struct {
				CurrentIndex int    `json:"current_index"`
				TotalFrames  int    `json:"total_frames"`
				Running      bool   `json:"running"`
				Phase        string `json:"phase"`
			}
			decode(t, w, &st)
			if st.CurrentIndex != 2 || st.TotalFrames != 6 || !st.Running || st.Phase != "running" {
				t.Errorf("state = %+v", st)
			}
			env.ctrl.mu.Lock()
			last := env.ctrl.commands[len(env.ctrl.commands)-1]
			env.ctrl.mu.Unlock()
			if last != tt.command {
				t.Errorf("controller saw %q, want %q", last, tt.command)
			}
		})
	}

	if w := env.do(t, "GET", "/api/v1/timeline/play", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET play = %d, want 405", w.Code)
	}
}

func TestTimelineNotRunning(t *testing.T) {
	env := newTestEnv(t, nil)
	env.ctrl.err = view.ErrNotRunning
	if w := env.do(t, "POST", "/api/v1/timeline/play", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestSelectRange(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, "POST", "/api/v1/range", `{"start":"2024-10-01","stop":"2024-10-06","step":"1 d"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp rangeResponse
	decode(t, w, &resp)
	if resp.RequestID != "req-1" {
		t.Errorf("request id = %q", resp.RequestID)
	}
	if resp.ExpectedSamples != 6 {
		t.Errorf("expected samples = %d, want 6", resp.ExpectedSamples)
	}
	if resp.Start != "2024-10-01T00:00:00Z" {
		t.Errorf("start = %q", resp.Start)
	}

	env.ctrl.mu.Lock()
	defer env.ctrl.mu.Unlock()
	if len(env.ctrl.ranges) != 1 || env.ctrl.ranges[0].Step != "1 d" {
		t.Errorf("ranges = %+v", env.ctrl.ranges)
	}
}

func TestSelectRangeRejects(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"malformed json", `{"start":`, ""},
		{"unknown field", `{"start":"2024-10-01","stop":"2024-10-06","step":"1 d","center":"x"}`, ""},
		{"missing step", `{"start":"2024-10-01","stop":"2024-10-06"}`, "step"},
		{"bad step", `{"start":"2024-10-01","stop":"2024-10-06","step":"1 fortnight"}`, "step"},
		{"missing start", `{"stop":"2024-10-06","step":"1 d"}`, "start"},
		{"reversed", `{"start":"2024-10-06","stop":"2024-10-01","step":"1 d"}`, ""},
		{"bad date", `{"start":"tomorrow","stop":"2024-10-01","step":"1 d"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/v1/range", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			var resp struct {
				Error  string `json:"error"`
				Fields []struct {
					Field string `json:"field"`
				} `json:"fields"`
			}
			decode(t, w, &resp)
			if resp.Error == "" {
				t.Error("missing error message")
			}
			if tt.wantField != "" && (len(resp.Fields) == 0 || resp.Fields[0].Field != tt.wantField) {
				t.Errorf("fields = %+v, want %s", resp.Fields, tt.wantField)
			}
		})
	}

	env.ctrl.mu.Lock()
	defer env.ctrl.mu.Unlock()
	if len(env.ctrl.ranges) != 0 {
		t.Errorf("controller received %d ranges, want 0", len(env.ctrl.ranges))
	}
}

func TestSelectRangeRateLimited(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.RangeRateLimit = 2 })
	body := `{"start":"2024-10-01","stop":"2024-10-06","step":"1 d"}`

	for i := 0; i < 2; i++ {
		if w := env.do(t, "POST", "/api/v1/range", body); w.Code != http.StatusAccepted {
			t.Fatalf("request %d status = %d", i, w.Code)
		}
	}
	if w := env.do(t, "POST", "/api/v1/range", body); w.Code != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", w.Code)
	}
	if w := env.do(t, "GET", "/api/v1/timeline", ""); w.Code != http.StatusOK {
		t.Errorf("reads should not be limited, got %d", w.Code)
	}
}

func TestAuthGuardsControl(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Auth = auth.Config{Enabled: true, Token: "tok"}
	})

	if w := env.do(t, "GET", "/api/v1/timeline", ""); w.Code != http.StatusOK {
		t.Errorf("read = %d, want 200", w.Code)
	}
	if w := env.do(t, "POST", "/api/v1/timeline/play", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated play = %d, want 401", w.Code)
	}

	req := httptest.NewRequest("POST", "/api/v1/timeline/play", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authenticated play = %d, want 200", w.Code)
	}
}

func TestEphemerisStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	rng := ephemeris.Range{
		Start: time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC),
		Stop:  time.Date(2024, 10, 6, 0, 0, 0, 0, time.UTC),
		Step:  "1 d",
	}

	var st statusResponse
	decode(t, env.do(t, "GET", "/api/v1/ephemeris/status", ""), &st)
	if st.State != "pending" {
		t.Errorf("state = %q, want pending", st.State)
	}

	env.store.Set(&ephemeris.Result{
		ID:        "res-1",
		Range:     rng,
		FetchedAt: time.Now(),
		Ephemeris: map[string][]ephemeris.PositionSample{
			"mars":  make([]ephemeris.PositionSample, 6),
			"earth": make([]ephemeris.PositionSample, 5),
		},
		Failures: []ephemeris.BodyFailure{{Body: "venus", Err: errors.New("boom")}},
	})
	st = statusResponse{}
	decode(t, env.do(t, "GET", "/api/v1/ephemeris/status", ""), &st)
	if st.State != "loaded" || st.ID != "res-1" || st.Frames != 5 {
		t.Errorf("status = %+v", st)
	}
	if strings.Join(st.Bodies, ",") != "earth,mars" {
		t.Errorf("bodies = %v, want sorted", st.Bodies)
	}
	if len(st.Failures) != 1 || st.Failures[0].Body != "venus" || st.Failures[0].Error != "boom" {
		t.Errorf("failures = %+v", st.Failures)
	}

	env.store.SetEmpty(&ephemeris.EmptyRangeError{Range: rng})
	st = statusResponse{}
	decode(t, env.do(t, "GET", "/api/v1/ephemeris/status", ""), &st)
	if st.State != "empty" || st.Range == nil || st.Range.Step != "1 d" || len(st.Bodies) != 0 {
		t.Errorf("empty status = %+v", st)
	}
}

func TestCameraState(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, "GET", "/api/v1/camera", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var cam cameraPayload
	decode(t, w, &cam)
	if cam.Position[2] != 60 || cam.FOV != 125 {
		t.Errorf("camera = %+v", cam)
	}
}

func TestStreamAndStatic(t *testing.T) {
	env := newTestEnv(t, nil)

	if w := env.do(t, "GET", "/api/v1/stream/frames", ""); w.Code != http.StatusTeapot {
		t.Errorf("stream route = %d, want handler status 418", w.Code)
	}

	w := env.do(t, "GET", "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("index status = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("<title>orrery</title>")) {
		t.Errorf("index body = %q", w.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.CORSOrigins = []string{"https://viewer.example"} })
	req := httptest.NewRequest("OPTIONS", "/api/v1/range", nil)
	req.Header.Set("Origin", "https://viewer.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://viewer.example" {
		t.Errorf("allow origin = %q", got)
	}
}
