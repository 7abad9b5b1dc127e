package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/star/orrery/internal/bodies"
	"github.com/star/orrery/internal/ephemeris"
	"github.com/star/orrery/internal/timeline"
	"github.com/star/orrery/internal/validation"
	"github.com/star/orrery/internal/view"
)

// maxRangeBody bounds POST /api/v1/range request bodies.
const maxRangeBody = 4 << 10

type handlers struct {
	deps   Deps
	logger *slog.Logger
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeControllerError maps view errors to status codes.
func writeControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, view.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, "view is not running")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type bodyResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	HorizonsID  string  `json:"horizons_id,omitempty"`
	Center      string  `json:"center,omitempty"`
	Radius      float64 `json:"radius"`
	Color       string  `json:"color"`
	Primary     string  `json:"primary,omitempty"`
	OffsetScale float64 `json:"offset_scale,omitempty"`
	Tracked     bool    `json:"tracked"`
}

func (h *handlers) bodyResponse(b bodies.Body) bodyResponse {
	resp := bodyResponse{
		ID:          b.ID,
		Name:        b.Name,
		HorizonsID:  b.Command,
		Radius:      b.Radius,
		Color:       b.Color,
		Primary:     b.Primary,
		OffsetScale: b.OffsetScale,
		Tracked:     b.Tracked(),
	}
	if b.Tracked() {
		resp.Center = h.deps.Registry.Center(b)
	}
	return resp
}

// GET /api/v1/bodies
func (h *handlers) listBodies(w http.ResponseWriter, r *http.Request) {
	list := h.deps.Registry.Ordered()
	out := make([]bodyResponse, len(list))
	for i, b := range list {
		out[i] = h.bodyResponse(b)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "bodies": out})
}

// GET /api/v1/bodies/{id}
func (h *handlers) getBody(w http.ResponseWriter, r *http.Request) {
	b, ok := h.deps.Registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "body not found")
		return
	}
	writeJSON(w, http.StatusOK, h.bodyResponse(b))
}

// GET /api/v1/timeline
func (h *handlers) timelineState(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.Controller.State(r.Context())
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// POST /api/v1/timeline/{play,pause,toggle}
func (h *handlers) timelineCommand(cmd func(context.Context) (timeline.State, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := cmd(r.Context())
		if err != nil {
			writeControllerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

type rangeRequest struct {
	Start string `json:"start" validate:"required"`
	Stop  string `json:"stop" validate:"required"`
	Step  string `json:"step" validate:"required,horizons_step"`
}

type rangeResponse struct {
	RequestID       string `json:"request_id"`
	Start           string `json:"start"`
	Stop            string `json:"stop"`
	Step            string `json:"step"`
	ExpectedSamples int    `json:"expected_samples"`
}

// POST /api/v1/range
func (h *handlers) selectRange(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRangeBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	if err := validation.Struct(req); err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr.Error(), "fields": verr.Fields})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rng, err := ephemeris.ParseRange(req.Start, req.Stop, req.Step)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	expected, _ := rng.ExpectedSamples()

	id, err := h.deps.Controller.SelectRange(r.Context(), rng)
	if err != nil {
		writeControllerError(w, err)
		return
	}

	h.logger.Info("range accepted",
		"component", "api",
		"request_id", id,
		"range", rng.Key(),
	)
	writeJSON(w, http.StatusAccepted, rangeResponse{
		RequestID:       id,
		Start:           rng.Start.Format(time.RFC3339),
		Stop:            rng.Stop.Format(time.RFC3339),
		Step:            rng.Step,
		ExpectedSamples: expected,
	})
}

type failureResponse struct {
	Body  string `json:"body"`
	Error string `json:"error"`
}

type statusResponse struct {
	State      string            `json:"state"` // pending, loaded or empty
	ID         string            `json:"id,omitempty"`
	Range      *rangeSummary     `json:"range,omitempty"`
	FetchedAt  string            `json:"fetched_at,omitempty"`
	AgeSeconds float64           `json:"age_seconds,omitempty"`
	Bodies     []string          `json:"bodies"`
	Frames     int               `json:"frames"`
	Failures   []failureResponse `json:"failures"`
}

type rangeSummary struct {
	Start string `json:"start"`
	Stop  string `json:"stop"`
	Step  string `json:"step"`
}

func summarize(rng ephemeris.Range) *rangeSummary {
	return &rangeSummary{
		Start: rng.Start.Format(time.RFC3339),
		Stop:  rng.Stop.Format(time.RFC3339),
		Step:  rng.Step,
	}
}

func failures(list []ephemeris.BodyFailure) []failureResponse {
	out := make([]failureResponse, len(list))
	for i, f := range list {
		out[i] = failureResponse{Body: f.Body, Error: f.Err.Error()}
	}
	return out
}

// GET /api/v1/ephemeris/status
func (h *handlers) ephemerisStatus(w http.ResponseWriter, r *http.Request) {
	st := h.deps.Store.Status()
	resp := statusResponse{State: "pending", Bodies: []string{}, Failures: []failureResponse{}}

	switch {
	case st.Result != nil:
		res := st.Result
		ids := res.Bodies()
		sort.Strings(ids)
		resp.State = "loaded"
		resp.ID = res.ID
		resp.Range = summarize(res.Range)
		resp.FetchedAt = res.FetchedAt.UTC().Format(time.RFC3339)
		resp.AgeSeconds = h.deps.Store.AgeSeconds()
		resp.Bodies = ids
		resp.Frames = res.MinLength()
		resp.Failures = failures(res.Failures)

	case st.Empty != nil:
		resp.State = "empty"
		resp.Range = summarize(st.Empty.Range)
		resp.Failures = failures(st.Empty.Failures)
	}

	writeJSON(w, http.StatusOK, resp)
}

// GET /api/v1/camera
func (h *handlers) cameraState(w http.ResponseWriter, r *http.Request) {
	cs, err := h.deps.Controller.Camera(r.Context())
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cameraResponse(cs))
}
