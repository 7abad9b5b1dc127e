// Package view runs the visualization: one goroutine owns the timeline, the
// scene and the camera, and serializes the data tick, the render tick,
// fetch results and user commands.
package view

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/star/orrery/internal/bodies"
	"github.com/star/orrery/internal/ephemeris"
	"github.com/star/orrery/internal/metrics"
	"github.com/star/orrery/internal/render"
	"github.com/star/orrery/internal/scene"
	"github.com/star/orrery/internal/timeline"
)

// ErrNotRunning is returned by commands issued while Serve is not running.
var ErrNotRunning = errors.New("view controller is not running")

// Fetcher loads ephemeris for a range. *ephemeris.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, rng ephemeris.Range, targets []ephemeris.Target) (*ephemeris.Result, error)
}

// Config holds view loop configuration.
type Config struct {
	TickInterval time.Duration // data clock (default: 1s)
	FPS          int           // render clock (default: 60)
	Autoplay     bool          // start playing when data first arrives
	Controls     scene.ControlsConfig
	InitialRange *ephemeris.Range // selected when Serve starts
}

// Controller owns the view state. All exported methods are safe for
// concurrent use; they hand work to the Serve goroutine.
type Controller struct {
	config   Config
	registry *bodies.Registry
	targets  []ephemeris.Target
	fetcher  Fetcher
	surface  render.Surface
	store    *ephemeris.Store
	logger   *slog.Logger

	commands chan func(*loop)

	mu   sync.Mutex
	stop chan struct{} // closed when the running Serve returns; nil when idle
}

// New creates a Controller. Zero config fields fall back to defaults.
func New(config Config, registry *bodies.Registry, fetcher Fetcher, surface render.Surface, store *ephemeris.Store, logger *slog.Logger) *Controller {
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second
	}
	if config.FPS <= 0 {
		config.FPS = 60
	}
	if store == nil {
		store = ephemeris.NewStore()
	}
	return &Controller{
		config:   config,
		registry: registry,
		targets:  ephemeris.TargetsFor(registry),
		fetcher:  fetcher,
		surface:  surface,
		store:    store,
		logger:   logger,
		commands: make(chan func(*loop), 16),
	}
}

// Store returns the ephemeris status store updated by the loop.
func (c *Controller) Store() *ephemeris.Store {
	return c.store
}

// Ready reports whether Serve is running.
func (c *Controller) Ready() bool {
	return c.current() != nil
}

func (c *Controller) current() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop
}

// fetchResult carries one finished fetch back to the loop.
type fetchResult struct {
	gen       uint64
	requestID string
	rng       ephemeris.Range
	result    *ephemeris.Result
	err       error
}

// loop is the state owned by one Serve call.
type loop struct {
	ctx      context.Context
	tl       *timeline.Timeline
	model    *scene.Model
	controls *scene.Controls
	render   *render.Loop

	gen         uint64
	cancelFetch context.CancelFunc
	results     chan fetchResult
	done        chan struct{}
}

// Serve runs the view loop until ctx is cancelled. A surface with an Open
// method is reopened first, so Serve may be restarted after a failure.
// Teardown runs on every exit path: tickers stop, the in-flight fetch is
// cancelled, the scene is released and the surface is closed.
func (c *Controller) Serve(ctx context.Context) error {
	c.mu.Lock()
	if c.stop != nil {
		c.mu.Unlock()
		return fmt.Errorf("view controller already serving")
	}
	stop := make(chan struct{})
	c.stop = stop
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		close(stop)
		c.stop = nil
		c.mu.Unlock()
	}()

	if o, ok := c.surface.(interface{ Open() }); ok {
		o.Open()
	}

	tl := timeline.New()
	model := scene.NewModel(c.registry)
	controls := scene.NewControls(c.config.Controls)
	l := &loop{
		ctx:      ctx,
		tl:       tl,
		model:    model,
		controls: controls,
		render:   render.NewLoop(tl, model, controls, c.surface),
		results:  make(chan fetchResult),
		done:     make(chan struct{}),
	}
	defer c.teardown(l)

	c.logger.Info("view loop started",
		"component", "view",
		"bodies", c.registry.Len(),
		"tick_interval", c.config.TickInterval.String(),
		"fps", c.config.FPS,
	)
	metrics.SetTimeline(0, false)

	if c.config.InitialRange != nil {
		c.startFetch(l, *c.config.InitialRange, uuid.NewString())
	}

	dataTicker := time.NewTicker(c.config.TickInterval)
	defer dataTicker.Stop()
	renderTicker := time.NewTicker(time.Second / time.Duration(c.config.FPS))
	defer renderTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-dataTicker.C:
			l.tl.Tick()

		case <-renderTicker.C:
			l.render.Step()

		case res := <-l.results:
			c.reduce(l, res)

		case cmd := <-c.commands:
			c.apply(l, cmd)
		}
	}
}

func (c *Controller) teardown(l *loop) {
	close(l.done)
	if l.cancelFetch != nil {
		l.cancelFetch()
		l.cancelFetch = nil
	}
	l.model.Release()
	if closer, ok := c.surface.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.logger.Warn("closing render surface", "component", "view", "error", err)
		}
	}
	metrics.SetTimeline(0, false)
	c.logger.Info("view loop stopped", "component", "view")
}

// apply runs a command and logs any timeline phase change it caused.
func (c *Controller) apply(l *loop, cmd func(*loop)) {
	before := l.tl.Phase()
	cmd(l)
	c.notePhase(l, before)
}

func (c *Controller) notePhase(l *loop, before timeline.Phase) {
	after := l.tl.Phase()
	metrics.SetTimeline(l.tl.TotalFrames(), l.tl.Running())
	if after != before {
		c.logger.Info("timeline state change",
			"component", "view",
			"from", before.String(),
			"to", after.String(),
			"frames", l.tl.TotalFrames(),
		)
	}
}

// startFetch supersedes any in-flight fetch and starts a new one tagged with
// the next generation.
func (c *Controller) startFetch(l *loop, rng ephemeris.Range, requestID string) {
	if l.cancelFetch != nil {
		l.cancelFetch()
	}
	l.gen++
	gen := l.gen

	fctx, cancel := context.WithCancel(l.ctx)
	l.cancelFetch = cancel

	c.logger.Info("range selected",
		"component", "view",
		"request_id", requestID,
		"range", rng.Key(),
		"generation", gen,
	)

	go func() {
		res, err := c.fetcher.Fetch(fctx, rng, c.targets)
		select {
		case l.results <- fetchResult{gen: gen, requestID: requestID, rng: rng, result: res, err: err}:
		case <-l.done:
		}
	}()
}

// reduce applies a finished fetch. Only the latest generation is applied;
// the model and the timeline are replaced in the same loop turn, so no
// render step sees one updated without the other.
func (c *Controller) reduce(l *loop, r fetchResult) {
	if r.gen != l.gen || errors.Is(r.err, ephemeris.ErrSuperseded) {
		metrics.IncRangeSelection("superseded")
		c.logger.Debug("discarding stale ephemeris result",
			"component", "view",
			"request_id", r.requestID,
			"range", r.rng.Key(),
			"generation", r.gen,
			"latest", l.gen,
		)
		return
	}
	if l.cancelFetch != nil {
		l.cancelFetch()
		l.cancelFetch = nil
	}

	before := l.tl.Phase()
	defer c.notePhase(l, before)

	var empty *ephemeris.EmptyRangeError
	switch {
	case errors.As(r.err, &empty):
		l.model.SetEphemeris(nil)
		l.tl.SetEphemeris(nil)
		c.store.SetEmpty(empty)
		metrics.IncRangeSelection("empty")
		c.logger.Warn("no ephemeris data for range",
			"component", "view",
			"request_id", r.requestID,
			"range", r.rng.Key(),
			"error", r.err,
		)
		return

	case r.err != nil:
		metrics.IncRangeSelection("error")
		c.logger.Warn("range selection failed",
			"component", "view",
			"request_id", r.requestID,
			"range", r.rng.Key(),
			"error", r.err,
		)
		return
	}

	lengths := make(map[string]int, len(r.result.Ephemeris))
	for id, s := range r.result.Ephemeris {
		lengths[id] = len(s)
	}
	l.model.SetEphemeris(r.result.Ephemeris)
	phase := l.tl.SetEphemeris(lengths)
	if c.config.Autoplay && before == timeline.Empty && phase == timeline.ReadyPaused {
		l.tl.Play()
	}
	c.store.Set(r.result)
	metrics.IncRangeSelection("applied")

	c.logger.Info("ephemeris applied",
		"component", "view",
		"request_id", r.requestID,
		"result_id", r.result.ID,
		"range", r.rng.Key(),
		"bodies", len(r.result.Ephemeris),
		"failed", len(r.result.Failures),
		"frames", l.tl.TotalFrames(),
	)
}

// send queues cmd on the loop without waiting for it to run.
func (c *Controller) send(ctx context.Context, cmd func(*loop)) error {
	_, err := c.enqueue(ctx, cmd)
	return err
}

func (c *Controller) enqueue(ctx context.Context, cmd func(*loop)) (chan struct{}, error) {
	stop := c.current()
	if stop == nil {
		return nil, ErrNotRunning
	}
	select {
	case c.commands <- cmd:
		return stop, nil
	case <-stop:
		return nil, ErrNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// do queues cmd and waits until the loop has run it.
func (c *Controller) do(ctx context.Context, cmd func(*loop)) error {
	done := make(chan struct{})
	stop, err := c.enqueue(ctx, func(l *loop) {
		cmd(l)
		close(done)
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-stop:
		select {
		case <-done:
			return nil
		default:
			return ErrNotRunning
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) String() string {
	return "view-loop"
}
