package view

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/star/orrery/internal/ephemeris"
	"github.com/star/orrery/internal/metrics"
	"github.com/star/orrery/internal/scene"
	"github.com/star/orrery/internal/timeline"
)

// SelectRange starts loading rng and returns the request id used in logs.
// Any fetch still running for an earlier range is cancelled and its result
// will not be applied.
func (c *Controller) SelectRange(ctx context.Context, rng ephemeris.Range) (string, error) {
	if err := rng.Validate(); err != nil {
		return "", fmt.Errorf("invalid range: %w", err)
	}
	id := uuid.NewString()
	err := c.send(ctx, func(l *loop) {
		c.startFetch(l, rng, id)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Play resumes the timeline. It has no effect while no data is loaded.
func (c *Controller) Play(ctx context.Context) (timeline.State, error) {
	return c.timelineCommand(ctx, (*timeline.Timeline).Play)
}

// Pause stops the timeline on the current frame.
func (c *Controller) Pause(ctx context.Context) (timeline.State, error) {
	return c.timelineCommand(ctx, (*timeline.Timeline).Pause)
}

// Toggle flips between playing and paused.
func (c *Controller) Toggle(ctx context.Context) (timeline.State, error) {
	return c.timelineCommand(ctx, (*timeline.Timeline).Toggle)
}

// State returns the timeline cursor.
func (c *Controller) State(ctx context.Context) (timeline.State, error) {
	var st timeline.State
	err := c.do(ctx, func(l *loop) {
		st = l.tl.State()
	})
	return st, err
}

func (c *Controller) timelineCommand(ctx context.Context, fn func(*timeline.Timeline) bool) (timeline.State, error) {
	var st timeline.State
	err := c.do(ctx, func(l *loop) {
		fn(l.tl)
		st = l.tl.State()
	})
	return st, err
}

// Rotate queues camera rotation in radians.
func (c *Controller) Rotate(ctx context.Context, dx, dy float64) error {
	metrics.IncCameraInput("rotate")
	return c.send(ctx, func(l *loop) {
		l.controls.Rotate(dx, dy)
	})
}

// Zoom queues a camera distance multiplier.
func (c *Controller) Zoom(ctx context.Context, factor float64) error {
	metrics.IncCameraInput("zoom")
	return c.send(ctx, func(l *loop) {
		l.controls.Zoom(factor)
	})
}

// Camera returns the current camera pose.
func (c *Controller) Camera(ctx context.Context) (scene.CameraState, error) {
	var cs scene.CameraState
	err := c.do(ctx, func(l *loop) {
		cs = l.controls.State()
	})
	return cs, err
}
