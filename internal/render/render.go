// Package render drives one redraw of the scene: read the timeline cursor,
// position the bodies, advance the camera, and hand the frame to a surface.
package render

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/orrery/internal/metrics"
	"github.com/star/orrery/internal/scene"
	"github.com/star/orrery/internal/timeline"
)

// Frame is everything a surface needs to draw one image.
type Frame struct {
	Seq     uint64
	At      time.Time
	Index   int
	Total   int
	Running bool
	Bodies  []scene.BodyState
	Camera  scene.CameraState

	// Trails is set only on the first frame and on frames where the trail
	// geometry changed; otherwise nil and the surface keeps the last set.
	Trails       map[string][]r3.Vec
	TrailVersion uint64
}

// Surface receives drawn frames. Draw runs on the view loop and must not block.
type Surface interface {
	Draw(Frame)
}

// Loop performs render steps. It never advances the timeline.
type Loop struct {
	timeline *timeline.Timeline
	model    *scene.Model
	controls *scene.Controls
	surface  Surface

	seq          uint64
	trailVersion uint64
	trailsSent   bool
}

// NewLoop creates a Loop over the given state. All four are owned by the
// caller's goroutine.
func NewLoop(tl *timeline.Timeline, model *scene.Model, controls *scene.Controls, surface Surface) *Loop {
	return &Loop{
		timeline: tl,
		model:    model,
		controls: controls,
		surface:  surface,
	}
}

// Step renders one frame and returns it.
func (l *Loop) Step() Frame {
	start := time.Now()

	st := l.timeline.State()
	if st.TotalFrames > 0 {
		l.model.ApplyFrame(st.CurrentIndex)
	}
	cam := l.controls.Update()

	l.seq++
	f := Frame{
		Seq:          l.seq,
		At:           start,
		Index:        st.CurrentIndex,
		Total:        st.TotalFrames,
		Running:      st.Running,
		Bodies:       l.model.Snapshot(),
		Camera:       cam,
		TrailVersion: l.model.TrailVersion(),
	}
	if !l.trailsSent || f.TrailVersion != l.trailVersion {
		f.Trails = l.model.Trails()
		l.trailVersion = f.TrailVersion
		l.trailsSent = true
	}

	l.surface.Draw(f)
	metrics.ObserveRender(time.Since(start))
	return f
}
