// Package scene holds the renderable state of every body and the orbit
// camera. Positions change per frame; trail geometry changes only when a
// new ephemeris set is loaded.
package scene

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/orrery/internal/bodies"
	"github.com/star/orrery/internal/ephemeris"
)

// DistanceScale converts normalized ephemeris units into scene units.
const DistanceScale = 0.05

// Entry is the renderable for one body.
type Entry struct {
	Body     bodies.Body
	Position r3.Vec
	Trail    []r3.Vec // nil when the body has no trail
	HasData  bool
}

// BodyState is the per-frame position of one body.
type BodyState struct {
	ID       string
	Position r3.Vec
	HasData  bool
}

// Model is the set of renderables. Like the timeline it is owned by the
// view loop and is not safe for concurrent use.
type Model struct {
	entries []*Entry // registry order: primaries before relatives
	byID    map[string]*Entry
	samples map[string][]ephemeris.PositionSample

	trailVersion uint64
	released     bool
}

// NewModel creates one renderable per body in reg, all at the origin. The
// renderables exist before any ephemeris arrives and live until Release.
func NewModel(reg *bodies.Registry) *Model {
	ordered := reg.Ordered()
	m := &Model{
		entries: make([]*Entry, 0, len(ordered)),
		byID:    make(map[string]*Entry, len(ordered)),
	}
	for _, b := range ordered {
		e := &Entry{Body: b}
		m.entries = append(m.entries, e)
		m.byID[b.ID] = e
	}
	return m
}

// SetEphemeris replaces the sample source for every body and rebuilds the
// orbit trails once. Bodies absent from eph lose their trail and keep their
// last position.
func (m *Model) SetEphemeris(eph map[string][]ephemeris.PositionSample) {
	if m.released {
		return
	}

	m.samples = make(map[string][]ephemeris.PositionSample, len(eph))
	for _, e := range m.entries {
		s, ok := eph[e.Body.ID]
		if !ok || len(s) == 0 {
			e.HasData = false
			e.Trail = nil
			continue
		}
		m.samples[e.Body.ID] = s
		e.HasData = true
	}

	// Primaries are built first, so a relative body can compose its trail
	// against the primary's samples.
	for _, e := range m.entries {
		if !e.HasData {
			continue
		}
		e.Trail = m.buildTrail(e.Body)
	}
	m.trailVersion++
}

func (m *Model) buildTrail(b bodies.Body) []r3.Vec {
	s := m.samples[b.ID]
	if !b.Relative() {
		trail := make([]r3.Vec, len(s))
		for i, p := range s {
			trail[i] = absolute(p)
		}
		return trail
	}

	ps, ok := m.samples[b.Primary]
	if !ok {
		return nil
	}
	n := min(len(s), len(ps))
	trail := make([]r3.Vec, n)
	for i := 0; i < n; i++ {
		trail[i] = r3.Add(absolute(ps[i]), offset(b, s[i]))
	}
	return trail
}

// ApplyFrame positions every body that has data at sample index. A relative
// body is placed at its primary's position from this same call plus its own
// scaled offset. Bodies without data, or whose sequence is shorter than
// index, keep their previous position.
func (m *Model) ApplyFrame(index int) {
	if m.released || index < 0 {
		return
	}
	for _, e := range m.entries {
		if !e.HasData {
			continue
		}
		s := m.samples[e.Body.ID]
		if index >= len(s) {
			continue
		}
		if !e.Body.Relative() {
			e.Position = absolute(s[index])
			continue
		}
		p, ok := m.byID[e.Body.Primary]
		if !ok {
			continue
		}
		e.Position = r3.Add(p.Position, offset(e.Body, s[index]))
	}
}

func absolute(p ephemeris.PositionSample) r3.Vec {
	return r3.Scale(DistanceScale, p.Vec())
}

func offset(b bodies.Body, p ephemeris.PositionSample) r3.Vec {
	return r3.Scale(DistanceScale*b.OffsetScale, p.Vec())
}

// Snapshot returns the current position of every body in registry order.
func (m *Model) Snapshot() []BodyState {
	out := make([]BodyState, len(m.entries))
	for i, e := range m.entries {
		out[i] = BodyState{ID: e.Body.ID, Position: e.Position, HasData: e.HasData}
	}
	return out
}

// Trails returns the current trail of every body that has one. The slices
// are shared with the model; trails are replaced, never mutated, so callers
// may hold them across frames.
func (m *Model) Trails() map[string][]r3.Vec {
	out := make(map[string][]r3.Vec)
	for _, e := range m.entries {
		if e.Trail != nil {
			out[e.Body.ID] = e.Trail
		}
	}
	return out
}

// TrailVersion increments every time the trails are rebuilt.
func (m *Model) TrailVersion() uint64 {
	return m.trailVersion
}

// Entry returns the renderable for id.
func (m *Model) Entry(id string) (Entry, bool) {
	e, ok := m.byID[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Release drops all renderables and trail geometry. Later calls are no-ops.
func (m *Model) Release() {
	if m.released {
		return
	}
	m.released = true
	for _, e := range m.entries {
		e.Trail = nil
	}
	m.entries = nil
	m.byID = nil
	m.samples = nil
}

// Released reports whether Release has been called.
func (m *Model) Released() bool {
	return m.released
}
