// Package bodies holds the static configuration of the rendered celestial
// bodies. Nothing here is fetched: positions come from the ephemeris package.
package bodies

import (
	"fmt"
	"strings"
)

// AbsoluteCenter is the Horizons center for the shared scene frame
// (solar system barycenter).
const AbsoluteCenter = "500@0"

// Body describes one rendered body.
type Body struct {
	ID      string  // registry key, e.g. "earth"
	Name    string  // display name
	Command string  // Horizons COMMAND (NAIF id); empty means not fetched
	Radius  float64 // display radius in scene units
	Color   string  // display color, "#rrggbb"

	// Primary is the registry id this body is rendered relative to.
	// Empty means the body sits in the shared absolute frame.
	Primary string
	// OffsetScale multiplies a relative body's displayed offset from its primary.
	OffsetScale float64
}

// Tracked reports whether ephemeris data is fetched for this body.
func (b Body) Tracked() bool {
	return b.Command != ""
}

// Relative reports whether the body is positioned relative to a primary.
func (b Body) Relative() bool {
	return b.Primary != ""
}

// Registry is an ordered, validated set of bodies.
// Primaries always come before the bodies rendered relative to them.
type Registry struct {
	ordered []Body
	byID    map[string]int
}

// NewRegistry validates list and returns a Registry.
// Duplicate ids, unknown primaries and chained relatives are rejected.
func NewRegistry(list []Body) (*Registry, error) {
	byID := make(map[string]Body, len(list))
	for _, b := range list {
		if b.ID == "" {
			return nil, fmt.Errorf("body with empty id")
		}
		if _, dup := byID[b.ID]; dup {
			return nil, fmt.Errorf("duplicate body id %q", b.ID)
		}
		if b.Radius < 0 {
			return nil, fmt.Errorf("body %q: negative radius", b.ID)
		}
		byID[b.ID] = b
	}

	for _, b := range list {
		if !b.Relative() {
			continue
		}
		p, ok := byID[b.Primary]
		if !ok {
			return nil, fmt.Errorf("body %q: unknown primary %q", b.ID, b.Primary)
		}
		if p.Relative() {
			return nil, fmt.Errorf("body %q: primary %q is itself relative", b.ID, b.Primary)
		}
		if b.OffsetScale <= 0 {
			return nil, fmt.Errorf("body %q: offset scale must be positive", b.ID)
		}
	}

	r := &Registry{byID: make(map[string]int, len(list))}
	// Absolute bodies first, then relatives, each group in declaration order.
	for _, b := range list {
		if !b.Relative() {
			r.add(b)
		}
	}
	for _, b := range list {
		if b.Relative() {
			r.add(b)
		}
	}
	return r, nil
}

func (r *Registry) add(b Body) {
	r.byID[b.ID] = len(r.ordered)
	r.ordered = append(r.ordered, b)
}

// Ordered returns all bodies, primaries before relatives.
func (r *Registry) Ordered() []Body {
	out := make([]Body, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Tracked returns the bodies that have ephemeris fetched, in registry order.
func (r *Registry) Tracked() []Body {
	var out []Body
	for _, b := range r.ordered {
		if b.Tracked() {
			out = append(out, b)
		}
	}
	return out
}

// Get returns the body with the given id.
func (r *Registry) Get(id string) (Body, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Body{}, false
	}
	return r.ordered[i], true
}

// Len returns the number of bodies.
func (r *Registry) Len() int {
	return len(r.ordered)
}

// Center returns the Horizons CENTER parameter used when fetching b.
// Relative bodies are fetched centred on their primary, so their samples
// are offsets from it.
func (r *Registry) Center(b Body) string {
	if !b.Relative() {
		return AbsoluteCenter
	}
	p, ok := r.Get(b.Primary)
	if !ok || p.Command == "" {
		return AbsoluteCenter
	}
	return "500@" + strings.TrimSpace(p.Command)
}

// sizeScale enlarges every body so the inner planets are visible at the
// default camera distance.
const sizeScale = 2

// Default returns the bodies of the inner solar system.
func Default() []Body {
	return []Body{
		{ID: "sun", Name: "Sun", Radius: 6 * sizeScale, Color: "#ffff00"},
		{ID: "mercury", Name: "Mercury", Command: "199", Radius: 0.8 * sizeScale, Color: "#bebebe"},
		{ID: "venus", Name: "Venus", Command: "299", Radius: 1.2 * sizeScale, Color: "#ffa500"},
		{ID: "earth", Name: "Earth", Command: "399", Radius: 1.3 * sizeScale, Color: "#0000ff"},
		{ID: "moon", Name: "Moon", Command: "301", Radius: 0.4 * sizeScale, Color: "#aaaaaa", Primary: "earth", OffsetScale: 50},
		{ID: "mars", Name: "Mars", Command: "499", Radius: 1.1 * sizeScale, Color: "#ff4500"},
	}
}

// DefaultRegistry returns the registry built from Default.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Default())
	if err != nil {
		panic(fmt.Sprintf("default body registry: %v", err))
	}
	return r
}
