package scene

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ControlsConfig configures the orbit camera. Angles are radians.
type ControlsConfig struct {
	FOV         float64 // vertical field of view, degrees
	Distance    float64 // initial distance from the origin
	MinDistance float64
	MaxDistance float64
	Damping     float64 // fraction of the pending motion applied per update, (0, 1]
	MinPolar    float64 // angle from the ecliptic pole
	MaxPolar    float64
}

// DefaultControlsConfig starts the camera looking down onto the ecliptic
// from z = 60 and never lets it dip below the ecliptic plane.
func DefaultControlsConfig() ControlsConfig {
	return ControlsConfig{
		FOV:         125,
		Distance:    60,
		MinDistance: 5,
		MaxDistance: 500,
		Damping:     0.05,
		MinPolar:    0,
		MaxPolar:    math.Pi / 2,
	}
}

// CameraState is the camera pose for one frame.
type CameraState struct {
	Position r3.Vec
	Up       r3.Vec
	Target   r3.Vec
	FOV      float64
}

// polarEpsilon keeps the camera off the pole, where the up vector is undefined.
const polarEpsilon = 1e-6

// Controls is a damped orbit controller around the origin. Input
// accumulates between updates and then decays, so the camera glides to a
// stop. There is no panning: the target is always the origin.
type Controls struct {
	config ControlsConfig

	radius float64
	theta  float64 // azimuth in the ecliptic plane
	phi    float64 // angle from +Z

	dTheta float64
	dPhi   float64
	scale  float64
}

// NewControls creates a controller at the configured initial distance on
// the +Z axis. Invalid config values fall back to the defaults.
func NewControls(config ControlsConfig) *Controls {
	def := DefaultControlsConfig()
	if config.FOV <= 0 || config.FOV >= 180 {
		config.FOV = def.FOV
	}
	if config.MinDistance <= 0 {
		config.MinDistance = def.MinDistance
	}
	if config.MaxDistance < config.MinDistance {
		config.MaxDistance = math.Max(def.MaxDistance, config.MinDistance)
	}
	if config.Distance <= 0 {
		config.Distance = def.Distance
	}
	if config.Damping <= 0 || config.Damping > 1 {
		config.Damping = def.Damping
	}
	if config.MaxPolar <= 0 || config.MaxPolar > math.Pi {
		config.MaxPolar = def.MaxPolar
	}
	if config.MinPolar < 0 || config.MinPolar > config.MaxPolar {
		config.MinPolar = def.MinPolar
	}

	c := &Controls{
		config: config,
		radius: clamp(config.Distance, config.MinDistance, config.MaxDistance),
		scale:  1,
	}
	c.phi = clamp(0, c.minPhi(), c.maxPhi())
	return c
}

// Rotate queues an azimuth (dx) and polar (dy) change in radians.
func (c *Controls) Rotate(dx, dy float64) {
	if !finite(dx) || !finite(dy) {
		return
	}
	c.dTheta += dx
	c.dPhi += dy
}

// Zoom queues a distance multiplier: > 1 moves away, < 1 moves closer.
func (c *Controls) Zoom(factor float64) {
	if !finite(factor) || factor <= 0 {
		return
	}
	c.scale *= factor
}

// Update advances the damped motion by one render tick and returns the
// resulting pose. It runs every tick whether or not the timeline moves.
func (c *Controls) Update() CameraState {
	d := c.config.Damping

	c.theta = math.Mod(c.theta+c.dTheta*d, 2*math.Pi)
	c.phi = clamp(c.phi+c.dPhi*d, c.minPhi(), c.maxPhi())
	c.dTheta *= 1 - d
	c.dPhi *= 1 - d

	c.radius = clamp(c.radius*c.scale, c.config.MinDistance, c.config.MaxDistance)
	c.scale = 1

	return c.State()
}

// State returns the current pose without advancing the motion.
func (c *Controls) State() CameraState {
	sinPhi, cosPhi := math.Sincos(c.phi)
	sinTheta, cosTheta := math.Sincos(c.theta)

	return CameraState{
		Position: r3.Vec{
			X: c.radius * sinPhi * cosTheta,
			Y: c.radius * sinPhi * sinTheta,
			Z: c.radius * cosPhi,
		},
		// Tangent pointing toward +Z along the meridian.
		Up:  r3.Vec{X: -cosPhi * cosTheta, Y: -cosPhi * sinTheta, Z: sinPhi},
		FOV: c.config.FOV,
	}
}

// Spherical returns the radius, azimuth and polar angle.
func (c *Controls) Spherical() (radius, theta, phi float64) {
	return c.radius, c.theta, c.phi
}

func (c *Controls) minPhi() float64 {
	return math.Max(c.config.MinPolar, polarEpsilon)
}

func (c *Controls) maxPhi() float64 {
	return math.Min(c.config.MaxPolar, math.Pi-polarEpsilon)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
