package ephemeris

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Normalization divides raw Horizons coordinates (km) into display-friendly units.
const Normalization = 100000.0

// PositionSample is one normalized cartesian position. Index order within a
// sequence is the only time reference: sample i is step i from the range start.
type PositionSample struct {
	X, Y, Z float64
}

// Vec returns the sample as an r3 vector.
func (p PositionSample) Vec() r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

// Target is one body to fetch.
type Target struct {
	Body    string // registry id
	Command string // Horizons COMMAND
	Center  string // Horizons CENTER
}

// BodyFailure records why one body is absent from a Result.
type BodyFailure struct {
	Body string
	Err  error
}

// Result is the outcome of one fetch invocation. It is built completely
// before it is returned and never mutated afterwards.
type Result struct {
	ID        string
	Seq       uint64
	Range     Range
	FetchedAt time.Time
	Ephemeris map[string][]PositionSample
	Failures  []BodyFailure
}

// MinLength returns the shortest sample sequence length, or 0 when empty.
func (r *Result) MinLength() int {
	if r == nil || len(r.Ephemeris) == 0 {
		return 0
	}
	min := -1
	for _, s := range r.Ephemeris {
		if min < 0 || len(s) < min {
			min = len(s)
		}
	}
	return min
}

// Bodies returns the ids present in the result.
func (r *Result) Bodies() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.Ephemeris))
	for id := range r.Ephemeris {
		ids = append(ids, id)
	}
	return ids
}
