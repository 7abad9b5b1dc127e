// Package timeline owns the animation cursor that selects which ephemeris
// sample every body shows.
package timeline

// Phase is the Timeline state machine position.
type Phase int

const (
	Empty Phase = iota
	ReadyPaused
	ReadyRunning
)

func (p Phase) String() string {
	switch p {
	case Empty:
		return "empty"
	case ReadyPaused:
		return "paused"
	case ReadyRunning:
		return "running"
	default:
		return "unknown"
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is a read-only copy of the cursor.
type State struct {
	CurrentIndex int   `json:"current_index"`
	TotalFrames  int   `json:"total_frames"`
	Running      bool  `json:"running"`
	Phase        Phase `json:"phase"`
}

// Timeline is a cyclic frame cursor. It is not safe for concurrent use; the
// view loop owns it and every mutation happens on that goroutine.
//
// Invariant: 0 <= index < total whenever total > 0, and index == 0 and
// running == false when total == 0.
type Timeline struct {
	index   int
	total   int
	running bool
}

// New returns an Empty timeline.
func New() *Timeline {
	return &Timeline{}
}

// SetEphemeris loads a new ephemeris set described by its per-body sample
// counts. The frame count is the shortest sequence so no body is indexed
// past its end. An empty set (or one whose shortest body has no samples)
// moves the timeline to Empty. The cursor always restarts at 0; a running
// timeline stays running.
func (t *Timeline) SetEphemeris(lengths map[string]int) Phase {
	total := minLength(lengths)
	t.index = 0
	t.total = total
	if total == 0 {
		t.running = false
	}
	return t.Phase()
}

// Clear moves the timeline to Empty.
func (t *Timeline) Clear() {
	t.index, t.total, t.running = 0, 0, false
}

// Play starts advancing. It has no effect while Empty.
func (t *Timeline) Play() bool {
	if t.total == 0 {
		return false
	}
	t.running = true
	return true
}

// Pause stops advancing. It has no effect while Empty.
func (t *Timeline) Pause() bool {
	if t.total == 0 {
		return false
	}
	t.running = false
	return true
}

// Toggle flips between running and paused.
func (t *Timeline) Toggle() bool {
	if t.running {
		return t.Pause()
	}
	return t.Play()
}

// Tick advances the cursor by one frame, wrapping at the end. It only
// moves while running, which also guarantees total > 0.
func (t *Timeline) Tick() bool {
	if !t.running || t.total == 0 {
		return false
	}
	t.index = (t.index + 1) % t.total
	return true
}

// CurrentIndex returns the cursor.
func (t *Timeline) CurrentIndex() int {
	return t.index
}

// TotalFrames returns the loaded frame count, 0 when Empty.
func (t *Timeline) TotalFrames() int {
	return t.total
}

// Running reports whether ticks advance the cursor.
func (t *Timeline) Running() bool {
	return t.running
}

// Phase returns the current state machine position.
func (t *Timeline) Phase() Phase {
	switch {
	case t.total == 0:
		return Empty
	case t.running:
		return ReadyRunning
	default:
		return ReadyPaused
	}
}

// State returns a copy of the cursor.
func (t *Timeline) State() State {
	return State{
		CurrentIndex: t.index,
		TotalFrames:  t.total,
		Running:      t.running,
		Phase:        t.Phase(),
	}
}

func minLength(lengths map[string]int) int {
	if len(lengths) == 0 {
		return 0
	}
	min := -1
	for _, n := range lengths {
		if min < 0 || n < min {
			min = n
		}
	}
	if min < 0 {
		return 0
	}
	return min
}
