package ephemeris

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
)

// TimeLayout is the Horizons START_TIME/STOP_TIME layout used for queries.
const TimeLayout = "2006-01-02 15:04"

// Range is a query window with a Horizons step size ("1 d", "6 h", "30 m",
// or a bare count of equal intervals such as "10").
type Range struct {
	Start time.Time
	Stop  time.Time
	Step  string
}

var stepPattern = regexp.MustCompile(`^(\d+)\s*([a-z]*)$`)

type stepSpec struct {
	n    int
	unit time.Duration // zero for a bare interval count
}

func parseStep(step string) (stepSpec, error) {
	m := stepPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(step)))
	if m == nil {
		return stepSpec{}, fmt.Errorf("invalid step size %q", step)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return stepSpec{}, fmt.Errorf("invalid step count in %q", step)
	}

	switch m[2] {
	case "":
		return stepSpec{n: n}, nil
	case "m", "min", "minute", "minutes":
		return stepSpec{n: n, unit: time.Minute}, nil
	case "h", "hour", "hours":
		return stepSpec{n: n, unit: time.Hour}, nil
	case "d", "day", "days":
		return stepSpec{n: n, unit: 24 * time.Hour}, nil
	default:
		return stepSpec{}, fmt.Errorf("unsupported step unit %q in %q", m[2], step)
	}
}

// Validate checks ordering and the step syntax.
func (r Range) Validate() error {
	if r.Start.IsZero() || r.Stop.IsZero() {
		return fmt.Errorf("range start and stop are required")
	}
	if !r.Stop.After(r.Start) {
		return fmt.Errorf("range stop %s is not after start %s", r.Stop.Format(TimeLayout), r.Start.Format(TimeLayout))
	}
	if _, err := parseStep(r.Step); err != nil {
		return err
	}
	return nil
}

// StepDuration returns the spacing between consecutive samples.
func (r Range) StepDuration() (time.Duration, error) {
	s, err := parseStep(r.Step)
	if err != nil {
		return 0, err
	}
	if s.unit == 0 {
		return r.Stop.Sub(r.Start) / time.Duration(s.n), nil
	}
	return time.Duration(s.n) * s.unit, nil
}

// ExpectedSamples returns how many samples Horizons produces for the range,
// computed from Julian day numbers of the endpoints.
func (r Range) ExpectedSamples() (int, error) {
	s, err := parseStep(r.Step)
	if err != nil {
		return 0, err
	}
	if s.unit == 0 {
		return s.n + 1, nil
	}

	spanDays := julian.TimeToJD(r.Stop.UTC()) - julian.TimeToJD(r.Start.UTC())
	stepDays := float64(s.n) * s.unit.Hours() / 24
	// JD values near 2.46e6 carry ~1e-9 day of rounding.
	return int(math.Floor(spanDays/stepDays+1e-6)) + 1, nil
}

// Key returns a canonical string for cache keys and logs.
func (r Range) Key() string {
	return r.Start.UTC().Format(TimeLayout) + ".." + r.Stop.UTC().Format(TimeLayout) + "/" + strings.TrimSpace(r.Step)
}

// ValidStep reports whether step is a supported Horizons step size.
func ValidStep(step string) bool {
	_, err := parseStep(step)
	return err == nil
}

// dateLayouts are accepted for range endpoints, most specific first.
var dateLayouts = []string{time.RFC3339, TimeLayout, "2006-01-02"}

// ParseRange builds a validated Range from user-supplied strings. Times
// without a zone are UTC.
func ParseRange(start, stop, step string) (Range, error) {
	s, err := parseDate(start)
	if err != nil {
		return Range{}, fmt.Errorf("start: %w", err)
	}
	e, err := parseDate(stop)
	if err != nil {
		return Range{}, fmt.Errorf("stop: %w", err)
	}
	rng := Range{Start: s, Stop: e, Step: strings.TrimSpace(step)}
	if err := rng.Validate(); err != nil {
		return Range{}, err
	}
	return rng, nil
}

func parseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q (want YYYY-MM-DD, YYYY-MM-DD HH:MM or RFC3339)", v)
}
