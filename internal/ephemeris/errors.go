package ephemeris

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSuperseded is returned when a newer fetch started before this one finished.
var ErrSuperseded = errors.New("ephemeris fetch superseded by a newer request")

// FormatError reports a vector table that does not match the expected layout.
type FormatError struct {
	Body   string
	Line   int // zero-based line within the delimited region, -1 when not line specific
	Reason string
	Text   string
}

func (e *FormatError) Error() string {
	if e.Line < 0 {
		return fmt.Sprintf("ephemeris format error for %s: %s", e.Body, e.Reason)
	}
	return fmt.Sprintf("ephemeris format error for %s at line %d: %s: %q", e.Body, e.Line, e.Reason, e.Text)
}

// FetchError reports a transport or upstream failure for one body.
type FetchError struct {
	Body string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching ephemeris for %s: %v", e.Body, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// EmptyRangeError reports that every body failed for a range.
type EmptyRangeError struct {
	Range    Range
	Failures []BodyFailure
}

func (e *EmptyRangeError) Error() string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Body
	}
	return fmt.Sprintf("no ephemeris data for range %s (failed: %s)", e.Range.Key(), strings.Join(names, ", "))
}
