package ephemeris

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	startMarker = "$$SOE"
	endMarker   = "$$EOE"

	// A VECTOR table step spans four lines: JD/date, X Y Z, VX VY VZ, LT RG RR.
	// The region begins with the remainder of the start marker line, so the
	// first coordinate line is at offset 2.
	firstCoordLine = 2
	lineStride     = 4
)

var coordPattern = regexp.MustCompile(`X\s*=\s*([+-]?\d+\.\d+E[+-]?\d+)\s*Y\s*=\s*([+-]?\d+\.\d+E[+-]?\d+)\s*Z\s*=\s*([+-]?\d+\.\d+E[+-]?\d+)`)

// Parse extracts position samples from one Horizons vector table.
// body is used only to label errors. A missing marker or a coordinate line
// that does not match returns a *FormatError and no samples.
func Parse(body, text string) ([]PositionSample, error) {
	start := strings.Index(text, startMarker)
	if start < 0 {
		return nil, &FormatError{Body: body, Line: -1, Reason: "missing " + startMarker + " marker"}
	}
	start += len(startMarker)

	end := strings.Index(text[start:], endMarker)
	if end < 0 {
		return nil, &FormatError{Body: body, Line: -1, Reason: "missing " + endMarker + " marker"}
	}

	lines := strings.Split(text[start:start+end], "\n")

	var samples []PositionSample
	for i := firstCoordLine; i < len(lines); i += lineStride {
		line := strings.TrimRight(lines[i], "\r")
		s, ok := parseCoordinates(line)
		if !ok {
			return nil, &FormatError{Body: body, Line: i, Reason: "coordinate line does not match X/Y/Z pattern", Text: line}
		}
		samples = append(samples, s)
	}

	return samples, nil
}

func parseCoordinates(line string) (PositionSample, bool) {
	m := coordPattern.FindStringSubmatch(line)
	if m == nil {
		return PositionSample{}, false
	}

	var v [3]float64
	for i := range v {
		f, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return PositionSample{}, false
		}
		v[i] = f / Normalization
	}
	return PositionSample{X: v[0], Y: v[1], Z: v[2]}, true
}
