// Command ephemdiag fetches one Horizons vector table and prints the parsed
// samples, or the parse error with the offending line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/orrery/internal/bodies"
	"github.com/star/orrery/internal/ephemeris"
	"github.com/star/orrery/internal/logging"
)

func main() {
	var (
		body    = flag.String("body", "399", "Horizons COMMAND (NAIF id)")
		center  = flag.String("center", bodies.AbsoluteCenter, "Horizons CENTER")
		start   = flag.String("start", "2024-10-01", "range start")
		stop    = flag.String("stop", "2024-10-06", "range stop")
		step    = flag.String("step", "1 d", "Horizons STEP_SIZE")
		baseURL = flag.String("base-url", "https://ssd.jpl.nasa.gov/api/horizons.api", "Horizons API URL")
		timeout = flag.Duration("timeout", 30*time.Second, "per-request timeout")
		file    = flag.String("file", "", "parse a saved vector table instead of fetching")
		verbose = flag.Bool("v", false, "log fetch attempts to stderr")
	)
	flag.Parse()

	level := "error"
	if *verbose {
		level = "debug"
	}
	logger := logging.New(logging.Config{Level: level, Format: "console", Output: os.Stderr})

	var text string
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			fmt.Println("ERROR reading table:", err)
			os.Exit(1)
		}
		text = string(data)
	} else {
		rng, err := ephemeris.ParseRange(*start, *stop, *step)
		if err != nil {
			fmt.Println("ERROR invalid range:", err)
			os.Exit(2)
		}
		if n, err := rng.ExpectedSamples(); err == nil {
			fmt.Printf("Range %s: expecting %d samples\n", rng.Key(), n)
		}

		fetcher := ephemeris.NewFetcher(ephemeris.FetcherConfig{
			BaseURL:         *baseURL,
			Timeout:         *timeout,
			Retries:         1,
			RetryDelay:      time.Second,
			BreakerFailures: 3,
			BreakerTimeout:  time.Minute,
		}, logger)

		ctx, cancel := context.WithTimeout(context.Background(), 3 * *timeout)
		defer cancel()
		text, err = fetcher.Fetch(ctx, ephemeris.Query{Body: *body, Command: *body, Center: *center, Range: rng})
		if err != nil {
			fmt.Println("ERROR fetching:", err)
			os.Exit(1)
		}
	}

	samples, err := ephemeris.Parse(*body, text)
	if err != nil {
		var ferr *ephemeris.FormatError
		if errors.As(err, &ferr) {
			fmt.Printf("ERROR format: %s\n", ferr.Reason)
			if ferr.Line >= 0 {
				fmt.Printf("  line %d: %q\n", ferr.Line, ferr.Text)
			}
		} else {
			fmt.Println("ERROR parsing:", err)
		}
		os.Exit(1)
	}

	fmt.Printf("Parsed %d samples for %s (center %s), units of %.0f km\n", len(samples), *body, *center, ephemeris.Normalization)
	for i, s := range samples {
		fmt.Printf("  %3d: x=%12.6f y=%12.6f z=%12.6f |r|=%.6f\n", i, s.X, s.Y, s.Z, r3.Norm(s.Vec()))
	}
}
