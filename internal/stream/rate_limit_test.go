package stream

import (
	"sync"
	"testing"
	"time"
)

func TestStreamLimiterAdmit(t *testing.T) {
	tests := []struct {
		name     string
		maxPerIP int
		maxTotal int
		held     []string
		ip       string
		want     rejection
	}{
		{name: "empty", maxPerIP: 2, maxTotal: 4, ip: "10.0.0.1"},
		{name: "under per-ip cap", maxPerIP: 2, maxTotal: 4, held: []string{"10.0.0.1"}, ip: "10.0.0.1"},
		{name: "per-ip cap", maxPerIP: 2, maxTotal: 4, held: []string{"10.0.0.1", "10.0.0.1"}, ip: "10.0.0.1", want: rejectPerIP},
		{name: "other ip unaffected", maxPerIP: 2, maxTotal: 4, held: []string{"10.0.0.1", "10.0.0.1"}, ip: "10.0.0.2"},
		{name: "total cap", maxPerIP: 5, maxTotal: 2, held: []string{"a", "b"}, ip: "c", want: rejectTotal},
		{name: "total cap wins over per-ip", maxPerIP: 1, maxTotal: 1, held: []string{"a"}, ip: "a", want: rejectTotal},
		{name: "zero per-ip clamps to one", maxPerIP: 0, maxTotal: 4, held: []string{"a"}, ip: "a", want: rejectPerIP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newStreamLimiter(tt.maxPerIP, tt.maxTotal)
			for _, ip := range tt.held {
				if _, r := l.admit(ip); r != "" {
					t.Fatalf("setup admit(%q) rejected: %s", ip, r)
				}
			}
			release, got := l.admit(tt.ip)
			if got != tt.want {
				t.Fatalf("admit(%q) = %q, want %q", tt.ip, got, tt.want)
			}
			if got != "" && release != nil {
				t.Error("rejected admit returned a release func")
			}
			if got == "" && release == nil {
				t.Error("admitted stream has no release func")
			}
		})
	}
}

func TestStreamLimiterRelease(t *testing.T) {
	l := newStreamLimiter(3, 0)

	r1, _ := l.admit("10.0.0.1")
	r2, _ := l.admit("10.0.0.1")
	l.admit("10.0.0.2")

	if n := l.active(); n != 3 {
		t.Fatalf("active = %d, want 3", n)
	}

	r1()
	r1() // second call is a no-op
	if c := l.count("10.0.0.1"); c != 1 {
		t.Errorf("count after double release = %d, want 1", c)
	}
	if n := l.active(); n != 2 {
		t.Errorf("active = %d, want 2", n)
	}

	r2()
	if c := l.count("10.0.0.1"); c != 0 {
		t.Errorf("count = %d, want 0", c)
	}
	if _, ok := l.perIP["10.0.0.1"]; ok {
		t.Error("drained ip should be removed from the map")
	}

	l.release("10.9.9.9")
	if n := l.active(); n != 1 {
		t.Errorf("active after stray release = %d, want 1", n)
	}
}

func TestStreamLimiterDefaultTotal(t *testing.T) {
	l := newStreamLimiter(defaultMaxTotal+1, 0)
	for i := range defaultMaxTotal {
		if _, r := l.admit("10.0.0.1"); r != "" {
			t.Fatalf("admit %d rejected: %s", i, r)
		}
	}
	if _, r := l.admit("10.0.0.2"); r != rejectTotal {
		t.Errorf("admit past default total = %q, want %q", r, rejectTotal)
	}
}

func TestStreamLimiterConcurrent(t *testing.T) {
	l := newStreamLimiter(100, 0)

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, r := l.admit("10.0.0.1"); r == "" {
				defer release()
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if c := l.count("10.0.0.1"); c != 0 {
		t.Errorf("count after all released = %d, want 0", c)
	}
	if n := l.active(); n != 0 {
		t.Errorf("active after all released = %d, want 0", n)
	}
}
