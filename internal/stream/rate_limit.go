package stream

import "sync"

// defaultMaxTotal caps streams across all clients when no limit is configured.
const defaultMaxTotal = 256

// rejection names the limit that refused a stream; empty means admitted.
type rejection string

const (
	rejectPerIP rejection = "per_ip_limit"
	rejectTotal rejection = "total_limit"
)

// streamLimiter admits frame streams under a per-client and a global cap.
type streamLimiter struct {
	mu       sync.Mutex
	perIP    map[string]int
	total    int
	maxPerIP int
	maxTotal int
}

func newStreamLimiter(maxPerIP, maxTotal int) *streamLimiter {
	return &streamLimiter{
		perIP:    make(map[string]int),
		maxPerIP: max(maxPerIP, 1),
		maxTotal: cmpDefault(maxTotal, defaultMaxTotal),
	}
}

func cmpDefault(v, def int) int {
	if v < 1 {
		return def
	}
	return v
}

// admit reserves a slot for ip. On success it returns a release func that
// is safe to call more than once; otherwise it reports which cap was hit.
func (l *streamLimiter) admit(ip string) (func(), rejection) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.total >= l.maxTotal:
		return nil, rejectTotal
	case l.perIP[ip] >= l.maxPerIP:
		return nil, rejectPerIP
	}
	l.perIP[ip]++
	l.total++

	var once sync.Once
	return func() { once.Do(func() { l.release(ip) }) }, ""
}

func (l *streamLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, ok := l.perIP[ip]
	if !ok {
		return
	}
	l.total--
	if n <= 1 {
		delete(l.perIP, ip)
		return
	}
	l.perIP[ip] = n - 1
}

func (l *streamLimiter) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

func (l *streamLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perIP[ip]
}
