package ephemeris

import (
	"sync/atomic"
	"time"
)

// Status is the ephemeris state last applied to the view. Exactly one of
// Result and Empty is set once a range has resolved.
type Status struct {
	Result *Result
	Empty  *EmptyRangeError
}

// Store provides lock-free access to the latest Status for readers outside
// the view loop (HTTP handlers, metrics).
type Store struct {
	status atomic.Pointer[Status]
}

// NewStore creates a new empty Store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the current result, or nil if none has been applied.
func (s *Store) Get() *Result {
	if st := s.status.Load(); st != nil {
		return st.Result
	}
	return nil
}

// Status returns the current status, or the zero Status before the first range resolves.
func (s *Store) Status() Status {
	if st := s.status.Load(); st != nil {
		return *st
	}
	return Status{}
}

// Set atomically replaces the current result.
func (s *Store) Set(r *Result) {
	s.status.Store(&Status{Result: r})
}

// SetEmpty records that the latest range produced no data.
func (s *Store) SetEmpty(err *EmptyRangeError) {
	s.status.Store(&Status{Empty: err})
}

// AgeSeconds returns the age of the current result in seconds.
// Returns -1 if no result is loaded.
func (s *Store) AgeSeconds() float64 {
	r := s.Get()
	if r == nil {
		return -1
	}
	return time.Since(r.FetchedAt).Seconds()
}
