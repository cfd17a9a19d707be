// Package throttle implements a simple failure-backoff limiter: repeated
// failures for the same key earn an increasing delay on the next call,
// bounding how fast a caller can retry against a failing dependency.
package throttle

import (
	"sync"
	"time"
)

// Throttle tracks recent failure counts per key. The zero value is ready
// to use.
type Throttle struct {
	mu       sync.Mutex
	attempts map[string]state
	cleaned  time.Time
}

type state struct {
	last     time.Time
	failures int
}

// Throttle blocks the caller for a fixed delay if val has accumulated
// enough recent failures (via Add), and reports whether it slept.
func (tr *Throttle) Throttle(val string) bool {
	const delay = 3 * time.Second
	const window = 60 * time.Second
	const buffer = 10

	now := timeNow()

	tr.mu.Lock()
	if now.Sub(tr.cleaned) > window {
		for key, tm := range tr.attempts {
			if now.Sub(tm.last) > delay {
				delete(tr.attempts, key)
			}
		}
		tr.cleaned = now
	}
	st := tr.attempts[val]
	tr.mu.Unlock()

	if st.failures >= buffer && now.Sub(st.last) < delay {
		timeSleep(delay)
		return true
	}
	return false
}

// Add records a failure for val, counting toward Throttle's threshold.
func (tr *Throttle) Add(val string) {
	tr.mu.Lock()
	if tr.attempts == nil {
		tr.attempts = make(map[string]state)
	}
	st := tr.attempts[val]
	st.last = timeNow()
	st.failures++
	tr.attempts[val] = st
	tr.mu.Unlock()
}

var timeSleep = time.Sleep
var timeNow = time.Now
