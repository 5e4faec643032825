// Package lifecycle tracks process-level drain state shared by the health
// endpoints and the shutdown path.
package lifecycle

import (
	"sync"
	"time"
)

// Lifecycle flips to draining when shutdown begins so readiness checks fail
// and new live sessions are refused while existing ones wind down. The drain
// start time lets /readyz report how long the wind-down has been running.
type Lifecycle struct {
	mu       sync.Mutex
	draining bool
	since    time.Time
}

// StartDraining marks the process as draining. The first call records the
// drain start; later calls are no-ops.
func (l *Lifecycle) StartDraining() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.draining {
		l.draining = true
		l.since = time.Now()
	}
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.draining
}

// DrainingFor reports how long the process has been draining, or zero if it
// is not.
func (l *Lifecycle) DrainingFor() time.Duration {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.draining {
		return 0
	}
	return time.Since(l.since)
}
