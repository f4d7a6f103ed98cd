//go:build deadlock

// Package syncutil provides mutex primitives with optional deadlock detection.
// Use build tag -tags=deadlock to enable deadlock detection during development.
package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// DeadlockEnabled is true if the deadlock detector is enabled.
const DeadlockEnabled = true

func init() {
	// A DMA wait is bounded well below this.
	deadlock.Opts.DeadlockTimeout = 10 * time.Second
}

// A Mutex is a mutual exclusion lock.
type Mutex struct {
	deadlock.Mutex
}
