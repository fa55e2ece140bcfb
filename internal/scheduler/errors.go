package scheduler

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadyStarted is returned by Start when the scheduler is running.
	ErrAlreadyStarted = errors.New("scheduler: already started")

	// ErrUnknownCollector is returned when no job exists for a collector id.
	ErrUnknownCollector = errors.New("scheduler: unknown collector")

	// ErrCollectorBusy is returned when a run is requested while an execution
	// for the same collector is still in flight.
	ErrCollectorBusy = errors.New("scheduler: collection already in progress")
)

// CollectionTimeout marks an execution that exceeded its deadline. The
// underlying I/O may still be running; the engine stops waiting and records
// the failure.
type CollectionTimeout struct {
	CollectorID string
	Limit       time.Duration
}

func (e *CollectionTimeout) Error() string {
	return fmt.Sprintf("collection timed out after %s (collector %s)", e.Limit, e.CollectorID)
}

// CollectionError marks an execution where the collector returned an error or
// panicked.
type CollectionError struct {
	CollectorID string
	Cause       error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collection failed (collector %s): %v", e.CollectorID, e.Cause)
}

func (e *CollectionError) Unwrap() error { return e.Cause }
