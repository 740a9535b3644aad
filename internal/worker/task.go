package worker

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
	"time"

	"tunesync/internal/catalog"
	"tunesync/internal/device"
	"tunesync/internal/planner"
	"tunesync/internal/progress"
)

// ErrExhausted marks a task whose transient failures consumed the
// whole retry budget.
var ErrExhausted = errors.New("worker: retry attempts exhausted")

// Class buckets task errors by how the run should react.
type Class string

const (
	// ClassTransient errors are retried up to the attempt ceiling.
	ClassTransient Class = "transient"
	// ClassPermanent errors fail one task; the run continues.
	ClassPermanent Class = "permanent"
	// ClassFatal errors abort the remaining plan.
	ClassFatal Class = "fatal"
)

// Classify maps an error onto the retry/abort taxonomy.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ""
	// A raw ENOSPC comes straight off the temp-file write when the
	// device fills mid-copy; ENODEV/ENXIO mean the target was unplugged
	// or unmounted. Retrying either cannot succeed.
	case errors.Is(err, device.ErrNoSpace),
		errors.Is(err, syscall.ENOSPC),
		errors.Is(err, syscall.ENODEV),
		errors.Is(err, syscall.ENXIO),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return ClassFatal
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, catalog.ErrUnauthorized),
		errors.Is(err, os.ErrPermission):
		return ClassPermanent
	case errors.Is(err, catalog.ErrUnavailable):
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	// Unrecognized I/O errors get one task's retry budget rather than
	// failing the run.
	return ClassTransient
}

// Outcome is the result of executing one fetch task.
type Outcome struct {
	Task        planner.Task
	Err         error
	Class       Class
	Attempts    int
	Size        int64
	Fingerprint string
	Duration    time.Duration
}

// OK reports whether the task succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// Config tunes the download workers.
type Config struct {
	// Retries is the attempt ceiling per task (>= 1).
	Retries int
	// RetryBackoff is the first backoff delay; it doubles per attempt.
	RetryBackoff time.Duration
	// Events optionally receives a started event when a worker picks a
	// task up. Sends never block; nil is fine.
	Events chan<- progress.Event
}
