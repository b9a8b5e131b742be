// Package platform abstracts the side effects of the host environment: saving
// exported files, persisting small documents and scheduling delayed work.
// The coordinators depend only on these interfaces so they run headless.
package platform

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Storage.Read for a missing key.
var ErrNotFound = errors.New("key not found")

// Saver hands a finished payload to the user.
type Saver interface {
	Save(ctx context.Context, data []byte, filename string) error
}

// Storage persists whole documents by key.
type Storage interface {
	Persist(ctx context.Context, key string, value []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
}

// Task is a scheduled function that has not necessarily run yet.
type Task interface {
	// Cancel prevents the function from running. It returns false if the
	// function already started or the task was already cancelled.
	Cancel() bool
}

// Scheduler runs functions after a delay.
type Scheduler interface {
	Schedule(fn func(), delay time.Duration) Task
}
