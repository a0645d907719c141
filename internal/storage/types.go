package storage

import (
	"context"
	"errors"
	"time"

	"bulksender/internal/dispatch"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("dispatch not found")
)

type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}

// Store is the dispatch history. It satisfies dispatch.Recorder.
type Store interface {
	Record(ctx context.Context, rec dispatch.Record) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]dispatch.Record, error)
	Get(ctx context.Context, id string) (dispatch.Record, error)
	// Prune drops records created before the cutoff and reports how many went.
	Prune(ctx context.Context, before time.Time) (int, error)
	Close() error
}

const defaultRecentLimit = 50

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultRecentLimit
	}
	return min(limit, 1000)
}
