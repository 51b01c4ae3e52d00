package domain

import (
	"context"
	"io"
	"time"
)

// LockManager provides per-key mutual exclusion around market mutations.
// Conflicting concurrent writers are rejected with ErrLockHeld, never
// merged.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL and returns an
	// unlock function, or ErrLockHeld if another party holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// StreamMessage is one durable message read back from the signal bus.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus fans committed events out to external subscribers: ephemeral
// pub/sub channels plus a durable ordered stream per category.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter bounds how often a caller may invoke mutating operations.
type RateLimiter interface {
	// Allow reports whether a request for key is permitted under the
	// sliding window, counting it if so.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BlobWriter uploads archive objects to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver exports aged event-log rows to object storage.
type Archiver interface {
	// ArchiveEvents uploads all events recorded before the cutoff and
	// returns the number of archived rows. It does not delete the source
	// rows; pruning is a separate explicit step.
	ArchiveEvents(ctx context.Context, before time.Time) (int, error)
}
