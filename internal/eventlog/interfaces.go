package eventlog

import (
	"context"
	"errors"

	"github.com/BarkinBalci/interaction-metrics-engine/internal/domain"
)

// ErrStorage wraps any I/O failure of the underlying store. An append that
// returns it means the event was not accepted and must not be counted.
var ErrStorage = errors.New("event log storage error")

// Handle identifies a durably stored entry so it can be released later.
type Handle struct {
	Category domain.Category
	Seq      uint64
}

// Entry pairs a recovered or appended event with its storage handle.
type Entry struct {
	Handle Handle
	Event  *domain.RawEvent
}

// Log defines the durable, per-category, append-only event store.
type Log interface {
	// Append durably writes the event before returning. The returned handle
	// releases exactly this entry.
	Append(ctx context.Context, event *domain.RawEvent) (Handle, error)

	// Recover returns every unreleased entry of the category in original
	// insertion order. It is read-only and therefore idempotent.
	Recover(ctx context.Context, category domain.Category) ([]Entry, error)

	// Release removes an entry from durable storage. Releasing an already
	// released handle is a no-op.
	Release(ctx context.Context, handle Handle) error

	// Close releases the underlying storage.
	Close() error
}
