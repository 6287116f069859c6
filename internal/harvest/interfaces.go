package harvest

import (
	"context"
	"time"
)

// RecordStore is the authoritative relational sink.
type RecordStore interface {
	Insert(ctx context.Context, rec CollectionRecord) error
	Delete(ctx context.Context, url string) error
}

// DocumentStore writes one structured document and returns its recorded path.
type DocumentStore interface {
	// Path returns the path that Put will record for name, before writing.
	Path(name string) string
	Put(ctx context.Context, name string, data []byte) error
}

// AuditLog appends one informational line per committed entity.
type AuditLog interface {
	Append(ctx context.Context, rec CollectionRecord) error
}

// Notifier announces committed entities to downstream consumers.
type Notifier interface {
	Notify(ctx context.Context, rec CollectionRecord) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// NoOpRecordStore accepts every write. It backs runs with the DB disabled.
type NoOpRecordStore struct{}

// Insert does nothing.
func (NoOpRecordStore) Insert(context.Context, CollectionRecord) error { return nil }

// Delete does nothing.
func (NoOpRecordStore) Delete(context.Context, string) error { return nil }
