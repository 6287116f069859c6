// Package memory contains an in-memory completion notifier for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// Notifier stores notified records for inspection.
type Notifier struct {
	mu      sync.RWMutex
	records []harvest.CollectionRecord
}

// New returns a memory Notifier.
func New() *Notifier {
	return &Notifier{}
}

// Notify records rec.
func (n *Notifier) Notify(_ context.Context, rec harvest.CollectionRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records = append(n.records, rec)
	return nil
}

// Records returns a copy of the notified records.
func (n *Notifier) Records() []harvest.CollectionRecord {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]harvest.CollectionRecord, len(n.records))
	copy(out, n.records)
	return out
}
