// Package memory keeps records and documents in-memory for development and
// dry runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// DocumentStore stores documents in-memory and returns pseudo URIs.
type DocumentStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewDocumentStore creates a new in-memory document store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{data: make(map[string][]byte)}
}

// Path returns the pseudo URI for name.
func (s *DocumentStore) Path(name string) string {
	return "memory://" + name
}

// Put stores a copy of data under name.
func (s *DocumentStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = append([]byte(nil), data...)
	return nil
}

// Get returns the stored document.
func (s *DocumentStore) Get(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[name]
	return b, ok
}

// Names lists stored document names in sorted order.
func (s *DocumentStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RecordStore keeps collection records keyed by URL.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string][]harvest.CollectionRecord
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string][]harvest.CollectionRecord)}
}

// Insert appends rec.
func (s *RecordStore) Insert(ctx context.Context, rec harvest.CollectionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.URL] = append(s.records[rec.URL], rec)
	return nil
}

// Delete removes every record for url.
func (s *RecordStore) Delete(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, url)
	return nil
}

// Records returns the records stored for url.
func (s *RecordStore) Records(url string) []harvest.CollectionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]harvest.CollectionRecord(nil), s.records[url]...)
}

// Len returns the number of stored records.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, recs := range s.records {
		n += len(recs)
	}
	return n
}
