// Package progress keeps the crash-safe checkpoint of processed entities. The
// checkpoint is a JSON file that is only ever replaced atomically.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/metrics"
)

const defaultMaxAttempts = 1

// ErrCorruptCheckpoint is returned by Load when the file exists but cannot be parsed.
var ErrCorruptCheckpoint = errors.New("checkpoint file is corrupt")

// Config controls the checkpoint store.
type Config struct {
	Path string
	// MaxAttempts is the cross-run budget for entities that do not commit.
	// An entity is only recorded as failed once it has used every attempt.
	MaxAttempts int
}

// Snapshot is a consistent copy of the checkpoint counters.
type Snapshot struct {
	Processed int       `json:"processed"`
	Succeeded int       `json:"success_count"`
	Failed    int       `json:"failed_count"`
	InFlight  int       `json:"in_flight"`
	Retrying  int       `json:"retrying"`
	SavedAt   time.Time `json:"saved_at"`
}

type checkpointFile struct {
	ProcessedURLs []string       `json:"processed_urls"`
	SuccessCount  int            `json:"success_count"`
	FailedCount   int            `json:"failed_count"`
	Attempts      map[string]int `json:"attempts,omitempty"`
	Timestamp     float64        `json:"timestamp"`
}

// Store is the in-memory checkpoint plus its file. It is safe for concurrent
// use; file I/O happens outside the mutex on a copied state.
type Store struct {
	path        string
	maxAttempts int
	logger      *zap.Logger
	now         func() time.Time

	mu        sync.Mutex
	processed map[string]struct{}
	inFlight  map[string]struct{}
	attempts  map[string]int
	succeeded int
	failed    int
	savedAt   time.Time

	// flushMu serializes writers so an older state never replaces a newer one.
	flushMu sync.Mutex
}

// New creates an empty Store. Call Load to read an existing checkpoint.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:        cfg.Path,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger,
		now:         time.Now,
		processed:   make(map[string]struct{}),
		inFlight:    make(map[string]struct{}),
		attempts:    make(map[string]int),
	}, nil
}

// Path returns the checkpoint file path.
func (s *Store) Path() string {
	return s.path
}

// Load replaces the in-memory state with the file's content. A missing file
// means nothing has been processed yet.
func (s *Store) Load() error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("no checkpoint found, starting fresh", zap.String("path", s.path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	var cp checkpointFile
	if err := json.Unmarshal(raw, &cp); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptCheckpoint, s.path, err)
	}

	s.mu.Lock()
	s.processed = make(map[string]struct{}, len(cp.ProcessedURLs))
	for _, key := range cp.ProcessedURLs {
		s.processed[key] = struct{}{}
	}
	s.attempts = make(map[string]int, len(cp.Attempts))
	for key, n := range cp.Attempts {
		s.attempts[key] = n
	}
	s.succeeded = cp.SuccessCount
	s.failed = cp.FailedCount
	if cp.Timestamp > 0 {
		s.savedAt = time.Unix(0, int64(cp.Timestamp*float64(time.Second)))
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("checkpoint loaded",
		zap.String("path", s.path),
		zap.Int("processed", snap.Processed),
		zap.Int("succeeded", snap.Succeeded),
		zap.Int("failed", snap.Failed),
	)
	return nil
}

// IsDone reports whether key is in the processed set.
func (s *Store) IsDone(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[key]
	return ok
}

// Pending returns keys that are not processed yet, without repeats, in input order.
func (s *Store) Pending(keys []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, done := s.processed[key]; done {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// Claim reserves key for the caller. It fails when key is processed or
// already claimed, so at most one worker handles a key at a time.
func (s *Store) Claim(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.processed[key]; done {
		return false
	}
	if _, busy := s.inFlight[key]; busy {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

// Release drops a claim without recording anything.
func (s *Store) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
}

// MarkDone records the outcome for key and releases its claim. It reports
// whether key entered the processed set. Counters change at most once per key.
func (s *Store) MarkDone(key string, outcome harvest.Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
	if _, done := s.processed[key]; done {
		return false
	}

	if outcome.Succeeded() {
		s.processed[key] = struct{}{}
		delete(s.attempts, key)
		s.succeeded++
		return true
	}
	s.attempts[key]++
	if s.attempts[key] < s.maxAttempts {
		return false
	}
	s.processed[key] = struct{}{}
	s.failed++
	return true
}

// Snapshot returns the current counters.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	retrying := 0
	for key := range s.attempts {
		if _, done := s.processed[key]; !done {
			retrying++
		}
	}
	return Snapshot{
		Processed: len(s.processed),
		Succeeded: s.succeeded,
		Failed:    s.failed,
		InFlight:  len(s.inFlight),
		Retrying:  retrying,
		SavedAt:   s.savedAt,
	}
}

// Flush atomically persists the full checkpoint. It is safe to call
// concurrently with MarkDone and with itself.
func (s *Store) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	now := s.now()
	s.mu.Lock()
	cp := checkpointFile{
		ProcessedURLs: make([]string, 0, len(s.processed)),
		SuccessCount:  s.succeeded,
		FailedCount:   s.failed,
		Timestamp:     float64(now.UnixNano()) / float64(time.Second),
	}
	for key := range s.processed {
		cp.ProcessedURLs = append(cp.ProcessedURLs, key)
	}
	if len(s.attempts) > 0 {
		cp.Attempts = make(map[string]int, len(s.attempts))
		for key, n := range s.attempts {
			cp.Attempts[key] = n
		}
	}
	s.mu.Unlock()
	sort.Strings(cp.ProcessedURLs)

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		metrics.ObserveCheckpointFlush("error")
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := writeAtomic(s.path, data); err != nil {
		metrics.ObserveCheckpointFlush("error")
		return err
	}
	metrics.ObserveCheckpointFlush("ok")

	s.mu.Lock()
	s.savedAt = now
	s.mu.Unlock()
	return nil
}

// Reset clears the checkpoint and removes its file.
func (s *Store) Reset() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	s.processed = make(map[string]struct{})
	s.attempts = make(map[string]int)
	s.succeeded, s.failed = 0, 0
	s.savedAt = time.Time{}
	s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}
