// Package sink persists one harvested entity across the record store, the
// document store, and the audit log, keeping the record store authoritative.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/metrics"
	"github.com/JakeFAU/review-harvester/internal/retry"
)

const (
	defaultSource             = "tripadvisor"
	defaultDocumentAttempts   = 3
	defaultDocumentRetryDelay = time.Second
	maxNameRunes              = 100
	maxNameBytes              = 200
	documentTimeLayout        = "2006-01-02 15:04:05"
)

// TokenSource yields the random suffix of document names.
type TokenSource interface {
	Token() (string, error)
}

// Config holds writer configuration.
type Config struct {
	Source             string
	Collector          string
	DocumentAttempts   int
	DocumentRetryDelay time.Duration
}

// Deps are the writer's collaborators. Audit and Notifier are optional.
type Deps struct {
	Records   harvest.RecordStore
	Documents harvest.DocumentStore
	Audit     harvest.AuditLog
	Notifier  harvest.Notifier
	Clock     harvest.Clock
	Tokens    TokenSource
	Logger    *zap.Logger
}

// Writer implements the ordered multi-sink commit.
type Writer struct {
	cfg   Config
	deps  Deps
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Writer.
func New(cfg Config, deps Deps) (*Writer, error) {
	if deps.Records == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if deps.Documents == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.Source == "" {
		cfg.Source = defaultSource
	}
	if cfg.DocumentAttempts <= 0 {
		cfg.DocumentAttempts = defaultDocumentAttempts
	}
	if cfg.DocumentRetryDelay <= 0 {
		cfg.DocumentRetryDelay = defaultDocumentRetryDelay
	}
	return &Writer{cfg: cfg, deps: deps, sleep: retry.Sleep}, nil
}

// Persist commits res and reports the outcome. The steps run on a context
// detached from cancellation: once the record is inserted the document write or
// compensation always completes.
func (w *Writer) Persist(ctx context.Context, res harvest.HarvestResult) harvest.Outcome {
	ctx = context.WithoutCancel(ctx)
	logger := w.deps.Logger.With(zap.String("url", res.URL), zap.String("entity", res.Entity.String()))

	now := w.deps.Clock.Now()
	name := DocumentName(res.Info.Name, res.Entity.LocationID, w.token(now))
	rec := harvest.CollectionRecord{
		Source:       w.cfg.Source,
		URL:          res.URL,
		Collector:    w.cfg.Collector,
		CollectedAt:  now,
		ReviewCount:  len(res.Reviews),
		DocumentPath: w.deps.Documents.Path(name),
	}
	payload, err := encodeDocument(BuildDocument(res, now, w.cfg.Collector))
	if err != nil {
		logger.Error("encode document", zap.Error(err))
		return harvest.OutcomeFailed
	}

	if err := w.deps.Records.Insert(ctx, rec); err != nil {
		metrics.ObserveSinkFailure("records")
		logger.Error("record insert failed, nothing persisted", zap.Error(err))
		return harvest.OutcomeDBRejected
	}

	if err := w.putDocument(ctx, name, payload, logger); err != nil {
		metrics.ObserveSinkFailure("documents")
		logger.Error("document write failed, rolling back record",
			zap.String("document", rec.DocumentPath),
			zap.Error(err),
		)
		if derr := w.deps.Records.Delete(ctx, res.URL); derr != nil {
			metrics.ObserveSinkFailure("rollback")
			logger.Error("rollback failed, record left without document", zap.Error(derr))
		}
		return harvest.OutcomeRolledBack
	}

	if w.deps.Audit != nil {
		if err := w.deps.Audit.Append(ctx, rec); err != nil {
			metrics.ObserveSinkFailure("audit")
			logger.Warn("audit log append failed", zap.Error(err))
		}
	}
	if w.deps.Notifier != nil {
		if err := w.deps.Notifier.Notify(ctx, rec); err != nil {
			metrics.ObserveSinkFailure("notify")
			logger.Warn("completion notification failed", zap.Error(err))
		}
	}

	logger.Info("entity committed",
		zap.String("name", res.Info.Name),
		zap.Int("reviews", rec.ReviewCount),
		zap.String("document", rec.DocumentPath),
	)
	return harvest.OutcomeCommitted
}

func (w *Writer) putDocument(ctx context.Context, name string, payload []byte, logger *zap.Logger) error {
	policy := retry.Policy{
		MaxAttempts: w.cfg.DocumentAttempts,
		Classify: func(int, error) retry.Decision {
			return retry.After(w.cfg.DocumentRetryDelay)
		},
		Sleep: w.sleep,
		OnRetry: func(attempt int, err error, _ time.Duration) {
			logger.Warn("document write failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", w.cfg.DocumentAttempts),
				zap.Error(err),
			)
		},
	}
	_, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) (struct{}, error) {
		return struct{}{}, w.deps.Documents.Put(ctx, name, payload)
	})
	return err
}

func (w *Writer) token(now time.Time) string {
	tok, err := w.deps.Tokens.Token()
	if err != nil || tok == "" {
		return fmt.Sprintf("%08x", uint32(now.UnixNano()))
	}
	return tok
}

// BuildDocument assembles the persisted document for res.
func BuildDocument(res harvest.HarvestResult, now time.Time, collector string) harvest.Document {
	parentID := res.Info.ParentID
	if id, err := strconv.ParseInt(res.Entity.ParentID, 10, 64); err == nil {
		parentID = id
	}
	reviews := res.Reviews
	if reviews == nil {
		reviews = []harvest.ReviewRecord{}
	}
	return harvest.Document{
		URL:                 res.URL,
		ParentName:          res.Info.ParentName,
		ParentID:            parentID,
		Name:                res.Info.Name,
		Address:             res.Info.Address,
		DeclaredReviewCount: res.Info.DeclaredReviewCount,
		Rating:              res.Info.Rating,
		Languages:           res.Languages,
		Reviews:             reviews,
		CollectedAt:         now.Format(documentTimeLayout),
		Collector:           collector,
	}
}

func encodeDocument(doc harvest.Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Sanitize strips characters that are unsafe in file names, trims surrounding
// whitespace, and truncates to 100 runes or 200 bytes, whichever comes first.
// The byte bound leaves room for the token suffix under NAME_MAX.
func Sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		if strings.ContainsRune(`\/*?:"<>|`, r) || r <= 0x1f || (r >= 0x7f && r <= 0x9f) {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	size := 0
	for runes := 0; size < len(out) && runes < maxNameRunes; runes++ {
		_, width := utf8.DecodeRuneInString(out[size:])
		if size+width > maxNameBytes {
			break
		}
		size += width
	}
	return strings.TrimSpace(out[:size])
}

// DocumentName builds "<sanitized name>_<token>.json", falling back to
// "entity_<locationID>" when nothing of the name survives.
func DocumentName(name, locationID, token string) string {
	base := Sanitize(name)
	if base == "" {
		base = "entity_" + locationID
	}
	return base + "_" + token + ".json"
}
