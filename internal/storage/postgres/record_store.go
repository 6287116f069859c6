// Package postgres provides the Postgres-backed authoritative record store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/retry"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultTable          = "collection_records"
	defaultMaxAttempts    = 5
	defaultConnectTimeout = 10 * time.Second
)

var (
	opBackoff   = retry.Backoff{Base: 3 * time.Second, Max: 30 * time.Second}
	pingBackoff = retry.Backoff{Base: 5 * time.Second, Max: 60 * time.Second, Jitter: 5 * time.Second}
)

// RecordStoreConfig controls the Postgres record store.
type RecordStoreConfig struct {
	DSN            string
	Table          string
	MaxAttempts    int
	ConnectTimeout time.Duration
}

// conn is the subset of *pgx.Conn the store needs.
type conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type connectFunc func(ctx context.Context) (conn, error)

// RecordStore writes collection records. Every operation opens its own
// connection and closes it afterwards, so a failed attempt never poisons the
// next one.
type RecordStore struct {
	connect     connectFunc
	table       string
	maxAttempts int
	logger      *zap.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewRecordStore creates a RecordStore dialing cfg.DSN.
func NewRecordStore(cfg RecordStoreConfig, logger *zap.Logger) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	connCfg, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	connCfg.ConnectTimeout = cfg.ConnectTimeout
	if connCfg.ConnectTimeout <= 0 {
		connCfg.ConnectTimeout = defaultConnectTimeout
	}
	connect := func(ctx context.Context) (conn, error) {
		c, err := pgx.ConnectConfig(ctx, connCfg.Copy())
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return newRecordStore(connect, cfg.Table, cfg.MaxAttempts, logger)
}

func newRecordStore(connect connectFunc, table string, maxAttempts int, logger *zap.Logger) (*RecordStore, error) {
	if connect == nil {
		return nil, fmt.Errorf("connector is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordStore{
		connect:     connect,
		table:       table,
		maxAttempts: maxAttempts,
		logger:      logger,
		sleep:       retry.Sleep,
	}, nil
}

// Ping verifies the database is reachable. It is meant for startup and uses a
// longer, jittered backoff than regular writes.
func (s *RecordStore) Ping(ctx context.Context) error {
	policy := s.policy("ping", func(attempt int, _ error) retry.Decision {
		return retry.After(pingBackoff.Delay(attempt))
	})
	return s.run(ctx, policy, func(ctx context.Context, c conn) error {
		return c.Ping(ctx)
	})
}

// Insert writes one record.
func (s *RecordStore) Insert(ctx context.Context, rec harvest.CollectionRecord) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	source,
	url,
	collector,
	collected_at,
	review_count,
	document_path
) VALUES (
	$1,$2,$3,$4,$5,$6
)`, s.table)
	args := []any{
		rec.Source,
		rec.URL,
		rec.Collector,
		rec.CollectedAt,
		rec.ReviewCount,
		rec.DocumentPath,
	}
	err := s.run(ctx, s.opPolicy("insert"), func(ctx context.Context, c conn) error {
		_, err := c.Exec(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Delete removes every record for url. It compensates a failed document write.
func (s *RecordStore) Delete(ctx context.Context, url string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE url = $1`, s.table)
	err := s.run(ctx, s.opPolicy("delete"), func(ctx context.Context, c conn) error {
		_, err := c.Exec(ctx, query, url)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func (s *RecordStore) opPolicy(op string) retry.Policy {
	return s.policy(op, func(attempt int, _ error) retry.Decision {
		return retry.After(opBackoff.Delay(attempt))
	})
}

func (s *RecordStore) policy(op string, classify retry.Classifier) retry.Policy {
	return retry.Policy{
		MaxAttempts: s.maxAttempts,
		Classify:    classify,
		Sleep:       s.sleep,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			s.logger.Warn("database operation failed, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", s.maxAttempts),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		},
	}
}

func (s *RecordStore) run(ctx context.Context, policy retry.Policy, fn func(ctx context.Context, c conn) error) error {
	_, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) (struct{}, error) {
		c, err := s.connect(ctx)
		if err != nil {
			return struct{}{}, fmt.Errorf("connect postgres: %w", err)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if cerr := c.Close(closeCtx); cerr != nil && !errors.Is(cerr, context.Canceled) {
				s.logger.Debug("close postgres connection", zap.Error(cerr))
			}
		}()
		return struct{}{}, fn(ctx, c)
	})
	return err
}
