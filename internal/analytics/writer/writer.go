package writer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	pkgbigquery "github.com/angelmondragon/campusmart-backend/pkg/bigquery"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

// Config controls the sales writer behavior.
type Config struct {
	SalesTable  string
	RetryPolicy RetryPolicy
}

// RetryPolicy controls how many times BigQuery inserts are retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// SalesWriter streams sale rows into BigQuery, retrying transient failures.
type SalesWriter struct {
	client    tableInserter
	table     string
	retry     RetryPolicy
	retryable func(error) bool
}

// New creates a SalesWriter backed by a shared client.
func New(client tableInserter, cfg Config) (*SalesWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	table := strings.TrimSpace(cfg.SalesTable)
	if table == "" {
		return nil, errors.New("sales table is required")
	}

	policy := cfg.RetryPolicy
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaultMaxAttempts
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = defaultInitialBackoff
	}
	if policy.MaximumBackoff < policy.InitialBackoff {
		policy.MaximumBackoff = max(defaultMaximumBackoff, policy.InitialBackoff)
	}
	return &SalesWriter{client: client, table: table, retry: policy, retryable: pkgbigquery.IsRetryable}, nil
}

// Write inserts rows, retrying retryable errors with capped exponential backoff.
func (w *SalesWriter) Write(ctx context.Context, rows []any) error {
	if len(rows) == 0 {
		return nil
	}
	backoff := retry.NewExponential(w.retry.InitialBackoff)
	backoff = retry.WithCappedDuration(w.retry.MaximumBackoff, backoff)
	backoff = retry.WithMaxRetries(uint64(w.retry.MaxAttempts-1), backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := w.client.InsertRows(ctx, w.table, rows); err != nil {
			if w.retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert %s rows: %w", w.table, err)
	}
	return nil
}
