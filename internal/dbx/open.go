package dbx

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

// OpenOptions controls how long Open waits for the database.
type OpenOptions struct {
	// MaxRetries bounds the number of extra ping attempts.
	MaxRetries uint64
	// Backoff is the first wait of the Fibonacci sequence.
	Backoff time.Duration
	// MaxBackoff caps a single wait.
	MaxBackoff time.Duration
}

// DefaultOpenOptions suit a database container started next to the server.
var DefaultOpenOptions = OpenOptions{
	MaxRetries: 8,
	Backoff:    200 * time.Millisecond,
	MaxBackoff: 5 * time.Second,
}

// Open opens driver/dsn and pings it, retrying with a capped Fibonacci
// backoff until the database answers or the retries are exhausted.
func Open(ctx context.Context, driver, dsn string, o OpenOptions) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	b := retry.NewFibonacci(o.Backoff)
	b = retry.WithCappedDuration(o.MaxBackoff, b)
	b = retry.WithMaxRetries(o.MaxRetries, b)

	err = retry.Do(ctx, b, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	return db, nil
}
