package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"harvest/internal/logging"
)

// Checker default retry budget.
const (
	DefaultCheckAttempts = 5
	DefaultCheckDelay    = 10 * time.Second
)

// CheckerConfig configures a Checker.
type CheckerConfig struct {
	Client *Client

	// Attempts is the number of queries tried before giving up.
	Attempts int

	// Delay is the fixed wait between attempts.
	Delay time.Duration

	Logger *slog.Logger
}

// Checker answers which product ids are not yet in the registry.
type Checker struct {
	client   *Client
	attempts int
	delay    time.Duration
	logger   *slog.Logger
}

// NewChecker creates a Checker, applying the default retry budget to unset
// fields.
func NewChecker(cfg CheckerConfig) *Checker {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultCheckAttempts
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultCheckDelay
	}
	return &Checker{
		client:   cfg.Client,
		attempts: cfg.Attempts,
		delay:    cfg.Delay,
		logger:   logging.Default(cfg.Logger).With("component", "idempotency"),
	}
}

// Unregistered returns the ids not present in the registry index. It issues
// one query sized to len(ids). When every attempt fails it returns an error
// wrapping ErrUndetermined; an empty, nil-error result means every id is
// already registered.
func (c *Checker) Unregistered(ctx context.Context, ids []string) (map[string]struct{}, error) {
	missing := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return missing, nil
	}

	query := map[string]any{
		"query":   map[string]any{"ids": map[string]any{"values": ids}},
		"_source": false,
		"size":    len(ids),
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		hits, err := c.client.Search(ctx, c.client.Index(), query)
		if err == nil {
			for _, id := range ids {
				missing[id] = struct{}{}
			}
			for _, h := range hits {
				delete(missing, h.ID)
			}
			return missing, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("registered id query failed", "attempt", attempt, "of", c.attempts, "error", err)
		if attempt < c.attempts {
			if err := sleep(ctx, c.delay); err != nil {
				break
			}
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrUndetermined, errors.Join(lastErr, ctx.Err()))
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
