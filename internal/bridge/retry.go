package bridge

import (
	"context"
	"time"
)

// Policy is a bounded retry. The bridge uses {MaxAttempts: 2, Backoff: 0},
// i.e. one immediate retry after a failure.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Do runs fn up to MaxAttempts times and returns the last error. The attempt
// number passed to fn starts at 1.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = fn(i); err == nil {
			return nil
		}
		if i < attempts && p.Backoff > 0 {
			timer := time.NewTimer(p.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return err
}
