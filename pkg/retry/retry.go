// Package retry implements the bounded exponential backoff used for
// ExternalError-classified operations against the wallet and peer
// transport collaborators. ExternalError is the only error class
// eligible for automatic retry.
package retry

import (
	"context"
	"time"

	"duxnet.io/node/pkg/errs"
)

// Policy configures a bounded exponential backoff.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Default mirrors a conservative external-call posture: a
// handful of attempts, starting at 100ms and capping at 2s.
var Default = Policy{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}

// Do runs fn, retrying only while the returned error is classified as
// errs.External, until MaxAttempts is exhausted or ctx is cancelled.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	delay := p.BaseDelay
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !errs.Retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}
