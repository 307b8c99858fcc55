package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes an exponential backoff schedule.
type Policy struct {
	Attempts    int
	Initial     time.Duration
	Multiplier  float64
	MaxInterval time.Duration
}

// Analysis is the schedule used for analysis requests.
var Analysis = Policy{Attempts: 3, Initial: 2 * time.Second, Multiplier: 2, MaxInterval: 30 * time.Second}

// Fetch is the lighter schedule used for catalog and document downloads.
var Fetch = Policy{Attempts: 3, Initial: 500 * time.Millisecond, Multiplier: 2, MaxInterval: 5 * time.Second}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do runs op until it succeeds, returns an error retryable rejects, or the
// attempt budget is spent. It reports how many attempts were made together
// with the last error.
func Do(ctx context.Context, p Policy, retryable func(error) bool, op func(context.Context) error) (int, error) {
	attempts := 0
	retries := p.Attempts - 1
	if retries < 0 {
		retries = 0
	}

	schedule := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(retries)), ctx)
	err := backoff.Retry(func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, schedule)

	return attempts, err
}
