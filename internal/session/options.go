package session

import (
	"time"

	"github.com/koustreak/tessera/internal/database"
	"github.com/koustreak/tessera/internal/errs"
)

const (
	// RetryMax is the number of retries after the first attempt.
	RetryMax = 3

	// RetryDelay is the backoff base; attempt n sleeps n × RetryDelay.
	RetryDelay = 100 * time.Millisecond
)

// RetryPolicy selects which transient error classes a statement retries.
type RetryPolicy struct {
	// Integrity retries integrity-constraint violations, for statements
	// that race other writers on the same key.
	Integrity bool

	// Resilient retries dropped connections.
	Resilient bool
}

func (p RetryPolicy) allows(err error) bool {
	return (p.Integrity && errs.IsIntegrityViolation(err)) ||
		(p.Resilient && errs.IsConnectionDropped(err))
}

// Option configures Prepare.
type Option func(*prepareOptions)

type prepareOptions struct {
	retry  RetryPolicy
	driver database.PrepareOptions
}

// WithResilientRetry enables or disables retrying dropped connections.
func WithResilientRetry(on bool) Option {
	return func(o *prepareOptions) { o.retry.Resilient = on }
}

// WithIntegrityRetry enables or disables retrying integrity violations.
func WithIntegrityRetry(on bool) Option {
	return func(o *prepareOptions) { o.retry.Integrity = on }
}

// WithDirect sends the query text as-is instead of preparing it server side.
func WithDirect() Option {
	return func(o *prepareOptions) { o.driver.Direct = true }
}
