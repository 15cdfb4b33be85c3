package sandbox

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/isdmx/kubebox/config"
)

// RetryPolicy is a fixed budget of attempts separated by a fixed interval.
type RetryPolicy struct {
	Attempts int
	Interval time.Duration
}

// RetryPolicyFromConfig converts a configured budget.
func RetryPolicyFromConfig(rc config.RetryConfig) RetryPolicy {
	return RetryPolicy{Attempts: rc.Attempts, Interval: rc.Interval()}
}

// Run calls fn until it reports done, returns an error, or the budget runs out.
// fn receives the 1-based attempt number. It returns exhausted=true when the
// budget ran out or ctx ended before fn reported done.
func (p RetryPolicy) Run(ctx context.Context, fn func(ctx context.Context, attempt int) (done bool, err error)) (exhausted bool, err error) {
	attempt := 0
	backoff := wait.Backoff{
		Duration: p.Interval,
		Factor:   1,
		Steps:    p.Attempts,
	}

	err = wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		attempt++
		return fn(ctx, attempt)
	})
	if err != nil && wait.Interrupted(err) {
		return true, err
	}
	return false, err
}
