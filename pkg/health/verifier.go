package health

import (
	"context"
	"time"

	"github.com/cfkarakulak/superdeploy/pkg/log"
	"github.com/cfkarakulak/superdeploy/pkg/types"
)

// Verifier polls a unit's probe until it reports healthy or the attempt
// budget runs out. Every wait is bounded: attempts are capped, each probe
// carries its own timeout, and the step context cuts the whole loop.
type Verifier struct {
	runner CommandRunner
}

// NewVerifier creates a verifier without exec probe support
func NewVerifier() *Verifier {
	return &Verifier{}
}

// WithRunner enables exec probes through a driver's command runner
func (v *Verifier) WithRunner(r CommandRunner) *Verifier {
	v.runner = r
	return v
}

// Wait blocks until the unit's probe succeeds once, the attempt budget is
// exhausted, or ctx is done. Units without a health block come back
// healthy immediately.
func (v *Verifier) Wait(ctx context.Context, unit *types.Unit) types.Verdict {
	start := time.Now()

	checker, err := ForUnit(unit, v.runner)
	if err != nil {
		return types.Verdict{Reason: err.Error(), Elapsed: time.Since(start)}
	}
	if checker == nil {
		return types.Verdict{Healthy: true, Reason: "no probe configured", Elapsed: time.Since(start)}
	}

	hc := unit.Health
	interval := hc.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	maxAttempts := hc.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	logger := log.WithUnit(unit.ID)

	if hc.StartPeriod > 0 {
		logger.Debug().Dur("start_period", hc.StartPeriod).Msg("Waiting out start period before probing")
		if !sleepCtx(ctx, hc.StartPeriod) {
			return types.Verdict{Reason: "verification canceled during start period", Elapsed: time.Since(start)}
		}
	}

	var last Result
	attempts := 0
	for attempts < maxAttempts {
		attempts++
		last = checker.Check(ctx)
		if last.Healthy {
			logger.Debug().Int("attempts", attempts).Str("probe", string(checker.Type())).Msg("Unit verified healthy")
			return types.Verdict{Healthy: true, Attempts: attempts, Elapsed: time.Since(start)}
		}

		logger.Debug().Int("attempt", attempts).Str("reason", last.Message).Msg("Probe attempt failed")
		if ctx.Err() != nil {
			break
		}
		if attempts < maxAttempts && !sleepCtx(ctx, attemptDelay(hc.Policy, interval, attempts)) {
			break
		}
	}

	reason := last.Message
	if ctx.Err() != nil {
		reason = "verification canceled: " + reason
	}
	return types.Verdict{Reason: reason, Attempts: attempts, Elapsed: time.Since(start)}
}

// attemptDelay computes the pause after a failed attempt. The fixed
// policy keeps the configured interval; exponential doubles per attempt
// up to maxBackoff.
func attemptDelay(policy types.RetryPolicy, interval time.Duration, attempt int) time.Duration {
	if policy != types.RetryExponential {
		return interval
	}
	if attempt > 6 {
		attempt = 6
	}
	d := interval << (attempt - 1)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
