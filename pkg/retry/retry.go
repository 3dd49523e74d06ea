// Package retry is the transport-level backoff helper behind one wire
// call to the exchange. It exists for exactly one class of failure —
// spec §7's Transient I/O (socket reset, 5xx, venue busy) — and is
// deliberately narrower than a general retry library: the spec-visible
// retry budget for a trade leg lives in the executor's leg loop, so a
// policy here never re-sends more than a few times and never stretches
// past a fraction of the leg deadline.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy bounds the re-send loop for one wire call.
type Policy struct {
	// Attempts is the total number of sends, including the first.
	Attempts int
	// Base is the pause before the second send; each further pause
	// doubles, jittered ±25% so concurrent legs don't re-send in step.
	Base time.Duration
	// Cap bounds a single pause.
	Cap time.Duration
}

// Transport is the policy for a private REST call: three sends with 1.5s
// of nominal pauses (under 1.9s with jitter), small against the 15s
// default leg deadline.
func Transport() Policy {
	return Policy{Attempts: 3, Base: 500 * time.Millisecond, Cap: 4 * time.Second}
}

// Probe is the policy for unauthenticated liveness/bootstrap calls,
// where a single quick re-send is all that's worth spending.
func Probe() Policy {
	return Policy{Attempts: 2, Base: 250 * time.Millisecond, Cap: time.Second}
}

func (p Policy) pause(resend int) time.Duration {
	d := p.Base << uint(resend)
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}
	jitter := 1 + (rand.Float64()-0.5)/2
	return time.Duration(float64(d) * jitter)
}

// permanentError marks a failure no identical re-send can change: bad
// arguments, bad signature, an order the engine must not double-place.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do surfaces it without another send.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent anywhere in
// its chain.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do sends op up to p.Attempts times, pausing between sends, until it
// succeeds, returns a Permanent-wrapped error, or ctx is done. The last
// error is returned on exhaustion, unwrapped of the Permanent marker so
// callers match against the venue's own error.
func Do(ctx context.Context, p Policy, op func() error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	var last error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		err := op()
		if err == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return pe.err
		}
		last = err

		if attempt == p.Attempts-1 {
			break
		}
		select {
		case <-time.After(p.pause(attempt)):
		case <-ctx.Done():
			return last
		}
	}
	return last
}
