// Package poll provides the bounded waiting primitive used to observe
// eventually-consistent provider state: address assignment, instance
// disappearance, startup completion.
package poll

import (
	"errors"
	"time"
)

// ErrExhausted is returned when a condition never held within a policy's
// attempt budget. Callers wrap it with what they were waiting for.
var ErrExhausted = errors.New("polling attempts exhausted")

// Condition reports whether the awaited state has been reached. Returning an
// error aborts the wait; transient failures the caller wants retried must be
// swallowed by the condition itself.
type Condition func() (bool, error)

// Policy bounds a wait to MaxAttempts checks spaced Interval apart.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
}

// Wait runs condition until it holds, errors, or the attempt budget runs out.
// The condition is checked before any sleeping and there is no sleep after
// the final attempt.
func (p Policy) Wait(condition Condition) error {
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		done, err := condition()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if attempt < p.MaxAttempts {
			time.Sleep(p.Interval)
		}
	}
	return ErrExhausted
}
