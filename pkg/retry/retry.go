// Package retry implements the time-budgeted busy retry policy used for
// vendor SDK calls.
//
// A call that fails with a busy error is retried after a linearly increasing
// delay (Step × attempt) until the wall-clock budget since the first attempt
// is spent. Any other error stops the loop immediately. The budget is time
// based rather than attempt based because how long a camera stays busy tracks
// motor travel, not the number of calls made.
package retry

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultBudget is the wall-clock budget for one retryable operation.
	DefaultBudget = 5000 * time.Millisecond

	// DefaultStep is the delay increment added per attempt.
	DefaultStep = 50 * time.Millisecond
)

// ErrExhausted is reported when busy retries outlast the budget.
var ErrExhausted = errors.New("retry budget exhausted while device busy")

// Outcome classifies how a retryable operation finished.
type Outcome int

const (
	// OutcomeOK means the operation eventually succeeded.
	OutcomeOK Outcome = iota
	// OutcomeFatal means a non-busy error aborted the operation.
	OutcomeFatal
	// OutcomeExhausted means the device stayed busy past the budget.
	OutcomeExhausted
)

// String returns a readable outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeFatal:
		return "fatal"
	case OutcomeExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Classifier reports whether err is a transient busy condition.
type Classifier func(err error) bool

// State is the transient bookkeeping of one retryable operation.
type State struct {
	// Attempts counts calls made so far, starting at 1.
	Attempts int
	// Elapsed is the wall-clock time since the first attempt.
	Elapsed time.Duration
	// Busy is true when the last attempt failed with a busy error.
	Busy bool
}

// Result is the final report of a retryable operation.
type Result struct {
	State
	Outcome Outcome
	// Cause is the last error seen. Nil on success.
	Cause error
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool {
	return r.Outcome == OutcomeOK
}

// Err converts the result into an error value. Exhausted results wrap
// ErrExhausted, fatal results return the cause unchanged.
func (r Result) Err() error {
	switch r.Outcome {
	case OutcomeOK:
		return nil
	case OutcomeExhausted:
		return fmt.Errorf("%w after %d attempts in %v: %v", ErrExhausted, r.Attempts, r.Elapsed, r.Cause)
	default:
		return r.Cause
	}
}

// Policy configures the retry loop. The zero value is usable and behaves
// like Default() with every error treated as fatal.
type Policy struct {
	// Budget bounds the total wall-clock time spent retrying.
	Budget time.Duration
	// Step is multiplied by the attempt number to get the next delay.
	Step time.Duration
	// IsBusy decides which errors are retried.
	IsBusy Classifier
	// Now and Sleep are the clock. Tests replace them.
	Now   func() time.Time
	Sleep func(time.Duration)
	// OnRetry, when set, is called before each backoff sleep.
	OnRetry func(state State, delay time.Duration, err error)
}

// Default returns the standard policy with the given busy classifier.
func Default(isBusy Classifier) Policy {
	return Policy{
		Budget: DefaultBudget,
		Step:   DefaultStep,
		IsBusy: isBusy,
	}
}

func (p Policy) normalized() Policy {
	if p.Budget <= 0 {
		p.Budget = DefaultBudget
	}
	if p.Step <= 0 {
		p.Step = DefaultStep
	}
	if p.IsBusy == nil {
		p.IsBusy = func(error) bool { return false }
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Sleep == nil {
		p.Sleep = time.Sleep
	}
	return p
}

// Do runs op until it succeeds, fails fatally, or the budget runs out.
// The attempt number (starting at 1) is passed to op.
func (p Policy) Do(op func(attempt int) error) Result {
	_, res := Value(p, func(attempt int) (struct{}, error) {
		return struct{}{}, op(attempt)
	})
	return res
}

// Value is Do for operations that produce a value. The zero value of T is
// returned unless the outcome is OutcomeOK.
func Value[T any](p Policy, op func(attempt int) (T, error)) (T, Result) {
	p = p.normalized()

	var zero T
	start := p.Now()
	state := State{Attempts: 1}

	for {
		v, err := op(state.Attempts)
		state.Elapsed = p.Now().Sub(start)

		if err == nil {
			state.Busy = false
			return v, Result{State: state, Outcome: OutcomeOK}
		}

		state.Busy = p.IsBusy(err)
		if !state.Busy {
			return zero, Result{State: state, Outcome: OutcomeFatal, Cause: err}
		}

		if state.Elapsed > p.Budget {
			return zero, Result{State: state, Outcome: OutcomeExhausted, Cause: err}
		}

		delay := p.Step * time.Duration(state.Attempts)
		if p.OnRetry != nil {
			p.OnRetry(state, delay, err)
		}
		p.Sleep(delay)
		state.Attempts++
	}
}
