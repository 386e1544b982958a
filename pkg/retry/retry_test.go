package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

// fakeClock advances only when Sleep is called.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

func testPolicy(clock *fakeClock) Policy {
	p := Default(func(err error) bool { return errors.Is(err, errBusy) })
	p.Now = clock.Now
	p.Sleep = clock.Sleep
	return p
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	clock := newFakeClock()
	calls := 0

	res := testPolicy(clock).Do(func(attempt int) error {
		calls++
		assert.Equal(t, 1, attempt)
		return nil
	})

	assert.True(t, res.OK())
	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, calls)
	assert.NoError(t, res.Err())
	assert.Empty(t, clock.sleeps)
}

func TestDoRetriesBusyThenSucceeds(t *testing.T) {
	for _, busyCount := range []int{1, 2, 5} {
		clock := newFakeClock()
		calls := 0

		res := testPolicy(clock).Do(func(attempt int) error {
			calls++
			if attempt <= busyCount {
				return errBusy
			}
			return nil
		})

		require.True(t, res.OK(), "busy=%d", busyCount)
		assert.Equal(t, busyCount+1, res.Attempts)
		assert.Equal(t, busyCount+1, calls)
		assert.False(t, res.Busy)

		// Delay grows linearly: 50ms, 100ms, 150ms, ...
		require.Len(t, clock.sleeps, busyCount)
		for i, d := range clock.sleeps {
			assert.Equal(t, DefaultStep*time.Duration(i+1), d)
		}
	}
}

func TestDoFatalStopsImmediately(t *testing.T) {
	clock := newFakeClock()
	fatal := errors.New("lens not attached")
	calls := 0

	res := testPolicy(clock).Do(func(attempt int) error {
		calls++
		if attempt == 1 {
			return errBusy
		}
		return fatal
	})

	assert.Equal(t, OutcomeFatal, res.Outcome)
	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, res.Err(), fatal)
	assert.NotErrorIs(t, res.Err(), ErrExhausted)
}

func TestDoExhaustsBudget(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()

	res := testPolicy(clock).Do(func(int) error { return errBusy })

	assert.Equal(t, OutcomeExhausted, res.Outcome)
	assert.True(t, res.Busy)
	assert.ErrorIs(t, res.Err(), ErrExhausted)
	assert.Greater(t, res.Elapsed, DefaultBudget)

	// The last sleep can push us past the budget by at most one step.
	total := clock.Now().Sub(start)
	lastDelay := clock.sleeps[len(clock.sleeps)-1]
	assert.LessOrEqual(t, total, DefaultBudget+lastDelay)
	// Elapsed first exceeds 5000ms after 14 sleeps (5250ms), on attempt 15.
	assert.Equal(t, 15, res.Attempts)
}

func TestValueReturnsResult(t *testing.T) {
	clock := newFakeClock()

	v, res := Value(testPolicy(clock), func(attempt int) (int, error) {
		if attempt < 3 {
			return 0, errBusy
		}
		return 42, nil
	})

	assert.True(t, res.OK())
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, res.Attempts)
}

func TestValueZeroOnFailure(t *testing.T) {
	clock := newFakeClock()

	v, res := Value(testPolicy(clock), func(int) (string, error) {
		return "partial", errors.New("boom")
	})

	assert.Equal(t, OutcomeFatal, res.Outcome)
	assert.Empty(t, v)
}

func TestZeroPolicyTreatsEverythingFatal(t *testing.T) {
	calls := 0
	res := Policy{}.Do(func(int) error {
		calls++
		return errBusy
	})

	assert.Equal(t, OutcomeFatal, res.Outcome)
	assert.Equal(t, 1, calls)
}

func TestOnRetryHook(t *testing.T) {
	clock := newFakeClock()
	p := testPolicy(clock)

	var seen []int
	p.OnRetry = func(state State, delay time.Duration, err error) {
		seen = append(seen, state.Attempts)
		assert.ErrorIs(t, err, errBusy)
		assert.Equal(t, DefaultStep*time.Duration(state.Attempts), delay)
	}

	res := p.Do(func(attempt int) error {
		if attempt < 4 {
			return errBusy
		}
		return nil
	})

	require.True(t, res.OK())
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "ok", OutcomeOK.String())
	assert.Equal(t, "fatal", OutcomeFatal.String())
	assert.Equal(t, "exhausted", OutcomeExhausted.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}
