// Package retry wraps single bus primitives with bounded exponential backoff
// and jitter.
//
// A Policy is a value; the per-call state (attempt count, backoff, start
// time) lives only for the duration of one Do call.
package retry

import (
	"math/rand/v2"
	"time"

	"robothat-go/errcode"
	"robothat-go/x/mathx"

	"github.com/jpillora/backoff"
)

// Defaults.
const (
	DefaultAttempts = 5
	DefaultInitial  = 10 * time.Millisecond
	DefaultMax      = 200 * time.Millisecond
	DefaultJitter   = 50 * time.Millisecond
	DefaultFactor   = 2
)

// Policy configures retries. The zero value makes a single attempt.
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration // ceiling for a single wait, jitter included
	Jitter      time.Duration // upper bound of the random addition
	Factor      float64

	// Retryable classifies errors. Nil retries everything that is not
	// errcode.Fatal.
	Retryable func(error) bool

	// Sleep and Rand are injectable for tests. Rand returns [0, n).
	Sleep func(time.Duration)
	Rand  func(n time.Duration) time.Duration

	// OnRetry observes every scheduled retry.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Default returns the standard bus policy: 5 attempts, 10 ms initial wait
// doubling up to 200 ms, plus up to 50 ms jitter.
func Default() Policy {
	return Policy{
		MaxAttempts: DefaultAttempts,
		Initial:     DefaultInitial,
		Max:         DefaultMax,
		Jitter:      DefaultJitter,
		Factor:      DefaultFactor,
	}
}

// Once is a policy that never retries.
func Once() Policy { return Policy{MaxAttempts: 1} }

// state is the per-call retry state.
type state struct {
	attempt int
	wait    time.Duration
	start   time.Time
	b       backoff.Backoff
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. The returned error is the last one op produced,
// unchanged.
func (p Policy) Do(op func() error) error {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	st := state{
		start: time.Now(),
		b: backoff.Backoff{
			Min:    p.initial(),
			Max:    p.ceiling(),
			Factor: p.factor(),
		},
	}
	for {
		st.attempt++
		err := op()
		if err == nil {
			return nil
		}
		if st.attempt >= max || !p.retryable(err) {
			return err
		}
		st.wait = p.nextWait(&st)
		if p.OnRetry != nil {
			p.OnRetry(st.attempt, err, st.wait)
		}
		p.sleep(st.wait)
	}
}

// Value is Do for operations that return a result.
func Value[T any](p Policy, op func() (T, error)) (T, error) {
	var out T
	err := p.Do(func() error {
		v, err := op()
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

// WorstCase bounds the cumulative backoff of one call, excluding the time
// spent inside op itself.
func (p Policy) WorstCase() time.Duration {
	var total time.Duration
	b := backoff.Backoff{Min: p.initial(), Max: p.ceiling(), Factor: p.factor()}
	for i := 1; i < p.MaxAttempts; i++ {
		total += mathx.Min(b.Duration()+p.Jitter, p.ceiling())
	}
	return total
}

func (p Policy) nextWait(st *state) time.Duration {
	d := st.b.Duration()
	if p.Jitter > 0 {
		d += p.rand(p.Jitter)
	}
	return mathx.Clamp(d, 0, p.ceiling())
}

func (p Policy) retryable(err error) bool {
	if errcode.Fatal(err) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

func (p Policy) initial() time.Duration {
	if p.Initial <= 0 {
		return DefaultInitial
	}
	return p.Initial
}

func (p Policy) ceiling() time.Duration {
	if p.Max <= 0 {
		return DefaultMax
	}
	return p.Max
}

func (p Policy) factor() float64 {
	if p.Factor <= 1 {
		return DefaultFactor
	}
	return p.Factor
}

func (p Policy) sleep(d time.Duration) {
	if p.Sleep != nil {
		p.Sleep(d)
		return
	}
	if d > 0 {
		time.Sleep(d)
	}
}

func (p Policy) rand(n time.Duration) time.Duration {
	if p.Rand != nil {
		return p.Rand(n)
	}
	return rand.N(n)
}
