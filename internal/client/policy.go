package client

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy holds the reconnect schedule. The delay before retry k (1-based)
// is min(Base*2^(k-1), Max) plus a random jitter in [0, Jitter).
type Policy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
	Jitter      time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Base:        time.Second,
		Max:         30 * time.Second,
		MaxAttempts: 10,
		Jitter:      time.Second,
	}
}

// Delay returns the wait before retry k. r must be in [0, 1).
func (p Policy) Delay(k int, r float64) time.Duration {
	if k < 1 {
		k = 1
	}
	d := p.Base
	for i := 1; i < k && d < p.Max; i++ {
		d *= 2
	}
	if d > p.Max {
		d = p.Max
	}
	if p.Jitter > 0 {
		d += time.Duration(r * float64(p.Jitter))
	}
	return d
}

// schedule yields Policy.Delay for consecutive retries with no limit of its
// own; Backoff caps it with backoff.WithMaxRetries.
type schedule struct {
	policy Policy
	rand   func() float64
	k      int
}

func (s *schedule) NextBackOff() time.Duration {
	s.k++
	return s.policy.Delay(s.k, s.rand())
}

func (s *schedule) Reset() { s.k = 0 }

// Backoff walks a Policy one failure at a time. It satisfies
// backoff.BackOff: NextBackOff returns backoff.Stop once MaxAttempts
// consecutive failures have been recorded.
type Backoff struct {
	retries  backoff.BackOff
	attempts int
}

var _ backoff.BackOff = (*Backoff)(nil)

func NewBackoff(p Policy, rnd func() float64) *Backoff {
	if rnd == nil {
		rnd = rand.Float64
	}
	// the failure that exhausts the budget gets no retry
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return &Backoff{
		retries: backoff.WithMaxRetries(&schedule{policy: p, rand: rnd}, uint64(retries)),
	}
}

// NextBackOff records a failure and returns the delay before the next
// attempt, or backoff.Stop when the budget is spent.
func (b *Backoff) NextBackOff() time.Duration {
	b.attempts++
	return b.retries.NextBackOff()
}

func (b *Backoff) Reset() {
	b.attempts = 0
	b.retries.Reset()
}

// Attempts is the number of consecutive failures recorded since the last
// Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}
