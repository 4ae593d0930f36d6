package auth

import (
	"sync"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/transport"
	"github.com/autopeer-io/fordpass-bridge/internal/pkg/metrics"
)

// MaxUnauthorized is the number of consecutive unauthorized responses
// tolerated before re-authentication is required.
const MaxUnauthorized = 10

type counterKey struct {
	subject string
	family  transport.Family
}

// CounterRegistry counts consecutive unauthorized responses per subject and
// token family. It is safe for concurrent use.
type CounterRegistry struct {
	mu     sync.Mutex
	counts map[counterKey]int
}

func NewCounterRegistry() *CounterRegistry {
	return &CounterRegistry{counts: make(map[counterKey]int)}
}

// Increment adds one to the counter and returns the new count.
func (r *CounterRegistry) Increment(subject string, family transport.Family) int {
	return r.update(subject, family, func(n int) int { return n + 1 })
}

// Escalate sets the counter past MaxUnauthorized.
func (r *CounterRegistry) Escalate(subject string, family transport.Family) int {
	return r.update(subject, family, func(int) int { return MaxUnauthorized + 1 })
}

func (r *CounterRegistry) Reset(subject string, family transport.Family) {
	r.update(subject, family, func(int) int { return 0 })
}

// ResetAll clears every family of subject.
func (r *CounterRegistry) ResetAll(subject string) {
	r.Reset(subject, transport.FamilyFord)
	r.Reset(subject, transport.FamilyAutonomic)
}

func (r *CounterRegistry) Get(subject string, family transport.Family) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[counterKey{subject, family}]
}

func (r *CounterRegistry) update(subject string, family transport.Family, fn func(int) int) int {
	r.mu.Lock()
	k := counterKey{subject, family}
	n := fn(r.counts[k])
	if n == 0 {
		delete(r.counts, k)
	} else {
		r.counts[k] = n
	}
	r.mu.Unlock()

	metrics.UnauthorizedCount.WithLabelValues(subject, family.String()).Set(float64(n))
	return n
}

// Exceeded reports whether n is past the tolerated count.
func Exceeded(n int) bool { return n > MaxUnauthorized }
