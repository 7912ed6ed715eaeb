// Package retry schedules bounded retries of named fields and escalates when a field keeps
// failing.
package retry

import (
	"sync"
	"time"

	"github.com/adaxion/LibMythicPlus/internal/timer"
	"github.com/cenkalti/backoff/v5"
)

// Policy configures a Group.
type Policy struct {
	// MaxAttempts is the attempt count at which the group escalates instead of retrying.
	MaxAttempts int
	// NewBackOff builds the delay source of one field.
	NewBackOff func() backoff.BackOff
	// Escalate runs after every timer was cancelled and every counter was reset.
	Escalate func()
}

// JitteredDelay returns a back-off constructor yielding delays in
// [delay*(1-jitter), delay*(1+jitter)] without growth.
func JitteredDelay(delay time.Duration, jitter float64) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = delay
		b.MaxInterval = delay
		b.Multiplier = 1
		b.RandomizationFactor = jitter
		b.Reset()
		return b
	}
}

// Group owns the retry state of related fields so they can be cancelled together.
type Group struct {
	policy Policy
	sched  timer.Scheduler

	mu     sync.Mutex
	fields map[string]*field
}

type field struct {
	attempts int
	backOff  backoff.BackOff
	timer    timer.Timer
}

// NewGroup returns a group driven by sched.
func NewGroup(policy Policy, sched timer.Scheduler) *Group {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 5
	}
	if policy.NewBackOff == nil {
		policy.NewBackOff = JitteredDelay(1250*time.Millisecond, 0.2)
	}
	return &Group{
		policy: policy,
		sched:  sched,
		fields: make(map[string]*field),
	}
}

// Retry counts a failed attempt of name. Below the ceiling it schedules fn and returns false.
// At the ceiling it cancels all pending timers, resets every counter, calls Escalate and
// returns true.
func (g *Group) Retry(name string, fn func()) bool {
	g.mu.Lock()
	f := g.field(name)
	f.attempts++
	if f.attempts >= g.policy.MaxAttempts {
		g.resetLocked()
		g.mu.Unlock()
		if g.policy.Escalate != nil {
			g.policy.Escalate()
		}
		return true
	}
	if f.timer != nil {
		f.timer.Stop()
	}
	delay := f.backOff.NextBackOff()
	if delay == backoff.Stop {
		delay = 0
	}
	f.timer = g.sched.AfterFunc(delay, fn)
	g.mu.Unlock()
	return false
}

// Succeeded clears the counter and pending timer of name.
func (g *Group) Succeeded(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.fields[name]
	if !ok {
		return
	}
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.attempts = 0
	f.backOff.Reset()
}

// Attempts returns the current counter of name.
func (g *Group) Attempts(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if f, ok := g.fields[name]; ok {
		return f.attempts
	}
	return 0
}

// Pending reports whether name has a scheduled retry.
func (g *Group) Pending(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.fields[name]
	return ok && f.timer != nil
}

// CancelAll stops every pending timer and resets every counter.
func (g *Group) CancelAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetLocked()
}

func (g *Group) field(name string) *field {
	f, ok := g.fields[name]
	if !ok {
		f = &field{backOff: g.policy.NewBackOff()}
		g.fields[name] = f
	}
	return f
}

func (g *Group) resetLocked() {
	for _, f := range g.fields {
		if f.timer != nil {
			f.timer.Stop()
			f.timer = nil
		}
		f.attempts = 0
		f.backOff.Reset()
	}
}
