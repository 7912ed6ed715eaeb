package retry

import (
	"testing"
	"time"

	"github.com/adaxion/LibMythicPlus/internal/timer"
)

func TestRetryBelowCeilingSchedules(t *testing.T) {
	clock := timer.NewFake(time.Unix(0, 0))
	escalations := 0
	g := NewGroup(Policy{MaxAttempts: 5, Escalate: func() { escalations++ }}, clock)

	runs := 0
	for i := 0; i < 4; i++ {
		if g.Retry("maps", func() { runs++ }) {
			t.Fatalf("attempt %d escalated", i+1)
		}
		clock.Advance(2 * time.Second)
	}
	if runs != 4 {
		t.Fatalf("runs = %d, want 4", runs)
	}
	if escalations != 0 {
		t.Fatalf("escalations = %d", escalations)
	}
	if got := g.Attempts("maps"); got != 4 {
		t.Fatalf("attempts = %d", got)
	}
}

func TestRetryAtCeilingEscalatesOnceAndResets(t *testing.T) {
	clock := timer.NewFake(time.Unix(0, 0))
	escalations := 0
	g := NewGroup(Policy{MaxAttempts: 3, Escalate: func() { escalations++ }}, clock)

	g.Retry("affixes", func() {})
	g.Retry("season", func() {})
	g.Retry("maps", func() {})
	g.Retry("maps", func() {})
	if clock.Pending() != 3 {
		t.Fatalf("pending timers = %d, want one per field", clock.Pending())
	}
	if !g.Retry("maps", func() {}) {
		t.Fatal("third maps attempt should escalate")
	}
	if escalations != 1 {
		t.Fatalf("escalations = %d", escalations)
	}
	if clock.Pending() != 0 {
		t.Fatalf("pending timers after escalation = %d", clock.Pending())
	}
	for _, name := range []string{"season", "affixes", "maps"} {
		if g.Attempts(name) != 0 {
			t.Errorf("%s attempts = %d", name, g.Attempts(name))
		}
		if g.Pending(name) {
			t.Errorf("%s still pending", name)
		}
	}
}

func TestSucceededClearsField(t *testing.T) {
	clock := timer.NewFake(time.Unix(0, 0))
	g := NewGroup(Policy{MaxAttempts: 5}, clock)
	fired := false
	g.Retry("season", func() { fired = true })
	g.Succeeded("season")
	clock.Advance(time.Minute)
	if fired {
		t.Fatal("retry fired after success")
	}
	if g.Attempts("season") != 0 {
		t.Fatalf("attempts = %d", g.Attempts("season"))
	}
}

func TestJitteredDelayStaysInBand(t *testing.T) {
	b := JitteredDelay(1250*time.Millisecond, 0.2)()
	for i := 0; i < 50; i++ {
		d := b.NextBackOff()
		if d < time.Second || d > 1500*time.Millisecond {
			t.Fatalf("delay %v outside [1s, 1.5s]", d)
		}
	}
}
