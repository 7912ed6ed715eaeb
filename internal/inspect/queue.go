// Package inspect serialises the host's one-at-a-time unit inspections for party members.
package inspect

import (
	"context"
	"sync"
	"time"

	"github.com/adaxion/LibMythicPlus/internal/host"
	"github.com/adaxion/LibMythicPlus/internal/model"
	"github.com/adaxion/LibMythicPlus/internal/timer"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout is how long an inspection may stay outstanding.
const DefaultTimeout = 5 * time.Second

// Host issues inspection commands and returns their results.
type Host interface {
	RequestInspect(ctx context.Context, unit string) error
	ClearInspect(ctx context.Context) error
	Inspect(ctx context.Context, id string) (host.InspectResult, error)
}

// Sessions is the view of the active run the queue fills.
type Sessions interface {
	Current() (model.Session, bool)
	UpdateMember(ctx context.Context, id string, result host.InspectResult) bool
}

type target struct {
	unit string
	id   string
}

// Queue is a FIFO of pending inspections with at most one request outstanding.
type Queue struct {
	host     Host
	sessions Sessions
	sched    timer.Scheduler
	timeout  time.Duration
	logger   *logrus.Logger

	mu          sync.Mutex
	pending     []target
	outstanding *target
	deadline    timer.Timer
}

// NewQueue creates an empty queue. A zero timeout means DefaultTimeout.
func NewQueue(h Host, sessions Sessions, sched timer.Scheduler, timeout time.Duration, logger *logrus.Logger) *Queue {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Queue{
		host:     h,
		sessions: sessions,
		sched:    sched,
		timeout:  timeout,
		logger:   logger,
	}
}

// Enqueue appends a member and dispatches it if nothing is outstanding.
func (q *Queue) Enqueue(ctx context.Context, member model.PartyMember) {
	q.mu.Lock()
	q.pending = append(q.pending, target{unit: member.Unit, id: member.ID})
	q.mu.Unlock()
	q.PopAndDispatch(ctx)
}

// Reset drops every pending entry. An outstanding request stays outstanding until it resolves.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Outstanding returns the id of the unit being inspected.
func (q *Queue) Outstanding() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.outstanding == nil {
		return "", false
	}
	return q.outstanding.id, true
}

// PopAndDispatch issues the host request for the head of the queue unless one is outstanding.
func (q *Queue) PopAndDispatch(ctx context.Context) {
	for {
		q.mu.Lock()
		if q.outstanding != nil || len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.outstanding = &next
		q.mu.Unlock()

		if err := q.host.RequestInspect(ctx, next.unit); err != nil {
			q.logger.WithError(err).WithField("unit", next.unit).Warn("inspect: PopAndDispatch - request failed")
			q.mu.Lock()
			q.outstanding = nil
			q.mu.Unlock()
			continue
		}

		q.mu.Lock()
		if q.outstanding != nil && q.outstanding.id == next.id {
			q.deadline = q.sched.AfterFunc(q.timeout, func() { q.expire(next.id) })
		}
		q.mu.Unlock()
		return
	}
}

// HandleInspectReady consumes the host's inspect-ready notification for id. A notification for
// another unit while a request is outstanding leaves the host's focus and the queue untouched.
func (q *Queue) HandleInspectReady(ctx context.Context, id string) {
	q.mu.Lock()
	foreign := q.outstanding != nil && q.outstanding.id != id
	if q.outstanding != nil && !foreign {
		q.release()
	}
	q.mu.Unlock()

	if _, ok := q.sessions.Current(); !ok {
		q.logger.WithField("guid", id).Debug("inspect: HandleInspectReady - no active session, discarded")
	} else {
		q.apply(ctx, id)
	}

	if foreign {
		q.logger.WithField("guid", id).Debug("inspect: HandleInspectReady - not the outstanding request, focus kept")
		return
	}
	if err := q.host.ClearInspect(ctx); err != nil {
		q.logger.WithError(err).Warn("inspect: HandleInspectReady - clear inspect failed")
	}
	q.PopAndDispatch(ctx)
}

func (q *Queue) apply(ctx context.Context, id string) {
	s, _ := q.sessions.Current()
	if _, ok := s.Member(id); !ok {
		q.logger.WithField("guid", id).Debug("inspect: HandleInspectReady - not a party member")
		return
	}
	result, err := q.host.Inspect(ctx, id)
	if err != nil {
		q.logger.WithError(err).WithField("guid", id).Warn("inspect: HandleInspectReady - inspect data unavailable")
		return
	}
	if q.sessions.UpdateMember(ctx, id, result) {
		q.logger.WithFields(logrus.Fields{
			"guid":      id,
			"spec":      result.Spec,
			"itemLevel": result.ItemLevel,
		}).Debug("inspect: HandleInspectReady - member inspected")
	}
}

func (q *Queue) expire(id string) {
	q.mu.Lock()
	if q.outstanding == nil || q.outstanding.id != id {
		q.mu.Unlock()
		return
	}
	q.release()
	q.mu.Unlock()

	ctx := context.Background()
	q.logger.WithField("guid", id).Warn("inspect: expire - inspection timed out")
	if err := q.host.ClearInspect(ctx); err != nil {
		q.logger.WithError(err).Warn("inspect: expire - clear inspect failed")
	}
	q.PopAndDispatch(ctx)
}

// release must be called with q.mu held.
func (q *Queue) release() {
	q.outstanding = nil
	if q.deadline != nil {
		q.deadline.Stop()
		q.deadline = nil
	}
}
