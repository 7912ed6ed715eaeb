// Package zone turns bursts of zone-changed signals into one presence check.
package zone

import (
	"context"
	"sync"
	"time"

	"github.com/adaxion/LibMythicPlus/internal/host"
	"github.com/adaxion/LibMythicPlus/internal/model"
	"github.com/adaxion/LibMythicPlus/internal/timer"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is the quiet period after the last zone change before presence is checked.
const DefaultDebounce = 2 * time.Second

// Locator reports where the local player is.
type Locator interface {
	CurrentZone(ctx context.Context) (host.Zone, error)
}

// Sessions is the part of the session machine the watcher drives.
type Sessions interface {
	Current() (model.Session, bool)
	IsActiveAndPresent() bool
	LeaveInstance() bool
}

// Watcher debounces zone changes and reports leaving the run's instance.
type Watcher struct {
	locator  Locator
	sessions Sessions
	sched    timer.Scheduler
	debounce time.Duration
	logger   *logrus.Logger

	mu      sync.Mutex
	pending timer.Timer
	checks  int
}

// NewWatcher creates a watcher. A zero debounce means DefaultDebounce.
func NewWatcher(locator Locator, sessions Sessions, sched timer.Scheduler, debounce time.Duration, logger *logrus.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Watcher{
		locator:  locator,
		sessions: sessions,
		sched:    sched,
		debounce: debounce,
		logger:   logger,
	}
}

// HandleZoneChanged restarts the debounce window.
func (w *Watcher) HandleZoneChanged(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = w.sched.AfterFunc(w.debounce, func() { w.check(ctx) })
}

// Checks returns how many debounced checks ran.
func (w *Watcher) Checks() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.checks
}

func (w *Watcher) check(ctx context.Context) {
	w.mu.Lock()
	w.pending = nil
	w.checks++
	w.mu.Unlock()

	s, ok := w.sessions.Current()
	if !ok || !w.sessions.IsActiveAndPresent() {
		return
	}
	zone, err := w.locator.CurrentZone(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("zone: check - current zone unavailable")
		return
	}
	if zone.InInstance && zone.MapID == s.Keystone.MapID {
		return
	}
	w.logger.WithFields(logrus.Fields{
		"mapId":     zone.MapID,
		"runMapId":  s.Keystone.MapID,
		"instanced": zone.InInstance,
	}).Debug("zone: check - player outside run instance")
	w.sessions.LeaveInstance()
}
