package season

import (
	"fmt"
	"sync"

	"github.com/adaxion/LibMythicPlus/internal/eventbus"
	"github.com/adaxion/LibMythicPlus/internal/model"
	"github.com/sirupsen/logrus"
)

// Gate turns the loader's progress into a single ready decision.
type Gate struct {
	bus    *eventbus.Bus
	loader *Loader
	logger *logrus.Logger

	mu    sync.Mutex
	fired bool
	last  eventbus.Ready
}

// NewGate watches loader through bus.
func NewGate(bus *eventbus.Bus, loader *Loader, logger *logrus.Logger) *Gate {
	if logger == nil {
		logger = logrus.New()
	}
	g := &Gate{bus: bus, loader: loader, logger: logger}
	bus.SeasonIDLoaded.Subscribe(func(int) { g.evaluate() })
	bus.AffixesLoaded.Subscribe(func(_ []model.Affix) { g.evaluate() })
	bus.MapsLoaded.Subscribe(func(_ map[int]model.MapInfo) { g.evaluate() })
	loader.OnStateChange(g.evaluate)
	return g
}

// OnReady delivers the ready result to h once. If the gate already fired, h runs immediately
// before OnReady returns.
func (g *Gate) OnReady(h func(eventbus.Ready)) eventbus.Unsubscribe {
	g.mu.Lock()
	if g.fired {
		ready := g.last
		g.mu.Unlock()
		g.deliver(h, ready)
		return func() {}
	}
	defer g.mu.Unlock()
	return g.bus.ApiReady.Subscribe(h)
}

// IsReady reports whether the current cycle has fired.
func (g *Gate) IsReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fired
}

// Ready returns the last delivered result and whether the current cycle has fired.
func (g *Gate) Ready() (eventbus.Ready, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last, g.fired
}

func (g *Gate) evaluate() {
	season, status := g.loader.Season()

	g.mu.Lock()
	if !status.Complete() && !status.Unavailable {
		if g.fired {
			g.logger.Info("season: Gate - reference data discarded, readiness re-armed")
		}
		g.fired = false
		g.last = eventbus.Ready{}
		g.mu.Unlock()
		return
	}
	if g.fired {
		g.mu.Unlock()
		return
	}
	ready := eventbus.Ready{Available: !status.Unavailable}
	if ready.Available {
		ready.Season = &season
	}
	g.fired = true
	g.last = ready
	g.mu.Unlock()

	g.logger.WithField("available", ready.Available).Info("season: Gate - reference data ready")
	g.bus.ApiReady.Publish(ready)
}

func (g *Gate) deliver(h func(eventbus.Ready), ready eventbus.Ready) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.WithField("panic", fmt.Sprint(r)).Error("season: OnReady - handler failed")
		}
	}()
	h(ready)
}
