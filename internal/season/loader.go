// Package season loads the read-only seasonal reference data and reports when it is ready.
package season

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/adaxion/LibMythicPlus/internal/eventbus"
	"github.com/adaxion/LibMythicPlus/internal/host"
	"github.com/adaxion/LibMythicPlus/internal/model"
	"github.com/adaxion/LibMythicPlus/internal/retry"
	"github.com/adaxion/LibMythicPlus/internal/timer"
	"github.com/sirupsen/logrus"
)

// Field names used for retry bookkeeping.
const (
	FieldSeasonID = "seasonId"
	FieldAffixes  = "affixes"
	FieldMaps     = "maps"
)

var (
	// ErrNotRequested is returned when a field is loaded before the request batch was issued.
	ErrNotRequested = errors.New("season: request batch not issued")
	// ErrAffixesPending is returned when affixes are loaded before the host announced them.
	ErrAffixesPending = errors.New("season: affix data not announced")
	errMalformed      = errors.New("season: malformed result")
)

// Source is the part of the host the loader queries.
type Source interface {
	RequestMapInfo(ctx context.Context) error
	RequestCurrentAffixes(ctx context.Context) error
	RequestRewards(ctx context.Context) error
	CurrentSeason(ctx context.Context) (host.SeasonInfo, error)
	CurrentAffixIDs(ctx context.Context) ([]int, error)
	AffixDetail(ctx context.Context, id int) (model.Affix, error)
	MapIDs(ctx context.Context) ([]int, error)
	MapDetail(ctx context.Context, id int) (model.MapInfo, error)
}

// Options tunes the retry behaviour of a Loader.
type Options struct {
	Retry retry.Policy
}

// Status reports which fields are loaded.
type Status struct {
	SeasonID    bool
	Affixes     bool
	Maps        bool
	Unavailable bool
	Escalations int
}

// Complete reports whether every field is loaded.
func (s Status) Complete() bool {
	return s.SeasonID && s.Affixes && s.Maps
}

// Loader fetches the season id, affixes and maps, retrying each independently.
type Loader struct {
	src     Source
	bus     *eventbus.Bus
	retries *retry.Group
	logger  *logrus.Logger

	mu            sync.Mutex
	ctx           context.Context
	requested     bool
	affixNotified bool
	status        Status
	season        model.Season
	onChange      []func()
}

// NewLoader creates a loader. Escalation in opts.Retry is replaced by the loader's own.
func NewLoader(src Source, bus *eventbus.Bus, sched timer.Scheduler, opts Options, logger *logrus.Logger) *Loader {
	if logger == nil {
		logger = logrus.New()
	}
	l := &Loader{
		src:    src,
		bus:    bus,
		logger: logger,
		ctx:    context.Background(),
	}
	policy := opts.Retry
	policy.Escalate = l.escalate
	l.retries = retry.NewGroup(policy, sched)
	return l
}

// OnStateChange registers fn to run when availability becomes known or loaded data is discarded.
func (l *Loader) OnStateChange(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Start issues the request batch and begins loading. ctx is kept for scheduled retries.
func (l *Loader) Start(ctx context.Context) {
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()
	l.fetchAll(ctx)
}

// HandleAffixDataUpdated records the host's affix announcement and loads the affixes.
func (l *Loader) HandleAffixDataUpdated(ctx context.Context) {
	l.mu.Lock()
	l.affixNotified = true
	l.mu.Unlock()
	if err := l.LoadAffixes(ctx); err != nil && !errors.Is(err, ErrNotRequested) {
		l.logger.WithError(err).Debug("season: HandleAffixDataUpdated - affixes not loaded yet")
	}
}

// Season returns a copy of the loaded data and the load status.
func (l *Loader) Season() (model.Season, Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.season.Clone(), l.status
}

// Attempts returns the retry counter of a field.
func (l *Loader) Attempts(field string) int {
	return l.retries.Attempts(field)
}

// LoadSeasonID loads the season identifier.
func (l *Loader) LoadSeasonID(ctx context.Context) error {
	l.mu.Lock()
	requested, done := l.requested, l.status.SeasonID || l.status.Unavailable
	l.mu.Unlock()
	if !requested {
		return ErrNotRequested
	}
	if done {
		return nil
	}

	info, err := l.src.CurrentSeason(ctx)
	if err == nil && !info.Available {
		l.markUnavailable()
		return nil
	}
	if err == nil && info.ID <= 0 {
		err = fmt.Errorf("%w: season id %d", errMalformed, info.ID)
	}
	if err != nil {
		return l.retry(FieldSeasonID, err, l.LoadSeasonID)
	}

	l.mu.Lock()
	if l.status.SeasonID {
		l.mu.Unlock()
		return nil
	}
	l.season.ID = info.ID
	l.season.Description = info.Description
	for i := range l.season.Affixes {
		if l.season.Affixes[i].SeasonID == 0 {
			l.season.Affixes[i].SeasonID = info.ID
		}
	}
	l.status.SeasonID = true
	l.mu.Unlock()

	l.retries.Succeeded(FieldSeasonID)
	l.logger.WithField("seasonId", info.ID).Info("season: LoadSeasonID - season loaded")
	l.bus.SeasonIDLoaded.Publish(info.ID)
	return nil
}

// LoadAffixes loads the affix rotation. It needs the host announcement first.
func (l *Loader) LoadAffixes(ctx context.Context) error {
	l.mu.Lock()
	requested, notified, done := l.requested, l.affixNotified, l.status.Affixes || l.status.Unavailable
	seasonID := l.season.ID
	l.mu.Unlock()
	if !requested {
		return ErrNotRequested
	}
	if !notified {
		return ErrAffixesPending
	}
	if done {
		return nil
	}

	affixes, err := l.fetchAffixes(ctx, seasonID)
	if err != nil {
		return l.retry(FieldAffixes, err, l.LoadAffixes)
	}

	l.mu.Lock()
	if l.status.Affixes {
		l.mu.Unlock()
		return nil
	}
	if l.season.ID != 0 {
		for i := range affixes {
			if affixes[i].SeasonID == 0 {
				affixes[i].SeasonID = l.season.ID
			}
		}
	}
	l.season.Affixes = affixes
	l.status.Affixes = true
	l.mu.Unlock()

	l.retries.Succeeded(FieldAffixes)
	l.logger.WithField("count", len(affixes)).Info("season: LoadAffixes - affixes loaded")
	l.bus.AffixesLoaded.Publish(append([]model.Affix(nil), affixes...))
	return nil
}

// LoadMaps loads the map pool.
func (l *Loader) LoadMaps(ctx context.Context) error {
	l.mu.Lock()
	requested, done := l.requested, l.status.Maps || l.status.Unavailable
	l.mu.Unlock()
	if !requested {
		return ErrNotRequested
	}
	if done {
		return nil
	}

	maps, err := l.fetchMaps(ctx)
	if err != nil {
		return l.retry(FieldMaps, err, l.LoadMaps)
	}

	l.mu.Lock()
	if l.status.Maps {
		l.mu.Unlock()
		return nil
	}
	l.season.Maps = maps
	l.status.Maps = true
	l.mu.Unlock()

	l.retries.Succeeded(FieldMaps)
	l.logger.WithField("count", len(maps)).Info("season: LoadMaps - maps loaded")
	out := make(map[int]model.MapInfo, len(maps))
	for id, m := range maps {
		out[id] = m
	}
	l.bus.MapsLoaded.Publish(out)
	return nil
}

func (l *Loader) fetchAffixes(ctx context.Context, seasonID int) ([]model.Affix, error) {
	ids, err := l.src.CurrentAffixIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: empty affix list", errMalformed)
	}
	affixes := make([]model.Affix, 0, len(ids))
	for _, id := range ids {
		affix, err := l.src.AffixDetail(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("affix %d: %w", id, err)
		}
		if affix.ID == 0 {
			affix.ID = id
		}
		if affix.SeasonID == 0 {
			affix.SeasonID = seasonID
		}
		affixes = append(affixes, affix)
	}
	return affixes, nil
}

func (l *Loader) fetchMaps(ctx context.Context) (map[int]model.MapInfo, error) {
	ids, err := l.src.MapIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: empty map list", errMalformed)
	}
	maps := make(map[int]model.MapInfo, len(ids))
	for _, id := range ids {
		info, err := l.src.MapDetail(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("map %d: %w", id, err)
		}
		if info.ID == 0 {
			info.ID = id
		}
		maps[id] = info
	}
	return maps, nil
}

// retry schedules load again unless the failure escalated the whole batch.
func (l *Loader) retry(field string, cause error, load func(context.Context) error) error {
	entry := l.logger.WithError(cause).WithField("field", field)
	escalated := l.retries.Retry(field, func() {
		l.mu.Lock()
		ctx := l.ctx
		l.mu.Unlock()
		if err := load(ctx); err != nil && !errors.Is(err, host.ErrNotReady) {
			l.logger.WithError(err).WithField("field", field).Debug("season: retry - load failed")
		}
	})
	if escalated {
		entry.Warn("season: retry - attempt ceiling reached, full refetch issued")
	} else {
		entry.WithField("attempt", l.retries.Attempts(field)).Debug("season: retry - not ready, retry scheduled")
	}
	return fmt.Errorf("season: load %s: %w", field, cause)
}

// escalate runs after the retry group cancelled every timer and reset every counter.
func (l *Loader) escalate() {
	l.mu.Lock()
	l.status = Status{Escalations: l.status.Escalations + 1}
	l.season = model.Season{}
	l.requested = false
	ctx := l.ctx
	hooks := append([]func(){}, l.onChange...)
	l.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	l.fetchAll(ctx)
}

func (l *Loader) markUnavailable() {
	l.mu.Lock()
	l.status.Unavailable = true
	hooks := append([]func(){}, l.onChange...)
	l.mu.Unlock()

	l.retries.CancelAll()
	l.logger.Info("season: LoadSeasonID - no activity available this season")
	for _, fn := range hooks {
		fn()
	}
}

func (l *Loader) fetchAll(ctx context.Context) {
	l.requestAll(ctx)
	// Loads that fail schedule their own retries; an escalation inside one of them
	// restarts fetchAll, so later loads are skipped once the batch is reissued.
	l.mu.Lock()
	escalations := l.status.Escalations
	l.mu.Unlock()
	steps := []func(context.Context) error{l.LoadSeasonID, l.LoadMaps, l.loadAffixesIfAnnounced}
	for _, step := range steps {
		_ = step(ctx)
		l.mu.Lock()
		restarted := l.status.Escalations != escalations
		l.mu.Unlock()
		if restarted {
			return
		}
	}
}

func (l *Loader) loadAffixesIfAnnounced(ctx context.Context) error {
	l.mu.Lock()
	notified := l.affixNotified
	l.mu.Unlock()
	if !notified {
		return nil
	}
	return l.LoadAffixes(ctx)
}

func (l *Loader) requestAll(ctx context.Context) {
	requests := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"RequestMapInfo", l.src.RequestMapInfo},
		{"RequestCurrentAffixes", l.src.RequestCurrentAffixes},
		{"RequestRewards", l.src.RequestRewards},
	}
	for _, r := range requests {
		if err := r.fn(ctx); err != nil {
			l.logger.WithError(err).WithField("request", r.name).Warn("season: requestAll - request failed")
		}
	}
	l.mu.Lock()
	l.requested = true
	l.mu.Unlock()
}
