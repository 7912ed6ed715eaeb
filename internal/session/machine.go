// Package session owns the active run of the local player and its transitions.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adaxion/LibMythicPlus/internal/eventbus"
	"github.com/adaxion/LibMythicPlus/internal/host"
	"github.com/adaxion/LibMythicPlus/internal/model"
	"github.com/adaxion/LibMythicPlus/internal/season"
	"github.com/adaxion/LibMythicPlus/internal/store"
	"github.com/adaxion/LibMythicPlus/internal/timer"
	"github.com/sirupsen/logrus"
)

// ErrNoActiveSession is the panic value of a transition that needs an active run.
var ErrNoActiveSession = errors.New("session: no active session")

// Abandon reasons.
const (
	ReasonInstanceReset      = "InstanceReset"
	ReasonPeerInstanceReset  = "PeerInstanceReset"
	ReasonChallengeModeReset = "ChallengeModeReset"
)

// ResultAbandoned is the result of every abandoned run.
const ResultAbandoned = -1

// GuildPartyThreshold is how many members must share the local guild for a guild party.
const GuildPartyThreshold = 3

// Host is the part of the game client the machine queries.
type Host interface {
	ActiveKeystone(ctx context.Context) (host.ActiveKeystone, error)
	OwnedKeystone(ctx context.Context) (model.OwnedKeystone, error)
	SlottedKeystone(ctx context.Context) (model.SlottedKeystone, error)
	CompletionInfo(ctx context.Context) (model.CompletionInfo, error)
	DeathCount(ctx context.Context) (host.DeathCount, error)
	GroupUnits(ctx context.Context) ([]string, error)
	UnitInfo(ctx context.Context, unit string) (model.PartyMember, error)
	Inspect(ctx context.Context, id string) (host.InspectResult, error)
}

// SeasonReader exposes the loaded reference data.
type SeasonReader interface {
	Season() (model.Season, season.Status)
}

// Store persists the run of one character.
type Store interface {
	LoadActive(ctx context.Context, characterID string) (*model.Session, error)
	SaveActive(ctx context.Context, characterID string, session model.Session) error
	FinishActive(ctx context.Context, characterID string, session model.Session) error
}

// Archiver keeps finished runs.
type Archiver interface {
	Archive(ctx context.Context, characterID string, session model.Session) error
}

// Inspector enriches remote party members asynchronously.
type Inspector interface {
	Reset()
	Enqueue(ctx context.Context, member model.PartyMember)
}

// Options holds the optional collaborators of a Machine.
type Options struct {
	Scheduler timer.Scheduler
	Store     Store
	Archiver  Archiver
	Inspector Inspector
}

// Machine is the single writer of the active-run slot.
type Machine struct {
	host      Host
	seasons   SeasonReader
	bus       *eventbus.Bus
	sched     timer.Scheduler
	store     Store
	archiver  Archiver
	inspector Inspector
	logger    *logrus.Logger

	mu          sync.Mutex
	characterID string
	active      *model.Session
	present     bool
}

// New creates an idle machine.
func New(h Host, seasons SeasonReader, bus *eventbus.Bus, opts Options, logger *logrus.Logger) *Machine {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = timer.System{}
	}
	m := &Machine{
		host:      h,
		seasons:   seasons,
		bus:       bus,
		sched:     opts.Scheduler,
		store:     opts.Store,
		archiver:  opts.Archiver,
		inspector: opts.Inspector,
		logger:    logger,
	}
	bus.SeasonIDLoaded.Subscribe(func(int) { m.refreshKeystone() })
	bus.AffixesLoaded.Subscribe(func([]model.Affix) { m.refreshKeystone() })
	bus.MapsLoaded.Subscribe(func(map[int]model.MapInfo) { m.refreshKeystone() })
	return m
}

// refreshKeystone fills the active run's keystone with season data that arrived after it
// started. Fields already derived are kept when the season reloads piecewise.
func (m *Machine) refreshKeystone() {
	seasonData, _ := m.seasons.Season()

	m.mu.Lock()
	if m.active == nil {
		m.mu.Unlock()
		return
	}
	k, changed := mergeKeystone(m.active.Keystone, BuildKeystone(seasonData, m.active.Keystone.Level, m.active.Keystone.MapID))
	if !changed {
		m.mu.Unlock()
		return
	}
	m.active.Keystone = k
	snap := m.active.Clone()
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"seasonId": k.SeasonID,
		"affixes":  len(k.Affixes),
		"mapName":  k.MapName,
	}).Info("session: refreshKeystone - keystone completed from season data")
	m.save(context.Background(), snap)
}

// SetInspector attaches the inspector. It exists because the inspector needs the machine too.
func (m *Machine) SetInspector(i Inspector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inspector = i
}

// Restore binds the machine to a character and reloads its persisted run, if any.
func (m *Machine) Restore(ctx context.Context, characterID string) error {
	m.mu.Lock()
	m.characterID = characterID
	m.mu.Unlock()
	if m.store == nil {
		return nil
	}

	s, err := m.store.LoadActive(ctx, characterID)
	if errors.Is(err, store.ErrCacheMiss) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("session: restore %s: %w", characterID, err)
	}

	m.mu.Lock()
	if m.active == nil {
		m.active = s
		m.present = false
	}
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"character": characterID,
		"level":     s.Keystone.Level,
		"mapId":     s.Keystone.MapID,
	}).Info("session: Restore - in-progress run restored")
	return nil
}

// Start handles the host's activity-started signal. With a run already active it is a
// re-entry and the existing run is republished instead.
func (m *Machine) Start(ctx context.Context) (model.Session, error) {
	if snap, ok := m.reenter(); ok {
		return snap, nil
	}

	s, err := m.build(ctx)
	if err != nil {
		return model.Session{}, fmt.Errorf("session: start: %w", err)
	}

	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		snap, _ := m.reenter()
		return snap, nil
	}
	m.active = &s
	m.present = true
	snap := s.Clone()
	inspector := m.inspector
	m.mu.Unlock()

	m.save(ctx, snap)
	m.logger.WithFields(logrus.Fields{
		"level":   snap.Keystone.Level,
		"mapId":   snap.Keystone.MapID,
		"members": len(snap.Party),
	}).Info("session: Start - session started")
	m.bus.SessionStarted.Publish(snap)

	if inspector != nil {
		inspector.Reset()
		for _, member := range snap.Party[1:] {
			inspector.Enqueue(ctx, member)
		}
	}
	return snap, nil
}

func (m *Machine) reenter() (model.Session, bool) {
	m.mu.Lock()
	if m.active == nil {
		m.mu.Unlock()
		return model.Session{}, false
	}
	m.present = true
	snap := m.active.Clone()
	m.mu.Unlock()

	m.logger.WithField("mapId", snap.Keystone.MapID).Info("session: Start - instance re-entered")
	m.bus.InstanceReentered.Publish(snap)
	return snap, true
}

func (m *Machine) build(ctx context.Context) (model.Session, error) {
	active, err := m.host.ActiveKeystone(ctx)
	if err != nil {
		return model.Session{}, fmt.Errorf("active keystone: %w", err)
	}
	seasonData, _ := m.seasons.Season()

	local, err := m.host.UnitInfo(ctx, host.LocalUnit)
	if err != nil {
		return model.Session{}, fmt.Errorf("local unit: %w", err)
	}
	local.Unit = host.LocalUnit
	if result, err := m.host.Inspect(ctx, local.ID); err != nil {
		m.logger.WithError(err).Warn("session: Start - local spec unavailable")
	} else {
		fill(&local, result)
	}

	party := []model.PartyMember{local}
	units, err := m.host.GroupUnits(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("session: Start - group membership unavailable")
	}
	for _, unit := range units {
		if unit == host.LocalUnit || len(party) == model.MaxPartySize {
			continue
		}
		member, err := m.host.UnitInfo(ctx, unit)
		if err != nil {
			m.logger.WithError(err).WithField("unit", unit).Warn("session: Start - party member skipped")
			continue
		}
		member.Unit = unit
		party = append(party, member)
	}

	return model.Session{
		Keystone:     BuildKeystone(seasonData, active.Level, active.MapID),
		Party:        party,
		StartedAt:    m.sched.Now(),
		IsGuildParty: isGuildParty(party),
	}, nil
}

func isGuildParty(party []model.PartyMember) bool {
	guild := party[0].GuildName
	if guild == "" {
		return false
	}
	n := 0
	for _, member := range party {
		if member.GuildName == guild {
			n++
		}
	}
	return n >= GuildPartyThreshold
}

// Complete handles the host's activity-completed signal. It panics when no run is active.
func (m *Machine) Complete(ctx context.Context) model.Session {
	m.mustBeActive("Complete")

	info, err := m.host.CompletionInfo(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("session: Complete - completion info unavailable")
	}

	s, ok := m.finish(ctx, func(s *model.Session, now time.Time) {
		s.FinishedAt = &now
		s.IsCompleted = true
		if err == nil {
			result := info.UpgradeLevels
			c := info
			s.Result = &result
			s.Completion = &c
		}
	})
	if !ok {
		panic(fmt.Errorf("session: Complete: %w", ErrNoActiveSession))
	}

	entry := m.logger.WithField("level", s.Keystone.Level)
	if s.Result != nil {
		entry = entry.WithFields(logrus.Fields{"result": *s.Result, "onTime": info.OnTime})
	}
	entry.Info("session: Complete - session completed")
	m.bus.SessionCompleted.Publish(s)
	return s
}

// Abandon ends the active run without completion. It panics when no run is active.
func (m *Machine) Abandon(ctx context.Context, reason string) model.Session {
	s, ok := m.abandon(ctx, reason)
	if !ok {
		panic(fmt.Errorf("session: Abandon: %w", ErrNoActiveSession))
	}
	return s
}

// AbandonActive abandons the active run if there is one.
func (m *Machine) AbandonActive(ctx context.Context, reason string) (model.Session, bool) {
	return m.abandon(ctx, reason)
}

// Reset handles the host's reset signal. An active run is abandoned; without one only
// OnSessionReset fires.
func (m *Machine) Reset(ctx context.Context) {
	if _, ok := m.abandon(ctx, ReasonChallengeModeReset); ok {
		return
	}
	m.logger.Debug("session: Reset - reset without active session")
	m.bus.SessionReset.Publish(struct{}{})
}

func (m *Machine) abandon(ctx context.Context, reason string) (model.Session, bool) {
	s, ok := m.finish(ctx, func(s *model.Session, now time.Time) {
		result := ResultAbandoned
		r := reason
		s.FinishedAt = &now
		s.Result = &result
		s.Reason = &r
		s.IsCompleted = false
	})
	if !ok {
		return model.Session{}, false
	}

	m.logger.WithFields(logrus.Fields{
		"level":  s.Keystone.Level,
		"reason": reason,
	}).Info("session: Abandon - session abandoned")
	m.bus.SessionAbandoned.Publish(s)
	return s, true
}

// finish stamps the active run and clears the slot in one step, then persists the result.
func (m *Machine) finish(ctx context.Context, stamp func(*model.Session, time.Time)) (model.Session, bool) {
	m.mu.Lock()
	if m.active == nil {
		m.mu.Unlock()
		return model.Session{}, false
	}
	s := m.active.Clone()
	stamp(&s, m.sched.Now())
	m.active = nil
	m.present = false
	characterID := m.characterID
	m.mu.Unlock()

	m.finishStored(ctx, characterID, s)
	return s, true
}

// RecordDeath handles the host's death-count signal. It panics when no run is active.
func (m *Machine) RecordDeath(ctx context.Context) (model.Session, error) {
	m.mustBeActive("RecordDeath")

	count, err := m.host.DeathCount(ctx)
	if err != nil {
		return model.Session{}, fmt.Errorf("session: death count: %w", err)
	}

	m.mu.Lock()
	if m.active == nil {
		m.mu.Unlock()
		panic(fmt.Errorf("session: RecordDeath: %w", ErrNoActiveSession))
	}
	m.active.Deaths = count.Deaths
	m.active.TimeLostToDeathsSeconds = count.TimeLostSeconds
	snap := m.active.Clone()
	m.mu.Unlock()

	m.save(ctx, snap)
	m.bus.DeathRecorded.Publish(snap)
	return snap, nil
}

// LeaveInstance marks the local player as outside the run's instance. It reports false when
// there is no run or the player had already left.
func (m *Machine) LeaveInstance() bool {
	m.mu.Lock()
	if m.active == nil || !m.present {
		m.mu.Unlock()
		return false
	}
	m.present = false
	snap := m.active.Clone()
	m.mu.Unlock()

	m.logger.WithField("mapId", snap.Keystone.MapID).Info("session: LeaveInstance - left instance")
	m.bus.InstanceLeft.Publish(snap)
	return true
}

// SlotKeystone handles the host's keystone-slotted signal.
func (m *Machine) SlotKeystone(ctx context.Context) (model.Keystone, error) {
	k, err := m.SlottedKeystone(ctx)
	if err != nil {
		return model.Keystone{}, err
	}
	m.bus.KeystoneSlotted.Publish(k)
	return k, nil
}

// UpdateMember fills the inspection result of a party member of the active run.
func (m *Machine) UpdateMember(ctx context.Context, id string, result host.InspectResult) bool {
	m.mu.Lock()
	if m.active == nil {
		m.mu.Unlock()
		return false
	}
	found := false
	for i := range m.active.Party {
		if m.active.Party[i].ID == id {
			fill(&m.active.Party[i], result)
			found = true
			break
		}
	}
	if !found {
		m.mu.Unlock()
		return false
	}
	snap := m.active.Clone()
	m.mu.Unlock()

	m.save(ctx, snap)
	return true
}

func fill(member *model.PartyMember, result host.InspectResult) {
	spec := result.Spec
	ilvl := result.ItemLevel
	member.Spec = &spec
	member.ItemLevel = &ilvl
}

// Current returns a copy of the active run.
func (m *Machine) Current() (model.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return model.Session{}, false
	}
	return m.active.Clone(), true
}

// IsActive reports whether a run is in progress.
func (m *Machine) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// IsActiveAndPresent reports whether a run is in progress and the player is inside it.
func (m *Machine) IsActiveAndPresent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil && m.present
}

// OwnedKeystone returns the keystone the local player carries.
func (m *Machine) OwnedKeystone(ctx context.Context) (model.Keystone, error) {
	owned, err := m.host.OwnedKeystone(ctx)
	if err != nil {
		return model.Keystone{}, fmt.Errorf("session: owned keystone: %w", err)
	}
	seasonData, _ := m.seasons.Season()
	return BuildKeystone(seasonData, owned.Level, owned.MapID), nil
}

// SlottedKeystone returns the keystone placed in the receptacle.
func (m *Machine) SlottedKeystone(ctx context.Context) (model.Keystone, error) {
	slotted, err := m.host.SlottedKeystone(ctx)
	if err != nil {
		return model.Keystone{}, fmt.Errorf("session: slotted keystone: %w", err)
	}
	seasonData, _ := m.seasons.Season()
	return BuildKeystone(seasonData, slotted.Level, slotted.MapID), nil
}

// AffixesForLevel returns the affixes of the current season active at level.
func (m *Machine) AffixesForLevel(level int) []model.Affix {
	seasonData, _ := m.seasons.Season()
	return AffixesForLevel(seasonData.Affixes, level)
}

func (m *Machine) mustBeActive(op string) {
	if !m.IsActive() {
		panic(fmt.Errorf("session: %s: %w", op, ErrNoActiveSession))
	}
}

func (m *Machine) save(ctx context.Context, s model.Session) {
	m.mu.Lock()
	characterID := m.characterID
	m.mu.Unlock()
	if m.store == nil || characterID == "" {
		return
	}
	if err := m.store.SaveActive(ctx, characterID, s); err != nil {
		m.logger.WithError(err).Warn("session: save - failed to persist active session")
	}
}

func (m *Machine) finishStored(ctx context.Context, characterID string, s model.Session) {
	if characterID == "" {
		return
	}
	if m.store != nil {
		if err := m.store.FinishActive(ctx, characterID, s); err != nil {
			m.logger.WithError(err).Warn("session: finish - failed to persist finished session")
		}
	}
	if m.archiver != nil {
		if err := m.archiver.Archive(ctx, characterID, s); err != nil {
			m.logger.WithError(err).Warn("session: finish - failed to archive finished session")
		}
	}
}
