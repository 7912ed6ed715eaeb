// Package hosttest provides an in-memory game client for tests.
package hosttest

import (
	"context"
	"sync"

	"github.com/adaxion/LibMythicPlus/internal/host"
	"github.com/adaxion/LibMythicPlus/internal/model"
)

// RunMap is the map of the keystone the fake reports as active.
const RunMap = 399

// Host answers every host query from its fields. It is safe for concurrent use.
type Host struct {
	mu sync.Mutex

	Season   host.SeasonInfo
	Keystone host.ActiveKeystone
	Units    map[string]model.PartyMember
	Group    []string
	Deaths   host.DeathCount
	Zone     host.Zone
	Result   host.InspectResult

	inspects []string
	clears   int
}

// New returns a host with an available season, a level 10 keystone on RunMap and a two-player
// guilded party whose local player stands inside the run's instance.
func New() *Host {
	return &Host{
		Season:   host.SeasonInfo{ID: 13, Description: "Season 13", Available: true},
		Keystone: host.ActiveKeystone{Level: 10, MapID: RunMap},
		Units: map[string]model.PartyMember{
			host.LocalUnit: {ID: "Player-1-0001", Name: "Arthas", Realm: "Area52", GuildName: "Frostmourne"},
			"party1":       {ID: "Player-1-0002", Name: "Jaina", Realm: "Area52"},
		},
		Group:  []string{host.LocalUnit, "party1"},
		Zone:   host.Zone{MapID: RunMap, InInstance: true},
		Result: host.InspectResult{Spec: "Frost", ItemLevel: 480},
	}
}

// Set mutates the fake under its lock.
func (h *Host) Set(fn func(h *Host)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h)
}

// Inspects returns the units inspection was requested for, in order.
func (h *Host) Inspects() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.inspects...)
}

// Clears returns how often inspection focus was cleared.
func (h *Host) Clears() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clears
}

func (h *Host) RequestMapInfo(context.Context) error        { return nil }
func (h *Host) RequestCurrentAffixes(context.Context) error { return nil }
func (h *Host) RequestRewards(context.Context) error        { return nil }

func (h *Host) CurrentSeason(context.Context) (host.SeasonInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Season, nil
}

func (h *Host) CurrentAffixIDs(context.Context) ([]int, error) {
	return []int{9, 134, 11, 132}, nil
}

func (h *Host) AffixDetail(_ context.Context, id int) (model.Affix, error) {
	return model.Affix{ID: id, Name: "affix"}, nil
}

func (h *Host) MapIDs(context.Context) ([]int, error) {
	return []int{RunMap}, nil
}

func (h *Host) MapDetail(_ context.Context, id int) (model.MapInfo, error) {
	return model.MapInfo{ID: id, Name: "Ruby Life Pools", TimeLimitSeconds: 1800}, nil
}

func (h *Host) ActiveKeystone(context.Context) (host.ActiveKeystone, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Keystone, nil
}

func (h *Host) OwnedKeystone(context.Context) (model.OwnedKeystone, error) {
	return model.OwnedKeystone{Level: 11, MapID: RunMap}, nil
}

func (h *Host) SlottedKeystone(context.Context) (model.SlottedKeystone, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return model.SlottedKeystone{Level: h.Keystone.Level, MapID: h.Keystone.MapID}, nil
}

func (h *Host) CompletionInfo(context.Context) (model.CompletionInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return model.CompletionInfo{
		MapID:         h.Keystone.MapID,
		Level:         h.Keystone.Level,
		ElapsedMs:     1500000,
		OnTime:        true,
		UpgradeLevels: 1,
	}, nil
}

func (h *Host) DeathCount(context.Context) (host.DeathCount, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Deaths, nil
}

func (h *Host) GroupUnits(context.Context) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.Group...), nil
}

func (h *Host) UnitInfo(_ context.Context, unit string) (model.PartyMember, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.Units[unit]
	if !ok {
		return model.PartyMember{}, host.ErrNotReady
	}
	return m, nil
}

func (h *Host) Inspect(context.Context, string) (host.InspectResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Result, nil
}

func (h *Host) RequestInspect(_ context.Context, unit string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inspects = append(h.inspects, unit)
	return nil
}

func (h *Host) ClearInspect(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clears++
	return nil
}

func (h *Host) CurrentZone(context.Context) (host.Zone, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Zone, nil
}
