package season

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/adaxion/LibMythicPlus/internal/eventbus"
	"github.com/adaxion/LibMythicPlus/internal/host"
	"github.com/adaxion/LibMythicPlus/internal/model"
	"github.com/adaxion/LibMythicPlus/internal/retry"
	"github.com/adaxion/LibMythicPlus/internal/timer"
	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeSource struct {
	mu sync.Mutex

	seasonNotReady int
	affixNotReady  int
	mapsNotReady   int
	unavailable    bool

	seasonCalls   int
	affixCalls    int
	mapCalls      int
	mapRequests   int
	affixRequests int
	rewardRequest int
}

func (f *fakeSource) RequestMapInfo(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mapRequests++
	return nil
}

func (f *fakeSource) RequestCurrentAffixes(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.affixRequests++
	return nil
}

func (f *fakeSource) RequestRewards(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rewardRequest++
	return nil
}

func (f *fakeSource) CurrentSeason(context.Context) (host.SeasonInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seasonCalls++
	if f.seasonCalls <= f.seasonNotReady {
		return host.SeasonInfo{}, host.ErrNotReady
	}
	return host.SeasonInfo{ID: 13, Description: "Season 13", Available: !f.unavailable}, nil
}

func (f *fakeSource) CurrentAffixIDs(context.Context) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.affixCalls++
	if f.affixCalls <= f.affixNotReady {
		return nil, host.ErrNotReady
	}
	return []int{9, 10, 147, 152}, nil
}

func (f *fakeSource) AffixDetail(_ context.Context, id int) (model.Affix, error) {
	return model.Affix{ID: id, Name: "affix"}, nil
}

func (f *fakeSource) MapIDs(context.Context) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mapCalls++
	if f.mapCalls <= f.mapsNotReady {
		return nil, nil
	}
	return []int{399, 400}, nil
}

func (f *fakeSource) MapDetail(_ context.Context, id int) (model.MapInfo, error) {
	return model.MapInfo{ID: id, Name: "map", TimeLimitSeconds: 1800}, nil
}

func newLoader(t *testing.T, src *fakeSource, ceiling int) (*Loader, *Gate, *eventbus.Bus, *timer.Fake) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	bus := eventbus.New(logger)
	clock := timer.NewFake(time.Unix(0, 0))
	policy := retry.Policy{
		MaxAttempts: ceiling,
		NewBackOff:  func() backoff.BackOff { return backoff.NewConstantBackOff(time.Second) },
	}
	loader := NewLoader(src, bus, clock, Options{Retry: policy}, logger)
	gate := NewGate(bus, loader, logger)
	return loader, gate, bus, clock
}

func TestLoadBeforeRequestIsRefused(t *testing.T) {
	loader, _, _, _ := newLoader(t, &fakeSource{}, 5)
	ctx := context.Background()
	for name, load := range map[string]func(context.Context) error{
		"season":  loader.LoadSeasonID,
		"affixes": loader.LoadAffixes,
		"maps":    loader.LoadMaps,
	} {
		if err := load(ctx); !errors.Is(err, ErrNotRequested) {
			t.Errorf("%s: err = %v, want ErrNotRequested", name, err)
		}
	}
}

func TestAffixesWaitForAnnouncement(t *testing.T) {
	src := &fakeSource{}
	loader, gate, _, _ := newLoader(t, src, 5)
	loader.Start(context.Background())

	if src.affixCalls != 0 {
		t.Fatalf("affixes polled %d times before announcement", src.affixCalls)
	}
	if err := loader.LoadAffixes(context.Background()); !errors.Is(err, ErrAffixesPending) {
		t.Fatalf("err = %v, want ErrAffixesPending", err)
	}
	if gate.IsReady() {
		t.Fatal("gate fired without affixes")
	}

	loader.HandleAffixDataUpdated(context.Background())
	season, status := loader.Season()
	if !status.Complete() {
		t.Fatalf("status = %+v", status)
	}
	if len(season.Affixes) != 4 || season.Affixes[0].SeasonID != 13 {
		t.Fatalf("affixes = %+v", season.Affixes)
	}
	if !gate.IsReady() {
		t.Fatal("gate did not fire")
	}
}

func TestRetriesBelowCeilingDoNotEscalate(t *testing.T) {
	src := &fakeSource{seasonNotReady: 4}
	loader, _, _, clock := newLoader(t, src, 5)
	loader.Start(context.Background())

	for i := 1; i < 4; i++ {
		if got := loader.Attempts(FieldSeasonID); got != i {
			t.Fatalf("attempts = %d, want %d", got, i)
		}
		clock.Advance(time.Second)
	}
	if got := loader.Attempts(FieldSeasonID); got != 4 {
		t.Fatalf("attempts = %d, want 4", got)
	}
	clock.Advance(time.Second)

	_, status := loader.Season()
	if !status.SeasonID {
		t.Fatal("season id not loaded after retries")
	}
	if status.Escalations != 0 {
		t.Fatalf("escalations = %d", status.Escalations)
	}
	if src.mapRequests != 1 {
		t.Fatalf("request batch issued %d times", src.mapRequests)
	}
	if src.seasonCalls != 5 {
		t.Fatalf("season queried %d times, want 1 + 4 retries", src.seasonCalls)
	}
	if loader.Attempts(FieldSeasonID) != 0 {
		t.Fatalf("attempts not reset after success: %d", loader.Attempts(FieldSeasonID))
	}
}

func TestCeilingEscalatesOnceAndResetsCounters(t *testing.T) {
	src := &fakeSource{seasonNotReady: 5, mapsNotReady: 1}
	loader, _, _, clock := newLoader(t, src, 5)
	loader.Start(context.Background())
	loader.HandleAffixDataUpdated(context.Background())

	if loader.Attempts(FieldMaps) != 1 {
		t.Fatalf("maps attempts = %d", loader.Attempts(FieldMaps))
	}
	for i := 0; i < 4; i++ {
		clock.Advance(time.Second)
	}

	_, status := loader.Season()
	if status.Escalations != 1 {
		t.Fatalf("escalations = %d, want 1", status.Escalations)
	}
	if src.mapRequests != 2 || src.affixRequests != 2 || src.rewardRequest != 2 {
		t.Fatalf("request batches = %d/%d/%d, want 2 each", src.mapRequests, src.affixRequests, src.rewardRequest)
	}
	for _, field := range []string{FieldSeasonID, FieldAffixes, FieldMaps} {
		if got := loader.Attempts(field); got != 0 {
			t.Errorf("%s attempts = %d after escalation", field, got)
		}
	}
	if !status.Complete() {
		t.Fatalf("refetch did not complete: %+v", status)
	}
	if clock.Pending() != 0 {
		t.Fatalf("timers left pending: %d", clock.Pending())
	}
}

func TestGateImmediateDeliveryAfterFiring(t *testing.T) {
	src := &fakeSource{}
	loader, gate, bus, _ := newLoader(t, src, 5)

	early := 0
	gate.OnReady(func(r eventbus.Ready) {
		early++
		if !r.Available || r.Season == nil || r.Season.ID != 13 {
			t.Errorf("early ready = %+v", r)
		}
	})
	loader.Start(context.Background())
	loader.HandleAffixDataUpdated(context.Background())
	loader.HandleAffixDataUpdated(context.Background())

	if early != 1 {
		t.Fatalf("early subscriber called %d times", early)
	}
	if bus.ApiReady.Len() != 0 {
		t.Fatalf("ApiReady kept %d handlers", bus.ApiReady.Len())
	}

	late := 0
	gate.OnReady(func(r eventbus.Ready) {
		late++
		if len(r.Season.Maps) != 2 {
			t.Errorf("late ready maps = %v", r.Season.Maps)
		}
	})
	if late != 1 {
		t.Fatalf("late subscriber called %d times, want synchronous delivery", late)
	}
}

func TestGateReportsUnavailableActivity(t *testing.T) {
	src := &fakeSource{unavailable: true}
	loader, gate, _, clock := newLoader(t, src, 5)

	var got []eventbus.Ready
	gate.OnReady(func(r eventbus.Ready) { got = append(got, r) })
	loader.Start(context.Background())

	if len(got) != 1 {
		t.Fatalf("ready delivered %d times", len(got))
	}
	if got[0].Available || got[0].Season != nil {
		t.Fatalf("ready = %+v, want unavailable", got[0])
	}
	if clock.Pending() != 0 {
		t.Fatalf("retries left pending: %d", clock.Pending())
	}
}
