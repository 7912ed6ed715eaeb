package service

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/adaxion/LibMythicPlus/internal/eventbus"
	"github.com/adaxion/LibMythicPlus/internal/host"
	"github.com/adaxion/LibMythicPlus/internal/inspect"
	"github.com/adaxion/LibMythicPlus/internal/model"
	"github.com/adaxion/LibMythicPlus/internal/peersync"
	"github.com/adaxion/LibMythicPlus/internal/retry"
	"github.com/adaxion/LibMythicPlus/internal/season"
	"github.com/adaxion/LibMythicPlus/internal/session"
	"github.com/adaxion/LibMythicPlus/internal/timer"
	"github.com/adaxion/LibMythicPlus/internal/zone"
	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// DefaultInstanceResetPattern matches the system chat line the host prints after the local
// player resets an instance. The first group captures the instance name.
const DefaultInstanceResetPattern = `^(.+) has been reset\.$`

// Host is everything the tracker needs from the game client.
type Host interface {
	season.Source
	session.Host
	inspect.Host
	zone.Locator
}

// Options tunes a Tracker. Zero values select the package defaults.
type Options struct {
	Scheduler timer.Scheduler
	Retry     retry.Policy
	Store     session.Store
	Archiver  session.Archiver
	Transport peersync.Transport
	Channel   string

	ZoneDebounce         time.Duration
	InspectTimeout       time.Duration
	InstanceResetPattern string
	// IdentityTimeout bounds how long Start waits for the host to report the local player.
	IdentityTimeout time.Duration
}

// Tracker composes the run-tracking components and routes host signals to them.
type Tracker struct {
	Bus      *eventbus.Bus
	Loader   *season.Loader
	Gate     *season.Gate
	Sessions *session.Machine
	Inspect  *inspect.Queue
	Zone     *zone.Watcher
	Peers    *peersync.Protocol

	host            Host
	resetPattern    *regexp.Regexp
	identityTimeout time.Duration
	detach          func()
	logger          *logrus.Logger

	mu      sync.Mutex
	localID string
}

// NewTracker wires a tracker over h.
func NewTracker(h Host, opts Options, logger *logrus.Logger) (*Tracker, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = timer.System{}
	}
	if opts.Transport == nil {
		opts.Transport = discardTransport{}
	}
	if opts.InstanceResetPattern == "" {
		opts.InstanceResetPattern = DefaultInstanceResetPattern
	}
	if opts.IdentityTimeout <= 0 {
		opts.IdentityTimeout = 30 * time.Second
	}
	pattern, err := regexp.Compile(opts.InstanceResetPattern)
	if err != nil {
		return nil, fmt.Errorf("svc: NewTracker - invalid instance reset pattern: %w", err)
	}

	bus := eventbus.New(logger)
	loader := season.NewLoader(h, bus, opts.Scheduler, season.Options{Retry: opts.Retry}, logger)
	machine := session.New(h, loader, bus, session.Options{
		Scheduler: opts.Scheduler,
		Store:     opts.Store,
		Archiver:  opts.Archiver,
	}, logger)
	queue := inspect.NewQueue(h, machine, opts.Scheduler, opts.InspectTimeout, logger)
	machine.SetInspector(queue)
	peers := peersync.New(opts.Transport, machine, opts.Channel, logger)

	t := &Tracker{
		Bus:             bus,
		Loader:          loader,
		Gate:            season.NewGate(bus, loader, logger),
		Sessions:        machine,
		Inspect:         queue,
		Zone:            zone.NewWatcher(h, machine, opts.Scheduler, opts.ZoneDebounce, logger),
		Peers:           peers,
		host:            h,
		resetPattern:    pattern,
		identityTimeout: opts.IdentityTimeout,
		detach:          peers.Attach(bus),
		logger:          logger,
	}
	t.Gate.OnReady(t.logReady)
	return t, nil
}

func (t *Tracker) logReady(r eventbus.Ready) {
	if !r.Available {
		t.logger.Info("svc: Tracker - no seasonal activity available")
		return
	}
	t.logger.WithFields(logrus.Fields{
		"season":  r.Season.ID,
		"affixes": len(r.Season.Affixes),
		"maps":    len(r.Season.Maps),
	}).Info("svc: Tracker - season data ready")
}

// Start resolves the local player, restores a persisted run and begins loading season data.
func (t *Tracker) Start(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	local, err := backoff.Retry(ctx, func() (model.PartyMember, error) {
		member, err := t.host.UnitInfo(ctx, host.LocalUnit)
		if err == nil && member.ID == "" {
			err = host.ErrNotReady
		}
		return member, err
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(t.identityTimeout))
	if err != nil {
		return fmt.Errorf("svc: Start - local player unresolved: %w", err)
	}

	t.mu.Lock()
	t.localID = local.ID
	t.mu.Unlock()
	t.Peers.SetLocalID(local.ID)

	if err := t.Sessions.Restore(ctx, local.ID); err != nil {
		t.logger.WithError(err).Warn("svc: Start - persisted run not restored")
	}
	t.logger.WithField("character", local.FullName()).Info("svc: Start - tracking local player")

	t.Loader.Start(ctx)
	return nil
}

// LocalID returns the identity resolved by Start.
func (t *Tracker) LocalID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.localID
}

// Close detaches the peer protocol from the bus.
func (t *Tracker) Close() {
	t.detach()
}

// HandleSignal routes one host signal. Work it triggers is not bound to ctx's cancellation
// since debounce and inspection timers outlive the caller.
func (t *Tracker) HandleSignal(ctx context.Context, sig host.Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	entry := t.logger.WithField("signal", sig.Type)

	switch sig.Type {
	case host.SignalKeystoneSlotted:
		if _, err := t.Sessions.SlotKeystone(ctx); err != nil {
			return fmt.Errorf("svc: HandleSignal - %s: %w", sig.Type, err)
		}
	case host.SignalActivityStarted:
		if _, err := t.Sessions.Start(ctx); err != nil {
			return fmt.Errorf("svc: HandleSignal - %s: %w", sig.Type, err)
		}
	case host.SignalActivityCompleted:
		if !t.Sessions.IsActive() {
			entry.Warn("svc: HandleSignal - completion without an active run")
			return nil
		}
		t.Sessions.Complete(ctx)
	case host.SignalActivityReset:
		t.Sessions.Reset(ctx)
	case host.SignalAffixDataUpdated:
		t.Loader.HandleAffixDataUpdated(ctx)
	case host.SignalSystemChatMessage:
		t.handleChat(ctx, sig.Message)
	case host.SignalDeathCountUpdated:
		if !t.Sessions.IsActive() {
			entry.Debug("svc: HandleSignal - death count without an active run")
			return nil
		}
		if _, err := t.Sessions.RecordDeath(ctx); err != nil {
			return fmt.Errorf("svc: HandleSignal - %s: %w", sig.Type, err)
		}
	case host.SignalZoneChanged:
		t.Zone.HandleZoneChanged(ctx)
	case host.SignalInspectReady:
		t.Inspect.HandleInspectReady(ctx, sig.GUID)
	}
	return nil
}

// handleChat abandons the active run when message reports an instance reset and tells the
// party about it.
func (t *Tracker) handleChat(ctx context.Context, message string) {
	match := t.resetPattern.FindStringSubmatch(message)
	if match == nil {
		return
	}
	instance := message
	if len(match) > 1 {
		instance = match[1]
	}

	if s, ok := t.Sessions.AbandonActive(ctx, session.ReasonInstanceReset); ok {
		t.logger.WithFields(logrus.Fields{
			"instance": instance,
			"mapId":    s.Keystone.MapID,
		}).Info("svc: handleChat - run abandoned after instance reset")
	}
	if err := t.Peers.AnnounceInstanceReset(ctx, instance); err != nil {
		t.logger.WithError(err).Debug("svc: handleChat - instance reset not announced")
	}
}

// discardTransport stands in when no relay is configured.
type discardTransport struct{}

func (discardTransport) Broadcast(context.Context, string, peersync.Scope, []byte) error {
	return nil
}
