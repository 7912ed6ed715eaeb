package peersync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adaxion/LibMythicPlus/internal/eventbus"
	"github.com/adaxion/LibMythicPlus/internal/model"
	"github.com/adaxion/LibMythicPlus/internal/session"
	"github.com/sirupsen/logrus"
)

const broadcastTimeout = 5 * time.Second

// Transport delivers an encoded message to every peer in scope on channel.
type Transport interface {
	Broadcast(ctx context.Context, channel string, scope Scope, data []byte) error
}

// Sessions is the part of the session machine peers can drive.
type Sessions interface {
	IsActive() bool
	AbandonActive(ctx context.Context, reason string) (model.Session, bool)
}

// Protocol encodes local run events for peers and applies peer messages locally.
type Protocol struct {
	transport Transport
	sessions  Sessions
	channel   string
	logger    *logrus.Logger

	mu      sync.Mutex
	localID string
}

// New creates a protocol on channel. An empty channel means DefaultChannel.
func New(transport Transport, sessions Sessions, channel string, logger *logrus.Logger) *Protocol {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Protocol{
		transport: transport,
		sessions:  sessions,
		channel:   channel,
		logger:    logger,
	}
}

// SetLocalID sets the identity stamped on outbound messages and used to drop echoes.
func (p *Protocol) SetLocalID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.localID = id
}

func (p *Protocol) local() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.localID
}

// Channel returns the channel name.
func (p *Protocol) Channel() string {
	return p.channel
}

// Attach subscribes the protocol to the run events of bus and returns the detach function.
func (p *Protocol) Attach(bus *eventbus.Bus) func() {
	unsubs := []eventbus.Unsubscribe{
		bus.SessionStarted.Subscribe(func(s model.Session) {
			p.broadcastSession(SessionStartedPayload{
				Keystone:     s.Keystone,
				Members:      memberIDs(s.Party),
				StartedAt:    s.StartedAt,
				IsGuildParty: s.IsGuildParty,
			}, s)
		}),
		bus.SessionCompleted.Subscribe(func(s model.Session) {
			payload := SessionCompletedPayload{
				Keystone:                s.Keystone,
				StartedAt:               s.StartedAt,
				Deaths:                  s.Deaths,
				TimeLostToDeathsSeconds: s.TimeLostToDeathsSeconds,
				Completion:              s.Completion,
			}
			if s.FinishedAt != nil {
				payload.FinishedAt = *s.FinishedAt
			}
			if s.Result != nil {
				payload.Result = *s.Result
			}
			p.broadcastSession(payload, s)
		}),
		bus.SessionAbandoned.Subscribe(func(s model.Session) {
			payload := SessionAbandonedPayload{
				Keystone:  s.Keystone,
				StartedAt: s.StartedAt,
				Deaths:    s.Deaths,
			}
			if s.FinishedAt != nil {
				payload.FinishedAt = *s.FinishedAt
			}
			if s.Reason != nil {
				payload.Reason = *s.Reason
			}
			p.broadcastSession(payload, s)
		}),
		bus.KeystoneSlotted.Subscribe(func(k model.Keystone) {
			ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
			defer cancel()
			p.send(ctx, ScopeParty, KeystoneSlottedPayload{Level: k.Level, MapID: k.MapID, MapName: k.MapName})
		}),
	}
	return func() {
		for _, unsubscribe := range unsubs {
			unsubscribe()
		}
	}
}

// AnnounceInstanceReset tells the party that the local player reset instance.
func (p *Protocol) AnnounceInstanceReset(ctx context.Context, instance string) error {
	return p.send(ctx, ScopeParty, InstanceResetPayload{Instance: instance})
}

// broadcastSession sends to the party, and to the guild when the local player is guilded.
func (p *Protocol) broadcastSession(payload Payload, s model.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()
	p.send(ctx, ScopeParty, payload)
	if len(s.Party) > 0 && s.Party[0].GuildName != "" {
		p.send(ctx, ScopeGuild, payload)
	}
}

func (p *Protocol) send(ctx context.Context, scope Scope, payload Payload) error {
	data, err := Encode(p.local(), payload)
	if err != nil {
		p.logger.WithError(err).WithField("event", payload.Tag()).Warn("peersync: send - encode failed")
		return err
	}
	if err := p.transport.Broadcast(ctx, p.channel, scope, data); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"event": payload.Tag(),
			"scope": scope,
		}).Warn("peersync: send - broadcast failed")
		return err
	}
	return nil
}

// Receive applies one inbound message. Malformed messages, echoes of the local player's own
// broadcasts and unknown events are dropped. A message without sender panics with
// ErrMissingSender.
func (p *Protocol) Receive(ctx context.Context, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		p.logger.WithError(err).Debug("peersync: Receive - dropped undecodable message")
		return
	}
	if msg.SenderID == "" {
		panic(ErrMissingSender)
	}
	if msg.SenderID == p.local() {
		return
	}

	payload, err := DecodePayload(msg)
	if errors.Is(err, ErrUnknownEvent) {
		p.logger.WithField("event", msg.Event).Debug("peersync: Receive - ignored unknown event")
		return
	}
	if err != nil {
		p.logger.WithError(err).WithField("sender", msg.SenderID).Debug("peersync: Receive - dropped malformed payload")
		return
	}

	entry := p.logger.WithFields(logrus.Fields{"event": msg.Event, "sender": msg.SenderID})
	switch pl := payload.(type) {
	case InstanceResetPayload:
		if !p.sessions.IsActive() {
			entry.Debug("peersync: Receive - instance reset with no active session")
			return
		}
		if _, ok := p.sessions.AbandonActive(ctx, session.ReasonPeerInstanceReset); ok {
			entry.WithField("instance", pl.Instance).Info("peersync: Receive - run abandoned after peer instance reset")
		}
	default:
		entry.Debug("peersync: Receive - peer event observed")
	}
}

func memberIDs(party []model.PartyMember) []string {
	ids := make([]string, 0, len(party))
	for _, m := range party {
		ids = append(ids, m.FullName())
	}
	return ids
}
