package peersync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/adaxion/LibMythicPlus/internal/eventbus"
	"github.com/adaxion/LibMythicPlus/internal/model"
	"github.com/adaxion/LibMythicPlus/internal/session"
	"github.com/sirupsen/logrus/hooks/test"
)

type sent struct {
	channel string
	scope   Scope
	msg     Message
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeTransport) Broadcast(_ context.Context, channel string, scope Scope, data []byte) error {
	msg, err := Decode(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{channel: channel, scope: scope, msg: msg})
	return nil
}

type fakeSessions struct {
	active   bool
	reasons  []string
	attempts int
}

func (s *fakeSessions) IsActive() bool { return s.active }

func (s *fakeSessions) AbandonActive(_ context.Context, reason string) (model.Session, bool) {
	s.attempts++
	if !s.active {
		return model.Session{}, false
	}
	s.active = false
	s.reasons = append(s.reasons, reason)
	return model.Session{}, true
}

func newProtocol() (*Protocol, *fakeTransport, *fakeSessions) {
	logger, _ := test.NewNullLogger()
	transport := &fakeTransport{}
	sessions := &fakeSessions{active: true}
	p := New(transport, sessions, "", logger)
	p.SetLocalID("Arthas-Area52")
	return p, transport, sessions
}

func encode(t *testing.T, sender string, payload Payload) []byte {
	t.Helper()
	data, err := Encode(sender, payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}

func validPayloads() []Payload {
	ks := model.Keystone{Level: 12, MapID: 399}
	now := time.Date(2026, 10, 19, 20, 0, 0, 0, time.UTC)
	return []Payload{
		SessionStartedPayload{Keystone: ks, StartedAt: now},
		SessionCompletedPayload{Keystone: ks, StartedAt: now, FinishedAt: now.Add(time.Hour)},
		SessionAbandonedPayload{Keystone: ks, StartedAt: now, FinishedAt: now, Reason: "InstanceReset"},
		KeystoneSlottedPayload{Level: 12, MapID: 399},
		InstanceResetPayload{Instance: "Ruby Life Pools"},
	}
}

func TestPeerInstanceResetAbandonsActiveRun(t *testing.T) {
	p, _, sessions := newProtocol()
	p.Receive(context.Background(), encode(t, "Jaina-Area52", InstanceResetPayload{Instance: "Ruby Life Pools"}))

	if len(sessions.reasons) != 1 || sessions.reasons[0] != session.ReasonPeerInstanceReset {
		t.Fatalf("reasons = %v", sessions.reasons)
	}
}

func TestPeerInstanceResetWithoutRunIsIgnored(t *testing.T) {
	p, _, sessions := newProtocol()
	sessions.active = false
	p.Receive(context.Background(), encode(t, "Jaina-Area52", InstanceResetPayload{Instance: "Ruby Life Pools"}))
	if sessions.attempts != 0 {
		t.Fatalf("abandon attempted %d times", sessions.attempts)
	}
}

func TestOwnEchoNeverTransitions(t *testing.T) {
	for _, payload := range validPayloads() {
		t.Run(string(payload.Tag()), func(t *testing.T) {
			p, _, sessions := newProtocol()
			p.Receive(context.Background(), encode(t, "Arthas-Area52", payload))
			if sessions.attempts != 0 || !sessions.active {
				t.Fatalf("own %s message triggered a transition", payload.Tag())
			}
		})
	}
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	inputs := map[string]string{
		"not json":        `{"event":`,
		"no event":        `{"senderId":"Jaina-Area52","payload":{}}`,
		"bad payload":     `{"event":"InstanceReset","senderId":"Jaina-Area52","payload":"oops"}`,
		"missing payload": `{"event":"InstanceReset","senderId":"Jaina-Area52"}`,
		"invalid payload": `{"event":"InstanceReset","senderId":"Jaina-Area52","payload":{"instance":""}}`,
		"unknown event":   `{"event":"TeleportRequested","senderId":"Jaina-Area52","payload":{}}`,
	}
	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			p, _, sessions := newProtocol()
			p.Receive(context.Background(), []byte(input))
			if sessions.attempts != 0 {
				t.Fatalf("%s triggered a transition", name)
			}
		})
	}
}

func TestMissingSenderPanics(t *testing.T) {
	p, _, _ := newProtocol()
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrMissingSender) {
			t.Fatalf("recovered %v, want ErrMissingSender", r)
		}
	}()
	p.Receive(context.Background(), []byte(`{"event":"InstanceReset","payload":{"instance":"x"}}`))
}

func TestOutboundScopes(t *testing.T) {
	p, transport, _ := newProtocol()
	logger, _ := test.NewNullLogger()
	bus := eventbus.New(logger)
	detach := p.Attach(bus)

	now := time.Date(2026, 10, 19, 20, 0, 0, 0, time.UTC)
	guilded := model.Session{
		Keystone:  model.Keystone{Level: 10, MapID: 399},
		Party:     []model.PartyMember{{Name: "Arthas", Realm: "Area52", GuildName: "Frostmourne"}},
		StartedAt: now,
	}
	bus.SessionStarted.Publish(guilded)

	solo := guilded.Clone()
	solo.Party[0].GuildName = ""
	reason := "InstanceReset"
	result := -1
	solo.Reason, solo.Result, solo.FinishedAt = &reason, &result, &now
	bus.SessionAbandoned.Publish(solo)
	bus.KeystoneSlotted.Publish(model.Keystone{Level: 10, MapID: 399})

	want := []struct {
		event EventTag
		scope Scope
	}{
		{TagSessionStarted, ScopeParty},
		{TagSessionStarted, ScopeGuild},
		{TagSessionAbandoned, ScopeParty},
		{TagKeystoneSlotted, ScopeParty},
	}
	if len(transport.sent) != len(want) {
		t.Fatalf("sent %d messages, want %d", len(transport.sent), len(want))
	}
	for i, w := range want {
		got := transport.sent[i]
		if got.msg.Event != w.event || got.scope != w.scope {
			t.Errorf("message %d = %s/%s, want %s/%s", i, got.msg.Event, got.scope, w.event, w.scope)
		}
		if got.channel != DefaultChannel || got.msg.SenderID != "Arthas-Area52" {
			t.Errorf("message %d channel/sender = %s/%s", i, got.channel, got.msg.SenderID)
		}
	}

	var abandoned SessionAbandonedPayload
	if err := json.Unmarshal(transport.sent[2].msg.Payload, &abandoned); err != nil {
		t.Fatalf("abandoned payload: %v", err)
	}
	if abandoned.Reason != "InstanceReset" || abandoned.Keystone.Level != 10 {
		t.Fatalf("abandoned payload = %+v", abandoned)
	}

	detach()
	bus.KeystoneSlotted.Publish(model.Keystone{Level: 10, MapID: 399})
	if len(transport.sent) != len(want) {
		t.Fatal("detached protocol kept broadcasting")
	}
}

func TestEncodeRejectsInvalidPayload(t *testing.T) {
	if _, err := Encode("", InstanceResetPayload{Instance: "x"}); !errors.Is(err, ErrMissingSender) {
		t.Fatalf("err = %v, want ErrMissingSender", err)
	}
	if _, err := Encode("Arthas-Area52", KeystoneSlottedPayload{Level: 1, MapID: 399}); err == nil {
		t.Fatal("level 1 keystone encoded")
	}
}
