// Package peersync exchanges run facts with the other members of the party over a lossy
// broadcast channel.
package peersync

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/adaxion/LibMythicPlus/internal/model"
)

// EventTag identifies the payload schema of a message.
type EventTag string

const (
	TagSessionStarted   EventTag = "SessionStarted"
	TagSessionCompleted EventTag = "SessionCompleted"
	TagSessionAbandoned EventTag = "SessionAbandoned"
	TagKeystoneSlotted  EventTag = "KeystoneSlotted"
	TagInstanceReset    EventTag = "InstanceReset"
)

// Scope is the distribution audience of a broadcast.
type Scope string

const (
	ScopeParty   Scope = "PARTY"
	ScopeGuild   Scope = "GUILD"
	ScopeFriends Scope = "FRIENDS"
)

// DefaultChannel is the channel name peers of this tracker share.
const DefaultChannel = "LibMythicPlus"

var (
	// ErrMalformed marks a message that cannot be decoded or fails validation.
	ErrMalformed = errors.New("peersync: malformed message")
	// ErrUnknownEvent marks a message whose tag this version does not know.
	ErrUnknownEvent = errors.New("peersync: unknown event")
	// ErrMissingSender is the panic value for a message without sender identity.
	ErrMissingSender = errors.New("peersync: message has no sender")
)

// Message is the wire envelope.
type Message struct {
	Event    EventTag        `json:"event"`
	SenderID string          `json:"senderId"`
	Payload  json.RawMessage `json:"payload"`
}

// Payload is the event-specific part of a message.
type Payload interface {
	Tag() EventTag
	Validate() error
}

// SessionStartedPayload announces a new run.
type SessionStartedPayload struct {
	Keystone     model.Keystone `json:"keystone"`
	Members      []string       `json:"members"`
	StartedAt    time.Time      `json:"startedAt"`
	IsGuildParty bool           `json:"isGuildParty"`
}

func (SessionStartedPayload) Tag() EventTag { return TagSessionStarted }

func (p SessionStartedPayload) Validate() error {
	if err := validateKeystone(p.Keystone.Level, p.Keystone.MapID); err != nil {
		return err
	}
	if p.StartedAt.IsZero() {
		return errors.New("startedAt is required")
	}
	return nil
}

// SessionCompletedPayload announces a run that reached the end.
type SessionCompletedPayload struct {
	Keystone                model.Keystone        `json:"keystone"`
	StartedAt               time.Time             `json:"startedAt"`
	FinishedAt              time.Time             `json:"finishedAt"`
	Result                  int                   `json:"result"`
	Deaths                  int                   `json:"deaths"`
	TimeLostToDeathsSeconds int                   `json:"timeLostToDeathsSeconds"`
	Completion              *model.CompletionInfo `json:"completion,omitempty"`
}

func (SessionCompletedPayload) Tag() EventTag { return TagSessionCompleted }

func (p SessionCompletedPayload) Validate() error {
	if err := validateKeystone(p.Keystone.Level, p.Keystone.MapID); err != nil {
		return err
	}
	if p.FinishedAt.IsZero() {
		return errors.New("finishedAt is required")
	}
	return nil
}

// SessionAbandonedPayload announces a run that ended early.
type SessionAbandonedPayload struct {
	Keystone   model.Keystone `json:"keystone"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Reason     string         `json:"reason"`
	Deaths     int            `json:"deaths"`
}

func (SessionAbandonedPayload) Tag() EventTag { return TagSessionAbandoned }

func (p SessionAbandonedPayload) Validate() error {
	if err := validateKeystone(p.Keystone.Level, p.Keystone.MapID); err != nil {
		return err
	}
	if p.Reason == "" {
		return errors.New("reason is required")
	}
	return nil
}

// KeystoneSlottedPayload announces the keystone placed in the receptacle.
type KeystoneSlottedPayload struct {
	Level   int    `json:"level"`
	MapID   int    `json:"mapId"`
	MapName string `json:"mapName,omitempty"`
}

func (KeystoneSlottedPayload) Tag() EventTag { return TagKeystoneSlotted }

func (p KeystoneSlottedPayload) Validate() error {
	return validateKeystone(p.Level, p.MapID)
}

// InstanceResetPayload announces that the sender reset the party's instances.
type InstanceResetPayload struct {
	Instance string `json:"instance"`
}

func (InstanceResetPayload) Tag() EventTag { return TagInstanceReset }

func (p InstanceResetPayload) Validate() error {
	if p.Instance == "" {
		return errors.New("instance is required")
	}
	return nil
}

func validateKeystone(level, mapID int) error {
	if level < model.MinKeystoneLevel {
		return fmt.Errorf("keystone level %d below %d", level, model.MinKeystoneLevel)
	}
	if mapID <= 0 {
		return fmt.Errorf("keystone map %d invalid", mapID)
	}
	return nil
}

// Encode builds the wire form of payload sent by senderID.
func Encode(senderID string, payload Payload) ([]byte, error) {
	if senderID == "" {
		return nil, ErrMissingSender
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("peersync: encode %s: %w", payload.Tag(), err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("peersync: encode %s: %w", payload.Tag(), err)
	}
	return json.Marshal(Message{Event: payload.Tag(), SenderID: senderID, Payload: raw})
}

// Decode parses the envelope. It does not check the sender or the payload.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Event == "" {
		return Message{}, fmt.Errorf("%w: event is required", ErrMalformed)
	}
	return msg, nil
}

// DecodePayload parses and validates the payload of msg according to its tag.
func DecodePayload(msg Message) (Payload, error) {
	var (
		payload Payload
		err     error
	)
	switch msg.Event {
	case TagSessionStarted:
		payload, err = decodeInto[SessionStartedPayload](msg.Payload)
	case TagSessionCompleted:
		payload, err = decodeInto[SessionCompletedPayload](msg.Payload)
	case TagSessionAbandoned:
		payload, err = decodeInto[SessionAbandonedPayload](msg.Payload)
	case TagKeystoneSlotted:
		payload, err = decodeInto[KeystoneSlottedPayload](msg.Payload)
	case TagInstanceReset:
		payload, err = decodeInto[InstanceResetPayload](msg.Payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, msg.Event)
	}
	if err == nil {
		err = payload.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, msg.Event, err)
	}
	return payload, nil
}

func decodeInto[T Payload](raw json.RawMessage) (Payload, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return nil, errors.New("payload is required")
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
