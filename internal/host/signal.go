package host

import (
	"errors"
	"fmt"
)

// SignalType names a host-pushed notification.
type SignalType string

const (
	SignalKeystoneSlotted   SignalType = "keystone-slotted"
	SignalActivityStarted   SignalType = "activity-started"
	SignalActivityCompleted SignalType = "activity-completed"
	SignalActivityReset     SignalType = "activity-reset"
	SignalAffixDataUpdated  SignalType = "affix-data-updated"
	SignalSystemChatMessage SignalType = "system-chat-message"
	SignalDeathCountUpdated SignalType = "death-count-updated"
	SignalZoneChanged       SignalType = "zone-changed"
	SignalInspectReady      SignalType = "inspect-ready"
)

// ErrUnknownSignal is returned when a signal type is not recognised.
var ErrUnknownSignal = errors.New("host: unknown signal")

// Signal is one notification from the host. Message is set for chat signals and GUID for
// inspect-ready signals.
type Signal struct {
	Type    SignalType `json:"type"`
	Message string     `json:"message,omitempty"`
	GUID    string     `json:"guid,omitempty"`
}

// Validate checks the type and the fields it requires.
func (s Signal) Validate() error {
	switch s.Type {
	case SignalKeystoneSlotted, SignalActivityStarted, SignalActivityCompleted, SignalActivityReset,
		SignalAffixDataUpdated, SignalDeathCountUpdated, SignalZoneChanged:
		return nil
	case SignalSystemChatMessage:
		if s.Message == "" {
			return fmt.Errorf("%s: message is required", s.Type)
		}
		return nil
	case SignalInspectReady:
		if s.GUID == "" {
			return fmt.Errorf("%s: guid is required", s.Type)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSignal, s.Type)
	}
}
