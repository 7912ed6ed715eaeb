package eventbus

import (
	"github.com/adaxion/LibMythicPlus/internal/model"
	"github.com/sirupsen/logrus"
)

// Event names.
const (
	OnApiReady          = "OnApiReady"
	OnSeasonIDLoaded    = "OnSeasonIDLoaded"
	OnAffixesLoaded     = "OnAffixesLoaded"
	OnMapsLoaded        = "OnMapsLoaded"
	OnKeystoneSlotted   = "OnKeystoneSlotted"
	OnSessionStarted    = "OnSessionStarted"
	OnSessionCompleted  = "OnSessionCompleted"
	OnSessionAbandoned  = "OnSessionAbandoned"
	OnSessionReset      = "OnSessionReset"
	OnInstanceLeft      = "OnInstanceLeft"
	OnInstanceReentered = "OnInstanceReentered"
	OnDeathRecorded     = "OnDeathRecorded"
)

// Ready is delivered once per readiness cycle. Season is nil when no activity is available.
type Ready struct {
	Season    *model.Season
	Available bool
}

// Bus groups the topics of the tracker.
type Bus struct {
	ApiReady          *Topic[Ready]
	SeasonIDLoaded    *Topic[int]
	AffixesLoaded     *Topic[[]model.Affix]
	MapsLoaded        *Topic[map[int]model.MapInfo]
	KeystoneSlotted   *Topic[model.Keystone]
	SessionStarted    *Topic[model.Session]
	SessionCompleted  *Topic[model.Session]
	SessionAbandoned  *Topic[model.Session]
	SessionReset      *Topic[struct{}]
	InstanceLeft      *Topic[model.Session]
	InstanceReentered *Topic[model.Session]
	DeathRecorded     *Topic[model.Session]
}

// New creates a bus whose handler failures are reported to logger.
func New(logger *logrus.Logger) *Bus {
	return &Bus{
		ApiReady:          NewTopic[Ready](OnApiReady, true, logger),
		SeasonIDLoaded:    NewTopic[int](OnSeasonIDLoaded, false, logger),
		AffixesLoaded:     NewTopic[[]model.Affix](OnAffixesLoaded, false, logger),
		MapsLoaded:        NewTopic[map[int]model.MapInfo](OnMapsLoaded, false, logger),
		KeystoneSlotted:   NewTopic[model.Keystone](OnKeystoneSlotted, false, logger),
		SessionStarted:    NewTopic[model.Session](OnSessionStarted, false, logger),
		SessionCompleted:  NewTopic[model.Session](OnSessionCompleted, false, logger),
		SessionAbandoned:  NewTopic[model.Session](OnSessionAbandoned, false, logger),
		SessionReset:      NewTopic[struct{}](OnSessionReset, false, logger),
		InstanceLeft:      NewTopic[model.Session](OnInstanceLeft, false, logger),
		InstanceReentered: NewTopic[model.Session](OnInstanceReentered, false, logger),
		DeathRecorded:     NewTopic[model.Session](OnDeathRecorded, false, logger),
	}
}
