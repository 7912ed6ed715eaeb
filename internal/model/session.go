package model

import "time"

// MaxPartySize is the number of members a run can hold, the local player included.
const MaxPartySize = 5

// Session is one attempt at a timed run, from start until a terminal outcome.
type Session struct {
	Keystone                Keystone        `json:"keystone"`
	Party                   []PartyMember   `json:"party"`
	StartedAt               time.Time       `json:"startedAt"`
	FinishedAt              *time.Time      `json:"finishedAt,omitempty"`
	Result                  *int            `json:"result,omitempty"`
	Reason                  *string         `json:"reason,omitempty"`
	IsCompleted             bool            `json:"isCompleted"`
	Deaths                  int             `json:"deaths"`
	TimeLostToDeathsSeconds int             `json:"timeLostToDeathsSeconds"`
	IsGuildParty            bool            `json:"isGuildParty"`
	Completion              *CompletionInfo `json:"completion,omitempty"`
}

// CompletionInfo carries the metrics the host reports when a run ends in time or over time.
type CompletionInfo struct {
	MapID              int   `json:"mapId"`
	Level              int   `json:"level"`
	ElapsedMs          int64 `json:"elapsedMs"`
	OnTime             bool  `json:"onTime"`
	UpgradeLevels      int   `json:"upgradeLevels"`
	OldRating          int   `json:"oldRating"`
	NewRating          int   `json:"newRating"`
	IsMapRecord        bool  `json:"isMapRecord"`
	IsAffixRecord      bool  `json:"isAffixRecord"`
	IsEligibleForScore bool  `json:"isEligibleForScore"`
}

// RatingDelta is the score change of the run.
func (c CompletionInfo) RatingDelta() int {
	return c.NewRating - c.OldRating
}

// Clone returns a deep copy of s so that callers can keep it after the slot changes.
func (s Session) Clone() Session {
	out := s
	out.Keystone.Affixes = append([]Affix(nil), s.Keystone.Affixes...)
	out.Party = make([]PartyMember, len(s.Party))
	for i, m := range s.Party {
		if m.Spec != nil {
			spec := *m.Spec
			m.Spec = &spec
		}
		if m.ItemLevel != nil {
			ilvl := *m.ItemLevel
			m.ItemLevel = &ilvl
		}
		out.Party[i] = m
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	if s.Result != nil {
		r := *s.Result
		out.Result = &r
	}
	if s.Reason != nil {
		r := *s.Reason
		out.Reason = &r
	}
	if s.Completion != nil {
		c := *s.Completion
		out.Completion = &c
	}
	return out
}

// Member returns the party member with the given id.
func (s Session) Member(id string) (PartyMember, bool) {
	for _, m := range s.Party {
		if m.ID == id {
			return m, true
		}
	}
	return PartyMember{}, false
}
