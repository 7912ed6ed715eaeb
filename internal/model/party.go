package model

// PartyMember is one participant of a run. Spec and ItemLevel are nil until inspected.
type PartyMember struct {
	ID        string   `json:"id"`
	Unit      string   `json:"unit"`
	Name      string   `json:"name"`
	Realm     string   `json:"realm"`
	Faction   string   `json:"faction"`
	Race      string   `json:"race"`
	Class     string   `json:"class"`
	Role      string   `json:"role"`
	GuildName string   `json:"guildName,omitempty"`
	IsLeader  bool     `json:"isLeader"`
	Spec      *string  `json:"spec,omitempty"`
	ItemLevel *float64 `json:"itemLevel,omitempty"`
}

// FullName returns the Name-Realm form used to identify a character across realms.
func (m PartyMember) FullName() string {
	if m.Realm == "" {
		return m.Name
	}
	return m.Name + "-" + m.Realm
}

// Inspected reports whether spec and item level are known.
func (m PartyMember) Inspected() bool {
	return m.Spec != nil && m.ItemLevel != nil
}
