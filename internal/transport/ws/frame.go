// Package ws carries peer messages between trackers through a websocket relay.
package ws

import (
	"encoding/json"
	"net/url"

	"github.com/adaxion/LibMythicPlus/internal/peersync"
)

// Frame is what travels between a client and the relay.
type Frame struct {
	Channel string          `json:"channel"`
	Scope   peersync.Scope  `json:"scope"`
	Body    json.RawMessage `json:"body"`
}

// Groups names the audience a client belongs to for each scope. Empty groups are not joined.
type Groups struct {
	Party   string
	Guild   string
	Friends string
}

func (g Groups) byScope() map[peersync.Scope]string {
	out := make(map[peersync.Scope]string, 3)
	if g.Party != "" {
		out[peersync.ScopeParty] = g.Party
	}
	if g.Guild != "" {
		out[peersync.ScopeGuild] = g.Guild
	}
	if g.Friends != "" {
		out[peersync.ScopeFriends] = g.Friends
	}
	return out
}

func (g Groups) query() url.Values {
	v := url.Values{}
	for scope, group := range g.byScope() {
		v.Set(queryKey(scope), group)
	}
	return v
}

func groupsFromQuery(v url.Values) Groups {
	return Groups{
		Party:   v.Get(queryKey(peersync.ScopeParty)),
		Guild:   v.Get(queryKey(peersync.ScopeGuild)),
		Friends: v.Get(queryKey(peersync.ScopeFriends)),
	}
}

func queryKey(scope peersync.Scope) string {
	switch scope {
	case peersync.ScopeGuild:
		return "guild"
	case peersync.ScopeFriends:
		return "friends"
	default:
		return "party"
	}
}
