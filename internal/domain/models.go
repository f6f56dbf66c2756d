// Package domain defines the core entities of the matchmaking and signaling
// system: participant attributes, match filters, pairs, and pair mappings.
// None of these are durable — every instance lives in the shared ephemeral
// store under a TTL and is safe to lose.
package domain

import (
	"strings"
	"time"
)

// Role identifies which side of a pair a participant occupies. The caller
// creates and posts the SDP offer; the callee answers.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// Valid reports whether r is one of the two defined roles.
func (r Role) Valid() bool { return r == RoleCaller || r == RoleCallee }

// Peer returns the opposite role.
func (r Role) Peer() Role {
	if r == RoleCaller {
		return RoleCallee
	}
	return RoleCaller
}

// Wildcard values accepted in filters. Gender filters use lowercase "all",
// country filters the uppercase ISO-style "ALL"; both mean "no restriction".
const (
	AllGenders   = "all"
	AllCountries = "ALL"
)

// Attributes is a participant's self-published presence record. It is owned
// and overwritten by the participant's own polling client and read by the
// pairing engine when the participant shows up as a candidate.
type Attributes struct {
	Gender    string    `json:"gender"`
	Country   string    `json:"country"`
	Timestamp time.Time `json:"timestamp"`
}

// Filters describes which peers a participant is willing to be matched with.
// Matching is symmetric: each side's filters must accept the other side's
// attributes before a pair may be created.
type Filters struct {
	Genders   []string  `json:"wantedGenders"`
	Countries []string  `json:"wantedCountries"`
	Timestamp time.Time `json:"timestamp"`
}

// WantsAllGenders reports whether the gender filter is a wildcard.
func (f Filters) WantsAllGenders() bool {
	if len(f.Genders) == 0 {
		return true
	}
	for _, g := range f.Genders {
		if strings.EqualFold(g, AllGenders) {
			return true
		}
	}
	return false
}

// WantsAllCountries reports whether the country filter is a wildcard.
func (f Filters) WantsAllCountries() bool {
	if len(f.Countries) == 0 {
		return true
	}
	for _, c := range f.Countries {
		if strings.EqualFold(c, AllCountries) {
			return true
		}
	}
	return false
}

// Accepts reports whether these filters admit a peer with the given
// attributes. An empty attribute value passes only wildcard filters.
func (f Filters) Accepts(a Attributes) bool {
	if !f.WantsAllGenders() {
		ok := false
		for _, g := range f.Genders {
			if strings.EqualFold(g, a.Gender) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.WantsAllCountries() {
		ok := false
		for _, c := range f.Countries {
			if strings.EqualFold(c, a.Country) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// MutuallyCompatible reports whether a pair between the two participants is
// admissible: each side's filters must accept the other side's attributes.
// A unilateral match must never pair.
func MutuallyCompatible(aAttrs Attributes, aFilters Filters, bAttrs Attributes, bFilters Filters) bool {
	return aFilters.Accepts(bAttrs) && bFilters.Accepts(aAttrs)
}

// Pair is the committed record of a match between exactly two participants.
// Roles are fixed at creation time: the initiator of the successful
// matchmaking attempt becomes the caller.
type Pair struct {
	ID        string    `json:"pairId"`
	Caller    string    `json:"caller"`
	Callee    string    `json:"callee"`
	CreatedAt time.Time `json:"createdAt"`
}

// PeerOf returns the other participant of the pair and whether id is a
// member of the pair at all.
func (p Pair) PeerOf(id string) (string, bool) {
	switch id {
	case p.Caller:
		return p.Callee, true
	case p.Callee:
		return p.Caller, true
	}
	return "", false
}

// RoleOf returns the role id occupies within the pair.
func (p Pair) RoleOf(id string) (Role, bool) {
	switch id {
	case p.Caller:
		return RoleCaller, true
	case p.Callee:
		return RoleCallee, true
	}
	return "", false
}

// PairMap is the per-participant pointer to its current pair. Either side
// discovers a pairing made on its behalf by reading its own PairMap on the
// next poll. The record's TTL is refreshed by signaling activity.
type PairMap struct {
	PairID string `json:"pairId"`
	Role   Role   `json:"role"`
	PeerID string `json:"peerId"`
}

// Match is the result handed to the initiator of a successful matchmaking
// attempt. The counterpart learns about the pair from its own PairMap.
type Match struct {
	PairID string `json:"pairId"`
	Role   Role   `json:"role"`
	PeerID string `json:"peerId"`
}
