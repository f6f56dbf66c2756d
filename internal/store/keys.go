package store

import (
	"fmt"
	"strings"
)

// Key patterns for the shared ephemeral store. Every key carries a TTL; the
// system stays correct if any of them disappears early.
const (
	keyAttrs    = "attrs:%s"    // hash: gender, country, ts
	keyFilters  = "filters:%s"  // hash: genders, countries, ts (CSV lists)
	keyPair     = "pair:%s"     // hash: caller, callee, created
	keyPairMap  = "pairmap:%s"  // hash: pair, role, peer
	keySeen     = "seen:%s"     // set of recently paired peer ids
	keyClaim    = "claim:%s"    // candidate mutual-exclusion token
	keyPairLock = "lock:%s"     // unordered-pair mutual-exclusion token
	keyMatching = "matching:%s" // per-participant matchmaking-in-progress lock
	keyRate     = "mmrate:%s"   // matchmake attempt counter within a window

	keyWish     = "wish:%s"     // one-shot: "I want peer <value> back"
	keyWishedBy = "wishedby:%s" // one-shot dual: "<value> wants me back"
	keyLastPeer = "lastpeer:%s" // short-lived pointer to the previous peer

	keyOffer  = "offer:%s"    // pair id -> SDP offer blob
	keyAnswer = "answer:%s"   // pair id -> SDP answer blob
	keyICE    = "ice:%s:%s"   // per (pair id, role) candidate mailbox
	keyIdem   = "idem:%s:%s:%s" // (pair id, role, tag) processed marker

	// Queue indices. Scores are unix-milli enqueue timestamps; VIP entries use
	// a boosted (earlier) score so they sort ahead without breaking FIFO among
	// themselves.
	keyQueueAll        = "queue:all"
	keyQueueAllVIP     = "queue:vip:all"
	keyQueueGender     = "queue:g:%s"
	keyQueueGenderVIP  = "queue:vip:g:%s"
	keyQueueCountry    = "queue:c:%s"
	keyQueueCountryVIP = "queue:vip:c:%s"
)

func AttrsKey(id string) string    { return fmt.Sprintf(keyAttrs, id) }
func FiltersKey(id string) string  { return fmt.Sprintf(keyFilters, id) }
func PairKey(pairID string) string { return fmt.Sprintf(keyPair, pairID) }
func PairMapKey(id string) string  { return fmt.Sprintf(keyPairMap, id) }
func SeenKey(id string) string     { return fmt.Sprintf(keySeen, id) }
func ClaimKey(id string) string    { return fmt.Sprintf(keyClaim, id) }
func MatchingKey(id string) string { return fmt.Sprintf(keyMatching, id) }
func RateKey(id string) string     { return fmt.Sprintf(keyRate, id) }

func WishKey(id string) string     { return fmt.Sprintf(keyWish, id) }
func WishedByKey(id string) string { return fmt.Sprintf(keyWishedBy, id) }
func LastPeerKey(id string) string { return fmt.Sprintf(keyLastPeer, id) }

func OfferKey(pairID string) string  { return fmt.Sprintf(keyOffer, pairID) }
func AnswerKey(pairID string) string { return fmt.Sprintf(keyAnswer, pairID) }
func ICEKey(pairID, role string) string {
	return fmt.Sprintf(keyICE, pairID, role)
}
func IdemKey(pairID, role, tag string) string {
	return fmt.Sprintf(keyIdem, pairID, role, tag)
}

// PairLockKey builds the lock key for an unordered participant pair. Both
// orderings of (a, b) map to the same key.
func PairLockKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf(keyPairLock, a+"|"+b)
}

func QueueAllKey(vip bool) string {
	if vip {
		return keyQueueAllVIP
	}
	return keyQueueAll
}

func QueueGenderKey(gender string, vip bool) string {
	gender = strings.ToLower(gender)
	if vip {
		return fmt.Sprintf(keyQueueGenderVIP, gender)
	}
	return fmt.Sprintf(keyQueueGender, gender)
}

func QueueCountryKey(country string, vip bool) string {
	country = strings.ToUpper(country)
	if vip {
		return fmt.Sprintf(keyQueueCountryVIP, country)
	}
	return fmt.Sprintf(keyQueueCountry, country)
}
