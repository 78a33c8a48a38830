package server

import (
	"sync"
	"time"
)

// Offer is an unclaimed pairing offer registered by a desktop. The public key
// inside it is the desktop's ephemeral ECDH key, stored verbatim and handed to
// the claiming mobile; the server never derives anything from it.
type Offer struct {
	Code        string
	UserID      string
	DesktopID   string
	PublicKey   string
	DesktopName string
	CreatedAt   time.Time
}

// ConsumeStatus tells apart the claim outcomes that look identical on the
// wire but count differently.
type ConsumeStatus int

const (
	ConsumeHit ConsumeStatus = iota
	ConsumeMissAbsent
	ConsumeMissExpired
	ConsumeMissWrongUser
)

// PairingStore holds unclaimed pairing offers keyed by code. Each offer can be
// consumed at most once, and only by a mobile of the registering user.
//
// Offers expire ttl after registration. Sweep removes them in bulk; Consume
// checks again so an expired offer can never be claimed between sweeps.
type PairingStore struct {
	ttl time.Duration

	mu     sync.Mutex
	offers map[string]Offer
}

func NewPairingStore(ttl time.Duration) *PairingStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PairingStore{ttl: ttl, offers: make(map[string]Offer)}
}

// Register stores the offer, replacing any unclaimed offer with the same code.
func (ps *PairingStore) Register(o Offer) {
	ps.mu.Lock()
	ps.offers[o.Code] = o
	ps.mu.Unlock()
}

// Consume claims the offer registered under code on behalf of userID.
//
// A hit removes the offer. An expired offer is removed and reported as
// ConsumeMissExpired. An offer that belongs to a different user is left in
// place so the owner can still claim it.
func (ps *PairingStore) Consume(code string, userID string, now time.Time) (Offer, ConsumeStatus) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	o, ok := ps.offers[code]
	if !ok {
		return Offer{}, ConsumeMissAbsent
	}
	if now.Sub(o.CreatedAt) > ps.ttl {
		delete(ps.offers, code)
		return Offer{}, ConsumeMissExpired
	}
	if o.UserID != userID {
		return Offer{}, ConsumeMissWrongUser
	}
	delete(ps.offers, code)
	return o, ConsumeHit
}

// Sweep removes every offer older than the TTL and reports how many it removed.
func (ps *PairingStore) Sweep(now time.Time) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	removed := 0
	for code, o := range ps.offers {
		if now.Sub(o.CreatedAt) > ps.ttl {
			delete(ps.offers, code)
			removed++
		}
	}
	return removed
}

// Len reports the number of unclaimed offers.
func (ps *PairingStore) Len() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.offers)
}
