package server

import (
	"sort"
	"sync"
	"time"
)

// Relation is one desktop and mobile paired under a user.
type Relation struct {
	UserID      string
	DesktopID   string
	MobileID    string
	DesktopName string
	MobileName  string
	PairedAt    time.Time
}

// DesktopInfo describes a desktop a user has paired with at some point.
type DesktopInfo struct {
	DeviceID string
	Name     string
}

// PairingGraph is the in-memory pair membership the router consults before
// forwarding anything between two devices. It is not durable: after a restart
// it refills from new claim events, and the endpoints keep the authoritative
// session state.
//
// Desktops stay in the per-user known set after an unlink so device lists can
// keep showing them, marked offline, until the process restarts.
type PairingGraph struct {
	mu    sync.Mutex
	rel   []Relation
	known map[string]map[string]string // userID -> desktopID -> latest name
}

func NewPairingGraph() *PairingGraph {
	return &PairingGraph{known: make(map[string]map[string]string)}
}

// Link adds the relation, replacing any existing entry for the same desktop
// and mobile under the same user.
func (g *PairingGraph) Link(r Relation) {
	g.mu.Lock()
	defer g.mu.Unlock()
	desktops := g.known[r.UserID]
	if desktops == nil {
		desktops = make(map[string]string)
		g.known[r.UserID] = desktops
	}
	desktops[r.DesktopID] = r.DesktopName
	for i := range g.rel {
		if g.rel[i].UserID == r.UserID && g.rel[i].DesktopID == r.DesktopID && g.rel[i].MobileID == r.MobileID {
			g.rel[i] = r
			return
		}
	}
	g.rel = append(g.rel, r)
}

// Unlink removes the relation joining the two device ids, in either role
// order, and returns it so the caller can notify the surviving side.
func (g *PairingGraph) Unlink(a, b string) (Relation, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.rel {
		if joins(g.rel[i], a, b) {
			r := g.rel[i]
			g.rel = append(g.rel[:i], g.rel[i+1:]...)
			return r, true
		}
	}
	return Relation{}, false
}

// AreLinked reports whether some relation joins the two device ids.
func (g *PairingGraph) AreLinked(a, b string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.rel {
		if joins(g.rel[i], a, b) {
			return true
		}
	}
	return false
}

// PeersOf returns the device ids paired with deviceID under userID.
func (g *PairingGraph) PeersOf(userID, deviceID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var peers []string
	for _, r := range g.rel {
		if r.UserID != userID {
			continue
		}
		switch deviceID {
		case r.DesktopID:
			peers = append(peers, r.MobileID)
		case r.MobileID:
			peers = append(peers, r.DesktopID)
		}
	}
	return peers
}

// DesktopsForUser returns every desktop the user has ever paired with,
// carrying the most recently registered name, ordered by device id.
func (g *PairingGraph) DesktopsForUser(userID string) []DesktopInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	desktops := g.known[userID]
	if len(desktops) == 0 {
		return nil
	}
	out := make([]DesktopInfo, 0, len(desktops))
	for id, name := range desktops {
		out = append(out, DesktopInfo{DeviceID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Len reports the number of live relations.
func (g *PairingGraph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rel)
}

func joins(r Relation, a, b string) bool {
	return (r.DesktopID == a && r.MobileID == b) || (r.DesktopID == b && r.MobileID == a)
}
