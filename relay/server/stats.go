package server

import (
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/claude-studio/pairlink/relay/protocol"
)

// usageRetention keeps usage entries visible for a while after the pair is
// revoked so a scrape right after the revoke still sees the totals.
const usageRetention = 2 * time.Minute

// usageEntry accumulates relayed traffic for one pair. Payload sizes are
// observed as transported; the relay cannot see plaintext.
type usageEntry struct {
	framesToDesktop atomic.Int64
	bytesToDesktop  atomic.Int64
	framesToMobile  atomic.Int64
	bytesToMobile   atomic.Int64
	closedAtMs      atomic.Int64 // unix ms of the unlink, 0 while live
}

// PairUsage is one row of a usage snapshot.
type PairUsage struct {
	DesktopID       string `json:"desktopId"`
	MobileID        string `json:"mobileId"`
	FramesToDesktop int64  `json:"framesToDesktop"`
	BytesToDesktop  int64  `json:"bytesToDesktop"`
	FramesToMobile  int64  `json:"framesToMobile"`
	BytesToMobile   int64  `json:"bytesToMobile"`
	Closed          bool   `json:"closed"`
}

func usageKey(desktopID, mobileID string) string {
	return desktopID + "|" + mobileID
}

// recordRelayUsage charges one forwarded relay frame to the sender's pair.
func (s *Server) recordRelayUsage(c *conn, to string, payloadLen int) {
	var key string
	toDesktop := c.role == protocol.RoleMobile
	if toDesktop {
		key = usageKey(to, c.deviceID)
	} else {
		key = usageKey(c.deviceID, to)
	}
	v, _ := s.usage.LoadOrStore(key, &usageEntry{})
	e := v.(*usageEntry)
	if toDesktop {
		e.framesToDesktop.Add(1)
		e.bytesToDesktop.Add(int64(payloadLen))
	} else {
		e.framesToMobile.Add(1)
		e.bytesToMobile.Add(int64(payloadLen))
	}
}

// markUsageClosed stamps the unlink time, keeping the earliest stamp when two
// revocations race.
func (s *Server) markUsageClosed(key string, now time.Time) {
	v, ok := s.usage.Load(key)
	if !ok {
		return
	}
	e := v.(*usageEntry)
	ms := now.UnixMilli()
	for {
		cur := e.closedAtMs.Load()
		if cur != 0 && cur <= ms {
			return
		}
		if e.closedAtMs.CompareAndSwap(cur, ms) {
			return
		}
	}
}

// pruneUsage drops entries whose pair closed more than usageRetention ago.
func (s *Server) pruneUsage(now time.Time) {
	cutoff := now.Add(-usageRetention).UnixMilli()
	s.usage.Range(func(k, v any) bool {
		e := v.(*usageEntry)
		if ms := e.closedAtMs.Load(); ms != 0 && ms < cutoff {
			s.usage.Delete(k)
		}
		return true
	})
}

// UsageSnapshot returns per-pair relay totals ordered by desktop then mobile id.
func (s *Server) UsageSnapshot() []PairUsage {
	var out []PairUsage
	s.usage.Range(func(k, v any) bool {
		desktopID, mobileID, ok := strings.Cut(k.(string), "|")
		if !ok {
			return true
		}
		e := v.(*usageEntry)
		out = append(out, PairUsage{
			DesktopID:       desktopID,
			MobileID:        mobileID,
			FramesToDesktop: e.framesToDesktop.Load(),
			BytesToDesktop:  e.bytesToDesktop.Load(),
			FramesToMobile:  e.framesToMobile.Load(),
			BytesToMobile:   e.bytesToMobile.Load(),
			Closed:          e.closedAtMs.Load() != 0,
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].DesktopID != out[j].DesktopID {
			return out[i].DesktopID < out[j].DesktopID
		}
		return out[i].MobileID < out[j].MobileID
	})
	return out
}
