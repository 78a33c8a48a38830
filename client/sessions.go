package client

import (
	"sort"

	"github.com/claude-studio/pairlink/crypto/e2ee"
	"github.com/claude-studio/pairlink/plerrors"
	"github.com/claude-studio/pairlink/relay/protocol"
)

// persistEvery is the counter-flush cadence: every Nth encrypted send writes
// the session file. Pairing, revocation, and shutdown always flush.
const persistEvery = 5

// restoreSessions loads the persisted session map. Called once from New.
func (c *RelayClient) restoreSessions() error {
	file, err := c.store.LoadSessions()
	if err != nil {
		return err
	}
	for _, r := range file.Sessions {
		// Sends after the last flush are unaccounted for following a crash.
		// Skipping the whole flush window forward keeps outbound seqs
		// strictly increasing from the peer's point of view.
		sess, err := e2ee.RestoreSessionHex(r.DeviceID, r.DerivedKeyHex, r.OutboundSeq+persistEvery, r.LastInboundSeq)
		if err != nil {
			c.log.Warn().Str("peer", r.DeviceID).Err(err).Msg("unusable persisted session; dropped")
			continue
		}
		c.sessions[r.DeviceID] = sess
	}
	for _, d := range file.Devices {
		c.devices[d.DeviceID] = d
	}
	return nil
}

func (c *RelayClient) snapshotLocked() *SessionFile {
	f := &SessionFile{}
	for peer, sess := range c.sessions {
		out, in := sess.Counters()
		f.Sessions = append(f.Sessions, SessionRecord{
			DeviceID:       peer,
			DerivedKeyHex:  sess.KeyHex(),
			OutboundSeq:    out,
			LastInboundSeq: in,
		})
	}
	for _, d := range c.devices {
		f.Devices = append(f.Devices, d)
	}
	sort.Slice(f.Sessions, func(i, j int) bool { return f.Sessions[i].DeviceID < f.Sessions[j].DeviceID })
	sort.Slice(f.Devices, func(i, j int) bool { return f.Devices[i].DeviceID < f.Devices[j].DeviceID })
	return f
}

// flushState writes the current sessions and device records to the store and
// resets the send cadence.
func (c *RelayClient) flushState() error {
	c.mu.Lock()
	f := c.snapshotLocked()
	c.unsynced = 0
	c.mu.Unlock()
	return c.store.SaveSessions(f)
}

// removeSession drops and zeroizes the session and device record for peer.
// Callers flush afterwards.
func (c *RelayClient) removeSession(peer string) bool {
	c.mu.Lock()
	sess := c.sessions[peer]
	delete(c.sessions, peer)
	delete(c.devices, peer)
	c.mu.Unlock()
	if sess == nil {
		return false
	}
	sess.Zeroize()
	return true
}

// SendEncrypted seals plaintext for the paired peer and relays it. Returns
// ErrNoSession when no pairing exists for to.
func (c *RelayClient) SendEncrypted(to string, plaintext []byte) error {
	c.mu.Lock()
	sess := c.sessions[to]
	c.mu.Unlock()
	if sess == nil {
		return ErrNoSession
	}
	payload, seq, err := sess.Encrypt(plaintext)
	if err != nil {
		return plerrors.Wrap(plerrors.StageCrypto, plerrors.ClassifyCryptoCode(err), err)
	}
	if err := c.send(protocol.RelayTo(to, payload, seq)); err != nil {
		return err
	}
	c.mu.Lock()
	c.unsynced++
	flush := c.unsynced >= persistEvery
	c.mu.Unlock()
	if flush {
		if err := c.flushState(); err != nil {
			c.log.Warn().Err(err).Msg("session counter flush failed")
		}
	}
	return nil
}

// HasSession reports whether an E2EE session exists for peer.
func (c *RelayClient) HasSession(peer string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[peer] != nil
}

// PairedDevices returns the known paired peers sorted by device id.
func (c *RelayClient) PairedDevices() []PairedDevice {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PairedDevice, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
