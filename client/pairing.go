package client

import (
	"errors"
	"time"

	"github.com/claude-studio/pairlink/crypto/e2ee"
	"github.com/claude-studio/pairlink/internal/deviceid"
	"github.com/claude-studio/pairlink/internal/paircode"
	"github.com/claude-studio/pairlink/plerrors"
	"github.com/claude-studio/pairlink/qrpayload"
	"github.com/claude-studio/pairlink/relay/protocol"
)

// pendingPair is an in-flight pairing handshake. The desktop keeps its
// keypair until the mobile's public key arrives in pairing-accepted; the
// mobile pre-derives the whole session from the QR so frames that race ahead
// of pairing-accepted still decrypt.
type pendingPair struct {
	code    string
	keyPair *e2ee.KeyPair
	peerID  string
	session *e2ee.Session
}

// PairingOffer is the hand-off a desktop displays while its code is
// claimable. QR is the string content to render; it embeds the relay URL,
// token, pairing code, public key, and device id.
type PairingOffer struct {
	PairingCode string
	QR          string
}

// BeginPairing generates a fresh keypair and pairing code, registers the
// offer with the relay, and returns the QR hand-off. Desktop only. A second
// call replaces any handshake still in flight; regenerating the code is how
// a user abandons a QR that was displayed too long.
func (c *RelayClient) BeginPairing() (*PairingOffer, error) {
	if c.cfg.Role != protocol.RoleDesktop {
		return nil, ErrWrongRole
	}
	kp, err := e2ee.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	code := paircode.New()
	qr, err := qrpayload.Payload{
		ServerURL:   c.cfg.ServerURL,
		Token:       c.cfg.Token,
		PairingCode: code,
		PublicKey:   kp.PublicHex,
		DeviceID:    c.deviceID,
	}.Encode()
	if err != nil {
		return nil, err
	}

	c.setPending(&pendingPair{code: code, keyPair: kp})
	if err := c.send(protocol.RegisterPairing(code, kp.PublicHex, c.cfg.DeviceName)); err != nil {
		c.CancelPairing()
		return nil, err
	}
	c.log.Info().Msg("pairing offer registered")
	return &PairingOffer{PairingCode: code, QR: qr}, nil
}

// ClaimPairing claims a scanned offer. Mobile only. The session is derived
// before the claim goes out and committed when pairing-accepted arrives; a
// relay error frame (expired or unknown code) means the user rescans, and
// the next ClaimPairing replaces this attempt.
func (c *RelayClient) ClaimPairing(p qrpayload.Payload) error {
	if c.cfg.Role != protocol.RoleMobile {
		return ErrWrongRole
	}
	if err := deviceid.Validate(p.DeviceID); err != nil {
		return plerrors.Wrap(plerrors.StageProtocol, plerrors.CodeInvalidFormat, err)
	}
	kp, err := e2ee.GenerateKeyPair()
	if err != nil {
		return err
	}
	key, err := kp.DeriveKey(p.PublicKey, p.PairingCode)
	if err != nil {
		return plerrors.Wrap(plerrors.StageCrypto, plerrors.CodeInvalidFormat, err)
	}
	sess, err := e2ee.NewSession(p.DeviceID, key)
	if err != nil {
		return plerrors.Wrap(plerrors.StageCrypto, plerrors.CodeInvalidFormat, err)
	}

	c.setPending(&pendingPair{code: p.PairingCode, keyPair: kp, peerID: p.DeviceID, session: sess})
	if err := c.send(protocol.ClaimPairing(p.PairingCode, kp.PublicHex)); err != nil {
		c.CancelPairing()
		return err
	}
	c.log.Info().Str("desktop_id", p.DeviceID).Msg("pairing claim sent")
	return nil
}

// CancelPairing abandons any handshake in flight. The registered offer, if
// one exists, stays claimable on the relay until its TTL; a claim arriving
// after cancellation is dropped for lack of pending state.
func (c *RelayClient) CancelPairing() {
	c.setPending(nil)
}

func (c *RelayClient) setPending(p *pendingPair) {
	c.mu.Lock()
	old := c.pending
	c.pending = p
	c.mu.Unlock()
	if old != nil && old.session != nil {
		old.session.Zeroize()
	}
}

// completePairing commits the session when pairing-accepted arrives. Both
// roles land here: the desktop derives from the mobile's public key, the
// mobile promotes its pre-derived session.
func (c *RelayClient) completePairing(f *protocol.Frame) {
	c.mu.Lock()
	p := c.pending
	if p == nil {
		c.mu.Unlock()
		c.log.Warn().Str("peer", f.DeviceID).Msg("pairing-accepted with no pairing in flight; dropped")
		return
	}

	var sess *e2ee.Session
	switch c.cfg.Role {
	case protocol.RoleDesktop:
		key, err := p.keyPair.DeriveKey(f.PublicKey, p.code)
		if err == nil {
			sess, err = e2ee.NewSession(f.DeviceID, key)
		}
		if err != nil {
			c.pending = nil
			c.mu.Unlock()
			c.log.Error().Err(err).Str("peer", f.DeviceID).Msg("session derivation failed; pairing abandoned")
			return
		}
	case protocol.RoleMobile:
		if f.DeviceID != p.peerID {
			c.mu.Unlock()
			c.log.Warn().Str("peer", f.DeviceID).Msg("pairing-accepted for unexpected desktop; dropped")
			return
		}
		sess = p.session
	}

	// Re-pairing with the same peer replaces the previous session.
	if old := c.sessions[f.DeviceID]; old != nil {
		old.Zeroize()
	}
	c.sessions[f.DeviceID] = sess
	peer := PairedDevice{
		DeviceID:   f.DeviceID,
		DeviceName: f.DeviceName,
		Role:       string(peerRole(c.cfg.Role)),
		PairedAt:   time.Now().UTC(),
	}
	c.devices[f.DeviceID] = peer
	c.pending = nil
	c.mu.Unlock()

	if err := c.flushState(); err != nil {
		c.log.Warn().Err(err).Msg("session persist after pairing failed")
	}
	if c.cfg.Role == protocol.RoleMobile {
		if err := c.store.SaveRelayConfig(RelayConfig{ServerURL: c.cfg.ServerURL, Token: c.cfg.Token}); err != nil {
			c.log.Warn().Err(err).Msg("relay config persist failed")
		}
	}
	c.log.Info().
		Str("peer", f.DeviceID).
		Str("peer_name", f.DeviceName).
		Msg("pairing complete")
	c.cfg.Handlers.pairingAccepted(peer)
}

// RevokePairing tears down the pairing with target on both ends: the relay
// notifies target, and the local session and device record are removed. The
// local teardown happens even when the relay is unreachable; an unreachable
// peer finds out when its next inbound frame fails to decrypt.
func (c *RelayClient) RevokePairing(target string) error {
	sendErr := c.send(protocol.RevokePairing(target))
	c.removeSession(target)
	if err := c.flushState(); err != nil {
		c.log.Warn().Err(err).Msg("session persist after revocation failed")
	}
	c.log.Info().Str("peer", target).Msg("pairing revoked")
	if sendErr != nil && !errors.Is(sendErr, ErrNotConnected) && !errors.Is(sendErr, ErrClosed) {
		return sendErr
	}
	return nil
}

func peerRole(r protocol.Role) protocol.Role {
	if r == protocol.RoleDesktop {
		return protocol.RoleMobile
	}
	return protocol.RoleDesktop
}
