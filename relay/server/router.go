package server

import (
	"errors"
	"time"

	"github.com/claude-studio/pairlink/observability"
	"github.com/claude-studio/pairlink/relay/protocol"
)

// route dispatches one parsed client frame. Malformed frames earn an error
// frame back on the same connection; the connection itself stays up.
func (s *Server) route(c *conn, raw []byte) {
	f, err := protocol.ParseClientFrameWithConstraints(raw, s.constraints)
	if err != nil {
		s.rejectFrame(c, err)
		return
	}
	s.obs.FrameReceived(string(f.Type))
	switch f.Type {
	case protocol.TypeHeartbeat:
		s.send(c, protocol.Pong())
	case protocol.TypeRegisterPairing:
		s.handleRegisterPairing(c, f)
	case protocol.TypeClaimPairing:
		s.handleClaimPairing(c, f)
	case protocol.TypeRevokePairing:
		s.handleRevokePairing(c, f)
	case protocol.TypeRelay:
		s.handleRelay(c, f)
	case protocol.TypeControlRequest:
		s.handleControlRequest(c, f)
	case protocol.TypeControlAck, protocol.TypeControlRevoked:
		s.handleControlForward(c, f)
	}
}

func (s *Server) rejectFrame(c *conn, err error) {
	reason := observability.RejectReasonInvalidJSON
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		reason = observability.RejectReasonUnknownType
	case errors.Is(err, protocol.ErrMissingField), errors.Is(err, protocol.ErrInvalidSeq):
		reason = observability.RejectReasonMissingField
	case errors.Is(err, protocol.ErrPayloadTooLarge),
		errors.Is(err, protocol.ErrFrameTooLarge),
		errors.Is(err, protocol.ErrNameTooLong):
		reason = observability.RejectReasonPayloadTooLarge
	}
	s.obs.FrameRejected(reason)
	s.send(c, protocol.ErrorFrame(err.Error()))
}

func (s *Server) rejectRole(c *conn, msg string) {
	s.obs.FrameRejected(observability.RejectReasonRoleViolation)
	s.send(c, protocol.ErrorFrame(msg))
}

func (s *Server) handleRegisterPairing(c *conn, f *protocol.Frame) {
	if c.role != protocol.RoleDesktop {
		s.rejectRole(c, "only desktops can register pairings")
		return
	}
	name := f.DeviceName
	if name == "" {
		name = c.name
	}
	s.offers.Register(Offer{
		Code:        f.PairingCode,
		UserID:      c.userID,
		DesktopID:   c.deviceID,
		PublicKey:   f.PublicKey,
		DesktopName: name,
		CreatedAt:   time.Now(),
	})
	s.obs.PairingRegistered()
	s.obs.OfferCount(s.offers.Len())
	// The code doubles as a key-derivation input on the endpoints, so it
	// never goes to the log.
	s.log.Debug().Str("device_id", c.deviceID).Msg("pairing offer registered")
}

func (s *Server) handleClaimPairing(c *conn, f *protocol.Frame) {
	if c.role != protocol.RoleMobile {
		s.rejectRole(c, "only mobiles can claim pairings")
		return
	}
	now := time.Now()
	offer, status := s.offers.Consume(f.PairingCode, c.userID, now)
	switch status {
	case ConsumeMissExpired:
		s.obs.PairingClaimed(observability.ClaimResultExpired)
		s.send(c, protocol.ErrorFrame("pairing code expired"))
		return
	case ConsumeMissAbsent:
		s.obs.PairingClaimed(observability.ClaimResultNotFound)
		s.send(c, protocol.ErrorFrame("pairing code not found"))
		return
	case ConsumeMissWrongUser:
		// Indistinguishable from not-found on the wire; only the metric
		// records the cross-account attempt.
		s.obs.PairingClaimed(observability.ClaimResultWrongUser)
		s.send(c, protocol.ErrorFrame("pairing code not found"))
		return
	}
	s.graph.Link(Relation{
		UserID:      c.userID,
		DesktopID:   offer.DesktopID,
		MobileID:    c.deviceID,
		DesktopName: offer.DesktopName,
		MobileName:  c.name,
		PairedAt:    now,
	})
	s.obs.PairingClaimed(observability.ClaimResultOK)
	s.obs.OfferCount(s.offers.Len())
	s.log.Info().
		Str("desktop_id", offer.DesktopID).
		Str("mobile_id", c.deviceID).
		Msg("pairing claimed")
	if dc, ok := s.registry.Get(offer.DesktopID); ok {
		s.send(dc, protocol.PairingAccepted(f.PublicKey, c.deviceID, c.name))
	}
	s.send(c, protocol.PairingAccepted(offer.PublicKey, offer.DesktopID, offer.DesktopName))
}

func (s *Server) handleRevokePairing(c *conn, f *protocol.Frame) {
	rel, ok := s.graph.Unlink(c.deviceID, f.TargetDeviceID)
	if !ok {
		// Revoking an absent pair is a no-op, not an error; revocations
		// from both sides may cross on the wire.
		return
	}
	s.obs.PairingRevoked()
	s.markUsageClosed(usageKey(rel.DesktopID, rel.MobileID), time.Now())
	s.log.Info().
		Str("desktop_id", rel.DesktopID).
		Str("mobile_id", rel.MobileID).
		Str("revoked_by", c.deviceID).
		Msg("pairing revoked")
	if tc, ok := s.registry.Get(f.TargetDeviceID); ok {
		s.send(tc, protocol.PairingRevoked(c.deviceID))
	}
}

func (s *Server) handleRelay(c *conn, f *protocol.Frame) {
	if !s.graph.AreLinked(c.deviceID, f.To) {
		s.obs.FrameRejected(observability.RejectReasonNotPaired)
		s.send(c, protocol.ErrorFrame("not paired with target device"))
		return
	}
	tc, ok := s.registry.Get(f.To)
	if !ok {
		s.obs.FrameRejected(observability.RejectReasonTargetOffline)
		s.send(c, protocol.ErrorFrame("target device offline"))
		return
	}
	if s.send(tc, protocol.RelayFrom(c.deviceID, f.Payload, *f.Seq)) {
		s.obs.FrameForwarded(string(protocol.TypeRelay))
		s.recordRelayUsage(c, f.To, len(f.Payload))
	}
}

func (s *Server) handleControlRequest(c *conn, f *protocol.Frame) {
	if c.role != protocol.RoleMobile {
		s.rejectRole(c, "only mobiles can request control")
		return
	}
	if !s.graph.AreLinked(c.deviceID, f.TargetDesktopID) {
		s.obs.FrameRejected(observability.RejectReasonNotPaired)
		s.send(c, protocol.ErrorFrame("not paired with target device"))
		return
	}
	tc, ok := s.registry.Get(f.TargetDesktopID)
	if !ok {
		s.obs.FrameRejected(observability.RejectReasonTargetOffline)
		s.send(c, protocol.ErrorFrame("target device offline"))
		return
	}
	if s.send(tc, protocol.ControlRequestFrom(c.deviceID, c.name)) {
		s.obs.ControlRequested()
		s.obs.FrameForwarded(string(protocol.TypeControlRequest))
	}
}

// handleControlForward relays control-ack and control-revoked between the two
// sides of an existing pair.
func (s *Server) handleControlForward(c *conn, f *protocol.Frame) {
	if !s.graph.AreLinked(c.deviceID, f.To) {
		s.obs.FrameRejected(observability.RejectReasonNotPaired)
		s.send(c, protocol.ErrorFrame("not paired with target device"))
		return
	}
	tc, ok := s.registry.Get(f.To)
	if !ok {
		s.obs.FrameRejected(observability.RejectReasonTargetOffline)
		s.send(c, protocol.ErrorFrame("target device offline"))
		return
	}
	var out *protocol.Frame
	if f.Type == protocol.TypeControlAck {
		out = protocol.ControlAckFrom(c.deviceID, *f.Accepted)
	} else {
		out = protocol.ControlRevokedFrom(c.deviceID)
	}
	if s.send(tc, out) {
		s.obs.FrameForwarded(string(f.Type))
	}
}
