package protocol

// Constructors for every frame shape, so call sites never touch pointer
// fields directly.

func Heartbeat() *Frame {
	return &Frame{Type: TypeHeartbeat}
}

func RegisterPairing(code string, publicKey string, deviceName string) *Frame {
	return &Frame{Type: TypeRegisterPairing, PairingCode: code, PublicKey: publicKey, DeviceName: deviceName}
}

func ClaimPairing(code string, publicKey string) *Frame {
	return &Frame{Type: TypeClaimPairing, PairingCode: code, PublicKey: publicKey}
}

func RevokePairing(targetDeviceID string) *Frame {
	return &Frame{Type: TypeRevokePairing, TargetDeviceID: targetDeviceID}
}

func RelayTo(to string, payload string, seq int64) *Frame {
	s := seq
	return &Frame{Type: TypeRelay, To: to, Payload: payload, Seq: &s}
}

func ControlRequest(targetDesktopID string) *Frame {
	return &Frame{Type: TypeControlRequest, TargetDesktopID: targetDesktopID}
}

func ControlAck(to string, accepted bool) *Frame {
	a := accepted
	return &Frame{Type: TypeControlAck, To: to, Accepted: &a}
}

func ControlRevoked(to string) *Frame {
	return &Frame{Type: TypeControlRevoked, To: to}
}

func Pong() *Frame {
	return &Frame{Type: TypePong}
}

func PairingAccepted(peerPublicKey string, peerDeviceID string, peerDeviceName string) *Frame {
	return &Frame{Type: TypePairingAccepted, PublicKey: peerPublicKey, DeviceID: peerDeviceID, DeviceName: peerDeviceName}
}

func PairingRevoked(byDeviceID string) *Frame {
	return &Frame{Type: TypePairingRevoked, DeviceID: byDeviceID}
}

func RelayFrom(from string, payload string, seq int64) *Frame {
	s := seq
	return &Frame{Type: TypeRelay, From: from, Payload: payload, Seq: &s}
}

func DeviceOnline(deviceID string, deviceName string) *Frame {
	return &Frame{Type: TypeDeviceOnline, DeviceID: deviceID, DeviceName: deviceName}
}

func DeviceOffline(deviceID string, deviceName string) *Frame {
	return &Frame{Type: TypeDeviceOffline, DeviceID: deviceID, DeviceName: deviceName}
}

func DeviceList(devices []Device) *Frame {
	return &Frame{Type: TypeDeviceList, Devices: devices}
}

func ControlRequestFrom(from string, fromName string) *Frame {
	return &Frame{Type: TypeControlRequest, From: from, DeviceName: fromName}
}

func ControlAckFrom(from string, accepted bool) *Frame {
	a := accepted
	return &Frame{Type: TypeControlAck, From: from, Accepted: &a}
}

func ControlRevokedFrom(from string) *Frame {
	return &Frame{Type: TypeControlRevoked, From: from}
}

func ErrorFrame(message string) *Frame {
	return &Frame{Type: TypeError, Message: message}
}
