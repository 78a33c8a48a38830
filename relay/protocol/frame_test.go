package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestParseClientFrameValid(t *testing.T) {
	cases := []struct {
		name string
		in   string
		typ  Type
	}{
		{"heartbeat", `{"type":"heartbeat"}`, TypeHeartbeat},
		{"register", `{"type":"register-pairing","pairingCode":"c1","publicKey":"04aa","deviceName":"Studio"}`, TypeRegisterPairing},
		{"claim", `{"type":"claim-pairing","pairingCode":"c1","publicKey":"04bb"}`, TypeClaimPairing},
		{"revoke", `{"type":"revoke-pairing","targetDeviceId":"d1"}`, TypeRevokePairing},
		{"relay", `{"type":"relay","to":"d1","payload":"AAAA","seq":0}`, TypeRelay},
		{"control-request", `{"type":"control-request","targetDesktopId":"d1"}`, TypeControlRequest},
		{"control-ack false", `{"type":"control-ack","to":"m1","accepted":false}`, TypeControlAck},
		{"control-revoked", `{"type":"control-revoked","to":"m1"}`, TypeControlRevoked},
	}
	for _, tc := range cases {
		f, err := ParseClientFrame([]byte(tc.in))
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if f.Type != tc.typ {
			t.Fatalf("%s: type = %s", tc.name, f.Type)
		}
	}
}

func TestParseClientFrameSeqZeroAndFalseAccepted(t *testing.T) {
	f, err := ParseClientFrame([]byte(`{"type":"relay","to":"d1","payload":"x","seq":0}`))
	if err != nil {
		t.Fatal(err)
	}
	if f.Seq == nil || *f.Seq != 0 {
		t.Fatalf("seq = %v, want explicit 0", f.Seq)
	}

	f, err = ParseClientFrame([]byte(`{"type":"control-ack","to":"m1","accepted":false}`))
	if err != nil {
		t.Fatal(err)
	}
	if f.Accepted == nil || *f.Accepted {
		t.Fatalf("accepted = %v, want explicit false", f.Accepted)
	}
}

func TestParseClientFrameRejections(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want error
	}{
		{"invalid json", `{`, ErrInvalidJSON},
		{"unknown type", `{"type":"subscribe"}`, ErrUnknownType},
		{"server type ingress", `{"type":"pong"}`, ErrUnknownType},
		{"register no code", `{"type":"register-pairing","publicKey":"04aa"}`, ErrMissingField},
		{"register no key", `{"type":"register-pairing","pairingCode":"c"}`, ErrMissingField},
		{"claim no key", `{"type":"claim-pairing","pairingCode":"c"}`, ErrMissingField},
		{"revoke no target", `{"type":"revoke-pairing"}`, ErrMissingField},
		{"relay no to", `{"type":"relay","payload":"x","seq":1}`, ErrMissingField},
		{"relay no payload", `{"type":"relay","to":"d","seq":1}`, ErrMissingField},
		{"relay no seq", `{"type":"relay","to":"d","payload":"x"}`, ErrMissingField},
		{"relay negative seq", `{"type":"relay","to":"d","payload":"x","seq":-2}`, ErrInvalidSeq},
		{"control-request no target", `{"type":"control-request"}`, ErrMissingField},
		{"control-ack no accepted", `{"type":"control-ack","to":"m"}`, ErrMissingField},
		{"control-revoked no to", `{"type":"control-revoked"}`, ErrMissingField},
	}
	for _, tc := range cases {
		if _, err := ParseClientFrame([]byte(tc.in)); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestParseClientFrameSizeGuards(t *testing.T) {
	big := `{"type":"relay","to":"d","seq":1,"payload":"` + strings.Repeat("A", 100) + `"}`
	c := Constraints{MaxFrameBytes: 64}
	if _, err := ParseClientFrameWithConstraints([]byte(big), c); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("frame guard: %v", err)
	}

	c = Constraints{MaxPayloadBytes: 50}
	if _, err := ParseClientFrameWithConstraints([]byte(big), c); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("payload guard: %v", err)
	}

	longName := `{"type":"register-pairing","pairingCode":"c","publicKey":"k","deviceName":"` + strings.Repeat("n", 200) + `"}`
	if _, err := ParseClientFrame([]byte(longName)); !errors.Is(err, ErrNameTooLong) {
		t.Fatalf("name guard: %v", err)
	}
}

func TestBuildersEncodeExpectedJSON(t *testing.T) {
	b, err := RelayFrom("d1", "cGF5", 3).Encode()
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, want := range []string{`"type":"relay"`, `"from":"d1"`, `"payload":"cGF5"`, `"seq":3`} {
		if !strings.Contains(s, want) {
			t.Fatalf("encoded %s missing %s", s, want)
		}
	}
	if strings.Contains(s, `"to"`) {
		t.Fatalf("forwarded relay should not carry to: %s", s)
	}

	b, err = ControlAck("m1", false).Encode()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"accepted":false`) {
		t.Fatalf("encoded %s missing explicit accepted=false", b)
	}

	b, err = DeviceList([]Device{{DeviceID: "d1", DeviceName: "Studio", Online: true}}).Encode()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"online":true`) {
		t.Fatalf("encoded %s missing online flag", b)
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole("desktop"); err != nil || r != RoleDesktop {
		t.Fatalf("desktop: (%v, %v)", r, err)
	}
	if r, err := ParseRole("mobile"); err != nil || r != RoleMobile {
		t.Fatalf("mobile: (%v, %v)", r, err)
	}
	for _, bad := range []string{"", "tablet", "Desktop"} {
		if _, err := ParseRole(bad); !errors.Is(err, ErrInvalidRole) {
			t.Fatalf("ParseRole(%q) = %v, want ErrInvalidRole", bad, err)
		}
	}
}
