package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"runtime"

	"github.com/claude-studio/pairlink/client"
	"github.com/claude-studio/pairlink/command"
	"github.com/claude-studio/pairlink/control"
	"github.com/claude-studio/pairlink/internal/cmdutil"
	"github.com/claude-studio/pairlink/internal/defaults"
	plversion "github.com/claude-studio/pairlink/internal/version"
	"github.com/claude-studio/pairlink/relay/protocol"
)

// desktopAgent ties the relay client, the control hand-off machine and the
// command dispatcher together for one desktop endpoint. Relay handlers fire
// on the client's read goroutine, which only starts once all three are wired.
type desktopAgent struct {
	set  *settings
	out  io.Writer
	cli  *client.RelayClient
	fsm  *control.FSM
	disp *command.Dispatcher
}

func runDesktop(ctx context.Context, stop context.CancelFunc, out io.Writer, stdin io.Reader, set *settings) error {
	da := &desktopAgent{set: set, out: out}

	cli, err := set.newClient(protocol.RoleDesktop, client.Handlers{
		OnRelayPlaintext: func(from string, plaintext []byte) {
			da.disp.HandleEnvelope(from, plaintext)
		},
		OnPairingAccepted: func(peer client.PairedDevice) {
			emit(out, "pairing-accepted", map[string]any{
				"deviceId": peer.DeviceID, "deviceName": peer.DeviceName, "role": peer.Role,
			})
		},
		OnPairingRevoked: func(byDeviceID string) {
			da.fsm.PairRevoked(byDeviceID)
			emit(out, "pairing-revoked", map[string]any{"deviceId": byDeviceID})
		},
		OnDeviceOnline: func(deviceID, deviceName string) {
			emit(out, "device-online", map[string]any{"deviceId": deviceID, "deviceName": deviceName})
		},
		OnDeviceOffline: func(deviceID, deviceName string) {
			da.fsm.PeerOffline(deviceID)
			emit(out, "device-offline", map[string]any{"deviceId": deviceID, "deviceName": deviceName})
		},
		OnControlRequest: func(from, fromName string) {
			emit(out, "control-request", map[string]any{"deviceId": from, "deviceName": fromName})
			da.fsm.HandleControlRequest(from)
		},
		OnRepairRequired: func(peer string, reason error) {
			emit(out, "repair-required", map[string]any{"deviceId": peer, "error": reason.Error()})
		},
		OnConnectionState: func(connected bool) {
			if !connected {
				da.fsm.Disconnected()
			}
			emit(out, "connection", map[string]any{"connected": connected})
		},
		OnError: func(message string) {
			emit(out, "relay-error", map[string]any{"message": message})
		},
	})
	if err != nil {
		return err
	}
	da.cli = cli
	defer cli.Close()

	fsm, err := control.New(control.Config{
		AllowRemote:   set.allowRemote,
		AutoLockDelay: set.autoLockDelay,
		UnlockSecret:  set.unlockSecret,
		HasSession:    cli.HasSession,
		SendAck:       cli.AckControl,
		SendRevoked:   cli.RevokeControl,
		OnStateChange: func(s control.State, controller string) {
			emit(out, "control", map[string]any{"state": string(s), "controller": controller})
		},
		Logger: set.logger,
	})
	if err != nil {
		if errors.Is(err, control.ErrBadSecret) {
			return &cmdutil.UsageError{Msg: "unlock secret must be six digits"}
		}
		return err
	}
	da.fsm = fsm
	defer fsm.Close()

	disp, err := command.NewDispatcher(command.DispatcherConfig{
		Send:           cli.SendEncrypted,
		CommandTimeout: defaults.CommandTimeout,
		Logger:         set.logger,
	})
	if err != nil {
		return err
	}
	registerBuiltins(disp, cli, set)
	da.disp = disp

	go console(ctx, stdin, stop, da.handle)

	set.logger.Info().Str("deviceId", cli.DeviceID()).Str("server", set.serverURL).Msg("desktop endpoint starting")
	if err := cli.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// registerBuiltins installs the channels the standalone agent can answer by
// itself. Hosts embedding the packages register the claude:*, sessions:*,
// git:* and files:* channels against their own runtimes.
func registerBuiltins(disp *command.Dispatcher, cli *client.RelayClient, set *settings) {
	disp.Register("app:info", func(ctx context.Context, args []json.RawMessage) (any, error) {
		return map[string]any{
			"app":        "pairlink-agent",
			"version":    plversion.String(version, commit, date),
			"os":         runtime.GOOS,
			"arch":       runtime.GOARCH,
			"deviceId":   cli.DeviceID(),
			"deviceName": set.deviceName,
		}, nil
	})
}

func (da *desktopAgent) handle(verb, rest string) {
	switch {
	case verb == "pair":
		offer, err := da.cli.BeginPairing()
		if err != nil {
			emit(da.out, "error", map[string]any{"message": err.Error()})
			return
		}
		emit(da.out, "pairing-offer", map[string]any{"pairingCode": offer.PairingCode, "qr": offer.QR})
	case verb == "unlock":
		da.unlock(rest)
	case looksLikeSecret(verb) && rest == "":
		da.unlock(verb)
	case verb == "unpair":
		if rest == "" {
			emit(da.out, "error", map[string]any{"message": "usage: unpair <device-id>"})
			return
		}
		if err := da.cli.RevokePairing(rest); err != nil {
			emit(da.out, "error", map[string]any{"message": err.Error()})
		}
	case verb == "status":
		emit(da.out, "status", map[string]any{
			"connected":  da.cli.Connected(),
			"state":      string(da.fsm.State()),
			"controller": da.fsm.Controller(),
		})
	default:
		emit(da.out, "error", map[string]any{"message": "unknown command: " + verb})
	}
}

func (da *desktopAgent) unlock(secret string) {
	if !looksLikeSecret(secret) {
		emit(da.out, "error", map[string]any{"message": "unlock secret must be six digits"})
		return
	}
	emit(da.out, "unlock", map[string]any{"accepted": da.fsm.TryUnlock(secret)})
}
