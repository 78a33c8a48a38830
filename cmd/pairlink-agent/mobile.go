package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/claude-studio/pairlink/client"
	"github.com/claude-studio/pairlink/command"
	"github.com/claude-studio/pairlink/relay/protocol"
)

// mobileAgent pairs the relay client with the command caller for one mobile
// endpoint.
type mobileAgent struct {
	set    *settings
	out    io.Writer
	ctx    context.Context
	cli    *client.RelayClient
	caller *command.Caller
}

func runMobile(ctx context.Context, stop context.CancelFunc, out io.Writer, stdin io.Reader, set *settings) error {
	ma := &mobileAgent{set: set, out: out, ctx: ctx}

	cli, err := set.newClient(protocol.RoleMobile, client.Handlers{
		OnRelayPlaintext: func(from string, plaintext []byte) {
			ma.caller.HandleEnvelope(from, plaintext)
		},
		OnPairingAccepted: func(peer client.PairedDevice) {
			emit(out, "pairing-accepted", map[string]any{
				"deviceId": peer.DeviceID, "deviceName": peer.DeviceName, "role": peer.Role,
			})
		},
		OnPairingRevoked: func(byDeviceID string) {
			emit(out, "pairing-revoked", map[string]any{"deviceId": byDeviceID})
		},
		OnDeviceOnline: func(deviceID, deviceName string) {
			emit(out, "device-online", map[string]any{"deviceId": deviceID, "deviceName": deviceName})
		},
		OnDeviceOffline: func(deviceID, deviceName string) {
			emit(out, "device-offline", map[string]any{"deviceId": deviceID, "deviceName": deviceName})
		},
		OnDeviceList: func(devices []protocol.Device) {
			emit(out, "device-list", map[string]any{"devices": devices})
		},
		OnControlAck: func(from string, accepted bool) {
			emit(out, "control-ack", map[string]any{"deviceId": from, "accepted": accepted})
		},
		OnControlRevoked: func(from string) {
			emit(out, "control-revoked", map[string]any{"deviceId": from})
		},
		OnRepairRequired: func(peer string, reason error) {
			emit(out, "repair-required", map[string]any{"deviceId": peer, "error": reason.Error()})
		},
		OnConnectionState: func(connected bool) {
			emit(out, "connection", map[string]any{"connected": connected})
		},
		OnError: func(message string) {
			emit(out, "relay-error", map[string]any{"message": message})
		},
	})
	if err != nil {
		return err
	}
	ma.cli = cli
	defer cli.Close()

	caller, err := command.NewCaller(command.CallerConfig{
		Send: cli.SendEncrypted,
		OnEvent: func(from, channel string, data json.RawMessage) {
			emit(out, "process-event", map[string]any{"deviceId": from, "channel": channel, "data": data})
		},
		Logger: set.logger,
	})
	if err != nil {
		return err
	}
	ma.caller = caller

	go console(ctx, stdin, stop, ma.handle)

	set.logger.Info().Str("deviceId", cli.DeviceID()).Str("server", set.serverURL).Msg("mobile endpoint starting")
	if err := cli.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (ma *mobileAgent) handle(verb, rest string) {
	switch verb {
	case "devices":
		emit(ma.out, "devices", map[string]any{"devices": ma.cli.PairedDevices()})
	case "control":
		ma.simple(rest, "control <device-id>", ma.cli.RequestControl)
	case "release":
		ma.simple(rest, "release <device-id>", ma.cli.RevokeControl)
	case "unpair":
		ma.simple(rest, "unpair <device-id>", ma.cli.RevokePairing)
	case "send":
		ma.send(rest)
	case "status":
		emit(ma.out, "status", map[string]any{
			"connected": ma.cli.Connected(),
			"pending":   ma.caller.Pending(),
		})
	default:
		emit(ma.out, "error", map[string]any{"message": "unknown command: " + verb})
	}
}

func (ma *mobileAgent) simple(deviceID, usage string, fn func(string) error) {
	if deviceID == "" || strings.ContainsRune(deviceID, ' ') {
		emit(ma.out, "error", map[string]any{"message": "usage: " + usage})
		return
	}
	if err := fn(deviceID); err != nil {
		emit(ma.out, "error", map[string]any{"message": err.Error()})
	}
}

// send invokes one command channel. The call blocks until the desktop
// answers, so it runs off the console loop; the caller enforces the timeout.
func (ma *mobileAgent) send(rest string) {
	deviceID, tail, _ := strings.Cut(rest, " ")
	channel, argsJSON, _ := strings.Cut(strings.TrimSpace(tail), " ")
	if deviceID == "" || channel == "" {
		emit(ma.out, "error", map[string]any{"message": "usage: send <device-id> <channel> [json-args]"})
		return
	}
	args, err := parseArgsJSON(argsJSON)
	if err != nil {
		emit(ma.out, "error", map[string]any{"message": err.Error()})
		return
	}
	go func() {
		res, err := ma.caller.Call(ma.ctx, deviceID, channel, args)
		if err != nil {
			emit(ma.out, "error", map[string]any{"deviceId": deviceID, "channel": channel, "message": err.Error()})
			return
		}
		emit(ma.out, "result", map[string]any{"deviceId": deviceID, "channel": channel, "result": res})
	}()
}
