package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/claude-studio/pairlink/client"
	"github.com/claude-studio/pairlink/command"
	"github.com/claude-studio/pairlink/internal/cmdutil"
	"github.com/claude-studio/pairlink/internal/defaults"
	"github.com/claude-studio/pairlink/relay/protocol"
)

func newSendCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <device-id> <channel> [json-args]",
		Short: "Invoke one command channel on a paired desktop",
		Long: `Send connects as a mobile, invokes one command channel on a paired desktop
over the E2EE session, prints the result as a JSON line, and exits. The
optional arguments are a single JSON array, e.g. '["HEAD~1", 20]'.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceID, channel := args[0], args[1]
			var callArgs []json.RawMessage
			if len(args) == 3 {
				parsed, err := parseArgsJSON(args[2])
				if err != nil {
					return &cmdutil.UsageError{Msg: err.Error()}
				}
				callArgs = parsed
			}
			set, err := resolveSettings(opts)
			if err != nil {
				return err
			}
			if err := set.requireRelay(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSend(ctx, &lockedWriter{w: opts.stdout}, set, deviceID, channel, callArgs)
		},
	}
	return cmd
}

func runSend(ctx context.Context, out io.Writer, set *settings, deviceID, channel string, args []json.RawMessage) error {
	connected := make(chan struct{}, 1)
	var caller *command.Caller
	cli, err := set.newClient(protocol.RoleMobile, client.Handlers{
		OnRelayPlaintext: func(from string, plaintext []byte) {
			caller.HandleEnvelope(from, plaintext)
		},
		OnConnectionState: func(up bool) {
			if up {
				select {
				case connected <- struct{}{}:
				default:
				}
			}
		},
		OnError: func(message string) {
			emit(out, "relay-error", map[string]any{"message": message})
		},
	})
	if err != nil {
		return err
	}
	defer cli.Close()

	// The session check needs no connection: pairings live in the store.
	if !cli.HasSession(deviceID) {
		return fmt.Errorf("no pairing with %s: claim a pairing first", deviceID)
	}

	caller, err = command.NewCaller(command.CallerConfig{Send: cli.SendEncrypted, Logger: set.logger})
	if err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- cli.Run(ctx) }()

	if err := awaitConnect(ctx, connected, runErr, defaults.ConnectTimeout); err != nil {
		return err
	}
	res, err := caller.Call(ctx, deviceID, channel, args)
	if err != nil {
		return err
	}
	emit(out, "result", map[string]any{"deviceId": deviceID, "channel": channel, "result": res})
	return nil
}
