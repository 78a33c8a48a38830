package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/claude-studio/pairlink/client"
	"github.com/claude-studio/pairlink/internal/defaults"
	"github.com/claude-studio/pairlink/qrpayload"
	"github.com/claude-studio/pairlink/relay/protocol"
)

func newClaimCmd(opts *rootOptions) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "claim <qr-payload>",
		Short: "Claim a pairing offer scanned from a desktop QR",
		Long: `Claim connects as a mobile and completes the pairing handshake from a
scanned QR payload. Pass the payload as the argument, or "-" to read it from
stdin. The relay URL and token ride in the payload and are saved to the
store on success, so later commands need no --server or --token.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := args[0]
			if raw == "-" {
				b, err := io.ReadAll(io.LimitReader(opts.stdin, qrpayload.MaxBytes+1))
				if err != nil {
					return err
				}
				raw = strings.TrimSpace(string(b))
			}
			p, err := qrpayload.Decode(raw)
			if err != nil {
				return err
			}
			set, err := resolveSettings(opts)
			if err != nil {
				return err
			}
			// The payload names the relay the desktop is on.
			set.serverURL = p.ServerURL
			set.token = p.Token
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runClaim(ctx, &lockedWriter{w: opts.stdout}, set, p, wait)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", time.Minute, "how long to wait for the pairing to complete")
	return cmd
}

func runClaim(ctx context.Context, out io.Writer, set *settings, p qrpayload.Payload, wait time.Duration) error {
	connected := make(chan struct{}, 1)
	accepted := make(chan client.PairedDevice, 1)
	rejected := make(chan string, 1)
	cli, err := set.newClient(protocol.RoleMobile, client.Handlers{
		OnConnectionState: func(up bool) {
			if up {
				select {
				case connected <- struct{}{}:
				default:
				}
			}
		},
		OnPairingAccepted: func(peer client.PairedDevice) {
			select {
			case accepted <- peer:
			default:
			}
		},
		OnError: func(message string) {
			select {
			case rejected <- message:
			default:
			}
		},
	})
	if err != nil {
		return err
	}
	defer cli.Close()

	runErr := make(chan error, 1)
	go func() { runErr <- cli.Run(ctx) }()

	if err := awaitConnect(ctx, connected, runErr, defaults.ConnectTimeout); err != nil {
		return err
	}
	if err := cli.ClaimPairing(p); err != nil {
		return err
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case peer := <-accepted:
		emit(out, "pairing-accepted", map[string]any{
			"deviceId": peer.DeviceID, "deviceName": peer.DeviceName, "role": peer.Role,
		})
		return nil
	case msg := <-rejected:
		return fmt.Errorf("claim rejected: %s", msg)
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return errors.New("endpoint stopped before the pairing completed")
	case <-t.C:
		return fmt.Errorf("pairing not accepted within %s", wait)
	}
}
