package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/claude-studio/pairlink/client"
	"github.com/claude-studio/pairlink/internal/defaults"
	"github.com/claude-studio/pairlink/relay/protocol"
)

func newPairCmd(opts *rootOptions) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Create a pairing offer and print the QR payload",
		Long: `Pair connects as a desktop, registers a pairing offer with the relay, and
prints the QR payload for the mobile to claim. It stays online until the
claim completes or the wait budget runs out; --wait=0 prints the offer and
exits immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := resolveSettings(opts)
			if err != nil {
				return err
			}
			if err := set.requireRelay(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPair(ctx, &lockedWriter{w: opts.stdout}, set, wait)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", defaults.OfferTTL, "how long to wait for the mobile to claim (0 prints the offer and exits)")
	return cmd
}

func runPair(ctx context.Context, out io.Writer, set *settings, wait time.Duration) error {
	connected := make(chan struct{}, 1)
	accepted := make(chan client.PairedDevice, 1)
	cli, err := set.newClient(protocol.RoleDesktop, client.Handlers{
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
			emit(out, "relay-error", map[string]any{"message": message})
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
	offer, err := cli.BeginPairing()
	if err != nil {
		return err
	}
	emit(out, "pairing-offer", map[string]any{
		"deviceId":    cli.DeviceID(),
		"pairingCode": offer.PairingCode,
		"qr":          offer.QR,
	})
	if wait <= 0 {
		return nil
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case peer := <-accepted:
		emit(out, "pairing-accepted", map[string]any{
			"deviceId": peer.DeviceID, "deviceName": peer.DeviceName, "role": peer.Role,
		})
		return nil
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case <-t.C:
		return fmt.Errorf("pairing not claimed within %s", wait)
	}
}

// awaitConnect waits for the first connected transition, surfacing early Run
// exits and bounding the wait.
func awaitConnect(ctx context.Context, connected <-chan struct{}, runErr <-chan error, budget time.Duration) error {
	t := time.NewTimer(budget)
	defer t.Stop()
	select {
	case <-connected:
		return nil
	case err := <-runErr:
		if err == nil {
			err = errors.New("endpoint stopped before connecting")
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return fmt.Errorf("relay not reachable within %s", budget)
	}
}
