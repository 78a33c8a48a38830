package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/claude-studio/pairlink/control"
	"github.com/claude-studio/pairlink/internal/cmdutil"
	"github.com/claude-studio/pairlink/relay/protocol"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		roleStr       string
		allowRemote   bool
		unlockSecret  string
		autoLockDelay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run --role desktop|mobile",
		Short: "Run an endpoint with its interactive console",
		Long: `Run connects this device to the relay and keeps it online until
interrupted. Relay events are emitted as JSON lines on stdout; a line-based
console on stdin drives pairing and control.

Desktop console:
  pair                  start a pairing offer and print the QR payload
  unlock <secret>       take control back (a bare six-digit line works too)
  unpair <device-id>    revoke a pairing
  status                print connection and control state
  quit                  shut down

Mobile console:
  devices               list paired desktops
  control <device-id>   ask a desktop for control
  release <device-id>   hand control back
  unpair <device-id>    revoke a pairing
  send <device-id> <channel> [json-args]
                        invoke a command channel on the desktop
  quit                  shut down`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := protocol.ParseRole(roleStr)
			if err != nil {
				return &cmdutil.UsageError{Msg: fmt.Sprintf("invalid --role %q: must be desktop or mobile", roleStr)}
			}
			set, err := resolveSettings(opts)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("allow-remote") {
				set.allowRemote = allowRemote
			}
			if cmd.Flags().Changed("unlock-secret") {
				set.unlockSecret = unlockSecret
			}
			if cmd.Flags().Changed("auto-lock-delay") {
				set.autoLockDelay = autoLockDelay
			}
			if err := set.requireRelay(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			out := &lockedWriter{w: opts.stdout}
			if role == protocol.RoleDesktop {
				return runDesktop(ctx, stop, out, opts.stdin, set)
			}
			return runMobile(ctx, stop, out, opts.stdin, set)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&roleStr, "role", "", `endpoint role: "desktop" or "mobile" (required)`)
	fl.BoolVar(&allowRemote, "allow-remote", false, "desktop: accept control requests from paired mobiles")
	fl.StringVar(&unlockSecret, "unlock-secret", "", "desktop: six-digit unlock code (default "+control.DefaultUnlockSecret+")")
	fl.DurationVar(&autoLockDelay, "auto-lock-delay", 0, "desktop: grace period before an accepted takeover engages")
	return cmd
}

// lockedWriter serializes writes so event lines from the relay goroutine and
// the console cannot interleave.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// console reads stdin lines and dispatches them until EOF or shutdown. quit
// and exit stop the endpoint; EOF only ends the console. The buffer allows
// for pasted QR payloads and large JSON argument arrays.
func console(ctx context.Context, stdin io.Reader, stop context.CancelFunc, handle func(verb, rest string)) {
	sc := bufio.NewScanner(stdin)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		verb, rest, _ := strings.Cut(line, " ")
		if verb == "quit" || verb == "exit" {
			stop()
			return
		}
		handle(verb, strings.TrimSpace(rest))
	}
}

// parseArgsJSON turns the console's trailing JSON array into command args.
func parseArgsJSON(s string) ([]json.RawMessage, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var args []json.RawMessage
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return nil, fmt.Errorf("args must be a JSON array: %w", err)
	}
	return args, nil
}

func looksLikeSecret(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
