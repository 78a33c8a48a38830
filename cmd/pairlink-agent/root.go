package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/claude-studio/pairlink/internal/cmdutil"
	plversion "github.com/claude-studio/pairlink/internal/version"
)

// rootOptions carries the persistent flag values and the process streams so
// subcommands stay testable.
type rootOptions struct {
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader

	configFile string
	storeDir   string
	serverURL  string
	token      string
	deviceName string
	logLevel   string
}

func newRootCmd(stdout, stderr io.Writer, stdin io.Reader) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr, stdin: stdin}
	cmd := &cobra.Command{
		Use:   "pairlink-agent",
		Short: "Desktop and mobile endpoint for the pairing relay",
		Long: `pairlink-agent runs one endpoint of the pairing relay: it connects a
desktop or mobile device, performs QR pairing, and exchanges end-to-end
encrypted traffic with its paired peer.

State lives in an owner-only store directory: the stable device id, E2EE
sessions with their replay counters, and the relay config a mobile saves
after claiming. Tokens and key material never appear in logs or output.

Events are printed as JSON lines on stdout; logs go to stderr.`,
		Version:       plversion.String(version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &cmdutil.UsageError{Msg: err.Error()}
	})

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "agent config file (default <store-dir>/agent.yaml)")
	pf.StringVar(&opts.storeDir, "store-dir", "", "state directory (default <user config dir>/pairlink)")
	pf.StringVar(&opts.serverURL, "server", "", "relay base URL, http(s) or ws(s)")
	pf.StringVar(&opts.token, "token", "", "relay bearer token")
	pf.StringVar(&opts.deviceName, "device-name", "", "device display name (default: hostname)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error (default info)")

	cmd.AddCommand(
		newRunCmd(opts),
		newPairCmd(opts),
		newClaimCmd(opts),
		newSendCmd(opts),
		newStatusCmd(opts),
	)
	return cmd
}

func newConsoleLogger(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	return zerolog.New(cw).Level(lvl).With().Timestamp().Logger(), nil
}

// emit writes one event JSON line on stdout. Events are the agent's machine
// interface; logs stay on stderr. Keys sort deterministically.
func emit(w io.Writer, event string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["event"] = event
	_ = cmdutil.WriteJSON(w, fields, false)
}
