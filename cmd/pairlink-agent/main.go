// Command pairlink-agent is the endpoint CLI: it runs a desktop or mobile
// device against a pairing relay, handles the QR pairing handshake, and
// proxies commands over the E2EE channel.
package main

import (
	"fmt"
	"os"

	"github.com/claude-studio/pairlink/internal/cmdutil"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	root := newRootCmd(os.Stdout, os.Stderr, os.Stdin)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if cmdutil.IsUsage(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
