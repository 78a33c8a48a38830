//go:build !windows

package main

import (
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/rs/zerolog"
)

func notifySignals() []os.Signal {
	return []os.Signal{
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGHUP,
		syscall.SIGUSR1,
		syscall.SIGUSR2,
	}
}

func printSignalHelp(w io.Writer) {
	fmt.Fprintln(w, "Signals:")
	fmt.Fprintln(w, "  SIGHUP: reload auth keyfile and users allowlist")
	fmt.Fprintln(w, "  SIGUSR1: enable metrics (requires --metrics-listen)")
	fmt.Fprintln(w, "  SIGUSR2: disable metrics")
}

// handleSignal returns true if the signal was handled and the server should keep running.
func handleSignal(sig os.Signal, logger zerolog.Logger, reloadAuth func() error, metrics *metricsController) bool {
	switch sig {
	case syscall.SIGHUP:
		if reloadAuth == nil {
			return true
		}
		if err := reloadAuth(); err != nil {
			logger.Error().Err(err).Msg("auth keyfile reload failed")
		} else {
			logger.Info().Msg("auth keyfile reloaded")
		}
		return true
	case syscall.SIGUSR1:
		if metrics == nil {
			logger.Warn().Msg("metrics server disabled (missing --metrics-listen)")
			return true
		}
		metrics.Enable()
		logger.Info().Msg("metrics enabled")
		return true
	case syscall.SIGUSR2:
		if metrics != nil {
			metrics.Disable()
			logger.Info().Msg("metrics disabled")
		}
		return true
	default:
		return false
	}
}
