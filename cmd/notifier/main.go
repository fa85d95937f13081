// Notifier - Entry Point
//
// notifier shows desktop notifications on cron schedules read from a YAML
// file. `notifier run` is the long-running daemon; the other subcommands
// inspect and edit the schedule.
//
// Daemon lifecycle:
//  1. Load configuration and set up the structured logger
//  2. Take the single-instance lock
//  3. Open history, build sinks, start the dispatcher
//  4. Register the notifications and start ticking
//  5. Watch the notifications file and reload on change or SIGHUP
//  6. Notify systemd that the service is ready, start the watchdog
//  7. Wait for SIGTERM/SIGINT, then shut down in reverse order
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exit *exitError
		if !errors.As(err, &exit) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// exitError ends the process with status 1 after the command already
// printed its own diagnostic.
type exitError struct{ err error }

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }
