package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"nativedeps/internal/ui"
)

// notifyContext cancels the returned context on the first SIGINT or
// SIGTERM. A second signal exits the process with status 130.
func notifyContext(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go watchSignals(sigs, cancel, os.Exit, done)
	return ctx, func() {
		signal.Stop(sigs)
		close(done)
		cancel()
	}
}

func watchSignals(sigs <-chan os.Signal, cancel context.CancelFunc, exit func(int), done <-chan struct{}) {
	select {
	case sig := <-sigs:
		ui.Arrow.Print("\n-> ")
		ui.Printf(ui.Warn, "Received %v. Cancelling the build, press Ctrl+C again to exit now.\n", sig)
		cancel()
	case <-done:
		return
	}

	select {
	case <-sigs:
		ui.Arrow.Print("\n-> ")
		ui.Printf(ui.Error, "Second interrupt received. Forcing immediate exit.\n")
		exit(130)
	case <-done:
	}
}
