package runner

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Executor starts commands in their own process group so a cancelled
// context takes down the whole tree (configure -> make -> cc ...).
type Executor struct{}

// Run starts cmd, with its stdio and environment already wired, and waits
// for it.
func (e *Executor) Run(ctx context.Context, cmd *exec.Cmd) error {
	isolate(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}

	pgid := cmd.Process.Pid
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			killGroup(pgid)
		case <-done:
		}
	}()

	if waitErr := cmd.Wait(); waitErr != nil {
		if ctx.Err() != nil {
			// give the group a moment to release inherited pipes
			time.Sleep(100 * time.Millisecond)
			return fmt.Errorf("command aborted: %w", ctx.Err())
		}
		return waitErr
	}
	return nil
}
