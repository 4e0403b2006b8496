//go:build !windows

package process

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"
)

const stopGracePeriod = 2 * time.Second

func (p *processInstance) Stop(ctx context.Context) error {
	return p.terminate(ctx, false)
}

func (p *processInstance) Kill(ctx context.Context) error {
	return p.terminate(ctx, true)
}

func (p *processInstance) terminate(ctx context.Context, force bool) error {
	if p.cmd.Process == nil {
		return nil
	}
	select {
	case <-p.waitDone:
		return nil
	default:
	}

	if !force {
		// Attempt a graceful shutdown first.
		if err := p.signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("signal %s: %w", p.name, err)
		}

		select {
		case <-p.waitDone:
			return p.exitError()
		case <-time.After(stopGracePeriod):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := p.signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("kill %s: %w", p.name, err)
	}
	select {
	case <-p.waitDone:
		return p.exitError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// signal delivers sig to the child, or to its whole process group when the
// child was detached.
func (p *processInstance) signal(sig syscall.Signal) error {
	pid := p.cmd.Process.Pid
	if p.detached {
		pid = -pid
	}
	if err := syscall.Kill(pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}
