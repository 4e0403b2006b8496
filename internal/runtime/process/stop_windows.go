//go:build windows

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

const stopGracePeriod = 2 * time.Second

func (p *processInstance) Stop(ctx context.Context) error {
	if p.cmd.Process == nil {
		return nil
	}
	// Attempt a graceful shutdown first.
	_ = p.cmd.Process.Signal(os.Interrupt)

	select {
	case <-p.waitDone:
		return p.exitError()
	case <-time.After(stopGracePeriod):
	case <-ctx.Done():
		return ctx.Err()
	}

	return p.Kill(ctx)
}

func (p *processInstance) Kill(ctx context.Context) error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process %s: %w", p.name, err)
	}
	select {
	case <-p.waitDone:
		return p.exitError()
	case <-ctx.Done():
		return ctx.Err()
	}
}
