package engine

import (
	"context"

	"github.com/Paintersrp/agentmgr/internal/relay"
)

// Task names used in logs, metrics and status reports.
const (
	TaskRelay  = "collector->orchestrator"
	TaskStdout = "orchestrator:stdout"
	TaskStderr = "orchestrator:stderr"
)

// Pipeline groups the relay and the two drains wired between the collector
// and the orchestrator.
type Pipeline struct {
	Relay  *relay.LineRelay
	Stdout *relay.Drain
	Stderr *relay.Drain
}

// Tasks returns the task handles in wiring order.
func (p *Pipeline) Tasks() []*relay.Task {
	if p == nil {
		return nil
	}
	return []*relay.Task{p.Relay.Task, p.Stdout.Task, p.Stderr.Task}
}

// Start launches every task in its own goroutine.
func (p *Pipeline) Start() {
	for _, task := range p.Tasks() {
		task.Start()
	}
}

// Wait blocks until every task has ended or ctx is done. The results are
// returned in wiring order; on ctx expiry they are snapshots.
func (p *Pipeline) Wait(ctx context.Context) ([]relay.Result, error) {
	tasks := p.Tasks()
	results := make([]relay.Result, len(tasks))
	var firstErr error
	for i, task := range tasks {
		res, err := task.Wait(ctx)
		results[i] = res
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return results, firstErr
}

// Cancel stops every task that is still running.
func (p *Pipeline) Cancel() {
	for _, task := range p.Tasks() {
		task.Cancel()
	}
}
