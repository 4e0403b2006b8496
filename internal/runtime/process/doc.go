// Package process launches the collector and orchestrator as local child
// processes and exposes the parent's side of their standard streams.
//
// Each stream is an explicit os.Pipe rather than an exec.Cmd pipe helper:
// the parent owns its ends outright, so reaping the child never closes a
// reader that is still being drained.
//
// Process-group termination is only available on Unix, and only for specs
// that set Detach. Non-detached children (typically a sudo invocation that
// may need the terminal) receive signals directly; grandchildren must exit
// on their own once their parent does. On Windows Stop sends an interrupt
// and then kills the top-level process only.
package process
