package relay

import "io"

// Drain hands each line of a source stream to a sink callback. A sink that
// blocks stalls the drain, and with it the writer of the source once the OS
// pipe buffer fills.
type Drain struct {
	*Task
}

// NewDrain binds src to sink. The source is closed when the drain ends.
func NewDrain(name string, src io.Reader, sink func(line string), opts ...Option) *Drain {
	d := &Drain{Task: newTask(name, src, opts)}
	d.forward = func(line string) (string, error) {
		if sink != nil {
			sink(line)
		}
		return "", nil
	}
	d.finish = func() {
		closeQuietly(src)
	}
	return d
}
