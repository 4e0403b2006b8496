package relay

import (
	"bufio"
	"io"
)

// LineRelay copies lines from a source stream to a sink stream, writing each
// line followed by a single "\n" and flushing immediately.
//
// When the loop ends the relay closes both the source and the sink if they
// implement io.Closer. Closing the sink is what tells a downstream process
// that no more input is coming.
type LineRelay struct {
	*Task
	w *bufio.Writer
}

// NewLineRelay binds src to dst. The relay does not start until Run or
// Start is called.
func NewLineRelay(name string, src io.Reader, dst io.Writer, opts ...Option) *LineRelay {
	r := &LineRelay{
		Task: newTask(name, src, opts),
		w:    bufio.NewWriter(dst),
	}
	r.forward = r.writeLine
	r.finish = func() {
		closeQuietly(src)
		closeQuietly(dst)
	}
	return r
}

func (r *LineRelay) writeLine(line string) (string, error) {
	if _, err := r.w.WriteString(line); err != nil {
		return "write", err
	}
	if err := r.w.WriteByte('\n'); err != nil {
		return "write", err
	}
	if err := r.w.Flush(); err != nil {
		return "flush", err
	}
	return "", nil
}
