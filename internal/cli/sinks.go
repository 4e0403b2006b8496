package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/Paintersrp/agentmgr/internal/cliutil"
	"github.com/Paintersrp/agentmgr/internal/engine"
	"github.com/Paintersrp/agentmgr/internal/runtime"
)

// newLineSinks returns the sinks for the orchestrator's stdout and stderr
// lines. Text output writes each line verbatim to out or errOut; JSON output
// wraps each line in a cliutil.LogRecord.
func newLineSinks(format, process string, out, errOut io.Writer) (stdout, stderr func(string), err error) {
	switch format {
	case "", outputFormatText:
		return engine.LineWriter(out), engine.LineWriter(errOut), nil
	case outputFormatJSON:
		return jsonSink(process, runtime.LogSourceStdout, out, errOut),
			jsonSink(process, runtime.LogSourceStderr, errOut, errOut),
			nil
	default:
		return nil, nil, fmt.Errorf("unsupported output format %q (supported values: %s, %s)", format, outputFormatText, outputFormatJSON)
	}
}

func jsonSink(process, source string, w, errOut io.Writer) func(string) {
	enc := json.NewEncoder(w)
	return func(line string) {
		cliutil.EncodeLogRecord(enc, errOut, cliutil.NewLogRecord(process, source, line))
	}
}
