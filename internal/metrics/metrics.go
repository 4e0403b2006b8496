package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	linesRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentmgr",
		Name:      "lines_relayed_total",
		Help:      "Lines forwarded by each relay or drain task.",
	}, []string{"task"})

	bytesRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentmgr",
		Name:      "bytes_relayed_total",
		Help:      "Bytes forwarded by each relay or drain task, excluding line terminators.",
	}, []string{"task"})

	streamErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentmgr",
		Name:      "stream_errors_total",
		Help:      "Relay and drain tasks that ended on an I/O error.",
	}, []string{"task"})

	processStarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentmgr",
		Name:      "process_starts_total",
		Help:      "Child processes started, by role.",
	}, []string{"process"})

	launchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentmgr",
		Name:      "launch_failures_total",
		Help:      "Child processes that could not be started, by role.",
	}, []string{"process"})

	processExitCode = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "agentmgr",
		Name:      "process_exit_code",
		Help:      "Exit code of the most recent termination of each process.",
	}, []string{"process"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "agentmgr",
		Name:      "build_info",
		Help:      "Build metadata for the running agentmgr binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(linesRelayed, bytesRelayed, streamErrors, processStarts, launchFailures, processExitCode, buildInfo)
}

// Registry returns the Prometheus registry containing all agentmgr metrics.
func Registry() *prometheus.Registry {
	return registry
}

// ObserveLine records one forwarded line of the given size for a task.
func ObserveLine(task string, size int) {
	if task == "" {
		return
	}
	linesRelayed.WithLabelValues(task).Inc()
	if size > 0 {
		bytesRelayed.WithLabelValues(task).Add(float64(size))
	}
}

// IncStreamError counts a task that ended on an I/O error.
func IncStreamError(task string) {
	if task == "" {
		return
	}
	streamErrors.WithLabelValues(task).Inc()
}

// IncProcessStart counts a successful process launch.
func IncProcessStart(process string) {
	if process == "" {
		return
	}
	processStarts.WithLabelValues(process).Inc()
}

// IncLaunchFailure counts a failed process launch.
func IncLaunchFailure(process string) {
	label := process
	if label == "" {
		label = "unknown"
	}
	launchFailures.WithLabelValues(label).Inc()
}

// SetExitCode records the exit code of a terminated process.
func SetExitCode(process string, code int) {
	if process == "" {
		return
	}
	processExitCode.WithLabelValues(process).Set(float64(code))
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}

// ResetTask clears the per-task series.
func ResetTask(task string) {
	if task == "" {
		return
	}
	linesRelayed.DeleteLabelValues(task)
	bytesRelayed.DeleteLabelValues(task)
	streamErrors.DeleteLabelValues(task)
}
