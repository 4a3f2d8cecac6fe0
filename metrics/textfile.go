package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kiln"

// counterSpec binds a counter name to a Snapshot field.
type counterSpec struct {
	name  string
	help  string
	value func(Snapshot) int64
}

var counterSpecs = []counterSpec{
	{"calls_started_total", "Dispatched calls.", func(s Snapshot) int64 { return s.CallsStarted }},
	{"calls_ok_total", "Calls that produced an ok outcome.", func(s Snapshot) int64 { return s.CallsOK }},
	{"calls_failed_total", "Calls that produced an error outcome.", func(s Snapshot) int64 { return s.CallsFailed }},
	{"cache_hits_total", "Persisted artifacts selected for execution.", func(s Snapshot) int64 { return s.CacheHits }},
	{"repairs_attempted_total", "Persisted artifact repairs attempted.", func(s Snapshot) int64 { return s.RepairsAttempted }},
	{"repairs_succeeded_total", "Persisted artifact repairs that succeeded.", func(s Snapshot) int64 { return s.RepairsSucceeded }},
	{"fresh_generations_total", "Generator requests in the fresh loop.", func(s Snapshot) int64 { return s.FreshGenerations }},
	{"guardrail_retries_total", "Retries after recoverable guardrail violations.", func(s Snapshot) int64 { return s.GuardrailRetries }},
	{"execution_retries_total", "Retries after runtime exceptions.", func(s Snapshot) int64 { return s.ExecutionRetries }},
	{"outcome_retries_total", "Retries after retriable error outcomes.", func(s Snapshot) int64 { return s.OutcomeRetries }},
	{"guardrail_exhausted_total", "Exhausted guardrail recovery lanes.", func(s Snapshot) int64 { return s.GuardrailExhausted }},
	{"outcome_exhausted_total", "Exhausted outcome repair lanes.", func(s Snapshot) int64 { return s.OutcomeExhausted }},
	{"terminal_violations_total", "Terminal guardrail violations.", func(s Snapshot) int64 { return s.TerminalViolations }},
	{"worker_starts_total", "Worker subprocess starts.", func(s Snapshot) int64 { return s.WorkerStarts }},
	{"worker_restarts_total", "Worker restarts after crash or timeout.", func(s Snapshot) int64 { return s.WorkerRestarts }},
	{"worker_crashes_total", "Worker exits observed mid-request.", func(s Snapshot) int64 { return s.WorkerCrashes }},
	{"worker_timeouts_total", "Worker requests that timed out.", func(s Snapshot) int64 { return s.WorkerTimeouts }},
	{"ipc_decode_errors_total", "Undecodable worker responses.", func(s Snapshot) int64 { return s.IPCDecodeErrors }},
	{"telemetry_write_success_total", "Successful telemetry writes.", func(s Snapshot) int64 { return s.TelemetryWriteSuccess }},
	{"telemetry_write_failure_total", "Failed telemetry writes.", func(s Snapshot) int64 { return s.TelemetryWriteFailure }},
}

// Registry builds a Prometheus registry holding the snapshot's counters.
// Dimension labels are attached as constant labels.
func Registry(s Snapshot) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{
		"role":            s.Role,
		"worker_codec":    s.WorkerCodec,
		"storage_backend": s.StorageBackend,
	}

	for _, spec := range counterSpecs {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        spec.name,
			Help:        spec.help,
			ConstLabels: labels,
		})
		c.Add(float64(spec.value(s)))
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	misses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "cache_misses_total",
		Help:        "Persisted artifact selection misses by reason.",
		ConstLabels: labels,
	}, []string{"reason"})
	for reason, n := range s.MissesByReason {
		misses.WithLabelValues(reason).Add(float64(n))
	}
	if err := reg.Register(misses); err != nil {
		return nil, err
	}

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "lifecycle_transitions_total",
		Help:        "Promotion lifecycle transitions by target state.",
		ConstLabels: labels,
	}, []string{"state"})
	for state, n := range s.TransitionsTo {
		transitions.WithLabelValues(state).Add(float64(n))
	}
	if err := reg.Register(transitions); err != nil {
		return nil, err
	}

	return reg, nil
}

// WriteTextfile writes the snapshot in Prometheus text format to path,
// for collection by the node exporter textfile collector.
func WriteTextfile(path string, s Snapshot) error {
	reg, err := Registry(s)
	if err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, reg)
}
