// Package metrics holds the Prometheus collectors exported by the relay.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stream outcomes used as the "outcome" label.
const (
	OutcomeCompleted           = "completed"
	OutcomeIncomplete          = "incomplete"
	OutcomeAgentError          = "agent_error"
	OutcomeSourceError         = "source_error"
	OutcomeAborted             = "aborted"
	OutcomeUpstreamStatus      = "upstream_status"
	OutcomeUpstreamUnreachable = "upstream_unreachable"
)

var (
	streamsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aip_relay_streams_total",
			Help: "Number of relayed agent streams by outcome",
		},
		[]string{"outcome"},
	)

	chunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aip_relay_chunks_total",
			Help: "Number of chunks decoded from agent streams",
		},
	)

	droppedFramesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aip_relay_dropped_frames_total",
			Help: "Number of malformed data lines skipped while decoding agent streams",
		},
	)

	streamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aip_relay_stream_duration_seconds",
			Help:    "Time from upstream request to end of the relayed stream",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	persistJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aip_relay_persist_jobs_total",
			Help: "Assistant message persistence jobs by result",
		},
		[]string{"result"},
	)
)

// Register registers every relay collector with r.
func Register(r prometheus.Registerer) {
	r.MustRegister(streamsTotal, chunksTotal, droppedFramesTotal, streamDuration, persistJobsTotal)
}

// StreamEnd records a finished stream.
func StreamEnd(outcome string, chunks, dropped int, elapsed time.Duration) {
	streamsTotal.WithLabelValues(outcome).Inc()
	chunksTotal.Add(float64(chunks))
	droppedFramesTotal.Add(float64(dropped))
	streamDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// PersistJob records a persistence job result: "stored", "failed" or "dropped".
func PersistJob(result string) {
	persistJobsTotal.WithLabelValues(result).Inc()
}
