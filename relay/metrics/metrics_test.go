package metrics

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ = Describe("metrics", func() {
	It("registers every collector with a fresh registry", func() {
		reg := prometheus.NewRegistry()
		Expect(func() { Register(reg) }).NotTo(Panic())

		StreamEnd(OutcomeCompleted, 1, 0, time.Millisecond)
		families, err := reg.Gather()
		Expect(err).NotTo(HaveOccurred())

		names := make([]string, 0, len(families))
		for _, f := range families {
			names = append(names, f.GetName())
		}
		Expect(names).To(ContainElements(
			"aip_relay_streams_total",
			"aip_relay_chunks_total",
			"aip_relay_dropped_frames_total",
			"aip_relay_stream_duration_seconds",
		))
	})

	It("counts chunks and dropped frames per stream", func() {
		streams := testutil.ToFloat64(streamsTotal.WithLabelValues(OutcomeIncomplete))
		chunks := testutil.ToFloat64(chunksTotal)
		dropped := testutil.ToFloat64(droppedFramesTotal)

		StreamEnd(OutcomeIncomplete, 4, 2, time.Second)

		Expect(testutil.ToFloat64(streamsTotal.WithLabelValues(OutcomeIncomplete))).To(Equal(streams + 1))
		Expect(testutil.ToFloat64(chunksTotal)).To(Equal(chunks + 4))
		Expect(testutil.ToFloat64(droppedFramesTotal)).To(Equal(dropped + 2))
	})

	It("counts persistence results", func() {
		before := testutil.ToFloat64(persistJobsTotal.WithLabelValues("dropped"))
		PersistJob("dropped")
		Expect(testutil.ToFloat64(persistJobsTotal.WithLabelValues("dropped"))).To(Equal(before + 1))
	})
})
