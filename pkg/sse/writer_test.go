package sse_test

import (
	"bytes"
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/aip-agents/aip/pkg/sse"
)

var _ = Describe("WriteChunk", func() {
	It("writes a single data line terminated by a blank line", func() {
		var buf bytes.Buffer
		Expect(sse.WriteChunk(&buf, sse.Chunk{Content: "Hi", Done: false})).To(Succeed())
		Expect(buf.String()).To(Equal("data: {\"content\":\"Hi\",\"done\":false}\n\n"))
	})

	It("produces frames that Decode reads back", func() {
		var buf bytes.Buffer
		Expect(sse.WriteChunk(&buf, sse.Chunk{Content: "line one\nline two\n\n", Done: false})).To(Succeed())
		Expect(sse.WriteChunk(&buf, sse.ErrorChunk("agent crashed"))).To(Succeed())

		var chunks []sse.Chunk
		summary, err := sse.Decode(context.Background(), &buf, func(c sse.Chunk) {
			chunks = append(chunks, c)
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Terminal).To(BeTrue())
		Expect(chunks).To(HaveLen(2))
		Expect(chunks[0].Content).To(Equal("line one\nline two\n\n"))
		Expect(chunks[1].IsError()).To(BeTrue())
		Expect(chunks[1].Content).To(Equal("Error: agent crashed"))
	})
})
