package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/aip-agents/aip/pkg/agent"
	"github.com/aip-agents/aip/pkg/sse"
)

var _ = Describe("Client", func() {
	var (
		server   *httptest.Server
		handler  http.HandlerFunc
		requests atomic.Int32
		client   *agent.Client
		ctx      context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		requests.Store(0)
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			handler(w, r)
		}))
		client = agent.NewClient(agent.Config{BaseURL: server.URL + "/"}, nil)
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("Stream", func() {
		It("posts the request and decodes chunks", func() {
			var got agent.Request
			handler = func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(r.Method).To(Equal(http.MethodPost))
				Expect(r.URL.Path).To(Equal("/chat/stream"))
				Expect(r.Header.Get("Accept")).To(Equal(sse.ContentType))
				Expect(json.NewDecoder(r.Body).Decode(&got)).To(Succeed())

				w.Header().Set("Content-Type", sse.ContentType)
				_, _ = io.WriteString(w, "data: {\"content\":\"Hel\",\"done\":false}\n\n")
				_, _ = io.WriteString(w, "data: {\"content\":\"lo\",\"done\":false}\n\n")
				_, _ = io.WriteString(w, "data: {\"content\":\"\",\"done\":true}\n\n")
			}

			var chunks []sse.Chunk
			summary, err := client.Stream(ctx, agent.Request{Message: "hi", SessionID: "s1"}, func(c sse.Chunk) {
				chunks = append(chunks, c)
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(summary.Terminal).To(BeTrue())
			Expect(chunks).To(HaveLen(3))
			Expect(chunks[0].Content + chunks[1].Content).To(Equal("Hello"))

			Expect(got.Message).To(Equal("hi"))
			Expect(got.SessionID).To(Equal("s1"))
			Expect(got.Stream).To(BeTrue())
		})

		It("returns a StatusError without decoding on non-2xx", func() {
			handler = func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = io.WriteString(w, "data: {\"content\":\"x\",\"done\":true}\n\nbusy")
			}

			called := false
			_, err := client.Stream(ctx, agent.Request{Message: "hi"}, func(sse.Chunk) { called = true })

			var se *agent.StatusError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(se.Body).To(ContainSubstring("busy"))
			Expect(called).To(BeFalse())
		})

		It("rejects an empty message before any I/O", func() {
			_, err := client.Stream(ctx, agent.Request{Message: ""}, func(sse.Chunk) {})
			Expect(err).To(MatchError(agent.ErrEmptyMessage))
			Expect(requests.Load()).To(BeZero())
		})

		It("sends a whitespace-only message as is", func() {
			var got agent.Request
			handler = func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(json.NewDecoder(r.Body).Decode(&got)).To(Succeed())
				w.Header().Set("Content-Type", sse.ContentType)
				_, _ = io.WriteString(w, "data: {\"content\":\"\",\"done\":true}\n\n")
			}

			_, err := client.Stream(ctx, agent.Request{Message: "   "}, func(sse.Chunk) {})
			Expect(err).NotTo(HaveOccurred())
			Expect(requests.Load()).To(Equal(int32(1)))
			Expect(got.Message).To(Equal("   "))
		})

		It("reports an aborted decode when the context is cancelled mid-stream", func() {
			release := make(chan struct{})
			handler = func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", sse.ContentType)
				_, _ = io.WriteString(w, "data: {\"content\":\"a\",\"done\":false}\n\n")
				w.(http.Flusher).Flush()
				<-release
			}
			defer close(release)

			cctx, cancel := context.WithCancel(ctx)
			_, err := client.Stream(cctx, agent.Request{Message: "hi"}, func(sse.Chunk) { cancel() })

			Expect(errors.Is(err, sse.ErrAborted)).To(BeTrue())
		})
	})

	It("sends extra headers without letting them override the content type", func() {
		var got http.Header
		handler = func(w http.ResponseWriter, r *http.Request) {
			got = r.Header.Clone()
			_ = json.NewEncoder(w).Encode(agent.Response{Response: "ok"})
		}

		_, err := client.Run(ctx, agent.Request{
			Message: "hi",
			Header: http.Header{
				"Authorization": []string{"Bearer t"},
				"Content-Type":  []string{"text/plain"},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Get("Authorization")).To(Equal("Bearer t"))
		Expect(got.Get("Content-Type")).To(Equal("application/json"))
	})

	Describe("Run", func() {
		It("returns the decoded response", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(r.URL.Path).To(Equal("/run"))
				_ = json.NewEncoder(w).Encode(agent.Response{Response: "hello", SessionID: "s1"})
			}

			resp, err := client.Run(ctx, agent.Request{Message: "hi"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Response).To(Equal("hello"))
			Expect(resp.SessionID).To(Equal("s1"))
		})

		It("returns a StatusError on failure", func() {
			handler = func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", http.StatusBadRequest)
			}

			_, err := client.Run(ctx, agent.Request{Message: "hi"})
			Expect(err).To(MatchError(ContainSubstring("agent returned status 400: nope")))
		})
	})

	Describe("Health", func() {
		It("accepts a healthy agent", func() {
			handler = func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `{"status":"healthy"}`)
			}
			Expect(client.Health(ctx)).To(Succeed())
		})

		It("rejects any other status", func() {
			handler = func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `{"status":"degraded"}`)
			}
			Expect(client.Health(ctx)).To(MatchError(ContainSubstring("degraded")))
		})
	})

	It("trims the trailing slash from the base URL", func() {
		Expect(client.BaseURL()).To(Equal(server.URL))
	})
})
