package header

import (
	"net/http"
	"net/http/httptest"

	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("UpstreamRequestHeaders", func() {
	var (
		app *fiber.App
		hh  *Handler
		got http.Header
	)

	BeforeEach(func() {
		app = fiber.New()
		hh = NewHandler()
		got = nil

		app.Post("/test", func(c *fiber.Ctx) error {
			got = hh.UpstreamRequestHeaders(c)
			return c.SendStatus(fiber.StatusOK)
		})
	})

	AfterEach(func() {
		_ = app.Shutdown()
	})

	send := func(h map[string]string) {
		req := httptest.NewRequest(http.MethodPost, "/test", nil)
		for k, v := range h {
			req.Header.Set(k, v)
		}
		resp, err := app.Test(req)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
	}

	It("forwards end-to-end headers to the agent", func() {
		send(map[string]string{
			"Authorization": "Bearer token123",
			"X-Request-Id":  "req-1",
		})

		Expect(got.Get("Authorization")).To(Equal("Bearer token123"))
		Expect(got.Get("X-Request-Id")).To(Equal("req-1"))
	})

	It("strips hop-by-hop and body framing headers", func() {
		send(map[string]string{
			"Connection":      "keep-alive",
			"Accept-Encoding": "gzip, deflate, br",
			"Content-Type":    "application/json",
			"Accept":          "text/event-stream",
		})

		Expect(got.Get("Connection")).To(BeEmpty())
		Expect(got.Get("Host")).To(BeEmpty())
		Expect(got.Get("Accept-Encoding")).To(BeEmpty())
		Expect(got.Get("Content-Type")).To(BeEmpty())
		Expect(got.Get("Accept")).To(BeEmpty())
	})

	It("keeps relay-only headers away from the agent", func() {
		send(map[string]string{
			SessionIDHeader: "s1",
			UserIDHeader:    "u1",
		})

		Expect(got.Get(SessionIDHeader)).To(BeEmpty())
		Expect(got.Get(UserIDHeader)).To(BeEmpty())
	})
})

var _ = Describe("SetClientResponseHeaders", func() {
	var (
		app *fiber.App
		hh  *Handler
	)

	BeforeEach(func() {
		app = fiber.New()
		hh = NewHandler()
	})

	AfterEach(func() {
		_ = app.Shutdown()
	})

	respond := func(upstream http.Header) *http.Response {
		app.Get("/test", func(c *fiber.Ctx) error {
			hh.SetClientResponseHeaders(c, &http.Response{Header: upstream})
			return c.SendStatus(fiber.StatusOK)
		})

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/test", nil))
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		return resp
	}

	It("forwards standard agent response headers to the client", func() {
		resp := respond(http.Header{
			"Cache-Control": {"no-cache"},
			"X-Request-Id":  {"abc-123"},
		})

		Expect(resp.Header.Get("Cache-Control")).To(Equal("no-cache"))
		Expect(resp.Header.Get("X-Request-Id")).To(Equal("abc-123"))
	})

	It("strips hop-by-hop and encoding headers", func() {
		resp := respond(http.Header{
			"Connection":        {"keep-alive"},
			"Transfer-Encoding": {"chunked"},
			"Content-Encoding":  {"gzip"},
			"Content-Length":    {"1234"},
			"X-Request-Id":      {"abc-123"},
		})

		Expect(resp.Header.Get("Connection")).NotTo(Equal("keep-alive"))
		Expect(resp.Header.Get("Transfer-Encoding")).To(BeEmpty())
		Expect(resp.Header.Get("Content-Encoding")).To(BeEmpty())
		Expect(resp.Header.Get("Content-Length")).NotTo(Equal("1234"))
		Expect(resp.Header.Get("X-Request-Id")).To(Equal("abc-123"))
	})

	It("joins multi-value response headers with commas", func() {
		resp := respond(http.Header{"X-Multi": {"value1", "value2"}})
		Expect(resp.Header.Get("X-Multi")).To(Equal("value1, value2"))
	})
})
