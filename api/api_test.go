package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/aip-agents/aip/pkg/chat"
	"github.com/aip-agents/aip/pkg/storage"
	"github.com/aip-agents/aip/pkg/storage/inmemory"
)

var _ = Describe("Server", func() {
	var (
		server *Server
		store  *inmemory.Driver
		svc    *chat.Service
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewDriver()
		svc = chat.NewService(store, nil, nil, zap.NewNop())
		server = NewServer(Config{ListenAddr: ":0"}, svc, zap.NewNop())
	})

	AfterEach(func() {
		_ = server.Shutdown()
	})

	do := func(method, path, body string) (*http.Response, []byte) {
		var r io.Reader
		if body != "" {
			r = strings.NewReader(body)
		}
		req := httptest.NewRequest(method, path, r)
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := server.app.Test(req, -1)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp, data
	}

	seed := func(userID string, contents ...string) *storage.Session {
		session, err := svc.StartSession(ctx, userID, "", nil)
		Expect(err).NotTo(HaveOccurred())
		for i, content := range contents {
			role := storage.RoleUser
			if i%2 == 1 {
				role = storage.RoleAssistant
			}
			Expect(store.AppendMessage(ctx, &storage.Message{
				SessionID: session.ID,
				Role:      role,
				Content:   content,
			})).To(Succeed())
		}
		return session
	}

	It("answers ping and health", func() {
		resp, body := do(http.MethodGet, "/ping", "")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(string(body)).To(Equal(`"pong"`))

		resp, body = do(http.MethodGet, "/health", "")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(string(body)).To(ContainSubstring("healthy"))
	})

	Describe("POST /chat/sessions", func() {
		It("creates a session", func() {
			resp, body := do(http.MethodPost, "/chat/sessions", `{"user_id":"alice","agent_id":"general","metadata":{"source":"web"}}`)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var session storage.Session
			Expect(json.Unmarshal(body, &session)).To(Succeed())
			Expect(session.ID).NotTo(BeEmpty())
			Expect(session.UserID).To(Equal("alice"))
			Expect(session.AgentID).To(Equal("general"))
			Expect(session.Metadata).To(HaveKeyWithValue("source", "web"))
			Expect(store.Count()).To(Equal(1))
		})

		It("assigns anonymous sessions without a body", func() {
			resp, body := do(http.MethodPost, "/chat/sessions", "")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var session storage.Session
			Expect(json.Unmarshal(body, &session)).To(Succeed())
			Expect(session.UserID).To(Equal(chat.AnonymousUser))
		})

		It("rejects malformed JSON", func() {
			resp, body := do(http.MethodPost, "/chat/sessions", `{"user_id":`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(string(body)).To(ContainSubstring(`"error"`))
		})
	})

	Describe("GET /chat/sessions", func() {
		It("filters by user", func() {
			seed("alice")
			seed("alice")
			seed("bob")

			resp, body := do(http.MethodGet, "/chat/sessions?user_id=alice", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out SessionsResponse
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.Count).To(Equal(2))
			for _, s := range out.Sessions {
				Expect(s.UserID).To(Equal("alice"))
			}
		})

		It("returns an empty array when nothing matches", func() {
			_, body := do(http.MethodGet, "/chat/sessions?user_id=nobody", "")
			Expect(string(body)).To(ContainSubstring(`"sessions":[]`))
		})
	})

	Describe("GET /chat/sessions/:id", func() {
		It("returns the session", func() {
			session := seed("alice", "hi", "hello")

			resp, body := do(http.MethodGet, "/chat/sessions/"+session.ID, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var got storage.Session
			Expect(json.Unmarshal(body, &got)).To(Succeed())
			Expect(got.MessageCount).To(Equal(2))
		})

		It("returns 404 for an unknown session", func() {
			resp, body := do(http.MethodGet, "/chat/sessions/missing", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(string(body)).To(ContainSubstring("session not found"))
		})
	})

	Describe("GET /chat/sessions/:id/messages", func() {
		var session *storage.Session

		BeforeEach(func() {
			contents := make([]string, 0, 60)
			for i := range 60 {
				contents = append(contents, fmt.Sprintf("m%02d", i))
			}
			session = seed("alice", contents...)
		})

		It("defaults to the newest 50 in chronological order", func() {
			resp, body := do(http.MethodGet, "/chat/sessions/"+session.ID+"/messages", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out MessagesResponse
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.Limit).To(Equal(chat.DefaultHistoryLimit))
			Expect(out.Messages).To(HaveLen(50))
			Expect(out.Messages[0].Content).To(Equal("m10"))
			Expect(out.Messages[49].Content).To(Equal("m59"))
		})

		It("honours the limit parameter", func() {
			_, body := do(http.MethodGet, "/chat/sessions/"+session.ID+"/messages?limit=3", "")

			var out MessagesResponse
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.Messages).To(HaveLen(3))
			Expect(out.Messages[2].Content).To(Equal("m59"))
		})

		DescribeTable("rejects bad limits",
			func(limit string) {
				resp, _ := do(http.MethodGet, "/chat/sessions/"+session.ID+"/messages?limit="+limit, "")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			},
			Entry("zero", "0"),
			Entry("negative", "-1"),
			Entry("not a number", "ten"),
			Entry("too large", "501"),
		)

		It("returns 404 for an unknown session", func() {
			resp, _ := do(http.MethodGet, "/chat/sessions/missing/messages", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})
})
