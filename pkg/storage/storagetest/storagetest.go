// Package storagetest holds the behaviour every storage.Store must share.
// Driver test suites call DescribeStore with a constructor for a fresh store.
package storagetest

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo DSL
	. "github.com/onsi/gomega"    //nolint:revive // gomega DSL

	"github.com/aip-agents/aip/pkg/storage"
)

// DescribeStore registers the shared Store specs. newStore is called before
// each spec and the returned store is closed after it.
func DescribeStore(newStore func() storage.Store) {
	var (
		store storage.Store
		ctx   context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = newStore()
	})

	AfterEach(func() {
		if store != nil {
			Expect(store.Close()).To(Succeed())
		}
	})

	newSession := func(userID string) *storage.Session {
		s := &storage.Session{UserID: userID, AgentID: "general"}
		Expect(store.CreateSession(ctx, s)).To(Succeed())
		return s
	}

	appendMsg := func(sessionID string, role storage.Role, content string) *storage.Message {
		m := &storage.Message{SessionID: sessionID, Role: role, Content: content}
		Expect(store.AppendMessage(ctx, m)).To(Succeed())
		return m
	}

	Describe("CreateSession", func() {
		It("assigns an ID and timestamps", func() {
			s := &storage.Session{UserID: "u1", Metadata: map[string]any{"title": "hello"}}
			Expect(store.CreateSession(ctx, s)).To(Succeed())

			Expect(s.ID).NotTo(BeEmpty())
			Expect(s.CreatedAt.IsZero()).To(BeFalse())
			Expect(s.LastMessageAt).To(BeTemporally("==", s.CreatedAt))

			got, err := store.GetSession(ctx, s.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.UserID).To(Equal("u1"))
			Expect(got.Metadata).To(HaveKeyWithValue("title", "hello"))
			Expect(got.CreatedAt).To(BeTemporally("==", s.CreatedAt))
			Expect(got.MessageCount).To(BeZero())
		})

		It("keeps a caller-chosen ID", func() {
			s := &storage.Session{ID: "fixed-id", UserID: "u1"}
			Expect(store.CreateSession(ctx, s)).To(Succeed())
			Expect(s.ID).To(Equal("fixed-id"))
		})

		It("rejects a duplicate ID", func() {
			Expect(store.CreateSession(ctx, &storage.Session{ID: "dup", UserID: "u1"})).To(Succeed())
			err := store.CreateSession(ctx, &storage.Session{ID: "dup", UserID: "u2"})
			Expect(err).To(MatchError(storage.ErrSessionExists))
		})

		It("requires a user ID", func() {
			err := store.CreateSession(ctx, &storage.Session{})
			Expect(err).To(BeAssignableToTypeOf(storage.ValidationError{}))
		})
	})

	Describe("GetSession", func() {
		It("returns NotFoundError for unknown sessions", func() {
			_, err := store.GetSession(ctx, "missing")
			Expect(storage.IsNotFound(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("missing"))
		})
	})

	Describe("ListSessions", func() {
		It("filters by user and orders by recent activity", func() {
			older := newSession("alice")
			newer := newSession("alice")
			newSession("bob")

			time.Sleep(2 * time.Millisecond)
			appendMsg(older.ID, storage.RoleUser, "bump")

			list, err := store.ListSessions(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(2))
			Expect(list[0].ID).To(Equal(older.ID))
			Expect(list[1].ID).To(Equal(newer.ID))
		})

		It("lists every session for an empty user", func() {
			newSession("alice")
			newSession("bob")

			list, err := store.ListSessions(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(2))
		})

		It("returns an empty list for an unknown user", func() {
			list, err := store.ListSessions(ctx, "nobody")
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(BeEmpty())
		})
	})

	Describe("AppendMessage", func() {
		It("updates the session counters", func() {
			s := newSession("alice")
			time.Sleep(2 * time.Millisecond)
			m := appendMsg(s.ID, storage.RoleUser, "hi")
			appendMsg(s.ID, storage.RoleAssistant, "hello")

			Expect(m.ID).NotTo(BeEmpty())

			got, err := store.GetSession(ctx, s.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.MessageCount).To(Equal(2))
			Expect(got.LastMessageAt).To(BeTemporally(">", s.CreatedAt))
		})

		It("returns NotFoundError for an unknown session", func() {
			err := store.AppendMessage(ctx, &storage.Message{SessionID: "missing", Role: storage.RoleUser, Content: "x"})
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})

		It("rejects unknown roles", func() {
			s := newSession("alice")
			err := store.AppendMessage(ctx, &storage.Message{SessionID: s.ID, Role: "robot"})
			Expect(err).To(BeAssignableToTypeOf(storage.ValidationError{}))
		})
	})

	Describe("ListMessages", func() {
		It("returns messages in chronological order with metadata", func() {
			s := newSession("alice")
			appendMsg(s.ID, storage.RoleUser, "héllo 日本")
			a := &storage.Message{
				SessionID: s.ID,
				Role:      storage.RoleAssistant,
				Content:   "hi",
				Metadata:  map[string]any{"agent": "general"},
			}
			Expect(store.AppendMessage(ctx, a)).To(Succeed())

			msgs, err := store.ListMessages(ctx, s.ID, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[0].Role).To(Equal(storage.RoleUser))
			Expect(msgs[0].Content).To(Equal("héllo 日本"))
			Expect(msgs[1].ID).To(Equal(a.ID))
			Expect(msgs[1].Metadata).To(HaveKeyWithValue("agent", "general"))
			Expect(msgs[1].CreatedAt).To(BeTemporally("==", a.CreatedAt))
		})

		It("returns the newest limit messages", func() {
			s := newSession("alice")
			for i := range 5 {
				appendMsg(s.ID, storage.RoleUser, fmt.Sprintf("m%d", i))
			}

			msgs, err := store.ListMessages(ctx, s.ID, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[0].Content).To(Equal("m3"))
			Expect(msgs[1].Content).To(Equal("m4"))
		})

		It("keeps append order for identical timestamps", func() {
			s := newSession("alice")
			at := storage.Now()
			for _, c := range []string{"a", "b", "c"} {
				m := &storage.Message{SessionID: s.ID, Role: storage.RoleUser, Content: c, CreatedAt: at}
				Expect(store.AppendMessage(ctx, m)).To(Succeed())
			}

			msgs, err := store.ListMessages(ctx, s.ID, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect([]string{msgs[0].Content, msgs[1].Content, msgs[2].Content}).To(Equal([]string{"a", "b", "c"}))
		})

		It("returns an empty list for a session without messages", func() {
			s := newSession("alice")
			msgs, err := store.ListMessages(ctx, s.ID, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(BeEmpty())
		})

		It("returns NotFoundError for an unknown session", func() {
			_, err := store.ListMessages(ctx, "missing", 10)
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})
	})
}
