package inmemory_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/aip-agents/aip/pkg/storage"
	"github.com/aip-agents/aip/pkg/storage/inmemory"
	"github.com/aip-agents/aip/pkg/storage/storagetest"
)

var _ = Describe("Driver", func() {
	storagetest.DescribeStore(func() storage.Store {
		return inmemory.NewDriver()
	})

	It("returns copies that callers cannot mutate", func() {
		ctx := context.Background()
		d := inmemory.NewDriver()

		s := &storage.Session{UserID: "u", Metadata: map[string]any{"k": "v"}}
		Expect(d.CreateSession(ctx, s)).To(Succeed())

		got, err := d.GetSession(ctx, s.ID)
		Expect(err).NotTo(HaveOccurred())
		got.Metadata["k"] = "changed"
		got.MessageCount = 99

		again, err := d.GetSession(ctx, s.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(again.Metadata).To(HaveKeyWithValue("k", "v"))
		Expect(again.MessageCount).To(BeZero())
		Expect(d.Count()).To(Equal(1))
	})
})
