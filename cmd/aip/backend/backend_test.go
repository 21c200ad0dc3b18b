package backend

import (
	"context"
	"os"
	"path/filepath"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/aip-agents/aip/pkg/config"
	"github.com/aip-agents/aip/pkg/eventstream/kafka"
	"github.com/aip-agents/aip/pkg/eventstream/nop"
	"github.com/aip-agents/aip/pkg/storage/inmemory"
	"github.com/aip-agents/aip/pkg/storage/redis"
	"github.com/aip-agents/aip/pkg/storage/sqlite"
)

var _ = Describe("OpenStore", func() {
	var (
		ctx    context.Context
		tmpDir string
		logger *zap.Logger
	)

	BeforeEach(func() {
		ctx = context.Background()
		tmpDir = GinkgoT().TempDir()
		logger = zap.NewNop()
	})

	It("defaults to the in-memory store", func() {
		store, err := OpenStore(ctx, config.StorageConfig{}, tmpDir, logger)
		Expect(err).NotTo(HaveOccurred())
		Expect(store).To(BeAssignableToTypeOf(&inmemory.Driver{}))
	})

	It("opens SQLite at the configured path", func() {
		path := filepath.Join(tmpDir, "chat.db")
		store, err := OpenStore(ctx, config.StorageConfig{Driver: config.StorageSQLite, SQLitePath: path}, tmpDir, logger)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(store.Close)

		Expect(store).To(BeAssignableToTypeOf(&sqlite.Driver{}))
		Expect(path).To(BeAnExistingFile())
	})

	It("opens Redis", func() {
		mr, err := miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(mr.Close)

		store, err := OpenStore(ctx, config.StorageConfig{Driver: config.StorageRedis, RedisURL: "redis://" + mr.Addr()}, tmpDir, logger)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(store.Close)
		Expect(store).To(BeAssignableToTypeOf(&redis.Driver{}))
	})

	It("requires connection settings for network stores", func() {
		_, err := OpenStore(ctx, config.StorageConfig{Driver: config.StoragePostgres}, tmpDir, logger)
		Expect(err).To(MatchError(ContainSubstring("storage.postgres_dsn")))

		_, err = OpenStore(ctx, config.StorageConfig{Driver: config.StorageRedis}, tmpDir, logger)
		Expect(err).To(MatchError(ContainSubstring("storage.redis_url")))
	})

	It("rejects unknown drivers", func() {
		_, err := OpenStore(ctx, config.StorageConfig{Driver: "mongo"}, tmpDir, logger)
		Expect(err).To(MatchError(ContainSubstring("unknown storage driver")))
	})
})

var _ = Describe("OpenPublisher", func() {
	It("returns a no-op publisher without brokers", func() {
		pub, err := OpenPublisher(config.EventStreamConfig{KafkaBrokers: " , "}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		Expect(pub).To(BeAssignableToTypeOf(&nop.Publisher{}))
	})

	It("returns a Kafka publisher when brokers are set", func() {
		pub, err := OpenPublisher(config.EventStreamConfig{KafkaBrokers: "localhost:9092", KafkaTopic: "aip.messages"}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(pub.Close)
		Expect(pub).To(BeAssignableToTypeOf(&kafka.Publisher{}))
	})

	It("requires a topic", func() {
		_, err := OpenPublisher(config.EventStreamConfig{KafkaBrokers: "localhost:9092"}, zap.NewNop())
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("ResolveSQLitePath", func() {
	var origCwd, origXDG string

	BeforeEach(func() {
		var err error
		origCwd, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		origXDG = os.Getenv("XDG_DATA_HOME")
		Expect(os.Chdir(GinkgoT().TempDir())).To(Succeed())
		Expect(os.Setenv("XDG_DATA_HOME", "")).To(Succeed())
	})

	AfterEach(func() {
		Expect(os.Chdir(origCwd)).To(Succeed())
		Expect(os.Setenv("XDG_DATA_HOME", origXDG)).To(Succeed())
	})

	It("prefers an explicit path", func() {
		path, err := ResolveSQLitePath("/tmp/custom.db", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal("/tmp/custom.db"))
	})

	It("uses an existing database under XDG_DATA_HOME", func() {
		xdg := GinkgoT().TempDir()
		Expect(os.MkdirAll(filepath.Join(xdg, "aip"), 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(xdg, "aip", defaultDBName), nil, 0o600)).To(Succeed())
		Expect(os.Setenv("XDG_DATA_HOME", xdg)).To(Succeed())

		path, err := ResolveSQLitePath("", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal(filepath.Join(xdg, "aip", defaultDBName)))
	})

	It("falls back to aip.db in the config directory", func() {
		dir := GinkgoT().TempDir()
		path, err := ResolveSQLitePath("", dir)
		Expect(err).NotTo(HaveOccurred())

		abs, err := filepath.Abs(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal(filepath.Join(abs, defaultDBName)))
	})
})

var _ = Describe("OpenStack", func() {
	It("wires the chat service over the configured store", func() {
		cfg := config.NewDefaultConfig()
		stack, err := OpenStack(context.Background(), cfg, GinkgoT().TempDir(), zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(stack.Close)

		session, err := stack.Service.StartSession(context.Background(), "alice", "", nil)
		Expect(err).NotTo(HaveOccurred())

		got, err := stack.Store.GetSession(context.Background(), session.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.UserID).To(Equal("alice"))
		Expect(stack.Agent.BaseURL()).To(Equal(cfg.Agent.BaseURL))
	})

	It("fails on an unknown storage driver", func() {
		cfg := config.NewDefaultConfig()
		cfg.Storage.Driver = "mongo"
		_, err := OpenStack(context.Background(), cfg, GinkgoT().TempDir(), zap.NewNop())
		Expect(err).To(HaveOccurred())
	})
})
