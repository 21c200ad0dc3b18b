package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/aip-agents/aip/pkg/config"
)

var _ = Describe("Configer config", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "config-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	writeConfig := func(data string) {
		err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)
		Expect(err).NotTo(HaveOccurred())
	}

	Describe("LoadConfig", func() {
		It("returns default config when no config file exists", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).To(Equal(config.NewDefaultConfig()))
		})

		It("loads all config fields", func() {
			writeConfig(`version = 0

[agent]
base_url = "http://agents:9000"
timeout_seconds = 60

[relay]
listen = ":9090"
workers = 8

[api]
listen = ":9091"

[storage]
driver = "sqlite"
sqlite_path = "/tmp/aip.sqlite"
postgres_dsn = "postgres://localhost/aip"
redis_url = "redis://localhost:6379/1"

[client]
relay_target = "http://myhost:9090"
api_target = "http://myhost:9091"

[eventstream]
kafka_brokers = "k1:9092,k2:9092"
kafka_topic = "chat.events"
`)

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Agent.BaseURL).To(Equal("http://agents:9000"))
			Expect(cfg.Agent.TimeoutSeconds).To(Equal(uint(60)))
			Expect(cfg.Relay.Listen).To(Equal(":9090"))
			Expect(cfg.Relay.Workers).To(Equal(uint(8)))
			Expect(cfg.API.Listen).To(Equal(":9091"))
			Expect(cfg.Storage.Driver).To(Equal("sqlite"))
			Expect(cfg.Storage.SQLitePath).To(Equal("/tmp/aip.sqlite"))
			Expect(cfg.Storage.PostgresDSN).To(Equal("postgres://localhost/aip"))
			Expect(cfg.Storage.RedisURL).To(Equal("redis://localhost:6379/1"))
			Expect(cfg.Client.RelayTarget).To(Equal("http://myhost:9090"))
			Expect(cfg.Client.APITarget).To(Equal("http://myhost:9091"))
			Expect(cfg.EventStream.Brokers()).To(Equal([]string{"k1:9092", "k2:9092"}))
			Expect(cfg.EventStream.KafkaTopic).To(Equal("chat.events"))
		})

		It("fills in defaults for unset fields in a partial config", func() {
			writeConfig(`[agent]
base_url = "http://agents:9000"
`)

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())

			defaults := config.NewDefaultConfig()
			Expect(cfg.Agent.BaseURL).To(Equal("http://agents:9000"))
			Expect(cfg.Agent.TimeoutSeconds).To(Equal(defaults.Agent.TimeoutSeconds))
			Expect(cfg.Relay).To(Equal(defaults.Relay))
			Expect(cfg.API).To(Equal(defaults.API))
			Expect(cfg.Storage.Driver).To(Equal(config.StorageMemory))
			Expect(cfg.Client).To(Equal(defaults.Client))
			Expect(cfg.EventStream.KafkaTopic).To(Equal(defaults.EventStream.KafkaTopic))
		})

		It("returns error for malformed TOML", func() {
			writeConfig("not valid toml [[[")

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).To(HaveOccurred())
			Expect(cfg).To(BeNil())
		})

		It("returns error for unsupported config version", func() {
			writeConfig("version = 99\n")

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).To(MatchError(ContainSubstring("unsupported config version")))
			Expect(cfg).To(BeNil())
		})

		It("returns error for an unknown storage driver", func() {
			writeConfig("[storage]\ndriver = \"mongo\"\n")

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.LoadConfig()
			Expect(err).To(MatchError(ContainSubstring("unknown storage driver")))
		})
	})

	Describe("SaveConfig", func() {
		It("persists config to disk", func() {
			cfg := config.NewDefaultConfig()
			cfg.Agent.BaseURL = "http://agents:9000"
			cfg.Storage.Driver = config.StorageRedis
			cfg.Storage.RedisURL = "redis://cache:6379/0"

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.SaveConfig(cfg)).To(Succeed())

			_, err = os.Stat(filepath.Join(tmpDir, "config.toml"))
			Expect(err).NotTo(HaveOccurred())

			loaded, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(Equal(cfg))
		})

		It("returns error for nil config", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			Expect(c.SaveConfig(nil)).To(MatchError(ContainSubstring("nil config")))
		})
	})

	Describe("SetConfigValue", func() {
		var c *config.Configer

		BeforeEach(func() {
			var err error
			c, err = config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
		})

		It("sets a string config key", func() {
			Expect(c.SetConfigValue("agent.base_url", "http://agents:9000")).To(Succeed())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Agent.BaseURL).To(Equal("http://agents:9000"))
		})

		It("sets a uint config key", func() {
			Expect(c.SetConfigValue("relay.workers", "12")).To(Succeed())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Relay.Workers).To(Equal(uint(12)))
		})

		It("returns error for unknown key", func() {
			err := c.SetConfigValue("relay.upstream", "x")
			Expect(err).To(MatchError(ContainSubstring("unknown config key")))
		})

		It("returns error for invalid uint value", func() {
			err := c.SetConfigValue("agent.timeout_seconds", "soon")
			Expect(err).To(MatchError(ContainSubstring("invalid value for agent.timeout_seconds")))
		})

		It("validates storage.driver", func() {
			err := c.SetConfigValue("storage.driver", "mongo")
			Expect(err).To(MatchError(ContainSubstring("available: memory, sqlite, postgres, redis")))

			Expect(c.SetConfigValue("storage.driver", "postgres")).To(Succeed())
		})

		It("preserves existing values when setting a new key", func() {
			Expect(c.SetConfigValue("relay.listen", ":7000")).To(Succeed())
			Expect(c.SetConfigValue("api.listen", ":7001")).To(Succeed())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Relay.Listen).To(Equal(":7000"))
			Expect(cfg.API.Listen).To(Equal(":7001"))
		})
	})

	Describe("GetConfigValue", func() {
		var c *config.Configer

		BeforeEach(func() {
			var err error
			c, err = config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
		})

		It("gets a set config value", func() {
			Expect(c.SetConfigValue("client.relay_target", "http://remote:8080")).To(Succeed())

			val, err := c.GetConfigValue("client.relay_target")
			Expect(err).NotTo(HaveOccurred())
			Expect(val).To(Equal("http://remote:8080"))
		})

		It("returns default value when no config file exists", func() {
			val, err := c.GetConfigValue("agent.timeout_seconds")
			Expect(err).NotTo(HaveOccurred())
			Expect(val).To(Equal("300"))
		})

		It("returns empty string for key with no default", func() {
			val, err := c.GetConfigValue("storage.postgres_dsn")
			Expect(err).NotTo(HaveOccurred())
			Expect(val).To(BeEmpty())
		})

		It("returns error for unknown key", func() {
			_, err := c.GetConfigValue("nope")
			Expect(err).To(MatchError(ContainSubstring("unknown config key")))
		})
	})

	Describe("ValidConfigKeys", func() {
		It("returns every key in section order", func() {
			keys := config.ValidConfigKeys()
			Expect(keys).To(HaveLen(13))
			Expect(keys[0]).To(Equal("agent.base_url"))
			Expect(keys[len(keys)-1]).To(Equal("eventstream.kafka_topic"))
			for _, k := range keys {
				Expect(config.IsValidConfigKey(k)).To(BeTrue(), k)
			}
		})

		It("rejects unknown keys", func() {
			Expect(config.IsValidConfigKey("relay.provider")).To(BeFalse())
			Expect(config.IsValidConfigKey("")).To(BeFalse())
		})
	})
})

var _ = Describe("ParseConfigTOML", func() {
	It("returns empty config for empty input", func() {
		cfg, err := config.ParseConfigTOML([]byte(""))
		Expect(err).NotTo(HaveOccurred())
		Expect(*cfg).To(Equal(config.Config{}))
	})

	It("rejects invalid TOML", func() {
		_, err := config.ParseConfigTOML([]byte("[[["))
		Expect(err).To(MatchError(ContainSubstring("parsing config TOML")))
	})
})

var _ = Describe("EventStreamConfig", func() {
	It("trims and drops empty broker entries", func() {
		e := config.EventStreamConfig{KafkaBrokers: " a:9092, ,b:9092 ,"}
		Expect(e.Brokers()).To(Equal([]string{"a:9092", "b:9092"}))
	})

	It("returns nil when unset", func() {
		Expect(config.EventStreamConfig{}.Brokers()).To(BeNil())
	})
})
