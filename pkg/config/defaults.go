package config

const (
	defaultAgentBaseURL        = "http://localhost:8000"
	defaultAgentTimeoutSeconds = 300

	defaultRelayListen  = ":8080"
	defaultRelayWorkers = 3
	defaultAPIListen    = ":8081"

	defaultStorageDriver = StorageMemory

	defaultClientRelayTarget = "http://localhost:8080"
	defaultClientAPITarget   = "http://localhost:8081"

	defaultKafkaTopic = "aip.messages"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Agent: AgentConfig{
			BaseURL:        defaultAgentBaseURL,
			TimeoutSeconds: defaultAgentTimeoutSeconds,
		},
		Relay: RelayConfig{
			Listen:  defaultRelayListen,
			Workers: defaultRelayWorkers,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Storage: StorageConfig{
			Driver: defaultStorageDriver,
		},
		Client: ClientConfig{
			RelayTarget: defaultClientRelayTarget,
			APITarget:   defaultClientAPITarget,
		},
		EventStream: EventStreamConfig{
			KafkaTopic: defaultKafkaTopic,
		},
	}
}
