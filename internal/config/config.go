package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Collection names shared by every storage backend.
const (
	CollectionIdentity = "identity"
	CollectionContext  = "context"
	CollectionProfile  = "profile"
	CollectionWorking  = "working"
	CollectionLogs     = "logs"
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8080,
			Bind: "loopback",
		},
		Auth: AuthConfig{
			Mode:            "local",
			Issuer:          "nous",
			TokenTTLMinutes: 24 * 60,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			Firestore: FirestoreConfig{
				DatabaseID: "(default)",
			},
		},
		VFS: VFSConfig{
			Audit: true,
		},
		Limits: LimitsConfig{
			ChatPerMinute: 10,
			APIPerMinute:  60,
			DailyActions:  100,
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
