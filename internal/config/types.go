package config

// Config is the root configuration for the NOUS backend.
type Config struct {
	Server  ServerConfig  `yaml:"server,omitempty"`
	Auth    AuthConfig    `yaml:"auth,omitempty"`
	Storage StorageConfig `yaml:"storage,omitempty"`
	VFS     VFSConfig     `yaml:"vfs,omitempty"`
	Limits  LimitsConfig  `yaml:"limits,omitempty"`
	Chat    ChatConfig    `yaml:"chat,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// ServerConfig controls the HTTP/WebSocket server.
type ServerConfig struct {
	Port           int       `yaml:"port,omitempty"`
	Bind           string    `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string    `yaml:"customBindHost,omitempty"`
	TLS            ServerTLS `yaml:"tls,omitempty"`
	AllowedOrigins []string  `yaml:"allowedOrigins,omitempty"`
}

// ServerTLS configures TLS for the server.
type ServerTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// AuthConfig configures user sessions.
type AuthConfig struct {
	Mode            string `yaml:"mode,omitempty"` // "local" | "mock"
	JWTSecret       string `yaml:"jwtSecret,omitempty"`
	Issuer          string `yaml:"issuer,omitempty"`
	TokenTTLMinutes int    `yaml:"tokenTTLMinutes,omitempty"`
}

// StorageConfig selects where documents and blobs live.
type StorageConfig struct {
	Backend   string          `yaml:"backend,omitempty"` // "sqlite" | "memory" | "firestore"
	Path      string          `yaml:"path,omitempty"`    // sqlite file; defaults to <data>/nous.db
	Firestore FirestoreConfig `yaml:"firestore,omitempty"`
	Blobs     BlobConfig      `yaml:"blobs,omitempty"`
}

// FirestoreConfig configures the Firestore REST document store.
type FirestoreConfig struct {
	ProjectID       string `yaml:"projectId,omitempty"`
	DatabaseID      string `yaml:"databaseId,omitempty"`
	CredentialsFile string `yaml:"credentialsFile,omitempty"`
	EmulatorHost    string `yaml:"emulatorHost,omitempty"`
}

// BlobConfig configures the blob VFS adapter.
type BlobConfig struct {
	Backend         string `yaml:"backend,omitempty"` // "" (disabled) | "filesystem" | "gcs"
	Dir             string `yaml:"dir,omitempty"`
	Bucket          string `yaml:"bucket,omitempty"`
	CredentialsFile string `yaml:"credentialsFile,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"` // gcs emulator, e.g. http://localhost:4443/storage/v1/
}

// VFSConfig controls encryption and access auditing.
type VFSConfig struct {
	Encrypt       bool     `yaml:"encrypt,omitempty"`
	EncryptPaths  []string `yaml:"encryptPaths,omitempty"` // path prefixes, e.g. "context:health"
	EncryptionKey string   `yaml:"encryptionKey,omitempty"` // base64, 32 bytes
	Audit         bool     `yaml:"audit,omitempty"`
}

// LimitsConfig mirrors the product rate limits.
type LimitsConfig struct {
	ChatPerMinute int `yaml:"chatPerMinute,omitempty"`
	APIPerMinute  int `yaml:"apiPerMinute,omitempty"`
	DailyActions  int `yaml:"dailyActions,omitempty"`
}

// ChatConfig controls the assistant chat.
type ChatConfig struct {
	ReplyDelayMs int    `yaml:"replyDelayMs,omitempty"`
	Greeting     string `yaml:"greeting,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}

// MetricsConfig toggles the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"`
}
