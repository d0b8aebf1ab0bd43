package config

import (
	"encoding/base64"
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		add("server.port", "port must be 0-65535, got %d", cfg.Server.Port)
	}
	validBinds := []string{"auto", "lan", "loopback", "custom"}
	if cfg.Server.Bind != "" && !slices.Contains(validBinds, cfg.Server.Bind) {
		add("server.bind", "must be one of %v, got %q", validBinds, cfg.Server.Bind)
	}
	if cfg.Server.TLS.Enabled && (cfg.Server.TLS.CertPath == "" || cfg.Server.TLS.KeyPath == "") {
		add("server.tls", "certPath and keyPath are required when TLS is enabled")
	}

	// Auth
	validAuthModes := []string{"local", "mock"}
	if cfg.Auth.Mode != "" && !slices.Contains(validAuthModes, cfg.Auth.Mode) {
		add("auth.mode", "must be one of %v, got %q", validAuthModes, cfg.Auth.Mode)
	}
	if cfg.Auth.JWTSecret != "" && len(cfg.Auth.JWTSecret) < 16 {
		add("auth.jwtSecret", "must be at least 16 characters")
	}
	if cfg.Auth.TokenTTLMinutes < 0 {
		add("auth.tokenTTLMinutes", "must not be negative, got %d", cfg.Auth.TokenTTLMinutes)
	}

	// Storage
	validBackends := []string{"sqlite", "memory", "firestore"}
	if cfg.Storage.Backend != "" && !slices.Contains(validBackends, cfg.Storage.Backend) {
		add("storage.backend", "must be one of %v, got %q", validBackends, cfg.Storage.Backend)
	}
	if cfg.Storage.Backend == "firestore" && cfg.Storage.Firestore.ProjectID == "" {
		add("storage.firestore.projectId", "required when storage.backend is firestore")
	}
	validBlobBackends := []string{"", "filesystem", "gcs"}
	if !slices.Contains(validBlobBackends, cfg.Storage.Blobs.Backend) {
		add("storage.blobs.backend", "must be one of %v, got %q", validBlobBackends, cfg.Storage.Blobs.Backend)
	}
	if cfg.Storage.Blobs.Backend == "gcs" && cfg.Storage.Blobs.Bucket == "" {
		add("storage.blobs.bucket", "required when storage.blobs.backend is gcs")
	}

	// VFS
	if cfg.VFS.EncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.VFS.EncryptionKey)
		if err != nil || len(key) != 32 {
			add("vfs.encryptionKey", "must be base64 encoding of 32 bytes")
		}
	}
	if cfg.VFS.Encrypt && cfg.VFS.EncryptionKey == "" {
		add("vfs.encryptionKey", "required when vfs.encrypt is true")
	}

	// Limits
	if cfg.Limits.ChatPerMinute < 0 {
		add("limits.chatPerMinute", "must not be negative, got %d", cfg.Limits.ChatPerMinute)
	}
	if cfg.Limits.APIPerMinute < 0 {
		add("limits.apiPerMinute", "must not be negative, got %d", cfg.Limits.APIPerMinute)
	}
	if cfg.Limits.DailyActions < 0 {
		add("limits.dailyActions", "must not be negative, got %d", cfg.Limits.DailyActions)
	}

	if cfg.Chat.ReplyDelayMs < 0 {
		add("chat.replyDelayMs", "must not be negative, got %d", cfg.Chat.ReplyDelayMs)
	}

	// Logging
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}
	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	return issues
}
