package config

import (
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

const defaultBaseDir = ".nous"

// Paths holds resolved filesystem paths for NOUS data.
type Paths struct {
	Base   string // ~/.nous
	Config string // ~/.nous/config.yaml
	Data   string // ~/.nous/data
	Blobs  string // ~/.nous/blobs
	Logs   string // ~/.nous/logs
}

// ResolvePaths computes all standard paths from the home directory.
// If NOUS_HOME is set, it overrides the default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("NOUS_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	return Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		Data:   filepath.Join(base, "data"),
		Blobs:  filepath.Join(base, "blobs"),
		Logs:   filepath.Join(base, "logs"),
	}, nil
}

// EnsureDirs creates all standard directories if they don't exist.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Data, p.Blobs, p.Logs} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// DatabasePath returns the sqlite file used when storage.path is unset.
func (p Paths) DatabasePath(cfg StorageConfig) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return filepath.Join(p.Data, "nous.db")
}

// BlobDir returns the blob directory used when storage.blobs.dir is unset.
func (p Paths) BlobDir(cfg BlobConfig) string {
	if cfg.Dir != "" {
		return cfg.Dir
	}
	return p.Blobs
}

// ParseConfigPath splits a dotted config key such as "storage.blobs.bucket"
// into its segments.
func ParseConfigPath(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	if slices.Contains(parts, "") {
		return nil, &ConfigError{Message: "config path " + strconv.Quote(raw) + " contains an empty segment"}
	}
	return parts, nil
}

// parent walks to the map holding the last segment of path. With create,
// missing or non-map intermediates are replaced by empty maps.
func parent(root map[string]any, path []string, create bool) (map[string]any, bool) {
	m := root
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			if !create {
				return nil, false
			}
			next = map[string]any{}
			m[key] = next
		}
		m = next
	}
	return m, true
}

// GetValueAtPath returns the value stored at path.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	if len(path) == 0 {
		return root, true
	}
	m, ok := parent(root, path, false)
	if !ok {
		return nil, false
	}
	v, ok := m[path[len(path)-1]]
	return v, ok
}

// SetValueAtPath stores value at path, creating intermediate maps.
func SetValueAtPath(root map[string]any, path []string, value any) {
	if len(path) == 0 {
		return
	}
	m, _ := parent(root, path, true)
	m[path[len(path)-1]] = value
}

// UnsetValueAtPath removes the value at path and reports whether it was set.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	if len(path) == 0 {
		return false
	}
	m, ok := parent(root, path, false)
	if !ok {
		return false
	}
	key := path[len(path)-1]
	if _, ok := m[key]; !ok {
		return false
	}
	delete(m, key)
	return true
}
