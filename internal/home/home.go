// Package home manages the harvest home directory layout.
//
// The home directory holds the optional configuration file, the index
// credentials file, the data-type map override and the persistent node
// identity. Nothing in it is required: every value has a default or can be
// supplied through flags and environment variables.
//
// Layout:
//
//	<root>/
//	  harvest.toml        (optional config file)
//	  es-auth.cfg         (optional index credentials: user, password)
//	  data-types.cfg      (optional dictionary type -> index type overrides)
//	  node_id             (persistent node identity, UUIDv7)
package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Dir represents a harvest home directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir using the platform-appropriate default location:
//   - Linux:   ~/.config/harvest
//   - macOS:   ~/Library/Application Support/harvest
//   - Windows: %APPDATA%/harvest
func Default() (Dir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, "harvest")}, nil
}

// Root returns the home directory path.
func (d Dir) Root() string {
	return d.root
}

// ConfigPath returns the path of the default config file.
func (d Dir) ConfigPath() string {
	return filepath.Join(d.root, "harvest.toml")
}

// AuthPath returns the default location of the index credentials file.
func (d Dir) AuthPath() string {
	return filepath.Join(d.root, "es-auth.cfg")
}

// DataTypesPath returns the default location of the data-type map override.
func (d Dir) DataTypesPath() string {
	return filepath.Join(d.root, "data-types.cfg")
}

// existing returns p if it names a regular file, otherwise "".
func existing(p string) string {
	if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
		return p
	}
	return ""
}

// ExistingConfigPath returns ConfigPath if the file exists, otherwise "".
func (d Dir) ExistingConfigPath() string {
	return existing(d.ConfigPath())
}

// EnsureExists creates the home directory (and parents) if it doesn't exist.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("create home directory %s: %w", d.root, err)
	}
	return nil
}

// NodeID reads the persistent node identity from <root>/node_id.
// If the file doesn't exist, a new UUIDv7 is generated and written.
// It is used as the node name when none is configured.
func (d Dir) NodeID() (string, error) {
	return d.readOrCreate("node_id", func() string {
		return uuid.Must(uuid.NewV7()).String()
	})
}

// readOrCreate reads a single-line value from <root>/<filename>.
// If the file doesn't exist, generate() provides the default which is persisted.
func (d Dir) readOrCreate(filename string, generate func() string) (string, error) {
	p := filepath.Join(d.root, filename)
	data, err := os.ReadFile(p) //nolint:gosec // G304: path is constructed from trusted home dir + constant filename
	if err == nil {
		if v := strings.TrimSpace(string(data)); v != "" {
			return v, nil
		}
	}
	v := generate()
	if err := os.WriteFile(p, []byte(v+"\n"), 0o640); err != nil { //nolint:gosec // G306: node-id file is not secret
		return "", fmt.Errorf("write %s: %w", filename, err)
	}
	return v, nil
}
