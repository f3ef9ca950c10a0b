package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Profile is the persisted vaultctl connection settings.
type Profile struct {
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token,omitempty"`
}

// LoadProfile reads path. A missing file yields an empty profile.
func LoadProfile(path string) (Profile, error) {
	var p Profile
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, err
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("parse %s: %w", path, err)
	}
	return p, nil
}

// SaveProfile writes p to path with owner-only permissions.
func SaveProfile(path string, p Profile) error {
	raw, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}
