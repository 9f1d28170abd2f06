// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the per-repository configuration stored at .muse/config.json.
type Config struct {
	Author struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"author"`

	// WorkDir is the working-tree directory name relative to the
	// repository root. Defaults to "muse-work".
	WorkDir string `json:"work_dir"`

	LogLevel string `json:"log_level"` // debug, info, warn, error
}

// Default returns the configuration a fresh repository starts with.
// The author name falls back to MUSE_AUTHOR, then to the OS user.
func Default() *Config {
	cfg := &Config{
		WorkDir:  "muse-work",
		LogLevel: "warn",
	}
	cfg.Author.Name = os.Getenv("MUSE_AUTHOR")
	if cfg.Author.Name == "" {
		cfg.Author.Name = os.Getenv("USER")
	}
	return cfg
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg := Default()
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "muse-work"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "warn"
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
