package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultServiceURL is the production cloud endpoint used when no override is
// provided.
const DefaultServiceURL = "wss://printer2.polar3d.com/socket"

type Config struct {
	ServiceURL string `json:"service_url"`

	// Serial is the cloud-assigned serial number, empty until the device has
	// registered. Written back by the agent on registerResponse.
	Serial string `json:"serial,omitempty"`

	Email string `json:"email,omitempty"`

	// SnapshotURL is the local camera endpoint; snapshot uploads are disabled
	// when empty.
	SnapshotURL string `json:"snapshot_url,omitempty"`

	StateDir string `json:"state_dir,omitempty"`

	MoonrakerURL string `json:"moonraker_url"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	// Override service_url with environment variable if set
	if envURL := os.Getenv("SERVICE_URL"); envURL != "" {
		c.ServiceURL = envURL
	}
	if c.ServiceURL == "" {
		c.ServiceURL = DefaultServiceURL
	}
	if c.StateDir == "" {
		c.StateDir = "/var/lib/polar-connector"
	}

	return &c, nil
}

func (c *Config) Validate() error {
	if c.ServiceURL == "" {
		return errors.New("service_url is required")
	}
	if !strings.HasPrefix(c.ServiceURL, "ws://") && !strings.HasPrefix(c.ServiceURL, "wss://") {
		return errors.New("service_url must start with ws:// or wss://")
	}
	if c.MoonrakerURL == "" {
		return errors.New("moonraker_url is required")
	}
	if !strings.HasPrefix(c.MoonrakerURL, "http://") && !strings.HasPrefix(c.MoonrakerURL, "https://") {
		return errors.New("moonraker_url must start with http:// or https://")
	}
	if c.SnapshotURL != "" &&
		!strings.HasPrefix(c.SnapshotURL, "http://") && !strings.HasPrefix(c.SnapshotURL, "https://") {
		return fmt.Errorf("snapshot_url must start with http:// or https://")
	}
	return nil
}

// SaveAtomic writes config JSON to disk atomically: write temp + rename.
// Uses 0600 permissions because config stores the device serial.
func SaveAtomic(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if err := os.WriteFile(tmp, b, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Store persists the cloud-assigned serial into the config file. It is the
// settings store the identity layer consumes.
type Store struct {
	mu   sync.Mutex
	path string
	cfg  *Config
}

func NewStore(path string, cfg *Config) *Store {
	return &Store{path: path, cfg: cfg}
}

func (s *Store) Serial() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Serial
}

func (s *Store) SetSerial(serial string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Serial = serial
	return SaveAtomic(s.path, s.cfg)
}
