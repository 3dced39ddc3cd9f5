// Package config loads client and store daemon configuration from
// YAML files. Values not present in the file keep their defaults, so
// an empty file is a valid configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/scooked-app/scooked-go/pkg/discovery"
	"github.com/scooked-app/scooked-go/pkg/log"
	"github.com/scooked-app/scooked-go/pkg/record"
	"github.com/scooked-app/scooked-go/pkg/retry"
	"github.com/scooked-app/scooked-go/pkg/session"
	"github.com/scooked-app/scooked-go/pkg/store"
	"github.com/scooked-app/scooked-go/pkg/transport"
)

// ClientConfig configures the client binary.
type ClientConfig struct {
	// Scope is the top-level namespace for session records.
	Scope string `yaml:"scope"`

	// Identity is a fixed identity token. Empty means the identity is
	// derived from the device secret under StateDir.
	Identity string `yaml:"identity"`

	// StateDir holds the device secret and other local state.
	StateDir string `yaml:"state_dir"`

	Store   StoreEndpointConfig `yaml:"store"`
	Session SessionConfig       `yaml:"session"`
	Retry   RetryConfig         `yaml:"retry"`
	Log     LogConfig           `yaml:"log"`
}

// StoreEndpointConfig says how the client reaches a store daemon.
type StoreEndpointConfig struct {
	// Address is a fixed host:port. Empty means the store is located
	// via mDNS browsing.
	Address string `yaml:"address"`

	// DiscoveryTimeout bounds the mDNS search for a store daemon.
	DiscoveryTimeout Duration `yaml:"discovery_timeout"`

	// Interface restricts mDNS browsing to one network interface.
	Interface string `yaml:"interface"`

	// RequestTimeout bounds each request round trip to the store.
	RequestTimeout Duration `yaml:"request_timeout"`
}

// SessionConfig configures the session countdown.
type SessionConfig struct {
	Duration     Duration `yaml:"duration"`
	TickInterval Duration `yaml:"tick_interval"`
}

// RetryConfig configures the write retry policy.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	Multiplier  float64  `yaml:"multiplier"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is the console log level: debug, info, warn or error.
	Level string `yaml:"level"`

	// File is a path for the CBOR event trace. Empty disables it.
	File string `yaml:"file"`
}

// StoreConfig configures the store daemon binary.
type StoreConfig struct {
	// ListenAddress is the TCP listen address, host optional.
	ListenAddress string `yaml:"listen_address"`

	// Scope is the namespace this store serves.
	Scope string `yaml:"scope"`

	// StoreID names this store instance in mDNS advertisements.
	// Empty means an ID is generated at startup.
	StoreID string `yaml:"store_id"`

	// DataDir holds the document snapshot.
	DataDir string `yaml:"data_dir"`

	Discovery DiscoveryConfig `yaml:"discovery"`
	Log       LogConfig       `yaml:"log"`
}

// DiscoveryConfig configures mDNS advertisement.
type DiscoveryConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Interface string   `yaml:"interface"`
	TTL       Duration `yaml:"ttl"`
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Scope:    record.DefaultScope,
		StateDir: defaultStateDir(),
		Store: StoreEndpointConfig{
			DiscoveryTimeout: Duration(discovery.BrowseTimeout),
			RequestTimeout:   Duration(store.DefaultRequestTimeout),
		},
		Session: SessionConfig{
			Duration:     Duration(session.DefaultDuration),
			TickInterval: Duration(session.DefaultTickInterval),
		},
		Retry: RetryConfig{
			MaxAttempts: retry.DefaultMaxAttempts,
			BaseDelay:   Duration(retry.DefaultBaseDelay),
			Multiplier:  retry.DefaultMultiplier,
		},
		Log: LogConfig{Level: "info"},
	}
}

// DefaultStoreConfig returns a StoreConfig with sensible defaults.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		ListenAddress: fmt.Sprintf(":%d", transport.DefaultPort),
		Scope:         record.DefaultScope,
		DataDir:       filepath.Join(defaultStateDir(), "store"),
		Discovery: DiscoveryConfig{
			Enabled: true,
			TTL:     Duration(discovery.DefaultTTL),
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadClientConfig reads a client configuration file over the
// defaults. ${VAR} references are expanded from the environment
// before parsing.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()
	if err := loadInto(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadStoreConfig reads a store daemon configuration file over the
// defaults.
func LoadStoreConfig(path string) (*StoreConfig, error) {
	cfg := DefaultStoreConfig()
	if err := loadInto(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadInto(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(expandEnvVars(string(data)))

	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// Validate validates the client configuration.
func (c *ClientConfig) Validate() error {
	var errs []string

	if c.Scope == "" {
		errs = append(errs, "scope is required")
	}
	if c.Session.Duration <= 0 {
		errs = append(errs, "session.duration must be positive")
	}
	if c.Session.TickInterval <= 0 {
		errs = append(errs, "session.tick_interval must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay <= 0 {
		errs = append(errs, "retry.base_delay must be positive")
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, "retry.multiplier must be at least 1")
	}
	if c.Store.Address != "" {
		if _, _, err := net.SplitHostPort(c.Store.Address); err != nil {
			errs = append(errs, fmt.Sprintf("store.address must be host:port: %v", err))
		}
	}
	if _, err := log.ParseSeverity(c.Log.Level); err != nil {
		errs = append(errs, fmt.Sprintf("log.level: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate validates the store daemon configuration.
func (c *StoreConfig) Validate() error {
	var errs []string

	if c.ListenAddress == "" {
		errs = append(errs, "listen_address is required")
	}
	if c.Scope == "" {
		errs = append(errs, "scope is required")
	}
	if c.StoreID != "" {
		if err := discovery.ValidateInstanceName(discovery.InstanceName(c.StoreID)); err != nil {
			errs = append(errs, fmt.Sprintf("store_id: %v", err))
		}
	}
	if c.Discovery.TTL < 0 {
		errs = append(errs, "discovery.ttl must not be negative")
	}
	if _, err := log.ParseSeverity(c.Log.Level); err != nil {
		errs = append(errs, fmt.Sprintf("log.level: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// defaultStateDir resolves to ~/.scooked, falling back to a relative
// directory when the home directory is unknown.
func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".scooked"
	}
	return filepath.Join(home, ".scooked")
}
