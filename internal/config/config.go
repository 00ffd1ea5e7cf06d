package config

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"github.com/nbd-wtf/go-nostr/nip19"
	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Config represents the complete nocom configuration
type Config struct {
	Identity    Identity    `yaml:"identity"`
	Relays      Relays      `yaml:"relays"`
	Communities Communities `yaml:"communities"`
	Sync        Sync        `yaml:"sync"`
	Logging     Logging     `yaml:"logging"`
}

// Identity contains the Nostr identity the engine resolves membership for
type Identity struct {
	Npub string `yaml:"npub"` // Public key (bech32)
	// Note: the secret key is never read from the config file. If publishing
	// is enabled, it is loaded from the NOCOM_NSEC env var at startup.
}

// Pubkey decodes the configured npub to a hex pubkey
func (i *Identity) Pubkey() (string, error) {
	prefix, decoded, err := nip19.Decode(i.Npub)
	if err != nil {
		return "", fmt.Errorf("failed to decode npub: %w", err)
	}
	if prefix != "npub" {
		return "", fmt.Errorf("identity is not an npub: %s", prefix)
	}
	return decoded.(string), nil
}

// Relays contains relay configuration
type Relays struct {
	Seeds  []string    `yaml:"seeds"`
	Policy RelayPolicy `yaml:"policy"`
}

// RelayPolicy contains per-class query budgets and connection policy
type RelayPolicy struct {
	ConnectTimeoutMs    int `yaml:"connect_timeout_ms"`
	HistoryTimeoutMs    int `yaml:"history_timeout_ms"`    // message history pages
	DefinitionTimeoutMs int `yaml:"definition_timeout_ms"` // replaceable definitions, pins
	PublishTimeoutMs    int `yaml:"publish_timeout_ms"`
}

// Communities lists the community addresses the engine follows
type Communities struct {
	// Addresses in "<kind>:<pubkey>:<identifier>" form
	Addresses []string `yaml:"addresses"`
}

// Sync contains synchronization tuning
type Sync struct {
	PageSize                int `yaml:"page_size"` // backward pagination page size
	DuplicatePageRetryLimit int `yaml:"duplicate_page_retry_limit"`
	OptimisticWindowSeconds int `yaml:"optimistic_window_seconds"` // unconfirmed entries flagged failed after this
	SeenCacheSize           int `yaml:"seen_cache_size"`           // live dedupe LRU size
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// Load reads and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills in defaults for unset values
func (c *Config) applyDefaults() {
	if c.Relays.Policy.ConnectTimeoutMs == 0 {
		c.Relays.Policy.ConnectTimeoutMs = 10000
	}
	if c.Relays.Policy.HistoryTimeoutMs == 0 {
		c.Relays.Policy.HistoryTimeoutMs = 5000
	}
	if c.Relays.Policy.DefinitionTimeoutMs == 0 {
		c.Relays.Policy.DefinitionTimeoutMs = 3000
	}
	if c.Relays.Policy.PublishTimeoutMs == 0 {
		c.Relays.Policy.PublishTimeoutMs = 5000
	}
	if c.Sync.PageSize == 0 {
		c.Sync.PageSize = 50
	}
	if c.Sync.DuplicatePageRetryLimit == 0 {
		c.Sync.DuplicatePageRetryLimit = 5
	}
	if c.Sync.OptimisticWindowSeconds == 0 {
		c.Sync.OptimisticWindowSeconds = 30
	}
	if c.Sync.SeenCacheSize == 0 {
		c.Sync.SeenCacheSize = 5000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Identity.Npub == "" {
		return fmt.Errorf("identity.npub is required")
	}
	if !strings.HasPrefix(c.Identity.Npub, "npub1") {
		return fmt.Errorf("identity.npub must be a bech32 npub")
	}
	if _, err := c.Identity.Pubkey(); err != nil {
		return err
	}

	if len(c.Relays.Seeds) == 0 {
		return fmt.Errorf("at least one seed relay is required")
	}
	for _, seed := range c.Relays.Seeds {
		if !strings.HasPrefix(seed, "wss://") && !strings.HasPrefix(seed, "ws://") {
			return fmt.Errorf("invalid relay URL: %s", seed)
		}
	}

	for _, addr := range c.Communities.Addresses {
		if strings.Count(addr, ":") < 2 {
			return fmt.Errorf("invalid community address %q: want <kind>:<pubkey>:<identifier>", addr)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// GetExampleConfig returns the embedded example configuration
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}
