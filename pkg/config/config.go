package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/baderanaas/GoPass/pkg/profile"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full node configuration.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Profile   ProfileConfig   `yaml:"profile"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// NodeConfig contains transport settings
type NodeConfig struct {
	DataDir        string   `yaml:"data_dir"`        // Identity, blocklist and journal live here
	Port           int      `yaml:"port"`            // TCP port; QUIC uses port+1. 0 picks one
	ConnectPeers   []string `yaml:"connect_peers"`   // Multiaddrs dialed at startup, besides mDNS
	MaxConnections int      `yaml:"max_connections"` // Connection manager high water mark
}

// DiscoveryConfig contains the encounter engine settings
type DiscoveryConfig struct {
	BroadcastInterval time.Duration `yaml:"broadcast_interval"` // BROADCAST_INTERVAL_MS
	InteractionTTL    time.Duration `yaml:"interaction_ttl"`    // INTERACTION_TTL
	MaxPeers          int           `yaml:"max_peers"`          // MAX_PEERS
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	ExchangeTimeout   time.Duration `yaml:"exchange_timeout"`
	ExchangeRetries   int           `yaml:"exchange_retries"`
	AutoExchange      bool          `yaml:"auto_exchange"`
	DedupWindow       time.Duration `yaml:"dedup_window"` // 0 means twice the broadcast interval
}

// ProfileConfig seeds the local profile
type ProfileConfig struct {
	Username string `yaml:"username"`
	Avatar   uint16 `yaml:"avatar"`
	Status   string `yaml:"status"`
	GameData string `yaml:"game_data"` // Opaque application payload, stored as given
}

// LoggingConfig controls the zap logger
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	Journal     bool   `yaml:"journal"` // Append encounter events to <data_dir>/logs/encounters.jsonl
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"` // Empty disables the endpoint
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Node: NodeConfig{
			MaxConnections: 64,
		},
		Discovery: DiscoveryConfig{
			BroadcastInterval: 2000 * time.Millisecond,
			InteractionTTL:    24 * time.Hour,
			MaxPeers:          20,
			CleanupInterval:   time.Minute,
			ExchangeTimeout:   5 * time.Second,
			ExchangeRetries:   2,
			AutoExchange:      true,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Journal: true,
		},
	}
}

// DecodeStrict decodes YAML from a reader and rejects any unknown fields.
func DecodeStrict(r io.Reader, out interface{}) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load reads a YAML file on top of Default. An empty path returns Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	if err := DecodeStrict(f, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides discovery settings from BROADCAST_INTERVAL_MS,
// INTERACTION_TTL and MAX_PEERS. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("BROADCAST_INTERVAL_MS"); ok {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: BROADCAST_INTERVAL_MS=%q: %v", ErrInvalidConfig, v, err)
		}
		c.Discovery.BroadcastInterval = time.Duration(ms) * time.Millisecond
	}
	if v, ok := lookup("INTERACTION_TTL"); ok {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: INTERACTION_TTL=%q: %v", ErrInvalidConfig, v, err)
		}
		c.Discovery.InteractionTTL = ttl
	}
	if v, ok := lookup("MAX_PEERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: MAX_PEERS=%q: %v", ErrInvalidConfig, v, err)
		}
		c.Discovery.MaxPeers = n
	}
	return nil
}

// EffectiveDedupWindow returns DedupWindow or its default.
func (d DiscoveryConfig) EffectiveDedupWindow() time.Duration {
	if d.DedupWindow > 0 {
		return d.DedupWindow
	}
	return 2 * d.BroadcastInterval
}

// Validate reports the first setting that would make the node unsafe to
// start. These are the only fatal errors in the system.
func (c Config) Validate() error {
	d := c.Discovery
	switch {
	case d.MaxPeers <= 0:
		return fmt.Errorf("%w: discovery.max_peers must be positive, got %d", ErrInvalidConfig, d.MaxPeers)
	case d.BroadcastInterval <= 0:
		return fmt.Errorf("%w: discovery.broadcast_interval must be positive", ErrInvalidConfig)
	case d.InteractionTTL <= 0:
		return fmt.Errorf("%w: discovery.interaction_ttl must be positive", ErrInvalidConfig)
	case d.CleanupInterval <= 0:
		return fmt.Errorf("%w: discovery.cleanup_interval must be positive", ErrInvalidConfig)
	case d.ExchangeTimeout <= 0:
		return fmt.Errorf("%w: discovery.exchange_timeout must be positive", ErrInvalidConfig)
	case d.ExchangeRetries < 0:
		return fmt.Errorf("%w: discovery.exchange_retries must not be negative", ErrInvalidConfig)
	case d.DedupWindow < 0:
		return fmt.Errorf("%w: discovery.dedup_window must not be negative", ErrInvalidConfig)
	case c.Node.Port < 0 || c.Node.Port > 65534:
		return fmt.Errorf("%w: node.port %d out of range", ErrInvalidConfig, c.Node.Port)
	}

	p := profile.Profile{Username: c.Profile.Username, Avatar: c.Profile.Avatar, Status: c.Profile.Status}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: profile: %v", ErrInvalidConfig, err)
	}
	if err := profile.ValidateGameData(c.GameData()); err != nil {
		return fmt.Errorf("%w: profile: %v", ErrInvalidConfig, err)
	}
	return nil
}

// GameData returns the configured game data, nil when unset.
func (c Config) GameData() profile.GameData {
	if c.Profile.GameData == "" {
		return nil
	}
	return profile.GameData(c.Profile.GameData)
}
