package databus

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/bunnylib/databus/logging"
)

// Config is the top-level service configuration.
type Config struct {
	// Logging configuration.
	Logging logging.Config `yaml:"logging"`
	// Memory configures the heap arena backing the broker.
	Memory MemoryConfig `yaml:"memory"`
	// Accounts to create at startup.
	Accounts []AccountConfig `yaml:"accounts"`
	// Subscriptions to wire at startup.
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	// Timer configures the periodic timer event delivery.
	Timer TimerConfig `yaml:"timer"`
}

// MemoryConfig configures the heap arena.
type MemoryConfig struct {
	// Size is the size of the caller-owned region the arena manages.
	Size datasize.ByteSize `yaml:"size"`
	// SelfCheck enables the pool integrity check after each allocation.
	SelfCheck bool `yaml:"self_check"`
}

// AccountConfig describes one account to create at startup.
type AccountConfig struct {
	// Name is the unique account id.
	Name string `yaml:"name"`
	// CacheSize is the publish cache payload size; zero means no cache.
	CacheSize datasize.ByteSize `yaml:"cache_size"`
}

// SubscriptionConfig describes one subscription edge to create at startup.
type SubscriptionConfig struct {
	Subscriber string `yaml:"subscriber"`
	Publisher  string `yaml:"publisher"`
}

// TimerConfig configures periodic timer event delivery.
type TimerConfig struct {
	// Interval between ticks. Zero disables the timer loop.
	Interval time.Duration `yaml:"interval"`
	// Pattern is a glob selecting the accounts that receive timer events.
	Pattern string `yaml:"pattern"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Memory: MemoryConfig{
			Size: 64 * datasize.KB,
		},
		Timer: TimerConfig{
			Interval: 1 * time.Second,
			Pattern:  "*",
		},
	}
}

// LoadConfig loads configuration from a YAML file at the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}

	return cfg, nil
}
