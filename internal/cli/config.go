package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/thoughtspace/sync/internal/relay"
)

// Config holds every tunable named in spec.md §6's persisted layout and
// relay behavior, loadable from a YAML file via --config.
type Config struct {
	MaxAncestorWalkDepth  int    `yaml:"max_ancestor_walk_depth"`
	HydrationRowBatch     int    `yaml:"hydration_row_batch"`
	PullChunkSize         int    `yaml:"pull_chunk_size"`
	RelayUpperLimitPolicy string `yaml:"relay_upper_limit_policy"`
	ListenAddr            string `yaml:"listen_addr"`
	DBPath                string `yaml:"db_path"`
}

// DefaultConfig returns the documented defaults (spec.md §6).
func DefaultConfig() Config {
	return Config{
		MaxAncestorWalkDepth:  100,
		HydrationRowBatch:     5000,
		PullChunkSize:         1000,
		RelayUpperLimitPolicy: string(relay.LimitPolicyNow),
		ListenAddr:            ":8787",
		DBPath:                "thoughtspace.db",
	}
}

// LoadConfig reads path if non-empty, overlaying it onto DefaultConfig; an
// empty path returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// RelayConfig adapts Config to relay.Config.
func (c Config) RelayConfig() relay.Config {
	return relay.Config{
		MaxAncestorWalkDepth: c.MaxAncestorWalkDepth,
		HydrationRowBatch:    c.HydrationRowBatch,
		UpperLimitPolicy:     relay.LimitPolicy(c.RelayUpperLimitPolicy),
	}
}
