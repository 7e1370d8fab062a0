package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration decodes TOML strings such as "5m" or "12h".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration %q must not be negative", string(text))
	}
	d.Duration = parsed
	return nil
}

// CachePolicyFile is the on-disk shape of staleness overrides:
//
//	default = "1m"
//	gc = "5m"
//
//	[stale]
//	popular = "5m"
//	trending-day = "1h"
type CachePolicyFile struct {
	Default *Duration           `toml:"default"`
	GC      *Duration           `toml:"gc"`
	Stale   map[string]Duration `toml:"stale"`
}

// LoadCachePolicy reads staleness overrides from a TOML file.
func LoadCachePolicy(path string) (*CachePolicyFile, error) {
	var file CachePolicyFile
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cache policy: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown cache policy key %q", undecoded[0].String())
	}
	return &file, nil
}
