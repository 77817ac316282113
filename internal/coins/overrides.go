package coins

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Override adjusts a registered coin spec from the coins YAML file. Prices
// and difficulty move constantly, so the revenue factor is expected to be
// refreshed externally rather than baked into a release.
type Override struct {
	MinerBinary   string  `yaml:"miner_binary"`
	DefaultPool   string  `yaml:"default_pool"`
	USDPerMHDay   float64 `yaml:"usd_per_mh_day"`
	RefPrice      float64 `yaml:"ref_price"`
	StatsEndpoint string  `yaml:"stats_endpoint"`
}

// LoadOverrides applies per-coin overrides from a YAML file keyed by coin
// symbol. A missing file is not an error; an unknown coin key is.
func LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read coins file: %w", err)
	}

	var overrides map[string]Override
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("parse coins file: %w", err)
	}

	for key, ov := range overrides {
		coin, err := ParseCoin(key)
		if err != nil {
			return fmt.Errorf("coins file: %w", err)
		}
		spec := registry[coin]
		if ov.MinerBinary != "" {
			spec.MinerBinary = ov.MinerBinary
		}
		if ov.DefaultPool != "" {
			spec.DefaultPool = ov.DefaultPool
		}
		if ov.StatsEndpoint != "" {
			endpoint := ov.StatsEndpoint
			spec.StatsURL = func(wallet string) string {
				return endpoint + wallet
			}
		}
		if ov.USDPerMHDay > 0 {
			if ov.RefPrice <= 0 {
				return fmt.Errorf("coins file: %s: usd_per_mh_day requires ref_price", key)
			}
			spec.NetworkFactor = perMHFactor(ov.USDPerMHDay, ov.RefPrice)
		}
		registry[coin] = spec
	}
	return nil
}
