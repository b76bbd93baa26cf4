package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// ProviderConfig holds live credentials for one DNS provider. It is only
// read while recording cassettes.
type ProviderConfig struct {
	Provider string            `yaml:"provider"`
	Settings map[string]string `yaml:"settings"`
}

// LoadProviderConfigFromPath reads a provider credentials file. The file
// holds either a single provider document or a list of them under
// "providers".
func LoadProviderConfigFromPath(path string) ([]ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading provider config file: %w", err)
	}

	var doc struct {
		ProviderConfig `yaml:",inline"`
		Providers      []ProviderConfig `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing provider config file: %w", err)
	}

	cfgs := doc.Providers
	if doc.Provider != "" || len(doc.Settings) > 0 {
		cfgs = append([]ProviderConfig{doc.ProviderConfig}, cfgs...)
	}
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("provider config %s: no providers defined", path)
	}

	for i := range cfgs {
		if cfgs[i].Provider == "" {
			return nil, fmt.Errorf("provider config: missing required field 'provider'")
		}
		// Expand ${ENV_VAR} references in setting values.
		for k, v := range cfgs[i].Settings {
			cfgs[i].Settings[k] = os.ExpandEnv(v)
		}
	}
	return cfgs, nil
}

// Find returns the entry for provider, if any.
func Find(cfgs []ProviderConfig, provider string) (ProviderConfig, bool) {
	for _, c := range cfgs {
		if c.Provider == provider {
			return c, true
		}
	}
	return ProviderConfig{}, false
}
