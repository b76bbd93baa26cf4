// Package config loads the settings of the conformance harness: the record
// or replay toggle, where cassettes live, and the live credentials used
// while recording.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable the harness reads.
const EnvPrefix = "DNSCONF_"

// DefaultCassetteDir is relative to the package under test.
const DefaultCassetteDir = "testdata/cassettes"

// Harness holds the harness settings.
type Harness struct {
	// Live selects record mode (DNSCONF_LIVE_TESTS=true).
	Live        bool   `koanf:"live_tests"`
	CassetteDir string `koanf:"cassette_dir"`
	// ProviderConfig optionally points at a credentials file read while recording.
	ProviderConfig string `koanf:"provider_config"`
	// EnvFile is loaded into the environment while recording.
	EnvFile string `koanf:"env_file"`
}

// LoadHarness reads the optional yaml file named by DNSCONF_CONFIG, then
// DNSCONF_* environment variables, which take precedence.
func LoadHarness() (*Harness, error) {
	k := koanf.New(".")

	if path := os.Getenv(EnvPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading harness config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("loading harness environment: %w", err)
	}

	if !k.Exists("cassette_dir") {
		k.Set("cassette_dir", DefaultCassetteDir)
	}
	if !k.Exists("env_file") {
		k.Set("env_file", ".env")
	}

	var h Harness
	if err := k.Unmarshal("", &h); err != nil {
		return nil, fmt.Errorf("decoding harness config: %w", err)
	}
	return &h, nil
}

// Credentials returns the live settings for provider restricted to fields.
// Values come from the provider config file, then from
// DNSCONF_<PROVIDER>_<FIELD> variables, which win. Empty values are left out.
func (h *Harness) Credentials(provider string, fields []string) (map[string]string, error) {
	if h.EnvFile != "" {
		if err := godotenv.Load(h.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", h.EnvFile, err)
		}
	}

	k := koanf.New(".")
	if h.ProviderConfig != "" {
		cfgs, err := LoadProviderConfigFromPath(h.ProviderConfig)
		if err != nil {
			return nil, err
		}
		if c, ok := Find(cfgs, provider); ok {
			for key, v := range c.Settings {
				k.Set(strings.ToLower(key), v)
			}
		}
	}

	prefix := EnvPrefix + strings.ToUpper(provider) + "_"
	if err := k.Load(env.Provider(prefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, prefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("loading %s credentials: %w", provider, err)
	}

	out := make(map[string]string, len(fields))
	for _, f := range fields {
		if v := k.String(strings.ToLower(f)); v != "" {
			out[f] = v
		}
	}
	return out, nil
}
