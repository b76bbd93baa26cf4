package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadProviderConfig(t *testing.T) {
	path := writeFile(t, "dns-provider.yaml", `provider: opnsense
settings:
  base_url: "https://opnsense.local/api"
  api_key: "testkey"
  api_secret: "testsecret"
`)

	cfgs, err := LoadProviderConfigFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfgs) != 1 {
		t.Fatalf("expected 1 provider, got %d", len(cfgs))
	}

	cfg := cfgs[0]
	if cfg.Provider != "opnsense" {
		t.Errorf("expected provider 'opnsense', got %q", cfg.Provider)
	}
	if cfg.Settings["base_url"] != "https://opnsense.local/api" {
		t.Errorf("expected base_url 'https://opnsense.local/api', got %q", cfg.Settings["base_url"])
	}
	if cfg.Settings["api_key"] != "testkey" {
		t.Errorf("expected api_key 'testkey', got %q", cfg.Settings["api_key"])
	}
}

func TestLoadProviderConfig_List(t *testing.T) {
	path := writeFile(t, "dns-provider.yaml", `providers:
- provider: opnsense
  settings:
    api_token: "tok"
- provider: hetzner
  settings:
    api_token: "htok"
`)

	cfgs, err := LoadProviderConfigFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, ok := Find(cfgs, "hetzner")
	if !ok {
		t.Fatal("expected hetzner entry")
	}
	if c.Settings["api_token"] != "htok" {
		t.Errorf("expected api_token 'htok', got %q", c.Settings["api_token"])
	}
	if _, ok := Find(cfgs, "route53"); ok {
		t.Error("unexpected route53 entry")
	}
}

func TestLoadProviderConfig_MissingProvider(t *testing.T) {
	path := writeFile(t, "dns-provider.yaml", `settings:
  base_url: "https://opnsense.local/api"
`)

	_, err := LoadProviderConfigFromPath(path)
	if err == nil {
		t.Fatal("expected error for missing provider field, got nil")
	}
}

func TestLoadProviderConfig_Empty(t *testing.T) {
	path := writeFile(t, "dns-provider.yaml", "providers: []\n")

	if _, err := LoadProviderConfigFromPath(path); err == nil {
		t.Fatal("expected error for empty config, got nil")
	}
}

func TestLoadProviderConfig_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_API_KEY", "key-from-env")
	t.Setenv("TEST_API_SECRET", "secret-from-env")

	path := writeFile(t, "dns-provider.yaml", `provider: opnsense
settings:
  base_url: "https://opnsense.local/api"
  api_key: "${TEST_API_KEY}"
  api_secret: "${TEST_API_SECRET}"
  api_token: "${UNSET_VAR_THAT_DOES_NOT_EXIST}"
`)

	cfgs, err := LoadProviderConfigFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := cfgs[0]
	if cfg.Settings["api_key"] != "key-from-env" {
		t.Errorf("expected api_key 'key-from-env', got %q", cfg.Settings["api_key"])
	}
	if cfg.Settings["api_secret"] != "secret-from-env" {
		t.Errorf("expected api_secret 'secret-from-env', got %q", cfg.Settings["api_secret"])
	}
	// Unset env var expands to empty string.
	if cfg.Settings["api_token"] != "" {
		t.Errorf("expected empty api_token, got %q", cfg.Settings["api_token"])
	}
	// Non-env values should remain unchanged.
	if cfg.Settings["base_url"] != "https://opnsense.local/api" {
		t.Errorf("expected base_url unchanged, got %q", cfg.Settings["base_url"])
	}
}

func TestLoadProviderConfig_FileNotFound(t *testing.T) {
	_, err := LoadProviderConfigFromPath("/nonexistent/path/dns-provider.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}
