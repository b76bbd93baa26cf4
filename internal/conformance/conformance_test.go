package conformance

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	logrtesting "github.com/go-logr/logr/testing"
	"github.com/google/go-cmp/cmp"
	vcr "gopkg.in/dnaeon/go-vcr.v2/cassette"

	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/cassette"
	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/dns/hetzner"
	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/dnstest"
	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/fallback"
)

const liveToken = "live-hetzner-token"

type hetznerDef struct {
	apiURL  string
	variant string
	skips   map[string]string
	reason  string
}

func (d hetznerDef) ProviderName() string { return "hetzner" }
func (d hetznerDef) Domain() string       { return "Example.com." }
func (d hetznerDef) Variant() string      { return d.variant }
func (d hetznerDef) FilterHeaders() []string {
	return []string{hetzner.TokenHeader}
}
func (d hetznerDef) ParameterOverrides() map[string]string {
	return map[string]string{hetzner.SettingAPIURL: d.apiURL}
}
func (d hetznerDef) Skips() map[string]string  { return d.skips }
func (d hetznerDef) UnsupportedReason() string { return d.reason }

type fullDef struct{ hetznerDef }

func (fullDef) FilterQueryParameters() []string    { return []string{"token"} }
func (fullDef) FilterPostDataParameters() []string { return []string{"password"} }
func (fullDef) FilterResponse(r *vcr.Response) (*vcr.Response, error) {
	return r, nil
}
func (fullDef) Fallback(field string) (string, bool) { return "fixed", true }
func (fullDef) VolatileParameters() []string         { return []string{"nonce"} }

type bareDef struct{ provider, domain string }

func (d bareDef) ProviderName() string { return d.provider }
func (d bareDef) Domain() string       { return d.domain }

// collect returns an option that gathers case results, and a func that
// returns them by case name.
func collect() (Option, func() map[string]Result) {
	var mu sync.Mutex
	got := make(map[string]Result)
	opt := WithReport(func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		got[r.Case] = r
	})
	return opt, func() map[string]Result {
		mu.Lock()
		defer mu.Unlock()
		return got
	}
}

func TestAssemble(t *testing.T) {
	cfg, err := Assemble(fullDef{hetznerDef{apiURL: "http://127.0.0.1", variant: "eu", skips: map[string]string{caseUpdateTTL: "nope"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Domain != "example.com" {
		t.Errorf("expected normalized domain, got %q", cfg.Domain)
	}
	if cfg.Name() != "hetzner-eu" {
		t.Errorf("expected name hetzner-eu, got %q", cfg.Name())
	}
	if diff := cmp.Diff([]string{hetzner.SettingAPIToken, hetzner.SettingAPIURL}, cfg.Settings); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{hetzner.TokenHeader}, cfg.Filters.Headers); diff != "" {
		t.Errorf("headers mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"token"}, cfg.Filters.QueryParams); diff != "" {
		t.Errorf("query params mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"password"}, cfg.Filters.BodyParams); diff != "" {
		t.Errorf("body params mismatch (-want +got):\n%s", diff)
	}
	if cfg.Filters.Response == nil {
		t.Error("expected response filter")
	}
	if v, ok := cfg.Fallback("api_token"); !ok || v != "fixed" {
		t.Errorf("expected fallback from definition, got %q, %v", v, ok)
	}
	if diff := cmp.Diff([]string{"nonce"}, cfg.Volatile); diff != "" {
		t.Errorf("volatile mismatch (-want +got):\n%s", diff)
	}
	if cfg.Skips[caseUpdateTTL] != "nope" {
		t.Errorf("expected declared skip, got %v", cfg.Skips)
	}
}

func TestAssemble_Defaults(t *testing.T) {
	cfg, err := Assemble(bareDef{provider: "hetzner", domain: "example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Variant != cassette.DefaultVariant {
		t.Errorf("expected default variant, got %q", cfg.Variant)
	}
	if v, ok := cfg.Fallback("api_token"); !ok || v != "placeholder_api_token" {
		t.Errorf("expected placeholder fallback, got %q, %v", v, ok)
	}
	if cfg.Unsupported != "" || cfg.Skips != nil || cfg.Overrides != nil {
		t.Errorf("expected no optional capabilities, got %+v", cfg)
	}
}

func TestAssemble_Errors(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
		want string
	}{
		{"unregistered provider", bareDef{provider: "route53", domain: "example.com"}, "unsupported DNS provider"},
		{"invalid domain", bareDef{provider: "hetzner", domain: "not a domain"}, "invalid domain"},
		{"empty domain", bareDef{provider: "hetzner"}, "invalid domain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble(tt.def)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestCaseNames(t *testing.T) {
	want := []string{
		"Authenticate",
		"AuthenticateUnmanagedDomain",
		"CreateRecord",
		"ListRecordsAfterCreate",
		"CreateSecondRecord",
		"UpdateRecordContent",
		"UpdateRecordTTL",
		"DeleteRecord",
		"ListRecordsAfterDelete",
	}
	if diff := cmp.Diff(want, CaseNames()); diff != "" {
		t.Errorf("case order mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_RecordThenReplay(t *testing.T) {
	fake := dnstest.NewHetzner(liveToken, "example.com")
	srv := httptest.NewServer(fake)
	dir := t.TempDir()
	def := hetznerDef{apiURL: srv.URL + "/api/v1"}

	t.Run("record", func(t *testing.T) {
		Run(t, def,
			WithMode(cassette.ModeRecord),
			WithCassetteDir(dir),
			WithCredentials(map[string]string{hetzner.SettingAPIToken: liveToken}),
		)
	})
	srv.Close()
	if t.Failed() {
		t.FailNow()
	}

	if n := len(fake.Records()); n != 0 {
		t.Errorf("expected the suite to clean up after itself, %d records left", n)
	}

	store := cassette.NewStore(dir, logrtesting.NewTestLogger(t))
	for _, name := range CaseNames() {
		doc, err := store.Load(cassette.ID{Provider: "hetzner", Test: name})
		if err != nil {
			t.Fatalf("cassette for %s: %v", name, err)
		}
		if diff := cmp.Diff([]string{hetzner.SettingAPIToken, hetzner.SettingAPIURL}, doc.Meta.Settings); diff != "" {
			t.Errorf("%s: recorded settings mismatch (-want +got):\n%s", name, diff)
		}
		data, _ := os.ReadFile(store.Path(cassette.ID{Provider: "hetzner", Test: name}))
		if strings.Contains(string(data), liveToken) {
			t.Errorf("%s: cassette contains the live token", name)
		}
	}

	t.Run("replay", func(t *testing.T) {
		Run(t, def, WithMode(cassette.ModeReplay), WithCassetteDir(dir))
	})
	t.Run("replay again", func(t *testing.T) {
		Run(t, def, WithMode(cassette.ModeReplay), WithCassetteDir(dir))
	})
}

func TestRun_DeclaredSkipNeedsNoCassette(t *testing.T) {
	srv := httptest.NewServer(dnstest.NewHetzner(liveToken, "example.com"))
	defer srv.Close()
	dir := t.TempDir()
	def := hetznerDef{
		apiURL: srv.URL + "/api/v1",
		skips:  map[string]string{caseUpdateTTL: "ttl is fixed", caseAuthenticateUnmanaged: "accepts any zone"},
	}

	report, results := collect()
	Run(t, def, WithMode(cassette.ModeRecord), WithCassetteDir(dir), report,
		WithCredentials(map[string]string{hetzner.SettingAPIToken: liveToken}))

	suiteName := "hetzner-" + cassette.DefaultVariant
	got := results()
	want := map[string]Result{
		caseUpdateTTL:             {Suite: suiteName, Case: caseUpdateTTL, Skipped: true, Reason: "ttl is fixed"},
		caseAuthenticateUnmanaged: {Suite: suiteName, Case: caseAuthenticateUnmanaged, Skipped: true, Reason: "accepts any zone"},
		caseDeleteRecord:          {Suite: suiteName, Case: caseDeleteRecord},
	}
	for name, w := range want {
		if diff := cmp.Diff(w, got[name]); diff != "" {
			t.Errorf("%s result mismatch (-want +got):\n%s", name, diff)
		}
	}

	store := cassette.NewStore(dir, logrtesting.NewTestLogger(t))
	for _, name := range []string{caseUpdateTTL, caseAuthenticateUnmanaged} {
		if _, err := store.Load(cassette.ID{Provider: "hetzner", Test: name}); !errors.Is(err, cassette.ErrCassetteNotFound) {
			t.Errorf("%s: expected no cassette, got %v", name, err)
		}
	}
	if _, err := store.Load(cassette.ID{Provider: "hetzner", Test: caseDeleteRecord}); err != nil {
		t.Errorf("expected cassette for %s: %v", caseDeleteRecord, err)
	}
}

// Environment used to run the failing replay in a child test process, since
// a failing case also fails every test above it.
const (
	childResultsEnv = "DNSCONF_TEST_CHILD_RESULTS"
	childDirEnv     = "DNSCONF_TEST_CHILD_DIR"
	childAPIURLEnv  = "DNSCONF_TEST_CHILD_API_URL"
)

func TestRun_FailedCaseSkipsLaterCases(t *testing.T) {
	if out := os.Getenv(childResultsEnv); out != "" {
		var got []Result
		var mu sync.Mutex
		def := hetznerDef{apiURL: os.Getenv(childAPIURLEnv)}
		Run(t, def, WithMode(cassette.ModeReplay), WithCassetteDir(os.Getenv(childDirEnv)), WithReport(func(r Result) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, r)
		}))
		data, err := json.Marshal(got)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			t.Fatal(err)
		}
		return
	}

	srv := httptest.NewServer(dnstest.NewHetzner(liveToken, "example.com"))
	dir := t.TempDir()
	def := hetznerDef{apiURL: srv.URL + "/api/v1"}
	t.Run("record", func(t *testing.T) {
		Run(t, def, WithMode(cassette.ModeRecord), WithCassetteDir(dir),
			WithCredentials(map[string]string{hetzner.SettingAPIToken: liveToken}))
	})
	srv.Close()
	if t.Failed() {
		t.FailNow()
	}

	store := cassette.NewStore(dir, logrtesting.NewTestLogger(t))
	if err := os.Remove(store.Path(cassette.ID{Provider: "hetzner", Test: caseCreateRecord})); err != nil {
		t.Fatalf("removing cassette: %v", err)
	}

	out := filepath.Join(t.TempDir(), "results.json")
	cmd := exec.Command(os.Args[0], "-test.run=^TestRun_FailedCaseSkipsLaterCases$")
	cmd.Env = append(os.Environ(),
		childResultsEnv+"="+out,
		childDirEnv+"="+dir,
		childAPIURLEnv+"="+def.apiURL,
	)
	if output, err := cmd.CombinedOutput(); err == nil {
		t.Fatalf("expected the replay to fail without the %s cassette:\n%s", caseCreateRecord, output)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading child results: %v", err)
	}
	var results []Result
	if err := json.Unmarshal(data, &results); err != nil {
		t.Fatalf("parsing child results: %v", err)
	}

	suiteName := "hetzner-" + cassette.DefaultVariant
	var want []Result
	failed := false
	for _, name := range CaseNames() {
		r := Result{Suite: suiteName, Case: name}
		switch {
		case name == caseCreateRecord:
			r.Failed = true
			failed = true
		case failed:
			r.Skipped = true
			r.Reason = "depends on failed case " + caseCreateRecord
		}
		want = append(want, r)
	}
	if diff := cmp.Diff(want, results); diff != "" {
		t.Errorf("case results mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_UnsupportedRuntime(t *testing.T) {
	dir := t.TempDir()
	def := hetznerDef{apiURL: "http://127.0.0.1:1", reason: "needs a Hetzner account"}

	var skipped bool
	t.Run("suite", func(t *testing.T) {
		defer func() { skipped = t.Skipped() }()
		Run(t, def, WithMode(cassette.ModeReplay), WithCassetteDir(dir))
	})
	if !skipped {
		t.Error("expected the suite to be skipped")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected no cassettes, found %d entries", len(entries))
	}
}

func TestRunVariants(t *testing.T) {
	dir := t.TempDir()
	var defs []Definition
	for _, v := range []string{"primary", "secondary"} {
		srv := httptest.NewServer(dnstest.NewHetzner(liveToken, "example.com"))
		t.Cleanup(srv.Close)
		defs = append(defs, hetznerDef{apiURL: srv.URL + "/api/v1", variant: v})
	}

	t.Run("record", func(t *testing.T) {
		RunVariants(t, defs, WithMode(cassette.ModeRecord), WithCassetteDir(dir),
			WithCredentials(map[string]string{hetzner.SettingAPIToken: liveToken}))
	})

	for _, v := range []string{"primary", "secondary"} {
		path := filepath.Join(dir, "hetzner", v, "createrecord.yaml")
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected cassette %s: %v", path, err)
		}
	}

	t.Run("replay", func(t *testing.T) {
		RunVariants(t, defs, WithMode(cassette.ModeReplay), WithCassetteDir(dir))
	})
}

func TestAssembleVariants(t *testing.T) {
	primary := hetznerDef{apiURL: "http://127.0.0.1", variant: "primary"}
	secondary := hetznerDef{apiURL: "http://127.0.0.1", variant: "secondary"}

	cfgs, err := assembleVariants([]Definition{primary, secondary})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfgs) != 2 || cfgs[0].Name() != "hetzner-primary" || cfgs[1].Name() != "hetzner-secondary" {
		t.Errorf("unexpected configs: %v", cfgs)
	}

	_, err = assembleVariants([]Definition{primary, hetznerDef{apiURL: "http://127.0.0.2", variant: "primary"}})
	if err == nil || !strings.Contains(err.Error(), "duplicate definition hetzner-primary") {
		t.Fatalf("expected duplicate definition error, got %v", err)
	}

	// An empty variant falls back to the default one.
	_, err = assembleVariants([]Definition{hetznerDef{}, hetznerDef{variant: cassette.DefaultVariant}})
	if err == nil {
		t.Fatal("expected default variants to collide")
	}

	if _, err := assembleVariants([]Definition{bareDef{provider: "route53", domain: "example.com"}}); err == nil {
		t.Fatal("expected assembling an unregistered provider to fail")
	}
}

func TestSettings(t *testing.T) {
	dir := t.TempDir()
	store := cassette.NewStore(dir, logrtesting.NewTestLogger(t))
	id := cassette.ID{Provider: "hetzner", Test: "Settings"}

	rec, err := store.Begin(id, cassette.Options{Mode: cassette.ModeRecord})
	if err != nil {
		t.Fatal(err)
	}
	rec.RecordSettings(map[string]string{hetzner.SettingAPIURL: "http://fake"})
	if err := rec.Commit(); err != nil {
		t.Fatal(err)
	}

	cfg, err := Assemble(bareDef{provider: "hetzner", domain: "example.com"})
	if err != nil {
		t.Fatal(err)
	}

	play, err := store.Begin(id, cassette.Options{})
	if err != nil {
		t.Fatal(err)
	}
	s := &suite{cfg: cfg, mode: cassette.ModeReplay}
	// api_token was empty while recording, so no fallback is supplied for it.
	if diff := cmp.Diff(map[string]string{hetzner.SettingAPIURL: "placeholder_api_url"}, s.settings(play)); diff != "" {
		t.Errorf("replay settings mismatch (-want +got):\n%s", diff)
	}

	cfg.Fallback = fallback.Except(fallback.Placeholder, hetzner.SettingAPIURL)
	cfg.Overrides = map[string]string{"extra": "x"}
	if diff := cmp.Diff(map[string]string{"extra": "x"}, s.settings(play)); diff != "" {
		t.Errorf("replay settings mismatch (-want +got):\n%s", diff)
	}

	s = &suite{cfg: cfg, mode: cassette.ModeRecord, credentials: map[string]string{hetzner.SettingAPIToken: "live"}}
	want := map[string]string{hetzner.SettingAPIToken: "live", "extra": "x"}
	if diff := cmp.Diff(want, s.settings(rec)); diff != "" {
		t.Errorf("record settings mismatch (-want +got):\n%s", diff)
	}
}
