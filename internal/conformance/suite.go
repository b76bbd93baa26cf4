package conformance

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/go-logr/logr"
	logrtesting "github.com/go-logr/logr/testing"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/cassette"
	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/config"
	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/dns"
	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/fallback"
)

type options struct {
	mode        *cassette.Mode
	dir         string
	transport   http.RoundTripper
	credentials map[string]string
	log         *logr.Logger
	report      func(Result)
}

// Result is the outcome of one case of a suite run.
type Result struct {
	Suite   string // provider and variant, as in Config.Name
	Case    string
	Skipped bool
	Failed  bool
	Reason  string // why the case was skipped
}

// Option customizes a suite run.
type Option func(*options)

// WithMode forces record or replay instead of reading DNSCONF_LIVE_TESTS.
func WithMode(m cassette.Mode) Option {
	return func(o *options) { o.mode = &m }
}

// WithCassetteDir sets the cassette root directory.
func WithCassetteDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithTransport sets the live transport used while recording.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithCredentials supplies the live settings used while recording instead of
// loading them from the environment.
func WithCredentials(settings map[string]string) Option {
	return func(o *options) { o.credentials = settings }
}

// WithReport calls fn with the result of every case once it has finished.
// Variants run in parallel, so fn must be safe for concurrent use.
func WithReport(fn func(Result)) Option {
	return func(o *options) { o.report = fn }
}

// WithLogger sends harness and provider logs to log instead of the test log.
func WithLogger(log logr.Logger) Option {
	return func(o *options) { o.log = &log }
}

type suite struct {
	cfg         *Config
	mode        cassette.Mode
	dir         string
	transport   http.RoundTripper
	credentials map[string]string
	log         *logr.Logger
	report      func(Result)
}

func newSuite(t *testing.T, cfg *Config, opts []Option) *suite {
	t.Helper()
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &suite{cfg: cfg, dir: o.dir, transport: o.transport, credentials: o.credentials, log: o.log, report: o.report}
	if o.mode != nil {
		s.mode = *o.mode
	}

	needHarness := o.mode == nil || o.dir == "" || (s.mode == cassette.ModeRecord && o.credentials == nil)
	if !needHarness {
		return s
	}

	h, err := config.LoadHarness()
	if err != nil {
		t.Fatalf("loading harness config: %v", err)
	}
	if o.mode == nil && h.Live {
		s.mode = cassette.ModeRecord
	}
	if s.dir == "" {
		s.dir = h.CassetteDir
	}
	if s.mode == cassette.ModeRecord && s.credentials == nil {
		creds, err := h.Credentials(cfg.Provider, cfg.Settings)
		if err != nil {
			t.Fatalf("loading %s credentials: %v", cfg.Provider, err)
		}
		s.credentials = creds
	}
	return s
}

func (s *suite) logger(t *testing.T) logr.Logger {
	if s.log != nil {
		return *s.log
	}
	return logrtesting.NewTestLogger(t)
}

// Run runs every case of the suite for def, in order. A failed case skips
// the cases after it.
func Run(t *testing.T, def Definition, opts ...Option) {
	t.Helper()
	cfg, err := Assemble(def)
	if err != nil {
		t.Fatalf("assembling %s: %v", def.ProviderName(), err)
	}
	if cfg.Unsupported != "" {
		t.Skipf("%s: %s", cfg.Name(), cfg.Unsupported)
	}
	newSuite(t, cfg, opts).run(t)
}

// RunVariants runs the suite for every definition in its own parallel
// subtest. Definitions must differ in provider or variant.
func RunVariants(t *testing.T, defs []Definition, opts ...Option) {
	t.Helper()
	cfgs, err := assembleVariants(defs)
	if err != nil {
		t.Fatal(err)
	}
	for i, def := range defs {
		t.Run(cfgs[i].Name(), func(t *testing.T) {
			t.Parallel()
			Run(t, def, opts...)
		})
	}
}

// assembleVariants assembles defs and rejects two definitions that would
// share a cassette namespace.
func assembleVariants(defs []Definition) ([]*Config, error) {
	cfgs := make([]*Config, 0, len(defs))
	seen := sets.New[string]()
	for _, def := range defs {
		cfg, err := Assemble(def)
		if err != nil {
			return nil, fmt.Errorf("assembling %s: %w", def.ProviderName(), err)
		}
		if seen.Has(cfg.Name()) {
			return nil, fmt.Errorf("duplicate definition %s: variants of a provider need distinct names", cfg.Name())
		}
		seen.Insert(cfg.Name())
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

func (s *suite) run(t *testing.T) {
	failed := ""
	for _, c := range cases {
		ok := t.Run(c.name, func(t *testing.T) {
			res := &Result{Suite: s.cfg.Name(), Case: c.name}
			if s.report != nil {
				t.Cleanup(func() {
					res.Skipped, res.Failed = t.Skipped(), t.Failed()
					s.report(*res)
				})
			}
			if failed != "" {
				res.Reason = fmt.Sprintf("depends on failed case %s", failed)
				t.Skip(res.Reason)
			}
			if reason, skip := s.cfg.Skips[c.name]; skip {
				res.Reason = reason
				t.Skip(reason)
			}
			c.run(s.begin(t, c.name, res))
		})
		if !ok && failed == "" {
			failed = c.name
		}
	}
}

// begin opens the case's cassette and builds an authenticated provider
// whose traffic goes through it.
func (s *suite) begin(t *testing.T, name string, res *Result) *caseEnv {
	t.Helper()
	log := s.logger(t)
	store := cassette.NewStore(s.dir, log)
	sess, err := store.Begin(cassette.ID{Provider: s.cfg.Provider, Variant: s.cfg.Variant, Test: name}, cassette.Options{
		Mode:      s.mode,
		Filters:   s.cfg.Filters,
		Volatile:  s.cfg.Volatile,
		Transport: s.transport,
		Meta: cassette.Meta{
			Provider: s.cfg.Provider,
			Domain:   s.cfg.Domain,
			Variant:  s.cfg.Variant,
			Test:     name,
		},
	})
	if err != nil {
		t.Fatalf("opening cassette: %v", err)
	}
	t.Cleanup(func() {
		if t.Failed() {
			return
		}
		if err := sess.Commit(); err != nil {
			t.Errorf("committing cassette: %v", err)
		}
	})

	env := &caseEnv{t: t, suite: s, sess: sess, log: log, domain: s.cfg.Domain, result: res}
	env.provider = env.newProvider(s.cfg.Domain)
	if name != caseAuthenticateUnmanaged {
		env.check("authenticate", env.provider.Authenticate(t.Context()))
	}
	return env
}

// settings assembles the provider settings for sess: overrides, plus live
// credentials while recording or fallback values while replaying.
func (s *suite) settings(sess *cassette.Session) map[string]string {
	settings := make(map[string]string)
	if s.mode == cassette.ModeRecord {
		for k, v := range s.credentials {
			settings[k] = v
		}
	} else {
		var recorded []string
		if meta := sess.Meta(); meta != nil {
			recorded = meta.Settings
		}
		settings = fallback.NewResolver(s.cfg.Fallback, recorded).Settings(s.cfg.Settings)
	}
	for k, v := range s.cfg.Overrides {
		settings[k] = v
	}
	return settings
}

func (s *suite) providerOptions(sess *cassette.Session) dns.Options {
	opts := dns.Options{HTTPClient: sess.Client()}
	if s.mode == cassette.ModeReplay {
		opts.Signer = dns.NoopSigner
	}
	return opts
}
