// Package conformance runs an ordered suite of DNS provider operations
// against any registered provider, recording live traffic into cassettes
// or replaying it offline.
package conformance

import (
	"fmt"
	"strings"

	vcr "gopkg.in/dnaeon/go-vcr.v2/cassette"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/cassette"
	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/dns"
	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/fallback"
	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/sanitize"
)

// Definition is the minimum a provider supplies to run the suite. Everything
// else is opted into through the capability interfaces below.
type Definition interface {
	// ProviderName is the name the provider registered under.
	ProviderName() string
	// Domain is the zone the suite creates records in.
	Domain() string
}

// Varianter names an alternative configuration of the same provider, such
// as a second authentication strategy. Each variant has its own cassettes.
type Varianter interface {
	Variant() string
}

// HeaderFilterer lists request and response headers to redact.
type HeaderFilterer interface {
	FilterHeaders() []string
}

// QueryParameterFilterer lists URL query parameters to redact.
type QueryParameterFilterer interface {
	FilterQueryParameters() []string
}

// PostDataParameterFilterer lists request body parameters to redact.
type PostDataParameterFilterer interface {
	FilterPostDataParameters() []string
}

// ResponseFilterer rewrites or drops recorded responses before they are
// persisted. Returning a nil response drops the interaction.
type ResponseFilterer interface {
	FilterResponse(resp *vcr.Response) (*vcr.Response, error)
}

// Fallbacker supplies settings values during replay.
type Fallbacker interface {
	Fallback(field string) (string, bool)
}

// ParameterOverrider fixes settings values in both modes.
type ParameterOverrider interface {
	ParameterOverrides() map[string]string
}

// VolatileParameterer lists parameters whose values differ between runs
// and must not take part in request matching.
type VolatileParameterer interface {
	VolatileParameters() []string
}

// Skipper maps case names to the reason they cannot pass for this provider.
type Skipper interface {
	Skips() map[string]string
}

// RuntimeSupporter reports why the suite cannot run in this environment.
// An empty reason means it can.
type RuntimeSupporter interface {
	UnsupportedReason() string
}

// Config is a Definition with all of its capabilities resolved.
type Config struct {
	Provider string
	Domain   string
	Variant  string
	// Settings lists every settings field the provider understands.
	Settings    []string
	Overrides   map[string]string
	Filters     sanitize.FilterSet
	Fallback    fallback.Func
	Volatile    []string
	Skips       map[string]string
	Unsupported string
}

// Assemble resolves def into a Config. The provider must be registered and
// the domain must be a valid DNS name.
func Assemble(def Definition) (*Config, error) {
	cfg := &Config{
		Provider: def.ProviderName(),
		Domain:   strings.TrimSuffix(strings.ToLower(def.Domain()), "."),
		Variant:  cassette.DefaultVariant,
		Fallback: fallback.Placeholder,
	}

	reg, err := dns.Lookup(cfg.Provider)
	if err != nil {
		return nil, err
	}
	cfg.Settings = reg.Settings

	if errs := validation.IsDNS1123Subdomain(cfg.Domain); len(errs) > 0 {
		return nil, fmt.Errorf("%s: invalid domain %q: %s", cfg.Provider, cfg.Domain, strings.Join(errs, "; "))
	}

	if v, ok := def.(Varianter); ok && v.Variant() != "" {
		cfg.Variant = v.Variant()
	}
	if f, ok := def.(HeaderFilterer); ok {
		cfg.Filters.Headers = f.FilterHeaders()
	}
	if f, ok := def.(QueryParameterFilterer); ok {
		cfg.Filters.QueryParams = f.FilterQueryParameters()
	}
	if f, ok := def.(PostDataParameterFilterer); ok {
		cfg.Filters.BodyParams = f.FilterPostDataParameters()
	}
	if f, ok := def.(ResponseFilterer); ok {
		cfg.Filters.Response = f.FilterResponse
	}
	if f, ok := def.(Fallbacker); ok {
		cfg.Fallback = f.Fallback
	}
	if o, ok := def.(ParameterOverrider); ok {
		cfg.Overrides = o.ParameterOverrides()
	}
	if v, ok := def.(VolatileParameterer); ok {
		cfg.Volatile = v.VolatileParameters()
	}
	if s, ok := def.(Skipper); ok {
		cfg.Skips = s.Skips()
	}
	if r, ok := def.(RuntimeSupporter); ok {
		cfg.Unsupported = r.UnsupportedReason()
	}
	return cfg, nil
}

// Name identifies the configuration in test output.
func (c *Config) Name() string {
	return c.Provider + "-" + c.Variant
}
