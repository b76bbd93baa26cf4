package dns

import (
	"context"
	"errors"
	"net/http"
)

// ErrUnsupported is returned by a provider for an operation its backend cannot perform.
var ErrUnsupported = errors.New("operation not supported by provider")

// Record represents a DNS record as seen by a provider.
type Record struct {
	ID      string // provider-assigned identity, empty before creation
	Name    string // FQDN, e.g. "foo.example.com."
	Type    string // "A", "AAAA", "CNAME", "TXT", ...
	Content string
	TTL     int // 0 = provider default or not reported
}

// Filter narrows ListRecords. Empty fields match everything.
type Filter struct {
	Type    string
	Name    string // relative to the domain or fully qualified
	Content string
}

// Provider is the contract every DNS provider client under test implements.
// Each method maps to one or more plain HTTP request/response pairs.
type Provider interface {
	// Authenticate verifies credentials and that the provider manages the domain.
	Authenticate(ctx context.Context) error
	ListRecords(ctx context.Context, filter Filter) ([]Record, error)
	CreateRecord(ctx context.Context, record Record) error
	// UpdateRecord replaces the record identified by id with record.
	UpdateRecord(ctx context.Context, id string, record Record) error
	DeleteRecord(ctx context.Context, id string) error
}

// Signer authenticates an outgoing request.
type Signer interface {
	Sign(req *http.Request) error
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(req *http.Request) error

func (f SignerFunc) Sign(req *http.Request) error { return f(req) }

// NoopSigner leaves requests untouched.
var NoopSigner Signer = SignerFunc(func(*http.Request) error { return nil })

// Options carries construction-time dependencies that are not settings.
type Options struct {
	// HTTPClient is used for every API call; nil means a provider default.
	HTTPClient *http.Client
	// Signer overrides the provider's own request authentication when set.
	Signer Signer
}
