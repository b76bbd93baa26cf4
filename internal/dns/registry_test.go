package dns

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
)

type stubProvider struct{ domain string }

func (s *stubProvider) Authenticate(context.Context) error                    { return nil }
func (s *stubProvider) ListRecords(context.Context, Filter) ([]Record, error) { return nil, nil }
func (s *stubProvider) CreateRecord(context.Context, Record) error            { return nil }
func (s *stubProvider) UpdateRecord(context.Context, string, Record) error    { return nil }
func (s *stubProvider) DeleteRecord(context.Context, string) error            { return nil }

func TestRegistry(t *testing.T) {
	Register("stub-registry-test", Registration{
		Factory: func(_ logr.Logger, domain string, _ map[string]string, _ Options) (Provider, error) {
			return &stubProvider{domain: domain}, nil
		},
		Settings: []string{"token"},
	})

	p, err := NewProvider("stub-registry-test", logr.Discard(), "example.com", nil, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.(*stubProvider).domain != "example.com" {
		t.Errorf("factory did not receive the domain")
	}

	r, err := Lookup("stub-registry-test")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(r.Settings) != 1 || r.Settings[0] != "token" {
		t.Errorf("unexpected settings: %v", r.Settings)
	}

	if _, err := NewProvider("does-not-exist", logr.Discard(), "example.com", nil, Options{}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	Register("stub-duplicate", Registration{})
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	Register("stub-duplicate", Registration{})
}
