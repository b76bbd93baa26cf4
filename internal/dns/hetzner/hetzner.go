// Package hetzner implements dns.Provider for the Hetzner DNS API.
package hetzner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/dns"
)

// Settings keys understood by New.
const (
	SettingAPIToken = "api_token"
	SettingAPIURL   = "api_url"
)

// DefaultAPIURL is the public Hetzner DNS endpoint.
const DefaultAPIURL = "https://dns.hetzner.com/api/v1"

// TokenHeader carries the API token on every request.
const TokenHeader = "Auth-API-Token"

// maxRetryAfter caps how long a rate-limited call waits before its single retry.
const maxRetryAfter = 30 * time.Second

func init() {
	dns.Register("hetzner", dns.Registration{
		Factory: func(log logr.Logger, domain string, settings map[string]string, opts dns.Options) (dns.Provider, error) {
			return New(log, domain, settings, opts)
		},
		Settings: []string{SettingAPIToken, SettingAPIURL},
		Secrets:  []string{SettingAPIToken},
	})
}

type zone struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type entry struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	TTL    int    `json:"ttl,omitempty"`
	Type   string `json:"type"`
	Value  string `json:"value"`
	ZoneID string `json:"zone_id"`
}

// Provider talks to the Hetzner DNS API for one zone.
type Provider struct {
	apiURL string
	domain string
	signer dns.Signer
	client *http.Client
	log    logr.Logger

	zoneID string
}

// New creates a Hetzner provider. Required settings: api_token.
// Optional settings: api_url (default DefaultAPIURL).
func New(log logr.Logger, domain string, settings map[string]string, opts dns.Options) (*Provider, error) {
	if domain == "" {
		return nil, fmt.Errorf("hetzner: missing domain")
	}
	token := settings[SettingAPIToken]
	if token == "" {
		return nil, fmt.Errorf("hetzner: missing required setting %q", SettingAPIToken)
	}
	apiURL := settings[SettingAPIURL]
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	var signer dns.Signer = dns.SignerFunc(func(req *http.Request) error {
		req.Header.Set(TokenHeader, token)
		return nil
	})
	if opts.Signer != nil {
		signer = opts.Signer
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Provider{
		apiURL: strings.TrimRight(apiURL, "/"),
		domain: strings.TrimSuffix(strings.ToLower(domain), "."),
		signer: signer,
		client: client,
		log:    log,
	}, nil
}

// do executes one API call, retrying once if the API answers 429.
func (p *Provider) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return fmt.Errorf("hetzner: marshal request body: %w", err)
		}
	}
	u := p.apiURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("hetzner: build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if err := p.signer.Sign(req); err != nil {
			return fmt.Errorf("hetzner: sign request: %w", err)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("hetzner: %s %s: %w", method, path, err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("hetzner: read %s response: %w", path, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			wait := retryAfter(resp.Header.Get("Retry-After"))
			p.log.Info("rate limited, retrying", "path", path, "wait", wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("hetzner: %s %s returned status %d: %s", method, path, resp.StatusCode, string(respBody))
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("hetzner: decode %s response: %w", path, err)
		}
		return nil
	}
}

func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return time.Second
	}
	if d := time.Duration(secs) * time.Second; d < maxRetryAfter {
		return d
	}
	return maxRetryAfter
}

// Authenticate resolves the zone id of the domain. It fails when the account
// does not manage exactly one zone of that name.
func (p *Provider) Authenticate(ctx context.Context) error {
	var result struct {
		Zones []zone `json:"zones"`
	}
	if err := p.do(ctx, http.MethodGet, "/zones", url.Values{"name": {p.domain}}, nil, &result); err != nil {
		return fmt.Errorf("hetzner: authenticate: %w", err)
	}
	if len(result.Zones) != 1 {
		return fmt.Errorf("hetzner: domain %s did not yield exactly 1 zone but %d", p.domain, len(result.Zones))
	}
	p.zoneID = result.Zones[0].ID
	p.log.V(1).Info("authenticated", "zone", p.domain, "zoneID", p.zoneID)
	return nil
}

func (p *Provider) ensureZone(ctx context.Context) error {
	if p.zoneID != "" {
		return nil
	}
	return p.Authenticate(ctx)
}

// ListRecords returns the zone's records matching filter.
func (p *Provider) ListRecords(ctx context.Context, filter dns.Filter) ([]dns.Record, error) {
	if err := p.ensureZone(ctx); err != nil {
		return nil, err
	}
	var result struct {
		Records []entry `json:"records"`
	}
	if err := p.do(ctx, http.MethodGet, "/records", url.Values{"zone_id": {p.zoneID}}, nil, &result); err != nil {
		return nil, err
	}

	var records []dns.Record
	for _, e := range result.Records {
		r := dns.Record{
			ID:      e.ID,
			Name:    dns.FullName(e.Name, p.domain),
			Type:    strings.ToUpper(e.Type),
			Content: e.Value,
			TTL:     e.TTL,
		}
		if filter.Match(r, p.domain) {
			records = append(records, r)
		}
	}
	return records, nil
}

func (p *Provider) entry(record dns.Record) entry {
	return entry{
		Name:   dns.RelativeName(record.Name, p.domain),
		TTL:    record.TTL,
		Type:   strings.ToUpper(record.Type),
		Value:  record.Content,
		ZoneID: p.zoneID,
	}
}

// CreateRecord creates record in the zone.
func (p *Provider) CreateRecord(ctx context.Context, record dns.Record) error {
	if !dns.ValidType(record.Type) {
		return fmt.Errorf("hetzner: unknown record type %q", record.Type)
	}
	if err := p.ensureZone(ctx); err != nil {
		return err
	}
	p.log.Info("creating record", "name", record.Name, "type", record.Type, "content", record.Content)
	var result struct {
		Record entry `json:"record"`
	}
	if err := p.do(ctx, http.MethodPost, "/records", nil, p.entry(record), &result); err != nil {
		return err
	}
	p.log.Info("record created", "id", result.Record.ID)
	return nil
}

// UpdateRecord replaces the record with the given id.
func (p *Provider) UpdateRecord(ctx context.Context, id string, record dns.Record) error {
	if id == "" {
		return fmt.Errorf("hetzner: update requires a record id")
	}
	if !dns.ValidType(record.Type) {
		return fmt.Errorf("hetzner: unknown record type %q", record.Type)
	}
	if err := p.ensureZone(ctx); err != nil {
		return err
	}
	p.log.Info("updating record", "id", id, "content", record.Content, "ttl", record.TTL)
	return p.do(ctx, http.MethodPut, "/records/"+url.PathEscape(id), nil, p.entry(record), nil)
}

// DeleteRecord removes the record with the given id.
func (p *Provider) DeleteRecord(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("hetzner: delete requires a record id")
	}
	p.log.Info("deleting record", "id", id)
	return p.do(ctx, http.MethodDelete, "/records/"+url.PathEscape(id), nil, nil, nil)
}
