package opnsense

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/dns"
)

// Settings keys understood by New.
const (
	SettingBaseURL       = "base_url"
	SettingAPIKey        = "api_key"
	SettingAPISecret     = "api_secret"
	SettingAPIToken      = "api_token"
	SettingSkipTLSVerify = "skip_tls_verify"
)

func init() {
	dns.Register("opnsense", dns.Registration{
		Factory: func(log logr.Logger, domain string, settings map[string]string, opts dns.Options) (dns.Provider, error) {
			return New(log, domain, settings, opts)
		},
		Settings: []string{SettingBaseURL, SettingAPIKey, SettingAPISecret, SettingAPIToken, SettingSkipTLSVerify},
		Secrets:  []string{SettingAPIKey, SettingAPISecret, SettingAPIToken},
	})
}

// Provider implements dns.Provider for OPNsense Unbound DNS host overrides.
type Provider struct {
	baseURL string
	domain  string
	signer  dns.Signer
	client  *http.Client
	log     logr.Logger
}

// New creates an OPNsense DNS provider from the given settings map.
// Required settings: base_url and either api_key+api_secret or api_token.
// Optional settings: skip_tls_verify (default false).
func New(log logr.Logger, domain string, settings map[string]string, opts dns.Options) (*Provider, error) {
	if domain == "" {
		return nil, fmt.Errorf("opnsense: missing domain")
	}
	baseURL := settings[SettingBaseURL]
	if baseURL == "" {
		return nil, fmt.Errorf("opnsense: missing required setting %q", SettingBaseURL)
	}

	signer, err := newSigner(settings)
	if err != nil {
		return nil, err
	}
	if opts.Signer != nil {
		signer = opts.Signer
	}

	client := opts.HTTPClient
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if settings[SettingSkipTLSVerify] == "true" {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		client = &http.Client{Transport: transport}
	}

	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		domain:  strings.TrimSuffix(strings.ToLower(domain), "."),
		signer:  signer,
		client:  client,
		log:     log,
	}, nil
}

// newSigner picks the authentication strategy. Key/secret and token are
// mutually exclusive.
func newSigner(settings map[string]string) (dns.Signer, error) {
	key, secret, token := settings[SettingAPIKey], settings[SettingAPISecret], settings[SettingAPIToken]
	switch {
	case token != "" && (key != "" || secret != ""):
		return nil, fmt.Errorf("opnsense: %q and %q/%q are mutually exclusive", SettingAPIToken, SettingAPIKey, SettingAPISecret)
	case token != "":
		return dns.SignerFunc(func(req *http.Request) error {
			req.Header.Set("Authorization", "Bearer "+token)
			return nil
		}), nil
	case key == "":
		return nil, fmt.Errorf("opnsense: missing required setting %q", SettingAPIKey)
	case secret == "":
		return nil, fmt.Errorf("opnsense: missing required setting %q", SettingAPISecret)
	}
	return dns.SignerFunc(func(req *http.Request) error {
		req.SetBasicAuth(key, secret)
		return nil
	}), nil
}

// doRequest builds, signs and executes an HTTP request against the OPNsense API.
func (p *Provider) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("opnsense: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	url := p.baseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("opnsense: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := p.signer.Sign(req); err != nil {
		return nil, fmt.Errorf("opnsense: sign request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opnsense: %s %s: %w", method, path, err)
	}
	return resp, nil
}

// call runs doRequest, checks the status and decodes the JSON answer into out.
func (p *Provider) call(ctx context.Context, method, path string, body, out interface{}) error {
	resp, err := p.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("opnsense: %s returned status %d: %s", path, resp.StatusCode, string(respBody))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("opnsense: decode %s response: %w", path, err)
	}
	return nil
}

// reconfigure tells OPNsense to apply DNS changes.
func (p *Provider) reconfigure(ctx context.Context) error {
	var result struct {
		Status string `json:"status"`
	}
	if err := p.call(ctx, http.MethodPost, "unbound/service/reconfigure", struct{}{}, &result); err != nil {
		return fmt.Errorf("opnsense: reconfigure: %w", err)
	}
	p.log.V(1).Info("reconfigure completed", "status", result.Status)
	return nil
}

// searchResponse is the shape returned by searchHostOverride.
type searchResponse struct {
	Rows []hostRow `json:"rows"`
}

// hostRow represents a single host override row from the search response.
type hostRow struct {
	UUID     string `json:"uuid"`
	Enabled  string `json:"enabled"`
	Hostname string `json:"hostname"`
	Domain   string `json:"domain"`
	RR       string `json:"rr"`
	Server   string `json:"server"`
	TXTData  string `json:"txtdata"`
}

func (p *Provider) search(ctx context.Context) ([]hostRow, error) {
	var sr searchResponse
	if err := p.call(ctx, http.MethodGet, "unbound/settings/searchHostOverride", nil, &sr); err != nil {
		return nil, err
	}
	return sr.Rows, nil
}

// checkRecord rejects records a host override cannot represent.
func checkRecord(record dns.Record) error {
	if !dns.ValidType(record.Type) {
		return fmt.Errorf("opnsense: unknown record type %q", record.Type)
	}
	if record.TTL != 0 {
		return fmt.Errorf("opnsense: host override ttl: %w", dns.ErrUnsupported)
	}
	return nil
}

// buildHostBody creates the JSON body for add/set host override calls.
func (p *Provider) buildHostBody(record dns.Record) map[string]interface{} {
	host := map[string]string{
		"enabled":     "1",
		"hostname":    dns.RelativeName(record.Name, p.domain),
		"domain":      p.domain,
		"rr":          strings.ToUpper(record.Type),
		"server":      "",
		"txtdata":     "",
		"description": "",
		"mxprio":      "",
		"mx":          "",
	}
	if strings.EqualFold(record.Type, "TXT") {
		host["txtdata"] = record.Content
	} else {
		host["server"] = record.Content
	}
	return map[string]interface{}{"host": host}
}

// Authenticate checks that the API accepts the credentials. Unbound host
// overrides are not scoped to zones, so any domain is accepted.
func (p *Provider) Authenticate(ctx context.Context) error {
	if _, err := p.search(ctx); err != nil {
		return fmt.Errorf("opnsense: authenticate: %w", err)
	}
	return nil
}

// ListRecords returns the host overrides of the provider's domain matching filter.
func (p *Provider) ListRecords(ctx context.Context, filter dns.Filter) ([]dns.Record, error) {
	rows, err := p.search(ctx)
	if err != nil {
		return nil, err
	}

	var records []dns.Record
	for _, row := range rows {
		if !strings.EqualFold(row.Domain, p.domain) {
			continue
		}
		r := dns.Record{
			ID:      row.UUID,
			Name:    dns.FullName(row.Hostname, p.domain),
			Type:    strings.ToUpper(row.RR),
			Content: row.Server,
		}
		if r.Type == "TXT" {
			r.Content = row.TXTData
		}
		if filter.Match(r, p.domain) {
			records = append(records, r)
		}
	}
	p.log.V(1).Info("listed records", "count", len(records), "type", filter.Type, "name", filter.Name)
	return records, nil
}

// CreateRecord adds a new DNS host override.
func (p *Provider) CreateRecord(ctx context.Context, record dns.Record) error {
	if err := checkRecord(record); err != nil {
		return err
	}
	p.log.Info("creating record", "name", record.Name, "type", record.Type, "content", record.Content)

	var result struct {
		Result string `json:"result"`
		UUID   string `json:"uuid"`
	}
	if err := p.call(ctx, http.MethodPost, "unbound/settings/addHostOverride", p.buildHostBody(record), &result); err != nil {
		return err
	}
	if result.Result != "saved" {
		return fmt.Errorf("opnsense: addHostOverride unexpected result: %s", result.Result)
	}

	p.log.Info("record created", "uuid", result.UUID)
	return p.reconfigure(ctx)
}

// UpdateRecord modifies an existing DNS host override.
func (p *Provider) UpdateRecord(ctx context.Context, id string, record dns.Record) error {
	if err := checkRecord(record); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("opnsense: update requires a record id")
	}
	p.log.Info("updating record", "uuid", id, "name", record.Name, "type", record.Type, "content", record.Content)

	var result struct {
		Result string `json:"result"`
	}
	if err := p.call(ctx, http.MethodPost, "unbound/settings/setHostOverride/"+id, p.buildHostBody(record), &result); err != nil {
		return err
	}
	if result.Result != "saved" {
		return fmt.Errorf("opnsense: setHostOverride unexpected result: %s", result.Result)
	}

	p.log.Info("record updated", "uuid", id)
	return p.reconfigure(ctx)
}

// DeleteRecord removes a DNS host override.
func (p *Provider) DeleteRecord(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("opnsense: delete requires a record id")
	}
	p.log.Info("deleting record", "uuid", id)

	var result struct {
		Result string `json:"result"`
	}
	if err := p.call(ctx, http.MethodPost, "unbound/settings/delHostOverride/"+id, struct{}{}, &result); err != nil {
		return err
	}
	if result.Result != "deleted" {
		return fmt.Errorf("opnsense: delHostOverride unexpected result: %s", result.Result)
	}

	p.log.Info("record deleted", "uuid", id)
	return p.reconfigure(ctx)
}
