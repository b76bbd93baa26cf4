package cassette

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/moby/sys/atomicwriter"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.yaml.in/yaml/v3"
	vcr "gopkg.in/dnaeon/go-vcr.v2/cassette"

	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/sanitize"
)

func defaultTransport() http.RoundTripper {
	return otelhttp.NewTransport(http.DefaultTransport)
}

// Session serves the HTTP traffic of one test from one cassette. It is an
// http.RoundTripper; calls are handled one at a time.
type Session struct {
	id        ID
	path      string
	mode      Mode
	filters   sanitize.FilterSet
	matcher   *Matcher
	transport http.RoundTripper
	log       logr.Logger

	mu         sync.Mutex
	doc        *Document
	consumed   []bool
	signatures []string
	committed  bool
}

// ID returns the cassette identity.
func (s *Session) ID() ID { return s.id }

// Mode returns whether the session records or replays.
func (s *Session) Mode() Mode { return s.mode }

// Path returns the cassette file.
func (s *Session) Path() string { return s.path }

// Meta returns the cassette metadata, nil for replayed cassettes without any.
func (s *Session) Meta() *Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Meta
}

// RecordSettings notes which settings fields held a value while recording.
// It is a no-op in replay.
func (s *Session) RecordSettings(settings map[string]string) {
	if s.mode != ModeRecord {
		return
	}
	fields := make([]string, 0, len(settings))
	for k, v := range settings {
		if v != "" {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)

	s.mu.Lock()
	s.doc.Meta.Settings = fields
	s.mu.Unlock()
}

// Client returns an HTTP client whose traffic goes through the session.
func (s *Session) Client() *http.Client {
	return &http.Client{Transport: s}
}

// RoundTrip implements http.RoundTripper.
func (s *Session) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	body, err := drain(req)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed {
		return nil, fmt.Errorf("%s: session already committed", s.id)
	}
	if s.mode == ModeRecord {
		return s.record(req, body)
	}
	return s.replay(req, body)
}

func drain(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

func (s *Session) record(req *http.Request, body []byte) (*http.Response, error) {
	live := req.Clone(req.Context())
	if body != nil {
		live.Body = io.NopCloser(bytes.NewReader(body))
		live.ContentLength = int64(len(body))
	}

	resp, err := s.transport.RoundTrip(live)
	if err != nil {
		return nil, err
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	in := &vcr.Interaction{
		Request: vcr.Request{
			Method:  req.Method,
			URL:     req.URL.String(),
			Headers: req.Header.Clone(),
			Body:    string(body),
			Form:    parseForm(req.Header.Get("Content-Type"), body),
		},
		Response: vcr.Response{
			Status:  resp.Status,
			Code:    resp.StatusCode,
			Headers: resp.Header.Clone(),
			Body:    string(respBody),
		},
	}
	s.doc.Interactions = append(s.doc.Interactions, in)
	s.log.V(1).Info("recorded interaction", "index", len(s.doc.Interactions)-1, "method", req.Method, "url", req.URL.Redacted(), "status", resp.StatusCode)

	resp.Body = io.NopCloser(bytes.NewReader(respBody))
	resp.ContentLength = int64(len(respBody))
	return resp, nil
}

func parseForm(contentType string, body []byte) url.Values {
	if !strings.HasPrefix(contentType, "application/x-www-form-urlencoded") || len(body) == 0 {
		return nil
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil
	}
	return form
}

// replay hands out the earliest unconsumed interaction whose signature
// equals the request's, so the Nth replayed call of a signature gets the
// Nth recorded one.
func (s *Session) replay(req *http.Request, body []byte) (*http.Response, error) {
	sig := s.matcher.Signature(req.Method, req.URL.String(), string(body), req.Header.Get("Content-Type"))

	remaining := 0
	for i, in := range s.doc.Interactions {
		if s.consumed[i] {
			continue
		}
		remaining++
		if s.signatures[i] != sig {
			continue
		}
		s.consumed[i] = true
		s.log.V(1).Info("replayed interaction", "index", i, "method", req.Method, "url", req.URL.Redacted(), "status", in.Response.Code)
		return toResponse(req, in), nil
	}

	err := ErrNoMatchingInteraction
	if remaining == 0 {
		err = ErrCassetteExhausted
	}
	return nil, &InteractionError{ID: s.id, Signature: sig, Err: err}
}

func toResponse(req *http.Request, in *vcr.Interaction) *http.Response {
	status := in.Response.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", in.Response.Code, http.StatusText(in.Response.Code))
	}
	header := in.Response.Headers.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		Status:        status,
		StatusCode:    in.Response.Code,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(in.Response.Body)),
		ContentLength: int64(len(in.Response.Body)),
		Request:       req,
	}
}

// Unplayed returns how many replayed interactions were never requested.
func (s *Session) Unplayed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return countFalse(s.consumed)
}

// Commit finishes the session. In record mode the buffer is sanitized once
// and written atomically; a sanitization error leaves the previous cassette,
// if any, untouched. Commit is a no-op after the first call.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed {
		return nil
	}
	s.committed = true

	if s.mode != ModeRecord {
		if n := countFalse(s.consumed); n > 0 {
			s.log.V(1).Info("cassette has unplayed interactions", "unplayed", n)
		}
		return nil
	}

	kept, err := s.filters.Apply(s.doc.Interactions)
	if err != nil {
		return &SanitizationError{ID: s.id, Err: err}
	}
	dropped := len(s.doc.Interactions) - len(kept)
	s.doc.Interactions = kept

	data, err := yaml.Marshal(s.doc)
	if err != nil {
		return fmt.Errorf("%s: encoding cassette: %w", s.id, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%s: creating cassette directory: %w", s.id, err)
	}
	if err := atomicwriter.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("%s: writing cassette: %w", s.id, err)
	}
	s.log.Info("cassette written", "path", s.path, "interactions", len(kept), "dropped", dropped)
	return nil
}

func countFalse(bs []bool) int {
	n := 0
	for _, b := range bs {
		if !b {
			n++
		}
	}
	return n
}
