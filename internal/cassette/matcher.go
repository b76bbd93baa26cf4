package cassette

import (
	"encoding/json"
	"net/url"
	"path"
	"strings"

	vcr "gopkg.in/dnaeon/go-vcr.v2/cassette"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/sanitize"
)

// Matcher derives the identity of a request. Parameters declared volatile
// are left out of the identity entirely on both the recorded and the
// replayed side.
type Matcher struct {
	volatileQuery sets.Set[string]
	volatileBody  sets.Set[string]
}

// NewMatcher treats the redacted query and body parameters of filters plus
// the extra volatile names as volatile.
func NewMatcher(filters sanitize.FilterSet, volatile []string) *Matcher {
	m := &Matcher{volatileQuery: sets.New[string](), volatileBody: sets.New[string]()}
	for _, n := range filters.QueryParams {
		m.volatileQuery.Insert(strings.ToLower(n))
	}
	for _, n := range filters.BodyParams {
		m.volatileBody.Insert(strings.ToLower(n))
	}
	for _, n := range volatile {
		m.volatileQuery.Insert(strings.ToLower(n))
		m.volatileBody.Insert(strings.ToLower(n))
	}
	return m
}

// Signature returns method, normalized URI and normalized body parameters
// joined into one comparable string.
func (m *Matcher) Signature(method, rawURL, body, contentType string) string {
	return strings.ToUpper(method) + " " + m.normalizeURL(rawURL) + " " + m.normalizeBody(body, contentType)
}

// RecordedSignature is Signature for a recorded request.
func (m *Matcher) RecordedSignature(r vcr.Request) string {
	return m.Signature(r.Method, r.URL, r.Body, r.Headers.Get("Content-Type"))
}

func (m *Matcher) normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	u.Host = host
	if u.Path == "" {
		u.Path = "/"
	} else {
		trailing := strings.HasSuffix(u.Path, "/")
		u.Path = path.Clean(u.Path)
		if trailing && u.Path != "/" {
			u.Path += "/"
		}
	}
	u.RawPath = ""
	u.Fragment = ""

	q := u.Query()
	for k := range q {
		if m.volatileQuery.Has(strings.ToLower(k)) {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (m *Matcher) normalizeBody(body, contentType string) string {
	if body == "" {
		return ""
	}
	trimmed := strings.TrimSpace(body)
	if strings.Contains(contentType, "json") || strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v interface{}
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			if data, err := json.Marshal(m.stripJSON(v)); err == nil {
				return string(data)
			}
		}
	}
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		if q, err := url.ParseQuery(body); err == nil {
			for k := range q {
				if m.volatileBody.Has(strings.ToLower(k)) {
					q.Del(k)
				}
			}
			return q.Encode()
		}
	}
	return body
}

func (m *Matcher) stripJSON(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			if m.volatileBody.Has(strings.ToLower(k)) {
				delete(t, k)
				continue
			}
			t[k] = m.stripJSON(child)
		}
	case []interface{}:
		for i, child := range t {
			t[i] = m.stripJSON(child)
		}
	}
	return v
}
