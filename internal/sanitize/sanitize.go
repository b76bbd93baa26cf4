// Package sanitize strips provider secrets and noise from recorded
// interactions before a cassette is written.
package sanitize

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"gopkg.in/dnaeon/go-vcr.v2/cassette"
	"k8s.io/apimachinery/pkg/util/sets"
)

// Placeholder replaces every redacted value.
const Placeholder = "REDACTED"

// MinSecretLength is the shortest redacted value that is scrubbed as a
// substring. Shorter values are only replaced where they make up a whole
// header value or JSON string.
const MinSecretLength = 6

// ResponseFilter rewrites a recorded response. Returning a nil response
// drops the whole interaction.
type ResponseFilter func(resp *cassette.Response) (*cassette.Response, error)

// FilterSet is the per-provider sanitization declaration. The zero value
// redacts nothing.
type FilterSet struct {
	Headers     []string
	QueryParams []string
	BodyParams  []string
	Response    ResponseFilter
}

// Apply sanitizes interactions in order and returns the ones to persist.
// Rate-limited responses are always dropped.
func (fs FilterSet) Apply(interactions []*cassette.Interaction) ([]*cassette.Interaction, error) {
	headers := lowerSet(fs.Headers)
	query := lowerSet(fs.QueryParams)
	body := lowerSet(fs.BodyParams)
	response := Chain(DropStatus(http.StatusTooManyRequests), fs.Response)

	secrets := sets.New[string]()
	kept := make([]*cassette.Interaction, 0, len(interactions))
	for i, in := range interactions {
		resp, err := response(&in.Response)
		if err != nil {
			return nil, fmt.Errorf("interaction %d (%s %s): response filter: %w", i, in.Request.Method, in.Request.URL, err)
		}
		if resp == nil {
			continue
		}
		in.Response = *resp

		redactHeaders(in.Request.Headers, headers, secrets)
		redactHeaders(in.Response.Headers, headers, secrets)
		if in.Request.URL, err = redactURL(in.Request.URL, query, secrets); err != nil {
			return nil, fmt.Errorf("interaction %d: redact query: %w", i, err)
		}
		if in.Request.Body, err = redactBody(in.Request.Body, in.Request.Headers.Get("Content-Type"), body, secrets); err != nil {
			return nil, fmt.Errorf("interaction %d: redact body: %w", i, err)
		}
		redactValues(in.Request.Form, body, secrets)
		kept = append(kept, in)
	}

	secrets.Delete(Placeholder, "")
	for _, sec := range sets.List(secrets) {
		for _, in := range kept {
			scrub(in, sec)
		}
	}
	return kept, nil
}

func lowerSet(names []string) sets.Set[string] {
	s := sets.New[string]()
	for _, n := range names {
		s.Insert(strings.ToLower(n))
	}
	return s
}

func redactHeaders(h http.Header, names, secrets sets.Set[string]) {
	for k, values := range h {
		if !names.Has(strings.ToLower(k)) {
			continue
		}
		for i, v := range values {
			collectCredential(v, secrets)
			values[i] = Placeholder
		}
	}
}

// collectCredential records v and, for Authorization-style values, the
// credential parts it is made of.
func collectCredential(v string, secrets sets.Set[string]) {
	secrets.Insert(v)
	scheme, cred, ok := strings.Cut(v, " ")
	if !ok {
		return
	}
	secrets.Insert(cred)
	if !strings.EqualFold(scheme, "basic") {
		return
	}
	decoded, err := base64.StdEncoding.DecodeString(cred)
	if err != nil {
		return
	}
	if user, pass, ok := strings.Cut(string(decoded), ":"); ok {
		secrets.Insert(user, pass)
	}
}

func redactValues(v url.Values, names, secrets sets.Set[string]) bool {
	changed := false
	for k, values := range v {
		if !names.Has(strings.ToLower(k)) {
			continue
		}
		for i := range values {
			secrets.Insert(values[i])
			values[i] = Placeholder
			changed = true
		}
	}
	return changed
}

func redactURL(raw string, names, secrets sets.Set[string]) (string, error) {
	if names.Len() == 0 {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if !redactValues(q, names, secrets) {
		return raw, nil
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func redactBody(body, contentType string, names, secrets sets.Set[string]) (string, error) {
	if body == "" || names.Len() == 0 {
		return body, nil
	}
	switch {
	case isJSON(body, contentType):
		var v interface{}
		if err := json.Unmarshal([]byte(body), &v); err != nil {
			return body, nil
		}
		if !redactJSON(v, names, secrets) {
			return body, nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	case strings.HasPrefix(contentType, "application/x-www-form-urlencoded"):
		q, err := url.ParseQuery(body)
		if err != nil {
			return "", err
		}
		if !redactValues(q, names, secrets) {
			return body, nil
		}
		return q.Encode(), nil
	}
	return body, nil
}

func isJSON(body, contentType string) bool {
	if strings.Contains(contentType, "json") {
		return true
	}
	trimmed := strings.TrimSpace(body)
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

// redactJSON walks v and replaces the values of matching keys at any depth.
func redactJSON(v interface{}, names, secrets sets.Set[string]) bool {
	changed := false
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			if names.Has(strings.ToLower(k)) {
				if s, ok := child.(string); ok {
					secrets.Insert(s)
				}
				t[k] = Placeholder
				changed = true
				continue
			}
			if redactJSON(child, names, secrets) {
				changed = true
			}
		}
	case []interface{}:
		for _, child := range t {
			if redactJSON(child, names, secrets) {
				changed = true
			}
		}
	}
	return changed
}

// scrub replaces occurrences of secret in the request headers and the
// response. The request URL and body are left alone: the matcher compares
// them, and their declared fields are already redacted.
func scrub(in *cassette.Interaction, secret string) {
	replace := func(v string) string {
		if v == secret {
			return Placeholder
		}
		if len(secret) < MinSecretLength {
			return v
		}
		return strings.ReplaceAll(v, secret, Placeholder)
	}
	for _, h := range []http.Header{in.Request.Headers, in.Response.Headers} {
		for k, values := range h {
			if strings.EqualFold(k, "Content-Length") {
				continue
			}
			for i := range values {
				values[i] = replace(values[i])
			}
		}
	}

	body := in.Response.Body
	if len(secret) < MinSecretLength {
		quoted, err := json.Marshal(secret)
		if err != nil {
			return
		}
		body = strings.ReplaceAll(body, string(quoted), `"`+Placeholder+`"`)
	} else {
		body = strings.ReplaceAll(body, secret, Placeholder)
	}
	if body != in.Response.Body {
		setBody(&in.Response, body)
	}
}
