// Package audit checks committed cassettes for content that must never be
// persisted: rate-limited responses, credential headers that escaped
// redaction, and known secrets.
package audit

import (
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	vcr "gopkg.in/dnaeon/go-vcr.v2/cassette"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/cassette"
	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/sanitize"
)

// Kinds of findings.
const (
	KindRateLimited       = "rate-limited"
	KindUnredactedHeader  = "unredacted-header"
	KindLeakedSecret      = "leaked-secret"
	KindUnsupportedFormat = "unsupported-format"
)

// Options selects what Scan looks for besides rate-limited responses.
type Options struct {
	// Headers must hold the redaction placeholder wherever they appear.
	Headers []string
	// Secrets must not appear anywhere in a cassette.
	Secrets []string
}

// Finding is one problem in one cassette.
type Finding struct {
	Path string
	// Interaction is the index of the offending interaction.
	Interaction int
	Kind        string
	Detail      string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s[%d]: %s: %s", f.Path, f.Interaction, f.Kind, f.Detail)
}

// Scan checks every *.yaml cassette below dir. Files that cannot be parsed
// are reported in the returned error; the other files are still scanned.
func Scan(dir string, opts Options) ([]Finding, error) {
	var (
		findings []Finding
		errs     []error
	)
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".yaml" {
			return nil
		}
		doc, err := cassette.LoadFile(path)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		findings = append(findings, File(path, doc, opts)...)
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}
	return findings, utilerrors.NewAggregate(errs)
}

// File checks one loaded cassette.
func File(path string, doc *cassette.Document, opts Options) []Finding {
	var findings []Finding
	add := func(i int, kind, detail string) {
		findings = append(findings, Finding{Path: path, Interaction: i, Kind: kind, Detail: detail})
	}

	if doc.Version != cassette.FormatVersion {
		add(-1, KindUnsupportedFormat, fmt.Sprintf("version %d", doc.Version))
	}
	for i, in := range doc.Interactions {
		if in.Response.Code == http.StatusTooManyRequests {
			add(i, KindRateLimited, in.Request.Method+" "+in.Request.URL)
		}
		for _, h := range opts.Headers {
			if unredacted(in.Request.Headers, h) {
				add(i, KindUnredactedHeader, "request header "+http.CanonicalHeaderKey(h))
			}
			if unredacted(in.Response.Headers, h) {
				add(i, KindUnredactedHeader, "response header "+http.CanonicalHeaderKey(h))
			}
		}
		for _, s := range opts.Secrets {
			if s != "" && leaks(in, s) {
				add(i, KindLeakedSecret, mask(s))
			}
		}
	}
	sort.SliceStable(findings, func(a, b int) bool { return findings[a].Interaction < findings[b].Interaction })
	return findings
}

func unredacted(h http.Header, name string) bool {
	for k, values := range h {
		if !strings.EqualFold(k, name) {
			continue
		}
		for _, v := range values {
			if v != sanitize.Placeholder {
				return true
			}
		}
	}
	return false
}

func leaks(in *vcr.Interaction, secret string) bool {
	if strings.Contains(in.Request.URL, secret) ||
		strings.Contains(in.Request.Body, secret) ||
		strings.Contains(in.Response.Body, secret) {
		return true
	}
	for _, h := range []http.Header{in.Request.Headers, in.Response.Headers} {
		for _, values := range h {
			for _, v := range values {
				if strings.Contains(v, secret) {
					return true
				}
			}
		}
	}
	for _, values := range in.Request.Form {
		for _, v := range values {
			if strings.Contains(v, secret) {
				return true
			}
		}
	}
	return false
}

// mask keeps findings from repeating the secret they report.
func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
