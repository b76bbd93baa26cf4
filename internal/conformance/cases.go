package conformance

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"

	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/cassette"
	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/dns"
)

// Fixed inputs shared by every provider.
const (
	RecordName      = "foo"
	RecordType      = "TXT"
	FirstContent    = "bar1"
	SecondContent   = "bar2"
	UpdatedContent  = "baz"
	UpdatedTTL      = 3600
	UnmanagedDomain = "thisisadomainidonotown.com"
)

// Case names, in run order. They double as cassette file names.
const (
	caseAuthenticate          = "Authenticate"
	caseAuthenticateUnmanaged = "AuthenticateUnmanagedDomain"
	caseCreateRecord          = "CreateRecord"
	caseListAfterCreate       = "ListRecordsAfterCreate"
	caseCreateSecond          = "CreateSecondRecord"
	caseUpdateContent         = "UpdateRecordContent"
	caseUpdateTTL             = "UpdateRecordTTL"
	caseDeleteRecord          = "DeleteRecord"
	caseListAfterDelete       = "ListRecordsAfterDelete"
)

type testCase struct {
	name string
	run  func(e *caseEnv)
}

var cases = []testCase{
	{caseAuthenticate, func(*caseEnv) {}},
	{caseAuthenticateUnmanaged, func(e *caseEnv) {
		p := e.newProvider(UnmanagedDomain)
		err := p.Authenticate(e.t.Context())
		if errors.Is(err, dns.ErrUnsupported) {
			e.skipf("authenticate: %v", err)
		}
		if err == nil {
			e.t.Fatalf("expected authentication against %s to fail", UnmanagedDomain)
		}
	}},
	{caseCreateRecord, func(e *caseEnv) {
		e.create(FirstContent)
	}},
	{caseListAfterCreate, func(e *caseEnv) {
		e.expectContents(FirstContent)
	}},
	{caseCreateSecond, func(e *caseEnv) {
		e.create(SecondContent)
		e.expectContents(FirstContent, SecondContent)
	}},
	{caseUpdateContent, func(e *caseEnv) {
		r := e.find(FirstContent)
		r.Content = UpdatedContent
		e.check("update record", e.provider.UpdateRecord(e.t.Context(), r.ID, r))
		e.expectContents(UpdatedContent, SecondContent)
	}},
	{caseUpdateTTL, func(e *caseEnv) {
		r := e.find(SecondContent)
		r.TTL = UpdatedTTL
		e.check("update record ttl", e.provider.UpdateRecord(e.t.Context(), r.ID, r))
		got := e.find(SecondContent)
		if got.TTL != 0 && got.TTL != UpdatedTTL {
			e.t.Errorf("expected ttl %d, got %d", UpdatedTTL, got.TTL)
		}
	}},
	{caseDeleteRecord, func(e *caseEnv) {
		r := e.find(UpdatedContent)
		e.check("delete record", e.provider.DeleteRecord(e.t.Context(), r.ID))
		e.expectContents(SecondContent)
	}},
	{caseListAfterDelete, func(e *caseEnv) {
		r := e.find(SecondContent)
		e.check("delete record", e.provider.DeleteRecord(e.t.Context(), r.ID))
		e.expectContents()
	}},
}

// CaseNames returns the suite's case names in run order.
func CaseNames() []string {
	names := make([]string, len(cases))
	for i, c := range cases {
		names[i] = c.name
	}
	return names
}

// caseEnv is the state of one running case.
type caseEnv struct {
	t        *testing.T
	suite    *suite
	sess     *cassette.Session
	log      logr.Logger
	domain   string
	provider dns.Provider
	result   *Result
}

func (e *caseEnv) newProvider(domain string) dns.Provider {
	e.t.Helper()
	settings := e.suite.settings(e.sess)
	e.sess.RecordSettings(settings)
	p, err := dns.NewProvider(e.suite.cfg.Provider, e.log, domain, settings, e.suite.providerOptions(e.sess))
	if err != nil {
		e.t.Fatalf("creating provider: %v", err)
	}
	return p
}

// check fails the case on err, or skips it when the provider does not
// support the operation.
func (e *caseEnv) check(op string, err error) {
	e.t.Helper()
	if errors.Is(err, dns.ErrUnsupported) {
		e.skipf("%s: %v", op, err)
	}
	if err != nil {
		e.t.Fatalf("%s: %v", op, err)
	}
}

func (e *caseEnv) skipf(format string, args ...any) {
	e.t.Helper()
	e.result.Reason = fmt.Sprintf(format, args...)
	e.t.Skip(e.result.Reason)
}

func (e *caseEnv) create(content string) {
	e.t.Helper()
	e.check("create record", e.provider.CreateRecord(e.t.Context(), dns.Record{
		Name:    dns.FullName(RecordName, e.domain),
		Type:    RecordType,
		Content: content,
	}))
}

// list returns the suite's TXT records, keeping only those the filter
// matches in case the provider ignores part of it.
func (e *caseEnv) list() []dns.Record {
	e.t.Helper()
	filter := dns.Filter{Type: RecordType, Name: RecordName}
	records, err := e.provider.ListRecords(e.t.Context(), filter)
	e.check("list records", err)
	out := records[:0]
	for _, r := range records {
		if filter.Match(r, e.domain) {
			out = append(out, r)
		}
	}
	return out
}

func (e *caseEnv) find(content string) dns.Record {
	e.t.Helper()
	for _, r := range e.list() {
		if r.Content == content {
			return r
		}
	}
	e.t.Fatalf("no %s record %s with content %q", RecordType, RecordName, content)
	return dns.Record{}
}

func (e *caseEnv) expectContents(want ...string) {
	e.t.Helper()
	got := []string{}
	for _, r := range e.list() {
		got = append(got, r.Content)
	}
	sort.Strings(got)
	want = append([]string{}, want...)
	sort.Strings(want)
	if diff := cmp.Diff(want, got); diff != "" {
		e.t.Errorf("%s %s contents mismatch (-want +got):\n%s", RecordType, RecordName, diff)
	}
}
