package dns

import (
	"strings"

	mdns "github.com/miekg/dns"
)

// FullName returns the canonical FQDN of name within domain. Names that
// already end in the domain are kept, anything else is treated as relative.
// "@" and "" denote the apex.
func FullName(name, domain string) string {
	zone := mdns.CanonicalName(domain)
	if name == "" || name == "@" {
		return zone
	}
	n := mdns.CanonicalName(name)
	if mdns.IsSubDomain(zone, n) {
		return n
	}
	return mdns.CanonicalName(strings.TrimSuffix(name, ".") + "." + zone)
}

// RelativeName returns name relative to domain, "@" for the apex.
func RelativeName(name, domain string) string {
	n := FullName(name, domain)
	zone := mdns.CanonicalName(domain)
	if n == zone {
		return "@"
	}
	return strings.TrimSuffix(strings.TrimSuffix(n, zone), ".")
}

// ValidType reports whether t is a known DNS record type mnemonic.
func ValidType(t string) bool {
	_, ok := mdns.StringToType[strings.ToUpper(t)]
	return ok
}

// Match reports whether r satisfies f within domain.
func (f Filter) Match(r Record, domain string) bool {
	if f.Type != "" && !strings.EqualFold(f.Type, r.Type) {
		return false
	}
	if f.Name != "" && FullName(f.Name, domain) != FullName(r.Name, domain) {
		return false
	}
	if f.Content != "" && f.Content != r.Content {
		return false
	}
	return true
}
