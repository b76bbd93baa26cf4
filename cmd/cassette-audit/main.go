package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/audit"
	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/config"
	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/dns"
	_ "github.com/yuriy-kovalchuk/yk-dns-conformance/internal/dns/providers"
	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/sanitize"
)

var Version = "dev"

func main() {
	opts := zap.Options{
		Development: true,
	}
	opts.BindFlags(flag.CommandLine)

	dir := flag.String("dir", "", "cassette directory to scan (default: DNSCONF_CASSETTE_DIR or testdata/cassettes)")
	headers := flag.String("headers", "Authorization,Auth-API-Token", "comma-separated headers that must be redacted")
	flag.Parse()

	logf.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	n, err := run(logf.Log.WithName("cassette-audit"), *dir, splitList(*headers))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if n > 0 {
		os.Exit(2)
	}
}

// run scans the cassettes and returns the number of findings.
func run(log logr.Logger, dir string, headers []string) (int, error) {
	log.Info("starting cassette-audit", "version", Version)

	h, err := config.LoadHarness()
	if err != nil {
		return 0, fmt.Errorf("unable to load harness config: %w", err)
	}
	if dir == "" {
		dir = h.CassetteDir
	}

	secrets, err := knownSecrets(log, h)
	if err != nil {
		return 0, err
	}
	log.Info("scanning cassettes", "dir", dir, "headers", headers, "secrets", len(secrets))

	findings, err := audit.Scan(dir, audit.Options{Headers: headers, Secrets: secrets})
	for _, f := range findings {
		log.Info("finding", "path", f.Path, "interaction", f.Interaction, "kind", f.Kind, "detail", f.Detail)
	}
	if err != nil {
		return len(findings), fmt.Errorf("scan incomplete: %w", err)
	}
	log.Info("scan complete", "findings", len(findings))
	return len(findings), nil
}

// knownSecrets collects the live credentials configured for every
// registered provider, so that leaks of them can be detected.
func knownSecrets(log logr.Logger, h *config.Harness) ([]string, error) {
	var secrets []string
	for _, name := range dns.Names() {
		reg, err := dns.Lookup(name)
		if err != nil {
			return nil, err
		}
		creds, err := h.Credentials(name, reg.Secrets)
		if err != nil {
			return nil, fmt.Errorf("unable to load %s credentials: %w", name, err)
		}
		for field, v := range creds {
			if len(v) < sanitize.MinSecretLength {
				log.V(1).Info("credential too short to scan for", "provider", name, "field", field)
				continue
			}
			secrets = append(secrets, v)
		}
	}
	return secrets, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
