// Package cassette records HTTP interactions into per-test fixture files and
// replays them without network access.
package cassette

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-logr/logr"
	"go.yaml.in/yaml/v3"
	vcr "gopkg.in/dnaeon/go-vcr.v2/cassette"

	"github.com/yuriy-kovalchuk/yk-dns-conformance/internal/sanitize"
)

// FormatVersion is written into every cassette. Readers accept documents
// without meta so older fixtures keep replaying.
const FormatVersion = 1

// DefaultVariant names the cassette namespace of a provider without variant.
const DefaultVariant = "default"

// Mode selects live recording or replay.
type Mode int

const (
	// ModeReplay serves every request from the cassette. It is the default.
	ModeReplay Mode = iota
	// ModeRecord performs live calls and regenerates the cassette on commit.
	ModeRecord
)

func (m Mode) String() string {
	if m == ModeRecord {
		return "record"
	}
	return "replay"
}

// ID identifies one cassette.
type ID struct {
	Provider string
	Variant  string
	Test     string
}

func (id ID) String() string {
	variant := id.Variant
	if variant == "" {
		variant = DefaultVariant
	}
	return id.Provider + "/" + variant + "/" + id.Test
}

// Meta describes how a cassette was recorded.
type Meta struct {
	Provider string `yaml:"provider,omitempty"`
	Domain   string `yaml:"domain,omitempty"`
	Variant  string `yaml:"variant,omitempty"`
	Test     string `yaml:"test,omitempty"`
	// Settings lists the settings fields that held a value at record time.
	Settings []string `yaml:"settings,omitempty"`
}

// Document is the on-disk cassette. The version and interactions keys
// follow the go-vcr cassette layout.
type Document struct {
	Version      int                `yaml:"version"`
	Meta         *Meta              `yaml:"meta,omitempty"`
	Interactions []*vcr.Interaction `yaml:"interactions"`
}

// Store keeps cassettes under Dir, one file per (provider, variant, test).
type Store struct {
	Dir string
	Log logr.Logger
}

// NewStore returns a store rooted at dir.
func NewStore(dir string, log logr.Logger) *Store {
	return &Store{Dir: dir, Log: log}
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9._-]+`)

func pathSafe(s string) string {
	return strings.Trim(unsafeChars.ReplaceAllString(strings.ToLower(s), "_"), "_")
}

// Path returns the file that holds the cassette for id.
func (s *Store) Path(id ID) string {
	variant := id.Variant
	if variant == "" {
		variant = DefaultVariant
	}
	return filepath.Join(s.Dir, pathSafe(id.Provider), pathSafe(variant), pathSafe(id.Test)+".yaml")
}

// Load reads the cassette for id.
func (s *Store) Load(id ID) (*Document, error) {
	return LoadFile(s.Path(id))
}

// LoadFile reads a cassette document from path.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrCassetteNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading cassette: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing cassette %s: %w", path, err)
	}
	if doc.Version > FormatVersion {
		return nil, fmt.Errorf("cassette %s: unsupported format version %d", path, doc.Version)
	}
	return &doc, nil
}

// Options configures a session.
type Options struct {
	Mode    Mode
	Filters sanitize.FilterSet
	// Volatile names extra query/body parameters left out of matching.
	Volatile []string
	// Transport performs live calls while recording. Defaults to an
	// instrumented http.DefaultTransport.
	Transport http.RoundTripper
	Meta      Meta
}

// Begin opens a session for id. Replay loads the recorded cassette; record
// starts from an empty buffer that replaces the cassette on commit.
func (s *Store) Begin(id ID, opts Options) (*Session, error) {
	sess := &Session{
		id:      id,
		path:    s.Path(id),
		mode:    opts.Mode,
		filters: opts.Filters,
		matcher: NewMatcher(opts.Filters, opts.Volatile),
		log:     s.Log.WithValues("cassette", id.String(), "mode", opts.Mode.String()),
	}

	if opts.Mode == ModeRecord {
		meta := opts.Meta
		sess.doc = &Document{Version: FormatVersion, Meta: &meta}
		sess.transport = opts.Transport
		if sess.transport == nil {
			sess.transport = defaultTransport()
		}
		sess.log.V(1).Info("recording cassette", "path", sess.path)
		return sess, nil
	}

	doc, err := LoadFile(sess.path)
	if err != nil {
		return nil, err
	}
	sess.doc = doc
	sess.consumed = make([]bool, len(doc.Interactions))
	sess.signatures = make([]string, len(doc.Interactions))
	for i, in := range doc.Interactions {
		sess.signatures[i] = sess.matcher.RecordedSignature(in.Request)
	}
	sess.log.V(1).Info("replaying cassette", "path", sess.path, "interactions", len(doc.Interactions))
	return sess, nil
}
