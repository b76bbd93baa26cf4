// Package fallback supplies stand-in settings values when a provider is
// built for replay and the live credentials are not available.
package fallback

import (
	"k8s.io/apimachinery/pkg/util/sets"
)

// Func returns the replay value for a settings field, or false for "no value".
type Func func(field string) (string, bool)

// Placeholder resolves every field to "placeholder_<field>".
func Placeholder(field string) (string, bool) {
	return "placeholder_" + field, true
}

// None resolves every field to no value.
func None(string) (string, bool) {
	return "", false
}

// Except wraps fn so that the listed fields resolve to no value. It keeps
// one half of mutually exclusive credentials out of replay settings.
func Except(fn Func, fields ...string) Func {
	excluded := sets.New(fields...)
	return func(field string) (string, bool) {
		if excluded.Has(field) {
			return "", false
		}
		return fn(field)
	}
}

// Resolver answers settings lookups during replay.
type Resolver struct {
	fn       Func
	recorded sets.Set[string]
}

// NewResolver returns a resolver backed by fn (Placeholder when nil).
// recorded lists the fields that held a value when the cassette was
// recorded; fields outside it resolve to no value. A nil recorded list
// means the cassette did not say, and fn decides alone.
func NewResolver(fn Func, recorded []string) *Resolver {
	if fn == nil {
		fn = Placeholder
	}
	r := &Resolver{fn: fn}
	if recorded != nil {
		r.recorded = sets.New(recorded...)
	}
	return r
}

// Resolve returns the replay value for field. A panicking Func resolves to
// no value.
func (r *Resolver) Resolve(field string) (value string, ok bool) {
	if r.recorded != nil && !r.recorded.Has(field) {
		return "", false
	}
	defer func() {
		if recover() != nil {
			value, ok = "", false
		}
	}()
	return r.fn(field)
}

// Settings resolves every field into a settings map, skipping fields
// without a value.
func (r *Resolver) Settings(fields []string) map[string]string {
	settings := make(map[string]string, len(fields))
	for _, f := range fields {
		if v, ok := r.Resolve(f); ok && v != "" {
			settings[f] = v
		}
	}
	return settings
}
