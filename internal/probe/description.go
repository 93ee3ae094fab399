// Package probe implements the provider-agnostic overlying/underlying
// probe graph: probe descriptions, PRID allocation, argument arenas, and
// the graph operations providers and the discovery loop drive (spec §3,
// §4.B).
package probe

import (
	"strings"

	"github.com/thesamesam/dtrace-utils/internal/validation"
)

// Description is the four-tuple identifying a probe: provider, module,
// function, and name (spec §3). Each field may contain glob metacharacters
// `*` and `?`, or be empty/"-" to mean "any".
type Description struct {
	Provider string
	Module   string
	Function string
	Name     string
}

// fields returns the four fields in canonical matching order.
func (d Description) fields() [4]string {
	return [4]string{d.Provider, d.Module, d.Function, d.Name}
}

// String renders the canonical "provider:module:function:name" form used
// as a graph lookup key and in log output.
func (d Description) String() string {
	f := d.fields()
	return strings.Join(f[:], ":")
}

// Validate bounds-checks each field length (spec §3, delegated to the
// shared validation package since descriptors arrive from DOF streams and
// provider enumeration alike).
func (d Description) Validate() error {
	f := d.fields()
	for _, field := range f {
		if err := validation.ValidateDescriptorField(field); err != nil {
			return err
		}
	}
	return nil
}

// isWild reports whether a field should be treated as "match anything":
// empty or the literal "-" (spec §3).
func isWild(field string) bool {
	return field == "" || field == "-"
}

// Matches reports whether this description (used as a glob pattern, e.g.
// from provider-side enumeration) matches a concrete candidate
// description. Each field is matched independently with `*`/`?` glob
// semantics; a wild pattern field matches anything.
func (d Description) Matches(candidate Description) bool {
	pat := d.fields()
	cand := candidate.fields()
	for i := range pat {
		if isWild(pat[i]) {
			continue
		}
		if !globMatch(pat[i], cand[i]) {
			return false
		}
	}
	return true
}

// Exact reports whether two descriptions are identical field-for-field,
// with no glob interpretation (used for graph lookup-by-description,
// spec §4.B `lookup`).
func (d Description) Exact(other Description) bool {
	return d == other
}

// globMatch implements `*` (any run, including empty) and `?` (single
// char) glob matching, the subset spec §3 requires for probe descriptions.
func globMatch(pattern, s string) bool {
	return globMatchRunes([]rune(pattern), []rune(s))
}

func globMatchRunes(pattern, s []rune) bool {
	if len(pattern) == 0 {
		return len(s) == 0
	}
	switch pattern[0] {
	case '*':
		// Try consuming 0..len(s) characters of s for this '*'.
		for i := 0; i <= len(s); i++ {
			if globMatchRunes(pattern[1:], s[i:]) {
				return true
			}
		}
		return false
	case '?':
		if len(s) == 0 {
			return false
		}
		return globMatchRunes(pattern[1:], s[1:])
	default:
		if len(s) == 0 || s[0] != pattern[0] {
			return false
		}
		return globMatchRunes(pattern[1:], s[1:])
	}
}
