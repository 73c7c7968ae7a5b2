package validator

import (
	"regexp"
	"strings"
)

// bodyClass is the character class the remainder after "://" must start with.
const bodyClass = `[a-zA-Z0-9\-@:%._\+~#=]+`

// Validator checks candidate strings against a fixed set of accepted link schemes.
// A Validator is immutable after New and safe for concurrent use.
type Validator struct {
	schemes []string
	pattern *regexp.Regexp // nil when no usable scheme was given
}

// New compiles a validator for the given schemes, e.g. "vless", "vmess", "ss".
// Empty and duplicate scheme names are dropped.
func New(schemes []string) *Validator {
	seen := make(map[string]struct{}, len(schemes))
	quoted := make([]string, 0, len(schemes))
	kept := make([]string, 0, len(schemes))
	for _, s := range schemes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		kept = append(kept, s)
		quoted = append(quoted, regexp.QuoteMeta(s))
	}

	v := &Validator{schemes: kept}
	if len(quoted) > 0 {
		// Anchored at the start only: the candidate must begin with scheme:// and at
		// least one allowed character, whatever follows is kept as-is.
		v.pattern = regexp.MustCompile(`^(` + strings.Join(quoted, "|") + `)://` + bodyClass)
	}
	return v
}

// IsValid reports whether candidate is an acceptable configuration link.
func (v *Validator) IsValid(candidate string) bool {
	if v == nil || v.pattern == nil {
		return false
	}
	return v.pattern.MatchString(candidate)
}

// Schemes returns the accepted scheme names in configuration order.
func (v *Validator) Schemes() []string {
	if v == nil {
		return nil
	}
	out := make([]string, len(v.schemes))
	copy(out, v.schemes)
	return out
}

// IsValid is a one-shot helper for callers that do not keep a Validator around.
func IsValid(candidate string, schemes []string) bool {
	return New(schemes).IsValid(candidate)
}
