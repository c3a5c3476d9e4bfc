// Package classify decides whether a foreground application is permitted
// under a session's allow list.
package classify

import (
	"path/filepath"
	"strings"

	"github.com/Saifurrehman2094/labguard/internal/domain"
)

// MatchType records which rule classified an application as allowed.
type MatchType string

const (
	MatchExact      MatchType = "exact"
	MatchSubstring  MatchType = "substring"
	MatchExecutable MatchType = "executable"
	MatchNone       MatchType = "none"
)

// Decision is the diagnostic classification result, used for logging and
// testability alongside the boolean answer.
type Decision struct {
	Allowed      bool
	MatchType    MatchType
	MatchedEntry string // original allow-list entry, verbatim
}

// Normalize lowercases a name and strips every non-alphanumeric character.
// Both identity names and allow-list entries go through this before any
// comparison, so "NOTEPAD.EXE" and "notepad" collapse to the same form.
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Classify applies the matching rules in precedence order, first match wins:
// exact normalized equality, substring containment in either direction,
// normalized executable basename equality.
//
// An empty identity name is always allowed (no foreground app is not a
// violation). An empty allow list allows nothing: fail closed.
func Classify(identity domain.ApplicationIdentity, allowList domain.AllowList) Decision {
	if identity.IsEmpty() {
		return Decision{Allowed: true, MatchType: MatchNone}
	}

	name := identity.NormalizedName
	if name == "" {
		name = Normalize(identity.Name)
	}
	// A name with no alphanumeric content ("---") carries nothing to match
	// on; treat it like no foreground app rather than letting the substring
	// pass accept it against any non-blank entry.
	if name == "" {
		return Decision{Allowed: true, MatchType: MatchNone}
	}

	// Pass 1: exact.
	for _, entry := range allowList {
		if Normalize(entry) == name {
			return Decision{Allowed: true, MatchType: MatchExact, MatchedEntry: entry}
		}
	}

	// Pass 2: substring, either direction. This is deliberately loose:
	// "chrome" matches "googlechrome", which exam allow lists rely on.
	// Known false-positive risk: a short entry like "code" also matches
	// any app whose normalized name merely contains it.
	for _, entry := range allowList {
		normalized := Normalize(entry)
		if normalized == "" {
			continue
		}
		if strings.Contains(name, normalized) || strings.Contains(normalized, name) {
			return Decision{Allowed: true, MatchType: MatchSubstring, MatchedEntry: entry}
		}
	}

	// Pass 3: executable basename (extension kept, then normalized).
	if identity.ExecutablePath != "" {
		base := Normalize(filepath.Base(identity.ExecutablePath))
		if base != "" {
			for _, entry := range allowList {
				if Normalize(entry) == base {
					return Decision{Allowed: true, MatchType: MatchExecutable, MatchedEntry: entry}
				}
			}
		}
	}

	return Decision{Allowed: false, MatchType: MatchNone}
}

// IsAllowed is the boolean convenience form of Classify.
func IsAllowed(identity domain.ApplicationIdentity, allowList domain.AllowList) bool {
	return Classify(identity, allowList).Allowed
}
