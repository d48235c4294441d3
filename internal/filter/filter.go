// Package filter holds the admission rules applied to a validated submission:
// banned content, sender allow/deny lists and attachment policy.
//
// Every rule is a pure function of the submission and the immutable Config
// it was built from.
package filter

import (
	"strings"
)

// Verdict is the outcome of one rule.
type Verdict struct {
	Blocked bool
	Reason  string
}

// Allowed is the verdict of a rule that found nothing to object to.
var Allowed = Verdict{}

func blocked(reason string) Verdict {
	return Verdict{Blocked: true, Reason: reason}
}

// Config is the process-wide filter configuration.
type Config struct {
	// BannedWords are matched case-insensitively as substrings.
	BannedWords []string

	AllowedDomains   []string
	BlockedDomains   []string
	BlockedAddresses []string

	AttachmentsEnabled bool
	MaxAttachmentBytes int64
	AllowedMIMETypes   []string
	BlockedMIMETypes   []string
}

// ParseBannedWords splits a semicolon-separated list, dropping blank entries.
func ParseBannedWords(s string) []string {
	return splitList(s, ";")
}

// ParseList splits a list separated by commas or semicolons, dropping blank
// entries.
func ParseList(s string) []string {
	return splitList(s, ",;")
}

func splitList(s, seps string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(seps, r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// lowerSet builds a lookup set of lower-cased entries.
func lowerSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			set[item] = struct{}{}
		}
	}
	return set
}
