package filter

import (
	"strings"

	"github.com/shineum/form-relay/internal/submission"
)

// ContentFilter blocks submissions containing a banned token anywhere in the
// sender address, subject or message. Matching is a plain substring test, so
// "spam" also matches "spamming".
type ContentFilter struct {
	banned []string
}

// NewContentFilter creates a ContentFilter from the configured banned words.
func NewContentFilter(cfg Config) *ContentFilter {
	banned := make([]string, 0, len(cfg.BannedWords))
	for _, w := range cfg.BannedWords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			banned = append(banned, w)
		}
	}
	return &ContentFilter{banned: banned}
}

// Check evaluates the rule.
func (f *ContentFilter) Check(sub submission.Submission) Verdict {
	if len(f.banned) == 0 {
		return Allowed
	}

	text := strings.ToLower(sub.Email + " " + sub.Subject + " " + sub.Message)
	for _, word := range f.banned {
		if strings.Contains(text, word) {
			return blocked("banned content")
		}
	}
	return Allowed
}
