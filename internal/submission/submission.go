// Package submission defines the contact-form submission accepted by the relay.
package submission

import "strings"

// MaxEmailLength is the longest sender address accepted (RFC 5321 path limit).
const MaxEmailLength = 320

// Submission is a validated contact-form submission. It is built once per
// request from untrusted input and never mutated afterwards.
type Submission struct {
	Email      string
	Subject    string
	Message    string
	Attachment *Attachment
}

// Attachment is an optional file sent with a submission. Content holds the
// decoded bytes of the base64 payload.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Size returns the decoded attachment size in bytes.
func (a *Attachment) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Content)
}

// NormalizedEmail returns the sender address trimmed and lower-cased, as used
// for per-sender counting and list lookups.
func (s Submission) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(s.Email))
}

// FieldError describes one violated rule on one input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrors is an ordered list of field violations.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	parts := make([]string, 0, len(fe))
	for _, e := range fe {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}
