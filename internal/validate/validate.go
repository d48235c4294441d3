// Package validate turns an untrusted JSON body into a submission.Submission,
// reporting every violated rule at once.
package validate

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shineum/form-relay/internal/submission"
)

const (
	defaultSubjectMaxLength = 200
	defaultMessageMinLength = 10
	defaultMessageMaxLength = 5000

	maxFilenameLength = 255
)

// emailPattern accepts the dot-atom subset of RFC 5322 addresses that mail
// providers actually deliver to.
var emailPattern = regexp.MustCompile(`^[A-Za-z0-9!#$%&'*+/=?^_{|}~-]+(\.[A-Za-z0-9!#$%&'*+/=?^_{|}~-]+)*@[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?)*\.[A-Za-z]{2,}$`)

// Limits bounds the length of free-text fields. Lengths are counted in
// characters, and both ends of each range are inclusive.
type Limits struct {
	SubjectMaxLength int
	MessageMinLength int
	MessageMaxLength int
}

// DefaultLimits returns the limits used when nothing is configured.
func DefaultLimits() Limits {
	return Limits{
		SubjectMaxLength: defaultSubjectMaxLength,
		MessageMinLength: defaultMessageMinLength,
		MessageMaxLength: defaultMessageMaxLength,
	}
}

// Result is either a valid submission (Errors empty) or the list of
// violations found.
type Result struct {
	Submission submission.Submission
	Errors     submission.FieldErrors
}

// OK reports whether validation succeeded.
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// Validator checks request bodies against the configured limits.
type Validator struct {
	limits Limits
}

// New creates a Validator. Zero-valued limits fall back to the defaults.
func New(limits Limits) *Validator {
	def := DefaultLimits()
	if limits.SubjectMaxLength <= 0 {
		limits.SubjectMaxLength = def.SubjectMaxLength
	}
	if limits.MessageMinLength <= 0 {
		limits.MessageMinLength = def.MessageMinLength
	}
	if limits.MessageMaxLength <= 0 {
		limits.MessageMaxLength = def.MessageMaxLength
	}
	return &Validator{limits: limits}
}

// Validate decodes raw and checks every field. Unknown top-level or
// attachment fields are rejected. It never panics: an unexpected failure is
// reported as a single "unknown" field error.
func (v *Validator) Validate(raw []byte) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Errors: submission.FieldErrors{{Field: "unknown", Message: "Validation failed"}}}
		}
	}()

	fields, ok := decodeObject(raw)
	if !ok {
		return Result{Errors: submission.FieldErrors{{Field: "body", Message: "Expected a JSON object"}}}
	}

	var errs submission.FieldErrors
	var sub submission.Submission

	sub.Email, errs = v.checkEmail(fields, errs)
	sub.Subject, errs = v.checkSubject(fields, errs)
	sub.Message, errs = v.checkMessage(fields, errs)
	sub.Attachment, errs = v.checkAttachment(fields, errs)

	errs = append(errs, unrecognized("", fields, "email", "subject", "message", "attachment")...)

	if len(errs) > 0 {
		return Result{Errors: errs}
	}
	return Result{Submission: sub}
}

func (v *Validator) checkEmail(fields map[string]json.RawMessage, errs submission.FieldErrors) (string, submission.FieldErrors) {
	value, err := stringField(fields, "email", "Email")
	if err != nil {
		return "", append(errs, *err)
	}
	switch {
	case value == "":
		return "", append(errs, submission.FieldError{Field: "email", Message: "Email is required"})
	case utf8.RuneCountInString(value) > submission.MaxEmailLength:
		return "", append(errs, submission.FieldError{
			Field:   "email",
			Message: fmt.Sprintf("Email must be at most %d characters", submission.MaxEmailLength),
		})
	case !ValidEmail(value):
		return "", append(errs, submission.FieldError{Field: "email", Message: "Invalid email address"})
	}
	return value, errs
}

func (v *Validator) checkSubject(fields map[string]json.RawMessage, errs submission.FieldErrors) (string, submission.FieldErrors) {
	value, err := stringField(fields, "subject", "Subject")
	if err != nil {
		return "", append(errs, *err)
	}
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", append(errs, submission.FieldError{Field: "subject", Message: "Subject is required"})
	case utf8.RuneCountInString(value) > v.limits.SubjectMaxLength:
		return "", append(errs, submission.FieldError{
			Field:   "subject",
			Message: fmt.Sprintf("Subject must be at most %d characters", v.limits.SubjectMaxLength),
		})
	}
	return value, errs
}

func (v *Validator) checkMessage(fields map[string]json.RawMessage, errs submission.FieldErrors) (string, submission.FieldErrors) {
	value, err := stringField(fields, "message", "Message")
	if err != nil {
		return "", append(errs, *err)
	}
	value = strings.TrimSpace(value)
	n := utf8.RuneCountInString(value)
	switch {
	case value == "":
		return "", append(errs, submission.FieldError{Field: "message", Message: "Message is required"})
	case n < v.limits.MessageMinLength:
		return "", append(errs, submission.FieldError{
			Field:   "message",
			Message: fmt.Sprintf("Message must be at least %d characters", v.limits.MessageMinLength),
		})
	case n > v.limits.MessageMaxLength:
		return "", append(errs, submission.FieldError{
			Field:   "message",
			Message: fmt.Sprintf("Message must be at most %d characters", v.limits.MessageMaxLength),
		})
	}
	return value, errs
}

func (v *Validator) checkAttachment(fields map[string]json.RawMessage, errs submission.FieldErrors) (*submission.Attachment, submission.FieldErrors) {
	raw, present := fields["attachment"]
	if !present || string(raw) == "null" {
		return nil, errs
	}

	obj, ok := decodeObject(raw)
	if !ok {
		return nil, append(errs, submission.FieldError{Field: "attachment", Message: "Attachment must be an object"})
	}

	before := len(errs)
	att := &submission.Attachment{}

	filename, err := stringField(obj, "filename", "Attachment filename")
	switch {
	case err != nil:
		err.Field = "attachment.filename"
		errs = append(errs, *err)
	case strings.TrimSpace(filename) == "":
		errs = append(errs, submission.FieldError{Field: "attachment.filename", Message: "Attachment filename is required"})
	case utf8.RuneCountInString(filename) > maxFilenameLength:
		errs = append(errs, submission.FieldError{
			Field:   "attachment.filename",
			Message: fmt.Sprintf("Attachment filename must be at most %d characters", maxFilenameLength),
		})
	default:
		att.Filename = strings.TrimSpace(filename)
	}

	contentType, err := stringField(obj, "contentType", "Attachment content type")
	switch {
	case err != nil:
		err.Field = "attachment.contentType"
		errs = append(errs, *err)
	default:
		if normalized, ok := normalizeContentType(contentType); ok {
			att.ContentType = normalized
		} else {
			errs = append(errs, submission.FieldError{Field: "attachment.contentType", Message: "Attachment content type is invalid"})
		}
	}

	content, err := stringField(obj, "content", "Attachment content")
	switch {
	case err != nil:
		err.Field = "attachment.content"
		errs = append(errs, *err)
	case content == "":
		errs = append(errs, submission.FieldError{Field: "attachment.content", Message: "Attachment content is required"})
	default:
		decoded, decErr := base64.StdEncoding.DecodeString(content)
		if decErr != nil {
			errs = append(errs, submission.FieldError{Field: "attachment.content", Message: "Attachment content must be valid base64"})
		} else {
			att.Content = decoded
		}
	}

	errs = append(errs, unrecognized("attachment.", obj, "filename", "contentType", "content")...)

	if len(errs) > before {
		return nil, errs
	}
	return att, errs
}

// normalizeContentType parses a media type and re-serializes it. Control
// characters and anything mime.ParseMediaType rejects are invalid.
func normalizeContentType(s string) (string, bool) {
	if strings.ContainsFunc(s, unicode.IsControl) {
		return "", false
	}
	mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(s))
	if err != nil || !strings.Contains(mediaType, "/") {
		return "", false
	}
	formatted := mime.FormatMediaType(mediaType, params)
	return formatted, formatted != ""
}

// ValidEmail reports whether addr has the shape of a deliverable address.
func ValidEmail(addr string) bool {
	if utf8.RuneCountInString(addr) > submission.MaxEmailLength {
		return false
	}
	at := strings.LastIndexByte(addr, '@')
	if at < 1 || at > 64 {
		return false
	}
	return emailPattern.MatchString(addr)
}

func decodeObject(raw []byte) (map[string]json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

// stringField reads a string member. A missing member yields "" with no error
// so the caller reports it as "required".
func stringField(fields map[string]json.RawMessage, name, label string) (string, *submission.FieldError) {
	raw, ok := fields[name]
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || string(raw) == "null" {
		return "", &submission.FieldError{Field: name, Message: label + " must be a string"}
	}
	return s, nil
}

func unrecognized(prefix string, fields map[string]json.RawMessage, known ...string) submission.FieldErrors {
	allowed := make(map[string]struct{}, len(known))
	for _, k := range known {
		allowed[k] = struct{}{}
	}
	var extra []string
	for k := range fields {
		if _, ok := allowed[k]; !ok {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)

	errs := make(submission.FieldErrors, 0, len(extra))
	for _, k := range extra {
		errs = append(errs, submission.FieldError{Field: prefix + k, Message: "Unrecognized field"})
	}
	return errs
}
