package validate

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shineum/form-relay/internal/submission"
)

func body(t *testing.T, v map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func validBody(t *testing.T) map[string]any {
	t.Helper()
	return map[string]any{
		"email":   "test@example.com",
		"subject": "Test",
		"message": strings.Repeat("x", 50),
	}
}

func TestValidate_ValidSubmission(t *testing.T) {
	v := New(DefaultLimits())

	res := v.Validate(body(t, validBody(t)))
	require.True(t, res.OK(), "errors: %v", res.Errors)
	require.Equal(t, "test@example.com", res.Submission.Email)
	require.Equal(t, "Test", res.Submission.Subject)
	require.Nil(t, res.Submission.Attachment)
}

func TestValidate_TrimsSubjectAndMessage(t *testing.T) {
	v := New(DefaultLimits())
	in := validBody(t)
	in["subject"] = "  Hello  "
	in["message"] = "\n  " + strings.Repeat("y", 12) + "  \t"

	res := v.Validate(body(t, in))
	require.True(t, res.OK())
	require.Equal(t, "Hello", res.Submission.Subject)
	require.Equal(t, strings.Repeat("y", 12), res.Submission.Message)
}

func TestValidate_MessageLengthBoundaries(t *testing.T) {
	v := New(Limits{SubjectMaxLength: 200, MessageMinLength: 10, MessageMaxLength: 5000})

	tests := []struct {
		name   string
		length int
		ok     bool
	}{
		{name: "min-1", length: 9, ok: false},
		{name: "min", length: 10, ok: true},
		{name: "max", length: 5000, ok: true},
		{name: "max+1", length: 5001, ok: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := validBody(t)
			in["message"] = strings.Repeat("m", tc.length)

			res := v.Validate(body(t, in))
			require.Equal(t, tc.ok, res.OK())
			if !tc.ok {
				require.Len(t, res.Errors, 1)
				require.Equal(t, "message", res.Errors[0].Field)
			}
		})
	}
}

func TestValidate_LengthCountsCharactersNotBytes(t *testing.T) {
	v := New(Limits{SubjectMaxLength: 3, MessageMinLength: 10, MessageMaxLength: 5000})
	in := validBody(t)
	in["subject"] = "äöü"

	res := v.Validate(body(t, in))
	require.True(t, res.OK(), "errors: %v", res.Errors)
}

func TestValidate_SubjectTooLong(t *testing.T) {
	v := New(DefaultLimits())
	in := validBody(t)
	in["subject"] = strings.Repeat("s", 201)

	res := v.Validate(body(t, in))
	require.Equal(t, submission.FieldErrors{{Field: "subject", Message: "Subject must be at most 200 characters"}}, res.Errors)
}

func TestValidate_ReportsAllViolations(t *testing.T) {
	v := New(DefaultLimits())

	res := v.Validate([]byte(`{"email":"not-an-email","subject":"   ","message":"short"}`))
	require.False(t, res.OK())
	require.Equal(t, submission.FieldErrors{
		{Field: "email", Message: "Invalid email address"},
		{Field: "subject", Message: "Subject is required"},
		{Field: "message", Message: "Message must be at least 10 characters"},
	}, res.Errors)
}

func TestValidate_MissingFields(t *testing.T) {
	v := New(DefaultLimits())

	res := v.Validate([]byte(`{}`))
	require.Equal(t, submission.FieldErrors{
		{Field: "email", Message: "Email is required"},
		{Field: "subject", Message: "Subject is required"},
		{Field: "message", Message: "Message is required"},
	}, res.Errors)
}

func TestValidate_WrongTypes(t *testing.T) {
	v := New(DefaultLimits())

	res := v.Validate([]byte(`{"email":42,"subject":null,"message":["a"]}`))
	require.Equal(t, submission.FieldErrors{
		{Field: "email", Message: "Email must be a string"},
		{Field: "subject", Message: "Subject must be a string"},
		{Field: "message", Message: "Message must be a string"},
	}, res.Errors)
}

func TestValidate_RejectsNonObject(t *testing.T) {
	v := New(DefaultLimits())

	for _, raw := range []string{`[]`, `"text"`, `null`, `12`} {
		res := v.Validate([]byte(raw))
		require.Equal(t, submission.FieldErrors{{Field: "body", Message: "Expected a JSON object"}}, res.Errors, raw)
	}
}

func TestValidate_RejectsUnknownFields(t *testing.T) {
	v := New(DefaultLimits())
	in := validBody(t)
	in["website"] = "http://spam.example"
	in["name"] = "bot"

	res := v.Validate(body(t, in))
	require.Equal(t, submission.FieldErrors{
		{Field: "name", Message: "Unrecognized field"},
		{Field: "website", Message: "Unrecognized field"},
	}, res.Errors)
}

func TestValidate_EmailTooLong(t *testing.T) {
	v := New(DefaultLimits())
	in := validBody(t)
	in["email"] = strings.Repeat("a", 60) + "@" + strings.Repeat("b", 260) + ".com"

	res := v.Validate(body(t, in))
	require.Equal(t, submission.FieldErrors{{Field: "email", Message: "Email must be at most 320 characters"}}, res.Errors)
}

func TestValidate_Attachment(t *testing.T) {
	v := New(DefaultLimits())
	in := validBody(t)
	in["attachment"] = map[string]any{
		"filename":    "notes.txt",
		"contentType": "text/plain",
		"content":     base64.StdEncoding.EncodeToString([]byte("hello")),
	}

	res := v.Validate(body(t, in))
	require.True(t, res.OK(), "errors: %v", res.Errors)
	require.NotNil(t, res.Submission.Attachment)
	require.Equal(t, "notes.txt", res.Submission.Attachment.Filename)
	require.Equal(t, "text/plain", res.Submission.Attachment.ContentType)
	require.Equal(t, []byte("hello"), res.Submission.Attachment.Content)
	require.Equal(t, 5, res.Submission.Attachment.Size())
}

func TestValidate_NullAttachmentIsAbsent(t *testing.T) {
	v := New(DefaultLimits())
	in := validBody(t)
	in["attachment"] = nil

	res := v.Validate(body(t, in))
	require.True(t, res.OK())
	require.Nil(t, res.Submission.Attachment)
}

func TestValidate_AttachmentErrors(t *testing.T) {
	v := New(DefaultLimits())
	in := validBody(t)
	in["attachment"] = map[string]any{
		"filename":    "",
		"contentType": "plain",
		"content":     "%%%not-base64",
		"extra":       true,
	}

	res := v.Validate(body(t, in))
	require.Equal(t, submission.FieldErrors{
		{Field: "attachment.filename", Message: "Attachment filename is required"},
		{Field: "attachment.contentType", Message: "Attachment content type is invalid"},
		{Field: "attachment.content", Message: "Attachment content must be valid base64"},
		{Field: "attachment.extra", Message: "Unrecognized field"},
	}, res.Errors)
}

func TestValidate_AttachmentContentType(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
		valid bool
	}{
		{name: "plain", in: "application/pdf", want: "application/pdf", valid: true},
		{name: "normalized", in: " Text/Plain; Charset=utf-8 ", want: "text/plain; charset=utf-8", valid: true},
		{name: "crlf header", in: "text/plain\r\nX-Injected: yes"},
		{name: "bare newline", in: "text/plain\nBcc: a@example.com"},
		{name: "control in parameter", in: "text/plain; name=\"a\x00b\""},
		{name: "no subtype", in: "text"},
		{name: "trailing junk", in: "text/plain extra"},
	}

	v := New(DefaultLimits())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validBody(t)
			in["attachment"] = map[string]any{
				"filename":    "notes.txt",
				"contentType": tt.in,
				"content":     base64.StdEncoding.EncodeToString([]byte("hello")),
			}

			res := v.Validate(body(t, in))
			if !tt.valid {
				require.Equal(t, submission.FieldErrors{
					{Field: "attachment.contentType", Message: "Attachment content type is invalid"},
				}, res.Errors)
				return
			}
			require.True(t, res.OK(), "errors: %v", res.Errors)
			require.Equal(t, tt.want, res.Submission.Attachment.ContentType)
		})
	}
}

func TestValidate_AttachmentNotObject(t *testing.T) {
	v := New(DefaultLimits())
	in := validBody(t)
	in["attachment"] = "file.txt"

	res := v.Validate(body(t, in))
	require.Equal(t, submission.FieldErrors{{Field: "attachment", Message: "Attachment must be an object"}}, res.Errors)
}

func TestNew_DefaultsZeroLimits(t *testing.T) {
	v := New(Limits{})
	require.Equal(t, DefaultLimits(), v.limits)
}

func TestValidEmail(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"test@example.com", true},
		{"first.last+tag@sub.example.co.uk", true},
		{"o'brien@example.ie", true},
		{"", false},
		{"plain", false},
		{"@example.com", false},
		{"user@", false},
		{"user@@example.com", false},
		{"a@b@example.com", false},
		{".user@example.com", false},
		{"user.@example.com", false},
		{"us..er@example.com", false},
		{"user@example", false},
		{"user@-example.com", false},
		{"user name@example.com", false},
		{"Name <user@example.com>", false},
	}

	for _, tc := range tests {
		t.Run(tc.addr, func(t *testing.T) {
			require.Equal(t, tc.want, ValidEmail(tc.addr))
		})
	}
}
