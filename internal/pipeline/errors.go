package pipeline

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shineum/form-relay/internal/submission"
)

// Stage names one gate of the admission pipeline.
type Stage string

const (
	StageAuth       Stage = "auth"
	StageParse      Stage = "parse"
	StageValidate   Stage = "validate"
	StageContent    Stage = "content_filter"
	StageIdentity   Stage = "identity_filter"
	StageAttachment Stage = "attachment_filter"
	StageRateLimit  Stage = "rate_limit"
	StageSend       Stage = "send"
	StageInternal   Stage = "internal"
)

// Public error strings. These are the only error texts callers ever see.
const (
	MsgUnauthorized      = "Unauthorized"
	MsgInvalidJSON       = "Invalid JSON payload"
	MsgValidationFailed  = "Validation failed"
	MsgContentBlocked    = "Message contains inappropriate content and cannot be sent"
	MsgIdentityBlocked   = "Email address is not allowed"
	MsgAttachmentBlocked = "Attachment validation failed"
	MsgRateLimited       = "Rate limit exceeded"
	MsgSendFailed        = "Failed to send email"
	MsgInternal          = "Internal server error"
	MsgSent              = "Email sent successfully"
)

// StageError is a rejection produced by one stage. It carries everything
// needed to render the response; Cause is for logs only.
type StageError struct {
	Stage   Stage
	Status  int
	Message string
	Details submission.FieldErrors
	Cause   error
}

func (e *StageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

func authError(err error) *StageError {
	msg := "Invalid API key"
	if errors.Is(err, ErrMissingCredential) {
		msg = "Missing API key"
	}
	return &StageError{
		Stage:   StageAuth,
		Status:  http.StatusUnauthorized,
		Message: MsgUnauthorized,
		Details: submission.FieldErrors{{Field: "authentication", Message: msg}},
		Cause:   err,
	}
}

func parseError(err error) *StageError {
	return &StageError{Stage: StageParse, Status: http.StatusBadRequest, Message: MsgInvalidJSON, Cause: err}
}

func validationError(errs submission.FieldErrors) *StageError {
	return &StageError{Stage: StageValidate, Status: http.StatusBadRequest, Message: MsgValidationFailed, Details: errs}
}

func policyError(stage Stage, message, field, reason string) *StageError {
	e := &StageError{Stage: stage, Status: http.StatusBadRequest, Message: message}
	if field != "" {
		e.Details = submission.FieldErrors{{Field: field, Message: reason}}
	}
	return e
}

func rateLimitError(reason string) *StageError {
	return &StageError{
		Stage:   StageRateLimit,
		Status:  http.StatusTooManyRequests,
		Message: MsgRateLimited,
		Details: submission.FieldErrors{{Field: "rate_limit", Message: reason}},
	}
}

func sendError(err error) *StageError {
	return &StageError{Stage: StageSend, Status: http.StatusInternalServerError, Message: MsgSendFailed, Cause: err}
}

func internalError(cause error) *StageError {
	return &StageError{Stage: StageInternal, Status: http.StatusInternalServerError, Message: MsgInternal, Cause: cause}
}
