package pipeline

import (
	"net/http"
	"time"

	"github.com/shineum/form-relay/internal/submission"
)

// TimestampFormat is the ISO 8601 UTC layout used in every response.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Body is the JSON response body. Success responses set Success and
// Message; failures set Error and optionally Details.
type Body struct {
	Success   bool                   `json:"success,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Details   submission.FieldErrors `json:"details,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// Response is the outcome of one pipeline run, independent of transport.
type Response struct {
	Status  int
	Body    Body
	Headers map[string]string
	// Err is the rejection, if any. It is never serialized.
	Err *StageError
}

func timestamp(now time.Time) string {
	return now.UTC().Format(TimestampFormat)
}

func successResponse(now time.Time) Response {
	return Response{
		Status: http.StatusOK,
		Body: Body{
			Success:   true,
			Message:   MsgSent,
			Timestamp: timestamp(now),
		},
	}
}

func errorResponse(e *StageError, now time.Time) Response {
	return Response{
		Status: e.Status,
		Body: Body{
			Error:     e.Message,
			Details:   e.Details,
			Timestamp: timestamp(now),
		},
		Err: e,
	}
}

// ErrorBody builds a failure body for rejections produced outside the
// pipeline, such as transport limits.
func ErrorBody(message string, details submission.FieldErrors, now time.Time) Body {
	return Body{Error: message, Details: details, Timestamp: timestamp(now)}
}
