package apierror

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultStatusCode and DefaultMessage are the last entries of their fallback lists.
const (
	DefaultStatusCode = http.StatusInternalServerError
	DefaultMessage    = "An unexpected error occurred"
)

// now is replaced in tests.
var now = time.Now

// Outcome is the closed set of failure shapes a transport can produce.
type Outcome interface {
	outcome()
}

// StructuredFailure is a non-2xx response whose body is a JSON object.
type StructuredFailure struct {
	StatusCode int
	Body       []byte
	Path       string
}

// UnstructuredFailure is a non-2xx response with an empty or non-JSON body.
type UnstructuredFailure struct {
	StatusCode int
	Body       []byte
	Path       string
}

// ConnectionFailure is a request that never produced a response.
type ConnectionFailure struct {
	Err  error
	Path string
}

func (StructuredFailure) outcome()   {}
func (UnstructuredFailure) outcome() {}
func (ConnectionFailure) outcome()   {}

// Classify picks the outcome variant for a completed non-2xx response.
func Classify(statusCode int, body []byte, path string) Outcome {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed) {
		return StructuredFailure{StatusCode: statusCode, Body: trimmed, Path: path}
	}
	return UnstructuredFailure{StatusCode: statusCode, Body: body, Path: path}
}

// FromError coerces an arbitrary error into a Record. Records pass through untouched.
func FromError(err error, path string) *Record {
	if err == nil {
		return nil
	}
	if rec, ok := As(err); ok {
		return rec
	}
	return Normalize(ConnectionFailure{Err: err, Path: path})
}

// transportHints are the values the transport itself can vouch for.
type transportHints struct {
	status     string
	statusCode int
	message    string
	path       string
}

// Normalize maps every outcome variant to a Record. Each field is resolved
// from an ordered list: body fields first, then transport hints, then defaults.
func Normalize(o Outcome) *Record {
	var (
		b     wireBody
		hints transportHints
		cause error
	)

	switch v := o.(type) {
	case StructuredFailure:
		_ = json.Unmarshal(v.Body, &b)
		hints = transportHints{statusCode: v.StatusCode, message: http.StatusText(v.StatusCode), path: v.Path}
	case UnstructuredFailure:
		hints = transportHints{
			statusCode: v.StatusCode,
			message:    firstNonEmpty(plainText(v.Body), http.StatusText(v.StatusCode)),
			path:       v.Path,
		}
	case ConnectionFailure:
		hints = transportHints{status: StatusNetworkError, path: v.Path}
		cause = v.Err
		if v.Err != nil {
			hints.message = v.Err.Error()
		}
	}

	errObj := b.errorObject()

	rec := &Record{
		Status: CanonicalStatus(firstNonEmpty(
			b.statusString(),
			errObj.Code,
			b.Code,
			hints.status,
			StatusUnknown,
		)),
		StatusCode: firstPositive(
			b.StatusCode,
			b.StatusCodeSnake,
			b.statusNumber(),
			hints.statusCode,
			DefaultStatusCode,
		),
		Message: firstNonEmpty(
			b.Message,
			errObj.Message,
			b.errorString(),
			b.Msg,
			hints.message,
			DefaultMessage,
		),
		Path: firstNonEmpty(
			b.Path,
			hints.path,
		),
		Timestamp: firstTime(
			parseTimestamp(b.Timestamp),
			parseTimestamp(errObj.Timestamp),
			now(),
		),
		Cause: cause,
	}

	switch {
	case len(b.ValidationErrors) > 0:
		rec.ValidationErrors = b.ValidationErrors
	case len(errObj.Details) > 0:
		rec.ValidationErrors = errObj.Details
	}
	return rec
}

// wireBody covers both body styles the admin API has used: the flat record
// ({status, statusCode, message, path, ...}) and the envelope
// ({success, error: {code, message, details}}).
type wireBody struct {
	Timestamp        json.RawMessage `json:"timestamp"`
	Status           json.RawMessage `json:"status"`
	StatusCode       int             `json:"statusCode"`
	StatusCodeSnake  int             `json:"status_code"`
	Code             string          `json:"code"`
	Message          string          `json:"message"`
	Msg              string          `json:"msg"`
	Path             string          `json:"path"`
	Error            json.RawMessage `json:"error"`
	ValidationErrors []FieldError    `json:"validationErrors"`
}

type wireError struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Timestamp json.RawMessage `json:"timestamp"`
	Details   []FieldError    `json:"details"`
}

// statusString returns status when the body sends it as a code string.
func (b wireBody) statusString() string {
	var s string
	if json.Unmarshal(b.Status, &s) == nil {
		return s
	}
	return ""
}

// statusNumber returns status when the body sends the HTTP code there instead.
func (b wireBody) statusNumber() int {
	var n int
	if json.Unmarshal(b.Status, &n) == nil {
		return n
	}
	return 0
}

func (b wireBody) errorObject() wireError {
	var e wireError
	if len(b.Error) > 0 && b.Error[0] == '{' {
		_ = json.Unmarshal(b.Error, &e)
	}
	return e
}

func (b wireBody) errorString() string {
	var s string
	if json.Unmarshal(b.Error, &s) == nil {
		return s
	}
	return ""
}

// parseTimestamp accepts RFC 3339 strings and epoch milliseconds.
func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
		return time.Time{}
	}
	if ms, err := strconv.ParseInt(string(raw), 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

// plainText keeps short text bodies (proxy error pages reduced to a line) as the message.
func plainText(body []byte) string {
	s := strings.TrimSpace(string(body))
	if s == "" || len(s) > 200 || strings.HasPrefix(s, "<") {
		return ""
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstTime(values ...time.Time) time.Time {
	for _, v := range values {
		if !v.IsZero() {
			return v
		}
	}
	return time.Time{}
}
