// Package apierror defines the canonical failure record every admin API
// call resolves to, and the total mapping that produces it from whatever
// the transport returned.
package apierror

import (
	"errors"
	"fmt"
	"time"
)

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Record is the normalized shape of every failed request.
type Record struct {
	Timestamp        time.Time    `json:"timestamp"`
	Status           string       `json:"status"`
	StatusCode       int          `json:"statusCode"`
	Message          string       `json:"message"`
	Path             string       `json:"path"`
	ValidationErrors []FieldError `json:"validationErrors,omitempty"`

	// Cause is the transport error behind a connection failure.
	Cause error `json:"-"`
}

func (r *Record) Error() string {
	if r.Path != "" {
		return fmt.Sprintf("%s %d %s: %s", r.Status, r.StatusCode, r.Path, r.Message)
	}
	return fmt.Sprintf("%s %d: %s", r.Status, r.StatusCode, r.Message)
}

func (r *Record) Unwrap() error { return r.Cause }

// As extracts the Record from an error chain.
func As(err error) (*Record, bool) {
	var rec *Record
	if errors.As(err, &rec) && rec != nil {
		return rec, true
	}
	return nil, false
}

// HasStatus reports whether err carries a Record with the given canonical status.
func HasStatus(err error, status string) bool {
	rec, ok := As(err)
	return ok && rec.Status == status
}

// StatusOf returns the record status of err, or "" when err is not a Record.
func StatusOf(err error) string {
	if rec, ok := As(err); ok {
		return rec.Status
	}
	return ""
}
