package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"time"

	"github.com/erp/adminconsole/internal/credential"
	"github.com/erp/adminconsole/internal/infrastructure/logger"
)

// Request represents an API request to run through the pipeline.
type Request struct {
	Method      string
	Path        string
	QueryParams map[string]string
	Headers     map[string]string
	Body        interface{}

	// pipeline bookkeeping, set on the per-attempt copy only
	attached credential.Pair
	subject  string
	replayed bool
}

// logContext tags ctx with the subject of the attached credential.
func (r *Request) logContext(ctx context.Context) context.Context {
	if r.subject == "" {
		return ctx
	}
	return logger.WithSubject(ctx, r.subject)
}

// clone copies the request so stages can mutate headers without touching the caller's value.
func (r *Request) clone() *Request {
	c := *r
	c.Headers = maps.Clone(r.Headers)
	if c.Headers == nil {
		c.Headers = make(map[string]string)
	}
	c.QueryParams = maps.Clone(r.QueryParams)
	return &c
}

// Response represents a successful (2xx) API response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// HTTPError is a raw non-2xx response before normalization.
type HTTPError struct {
	StatusCode int
	Body       []byte
	Path       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Path, e.StatusCode)
}

// Meta represents pagination metadata
type Meta struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// envelope is the admin API's standard response wrapper.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    *Meta           `json:"meta"`
}

// DecodeData unmarshals the response payload into out and returns the
// pagination metadata, if any. Bodies without the {success, data} envelope
// are decoded as-is. A nil out only extracts Meta.
func DecodeData(resp *Response, out interface{}) (*Meta, error) {
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Success != nil {
		if out != nil && len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
			if err := json.Unmarshal(env.Data, out); err != nil {
				return nil, fmt.Errorf("decoding response data: %w", err)
			}
		}
		return env.Meta, nil
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("decoding response body: %w", err)
		}
	}
	return nil, nil
}
