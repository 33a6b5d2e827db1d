package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/adminconsole/internal/credential"
)

// ErrAbandoned means the request was dropped on purpose and the caller gets
// no result. It is not a failure to report: either the session ended and
// navigation already happened, or a benign race made the outcome moot.
var ErrAbandoned = errors.New("request abandoned")

// ErrSessionEnded is the ErrAbandoned flavour used when the session was torn down.
var ErrSessionEnded = fmt.Errorf("%w: session ended", ErrAbandoned)

// Stage is one step of the request pipeline.
//
// Prepare runs on the outgoing path in pipeline order. Recover runs on the
// returning path of a failed attempt, also in pipeline order: it either
// recovers with a response, or returns an error (unchanged, replaced, or a
// silence sentinel) that the next stage sees.
type Stage interface {
	Prepare(ctx context.Context, req *Request) error
	Recover(ctx context.Context, req *Request, err error) (*Response, error)
}

// roundTripper is the innermost step, normally *Transport.
type roundTripper interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
}

// Pipeline runs requests through its stages and a transport.
type Pipeline struct {
	stages    []Stage
	transport roundTripper
}

// Do executes req. The caller's Request is never modified.
func (p *Pipeline) Do(ctx context.Context, req Request) (*Response, error) {
	return p.run(ctx, req.clone())
}

func (p *Pipeline) run(ctx context.Context, req *Request) (*Response, error) {
	for _, s := range p.stages {
		if err := s.Prepare(ctx, req); err != nil {
			return nil, err
		}
	}

	resp, err := p.transport.RoundTrip(ctx, req)
	if err == nil {
		return resp, nil
	}

	for _, s := range p.stages {
		resp, err = s.Recover(ctx, req, err)
		if err == nil {
			return resp, nil
		}
	}
	return nil, err
}

// replay sends a fresh attempt of original. Stages see it as a new request
// flagged as a replay.
func (p *Pipeline) replay(ctx context.Context, original *Request) (*Response, error) {
	next := original.clone()
	delete(next.Headers, "Authorization")
	delete(next.Headers, RequestIDHeader)
	next.attached = credential.Pair{}
	next.subject = ""
	next.replayed = true
	return p.run(ctx, next)
}
