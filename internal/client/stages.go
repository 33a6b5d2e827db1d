package client

import (
	"context"
	"errors"

	"github.com/erp/adminconsole/internal/apierror"
)

// SessionTerminator ends the session; *session.Terminator implements it.
type SessionTerminator interface {
	Terminate(ctx context.Context, reason string)
}

// errorNormalizer is the outermost stage. Everything after it on the
// returning path sees *apierror.Record or a silence sentinel.
type errorNormalizer struct{}

func (errorNormalizer) Prepare(context.Context, *Request) error { return nil }

func (errorNormalizer) Recover(_ context.Context, req *Request, err error) (*Response, error) {
	if errors.Is(err, ErrAbandoned) {
		return nil, err
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return nil, apierror.Normalize(apierror.Classify(httpErr.StatusCode, httpErr.Body, req.Path))
	}
	return nil, apierror.FromError(err, req.Path)
}

// authFailureTerminator ends the session when any request is rejected
// outright. It never attempts recovery.
type authFailureTerminator struct {
	terminator SessionTerminator
}

func (authFailureTerminator) Prepare(context.Context, *Request) error { return nil }

func (t authFailureTerminator) Recover(ctx context.Context, _ *Request, err error) (*Response, error) {
	if !apierror.HasStatus(err, apierror.StatusAuthenticationFailed) {
		return nil, err
	}
	t.terminator.Terminate(ctx, apierror.StatusAuthenticationFailed)
	return nil, ErrSessionEnded
}
