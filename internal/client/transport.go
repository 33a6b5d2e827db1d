package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/erp/adminconsole/internal/infrastructure/logger"
	"github.com/erp/adminconsole/internal/infrastructure/metrics"
)

// RequestIDHeader carries the per-attempt correlation id.
const RequestIDHeader = "X-Request-ID"

const tracerName = "github.com/erp/adminconsole/internal/client"

// Transport sends a single attempt over HTTP. It returns *HTTPError for
// non-2xx responses and the raw error when no response arrived.
type Transport struct {
	httpClient *http.Client
	baseURL    *url.URL
	headers    map[string]string
	limiter    *rate.Limiter
	tracer     trace.Tracer
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func newTransport(baseURL string, httpClient *http.Client) (*Transport, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host required", baseURL)
	}

	return &Transport{
		httpClient: httpClient,
		baseURL:    u,
		headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
		tracer: otel.Tracer(tracerName),
		logger: zap.NewNop(),
	}, nil
}

// RoundTrip performs one HTTP exchange for req.
func (t *Transport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	u := t.buildURL(req.Path, req.QueryParams)

	var bodyReader io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	requestID := req.Headers[RequestIDHeader]
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx = logger.WithRequestID(req.logContext(ctx), requestID)

	ctx, span := t.tracer.Start(ctx, req.Method+" "+req.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
			attribute.String("request.id", requestID),
		),
	)
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set(RequestIDHeader, requestID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	log := logger.L(ctx, t.logger).With(zap.String("method", req.Method), zap.String("path", req.Path))

	start := time.Now()
	httpResp, err := t.httpClient.Do(httpReq)
	duration := time.Since(start)
	t.metrics.ObserveRoundTrip(req.Method, duration)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		log.Debug("request failed", zap.Duration("duration", duration), zap.Error(err))
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reading body")
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", httpResp.StatusCode))
	log.Debug("response received",
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("duration", duration),
	)

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		span.SetStatus(codes.Error, http.StatusText(httpResp.StatusCode))
		return nil, &HTTPError{StatusCode: httpResp.StatusCode, Body: body, Path: req.Path}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
		Duration:   duration,
	}, nil
}

// buildURL appends path to the base URL path and sets query parameters.
func (t *Transport) buildURL(path string, queryParams map[string]string) *url.URL {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := *t.baseURL
	u.Path = strings.TrimRight(t.baseURL.Path, "/") + path
	u.RawPath = ""

	if len(queryParams) > 0 {
		q := u.Query()
		for k, v := range queryParams {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return &u
}
