// Package client is the HTTP facade every driver talks through.
//
// The client never interprets status codes: responses of any status are
// returned fully read so callers can assert on them. Only transport
// failures become errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBaseURI     = "http://localhost"
	DefaultPort        = 7070
	DefaultEnvironment = "unrestricted"
	DefaultTimeout     = 30 * time.Second
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain"
	ContentTypeZip  = "application/zip"
)

var (
	tracer = otel.Tracer("eddi-conform/client")
	meter  = otel.GetMeterProvider().Meter("eddi-conform/client")
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURI is the scheme and host of the service. Defaults to http://localhost.
	BaseURI string

	// Port is applied when BaseURI carries no explicit port. Defaults to 7070;
	// a negative value leaves BaseURI untouched.
	Port int

	// Environment is the deployment environment path segment. Defaults to
	// "unrestricted".
	Environment string

	// Timeout applies to individual requests. Defaults to 30 seconds.
	Timeout time.Duration

	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client

	Serializer *Serializer
	Recorder   Recorder
	Logger     *slog.Logger
}

// Client performs requests against one service instance.
// All methods are safe for concurrent use.
type Client struct {
	baseURL     string
	environment string
	http        *http.Client
	ser         *Serializer
	recorder    Recorder
	logger      *slog.Logger
	clock       seqClock
	requests    metric.Int64Counter
	latency     metric.Float64Histogram
}

// New creates a Client from cfg, applying defaults for zero fields.
func New(cfg Config) (*Client, error) {
	base, err := resolveBaseURL(cfg.BaseURI, cfg.Port)
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	env := cfg.Environment
	if env == "" {
		env = DefaultEnvironment
	}
	ser := cfg.Serializer
	if ser == nil {
		ser = NewSerializer()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Client{
		baseURL:     base,
		environment: env,
		http:        httpClient,
		ser:         ser,
		recorder:    cfg.Recorder,
		logger:      logger,
	}
	// Instruments are best effort; a nil instrument is skipped.
	if counter, err := meter.Int64Counter("eddi.client.requests"); err == nil {
		c.requests = counter
	}
	if hist, err := meter.Float64Histogram("eddi.client.duration", metric.WithUnit("ms")); err == nil {
		c.latency = hist
	}
	return c, nil
}

func resolveBaseURL(baseURI string, port int) (string, error) {
	if baseURI == "" {
		baseURI = DefaultBaseURI
	}
	if port == 0 {
		port = DefaultPort
	}
	u, err := url.Parse(strings.TrimRight(baseURI, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base uri %q: %w", baseURI, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base uri %q must have scheme and host", baseURI)
	}
	if u.Port() == "" && port > 0 {
		u.Host = u.Hostname() + ":" + strconv.Itoa(port)
	}
	return u.String(), nil
}

// BaseURL returns the resolved base URL including port.
func (c *Client) BaseURL() string { return c.baseURL }

// Environment returns the deployment environment path segment.
func (c *Client) Environment() string { return c.environment }

// Serializer returns the serializer shared by all drivers on this client.
func (c *Client) Serializer() *Serializer { return c.ser }

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Request describes one outgoing call. Path is relative to the base URL
// and may carry a query string.
type Request struct {
	Method      string
	Path        string
	Body        []byte
	ContentType string
	Accept      string
}

// Do performs req and returns the fully read response, whatever its status.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	target := c.baseURL + req.Path
	seq := c.clock.next()

	ctx, span := tracer.Start(ctx, req.Method+" "+pathOnly(req.Path),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", target),
			attribute.Int64("eddi.exchange_seq", seq),
		),
	)
	defer span.End()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if req.Accept != "" {
		httpReq.Header.Set("Accept", req.Accept)
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.record(ctx, Exchange{Seq: seq, Step: StepFrom(ctx), Method: req.Method, URL: target, Path: req.Path,
			RequestBody: req.Body, Duration: time.Since(start), Err: err.Error()})
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%s %s: read body: %w", req.Method, req.Path, err)
	}
	elapsed := time.Since(start)

	span.SetAttributes(attribute.Int("http.status_code", httpResp.StatusCode))
	if httpResp.StatusCode >= 500 {
		span.SetStatus(codes.Error, httpResp.Status)
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.Int("http.status_code", httpResp.StatusCode),
	)
	if c.requests != nil {
		c.requests.Add(ctx, 1, attrs)
	}
	if c.latency != nil {
		c.latency.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	}

	resp := &Response{
		Seq:    seq,
		Method: req.Method,
		URL:    target,
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   data,
		ser:    c.ser,
	}
	c.logger.Debug("exchange",
		"seq", seq,
		"method", req.Method,
		"path", req.Path,
		"status", resp.Status,
		"duration", elapsed,
	)
	c.record(ctx, Exchange{
		Seq:          seq,
		Step:         StepFrom(ctx),
		Method:       req.Method,
		URL:          target,
		Path:         req.Path,
		RequestBody:  req.Body,
		Status:       resp.Status,
		Location:     resp.Location(),
		ResponseBody: data,
		Duration:     elapsed,
	})
	return resp, nil
}

func (c *Client) record(ctx context.Context, ex Exchange) {
	if c.recorder != nil {
		c.recorder.Record(ctx, ex)
	}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path})
}

// GetText performs a GET request accepting plain text.
func (c *Client) GetText(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Accept: ContentTypeText})
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path})
}

// PostJSON encodes body and POSTs it as JSON.
func (c *Client) PostJSON(ctx context.Context, path string, body any) (*Response, error) {
	return c.sendJSON(ctx, http.MethodPost, path, body)
}

// PutJSON encodes body and PUTs it as JSON.
func (c *Client) PutJSON(ctx context.Context, path string, body any) (*Response, error) {
	return c.sendJSON(ctx, http.MethodPut, path, body)
}

// PatchJSON encodes body and PATCHes it as JSON.
func (c *Client) PatchJSON(ctx context.Context, path string, body any) (*Response, error) {
	return c.sendJSON(ctx, http.MethodPatch, path, body)
}

// PostText POSTs text as text/plain.
func (c *Client) PostText(ctx context.Context, path, text string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: []byte(text), ContentType: ContentTypeText})
}

// PostBinary POSTs raw bytes with the given content type.
func (c *Client) PostBinary(ctx context.Context, path, contentType string, body []byte) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body, ContentType: contentType})
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body any) (*Response, error) {
	data, err := c.EncodeBody(body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return c.Do(ctx, Request{Method: method, Path: path, Body: data, ContentType: ContentTypeJSON})
}

// EncodeBody returns raw bodies ([]byte, json.RawMessage, string) verbatim
// and encodes anything else with the serializer. A nil body encodes as {}.
func (c *Client) EncodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return []byte("{}"), nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return c.ser.Marshal(body)
	}
}

func pathOnly(p string) string {
	path, _, _ := strings.Cut(p, "?")
	return path
}
