// Package transport is the single outbound HTTP channel to the console
// backend. Every gateway call goes through Client.Send, which runs the
// request interceptors (credential, request id), performs the exchange with
// a fixed timeout, runs the response interceptors (session expiry) and turns
// any non-2xx answer into a typed *Error.
//
// The client never retries. Callers decide whether to re-issue a call.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds every exchange, including reading a JSON body.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response is read to extract the
// error message.
const maxErrorBody = 1 << 20

// RequestInterceptor runs on every outbound request before it is sent.
// Returning an error aborts the call without contacting the backend.
type RequestInterceptor func(*http.Request) error

// ResponseInterceptor runs on every response, successful or not, before the
// status is mapped to an error. It must not consume the body.
type ResponseInterceptor func(*http.Response) error

// Observer receives one notification per finished call. status is 0 when no
// response was obtained.
type Observer interface {
	Observe(method, route string, status int, elapsed time.Duration, err error)
}

// Options configures a Client.
type Options struct {
	// BaseURL is the backend origin, e.g. http://localhost:8000. Request
	// paths are appended to its path.
	BaseURL string

	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration

	// UserAgent is sent on every request when set.
	UserAgent string

	Logger *zap.Logger

	// HTTPClient overrides the underlying client. Its Timeout is replaced by
	// Options.Timeout.
	HTTPClient *http.Client
}

// Option customizes a Client after construction.
type Option func(*Client)

// WithRequestInterceptor appends fn to the request pipeline.
func WithRequestInterceptor(fn RequestInterceptor) Option {
	return func(c *Client) { c.onRequest = append(c.onRequest, fn) }
}

// WithResponseInterceptor appends fn to the response pipeline.
func WithResponseInterceptor(fn ResponseInterceptor) Option {
	return func(c *Client) { c.onResponse = append(c.onResponse, fn) }
}

// WithObserver registers an observer notified after every call.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observers = append(c.observers, o) }
}

// Client sends requests to the backend. It is safe for concurrent use once
// constructed; interceptors must be registered through Options.
type Client struct {
	base       *url.URL
	http       *http.Client
	userAgent  string
	logger     *zap.Logger
	onRequest  []RequestInterceptor
	onResponse []ResponseInterceptor
	observers  []Observer
}

// New creates a Client.
func New(opts Options, extra ...Option) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("transport: base url %q must be absolute", opts.BaseURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	hc := &http.Client{}
	if opts.HTTPClient != nil {
		cp := *opts.HTTPClient
		hc = &cp
	}
	hc.Timeout = timeout

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		base:      base,
		http:      hc,
		userAgent: opts.UserAgent,
		logger:    logger.Named("transport"),
	}
	for _, o := range extra {
		o(c)
	}
	return c, nil
}

// BaseURL returns the configured backend origin.
func (c *Client) BaseURL() string { return c.base.String() }

// Request describes one call.
type Request struct {
	Method string

	// Route is the path template, e.g. /api/tasks/{id}/pause. It labels
	// logs and metrics so they do not explode with one series per id.
	// Defaults to Path.
	Route string

	Path  string
	Query url.Values

	// Body is JSON-encoded when non-nil. Ignored when Form is set.
	Body any

	// Form sends a multipart/form-data body.
	Form *Multipart
}

func (r *Request) route() string {
	if r.Route != "" {
		return r.Route
	}
	return r.Path
}

// Response is a fully read successful response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the body into out. An empty body leaves out untouched.
func (r *Response) Decode(out any) error {
	if out == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("transport: decode response: %w", err)
	}
	return nil
}

// Send performs req and reads the whole body.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.failure(req, 0, err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// JSON performs req and decodes the response body into out, which may be nil.
func (c *Client) JSON(ctx context.Context, req *Request, out any) error {
	resp, err := c.Send(ctx, req)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// Download is a successful binary response. The caller must close Body.
type Download struct {
	Body        io.ReadCloser
	ContentType string
	Filename    string

	// Size is -1 when the backend did not announce it.
	Size int64
}

// Stream performs req and hands the body over unread. Use it for artifact
// downloads, which bypass JSON decoding.
func (c *Client) Stream(ctx context.Context, req *Request) (*Download, error) {
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Download{
		Body:        resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
		Filename:    filenameFrom(resp.Header.Get("Content-Disposition")),
		Size:        resp.ContentLength,
	}, nil
}

// do runs the full pipeline and returns a 2xx response with an unread body.
// Any other outcome is returned as *Error and the body is closed.
func (c *Client) do(ctx context.Context, req *Request) (*http.Response, error) {
	start := time.Now()

	hreq, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}

	for _, fn := range c.onRequest {
		if err := fn(hreq); err != nil {
			// An unsent body is never closed by net/http. Closing it here
			// ends a multipart writer blocked on the pipe.
			if hreq.Body != nil {
				hreq.Body.Close()
			}
			e := &Error{
				Kind:    KindAborted,
				Method:  req.Method,
				Path:    req.Path,
				Message: err.Error(),
				Err:     err,
			}
			if errors.Is(err, ErrUnauthorized) {
				e.Kind = KindUnauthorized
			}
			c.finish(req, hreq, 0, start, e)
			return nil, e
		}
	}

	resp, err := c.http.Do(hreq)
	if err != nil {
		e := c.failure(req, 0, err)
		c.finish(req, hreq, 0, start, e)
		return nil, e
	}

	for _, fn := range c.onResponse {
		if err := fn(resp); err != nil {
			c.logger.Warn("response interceptor failed",
				zap.String("route", req.route()),
				zap.Error(err),
			)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		e := statusError(req.Method, req.Path, resp.StatusCode, body)
		c.finish(req, hreq, resp.StatusCode, start, e)
		return nil, e
	}

	c.finish(req, hreq, resp.StatusCode, start, nil)
	return resp, nil
}

func (c *Client) build(ctx context.Context, req *Request) (*http.Request, error) {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + req.Path
	u.RawPath = ""
	u.RawQuery = req.Query.Encode()

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case req.Form != nil:
		body, contentType = req.Form.reader()
	case req.Body != nil:
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("transport: encode %s %s: %w", req.Method, req.Path, err)
		}
		body, contentType = bytes.NewReader(data), "application/json"
	}

	hreq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		if rc, ok := body.(io.Closer); ok {
			rc.Close()
		}
		return nil, fmt.Errorf("transport: build %s %s: %w", req.Method, req.Path, err)
	}
	if contentType != "" {
		hreq.Header.Set("Content-Type", contentType)
	}
	hreq.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		hreq.Header.Set("User-Agent", c.userAgent)
	}
	return hreq, nil
}

// failure classifies an error that prevented obtaining a response.
func (c *Client) failure(req *Request, status int, err error) *Error {
	e := &Error{
		Kind:       KindNetwork,
		Method:     req.Method,
		Path:       req.Path,
		StatusCode: status,
		Err:        err,
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		e.Kind = KindTimeout
		e.Message = "request timed out"
		return e
	}
	e.Message = "network error: " + err.Error()
	return e
}

func (c *Client) finish(req *Request, hreq *http.Request, status int, start time.Time, err error) {
	elapsed := time.Since(start)
	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("route", req.route()),
		zap.Int("status", status),
		zap.Duration("elapsed", elapsed),
		zap.String("request_id", hreq.Header.Get(RequestIDHeader)),
	}
	if err != nil {
		c.logger.Warn("request failed", append(fields, zap.Error(err))...)
	} else {
		c.logger.Debug("request completed", fields...)
	}

	for _, o := range c.observers {
		o.Observe(req.Method, req.route(), status, elapsed, err)
	}
}

// filenameFrom extracts the filename parameter of a Content-Disposition
// header. RFC 5987 encoded names (filename*=UTF-8''...) are decoded.
func filenameFrom(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}
