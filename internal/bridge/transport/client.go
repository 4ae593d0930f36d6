// Package transport performs the HTTP calls against the FordPass and Autonomic APIs.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/state"
	"github.com/autopeer-io/fordpass-bridge/pkg/region"
)

// Request timeouts.
const (
	TotalTimeout   = 45 * time.Second
	ConnectTimeout = 30 * time.Second
	ReadTimeout    = 120 * time.Second
)

// maxBodySize bounds every response body read into memory.
const maxBodySize = 16 << 20

// Request is a prepared HTTP call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a completed HTTP call with its body read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	method string
	url    string
}

// Node decodes the body as a JSON tree.
func (r *Response) Node() (*state.Node, error) {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return state.Object(), nil
	}
	n, err := state.Parse(r.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s %s: %v", ErrTransient, r.method, r.url, err)
	}
	return n, nil
}

// Check returns a *StatusError unless the status is one of ok, or 200 when ok
// is empty. 401 is always classified as unauthorized.
func (r *Response) Check(ok ...int) error {
	if len(ok) == 0 {
		ok = []int{http.StatusOK}
	}
	if slices.Contains(ok, r.StatusCode) {
		return nil
	}
	return r.statusError(r.StatusCode == http.StatusUnauthorized)
}

func (r *Response) statusError(unauthorized bool) *StatusError {
	return &StatusError{
		Method:       r.method,
		URL:          r.url,
		Code:         r.StatusCode,
		Body:         r.Body,
		unauthorized: unauthorized,
	}
}

// Client sends requests for one account region.
type Client struct {
	http      *http.Client
	endpoints Endpoints
	region    region.Region
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoints overrides the vendor base URLs. Empty fields keep their defaults.
func WithEndpoints(e Endpoints) Option {
	return func(c *Client) { c.endpoints = e.withDefaults() }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient returns a client for r with the default timeouts.
func NewClient(r region.Region, opts ...Option) *Client {
	c := &Client{
		http:      NewHTTPClient(),
		endpoints: DefaultEndpoints(),
		region:    r,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewHTTPClient returns an http.Client with the total, connect and read timeouts.
func NewHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: ConnectTimeout, KeepAlive: 30 * time.Second}
	return &http.Client{
		Timeout: TotalTimeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   ConnectTimeout,
			ResponseHeaderTimeout: ReadTimeout,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   4,
		},
	}
}

func (c *Client) Endpoints() Endpoints  { return c.endpoints }
func (c *Client) Region() region.Region { return c.region }

// Do sends req. Transport failures wrap ErrTransient. Any HTTP status is
// returned as a Response and left to the caller to classify.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", req.Method, req.URL, err)
	}
	for k, vs := range req.Header {
		httpReq.Header[k] = slices.Clone(vs)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransient, req.Method, redact(req.URL), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s %s: %v", ErrTransient, req.Method, redact(req.URL), err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		method:     req.Method,
		url:        redact(req.URL),
	}, nil
}

// redact drops the query string, which may carry identifiers.
func redact(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// newJSONRequest builds a request with the API header preset and a JSON body.
func (c *Client) newJSONRequest(method, rawURL string, body any) (*Request, error) {
	req := &Request{Method: method, URL: rawURL, Header: APIHeaders(c.region.AppID)}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		req.Body = data
	}
	return req, nil
}

func (c *Client) newFormRequest(rawURL string, form url.Values) *Request {
	h := http.Header{}
	h.Set("Accept", "*/*")
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	h.Set("User-Agent", userAgent)
	return &Request{Method: http.MethodPost, URL: rawURL, Header: h, Body: []byte(form.Encode())}
}
