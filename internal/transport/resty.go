package transport

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 10 * time.Second

// RestySender sends requests with a resty client bound to one base URL.
// Resty's own retry support is left disabled; retries belong to the caller.
type RestySender struct {
	baseURL string
	client  *resty.Client
}

// NewRestySender returns a sender rooted at baseURL.
func NewRestySender(baseURL string, timeout time.Duration) (*RestySender, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, &RequestError{Reason: "base url", Err: err}
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	return &RestySender{baseURL: base, client: client}, nil
}

// BaseURL returns the configured base URL.
func (s *RestySender) BaseURL() string {
	if s == nil {
		return ""
	}
	return s.baseURL
}

// Send performs the request. Non-2xx statuses are returned as responses.
func (s *RestySender) Send(ctx context.Context, req *Request) (*Response, error) {
	if s == nil || s.client == nil {
		return nil, &RequestError{Reason: "sender not configured"}
	}
	if req == nil {
		return nil, &RequestError{Reason: "request is nil"}
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		return nil, &RequestError{Reason: "method is required"}
	}
	path := req.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if _, err := url.Parse(s.baseURL + path); err != nil {
		return nil, &RequestError{Reason: "path", Err: err}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r := s.client.R().SetContext(ctx)
	if len(req.Query) > 0 {
		r.SetQueryParamsFromValues(req.Query)
	}
	if len(req.Header) > 0 {
		r.SetHeaderMultiValues(req.Header)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	target := path
	if req.RawQuery != "" {
		target = path + "?" + req.RawQuery
	}
	resp, err := r.Execute(method, target)
	if err != nil {
		return nil, &NetworkError{Method: method, Path: path, Err: err}
	}

	return &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
		ReceivedAt: resp.ReceivedAt(),
	}, nil
}
