// Package client talks to a remote media API. It implements
// simplemedia.Signer and simplemedia.ProxyFetcher so a resolver can run in a
// different process from the object store.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/api"
	"github.com/tendant/simple-media/pkg/simplemedia/upload"
)

// Client calls the media API at baseURL.
type Client struct {
	baseURL       *url.URL
	httpClient    *http.Client
	retryAttempts int
	retryDelay    time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetry sets how often transport errors and 5xx replies are retried.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		c.retryAttempts = attempts
		c.retryDelay = delay
	}
}

// New creates a Client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", baseURL)
	}
	c := &Client{
		baseURL:       u,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		retryAttempts: 3,
		retryDelay:    200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retryAttempts < 1 {
		c.retryAttempts = 1
	}
	return c, nil
}

// APIError is a non-2xx reply.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("media api: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("media api: %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps statuses onto simplemedia sentinels.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return simplemedia.ErrNotFound
	case http.StatusUnprocessableEntity:
		return simplemedia.ErrValidation
	case http.StatusBadGateway:
		return simplemedia.ErrResolution
	case http.StatusNotImplemented:
		return simplemedia.ErrNoSigner
	}
	return nil
}

// Sign asks the API for a URL to key valid for ttl.
func (c *Client) Sign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	q := url.Values{}
	q.Set("key", key)
	q.Set("ttl", strconv.Itoa(int(ttl/time.Second)))

	var resp api.SignResponse
	if err := c.getJSON(ctx, "/api/v1/sign", q, &resp); err != nil {
		return "", err
	}
	// Host-relative URLs are served by the API itself.
	return c.absolute(resp.URL), nil
}

// FetchBytes downloads the object under key through the API proxy.
func (c *Client) FetchBytes(ctx context.Context, key string) ([]byte, string, error) {
	q := url.Values{}
	q.Set("key", key)
	resp, err := c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/v1/proxy", q), nil)
	})
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read proxy body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Resolve returns the API's display URL for key.
func (c *Client) Resolve(ctx context.Context, key string) (string, error) {
	q := url.Values{}
	q.Set("key", key)
	var resp api.ResolveResponse
	if err := c.getJSON(ctx, "/api/v1/resolve", q, &resp); err != nil {
		return "", err
	}
	return c.absolute(resp.URL), nil
}

// Upload sends one file as a multipart upload.
func (c *Client) Upload(ctx context.Context, ownerID uuid.UUID, kind simplemedia.Kind, file simplemedia.File) (*upload.Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("owner_id", ownerID.String())
	mw.WriteField("kind", string(kind))
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Name))
	if file.MimeType != "" {
		hdr.Set("Content-Type", file.MimeType)
	}
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	payload := body.Bytes()

	resp, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/v1/uploads", nil), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var res upload.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode upload result: %w", err)
	}
	return &res, nil
}

func (c *Client) getJSON(ctx context.Context, p string, q url.Values, out any) error {
	resp, err := c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(p, q), nil)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", p, err)
	}
	return nil
}

// do sends the request built by newReq, retrying transport errors and 5xx
// replies other than 501. The caller closes the body of a 2xx reply.
func (c *Client) do(ctx context.Context, newReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		apiErr := readAPIError(resp)
		if !retryable(resp.StatusCode) {
			return nil, apiErr
		}
		lastErr = apiErr
	}
	return nil, lastErr
}

func retryable(status int) bool {
	switch status {
	case http.StatusNotImplemented, http.StatusBadGateway:
		return false
	}
	return status >= 500
}

func readAPIError(resp *http.Response) error {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body api.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Code != "" {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

func (c *Client) endpoint(p string, q url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + p
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) absolute(ref string) string {
	r, err := url.Parse(ref)
	if err != nil || r.IsAbs() {
		return ref
	}
	return c.baseURL.ResolveReference(r).String()
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

var (
	_ simplemedia.Signer       = (*Client)(nil)
	_ simplemedia.ProxyFetcher = (*Client)(nil)
)
