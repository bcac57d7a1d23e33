// Package client is the Go client of the voting HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/vocdoni/davinci-ticketvote/api"
	"github.com/vocdoni/davinci-ticketvote/log"
)

const (
	// HTTPGET is the method string used for calling Request()
	HTTPGET = http.MethodGet
	// HTTPPOST is the method string used for calling Request()
	HTTPPOST = http.MethodPost

	errCodeNot200 = "API error"

	// DefaultRetries this enables Request() to handle the situation where the server connection fails
	DefaultRetries = 3
	// DefaultTimeout is the default timeout for the HTTP client
	DefaultTimeout = 10 * time.Second
	// retryDelay is the pause between attempts
	retryDelay = 500 * time.Millisecond
)

// ErrUnreachable is returned when the API cannot be reached after all
// retries.
var ErrUnreachable = errors.New("api unreachable")

// APIError is a non-200 reply. It unwraps to the domain sentinel of its
// kind, so it can be matched with errors.Is.
type APIError struct {
	Status  int
	Code    int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %d", errCodeNot200, e.Status)
	}
	return fmt.Sprintf("%s: %d (%s)", errCodeNot200, e.Status, e.Message)
}

// Unwrap returns the sentinel error matching the kind, if any.
func (e *APIError) Unwrap() error {
	return api.SentinelFor(e.Kind)
}

// HTTPclient is the voting API HTTP client.
type HTTPclient struct {
	c       *http.Client
	host    *url.URL
	retries int
	token   string
}

// New connects to the API host and returns the handle. The host is pinged
// once.
func New(host string) (*HTTPclient, error) {
	c, err := NewWithoutPing(host)
	if err != nil {
		return nil, err
	}
	if err := c.Ping(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

// NewWithoutPing returns a client for host without contacting it.
func NewWithoutPing(host string) (*HTTPclient, error) {
	hostURL, err := url.Parse(host)
	if err != nil {
		return nil, err
	}
	if hostURL.Scheme == "" || hostURL.Host == "" {
		return nil, fmt.Errorf("invalid API host %q", host)
	}
	tr := &http.Transport{
		IdleConnTimeout:    DefaultTimeout,
		DisableCompression: false,
		WriteBufferSize:    1 * 1024 * 1024, // 1 MiB
		ReadBufferSize:     1 * 1024 * 1024, // 1 MiB
	}
	c := &HTTPclient{
		c:       &http.Client{Transport: tr, Timeout: DefaultTimeout},
		host:    hostURL,
		retries: DefaultRetries,
	}
	log.Debugw("http client created", "host", hostURL.String())
	return c, nil
}

// Ping checks that the API answers.
func (c *HTTPclient) Ping(ctx context.Context) error {
	data, status, err := c.Request(ctx, HTTPGET, nil, nil, api.PingEndpoint)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%s: %d (%s)", errCodeNot200, status, data)
	}
	return nil
}

// Host returns the API host.
func (c *HTTPclient) Host() *url.URL {
	return c.host
}

// SetRetries configures the number of attempts for each request.
func (c *HTTPclient) SetRetries(n int) {
	c.retries = max(n, 1)
}

// SetTimeout configures the timeout for the HTTP client.
func (c *HTTPclient) SetTimeout(d time.Duration) {
	c.c.Timeout = d
	if tr, ok := c.c.Transport.(*http.Transport); ok {
		tr.ResponseHeaderTimeout = d
	}
}

// SetAuthToken configures the bearer token sent with every request.
func (c *HTTPclient) SetAuthToken(token string) {
	c.token = token
}

// Request performs a `method` type raw request to the endpoint specified in
// urlPath. If jsonBody is not nil it is sent JSON encoded. Returns the
// response, the status code and an error. Transport failures are retried,
// replies are not.
//
// Supports query parameters via the params slice, as key/value pairs.
func (c *HTTPclient) Request(ctx context.Context, method string, jsonBody any, params []string, urlPath ...string) ([]byte, int, error) {
	return c.request(ctx, c.retries, method, jsonBody, params, urlPath...)
}

// request is Request with an explicit number of attempts.
func (c *HTTPclient) request(ctx context.Context, attempts int, method string, jsonBody any, params []string, urlPath ...string) ([]byte, int, error) {
	var body []byte
	if jsonBody != nil {
		var err error
		if body, err = json.Marshal(jsonBody); err != nil {
			return nil, 0, fmt.Errorf("failed to marshal JSON: %w", err)
		}
	}

	u := *c.host
	u.Path = path.Join(u.Path, path.Join(urlPath...))
	if len(params) > 0 {
		values := url.Values{}
		for i := 0; i < len(params)-1; i += 2 {
			values.Set(params[i], params[i+1])
		}
		u.RawQuery = values.Encode()
	}

	headers := http.Header{}
	if jsonBody != nil {
		headers.Set("Content-Type", "application/json")
		headers.Set("Accept", "application/json")
	}
	if c.token != "" {
		headers.Set("Authorization", "Bearer "+c.token)
	}

	log.Debugw("http client request", "type", method, "url", u.String(), "bytes", len(body))

	var (
		resp    *http.Response
		lastErr error
	)
	for i := 1; i <= attempts; i++ {
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header = headers.Clone()

		resp, lastErr = c.c.Do(req)
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		log.Warnw("http request failed", "error", lastErr.Error(), "attempt", i, "retries", attempts)
		if i < attempts {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			}
		}
	}
	if lastErr != nil {
		return nil, 0, fmt.Errorf("%w: %s %s after %d attempts: %v", ErrUnreachable, method, u.Path, attempts, lastErr)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warnw("failed to close response body", "error", err.Error())
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, resp.StatusCode, nil
}

// call performs a request and decodes a 200 JSON reply into out. Other
// replies are returned as *APIError.
func (c *HTTPclient) call(ctx context.Context, method string, jsonBody, out any, urlPath string) error {
	return c.callWith(ctx, c.retries, method, jsonBody, out, urlPath)
}

func (c *HTTPclient) callWith(ctx context.Context, attempts int, method string, jsonBody, out any, urlPath string) error {
	data, status, err := c.request(ctx, attempts, method, jsonBody, nil, urlPath)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return replyError(status, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("could not decode %s reply: %w", urlPath, err)
	}
	return nil
}

func replyError(status int, data []byte) error {
	apiErr := &APIError{Status: status}
	var reply api.ErrorResponse
	if err := json.Unmarshal(data, &reply); err == nil {
		apiErr.Code = reply.Code
		apiErr.Kind = reply.Kind
		apiErr.Message = reply.Error
	} else {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	return apiErr
}
