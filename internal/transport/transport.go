// Package transport implements the one-shot HTTP call the request engine
// drives per attempt. It is deliberately thin: the engine owns retries,
// caching and circuit breaking; this package only knows how to perform a
// single call and normalize its outcome.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"
)

// Response is the normalized successful outcome of a transport call.
type Response struct {
	Data       []byte
	Status     int
	StatusText string
	Headers    map[string][]string
}

// Error is returned by Do on failure. It carries enough of the upstream
// response (when one was received) for the retryable-error classifier and
// for error logging.
type Error struct {
	Code     string // e.g. ECONNRESET, ETIMEDOUT — empty if a response was received
	Status   int    // response.status, if a response was received
	Data     []byte // response.data, if a response was received
	Cause    error
	Cancelled bool
}

func (e *Error) Error() string {
	if e.Cancelled {
		return "request cancelled"
	}
	if e.Code != "" {
		return fmt.Sprintf("transport error (%s): %v", e.Code, e.Cause)
	}
	if e.Status > 0 {
		return fmt.Sprintf("transport error (status %d): %v", e.Status, e.Cause)
	}
	return fmt.Sprintf("transport error: %v", e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Config is the input to a single Do call — a fully-resolved request.
type Config struct {
	Method  string
	URL     string
	BaseURL string
	Headers map[string]string
	Params  map[string]string
	Data    []byte
	Timeout time.Duration
	// H2C and Insecure are not read by Do: HTTP/2 cleartext and skipped TLS
	// verification are fixed per client by the arguments given to New.
	H2C bool
	// Insecure: see H2C.
	Insecure bool
}

// Doer performs one HTTP round trip. Production callers use New(); tests
// substitute a fake.
type Doer interface {
	Do(ctx context.Context, cfg Config) (Response, error)
}

// client is the default Doer, backed by *http.Client with HTTP/2 negotiated
// automatically (falling back to HTTP/1.1).
type client struct {
	http *http.Client
}

// New builds a transport client. maxConnsPerHost bounds idle/active
// connections per upstream host; pass 0 to use a sane default.
func New(maxConnsPerHost int, h2c, insecure bool) Doer {
	if maxConnsPerHost <= 0 {
		maxConnsPerHost = 100
	}

	var rt http.RoundTripper
	if h2c {
		rt = &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext(ctx, network, addr)
			},
		}
	} else {
		transport := &http.Transport{
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: insecure},
			MaxIdleConns:        maxConnsPerHost,
			MaxIdleConnsPerHost: maxConnsPerHost,
			MaxConnsPerHost:     maxConnsPerHost,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		}
		_ = http2.ConfigureTransport(transport) // best-effort; falls back to HTTP/1.1 on failure
		rt = transport
	}

	return &client{http: &http.Client{Transport: rt}}
}

// Do performs a single HTTP call and normalizes its outcome: a Response
// when the upstream answered below 400, an *Error otherwise.
func (c *client) Do(ctx context.Context, cfg Config) (Response, error) {
	reqURL, err := buildURL(cfg.BaseURL, cfg.URL, cfg.Params)
	if err != nil {
		return Response{}, &Error{Cause: fmt.Errorf("invalid request url: %w", err)}
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, reqURL, bytes.NewReader(cfg.Data))
	if err != nil {
		return Response{}, &Error{Cause: fmt.Errorf("failed to build request: %w", err)}
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return Response{}, &Error{Cancelled: true, Cause: ctx.Err()}
		}
		return Response{}, &Error{Code: classifyNetError(err), Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &Error{Status: resp.StatusCode, Cause: fmt.Errorf("failed reading response body: %w", err)}
	}

	out := Response{
		Data:       body,
		Status:     resp.StatusCode,
		StatusText: resp.Status,
		Headers:    map[string][]string(resp.Header),
	}

	if resp.StatusCode >= 400 {
		return out, &Error{Status: resp.StatusCode, Data: body, Cause: fmt.Errorf("upstream returned status %d", resp.StatusCode)}
	}

	return out, nil
}

func buildURL(baseURL, path string, params map[string]string) (string, error) {
	full := baseURL + path
	if len(params) == 0 {
		return full, nil
	}
	u, err := url.Parse(full)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// classifyNetError maps a net/http transport error to one of the engine's
// recognized retryable codes.
func classifyNetError(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ETIMEDOUT"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection reset"):
		return "ECONNRESET"
	case strings.Contains(msg, "connection refused"):
		return "ECONNREFUSED"
	case strings.Contains(msg, "no such host"):
		return "ENOTFOUND"
	case strings.Contains(msg, "i/o timeout"), strings.Contains(msg, "timeout"):
		return "ETIMEDOUT"
	case strings.Contains(msg, "temporary failure in name resolution"):
		return "EAI_AGAIN"
	}
	return ""
}
