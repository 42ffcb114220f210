package xrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
)

// MaxTransientRetries bounds the in-call retry loop for connection-reset style
// read failures. Anything past this surfaces to the caller.
const MaxTransientRetries = 5

const labelerServiceSuffix = "#atproto_labeler"

// Client is the shared transport handle for XRPC calls against a PDS or
// labeler. The session manager and the moderation client facade both hold the
// same *Client; session rotation goes through SetAuth so concurrent requests
// always read a consistent token snapshot.
type Client struct {
	// Client is an HTTP client to use. If not set, defaults to a plain
	// http.Client with a 20 second timeout; retries stay in Do's own loop.
	Client    *http.Client
	Host      string
	UserAgent *string
	Headers   map[string]string

	// ServiceDID of the target labeler, attached as Atproto-Accept-Labelers and
	// Atproto-Proxy on moderation-namespace calls.
	ServiceDID string

	// LogBodies enables debug logging of request bodies. Methods carrying
	// credentials are always redacted regardless.
	LogBodies bool
	Logger    *slog.Logger

	authLk sync.Mutex
	auth   *AuthInfo
}

type AuthInfo struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	Did        string `json:"did"`
}

func (c *Client) getClient() *http.Client {
	if c.Client == nil {
		return &http.Client{Timeout: 20 * time.Second}
	}
	return c.Client
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// SetAuth replaces the current token set. Safe for concurrent use with Do.
func (c *Client) SetAuth(auth *AuthInfo) {
	c.authLk.Lock()
	defer c.authLk.Unlock()
	c.auth = auth
}

// AuthSnapshot returns a copy of the current token set, or nil when
// unauthenticated.
func (c *Client) AuthSnapshot() *AuthInfo {
	c.authLk.Lock()
	defer c.authLk.Unlock()
	if c.auth == nil {
		return nil
	}
	cpy := *c.auth
	return &cpy
}

// WithAuth returns a shallow copy of the client sharing the HTTP transport but
// carrying a fixed token set. The session manager uses this to put the refresh
// token in the bearer position without disturbing concurrent requests.
func (c *Client) WithAuth(auth *AuthInfo) *Client {
	return &Client{
		Client:     c.Client,
		Host:       c.Host,
		UserAgent:  c.UserAgent,
		Headers:    c.Headers,
		ServiceDID: c.ServiceDID,
		LogBodies:  c.LogBodies,
		Logger:     c.Logger,
		auth:       auth,
	}
}

type XRPCRequestType int

const (
	Query = XRPCRequestType(iota)
	Procedure
)

type XRPCError struct {
	ErrStr  string `json:"error"`
	Message string `json:"message"`
}

func (xe *XRPCError) Error() string {
	return fmt.Sprintf("%s: %s", xe.ErrStr, xe.Message)
}

type Error struct {
	StatusCode int
	Wrapped    error
	Ratelimit  *RatelimitInfo
}

func (e *Error) Error() string {
	// Preserving "XRPC ERROR %d" prefix for compatibility - previously matching this string was the only way
	// to obtain the status code.
	if e.Wrapped == nil {
		return fmt.Sprintf("XRPC ERROR %d", e.StatusCode)
	}
	if e.StatusCode == http.StatusTooManyRequests && e.Ratelimit != nil {
		return fmt.Sprintf("XRPC ERROR %d: %s (throttled until %s)", e.StatusCode, e.Wrapped, e.Ratelimit.Reset.Local())
	}
	return fmt.Sprintf("XRPC ERROR %d: %s", e.StatusCode, e.Wrapped)
}

func (e *Error) Unwrap() error {
	if e.Wrapped == nil {
		return nil
	}
	return e.Wrapped
}

func (e *Error) IsThrottled() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsInvalidToken reports whether the server rejected the bearer token as
// invalid or unverifiable. The session manager uses this to trigger a full
// reconnect.
func (e *Error) IsInvalidToken() bool {
	var xe *XRPCError
	if errors.As(e.Wrapped, &xe) {
		return xe.ErrStr == "InvalidToken" || xe.ErrStr == "ExpiredToken"
	}
	return false
}

func errorFromHTTPResponse(resp *http.Response, err error) error {
	r := &Error{
		StatusCode: resp.StatusCode,
		Wrapped:    err,
	}
	if resp.Header.Get("ratelimit-limit") != "" {
		r.Ratelimit = &RatelimitInfo{
			Policy: resp.Header.Get("ratelimit-policy"),
		}
		if n, err := strconv.ParseInt(resp.Header.Get("ratelimit-reset"), 10, 64); err == nil {
			r.Ratelimit.Reset = time.Unix(n, 0)
		}
		if n, err := strconv.ParseInt(resp.Header.Get("ratelimit-limit"), 10, 64); err == nil {
			r.Ratelimit.Limit = int(n)
		}
		if n, err := strconv.ParseInt(resp.Header.Get("ratelimit-remaining"), 10, 64); err == nil {
			r.Ratelimit.Remaining = int(n)
		}
	}
	return r
}

type RatelimitInfo struct {
	Limit     int
	Remaining int
	Policy    string
	Reset     time.Time
}

// makeParams converts a map of string keys and any values into a URL-encoded string.
// If a value is a slice of strings, each element is added under the same key.
// Generally the values will be strings, numbers, booleans, or slices of strings
func makeParams(p map[string]any) string {
	params := url.Values{}
	for k, v := range p {
		if s, ok := v.([]string); ok {
			for _, v := range s {
				params.Add(k, v)
			}
		} else {
			params.Add(k, fmt.Sprint(v))
		}
	}

	return params.Encode()
}

// moderation-namespace calls are routed through the labeler service
func isModerationMethod(method string) bool {
	return strings.HasPrefix(method, "tools.ozone.") || strings.HasPrefix(method, "com.atproto.moderation.")
}

// credential-bearing calls never log bodies
func isRedactedMethod(method string) bool {
	switch method {
	case "com.atproto.server.createSession", "com.atproto.server.refreshSession":
		return true
	}
	return false
}

func isTransientEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET)
}

func (c *Client) Do(ctx context.Context, kind XRPCRequestType, inpenc string, method string, params map[string]interface{}, bodyobj interface{}, out interface{}) error {
	var bodyBytes []byte
	if bodyobj != nil {
		b, err := json.Marshal(bodyobj)
		if err != nil {
			return err
		}
		bodyBytes = b
	}

	var m string
	switch kind {
	case Query:
		m = "GET"
	case Procedure:
		m = "POST"
	default:
		return fmt.Errorf("unsupported request kind: %d", kind)
	}

	var paramStr string
	if len(params) > 0 {
		paramStr = "?" + makeParams(params)
	}

	uri := c.Host + "/xrpc/" + method + paramStr

	var lastErr error
	for retries := 0; retries < MaxTransientRetries; retries++ {
		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequest(m, uri, body)
		if err != nil {
			return err
		}

		if bodyobj != nil && inpenc != "" {
			req.Header.Set("Content-Type", inpenc)
		}
		if c.UserAgent != nil {
			req.Header.Set("User-Agent", *c.UserAgent)
		} else {
			req.Header.Set("User-Agent", "firehose-automod/"+versioninfo.Short())
		}

		if c.Headers != nil {
			for k, v := range c.Headers {
				req.Header.Set(k, v)
			}
		}

		if c.ServiceDID != "" && isModerationMethod(method) {
			req.Header.Set("Atproto-Accept-Labelers", c.ServiceDID)
			req.Header.Set("Atproto-Proxy", c.ServiceDID+labelerServiceSuffix)
		}

		if auth := c.AuthSnapshot(); auth != nil && auth.AccessJwt != "" {
			req.Header.Set("Authorization", "Bearer "+auth.AccessJwt)
		}

		resp, err := c.getClient().Do(req.WithContext(ctx))
		if err != nil {
			if isTransientEOF(err) {
				c.logger().Warn("xrpc transient read failure, retry", "method", method, "attempt", retries+1, "err", err)
				lastErr = err
				continue
			}
			return fmt.Errorf("request failed: %w", err)
		}

		err = c.handleResponse(resp, method, out)
		if err != nil && isTransientEOF(err) {
			c.logger().Warn("xrpc transient read failure, retry", "method", method, "attempt", retries+1, "err", err)
			lastErr = err
			continue
		}
		if err == nil && c.LogBodies && !isRedactedMethod(method) {
			c.logger().Debug("xrpc call ok", "method", method, "body", string(bodyBytes))
		}
		return err
	}
	return fmt.Errorf("request failed after %d attempts: %w", MaxTransientRetries, lastErr)
}

func (c *Client) handleResponse(resp *http.Response, method string, out interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		var xe XRPCError
		if err := json.NewDecoder(resp.Body).Decode(&xe); err != nil {
			return errorFromHTTPResponse(resp, fmt.Errorf("failed to decode xrpc error message: %w", err))
		}
		return errorFromHTTPResponse(resp, &xe)
	}

	if out != nil {
		if buf, ok := out.(*bytes.Buffer); ok {
			if resp.ContentLength < 0 {
				_, err := io.Copy(buf, resp.Body)
				if err != nil {
					return fmt.Errorf("reading response body: %w", err)
				}
			} else {
				n, err := io.CopyN(buf, resp.Body, resp.ContentLength)
				if err != nil {
					return fmt.Errorf("reading length delimited response body (%d < %d): %w", n, resp.ContentLength, err)
				}
			}
		} else {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decoding xrpc response for %s: %w", method, err)
			}
		}
	}

	return nil
}
