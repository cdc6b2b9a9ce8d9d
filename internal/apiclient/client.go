// Package apiclient talks to the collaborator API on behalf of the station
// and viewer daemons. Every upstream error is mapped to a package sentinel
// here, so callers never see HTTP status codes.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"autocare-platform/internal/signaling"
	"autocare-platform/pkg/logger"
)

var ErrUnauthorized = errors.New("apiclient: unauthorized")

const maxBody = 4 << 20

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// DefaultChargeMinor fills a missing service charge on legacy billing rows.
	DefaultChargeMinor int64
}

type Client struct {
	base          string
	token         string
	http          *http.Client
	stream        *http.Client
	defaultCharge int64
	log           *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		base:  strings.TrimRight(cfg.BaseURL, "/") + "/v1",
		token: cfg.Token,
		http:  &http.Client{Timeout: cfg.Timeout},
		// Event streams stay open; they end with their context.
		stream:        &http.Client{},
		defaultCharge: cfg.DefaultChargeMinor,
		log:           logger.Component(log, "apiclient"),
	}
}

type response struct {
	status int
	body   []byte
}

func (r response) ok() bool { return r.status >= 200 && r.status < 300 }

// message is the "error" field of an error body, or the raw body.
func (r response) message() string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(r.body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(r.body))
}

func (c *Client) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if rid := requestID(ctx); rid != "" {
		req.Header.Set("X-Request-Id", rid)
	}
	return req, nil
}

// do sends one request. Transport failures and 5xx responses come back as
// *signaling.NetworkError; every other status is returned for the caller to map.
func (c *Client) do(ctx context.Context, method, path string, in any) (response, error) {
	op := method + " " + path
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return response{}, fmt.Errorf("%s: %w", op, err)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return response{}, &signaling.NetworkError{Op: op, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return response{}, &signaling.NetworkError{Op: op, Err: err}
	}
	out := response{status: res.StatusCode, body: body}
	if res.StatusCode >= 500 {
		return out, &signaling.NetworkError{Op: op, Err: fmt.Errorf("status %d: %s", res.StatusCode, out.message())}
	}
	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return out, fmt.Errorf("%s: %w: %s", op, ErrUnauthorized, out.message())
	}
	return out, nil
}

func decode(res response, out any) error {
	if err := json.Unmarshal(res.body, out); err != nil {
		return fmt.Errorf("apiclient: decode: %w", err)
	}
	return nil
}

func unexpected(res response) error {
	return fmt.Errorf("apiclient: unexpected status %d: %s", res.status, res.message())
}

type requestIDKey struct{}

// WithRequestID forwards a request id to upstream calls made with ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	s, _ := ctx.Value(requestIDKey{}).(string)
	return s
}
