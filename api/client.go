// Package api is the HTTP/JSON client for the remote pawmart backend.
//
// Every response is wrapped as {"data": ..., "error": "..."}. A non-2xx
// status turns into *Error carrying the server's error string; a request
// that runs past its deadline returns an error matching globals.ErrTimeout.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pawmart/globals"
)

// TokenSource returns the current access token, or "" when signed out.
// session.Manager satisfies it.
type TokenSource interface {
	AccessToken() string
}

// Error is a non-2xx response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

type Options struct {
	HTTPClient *http.Client
	// Timeout applies to every request whose context has no deadline.
	Timeout time.Duration
}

type Client struct {
	base    *url.URL
	tokens  TokenSource
	http    *http.Client
	timeout time.Duration
}

func New(baseURL string, tokens TokenSource, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("api: bad base url: %w", err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = globals.RequestTimeout
	}
	return &Client{base: u, tokens: tokens, http: hc, timeout: timeout}, nil
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

// do sends body as JSON and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, header http.Header) error {
	ctx, cancel := globals.WithDefaultTimeout(ctx, c.timeout)
	defer cancel()

	u := *c.base
	u.Path += path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if tok := c.tokens.AccessToken(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, globals.AsTimeout(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("api: read %s %s: %w", method, path, globals.AsTimeout(err))
	}

	var env envelope
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("api: decode %s %s: %w", method, path, err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := env.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		log.Printf("api: %s %s -> %d %s", method, path, resp.StatusCode, msg)
		return &Error{Status: resp.StatusCode, Message: msg}
	}
	if env.Error != "" {
		return &Error{Status: resp.StatusCode, Message: env.Error}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("api: decode %s %s: %w", method, path, err)
	}
	return nil
}
