// Package backend is the HTTP client for the multi-agent orchestrator.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrStatus wraps every non-2xx response.
var ErrStatus = errors.New("backend: unexpected status")

const maxErrorBody = 4096

type Client struct {
	baseURL    string
	streamPath string
	token      string
	http       *http.Client
}

type Option func(*Client)

// WithStreamPath overrides the streaming endpoint path.
func WithStreamPath(p string) Option {
	return func(c *Client) {
		if p != "" {
			c.streamPath = p
		}
	}
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying client. Its transport is used as is.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		streamPath: "/stream-chat",
		http: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, r *http.Request) string {
				return operationName + " " + r.URL.Path
			}),
		)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamChat submits task and returns the open event stream. No client-side
// timeout applies; the stream ends when ctx is cancelled or the body closed.
func (c *Client) StreamChat(ctx context.Context, task string) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "backend stream chat")
	defer span.End()

	body, err := json.Marshal(ChatRequest{Task: task, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.streamPath, body)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	span.SetAttributes(attribute.String("request.url", req.URL.String()), attribute.Int("request.task_length", len(task)))

	resp, err := c.http.Do(req)
	if err != nil {
		err = fmt.Errorf("send request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))

	if err := checkStatus(resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected status")
		return nil, err
	}
	return resp.Body, nil
}

// Chat runs task to completion on the non-streaming endpoint.
func (c *Client) Chat(ctx context.Context, task string) (*ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "backend chat")
	defer span.End()

	body, err := json.Marshal(ChatRequest{Task: task})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var out ChatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/chat", body, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat failed")
		return nil, err
	}
	span.SetAttributes(attribute.Bool("response.success", out.Success))
	return &out, nil
}

// Agents fetches the orchestrator's layered agent directory.
func (c *Client) Agents(ctx context.Context) (AgentDirectory, error) {
	ctx, span := tracer.Start(ctx, "backend agents")
	defer span.End()

	var out AgentDirectory
	if err := c.doJSON(ctx, http.MethodGet, "/agents", nil, &out); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("response.layers", len(out)))
	return out, nil
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	ctx, span := tracer.Start(ctx, "backend health")
	defer span.End()

	var out Health
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("response.status", out.Status))
	return &out, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// checkStatus closes the body of a non-2xx response and reports it.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("%w: %s: %s", ErrStatus, resp.Status, strings.TrimSpace(string(msg)))
}
