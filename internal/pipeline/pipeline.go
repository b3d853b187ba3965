// Package pipeline sends authenticated requests to the Camper Stories
// backend. It attaches the current bearer token, and on a 401 renews the
// token once for every request that hit it and retries each request a
// single time.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/Campus-Dev-Team/adminCamperStories/internal/errors"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

//go:generate mockgen -source=pipeline.go -destination=mock_pipeline_test.go -package=pipeline

// TokenSource supplies the bearer token for outgoing requests. An empty
// string sends the request unauthenticated.
type TokenSource interface {
	Token() string
}

// Refresher obtains a new bearer token. It returns an error wrapping
// ErrSessionExpired when the backend will not issue one.
type Refresher interface {
	RefreshToken(ctx context.Context) (string, error)
}

// maxResponseBytes caps response body reads.
const maxResponseBytes = 8 * 1024 * 1024

// RequestIDHeader carries a per-attempt id for correlating client and
// server logs.
const RequestIDHeader = "X-Request-ID"

// Config holds the Client's collaborators and limits.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     TokenSource
	Refresher  Refresher

	// Rate is the steady request rate per second. Zero disables limiting.
	Rate  float64
	Burst int

	// RefreshTimeout bounds a token refresh. Defaults to 30s.
	RefreshTimeout time.Duration

	Metrics *Metrics
	Logger  *slog.Logger
}

// Client is the authenticated request pipeline.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	limiter    *rate.Limiter
	refresh    *coordinator
	metrics    *Metrics
	logger     *slog.Logger
}

// New creates a Client from cfg.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	logger = logger.With(slog.String("component", "pipeline"))

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	timeout := cfg.RefreshTimeout
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}

	c := &Client{
		baseURL:    cfg.BaseURL,
		httpClient: httpClient,
		tokens:     cfg.Tokens,
		metrics:    cfg.Metrics,
		logger:     logger,
		refresh: &coordinator{
			source:  cfg.Refresher,
			tokens:  cfg.Tokens,
			timeout: timeout,
			metrics: cfg.Metrics,
			logger:  logger,
		},
	}

	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}

		c.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}

	return c
}

// Request describes one backend call. Path is relative to the base URL.
// A non-nil Body is sent as JSON.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   interface{}
	Header http.Header
}

// Response is a successful backend reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the body into v. An empty body leaves v untouched.
func (r *Response) Decode(v interface{}) error {
	if v == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}

	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%w: decoding body: %w", apperrors.ErrAPIResponse, err)
	}

	return nil
}

// Do sends req with the current token. A 401 triggers one shared token
// refresh and a single retry; a 401 on the retry returns an error wrapping
// ErrSessionExpired. Other non-2xx replies return a *StatusError, transport
// failures wrap ErrNetworkFailure.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	sent := c.tokens.Token()

	resp, err := c.send(ctx, req, sent)
	if err != nil {
		return nil, err
	}

	if resp.Status != http.StatusUnauthorized {
		return c.result(req, resp)
	}

	token, err := c.refresh.renew(ctx, sent)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}

	resp, err = c.send(ctx, req, token)
	if err != nil {
		return nil, err
	}

	if resp.Status == http.StatusUnauthorized {
		c.logger.Info("request rejected after token refresh",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
		)

		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, apperrors.ErrSessionExpired)
	}

	return c.result(req, resp)
}

// GetJSON issues a GET and decodes the reply into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	resp, err := c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return err
	}

	return resp.Decode(out)
}

// PostJSON posts in as JSON and decodes the reply into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out interface{}) error {
	resp, err := c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: in})
	if err != nil {
		return err
	}

	return resp.Decode(out)
}

func (c *Client) result(req *Request, resp *Response) (*Response, error) {
	if resp.Status >= 200 && resp.Status < 300 {
		return resp, nil
	}

	return nil, apperrors.NewStatusError(req.Path, resp.Status, resp.Body)
}

// send performs one attempt. The body is re-encoded per attempt so a retry
// never reuses a drained reader.
func (c *Client) send(ctx context.Context, req *Request, token string) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var payload io.Reader

	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request body: %w", err)
		}

		payload = bytes.NewReader(data)
	}

	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, payload)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	requestID := uuid.NewString()

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(RequestIDHeader, requestID)

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		c.metrics.request(req.Method, "error")

		return nil, apperrors.NetworkError(req.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperrors.NetworkError(req.Path, fmt.Errorf("reading response: %w", err))
	}

	c.metrics.request(req.Method, strconv.Itoa(resp.StatusCode))
	c.logger.Debug("backend request",
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", requestID),
		slog.Duration("elapsed", time.Since(start)),
	)

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}
