package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	apperrors "github.com/Campus-Dev-Team/adminCamperStories/internal/errors"
	"github.com/tidwall/gjson"
)

const (
	loginEndpoint    = "/users/login"
	logoutEndpoint   = "/users/logout"
	validateEndpoint = "/users/validate-session"
	refreshEndpoint  = "/users/refresh-token"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads to prevent a
	// misbehaving server from consuming unbounded memory.
	maxAPIResponseBytes = 1024 * 1024
)

// Client talks to the session endpoints of the Camper Stories backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so bearer tokens and session cookies
// never leak to third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewHTTPClient returns an http.Client with a cookie jar, the same-host
// redirect policy, and the given timeout (30s when zero). The auth client
// and the request pipeline share one so refresh cookies set at login travel
// with every request.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = httpClientTimeout
	}

	jar, _ := cookiejar.New(nil)

	return &http.Client{
		Timeout:       timeout,
		Jar:           jar,
		CheckRedirect: sameHostRedirectPolicy,
	}
}

// NewClient creates a session API client rooted at baseURL. If httpClient
// is nil, NewHTTPClient(0) is used.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// apiResponse is a raw backend reply.
type apiResponse struct {
	status int
	body   []byte
}

func (r *apiResponse) ok() bool {
	return r.status >= 200 && r.status < 300
}

// send issues one request. A nil body sends no payload. Network errors
// come back as transient ErrNetworkFailure; any HTTP response, whatever
// its status, is returned for the caller to interpret.
func (c *Client) send(ctx context.Context, method, endpoint, token string, body interface{}) (*apiResponse, error) {
	var payload io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request body: %w", err)
		}

		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, payload)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		return nil, apperrors.NetworkError(endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return nil, apperrors.NetworkError(endpoint, fmt.Errorf("reading response: %w", err))
	}

	return &apiResponse{status: resp.StatusCode, body: respBody}, nil
}

// LoginRequest is the payload for POST /users/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login posts credentials. A 4xx reply or success:false becomes a
// *LoginError; anything else unexpected wraps ErrAPIResponse or
// ErrAPIRequest.
func (c *Client) Login(ctx context.Context, email, password string) (*Principal, error) {
	resp, err := c.send(ctx, http.MethodPost, loginEndpoint, "", LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("logging in: %w", err)
	}

	if resp.status >= 400 && resp.status < 500 {
		return nil, newLoginError(resp.status, resp.body)
	}

	if !resp.ok() {
		return nil, fmt.Errorf("logging in: %w", apperrors.NewStatusError(loginEndpoint, resp.status, resp.body))
	}

	if !gjson.ValidBytes(resp.body) {
		return nil, fmt.Errorf("logging in: %w: malformed body", apperrors.ErrAPIResponse)
	}

	if s := gjson.GetBytes(resp.body, "success"); s.Exists() && !s.Bool() {
		return nil, newLoginError(resp.status, resp.body)
	}

	p, err := parsePrincipal(resp.body)
	if err != nil {
		return nil, fmt.Errorf("logging in: %w", err)
	}

	if p == nil {
		return nil, fmt.Errorf("logging in: %w: no user in response", apperrors.ErrAPIResponse)
	}

	return p, nil
}

// Logout invalidates the server-side session. The endpoint is idempotent.
func (c *Client) Logout(ctx context.Context, token string) error {
	resp, err := c.send(ctx, http.MethodPost, logoutEndpoint, token, struct{}{})
	if err != nil {
		return fmt.Errorf("logging out: %w", err)
	}

	// Already signed out server-side is as good as a successful logout.
	if resp.ok() || resp.status == http.StatusUnauthorized {
		return nil
	}

	return fmt.Errorf("logging out: %w", apperrors.NewStatusError(logoutEndpoint, resp.status, resp.body))
}

// ValidateSession asks the backend for the current principal. It returns
// (nil, nil) when the backend says there is no session.
func (c *Client) ValidateSession(ctx context.Context, token string) (*Principal, error) {
	resp, err := c.send(ctx, http.MethodGet, validateEndpoint, token, nil)
	if err != nil {
		return nil, fmt.Errorf("validating session: %w", err)
	}

	switch {
	case resp.status == http.StatusUnauthorized, resp.status == http.StatusForbidden:
		return nil, nil
	case !resp.ok():
		return nil, fmt.Errorf("validating session: %w", apperrors.NewStatusError(validateEndpoint, resp.status, resp.body))
	}

	p, err := parsePrincipal(resp.body)
	if err != nil {
		return nil, fmt.Errorf("validating session: %w", err)
	}

	return p, nil
}

// refreshRequest is the payload for POST /users/refresh-token. The
// refresh token is omitted when the backend relies on its cookie.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

// RefreshToken exchanges the refresh credential for a new bearer token.
// 401 and 403 wrap ErrSessionExpired.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Grant, error) {
	resp, err := c.send(ctx, http.MethodPost, refreshEndpoint, "", refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}

	switch {
	case resp.status == http.StatusUnauthorized, resp.status == http.StatusForbidden:
		return nil, fmt.Errorf("refreshing token: %w", apperrors.ErrSessionExpired)
	case !resp.ok():
		return nil, fmt.Errorf("refreshing token: %w", apperrors.NewStatusError(refreshEndpoint, resp.status, resp.body))
	}

	g, err := parseGrant(resp.body)
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}

	return g, nil
}
